package config

import (
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Watch monitors the config file for changes and invokes onChange with
// the freshly loaded logging section whenever it is rewritten. Only
// the logging section is hot-reloadable; everything else (socket,
// directory, policy) requires a restart because handlers treat it as
// immutable shared state.
func Watch(configPath string, onChange func(LoggingConfig)) error {
	v := viper.New()
	setupViper(v, configPath)
	if err := v.ReadInConfig(); err != nil {
		return err
	}
	v.OnConfigChange(func(_ fsnotify.Event) {
		var cfg Config
		if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
			return
		}
		applyLoggingDefaults(&cfg.Logging)
		onChange(cfg.Logging)
	})
	v.WatchConfig()
	return nil
}
