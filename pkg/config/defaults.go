package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Default locations for a system daemon.
const (
	defaultConfigDir  = "/etc/nslcd"
	defaultSocketPath = "/var/run/nslcd/socket"
)

// GetDefaultConfigPath returns the default config file location.
func GetDefaultConfigPath() string {
	return defaultConfigDir + "/config.yaml"
}

func getConfigDir() string {
	return defaultConfigDir
}

// GetDefaultConfig returns a configuration with all defaults applied.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults sets default values for any unspecified configuration
// fields. Zero values are replaced; explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applySocketDefaults(&cfg.Socket)
	applyDirectoryDefaults(&cfg.Directory)
	applyPAMDefaults(&cfg.PAM)
	applyHTTPDefaults(&cfg.HTTP)
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)
	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stderr"
	}
}

func applySocketDefaults(cfg *SocketConfig) {
	if cfg.Path == "" {
		cfg.Path = defaultSocketPath
	}
	if cfg.Mode == "" {
		cfg.Mode = "0666"
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}
}

func applyDirectoryDefaults(cfg *DirectoryConfig) {
	if len(cfg.URIs) == 0 {
		cfg.URIs = []string{"ldap://localhost"}
	}
	if cfg.UserFilter == "" {
		cfg.UserFilter = "(&(objectClass=posixAccount)(uid=$username))"
	}
	if cfg.UserNameAttribute == "" {
		cfg.UserNameAttribute = "uid"
	}
	if cfg.LastChangeAttribute == "" {
		cfg.LastChangeAttribute = "shadowLastChange"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
}

func applyPAMDefaults(cfg *PAMConfig) {
	if cfg.TrustedUIDs == nil {
		cfg.TrustedUIDs = []uint32{0}
	}
}

func applyHTTPDefaults(cfg *HTTPConfig) {
	if cfg.Port == 0 {
		cfg.Port = 9652
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
}

// Validate checks that the configuration is usable.
func Validate(cfg *Config) error {
	switch cfg.Logging.Level {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		return fmt.Errorf("invalid logging.level %q: must be DEBUG, INFO, WARN or ERROR", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		return fmt.Errorf("invalid logging.format %q: must be text or json", cfg.Logging.Format)
	}
	if cfg.Socket.Path == "" {
		return fmt.Errorf("socket.path must not be empty")
	}
	if _, err := strconv.ParseUint(cfg.Socket.Mode, 8, 32); err != nil {
		return fmt.Errorf("invalid socket.mode %q: must be an octal permission string", cfg.Socket.Mode)
	}
	if cfg.Socket.MaxConnections < 0 {
		return fmt.Errorf("invalid socket.max_connections %d: must be >= 0", cfg.Socket.MaxConnections)
	}
	if len(cfg.Directory.URIs) == 0 {
		return fmt.Errorf("directory.uris must not be empty")
	}
	for _, uri := range cfg.Directory.URIs {
		if !strings.HasPrefix(uri, "ldap://") && !strings.HasPrefix(uri, "ldaps://") && !strings.HasPrefix(uri, "ldapi://") {
			return fmt.Errorf("invalid directory uri %q: must start with ldap://, ldaps:// or ldapi://", uri)
		}
	}
	if len(cfg.Directory.Bases) == 0 && cfg.PAM.AuthzSearch != "" {
		return fmt.Errorf("pam.pam_authz_search requires at least one entry in directory.bases")
	}
	if cfg.Directory.Timeout <= 0 {
		return fmt.Errorf("invalid directory.timeout %v: must be > 0", cfg.Directory.Timeout)
	}
	if cfg.PAM.RootPwModPW != "" && cfg.PAM.RootPwModDN == "" {
		return fmt.Errorf("pam.rootpwmodpw is set but pam.rootpwmoddn is empty")
	}
	if cfg.HTTP.Enabled && (cfg.HTTP.Port < 1 || cfg.HTTP.Port > 65535) {
		return fmt.Errorf("invalid http.port %d: must be 1-65535", cfg.HTTP.Port)
	}
	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown_timeout %v: must be > 0", cfg.ShutdownTimeout)
	}
	return nil
}

// SocketFileMode returns the parsed socket permission bits.
func (c *SocketConfig) SocketFileMode() uint32 {
	mode, err := strconv.ParseUint(c.Mode, 8, 32)
	if err != nil {
		// Validate() rejects unparseable modes at load time.
		return 0o666
	}
	return uint32(mode)
}
