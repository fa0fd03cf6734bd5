// Package config loads and validates the nslcd daemon configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (NSLCD_*)
//  2. Configuration file (YAML)
//  3. Default values
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config represents the nslcd daemon configuration.
//
// The daemon holds the directory credentials so unprivileged PAM
// clients never see them; everything under Directory and PAM is
// therefore sensitive and the config file should be root-readable
// only. Configuration is read once at startup and treated as
// read-only afterwards (the log level is the one hot-reloadable
// exception, see Watch).
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Socket configures the local control channel the PAM clients
	// connect to
	Socket SocketConfig `mapstructure:"socket" yaml:"socket"`

	// Directory configures the LDAP server connection and search
	// parameters
	Directory DirectoryConfig `mapstructure:"directory" yaml:"directory"`

	// PAM configures the credential-operation policy (administrative
	// override identity, authorization search)
	PAM PAMConfig `mapstructure:"pam" yaml:"pam"`

	// HTTP configures the optional health/metrics HTTP endpoint
	HTTP HTTPConfig `mapstructure:"http" yaml:"http"`

	// ShutdownTimeout is the maximum time to wait for in-flight
	// requests during graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output.
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string `mapstructure:"level" yaml:"level"`

	// Format specifies the log output format: text or json
	Format string `mapstructure:"format" yaml:"format"`

	// Output specifies where logs are written: stdout, stderr, or a
	// file path
	Output string `mapstructure:"output" yaml:"output"`
}

// SocketConfig configures the Unix control socket.
type SocketConfig struct {
	// Path is the filesystem path of the listening socket.
	// Default: /var/run/nslcd/socket
	Path string `mapstructure:"path" yaml:"path"`

	// Mode is the octal permission string applied to the socket so
	// unprivileged clients can connect. Default: "0666"
	Mode string `mapstructure:"mode" yaml:"mode"`

	// MaxConnections limits concurrent client connections.
	// 0 means unlimited.
	MaxConnections int `mapstructure:"max_connections" yaml:"max_connections"`

	// ReadTimeout bounds reading a complete request frame.
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout bounds writing a response.
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`

	// IdleTimeout closes connections with no request activity.
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
}

// DirectoryConfig configures the LDAP server connection.
type DirectoryConfig struct {
	// URIs lists the LDAP server URIs tried in order
	// (ldap://, ldaps://, ldapi://).
	URIs []string `mapstructure:"uris" yaml:"uris"`

	// BindDN is the identity the daemon binds as for its own lookups
	// (user resolution). Empty means anonymous.
	BindDN string `mapstructure:"binddn" yaml:"binddn"`

	// BindPW is the password for BindDN. Never logged.
	BindPW string `mapstructure:"bindpw" yaml:"bindpw,omitempty"`

	// Bases lists the search bases. The authorization search uses the
	// first base; user resolution tries each in order.
	Bases []string `mapstructure:"bases" yaml:"bases"`

	// UserFilter is the filter template used to locate a user entry.
	// Template variables are filter-escaped before substitution.
	// Default: (&(objectClass=posixAccount)(uid=$username))
	UserFilter string `mapstructure:"user_filter" yaml:"user_filter"`

	// UserNameAttribute is the attribute carrying the canonical
	// username. Default: uid
	UserNameAttribute string `mapstructure:"username_attribute" yaml:"username_attribute"`

	// LastChangeAttribute is the shadow bookkeeping attribute updated
	// best-effort after a password change. Default: shadowLastChange
	LastChangeAttribute string `mapstructure:"lastchange_attribute" yaml:"lastchange_attribute"`

	// Timeout bounds each directory operation (dial, bind, search,
	// modify). In-flight operations are not cancelled from the PAM
	// layer; this connection-level timeout is the only bound.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`

	// StartTLS upgrades ldap:// connections with STARTTLS before
	// any bind.
	StartTLS bool `mapstructure:"start_tls" yaml:"start_tls"`
}

// PAMConfig configures credential-operation policy.
type PAMConfig struct {
	// RootPwModDN is the administrator DN allowed to authenticate and
	// change passwords on behalf of other users. Empty disables the
	// administrative paths entirely.
	RootPwModDN string `mapstructure:"rootpwmoddn" yaml:"rootpwmoddn"`

	// RootPwModPW is the administrator bind password substituted for
	// trusted local callers that present an empty secret. Never logged.
	RootPwModPW string `mapstructure:"rootpwmodpw" yaml:"rootpwmodpw,omitempty"`

	// AuthzSearch is the authorization filter template evaluated on
	// authorize requests. Empty disables the authorization search
	// (authorization then always succeeds).
	// Variables: $username $service $ruser $rhost $tty $hostname
	// $fqdn $dn $uid — each filter-escaped before substitution.
	AuthzSearch string `mapstructure:"pam_authz_search" yaml:"pam_authz_search"`

	// TrustedUIDs lists local uids whose processes count as trusted
	// callers for the administrative secret substitution.
	// Default: [0]
	TrustedUIDs []uint32 `mapstructure:"trusted_uids" yaml:"trusted_uids"`
}

// HTTPConfig configures the health/metrics HTTP server.
type HTTPConfig struct {
	// Enabled controls whether the HTTP endpoint is started
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP listen port. Default: 9652
	Port int `mapstructure:"port" yaml:"port"`

	// ReadTimeout/WriteTimeout bound HTTP request handling.
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

// IsTrustedCaller reports whether a local process with the given uid
// may use the configured administrator secret in place of an empty
// request secret.
func (c *PAMConfig) IsTrustedCaller(uid uint32) bool {
	for _, trusted := range c.TrustedUIDs {
		if uid == trusted {
			return true
		}
	}
	return false
}

// Load loads configuration from file, environment, and defaults.
//
// Parameters:
//   - configPath: path to config file (empty string uses the default
//     location, missing file falls back to defaults)
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}
	if !found {
		cfg := GetDefaultConfig()
		return cfg, nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages when the
// config file is missing.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if _, err := os.Stat(GetDefaultConfigPath()); os.IsNotExist(err) {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  nslcd init\n\n"+
				"Or specify a custom config file:\n"+
				"  nslcd <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s\n\n"+
			"Please create the configuration file:\n"+
			"  nslcd init --config %s",
			configPath, configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path in
// YAML format. The file is written with mode 0600: it carries the
// daemon's directory credentials.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// setupViper configures environment variable and config file handling.
func setupViper(v *viper.Viper, configPath string) {
	// NSLCD_LOGGING_LEVEL=DEBUG overrides logging.level, etc.
	v.SetEnvPrefix("NSLCD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error).
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// durationDecodeHook converts strings like "30s" or "5m" to
// time.Duration so config files stay human-readable.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}
