// Package config loads the extendfs configuration from a YAML file,
// EXTENDFS_* environment variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"extendfs/internal/logging"
)

var (
	logger = logging.GetLogger().WithPrefix("config")
)

// EnvPrefix is the prefix of environment variable overrides, e.g.
// EXTENDFS_MOUNT_OPTIONS="delayupdatetime=500".
const EnvPrefix = "EXTENDFS"

// Config represents the extendfs configuration.
//
// Configuration sources (in order of precedence):
//  1. Command line flags bound with Loader.BindFlag
//  2. Environment variables (EXTENDFS_*)
//  3. Configuration file (YAML)
//  4. Default values
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Mount     MountConfig     `mapstructure:"mount"`
	Writeback WritebackConfig `mapstructure:"writeback"`
	State     StateConfig     `mapstructure:"state"`
	Admin     AdminConfig     `mapstructure:"admin"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output (case-insensitive)
	Level string `mapstructure:"level" validate:"required,oneof=ERROR WARN INFO DEBUG TRACE error warn info debug trace"`
}

// MountConfig describes what is mounted where.
type MountConfig struct {
	// Source is the directory mirrored by the mount
	Source string `mapstructure:"source" validate:"required"`

	// Mountpoint is where the filesystem is mounted
	Mountpoint string `mapstructure:"mountpoint" validate:"required"`

	// Options is the ";"-separated extended option string,
	// e.g. "delayupdatetime=500;wbnice"
	Options string `mapstructure:"options"`

	// AllowOther lets users other than the mounting user access the mount
	AllowOther bool `mapstructure:"allow_other"`
}

// WritebackConfig controls the background flusher.
type WritebackConfig struct {
	// Interval between background writeback passes
	Interval time.Duration `mapstructure:"interval" validate:"required,gt=0"`

	// PagesPerPass is the page quota of one pass over one file before the
	// per-file throttle is applied
	PagesPerPass int64 `mapstructure:"pages_per_pass" validate:"required,gt=0"`
}

// StateConfig locates the persistent state file.
type StateConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// AdminConfig configures the HTTP admin server.
type AdminConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen" validate:"omitempty,hostname_port"`
}

// Defaults.
const (
	DefaultLogLevel     = "INFO"
	DefaultInterval     = 5 * time.Second
	DefaultPagesPerPass = 8192
	DefaultAdminListen  = "127.0.0.1:9412"
)

var validate = validator.New()

// Validate checks cfg against its struct tags.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return err
	}
	return nil
}

// Loader reads the configuration and can read it again when the file
// changes. Flag bindings survive reloads.
type Loader struct {
	mu   sync.Mutex // viper is not safe for concurrent use
	v    *viper.Viper
	path string
}

// NewLoader returns a loader for the file at path. An empty path or a
// missing file means defaults plus environment.
func NewLoader(path string) *Loader {
	v := viper.New()
	setupViper(v, path)
	return &Loader{v: v, path: path}
}

// Path returns the configuration file path, empty if none was given.
func (l *Loader) Path() string {
	return l.path
}

// BindFlag makes flag override key when it was set on the command line.
func (l *Loader) BindFlag(key string, flag *pflag.Flag) error {
	if flag == nil {
		return fmt.Errorf("no flag for %s", key)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.v.BindPFlag(key, flag)
}

// Load reads, decodes and validates the configuration.
func (l *Loader) Load() (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	found, err := readConfigFile(l.v)
	if err != nil {
		return nil, err
	}
	if found {
		logger.Debug("Read configuration from %s", l.v.ConfigFileUsed())
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Logging.Level = strings.ToUpper(cfg.Logging.Level)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load loads configuration from the file at path, environment and defaults.
func Load(path string) (*Config, error) {
	return NewLoader(path).Load()
}

// setupViper configures defaults, environment variables and the config file.
func setupViper(v *viper.Viper, path string) {
	v.SetDefault("logging.level", DefaultLogLevel)
	v.SetDefault("mount.source", "")
	v.SetDefault("mount.mountpoint", "")
	v.SetDefault("mount.options", "")
	v.SetDefault("mount.allow_other", false)
	v.SetDefault("writeback.interval", DefaultInterval)
	v.SetDefault("writeback.pages_per_pass", DefaultPagesPerPass)
	v.SetDefault("state.path", DefaultStatePath())
	v.SetDefault("admin.enabled", false)
	v.SetDefault("admin.listen", DefaultAdminListen)

	// Example: EXTENDFS_WRITEBACK_INTERVAL=10s
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if one was given and exists.
func readConfigFile(v *viper.Viper) (bool, error) {
	if v.ConfigFileUsed() == "" {
		return false, nil
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// durationDecodeHook converts strings like "5s" and raw integers
// (nanoseconds) to time.Duration.
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
			// YAML often deserializes numbers as float64
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// DefaultStatePath returns $XDG_STATE_HOME/extendfs/state.json, falling back
// to ~/.local/state and finally the working directory.
func DefaultStatePath() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "extendfs", "state.json")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "extendfs-state.json"
	}
	return filepath.Join(home, ".local", "state", "extendfs", "state.json")
}
