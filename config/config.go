// Package config loads pgext settings from defaults, a config file and
// PGEXT_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. PGEXT_DATABASE_DSN.
const EnvPrefix = "PGEXT"

type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	Log        LogConfig        `mapstructure:"log"`
	Extensions ExtensionsConfig `mapstructure:"extensions"`
}

// DatabaseConfig holds pgxpool settings.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"         validate:"gte=0"`
	MinConns        int32         `mapstructure:"min_conns"         validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"gte=0"`
}

type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error disabled"`
	JSON  bool   `mapstructure:"json"`
}

// ExtensionsConfig gates the process-wide behaviour installed by pgext.Install.
type ExtensionsConfig struct {
	// EnableArrayM2M turns on array joins, array prefetch and the pre-delete
	// reverse-clear hook.
	EnableArrayM2M bool `mapstructure:"enable_array_m2m"`
	// AutoGINIndex adds GIN indexes for indexed or unique array columns.
	AutoGINIndex bool `mapstructure:"auto_gin_index"`
}

// Default returns the configuration used when nothing else is provided.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults always decode.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Load reads configuration with precedence env > file > defaults. An empty
// path skips the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.conn_max_lifetime", time.Hour)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)

	v.SetDefault("extensions.enable_array_m2m", true)
	v.SetDefault("extensions.auto_gin_index", true)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Database.MaxConns > 0 && c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("invalid configuration: database.min_conns (%d) exceeds database.max_conns (%d)",
			c.Database.MinConns, c.Database.MaxConns)
	}
	return nil
}
