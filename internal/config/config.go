package config

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// ConfigFileEnv names an optional YAML/JSON/TOML file read before env overrides.
const ConfigFileEnv = "CONFIG_FILE"

type App struct {
	LogConfigFile   string        `mapstructure:"log_config_file"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

func Setup(v *viper.Viper, prefix string) {
	p := func(key string) string { return prefix + "." + key }

	v.SetDefault(p("log_config_file"), "") // empty means use default config
	v.SetDefault(p("shutdown_timeout"), "10s")
}

func NewViper() *viper.Viper {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("")
	v.AutomaticEnv()

	return v
}

// Load applies defaults through configure, merges the optional config file
// and decodes into c. Env vars win over the file; the file wins over defaults.
func Load[T any](c *T, configure func(v *viper.Viper)) (*T, error) {
	v := NewViper()
	configure(v)

	if file := os.Getenv(ConfigFileEnv); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config file %s", file)
		}
	}

	if err := v.Unmarshal(c); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	return c, nil
}
