package viper

import (
	"strings"

	"github.com/devbot/devbotctl/internal/util"
	v "github.com/spf13/viper"
)

const envPrefix = "devbotctl"

// InitializeDefaultViper loads the config file at path, creating it with the
// default values when missing or empty.
func InitializeDefaultViper(defaultValues map[string]any, path string) (*v.Viper, error) {
	if err := util.InitDir(path, 0o755); err != nil {
		return nil, err
	}

	rv := NewViper(path)
	if len(rv.AllSettings()) == 0 {
		if err := rv.MergeConfigMap(defaultValues); err != nil {
			return nil, err
		}
		if err := rv.WriteConfig(); err != nil {
			return nil, err
		}
	}
	return rv, nil
}

// NewViperE reads the config file at path, failing when it cannot be read.
func NewViperE(path string) (*v.Viper, error) {
	rv := newFileViper(path)
	if err := rv.ReadInConfig(); err != nil {
		return nil, err
	}
	return rv, nil
}

// NewViper reads the config file at path, tolerating a missing file.
func NewViper(path string) *v.Viper {
	rv := newFileViper(path)
	_ = rv.ReadInConfig()
	return rv
}

func newFileViper(path string) *v.Viper {
	rv := v.New()
	rv.SetConfigFile(path)
	ConfigureEnvVars(rv, envPrefix)
	return rv
}

// ConfigureEnvVars enables environment variable resolution on vip with the
// given prefix, mapping dots and dashes in keys to underscores.
func ConfigureEnvVars(vip *v.Viper, prefix string) {
	vip.AutomaticEnv()
	vip.SetEnvPrefix(prefix)
	vip.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}
