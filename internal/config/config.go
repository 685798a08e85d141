// Package config loads the devbotctl configuration file and scopes reads and
// writes to the active profile.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/devbot/devbotctl/internal/meta"
	"github.com/devbot/devbotctl/internal/util/viper"
	"github.com/spf13/pflag"
	v "github.com/spf13/viper"
)

var defaultConfigFileName = "config.yaml"

// GetDefaultConfigPath resolves the configuration directory:
// $XDG_CONFIG_HOME/devbotctl when XDG_CONFIG_HOME is set, otherwise
// $HOME/.config/devbotctl.
func GetDefaultConfigPath() (string, error) {
	base, set := os.LookupEnv("XDG_CONFIG_HOME")
	if !set || base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return os.ExpandEnv(filepath.Join(base, meta.CLIName)), nil
}

func GetDefaultConfigFilePath() (string, error) {
	path, err := GetDefaultConfigPath()
	if err != nil {
		return "", err
	}
	return filepath.Join(path, defaultConfigFileName), nil
}

// ExpandDefaultConfigFilePath returns the default config file path,
// panicking on environments where no home directory can be resolved.
func ExpandDefaultConfigFilePath() string {
	path, err := GetDefaultConfigFilePath()
	if err != nil {
		panic(err)
	}
	return path
}

// GetConfig loads the config file at path for the given profile. A missing
// file is only tolerated at the default location, where it is created with
// defaults; any other missing path is an error.
func GetConfig(path string, profile string, defaultConfigFilePath string) (*ProfiledConfig, error) {
	path = os.ExpandEnv(path)

	if _, err := os.Stat(path); err == nil {
		vip, err := viper.NewViperE(path)
		if err != nil {
			return nil, err
		}
		return BuildProfiledConfig(profile, path, vip), nil
	}

	if path != defaultConfigFilePath {
		return nil, fmt.Errorf("the provided config file path does not exist")
	}

	vip, err := viper.InitializeDefaultViper(getDefaultConfig(profile, path), path)
	if err != nil {
		return nil, err
	}
	return BuildProfiledConfig(profile, path, vip), nil
}

// Empty type to represent the _type_ Config. Genesis is to support a key in a Context
type Key struct{}

// ConfigKey is a global instance of the Key type
var ConfigKey = Key{}

// Hook is the narrow configuration surface handed to commands. It reads and
// writes through the active profile, and Save stays under our control rather
// than Viper's.
type Hook interface {
	Save() error
	GetString(key string) string
	GetBool(key string) bool
	GetInt(key string) int
	// GetIntOrElse returns orElse when the key is not set
	GetIntOrElse(key string, orElse int) int
	GetStringSlice(key string) []string
	SetString(key string, value string)
	Set(k string, v any)
	Get(key string) any
	// BindFlag binds a configuration path to a command flag
	BindFlag(configPath string, f *pflag.Flag) error
	GetProfile() string
	// GetPath returns the file path this configuration was loaded from
	GetPath() string
}

// ProfiledConfig pairs the full config file Viper with a sub-Viper scoped to
// one profile. Hook methods go through the profile scope; the embedded Viper
// keeps whole-file operations such as WriteConfig available.
type ProfiledConfig struct {
	*v.Viper
	subViper    *v.Viper
	ProfileName string
	Path        string
}

func (p *ProfiledConfig) GetProfile() string {
	return p.ProfileName
}

func (p *ProfiledConfig) Save() error {
	return p.WriteConfig()
}

func (p *ProfiledConfig) GetString(key string) string {
	return p.subViper.GetString(key)
}

func (p *ProfiledConfig) GetBool(key string) bool {
	return p.subViper.GetBool(key)
}

func (p *ProfiledConfig) GetInt(key string) int {
	return p.subViper.GetInt(key)
}

func (p *ProfiledConfig) GetIntOrElse(key string, orElse int) int {
	if p.subViper.IsSet(key) {
		return p.subViper.GetInt(key)
	}
	return orElse
}

func (p *ProfiledConfig) GetStringSlice(key string) []string {
	return p.subViper.GetStringSlice(key)
}

func (p *ProfiledConfig) BindFlag(configPath string, f *pflag.Flag) error {
	return p.subViper.BindPFlag(configPath, f)
}

func (p *ProfiledConfig) SetString(k string, v string) {
	p.subViper.Set(k, v)
}

func (p *ProfiledConfig) Set(k string, v any) {
	p.subViper.Set(k, v)
}

func (p *ProfiledConfig) GetPath() string {
	return p.Path
}

// BuildProfiledConfig scopes mainv to the named profile. A profile absent
// from the file still resolves: it gets an empty sub-Viper wired to
// DEVBOTCTL_<PROFILE>_* environment variables, so env-only configuration
// works without a config file entry.
func BuildProfiledConfig(profile string, path string, mainv *v.Viper) *ProfiledConfig {
	subv := mainv.Sub(profile)
	if subv == nil {
		subv = v.New()
		envPrefix := "DEVBOTCTL_" + strings.ToUpper(strings.ReplaceAll(profile, "-", "_"))
		viper.ConfigureEnvVars(subv, envPrefix)
	}

	return &ProfiledConfig{
		Viper:       mainv,
		ProfileName: profile,
		subViper:    subv,
		Path:        path,
	}
}

func getDefaultConfig(profileName, configFilePath string) map[string]any {
	configDir := filepath.Dir(configFilePath)
	defaultLogPath := filepath.Join(configDir, "logs", meta.CLIName+".log")

	return map[string]any{
		profileName: map[string]any{
			"output":   "text",
			"log-file": defaultLogPath,
			"devbot": map[string]any{
				"base-url": meta.DefaultBaseURL,
			},
		},
	}
}
