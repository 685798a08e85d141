// Package profile scopes configuration to named profiles, so one config file
// can hold settings for several DevBot deployments.
package profile

import (
	"errors"
	"strings"

	"github.com/spf13/viper"
)

const (
	DefaultProfile = "default"
)

var (
	errProfileExists    = errors.New("profile already exists")
	errProfileNameEmpty = errors.New("invalid profile name (empty)")
)

type Manager interface {
	GetProfiles() []string
	GetProfile(name string) (map[string]any, error)
	CreateProfile(name string) error
}

// Empty type to represent the _type_ Manager. Genesis is to support a key in a Context
type Key struct{}

// Global instance of the ProfileManagerKey type
var ProfileManagerKey = Key{}

type profileManager struct {
	config *viper.Viper
}

func NewManager(config *viper.Viper) Manager {
	return &profileManager{config: config}
}

// GetProfiles lists the profile names, which are the top level keys of the
// configuration file.
func (m *profileManager) GetProfiles() []string {
	seen := make(map[string]bool)
	for _, key := range m.config.AllKeys() {
		seen[strings.Split(key, ".")[0]] = true
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	return names
}

func (m *profileManager) GetProfile(name string) (map[string]any, error) {
	return m.config.GetStringMap(name), nil
}

func (m *profileManager) CreateProfile(name string) error {
	if name == "" {
		return errProfileNameEmpty
	}
	if m.config.IsSet(name) {
		return errProfileExists
	}
	m.config.Set(name, map[string]any{})
	return nil
}
