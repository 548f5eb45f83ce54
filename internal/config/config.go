package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix           = "BRIDGED"
	defaultHTTPAddress  = "0.0.0.0:8080"
	defaultDataDir      = "data"
	defaultDatabasePath = "tracking.db"
	defaultLogLevel     = "info"
	defaultAdminUser    = "admin"
)

// File names inside the data directory. The layouts are shared with the
// admin panel and external tooling, so they are fixed rather than
// configurable.
const (
	destinationsFile = "customer_services.json"
	assignmentsFile  = "assignments.jsonl"
	settingsFile     = "settings.json"
	behaviorsFile    = "user_behaviors.jsonl"
)

// AppConfig captures runtime configuration for the bridge backend.
type AppConfig struct {
	HTTPAddress   string
	DataDir       string
	DatabasePath  string
	LogLevel      string
	SigningSecret string
	AdminUsername string
	AdminPassword string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("data.dir", defaultDataDir)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("admin.username", defaultAdminUser)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:   configViper.GetString("http.address"),
		DataDir:       configViper.GetString("data.dir"),
		DatabasePath:  configViper.GetString("database.path"),
		LogLevel:      configViper.GetString("log.level"),
		SigningSecret: configViper.GetString("auth.signing_secret"),
		AdminUsername: configViper.GetString("admin.username"),
		AdminPassword: configViper.GetString("admin.password"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("data.dir is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.AdminPassword) == "" {
		return fmt.Errorf("admin.password is required")
	}
	return nil
}

// DestinationsPath returns the destination registry document path.
func (c AppConfig) DestinationsPath() string {
	return filepath.Join(c.DataDir, destinationsFile)
}

// AssignmentsPath returns the assignment record log path.
func (c AppConfig) AssignmentsPath() string {
	return filepath.Join(c.DataDir, assignmentsFile)
}

// SettingsPath returns the runtime settings document path.
func (c AppConfig) SettingsPath() string {
	return filepath.Join(c.DataDir, settingsFile)
}

// BehaviorsPath returns the behavior event log path.
func (c AppConfig) BehaviorsPath() string {
	return filepath.Join(c.DataDir, behaviorsFile)
}
