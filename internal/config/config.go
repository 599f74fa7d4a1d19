package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const (
	envPrefix             = "MARGIN"
	defaultHTTPAddress    = "0.0.0.0:8080"
	defaultDatabaseDriver = DriverSQLite
	defaultDatabasePath   = "margin.db"
	defaultLogLevel       = "info"
	defaultLogEncoding    = "json"
	defaultSessionIssuer  = "margin-auth"
	defaultCookieName     = "app_session"
	defaultAllowedOrigins = "*"
	defaultMaxPageSize    = 100
	defaultRecentVersions = 5

	keyHTTPAddress               = "http.address"
	keyDatabaseDriver            = "database.driver"
	keyDatabasePath              = "database.path"
	keyDatabaseDSN               = "database.dsn"
	keyLogLevel                  = "log.level"
	keyLogEncoding               = "log.encoding"
	keySessionSigningSecret      = "session.signing_secret"
	keySessionIssuer             = "session.issuer"
	keySessionCookieName         = "session.cookie_name"
	keyCORSAllowedOrigins        = "cors.allowed_origins"
	keyAnnotationsMaxPageSize    = "annotations.max_page_size"
	keyAnnotationsRecentVersions = "annotations.recent_versions"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress           string
	DatabaseDriver        string
	DatabasePath          string
	DatabaseDSN           string
	LogLevel              string
	LogEncoding           string
	SessionSigningSecret  string
	SessionIssuer         string
	SessionCookieName     string
	AllowedOrigins        []string
	MaxPageSize           int
	RecentVersionsInViews int
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

	configViper.SetDefault(keyHTTPAddress, defaultHTTPAddress)
	configViper.SetDefault(keyDatabaseDriver, defaultDatabaseDriver)
	configViper.SetDefault(keyDatabasePath, defaultDatabasePath)
	configViper.SetDefault(keyDatabaseDSN, "")
	configViper.SetDefault(keyLogLevel, defaultLogLevel)
	configViper.SetDefault(keyLogEncoding, defaultLogEncoding)
	configViper.SetDefault(keySessionSigningSecret, "")
	configViper.SetDefault(keySessionIssuer, defaultSessionIssuer)
	configViper.SetDefault(keySessionCookieName, defaultCookieName)
	configViper.SetDefault(keyCORSAllowedOrigins, defaultAllowedOrigins)
	configViper.SetDefault(keyAnnotationsMaxPageSize, defaultMaxPageSize)
	configViper.SetDefault(keyAnnotationsRecentVersions, defaultRecentVersions)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:           configViper.GetString(keyHTTPAddress),
		DatabaseDriver:        strings.ToLower(strings.TrimSpace(configViper.GetString(keyDatabaseDriver))),
		DatabasePath:          configViper.GetString(keyDatabasePath),
		DatabaseDSN:           configViper.GetString(keyDatabaseDSN),
		LogLevel:              configViper.GetString(keyLogLevel),
		LogEncoding:           strings.ToLower(strings.TrimSpace(configViper.GetString(keyLogEncoding))),
		SessionSigningSecret:  configViper.GetString(keySessionSigningSecret),
		SessionIssuer:         configViper.GetString(keySessionIssuer),
		SessionCookieName:     configViper.GetString(keySessionCookieName),
		AllowedOrigins:        splitOrigins(configViper.GetString(keyCORSAllowedOrigins)),
		MaxPageSize:           configViper.GetInt(keyAnnotationsMaxPageSize),
		RecentVersionsInViews: configViper.GetInt(keyAnnotationsRecentVersions),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// LoadDatabase parses only the settings the migrate command needs.
func LoadDatabase(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		DatabaseDriver: strings.ToLower(strings.TrimSpace(configViper.GetString(keyDatabaseDriver))),
		DatabasePath:   configViper.GetString(keyDatabasePath),
		DatabaseDSN:    configViper.GetString(keyDatabaseDSN),
		LogLevel:       configViper.GetString(keyLogLevel),
		LogEncoding:    strings.ToLower(strings.TrimSpace(configViper.GetString(keyLogEncoding))),
	}
	if err := cfg.validateDatabase(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SessionSigningSecret) == "" {
		return fmt.Errorf("%s is required", keySessionSigningSecret)
	}
	if strings.TrimSpace(c.SessionCookieName) == "" {
		return fmt.Errorf("%s is required", keySessionCookieName)
	}
	if strings.TrimSpace(c.HTTPAddress) == "" {
		return fmt.Errorf("%s is required", keyHTTPAddress)
	}
	if c.MaxPageSize < 1 {
		return fmt.Errorf("%s must be positive", keyAnnotationsMaxPageSize)
	}
	if c.RecentVersionsInViews < 1 {
		return fmt.Errorf("%s must be positive", keyAnnotationsRecentVersions)
	}
	return c.validateDatabase()
}

func (c AppConfig) validateDatabase() error {
	switch c.DatabaseDriver {
	case DriverSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("%s is required", keyDatabasePath)
		}
	case DriverPostgres:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("%s is required when %s is %s", keyDatabaseDSN, keyDatabaseDriver, DriverPostgres)
		}
	default:
		return fmt.Errorf("%s must be %s or %s, got %q", keyDatabaseDriver, DriverSQLite, DriverPostgres, c.DatabaseDriver)
	}
	switch c.LogEncoding {
	case "json", "console":
	default:
		return fmt.Errorf("%s must be json or console, got %q", keyLogEncoding, c.LogEncoding)
	}
	return nil
}

func splitOrigins(raw string) []string {
	var origins []string
	for _, origin := range strings.Split(raw, ",") {
		trimmed := strings.TrimSpace(origin)
		if trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
