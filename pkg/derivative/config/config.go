package config

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/tendant/simple-derivative/pkg/derivative"
	"github.com/tendant/simple-derivative/pkg/derivative/broker"
	"github.com/tendant/simple-derivative/pkg/derivative/callbackauth"
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// Load constructs a ServerConfig by applying the supplied options on top of library defaults.
func Load(opts ...Option) (*ServerConfig, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() ServerConfig {
	return ServerConfig{
		Port:          "8080",
		Environment:   "development",
		LogLevel:      "info",
		BaseURL:       "http://localhost:8080",
		DatabaseType:  "memory",
		DefaultScheme: derivative.DefaultScheme,
		StorageBackends: []StorageBackendConfig{
			{
				Name:   derivative.DefaultScheme,
				Type:   "memory",
				Config: map[string]interface{}{},
			},
		},
		Broker: BrokerConfig{
			URL: "memory://",
		},
		Auth: AuthConfig{
			TokenExpiry: callbackauth.DefaultExpiry,
		},
		Tracing: TracingConfig{
			ServiceName: "simple-derivative",
			SampleRatio: 1,
		},
		EnableMetrics: true,
	}
}

// ServerConfig represents configuration of the derivative server
type ServerConfig struct {
	Port        string `yaml:"port" env:"PORT" env-description:"HTTP listen port"`
	Environment string `yaml:"environment" env:"ENVIRONMENT" env-description:"development, production or testing"`
	LogLevel    string `yaml:"log_level" env:"LOG_LEVEL" env-description:"debug, info, warn or error"`

	// BaseURL is the public root entity and callback URLs are built on.
	BaseURL string `yaml:"base_url" env:"BASE_URL" env-description:"Public base URL of this server"`
	// Target is the binary store root reported as the event target.
	Target string `yaml:"target" env:"TARGET" env-description:"Binary store root URL reported in events"`

	// Database configuration
	DatabaseType  string `yaml:"database_type" env:"DATABASE_TYPE" env-description:"memory or postgres"`
	DatabaseURL   string `yaml:"database_url" env:"DATABASE_URL" env-description:"Postgres connection string"`
	DBSchema      string `yaml:"db_schema" env:"DB_SCHEMA" env-description:"Postgres search_path"`
	DBAutoMigrate bool   `yaml:"db_auto_migrate" env:"DB_AUTO_MIGRATE" env-description:"Create missing tables at startup"`

	// Storage configuration, one backend per URI scheme
	DefaultScheme   string                 `yaml:"default_scheme" env:"DEFAULT_SCHEME" env-description:"Storage scheme used when none is configured"`
	StorageBackends []StorageBackendConfig `yaml:"storage_backends"`

	Broker  BrokerConfig  `yaml:"broker"`
	Auth    AuthConfig    `yaml:"auth"`
	Tracing TracingConfig `yaml:"tracing"`

	// IndexQueue receives Create, Update and Delete events when set.
	IndexQueue    string                    `yaml:"index_queue" env:"INDEX_QUEUE" env-description:"Queue for entity lifecycle events"`
	Actions       []derivative.ActionConfig `yaml:"actions"`
	EnableMetrics bool                      `yaml:"enable_metrics" env:"ENABLE_METRICS" env-description:"Serve Prometheus metrics on /metrics"`
}

// StorageBackendConfig represents configuration for a storage backend
type StorageBackendConfig struct {
	Name      string                 `yaml:"name"` // URI scheme served by the backend
	Type      string                 `yaml:"type"` // "memory", "fs", "s3", "minio"
	PublicURL string                 `yaml:"public_url"`
	Config    map[string]interface{} `yaml:"config"`
}

// BrokerConfig holds the message broker connection settings
type BrokerConfig struct {
	URL      string `yaml:"url" env:"BROKER_URL" env-description:"tcp://, stomp://, kafka:// or memory:// broker URL"`
	User     string `yaml:"user" env:"BROKER_USER" env-description:"Broker login"`
	Password string `yaml:"password" env:"BROKER_PASSWORD" env-description:"Broker passcode"`
}

// Settings returns the broker settings in service form.
func (b BrokerConfig) Settings() derivative.BrokerSettings {
	return derivative.BrokerSettings{URL: b.URL, User: b.User, Password: b.Password}
}

// AuthConfig holds callback and admin credentials
type AuthConfig struct {
	TokenSecret      string `yaml:"token_secret" env:"JWT_SECRET" env-description:"HS256 secret for callback tokens"`
	TokenExpiry      string `yaml:"token_expiry" env:"JWT_EXPIRY" env-description:"Callback token lifetime, e.g. '2 hours'"`
	URLSigningSecret string `yaml:"url_signing_secret" env:"CALLBACK_SIGNING_SECRET" env-description:"HMAC secret for signed callback URLs"`
	APIKeySHA256     string `yaml:"api_key_sha256" env:"API_KEY_SHA256" env-description:"SHA-256 of the admin API key"`
}

// TracingConfig configures the OTLP exporter
type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT" env-description:"OTLP gRPC endpoint, empty disables tracing"`
	Insecure    bool    `yaml:"insecure" env:"OTEL_EXPORTER_OTLP_INSECURE"`
	SampleRatio float64 `yaml:"sample_ratio" env:"OTEL_SAMPLE_RATIO"`
	ServiceName string  `yaml:"service_name" env:"OTEL_SERVICE_NAME"`
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}
	if c.BaseURL == "" {
		return errors.New("base_url is required")
	}

	if c.DatabaseType != "memory" && c.DatabaseType != "postgres" {
		return errors.New("database_type must be 'memory' or 'postgres'")
	}
	if c.DatabaseType == "postgres" && c.DatabaseURL == "" {
		return errors.New("database_url is required when using postgres")
	}

	seen := make(map[string]bool, len(c.StorageBackends))
	for _, backend := range c.StorageBackends {
		if backend.Name == "" {
			return errors.New("storage backend name is required")
		}
		if seen[backend.Name] {
			return fmt.Errorf("duplicate storage backend '%s'", backend.Name)
		}
		seen[backend.Name] = true
		switch backend.Type {
		case "memory", "fs", "s3", "minio":
		default:
			return fmt.Errorf("unsupported storage backend type: %s", backend.Type)
		}
	}
	if !seen[c.DefaultScheme] {
		return fmt.Errorf("default scheme '%s' not found in configured backends", c.DefaultScheme)
	}

	scheme, err := broker.Scheme(c.Broker.URL)
	if err != nil {
		return err
	}
	if !broker.Supported(scheme) {
		return fmt.Errorf("unsupported broker url %q", c.Broker.URL)
	}

	if _, err := callbackauth.ParseExpiry(c.Auth.TokenExpiry); err != nil {
		return fmt.Errorf("token_expiry: %w", err)
	}
	if c.Environment == "production" {
		if c.Auth.TokenSecret == "" {
			return errors.New("token_secret is required in production")
		}
		if c.Auth.APIKeySHA256 == "" {
			return errors.New("api_key_sha256 is required in production")
		}
	}

	ids := make(map[string]bool, len(c.Actions))
	for _, action := range c.Actions {
		a := action
		a.ApplyDefaults()
		if err := a.Validate(); err != nil {
			return err
		}
		if ids[a.ID] {
			return fmt.Errorf("duplicate action id '%s'", a.ID)
		}
		ids[a.ID] = true
	}

	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return errors.New("tracing sample_ratio must be between 0 and 1")
	}

	return nil
}

func getString(config map[string]interface{}, key string, defaultValue string) string {
	if value, exists := config[key]; exists {
		if str, ok := value.(string); ok {
			return str
		}
	}
	return defaultValue
}

func getBool(config map[string]interface{}, key string, defaultValue bool) bool {
	if value, exists := config[key]; exists {
		if b, ok := value.(bool); ok {
			return b
		}
		if str, ok := value.(string); ok {
			if b, err := strconv.ParseBool(str); err == nil {
				return b
			}
		}
	}
	return defaultValue
}
