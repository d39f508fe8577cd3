package config

import (
	"fmt"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/tendant/simple-derivative/pkg/derivative"
)

// WithFile reads a YAML (or JSON, TOML, EDN, .env) file. Environment
// variables named by the env tags override values from the file.
func WithFile(path string) Option {
	return func(c *ServerConfig) error {
		if path == "" {
			return nil
		}
		if err := cleanenv.ReadConfig(path, c); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
		return nil
	}
}

// WithEnv applies environment variable overrides.
//
// Besides the variables named by the struct tags, STORAGE_URL configures
// the backend of the default scheme:
//
//	memory://                          in-memory storage
//	file:///path/to/data               filesystem storage
//	s3://bucket?region=us-east-1       S3 storage
//	minio://host:9000/bucket?ssl=false MinIO storage
//
// A postgres:// or postgresql:// DATABASE_URL selects the postgres
// repository.
func WithEnv() Option {
	return func(c *ServerConfig) error {
		if err := cleanenv.ReadEnv(c); err != nil {
			return fmt.Errorf("read environment: %w", err)
		}
		if strings.HasPrefix(c.DatabaseURL, "postgres://") || strings.HasPrefix(c.DatabaseURL, "postgresql://") {
			c.DatabaseType = "postgres"
		}
		return applyStorageEnv(c)
	}
}

// WithPort sets the server port
func WithPort(port string) Option {
	return func(c *ServerConfig) error {
		if port == "" {
			return fmt.Errorf("port cannot be empty")
		}
		c.Port = port
		return nil
	}
}

// WithEnvironment sets the environment (development, production, testing)
func WithEnvironment(env string) Option {
	return func(c *ServerConfig) error {
		if env == "" {
			return fmt.Errorf("environment cannot be empty")
		}
		c.Environment = env
		return nil
	}
}

// WithDatabase configures the database backend
func WithDatabase(dbType, url string) Option {
	return func(c *ServerConfig) error {
		if dbType != "memory" && dbType != "postgres" {
			return fmt.Errorf("database type must be 'memory' or 'postgres', got: %s", dbType)
		}
		if dbType == "postgres" && url == "" {
			return fmt.Errorf("database URL is required for postgres")
		}
		c.DatabaseType = dbType
		c.DatabaseURL = url
		return nil
	}
}

// WithStorageBackend adds or replaces the backend serving a scheme
func WithStorageBackend(backend StorageBackendConfig) Option {
	return func(c *ServerConfig) error {
		if backend.Name == "" {
			return fmt.Errorf("storage backend name cannot be empty")
		}
		c.StorageBackends = upsertStorageBackend(c.StorageBackends, backend)
		return nil
	}
}

// WithBroker sets the broker connection
func WithBroker(url, user, password string) Option {
	return func(c *ServerConfig) error {
		c.Broker = BrokerConfig{URL: url, User: user, Password: password}
		return nil
	}
}

// WithTokenSecret sets the callback token secret and lifetime expression
func WithTokenSecret(secret, expiry string) Option {
	return func(c *ServerConfig) error {
		c.Auth.TokenSecret = secret
		if expiry != "" {
			c.Auth.TokenExpiry = expiry
		}
		return nil
	}
}

// WithActions appends derivative actions
func WithActions(actions ...derivative.ActionConfig) Option {
	return func(c *ServerConfig) error {
		c.Actions = append(c.Actions, actions...)
		return nil
	}
}

func upsertStorageBackend(backends []StorageBackendConfig, backend StorageBackendConfig) []StorageBackendConfig {
	if backend.Config == nil {
		backend.Config = map[string]interface{}{}
	}
	for i := range backends {
		if backends[i].Name == backend.Name {
			backends[i] = backend
			return backends
		}
	}
	return append(backends, backend)
}
