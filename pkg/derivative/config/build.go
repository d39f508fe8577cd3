package config

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tendant/simple-derivative/pkg/derivative"
	"github.com/tendant/simple-derivative/pkg/derivative/broker"
	"github.com/tendant/simple-derivative/pkg/derivative/callbackauth"
	"github.com/tendant/simple-derivative/pkg/derivative/metrics"
	"github.com/tendant/simple-derivative/pkg/derivative/repo/memory"
	repopg "github.com/tendant/simple-derivative/pkg/derivative/repo/postgres"
	fsstorage "github.com/tendant/simple-derivative/pkg/derivative/storage/fs"
	memorystorage "github.com/tendant/simple-derivative/pkg/derivative/storage/memory"
	miniostorage "github.com/tendant/simple-derivative/pkg/derivative/storage/minio"
	s3storage "github.com/tendant/simple-derivative/pkg/derivative/storage/s3"
)

// Components is everything the server needs from a built configuration.
type Components struct {
	Service    derivative.Service
	Repository derivative.Repository
	Publisher  broker.Publisher
	Tokens     *callbackauth.Tokens
	Signer     *callbackauth.Signer
	// Metrics is nil when metrics are disabled.
	Metrics *metrics.Recorder

	closers []func()
}

// Close releases the broker connection and database pool.
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

// Build creates the service and its collaborators from the configuration.
func (c *ServerConfig) Build(ctx context.Context, logger *slog.Logger) (*Components, error) {
	if logger == nil {
		logger = slog.Default()
	}
	comps := &Components{}
	ok := false
	defer func() {
		if !ok {
			comps.Close()
		}
	}()

	options := []derivative.Option{
		derivative.WithLogger(logger),
		derivative.WithTarget(c.Target),
		derivative.WithDefaultScheme(c.DefaultScheme),
		derivative.WithIndexQueue(c.IndexQueue),
		derivative.WithActions(c.Actions...),
	}

	// Set up repository
	repo, err := c.buildRepository(ctx, comps)
	if err != nil {
		return nil, fmt.Errorf("failed to build repository: %w", err)
	}
	comps.Repository = repo
	options = append(options, derivative.WithRepository(repo))

	// Set up storage backends
	publicBases := make(map[string]string)
	for _, backendConfig := range c.StorageBackends {
		store, err := c.buildStorageBackend(backendConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to build storage backend %s: %w", backendConfig.Name, err)
		}
		options = append(options, derivative.WithBlobStore(backendConfig.Name, store))
		if backendConfig.PublicURL != "" {
			publicBases[backendConfig.Name] = backendConfig.PublicURL
		}
	}
	options = append(options, derivative.WithURLResolver(derivative.NewURLResolver(c.BaseURL, publicBases)))

	// Set up broker
	publisher, err := broker.New(c.Broker.Settings(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build broker publisher: %w", err)
	}
	comps.Publisher = publisher
	comps.closers = append(comps.closers, func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("failed to close broker connection", "err", err)
		}
	})
	options = append(options,
		derivative.WithPublisher(publisher),
		derivative.WithBrokerValidator(&broker.Validator{Current: publisher, Logger: logger}),
	)

	// Set up callback credentials
	expiry, err := callbackauth.ParseExpiry(c.Auth.TokenExpiry)
	if err != nil {
		return nil, fmt.Errorf("token_expiry: %w", err)
	}
	secret := c.Auth.TokenSecret
	if secret == "" {
		secret, err = randomSecret()
		if err != nil {
			return nil, err
		}
		logger.Warn("no token secret configured, callback tokens will not survive a restart")
	}
	tokens, err := callbackauth.NewTokens(secret, expiry)
	if err != nil {
		return nil, err
	}
	comps.Tokens = tokens
	options = append(options, derivative.WithTokenIssuer(tokens))

	comps.Signer = callbackauth.NewSigner(
		callbackauth.WithSecretKey(c.Auth.URLSigningSecret),
		callbackauth.WithDefaultExpiration(expiry),
	)
	if comps.Signer.IsEnabled() {
		options = append(options, derivative.WithCallbackSigner(comps.Signer))
	}

	if c.EnableMetrics {
		comps.Metrics = metrics.New()
		options = append(options, derivative.WithMetrics(comps.Metrics))
	}

	svc, err := derivative.New(options...)
	if err != nil {
		return nil, err
	}
	comps.Service = svc
	ok = true
	return comps, nil
}

// buildRepository creates a Repository based on the configuration
func (c *ServerConfig) buildRepository(ctx context.Context, comps *Components) (derivative.Repository, error) {
	switch c.DatabaseType {
	case "memory":
		return memory.New(), nil
	case "postgres":
		if c.DatabaseURL == "" {
			return nil, errors.New("database_url is required for postgres")
		}
		pool, err := newPool(ctx, c.DatabaseURL, c.DBSchema)
		if err != nil {
			return nil, err
		}
		comps.closers = append(comps.closers, pool.Close)
		repo := repopg.NewWithPool(pool)
		if c.DBAutoMigrate {
			if err := repo.Migrate(ctx); err != nil {
				return nil, err
			}
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", c.DatabaseType)
	}
}

func newPool(ctx context.Context, databaseURL, schema string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
	}
	if schema != "" {
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, "SET search_path TO "+pgx.Identifier{schema}.Sanitize())
			return err
		}
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	return pool, nil
}

// buildStorageBackend creates a BlobStore based on the backend configuration
func (c *ServerConfig) buildStorageBackend(config StorageBackendConfig) (derivative.BlobStore, error) {
	switch config.Type {
	case "memory":
		return memorystorage.New(), nil

	case "fs":
		return fsstorage.New(fsstorage.Config{
			BaseDir: getString(config.Config, "base_dir", "./data/"+config.Name),
		})

	case "s3":
		return s3storage.New(s3storage.Config{
			Region:                 getString(config.Config, "region", "us-east-1"),
			Bucket:                 getString(config.Config, "bucket", ""),
			Prefix:                 getString(config.Config, "prefix", ""),
			AccessKeyID:            getString(config.Config, "access_key_id", ""),
			SecretAccessKey:        getString(config.Config, "secret_access_key", ""),
			Endpoint:               getString(config.Config, "endpoint", ""),
			UsePathStyle:           getBool(config.Config, "use_path_style", false),
			EnableSSE:              getBool(config.Config, "enable_sse", false),
			SSEAlgorithm:           getString(config.Config, "sse_algorithm", "AES256"),
			SSEKMSKeyID:            getString(config.Config, "sse_kms_key_id", ""),
			CreateBucketIfNotExist: getBool(config.Config, "create_bucket_if_not_exist", false),
		})

	case "minio":
		return miniostorage.New(miniostorage.Config{
			Endpoint:               getString(config.Config, "endpoint", ""),
			Region:                 getString(config.Config, "region", ""),
			Bucket:                 getString(config.Config, "bucket", ""),
			Prefix:                 getString(config.Config, "prefix", ""),
			AccessKey:              getString(config.Config, "access_key", ""),
			SecretKey:              getString(config.Config, "secret_key", ""),
			UseSSL:                 getBool(config.Config, "use_ssl", true),
			CreateBucketIfNotExist: getBool(config.Config, "create_bucket_if_not_exist", false),
		})

	default:
		return nil, fmt.Errorf("unsupported storage backend type: %s", config.Type)
	}
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}
