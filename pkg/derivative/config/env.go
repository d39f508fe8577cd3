package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
)

// applyStorageEnv replaces the default scheme's backend with the one named
// by STORAGE_URL.
func applyStorageEnv(c *ServerConfig) error {
	storageURL, ok := os.LookupEnv("STORAGE_URL")
	if !ok || storageURL == "" {
		return nil
	}

	backend, err := storageBackendFromURL(c.DefaultScheme, storageURL)
	if err != nil {
		return err
	}
	if public, ok := os.LookupEnv("STORAGE_PUBLIC_URL"); ok {
		backend.PublicURL = public
	}
	c.StorageBackends = upsertStorageBackend(c.StorageBackends, backend)
	return nil
}

func storageBackendFromURL(name, raw string) (StorageBackendConfig, error) {
	if raw == "memory" || raw == "memory://" {
		return StorageBackendConfig{Name: name, Type: "memory"}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return StorageBackendConfig{}, fmt.Errorf("invalid STORAGE_URL: %w", err)
	}
	q := u.Query()

	switch u.Scheme {
	case "file":
		if u.Path == "" {
			return StorageBackendConfig{}, fmt.Errorf("filesystem path cannot be empty in STORAGE_URL")
		}
		return StorageBackendConfig{
			Name:   name,
			Type:   "fs",
			Config: map[string]interface{}{"base_dir": u.Path},
		}, nil

	case "s3":
		if u.Host == "" {
			return StorageBackendConfig{}, fmt.Errorf("S3 bucket name cannot be empty in STORAGE_URL")
		}
		cfg := map[string]interface{}{
			"bucket": u.Host,
			"prefix": strings.Trim(u.Path, "/"),
			"region": firstNonEmpty(q.Get("region"), os.Getenv("AWS_REGION"), "us-east-1"),
		}
		if v := q.Get("endpoint"); v != "" {
			cfg["endpoint"] = v
			cfg["use_path_style"] = true
		}
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			cfg["access_key_id"] = v
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			cfg["secret_access_key"] = v
		}
		return StorageBackendConfig{Name: name, Type: "s3", Config: cfg}, nil

	case "minio":
		bucket, prefix, _ := strings.Cut(strings.TrimPrefix(u.Path, "/"), "/")
		if u.Host == "" || bucket == "" {
			return StorageBackendConfig{}, fmt.Errorf("MinIO endpoint and bucket are required in STORAGE_URL")
		}
		cfg := map[string]interface{}{
			"endpoint": u.Host,
			"bucket":   bucket,
			"prefix":   prefix,
			"region":   q.Get("region"),
			"use_ssl":  q.Get("ssl") != "false",
		}
		if u.User != nil {
			cfg["access_key"] = u.User.Username()
			if p, ok := u.User.Password(); ok {
				cfg["secret_key"] = p
			}
		}
		return StorageBackendConfig{Name: name, Type: "minio", Config: cfg}, nil
	}

	return StorageBackendConfig{}, fmt.Errorf("unsupported STORAGE_URL format: %s (use 'memory://', 'file://...', 's3://...' or 'minio://...')", raw)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
