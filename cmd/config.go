package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/cobra"

	"github.com/porthorian/consoleauth"
)

const envPrefix = "CONSOLEAUTH_"

// cliConfig is read from CONSOLEAUTH_* variables. Flags registered by
// bindClientFlags take precedence.
type cliConfig struct {
	APIBaseURL string        `env:"API_BASE_URL"`
	Timeout    time.Duration `env:"TIMEOUT" envDefault:"5s"`

	StorageBackend string `env:"STORAGE_BACKEND" envDefault:"file"`
	// StoragePath defaults to consoleauth/session.json under the user
	// config directory.
	StoragePath string `env:"STORAGE_PATH"`

	RedisAddress   string        `env:"REDIS_ADDRESS"`
	RedisUsername  string        `env:"REDIS_USERNAME"`
	RedisPassword  string        `env:"REDIS_PASSWORD"`
	RedisDatabase  int           `env:"REDIS_DATABASE" envDefault:"0"`
	RedisNamespace string        `env:"REDIS_NAMESPACE" envDefault:"consoleauth"`
	RedisTTL       time.Duration `env:"REDIS_TTL"`

	PostgresDSN       string `env:"POSTGRES_DSN"`
	PostgresNamespace string `env:"POSTGRES_NAMESPACE"`

	SkipPermissionPersistence bool `env:"SKIP_PERMISSION_PERSISTENCE" envDefault:"false"`
}

type clientFlags struct {
	apiBaseURL     string
	storageBackend string
	storagePath    string
}

func loadCLIConfig() (cliConfig, error) {
	var cfg cliConfig
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: envPrefix}); err != nil {
		return cliConfig{}, fmt.Errorf("parse %s environment: %w", envPrefix, err)
	}
	return cfg, nil
}

func bindClientFlags(cmd *cobra.Command, flags *clientFlags) {
	cmd.Flags().StringVar(&flags.apiBaseURL, "api-url", "", "Admin API base URL, e.g. https://shop.example.com/api/v1. Can also be set via CONSOLEAUTH_API_BASE_URL.")
	cmd.Flags().StringVar(&flags.storageBackend, "storage", "", "Session storage backend: memory, file, redis or postgres. Can also be set via CONSOLEAUTH_STORAGE_BACKEND.")
	cmd.Flags().StringVar(&flags.storagePath, "storage-path", "", "Session file for the file backend. Can also be set via CONSOLEAUTH_STORAGE_PATH.")
}

func (f clientFlags) apply(cfg cliConfig) cliConfig {
	if v := strings.TrimSpace(f.apiBaseURL); v != "" {
		cfg.APIBaseURL = v
	}
	if v := strings.TrimSpace(f.storageBackend); v != "" {
		cfg.StorageBackend = v
	}
	if v := strings.TrimSpace(f.storagePath); v != "" {
		cfg.StoragePath = v
	}
	return cfg
}

func (c cliConfig) clientConfig(cmd *cobra.Command) (consoleauth.Config, error) {
	storagePath := c.StoragePath
	if consoleauth.StorageBackend(c.StorageBackend) == consoleauth.StorageBackendFile && storagePath == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return consoleauth.Config{}, fmt.Errorf("resolve session file: %w", err)
		}
		storagePath = filepath.Join(dir, "consoleauth", "session.json")
	}

	return consoleauth.Config{
		Logger:                    newLogger(cmd.ErrOrStderr(), logVerbosity),
		SkipPermissionPersistence: c.SkipPermissionPersistence,
		Runtime: consoleauth.RuntimeConfig{
			Storage: consoleauth.StorageConfig{
				Backend: consoleauth.StorageBackend(c.StorageBackend),
				File:    consoleauth.FileStorageConfig{Path: storagePath},
				Redis: consoleauth.RedisStorageConfig{
					Address:   c.RedisAddress,
					Username:  c.RedisUsername,
					Password:  c.RedisPassword,
					Database:  c.RedisDatabase,
					Namespace: c.RedisNamespace,
					TTL:       c.RedisTTL,
				},
				Postgres: consoleauth.PostgresConfig{
					DSN:       c.PostgresDSN,
					Namespace: c.PostgresNamespace,
				},
			},
			Transport: consoleauth.TransportConfig{
				BaseURL: c.APIBaseURL,
				Timeout: c.Timeout,
			},
		},
	}, nil
}

func newClient(cmd *cobra.Command, flags clientFlags) (*consoleauth.Client, error) {
	cfg, err := loadCLIConfig()
	if err != nil {
		return nil, err
	}

	clientConfig, err := flags.apply(cfg).clientConfig(cmd)
	if err != nil {
		return nil, err
	}
	return consoleauth.New(cmd.Context(), clientConfig)
}
