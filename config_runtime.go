package consoleauth

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/afero"

	filestore "github.com/porthorian/consoleauth/pkg/storage/file"
	"github.com/porthorian/consoleauth/pkg/storage/memory"
	"github.com/porthorian/consoleauth/pkg/storage/postgres"
	redisstore "github.com/porthorian/consoleauth/pkg/storage/redis"
	httptransport "github.com/porthorian/consoleauth/pkg/transport/http"
)

type StorageBackend string

const (
	StorageBackendNone     StorageBackend = "none"
	StorageBackendMemory   StorageBackend = "memory"
	StorageBackendFile     StorageBackend = "file"
	StorageBackendRedis    StorageBackend = "redis"
	StorageBackendPostgres StorageBackend = "postgres"
)

type RuntimeConfig struct {
	Storage   StorageConfig
	Transport TransportConfig
}

// StorageConfig selects where tokens and the permission mask are kept. An
// empty Backend means memory; "none" requires Config.Storage to be set.
type StorageConfig struct {
	Backend  StorageBackend
	File     FileStorageConfig
	Redis    RedisStorageConfig
	Postgres PostgresConfig
}

type FileStorageConfig struct {
	Path string
	// Fs defaults to the OS filesystem.
	Fs afero.Fs
}

type RedisStorageConfig struct {
	Address     string
	Username    string
	Password    string
	Database    int
	Namespace   string
	DialTimeout time.Duration
	TTL         time.Duration
}

type PostgresConfig struct {
	DriverName      string
	DSN             string
	Namespace       string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
	OpenDB          func(driverName string, dsn string) (*sql.DB, error)
}

// TransportConfig builds the default HTTP login transport when
// Config.Transport is nil and BaseURL is set.
type TransportConfig struct {
	BaseURL string
	Timeout time.Duration
}

func (c Config) initialize(ctx context.Context) (func() error, Config, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	config := c
	config.Logger = resolveLogger(config.Logger)

	closeStorage, config, err := initializeStorage(ctx, config)
	if err != nil {
		return nil, Config{}, err
	}

	config, err = initializeTransport(config)
	if err != nil {
		_ = closeStorage()
		return nil, Config{}, err
	}

	return closeStorage, config, nil
}

func initializeStorage(ctx context.Context, config Config) (func() error, Config, error) {
	if config.Storage != nil {
		config.Logger.V(1).Info("using injected storage")
		return noopCloser, config, nil
	}

	backend := config.Runtime.Storage.Backend
	if backend == "" {
		backend = StorageBackendMemory
	}

	switch backend {
	case StorageBackendNone:
		return noopCloser, config, nil
	case StorageBackendMemory:
		config.Storage = memory.NewAdapter()
		config.Logger.V(1).Info("initialized memory storage backend")
		return noopCloser, config, nil
	case StorageBackendFile:
		return initializeFileStorage(config)
	case StorageBackendRedis:
		return initializeRedisStorage(ctx, config)
	case StorageBackendPostgres:
		return initializePostgres(ctx, config)
	default:
		return nil, Config{}, fmt.Errorf("consoleauth config: unsupported runtime.storage.backend %q", backend)
	}
}

func initializeFileStorage(config Config) (func() error, Config, error) {
	fileConfig := config.Runtime.Storage.File
	if fileConfig.Path == "" {
		return nil, Config{}, fmt.Errorf("consoleauth config: runtime.storage.file.path is required")
	}
	if fileConfig.Fs == nil {
		fileConfig.Fs = afero.NewOsFs()
	}

	adapter, err := filestore.NewAdapter(fileConfig.Fs, fileConfig.Path)
	if err != nil {
		return nil, Config{}, fmt.Errorf("consoleauth config: failed to open file storage: %w", err)
	}

	config.Storage = adapter
	config.Runtime.Storage.File = fileConfig
	config.Logger.V(1).Info("initialized file storage backend", "path", fileConfig.Path)
	return noopCloser, config, nil
}

func initializeRedisStorage(ctx context.Context, config Config) (func() error, Config, error) {
	redisConfig := config.Runtime.Storage.Redis
	if redisConfig.Address == "" {
		return nil, Config{}, fmt.Errorf("consoleauth config: runtime.storage.redis.address is required")
	}
	if redisConfig.DialTimeout <= 0 {
		redisConfig.DialTimeout = 5 * time.Second
	}

	adapter, err := redisstore.NewAdapter(redisstore.Config{
		Address:     redisConfig.Address,
		Username:    redisConfig.Username,
		Password:    redisConfig.Password,
		Database:    redisConfig.Database,
		Namespace:   redisConfig.Namespace,
		DialTimeout: redisConfig.DialTimeout,
		TTL:         redisConfig.TTL,
	})
	if err != nil {
		return nil, Config{}, fmt.Errorf("consoleauth config: failed to initialize redis storage: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, redisConfig.DialTimeout)
	defer cancel()

	if err := adapter.Ping(pingCtx); err != nil {
		_ = adapter.Close()
		return nil, Config{}, fmt.Errorf("consoleauth config: failed to ping redis: %w", err)
	}

	config.Storage = adapter
	config.Runtime.Storage.Redis = redisConfig
	config.Logger.V(1).Info("initialized redis storage backend", "address", redisConfig.Address, "database", redisConfig.Database, "namespace", redisConfig.Namespace)
	return adapter.Close, config, nil
}

func initializePostgres(ctx context.Context, config Config) (func() error, Config, error) {
	pgConfig := config.Runtime.Storage.Postgres
	if pgConfig.DSN == "" {
		return nil, Config{}, fmt.Errorf("consoleauth config: runtime.storage.postgres.dsn is required")
	}

	if pgConfig.DriverName == "" {
		pgConfig.DriverName = "pgx"
	}
	if pgConfig.PingTimeout <= 0 {
		pgConfig.PingTimeout = 5 * time.Second
	}
	if pgConfig.OpenDB == nil {
		pgConfig.OpenDB = sql.Open
	}

	db, err := pgConfig.OpenDB(pgConfig.DriverName, pgConfig.DSN)
	if err != nil {
		return nil, Config{}, fmt.Errorf("consoleauth config: failed to open postgres database: %w", err)
	}

	if pgConfig.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pgConfig.MaxOpenConns)
	}
	if pgConfig.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pgConfig.MaxIdleConns)
	}
	if pgConfig.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pgConfig.ConnMaxLifetime)
	}
	if pgConfig.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(pgConfig.ConnMaxIdleTime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pgConfig.PingTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, Config{}, fmt.Errorf("consoleauth config: failed to ping postgres database: %w", err)
	}

	adapter, err := postgres.NewAdapter(db, pgConfig.Namespace)
	if err != nil {
		_ = db.Close()
		return nil, Config{}, fmt.Errorf("consoleauth config: failed to initialize postgres adapter: %w", err)
	}

	config.Storage = adapter
	config.Runtime.Storage.Postgres = pgConfig
	config.Logger.V(1).Info("initialized postgres storage backend", "driver", pgConfig.DriverName, "namespace", pgConfig.Namespace, "max_open_conns", pgConfig.MaxOpenConns)
	return joinClosers(db.Close, adapter.Close), config, nil
}

func initializeTransport(config Config) (Config, error) {
	if config.Transport != nil || config.Runtime.Transport.BaseURL == "" {
		return config, nil
	}

	client, err := httptransport.NewClient(httptransport.ClientConfig{
		BaseURL: config.Runtime.Transport.BaseURL,
		Timeout: config.Runtime.Transport.Timeout,
		Logger:  config.Logger,
	})
	if err != nil {
		return Config{}, err
	}

	config.Transport = client
	config.Logger.V(1).Info("initialized http transport", "base_url", config.Runtime.Transport.BaseURL)
	return config, nil
}

func resolveLogger(logger logr.Logger) logr.Logger {
	if logger.GetSink() == nil {
		return logr.Discard()
	}
	return logger
}

// joinClosers runs closers in reverse order and joins their errors.
func joinClosers(closers ...func() error) func() error {
	return func() error {
		var errs []error

		for i := len(closers) - 1; i >= 0; i-- {
			if closers[i] == nil {
				continue
			}
			if err := closers[i](); err != nil {
				errs = append(errs, err)
			}
		}

		return stderrors.Join(errs...)
	}
}

func noopCloser() error {
	return nil
}
