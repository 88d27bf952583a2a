package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"strings"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	sessionmigrations "github.com/goliatone/go-sessions/migrations"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// OpenConfig describes the database backing the session store.
type OpenConfig struct {
	Driver      string        `koanf:"driver" mapstructure:"driver"`
	DSN         string        `koanf:"dsn" mapstructure:"dsn"`
	Debug       bool          `koanf:"debug" mapstructure:"debug"`
	PingTimeout time.Duration `koanf:"ping_timeout" mapstructure:"ping_timeout"`
	// Migrate applies the embedded session_records migrations after opening.
	Migrate bool `koanf:"migrate" mapstructure:"migrate"`
	// MaxOpenConns caps the pool; in-memory SQLite needs 1.
	MaxOpenConns int `koanf:"max_open_conns" mapstructure:"max_open_conns"`
}

type persistenceConfig struct {
	cfg OpenConfig
}

func (c persistenceConfig) GetDebug() bool {
	return c.cfg.Debug
}

func (c persistenceConfig) GetDriver() string {
	return c.cfg.Driver
}

func (c persistenceConfig) GetServer() string {
	return c.cfg.DSN
}

func (c persistenceConfig) GetOtelIdentifier() string {
	return "go-sessions"
}

func (c persistenceConfig) GetPingTimeout() time.Duration {
	if c.cfg.PingTimeout <= 0 {
		return 5 * time.Second
	}
	return c.cfg.PingTimeout
}

// Open connects a go-persistence-bun client for cfg.Driver, optionally
// migrates it, and returns it with a built repository factory.
func Open(ctx context.Context, cfg OpenConfig) (*persistence.Client, *RepositoryFactory, error) {
	cfg.Driver = strings.TrimSpace(strings.ToLower(cfg.Driver))
	cfg.DSN = strings.TrimSpace(cfg.DSN)
	if cfg.DSN == "" {
		return nil, nil, fmt.Errorf("sqlstore: dsn is required")
	}
	driver, dialect, migrationDialect, err := dialectFor(cfg.Driver)
	if err != nil {
		return nil, nil, err
	}
	cfg.Driver = driver

	sqlDB, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("sqlstore: open %s: %w", cfg.Driver, err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	client, err := persistence.New(persistenceConfig{cfg: cfg}, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, nil, fmt.Errorf("sqlstore: new persistence client: %w", err)
	}

	if cfg.Migrate {
		if err := RegisterMigrations(ctx, client, migrationDialect); err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		if err := client.Migrate(ctx); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("sqlstore: migrate: %w", err)
		}
	}

	factory, err := NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return client, factory, nil
}

// RegisterMigrations registers the embedded migrations for one dialect on
// client without running them.
func RegisterMigrations(ctx context.Context, client *persistence.Client, dialect string) error {
	if client == nil {
		return fmt.Errorf("sqlstore: persistence client is required")
	}
	_, err := sessionmigrations.Register(ctx, func(_ context.Context, target string, _ string, fsys fs.FS) error {
		if target != dialect {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, sessionmigrations.WithValidationTargets(dialect))
	return err
}

// dialectFor maps a driver alias to its database/sql driver name, bun
// dialect and migration dialect.
func dialectFor(driver string) (string, schema.Dialect, string, error) {
	switch driver {
	case DriverSQLite, "sqlite":
		return DriverSQLite, sqlitedialect.New(), sessionmigrations.DialectSQLite, nil
	case DriverPostgres, "pg", "postgresql":
		return DriverPostgres, pgdialect.New(), sessionmigrations.DialectPostgres, nil
	default:
		return "", nil, "", fmt.Errorf("sqlstore: unsupported driver %q", driver)
	}
}
