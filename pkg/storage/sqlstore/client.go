// Package sqlstore persists tickers and historic prices in a relational
// store through gorm, on SQLite (default) or PostgreSQL.
package sqlstore

import (
	"context"
	"fmt"
	"sync"

	"pricesync/config"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type Client struct {
	DB *gorm.DB

	closeOnce sync.Once
	closeErr  error
}

// NewClient opens a gorm connection on the given dialector.
func NewClient(dialector gorm.Dialector) (*Client, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	return &Client{DB: db}, nil
}

// Open connects to the store described by cfg, creating the postgres
// database and migrating the schema when configured to.
func Open(ctx context.Context, cfg config.StoreConfig) (*Client, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case config.DriverSQLite:
		// foreign keys on, and wait on a locked file rather than fail
		dialector = sqlite.Open(cfg.Path + "?_foreign_keys=on&_busy_timeout=5000")
	case config.DriverPostgres:
		if cfg.CreateDatabase {
			if err := CreateDatabase(cfg.Postgres, cfg.Environment); err != nil {
				return nil, fmt.Errorf("failed to create database: %w", err)
			}
		}
		dialector = postgres.Open(cfg.Postgres.DSN(cfg.Environment))
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}

	client, err := NewClient(dialector)
	if err != nil {
		return nil, err
	}

	if cfg.Driver == config.DriverPostgres {
		if err := client.configurePool(cfg.Postgres); err != nil {
			client.Close()
			return nil, err
		}
	}

	if !client.IsHealthy(ctx) {
		client.Close()
		return nil, fmt.Errorf("store is not reachable")
	}

	if cfg.AutoMigrate {
		if err := client.AutoMigrate(); err != nil {
			client.Close()
			return nil, fmt.Errorf("migration failed: %w", err)
		}
	}

	return client, nil
}

func (c *Client) configurePool(cfg config.PostgresConfig) error {
	db, err := c.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to retrieve raw DB: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	return nil
}

// AutoMigrate creates the tickers and historic_prices tables and their
// indexes when they are missing. Existing tables, such as those made by the
// symbol import, are never altered.
func (c *Client) AutoMigrate() error {
	migrator := c.DB.Migrator()
	for _, model := range []any{&TickerRecord{}, &PriceRecord{}} {
		if migrator.HasTable(model) {
			continue
		}
		if err := c.DB.AutoMigrate(model); err != nil {
			return fmt.Errorf("auto-migrate price tables: %w", err)
		}
	}
	return nil
}

func (c *Client) IsHealthy(ctx context.Context) bool {
	db, err := c.DB.DB()
	if err != nil {
		return false
	}
	return db.PingContext(ctx) == nil
}

// Close releases the connection. Calling it more than once is safe and
// returns the first result.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		db, err := c.DB.DB()
		if err != nil {
			c.closeErr = fmt.Errorf("failed to retrieve raw DB: %w", err)
			return
		}
		c.closeErr = db.Close()
	})
	return c.closeErr
}
