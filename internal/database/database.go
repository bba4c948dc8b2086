// Package database manages the optional MySQL state database that holds the
// run ledger and the job lock.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver

	"github.com/dbsmedya/goharvest/internal/config"
)

// Manager owns the state database connection.
type Manager struct {
	State  *sql.DB
	config *config.StateConfig
}

// NewManager creates a new database manager from the state config section.
func NewManager(cfg *config.StateConfig) *Manager {
	return &Manager{
		config: cfg,
	}
}

// Enabled reports whether a state database is configured.
func (m *Manager) Enabled() bool {
	return m.config != nil && m.config.Enabled
}

// Connect opens the state database. It is a no-op when state is disabled.
func (m *Manager) Connect(ctx context.Context) error {
	if !m.Enabled() {
		return nil
	}

	db, err := m.connectWithRetry(ctx, m.config)
	if err != nil {
		return fmt.Errorf("failed to connect to state database: %w", err)
	}
	m.State = db
	return nil
}

// connectWithRetry attempts to connect with exponential backoff.
func (m *Manager) connectWithRetry(ctx context.Context, cfg *config.StateConfig) (*sql.DB, error) {
	var db *sql.DB
	var err error

	maxRetries := 3
	backoff := time.Second

	for i := 0; i < maxRetries; i++ {
		db, err = open(cfg)
		if err == nil {
			if pingErr := db.PingContext(ctx); pingErr == nil {
				return db, nil
			} else {
				db.Close()
				err = pingErr
			}
		}

		if i < maxRetries-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
				backoff *= 2
			}
		}
	}

	return nil, fmt.Errorf("failed after %d retries: %w", maxRetries, err)
}

func open(cfg *config.StateConfig) (*sql.DB, error) {
	db, err := sql.Open("mysql", BuildDSN(cfg))
	if err != nil {
		return nil, err
	}

	if cfg.MaxConnections > 0 {
		db.SetMaxOpenConns(cfg.MaxConnections)
	}
	if cfg.MaxIdleConnections > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConnections)
	}
	db.SetConnMaxLifetime(10 * time.Minute)

	return db, nil
}

// BuildDSN constructs a MySQL DSN from configuration.
func BuildDSN(cfg *config.StateConfig) string {
	// Format: user:password@tcp(host:port)/database?params
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Database,
	)

	params := "?parseTime=true&loc=Local"
	switch cfg.TLS {
	case "disable":
		params += "&tls=false"
	case "required":
		params += "&tls=true"
	case "preferred", "":
		params += "&tls=preferred"
	}

	return dsn + params
}

// Close closes the state connection if open.
func (m *Manager) Close() error {
	if m.State == nil {
		return nil
	}
	if err := m.State.Close(); err != nil {
		return fmt.Errorf("state close: %w", err)
	}
	m.State = nil
	return nil
}

// Ping verifies the state connection is alive.
func (m *Manager) Ping(ctx context.Context) error {
	if m.State == nil {
		return nil
	}
	if err := m.State.PingContext(ctx); err != nil {
		return fmt.Errorf("state ping failed: %w", err)
	}
	return nil
}
