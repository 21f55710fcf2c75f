// Package db opens the Postgres pool backing the listing and account stores.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/exambook/apiserver/config"
)

const (
	driverName       = "postgres"
	pingTimeout      = 15 * time.Second
	pingInterval     = 500 * time.Millisecond
	connMaxIdleTime  = 2 * time.Minute
	connMaxLifetime  = 30 * time.Minute
	fallbackMaxConns = 25
)

// DSN returns cfg.URL when set, otherwise a lib/pq URL built from the
// discrete connection fields.
func DSN(cfg config.DatabaseConfig) string {
	if dsn := strings.TrimSpace(cfg.URL); dsn != "" {
		return dsn
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		User:   url.UserPassword(cfg.User, cfg.Password),
		Path:   cfg.DBName,
	}
	q := u.Query()
	if cfg.UseSSL {
		q.Set("sslmode", "require")
	} else {
		q.Set("sslmode", "disable")
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Open returns a pooled handle once the server answers a ping. Refused
// connections are retried until pingTimeout so the API can start alongside
// its database.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open(driverName, DSN(cfg))
	if err != nil {
		return nil, err
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = fallbackMaxConns
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(max(1, maxConns/5))
	db.SetConnMaxIdleTime(connMaxIdleTime)
	db.SetConnMaxLifetime(connMaxLifetime)

	if err := waitForPing(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

func waitForPing(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		err := db.PingContext(ctx)
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return err
		case <-ticker.C:
		}
	}
}
