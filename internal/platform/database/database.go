// Package database opens the SQL connection pool behind the SQL quota store.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"nova/internal/platform/config"
	sqlstore "nova/internal/ratelimit/store/sql"
)

// Backend describes how a store backend name maps onto a database/sql
// driver and a statement dialect.
type Backend struct {
	Driver  string
	Dialect sqlstore.Dialect
}

var backends = map[string]Backend{
	config.BackendPostgres: {Driver: "postgres", Dialect: sqlstore.Postgres},
	config.BackendPGX:      {Driver: "pgx", Dialect: sqlstore.Postgres},
	config.BackendMySQL:    {Driver: "mysql", Dialect: sqlstore.MySQL},
	config.BackendSQLite:   {Driver: "sqlite", Dialect: sqlstore.SQLite},
}

// Lookup reports the driver and dialect for a store backend name.
func Lookup(backend string) (Backend, bool) {
	b, ok := backends[backend]
	return b, ok
}

// Open opens and pings a pool for backend.
func Open(ctx context.Context, backend string, cfg config.SQLConfig) (*sql.DB, Backend, error) {
	b, ok := Lookup(backend)
	if !ok {
		return nil, Backend{}, fmt.Errorf("backend %q is not a SQL backend", backend)
	}

	db, err := sql.Open(b.Driver, cfg.DSN)
	if err != nil {
		return nil, Backend{}, fmt.Errorf("open %s: %w", b.Driver, err)
	}

	if b.Dialect == sqlstore.SQLite {
		// SQLite serializes writers; one connection avoids SQLITE_BUSY under load.
		db.SetMaxOpenConns(1)
	} else {
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.MaxIdleConns)
		}
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, Backend{}, fmt.Errorf("ping %s: %w", b.Driver, err)
	}
	return db, b, nil
}
