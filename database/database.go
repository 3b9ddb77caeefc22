package database

import (
	"database/sql"
	"fmt"
	"net/url"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"campus-courier/config"
	"campus-courier/services"
	"campus-courier/utilities"
)

var (
	_ services.Store = (*SQLStore)(nil)
	_ services.Store = (*MemoryStore)(nil)
)

// ConnectPostgres opens and pings the PostgreSQL database described by cfg.
func ConnectPostgres(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.PostgresDSN())
	if err != nil {
		utilities.LogError(err, "Failed to open PostgreSQL connection")
		return nil, err
	}

	if err = db.Ping(); err != nil {
		utilities.LogError(err, "Failed to reach PostgreSQL")
		db.Close()
		return nil, err
	}

	utilities.LogInfo("Connected to PostgreSQL at %s:%s/%s", cfg.Host, cfg.Port, cfg.Name)
	return db, nil
}

// ConnectSQLite opens a SQLite file. Transactions start with BEGIN IMMEDIATE so a
// writer holds the database lock from its first read, which gives the same
// read-then-write exclusivity as SELECT ... FOR UPDATE.
func ConnectSQLite(cfg config.DatabaseConfig) (*sql.DB, error) {
	params := url.Values{}
	params.Set("_txlock", "immediate")
	params.Set("_busy_timeout", fmt.Sprint(cfg.LockTimeout.Milliseconds()))
	params.Set("_foreign_keys", "on")
	params.Set("_journal_mode", "WAL")
	dsn := fmt.Sprintf("file:%s?%s", cfg.SQLitePath, params.Encode())

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		utilities.LogError(err, "Failed to open SQLite database")
		return nil, err
	}
	if err = db.Ping(); err != nil {
		utilities.LogError(err, "Failed to reach SQLite database")
		db.Close()
		return nil, err
	}

	utilities.LogInfo("Opened SQLite database %s", cfg.SQLitePath)
	return db, nil
}

// Open builds the Store selected by cfg.Driver and makes sure the schema exists.
// The returned close function releases the underlying connection pool.
func Open(cfg config.DatabaseConfig) (services.Store, func() error, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		utilities.LogInfo("Using in-memory store; data is lost on restart")
		return NewMemoryStore(cfg.LockTimeout), func() error { return nil }, nil
	case config.DriverSQLite:
		db, err := ConnectSQLite(cfg)
		if err != nil {
			return nil, nil, err
		}
		store := NewSQLStore(db, SQLite, cfg.LockTimeout)
		if err := store.Migrate(); err != nil {
			db.Close()
			return nil, nil, err
		}
		return store, db.Close, nil
	case config.DriverPostgres:
		db, err := ConnectPostgres(cfg)
		if err != nil {
			return nil, nil, err
		}
		store := NewSQLStore(db, Postgres, cfg.LockTimeout)
		if err := store.Migrate(); err != nil {
			db.Close()
			return nil, nil, err
		}
		return store, db.Close, nil
	}
	return nil, nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
}
