package session

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	// Drivers for Open.
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Open creates a store from a spec string:
//
//	memory
//	sqlite:<path>          (":memory:" for an in-memory database)
//	postgres:<dsn>
//
// SQL stores create their table if needed and close the database on Close.
func Open(ctx context.Context, spec string, opts ...SQLStoreOption) (Store, error) {
	kind, arg, _ := strings.Cut(spec, ":")
	switch strings.ToLower(kind) {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		if arg == "" {
			return nil, fmt.Errorf("session: sqlite store needs a path")
		}
		return openSQL(ctx, "sqlite", arg, DialectSQLite, opts)
	case "postgres", "postgresql":
		if arg == "" {
			return nil, fmt.Errorf("session: postgres store needs a DSN")
		}
		return openSQL(ctx, "postgres", arg, DialectPostgreSQL, opts)
	}
	return nil, fmt.Errorf("session: unknown store %q", kind)
}

func openSQL(ctx context.Context, driver, dsn string, dialect SQLDialect, opts []SQLStoreOption) (*SQLStore, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("session: open %s: %w", driver, err)
	}
	if dialect == DialectSQLite {
		// One connection keeps ":memory:" databases shared and avoids
		// SQLITE_BUSY between writers.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("session: connect %s: %w", driver, err)
	}

	opts = append([]SQLStoreOption{WithSQLDialect(dialect)}, opts...)
	store, err := NewSQLStore(db, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	store.ownsDB = true
	if err := store.CreateTable(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}
