package store

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq" // Postgres driver
)

// OpenPostgres opens a Postgres-backed store from a DSN and migrates the
// schema. The SQL layer is shared with SQLite; only placeholders differ.
func OpenPostgres(dsn string) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w: %v", ErrUnavailable, err)
	}
	return NewPostgresStore(db)
}
