package database

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Connect opens the Postgres pool shared by the economy, outbox and
// archive layers. Wallet transactions hold row locks, so the pool stays
// small and connections are recycled.
func Connect(databaseURL string) (*sqlx.DB, error) {
	// sqlx.Connect pings before returning.
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	return db, nil
}
