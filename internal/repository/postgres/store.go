// Package postgres is the PostgreSQL implementation of the engagement
// store: campaigns, recipients and the sync run ledger.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Store bundles the repositories the syncer and the API need.
type Store struct {
	*CampaignRepo
	*RecipientRepo
	*SyncRunRepo
	db *sql.DB
}

// NewStore wires every repository onto db.
func NewStore(db *sql.DB, batchSize int) *Store {
	return &Store{
		CampaignRepo:  NewCampaignRepo(db),
		RecipientRepo: NewRecipientRepo(db, batchSize),
		SyncRunRepo:   NewSyncRunRepo(db),
		db:            db,
	}
}

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// DB exposes the underlying handle, e.g. for advisory locks.
func (s *Store) DB() *sql.DB { return s.db }

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
