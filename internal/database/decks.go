// internal/database/decks.go
package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/pickup/internal/cache"
)

// Schema creates the tables the historian writes to.
const Schema = `
CREATE TABLE IF NOT EXISTS player_sessions (
	id          UUID PRIMARY KEY,
	dealer      TEXT NOT NULL,
	first_seen  TIMESTAMPTZ NOT NULL,
	last_seen   TIMESTAMPTZ NOT NULL,
	deck_count  INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS deck_snapshots (
	id          UUID PRIMARY KEY,
	session_id  UUID NOT NULL REFERENCES player_sessions(id),
	sequence    INTEGER NOT NULL,
	card_count  INTEGER NOT NULL,
	cards       JSONB NOT NULL,
	received_at TIMESTAMPTZ NOT NULL,
	UNIQUE (session_id, sequence)
);
`

// SnapshotStore persists journal records in Postgres.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

// NewSnapshotStore wraps an open pool.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

// Migrate creates the tables if they do not exist yet.
func (s *SnapshotStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate deck schema: %w", err)
	}
	return nil
}

// SaveSnapshots writes all records in one transaction. Re-delivered records
// (same session and sequence) are ignored.
func (s *SnapshotStore) SaveSnapshots(ctx context.Context, recs []cache.DeckRecord) error {
	if len(recs) == 0 {
		return nil
	}
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, rec := range recs {
			if err := insertSnapshotTx(ctx, tx, rec); err != nil {
				return fmt.Errorf("insertSnapshotTx: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("tx save deck snapshots: %w", err)
	}
	return nil
}

// insertSnapshotTx upserts the session row, then inserts the snapshot.
func insertSnapshotTx(ctx context.Context, tx pgx.Tx, rec cache.DeckRecord) error {
	at := time.UnixMilli(rec.ReceivedAt).UTC()

	upsertSessionQ := `
		INSERT INTO player_sessions (id, dealer, first_seen, last_seen)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (id)
		DO UPDATE SET last_seen = GREATEST(player_sessions.last_seen, EXCLUDED.last_seen)
	`
	if _, err := tx.Exec(ctx, upsertSessionQ, rec.SessionID, rec.Dealer, at); err != nil {
		return err
	}

	cards, err := json.Marshal(rec.Cards)
	if err != nil {
		return err
	}
	insertQ := `
		INSERT INTO deck_snapshots (id, session_id, sequence, card_count, cards, received_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id, sequence) DO NOTHING
	`
	tag, err := tx.Exec(ctx, insertQ, rec.ID, rec.SessionID, rec.Sequence, len(rec.Cards), cards, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return nil
	}

	_, err = tx.Exec(ctx, `UPDATE player_sessions SET deck_count = deck_count + 1 WHERE id = $1`, rec.SessionID)
	return err
}

// LatestSnapshot returns the newest archived record for a session.
func (s *SnapshotStore) LatestSnapshot(ctx context.Context, sessionID uuid.UUID) (cache.DeckRecord, error) {
	q := `
		SELECT d.id, d.session_id, p.dealer, d.sequence, d.cards, d.received_at
		FROM deck_snapshots d
		JOIN player_sessions p ON p.id = d.session_id
		WHERE d.session_id = $1
		ORDER BY d.sequence DESC
		LIMIT 1
	`
	var (
		rec   cache.DeckRecord
		cards []byte
		at    time.Time
	)
	err := s.pool.QueryRow(ctx, q, sessionID).Scan(&rec.ID, &rec.SessionID, &rec.Dealer, &rec.Sequence, &cards, &at)
	if err != nil {
		return cache.DeckRecord{}, fmt.Errorf("latest snapshot: %w", err)
	}
	if err := json.Unmarshal(cards, &rec.Cards); err != nil {
		return cache.DeckRecord{}, fmt.Errorf("latest snapshot cards: %w", err)
	}
	rec.ReceivedAt = at.UnixMilli()
	return rec, nil
}
