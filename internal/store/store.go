package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/kepco-scraper/api/schemas"
	"github.com/xkilldash9x/kepco-scraper/internal/observability"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNotFound is returned when no snapshot exists for an account.
var ErrNotFound = errors.New("snapshot not found")

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	sqlSchema = `
		CREATE TABLE IF NOT EXISTS billing_snapshots (
			id           UUID PRIMARY KEY,
			portal       TEXT NOT NULL,
			account      TEXT NOT NULL,
			mode         TEXT NOT NULL,
			record_count INTEGER NOT NULL,
			records      JSONB NOT NULL,
			captured_at  TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS billing_snapshots_account_idx
			ON billing_snapshots (portal, account, captured_at DESC);
		CREATE TABLE IF NOT EXISTS billing_records (
			portal      TEXT NOT NULL,
			account     TEXT NOT NULL,
			claim_date  DATE NOT NULL,
			record      JSONB NOT NULL,
			snapshot_id UUID NOT NULL REFERENCES billing_snapshots (id),
			PRIMARY KEY (portal, account, claim_date)
		);`

	sqlInsertSnapshot = `
		INSERT INTO billing_snapshots (id, portal, account, mode, record_count, records, captured_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	sqlUpsertRecord = `
		INSERT INTO billing_records (portal, account, claim_date, record, snapshot_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (portal, account, claim_date) DO UPDATE SET
			record = EXCLUDED.record,
			snapshot_id = EXCLUDED.snapshot_id`

	sqlLatestSnapshot = `
		SELECT id, mode, records, captured_at
		FROM billing_snapshots
		WHERE portal = $1 AND account = $2
		ORDER BY captured_at DESC
		LIMIT 1`
)

// Snapshot is the result of one successful extraction.
type Snapshot struct {
	ID         uuid.UUID
	Portal     string
	Account    string
	Mode       string
	Records    []schemas.BillingRecord
	CapturedAt time.Time
}

// Store persists extraction snapshots in PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{
		pool: pool,
		log:  observability.Component(logger, "store"),
	}, nil
}

// Migrate creates the snapshot tables when they are missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, sqlSchema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// SaveSnapshot writes the snapshot and upserts each record into the per-month
// history in one transaction. A zero ID or CapturedAt is filled in; the
// stored ID is returned.
func (s *Store) SaveSnapshot(ctx context.Context, snap Snapshot) (uuid.UUID, error) {
	if snap.ID == uuid.Nil {
		snap.ID = uuid.New()
	}
	if snap.CapturedAt.IsZero() {
		snap.CapturedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(snap.Records)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to encode records: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if _, err := tx.Exec(ctx, sqlInsertSnapshot,
		snap.ID, snap.Portal, snap.Account, snap.Mode, len(snap.Records), payload, snap.CapturedAt,
	); err != nil {
		return uuid.Nil, fmt.Errorf("failed to insert snapshot: %w", err)
	}

	for _, rec := range snap.Records {
		claim, ok := rec.ClaimKey()
		if !ok {
			continue
		}
		body, err := json.Marshal(rec)
		if err != nil {
			return uuid.Nil, fmt.Errorf("failed to encode record %s: %w", claim, err)
		}
		if _, err := tx.Exec(ctx, sqlUpsertRecord, snap.Portal, snap.Account, claim.Time, body, snap.ID); err != nil {
			return uuid.Nil, fmt.Errorf("failed to upsert record %s: %w", claim, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Debug("Snapshot stored.", zap.Stringer("snapshot_id", snap.ID), zap.String("portal", snap.Portal), zap.Int("records", len(snap.Records)))
	return snap.ID, nil
}

// LatestSnapshot returns the most recent snapshot for an account.
func (s *Store) LatestSnapshot(ctx context.Context, portal, account string) (Snapshot, error) {
	snap := Snapshot{Portal: portal, Account: account}
	var payload []byte
	err := s.pool.QueryRow(ctx, sqlLatestSnapshot, portal, account).
		Scan(&snap.ID, &snap.Mode, &payload, &snap.CapturedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to query snapshot: %w", err)
	}
	if err := json.Unmarshal(payload, &snap.Records); err != nil {
		return Snapshot{}, fmt.Errorf("failed to decode snapshot %s: %w", snap.ID, err)
	}
	return snap, nil
}
