package store

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/fredfun/settlement-engine/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate applies the embedded migrations in lexicographic order, recording
// each in schema_migrations so it runs once.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	const createTracker = `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`
	if _, err := s.pool.Exec(ctx, createTracker); err != nil {
		return fmt.Errorf("store: create schema_migrations: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("store: read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		var applied bool
		if err := s.pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE filename = $1)", entry.Name(),
		).Scan(&applied); err != nil {
			return fmt.Errorf("store: check migration %s: %w", entry.Name(), err)
		}
		if applied {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("store: read migration %s: %w", entry.Name(), err)
		}

		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("store: begin migration %s: %w", entry.Name(), err)
		}
		if _, err := tx.Exec(ctx, string(data)); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("store: exec migration %s: %w", entry.Name(), err)
		}
		if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (filename) VALUES ($1)", entry.Name()); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("store: record migration %s: %w", entry.Name(), err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("store: commit migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

func (s *PostgresStore) CreateSettlement(ctx context.Context, r *model.SettlementRecord) error {
	legs, err := json.Marshal(legsOrEmpty(r.Legs))
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO settlements (id, kind, sender, recipient, asset, gross_amount, fee_amount,
		                          status, partial_failure, legs, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8, $9, $10, $11, $12)`,
		r.ID, r.Kind, r.Sender, r.Recipient, r.Asset,
		r.GrossAmount.String(), r.FeeAmount.String(),
		r.Status, r.PartialFailure, legs, r.CreatedAt, r.UpdatedAt,
	)
	return err
}

const selectSettlement = `
	SELECT id, kind, sender, recipient, asset,
	       gross_amount::TEXT, fee_amount::TEXT,
	       status, partial_failure, legs, created_at, updated_at
	FROM settlements`

func (s *PostgresStore) GetSettlement(ctx context.Context, id string) (*model.SettlementRecord, error) {
	rec, err := scanSettlement(s.pool.QueryRow(ctx, selectSettlement+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get settlement %s: %w", id, err)
	}
	return rec, nil
}

func (s *PostgresStore) UpdateSettlement(ctx context.Context, r *model.SettlementRecord) error {
	legs, err := json.Marshal(legsOrEmpty(r.Legs))
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE settlements
		 SET status = $2, partial_failure = $3, legs = $4, updated_at = $5
		 WHERE id = $1`,
		r.ID, r.Status, r.PartialFailure, legs, r.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, r.ID)
	}
	return nil
}

func (s *PostgresStore) ListSettlementsByAccount(ctx context.Context, address string, limit int) ([]model.SettlementRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		selectSettlement+` WHERE sender = $1 OR recipient = $1 ORDER BY created_at DESC LIMIT $2`,
		address, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SettlementRecord
	for rows.Next() {
		rec, err := scanSettlement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func scanSettlement(row pgx.Row) (*model.SettlementRecord, error) {
	var r model.SettlementRecord
	var gross, fee string
	var legs []byte

	if err := row.Scan(&r.ID, &r.Kind, &r.Sender, &r.Recipient, &r.Asset,
		&gross, &fee, &r.Status, &r.PartialFailure, &legs,
		&r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}

	r.GrossAmount, _ = decimal.NewFromString(gross)
	r.FeeAmount, _ = decimal.NewFromString(fee)
	if len(legs) > 0 {
		if err := json.Unmarshal(legs, &r.Legs); err != nil {
			return nil, fmt.Errorf("decode legs of %s: %w", r.ID, err)
		}
	}
	return &r, nil
}

func legsOrEmpty(l []model.Leg) []model.Leg {
	if l == nil {
		return []model.Leg{}
	}
	return l
}
