package repository

import (
	"context"
	"fmt"

	"contentdrive/internal/domain"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type TombstoneRepository struct {
	db sqlx.ExtContext
}

func NewTombstoneRepository(db sqlx.ExtContext) *TombstoneRepository {
	return &TombstoneRepository{db: db}
}

func (r *TombstoneRepository) Insert(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query := `
        INSERT INTO version_deleted (id, deleted_on)
        SELECT unnest($1::text[]), CURRENT_TIMESTAMP
        ON CONFLICT (id) DO NOTHING`

	if _, err := r.db.ExecContext(ctx, query, pq.Array(ids)); err != nil {
		return fmt.Errorf("failed to insert tombstones: %w", err)
	}
	return nil
}

// ClaimPending must run inside a transaction; rows locked by another sweeper are skipped.
func (r *TombstoneRepository) ClaimPending(ctx context.Context, limit int) ([]domain.VersionDeleted, error) {
	query := `
        SELECT id, deleted_on
        FROM version_deleted
        ORDER BY deleted_on, id
        LIMIT $1
        FOR UPDATE SKIP LOCKED`

	var pending []domain.VersionDeleted
	if err := sqlx.SelectContext(ctx, r.db, &pending, query, limit); err != nil {
		return nil, fmt.Errorf("failed to claim tombstones: %w", err)
	}
	return pending, nil
}

func (r *TombstoneRepository) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM version_deleted WHERE id = ANY($1)`, pq.Array(ids)); err != nil {
		return fmt.Errorf("failed to delete tombstones: %w", err)
	}
	return nil
}

func (r *TombstoneRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := sqlx.GetContext(ctx, r.db, &n, `SELECT COUNT(*) FROM version_deleted`); err != nil {
		return 0, fmt.Errorf("failed to count tombstones: %w", err)
	}
	return n, nil
}
