// Package database stores version payloads as bytea rows in the version_bins table.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"contentdrive/internal/domain"
	"contentdrive/internal/storage/chunk"
	"github.com/jmoiron/sqlx"
)

type Engine struct {
	db        *sqlx.DB
	chunkSize int
}

func New(db *sqlx.DB, chunkSize int) (*Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("database storage requires a database connection")
	}
	if chunkSize <= 0 {
		chunkSize = chunk.DefaultSize
	}
	return &Engine{db: db, chunkSize: chunkSize}, nil
}

// SetVersionContent replaces all chunks of the version in one transaction.
func (e *Engine) SetVersionContent(ctx context.Context, versionID string, content []byte) error {
	tx, err := e.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM version_bins WHERE version_id = $1`, versionID); err != nil {
		return fmt.Errorf("failed to clear version bins: %w", err)
	}
	for i, c := range chunk.Split(content, e.chunkSize) {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO version_bins (version_id, chunk_index, content) VALUES ($1, $2, $3)`,
			versionID, i+1, c)
		if err != nil {
			return fmt.Errorf("failed to insert chunk %d: %w", i+1, err)
		}
	}
	return tx.Commit()
}

func (e *Engine) GetVersionContent(ctx context.Context, versionID string) ([]byte, error) {
	var chunks [][]byte
	query := `SELECT content FROM version_bins WHERE version_id = $1 ORDER BY chunk_index`
	if err := e.db.SelectContext(ctx, &chunks, query, versionID); err != nil {
		return nil, fmt.Errorf("failed to read version bins: %w", err)
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("version %s: %w", versionID, domain.ErrContentNotFound)
	}
	var size int
	for _, c := range chunks {
		size += len(c)
	}
	content := make([]byte, 0, size)
	for _, c := range chunks {
		content = append(content, c...)
	}
	return content, nil
}

func (e *Engine) DeleteVersion(ctx context.Context, versionID string) (bool, error) {
	res, err := e.db.ExecContext(ctx, `DELETE FROM version_bins WHERE version_id = $1`, versionID)
	if err != nil {
		return false, fmt.Errorf("failed to delete version bins: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

func (e *Engine) SetBinChunk(ctx context.Context, versionID string, content []byte, chunkIndex int) (string, error) {
	if !chunk.ValidIndex(chunkIndex) {
		return "", domain.ErrInvalidChunk
	}
	query := `
        INSERT INTO version_bins (version_id, chunk_index, content)
        VALUES ($1, $2, $3)
        ON CONFLICT (version_id, chunk_index) DO UPDATE SET content = EXCLUDED.content`

	if _, err := e.db.ExecContext(ctx, query, versionID, chunkIndex, content); err != nil {
		return "", fmt.Errorf("failed to write chunk %d: %w", chunkIndex, err)
	}
	return domain.ChunkID(versionID, chunkIndex), nil
}

func (e *Engine) GetBinChunk(ctx context.Context, versionID string, chunkIndex int) (*domain.BinChunk, error) {
	var content []byte
	query := `SELECT content FROM version_bins WHERE version_id = $1 AND chunk_index = $2`
	if err := e.db.GetContext(ctx, &content, query, versionID, chunkIndex); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("chunk %d of version %s: %w", chunkIndex, versionID, domain.ErrContentNotFound)
		}
		return nil, fmt.Errorf("failed to read chunk %d: %w", chunkIndex, err)
	}
	return &domain.BinChunk{
		ID:         domain.ChunkID(versionID, chunkIndex),
		VersionID:  versionID,
		ChunkIndex: chunkIndex,
		Content:    content,
	}, nil
}
