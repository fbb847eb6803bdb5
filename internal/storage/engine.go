// Package storage defines the payload engine contract and selects a backend.
package storage

import (
	"context"

	"contentdrive/internal/domain"
)

// Engine stores version payloads keyed by version id. Whole-content writes are
// split into ordered chunks starting at index 1 and reads concatenate them.
// Missing payloads are reported with domain.ErrContentNotFound.
type Engine interface {
	SetVersionContent(ctx context.Context, versionID string, content []byte) error
	GetVersionContent(ctx context.Context, versionID string) ([]byte, error)
	// DeleteVersion reports whether anything was removed.
	DeleteVersion(ctx context.Context, versionID string) (bool, error)
	SetBinChunk(ctx context.Context, versionID string, content []byte, chunkIndex int) (string, error)
	GetBinChunk(ctx context.Context, versionID string, chunkIndex int) (*domain.BinChunk, error)
}
