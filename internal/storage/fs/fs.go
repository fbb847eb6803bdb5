// Package fs stores version payloads on the local filesystem: one directory
// per version, one file per chunk.
package fs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"contentdrive/internal/domain"
	"contentdrive/internal/storage/chunk"
)

const chunkExt = ".chunk"

type Engine struct {
	root      string
	chunkSize int
}

func New(root string, chunkSize int) (*Engine, error) {
	if root == "" {
		return nil, fmt.Errorf("filesystem storage root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root %s: %w", root, err)
	}
	if chunkSize <= 0 {
		chunkSize = chunk.DefaultSize
	}
	return &Engine{root: root, chunkSize: chunkSize}, nil
}

func (e *Engine) versionDir(versionID string) (string, error) {
	if versionID == "" || versionID == "." || versionID == ".." || strings.ContainsAny(versionID, `/\`) {
		return "", fmt.Errorf("invalid version id %q", versionID)
	}
	return filepath.Join(e.root, versionID), nil
}

func chunkPath(dir string, index int) string {
	return filepath.Join(dir, chunk.Name(index)+chunkExt)
}

func (e *Engine) SetVersionContent(ctx context.Context, versionID string, content []byte) error {
	dir, err := e.versionDir(versionID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to clear version %s: %w", versionID, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create version dir: %w", err)
	}
	for i, c := range chunk.Split(content, e.chunkSize) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := writeFile(chunkPath(dir, i+1), c); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) GetVersionContent(ctx context.Context, versionID string) ([]byte, error) {
	dir, err := e.versionDir(versionID)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("version %s: %w", versionID, domain.ErrContentNotFound)
		}
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}

	var indexes []int
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != chunkExt {
			continue
		}
		if idx, ok := chunk.ParseName(entry.Name()); ok {
			indexes = append(indexes, idx)
		}
	}
	if len(indexes) == 0 {
		return nil, fmt.Errorf("version %s: %w", versionID, domain.ErrContentNotFound)
	}
	sort.Ints(indexes)

	var buf bytes.Buffer
	for _, idx := range indexes {
		data, err := os.ReadFile(chunkPath(dir, idx))
		if err != nil {
			return nil, fmt.Errorf("failed to read chunk %d: %w", idx, err)
		}
		buf.Write(data)
	}
	return buf.Bytes(), nil
}

func (e *Engine) DeleteVersion(ctx context.Context, versionID string) (bool, error) {
	dir, err := e.versionDir(versionID)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat version %s: %w", versionID, err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, fmt.Errorf("failed to delete version %s: %w", versionID, err)
	}
	return true, nil
}

func (e *Engine) SetBinChunk(ctx context.Context, versionID string, content []byte, chunkIndex int) (string, error) {
	if !chunk.ValidIndex(chunkIndex) {
		return "", domain.ErrInvalidChunk
	}
	dir, err := e.versionDir(versionID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create version dir: %w", err)
	}
	if err := writeFile(chunkPath(dir, chunkIndex), content); err != nil {
		return "", err
	}
	return domain.ChunkID(versionID, chunkIndex), nil
}

func (e *Engine) GetBinChunk(ctx context.Context, versionID string, chunkIndex int) (*domain.BinChunk, error) {
	dir, err := e.versionDir(versionID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(chunkPath(dir, chunkIndex))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("chunk %d of version %s: %w", chunkIndex, versionID, domain.ErrContentNotFound)
		}
		return nil, fmt.Errorf("failed to read chunk %d: %w", chunkIndex, err)
	}
	return &domain.BinChunk{
		ID:         domain.ChunkID(versionID, chunkIndex),
		VersionID:  versionID,
		ChunkIndex: chunkIndex,
		Content:    data,
	}, nil
}

// writeFile writes through a temp file in the same directory and renames it
// into place, so readers never see a half-written chunk.
func writeFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp chunk: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write chunk: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close chunk: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to commit chunk: %w", err)
	}
	return nil
}
