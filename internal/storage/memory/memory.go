// Package memory keeps version payloads in process memory.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"

	"contentdrive/internal/domain"
	"contentdrive/internal/storage/chunk"
)

type Engine struct {
	mu        sync.RWMutex
	chunkSize int
	versions  map[string]map[int][]byte
}

func New(chunkSize int) *Engine {
	if chunkSize <= 0 {
		chunkSize = chunk.DefaultSize
	}
	return &Engine{chunkSize: chunkSize, versions: make(map[string]map[int][]byte)}
}

func (e *Engine) SetVersionContent(ctx context.Context, versionID string, content []byte) error {
	chunks := make(map[int][]byte)
	for i, c := range chunk.Split(content, e.chunkSize) {
		chunks[i+1] = bytes.Clone(c)
	}
	e.mu.Lock()
	e.versions[versionID] = chunks
	e.mu.Unlock()
	return nil
}

func (e *Engine) GetVersionContent(ctx context.Context, versionID string) ([]byte, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	chunks, ok := e.versions[versionID]
	if !ok || len(chunks) == 0 {
		return nil, fmt.Errorf("version %s: %w", versionID, domain.ErrContentNotFound)
	}
	indexes := make([]int, 0, len(chunks))
	for idx := range chunks {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	var buf bytes.Buffer
	for _, idx := range indexes {
		buf.Write(chunks[idx])
	}
	return buf.Bytes(), nil
}

func (e *Engine) DeleteVersion(ctx context.Context, versionID string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, ok := e.versions[versionID]
	delete(e.versions, versionID)
	return ok, nil
}

func (e *Engine) SetBinChunk(ctx context.Context, versionID string, content []byte, chunkIndex int) (string, error) {
	if !chunk.ValidIndex(chunkIndex) {
		return "", domain.ErrInvalidChunk
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	chunks, ok := e.versions[versionID]
	if !ok {
		chunks = make(map[int][]byte)
		e.versions[versionID] = chunks
	}
	chunks[chunkIndex] = bytes.Clone(content)
	return domain.ChunkID(versionID, chunkIndex), nil
}

func (e *Engine) GetBinChunk(ctx context.Context, versionID string, chunkIndex int) (*domain.BinChunk, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	c, ok := e.versions[versionID][chunkIndex]
	if !ok {
		return nil, fmt.Errorf("chunk %d of version %s: %w", chunkIndex, versionID, domain.ErrContentNotFound)
	}
	return &domain.BinChunk{
		ID:         domain.ChunkID(versionID, chunkIndex),
		VersionID:  versionID,
		ChunkIndex: chunkIndex,
		Content:    bytes.Clone(c),
	}, nil
}
