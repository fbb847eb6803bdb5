// Package storagetest is a contract test suite shared by storage backends.
package storagetest

import (
	"bytes"
	"context"
	"testing"

	"contentdrive/internal/domain"
	"contentdrive/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Suite runs the Engine contract against a fresh engine per subtest. Engines
// must be built with a chunk size of ChunkSize bytes.
type Suite struct {
	NewEngine func(t *testing.T) storage.Engine
}

const ChunkSize = 4

func (s *Suite) Run(t *testing.T) {
	t.Run("RoundTrip", s.testRoundTrip)
	t.Run("Overwrite", s.testOverwrite)
	t.Run("EmptyContent", s.testEmptyContent)
	t.Run("ChunkLayout", s.testChunkLayout)
	t.Run("ChunksAssembleInIndexOrder", s.testChunksAssemble)
	t.Run("MissingContent", s.testMissing)
	t.Run("DeleteIsIdempotent", s.testDelete)
}

func (s *Suite) testRoundTrip(t *testing.T) {
	e := s.NewEngine(t)
	ctx := context.Background()
	payload := []byte("hello, chunked world")

	require.NoError(t, e.SetVersionContent(ctx, "v1", payload))
	got, err := e.GetVersionContent(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func (s *Suite) testOverwrite(t *testing.T) {
	e := s.NewEngine(t)
	ctx := context.Background()

	require.NoError(t, e.SetVersionContent(ctx, "v1", []byte("a much longer first payload")))
	require.NoError(t, e.SetVersionContent(ctx, "v1", []byte("short")))

	got, err := e.GetVersionContent(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, []byte("short"), got)
}

func (s *Suite) testEmptyContent(t *testing.T) {
	e := s.NewEngine(t)
	ctx := context.Background()

	require.NoError(t, e.SetVersionContent(ctx, "v1", []byte{}))
	got, err := e.GetVersionContent(ctx, "v1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func (s *Suite) testChunkLayout(t *testing.T) {
	e := s.NewEngine(t)
	ctx := context.Background()

	require.NoError(t, e.SetVersionContent(ctx, "v1", []byte("abcdefghij")))

	for idx, want := range map[int]string{1: "abcd", 2: "efgh", 3: "ij"} {
		c, err := e.GetBinChunk(ctx, "v1", idx)
		require.NoError(t, err)
		assert.Equal(t, want, string(c.Content))
		assert.Equal(t, idx, c.ChunkIndex)
		assert.Equal(t, "v1", c.VersionID)
	}
	_, err := e.GetBinChunk(ctx, "v1", 4)
	require.ErrorIs(t, err, domain.ErrContentNotFound)
}

func (s *Suite) testChunksAssemble(t *testing.T) {
	e := s.NewEngine(t)
	ctx := context.Background()

	id, err := e.SetBinChunk(ctx, "v1", []byte("world"), 2)
	require.NoError(t, err)
	assert.Equal(t, domain.ChunkID("v1", 2), id)
	_, err = e.SetBinChunk(ctx, "v1", []byte("hello "), 1)
	require.NoError(t, err)

	got, err := e.GetVersionContent(ctx, "v1")
	require.NoError(t, err)
	assert.True(t, bytes.Equal([]byte("hello world"), got), "got %q", got)
}

func (s *Suite) testMissing(t *testing.T) {
	e := s.NewEngine(t)
	ctx := context.Background()

	_, err := e.GetVersionContent(ctx, "nope")
	require.ErrorIs(t, err, domain.ErrContentNotFound)
	_, err = e.GetBinChunk(ctx, "nope", 1)
	require.ErrorIs(t, err, domain.ErrContentNotFound)
}

func (s *Suite) testDelete(t *testing.T) {
	e := s.NewEngine(t)
	ctx := context.Background()

	require.NoError(t, e.SetVersionContent(ctx, "v1", []byte("payload")))

	deleted, err := e.DeleteVersion(ctx, "v1")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = e.DeleteVersion(ctx, "v1")
	require.NoError(t, err)
	assert.False(t, deleted)

	_, err = e.GetVersionContent(ctx, "v1")
	require.ErrorIs(t, err, domain.ErrContentNotFound)
}
