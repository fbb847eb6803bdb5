package storage

import (
	"context"
	"testing"

	"contentdrive/internal/config"
	"contentdrive/internal/storage/fs"
	"contentdrive/internal/storage/memory"
	"contentdrive/internal/storage/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEngine_Filesystem(t *testing.T) {
	e, err := NewEngine(context.Background(), config.StorageConfig{
		Type:       config.StorageFilesystem,
		ChunkSize:  16,
		Filesystem: map[string]any{"root": t.TempDir()},
	}, nil)
	require.NoError(t, err)
	assert.IsType(t, &fs.Engine{}, e)
}

func TestNewEngine_FilesystemRequiresRoot(t *testing.T) {
	_, err := NewEngine(context.Background(), config.StorageConfig{Type: config.StorageFilesystem}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "root is required")
}

func TestNewEngine_Memory(t *testing.T) {
	e, err := NewEngine(context.Background(), config.StorageConfig{Type: config.StorageMemory}, nil)
	require.NoError(t, err)
	assert.IsType(t, &memory.Engine{}, e)
}

func TestNewEngine_DatabaseRequiresConnection(t *testing.T) {
	_, err := NewEngine(context.Background(), config.StorageConfig{Type: config.StorageDatabase}, nil)
	require.Error(t, err)
}

func TestNewEngine_Unknown(t *testing.T) {
	_, err := NewEngine(context.Background(), config.StorageConfig{Type: "tape"}, nil)
	require.Error(t, err)
}

func TestDecodeOptions_WeakTyping(t *testing.T) {
	var opts s3.Config
	err := decodeOptions(map[string]any{
		"bucket":         "payloads",
		"use_path_style": "true",
	}, &opts)
	require.NoError(t, err)
	assert.Equal(t, "payloads", opts.Bucket)
	assert.True(t, opts.UsePathStyle)
}
