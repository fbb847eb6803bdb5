package storage

import (
	"context"
	"fmt"

	"contentdrive/internal/config"
	"contentdrive/internal/storage/database"
	"contentdrive/internal/storage/fs"
	"contentdrive/internal/storage/memory"
	"contentdrive/internal/storage/s3"
	"github.com/jmoiron/sqlx"
	"github.com/mitchellh/mapstructure"
)

// NewEngine builds the backend named by cfg.Type. db is only required for the
// database backend.
func NewEngine(ctx context.Context, cfg config.StorageConfig, db *sqlx.DB) (Engine, error) {
	switch cfg.Type {
	case config.StorageFilesystem:
		return newFilesystemEngine(cfg)
	case config.StorageDatabase:
		e, err := database.New(db, cfg.ChunkSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create database storage: %w", err)
		}
		return e, nil
	case config.StorageS3:
		return newS3Engine(ctx, cfg)
	case config.StorageMemory:
		return memory.New(cfg.ChunkSize), nil
	default:
		return nil, fmt.Errorf("unknown storage type: %q", cfg.Type)
	}
}

func newFilesystemEngine(cfg config.StorageConfig) (Engine, error) {
	type filesystemOptions struct {
		Root string `mapstructure:"root"`
	}

	var opts filesystemOptions
	if err := decodeOptions(cfg.Filesystem, &opts); err != nil {
		return nil, fmt.Errorf("failed to decode filesystem storage config: %w", err)
	}
	if opts.Root == "" {
		return nil, fmt.Errorf("filesystem storage: root is required")
	}

	e, err := fs.New(opts.Root, cfg.ChunkSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem storage: %w", err)
	}
	return e, nil
}

func newS3Engine(ctx context.Context, cfg config.StorageConfig) (Engine, error) {
	var opts s3.Config
	if err := decodeOptions(cfg.S3, &opts); err != nil {
		return nil, fmt.Errorf("failed to decode s3 storage config: %w", err)
	}

	e, err := s3.NewEngine(ctx, &opts, cfg.ChunkSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 storage: %w", err)
	}
	return e, nil
}

// decodeOptions accepts string values for typed fields since env overrides arrive as strings.
func decodeOptions(input map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}
