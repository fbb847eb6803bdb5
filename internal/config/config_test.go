package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestNewConfig_FileWithDefaults(t *testing.T) {
	path := writeConfig(t, `
Database:
  Host: db
  Port: "5432"
  User: drive
  Password: secret
  Name: drive
Storage:
  Type: s3
  S3:
    bucket: payloads
    region: eu-west-1
Cleanup:
  Interval: 10m
`)

	cfg, err := NewConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "2525", cfg.Server.Port)
	assert.Equal(t, int64(512<<20), cfg.Server.MaxBodyBytes)
	assert.Equal(t, MetadataPostgres, cfg.Metadata.Type)
	assert.Equal(t, StorageS3, cfg.Storage.Type)
	assert.Equal(t, "payloads", cfg.Storage.S3["bucket"])
	assert.Equal(t, 10*time.Minute, cfg.Cleanup.Interval)
	assert.Equal(t, 100, cfg.Cleanup.CycleLength)
	assert.Equal(t, "disable", cfg.Database.SSLMode)
}

func TestNewConfig_EnvOnlyInMemory(t *testing.T) {
	t.Setenv("METADATA_TYPE", "memory")
	t.Setenv("STORAGE_TYPE", "memory")
	t.Setenv("HTTP_PORT", "8088")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("HTTP_MAX_BODY_BYTES", "1024")

	cfg, err := NewConfig("")
	require.NoError(t, err)
	assert.False(t, cfg.NeedsDatabase())
	assert.Equal(t, "8088", cfg.Server.Port)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, int64(1024), cfg.Server.MaxBodyBytes)
}

func TestNewConfig_FilesystemRootFromEnv(t *testing.T) {
	t.Setenv("METADATA_TYPE", "memory")
	t.Setenv("STORAGE_FS_ROOT", "/srv/payloads")

	cfg, err := NewConfig("")
	require.NoError(t, err)
	assert.Equal(t, StorageFilesystem, cfg.Storage.Type)
	assert.Equal(t, "/srv/payloads", cfg.Storage.Filesystem["root"])
}

func TestNewConfig_IncompleteDatabase(t *testing.T) {
	t.Setenv("METADATA_TYPE", "postgres")
	t.Setenv("DATABASE_HOST", "db")

	_, err := NewConfig("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database configuration is incomplete")
}

func TestNewConfig_RejectsUnknownStorage(t *testing.T) {
	t.Setenv("METADATA_TYPE", "memory")
	t.Setenv("STORAGE_TYPE", "tape")

	_, err := NewConfig("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oneof")
}

func TestDatabaseConfig_URL(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: "5432", User: "drive", Password: "p@ss", Name: "drive", SSLMode: "disable"}
	assert.Equal(t, "postgres://drive:p%40ss@db:5432/drive?sslmode=disable", d.URL())
	assert.Equal(t, "host=db port=5432 user=drive password=p@ss dbname=drive sslmode=disable", d.GetDSN())
}
