package database

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"contentdrive/internal/domain"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngineWithMock(t *testing.T, chunkSize int) (*Engine, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	e, err := New(sqlx.NewDb(db, "postgres"), chunkSize)
	require.NoError(t, err)
	return e, mock
}

func TestSetVersionContent_ReplacesChunksInTx(t *testing.T) {
	e, mock := newEngineWithMock(t, 3)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM version_bins WHERE version_id = $1`)).
		WithArgs("v1").
		WillReturnResult(sqlmock.NewResult(0, 5))
	mock.ExpectExec(`INSERT INTO version_bins`).
		WithArgs("v1", 1, []byte("abc")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO version_bins`).
		WithArgs("v1", 2, []byte("de")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, e.SetVersionContent(context.Background(), "v1", []byte("abcde")))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetVersionContent_InsertFailureRollsBack(t *testing.T) {
	e, mock := newEngineWithMock(t, 3)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM version_bins`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO version_bins`).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := e.SetVersionContent(context.Background(), "v1", []byte("abc"))
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetVersionContent_ConcatenatesInOrder(t *testing.T) {
	e, mock := newEngineWithMock(t, 3)

	mock.ExpectQuery(`SELECT content FROM version_bins WHERE version_id = \$1 ORDER BY chunk_index`).
		WithArgs("v1").
		WillReturnRows(sqlmock.NewRows([]string{"content"}).
			AddRow([]byte("abc")).
			AddRow([]byte("de")))

	got, err := e.GetVersionContent(context.Background(), "v1")
	require.NoError(t, err)
	assert.Equal(t, []byte("abcde"), got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetVersionContent_Missing(t *testing.T) {
	e, mock := newEngineWithMock(t, 3)

	mock.ExpectQuery(`SELECT content FROM version_bins`).
		WithArgs("v1").
		WillReturnRows(sqlmock.NewRows([]string{"content"}))

	_, err := e.GetVersionContent(context.Background(), "v1")
	require.ErrorIs(t, err, domain.ErrContentNotFound)
}

func TestDeleteVersion_ReportsWhetherRowsWereRemoved(t *testing.T) {
	e, mock := newEngineWithMock(t, 3)

	mock.ExpectExec(`DELETE FROM version_bins`).WithArgs("v1").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`DELETE FROM version_bins`).WithArgs("v1").WillReturnResult(sqlmock.NewResult(0, 0))

	deleted, err := e.DeleteVersion(context.Background(), "v1")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = e.DeleteVersion(context.Background(), "v1")
	require.NoError(t, err)
	assert.False(t, deleted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetBinChunk_Upserts(t *testing.T) {
	e, mock := newEngineWithMock(t, 3)

	mock.ExpectExec(`INSERT INTO version_bins .* ON CONFLICT \(version_id, chunk_index\) DO UPDATE`).
		WithArgs("v1", 2, []byte("xyz")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	id, err := e.SetBinChunk(context.Background(), "v1", []byte("xyz"), 2)
	require.NoError(t, err)
	assert.Equal(t, "v1:2", id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetBinChunk_RejectsZeroIndex(t *testing.T) {
	e, _ := newEngineWithMock(t, 3)

	_, err := e.SetBinChunk(context.Background(), "v1", []byte("x"), 0)
	require.ErrorIs(t, err, domain.ErrInvalidChunk)
}

func TestGetBinChunk_Missing(t *testing.T) {
	e, mock := newEngineWithMock(t, 3)

	mock.ExpectQuery(`SELECT content FROM version_bins WHERE version_id = \$1 AND chunk_index = \$2`).
		WithArgs("v1", 7).
		WillReturnRows(sqlmock.NewRows([]string{"content"}))

	_, err := e.GetBinChunk(context.Background(), "v1", 7)
	require.ErrorIs(t, err, domain.ErrContentNotFound)
}
