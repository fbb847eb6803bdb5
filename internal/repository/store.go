package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// PostgresStore is the sqlx-backed metadata store.
type PostgresStore struct {
	db *sqlx.DB
	q  *pgQuerier
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db, q: newQuerier(db)}
}

func (s *PostgresStore) Nodes() NodeStore           { return s.q.nodes }
func (s *PostgresStore) Versions() VersionStore     { return s.q.versions }
func (s *PostgresStore) Tombstones() TombstoneStore { return s.q.tombstones }

// WithTx runs fn inside a single transaction. Panics roll back and are rethrown.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(ctx context.Context, q Querier) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if cerr := tx.Commit(); cerr != nil {
			err = fmt.Errorf("failed to commit transaction: %w", cerr)
		}
	}()

	err = fn(ctx, newQuerier(tx))
	return err
}

type pgQuerier struct {
	nodes      *NodeRepository
	versions   *VersionRepository
	tombstones *TombstoneRepository
}

func newQuerier(ext sqlx.ExtContext) *pgQuerier {
	return &pgQuerier{
		nodes:      NewNodeRepository(ext),
		versions:   NewVersionRepository(ext),
		tombstones: NewTombstoneRepository(ext),
	}
}

func (q *pgQuerier) Nodes() NodeStore           { return q.nodes }
func (q *pgQuerier) Versions() VersionStore     { return q.versions }
func (q *pgQuerier) Tombstones() TombstoneStore { return q.tombstones }

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
