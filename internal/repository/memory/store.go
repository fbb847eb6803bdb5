// Package memory is an in-process metadata store used by tests and
// single-node development setups.
package memory

import (
	"context"
	"sync"
	"time"

	"contentdrive/internal/domain"
	"contentdrive/internal/repository"
)

type state struct {
	nodes      map[string]*domain.Node
	versions   map[string]*domain.Version
	tombstones map[string]domain.VersionDeleted
}

func newState() *state {
	return &state{
		nodes:      make(map[string]*domain.Node),
		versions:   make(map[string]*domain.Version),
		tombstones: make(map[string]domain.VersionDeleted),
	}
}

func (s *state) clone() *state {
	c := &state{
		nodes:      make(map[string]*domain.Node, len(s.nodes)),
		versions:   make(map[string]*domain.Version, len(s.versions)),
		tombstones: make(map[string]domain.VersionDeleted, len(s.tombstones)),
	}
	for id, n := range s.nodes {
		c.nodes[id] = cloneNode(n)
	}
	for id, v := range s.versions {
		c.versions[id] = cloneVersion(v)
	}
	for id, t := range s.tombstones {
		c.tombstones[id] = t
	}
	return c
}

// Store keeps all metadata in maps guarded by a single RWMutex. A transaction
// holds the write lock for its whole duration and works on a copy that
// replaces the live state only when fn succeeds.
type Store struct {
	mu  sync.RWMutex
	st  *state
	now func() time.Time
}

func NewStore() *Store {
	return &Store{st: newState(), now: time.Now}
}

func (s *Store) Nodes() repository.NodeStore           { return &nodeStore{access{s: s}} }
func (s *Store) Versions() repository.VersionStore     { return &versionStore{access{s: s}} }
func (s *Store) Tombstones() repository.TombstoneStore { return &tombstoneStore{access{s: s}} }

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, q repository.Querier) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(ctx, &txQuerier{a: access{s: s, tx: work}}); err != nil {
		return err
	}
	s.st = work
	return nil
}

type txQuerier struct {
	a access
}

func (q *txQuerier) Nodes() repository.NodeStore           { return &nodeStore{q.a} }
func (q *txQuerier) Versions() repository.VersionStore     { return &versionStore{q.a} }
func (q *txQuerier) Tombstones() repository.TombstoneStore { return &tombstoneStore{q.a} }

// access routes a call either to the transaction copy or to the live state.
type access struct {
	s  *Store
	tx *state
}

func (a access) read(fn func(st *state) error) error {
	if a.tx != nil {
		return fn(a.tx)
	}
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()
	return fn(a.s.st)
}

func (a access) write(fn func(st *state) error) error {
	if a.tx != nil {
		return fn(a.tx)
	}
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	return fn(a.s.st)
}

func cloneNode(n *domain.Node) *domain.Node {
	c := *n
	if n.ParentID != nil {
		p := *n.ParentID
		c.ParentID = &p
	}
	if n.LockToken != nil {
		t := *n.LockToken
		c.LockToken = &t
	}
	c.Attributes = append([]domain.NodeAttribute(nil), n.Attributes...)
	return &c
}

func cloneVersion(v *domain.Version) *domain.Version {
	c := *v
	c.Attributes = append([]domain.VersionAttribute(nil), v.Attributes...)
	return &c
}
