package repository

import (
	"context"

	"contentdrive/internal/domain"
)

// NodeStore persists folders, files and their attributes.
type NodeStore interface {
	Create(ctx context.Context, node *domain.Node) error
	GetByID(ctx context.Context, id string) (*domain.Node, error)
	GetRoot(ctx context.Context) (*domain.Node, error)
	// GetChildren returns direct children ordered by name.
	GetChildren(ctx context.Context, parentID string) ([]domain.Node, error)
	GetByName(ctx context.Context, parentID, name string) (*domain.Node, error)
	// ExistingNames returns the subset of names already used under parentID.
	ExistingNames(ctx context.Context, parentID string, names []string) ([]string, error)
	// GetAncestors returns the parent chain of id, closest first.
	GetAncestors(ctx context.Context, id string) ([]domain.Node, error)
	// GetDescendants returns the whole subtree below id, parents before children.
	GetDescendants(ctx context.Context, id string) ([]domain.Node, error)
	FindChildrenByAttributes(ctx context.Context, parentID string, attrs map[string]string) ([]domain.Node, error)
	UpdateName(ctx context.Context, id, name string) error
	UpdateParent(ctx context.Context, id, parentID string) error
	UpdateLockToken(ctx context.Context, id string, token *string) error
	Delete(ctx context.Context, ids []string) error
	// SetAttribute inserts or overwrites an attribute and returns its id.
	SetAttribute(ctx context.Context, nodeID, name, value string) (string, error)
	DeleteAttribute(ctx context.Context, nodeID, name string) error
}

// VersionStore persists file versions and their attributes.
type VersionStore interface {
	Create(ctx context.Context, version *domain.Version) error
	GetByID(ctx context.Context, id string) (*domain.Version, error)
	GetByName(ctx context.Context, fileID, name string) (*domain.Version, error)
	GetLatest(ctx context.Context, fileID string) (*domain.Version, error)
	// ListByFile returns versions ordered by creation, then id.
	ListByFile(ctx context.Context, fileID string) ([]domain.Version, error)
	ListByFiles(ctx context.Context, fileIDs []string) ([]domain.Version, error)
	Update(ctx context.Context, version *domain.Version) error
	UpdateMimetype(ctx context.Context, id, mimetype string) error
	Delete(ctx context.Context, ids []string) error
	SetAttribute(ctx context.Context, versionID, name, value string) error
	DeleteAttribute(ctx context.Context, versionID, name string) error
}

// TombstoneStore is the durable queue of version payloads awaiting purge.
type TombstoneStore interface {
	Insert(ctx context.Context, ids []string) error
	// ClaimPending selects up to limit tombstones with an exclusive claim held
	// until the surrounding transaction ends.
	ClaimPending(ctx context.Context, limit int) ([]domain.VersionDeleted, error)
	Delete(ctx context.Context, ids []string) error
	Count(ctx context.Context) (int, error)
}

type Querier interface {
	Nodes() NodeStore
	Versions() VersionStore
	Tombstones() TombstoneStore
}

// Store gives non-transactional reads through Querier and runs mutations in
// WithTx, committing when fn returns nil and rolling back otherwise.
type Store interface {
	Querier
	WithTx(ctx context.Context, fn func(ctx context.Context, q Querier) error) error
}
