package service

import (
	"context"
	"errors"
	"time"

	"contentdrive/internal/domain"
	"contentdrive/internal/logging"
	"contentdrive/internal/repository"
)

var ErrEmptyLockToken = errors.New("lock token must not be empty")

// ConcurrencyControl enforces advisory locks. A caller passing the token a node
// is locked with may mutate it; everyone else gets a LockConflictError naming
// the blocking node. Reads never consult locks.
type ConcurrencyControl struct {
	store  repository.Store
	logger logging.Logger
	now    func() time.Time
}

func NewConcurrencyControl(store repository.Store, logger logging.Logger) *ConcurrencyControl {
	return &ConcurrencyControl{
		store:  store,
		logger: logger.With("component", "concurrency"),
		now:    time.Now,
	}
}

func checkSelectedNode(node *domain.Node, token string) error {
	if node.LockedWithOtherThan(token) {
		return domain.SelectedNodeLockConflict(node)
	}
	return nil
}

// checkAncestors walks outward from the parent of nodeID and reports the
// closest ancestor locked with a different token.
func checkAncestors(ctx context.Context, nodes repository.NodeStore, nodeID, token string) error {
	ancestors, err := nodes.GetAncestors(ctx, nodeID)
	if err != nil {
		return err
	}
	for i := range ancestors {
		if ancestors[i].LockedWithOtherThan(token) {
			return domain.AncestorFolderLockConflict(&ancestors[i])
		}
	}
	return nil
}

// checkFolderChain treats folder as the first ancestor of something about to
// be placed inside it.
func checkFolderChain(ctx context.Context, nodes repository.NodeStore, folder *domain.Node, token string) error {
	if folder.LockedWithOtherThan(token) {
		return domain.AncestorFolderLockConflict(folder)
	}
	return checkAncestors(ctx, nodes, folder.ID, token)
}

func checkDescendants(ctx context.Context, nodes repository.NodeStore, nodeID, token string) error {
	descendants, err := nodes.GetDescendants(ctx, nodeID)
	if err != nil {
		return err
	}
	for i := range descendants {
		if descendants[i].LockedWithOtherThan(token) {
			return domain.DescendantNodeLockConflict(&descendants[i])
		}
	}
	return nil
}

// checkNode is the gate for mutating an existing node: the node itself, then its ancestors.
func checkNode(ctx context.Context, nodes repository.NodeStore, node *domain.Node, token string) error {
	if err := checkSelectedNode(node, token); err != nil {
		return err
	}
	return checkAncestors(ctx, nodes, node.ID, token)
}

// checkSubtree additionally rejects folder mutations while a descendant is held by someone else.
func checkSubtree(ctx context.Context, nodes repository.NodeStore, node *domain.Node, token string) error {
	if err := checkNode(ctx, nodes, node, token); err != nil {
		return err
	}
	if node.IsFolder() {
		return checkDescendants(ctx, nodes, node.ID, token)
	}
	return nil
}

// GetSelectedNodeWithLockConflict returns the node when it is locked with a
// token other than lockToken, nil otherwise.
func (c *ConcurrencyControl) GetSelectedNodeWithLockConflict(ctx context.Context, nodeID, lockToken string) (*domain.Node, error) {
	node, err := getNode(ctx, c.store.Nodes(), nodeID)
	if err != nil {
		return nil, err
	}
	if node.LockedWithOtherThan(lockToken) {
		return node, nil
	}
	return nil, nil
}

// GetAncestorFolderWithLockConflict returns the closest ancestor of nodeID
// locked with a different token, nil otherwise.
func (c *ConcurrencyControl) GetAncestorFolderWithLockConflict(ctx context.Context, nodeID, lockToken string) (*domain.Node, error) {
	if _, err := getNode(ctx, c.store.Nodes(), nodeID); err != nil {
		return nil, err
	}
	return c.firstConflict(ctx, checkAncestors(ctx, c.store.Nodes(), nodeID, lockToken))
}

// GetDescendantNodeWithLockConflict returns a node below nodeID locked with a
// different token, nil otherwise. Shallower nodes are reported first.
func (c *ConcurrencyControl) GetDescendantNodeWithLockConflict(ctx context.Context, nodeID, lockToken string) (*domain.Node, error) {
	if _, err := getNode(ctx, c.store.Nodes(), nodeID); err != nil {
		return nil, err
	}
	return c.firstConflict(ctx, checkDescendants(ctx, c.store.Nodes(), nodeID, lockToken))
}

func (c *ConcurrencyControl) firstConflict(ctx context.Context, err error) (*domain.Node, error) {
	if err == nil {
		return nil, nil
	}
	var lc *domain.LockConflictError
	if errors.As(err, &lc) {
		return c.store.Nodes().GetByID(ctx, lc.NodeID)
	}
	return nil, err
}

// Lock sets lockToken on the node. Re-locking with the same token is a no-op.
func (c *ConcurrencyControl) Lock(ctx context.Context, nodeID, lockToken, userID string) error {
	if lockToken == "" {
		return ErrEmptyLockToken
	}
	now := c.now()
	err := c.store.WithTx(ctx, func(ctx context.Context, q repository.Querier) error {
		node, err := getNode(ctx, q.Nodes(), nodeID)
		if err != nil {
			return err
		}
		if err := checkSubtree(ctx, q.Nodes(), node, lockToken); err != nil {
			return err
		}
		if err := q.Nodes().UpdateLockToken(ctx, nodeID, &lockToken); err != nil {
			return err
		}
		return stampNode(ctx, q.Nodes(), nodeID, userID, now)
	})
	if err != nil {
		return err
	}
	c.logger.Info(ctx, "node locked", "node_id", nodeID, "user_id", userID)
	return nil
}

// Unlock clears the node's token. Without override the caller must present the
// token the node is locked with.
func (c *ConcurrencyControl) Unlock(ctx context.Context, nodeID, lockToken string, override bool, userID string) error {
	now := c.now()
	err := c.store.WithTx(ctx, func(ctx context.Context, q repository.Querier) error {
		node, err := getNode(ctx, q.Nodes(), nodeID)
		if err != nil {
			return err
		}
		if !node.IsLocked() {
			return nil
		}
		if !override {
			if err := checkSelectedNode(node, lockToken); err != nil {
				return err
			}
		}
		if err := q.Nodes().UpdateLockToken(ctx, nodeID, nil); err != nil {
			return err
		}
		return stampNode(ctx, q.Nodes(), nodeID, userID, now)
	})
	if err != nil {
		return err
	}
	c.logger.Info(ctx, "node unlocked", "node_id", nodeID, "user_id", userID, "override", override)
	return nil
}
