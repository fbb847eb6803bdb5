package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"contentdrive/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const nodeColumns = `id, name, type, parent_id, created_on, lock_token`

type NodeRepository struct {
	db sqlx.ExtContext
}

func NewNodeRepository(db sqlx.ExtContext) *NodeRepository {
	return &NodeRepository{db: db}
}

func (r *NodeRepository) Create(ctx context.Context, node *domain.Node) error {
	query := `
        INSERT INTO nodes (id, name, type, parent_id, created_on, lock_token)
        VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.db.ExecContext(ctx, query,
		node.ID,
		node.Name,
		node.Type,
		node.ParentID,
		node.CreatedOn,
		node.LockToken,
	)
	if err != nil {
		if isUniqueViolation(err) {
			parent := ""
			if node.ParentID != nil {
				parent = *node.ParentID
			}
			return &domain.DuplicateNameError{Name: node.Name, ParentID: parent}
		}
		return fmt.Errorf("failed to create node: %w", err)
	}

	for i := range node.Attributes {
		attr := &node.Attributes[i]
		attr.NodeID = node.ID
		id, err := r.SetAttribute(ctx, node.ID, attr.Name, attr.Value)
		if err != nil {
			return err
		}
		attr.ID = id
	}
	return nil
}

func (r *NodeRepository) GetByID(ctx context.Context, id string) (*domain.Node, error) {
	var node domain.Node
	query := `SELECT ` + nodeColumns + ` FROM nodes WHERE id = $1`
	if err := sqlx.GetContext(ctx, r.db, &node, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NodeNotFound(id)
		}
		return nil, fmt.Errorf("failed to get node: %w", err)
	}
	if err := r.loadAttributes(ctx, []*domain.Node{&node}); err != nil {
		return nil, err
	}
	return &node, nil
}

func (r *NodeRepository) GetRoot(ctx context.Context) (*domain.Node, error) {
	var node domain.Node
	query := `SELECT ` + nodeColumns + ` FROM nodes WHERE parent_id IS NULL ORDER BY created_on, id LIMIT 1`
	if err := sqlx.GetContext(ctx, r.db, &node, query); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.FolderNotFound(domain.RootFolderName)
		}
		return nil, fmt.Errorf("failed to get root folder: %w", err)
	}
	if err := r.loadAttributes(ctx, []*domain.Node{&node}); err != nil {
		return nil, err
	}
	return &node, nil
}

func (r *NodeRepository) GetChildren(ctx context.Context, parentID string) ([]domain.Node, error) {
	query := `SELECT ` + nodeColumns + ` FROM nodes WHERE parent_id = $1 ORDER BY name, id`
	return r.selectNodes(ctx, query, parentID)
}

func (r *NodeRepository) GetByName(ctx context.Context, parentID, name string) (*domain.Node, error) {
	var node domain.Node
	query := `SELECT ` + nodeColumns + ` FROM nodes WHERE parent_id = $1 AND name = $2`
	if err := sqlx.GetContext(ctx, r.db, &node, query, parentID, name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NodeNotFound(name)
		}
		return nil, fmt.Errorf("failed to get node by name: %w", err)
	}
	if err := r.loadAttributes(ctx, []*domain.Node{&node}); err != nil {
		return nil, err
	}
	return &node, nil
}

func (r *NodeRepository) ExistingNames(ctx context.Context, parentID string, names []string) ([]string, error) {
	if len(names) == 0 {
		return nil, nil
	}
	var existing []string
	query := `SELECT name FROM nodes WHERE parent_id = $1 AND name = ANY($2)`
	if err := sqlx.SelectContext(ctx, r.db, &existing, query, parentID, pq.Array(names)); err != nil {
		return nil, fmt.Errorf("failed to check names: %w", err)
	}
	return existing, nil
}

func (r *NodeRepository) GetAncestors(ctx context.Context, id string) ([]domain.Node, error) {
	query := `
        WITH RECURSIVE ancestors AS (
            SELECT n.id, n.name, n.type, n.parent_id, n.created_on, n.lock_token, 1 AS depth
            FROM nodes n
            WHERE n.id = (SELECT parent_id FROM nodes WHERE id = $1)

            UNION ALL

            SELECT p.id, p.name, p.type, p.parent_id, p.created_on, p.lock_token, a.depth + 1
            FROM nodes p
            INNER JOIN ancestors a ON p.id = a.parent_id
        )
        SELECT id, name, type, parent_id, created_on, lock_token
        FROM ancestors
        ORDER BY depth`
	return r.selectNodes(ctx, query, id)
}

func (r *NodeRepository) GetDescendants(ctx context.Context, id string) ([]domain.Node, error) {
	query := `
        WITH RECURSIVE descendants AS (
            SELECT n.id, n.name, n.type, n.parent_id, n.created_on, n.lock_token, 1 AS depth
            FROM nodes n
            WHERE n.parent_id = $1

            UNION ALL

            SELECT c.id, c.name, c.type, c.parent_id, c.created_on, c.lock_token, d.depth + 1
            FROM nodes c
            INNER JOIN descendants d ON c.parent_id = d.id
        )
        SELECT id, name, type, parent_id, created_on, lock_token
        FROM descendants
        ORDER BY depth, name, id`
	return r.selectNodes(ctx, query, id)
}

// FindChildrenByAttributes returns children of parentID carrying every attribute
// in attrs, oldest first.
func (r *NodeRepository) FindChildrenByAttributes(ctx context.Context, parentID string, attrs map[string]string) ([]domain.Node, error) {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(`SELECT n.id, n.name, n.type, n.parent_id, n.created_on, n.lock_token FROM nodes n`)
	args := []any{parentID}
	for i, k := range keys {
		fmt.Fprintf(&b, ` INNER JOIN node_attributes a%d ON a%d.node_id = n.id AND a%d.name = $%d AND a%d.value = $%d`,
			i, i, i, len(args)+1, i, len(args)+2)
		args = append(args, k, attrs[k])
	}
	b.WriteString(` WHERE n.parent_id = $1 ORDER BY n.created_on, n.id`)

	return r.selectNodes(ctx, b.String(), args...)
}

func (r *NodeRepository) UpdateName(ctx context.Context, id, name string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE nodes SET name = $1 WHERE id = $2`, name, id)
	if err != nil {
		if isUniqueViolation(err) {
			return &domain.DuplicateNameError{Name: name}
		}
		return fmt.Errorf("failed to rename node: %w", err)
	}
	return expectAffected(res, domain.NodeNotFound(id))
}

func (r *NodeRepository) UpdateParent(ctx context.Context, id, parentID string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE nodes SET parent_id = $1 WHERE id = $2`, parentID, id)
	if err != nil {
		if isUniqueViolation(err) {
			return &domain.DuplicateNameError{ParentID: parentID}
		}
		return fmt.Errorf("failed to move node: %w", err)
	}
	return expectAffected(res, domain.NodeNotFound(id))
}

func (r *NodeRepository) UpdateLockToken(ctx context.Context, id string, token *string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE nodes SET lock_token = $1 WHERE id = $2`, token, id)
	if err != nil {
		return fmt.Errorf("failed to update lock token: %w", err)
	}
	return expectAffected(res, domain.NodeNotFound(id))
}

// Delete removes the nodes; attributes, versions and child nodes cascade.
func (r *NodeRepository) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM nodes WHERE id = ANY($1)`, pq.Array(ids)); err != nil {
		return fmt.Errorf("failed to delete nodes: %w", err)
	}
	return nil
}

func (r *NodeRepository) SetAttribute(ctx context.Context, nodeID, name, value string) (string, error) {
	query := `
        INSERT INTO node_attributes (id, node_id, name, value)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (node_id, name) DO UPDATE SET value = EXCLUDED.value
        RETURNING id`

	var id string
	err := r.db.QueryRowxContext(ctx, query, uuid.NewString(), nodeID, name, value).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("failed to set node attribute %q: %w", name, err)
	}
	return id, nil
}

func (r *NodeRepository) DeleteAttribute(ctx context.Context, nodeID, name string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM node_attributes WHERE node_id = $1 AND name = $2`, nodeID, name)
	if err != nil {
		return fmt.Errorf("failed to delete node attribute %q: %w", name, err)
	}
	return nil
}

func (r *NodeRepository) selectNodes(ctx context.Context, query string, args ...any) ([]domain.Node, error) {
	var nodes []domain.Node
	if err := sqlx.SelectContext(ctx, r.db, &nodes, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	ptrs := make([]*domain.Node, len(nodes))
	for i := range nodes {
		ptrs[i] = &nodes[i]
	}
	if err := r.loadAttributes(ctx, ptrs); err != nil {
		return nil, err
	}
	return nodes, nil
}

func (r *NodeRepository) loadAttributes(ctx context.Context, nodes []*domain.Node) error {
	if len(nodes) == 0 {
		return nil
	}
	ids := make([]string, len(nodes))
	byID := make(map[string]*domain.Node, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
		byID[n.ID] = n
	}

	var attrs []domain.NodeAttribute
	query := `SELECT id, node_id, name, value FROM node_attributes WHERE node_id = ANY($1) ORDER BY name`
	if err := sqlx.SelectContext(ctx, r.db, &attrs, query, pq.Array(ids)); err != nil {
		return fmt.Errorf("failed to load node attributes: %w", err)
	}
	for _, a := range attrs {
		if n, ok := byID[a.NodeID]; ok {
			n.Attributes = append(n.Attributes, a)
		}
	}
	return nil
}

func expectAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
