package memory

import (
	"context"
	"sort"

	"contentdrive/internal/domain"
	"github.com/google/uuid"
)

type nodeStore struct {
	access
}

func (r *nodeStore) Create(ctx context.Context, node *domain.Node) error {
	return r.write(func(st *state) error {
		if _, ok := st.nodes[node.ID]; ok {
			return &domain.DuplicateNameError{Name: node.Name}
		}
		if node.ParentID == nil {
			for _, n := range st.nodes {
				if n.ParentID == nil {
					return &domain.DuplicateNameError{Name: node.Name}
				}
			}
		} else {
			if _, ok := st.nodes[*node.ParentID]; !ok {
				return domain.FolderNotFound(*node.ParentID)
			}
			if findByName(st, *node.ParentID, node.Name) != nil {
				return &domain.DuplicateNameError{Name: node.Name, ParentID: *node.ParentID}
			}
		}
		for i := range node.Attributes {
			node.Attributes[i].NodeID = node.ID
			if node.Attributes[i].ID == "" {
				node.Attributes[i].ID = uuid.NewString()
			}
		}
		st.nodes[node.ID] = cloneNode(node)
		return nil
	})
}

func (r *nodeStore) GetByID(ctx context.Context, id string) (*domain.Node, error) {
	var out *domain.Node
	err := r.read(func(st *state) error {
		n, ok := st.nodes[id]
		if !ok {
			return domain.NodeNotFound(id)
		}
		out = cloneNode(n)
		return nil
	})
	return out, err
}

func (r *nodeStore) GetRoot(ctx context.Context) (*domain.Node, error) {
	var out *domain.Node
	err := r.read(func(st *state) error {
		for _, n := range st.nodes {
			if n.ParentID == nil {
				out = cloneNode(n)
				return nil
			}
		}
		return domain.FolderNotFound(domain.RootFolderName)
	})
	return out, err
}

func (r *nodeStore) GetChildren(ctx context.Context, parentID string) ([]domain.Node, error) {
	var out []domain.Node
	err := r.read(func(st *state) error {
		out = children(st, parentID)
		return nil
	})
	domain.SortNodesByName(out)
	return out, err
}

func (r *nodeStore) GetByName(ctx context.Context, parentID, name string) (*domain.Node, error) {
	var out *domain.Node
	err := r.read(func(st *state) error {
		n := findByName(st, parentID, name)
		if n == nil {
			return domain.NodeNotFound(name)
		}
		out = cloneNode(n)
		return nil
	})
	return out, err
}

func (r *nodeStore) ExistingNames(ctx context.Context, parentID string, names []string) ([]string, error) {
	var out []string
	err := r.read(func(st *state) error {
		for _, name := range names {
			if findByName(st, parentID, name) != nil {
				out = append(out, name)
			}
		}
		return nil
	})
	return out, err
}

func (r *nodeStore) GetAncestors(ctx context.Context, id string) ([]domain.Node, error) {
	var out []domain.Node
	err := r.read(func(st *state) error {
		n, ok := st.nodes[id]
		if !ok {
			return nil
		}
		seen := map[string]bool{id: true}
		for n.ParentID != nil {
			parent, ok := st.nodes[*n.ParentID]
			if !ok || seen[parent.ID] {
				break
			}
			seen[parent.ID] = true
			out = append(out, *cloneNode(parent))
			n = parent
		}
		return nil
	})
	return out, err
}

func (r *nodeStore) GetDescendants(ctx context.Context, id string) ([]domain.Node, error) {
	var out []domain.Node
	err := r.read(func(st *state) error {
		level := []string{id}
		for len(level) > 0 {
			var next []string
			var batch []domain.Node
			for _, pid := range level {
				batch = append(batch, children(st, pid)...)
			}
			domain.SortNodesByName(batch)
			for _, c := range batch {
				next = append(next, c.ID)
			}
			out = append(out, batch...)
			level = next
		}
		return nil
	})
	return out, err
}

func (r *nodeStore) FindChildrenByAttributes(ctx context.Context, parentID string, attrs map[string]string) ([]domain.Node, error) {
	var out []domain.Node
	err := r.read(func(st *state) error {
		for _, c := range children(st, parentID) {
			if c.HasAttributes(attrs) {
				out = append(out, c)
			}
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedOn.Equal(out[j].CreatedOn) {
			return out[i].CreatedOn.Before(out[j].CreatedOn)
		}
		return out[i].ID < out[j].ID
	})
	return out, err
}

func (r *nodeStore) UpdateName(ctx context.Context, id, name string) error {
	return r.write(func(st *state) error {
		n, ok := st.nodes[id]
		if !ok {
			return domain.NodeNotFound(id)
		}
		if n.ParentID != nil {
			if other := findByName(st, *n.ParentID, name); other != nil && other.ID != id {
				return &domain.DuplicateNameError{Name: name, ParentID: *n.ParentID}
			}
		}
		n.Name = name
		return nil
	})
}

func (r *nodeStore) UpdateParent(ctx context.Context, id, parentID string) error {
	return r.write(func(st *state) error {
		n, ok := st.nodes[id]
		if !ok {
			return domain.NodeNotFound(id)
		}
		if _, ok := st.nodes[parentID]; !ok {
			return domain.FolderNotFound(parentID)
		}
		if other := findByName(st, parentID, n.Name); other != nil && other.ID != id {
			return &domain.DuplicateNameError{Name: n.Name, ParentID: parentID}
		}
		n.ParentID = &parentID
		return nil
	})
}

func (r *nodeStore) UpdateLockToken(ctx context.Context, id string, token *string) error {
	return r.write(func(st *state) error {
		n, ok := st.nodes[id]
		if !ok {
			return domain.NodeNotFound(id)
		}
		if token == nil {
			n.LockToken = nil
		} else {
			t := *token
			n.LockToken = &t
		}
		return nil
	})
}

// Delete removes the nodes together with their subtrees, attributes and versions.
func (r *nodeStore) Delete(ctx context.Context, ids []string) error {
	return r.write(func(st *state) error {
		doomed := make(map[string]bool)
		queue := append([]string(nil), ids...)
		for len(queue) > 0 {
			id := queue[0]
			queue = queue[1:]
			if doomed[id] {
				continue
			}
			if _, ok := st.nodes[id]; !ok {
				continue
			}
			doomed[id] = true
			for _, c := range children(st, id) {
				queue = append(queue, c.ID)
			}
		}
		for id := range doomed {
			delete(st.nodes, id)
		}
		for vid, v := range st.versions {
			if doomed[v.FileID] {
				delete(st.versions, vid)
			}
		}
		return nil
	})
}

func (r *nodeStore) SetAttribute(ctx context.Context, nodeID, name, value string) (string, error) {
	var id string
	err := r.write(func(st *state) error {
		n, ok := st.nodes[nodeID]
		if !ok {
			return domain.NodeNotFound(nodeID)
		}
		for i := range n.Attributes {
			if n.Attributes[i].Name == name {
				n.Attributes[i].Value = value
				id = n.Attributes[i].ID
				return nil
			}
		}
		id = uuid.NewString()
		n.Attributes = append(n.Attributes, domain.NodeAttribute{ID: id, NodeID: nodeID, Name: name, Value: value})
		return nil
	})
	return id, err
}

func (r *nodeStore) DeleteAttribute(ctx context.Context, nodeID, name string) error {
	return r.write(func(st *state) error {
		n, ok := st.nodes[nodeID]
		if !ok {
			return domain.NodeNotFound(nodeID)
		}
		kept := n.Attributes[:0]
		for _, a := range n.Attributes {
			if a.Name != name {
				kept = append(kept, a)
			}
		}
		n.Attributes = kept
		return nil
	})
}

func children(st *state, parentID string) []domain.Node {
	var out []domain.Node
	for _, n := range st.nodes {
		if n.ParentID != nil && *n.ParentID == parentID {
			out = append(out, *cloneNode(n))
		}
	}
	return out
}

func findByName(st *state, parentID, name string) *domain.Node {
	for _, n := range st.nodes {
		if n.ParentID != nil && *n.ParentID == parentID && n.Name == name {
			return n
		}
	}
	return nil
}
