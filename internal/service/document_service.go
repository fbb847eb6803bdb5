package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"contentdrive/internal/domain"
	"contentdrive/internal/logging"
	"contentdrive/internal/repository"
	"contentdrive/internal/storage"
)

// FileInput describes a file node to create together with its first version.
type FileInput struct {
	ParentID   string
	Name       string
	Attributes map[string]string
}

type CreateFileAndVersionStatus struct {
	FileID    string `json:"file_id"`
	VersionID string `json:"version_id"`
}

// DocumentService manages the folder/file tree and node attributes.
type DocumentService struct {
	store    repository.Store
	engine   storage.Engine
	detector MimeDetector
	logger   logging.Logger
	now      func() time.Time
}

func NewDocumentService(
	store repository.Store,
	engine storage.Engine,
	detector MimeDetector,
	logger logging.Logger,
) *DocumentService {
	return &DocumentService{
		store:    store,
		engine:   engine,
		detector: detector,
		logger:   logger.With("component", "documents"),
		now:      time.Now,
	}
}

// GetOrCreateRoot returns the single parentless folder, creating it on first use.
func (s *DocumentService) GetOrCreateRoot(ctx context.Context, userID string) (*domain.Node, error) {
	root, err := s.store.Nodes().GetRoot(ctx)
	if err == nil {
		return root, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("failed to get root folder: %w", err)
	}

	now := s.now()
	node := &domain.Node{
		ID:         newID(),
		Name:       domain.RootFolderName,
		Type:       domain.NodeTypeFolder,
		CreatedOn:  now,
		Attributes: creationAttributes(userID, now),
	}
	err = s.store.WithTx(ctx, func(ctx context.Context, q repository.Querier) error {
		existing, err := q.Nodes().GetRoot(ctx)
		if err == nil {
			node = existing
			return nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return q.Nodes().Create(ctx, node)
	})
	if errors.Is(err, domain.ErrDuplicateName) {
		// lost the race against a concurrent creator
		return s.store.Nodes().GetRoot(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create root folder: %w", err)
	}
	return node, nil
}

func (s *DocumentService) CreateFolder(ctx context.Context, parentID, name, userID, lockToken string) (string, error) {
	return s.createNode(ctx, parentID, name, domain.NodeTypeFolder, nil, userID, lockToken)
}

func (s *DocumentService) CreateFile(ctx context.Context, parentID, name, userID, lockToken string) (string, error) {
	return s.createNode(ctx, parentID, name, domain.NodeTypeFile, nil, userID, lockToken)
}

func (s *DocumentService) createNode(
	ctx context.Context,
	parentID, name string,
	typ domain.NodeType,
	attrs map[string]string,
	userID, lockToken string,
) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}
	now := s.now()
	node := s.newNode(parentID, name, typ, attrs, userID, now)

	err := s.store.WithTx(ctx, func(ctx context.Context, q repository.Querier) error {
		return insertNode(ctx, q.Nodes(), node, lockToken)
	})
	if err != nil {
		return "", err
	}
	s.logger.Info(ctx, "node created", "node_id", node.ID, "type", typ, "parent_id", parentID)
	return node.ID, nil
}

func (s *DocumentService) newNode(parentID, name string, typ domain.NodeType, attrs map[string]string, userID string, now time.Time) *domain.Node {
	node := &domain.Node{
		ID:         newID(),
		Name:       name,
		Type:       typ,
		ParentID:   &parentID,
		CreatedOn:  now,
		Attributes: creationAttributes(userID, now),
	}
	for _, k := range sortedKeys(attrs) {
		if _, ok := node.Attribute(k); ok {
			continue
		}
		node.Attributes = append(node.Attributes, domain.NodeAttribute{Name: k, Value: attrs[k]})
	}
	return node
}

func insertNode(ctx context.Context, nodes repository.NodeStore, node *domain.Node, lockToken string) error {
	parent, err := getFolder(ctx, nodes, *node.ParentID)
	if err != nil {
		return err
	}
	if err := checkFolderChain(ctx, nodes, parent, lockToken); err != nil {
		return err
	}
	if err := ensureUniqueName(ctx, nodes, parent.ID, node.Name, ""); err != nil {
		return err
	}
	return nodes.Create(ctx, node)
}

// CreateFileAndVersion creates a file and its first version in one metadata
// transaction. The payload is written after commit; on a storage failure the
// status is returned together with a ContentIOError.
func (s *DocumentService) CreateFileAndVersion(
	ctx context.Context,
	file FileInput,
	meta VersionInput,
	filename string,
	content []byte,
	userID, lockToken string,
) (*CreateFileAndVersionStatus, error) {
	if err := validateName(file.Name); err != nil {
		return nil, err
	}
	now := s.now()
	node := s.newNode(file.ParentID, file.Name, domain.NodeTypeFile, file.Attributes, userID, now)
	version := newVersion(node.ID, meta, filename, content, userID, now, s.detector)

	err := s.store.WithTx(ctx, func(ctx context.Context, q repository.Querier) error {
		if err := insertNode(ctx, q.Nodes(), node, lockToken); err != nil {
			return err
		}
		return insertVersion(ctx, q.Versions(), version)
	})
	if err != nil {
		return nil, err
	}

	status := &CreateFileAndVersionStatus{FileID: node.ID, VersionID: version.ID}
	if content != nil {
		if err := s.engine.SetVersionContent(ctx, version.ID, content); err != nil {
			s.logger.Error(ctx, "failed to store version content", "version_id", version.ID, "error", err)
			return status, &domain.ContentIOError{Op: "write", VersionID: version.ID, Err: err}
		}
	}
	s.logger.Info(ctx, "file created", "file_id", node.ID, "version_id", version.ID)
	return status, nil
}

// Rename changes a node's name. Renaming to the current name succeeds.
func (s *DocumentService) Rename(ctx context.Context, nodeID, newName, userID, lockToken string) error {
	if err := validateName(newName); err != nil {
		return err
	}
	now := s.now()
	return s.store.WithTx(ctx, func(ctx context.Context, q repository.Querier) error {
		node, err := getNode(ctx, q.Nodes(), nodeID)
		if err != nil {
			return err
		}
		if err := checkNode(ctx, q.Nodes(), node, lockToken); err != nil {
			return err
		}
		if node.ParentID != nil {
			if err := ensureUniqueName(ctx, q.Nodes(), *node.ParentID, newName, node.ID); err != nil {
				return err
			}
		}
		if err := q.Nodes().UpdateName(ctx, nodeID, newName); err != nil {
			return err
		}
		return stampNode(ctx, q.Nodes(), nodeID, userID, now)
	})
}

// Move re-parents a node. The destination must be a folder outside the node's subtree.
func (s *DocumentService) Move(ctx context.Context, nodeID, newParentID, userID, lockToken string) error {
	now := s.now()
	return s.store.WithTx(ctx, func(ctx context.Context, q repository.Querier) error {
		node, dest, err := loadRelocation(ctx, q.Nodes(), nodeID, newParentID)
		if err != nil {
			return err
		}
		if err := checkSubtree(ctx, q.Nodes(), node, lockToken); err != nil {
			return err
		}
		if err := checkFolderChain(ctx, q.Nodes(), dest, lockToken); err != nil {
			return err
		}
		if err := ensureUniqueName(ctx, q.Nodes(), dest.ID, node.Name, node.ID); err != nil {
			return err
		}
		if err := q.Nodes().UpdateParent(ctx, nodeID, dest.ID); err != nil {
			return err
		}
		return stampNode(ctx, q.Nodes(), nodeID, userID, now)
	})
}

// loadRelocation fetches the source and destination of a move or copy and
// rejects destinations that are not folders or lie inside the source.
func loadRelocation(ctx context.Context, nodes repository.NodeStore, nodeID, destID string) (*domain.Node, *domain.Node, error) {
	node, err := getNode(ctx, nodes, nodeID)
	if err != nil {
		return nil, nil, err
	}
	if node.ParentID == nil {
		return nil, nil, fmt.Errorf("%w: the root folder cannot be relocated", domain.ErrInvalidMove)
	}
	dest, err := getFolder(ctx, nodes, destID)
	if err != nil {
		return nil, nil, err
	}
	if dest.ID == node.ID {
		return nil, nil, domain.ErrInvalidMove
	}
	ancestors, err := nodes.GetAncestors(ctx, dest.ID)
	if err != nil {
		return nil, nil, err
	}
	for _, a := range ancestors {
		if a.ID == node.ID {
			return nil, nil, domain.ErrInvalidMove
		}
	}
	return node, dest, nil
}

// Copy duplicates a node and its subtree, including attributes and versions,
// under newParentID and returns the id of the copy. Payloads are copied after
// the metadata commit; versions without a payload are skipped.
func (s *DocumentService) Copy(ctx context.Context, nodeID, newParentID, userID, lockToken string) (string, error) {
	now := s.now()
	var (
		copyID string
		pairs  [][2]string
	)
	err := s.store.WithTx(ctx, func(ctx context.Context, q repository.Querier) error {
		node, dest, err := loadRelocation(ctx, q.Nodes(), nodeID, newParentID)
		if err != nil {
			return err
		}
		if err := checkFolderChain(ctx, q.Nodes(), dest, lockToken); err != nil {
			return err
		}
		if err := ensureUniqueName(ctx, q.Nodes(), dest.ID, node.Name, ""); err != nil {
			return err
		}

		descendants, err := q.Nodes().GetDescendants(ctx, node.ID)
		if err != nil {
			return err
		}
		subtree := append([]domain.Node{*node}, descendants...)

		ids := make(map[string]string, len(subtree))
		var fileIDs []string
		for _, n := range subtree {
			ids[n.ID] = newID()
			if n.IsFile() {
				fileIDs = append(fileIDs, n.ID)
			}
		}
		for _, n := range subtree {
			parent := dest.ID
			if n.ID != node.ID {
				parent = ids[*n.ParentID]
			}
			dup := &domain.Node{
				ID:        ids[n.ID],
				Name:      n.Name,
				Type:      n.Type,
				ParentID:  &parent,
				CreatedOn: now,
			}
			for _, a := range n.Attributes {
				dup.Attributes = append(dup.Attributes, domain.NodeAttribute{Name: a.Name, Value: a.Value})
			}
			if err := q.Nodes().Create(ctx, dup); err != nil {
				return err
			}
		}
		copyID = ids[node.ID]

		versions, err := q.Versions().ListByFiles(ctx, fileIDs)
		if err != nil {
			return err
		}
		for _, v := range versions {
			dup := v
			dup.ID = newID()
			dup.FileID = ids[v.FileID]
			dup.Attributes = nil
			for _, a := range v.Attributes {
				dup.Attributes = append(dup.Attributes, domain.VersionAttribute{Name: a.Name, Value: a.Value})
			}
			if err := q.Versions().Create(ctx, &dup); err != nil {
				return err
			}
			pairs = append(pairs, [2]string{v.ID, dup.ID})
		}
		return stampNode(ctx, q.Nodes(), copyID, userID, now)
	})
	if err != nil {
		return "", err
	}

	var errs []error
	for _, p := range pairs {
		if err := s.copyContent(ctx, p[0], p[1]); err != nil {
			errs = append(errs, err)
		}
	}
	s.logger.Info(ctx, "node copied", "node_id", nodeID, "copy_id", copyID, "versions", len(pairs))
	return copyID, errors.Join(errs...)
}

func (s *DocumentService) copyContent(ctx context.Context, fromID, toID string) error {
	content, err := s.engine.GetVersionContent(ctx, fromID)
	if err != nil {
		if errors.Is(err, domain.ErrContentNotFound) {
			return nil
		}
		s.logger.Error(ctx, "failed to read content for copy", "version_id", fromID, "error", err)
		return &domain.ContentIOError{Op: "read", VersionID: fromID, Err: err}
	}
	if err := s.engine.SetVersionContent(ctx, toID, content); err != nil {
		s.logger.Error(ctx, "failed to write copied content", "version_id", toID, "error", err)
		return &domain.ContentIOError{Op: "write", VersionID: toID, Err: err}
	}
	return nil
}

func (s *DocumentService) DeleteFolder(ctx context.Context, folderID, lockToken string) error {
	return s.deleteNode(ctx, folderID, domain.NodeTypeFolder, lockToken)
}

func (s *DocumentService) DeleteFile(ctx context.Context, fileID, lockToken string) error {
	return s.deleteNode(ctx, fileID, domain.NodeTypeFile, lockToken)
}

// deleteNode removes the node and its subtree and queues every contained
// version for payload purge, all in one transaction.
func (s *DocumentService) deleteNode(ctx context.Context, nodeID string, typ domain.NodeType, lockToken string) error {
	var purged int
	err := s.store.WithTx(ctx, func(ctx context.Context, q repository.Querier) error {
		var (
			node *domain.Node
			err  error
		)
		if typ == domain.NodeTypeFolder {
			node, err = getFolder(ctx, q.Nodes(), nodeID)
		} else {
			node, err = getFile(ctx, q.Nodes(), nodeID)
		}
		if err != nil {
			return err
		}
		if node.ParentID == nil {
			return domain.ErrRootFolder
		}
		if err := checkSubtree(ctx, q.Nodes(), node, lockToken); err != nil {
			return err
		}

		ids := []string{node.ID}
		var fileIDs []string
		if node.IsFile() {
			fileIDs = append(fileIDs, node.ID)
		} else {
			descendants, err := q.Nodes().GetDescendants(ctx, node.ID)
			if err != nil {
				return err
			}
			for _, d := range descendants {
				ids = append(ids, d.ID)
				if d.IsFile() {
					fileIDs = append(fileIDs, d.ID)
				}
			}
		}

		versions, err := q.Versions().ListByFiles(ctx, fileIDs)
		if err != nil {
			return err
		}
		versionIDs := make([]string, len(versions))
		for i, v := range versions {
			versionIDs[i] = v.ID
		}
		if err := q.Tombstones().Insert(ctx, versionIDs); err != nil {
			return err
		}
		if err := q.Versions().Delete(ctx, versionIDs); err != nil {
			return err
		}
		purged = len(versionIDs)
		return q.Nodes().Delete(ctx, ids)
	})
	if err != nil {
		return err
	}
	s.logger.Info(ctx, "node deleted", "node_id", nodeID, "type", typ, "tombstoned_versions", purged)
	return nil
}

func (s *DocumentService) GetNodeByID(ctx context.Context, nodeID string) (*domain.Node, error) {
	return getNode(ctx, s.store.Nodes(), nodeID)
}

// GetFolderByID loads a folder, optionally with its direct children and the
// path from the root.
func (s *DocumentService) GetFolderByID(ctx context.Context, folderID string, withChildren, findPath bool) (*domain.Folder, error) {
	node, err := getFolder(ctx, s.store.Nodes(), folderID)
	if err != nil {
		return nil, err
	}
	folder := &domain.Folder{Node: *node}
	if withChildren {
		if folder.Children, err = s.store.Nodes().GetChildren(ctx, folderID); err != nil {
			return nil, err
		}
	}
	if findPath {
		if folder.Path, err = s.GetAncestors(ctx, folderID); err != nil {
			return nil, err
		}
	}
	return folder, nil
}

func (s *DocumentService) GetFileByID(ctx context.Context, fileID string, includeVersions, findPath bool) (*domain.File, error) {
	node, err := getFile(ctx, s.store.Nodes(), fileID)
	if err != nil {
		return nil, err
	}
	file := &domain.File{Node: *node}
	if includeVersions {
		if file.Versions, err = s.store.Versions().ListByFile(ctx, fileID); err != nil {
			return nil, err
		}
	}
	if findPath {
		if file.Path, err = s.GetAncestors(ctx, fileID); err != nil {
			return nil, err
		}
	}
	return file, nil
}

// GetParent returns nil for the root folder.
func (s *DocumentService) GetParent(ctx context.Context, nodeID string) (*domain.Node, error) {
	node, err := getNode(ctx, s.store.Nodes(), nodeID)
	if err != nil {
		return nil, err
	}
	if node.ParentID == nil {
		return nil, nil
	}
	return getNode(ctx, s.store.Nodes(), *node.ParentID)
}

// GetAncestors returns the chain from the root down to the node's parent.
func (s *DocumentService) GetAncestors(ctx context.Context, nodeID string) ([]domain.Node, error) {
	if _, err := getNode(ctx, s.store.Nodes(), nodeID); err != nil {
		return nil, err
	}
	ancestors, err := s.store.Nodes().GetAncestors(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(ancestors)-1; i < j; i, j = i+1, j-1 {
		ancestors[i], ancestors[j] = ancestors[j], ancestors[i]
	}
	return ancestors, nil
}

// GetNodeByAttributes returns the children of parentID carrying all attrs, oldest first.
func (s *DocumentService) GetNodeByAttributes(ctx context.Context, parentID string, attrs map[string]string) ([]domain.Node, error) {
	if _, err := getFolder(ctx, s.store.Nodes(), parentID); err != nil {
		return nil, err
	}
	return s.store.Nodes().FindChildrenByAttributes(ctx, parentID, attrs)
}

// CreateAttribute adds a new attribute; an existing name is a DuplicateNameError.
func (s *DocumentService) CreateAttribute(ctx context.Context, nodeID, name, value, userID, lockToken string) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}
	var id string
	err := s.mutateNode(ctx, nodeID, userID, lockToken, func(ctx context.Context, nodes repository.NodeStore, node *domain.Node) error {
		if _, ok := node.Attribute(name); ok {
			return &domain.DuplicateNameError{Name: name, ParentID: nodeID}
		}
		var err error
		id, err = nodes.SetAttribute(ctx, nodeID, name, value)
		return err
	})
	return id, err
}

func (s *DocumentService) UpdateAttribute(ctx context.Context, nodeID, name, value, userID, lockToken string) error {
	if err := validateName(name); err != nil {
		return err
	}
	return s.mutateNode(ctx, nodeID, userID, lockToken, func(ctx context.Context, nodes repository.NodeStore, node *domain.Node) error {
		_, err := nodes.SetAttribute(ctx, nodeID, name, value)
		return err
	})
}

func (s *DocumentService) UpdateAttributes(ctx context.Context, nodeID string, attrs map[string]string, userID, lockToken string) error {
	return s.mutateNode(ctx, nodeID, userID, lockToken, func(ctx context.Context, nodes repository.NodeStore, node *domain.Node) error {
		for _, k := range sortedKeys(attrs) {
			if _, err := nodes.SetAttribute(ctx, nodeID, k, attrs[k]); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *DocumentService) DeleteAttribute(ctx context.Context, nodeID, name, userID, lockToken string) error {
	return s.mutateNode(ctx, nodeID, userID, lockToken, func(ctx context.Context, nodes repository.NodeStore, node *domain.Node) error {
		return nodes.DeleteAttribute(ctx, nodeID, name)
	})
}

// mutateNode runs fn behind the lock gate and stamps the node afterwards.
func (s *DocumentService) mutateNode(
	ctx context.Context,
	nodeID, userID, lockToken string,
	fn func(ctx context.Context, nodes repository.NodeStore, node *domain.Node) error,
) error {
	now := s.now()
	return s.store.WithTx(ctx, func(ctx context.Context, q repository.Querier) error {
		node, err := getNode(ctx, q.Nodes(), nodeID)
		if err != nil {
			return err
		}
		if err := checkNode(ctx, q.Nodes(), node, lockToken); err != nil {
			return err
		}
		if err := fn(ctx, q.Nodes(), node); err != nil {
			return err
		}
		return stampNode(ctx, q.Nodes(), nodeID, userID, now)
	})
}

func (s *DocumentService) IsFileNameUnique(ctx context.Context, name, parentID string) (bool, error) {
	_, err := s.store.Nodes().GetByName(ctx, parentID, name)
	if errors.Is(err, domain.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return false, nil
}

// DuplicateFileNamesInDirectory returns the names already used under parentID,
// in input order and without repeats.
func (s *DocumentService) DuplicateFileNamesInDirectory(ctx context.Context, names []string, parentID string) ([]string, error) {
	existing, err := s.store.Nodes().ExistingNames(ctx, parentID, names)
	if err != nil {
		return nil, err
	}
	taken := make(map[string]bool, len(existing))
	for _, n := range existing {
		taken[n] = true
	}
	dups := []string{}
	seen := make(map[string]bool)
	for _, n := range names {
		if taken[n] && !seen[n] {
			dups = append(dups, n)
			seen[n] = true
		}
	}
	return dups, nil
}
