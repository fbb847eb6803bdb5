package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrDuplicateName   = errors.New("duplicate name")
	ErrLockConflict    = errors.New("lock conflict")
	ErrContentNotFound = errors.New("content not found")
	ErrContentIO       = errors.New("content i/o failure")
	ErrArchive         = errors.New("archive assembly failure")
	ErrInvalidMove     = errors.New("destination is inside the source subtree")
	ErrNotFolder       = errors.New("node is not a folder")
	ErrNotFile         = errors.New("node is not a file")
	ErrInvalidChunk    = errors.New("chunk index must be positive")
	ErrInvalidName     = errors.New("name must not be empty")
	ErrRootFolder      = errors.New("operation not permitted on the root folder")
)

type LockScope string

const (
	LockScopeSelectedNode   LockScope = "selected-node"
	LockScopeAncestorFolder LockScope = "ancestor-folder"
	LockScopeDescendantNode LockScope = "descendant-node"
)

// LockConflictError identifies the node whose lock blocked a mutation.
type LockConflictError struct {
	Scope  LockScope
	NodeID string
	Name   string
}

func (e *LockConflictError) Error() string {
	switch e.Scope {
	case LockScopeAncestorFolder:
		return fmt.Sprintf("ancestor folder %q (%s) is locked with a different token", e.Name, e.NodeID)
	case LockScopeDescendantNode:
		return fmt.Sprintf("descendant node %q (%s) is locked with a different token", e.Name, e.NodeID)
	default:
		return fmt.Sprintf("node %q (%s) is locked with a different token", e.Name, e.NodeID)
	}
}

func (e *LockConflictError) Is(target error) bool { return target == ErrLockConflict }

func SelectedNodeLockConflict(n *Node) error {
	return &LockConflictError{Scope: LockScopeSelectedNode, NodeID: n.ID, Name: n.Name}
}

func AncestorFolderLockConflict(n *Node) error {
	return &LockConflictError{Scope: LockScopeAncestorFolder, NodeID: n.ID, Name: n.Name}
}

func DescendantNodeLockConflict(n *Node) error {
	return &LockConflictError{Scope: LockScopeDescendantNode, NodeID: n.ID, Name: n.Name}
}

// IsLockConflict reports whether err is a lock conflict of the given scope.
func IsLockConflict(err error, scope LockScope) bool {
	var lc *LockConflictError
	return errors.As(err, &lc) && lc.Scope == scope
}

type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

func NodeNotFound(id string) error    { return &NotFoundError{Kind: "node", ID: id} }
func FolderNotFound(id string) error  { return &NotFoundError{Kind: "folder", ID: id} }
func FileNotFound(id string) error    { return &NotFoundError{Kind: "file", ID: id} }
func VersionNotFound(id string) error { return &NotFoundError{Kind: "version", ID: id} }

type DuplicateNameError struct {
	Name     string
	ParentID string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("name %q is already used under %s", e.Name, e.ParentID)
}

func (e *DuplicateNameError) Is(target error) bool { return target == ErrDuplicateName }

// ContentIOError wraps a storage engine failure. When returned together with an
// id from a create call, the metadata change has already been committed.
type ContentIOError struct {
	Op        string
	VersionID string
	Err       error
}

func (e *ContentIOError) Error() string {
	return fmt.Sprintf("%s content of version %s: %v", e.Op, e.VersionID, e.Err)
}

func (e *ContentIOError) Unwrap() error { return e.Err }

func (e *ContentIOError) Is(target error) bool { return target == ErrContentIO }

type ArchiveError struct {
	NodeID string
	Err    error
}

func (e *ArchiveError) Error() string {
	return fmt.Sprintf("building archive for node %s: %v", e.NodeID, e.Err)
}

func (e *ArchiveError) Unwrap() error { return e.Err }

func (e *ArchiveError) Is(target error) bool { return target == ErrArchive }
