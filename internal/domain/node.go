package domain

import (
	"sort"
	"time"
)

type NodeType string

const (
	NodeTypeFolder NodeType = "folder"
	NodeTypeFile   NodeType = "file"
)

const (
	RootFolderName = "Root"

	AttrCreatedBy      = "created-by"
	AttrLastModifiedOn = "last-modified-on"
	AttrLastModifiedBy = "last-modified-by"

	// CreatedOnProperty is synthesized into exported property listings.
	CreatedOnProperty = "created-on"
)

// Node is a folder or a file. Parent links are id references.
type Node struct {
	ID         string          `json:"id" db:"id"`
	Name       string          `json:"name" db:"name"`
	Type       NodeType        `json:"type" db:"type"`
	ParentID   *string         `json:"parent_id,omitempty" db:"parent_id"`
	CreatedOn  time.Time       `json:"created_on" db:"created_on"`
	LockToken  *string         `json:"lock_token,omitempty" db:"lock_token"`
	Attributes []NodeAttribute `json:"attributes,omitempty" db:"-"`
}

type NodeAttribute struct {
	ID     string `json:"id" db:"id"`
	NodeID string `json:"node_id" db:"node_id"`
	Name   string `json:"name" db:"name"`
	Value  string `json:"value" db:"value"`
}

func (n *Node) IsFolder() bool { return n.Type == NodeTypeFolder }

func (n *Node) IsFile() bool { return n.Type == NodeTypeFile }

func (n *Node) IsLocked() bool { return n.LockToken != nil }

// LockedWithOtherThan reports whether the node holds a lock token different from token.
func (n *Node) LockedWithOtherThan(token string) bool {
	return n.LockToken != nil && *n.LockToken != token
}

func (n *Node) Attribute(name string) (string, bool) {
	for _, a := range n.Attributes {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

func (n *Node) AttributeMap() map[string]string {
	m := make(map[string]string, len(n.Attributes))
	for _, a := range n.Attributes {
		m[a.Name] = a.Value
	}
	return m
}

// HasAttributes reports whether every key in attrs is present on the node with an equal value.
func (n *Node) HasAttributes(attrs map[string]string) bool {
	own := n.AttributeMap()
	for k, v := range attrs {
		if got, ok := own[k]; !ok || got != v {
			return false
		}
	}
	return true
}

// Folder is a folder together with its direct children.
type Folder struct {
	Node
	Children []Node `json:"children,omitempty"`
	Path     []Node `json:"path,omitempty"`
}

// File is a file node with its versions, oldest first.
type File struct {
	Node
	Versions []Version `json:"versions,omitempty"`
	Path     []Node    `json:"path,omitempty"`
}

// SortNodesByName orders nodes by name, then id.
func SortNodesByName(nodes []Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		if nodes[i].Name != nodes[j].Name {
			return nodes[i].Name < nodes[j].Name
		}
		return nodes[i].ID < nodes[j].ID
	})
}
