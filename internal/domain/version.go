package domain

import (
	"sort"
	"strconv"
	"time"
)

// Version is an immutable-once-written content snapshot of a file.
type Version struct {
	ID          string             `json:"id" db:"id"`
	FileID      string             `json:"file_id" db:"node_id"`
	Name        string             `json:"name" db:"name"`
	Filename    string             `json:"filename" db:"filename"`
	Mimetype    string             `json:"mimetype" db:"mimetype"`
	ContentSize int64              `json:"content_size" db:"content_size"`
	CreatedOn   time.Time          `json:"created_on" db:"created_on"`
	Attributes  []VersionAttribute `json:"attributes,omitempty" db:"-"`
}

type VersionAttribute struct {
	ID        string `json:"id" db:"id"`
	VersionID string `json:"version_id" db:"version_id"`
	Name      string `json:"name" db:"name"`
	Value     string `json:"value" db:"value"`
}

// VersionDeleted marks a version whose payload still has to be purged from storage.
type VersionDeleted struct {
	ID        string    `json:"id" db:"id"`
	DeletedOn time.Time `json:"deleted_on" db:"deleted_on"`
}

// BinChunk is a positional slice of a version's payload. ChunkIndex starts at 1.
type BinChunk struct {
	ID         string `json:"id"`
	VersionID  string `json:"version_id"`
	ChunkIndex int    `json:"chunk_index"`
	Content    []byte `json:"content"`
}

func ChunkID(versionID string, chunkIndex int) string {
	return versionID + ":" + strconv.Itoa(chunkIndex)
}

// IsSystemAttribute reports whether the key is managed by the version lifecycle.
func IsSystemAttribute(name string) bool {
	switch name {
	case AttrCreatedBy, AttrLastModifiedOn, AttrLastModifiedBy:
		return true
	}
	return false
}

func (v *Version) Attribute(name string) (string, bool) {
	for _, a := range v.Attributes {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

func (v *Version) AttributeMap() map[string]string {
	m := make(map[string]string, len(v.Attributes))
	for _, a := range v.Attributes {
		m[a.Name] = a.Value
	}
	return m
}

// CustomAttributes returns the caller-managed attributes.
func (v *Version) CustomAttributes() map[string]string {
	m := make(map[string]string)
	for _, a := range v.Attributes {
		if !IsSystemAttribute(a.Name) {
			m[a.Name] = a.Value
		}
	}
	return m
}

// SortVersions orders versions by creation time, then id.
func SortVersions(versions []Version) {
	sort.SliceStable(versions, func(i, j int) bool {
		if !versions[i].CreatedOn.Equal(versions[j].CreatedOn) {
			return versions[i].CreatedOn.Before(versions[j].CreatedOn)
		}
		return versions[i].ID < versions[j].ID
	})
}

// Latest returns the last version under SortVersions order, or nil.
func Latest(versions []Version) *Version {
	if len(versions) == 0 {
		return nil
	}
	sorted := append([]Version(nil), versions...)
	SortVersions(sorted)
	v := sorted[len(sorted)-1]
	return &v
}

// FormatMillis renders a timestamp the way system attributes store it.
func FormatMillis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
