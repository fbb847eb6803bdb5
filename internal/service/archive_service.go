package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"contentdrive/internal/domain"
	"contentdrive/internal/logging"
	"contentdrive/internal/repository"
	"contentdrive/internal/storage"
	"github.com/klauspost/compress/zip"
)

const propertiesExt = ".properties"

// ArchiveService builds zip exports of files and folders. Exports are built in
// memory and either complete or fail as a whole.
type ArchiveService struct {
	store  repository.Store
	engine storage.Engine
	logger logging.Logger
}

func NewArchiveService(store repository.Store, engine storage.Engine, logger logging.Logger) *ArchiveService {
	return &ArchiveService{
		store:  store,
		engine: engine,
		logger: logger.With("component", "archive"),
	}
}

type archive struct {
	buf     bytes.Buffer
	zw      *zip.Writer
	entries map[string]bool
}

func newArchive() *archive {
	a := &archive{entries: make(map[string]bool)}
	a.zw = zip.NewWriter(&a.buf)
	return a
}

func (a *archive) add(name string, modified time.Time, content []byte) error {
	if a.entries[name] {
		return fmt.Errorf("duplicate entry %q", name)
	}
	a.entries[name] = true

	w, err := a.zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: modified,
	})
	if err != nil {
		return fmt.Errorf("failed to create entry %q: %w", name, err)
	}
	if _, err := w.Write(content); err != nil {
		return fmt.Errorf("failed to write entry %q: %w", name, err)
	}
	return nil
}

// name returns primary unless an earlier entry already took it, then fallback.
func (a *archive) name(primary, fallback string) string {
	if a.entries[primary] {
		return fallback
	}
	return primary
}

func (a *archive) close() ([]byte, error) {
	if err := a.zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}
	return a.buf.Bytes(), nil
}

// properties renders created-on followed by the attributes in key order.
func properties(createdOn time.Time, attrs map[string]string) []byte {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s = %s\n", domain.CreatedOnProperty, domain.FormatMillis(createdOn))
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, "%s = %s\n", k, attrs[k])
	}
	return []byte(sb.String())
}

func entryName(node *domain.Node, v *domain.Version) string {
	if v.Filename != "" {
		return v.Filename
	}
	return node.Name
}

// GetFileAsZip exports one version of a file; an empty versionName selects the latest.
func (s *ArchiveService) GetFileAsZip(ctx context.Context, fileID, versionName string, includeProperties bool) ([]byte, error) {
	file, err := getFile(ctx, s.store.Nodes(), fileID)
	if err != nil {
		return nil, err
	}
	v, err := resolveVersion(ctx, s.store.Versions(), fileID, versionName)
	if err != nil {
		return nil, err
	}

	a := newArchive()
	if err := s.addVersion(ctx, a, "", file, v); err != nil {
		return nil, s.fail(ctx, fileID, err)
	}
	if includeProperties {
		if err := a.add(file.Name+propertiesExt, file.CreatedOn, properties(file.CreatedOn, file.AttributeMap())); err != nil {
			return nil, s.fail(ctx, fileID, err)
		}
		name := a.name(v.Name+propertiesExt, file.Name+"."+v.Name+propertiesExt)
		if err := a.add(name, v.CreatedOn, properties(v.CreatedOn, v.AttributeMap())); err != nil {
			return nil, s.fail(ctx, fileID, err)
		}
	}
	out, err := a.close()
	if err != nil {
		return nil, s.fail(ctx, fileID, err)
	}
	return out, nil
}

// GetFolderAsZip exports the latest version of every file in the folder. With
// isDeep subfolders are walked too and their files are placed under their
// relative path. Children are visited in name order. A content entry whose
// filename is already taken goes under a directory named after its file node.
func (s *ArchiveService) GetFolderAsZip(ctx context.Context, folderID string, includeProperties, isDeep bool) ([]byte, error) {
	if _, err := getFolder(ctx, s.store.Nodes(), folderID); err != nil {
		return nil, err
	}

	a := newArchive()
	if err := s.walk(ctx, a, folderID, "", includeProperties, isDeep); err != nil {
		return nil, s.fail(ctx, folderID, err)
	}
	out, err := a.close()
	if err != nil {
		return nil, s.fail(ctx, folderID, err)
	}
	s.logger.Debug(ctx, "folder exported", "folder_id", folderID, "entries", len(a.entries))
	return out, nil
}

func (s *ArchiveService) walk(ctx context.Context, a *archive, folderID, prefix string, includeProperties, isDeep bool) error {
	children, err := s.store.Nodes().GetChildren(ctx, folderID)
	if err != nil {
		return err
	}
	domain.SortNodesByName(children)

	for i := range children {
		child := &children[i]
		if child.IsFolder() {
			if isDeep {
				if includeProperties {
					if err := a.add(prefix+child.Name+propertiesExt, child.CreatedOn, properties(child.CreatedOn, child.AttributeMap())); err != nil {
						return err
					}
				}
				if err := s.walk(ctx, a, child.ID, prefix+child.Name+"/", includeProperties, isDeep); err != nil {
					return err
				}
			}
			continue
		}

		v, err := s.store.Versions().GetLatest(ctx, child.ID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if v != nil {
			if err := s.addVersion(ctx, a, prefix, child, v); err != nil {
				return err
			}
		}
		if !includeProperties {
			continue
		}
		if err := a.add(prefix+child.Name+propertiesExt, child.CreatedOn, properties(child.CreatedOn, child.AttributeMap())); err != nil {
			return err
		}
		if v != nil {
			name := prefix + child.Name + "." + v.Name + propertiesExt
			if err := a.add(name, v.CreatedOn, properties(v.CreatedOn, v.AttributeMap())); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *ArchiveService) addVersion(ctx context.Context, a *archive, prefix string, node *domain.Node, v *domain.Version) error {
	content, err := s.engine.GetVersionContent(ctx, v.ID)
	if err != nil {
		return &domain.ContentIOError{Op: "read", VersionID: v.ID, Err: err}
	}
	// filenames are not unique among siblings; node names are
	name := a.name(prefix+entryName(node, v), prefix+node.Name+"/"+entryName(node, v))
	return a.add(name, v.CreatedOn, content)
}

func (s *ArchiveService) fail(ctx context.Context, nodeID string, err error) error {
	s.logger.Error(ctx, "archive export failed", "node_id", nodeID, "error", err)
	return &domain.ArchiveError{NodeID: nodeID, Err: err}
}
