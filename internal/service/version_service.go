package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"contentdrive/internal/domain"
	"contentdrive/internal/logging"
	"contentdrive/internal/repository"
	"contentdrive/internal/storage"
)

// VersionInput is the caller-supplied metadata of a new version. Empty
// Mimetype and zero ContentSize are computed from the payload when one is given.
type VersionInput struct {
	Name        string            `json:"name"`
	Mimetype    string            `json:"mimetype"`
	ContentSize int64             `json:"content_size"`
	Attributes  map[string]string `json:"attributes"`
}

type VersionUpdate struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Filename    string            `json:"filename"`
	Mimetype    string            `json:"mimetype"`
	ContentSize int64             `json:"content_size"`
	Attributes  map[string]string `json:"attributes"`
}

type VersionService struct {
	store    repository.Store
	engine   storage.Engine
	detector MimeDetector
	logger   logging.Logger
	now      func() time.Time
}

func NewVersionService(
	store repository.Store,
	engine storage.Engine,
	detector MimeDetector,
	logger logging.Logger,
) *VersionService {
	return &VersionService{
		store:    store,
		engine:   engine,
		detector: detector,
		logger:   logger.With("component", "versions"),
		now:      time.Now,
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func newVersion(
	fileID string,
	meta VersionInput,
	filename string,
	content []byte,
	userID string,
	now time.Time,
	detector MimeDetector,
) *domain.Version {
	v := &domain.Version{
		ID:          newID(),
		FileID:      fileID,
		Name:        meta.Name,
		Filename:    filename,
		Mimetype:    meta.Mimetype,
		ContentSize: meta.ContentSize,
		CreatedOn:   now,
	}
	if content != nil {
		v.ContentSize = int64(len(content))
		if v.Mimetype == "" {
			v.Mimetype = detector.Detect(content)
		}
	}
	if v.Mimetype == "" {
		v.Mimetype = DefaultMimetype
	}

	stamp := domain.FormatMillis(now)
	v.Attributes = []domain.VersionAttribute{
		{Name: domain.AttrCreatedBy, Value: userID},
		{Name: domain.AttrLastModifiedOn, Value: stamp},
		{Name: domain.AttrLastModifiedBy, Value: userID},
	}
	for _, k := range sortedKeys(meta.Attributes) {
		if domain.IsSystemAttribute(k) {
			continue
		}
		v.Attributes = append(v.Attributes, domain.VersionAttribute{Name: k, Value: meta.Attributes[k]})
	}
	return v
}

// insertVersion assigns the next free ordinal name when the version has none.
func insertVersion(ctx context.Context, versions repository.VersionStore, v *domain.Version) error {
	if v.Name == "" {
		existing, err := versions.ListByFile(ctx, v.FileID)
		if err != nil {
			return err
		}
		used := make(map[string]bool, len(existing))
		for _, e := range existing {
			used[e.Name] = true
		}
		n := len(existing) + 1
		for used[strconv.Itoa(n)] {
			n++
		}
		v.Name = strconv.Itoa(n)
	}
	return versions.Create(ctx, v)
}

// lockedFile loads a file and applies the selected-node and ancestor checks.
func lockedFile(ctx context.Context, nodes repository.NodeStore, fileID, lockToken string) (*domain.Node, error) {
	file, err := getFile(ctx, nodes, fileID)
	if err != nil {
		return nil, err
	}
	if err := checkNode(ctx, nodes, file, lockToken); err != nil {
		return nil, err
	}
	return file, nil
}

// CreateVersion appends a version to fileID. The id is returned even when the
// payload write fails after commit; the error is then a ContentIOError.
func (s *VersionService) CreateVersion(
	ctx context.Context,
	fileID string,
	meta VersionInput,
	filename string,
	content []byte,
	userID, lockToken string,
) (string, error) {
	if meta.Name != "" {
		if err := validateName(meta.Name); err != nil {
			return "", err
		}
	}
	v := newVersion(fileID, meta, filename, content, userID, s.now(), s.detector)

	err := s.store.WithTx(ctx, func(ctx context.Context, q repository.Querier) error {
		if _, err := lockedFile(ctx, q.Nodes(), fileID, lockToken); err != nil {
			return err
		}
		return insertVersion(ctx, q.Versions(), v)
	})
	if err != nil {
		return "", err
	}

	if content != nil {
		if err := s.engine.SetVersionContent(ctx, v.ID, content); err != nil {
			s.logger.Error(ctx, "failed to store version content", "version_id", v.ID, "error", err)
			return v.ID, &domain.ContentIOError{Op: "write", VersionID: v.ID, Err: err}
		}
	}
	s.logger.Info(ctx, "version created", "file_id", fileID, "version_id", v.ID, "name", v.Name, "size", v.ContentSize)
	return v.ID, nil
}

// UpdateVersion rewrites version metadata and optionally its payload. With
// replaceAll the custom attributes become exactly upd.Attributes, otherwise
// they are merged. System attributes are never taken from the caller.
func (s *VersionService) UpdateVersion(
	ctx context.Context,
	fileID string,
	upd VersionUpdate,
	content []byte,
	userID string,
	replaceAll bool,
	lockToken string,
) error {
	now := s.now()
	err := s.store.WithTx(ctx, func(ctx context.Context, q repository.Querier) error {
		if _, err := lockedFile(ctx, q.Nodes(), fileID, lockToken); err != nil {
			return err
		}
		v, err := q.Versions().GetByID(ctx, upd.ID)
		if err != nil {
			return err
		}
		if v.FileID != fileID {
			return domain.VersionNotFound(upd.ID)
		}

		if upd.Name != "" {
			if err := validateName(upd.Name); err != nil {
				return err
			}
			v.Name = upd.Name
		}
		if upd.Filename != "" {
			v.Filename = upd.Filename
		}
		switch {
		case content != nil:
			v.ContentSize = int64(len(content))
		case upd.ContentSize > 0:
			v.ContentSize = upd.ContentSize
		}
		switch {
		case upd.Mimetype != "":
			v.Mimetype = upd.Mimetype
		case content != nil:
			v.Mimetype = s.detector.Detect(content)
		}
		if err := q.Versions().Update(ctx, v); err != nil {
			return err
		}

		if replaceAll {
			for name := range v.CustomAttributes() {
				if _, keep := upd.Attributes[name]; keep {
					continue
				}
				if err := q.Versions().DeleteAttribute(ctx, v.ID, name); err != nil {
					return err
				}
			}
		}
		for _, k := range sortedKeys(upd.Attributes) {
			if domain.IsSystemAttribute(k) {
				continue
			}
			if err := q.Versions().SetAttribute(ctx, v.ID, k, upd.Attributes[k]); err != nil {
				return err
			}
		}
		if err := stampVersion(ctx, q.Versions(), v.ID, userID, now); err != nil {
			return err
		}
		return stampNode(ctx, q.Nodes(), fileID, userID, now)
	})
	if err != nil {
		return err
	}

	if content != nil {
		if err := s.ReplaceVersionContent(ctx, upd.ID, content); err != nil {
			return err
		}
	}
	s.logger.Info(ctx, "version updated", "file_id", fileID, "version_id", upd.ID, "replace_attributes", replaceAll)
	return nil
}

// GetFileVersions returns every version of fileID, oldest first.
func (s *VersionService) GetFileVersions(ctx context.Context, fileID string) ([]domain.Version, error) {
	if _, err := getFile(ctx, s.store.Nodes(), fileID); err != nil {
		return nil, err
	}
	return s.store.Versions().ListByFile(ctx, fileID)
}

func (s *VersionService) GetFileLatestVersion(ctx context.Context, fileID string) (*domain.Version, error) {
	if _, err := getFile(ctx, s.store.Nodes(), fileID); err != nil {
		return nil, err
	}
	return s.store.Versions().GetLatest(ctx, fileID)
}

func (s *VersionService) GetVersionByID(ctx context.Context, versionID string) (*domain.Version, error) {
	return s.store.Versions().GetByID(ctx, versionID)
}

// GetVersion resolves a version by name; an empty name means the latest one.
func (s *VersionService) GetVersion(ctx context.Context, fileID, versionName string) (*domain.Version, error) {
	if _, err := getFile(ctx, s.store.Nodes(), fileID); err != nil {
		return nil, err
	}
	return resolveVersion(ctx, s.store.Versions(), fileID, versionName)
}

func (s *VersionService) GetBinContent(ctx context.Context, fileID, versionName string) ([]byte, error) {
	v, err := s.GetVersion(ctx, fileID, versionName)
	if err != nil {
		return nil, err
	}
	content, err := s.engine.GetVersionContent(ctx, v.ID)
	if err != nil {
		if errors.Is(err, domain.ErrContentNotFound) {
			return nil, err
		}
		return nil, &domain.ContentIOError{Op: "read", VersionID: v.ID, Err: err}
	}
	return content, nil
}

func (s *VersionService) UpdateAttribute(ctx context.Context, fileID, versionName, name, value, userID, lockToken string) error {
	return s.UpdateAttributes(ctx, fileID, versionName, map[string]string{name: value}, userID, lockToken)
}

// UpdateAttributes upserts custom attributes on a version. System keys are ignored.
func (s *VersionService) UpdateAttributes(ctx context.Context, fileID, versionName string, attrs map[string]string, userID, lockToken string) error {
	for k := range attrs {
		if err := validateName(k); err != nil {
			return err
		}
	}
	return s.mutateVersion(ctx, fileID, versionName, userID, lockToken, func(ctx context.Context, versions repository.VersionStore, v *domain.Version) error {
		for _, k := range sortedKeys(attrs) {
			if domain.IsSystemAttribute(k) {
				continue
			}
			if err := versions.SetAttribute(ctx, v.ID, k, attrs[k]); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *VersionService) DeleteAttribute(ctx context.Context, fileID, versionName, name, userID, lockToken string) error {
	if domain.IsSystemAttribute(name) {
		return fmt.Errorf("%w: %s is managed by the system", domain.ErrInvalidName, name)
	}
	return s.mutateVersion(ctx, fileID, versionName, userID, lockToken, func(ctx context.Context, versions repository.VersionStore, v *domain.Version) error {
		return versions.DeleteAttribute(ctx, v.ID, name)
	})
}

func (s *VersionService) mutateVersion(
	ctx context.Context,
	fileID, versionName, userID, lockToken string,
	fn func(ctx context.Context, versions repository.VersionStore, v *domain.Version) error,
) error {
	now := s.now()
	return s.store.WithTx(ctx, func(ctx context.Context, q repository.Querier) error {
		if _, err := lockedFile(ctx, q.Nodes(), fileID, lockToken); err != nil {
			return err
		}
		v, err := resolveVersion(ctx, q.Versions(), fileID, versionName)
		if err != nil {
			return err
		}
		if err := fn(ctx, q.Versions(), v); err != nil {
			return err
		}
		return stampVersion(ctx, q.Versions(), v.ID, userID, now)
	})
}

// DeleteVersion removes the version row and queues its payload for purge.
func (s *VersionService) DeleteVersion(ctx context.Context, versionID, lockToken string) error {
	err := s.store.WithTx(ctx, func(ctx context.Context, q repository.Querier) error {
		v, err := q.Versions().GetByID(ctx, versionID)
		if err != nil {
			return err
		}
		if _, err := lockedFile(ctx, q.Nodes(), v.FileID, lockToken); err != nil {
			return err
		}
		if err := q.Tombstones().Insert(ctx, []string{versionID}); err != nil {
			return err
		}
		return q.Versions().Delete(ctx, []string{versionID})
	})
	if err != nil {
		return err
	}
	s.logger.Info(ctx, "version deleted", "version_id", versionID)
	return nil
}

// SetBinChunk stores one positional chunk. The first chunk also re-detects
// the version's mimetype.
func (s *VersionService) SetBinChunk(ctx context.Context, versionID string, content []byte, chunkIndex int) (string, error) {
	if chunkIndex < 1 {
		return "", fmt.Errorf("%w: index %d", domain.ErrInvalidChunk, chunkIndex)
	}
	if _, err := s.store.Versions().GetByID(ctx, versionID); err != nil {
		return "", err
	}
	id, err := s.engine.SetBinChunk(ctx, versionID, content, chunkIndex)
	if err != nil {
		return "", &domain.ContentIOError{Op: "write", VersionID: versionID, Err: err}
	}
	if chunkIndex == 1 {
		if mt := s.detector.Detect(content); mt != "" {
			if err := s.store.Versions().UpdateMimetype(ctx, versionID, mt); err != nil {
				return "", err
			}
		}
	}
	return id, nil
}

func (s *VersionService) GetBinChunk(ctx context.Context, versionID string, chunkIndex int) (*domain.BinChunk, error) {
	if chunkIndex < 1 {
		return nil, fmt.Errorf("%w: index %d", domain.ErrInvalidChunk, chunkIndex)
	}
	c, err := s.engine.GetBinChunk(ctx, versionID, chunkIndex)
	if err != nil {
		if errors.Is(err, domain.ErrContentNotFound) {
			return nil, err
		}
		return nil, &domain.ContentIOError{Op: "read", VersionID: versionID, Err: err}
	}
	return c, nil
}

// ReplaceVersionContent drops any stored payload and writes content. Nothing
// to delete is not an error.
func (s *VersionService) ReplaceVersionContent(ctx context.Context, versionID string, content []byte) error {
	deleted, err := s.engine.DeleteVersion(ctx, versionID)
	if err != nil {
		s.logger.Error(ctx, "failed to delete previous content", "version_id", versionID, "error", err)
		return &domain.ContentIOError{Op: "delete", VersionID: versionID, Err: err}
	}
	if err := s.engine.SetVersionContent(ctx, versionID, content); err != nil {
		s.logger.Error(ctx, "failed to write replacement content", "version_id", versionID, "error", err)
		return &domain.ContentIOError{Op: "write", VersionID: versionID, Err: err}
	}
	s.logger.Debug(ctx, "version content replaced", "version_id", versionID, "had_previous", deleted)
	return nil
}

// GetVersionsByFilenames returns versions of files directly under parentID
// whose filename is listed, newest first.
func (s *VersionService) GetVersionsByFilenames(ctx context.Context, parentID string, filenames []string) ([]domain.Version, error) {
	if _, err := getFolder(ctx, s.store.Nodes(), parentID); err != nil {
		return nil, err
	}
	children, err := s.store.Nodes().GetChildren(ctx, parentID)
	if err != nil {
		return nil, err
	}
	var fileIDs []string
	for _, c := range children {
		if c.IsFile() {
			fileIDs = append(fileIDs, c.ID)
		}
	}
	versions, err := s.store.Versions().ListByFiles(ctx, fileIDs)
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(filenames))
	for _, f := range filenames {
		wanted[f] = true
	}
	result := []domain.Version{}
	for _, v := range versions {
		if wanted[v.Filename] {
			result = append(result, v)
		}
	}
	domain.SortVersions(result)
	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	return result, nil
}

// GetFileLatestVersionByNodeAttributes picks the oldest child file of parentID
// carrying attrs and returns its latest version.
func (s *VersionService) GetFileLatestVersionByNodeAttributes(ctx context.Context, parentID string, attrs map[string]string) (*domain.Version, error) {
	if _, err := getFolder(ctx, s.store.Nodes(), parentID); err != nil {
		return nil, err
	}
	nodes, err := s.store.Nodes().FindChildrenByAttributes(ctx, parentID, attrs)
	if err != nil {
		return nil, err
	}
	for _, n := range nodes {
		if n.IsFile() {
			return s.store.Versions().GetLatest(ctx, n.ID)
		}
	}
	return nil, &domain.NotFoundError{Kind: "file", ID: parentID}
}

func (s *VersionService) DetectMimetype(content []byte) string {
	return s.detector.Detect(content)
}
