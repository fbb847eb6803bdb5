package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"contentdrive/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const versionColumns = `id, node_id, name, filename, mimetype, content_size, created_on`

type VersionRepository struct {
	db sqlx.ExtContext
}

func NewVersionRepository(db sqlx.ExtContext) *VersionRepository {
	return &VersionRepository{db: db}
}

func (r *VersionRepository) Create(ctx context.Context, v *domain.Version) error {
	query := `
        INSERT INTO versions (id, node_id, name, filename, mimetype, content_size, created_on)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.ExecContext(ctx, query,
		v.ID,
		v.FileID,
		v.Name,
		v.Filename,
		v.Mimetype,
		v.ContentSize,
		v.CreatedOn,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &domain.DuplicateNameError{Name: v.Name, ParentID: v.FileID}
		}
		return fmt.Errorf("failed to create version: %w", err)
	}

	for i := range v.Attributes {
		attr := &v.Attributes[i]
		attr.VersionID = v.ID
		if attr.ID == "" {
			attr.ID = uuid.NewString()
		}
		_, err := r.db.ExecContext(ctx,
			`INSERT INTO version_attributes (id, version_id, name, value) VALUES ($1, $2, $3, $4)`,
			attr.ID, v.ID, attr.Name, attr.Value)
		if err != nil {
			return fmt.Errorf("failed to create version attribute %q: %w", attr.Name, err)
		}
	}
	return nil
}

func (r *VersionRepository) GetByID(ctx context.Context, id string) (*domain.Version, error) {
	query := `SELECT ` + versionColumns + ` FROM versions WHERE id = $1`
	return r.getOne(ctx, domain.VersionNotFound(id), query, id)
}

func (r *VersionRepository) GetByName(ctx context.Context, fileID, name string) (*domain.Version, error) {
	query := `SELECT ` + versionColumns + ` FROM versions WHERE node_id = $1 AND name = $2`
	return r.getOne(ctx, domain.VersionNotFound(name), query, fileID, name)
}

func (r *VersionRepository) GetLatest(ctx context.Context, fileID string) (*domain.Version, error) {
	query := `SELECT ` + versionColumns + ` FROM versions WHERE node_id = $1 ORDER BY created_on DESC, id DESC LIMIT 1`
	return r.getOne(ctx, domain.VersionNotFound(fileID), query, fileID)
}

func (r *VersionRepository) ListByFile(ctx context.Context, fileID string) ([]domain.Version, error) {
	query := `SELECT ` + versionColumns + ` FROM versions WHERE node_id = $1 ORDER BY created_on, id`
	return r.selectVersions(ctx, query, fileID)
}

func (r *VersionRepository) ListByFiles(ctx context.Context, fileIDs []string) ([]domain.Version, error) {
	if len(fileIDs) == 0 {
		return nil, nil
	}
	query := `SELECT ` + versionColumns + ` FROM versions WHERE node_id = ANY($1) ORDER BY created_on, id`
	return r.selectVersions(ctx, query, pq.Array(fileIDs))
}

func (r *VersionRepository) Update(ctx context.Context, v *domain.Version) error {
	query := `
        UPDATE versions
        SET name = $1, filename = $2, mimetype = $3, content_size = $4
        WHERE id = $5`

	res, err := r.db.ExecContext(ctx, query, v.Name, v.Filename, v.Mimetype, v.ContentSize, v.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return &domain.DuplicateNameError{Name: v.Name, ParentID: v.FileID}
		}
		return fmt.Errorf("failed to update version: %w", err)
	}
	return expectAffected(res, domain.VersionNotFound(v.ID))
}

func (r *VersionRepository) UpdateMimetype(ctx context.Context, id, mimetype string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE versions SET mimetype = $1 WHERE id = $2`, mimetype, id)
	if err != nil {
		return fmt.Errorf("failed to update mimetype: %w", err)
	}
	return expectAffected(res, domain.VersionNotFound(id))
}

func (r *VersionRepository) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM versions WHERE id = ANY($1)`, pq.Array(ids)); err != nil {
		return fmt.Errorf("failed to delete versions: %w", err)
	}
	return nil
}

func (r *VersionRepository) SetAttribute(ctx context.Context, versionID, name, value string) error {
	query := `
        INSERT INTO version_attributes (id, version_id, name, value)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (version_id, name) DO UPDATE SET value = EXCLUDED.value`

	if _, err := r.db.ExecContext(ctx, query, uuid.NewString(), versionID, name, value); err != nil {
		return fmt.Errorf("failed to set version attribute %q: %w", name, err)
	}
	return nil
}

func (r *VersionRepository) DeleteAttribute(ctx context.Context, versionID, name string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM version_attributes WHERE version_id = $1 AND name = $2`, versionID, name)
	if err != nil {
		return fmt.Errorf("failed to delete version attribute %q: %w", name, err)
	}
	return nil
}

func (r *VersionRepository) getOne(ctx context.Context, notFound error, query string, args ...any) (*domain.Version, error) {
	var v domain.Version
	if err := sqlx.GetContext(ctx, r.db, &v, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound
		}
		return nil, fmt.Errorf("failed to get version: %w", err)
	}
	if err := r.loadAttributes(ctx, []*domain.Version{&v}); err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *VersionRepository) selectVersions(ctx context.Context, query string, args ...any) ([]domain.Version, error) {
	var versions []domain.Version
	if err := sqlx.SelectContext(ctx, r.db, &versions, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	ptrs := make([]*domain.Version, len(versions))
	for i := range versions {
		ptrs[i] = &versions[i]
	}
	if err := r.loadAttributes(ctx, ptrs); err != nil {
		return nil, err
	}
	return versions, nil
}

func (r *VersionRepository) loadAttributes(ctx context.Context, versions []*domain.Version) error {
	if len(versions) == 0 {
		return nil
	}
	ids := make([]string, len(versions))
	byID := make(map[string]*domain.Version, len(versions))
	for i, v := range versions {
		ids[i] = v.ID
		byID[v.ID] = v
	}

	var attrs []domain.VersionAttribute
	query := `SELECT id, version_id, name, value FROM version_attributes WHERE version_id = ANY($1) ORDER BY name`
	if err := sqlx.SelectContext(ctx, r.db, &attrs, query, pq.Array(ids)); err != nil {
		return fmt.Errorf("failed to load version attributes: %w", err)
	}
	for _, a := range attrs {
		if v, ok := byID[a.VersionID]; ok {
			v.Attributes = append(v.Attributes, a)
		}
	}
	return nil
}
