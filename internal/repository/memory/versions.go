package memory

import (
	"context"
	"sort"

	"contentdrive/internal/domain"
	"github.com/google/uuid"
)

type versionStore struct {
	access
}

func (r *versionStore) Create(ctx context.Context, v *domain.Version) error {
	return r.write(func(st *state) error {
		if _, ok := st.nodes[v.FileID]; !ok {
			return domain.FileNotFound(v.FileID)
		}
		if findVersionByName(st, v.FileID, v.Name) != nil {
			return &domain.DuplicateNameError{Name: v.Name, ParentID: v.FileID}
		}
		for i := range v.Attributes {
			v.Attributes[i].VersionID = v.ID
			if v.Attributes[i].ID == "" {
				v.Attributes[i].ID = uuid.NewString()
			}
		}
		st.versions[v.ID] = cloneVersion(v)
		return nil
	})
}

func (r *versionStore) GetByID(ctx context.Context, id string) (*domain.Version, error) {
	var out *domain.Version
	err := r.read(func(st *state) error {
		v, ok := st.versions[id]
		if !ok {
			return domain.VersionNotFound(id)
		}
		out = cloneVersion(v)
		return nil
	})
	return out, err
}

func (r *versionStore) GetByName(ctx context.Context, fileID, name string) (*domain.Version, error) {
	var out *domain.Version
	err := r.read(func(st *state) error {
		v := findVersionByName(st, fileID, name)
		if v == nil {
			return domain.VersionNotFound(name)
		}
		out = cloneVersion(v)
		return nil
	})
	return out, err
}

func (r *versionStore) GetLatest(ctx context.Context, fileID string) (*domain.Version, error) {
	versions, err := r.ListByFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	latest := domain.Latest(versions)
	if latest == nil {
		return nil, domain.VersionNotFound(fileID)
	}
	return latest, nil
}

func (r *versionStore) ListByFile(ctx context.Context, fileID string) ([]domain.Version, error) {
	return r.ListByFiles(ctx, []string{fileID})
}

func (r *versionStore) ListByFiles(ctx context.Context, fileIDs []string) ([]domain.Version, error) {
	wanted := make(map[string]bool, len(fileIDs))
	for _, id := range fileIDs {
		wanted[id] = true
	}
	var out []domain.Version
	err := r.read(func(st *state) error {
		for _, v := range st.versions {
			if wanted[v.FileID] {
				out = append(out, *cloneVersion(v))
			}
		}
		return nil
	})
	domain.SortVersions(out)
	return out, err
}

func (r *versionStore) Update(ctx context.Context, v *domain.Version) error {
	return r.write(func(st *state) error {
		cur, ok := st.versions[v.ID]
		if !ok {
			return domain.VersionNotFound(v.ID)
		}
		if other := findVersionByName(st, cur.FileID, v.Name); other != nil && other.ID != v.ID {
			return &domain.DuplicateNameError{Name: v.Name, ParentID: cur.FileID}
		}
		cur.Name = v.Name
		cur.Filename = v.Filename
		cur.Mimetype = v.Mimetype
		cur.ContentSize = v.ContentSize
		return nil
	})
}

func (r *versionStore) UpdateMimetype(ctx context.Context, id, mimetype string) error {
	return r.write(func(st *state) error {
		cur, ok := st.versions[id]
		if !ok {
			return domain.VersionNotFound(id)
		}
		cur.Mimetype = mimetype
		return nil
	})
}

func (r *versionStore) Delete(ctx context.Context, ids []string) error {
	return r.write(func(st *state) error {
		for _, id := range ids {
			delete(st.versions, id)
		}
		return nil
	})
}

func (r *versionStore) SetAttribute(ctx context.Context, versionID, name, value string) error {
	return r.write(func(st *state) error {
		v, ok := st.versions[versionID]
		if !ok {
			return domain.VersionNotFound(versionID)
		}
		for i := range v.Attributes {
			if v.Attributes[i].Name == name {
				v.Attributes[i].Value = value
				return nil
			}
		}
		v.Attributes = append(v.Attributes, domain.VersionAttribute{
			ID:        uuid.NewString(),
			VersionID: versionID,
			Name:      name,
			Value:     value,
		})
		sort.SliceStable(v.Attributes, func(i, j int) bool { return v.Attributes[i].Name < v.Attributes[j].Name })
		return nil
	})
}

func (r *versionStore) DeleteAttribute(ctx context.Context, versionID, name string) error {
	return r.write(func(st *state) error {
		v, ok := st.versions[versionID]
		if !ok {
			return domain.VersionNotFound(versionID)
		}
		kept := v.Attributes[:0]
		for _, a := range v.Attributes {
			if a.Name != name {
				kept = append(kept, a)
			}
		}
		v.Attributes = kept
		return nil
	})
}

func findVersionByName(st *state, fileID, name string) *domain.Version {
	for _, v := range st.versions {
		if v.FileID == fileID && v.Name == name {
			return v
		}
	}
	return nil
}
