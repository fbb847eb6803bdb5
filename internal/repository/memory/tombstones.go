package memory

import (
	"context"
	"sort"

	"contentdrive/internal/domain"
)

type tombstoneStore struct {
	access
}

func (r *tombstoneStore) Insert(ctx context.Context, ids []string) error {
	return r.write(func(st *state) error {
		now := r.s.now()
		for _, id := range ids {
			if _, ok := st.tombstones[id]; !ok {
				st.tombstones[id] = domain.VersionDeleted{ID: id, DeletedOn: now}
			}
		}
		return nil
	})
}

// ClaimPending relies on WithTx holding the store's write lock for exclusivity.
func (r *tombstoneStore) ClaimPending(ctx context.Context, limit int) ([]domain.VersionDeleted, error) {
	var out []domain.VersionDeleted
	err := r.read(func(st *state) error {
		for _, t := range st.tombstones {
			out = append(out, t)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DeletedOn.Equal(out[j].DeletedOn) {
			return out[i].DeletedOn.Before(out[j].DeletedOn)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (r *tombstoneStore) Delete(ctx context.Context, ids []string) error {
	return r.write(func(st *state) error {
		for _, id := range ids {
			delete(st.tombstones, id)
		}
		return nil
	})
}

func (r *tombstoneStore) Count(ctx context.Context) (int, error) {
	var n int
	err := r.read(func(st *state) error {
		n = len(st.tombstones)
		return nil
	})
	return n, err
}
