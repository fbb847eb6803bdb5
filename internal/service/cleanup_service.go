package service

import (
	"context"
	"fmt"
	"time"

	"contentdrive/internal/logging"
	"contentdrive/internal/repository"
	"contentdrive/internal/storage"
)

// CleanupService purges payloads of deleted versions from the storage engine.
type CleanupService struct {
	store  repository.Store
	engine storage.Engine
	logger logging.Logger
}

func NewCleanupService(store repository.Store, engine storage.Engine, logger logging.Logger) *CleanupService {
	return &CleanupService{
		store:  store,
		engine: engine,
		logger: logger.With("component", "cleanup"),
	}
}

// Sweep claims up to cycleLength tombstones and deletes their payloads. A
// tombstone is removed only when the engine call succeeded; failed ones stay
// pending for the next sweep. Returns the number of purged tombstones.
func (s *CleanupService) Sweep(ctx context.Context, cycleLength int) (int, error) {
	if cycleLength <= 0 {
		return 0, fmt.Errorf("cycle length must be positive, got %d", cycleLength)
	}

	var purged int
	err := s.store.WithTx(ctx, func(ctx context.Context, q repository.Querier) error {
		pending, err := q.Tombstones().ClaimPending(ctx, cycleLength)
		if err != nil {
			return fmt.Errorf("failed to claim tombstones: %w", err)
		}

		done := make([]string, 0, len(pending))
		for _, t := range pending {
			deleted, err := s.engine.DeleteVersion(ctx, t.ID)
			if err != nil {
				s.logger.Warn(ctx, "failed to purge version content", "version_id", t.ID, "error", err)
				continue
			}
			if !deleted {
				s.logger.Debug(ctx, "no stored content for version", "version_id", t.ID)
			}
			done = append(done, t.ID)
		}
		if err := q.Tombstones().Delete(ctx, done); err != nil {
			return fmt.Errorf("failed to remove tombstones: %w", err)
		}
		purged = len(done)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if purged > 0 {
		s.logger.Info(ctx, "cleanup sweep finished", "purged", purged)
	}
	return purged, nil
}

// Run sweeps every interval until ctx is cancelled.
func (s *CleanupService) Run(ctx context.Context, interval time.Duration, cycleLength int) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info(ctx, "cleanup loop started", "interval", interval.String(), "cycle_length", cycleLength)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "cleanup loop stopped")
			return nil
		case <-ticker.C:
			if _, err := s.Sweep(ctx, cycleLength); err != nil {
				s.logger.Error(ctx, "cleanup sweep failed", "error", err)
			}
		}
	}
}
