// Package temporal tracks the graph over time: snapshots, event-log
// diffs, and growth timelines.
package temporal

import (
	"context"
	"time"

	"github.com/bwl/forest/internal/config"
	forerrors "github.com/bwl/forest/internal/errors"
	"github.com/bwl/forest/internal/store"
)

// Service owns snapshot lifecycle and temporal queries.
type Service struct {
	store *store.Store
	cfg   config.SnapshotsConfig
}

// New builds a temporal service.
func New(st *store.Store, cfg config.SnapshotsConfig) *Service {
	return &Service{store: st, cfg: cfg}
}

// CreateSnapshot records current counts, digests, and the event cursor.
func (s *Service) CreateSnapshot(ctx context.Context, snapType store.SnapshotType) (*store.Snapshot, error) {
	var snap *store.Snapshot
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		snap, err = tx.TakeSnapshot(ctx, snapType)
		return err
	})
	return snap, err
}

// ListOptions filters ListSnapshots.
type ListOptions struct {
	Since time.Time
	Until time.Time
	Type  store.SnapshotType
	Limit int
}

// ListSnapshots returns snapshots in range, newest first.
func (s *Service) ListSnapshots(ctx context.Context, opts ListOptions) ([]*store.Snapshot, error) {
	snaps, err := s.store.ListSnapshots(ctx, 0)
	if err != nil {
		return nil, err
	}
	var out []*store.Snapshot
	for _, snap := range snaps {
		if !opts.Since.IsZero() && snap.TakenAt.Before(opts.Since) {
			continue
		}
		if !opts.Until.IsZero() && snap.TakenAt.After(opts.Until) {
			continue
		}
		if opts.Type != "" && snap.SnapshotType != opts.Type {
			continue
		}
		out = append(out, snap)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

// GrowthPoint is one timeline sample.
type GrowthPoint struct {
	TakenAt   time.Time `json:"takenAt"`
	NodeCount int       `json:"nodeCount"`
	EdgeCount int       `json:"edgeCount"`
	TagCount  int       `json:"tagCount"`
	// Live marks the synthetic current-instant point.
	Live bool `json:"live,omitempty"`
}

// Growth returns a timeline of snapshot counts in [since, until] plus a
// synthetic live point, downsampled evenly to at most limit points.
func (s *Service) Growth(ctx context.Context, since, until time.Time, limit int) ([]GrowthPoint, error) {
	snaps, err := s.ListSnapshots(ctx, ListOptions{Since: since, Until: until})
	if err != nil {
		return nil, err
	}

	// Oldest first for the timeline.
	points := make([]GrowthPoint, 0, len(snaps)+1)
	for i := len(snaps) - 1; i >= 0; i-- {
		points = append(points, GrowthPoint{
			TakenAt:   snaps[i].TakenAt,
			NodeCount: snaps[i].NodeCount,
			EdgeCount: snaps[i].EdgeCount,
			TagCount:  snaps[i].TagCount,
		})
	}

	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	points = append(points, GrowthPoint{
		TakenAt:   time.Now(),
		NodeCount: stats.NoteCount,
		EdgeCount: stats.EdgeCount,
		TagCount:  stats.TagCount,
		Live:      true,
	})

	if limit > 0 && len(points) > limit {
		points = downsample(points, limit)
	}
	return points, nil
}

// downsample keeps n evenly spaced points including the first and last.
func downsample(points []GrowthPoint, n int) []GrowthPoint {
	if n <= 1 {
		return points[len(points)-1:]
	}
	out := make([]GrowthPoint, 0, n)
	step := float64(len(points)-1) / float64(n-1)
	for i := 0; i < n; i++ {
		out = append(out, points[int(float64(i)*step+0.5)])
	}
	return out
}

// MaybeAutoSnapshot applies the auto-snapshot policy: snapshot when the
// configured interval has elapsed since the last snapshot of any type,
// or the mutation count since then exceeds the threshold. Returns nil
// when no snapshot was due.
func (s *Service) MaybeAutoSnapshot(ctx context.Context) (*store.Snapshot, error) {
	last, err := s.store.LatestSnapshot(ctx)
	if err != nil {
		if forerrors.IsKind(err, forerrors.KindNotFound) {
			return s.CreateSnapshot(ctx, store.SnapshotAuto)
		}
		return nil, err
	}

	if interval := s.interval(); interval > 0 && time.Since(last.TakenAt) >= interval {
		return s.CreateSnapshot(ctx, store.SnapshotAuto)
	}
	if s.cfg.MutationThreshold > 0 {
		mutations, err := s.store.EventCountSince(ctx, last.EventSeq)
		if err != nil {
			return nil, err
		}
		if mutations >= s.cfg.MutationThreshold {
			return s.CreateSnapshot(ctx, store.SnapshotAuto)
		}
	}
	return nil, nil
}

func (s *Service) interval() time.Duration {
	if s.cfg.Interval == "" {
		return 0
	}
	d, err := time.ParseDuration(s.cfg.Interval)
	if err != nil {
		return 0
	}
	return d
}

// PruneExpired removes auto snapshots past the retention window.
func (s *Service) PruneExpired(ctx context.Context) (int, error) {
	if s.cfg.RetentionDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().AddDate(0, 0, -s.cfg.RetentionDays)
	return s.store.PruneSnapshots(ctx, cutoff)
}
