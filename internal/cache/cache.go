package cache

import (
	"context"
	"time"

	"tiendapos/backend/internal/domain"
)

// StatsCache fronts the session-stats procedure so the 30s poll does not hit
// the database on every terminal. Invalidate is called after each settled
// sale so the next poll sees fresh numbers.
type StatsCache interface {
	Get(ctx context.Context, sessionID string) (*domain.SessionStats, bool, error)
	Set(ctx context.Context, sessionID string, value *domain.SessionStats, ttl time.Duration) error
	Invalidate(ctx context.Context, sessionID string) error
}

type NoopStatsCache struct{}

func (NoopStatsCache) Get(_ context.Context, _ string) (*domain.SessionStats, bool, error) {
	return nil, false, nil
}

func (NoopStatsCache) Set(_ context.Context, _ string, _ *domain.SessionStats, _ time.Duration) error {
	return nil
}

func (NoopStatsCache) Invalidate(_ context.Context, _ string) error {
	return nil
}
