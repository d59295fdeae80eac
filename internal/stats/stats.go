// Package stats computes per-merchant monthly activity aggregates.
//
// Fee rules constrain monthly volume and monthly fraud level, both of
// which are properties of the merchant's transaction history over the
// natural calendar month containing the transaction being assessed, not
// a rolling window. The service answers those lookups from cache when
// possible and falls back to a repository aggregation query.
package stats

import (
	"context"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Service resolves monthly merchant aggregates.
type Service struct {
	repo  domain.Repository
	cache domain.Cache
	ttl   time.Duration
}

// New creates a stats service. ttl controls how long computed aggregates
// stay cached; zero selects a default.
func New(repo domain.Repository, cache domain.Cache, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Service{repo: repo, cache: cache, ttl: ttl}
}

// MonthWindow returns the half-open interval [first of month, first of
// next month) containing ts, in UTC.
func MonthWindow(ts time.Time) (time.Time, time.Time) {
	ts = ts.UTC()
	from := time.Date(ts.Year(), ts.Month(), 1, 0, 0, 0, 0, time.UTC)
	return from, from.AddDate(0, 1, 0)
}

// MonthlyStats returns the merchant's aggregates for the calendar month
// containing ts. Cache misses fall through to the repository; cache
// errors are logged and treated as misses.
func (s *Service) MonthlyStats(ctx context.Context, merchantID string, ts time.Time) (*domain.MonthlyStats, error) {
	from, to := MonthWindow(ts)
	month := from.Format("2006-01")

	if s.cache != nil {
		cached, err := s.cache.GetMonthlyStats(ctx, merchantID, month)
		if err != nil {
			slog.Warn("stats cache read failed",
				"merchant_id", merchantID,
				"month", month,
				"error", err,
			)
		} else if cached != nil {
			return cached, nil
		}
	}

	stats, err := s.repo.MonthlyVolume(ctx, merchantID, from, to)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SetMonthlyStats(ctx, merchantID, month, stats, s.ttl); err != nil {
			slog.Warn("stats cache write failed",
				"merchant_id", merchantID,
				"month", month,
				"error", err,
			)
		}
	}

	return stats, nil
}

// Invalidate drops the cached aggregates for the month containing ts.
// Called when a new transaction lands inside that month.
func (s *Service) Invalidate(ctx context.Context, merchantID string, ts time.Time) {
	if s.cache == nil {
		return
	}
	from, _ := MonthWindow(ts)
	month := from.Format("2006-01")
	if err := s.cache.Delete(ctx, "stats:"+merchantID+":"+month); err != nil {
		slog.Warn("stats cache invalidate failed",
			"merchant_id", merchantID,
			"month", month,
			"error", err,
		)
	}
}
