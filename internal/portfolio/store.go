package portfolio

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"riskcore/internal/gateway/exchange"
	"riskcore/internal/logger"
	"riskcore/internal/scheduler"
	"riskcore/internal/types"
)

// ErrNotReady is returned by Get before the first successful refresh.
var ErrNotReady = errors.New("portfolio snapshot not ready")

// Store owns the latest portfolio snapshot. Publication is a single atomic
// assignment so readers never observe a partially built snapshot; a failed
// refresh keeps the previous snapshot in place (stale beats unavailable).
type Store struct {
	gateway exchange.Gateway
	ttl     time.Duration

	snapshot atomic.Value // types.PortfolioSnapshot

	mu    sync.Mutex // serializes refreshes and guards peak
	peak  float64
	nowFn func() time.Time
}

func NewStore(gateway exchange.Gateway, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Store{
		gateway: gateway,
		ttl:     ttl,
		nowFn:   time.Now,
	}
}

// Get returns the latest cached snapshot regardless of age.
func (s *Store) Get() (types.PortfolioSnapshot, error) {
	val := s.snapshot.Load()
	if val == nil {
		return types.PortfolioSnapshot{}, ErrNotReady
	}
	return val.(types.PortfolioSnapshot), nil
}

// GetFresh returns the cached snapshot, refreshing first when it has aged
// past the TTL. A failed refresh falls back to the cached value.
func (s *Store) GetFresh(ctx context.Context) (types.PortfolioSnapshot, error) {
	cached, err := s.Get()
	if err == nil && s.nowFn().Sub(cached.Timestamp) < s.ttl {
		return cached, nil
	}
	snap, refreshErr := s.Refresh(ctx)
	if refreshErr == nil {
		return snap, nil
	}
	if err == nil {
		logger.Warnf("portfolio: refresh failed, serving stale snapshot from %s: %v", cached.Timestamp.Format(time.RFC3339), refreshErr)
		return cached, nil
	}
	return types.PortfolioSnapshot{}, refreshErr
}

// Refresh pulls balance and positions from the gateway, recomputes exposure
// and unrealized P&L, and publishes a new immutable snapshot.
func (s *Store) Refresh(ctx context.Context) (types.PortfolioSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	balance, err := s.gateway.AccountBalance(ctx)
	if err != nil {
		return types.PortfolioSnapshot{}, fmt.Errorf("portfolio refresh: %w", err)
	}
	risks, err := s.gateway.PositionRisk(ctx)
	if err != nil {
		return types.PortfolioSnapshot{}, fmt.Errorf("portfolio refresh: %w", err)
	}

	positions := make(map[string]float64, len(risks))
	var exposure, unrealized float64
	for _, r := range risks {
		positions[r.Symbol] = r.Notional
		exposure += math.Abs(r.Notional)
		unrealized += r.UnrealizedPnL
	}

	equity := balance.Balance + unrealized
	if equity > s.peak {
		s.peak = equity
	}

	snap := types.PortfolioSnapshot{
		Balance:       balance.Balance,
		TotalExposure: exposure,
		Positions:     positions,
		UnrealizedPnL: unrealized,
		PeakBalance:   s.peak,
		Timestamp:     s.nowFn().UTC(),
	}
	s.snapshot.Store(snap)
	return snap, nil
}

// Run drives periodic refreshes until ctx is cancelled. Refresh errors are
// logged and retried on the next tick; the cache is never cleared.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	sched := scheduler.NewIntervalScheduler(ctx, "portfolio-refresh", interval)
	sched.RunImmediately = true
	sched.Start(func() {
		refreshCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if _, err := s.Refresh(refreshCtx); err != nil {
			logger.Warnf("portfolio: scheduled refresh failed: %v", err)
		}
	})
}
