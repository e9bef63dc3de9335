// Package meter enforces per-user token ceilings for generative calls.
package meter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"askdb/internal/domain"
)

// Default ceilings, overridable via config.
const (
	DefaultHourlyTokens  int64 = 10_000
	DefaultDailyTokens   int64 = 50_000
	DefaultMonthlyTokens int64 = 500_000
)

// Limits holds the per-user token ceilings. A zero value means the
// corresponding window is unlimited.
type Limits struct {
	HourlyTokens  int64
	DailyTokens   int64
	MonthlyTokens int64
}

// DefaultLimits returns the standard ceilings.
func DefaultLimits() Limits {
	return Limits{
		HourlyTokens:  DefaultHourlyTokens,
		DailyTokens:   DefaultDailyTokens,
		MonthlyTokens: DefaultMonthlyTokens,
	}
}

// Meter tracks rolling hourly, daily, and monthly token counters per user.
// The hourly window is a token-bucket replenishing continuously; daily and
// monthly counters are derived from the append-only usage log so they survive
// restarts. Admission checks and records are not one atomic transaction; a
// small overshoot under concurrency is acceptable since the caps are
// advisory, not billing-grade.
type Meter struct {
	repo   domain.UsageRepository
	limits Limits
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	hourly map[string]*rate.Limiter
}

// Option configures a Meter.
type Option func(*Meter)

// WithLogger sets the meter logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Meter) { m.logger = logger }
}

// WithClock overrides the time source. Tests only.
func WithClock(now func() time.Time) Option {
	return func(m *Meter) { m.now = now }
}

// New creates a Meter backed by the given usage repository.
func New(repo domain.UsageRepository, limits Limits, opts ...Option) *Meter {
	m := &Meter{
		repo:   repo,
		limits: limits,
		logger: slog.Default(),
		now:    time.Now,
		hourly: make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CheckAdmission reports whether the user may issue a generative call right
// now. It must run before the external call, never after. A repository
// failure denies admission: the meter fails closed.
func (m *Meter) CheckAdmission(ctx context.Context, userID string) (domain.AdmissionDecision, error) {
	now := m.now().UTC()

	quota, err := m.quota(ctx, userID, now)
	if err != nil {
		return domain.AdmissionDecision{Allowed: false, Reason: "usage counters unavailable"}, err
	}

	if m.limits.DailyTokens > 0 && quota.DailyUsed >= m.limits.DailyTokens {
		return domain.AdmissionDecision{
			Allowed: false,
			Reason:  fmt.Sprintf("daily token cap of %d reached", m.limits.DailyTokens),
			Quota:   quota,
		}, nil
	}
	if m.limits.MonthlyTokens > 0 && quota.MonthlyUsed >= m.limits.MonthlyTokens {
		quota.ResetAt = startOfNextMonth(now)
		return domain.AdmissionDecision{
			Allowed: false,
			Reason:  fmt.Sprintf("monthly token cap of %d reached", m.limits.MonthlyTokens),
			Quota:   quota,
		}, nil
	}
	if m.limits.HourlyTokens > 0 {
		lim := m.hourlyLimiter(userID)
		if lim.TokensAt(now) < 1 {
			quota.ResetAt = hourlyResetAt(lim, now)
			return domain.AdmissionDecision{
				Allowed: false,
				Reason:  fmt.Sprintf("hourly token budget of %d exhausted", m.limits.HourlyTokens),
				Quota:   quota,
			}, nil
		}
	}

	return domain.AdmissionDecision{Allowed: true, Quota: quota}, nil
}

// Record appends a usage record and debits the hourly bucket. Called for
// every generative attempt, including failed calls where the provider
// reported partial usage.
func (m *Meter) Record(ctx context.Context, rec *domain.TokenUsageRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = m.now().UTC()
	}
	if err := m.repo.Insert(ctx, rec); err != nil {
		return fmt.Errorf("recording token usage: %w", err)
	}

	if m.limits.HourlyTokens > 0 {
		total := rec.TotalTokens()
		if total > 0 {
			lim := m.hourlyLimiter(rec.UserID)
			now := m.now().UTC()
			// A spend larger than the remaining balance drains the bucket
			// to zero rather than being forgiven outright.
			if avail := int64(lim.TokensAt(now)); avail < total {
				total = avail
			}
			if total > 0 && !lim.AllowN(now, int(total)) {
				m.logger.Debug("hourly token bucket overdrawn",
					"user_id", rec.UserID, "tokens", rec.TotalTokens())
			}
		}
	}
	return nil
}

// Quota returns the user's current position against the configured ceilings.
func (m *Meter) Quota(ctx context.Context, userID string) (domain.QuotaStatus, error) {
	return m.quota(ctx, userID, m.now().UTC())
}

func (m *Meter) quota(ctx context.Context, userID string, now time.Time) (domain.QuotaStatus, error) {
	dayStart := now.Truncate(24 * time.Hour)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	daily, err := m.repo.SumTokensSince(ctx, userID, dayStart)
	if err != nil {
		return domain.QuotaStatus{}, fmt.Errorf("summing daily usage: %w", err)
	}
	monthly, err := m.repo.SumTokensSince(ctx, userID, monthStart)
	if err != nil {
		return domain.QuotaStatus{}, fmt.Errorf("summing monthly usage: %w", err)
	}

	return domain.QuotaStatus{
		DailyUsed:    daily,
		DailyLimit:   m.limits.DailyTokens,
		MonthlyUsed:  monthly,
		MonthlyLimit: m.limits.MonthlyTokens,
		ResetAt:      dayStart.Add(24 * time.Hour),
	}, nil
}

// hourlyLimiter returns (creating on first use) the user's token bucket. The
// bucket refills continuously at the hourly ceiling spread over the hour.
func (m *Meter) hourlyLimiter(userID string) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	lim, ok := m.hourly[userID]
	if !ok {
		perSecond := rate.Limit(float64(m.limits.HourlyTokens) / 3600.0)
		lim = rate.NewLimiter(perSecond, int(m.limits.HourlyTokens))
		m.hourly[userID] = lim
	}
	return lim
}

// hourlyResetAt estimates when one token becomes available again.
func hourlyResetAt(lim *rate.Limiter, now time.Time) time.Time {
	deficit := 1 - lim.TokensAt(now)
	if deficit <= 0 {
		return now
	}
	seconds := deficit / float64(lim.Limit())
	return now.Add(time.Duration(seconds * float64(time.Second)))
}

func startOfNextMonth(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
}
