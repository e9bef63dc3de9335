package maintenance

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"askdb/internal/domain"
)

type fakeSweeper struct{ calls atomic.Int32 }

func (f *fakeSweeper) SweepExpired() int {
	f.calls.Add(1)
	return 2
}

type fakeUsage struct {
	cutoff  atomic.Value
	deleted int64
	err     error
}

func (f *fakeUsage) Insert(context.Context, *domain.TokenUsageRecord) error { return nil }

func (f *fakeUsage) SumTokensSince(context.Context, string, time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeUsage) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoff.Store(cutoff)
	return f.deleted, f.err
}

func TestJanitor_StartAndStop(t *testing.T) {
	t.Parallel()

	j := NewJanitor(&fakeSweeper{}, &fakeUsage{}, Config{UsageRetention: 90 * 24 * time.Hour}, nil)
	require.NoError(t, j.Start())
	j.Stop()
}

func TestJanitor_InvalidScheduleRejected(t *testing.T) {
	t.Parallel()

	j := NewJanitor(&fakeSweeper{}, nil, Config{SweepSchedule: "not a schedule"}, nil)
	assert.Error(t, j.Start())
}

func TestJanitor_SweepRunsOnSchedule(t *testing.T) {
	t.Parallel()

	sweeper := &fakeSweeper{}
	j := NewJanitor(sweeper, nil, Config{SweepSchedule: "@every 10ms"}, nil)
	require.NoError(t, j.Start())
	defer j.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for sweeper.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.Greater(t, sweeper.calls.Load(), int32(0))
}

func TestJanitor_PruneUsesRetentionCutoff(t *testing.T) {
	t.Parallel()

	usage := &fakeUsage{deleted: 7}
	j := NewJanitor(nil, usage, Config{UsageRetention: 48 * time.Hour}, nil)
	j.pruneUsage()

	got, ok := usage.cutoff.Load().(time.Time)
	require.True(t, ok, "DeleteOlderThan must have been called")
	assert.WithinDuration(t, time.Now().UTC().Add(-48*time.Hour), got, 5*time.Second)
}

func TestJanitor_NoJobsWhenRetentionZero(t *testing.T) {
	t.Parallel()

	usage := &fakeUsage{}
	j := NewJanitor(nil, usage, Config{}, nil)
	require.NoError(t, j.Start())
	j.Stop()
	assert.Nil(t, usage.cutoff.Load())
}
