package renewal

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"subscription-billing-be/internal/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerRejectsBadSpec(t *testing.T) {
	s := NewScheduler(logger.NewNopLogger(), time.Second)
	err := s.Add(Job{Name: "renewal", Spec: "every day please", Run: func(ctx context.Context) error { return nil }})
	assert.Error(t, err)
}

func TestSchedulerRunsJob(t *testing.T) {
	s := NewScheduler(logger.NewNopLogger(), time.Second)
	var runs int32
	require.NoError(t, s.Add(Job{Name: "tick", Spec: "@every 1s", Run: func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	}}))

	s.Start()
	defer s.Stop()
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&runs) > 0 }, 3*time.Second, 50*time.Millisecond)
}

func TestSchedulerStopCancelsRunningJob(t *testing.T) {
	s := NewScheduler(logger.NewNopLogger(), time.Minute)
	started := make(chan struct{}, 1)
	var cancelled int32
	require.NoError(t, s.Add(Job{Name: "slow", Spec: "@every 1s", Run: func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		atomic.StoreInt32(&cancelled, 1)
		return ctx.Err()
	}}))

	s.Start()
	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("job never started")
	}
	s.Stop()
	assert.Equal(t, int32(1), atomic.LoadInt32(&cancelled))
}
