package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRunner_Completes(t *testing.T) {
	runner := NewRunner(NewMemoryStore(0), zap.NewNop())
	ctx := context.Background()

	p, err := runner.Start(ctx, "reindex", func(ctx context.Context, rep *Reporter) error {
		for i := 1; i <= 3; i++ {
			if err := rep.Report(ctx, i, 3, "working"); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, p.Status)
	assert.Equal(t, "/_tasks/"+p.ID.String(), p.Path())

	runner.Wait()

	got, err := runner.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, 3, got.Partial)
	assert.Equal(t, float64(100), got.Percent())
	assert.NotNil(t, got.FinishedAt)
	assert.Nil(t, got.Error)
}

func TestRunner_StartReturnsBeforeTaskEnds(t *testing.T) {
	runner := NewRunner(NewMemoryStore(0), nil)
	release := make(chan struct{})

	p, err := runner.Start(context.Background(), "slow", func(ctx context.Context, rep *Reporter) error {
		<-release
		return nil
	})
	require.NoError(t, err)

	got, err := runner.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.False(t, got.Done())

	close(release)
	runner.Wait()
}

func TestRunner_FailureAndPanic(t *testing.T) {
	runner := NewRunner(NewMemoryStore(0), zap.NewNop())
	ctx := context.Background()

	failed, err := runner.Start(ctx, "fails", func(context.Context, *Reporter) error {
		return errors.New("disk full")
	})
	require.NoError(t, err)
	panicked, err := runner.Start(ctx, "panics", func(context.Context, *Reporter) error {
		panic("boom")
	})
	require.NoError(t, err)

	runner.Wait()

	got, _ := runner.Get(ctx, failed.ID)
	assert.Equal(t, StatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, "disk full", *got.Error)

	got, _ = runner.Get(ctx, panicked.ID)
	assert.Equal(t, StatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Contains(t, *got.Error, "boom")
}

func TestRunner_CooperativeStop(t *testing.T) {
	runner := NewRunner(NewMemoryStore(0), zap.NewNop())
	ctx := context.Background()
	reported := make(chan struct{})

	p, err := runner.Start(ctx, "export", func(ctx context.Context, rep *Reporter) error {
		for i := 0; i < 1000; i++ {
			if rep.Stopped(ctx) {
				return ErrStopped
			}
			_ = rep.Report(ctx, i, 1000, "row")
			if i == 0 {
				close(reported)
			}
			time.Sleep(time.Millisecond)
		}
		return nil
	})
	require.NoError(t, err)

	<-reported
	require.NoError(t, runner.Stop(ctx, p.ID))
	runner.Wait()

	got, err := runner.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, got.Status)
	assert.Less(t, got.Partial, 999)
	assert.Nil(t, got.Error)
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	ctx := context.Background()

	_, err := store.Get(ctx, NewProgress("x").ID)
	assert.ErrorIs(t, err, ErrTaskNotFound)

	older := NewProgress("older")
	older.CreatedAt = older.CreatedAt.Add(-time.Minute)
	newer := NewProgress("newer")
	require.NoError(t, store.Create(ctx, older))
	require.NoError(t, store.Create(ctx, newer))
	assert.Error(t, store.Create(ctx, newer))

	require.NoError(t, store.RequestStop(ctx, newer.ID))
	newer.Message = "still going"
	require.NoError(t, store.Update(ctx, newer))

	got, _ := store.Get(ctx, newer.ID)
	assert.True(t, got.StopRequested, "update keeps the stop flag")
	assert.Equal(t, "still going", got.Message)

	list, err := store.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "newer", list[0].Name)
}

func TestMemoryStore_PrunesFinishedPastRetention(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	ctx := context.Background()

	long := time.Now().UTC().Add(-2 * time.Hour)
	recent := time.Now().UTC().Add(-time.Minute)

	expired := NewProgress("expired")
	expired.Status, expired.FinishedAt = StatusCompleted, &long
	fresh := NewProgress("fresh")
	fresh.Status, fresh.FinishedAt = StatusFailed, &recent
	running := NewProgress("running")
	running.CreatedAt = long

	for _, p := range []*Progress{expired, fresh, running} {
		require.NoError(t, store.Create(ctx, p))
	}
	require.NoError(t, store.Create(ctx, NewProgress("next")))

	_, err := store.Get(ctx, expired.ID)
	assert.ErrorIs(t, err, ErrTaskNotFound)
	_, err = store.Get(ctx, fresh.ID)
	assert.NoError(t, err)
	_, err = store.Get(ctx, running.ID)
	assert.NoError(t, err, "running tasks are never pruned")

	list, err := store.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, list, 3)
}

func TestProgress_Percent(t *testing.T) {
	p := NewProgress("x")
	assert.Equal(t, float64(0), p.Percent())
	p.Partial, p.Total = 1, 4
	assert.Equal(t, float64(25), p.Percent())
	p.Partial = 9
	assert.Equal(t, float64(100), p.Percent())
}
