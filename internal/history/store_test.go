package history_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/evolab/gactl/internal/history"
	"github.com/evolab/gactl/internal/model"
	"github.com/stretchr/testify/require"
)

func open(t *testing.T) *history.Store {
	t.Helper()
	s, err := history.Open(t.Context(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

func info(id string) model.RunInfo {
	return model.RunInfo{
		ID:      id,
		PID:     4242,
		Started: time.Date(2026, 10, 18, 9, 30, 0, 123, time.UTC),
		Config:  model.DefaultRunConfig(),
	}
}

func TestStore(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	s := open(t)

	t.Run("get unknown", func(t *testing.T) {
		_, err := s.Get(ctx, "nope")
		require.ErrorIs(t, err, history.ErrNotFound)
	})

	t.Run("finish unknown", func(t *testing.T) {
		err := s.Finish(ctx, model.RunResult{RunInfo: info("nope")})
		require.ErrorIs(t, err, history.ErrNotFound)
	})

	run := info("r1")
	t.Run("start", func(t *testing.T) {
		require.NoError(t, s.Start(ctx, run))
		require.NoError(t, s.Start(ctx, run), "start of a run in progress is idempotent")

		got, err := s.Get(ctx, "r1")
		require.NoError(t, err)
		require.True(t, got.InProgress)
		require.Nil(t, got.Result)
		require.Equal(t, run, got.RunInfo)
	})

	res := model.RunResult{
		RunInfo:       run,
		Stopped:       run.Started.Add(90 * time.Second),
		ExitCode:      -1,
		StopRequested: true,
		Outcome:       model.OutcomeStopped,
	}
	t.Run("finish", func(t *testing.T) {
		require.NoError(t, s.Finish(ctx, res))
		require.ErrorIs(t, s.Finish(ctx, res), history.ErrAlreadyFinished)
		require.ErrorIs(t, s.Start(ctx, run), history.ErrAlreadyFinished)

		got, err := s.Get(ctx, "r1")
		require.NoError(t, err)
		require.False(t, got.InProgress)
		require.NotNil(t, got.Result)
		require.Equal(t, res, *got.Result)
		require.Equal(t, 90*time.Second, got.Result.Duration())
	})
}

func TestStore_List(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	s := open(t)

	runs, err := s.List(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, runs)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Start(ctx, info(id)))
	}
	require.NoError(t, s.Finish(ctx, model.RunResult{
		RunInfo:   info("a"),
		Stopped:   time.Now().UTC(),
		ExitCode:  1,
		Outcome:   model.OutcomeFailed,
		ErrorKind: "",
		Error:     "exit status 1",
	}))

	runs, err = s.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "c", runs[0].ID)
	require.Equal(t, "b", runs[1].ID)

	runs, err = s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	require.Equal(t, "exit status 1", runs[2].Result.Error)
}

func TestStore_Observer(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "runs.db")
	s, err := history.Open(t.Context(), path)
	require.NoError(t, err)

	ctx := context.Background()
	run := info("obs")
	s.RunStarted(ctx, run)
	s.RunFinished(ctx, model.RunResult{RunInfo: run, Stopped: run.Started, Outcome: model.OutcomeCompleted})
	require.NoError(t, s.Close())

	// reopened database keeps the record
	s, err = history.Open(t.Context(), path)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	got, err := s.Get(t.Context(), "obs")
	require.NoError(t, err)
	require.Equal(t, model.OutcomeCompleted, got.Result.Outcome)
}
