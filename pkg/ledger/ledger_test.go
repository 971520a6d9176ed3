package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phimask/phimask/pkg/pipeline"
	"github.com/phimask/phimask/test/util"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	tdb := util.SetupTestDatabase(t)
	l, err := New(context.Background(), tdb.DB, "test")
	require.NoError(t, err)
	return l
}

func TestLedger_StartFinishGet(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	s := &pipeline.Summary{
		RunID:     uuid.NewString(),
		Seed:      42,
		StartedAt: time.Now().UTC().Truncate(time.Microsecond),
		Status:    pipeline.StatusRunning,
	}
	require.NoError(t, l.Start(ctx, s))

	run, err := l.Get(ctx, s.RunID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusRunning, run.Status)
	assert.Nil(t, run.FinishedAt)
	assert.Empty(t, run.Sources)

	s.Status = pipeline.StatusSucceeded
	s.FinishedAt = s.StartedAt.Add(2 * time.Second)
	s.Identifiers = 3
	s.Sources = []pipeline.SetSummary{{Name: "patients", Fetched: 3, Exported: 3}}
	s.Joins = []pipeline.SetSummary{{Name: "patient_assessments", Fetched: 2, Exported: 2}}
	s.Outputs = []string{"out/patients_mock.csv"}
	require.NoError(t, l.Finish(ctx, s))

	run, err = l.Get(ctx, s.RunID)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), run.Seed)
	assert.Equal(t, pipeline.StatusSucceeded, run.Status)
	require.NotNil(t, run.FinishedAt)
	assert.True(t, s.FinishedAt.Equal(*run.FinishedAt))
	assert.True(t, s.StartedAt.Equal(run.StartedAt))
	assert.Equal(t, 3, run.Identifiers)
	assert.Equal(t, s.Sources, run.Sources)
	assert.Equal(t, s.Joins, run.Joins)
	assert.Equal(t, s.Outputs, run.Outputs)
	assert.Empty(t, run.Error)
}

func TestLedger_FinishWithoutStart(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	s := &pipeline.Summary{
		RunID:      uuid.NewString(),
		Seed:       ^uint64(0),
		StartedAt:  time.Now().UTC(),
		FinishedAt: time.Now().UTC(),
		Status:     pipeline.StatusFailed,
		Error:      "configuration validation failed",
	}
	require.NoError(t, l.Finish(ctx, s))

	run, err := l.Get(ctx, s.RunID)
	require.NoError(t, err)
	assert.Equal(t, ^uint64(0), run.Seed)
	assert.Equal(t, pipeline.StatusFailed, run.Status)
	assert.Equal(t, "configuration validation failed", run.Error)
}

func TestLedger_GetErrors(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Get(ctx, "not-a-uuid")
	require.ErrorIs(t, err, ErrInvalidRunID)

	_, err = l.Get(ctx, uuid.NewString())
	require.ErrorIs(t, err, ErrRunNotFound)
}

func TestLedger_ListAndPrune(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	now := time.Now().UTC()

	record := func(age time.Duration, status pipeline.Status) string {
		s := &pipeline.Summary{RunID: uuid.NewString(), Seed: 1, StartedAt: now.Add(-age), Status: status}
		require.NoError(t, l.Finish(ctx, s))
		return s.RunID
	}
	oldDone := record(48*time.Hour, pipeline.StatusSucceeded)
	oldFailed := record(72*time.Hour, pipeline.StatusFailed)
	oldRunning := record(96*time.Hour, pipeline.StatusRunning)
	recent := record(time.Minute, pipeline.StatusSucceeded)

	runs, err := l.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 4)
	assert.Equal(t, recent, runs[0].ID)
	assert.Equal(t, oldRunning, runs[3].ID)

	runs, err = l.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	n, err := l.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	for _, id := range []string{oldDone, oldFailed} {
		_, err := l.Get(ctx, id)
		assert.ErrorIs(t, err, ErrRunNotFound)
	}
	for _, id := range []string{oldRunning, recent} {
		_, err := l.Get(ctx, id)
		assert.NoError(t, err)
	}

	_, err = l.Prune(ctx, 0)
	assert.Error(t, err)
}

func TestLedger_RecordsPipelineFailure(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	var recorder pipeline.Recorder = l
	s := &pipeline.Summary{RunID: uuid.NewString(), Seed: 7, StartedAt: time.Now().UTC(), Status: pipeline.StatusRunning}
	require.NoError(t, recorder.Start(ctx, s))

	s.Status = pipeline.StatusFailed
	s.Error = `source "patients": auth: invalid_client`
	s.FinishedAt = time.Now().UTC()
	require.NoError(t, recorder.Finish(ctx, s))

	run, err := l.Get(ctx, s.RunID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusFailed, run.Status)
	assert.Contains(t, run.Error, "invalid_client")
}
