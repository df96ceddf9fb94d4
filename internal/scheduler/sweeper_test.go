package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wisher/internal/event"
	"wisher/internal/types"
)

type fakeEmitter struct {
	tasks   []types.DeliveryTask
	reasons []string
	failFor map[string]error
}

func (f *fakeEmitter) SendTask(ctx context.Context, task types.DeliveryTask, delaySeconds int64, reason string) error {
	if err, ok := f.failFor[task.UserID]; ok {
		return err
	}
	f.tasks = append(f.tasks, task)
	f.reasons = append(f.reasons, reason)
	return nil
}

type fakeSweepMetrics struct {
	recovered int
}

func (f *fakeSweepMetrics) CountRecovered(ctx context.Context, recovered int) {
	f.recovered = recovered
}

func newSweeper(index UserIndex, emitter TaskEmitter, m SweepMetrics, lookbackDays int, now time.Time) *Sweeper {
	return NewSweeper(index, emitter, m, event.BirthdayKind{TargetHour: 9}, 9, lookbackDays, types.FixedClock{T: now}, discardLogger())
}

func TestSweep_QueriesLookbackWindow(t *testing.T) {
	now := time.Date(2024, 10, 9, 12, 0, 0, 0, time.UTC)
	index := &fakeIndex{}
	sw := newSweeper(index, &fakeEmitter{}, &fakeSweepMetrics{}, 3, now)

	_, err := sw.Run(context.Background())
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"10-09", "10-08", "10-07", "10-06"}, index.queries)
	assert.Equal(t, "2024-10-06", index.excludes["10-06"])
}

func TestSweep_RecoversMissedDelivery(t *testing.T) {
	// u-missed's birthday was two days ago and the ledger has no entry for
	// this year.
	now := time.Date(2024, 10, 9, 12, 0, 0, 0, time.UTC)
	index := &fakeIndex{byKey: map[string][]*types.User{
		"10-07": {indexUser("u-missed", "1990-10-07", "UTC")},
	}}
	emitter := &fakeEmitter{}
	m := &fakeSweepMetrics{}
	sw := newSweeper(index, emitter, m, 7, now)

	recovered, err := sw.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, recovered)
	assert.Equal(t, 1, m.recovered)
	require.Len(t, emitter.tasks, 1)
	assert.Equal(t, "2024-10-07", emitter.tasks[0].OccurrenceDate)
	assert.Equal(t, []string{"recovery"}, emitter.reasons)
}

func TestSweep_SkipsDeliveredAndNotYetDue(t *testing.T) {
	now := time.Date(2024, 10, 9, 7, 0, 0, 0, time.UTC)

	delivered := indexUser("u-done", "1990-10-08", "UTC")
	delivered.Deliveries = map[string]types.DeliveryMarker{
		types.EventKindBirthday: {
			LastDeliveredDate: "2024-10-08",
			LastDeliveredAt:   "2024-10-08T09:00:03Z",
		},
	}
	// Today's occurrence at 09:00 UTC has not arrived at 07:00 UTC.
	pending := indexUser("u-early", "1990-10-09", "UTC")

	index := &fakeIndex{byKey: map[string][]*types.User{
		"10-08": {delivered},
		"10-09": {pending},
	}}
	emitter := &fakeEmitter{}
	sw := newSweeper(index, emitter, &fakeSweepMetrics{}, 7, now)

	recovered, err := sw.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, recovered)
	assert.Empty(t, emitter.tasks)
}

func TestSweep_EmitFailureIsolated(t *testing.T) {
	now := time.Date(2024, 10, 9, 12, 0, 0, 0, time.UTC)
	index := &fakeIndex{byKey: map[string][]*types.User{
		"10-07": {
			indexUser("u-bad", "1990-10-07", "UTC"),
			indexUser("u-good", "1985-10-07", "UTC"),
		},
	}}
	emitter := &fakeEmitter{failFor: map[string]error{"u-bad": errors.New("sqs down")}}
	sw := newSweeper(index, emitter, &fakeSweepMetrics{}, 7, now)

	recovered, err := sw.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)
	require.Len(t, emitter.tasks, 1)
	assert.Equal(t, "u-good", emitter.tasks[0].UserID)
}

func TestSweep_IndexErrorFails(t *testing.T) {
	index := &fakeIndex{err: errors.New("dynamo down")}
	sw := newSweeper(index, &fakeEmitter{}, &fakeSweepMetrics{}, 7, time.Now().UTC())

	_, err := sw.Run(context.Background())
	assert.Error(t, err)
}
