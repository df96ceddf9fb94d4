package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wisher/internal/event"
	"wisher/internal/types"
)

type fakeUsers struct {
	byID map[string]*types.User
	err  error
}

func (f *fakeUsers) Get(ctx context.Context, id string) (*types.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byID[id], nil
}

type fakeLedger struct {
	mu        sync.Mutex
	calls     []string
	committed bool
	err       error
}

func (f *fakeLedger) MarkDelivered(ctx context.Context, userID, kind, occurrenceDate string, now time.Time) (bool, error) {
	f.mu.Lock()
	f.calls = append(f.calls, userID+"/"+kind+"/"+occurrenceDate)
	f.mu.Unlock()
	return f.committed, f.err
}

type fakeSink struct {
	mu       sync.Mutex
	messages []string
	err      error
}

func (f *fakeSink) Send(ctx context.Context, message string) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	f.messages = append(f.messages, message)
	f.mu.Unlock()
	return nil
}

type fakeMetrics struct {
	mu      sync.Mutex
	results []string
	lags    []time.Duration
}

func (f *fakeMetrics) CountDelivery(ctx context.Context, result string) {
	f.mu.Lock()
	f.results = append(f.results, result)
	f.mu.Unlock()
}

func (f *fakeMetrics) RecordQueueLag(ctx context.Context, lag time.Duration) {
	f.mu.Lock()
	f.lags = append(f.lags, lag)
	f.mu.Unlock()
}

var testNow = time.Date(2024, 10, 9, 2, 0, 30, 0, time.UTC)

func newHandler(users UserFetcher, ledger Ledger, sink MessageSink, m DeliveryMetrics) *Handler {
	registry := event.NewRegistry(event.BirthdayKind{TargetHour: 9})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewHandler(users, ledger, sink, m, registry, types.FixedClock{T: testNow}, logger)
}

func taskRecord(t *testing.T, task types.DeliveryTask) events.SQSMessage {
	t.Helper()
	body, err := json.Marshal(task)
	require.NoError(t, err)
	return events.SQSMessage{MessageId: "m-" + task.TaskID, Body: string(body)}
}

func liveUser() *types.User {
	return &types.User{
		ID:        "u-1",
		FirstName: "Linh",
		LastName:  "Tran",
		BirthDate: "1996-10-09",
		Timezone:  "Asia/Ho_Chi_Minh",
	}
}

func liveTask() types.DeliveryTask {
	return types.DeliveryTask{
		TaskID:         "t-1",
		TraceID:        "tr-1",
		UserID:         "u-1",
		FullName:       "Linh Tran",
		EventKind:      types.EventKindBirthday,
		OccurrenceDate: "2024-10-09",
		Timezone:       "Asia/Ho_Chi_Minh",
	}
}

func TestHandle_DeliversAndCommits(t *testing.T) {
	users := &fakeUsers{byID: map[string]*types.User{"u-1": liveUser()}}
	ledger := &fakeLedger{committed: true}
	sink := &fakeSink{}
	m := &fakeMetrics{}
	h := newHandler(users, ledger, sink, m)

	resp, err := h.Handle(context.Background(), events.SQSEvent{
		Records: []events.SQSMessage{taskRecord(t, liveTask())},
	})
	require.NoError(t, err)

	assert.Empty(t, resp.BatchItemFailures)
	assert.Equal(t, []string{"Hey, Linh Tran it's your birthday"}, sink.messages)
	assert.Equal(t, []string{"u-1/birthday/2024-10-09"}, ledger.calls)
	assert.Equal(t, []string{"success"}, m.results)
}

func TestHandle_RendersFromLiveRecord(t *testing.T) {
	// The user renamed after the task was scheduled; the greeting follows
	// the store, not the snapshot.
	renamed := liveUser()
	renamed.FirstName = "Mai"
	users := &fakeUsers{byID: map[string]*types.User{"u-1": renamed}}
	sink := &fakeSink{}
	h := newHandler(users, &fakeLedger{committed: true}, sink, &fakeMetrics{})

	_, err := h.Handle(context.Background(), events.SQSEvent{
		Records: []events.SQSMessage{taskRecord(t, liveTask())},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Hey, Mai Tran it's your birthday"}, sink.messages)
}

func TestHandle_SkipsAlreadyDelivered(t *testing.T) {
	u := liveUser()
	u.Deliveries = map[string]types.DeliveryMarker{
		types.EventKindBirthday: {
			LastDeliveredDate: "2024-10-09",
			LastDeliveredAt:   "2024-10-09T02:00:05Z",
		},
	}
	users := &fakeUsers{byID: map[string]*types.User{"u-1": u}}
	ledger := &fakeLedger{}
	sink := &fakeSink{}
	m := &fakeMetrics{}
	h := newHandler(users, ledger, sink, m)

	resp, err := h.Handle(context.Background(), events.SQSEvent{
		Records: []events.SQSMessage{taskRecord(t, liveTask())},
	})
	require.NoError(t, err)
	assert.Empty(t, resp.BatchItemFailures)
	assert.Empty(t, sink.messages)
	assert.Empty(t, ledger.calls)
	assert.Equal(t, []string{"skipped"}, m.results)
}

func TestHandle_SkipsYearBoundaryDuplicate(t *testing.T) {
	// Kiritimati (UTC+14) enters 2025-01-01 while UTC is still on
	// 2024-12-31, so the first delivery's marker carries a 2024 timestamp
	// next to a 2025 occurrence date. A redelivered task for the same
	// occurrence must still be recognized as already served.
	u := liveUser()
	u.BirthDate = "1990-01-01"
	u.Timezone = "Pacific/Kiritimati"
	u.Deliveries = map[string]types.DeliveryMarker{
		types.EventKindBirthday: {
			LastDeliveredDate: "2025-01-01",
			LastDeliveredAt:   "2024-12-31T19:00:10Z",
		},
	}
	users := &fakeUsers{byID: map[string]*types.User{"u-1": u}}
	ledger := &fakeLedger{}
	sink := &fakeSink{}
	m := &fakeMetrics{}
	h := newHandler(users, ledger, sink, m)

	task := liveTask()
	task.OccurrenceDate = "2025-01-01"
	task.Timezone = "Pacific/Kiritimati"
	resp, err := h.Handle(context.Background(), events.SQSEvent{
		Records: []events.SQSMessage{taskRecord(t, task)},
	})
	require.NoError(t, err)
	assert.Empty(t, resp.BatchItemFailures)
	assert.Empty(t, sink.messages)
	assert.Empty(t, ledger.calls)
	assert.Equal(t, []string{"skipped"}, m.results)
}

func TestHandle_DropsDeletedUser(t *testing.T) {
	users := &fakeUsers{byID: map[string]*types.User{}}
	sink := &fakeSink{}
	m := &fakeMetrics{}
	h := newHandler(users, &fakeLedger{}, sink, m)

	resp, err := h.Handle(context.Background(), events.SQSEvent{
		Records: []events.SQSMessage{taskRecord(t, liveTask())},
	})
	require.NoError(t, err)
	assert.Empty(t, resp.BatchItemFailures)
	assert.Empty(t, sink.messages)
	assert.Equal(t, []string{"skipped"}, m.results)
}

func TestHandle_MalformedPayloadFails(t *testing.T) {
	h := newHandler(&fakeUsers{}, &fakeLedger{}, &fakeSink{}, &fakeMetrics{})

	resp, err := h.Handle(context.Background(), events.SQSEvent{
		Records: []events.SQSMessage{{MessageId: "m-bad", Body: "{not json"}},
	})
	require.NoError(t, err)
	require.Len(t, resp.BatchItemFailures, 1)
	assert.Equal(t, "m-bad", resp.BatchItemFailures[0].ItemIdentifier)
}

func TestHandle_LegacyPayloadAccepted(t *testing.T) {
	users := &fakeUsers{byID: map[string]*types.User{"u-1": liveUser()}}
	ledger := &fakeLedger{committed: true}
	sink := &fakeSink{}
	h := newHandler(users, ledger, sink, &fakeMetrics{})

	legacy := `{"userId":"u-1","fullName":"Linh Tran","dob":"1996-10-09","timezone":"Asia/Ho_Chi_Minh"}`
	resp, err := h.Handle(context.Background(), events.SQSEvent{
		Records: []events.SQSMessage{{MessageId: "m-legacy", Body: legacy}},
	})
	require.NoError(t, err)
	assert.Empty(t, resp.BatchItemFailures)
	assert.Equal(t, []string{"u-1/birthday/2024-10-09"}, ledger.calls)
}

func TestHandle_SinkFailureRetries(t *testing.T) {
	users := &fakeUsers{byID: map[string]*types.User{"u-1": liveUser()}}
	ledger := &fakeLedger{}
	m := &fakeMetrics{}
	h := newHandler(users, ledger, &fakeSink{err: errors.New("sink down")}, m)

	resp, err := h.Handle(context.Background(), events.SQSEvent{
		Records: []events.SQSMessage{taskRecord(t, liveTask())},
	})
	require.NoError(t, err)
	require.Len(t, resp.BatchItemFailures, 1)
	assert.Empty(t, ledger.calls)
	assert.Equal(t, []string{"failed"}, m.results)
}

func TestHandle_LostRaceSettles(t *testing.T) {
	users := &fakeUsers{byID: map[string]*types.User{"u-1": liveUser()}}
	ledger := &fakeLedger{committed: false}
	m := &fakeMetrics{}
	h := newHandler(users, ledger, &fakeSink{}, m)

	resp, err := h.Handle(context.Background(), events.SQSEvent{
		Records: []events.SQSMessage{taskRecord(t, liveTask())},
	})
	require.NoError(t, err)
	assert.Empty(t, resp.BatchItemFailures)
	assert.Equal(t, []string{"race"}, m.results)
}

func TestHandle_PartialBatch(t *testing.T) {
	users := &fakeUsers{byID: map[string]*types.User{"u-1": liveUser()}}
	ledger := &fakeLedger{committed: true}
	h := newHandler(users, ledger, &fakeSink{}, &fakeMetrics{})

	good := taskRecord(t, liveTask())
	resp, err := h.Handle(context.Background(), events.SQSEvent{
		Records: []events.SQSMessage{
			good,
			{MessageId: "m-bad", Body: "{not json"},
		},
	})
	require.NoError(t, err)
	require.Len(t, resp.BatchItemFailures, 1)
	assert.Equal(t, "m-bad", resp.BatchItemFailures[0].ItemIdentifier)
}

// firstWinsLedger commits only the first MarkDelivered call and reports every
// later one as a lost race.
type firstWinsLedger struct {
	mu    sync.Mutex
	calls int
}

func (f *firstWinsLedger) MarkDelivered(ctx context.Context, userID, kind, occurrenceDate string, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.calls == 1, nil
}

func TestHandle_DuplicateTasksCommitOnce(t *testing.T) {
	users := &fakeUsers{byID: map[string]*types.User{"u-1": liveUser()}}
	ledger := &firstWinsLedger{}
	sink := &fakeSink{}
	m := &fakeMetrics{}
	h := newHandler(users, ledger, sink, m)

	// The same task delivered twice in one batch, processed concurrently.
	a := taskRecord(t, liveTask())
	b := taskRecord(t, liveTask())
	b.MessageId = "m-dup"

	resp, err := h.Handle(context.Background(), events.SQSEvent{
		Records: []events.SQSMessage{a, b},
	})
	require.NoError(t, err)

	// Both records settle; exactly one commit wins and the duplicate send
	// is absorbed as a benign race.
	assert.Empty(t, resp.BatchItemFailures)
	assert.Equal(t, 2, ledger.calls)
	assert.ElementsMatch(t, []string{"success", "race"}, m.results)
}

func TestHandle_RecordsQueueLag(t *testing.T) {
	users := &fakeUsers{byID: map[string]*types.User{"u-1": liveUser()}}
	m := &fakeMetrics{}
	h := newHandler(users, &fakeLedger{committed: true}, &fakeSink{}, m)

	rec := taskRecord(t, liveTask())
	rec.Attributes = map[string]string{
		"SentTimestamp": "1728439200000", // 2024-10-09T02:00:00Z, 30s before testNow
	}
	_, err := h.Handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{rec}})
	require.NoError(t, err)

	require.Len(t, m.lags, 1)
	assert.Equal(t, testNow.Sub(time.UnixMilli(1728439200000)), m.lags[0])
}

func TestHandle_UnknownKindFails(t *testing.T) {
	users := &fakeUsers{byID: map[string]*types.User{"u-1": liveUser()}}
	h := newHandler(users, &fakeLedger{}, &fakeSink{}, &fakeMetrics{})

	task := liveTask()
	task.EventKind = "anniversary"
	resp, err := h.Handle(context.Background(), events.SQSEvent{
		Records: []events.SQSMessage{taskRecord(t, task)},
	})
	require.NoError(t, err)
	require.Len(t, resp.BatchItemFailures, 1)
}
