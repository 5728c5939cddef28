package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/driver-dispatch/internal/assignment"
	"github.com/example/driver-dispatch/internal/models"
)

// fakeHandler fails the first fail calls before succeeding.
type fakeHandler struct {
	mu      sync.Mutex
	fail    int
	calls   int
	created []string
	updated []string
}

func (f *fakeHandler) attempt() error {
	f.calls++
	if f.calls <= f.fail {
		return errors.New("store unavailable")
	}
	return nil
}

func (f *fakeHandler) OrderCreated(_ context.Context, o *models.Order) (assignment.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.attempt(); err != nil {
		return assignment.Result{}, err
	}
	f.created = append(f.created, o.ID)
	return assignment.Result{Outcome: assignment.OutcomeOffered}, nil
}

func (f *fakeHandler) OrderUpdated(_ context.Context, _, after *models.Order) (assignment.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.attempt(); err != nil {
		return assignment.Result{}, err
	}
	f.updated = append(f.updated, after.ID)
	return assignment.Result{Outcome: assignment.OutcomeSkipped}, nil
}

func TestFromChange(t *testing.T) {
	created := FromChange(nil, &models.Order{ID: "o1"})
	assert.Equal(t, TypeCreated, created.Type)
	assert.Equal(t, "o1", created.OrderID)

	updated := FromChange(&models.Order{ID: "o1"}, &models.Order{ID: "o1"})
	assert.Equal(t, TypeUpdated, updated.Type)
}

func TestRouteValidates(t *testing.T) {
	h := &fakeHandler{}
	tests := []OrderEvent{
		{Type: TypeCreated},
		{Type: TypeUpdated, OrderID: "o1", After: &models.Order{}},
		{Type: "deleted", OrderID: "o1", After: &models.Order{}},
	}
	for _, ev := range tests {
		_, err := Route(context.Background(), h, ev)
		assert.ErrorIs(t, err, ErrInvalidEvent, "%+v", ev)
	}
	assert.Zero(t, h.calls)
}

func TestRouteFillsIDsFromEnvelope(t *testing.T) {
	h := &fakeHandler{}
	_, err := Route(context.Background(), h, OrderEvent{Type: TypeUpdated, OrderID: "o9", Before: &models.Order{}, After: &models.Order{}})
	require.NoError(t, err)
	assert.Equal(t, []string{"o9"}, h.updated)
}

func TestRouteWithRetrySucceedsAfterRetries(t *testing.T) {
	h := &fakeHandler{fail: 2}
	start := time.Now()
	res, err := RouteWithRetry(context.Background(), h, OrderEvent{Type: TypeCreated, OrderID: "o1", After: &models.Order{}}, 3, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, assignment.OutcomeOffered, res.Outcome)
	assert.Equal(t, 3, h.calls)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestRouteWithRetryFailsWhenExhausted(t *testing.T) {
	h := &fakeHandler{fail: 5}
	_, err := RouteWithRetry(context.Background(), h, OrderEvent{Type: TypeCreated, OrderID: "o1", After: &models.Order{}}, 3, 5*time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, 3, h.calls)
}

func TestRouteWithRetryDoesNotRetryInvalidEvents(t *testing.T) {
	h := &fakeHandler{}
	_, err := RouteWithRetry(context.Background(), h, OrderEvent{Type: TypeCreated}, 3, time.Millisecond)
	assert.ErrorIs(t, err, ErrInvalidEvent)
	assert.Zero(t, h.calls)
}

type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	errs      int
	done      context.CancelFunc
	committed []int64
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	if f.errs > 0 {
		f.errs--
		f.mu.Unlock()
		return kafka.Message{}, errors.New("leader not available")
	}
	if len(f.msgs) == 0 {
		f.mu.Unlock()
		f.done()
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	m := f.msgs[0]
	f.msgs = f.msgs[1:]
	f.mu.Unlock()
	return m, nil
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

func (f *fakeReader) Close() error { return nil }

func encode(t *testing.T, offset int64, ev OrderEvent) kafka.Message {
	t.Helper()
	b, err := json.Marshal(ev)
	require.NoError(t, err)
	return kafka.Message{Key: []byte(ev.OrderID), Value: b, Offset: offset}
}

func TestConsumerRunRoutesUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := &fakeHandler{}
	r := &fakeReader{
		done: cancel,
		msgs: []kafka.Message{
			encode(t, 1, OrderEvent{Type: TypeCreated, OrderID: "o1", After: &models.Order{ID: "o1", Status: "pending"}}),
			{Value: []byte("{not json"), Offset: 2},
			encode(t, 3, OrderEvent{Type: TypeUpdated, OrderID: "o2", Before: &models.Order{}, After: &models.Order{}}),
		},
	}
	c := &Consumer{Reader: r, Handler: h, Logger: slog.New(slog.NewTextHandler(io.Discard, nil)), Delay: time.Millisecond}

	require.NoError(t, c.Run(ctx))
	assert.Equal(t, []string{"o1"}, h.created)
	assert.Equal(t, []string{"o2"}, h.updated)
	assert.Equal(t, []int64{1, 2, 3}, r.committed, "handled and malformed messages are both committed")
}

func TestConsumerRetriesFailedMessageBeforeCommitting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// three attempts per delivery: the first delivery fails, the second succeeds
	h := &fakeHandler{fail: 4}
	r := &fakeReader{
		done: cancel,
		msgs: []kafka.Message{
			encode(t, 7, OrderEvent{Type: TypeCreated, OrderID: "o1", After: &models.Order{ID: "o1", Status: "pending"}}),
			encode(t, 8, OrderEvent{Type: TypeCreated, OrderID: "o2", After: &models.Order{ID: "o2", Status: "pending"}}),
		},
	}
	c := &Consumer{Reader: r, Handler: h, Logger: slog.New(slog.NewTextHandler(io.Discard, nil)), Attempts: 3, Delay: time.Millisecond}

	require.NoError(t, c.Run(ctx))
	assert.Equal(t, []string{"o1", "o2"}, h.created)
	assert.Equal(t, 6, h.calls)
	assert.Equal(t, []int64{7, 8}, r.committed)
}

func TestConsumerDoesNotCommitWhenStoppedMidRetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := &fakeHandler{fail: 1 << 30}
	r := &fakeReader{
		done: cancel,
		msgs: []kafka.Message{
			encode(t, 4, OrderEvent{Type: TypeCreated, OrderID: "o1", After: &models.Order{ID: "o1", Status: "pending"}}),
		},
	}
	c := &Consumer{Reader: r, Handler: h, Logger: slog.New(slog.NewTextHandler(io.Discard, nil)), Attempts: 1, Delay: time.Millisecond}

	go func() {
		assert.Eventually(t, func() bool {
			h.mu.Lock()
			defer h.mu.Unlock()
			return h.calls >= 3
		}, time.Second, time.Millisecond)
		cancel()
	}()

	require.NoError(t, c.Run(ctx))
	assert.Empty(t, r.committed)
}
