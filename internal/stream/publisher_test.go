package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/passbi/busrace/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedSource struct {
	calls int32
	fail  func(call int) error
}

func (s *scriptedSource) GetAvailableBuses(ctx context.Context, operator, clientName string) ([]models.EnrichedVehicle, error) {
	n := int(atomic.AddInt32(&s.calls, 1))
	if s.fail != nil {
		if err := s.fail(n); err != nil {
			return nil, err
		}
	}
	return []models.EnrichedVehicle{{Vehicle: models.Vehicle{ID: operator + ":Vehicle:1"}}}, nil
}

type recorder struct {
	mu     sync.Mutex
	events []models.UpdateEvent
}

func (r *recorder) emit(ev models.UpdateEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *recorder) snapshot() []models.UpdateEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.UpdateEvent(nil), r.events...)
}

type lifecycle struct {
	opened, closed, updates, errs int32
}

func (l *lifecycle) StreamEvent(isError bool) {
	if isError {
		atomic.AddInt32(&l.errs, 1)
		return
	}
	atomic.AddInt32(&l.updates, 1)
}
func (l *lifecycle) SubscriptionOpened() { atomic.AddInt32(&l.opened, 1) }
func (l *lifecycle) SubscriptionClosed() { atomic.AddInt32(&l.closed, 1) }

func TestSubscribeEmitsImmediatelyThenOnInterval(t *testing.T) {
	src := &scriptedSource{}
	p := NewPublisher(src, 10*time.Millisecond, nil, nil)
	rec := &recorder{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Subscribe(ctx, "AKT", "team", rec.emit) }()

	require.Eventually(t, func() bool { return rec.len() >= 3 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	events := rec.snapshot()
	assert.Equal(t, "AKT", events[0].Operator)
	assert.Len(t, events[0].AvailableBuses, 1)
	assert.False(t, events[0].UpdatedAt.IsZero())
	assert.Empty(t, p.Active())
}

func TestSubscribeFirstCycleDoesNotWaitForTicker(t *testing.T) {
	p := NewPublisher(&scriptedSource{}, time.Hour, nil, nil)
	rec := &recorder{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Subscribe(ctx, "AKT", "team", rec.emit)

	require.Eventually(t, func() bool { return rec.len() == 1 }, time.Second, time.Millisecond)
}

func TestSubscribeFailedCycleEmitsErrorAndContinues(t *testing.T) {
	src := &scriptedSource{fail: func(call int) error {
		if call == 1 {
			return errors.New("Entur request failed.")
		}
		return nil
	}}
	obs := &lifecycle{}
	p := NewPublisher(src, 5*time.Millisecond, obs, nil)
	rec := &recorder{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Subscribe(ctx, "AKT", "team", rec.emit) }()

	require.Eventually(t, func() bool { return rec.len() >= 2 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	events := rec.snapshot()
	assert.True(t, events[0].IsError())
	assert.Equal(t, "Entur request failed.", events[0].Error)
	assert.False(t, events[1].IsError())

	assert.Equal(t, int32(1), atomic.LoadInt32(&obs.errs))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&obs.updates), int32(1))
	assert.Equal(t, int32(1), atomic.LoadInt32(&obs.opened))
	assert.Equal(t, int32(1), atomic.LoadInt32(&obs.closed))
}

func TestSubscribeStopsWhenEmitFails(t *testing.T) {
	src := &scriptedSource{}
	p := NewPublisher(src, time.Millisecond, nil, nil)
	gone := errors.New("broken pipe")

	err := p.Subscribe(context.Background(), "AKT", "team", func(models.UpdateEvent) error { return gone })
	assert.ErrorIs(t, err, gone)
	assert.Equal(t, int32(1), atomic.LoadInt32(&src.calls))
	assert.Empty(t, p.Active())
}

func TestSubscribeStopsPollingAfterCancel(t *testing.T) {
	src := &scriptedSource{}
	p := NewPublisher(src, 5*time.Millisecond, nil, nil)
	rec := &recorder{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Subscribe(ctx, "AKT", "team", rec.emit) }()

	require.Eventually(t, func() bool { return rec.len() >= 1 }, time.Second, time.Millisecond)
	cancel()
	<-done

	calls := atomic.LoadInt32(&src.calls)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, atomic.LoadInt32(&src.calls))
}

func TestActiveSubscriptions(t *testing.T) {
	p := NewPublisher(&scriptedSource{}, time.Hour, nil, nil)
	rec := &recorder{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{}, 2)
	for _, op := range []string{"AKT", "SKY"} {
		go func(op string) {
			p.Subscribe(ctx, op, "team", rec.emit)
			done <- struct{}{}
		}(op)
	}

	require.Eventually(t, func() bool { return len(p.Active()) == 2 }, time.Second, time.Millisecond)
	for _, s := range p.Active() {
		assert.NotEmpty(t, s.ID)
	}

	cancel()
	<-done
	<-done
	assert.Empty(t, p.Active())
}

func TestWriteEventFraming(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)

	ev := models.UpdateEvent{Operator: "AKT", UpdatedAt: time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)}
	require.NoError(t, NewEventWriter(w).Emit(ev))
	require.NoError(t, WriteEvent(w, models.UpdateEvent{Error: "boom"}))

	frames := strings.Split(strings.TrimSuffix(buf.String(), "\n\n"), "\n\n")
	require.Len(t, frames, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(frames[0], "data: ")), &first))
	assert.Equal(t, "AKT", first["operator"])
	assert.Equal(t, []any{}, first["availableBuses"])
	assert.Equal(t, "2026-10-17T12:00:00Z", first["updatedAt"])

	assert.Equal(t, `data: {"error":"boom"}`, frames[1])
}

type brokenWriter struct{}

func (brokenWriter) Write(p []byte) (int, error) { return 0, errors.New("broken pipe") }

func TestKeepAlive(t *testing.T) {
	t.Run("pings are comments", func(t *testing.T) {
		var buf bytes.Buffer
		ew := NewEventWriter(bufio.NewWriter(&buf))
		require.NoError(t, ew.Ping())
		require.NoError(t, ew.Emit(models.UpdateEvent{Error: "boom"}))
		assert.Equal(t, ": ping\n\ndata: {\"error\":\"boom\"}\n\n", buf.String())
	})

	t.Run("failed ping reports the client gone", func(t *testing.T) {
		ew := NewEventWriter(bufio.NewWriter(brokenWriter{}))
		var gone int32
		done := make(chan struct{})
		go func() {
			ew.KeepAlive(context.Background(), 5*time.Millisecond, func() { atomic.AddInt32(&gone, 1) })
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("keep-alive did not stop on a failed write")
		}
		assert.Equal(t, int32(1), atomic.LoadInt32(&gone))
	})

	t.Run("cancel stops without reporting", func(t *testing.T) {
		ew := NewEventWriter(bufio.NewWriter(&bytes.Buffer{}))
		ctx, cancel := context.WithCancel(context.Background())
		var gone int32
		done := make(chan struct{})
		go func() {
			ew.KeepAlive(ctx, 5*time.Millisecond, func() { atomic.AddInt32(&gone, 1) })
			close(done)
		}()

		time.Sleep(20 * time.Millisecond)
		cancel()
		<-done
		assert.Zero(t, atomic.LoadInt32(&gone))
	})
}

func TestSubscribeSkipsFetchWhenAlreadyCancelled(t *testing.T) {
	src := &scriptedSource{}
	p := NewPublisher(src, time.Hour, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := &recorder{}
	require.NoError(t, p.Subscribe(ctx, "AKT", "team", rec.emit))
	assert.Zero(t, atomic.LoadInt32(&src.calls))
	assert.Zero(t, rec.len())
}
