package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"haulhub/internal/protocol"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

// recorder collects callback payloads from the read goroutine.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) callback(tag string) Callback {
	return func(data json.RawMessage) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.calls = append(r.calls, tag+":"+string(data))
	}
}

func (r *recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func connected(t *testing.T, opts ...Option) (*Manager, *fakeConn, *fakeScheduler) {
	t.Helper()
	conn := newFakeConn()
	dialer := &fakeDialer{}
	dialer.queue(dialResult{conn: conn})
	m, sched := newTestManager(dialer, opts...)
	require.NoError(t, m.Connect(context.Background()))
	require.True(t, m.IsConnected())
	t.Cleanup(m.Disconnect)
	return m, conn, sched
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "state(9)", State(9).String())
}

func TestManager_StartsDisconnected(t *testing.T) {
	m, _ := newTestManager(&fakeDialer{})
	assert.Equal(t, StateDisconnected, m.State())
	assert.False(t, m.IsConnected())
}

func TestManager_ConnectReportsTransitions(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{}
	dialer.queue(dialResult{conn: conn})
	m, _ := newTestManager(dialer)

	var mu sync.Mutex
	var states []State
	m.OnStateChange(func(s State) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, s)
	})

	require.NoError(t, m.Connect(context.Background()))
	m.Disconnect()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateConnecting, StateConnected, StateDisconnected}, states)
	assert.True(t, conn.isClosed())
}

func TestManager_ConnectWhileConnectedIsNoop(t *testing.T) {
	dialer := &fakeDialer{}
	dialer.queue(dialResult{conn: newFakeConn()})
	m, _ := newTestManager(dialer)
	defer m.Disconnect()

	require.NoError(t, m.Connect(context.Background()))
	require.NoError(t, m.Connect(context.Background()))

	assert.Equal(t, 1, dialer.dialCount())
}

func TestManager_ReconnectDelaysFollowBackoff(t *testing.T) {
	m, sched := newTestManager(&fakeDialer{}, WithMaxAttempts(0))
	defer m.Disconnect()

	err := m.Connect(context.Background())
	require.ErrorIs(t, err, errDialRefused)
	for i := 0; i < 6; i++ {
		sched.fire(t)
	}

	want := []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 30 * time.Second, 30 * time.Second,
	}
	assert.Equal(t, want, sched.recorded())
	assert.Equal(t, StateConnecting, m.State())
}

func TestManager_SuccessResetsBackoff(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{}
	dialer.queue(
		dialResult{err: errDialRefused},
		dialResult{err: errDialRefused},
		dialResult{err: errDialRefused},
		dialResult{conn: conn},
	)
	m, sched := newTestManager(dialer)
	defer m.Disconnect()

	_ = m.Connect(context.Background())
	sched.fire(t)
	sched.fire(t)
	sched.fire(t)
	require.True(t, m.IsConnected())

	conn.Close()

	require.Eventually(t, func() bool { return len(sched.recorded()) == 4 }, waitFor, tick)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, time.Second}, sched.recorded())
	assert.Equal(t, StateConnecting, m.State())
}

func TestManager_FailsAfterMaxAttempts(t *testing.T) {
	dialer := &fakeDialer{}
	m, sched := newTestManager(dialer, WithMaxAttempts(3))
	defer m.Disconnect()

	_ = m.Connect(context.Background())
	sched.fire(t)
	sched.fire(t)

	assert.Equal(t, StateFailed, m.State())
	assert.Equal(t, 3, dialer.dialCount())
	assert.Len(t, sched.recorded(), 2, "no retry is armed once attempts are exhausted")
	assert.Nil(t, sched.lastTimer())

	// an explicit Connect starts a fresh series
	dialer.queue(dialResult{conn: newFakeConn()})
	require.NoError(t, m.Connect(context.Background()))
	assert.True(t, m.IsConnected())
}

func TestManager_FailedConnectRetriesFromFreshCounter(t *testing.T) {
	dialer := &fakeDialer{}
	m, sched := newTestManager(dialer, WithMaxAttempts(2))
	defer m.Disconnect()

	_ = m.Connect(context.Background())
	sched.fire(t)
	require.Equal(t, StateFailed, m.State())

	_ = m.Connect(context.Background())

	assert.Equal(t, StateConnecting, m.State())
	assert.Equal(t, []time.Duration{time.Second, time.Second}, sched.recorded())
}

func TestManager_DisconnectCancelsPendingRetry(t *testing.T) {
	dialer := &fakeDialer{}
	m, sched := newTestManager(dialer)

	_ = m.Connect(context.Background())
	pending := sched.lastTimer()
	require.NotNil(t, pending)

	m.Disconnect()

	assert.True(t, pending.stopped)
	assert.Equal(t, StateDisconnected, m.State())

	// a timer that fires anyway must not redial
	sched.fire(t)
	assert.Equal(t, 1, dialer.dialCount())
	assert.Equal(t, StateDisconnected, m.State())
}

func TestManager_DisconnectDoesNotReconnect(t *testing.T) {
	m, conn, sched := connected(t)

	m.Disconnect()

	assert.True(t, conn.isClosed())
	assert.Never(t, func() bool { return len(sched.recorded()) > 0 }, 50*time.Millisecond, tick)
	assert.Equal(t, StateDisconnected, m.State())
}

func TestManager_SendWhenNotConnected(t *testing.T) {
	m, _ := newTestManager(&fakeDialer{})

	err := m.Send("chat_message", map[string]string{"body": "hi"})

	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestManager_SendWritesEnvelope(t *testing.T) {
	m, conn, _ := connected(t)

	require.NoError(t, m.Send("chat_message", map[string]string{"body": "hi"}))

	assert.Equal(t, []string{"chat_message"}, conn.types(t))
}

func TestManager_SendRejectsUnencodableData(t *testing.T) {
	m, conn, _ := connected(t)

	err := m.Send("chat_message", make(chan int))

	assert.Error(t, err)
	assert.Empty(t, conn.types(t))
}

func TestManager_AnswersPingAndDispatchesIt(t *testing.T) {
	m, conn, _ := connected(t)
	rec := &recorder{}
	m.Subscribe(protocol.TypePing, rec.callback("ping"))

	conn.push(t, protocol.TypePing, nil)

	require.Eventually(t, func() bool { return len(conn.types(t)) == 1 }, waitFor, tick)
	assert.Equal(t, []string{protocol.TypePong}, conn.types(t))
	require.Eventually(t, func() bool { return len(rec.got()) == 1 }, waitFor, tick)
}

func TestManager_DispatchesDataInRegistrationOrder(t *testing.T) {
	m, conn, _ := connected(t)
	rec := &recorder{}
	m.Subscribe("new_delivery", rec.callback("first"))
	m.Subscribe("new_delivery", rec.callback("second"))
	m.Subscribe("admin_alert", rec.callback("other"))

	conn.push(t, "new_delivery", map[string]string{"id": "d1"})

	require.Eventually(t, func() bool { return len(rec.got()) == 2 }, waitFor, tick)
	assert.Equal(t, []string{`first:{"id":"d1"}`, `second:{"id":"d1"}`}, rec.got())
}

func TestManager_PanickingSubscriberIsIsolated(t *testing.T) {
	m, conn, _ := connected(t)
	errs := make(chan error, 1)
	m.OnError(func(err error) { errs <- err })
	rec := &recorder{}
	m.Subscribe("new_delivery", func(json.RawMessage) { panic("boom") })
	m.Subscribe("new_delivery", rec.callback("survivor"))

	conn.push(t, "new_delivery", map[string]string{"id": "d1"})

	select {
	case err := <-errs:
		var panicErr *SubscriberPanicError
		require.True(t, errors.As(err, &panicErr))
		assert.Equal(t, "new_delivery", panicErr.Type)
		assert.Equal(t, "boom", panicErr.Value)
	case <-time.After(waitFor):
		t.Fatal("panic was not reported")
	}
	require.Eventually(t, func() bool { return len(rec.got()) == 1 }, waitFor, tick)
	assert.True(t, m.IsConnected())
}

func TestManager_DecodeErrorIsReportedNotDispatched(t *testing.T) {
	m, conn, _ := connected(t)
	errs := make(chan error, 2)
	m.OnError(func(err error) { errs <- err })
	rec := &recorder{}
	m.Subscribe("", rec.callback("empty"))

	conn.inbox <- []byte("not json")
	conn.inbox <- []byte(`{"data":{}}`)

	for _, want := range []error{protocol.ErrMalformedEnvelope, protocol.ErrMissingType} {
		select {
		case err := <-errs:
			assert.ErrorIs(t, err, want)
		case <-time.After(waitFor):
			t.Fatalf("expected %v", want)
		}
	}
	assert.Empty(t, rec.got())
}

func TestManager_UnsubscribeRemovesExactlyOne(t *testing.T) {
	m, conn, _ := connected(t)
	rec := &recorder{}
	first := m.Subscribe("admin_alert", rec.callback("first"))
	second := m.Subscribe("admin_alert", rec.callback("second"))

	assert.True(t, m.Unsubscribe("admin_alert", first))
	assert.False(t, m.Unsubscribe("admin_alert", first))
	assert.False(t, m.Unsubscribe("new_delivery", second))

	conn.push(t, "admin_alert", "disk full")
	require.Eventually(t, func() bool { return len(rec.got()) == 1 }, waitFor, tick)
	assert.Equal(t, []string{`second:"disk full"`}, rec.got())

	assert.True(t, m.Unsubscribe("admin_alert", second))
	assert.Equal(t, 0, m.subs.types(), "empty type entries are dropped")
}

func TestManager_SubscriptionsSurviveReconnect(t *testing.T) {
	first, second := newFakeConn(), newFakeConn()
	dialer := &fakeDialer{}
	dialer.queue(dialResult{conn: first}, dialResult{conn: second})
	m, sched := newTestManager(dialer)
	defer m.Disconnect()

	rec := &recorder{}
	m.Subscribe("new_delivery", rec.callback("sub"))
	require.NoError(t, m.Connect(context.Background()))

	first.Close()
	require.Eventually(t, func() bool { return sched.lastTimer() != nil }, waitFor, tick)
	assert.False(t, m.IsConnected())
	assert.ErrorIs(t, m.Send("chat_message", nil), ErrNotConnected)

	sched.fire(t)
	require.True(t, m.IsConnected())

	second.push(t, "new_delivery", map[string]string{"id": "d2"})
	require.Eventually(t, func() bool { return len(rec.got()) == 1 }, waitFor, tick)
	assert.Equal(t, []string{`sub:{"id":"d2"}`}, rec.got())
}
