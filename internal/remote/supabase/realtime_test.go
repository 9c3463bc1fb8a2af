package supabase

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idilsaglam/quicklist/internal/model"
	"github.com/idilsaglam/quicklist/internal/remote"
)

// fakeRealtime accepts one socket, answers the join and forwards frames
// queued on push.
type fakeRealtime struct {
	t          *testing.T
	joinStatus string
	push       chan Message
	mu         sync.Mutex
	received   []Message
	closeConn  chan struct{}
}

func newFakeRealtime(t *testing.T, joinStatus string) (*fakeRealtime, *httptest.Server) {
	f := &fakeRealtime{
		t:          t,
		joinStatus: joinStatus,
		push:       make(chan Message, 16),
		closeConn:  make(chan struct{}),
	}
	server := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(server.Close)
	return f, server
}

func (f *fakeRealtime) serve(w http.ResponseWriter, r *http.Request) {
	assert.Equal(f.t, "/realtime/v1/websocket", r.URL.Path)
	assert.Equal(f.t, "anon-key", r.URL.Query().Get("apikey"))
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var msg Message
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			f.mu.Lock()
			f.received = append(f.received, msg)
			f.mu.Unlock()
			if msg.Event == PhxJoin {
				payload, _ := json.Marshal(map[string]any{"status": f.joinStatus, "response": map[string]any{}})
				writeMu.Lock()
				_ = conn.WriteJSON(Message{Topic: msg.Topic, Event: PhxReply, Payload: payload, Ref: msg.Ref})
				writeMu.Unlock()
			}
		}
	}()
	for {
		select {
		case msg := <-f.push:
			writeMu.Lock()
			_ = conn.WriteJSON(msg)
			writeMu.Unlock()
		case <-f.closeConn:
			return
		case <-done:
			return
		}
	}
}

func (f *fakeRealtime) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.received))
	for _, m := range f.received {
		out = append(out, m.Topic+"/"+m.Event)
	}
	return out
}

func change(t *testing.T, kind string, record map[string]any) Message {
	t.Helper()
	p := map[string]any{
		"type":             kind,
		"schema":           "public",
		"table":            "todos",
		"commit_timestamp": "2024-03-01T10:00:00Z",
	}
	if kind == "DELETE" {
		p["old_record"] = record
	} else {
		p["record"] = record
	}
	raw, err := json.Marshal(p)
	require.NoError(t, err)
	return Message{Topic: "realtime:public:todos", Event: kind, Payload: raw}
}

func collect() (remote.Handler, func() []model.Event) {
	var mu sync.Mutex
	var got []model.Event
	return func(evt model.Event) {
			mu.Lock()
			got = append(got, evt)
			mu.Unlock()
		}, func() []model.Event {
			mu.Lock()
			defer mu.Unlock()
			return append([]model.Event(nil), got...)
		}
}

func realtimeClient(t *testing.T, url string, heartbeat time.Duration) *Client {
	t.Helper()
	c, err := New(Config{URL: url, Key: "anon-key", Timeout: 2 * time.Second, Heartbeat: heartbeat})
	require.NoError(t, err)
	return c
}

func TestSubscribeDeliversChangesInOrder(t *testing.T) {
	fake, server := newFakeRealtime(t, "ok")
	c := realtimeClient(t, server.URL, time.Hour)
	handler, got := collect()

	sub, err := c.Subscribe(context.Background(), handler)
	require.NoError(t, err)
	defer sub.Release()

	fake.push <- change(t, "INSERT", map[string]any{"id": 2, "task": "walk dog", "is_complete": false})
	fake.push <- Message{Topic: "realtime:public:other", Event: "INSERT", Payload: json.RawMessage(`{}`)}
	fake.push <- change(t, "UPDATE", map[string]any{"id": 1, "task": "buy milk", "is_complete": true})
	fake.push <- change(t, "DELETE", map[string]any{"id": 2})

	require.Eventually(t, func() bool { return len(got()) == 3 }, 2*time.Second, 10*time.Millisecond)
	events := got()
	assert.Equal(t, model.EventInsert, events[0].Kind)
	assert.Equal(t, "walk dog", events[0].Item.Task)
	assert.Equal(t, model.EventUpdate, events[1].Kind)
	assert.True(t, events[1].Item.IsComplete)
	assert.Equal(t, model.DeleteEvent(2).Item, events[2].Item)
	assert.False(t, events[2].CommitTime.IsZero())
}

func TestSubscribeDropsMalformedChanges(t *testing.T) {
	fake, server := newFakeRealtime(t, "ok")
	c := realtimeClient(t, server.URL, time.Hour)
	handler, got := collect()

	sub, err := c.Subscribe(context.Background(), handler)
	require.NoError(t, err)
	defer sub.Release()

	fake.push <- Message{Topic: "realtime:public:todos", Event: "INSERT", Payload: json.RawMessage(`{"type":"INSERT"}`)}
	fake.push <- change(t, "INSERT", map[string]any{"task": "no id"})
	fake.push <- change(t, "INSERT", map[string]any{"id": 5, "task": "ok"})

	require.Eventually(t, func() bool { return len(got()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(5), got()[0].Item.ID)
}

func TestSubscribeJoinRejected(t *testing.T) {
	_, server := newFakeRealtime(t, "error")
	c := realtimeClient(t, server.URL, time.Hour)

	_, err := c.Subscribe(context.Background(), func(model.Event) {})
	require.Error(t, err)
	assert.ErrorIs(t, err, remote.ErrStreamDisconnected)
}

func TestSubscribeDialFailure(t *testing.T) {
	c := realtimeClient(t, "http://127.0.0.1:1", time.Hour)

	_, err := c.Subscribe(context.Background(), func(model.Event) {})
	assert.ErrorIs(t, err, remote.ErrStreamDisconnected)
}

func TestSubscribeSendsHeartbeats(t *testing.T) {
	fake, server := newFakeRealtime(t, "ok")
	c := realtimeClient(t, server.URL, 20*time.Millisecond)

	sub, err := c.Subscribe(context.Background(), func(model.Event) {})
	require.NoError(t, err)
	defer sub.Release()

	require.Eventually(t, func() bool {
		for _, e := range fake.events() {
			if e == "phoenix/heartbeat" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServerCloseEndsStreamWithDisconnect(t *testing.T) {
	fake, server := newFakeRealtime(t, "ok")
	c := realtimeClient(t, server.URL, time.Hour)

	sub, err := c.Subscribe(context.Background(), func(model.Event) {})
	require.NoError(t, err)

	close(fake.closeConn)

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end after server close")
	}
	assert.ErrorIs(t, sub.Err(), remote.ErrStreamDisconnected)
	assert.NoError(t, sub.Release())
}

func TestChannelErrorEndsStream(t *testing.T) {
	fake, server := newFakeRealtime(t, "ok")
	c := realtimeClient(t, server.URL, time.Hour)

	sub, err := c.Subscribe(context.Background(), func(model.Event) {})
	require.NoError(t, err)

	fake.push <- Message{Topic: "realtime:public:todos", Event: PhxError, Payload: json.RawMessage(`{"reason":"boom"}`)}

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end on phx_error")
	}
	assert.ErrorIs(t, sub.Err(), remote.ErrStreamDisconnected)
}

func TestReleaseLeavesAndStopsDelivery(t *testing.T) {
	fake, server := newFakeRealtime(t, "ok")
	c := realtimeClient(t, server.URL, time.Hour)
	handler, got := collect()

	sub, err := c.Subscribe(context.Background(), handler)
	require.NoError(t, err)

	require.NoError(t, sub.Release())
	require.NoError(t, sub.Release())
	assert.NoError(t, sub.Err())

	require.Eventually(t, func() bool {
		for _, e := range fake.events() {
			if e == "realtime:public:todos/phx_leave" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, got())
}

func TestContextCancelReleases(t *testing.T) {
	_, server := newFakeRealtime(t, "ok")
	c := realtimeClient(t, server.URL, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := c.Subscribe(ctx, func(model.Event) {})
	require.NoError(t, err)
	cancel()

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end on context cancel")
	}
	assert.NoError(t, sub.Err())
}

func TestDecodeChange(t *testing.T) {
	evt, err := DecodeChange("UPDATE", json.RawMessage(`{
		"type":"UPDATE",
		"commit_timestamp":"2024-03-01 10:00:00+00",
		"record":{"id":9,"task":"t","is_complete":true,"inserted_at":"2024-03-01 09:59:59.5+00"},
		"old_record":{"id":9}
	}`))
	require.NoError(t, err)
	assert.Equal(t, model.EventUpdate, evt.Kind)
	assert.Equal(t, int64(9), evt.Item.ID)
	assert.Equal(t, 59, evt.Item.InsertedAt.Second())
	assert.False(t, evt.CommitTime.IsZero())

	_, err = DecodeChange("DELETE", json.RawMessage(`{"type":"DELETE","record":{"id":1}}`))
	assert.Error(t, err)

	_, err = DecodeChange("INSERT", json.RawMessage(`not json`))
	assert.Error(t, err)
}
