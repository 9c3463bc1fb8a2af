package devserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/idilsaglam/quicklist/internal/model"
	"github.com/idilsaglam/quicklist/internal/reconcile"
	"github.com/idilsaglam/quicklist/internal/remote/supabase"
	"github.com/idilsaglam/quicklist/internal/session"
)

const testKey = "test-key"

func startServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	store := setupStore(t)
	srv := New(Config{Key: testKey}, store, zaptest.NewLogger(t))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Hub().Close()
		ts.Close()
	})
	return srv, ts
}

func restClient(t *testing.T, url, key string) *supabase.Client {
	t.Helper()
	c, err := supabase.New(supabase.Config{URL: url, Key: key, Timeout: 2 * time.Second, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

type events struct {
	mu  sync.Mutex
	got []model.Event
}

func (e *events) add(evt model.Event) {
	e.mu.Lock()
	e.got = append(e.got, evt)
	e.mu.Unlock()
}

func (e *events) list() []model.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]model.Event(nil), e.got...)
}

func TestRESTAndRealtimeRoundTrip(t *testing.T) {
	_, ts := startServer(t)
	client := restClient(t, ts.URL, testKey)
	ctx := context.Background()

	items, err := client.FetchAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)

	var rec events
	sub, err := client.Subscribe(ctx, rec.add)
	require.NoError(t, err)
	defer sub.Release()

	require.NoError(t, client.Insert(ctx, model.NewItem{Task: "buy milk"}))
	items, err = client.FetchAll(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	id := items[0].ID

	require.NoError(t, client.UpdateByID(ctx, id, model.CompletePatch()))
	require.NoError(t, client.DeleteByID(ctx, id))
	// Unknown ids are accepted and produce no event.
	require.NoError(t, client.DeleteByID(ctx, id+100))

	require.Eventually(t, func() bool { return len(rec.list()) == 3 }, 2*time.Second, 10*time.Millisecond)
	got := rec.list()
	assert.Equal(t, model.EventInsert, got[0].Kind)
	assert.Equal(t, "buy milk", got[0].Item.Task)
	assert.Equal(t, model.EventUpdate, got[1].Kind)
	assert.True(t, got[1].Item.IsComplete)
	assert.Equal(t, model.EventDelete, got[2].Kind)
	assert.Equal(t, id, got[2].Item.ID)
	assert.False(t, got[2].CommitTime.IsZero())
}

func TestSessionEndToEnd(t *testing.T) {
	_, ts := startServer(t)
	seed := restClient(t, ts.URL, testKey)
	ctx := context.Background()
	require.NoError(t, seed.Insert(ctx, model.NewItem{Task: "already there"}))

	s, err := session.Open(ctx, restClient(t, ts.URL, testKey), session.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	defer s.Close()

	waitSnap := func(cond func(reconcile.Snapshot) bool) reconcile.Snapshot {
		require.Eventually(t, func() bool { return cond(s.Snapshot()) }, 3*time.Second, 10*time.Millisecond)
		return s.Snapshot()
	}

	snap := waitSnap(func(snap reconcile.Snapshot) bool { return snap.Loaded })
	require.Len(t, snap.Items, 1)

	require.NoError(t, s.Submit(ctx, "buy milk"))
	snap = waitSnap(func(snap reconcile.Snapshot) bool { return len(snap.Items) == 2 })
	assert.Equal(t, "buy milk", snap.Items[1].Task)

	// Another writer's change arrives through the stream.
	require.NoError(t, seed.UpdateByID(ctx, snap.Items[0].ID, model.CompletePatch()))
	snap = waitSnap(func(snap reconcile.Snapshot) bool { return len(snap.Items) > 0 && snap.Items[0].IsComplete })

	require.NoError(t, s.Delete(ctx, snap.Items[1].ID))
	snap = waitSnap(func(snap reconcile.Snapshot) bool { return len(snap.Items) == 1 })
	assert.Equal(t, "already there", snap.Items[0].Task)
}

func TestConcurrentUpdatesBroadcastInCommitOrder(t *testing.T) {
	srv, ts := startServer(t)
	client := restClient(t, ts.URL, testKey)
	ctx := context.Background()

	it, err := srv.store.Insert(ctx, model.NewItem{Task: "flip"})
	require.NoError(t, err)

	var rec events
	sub, err := client.Subscribe(ctx, rec.add)
	require.NoError(t, err)
	defer sub.Release()

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(done bool) {
			defer wg.Done()
			assert.NoError(t, client.UpdateByID(ctx, it.ID, model.Patch{IsComplete: &done}))
		}(i%2 == 0)
	}
	wg.Wait()

	require.Eventually(t, func() bool { return len(rec.list()) == writers }, 3*time.Second, 10*time.Millisecond)
	got := rec.list()
	items, err := srv.store.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	last := got[len(got)-1]
	assert.Equal(t, model.EventUpdate, last.Kind)
	assert.Equal(t, items[0].IsComplete, last.Item.IsComplete, "last event must match the stored row")
}

func TestStreamLossSurfacesInSession(t *testing.T) {
	srv, ts := startServer(t)
	ctx := context.Background()

	s, err := session.Open(ctx, restClient(t, ts.URL, testKey))
	require.NoError(t, err)
	defer s.Close()
	require.Eventually(t, func() bool { return s.Snapshot().Loaded }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return srv.Hub().Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	srv.Hub().Close()

	require.Eventually(t, func() bool { return s.Snapshot().StreamErr != nil }, 2*time.Second, 10*time.Millisecond)
}

func TestRESTRejectsBadKey(t *testing.T) {
	_, ts := startServer(t)
	client := restClient(t, ts.URL, "wrong")

	_, err := client.FetchAll(context.Background())
	var httpErr *supabase.HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusUnauthorized, httpErr.StatusCode)

	_, err = client.Subscribe(context.Background(), func(model.Event) {})
	assert.Error(t, err)
}

func TestRESTErrors(t *testing.T) {
	_, ts := startServer(t)

	do := func(method, path, body string) *http.Response {
		req, err := http.NewRequest(method, ts.URL+path, strings.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("apikey", testKey)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { _ = resp.Body.Close() })
		return resp
	}

	assert.Equal(t, http.StatusNotFound, do(http.MethodGet, "/rest/v1/other?select=*", "").StatusCode)
	assert.Equal(t, http.StatusBadRequest, do(http.MethodDelete, "/rest/v1/todos", "").StatusCode)
	assert.Equal(t, http.StatusBadRequest, do(http.MethodPatch, "/rest/v1/todos?id=gt.3", `{}`).StatusCode)
	assert.Equal(t, http.StatusBadRequest, do(http.MethodPost, "/rest/v1/todos", `{"task":`).StatusCode)
	assert.Equal(t, http.StatusBadRequest, do(http.MethodGet, "/rest/v1/todos?select=id", "").StatusCode)

	resp := do(http.MethodPost, "/rest/v1/todos", `[{"task":"a"},{"task":"b"}]`)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	store := setupStore(t)
	srv := New(Config{Key: testKey}, store, nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	client := restClient(t, "http://"+ln.Addr().String(), testKey)
	require.Eventually(t, func() bool {
		_, err := client.FetchAll(context.Background())
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
