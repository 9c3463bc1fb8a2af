package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idilsaglam/quicklist/internal/model"
	"github.com/idilsaglam/quicklist/internal/remote"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	c, err := New(Config{URL: server.URL, Key: "anon-key", HTTPClient: server.Client()})
	require.NoError(t, err)
	return c
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{Key: "k"})
	assert.Error(t, err)

	_, err = New(Config{URL: "ftp://example.com", Key: "k"})
	assert.Error(t, err)

	_, err = New(Config{URL: "https://example.supabase.co"})
	assert.Error(t, err)

	c, err := New(Config{URL: "https://example.supabase.co/", Key: " k "})
	require.NoError(t, err)
	assert.Equal(t, "todos", c.table)
	assert.Equal(t, "public", c.schema)
	assert.Equal(t, "wss://example.supabase.co/realtime/v1/websocket?apikey=k&vsn=1.0.0", c.realtimeURL())
}

func TestFetchAllKeepsServerOrder(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/rest/v1/todos", r.URL.Path)
		assert.Equal(t, "*", r.URL.Query().Get("select"))
		assert.Equal(t, "anon-key", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer anon-key", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("X-Request-Id"))
		assert.Empty(t, r.Header.Get("Accept-Profile"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"id":3,"task":"walk dog","is_complete":false,"inserted_at":"2024-03-01T10:00:00.123456+00:00"},
			{"id":1,"task":"buy milk","is_complete":true,"inserted_at":"2024-02-01T09:00:00+00:00"}
		]`))
	})

	items, err := c.FetchAll(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, int64(3), items[0].ID)
	assert.Equal(t, "walk dog", items[0].Task)
	assert.Equal(t, int64(1), items[1].ID)
	assert.True(t, items[1].IsComplete)
	assert.Equal(t, 2024, items[1].InsertedAt.Year())
}

func TestFetchAllEmpty(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})

	items, err := c.FetchAll(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, items)
	assert.Empty(t, items)
}

func TestFetchAllFailureIsFetchFailed(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"code":"PGRST301","message":"JWT expired","details":null,"hint":null}`))
	})

	_, err := c.FetchAll(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, remote.ErrFetchFailed)

	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusUnauthorized, httpErr.StatusCode)
	assert.Equal(t, "PGRST301", httpErr.Code)
	assert.Equal(t, "http 401 PGRST301: JWT expired", httpErr.Error())
}

func TestMutationsDoNotRetry(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	err := c.Insert(context.Background(), model.NewItem{Task: "x"})
	assert.ErrorIs(t, err, remote.ErrMutationFailed)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestInsertSendsBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/rest/v1/todos", r.URL.Path)
		assert.Equal(t, "return=minimal", r.Header.Get("Prefer"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"task":"buy milk","is_complete":false}`, string(body))
		w.WriteHeader(http.StatusCreated)
	})

	require.NoError(t, c.Insert(context.Background(), model.NewItem{Task: "buy milk"}))
}

func TestUpdateByIDFiltersAndPatches(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "eq.7", r.URL.Query().Get("id"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]any{"is_complete": true}, body)
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, c.UpdateByID(context.Background(), 7, model.CompletePatch()))
}

func TestUpdateByIDEmptyPatchSkipsCall(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("unexpected request %s %s", r.Method, r.URL)
	})

	assert.NoError(t, c.UpdateByID(context.Background(), 7, model.Patch{}))
}

func TestDeleteByID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "eq.42", r.URL.Query().Get("id"))
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, c.DeleteByID(context.Background(), 42))
}

func TestCustomSchemaUsesProfileHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			assert.Equal(t, "app", r.Header.Get("Accept-Profile"))
			_, _ = w.Write([]byte(`[]`))
			return
		}
		assert.Equal(t, "app", r.Header.Get("Content-Profile"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	c, err := New(Config{URL: server.URL, Key: "k", Schema: "app", HTTPClient: server.Client()})
	require.NoError(t, err)
	_, err = c.FetchAll(context.Background())
	require.NoError(t, err)
	require.NoError(t, c.DeleteByID(context.Background(), 1))
}

func TestContextCancellationSurfaces(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := c.DeleteByID(ctx, 1)
	assert.ErrorIs(t, err, remote.ErrMutationFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
