// Package supabase talks to a hosted Supabase project: PostgREST for reads
// and writes, Realtime v1 (Phoenix channels over a websocket) for changes.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/idilsaglam/quicklist/internal/model"
	"github.com/idilsaglam/quicklist/internal/remote"
)

const clientInfo = "quicklist-go/0.1"

type Config struct {
	// URL is the project URL, e.g. https://xyzcompany.supabase.co.
	URL string
	// Key is the anon or service key, sent as apikey and bearer token.
	Key    string
	Schema string
	Table  string
	// Timeout bounds each REST call and the realtime join.
	Timeout time.Duration
	// Heartbeat is the realtime keepalive interval.
	Heartbeat time.Duration

	HTTPClient *http.Client
	Dialer     *websocket.Dialer
	Logger     *zap.Logger
}

// HTTPError is a non-2xx PostgREST response.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
	Details    string
	Hint       string
}

func (e *HTTPError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, msg)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, msg)
}

// Client implements remote.Table.
type Client struct {
	baseURL    *url.URL
	key        string
	schema     string
	table      string
	timeout    time.Duration
	heartbeat  time.Duration
	httpClient *http.Client
	dialer     *websocket.Dialer
	logger     *zap.Logger
}

var _ remote.Table = (*Client)(nil)

func New(cfg Config) (*Client, error) {
	raw := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if raw == "" {
		return nil, fmt.Errorf("supabase url is required")
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse supabase url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("supabase url must be http or https, got %q", base.Scheme)
	}
	key := strings.TrimSpace(cfg.Key)
	if key == "" {
		return nil, fmt.Errorf("supabase key is required")
	}
	c := &Client{
		baseURL:    base,
		key:        key,
		schema:     strings.TrimSpace(cfg.Schema),
		table:      strings.TrimSpace(cfg.Table),
		timeout:    cfg.Timeout,
		heartbeat:  cfg.Heartbeat,
		httpClient: cfg.HTTPClient,
		dialer:     cfg.Dialer,
		logger:     cfg.Logger,
	}
	if c.schema == "" {
		c.schema = "public"
	}
	if c.table == "" {
		c.table = "todos"
	}
	if c.timeout <= 0 {
		c.timeout = 15 * time.Second
	}
	if c.heartbeat <= 0 {
		c.heartbeat = 30 * time.Second
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout}
	}
	if c.dialer == nil {
		c.dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: c.timeout,
		}
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c, nil
}

func (c *Client) FetchAll(ctx context.Context) ([]model.Item, error) {
	q := url.Values{}
	q.Set("select", "*")
	var out []model.Item
	if err := c.doJSON(ctx, http.MethodGet, q, nil, nil, &out); err != nil {
		return nil, remote.Fetch(err)
	}
	if out == nil {
		out = []model.Item{}
	}
	return out, nil
}

func (c *Client) Insert(ctx context.Context, item model.NewItem) error {
	headers := map[string]string{"Prefer": "return=minimal"}
	return remote.Mutation("insert", c.doJSON(ctx, http.MethodPost, nil, headers, item, nil))
}

func (c *Client) UpdateByID(ctx context.Context, id int64, patch model.Patch) error {
	if patch.Empty() {
		return nil
	}
	headers := map[string]string{"Prefer": "return=minimal"}
	return remote.Mutation("update", c.doJSON(ctx, http.MethodPatch, idFilter(id), headers, patch, nil))
}

func (c *Client) DeleteByID(ctx context.Context, id int64) error {
	return remote.Mutation("delete", c.doJSON(ctx, http.MethodDelete, idFilter(id), nil, nil, nil))
}

// Close releases idle HTTP connections. Subscriptions are released separately.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func idFilter(id int64) url.Values {
	q := url.Values{}
	q.Set("id", "eq."+strconv.FormatInt(id, 10))
	return q
}

func (c *Client) restURL(q url.Values) string {
	u := c.baseURL.JoinPath("rest", "v1", c.table)
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (c *Client) doJSON(
	ctx context.Context,
	method string,
	query url.Values,
	headers map[string]string,
	body any,
	out any,
) error {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.restURL(query), bodyReader)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", c.key)
	req.Header.Set("Authorization", "Bearer "+c.key)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Client-Info", clientInfo)
	req.Header.Set("X-Request-Id", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.schema != "public" {
		if method == http.MethodGet {
			req.Header.Set("Accept-Profile", c.schema)
		} else {
			req.Header.Set("Content-Profile", c.schema)
		}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	payload, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return readErr
	}
	c.logger.Debug("rest call",
		zap.String("method", method),
		zap.String("table", c.table),
		zap.Int("status", resp.StatusCode),
		zap.String("request_id", req.Header.Get("X-Request-Id")),
	)

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		if out == nil || len(payload) == 0 {
			return nil
		}
		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}

	var errPayload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Details string `json:"details"`
		Hint    string `json:"hint"`
	}
	_ = json.Unmarshal(payload, &errPayload)
	return &HTTPError{
		StatusCode: resp.StatusCode,
		Code:       errPayload.Code,
		Message:    errPayload.Message,
		Details:    errPayload.Details,
		Hint:       errPayload.Hint,
	}
}
