package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/idilsaglam/quicklist/internal/model"
	"github.com/idilsaglam/quicklist/internal/remote"
)

// Phoenix channel events used by Realtime v1.
const (
	PhxJoin      = "phx_join"
	PhxLeave     = "phx_leave"
	PhxReply     = "phx_reply"
	PhxError     = "phx_error"
	PhxClose     = "phx_close"
	PhxHeartbeat = "heartbeat"
	PhxTopic     = "phoenix"
)

// Message is one Phoenix channel frame.
type Message struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     *string         `json:"ref"`
}

// ChangePayload is the payload of INSERT/UPDATE/DELETE frames.
type ChangePayload struct {
	Type            string          `json:"type"`
	Schema          string          `json:"schema"`
	Table           string          `json:"table"`
	CommitTimestamp string          `json:"commit_timestamp"`
	Record          json.RawMessage `json:"record,omitempty"`
	OldRecord       json.RawMessage `json:"old_record,omitempty"`
}

// ReplyPayload is the payload of a phx_reply frame.
type ReplyPayload struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

// Topic is the channel name for a table's changes.
func Topic(schema, table string) string {
	return "realtime:" + schema + ":" + table
}

// DecodeChange turns a change frame into an Event.
func DecodeChange(event string, raw json.RawMessage) (model.Event, error) {
	var p ChangePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return model.Event{}, fmt.Errorf("decode %s payload: %w", event, err)
	}
	kind := model.EventKind(event)
	if p.Type != "" {
		kind = model.EventKind(p.Type)
	}
	rec := p.Record
	if kind == model.EventDelete {
		rec = p.OldRecord
	}
	if len(rec) == 0 {
		return model.Event{}, fmt.Errorf("%s payload without record", kind)
	}
	var it model.Item
	if err := json.Unmarshal(rec, &it); err != nil {
		return model.Event{}, fmt.Errorf("decode %s record: %w", kind, err)
	}
	evt := model.Event{Kind: kind, Item: it}
	if ts, err := model.ParseTimestamp(p.CommitTimestamp); err == nil {
		evt.CommitTime = ts.Time
	}
	return evt, evt.Validate()
}

func (c *Client) realtimeURL() string {
	u := c.baseURL.JoinPath("realtime", "v1", "websocket")
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	q := u.Query()
	q.Set("apikey", c.key)
	q.Set("vsn", "1.0.0")
	u.RawQuery = q.Encode()
	return u.String()
}

type channel struct {
	conn    *websocket.Conn
	topic   string
	handler remote.Handler
	logger  *zap.Logger
	stream  *remote.Stream

	writeMu sync.Mutex
	ref     atomic.Uint64

	stop         chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup
}

// Subscribe joins the table's realtime channel. The subscription lives
// until Release, ctx cancellation or a transport failure.
func (c *Client) Subscribe(ctx context.Context, h remote.Handler) (remote.Subscription, error) {
	if h == nil {
		return nil, fmt.Errorf("subscribe: handler is required")
	}
	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	conn, _, err := c.dialer.DialContext(dialCtx, c.realtimeURL(), nil)
	if err != nil {
		return nil, remote.Disconnected(fmt.Errorf("dial realtime: %w", err))
	}

	ch := &channel{
		conn:    conn,
		topic:   Topic(c.schema, c.table),
		handler: h,
		logger:  c.logger.With(zap.String("topic", Topic(c.schema, c.table))),
		stop:    make(chan struct{}),
	}
	ch.stream = remote.NewStream(ch.release)

	if err := ch.join(c.timeout); err != nil {
		_ = conn.Close()
		return nil, remote.Disconnected(err)
	}
	ch.logger.Info("realtime channel joined")

	ch.wg.Add(2)
	go ch.readLoop()
	go ch.heartbeatLoop(c.heartbeat)

	go func() {
		select {
		case <-ctx.Done():
			_ = ch.stream.Release()
		case <-ch.stream.Done():
		}
	}()
	return ch.stream, nil
}

func (ch *channel) nextRef() string {
	return strconv.FormatUint(ch.ref.Add(1), 10)
}

func (ch *channel) send(topic, event string, payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	ref := ch.nextRef()
	msg := Message{Topic: topic, Event: event, Payload: raw, Ref: &ref}
	ch.writeMu.Lock()
	defer ch.writeMu.Unlock()
	return ref, ch.conn.WriteJSON(msg)
}

func (ch *channel) join(timeout time.Duration) error {
	ref, err := ch.send(ch.topic, PhxJoin, map[string]any{})
	if err != nil {
		return fmt.Errorf("send join: %w", err)
	}
	_ = ch.conn.SetReadDeadline(time.Now().Add(timeout))
	defer func() { _ = ch.conn.SetReadDeadline(time.Time{}) }()
	for {
		var msg Message
		if err := ch.conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("await join reply: %w", err)
		}
		if msg.Event != PhxReply || msg.Ref == nil || *msg.Ref != ref {
			continue
		}
		var reply ReplyPayload
		if err := json.Unmarshal(msg.Payload, &reply); err != nil {
			return fmt.Errorf("decode join reply: %w", err)
		}
		if reply.Status != "ok" {
			return fmt.Errorf("join %s rejected: %s %s", ch.topic, reply.Status, string(reply.Response))
		}
		return nil
	}
}

func (ch *channel) readLoop() {
	defer ch.wg.Done()
	for {
		var msg Message
		if err := ch.conn.ReadJSON(&msg); err != nil {
			if ch.stream.Ended() {
				return
			}
			ch.fail(fmt.Errorf("read: %w", err))
			return
		}
		if msg.Topic != ch.topic {
			continue
		}
		switch msg.Event {
		case string(model.EventInsert), string(model.EventUpdate), string(model.EventDelete):
			evt, err := DecodeChange(msg.Event, msg.Payload)
			if err != nil {
				ch.logger.Debug("dropping malformed change", zap.Error(err))
				continue
			}
			if ch.stream.Ended() {
				return
			}
			ch.handler(evt)
		case PhxError, PhxClose:
			ch.fail(fmt.Errorf("channel %s: %s", msg.Event, string(msg.Payload)))
			return
		}
	}
}

func (ch *channel) heartbeatLoop(every time.Duration) {
	defer ch.wg.Done()
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if _, err := ch.send(PhxTopic, PhxHeartbeat, map[string]any{}); err != nil {
				ch.fail(fmt.Errorf("heartbeat: %w", err))
				return
			}
		case <-ch.stop:
			return
		}
	}
}

// fail ends the stream with err and tears the socket down.
func (ch *channel) fail(err error) {
	if ch.stream.Ended() {
		return
	}
	ch.logger.Warn("realtime channel lost", zap.Error(err))
	ch.stream.End(err)
	_ = ch.shutdown()
}

func (ch *channel) release() error {
	if _, err := ch.send(ch.topic, PhxLeave, map[string]any{}); err != nil {
		ch.logger.Debug("leave failed", zap.Error(err))
	}
	ch.writeMu.Lock()
	_ = ch.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	ch.writeMu.Unlock()
	err := ch.shutdown()
	ch.wg.Wait()
	ch.logger.Info("realtime channel released")
	return err
}

func (ch *channel) shutdown() error {
	var err error
	ch.shutdownOnce.Do(func() {
		close(ch.stop)
		err = ch.conn.Close()
	})
	return err
}
