package postgres

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/idilsaglam/quicklist/internal/model"
	"github.com/idilsaglam/quicklist/internal/remote"
)

const pingInterval = 90 * time.Second

// listener is the part of *pq.Listener the subscription uses.
type listener interface {
	Listen(channel string) error
	NotificationChannel() <-chan *pq.Notification
	Ping() error
	Close() error
}

type listenerFactory func(dsn string, cb pq.EventCallbackType) listener

func newPQListener(dsn string, cb pq.EventCallbackType) listener {
	return pq.NewListener(dsn, defaultMinReconnect, defaultMaxReconnect, cb)
}

// Notification is the JSON payload the trigger publishes.
type Notification struct {
	Op              string          `json:"op"`
	New             json.RawMessage `json:"new"`
	Old             json.RawMessage `json:"old"`
	CommitTimestamp string          `json:"commit_timestamp"`
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

// DecodeNotification turns a trigger payload into an Event.
func DecodeNotification(payload string) (model.Event, error) {
	var n Notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return model.Event{}, fmt.Errorf("decode notification: %w", err)
	}
	kind := model.EventKind(n.Op)
	rec := n.New
	if kind == model.EventDelete {
		rec = n.Old
	}
	if isNull(rec) {
		return model.Event{}, fmt.Errorf("%s notification without row", n.Op)
	}
	var it model.Item
	if err := json.Unmarshal(rec, &it); err != nil {
		return model.Event{}, fmt.Errorf("decode %s row: %w", n.Op, err)
	}
	evt := model.Event{Kind: kind, Item: it}
	if ts, err := model.ParseTimestamp(n.CommitTimestamp); err == nil {
		evt.CommitTime = ts.Time
	}
	return evt, evt.Validate()
}

var errListenerClosed = errors.New("listener notification channel closed")

type subscription struct {
	l       listener
	handler remote.Handler
	logger  *zap.Logger
	stream  *remote.Stream
	events  chan pq.ListenerEventType
	stop    chan struct{}
	wg      sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

// Subscribe opens a dedicated LISTEN connection. A dropped connection ends
// the subscription; lib/pq's silent reconnect would otherwise hide missed
// notifications from the caller.
func (t *Table) Subscribe(ctx context.Context, h remote.Handler) (remote.Subscription, error) {
	if h == nil {
		return nil, fmt.Errorf("subscribe: handler is required")
	}
	if t.dsn == "" {
		return nil, remote.Disconnected(fmt.Errorf("postgres dsn is required to listen"))
	}
	s := &subscription{
		handler: h,
		logger:  t.logger.With(zap.String("channel", t.channel)),
		events:  make(chan pq.ListenerEventType, 8),
		stop:    make(chan struct{}),
	}
	connectErr := make(chan error, 1)
	var connectOnce sync.Once
	s.l = t.newListener(t.dsn, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnected:
			connectOnce.Do(func() { connectErr <- nil })
		case pq.ListenerEventConnectionAttemptFailed:
			connectOnce.Do(func() { connectErr <- err })
		}
		if err != nil {
			s.logger.Debug("listener event", zap.Int("event", int(ev)), zap.Error(err))
		}
		select {
		case s.events <- ev:
		default:
		}
	})

	select {
	case err := <-connectErr:
		if err != nil {
			_ = s.l.Close()
			return nil, remote.Disconnected(fmt.Errorf("connect listener: %w", err))
		}
	case <-time.After(t.timeout):
		_ = s.l.Close()
		return nil, remote.Disconnected(fmt.Errorf("connect listener: timed out after %s", t.timeout))
	case <-ctx.Done():
		_ = s.l.Close()
		return nil, remote.Disconnected(ctx.Err())
	}

	if err := s.l.Listen(t.channel); err != nil {
		_ = s.l.Close()
		return nil, remote.Disconnected(fmt.Errorf("listen %s: %w", t.channel, err))
	}
	s.logger.Info("listening for changes")

	s.stream = remote.NewStream(s.release)
	s.wg.Add(1)
	go s.pump()
	go func() {
		select {
		case <-ctx.Done():
			_ = s.stream.Release()
		case <-s.stream.Done():
		}
	}()
	return s.stream, nil
}

func (s *subscription) pump() {
	defer s.wg.Done()
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	notify := s.l.NotificationChannel()
	for {
		select {
		case n, ok := <-notify:
			if !ok {
				s.fail(errListenerClosed)
				return
			}
			if n == nil {
				// lib/pq sends nil after a reconnect; events may have been lost.
				s.fail(fmt.Errorf("listener reconnected, notifications may be missing"))
				return
			}
			evt, err := DecodeNotification(n.Extra)
			if err != nil {
				s.logger.Debug("dropping malformed notification", zap.Error(err))
				continue
			}
			if s.stream.Ended() {
				return
			}
			s.handler(evt)
		case ev := <-s.events:
			if ev == pq.ListenerEventDisconnected || ev == pq.ListenerEventConnectionAttemptFailed {
				s.fail(fmt.Errorf("listener connection lost"))
				return
			}
		case <-ping.C:
			if err := s.l.Ping(); err != nil {
				s.fail(fmt.Errorf("ping: %w", err))
				return
			}
		case <-s.stop:
			return
		}
	}
}

func (s *subscription) fail(err error) {
	if s.stream.Ended() {
		return
	}
	s.logger.Warn("change stream lost", zap.Error(err))
	s.stream.End(err)
	_ = s.closeListener()
}

func (s *subscription) closeListener() error {
	s.closeOnce.Do(func() { s.closeErr = s.l.Close() })
	return s.closeErr
}

func (s *subscription) release() error {
	close(s.stop)
	err := s.closeListener()
	s.wg.Wait()
	s.logger.Info("stopped listening")
	return err
}
