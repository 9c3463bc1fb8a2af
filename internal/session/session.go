// Package session binds a remote table to a Reconciler. It owns the change
// subscription and turns user intents into remote mutations; the list itself
// only changes when the resulting events come back on the stream.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/idilsaglam/quicklist/internal/model"
	"github.com/idilsaglam/quicklist/internal/reconcile"
	"github.com/idilsaglam/quicklist/internal/remote"
)

// ErrEmptyTask is returned by Submit for blank input. No remote call is made.
var ErrEmptyTask = errors.New("task must not be empty")

var errClosed = errors.New("session closed")

type Session struct {
	table  remote.Table
	rec    *reconcile.Reconciler
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu  sync.Mutex
	sub remote.Subscription

	closeOnce sync.Once
	closeErr  error
}

type Option func(*Session)

func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// Open starts the reconciliation loop, activates the change stream and then
// kicks off the initial fetch. A failed subscription does not fail Open: it
// is reported as a stream error in the snapshot and retried by Reload.
func Open(ctx context.Context, table remote.Table, opts ...Option) (*Session, error) {
	if table == nil {
		return nil, errors.New("session: table is required")
	}
	s := &Session{table: table, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.rec = reconcile.New(reconcile.WithLogger(s.logger.Named("reconcile")))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_ = s.rec.Run(s.ctx)
	}()

	s.mu.Lock()
	err := s.subscribeLocked()
	s.mu.Unlock()
	if err != nil {
		s.rec.StreamFailed(err)
	}
	s.fetch(s.rec.Generation())
	return s, nil
}

// subscribeLocked replaces the current subscription. Caller holds s.mu.
func (s *Session) subscribeLocked() error {
	if s.sub != nil {
		_ = s.sub.Release()
		s.sub = nil
	}
	if s.closed() {
		return errClosed
	}
	sub, err := s.table.Subscribe(s.ctx, s.rec.Deliver)
	if err != nil {
		s.logger.Warn("subscribe failed", zap.Error(err))
		return err
	}
	s.sub = sub
	s.wg.Add(1)
	go s.watch(sub)
	return nil
}

func (s *Session) watch(sub remote.Subscription) {
	defer s.wg.Done()
	select {
	case <-sub.Done():
		err := sub.Err()
		if err == nil {
			return
		}
		// A replaced subscription must not report over its successor.
		s.mu.Lock()
		if s.sub == sub {
			s.rec.StreamFailed(err)
		}
		s.mu.Unlock()
	case <-s.ctx.Done():
	}
}

// fetch seeds the reconciler asynchronously for generation gen. The
// reconciler drops the result if a later reload has started. Caller holds
// s.mu or is Open.
func (s *Session) fetch(gen uint64) {
	if s.closed() {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		items, err := s.table.FetchAll(s.ctx)
		if s.ctx.Err() != nil {
			return
		}
		s.rec.SeedGeneration(gen, items, err)
	}()
}

func (s *Session) closed() bool {
	return s.ctx.Err() != nil
}

// Submit inserts a new incomplete item.
func (s *Session) Submit(ctx context.Context, task string) error {
	task = strings.TrimSpace(task)
	if task == "" {
		return ErrEmptyTask
	}
	if s.closed() {
		return errClosed
	}
	err := s.table.Insert(ctx, model.NewItem{Task: task})
	return s.logMutation("insert", 0, err)
}

// Complete marks an item complete.
func (s *Session) Complete(ctx context.Context, id int64) error {
	if s.closed() {
		return errClosed
	}
	err := s.table.UpdateByID(ctx, id, model.CompletePatch())
	return s.logMutation("update", id, err)
}

// Delete removes an item.
func (s *Session) Delete(ctx context.Context, id int64) error {
	if s.closed() {
		return errClosed
	}
	err := s.table.DeleteByID(ctx, id)
	return s.logMutation("delete", id, err)
}

func (s *Session) logMutation(op string, id int64, err error) error {
	if err != nil {
		s.logger.Error("mutation failed", zap.String("op", op), zap.Int64("id", id), zap.Error(err))
		return err
	}
	s.logger.Debug("mutation sent", zap.String("op", op), zap.Int64("id", id))
	return nil
}

// Reload refetches the whole table. If the stream has ended it is
// resubscribed first, so events are buffered from the new stream until the
// fresh seed lands.
func (s *Session) Reload(ctx context.Context) error {
	if s.closed() {
		return errClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// Fetches started before this point can no longer seed.
	gen := s.rec.Resync()

	var subErr error
	if s.sub == nil || ended(s.sub) {
		if subErr = s.subscribeLocked(); subErr == nil {
			s.rec.StreamRestored()
			s.logger.Info("change stream resubscribed")
		}
	}
	s.fetch(gen)
	return subErr
}

func ended(sub remote.Subscription) bool {
	select {
	case <-sub.Done():
		return true
	default:
		return false
	}
}

// Updates yields the latest snapshot after every change.
func (s *Session) Updates() <-chan reconcile.Snapshot { return s.rec.Updates() }

func (s *Session) Snapshot() reconcile.Snapshot { return s.rec.Snapshot() }

// Flush waits until everything queued so far has been applied.
func (s *Session) Flush(ctx context.Context) error { return s.rec.Flush(ctx) }

// Close releases the subscription and stops the loop. Only the first call
// does anything; the release error is returned on every call.
func (s *Session) Close() error {
	if s == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.cancel()
		if s.sub != nil {
			s.closeErr = s.sub.Release()
		}
		s.mu.Unlock()
		s.wg.Wait()
		s.rec.Close()
		s.logger.Debug("session closed")
	})
	return s.closeErr
}
