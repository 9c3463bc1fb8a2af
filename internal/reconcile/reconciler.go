package reconcile

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/idilsaglam/quicklist/internal/model"
	"go.uber.org/zap"
)

const (
	defaultQueueSize = 256
	// defaultMaxPending bounds the events held while waiting for a seed.
	defaultMaxPending = 10000
)

// Snapshot is an immutable view of the list handed to readers.
type Snapshot struct {
	Items []model.Item
	// Loaded is true once any seed has succeeded.
	Loaded bool
	// Syncing is true while events are buffered waiting for a seed.
	Syncing bool
	// Overflowed is true when buffered events were dropped; only a reload
	// brings the list back in line.
	Overflowed bool
	FetchErr   error
	StreamErr  error
	Version    uint64
}

type seedResult struct {
	items []model.Item
	err   error
	gen   uint64
}

type message struct {
	event     *model.Event
	seed      *seedResult
	resync    uint64
	streamErr error
	restored  bool
	flushed   chan struct{}
}

// Reconciler owns a List and is its only writer. Events, seed results and
// stream status arrive as messages and are applied in arrival order by Run.
//
// Until the first seed, and again after Resync until the next seed, events
// are buffered and replayed over the seeded list. Seeds carry the generation
// of the Resync they answer; a seed older than the latest Resync is dropped.
type Reconciler struct {
	list       *List
	inbox      chan message
	updates    chan Snapshot
	done       chan struct{}
	logger     *zap.Logger
	maxPending int

	closeOnce sync.Once
	gen       atomic.Uint64

	// owned by Run
	seeded     bool
	loaded     bool
	resyncGen  uint64
	pending    []model.Event
	overflowed bool
	fetchErr   error
	streamErr  error
	version    uint64

	mu   sync.RWMutex
	last Snapshot
}

type Option func(*Reconciler)

func WithLogger(l *zap.Logger) Option {
	return func(r *Reconciler) {
		if l != nil {
			r.logger = l
		}
	}
}

func WithQueueSize(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.inbox = make(chan message, n)
		}
	}
}

// WithMaxPending caps the events buffered while waiting for a seed.
func WithMaxPending(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.maxPending = n
		}
	}
}

func New(opts ...Option) *Reconciler {
	r := &Reconciler{
		list:       NewList(),
		inbox:      make(chan message, defaultQueueSize),
		updates:    make(chan Snapshot, 1),
		done:       make(chan struct{}),
		logger:     zap.NewNop(),
		maxPending: defaultMaxPending,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.last = Snapshot{Syncing: true}
	return r
}

// Run applies messages until ctx is cancelled or Close is called.
func (r *Reconciler) Run(ctx context.Context) error {
	if r == nil {
		return nil
	}
	defer r.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.done:
			return nil
		case msg := <-r.inbox:
			r.handle(msg)
		}
	}
}

// Close stops the loop. Later calls into the Reconciler are dropped.
func (r *Reconciler) Close() {
	if r == nil {
		return
	}
	r.closeOnce.Do(func() { close(r.done) })
}

func (r *Reconciler) Done() <-chan struct{} {
	if r == nil {
		return nil
	}
	return r.done
}

// Deliver queues a stream event. It is the subscription handler.
func (r *Reconciler) Deliver(evt model.Event) {
	r.send(message{event: &evt})
}

// Generation is the generation of the latest Resync, 0 before any.
func (r *Reconciler) Generation() uint64 {
	if r == nil {
		return 0
	}
	return r.gen.Load()
}

// Seed queues the outcome of a fetch started after the latest Resync.
func (r *Reconciler) Seed(items []model.Item, err error) {
	r.SeedGeneration(r.Generation(), items, err)
}

// SeedGeneration queues the outcome of a fetch started at generation gen.
// It is dropped if a later Resync has been issued.
func (r *Reconciler) SeedGeneration(gen uint64, items []model.Item, err error) {
	r.send(message{seed: &seedResult{items: items, err: err, gen: gen}})
}

// Resync starts buffering events until a seed of the returned generation.
func (r *Reconciler) Resync() uint64 {
	if r == nil {
		return 0
	}
	gen := r.gen.Add(1)
	r.send(message{resync: gen})
	return gen
}

// StreamFailed records that the event stream ended.
func (r *Reconciler) StreamFailed(err error) {
	if err == nil {
		return
	}
	r.send(message{streamErr: err})
}

// StreamRestored clears a recorded stream failure after a new subscription
// is live.
func (r *Reconciler) StreamRestored() {
	r.send(message{restored: true})
}

// Flush blocks until every message queued before it has been applied.
func (r *Reconciler) Flush(ctx context.Context) error {
	if r == nil {
		return nil
	}
	ch := make(chan struct{})
	if !r.send(message{flushed: ch}) {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Updates yields the newest snapshot after each change. An unread snapshot
// is replaced by a newer one.
func (r *Reconciler) Updates() <-chan Snapshot {
	if r == nil {
		return nil
	}
	return r.updates
}

// Snapshot returns the latest published state.
func (r *Reconciler) Snapshot() Snapshot {
	if r == nil {
		return Snapshot{}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last
}

func (r *Reconciler) send(msg message) bool {
	if r == nil {
		return false
	}
	select {
	case <-r.done:
		return false
	default:
	}
	select {
	case r.inbox <- msg:
		return true
	case <-r.done:
		return false
	}
}

func (r *Reconciler) handle(msg message) {
	switch {
	case msg.event != nil:
		r.applyEvent(*msg.event)
	case msg.seed != nil:
		r.applySeed(*msg.seed)
	case msg.resync != 0:
		if msg.resync > r.resyncGen {
			r.resyncGen = msg.resync
		}
		if r.seeded {
			r.seeded = false
			r.publish()
		}
	case msg.streamErr != nil:
		r.streamErr = msg.streamErr
		r.logger.Warn("event stream lost", zap.Error(msg.streamErr))
		r.publish()
	case msg.restored:
		if r.streamErr != nil {
			r.streamErr = nil
			r.publish()
		}
	case msg.flushed != nil:
		close(msg.flushed)
	}
}

func (r *Reconciler) applyEvent(evt model.Event) {
	if err := evt.Validate(); err != nil {
		r.logger.Debug("dropping malformed event", zap.Error(err))
		return
	}
	if !r.seeded {
		if len(r.pending) >= r.maxPending {
			if !r.overflowed {
				r.overflowed = true
				r.logger.Warn("pending events over limit, dropping until next reload", zap.Int("limit", r.maxPending))
				r.publish()
			}
			return
		}
		r.pending = append(r.pending, evt)
		r.logger.Debug("buffered event before seed", zap.Stringer("event", evt), zap.Int("pending", len(r.pending)))
		return
	}
	if r.list.Apply(evt) {
		r.publish()
	}
}

func (r *Reconciler) applySeed(res seedResult) {
	if res.gen < r.resyncGen {
		r.logger.Debug("dropping superseded seed", zap.Uint64("gen", res.gen), zap.Uint64("latest", r.resyncGen))
		return
	}
	if res.err != nil {
		r.fetchErr = res.err
		if r.loaded && !r.seeded {
			// Keep the list live: the buffered events apply over what we had.
			r.replayPending()
			r.seeded = true
			r.logger.Error("reload failed, keeping current list", zap.Error(res.err))
		} else {
			r.logger.Error("initial fetch failed", zap.Error(res.err), zap.Int("pending", len(r.pending)))
		}
		r.publish()
		return
	}
	r.list.Seed(res.items)
	replayed := r.replayPending()
	r.logger.Debug("seeded list", zap.Int("loaded", len(res.items)), zap.Int("replayed", replayed))
	r.seeded = true
	r.loaded = true
	r.overflowed = false
	r.fetchErr = nil
	r.publish()
}

func (r *Reconciler) replayPending() int {
	n := len(r.pending)
	for _, evt := range r.pending {
		r.list.Apply(evt)
	}
	r.pending = nil
	return n
}

func (r *Reconciler) publish() {
	r.version++
	snap := Snapshot{
		Items:      r.list.Items(),
		Loaded:     r.loaded,
		Syncing:    !r.seeded,
		Overflowed: r.overflowed,
		FetchErr:   r.fetchErr,
		StreamErr:  r.streamErr,
		Version:    r.version,
	}
	r.mu.Lock()
	r.last = snap
	r.mu.Unlock()

	select {
	case <-r.updates:
	default:
	}
	select {
	case r.updates <- snap:
	default:
	}
}
