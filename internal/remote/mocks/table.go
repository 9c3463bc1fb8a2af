package mocks

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/idilsaglam/quicklist/internal/model"
	"github.com/idilsaglam/quicklist/internal/remote"
)

// Table is a mock implementation of remote.Table. Subscribe records the
// handler so tests can push events with Emit.
type Table struct {
	mock.Mock

	mu      sync.Mutex
	handler remote.Handler
}

var _ remote.Table = (*Table)(nil)

func (m *Table) FetchAll(ctx context.Context) ([]model.Item, error) {
	args := m.Called(ctx)
	if items, ok := args.Get(0).([]model.Item); ok {
		return items, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *Table) Insert(ctx context.Context, item model.NewItem) error {
	args := m.Called(ctx, item)
	return args.Error(0)
}

func (m *Table) UpdateByID(ctx context.Context, id int64, patch model.Patch) error {
	args := m.Called(ctx, id, patch)
	return args.Error(0)
}

func (m *Table) DeleteByID(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *Table) Subscribe(ctx context.Context, h remote.Handler) (remote.Subscription, error) {
	args := m.Called(ctx, h)
	if sub, ok := args.Get(0).(remote.Subscription); ok {
		m.mu.Lock()
		m.handler = h
		m.mu.Unlock()
		return sub, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *Table) Close() error {
	args := m.Called()
	return args.Error(0)
}

// Emit calls the handler registered by the last successful Subscribe.
func (m *Table) Emit(evt model.Event) {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h != nil {
		h(evt)
	}
}

// NewSubscription returns a Subscription backed by remote.Stream.
func NewSubscription() *remote.Stream {
	return remote.NewStream(nil)
}
