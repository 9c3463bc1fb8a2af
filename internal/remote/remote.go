// Package remote defines the contract of the hosted todos table: bulk fetch,
// the three mutations and a live change subscription. Concrete backends live
// in subpackages.
package remote

import (
	"context"

	"github.com/idilsaglam/quicklist/internal/model"
)

// Handler receives stream events in delivery order.
type Handler func(model.Event)

// Table is the remote todos table.
type Table interface {
	FetchAll(ctx context.Context) ([]model.Item, error)
	Insert(ctx context.Context, item model.NewItem) error
	UpdateByID(ctx context.Context, id int64, patch model.Patch) error
	DeleteByID(ctx context.Context, id int64) error
	// Subscribe opens the change stream and returns once it is live.
	Subscribe(ctx context.Context, h Handler) (Subscription, error)
	Close() error
}

// Subscription is a live change stream.
type Subscription interface {
	// Release stops delivery and frees the channel. Safe to call more than once.
	Release() error
	// Done is closed when the stream ends, released or not.
	Done() <-chan struct{}
	// Err reports why the stream ended; nil while live or after Release.
	Err() error
}
