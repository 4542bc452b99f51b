package board

import (
	"context"

	"github.com/marcus/boardsync/internal/events"
	"github.com/marcus/boardsync/internal/models"
	"github.com/marcus/boardsync/internal/position"
	"github.com/marcus/boardsync/internal/store"
)

// Tx is the write surface the service needs inside one transaction.
type Tx interface {
	List(id string) (models.List, error)
	CountLists() (int, error)
	Item(id string) (models.Item, error)
	CountItems(listID string) (int, error)
	ListItems(listID string) ([]models.Item, error)
	InsertList(l *models.List) error
	DeleteList(id string) error
	ApplyBatch(b *position.Batch) error
	Renumber(listID string, changes []position.Renumber) error
	OnCommit(fn func())
}

// Store runs transactions and serves reads.
type Store interface {
	// Update runs fn in one transaction; an error from fn rolls back every
	// write and discards commit hooks.
	Update(ctx context.Context, fn func(Tx) error) error
	Lists(ctx context.Context) ([]models.List, error)
	Items(ctx context.Context) ([]models.Item, error)
	Item(ctx context.Context, id string) (models.Item, error)
}

type sqlStore struct {
	*store.Store
}

// SQLStore adapts a SQLite store to the service's Store interface.
func SQLStore(s *store.Store) Store {
	return sqlStore{s}
}

func (s sqlStore) Update(ctx context.Context, fn func(Tx) error) error {
	return s.WithTx(ctx, func(tx *store.Tx) error { return fn(tx) })
}

// Publisher receives events after their transaction commits. Publish must
// not block.
type Publisher interface {
	Publish(ev events.Envelope)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(events.Envelope)

func (f PublisherFunc) Publish(ev events.Envelope) { f(ev) }

// Discard drops every event.
var Discard Publisher = PublisherFunc(func(events.Envelope) {})

// Fanout publishes each event to every non-nil publisher, in order.
func Fanout(pubs ...Publisher) Publisher {
	var out fanout
	for _, p := range pubs {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

type fanout []Publisher

func (f fanout) Publish(ev events.Envelope) {
	for _, p := range f {
		p.Publish(ev)
	}
}
