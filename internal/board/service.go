// Package board orchestrates list and item mutations: each operation plans
// its position batch, runs it in one store transaction and publishes the
// resulting event once the transaction commits.
package board

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/marcus/boardsync/internal/events"
	"github.com/marcus/boardsync/internal/models"
	"github.com/marcus/boardsync/internal/position"
	"github.com/marcus/boardsync/internal/store"
)

// Service is the mutation service. It is safe for concurrent use; writers
// are serialized by the store.
type Service struct {
	store  Store
	pub    Publisher
	tracer trace.Tracer
}

// NewService creates a service writing to st and publishing to pub.
// A nil pub discards events.
func NewService(st Store, pub Publisher) *Service {
	if pub == nil {
		pub = Discard
	}
	return &Service{
		store:  st,
		pub:    pub,
		tracer: otel.Tracer("boardsync/board"),
	}
}

func (s *Service) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if corr := CorrelationID(ctx); corr != "" {
		attrs = append(attrs, attribute.String("correlation.id", corr))
	}
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// finish classifies err, records it on span and returns it.
func finish(span trace.Span, op string, err error) error {
	err = classify(op, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, op+" failed")
	}
	return err
}

// publishOnCommit queues ev for publication after tx commits.
func (s *Service) publishOnCommit(tx Tx, ev events.Envelope) {
	tx.OnCommit(func() {
		slog.Debug("publish", "type", ev.Type, "corr", ev.CorrelationID)
		s.pub.Publish(ev)
	})
}

// CreateItem appends a new item to the tail of listID.
func (s *Service) CreateItem(ctx context.Context, listID, title, description string) (models.Item, error) {
	ctx, span := s.start(ctx, "board.CreateItem", attribute.String("list.id", listID))
	defer span.End()

	title = strings.TrimSpace(title)
	if title == "" {
		return models.Item{}, finish(span, "create item", invalid("title", "required"))
	}
	if listID == "" {
		return models.Item{}, finish(span, "create item", invalid("listId", "required"))
	}

	corr := CorrelationID(ctx)
	var created models.Item
	err := s.store.Update(ctx, func(tx Tx) error {
		if _, err := tx.List(listID); err != nil {
			return notFound(err, "list", listID)
		}
		n, err := tx.CountItems(listID)
		if err != nil {
			return err
		}

		b := position.Insert(models.Item{
			ID:          store.NewItemID(),
			Title:       title,
			Description: description,
			ListID:      listID,
		}, n)
		if err := tx.ApplyBatch(&b); err != nil {
			return err
		}

		created = b.Item
		s.publishOnCommit(tx, events.NewItemAdded(created, corr))
		return nil
	})
	if err != nil {
		return models.Item{}, finish(span, "create item", err)
	}
	return created, nil
}

// UpdateItem applies patch to the item with the given id. A patch naming a
// different list moves the item there (destination index defaults to 0); a
// patch naming only a different position moves it within its list. Requested
// positions outside the valid range are clamped. Title and description merge
// in every case.
func (s *Service) UpdateItem(ctx context.Context, id string, patch models.ItemPatch) (models.Item, error) {
	ctx, span := s.start(ctx, "board.UpdateItem", attribute.String("item.id", id))
	defer span.End()

	if patch.Title != nil {
		t := strings.TrimSpace(*patch.Title)
		if t == "" {
			return models.Item{}, finish(span, "update item", invalid("title", "must not be empty"))
		}
		patch.Title = &t
	}
	if patch.ListID != nil && *patch.ListID == "" {
		return models.Item{}, finish(span, "update item", invalid("listId", "must not be empty"))
	}

	corr := CorrelationID(ctx)
	var result models.Item
	err := s.store.Update(ctx, func(tx Tx) error {
		before, err := tx.Item(id)
		if err != nil {
			return notFound(err, "item", id)
		}

		b, moved, err := planMove(tx, before, patch)
		if err != nil {
			return err
		}

		changed := false
		if patch.Title != nil && *patch.Title != before.Title {
			b.Item.Title = *patch.Title
			changed = true
		}
		if patch.Description != nil && *patch.Description != before.Description {
			b.Item.Description = *patch.Description
			changed = true
		}

		if !moved && !changed {
			result = before
			return nil
		}
		if err := tx.ApplyBatch(&b); err != nil {
			return err
		}

		result = b.Item
		if moved {
			s.publishOnCommit(tx, events.NewItemMoved(result, corr))
		} else {
			s.publishOnCommit(tx, events.NewItemUpdated(result, corr))
		}
		return nil
	})
	if err != nil {
		return models.Item{}, finish(span, "update item", err)
	}
	span.SetAttributes(attribute.String("list.id", result.ListID), attribute.Int("position", result.Position))
	return result, nil
}

// planMove picks the positional branch for patch. It returns a plain update
// batch and moved=false when the item stays where it is.
func planMove(tx Tx, before models.Item, patch models.ItemPatch) (position.Batch, bool, error) {
	stay := position.Batch{Op: position.OpUpdate, Item: before}

	switch {
	case patch.ListID != nil && *patch.ListID != before.ListID:
		dest := *patch.ListID
		if _, err := tx.List(dest); err != nil {
			return stay, false, notFound(err, "list", dest)
		}
		destCount, err := tx.CountItems(dest)
		if err != nil {
			return stay, false, err
		}
		to := 0
		if patch.Position != nil {
			to = *patch.Position
		}
		return position.Move(before, dest, position.Clamp(to, destCount)), true, nil

	case patch.Position != nil && *patch.Position != before.Position:
		count, err := tx.CountItems(before.ListID)
		if err != nil {
			return stay, false, err
		}
		to := position.Clamp(*patch.Position, count-1)
		if to == before.Position {
			return stay, false, nil
		}
		return position.Move(before, before.ListID, to), true, nil
	}
	return stay, false, nil
}

// DeleteItem removes an item, closes the gap it leaves and returns it.
func (s *Service) DeleteItem(ctx context.Context, id string) (models.Item, error) {
	ctx, span := s.start(ctx, "board.DeleteItem", attribute.String("item.id", id))
	defer span.End()

	corr := CorrelationID(ctx)
	var removed models.Item
	err := s.store.Update(ctx, func(tx Tx) error {
		before, err := tx.Item(id)
		if err != nil {
			return notFound(err, "item", id)
		}
		b := position.Remove(before)
		if err := tx.ApplyBatch(&b); err != nil {
			return err
		}
		removed = before
		s.publishOnCommit(tx, events.NewItemDeleted(removed, corr))
		return nil
	})
	if err != nil {
		return models.Item{}, finish(span, "delete item", err)
	}
	return removed, nil
}

// CreateList adds a list. Without an explicit position it is placed after
// the existing lists.
func (s *Service) CreateList(ctx context.Context, title string, pos *int) (models.List, error) {
	ctx, span := s.start(ctx, "board.CreateList")
	defer span.End()

	title = strings.TrimSpace(title)
	if title == "" {
		return models.List{}, finish(span, "create list", invalid("title", "required"))
	}
	if pos != nil && *pos < 0 {
		return models.List{}, finish(span, "create list", invalid("position", "must not be negative"))
	}

	corr := CorrelationID(ctx)
	var created models.List
	err := s.store.Update(ctx, func(tx Tx) error {
		l := models.List{ID: store.NewListID(), Title: title}
		if pos != nil {
			l.Position = *pos
		} else {
			n, err := tx.CountLists()
			if err != nil {
				return err
			}
			l.Position = n
		}
		if err := tx.InsertList(&l); err != nil {
			return err
		}
		created = l
		s.publishOnCommit(tx, events.NewListAdded(created, corr))
		return nil
	})
	if err != nil {
		return models.List{}, finish(span, "create list", err)
	}
	return created, nil
}

// DeleteList removes a list together with every item it holds.
func (s *Service) DeleteList(ctx context.Context, id string) (models.DeleteListResult, error) {
	ctx, span := s.start(ctx, "board.DeleteList", attribute.String("list.id", id))
	defer span.End()

	corr := CorrelationID(ctx)
	var res models.DeleteListResult
	err := s.store.Update(ctx, func(tx Tx) error {
		l, err := tx.List(id)
		if err != nil {
			return notFound(err, "list", id)
		}
		n, err := tx.CountItems(id)
		if err != nil {
			return err
		}
		if err := tx.DeleteList(id); err != nil {
			return notFound(err, "list", id)
		}
		res = models.DeleteListResult{
			Success: true,
			Message: fmt.Sprintf("list %q deleted with %d items", l.Title, n),
		}
		s.publishOnCommit(tx, events.NewListDeleted(id, corr))
		return nil
	})
	if err != nil {
		return models.DeleteListResult{}, finish(span, "delete list", err)
	}
	return res, nil
}

// RepairList renumbers a list's items to 0..n-1, keeping their current
// order, and emits itemMoved for each item whose position changed. A list
// that already satisfies contiguity is left untouched.
func (s *Service) RepairList(ctx context.Context, id string) ([]position.Renumber, error) {
	ctx, span := s.start(ctx, "board.RepairList", attribute.String("list.id", id))
	defer span.End()

	corr := CorrelationID(ctx)
	var changes []position.Renumber
	err := s.store.Update(ctx, func(tx Tx) error {
		if _, err := tx.List(id); err != nil {
			return notFound(err, "list", id)
		}
		items, err := tx.ListItems(id)
		if err != nil {
			return err
		}
		changes = position.Compact(items)
		if len(changes) == 0 {
			return nil
		}
		if err := tx.Renumber(id, changes); err != nil {
			return err
		}

		byID := make(map[string]models.Item, len(items))
		for _, it := range items {
			byID[it.ID] = it
		}
		for _, c := range changes {
			it := byID[c.ItemID]
			it.Position = c.NewPosition
			s.publishOnCommit(tx, events.NewItemMoved(it, corr))
		}
		slog.Info("list repaired", "list", id, "renumbered", len(changes))
		return nil
	})
	if err != nil {
		return nil, finish(span, "repair list", err)
	}
	if changes == nil {
		changes = []position.Renumber{}
	}
	return changes, nil
}

// Lists returns every list in display order.
func (s *Service) Lists(ctx context.Context) ([]models.List, error) {
	lists, err := s.store.Lists(ctx)
	if err != nil {
		return nil, classify("list lists", err)
	}
	return lists, nil
}

// Items returns every item ordered by list, then position.
func (s *Service) Items(ctx context.Context) ([]models.Item, error) {
	items, err := s.store.Items(ctx)
	if err != nil {
		return nil, classify("list items", err)
	}
	return items, nil
}

// Item returns one item.
func (s *Service) Item(ctx context.Context, id string) (models.Item, error) {
	it, err := s.store.Item(ctx, id)
	if err != nil {
		return models.Item{}, classify("get item", notFound(err, "item", id))
	}
	return it, nil
}
