package store

import (
	"fmt"
	"time"

	"github.com/marcus/boardsync/internal/position"
)

// ApplyBatch executes every shift of b followed by its item mutation. It must
// run inside WithTx: a failure at any step leaves the caller to roll back the
// whole unit. On success b.Item's timestamps are updated in place.
func (t *Tx) ApplyBatch(b *position.Batch) error {
	for _, sh := range b.Shifts {
		if err := t.shift(sh, b.Item.ID); err != nil {
			return fmt.Errorf("shift %s: %w", sh, err)
		}
	}

	now := time.Now().UTC()
	it := &b.Item
	switch b.Op {
	case position.OpInsert:
		if it.CreatedAt.IsZero() {
			it.CreatedAt = now
		}
		it.UpdatedAt = now
		_, err := t.tx.ExecContext(t.ctx, `
			INSERT INTO items (id, title, description, list_id, position, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, it.ID, it.Title, it.Description, it.ListID, it.Position, it.CreatedAt, it.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert item %s: %w", it.ID, err)
		}
		return nil

	case position.OpUpdate:
		it.UpdatedAt = now
		res, err := t.tx.ExecContext(t.ctx, `
			UPDATE items SET title = ?, description = ?, list_id = ?, position = ?, updated_at = ?
			WHERE id = ?
		`, it.Title, it.Description, it.ListID, it.Position, it.UpdatedAt, it.ID)
		if err != nil {
			return fmt.Errorf("update item %s: %w", it.ID, err)
		}
		return requireRow(res, "item", it.ID)

	case position.OpDelete:
		res, err := t.tx.ExecContext(t.ctx, `DELETE FROM items WHERE id = ?`, it.ID)
		if err != nil {
			return fmt.Errorf("delete item %s: %w", it.ID, err)
		}
		return requireRow(res, "item", it.ID)

	default:
		return fmt.Errorf("unknown batch op %d", b.Op)
	}
}

// shift applies one range delta to every sibling except the moving item.
func (t *Tx) shift(sh position.Shift, exclude string) error {
	q := `UPDATE items SET position = position + ? WHERE list_id = ? AND position >= ? AND id != ?`
	args := []any{sh.Delta, sh.ListID, sh.From, exclude}
	if sh.To != position.Open {
		q += ` AND position <= ?`
		args = append(args, sh.To)
	}
	_, err := t.tx.ExecContext(t.ctx, q, args...)
	return err
}

// Renumber writes compacted positions for one list's items.
func (t *Tx) Renumber(listID string, changes []position.Renumber) error {
	for _, c := range changes {
		_, err := t.tx.ExecContext(t.ctx,
			`UPDATE items SET position = ? WHERE id = ? AND list_id = ?`,
			c.NewPosition, c.ItemID, listID)
		if err != nil {
			return fmt.Errorf("renumber item %s: %w", c.ItemID, err)
		}
	}
	return nil
}

func requireRow(res interface{ RowsAffected() (int64, error) }, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}
