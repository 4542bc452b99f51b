package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/marcus/boardsync/internal/models"
)

const itemColumns = `id, title, description, list_id, position, created_at, updated_at`

func scanItem(row interface{ Scan(...any) error }) (models.Item, error) {
	var it models.Item
	err := row.Scan(&it.ID, &it.Title, &it.Description, &it.ListID, &it.Position, &it.CreatedAt, &it.UpdatedAt)
	return it, err
}

func getItem(ctx context.Context, q querier, id string) (models.Item, error) {
	it, err := scanItem(q.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Item{}, fmt.Errorf("item %s: %w", id, ErrNotFound)
	}
	return it, err
}

func queryItems(ctx context.Context, q querier, query string, args ...any) ([]models.Item, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []models.Item{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// Items returns every item ordered by list, then position.
func (s *Store) Items(ctx context.Context) ([]models.Item, error) {
	return queryItems(ctx, s.conn, `
		SELECT `+itemColumns+`
		FROM items
		ORDER BY list_id ASC, position ASC, id ASC
	`)
}

// Item returns one item by id.
func (s *Store) Item(ctx context.Context, id string) (models.Item, error) {
	return getItem(ctx, s.conn, id)
}

// Item returns one item by id inside the transaction.
func (t *Tx) Item(id string) (models.Item, error) {
	return getItem(t.ctx, t.tx, id)
}

// CountItems returns the number of items in a list.
func (t *Tx) CountItems(listID string) (int, error) {
	var n int
	err := t.tx.QueryRowContext(t.ctx, `SELECT COUNT(*) FROM items WHERE list_id = ?`, listID).Scan(&n)
	return n, err
}

// ListItems returns a list's items ordered by position.
func (t *Tx) ListItems(listID string) ([]models.Item, error) {
	return queryItems(t.ctx, t.tx, `
		SELECT `+itemColumns+`
		FROM items
		WHERE list_id = ?
		ORDER BY position ASC, id ASC
	`, listID)
}
