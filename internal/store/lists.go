package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/marcus/boardsync/internal/models"
)

const listColumns = `id, title, position, created_at, updated_at`

func scanList(row interface{ Scan(...any) error }) (models.List, error) {
	var l models.List
	err := row.Scan(&l.ID, &l.Title, &l.Position, &l.CreatedAt, &l.UpdatedAt)
	return l, err
}

func getList(ctx context.Context, q querier, id string) (models.List, error) {
	l, err := scanList(q.QueryRowContext(ctx, `SELECT `+listColumns+` FROM lists WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.List{}, fmt.Errorf("list %s: %w", id, ErrNotFound)
	}
	return l, err
}

// Lists returns every list ordered by position, then creation time.
func (s *Store) Lists(ctx context.Context) ([]models.List, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT `+listColumns+`
		FROM lists
		ORDER BY position ASC, created_at ASC, id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lists := []models.List{}
	for rows.Next() {
		l, err := scanList(rows)
		if err != nil {
			return nil, err
		}
		lists = append(lists, l)
	}
	return lists, rows.Err()
}

// List returns one list by id.
func (s *Store) List(ctx context.Context, id string) (models.List, error) {
	return getList(ctx, s.conn, id)
}

// List returns one list by id inside the transaction.
func (t *Tx) List(id string) (models.List, error) {
	return getList(t.ctx, t.tx, id)
}

// CountLists returns the number of lists.
func (t *Tx) CountLists() (int, error) {
	var n int
	err := t.tx.QueryRowContext(t.ctx, `SELECT COUNT(*) FROM lists`).Scan(&n)
	return n, err
}

// InsertList stores a new list. CreatedAt/UpdatedAt are stamped if zero.
func (t *Tx) InsertList(l *models.List) error {
	now := time.Now().UTC()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}
	l.UpdatedAt = now
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO lists (id, title, position, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, l.ID, l.Title, l.Position, l.CreatedAt, l.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert list %s: %w", l.ID, err)
	}
	return nil
}

// DeleteList removes a list and every item it holds.
func (t *Tx) DeleteList(id string) error {
	if _, err := t.tx.ExecContext(t.ctx, `DELETE FROM items WHERE list_id = ?`, id); err != nil {
		return fmt.Errorf("delete items of list %s: %w", id, err)
	}
	res, err := t.tx.ExecContext(t.ctx, `DELETE FROM lists WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete list %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("list %s: %w", id, ErrNotFound)
	}
	return nil
}
