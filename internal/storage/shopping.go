package storage

import (
	"fmt"
	"time"
)

// --- Shopping lists ---

// SaveShoppingList writes the list and all its items in one transaction, so
// a failure leaves no partial list behind.
func (s *Store) SaveShoppingList(l ShoppingList) error {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning shopping list transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT INTO shopping_lists (id, name, week_start, created_at) VALUES (?, ?, ?, ?)`,
		l.ID, l.Name, l.WeekStart, formatTime(l.CreatedAt)); err != nil {
		return fmt.Errorf("inserting shopping list: %w", err)
	}

	for i, it := range l.Items {
		if _, err := tx.Exec(`
			INSERT INTO shopping_items (id, list_id, name, quantity, category, purchased, position)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			it.ID, l.ID, it.Name, it.Quantity, it.Category, it.Purchased, i,
		); err != nil {
			return fmt.Errorf("inserting shopping item %q: %w", it.Name, err)
		}
	}

	return tx.Commit()
}

// GetShoppingList returns a list with its items in display order.
func (s *Store) GetShoppingList(id string) (ShoppingList, error) {
	var l ShoppingList
	var createdAt string
	err := s.db.QueryRow(`SELECT id, name, week_start, created_at FROM shopping_lists WHERE id = ?`, id).
		Scan(&l.ID, &l.Name, &l.WeekStart, &createdAt)
	if isNoRows(err) {
		return ShoppingList{}, ErrNotFound
	}
	if err != nil {
		return ShoppingList{}, err
	}
	if l.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return ShoppingList{}, err
	}

	rows, err := s.db.Query(`
		SELECT id, list_id, name, quantity, category, purchased, position
		FROM shopping_items WHERE list_id = ? ORDER BY position ASC`, id)
	if err != nil {
		return ShoppingList{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var it ShoppingItem
		if err := rows.Scan(&it.ID, &it.ListID, &it.Name, &it.Quantity, &it.Category, &it.Purchased, &it.Position); err != nil {
			return ShoppingList{}, err
		}
		l.Items = append(l.Items, it)
	}
	return l, rows.Err()
}

// ListShoppingLists returns lists newest first, without their items.
func (s *Store) ListShoppingLists(limit int) ([]ShoppingList, error) {
	rows, err := s.db.Query(`SELECT id, name, week_start, created_at FROM shopping_lists ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ShoppingList
	for rows.Next() {
		var l ShoppingList
		var createdAt string
		if err := rows.Scan(&l.ID, &l.Name, &l.WeekStart, &createdAt); err != nil {
			return nil, err
		}
		if l.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
			return nil, err
		}
		results = append(results, l)
	}
	return results, rows.Err()
}

func (s *Store) SetItemPurchased(listID, itemID string, purchased bool) error {
	res, err := s.db.Exec(`UPDATE shopping_items SET purchased = ? WHERE id = ? AND list_id = ?`, purchased, itemID, listID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Diagnostics ---

func (s *Store) RecordDiagnostic(d Diagnostic) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO diagnostics (scope, kind, status, message, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		d.Scope, d.Kind, d.Status, d.Message, d.Detail, formatTime(d.CreatedAt),
	)
	return err
}

// RecentDiagnostics returns the newest diagnostics first.
func (s *Store) RecentDiagnostics(limit int) ([]Diagnostic, error) {
	rows, err := s.db.Query(`
		SELECT id, scope, kind, status, message, detail, created_at
		FROM diagnostics ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Diagnostic
	for rows.Next() {
		var d Diagnostic
		var createdAt string
		if err := rows.Scan(&d.ID, &d.Scope, &d.Kind, &d.Status, &d.Message, &d.Detail, &createdAt); err != nil {
			return nil, err
		}
		if d.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
			return nil, err
		}
		results = append(results, d)
	}
	return results, rows.Err()
}
