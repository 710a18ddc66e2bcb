package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/storyline-app/storyline/internal/types"
)

func (s *Store) AddComment(ctx context.Context, itemID, author, body string) (*types.Comment, error) {
	if _, err := s.GetItem(ctx, itemID); err != nil {
		return nil, err
	}
	c := &types.Comment{
		ID:        ulid.Make().String(),
		ItemID:    itemID,
		AuthorID:  author,
		Body:      body,
		CreatedAt: time.Now(),
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO comments (id, item_id, author_id, body, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, c.ID, c.ItemID, c.AuthorID, c.Body, c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting comment: %w", err)
	}
	if err := insertActivity(ctx, tx, itemID, author, "commented", ""); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Store) GetComments(ctx context.Context, itemID string) ([]*types.Comment, error) {
	if _, err := s.GetItem(ctx, itemID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, item_id, author_id, body, created_at
		FROM comments WHERE item_id = ? ORDER BY created_at, id
	`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var comments []*types.Comment
	for rows.Next() {
		var c types.Comment
		if err := rows.Scan(&c.ID, &c.ItemID, &c.AuthorID, &c.Body, &c.CreatedAt); err != nil {
			return nil, err
		}
		comments = append(comments, &c)
	}
	return comments, rows.Err()
}

func (s *Store) GetActivity(ctx context.Context, itemID string, limit int) ([]*types.Activity, error) {
	if _, err := s.GetItem(ctx, itemID); err != nil {
		return nil, err
	}
	query := `
		SELECT id, item_id, actor_id, kind, detail, created_at
		FROM activity WHERE item_id = ? ORDER BY created_at DESC, id DESC`
	args := []interface{}{itemID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []*types.Activity
	for rows.Next() {
		var a types.Activity
		if err := rows.Scan(&a.ID, &a.ItemID, &a.ActorID, &a.Kind, &a.Detail, &a.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, &a)
	}
	return entries, rows.Err()
}
