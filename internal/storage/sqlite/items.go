package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/storyline-app/storyline/internal/storage"
	"github.com/storyline-app/storyline/internal/types"
)

func (s *Store) CreateItem(ctx context.Context, item *types.WorkItem, description, actor string) error {
	if err := item.Validate(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO work_items (
			id, title, description, status_id, priority, assignee_id,
			sprint_id, objective_id, parent_id, team_id,
			start_date, deadline, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		item.ID, item.Title, description, item.StatusID, int(item.Priority), item.AssigneeID,
		item.SprintID, item.ObjectiveID, item.ParentID, item.TeamID,
		item.StartDate, item.Deadline, item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting item: %w", err)
	}
	if err := replaceLabels(ctx, tx, item.ID, item.LabelIDs); err != nil {
		return err
	}
	if err := insertActivity(ctx, tx, item.ID, actor, "created", ""); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) CreateItems(ctx context.Context, items []*types.WorkItem, actor string) error {
	for _, item := range items {
		if err := s.CreateItem(ctx, item, "", actor); err != nil {
			return fmt.Errorf("creating %s: %w", item.ID, err)
		}
	}
	return nil
}

func (s *Store) GetItem(ctx context.Context, id string) (*types.WorkItem, error) {
	item, err := scanItem(s.db.QueryRowContext(ctx, `
		SELECT id, title, status_id, priority, assignee_id,
		       sprint_id, objective_id, parent_id, team_id,
		       start_date, deadline, created_at, updated_at
		FROM work_items WHERE id = ?
	`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", storage.ErrItemNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	labels, err := s.labelsFor(ctx, id)
	if err != nil {
		return nil, err
	}
	item.LabelIDs = labels
	return item, nil
}

func (s *Store) GetDescription(ctx context.Context, id string) (string, error) {
	var desc string
	err := s.db.QueryRowContext(ctx, `SELECT description FROM work_items WHERE id = ?`, id).Scan(&desc)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("%w: %s", storage.ErrItemNotFound, id)
	}
	return desc, err
}

// UpdateItem loads the current row, applies the patch in memory, and
// writes the full row back inside one transaction. Label set operations
// rewrite the label table from the patched set.
func (s *Store) UpdateItem(ctx context.Context, id string, patch *types.ItemPatch, actor string) (*types.WorkItem, error) {
	item, err := s.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}

	patch.Apply(item)
	item.UpdatedAt = time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		UPDATE work_items SET
			title = ?, status_id = ?, priority = ?, assignee_id = ?,
			sprint_id = ?, objective_id = ?, parent_id = ?,
			start_date = ?, deadline = ?, updated_at = ?
		WHERE id = ?
	`,
		item.Title, item.StatusID, int(item.Priority), item.AssigneeID,
		item.SprintID, item.ObjectiveID, item.ParentID,
		item.StartDate, item.Deadline, item.UpdatedAt, id,
	)
	if err != nil {
		return nil, fmt.Errorf("updating item: %w", err)
	}
	if patch.Description != nil {
		if _, err := tx.ExecContext(ctx, `UPDATE work_items SET description = ? WHERE id = ?`, *patch.Description, id); err != nil {
			return nil, err
		}
	}
	if err := replaceLabels(ctx, tx, id, item.LabelIDs); err != nil {
		return nil, err
	}
	if err := insertActivity(ctx, tx, id, actor, "updated", ""); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return item, nil
}

func (s *Store) DeleteItem(ctx context.Context, id, _ string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM work_items WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", storage.ErrItemNotFound, id)
	}
	return nil
}

func (s *Store) ListItems(ctx context.Context, filter storage.ItemFilter) ([]*types.WorkItem, error) {
	var (
		conds []string
		args  []interface{}
	)
	addIn := func(col string, vals []string) {
		if len(vals) == 0 {
			return
		}
		conds = append(conds, col+" IN ("+placeholders(len(vals))+")")
		for _, v := range vals {
			args = append(args, v)
		}
	}
	addIn("team_id", filter.TeamIDs)
	addIn("status_id", filter.StatusIDs)
	addIn("assignee_id", filter.AssigneeIDs)
	if len(filter.Priorities) > 0 {
		conds = append(conds, "priority IN ("+placeholders(len(filter.Priorities))+")")
		for _, p := range filter.Priorities {
			args = append(args, int(p))
		}
	}
	if filter.SprintID != "" {
		conds = append(conds, "sprint_id = ?")
		args = append(args, filter.SprintID)
	}
	if filter.ObjectiveID != "" {
		conds = append(conds, "objective_id = ?")
		args = append(args, filter.ObjectiveID)
	}
	if filter.LabelID != "" {
		conds = append(conds, "EXISTS (SELECT 1 FROM item_labels l WHERE l.item_id = work_items.id AND l.label_id = ?)")
		args = append(args, filter.LabelID)
	}

	query := `
		SELECT id, title, status_id, priority, assignee_id,
		       sprint_id, objective_id, parent_id, team_id,
		       start_date, deadline, created_at, updated_at
		FROM work_items`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*types.WorkItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, item := range items {
		labels, err := s.labelsFor(ctx, item.ID)
		if err != nil {
			return nil, err
		}
		item.LabelIDs = labels
	}
	return items, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(row rowScanner) (*types.WorkItem, error) {
	var (
		item     types.WorkItem
		priority int
		start    sql.NullTime
		deadline sql.NullTime
	)
	err := row.Scan(
		&item.ID, &item.Title, &item.StatusID, &priority, &item.AssigneeID,
		&item.SprintID, &item.ObjectiveID, &item.ParentID, &item.TeamID,
		&start, &deadline, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	item.Priority = types.Priority(priority)
	if start.Valid {
		t := start.Time
		item.StartDate = &t
	}
	if deadline.Valid {
		t := deadline.Time
		item.Deadline = &t
	}
	return &item, nil
}

func (s *Store) labelsFor(ctx context.Context, id string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT label_id FROM item_labels WHERE item_id = ? ORDER BY label_id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var labels []string
	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			return nil, err
		}
		labels = append(labels, l)
	}
	return labels, rows.Err()
}

func replaceLabels(ctx context.Context, tx *sql.Tx, id string, labels []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM item_labels WHERE item_id = ?`, id); err != nil {
		return err
	}
	for _, l := range labels {
		if _, err := tx.ExecContext(ctx, `INSERT INTO item_labels (item_id, label_id) VALUES (?, ?)`, id, l); err != nil {
			return err
		}
	}
	return nil
}

func insertActivity(ctx context.Context, tx *sql.Tx, itemID, actor, kind, detail string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO activity (id, item_id, actor_id, kind, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, ulid.Make().String(), itemID, actor, kind, detail, time.Now())
	return err
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
