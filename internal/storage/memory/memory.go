// Package memory provides an in-memory Storage backend. It is used by
// the test suites and by `story serve --memory` for throwaway
// workspaces; nothing survives process exit.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/storyline-app/storyline/internal/storage"
	"github.com/storyline-app/storyline/internal/types"
)

type record struct {
	item        *types.WorkItem
	description string
	comments    []*types.Comment
	activity    []*types.Activity // newest first
}

// Store is an in-memory implementation of storage.Storage.
type Store struct {
	mu       sync.RWMutex
	records  map[string]*record
	config   map[string]string
	metadata map[string]string
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		records:  make(map[string]*record),
		config:   make(map[string]string),
		metadata: make(map[string]string),
	}
}

func (s *Store) CreateItem(_ context.Context, item *types.WorkItem, description, actor string) error {
	if err := item.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[item.ID]; exists {
		return fmt.Errorf("duplicate item id: %s", item.ID)
	}
	rec := &record{item: item.Clone(), description: description}
	rec.activity = append(rec.activity, newActivity(item.ID, actor, "created", ""))
	s.records[item.ID] = rec
	return nil
}

func (s *Store) CreateItems(ctx context.Context, items []*types.WorkItem, actor string) error {
	for _, item := range items {
		if err := s.CreateItem(ctx, item, "", actor); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) GetItem(_ context.Context, id string) (*types.WorkItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrItemNotFound, id)
	}
	return rec.item.Clone(), nil
}

func (s *Store) GetDescription(_ context.Context, id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", storage.ErrItemNotFound, id)
	}
	return rec.description, nil
}

func (s *Store) UpdateItem(_ context.Context, id string, patch *types.ItemPatch, actor string) (*types.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrItemNotFound, id)
	}
	patch.Apply(rec.item)
	rec.item.UpdatedAt = time.Now()
	if patch.Description != nil {
		rec.description = *patch.Description
	}
	rec.activity = append([]*types.Activity{newActivity(id, actor, "updated", "")}, rec.activity...)
	return rec.item.Clone(), nil
}

func (s *Store) DeleteItem(_ context.Context, id, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return fmt.Errorf("%w: %s", storage.ErrItemNotFound, id)
	}
	delete(s.records, id)
	return nil
}

func (s *Store) ListItems(_ context.Context, filter storage.ItemFilter) ([]*types.WorkItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var items []*types.WorkItem
	for _, rec := range s.records {
		if filter.Matches(rec.item) {
			items = append(items, rec.item.Clone())
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (s *Store) AddComment(_ context.Context, itemID, author, body string) (*types.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[itemID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrItemNotFound, itemID)
	}
	c := &types.Comment{
		ID:        ulid.Make().String(),
		ItemID:    itemID,
		AuthorID:  author,
		Body:      body,
		CreatedAt: time.Now(),
	}
	rec.comments = append(rec.comments, c)
	rec.activity = append([]*types.Activity{newActivity(itemID, author, "commented", "")}, rec.activity...)
	return c, nil
}

func (s *Store) GetComments(_ context.Context, itemID string) ([]*types.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[itemID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrItemNotFound, itemID)
	}
	return append([]*types.Comment(nil), rec.comments...), nil
}

func (s *Store) GetActivity(_ context.Context, itemID string, limit int) ([]*types.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[itemID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrItemNotFound, itemID)
	}
	out := append([]*types.Activity(nil), rec.activity...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) SetConfig(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config[key] = value
	return nil
}

func (s *Store) GetConfig(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config[key], nil
}

func (s *Store) SetMetadata(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata[key] = value
	return nil
}

func (s *Store) GetMetadata(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metadata[key], nil
}

func (s *Store) Close() error { return nil }

func (s *Store) Path() string { return "" }

func newActivity(itemID, actor, kind, detail string) *types.Activity {
	return &types.Activity{
		ID:        ulid.Make().String(),
		ItemID:    itemID,
		ActorID:   actor,
		Kind:      kind,
		Detail:    detail,
		CreatedAt: time.Now(),
	}
}
