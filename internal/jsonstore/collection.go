package jsonstore

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// ErrNotFound is returned when an item ID is not in the collection.
var ErrNotFound = errors.New("item not found")

// Collection is a keyed set of records persisted as one JSON array.
type Collection[T any] struct {
	mu    sync.RWMutex
	file  *File
	id    func(T) string
	items map[string]T
}

// NewCollection opens a collection stored at path. id extracts the key of a
// record.
func NewCollection[T any](path string, id func(T) string, logger *slog.Logger) (*Collection[T], error) {
	c := &Collection[T]{
		file:  New(path, logger),
		id:    id,
		items: make(map[string]T),
	}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// File returns the backing file.
func (c *Collection[T]) File() *File { return c.file }

// Reload replaces the in-memory view with the file contents.
func (c *Collection[T]) Reload() error {
	var list []T
	if _, err := c.file.Load(&list); err != nil {
		return err
	}
	items := make(map[string]T, len(list))
	for _, item := range list {
		items[c.id(item)] = item
	}
	c.mu.Lock()
	c.items = items
	c.mu.Unlock()
	return nil
}

// List returns all items ordered by ID.
func (c *Collection[T]) List() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sortedLocked()
}

// Get returns an item by ID.
func (c *Collection[T]) Get(id string) (T, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	item, ok := c.items[id]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return item, nil
}

// Put inserts or replaces an item and persists the collection.
func (c *Collection[T]) Put(item T) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.id(item)
	prev, existed := c.items[id]
	c.items[id] = item
	if err := c.file.Save(c.sortedLocked()); err != nil {
		if existed {
			c.items[id] = prev
		} else {
			delete(c.items, id)
		}
		return err
	}
	return nil
}

// Delete removes an item and persists the collection.
func (c *Collection[T]) Delete(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, ok := c.items[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(c.items, id)
	if err := c.file.Save(c.sortedLocked()); err != nil {
		c.items[id] = prev
		return err
	}
	return nil
}

// Len returns the number of items.
func (c *Collection[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *Collection[T]) sortedLocked() []T {
	ids := make([]string, 0, len(c.items))
	for id := range c.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.items[id])
	}
	return out
}
