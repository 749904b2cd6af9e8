// Package history keeps the most recent webhook exchanges for the data table.
package history

import (
	"sync"

	"hookchat/internal/domain"
)

const (
	DefaultCapacity = 10
	DefaultPageSize = 5
)

// Ring is a bounded, newest-first list of webhook responses.
// It is safe for concurrent use.
type Ring struct {
	mu    sync.RWMutex
	items []domain.WebhookResponse // newest first
	cap   int
}

// New returns a Ring holding at most capacity items. A non-positive
// capacity falls back to DefaultCapacity.
func New(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{cap: capacity, items: make([]domain.WebhookResponse, 0, capacity)}
}

// Add inserts resp at the front, dropping the oldest item when full.
func (r *Ring) Add(resp domain.WebhookResponse) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, domain.WebhookResponse{})
	copy(r.items[1:], r.items)
	r.items[0] = resp
	if len(r.items) > r.cap {
		r.items = r.items[:r.cap]
	}
}

// List returns a copy of every item, newest first.
func (r *Ring) List() []domain.WebhookResponse {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.WebhookResponse, len(r.items))
	copy(out, r.items)
	return out
}

func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

func (r *Ring) Cap() int { return r.cap }

// Clear drops every item.
func (r *Ring) Clear() {
	r.mu.Lock()
	r.items = r.items[:0]
	r.mu.Unlock()
}

// Page is one slice of the table.
type Page struct {
	Items      []domain.WebhookResponse `json:"items"`
	Page       int                      `json:"page"`
	Size       int                      `json:"size"`
	TotalPages int                      `json:"totalPages"`
	Total      int                      `json:"total"`
}

// Page returns the 1-based page of the given size. Pages below 1 clamp to
// the first page and pages past the end clamp to the last one. An empty
// ring reports page 1 of 1 with no items.
func (r *Ring) Page(page, size int) Page {
	if size <= 0 {
		size = DefaultPageSize
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := len(r.items)
	pages := (total + size - 1) / size
	if pages == 0 {
		pages = 1
	}
	if page < 1 {
		page = 1
	}
	if page > pages {
		page = pages
	}

	start := (page - 1) * size
	end := min(start+size, total)
	items := make([]domain.WebhookResponse, 0, end-start)
	if start < end {
		items = append(items, r.items[start:end]...)
	}
	return Page{Items: items, Page: page, Size: size, TotalPages: pages, Total: total}
}
