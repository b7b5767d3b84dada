// Package contacts keeps the list of people a conversation can be opened
// with.
package contacts

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"chatsync/internal/avatar"
	"chatsync/internal/transport"
)

type Contact struct {
	ID       string        `json:"id"`
	Username string        `json:"username"`
	Email    string        `json:"email,omitempty"`
	Avatar   avatar.Avatar `json:"avatar"`
}

// Directory caches the user list fetched from the backend.
type Directory struct {
	source transport.Directory
	selfID string

	mu       sync.RWMutex
	contacts map[string]Contact
}

func NewDirectory(source transport.Directory, selfID string) *Directory {
	return &Directory{source: source, selfID: selfID, contacts: make(map[string]Contact)}
}

// Refresh replaces the cached list. On error the previous list is kept.
func (d *Directory) Refresh(ctx context.Context) error {
	users, err := d.source.FetchUsers(ctx, d.selfID)
	if err != nil {
		return fmt.Errorf("refresh contacts: %w", err)
	}
	next := make(map[string]Contact, len(users))
	for _, u := range users {
		if u.ID == "" || u.ID == d.selfID {
			continue
		}
		next[u.ID] = Contact{ID: u.ID, Username: u.Username, Email: u.Email, Avatar: avatar.Assign(u.Username)}
	}
	d.mu.Lock()
	d.contacts = next
	d.mu.Unlock()
	return nil
}

// List returns every contact ordered by username.
func (d *Directory) List() []Contact {
	return d.Filter("")
}

// Filter returns contacts whose username contains query, ignoring case.
func (d *Directory) Filter(query string) []Contact {
	q := strings.ToLower(strings.TrimSpace(query))
	d.mu.RLock()
	out := make([]Contact, 0, len(d.contacts))
	for _, c := range d.contacts {
		if q == "" || strings.Contains(strings.ToLower(c.Username), q) {
			out = append(out, c)
		}
	}
	d.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		a, b := strings.ToLower(out[i].Username), strings.ToLower(out[j].Username)
		if a != b {
			return a < b
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (d *Directory) Lookup(id string) (Contact, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.contacts[id]
	return c, ok
}

// Resolve finds a contact by id or, failing that, by exact username
// ignoring case.
func (d *Directory) Resolve(nameOrID string) (Contact, bool) {
	if c, ok := d.Lookup(nameOrID); ok {
		return c, true
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, c := range d.contacts {
		if strings.EqualFold(c.Username, nameOrID) {
			return c, true
		}
	}
	return Contact{}, false
}
