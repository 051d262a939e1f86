// Copyright 2024-2026 Aiku AI

package robot

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Brain events.
const (
	EventBrainLoaded = "loaded"
	EventBrainSaved  = "save"
)

// Brain is the robot's long-term memory: the user directory plus a free-form
// key/value store. All methods are safe for concurrent use. Users are handed
// out as copies; mutations go through the brain.
type Brain struct {
	*Emitter

	mu    sync.RWMutex
	users map[string]*User
	data  map[string]any
	dirty bool

	store Store
	log   zerolog.Logger
}

// NewBrain creates an empty brain. store may be nil, in which case the brain
// lives in memory only.
func NewBrain(store Store, log zerolog.Logger) *Brain {
	return &Brain{
		Emitter: NewEmitter(),
		users:   make(map[string]*User),
		data:    make(map[string]any),
		store:   store,
		log:     log.With().Str("component", "brain").Logger(),
	}
}

// UserForID returns the user with the given ID, creating it from seed (or a
// minimal record) when it does not exist yet.
func (b *Brain) UserForID(id string, seed *User) *User {
	b.mu.Lock()
	defer b.mu.Unlock()
	if u, ok := b.users[id]; ok {
		return u.Clone()
	}
	u := seed.Clone()
	if u == nil {
		u = NewUser(id)
	}
	u.ID = id
	b.users[id] = u
	b.dirty = true
	return u.Clone()
}

// User returns the user with the given ID without creating it.
func (b *Brain) User(id string) (*User, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	u, ok := b.users[id]
	return u.Clone(), ok
}

// UserForName returns the user whose name matches case-insensitively, or nil.
func (b *Brain) UserForName(name string) *User {
	if name == "" {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	lower := strings.ToLower(name)
	for _, u := range b.users {
		if strings.ToLower(u.Name) == lower {
			return u.Clone()
		}
	}
	return nil
}

// Users returns every known user ordered by ID.
func (b *Brain) Users() []*User {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*User, 0, len(b.users))
	for _, id := range slices.Sorted(maps.Keys(b.users)) {
		out = append(out, b.users[id].Clone())
	}
	return out
}

// SetUser stores a copy of u, replacing any existing record with the same ID.
func (b *Brain) SetUser(u *User) {
	if u == nil || u.ID == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.users[u.ID] = u.Clone()
	b.dirty = true
}

// ReplaceUser atomically replaces the user with the given ID by the result of
// fn. fn receives a copy of the current record, or nil if there is none.
// Returning nil leaves the brain unchanged.
func (b *Brain) ReplaceUser(id string, fn func(old *User) *User) *User {
	b.mu.Lock()
	defer b.mu.Unlock()
	next := fn(b.users[id].Clone())
	if next == nil {
		return b.users[id].Clone()
	}
	next = next.Clone()
	next.ID = id
	b.users[id] = next
	b.dirty = true
	return next.Clone()
}

// UpdateUser applies fn to the user with the given ID under the brain lock,
// creating a minimal record first if needed.
func (b *Brain) UpdateUser(id string, fn func(u *User)) *User {
	b.mu.Lock()
	defer b.mu.Unlock()
	u, ok := b.users[id]
	if !ok {
		u = NewUser(id)
		b.users[id] = u
	}
	fn(u)
	u.ID = id
	b.dirty = true
	return u.Clone()
}

// Get returns a value from the key/value store.
func (b *Brain) Get(key string) (any, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	val, ok := b.data[key]
	return val, ok
}

// Set writes a value to the key/value store.
func (b *Brain) Set(key string, val any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = val
	b.dirty = true
}

// Remove deletes a value from the key/value store.
func (b *Brain) Remove(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, key)
	b.dirty = true
}

// Load reads the snapshot from the store, merges it into memory and emits
// the "loaded" event. Users already in memory win over stored ones.
func (b *Brain) Load(ctx context.Context) error {
	if b.store != nil {
		snap, err := b.store.Load(ctx)
		if err != nil {
			return fmt.Errorf("failed to load brain: %w", err)
		}
		b.mu.Lock()
		for id, u := range snap.Users {
			if u == nil {
				continue
			}
			if _, exists := b.users[id]; exists {
				continue
			}
			u.ID = id
			b.users[id] = u
		}
		for k, v := range snap.Data {
			if _, exists := b.data[k]; !exists {
				b.data[k] = v
			}
		}
		count := len(b.users)
		b.mu.Unlock()
		b.log.Info().Int("users", count).Msg("Brain loaded from store")
	}
	b.Emit(EventBrainLoaded, b)
	return nil
}

// Save writes the current state to the store, if there is one.
func (b *Brain) Save(ctx context.Context) error {
	if b.store == nil {
		return nil
	}
	b.mu.Lock()
	snap := &Snapshot{
		Users: make(map[string]*User, len(b.users)),
		Data:  maps.Clone(b.data),
	}
	for id, u := range b.users {
		snap.Users[id] = u.Clone()
	}
	b.dirty = false
	b.mu.Unlock()

	if err := b.store.Save(ctx, snap); err != nil {
		b.mu.Lock()
		b.dirty = true
		b.mu.Unlock()
		return fmt.Errorf("failed to save brain: %w", err)
	}
	b.Emit(EventBrainSaved, snap)
	return nil
}

// Autosave saves the brain every interval while it has unsaved changes, and
// once more when ctx is cancelled.
func (b *Brain) Autosave(ctx context.Context, interval time.Duration) error {
	if b.store == nil {
		<-ctx.Done()
		return nil
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := b.Save(context.WithoutCancel(ctx)); err != nil {
				b.log.Error().Err(err).Msg("Final brain save failed")
				return err
			}
			return nil
		case <-ticker.C:
			if !b.isDirty() {
				continue
			}
			if err := b.Save(ctx); err != nil {
				b.log.Warn().Err(err).Msg("Brain autosave failed")
			}
		}
	}
}

func (b *Brain) isDirty() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dirty
}
