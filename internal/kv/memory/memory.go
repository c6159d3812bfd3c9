// Package memory implements kv.Store in process memory.
//
// It is intended for single-instance deployments and tests. Expiry is
// evaluated against an injectable clock on every access, and a janitor
// periodically drops lapsed entries.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/vovakirdan/viewing-server/internal/kv"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

type index struct {
	members   map[string]struct{}
	expiresAt time.Time
}

// Store is an in-memory kv.Store.
type Store struct {
	clock clock.Clock

	mu      sync.Mutex
	entries map[string]entry
	indexes map[string]*index

	stop chan struct{}
	once sync.Once
}

var _ kv.Store = (*Store)(nil)

// New creates a store using the wall clock and a janitor running every
// purgeInterval. A non-positive purgeInterval disables the janitor.
func New(purgeInterval time.Duration) *Store {
	return NewWithClock(clock.New(), purgeInterval)
}

// NewWithClock creates a store driven by clk.
func NewWithClock(clk clock.Clock, purgeInterval time.Duration) *Store {
	s := &Store{
		clock:   clk,
		entries: make(map[string]entry),
		indexes: make(map[string]*index),
		stop:    make(chan struct{}),
	}
	if purgeInterval > 0 {
		go s.janitor(purgeInterval)
	}
	return s
}

func (s *Store) SetEx(_ context.Context, key string, value []byte, ttl time.Duration) error {
	buf := make([]byte, len(value))
	copy(buf, value)

	s.mu.Lock()
	s.entries[key] = entry{value: buf, expiresAt: s.clock.Now().Add(ttl)}
	s.mu.Unlock()
	return nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.live(key, s.clock.Now())
	if !ok {
		return nil, kv.ErrNotFound
	}
	return v, nil
}

func (s *Store) GetMany(_ context.Context, keys ...string) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	out := make([][]byte, len(keys))
	for i, key := range keys {
		if v, ok := s.live(key, now); ok {
			out[i] = v
		}
	}
	return out, nil
}

func (s *Store) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	for _, key := range keys {
		delete(s.entries, key)
	}
	s.mu.Unlock()
	return nil
}

func (s *Store) IndexAdd(_ context.Context, name, member string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	idx, ok := s.indexes[name]
	if !ok || !now.Before(idx.expiresAt) {
		idx = &index{members: make(map[string]struct{})}
		s.indexes[name] = idx
	}
	idx.members[member] = struct{}{}
	idx.expiresAt = now.Add(ttl)
	return nil
}

func (s *Store) IndexMembers(_ context.Context, name string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.indexes[name]
	if !ok || !s.clock.Now().Before(idx.expiresAt) {
		return nil, nil
	}
	out := make([]string, 0, len(idx.members))
	for m := range idx.members {
		out = append(out, m)
	}
	return out, nil
}

func (s *Store) IndexRemove(_ context.Context, name string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.indexes[name]
	if !ok {
		return nil
	}
	for _, m := range members {
		delete(idx.members, m)
	}
	if len(idx.members) == 0 {
		delete(s.indexes, name)
	}
	return nil
}

func (s *Store) IndexPrune(_ context.Context, name string, members map[string]string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.indexes[name]
	if !ok {
		return 0, nil
	}
	now := s.clock.Now()
	removed := 0
	for member, key := range members {
		if _, live := s.live(key, now); live {
			continue
		}
		if _, present := idx.members[member]; present {
			delete(idx.members, member)
			removed++
		}
	}
	return removed, nil
}

func (s *Store) Ping(context.Context) error {
	return nil
}

// Close stops the janitor.
func (s *Store) Close() error {
	s.once.Do(func() { close(s.stop) })
	return nil
}

// Purge drops every lapsed entry and index and returns how many were removed.
func (s *Store) Purge() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	removed := 0
	for k, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, k)
			removed++
		}
	}
	for k, idx := range s.indexes {
		if !now.Before(idx.expiresAt) {
			delete(s.indexes, k)
			removed++
		}
	}
	return removed
}

// live must be called with mu held.
func (s *Store) live(key string, now time.Time) ([]byte, bool) {
	e, ok := s.entries[key]
	if !ok || !now.Before(e.expiresAt) {
		return nil, false
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true
}

func (s *Store) janitor(interval time.Duration) {
	ticker := s.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Purge()
		case <-s.stop:
			return
		}
	}
}
