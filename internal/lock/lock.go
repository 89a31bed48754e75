// Package lock provides non-blocking advisory locks used to serialize
// snapshot refreshes per ticker.
package lock

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
)

// Locker is a try-only mutual exclusion provider. Release must be safe to call
// for a key this process never acquired.
type Locker interface {
	TryAcquire(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// Key derives the refresh lock name for a ticker.
func Key(ticker string) string {
	h := fnv.New64a()
	h.Write([]byte(strings.ToUpper(strings.TrimSpace(ticker))))
	return fmt.Sprintf("refresh:%016x", h.Sum64())
}

// Manager is an in-process Locker.
type Manager struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewManager creates a manager with no locks held.
func NewManager() *Manager {
	return &Manager{held: make(map[string]struct{})}
}

func (m *Manager) TryAcquire(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.held[key]; busy {
		return false, nil
	}
	m.held[key] = struct{}{}
	return true, nil
}

func (m *Manager) Release(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.held, key)
	m.mu.Unlock()
	return nil
}

// Held reports whether key is currently locked.
func (m *Manager) Held(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.held[key]
	return ok
}

// Close drops every held lock.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.held = make(map[string]struct{})
	m.mu.Unlock()
	return nil
}
