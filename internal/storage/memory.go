package storage

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryEngine is a volatile KVEngine used by tests and by
// storage.engine=memory deployments.
type MemoryEngine struct {
	mu      sync.RWMutex
	items   map[string]memoryItem
	closed  bool
	nowFunc func() time.Time
}

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

func (i memoryItem) expired(now time.Time) bool {
	return !i.expiresAt.IsZero() && !now.Before(i.expiresAt)
}

// NewMemoryEngine creates an empty in-memory engine.
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{
		items:   make(map[string]memoryItem),
		nowFunc: time.Now,
	}
}

// Get retrieves a value by key.
func (m *MemoryEngine) Get(ctx context.Context, key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	return m.get(string(key))
}

func (m *MemoryEngine) get(key string) ([]byte, error) {
	item, ok := m.items[key]
	if !ok || item.expired(m.nowFunc()) {
		return nil, ErrKeyNotFound
	}
	return bytes.Clone(item.value), nil
}

// Set stores a key-value pair.
func (m *MemoryEngine) Set(ctx context.Context, key, value []byte) error {
	return m.Update(ctx, func(tx Txn) error { return tx.Set(key, value) })
}

// Delete removes a key.
func (m *MemoryEngine) Delete(ctx context.Context, key []byte) error {
	return m.Update(ctx, func(tx Txn) error { return tx.Delete(key) })
}

// Scan iterates over keys with a given prefix in ascending key order.
func (m *MemoryEngine) Scan(ctx context.Context, prefix []byte, fn func(key, value []byte) bool) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return m.scan(ctx, string(prefix), nil, fn)
}

func (m *MemoryEngine) scan(ctx context.Context, prefix string, pending map[string]*memoryItem, fn func(key, value []byte) bool) error {
	now := m.nowFunc()
	view := make(map[string][]byte)
	for k, item := range m.items {
		if strings.HasPrefix(k, prefix) && !item.expired(now) {
			view[k] = item.value
		}
	}
	for k, item := range pending {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if item == nil {
			delete(view, k)
		} else {
			view[k] = item.value
		}
	}

	keys := make([]string, 0, len(view))
	for k := range view {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !fn([]byte(k), bytes.Clone(view[k])) {
			break
		}
	}
	return nil
}

// Update runs fn with exclusive access; writes are applied only when fn
// returns nil.
func (m *MemoryEngine) Update(ctx context.Context, fn func(tx Txn) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	tx := &memoryTxn{ctx: ctx, engine: m, pending: make(map[string]*memoryItem)}
	if err := fn(tx); err != nil {
		return err
	}
	for k, item := range tx.pending {
		if item == nil {
			delete(m.items, k)
		} else {
			m.items[k] = *item
		}
	}
	return nil
}

// SaveSnapshot encodes every live entry as a CBOR map.
func (m *MemoryEngine) SaveSnapshot(ctx context.Context) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	now := m.nowFunc()
	entries := make(map[string][]byte, len(m.items))
	for k, item := range m.items {
		if !item.expired(now) {
			entries[k] = item.value
		}
	}
	data, err := Marshal(entries)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// GC drops expired entries.
func (m *MemoryEngine) GC(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var reclaimed uint64
	now := m.nowFunc()
	for k, item := range m.items {
		if item.expired(now) {
			reclaimed += uint64(len(k) + len(item.value))
			delete(m.items, k)
		}
	}
	return reclaimed, nil
}

// Stats returns key count and payload size.
func (m *MemoryEngine) Stats(ctx context.Context) (*KVStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &KVStats{TotalKeys: uint64(len(m.items))}
	for k, item := range m.items {
		stats.TotalSize += uint64(len(k) + len(item.value))
	}
	return stats, nil
}

// Close marks the engine closed.
func (m *MemoryEngine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// memoryTxn stages writes; a nil pending entry is a delete.
type memoryTxn struct {
	ctx     context.Context
	engine  *MemoryEngine
	pending map[string]*memoryItem
}

func (t *memoryTxn) Get(key []byte) ([]byte, error) {
	if item, ok := t.pending[string(key)]; ok {
		if item == nil {
			return nil, ErrKeyNotFound
		}
		return bytes.Clone(item.value), nil
	}
	return t.engine.get(string(key))
}

func (t *memoryTxn) Set(key, value []byte) error {
	t.pending[string(key)] = &memoryItem{value: bytes.Clone(value)}
	return nil
}

func (t *memoryTxn) SetWithTTL(key, value []byte, ttl time.Duration) error {
	t.pending[string(key)] = &memoryItem{
		value:     bytes.Clone(value),
		expiresAt: t.engine.nowFunc().Add(ttl),
	}
	return nil
}

func (t *memoryTxn) Delete(key []byte) error {
	t.pending[string(key)] = nil
	return nil
}

func (t *memoryTxn) Scan(prefix []byte, fn func(key, value []byte) bool) error {
	return t.engine.scan(t.ctx, string(prefix), t.pending, fn)
}
