// Package cache provides the result cache implementations behind the
// ports.ResultCache contract: an in-process LRU for single-replica
// deployments and a Redis-backed store for shared deployments.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/kodeks-ai/lexrag/internal/core/domain"
)

// Memory is an in-process result cache with TTL expiry and
// least-recently-used eviction past a maximum entry count. A single
// coarse mutex guards it; critical sections are map/list operations
// only, so readers are never blocked for unbounded time.
type Memory struct {
	mu       sync.Mutex
	maxSize  int
	entries  map[string]*list.Element
	eviction *list.List // front = most recently used

	onEvict func()
}

type memoryEntry struct {
	key   string
	value domain.CacheEntry
}

func NewMemory(maxSize int) *Memory {
	if maxSize <= 0 {
		maxSize = 1024
	}
	return &Memory{
		maxSize:  maxSize,
		entries:  make(map[string]*list.Element, maxSize),
		eviction: list.New(),
	}
}

// SetEvictionHook registers a callback fired once per evicted entry,
// used for metrics. Must be called before the cache is shared.
func (m *Memory) SetEvictionHook(hook func()) {
	m.onEvict = hook
}

func (m *Memory) Get(_ context.Context, key string) (*domain.CacheEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	element, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	entry := element.Value.(*memoryEntry)
	if entry.value.Expired(time.Now()) {
		m.removeLocked(element)
		return nil, false
	}
	m.eviction.MoveToFront(element)
	value := entry.value
	return &value, true
}

func (m *Memory) Set(_ context.Context, entry domain.CacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if element, ok := m.entries[entry.Key]; ok {
		// Wholesale replacement, never a partial update.
		element.Value.(*memoryEntry).value = entry
		m.eviction.MoveToFront(element)
		return nil
	}

	element := m.eviction.PushFront(&memoryEntry{key: entry.Key, value: entry})
	m.entries[entry.Key] = element

	for len(m.entries) > m.maxSize {
		oldest := m.eviction.Back()
		if oldest == nil {
			break
		}
		m.removeLocked(oldest)
		if m.onEvict != nil {
			m.onEvict()
		}
	}
	return nil
}

func (m *Memory) InvalidateTenant(_ context.Context, tenantID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, element := range m.collectLocked(func(e *memoryEntry) bool {
		return e.value.TenantID == tenantID
	}) {
		m.removeLocked(element)
		count++
	}
	return count, nil
}

func (m *Memory) InvalidateCase(_ context.Context, tenantID, caseID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, element := range m.collectLocked(func(e *memoryEntry) bool {
		return e.value.TenantID == tenantID && e.value.CaseID == caseID
	}) {
		m.removeLocked(element)
		count++
	}
	return count, nil
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Memory) collectLocked(match func(*memoryEntry) bool) []*list.Element {
	var out []*list.Element
	for element := m.eviction.Front(); element != nil; element = element.Next() {
		if match(element.Value.(*memoryEntry)) {
			out = append(out, element)
		}
	}
	return out
}

func (m *Memory) removeLocked(element *list.Element) {
	entry := element.Value.(*memoryEntry)
	delete(m.entries, entry.key)
	m.eviction.Remove(element)
}
