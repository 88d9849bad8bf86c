package store

import (
	"sort"
	"sync"
)

const subscriberBuffer = 100

// MemoryStore is an in-memory [Store].
//
// Updates are delivered to subscribers with non-blocking sends; a subscriber
// whose buffer is full drops the update.
type MemoryStore struct {
	mu       sync.RWMutex
	statuses map[string]StatusResult

	subMu       sync.RWMutex
	subscribers map[<-chan StatusResult]chan StatusResult
}

// NewMemoryStore creates an empty [MemoryStore].
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		statuses:    make(map[string]StatusResult),
		subscribers: make(map[<-chan StatusResult]chan StatusResult),
	}
}

// Update stores result and notifies all subscribers.
func (m *MemoryStore) Update(result StatusResult) {
	m.mu.Lock()
	m.statuses[result.Name] = result
	m.mu.Unlock()

	m.notifySubscribers(result)
}

// Get returns the stored result for name.
func (m *MemoryStore) Get(name string) (StatusResult, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result, ok := m.statuses[name]
	return result, ok
}

// GetAll returns a snapshot of all stored results, sorted by name.
func (m *MemoryStore) GetAll() []StatusResult {
	m.mu.RLock()
	results := make([]StatusResult, 0, len(m.statuses))
	for _, status := range m.statuses {
		results = append(results, status)
	}
	m.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		return results[i].Name < results[j].Name
	})
	return results
}

// Subscribe registers a subscriber with a buffer of 100 updates.
// The caller must call [MemoryStore.Unsubscribe] when done.
func (m *MemoryStore) Subscribe() <-chan StatusResult {
	ch := make(chan StatusResult, subscriberBuffer)

	m.subMu.Lock()
	m.subscribers[ch] = ch
	m.subMu.Unlock()

	return ch
}

// Unsubscribe removes a subscription and closes its channel.
func (m *MemoryStore) Unsubscribe(ch <-chan StatusResult) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	if subCh, ok := m.subscribers[ch]; ok {
		delete(m.subscribers, ch)
		close(subCh)
	}
}

// SubscriberCount returns the number of active subscriptions.
func (m *MemoryStore) SubscriberCount() int {
	m.subMu.RLock()
	defer m.subMu.RUnlock()
	return len(m.subscribers)
}

func (m *MemoryStore) notifySubscribers(result StatusResult) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()

	for _, ch := range m.subscribers {
		select {
		case ch <- result:
		default:
			// slow subscriber, drop
		}
	}
}
