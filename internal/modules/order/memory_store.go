// README: In-memory order store for tests and the tracksim CLI.
package order

import (
	"context"
	"sort"
	"sync"

	"foodtrack/internal/types"
)

type MemoryStore struct {
	mu     sync.RWMutex
	orders map[types.ID]*Order
	events map[types.ID][]Event
	nextID int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders: make(map[types.ID]*Order),
		events: make(map[types.ID][]Event),
	}
}

func (m *MemoryStore) Create(_ context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[o.ID]; ok {
		return ErrConflict
	}
	m.orders[o.ID] = o.Clone()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id types.ID) (*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return o.Clone(), nil
}

func (m *MemoryStore) Save(_ context.Context, o *Order, expectedVersion int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.orders[o.ID]
	if !ok {
		return false, ErrNotFound
	}
	if cur.StatusVersion != expectedVersion {
		return false, nil
	}
	next := o.Clone()
	next.StatusVersion = expectedVersion + 1
	m.orders[o.ID] = next
	return true, nil
}

func (m *MemoryStore) AppendEvent(_ context.Context, e *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	cp := *e
	cp.ID = m.nextID
	m.events[e.OrderID] = append(m.events[e.OrderID], cp)
	return nil
}

func (m *MemoryStore) Events(_ context.Context, id types.ID) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Event(nil), m.events[id]...), nil
}

func (m *MemoryStore) ListByStatus(_ context.Context, statuses []Status) ([]*Order, error) {
	return m.filter(func(o *Order) bool { return statusIn(o.Status, statuses) }), nil
}

func (m *MemoryStore) ListByCustomer(_ context.Context, customerID types.ID, statuses []Status) ([]*Order, error) {
	return m.filter(func(o *Order) bool {
		return o.CustomerID == customerID && (len(statuses) == 0 || statusIn(o.Status, statuses))
	}), nil
}

func (m *MemoryStore) FindByTransaction(_ context.Context, transactionID string) (*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, o := range m.orders {
		if o.TransactionID != "" && o.TransactionID == transactionID {
			return o.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) filter(keep func(*Order) bool) []*Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Order
	for _, o := range m.orders {
		if keep(o) {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func statusIn(s Status, statuses []Status) bool {
	for _, v := range statuses {
		if v == s {
			return true
		}
	}
	return false
}
