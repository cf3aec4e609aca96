package db

import (
	"context"
	"sync"

	"github.com/atomicswap/atomengine/internal/models"
)

// Mem is an in-memory Store used by tests. It keeps the interface honest
// without requiring a database or a scratch file.
type Mem struct {
	mu        sync.Mutex
	orders    map[int64]*models.Order
	trades    map[int64]*models.Trade
	blacklist []string
}

// NewMem returns an empty in-memory store.
func NewMem() *Mem {
	return &Mem{
		orders: make(map[int64]*models.Order),
		trades: make(map[int64]*models.Trade),
	}
}

// Load returns a copy of the current state.
func (m *Mem) Load(ctx context.Context) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := NewSnapshot()
	for id, order := range m.orders {
		o := *order
		snap.Orders[id] = &o
	}
	for id, trade := range m.trades {
		t := *trade
		if trade.Order != nil {
			o := *trade.Order
			t.Order = &o
		}
		snap.Trades[id] = &t
	}
	snap.Blacklist = append(snap.Blacklist, m.blacklist...)
	return snap, nil
}

// AppendOrder stores a copy of the order.
func (m *Mem) AppendOrder(ctx context.Context, order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := *order
	m.orders[order.ID] = &o
	return nil
}

// RemoveOrder drops the order.
func (m *Mem) RemoveOrder(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.orders, id)
	return nil
}

// AppendTrade stores the trade and drops the consumed order.
func (m *Mem) AppendTrade(ctx context.Context, trade *models.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := *trade
	if trade.Order != nil {
		o := *trade.Order
		t.Order = &o
		delete(m.orders, o.ID)
	}
	m.trades[trade.ID] = &t
	return nil
}

// UpdateTrade overwrites the stored trade.
func (m *Mem) UpdateTrade(ctx context.Context, trade *models.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := *trade
	if trade.Order != nil {
		o := *trade.Order
		t.Order = &o
	}
	m.trades[trade.ID] = &t
	return nil
}

// AppendBlacklist records the IP.
func (m *Mem) AppendBlacklist(ctx context.Context, ip string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blacklist = append(m.blacklist, ip)
	return nil
}

// Blacklist returns the recorded IPs.
func (m *Mem) Blacklist() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.blacklist...)
}

// Close is a no-op.
func (m *Mem) Close(ctx context.Context) error {
	return nil
}
