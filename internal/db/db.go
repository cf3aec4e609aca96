// Package db is the persistence gateway for the relay. Every committed
// mutation is written through a Store, and Load replays the full state at
// startup. Persistence is a best-effort audit trail: in-memory state stays
// authoritative and write failures are logged by the caller, not retried.
package db

import (
	"context"
	"strings"

	"github.com/atomicswap/atomengine/internal/models"
)

// Snapshot is the state rebuilt from a backend at startup.
type Snapshot struct {
	Orders    map[int64]*models.Order
	Trades    map[int64]*models.Trade
	Blacklist []string
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Orders: make(map[int64]*models.Order),
		Trades: make(map[int64]*models.Trade),
	}
}

// Store is the backend contract. Load is invoked exactly once at startup,
// before any connection is accepted; the append/remove/update calls mirror
// the store mutations they follow.
type Store interface {
	Load(ctx context.Context) (*Snapshot, error)
	AppendOrder(ctx context.Context, order *models.Order) error
	RemoveOrder(ctx context.Context, id int64) error
	AppendTrade(ctx context.Context, trade *models.Trade) error
	UpdateTrade(ctx context.Context, trade *models.Trade) error
	AppendBlacklist(ctx context.Context, ip string) error
	Close(ctx context.Context) error
}

// Open selects a backend from the backing-store identifier: a postgres
// connection string, a SQLite database file, or (the default) an
// append-only command-log file.
func Open(ctx context.Context, target string) (Store, error) {
	switch {
	case strings.HasPrefix(target, "postgres://"), strings.HasPrefix(target, "postgresql://"):
		return NewPostgres(ctx, target)
	case strings.HasSuffix(target, ".db"), strings.HasSuffix(target, ".sqlite"), strings.HasSuffix(target, ".sqlite3"):
		return NewSQLite(ctx, target)
	default:
		return NewCommandLog(target)
	}
}
