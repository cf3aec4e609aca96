package db

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/atomicswap/atomengine/internal/models"
)

// Command-log operation names, one per Store mutation.
const (
	opCreateOrder = "create_order"
	opDeleteOrder = "delete_order"
	opCreateTrade = "create_trade"
	opUpdateTrade = "update_trade"
	opBlacklist   = "add_blacklist"
)

// orderRecord is an order with its auth hash, which the wire form of
// models.Order deliberately omits.
type orderRecord struct {
	models.Order
	Hash string `json:"hash"`
}

// tradeRecord adds the trade's own hash and the embedded order's hash.
type tradeRecord struct {
	models.Trade
	Hash      string `json:"hash"`
	OrderHash string `json:"orderHash"`
}

type logRecord struct {
	Op    string       `json:"op"`
	Order *orderRecord `json:"order,omitempty"`
	Trade *tradeRecord `json:"trade,omitempty"`
	ID    int64        `json:"id,omitempty"`
	IP    string       `json:"ip,omitempty"`
}

func newOrderRecord(order *models.Order) *orderRecord {
	return &orderRecord{Order: *order, Hash: order.AuthHash}
}

func (r *orderRecord) toOrder() *models.Order {
	order := r.Order
	order.AuthHash = r.Hash
	return &order
}

func newTradeRecord(trade *models.Trade) *tradeRecord {
	rec := &tradeRecord{Trade: *trade, Hash: trade.AuthHash}
	if trade.Order != nil {
		rec.OrderHash = trade.Order.AuthHash
	}
	return rec
}

func (r *tradeRecord) toTrade() *models.Trade {
	trade := r.Trade
	trade.AuthHash = r.Hash
	if trade.Order != nil {
		order := *trade.Order
		order.AuthHash = r.OrderHash
		trade.Order = &order
	}
	return &trade
}

// CommandLog is the v1 backend: an append-only file of line-delimited JSON
// mutation records, replayed in order at startup.
type CommandLog struct {
	path string
	file *os.File
}

// NewCommandLog opens (creating if needed) the log file at path.
func NewCommandLog(path string) (*CommandLog, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open command log: %w", err)
	}
	return &CommandLog{path: path, file: file}, nil
}

// Load replays the whole log. Unparsable lines (a torn tail write after a
// crash) are skipped.
func (l *CommandLog) Load(ctx context.Context) (*Snapshot, error) {
	if _, err := l.file.Seek(0, 0); err != nil {
		return nil, fmt.Errorf("failed to rewind command log: %w", err)
	}
	snap := NewSnapshot()
	scanner := bufio.NewScanner(l.file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var rec logRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		switch rec.Op {
		case opCreateOrder:
			if rec.Order != nil {
				order := rec.Order.toOrder()
				snap.Orders[order.ID] = order
			}
		case opDeleteOrder:
			delete(snap.Orders, rec.ID)
		case opCreateTrade:
			if rec.Trade != nil {
				trade := rec.Trade.toTrade()
				snap.Trades[trade.ID] = trade
				if trade.Order != nil {
					delete(snap.Orders, trade.Order.ID)
				}
			}
		case opUpdateTrade:
			if rec.Trade != nil {
				trade := rec.Trade.toTrade()
				snap.Trades[trade.ID] = trade
			}
		case opBlacklist:
			snap.Blacklist = append(snap.Blacklist, rec.IP)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read command log: %w", err)
	}
	return snap, nil
}

func (l *CommandLog) append(rec *logRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode log record: %w", err)
	}
	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append log record: %w", err)
	}
	return nil
}

// AppendOrder records a created order.
func (l *CommandLog) AppendOrder(ctx context.Context, order *models.Order) error {
	return l.append(&logRecord{Op: opCreateOrder, Order: newOrderRecord(order)})
}

// RemoveOrder records an explicit order deletion.
func (l *CommandLog) RemoveOrder(ctx context.Context, id int64) error {
	return l.append(&logRecord{Op: opDeleteOrder, ID: id})
}

// AppendTrade records a created trade; replay also drops the consumed order.
func (l *CommandLog) AppendTrade(ctx context.Context, trade *models.Trade) error {
	return l.append(&logRecord{Op: opCreateTrade, Trade: newTradeRecord(trade)})
}

// UpdateTrade records a full post-update trade snapshot.
func (l *CommandLog) UpdateTrade(ctx context.Context, trade *models.Trade) error {
	return l.append(&logRecord{Op: opUpdateTrade, Trade: newTradeRecord(trade)})
}

// AppendBlacklist records a blacklisted source IP.
func (l *CommandLog) AppendBlacklist(ctx context.Context, ip string) error {
	return l.append(&logRecord{Op: opBlacklist, IP: ip})
}

// Close closes the log file.
func (l *CommandLog) Close(ctx context.Context) error {
	return l.file.Close()
}
