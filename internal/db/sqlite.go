package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/atomicswap/atomengine/internal/models"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS orders (
    id INTEGER PRIMARY KEY,
    send_cur TEXT NOT NULL,
    send_count INTEGER NOT NULL,
    get_cur TEXT NOT NULL,
    get_count INTEGER NOT NULL,
    get_address TEXT NOT NULL,
    hash TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS trades (
    id INTEGER PRIMARY KEY,
    order_id INTEGER NOT NULL,
    send_cur TEXT NOT NULL,
    send_count INTEGER NOT NULL,
    get_cur TEXT NOT NULL,
    get_count INTEGER NOT NULL,
    get_address TEXT NOT NULL,
    order_hash TEXT NOT NULL DEFAULT '',
    initiator_address TEXT NOT NULL,
    secret_hash TEXT NOT NULL DEFAULT '',
    contract_initiator TEXT NOT NULL DEFAULT '',
    contract_participant TEXT NOT NULL DEFAULT '',
    initiator_contract_tx TEXT NOT NULL DEFAULT '',
    participant_contract_tx TEXT NOT NULL DEFAULT '',
    initiator_redemption_tx TEXT NOT NULL DEFAULT '',
    participant_redemption_tx TEXT NOT NULL DEFAULT '',
    initiator_commission_paid INTEGER NOT NULL DEFAULT 0,
    participant_commission_paid INTEGER NOT NULL DEFAULT 0,
    refunded_init INTEGER NOT NULL DEFAULT 0,
    refunded_part INTEGER NOT NULL DEFAULT 0,
    refund_time_init INTEGER NOT NULL DEFAULT 0,
    refund_time_part INTEGER NOT NULL DEFAULT 0,
    hash TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS black_list (
    ip TEXT PRIMARY KEY
);`

// SQLite is the embedded relational backend, matching the original
// deployment's database file.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) the database file at path.
func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// modernc's driver serializes through a single connection anyway; making
	// it explicit avoids SQLITE_BUSY under the pool.
	sqlDB.SetMaxOpenConns(1)
	if _, err := sqlDB.ExecContext(ctx, sqliteSchema); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}
	return &SQLite{db: sqlDB}, nil
}

// Load reads the full order, trade, and blacklist sets.
func (s *SQLite) Load(ctx context.Context) (*Snapshot, error) {
	snap := NewSnapshot()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, send_cur, send_count, get_cur, get_count, get_address, hash FROM orders")
	if err != nil {
		return nil, fmt.Errorf("failed to load orders: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		order := &models.Order{}
		if err := rows.Scan(&order.ID, &order.SendCur, &order.SendCount, &order.GetCur,
			&order.GetCount, &order.GetAddr, &order.AuthHash); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		snap.Orders[order.ID] = order
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load orders: %w", err)
	}

	tradeRows, err := s.db.QueryContext(ctx, `SELECT id, order_id, send_cur, send_count, get_cur, get_count,
		get_address, order_hash, initiator_address, secret_hash, contract_initiator, contract_participant,
		initiator_contract_tx, participant_contract_tx, initiator_redemption_tx, participant_redemption_tx,
		initiator_commission_paid, participant_commission_paid, refunded_init, refunded_part,
		refund_time_init, refund_time_part, hash FROM trades`)
	if err != nil {
		return nil, fmt.Errorf("failed to load trades: %w", err)
	}
	defer tradeRows.Close()
	for tradeRows.Next() {
		trade := &models.Trade{Order: &models.Order{}}
		if err := tradeRows.Scan(&trade.ID, &trade.Order.ID, &trade.Order.SendCur, &trade.Order.SendCount,
			&trade.Order.GetCur, &trade.Order.GetCount, &trade.Order.GetAddr, &trade.Order.AuthHash,
			&trade.InitiatorAddr, &trade.SecretHash, &trade.ContractInitiator, &trade.ContractParticipant,
			&trade.InitiatorContractTransaction, &trade.ParticipantContractTransaction,
			&trade.InitiatorRedemptionTransaction, &trade.ParticipantRedemptionTransaction,
			&trade.InitiatorCommissionPaid, &trade.ParticipantCommissionPaid,
			&trade.RefundedInit, &trade.RefundedPart,
			&trade.RefundTimeInit, &trade.RefundTimePart, &trade.AuthHash); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		snap.Trades[trade.ID] = trade
	}
	if err := tradeRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load trades: %w", err)
	}

	blRows, err := s.db.QueryContext(ctx, "SELECT ip FROM black_list")
	if err != nil {
		return nil, fmt.Errorf("failed to load blacklist: %w", err)
	}
	defer blRows.Close()
	for blRows.Next() {
		var ip string
		if err := blRows.Scan(&ip); err != nil {
			return nil, fmt.Errorf("failed to scan blacklist entry: %w", err)
		}
		snap.Blacklist = append(snap.Blacklist, ip)
	}
	if err := blRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load blacklist: %w", err)
	}

	return snap, nil
}

// AppendOrder inserts a new order row.
func (s *SQLite) AppendOrder(ctx context.Context, order *models.Order) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO orders (id, send_cur, send_count, get_cur, get_count, get_address, hash) VALUES (?, ?, ?, ?, ?, ?, ?)",
		order.ID, order.SendCur, order.SendCount, order.GetCur, order.GetCount, order.GetAddr, order.AuthHash)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

// RemoveOrder deletes an order row.
func (s *SQLite) RemoveOrder(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM orders WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete order: %w", err)
	}
	return nil
}

// AppendTrade inserts the trade and removes the consumed order in one
// transaction.
func (s *SQLite) AppendTrade(ctx context.Context, trade *models.Trade) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM orders WHERE id = ?", trade.Order.ID); err != nil {
		return fmt.Errorf("failed to delete consumed order: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO trades (id, order_id, send_cur, send_count, get_cur,
		get_count, get_address, order_hash, initiator_address, secret_hash, contract_initiator,
		contract_participant, initiator_contract_tx, participant_contract_tx, initiator_redemption_tx,
		participant_redemption_tx, initiator_commission_paid, participant_commission_paid,
		refunded_init, refunded_part, refund_time_init, refund_time_part, hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		trade.ID, trade.Order.ID, trade.Order.SendCur, trade.Order.SendCount, trade.Order.GetCur,
		trade.Order.GetCount, trade.Order.GetAddr, trade.Order.AuthHash,
		trade.InitiatorAddr, trade.SecretHash, trade.ContractInitiator, trade.ContractParticipant,
		trade.InitiatorContractTransaction, trade.ParticipantContractTransaction,
		trade.InitiatorRedemptionTransaction, trade.ParticipantRedemptionTransaction,
		trade.InitiatorCommissionPaid, trade.ParticipantCommissionPaid,
		trade.RefundedInit, trade.RefundedPart, trade.RefundTimeInit, trade.RefundTimePart,
		trade.AuthHash); err != nil {
		return fmt.Errorf("failed to insert trade: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// UpdateTrade overwrites the mutable trade columns.
func (s *SQLite) UpdateTrade(ctx context.Context, trade *models.Trade) error {
	_, err := s.db.ExecContext(ctx, `UPDATE trades SET secret_hash = ?, contract_initiator = ?,
		contract_participant = ?, initiator_contract_tx = ?, participant_contract_tx = ?,
		initiator_redemption_tx = ?, participant_redemption_tx = ?, initiator_commission_paid = ?,
		participant_commission_paid = ?, refunded_init = ?, refunded_part = ?,
		refund_time_init = ?, refund_time_part = ? WHERE id = ?`,
		trade.SecretHash, trade.ContractInitiator, trade.ContractParticipant,
		trade.InitiatorContractTransaction, trade.ParticipantContractTransaction,
		trade.InitiatorRedemptionTransaction, trade.ParticipantRedemptionTransaction,
		trade.InitiatorCommissionPaid, trade.ParticipantCommissionPaid,
		trade.RefundedInit, trade.RefundedPart, trade.RefundTimeInit, trade.RefundTimePart, trade.ID)
	if err != nil {
		return fmt.Errorf("failed to update trade: %w", err)
	}
	return nil
}

// AppendBlacklist inserts a blacklisted IP; duplicates are ignored.
func (s *SQLite) AppendBlacklist(ctx context.Context, ip string) error {
	_, err := s.db.ExecContext(ctx, "INSERT OR IGNORE INTO black_list (ip) VALUES (?)", ip)
	if err != nil {
		return fmt.Errorf("failed to insert blacklist entry: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLite) Close(ctx context.Context) error {
	return s.db.Close()
}
