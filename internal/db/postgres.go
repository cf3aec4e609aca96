package db

import (
	"context"
	"fmt"

	"github.com/atomicswap/atomengine/internal/models"

	"github.com/jackc/pgx/v5/pgxpool"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS orders (
    id BIGINT PRIMARY KEY,
    send_cur TEXT NOT NULL,
    send_count BIGINT NOT NULL,
    get_cur TEXT NOT NULL,
    get_count BIGINT NOT NULL,
    get_address TEXT NOT NULL,
    hash TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS trades (
    id BIGINT PRIMARY KEY,
    order_id BIGINT NOT NULL,
    send_cur TEXT NOT NULL,
    send_count BIGINT NOT NULL,
    get_cur TEXT NOT NULL,
    get_count BIGINT NOT NULL,
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
    initiator_commission_paid BOOLEAN NOT NULL DEFAULT FALSE,
    participant_commission_paid BOOLEAN NOT NULL DEFAULT FALSE,
    refunded_init BOOLEAN NOT NULL DEFAULT FALSE,
    refunded_part BOOLEAN NOT NULL DEFAULT FALSE,
    refund_time_init BIGINT NOT NULL DEFAULT 0,
    refund_time_part BIGINT NOT NULL DEFAULT 0,
    hash TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS black_list (
    ip TEXT PRIMARY KEY
);`

// Postgres is the relational backend on a pgx connection pool.
type Postgres struct {
	Pool *pgxpool.Pool
}

// NewPostgres connects and ensures the schema exists.
func NewPostgres(ctx context.Context, connString string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}
	return &Postgres{Pool: pool}, nil
}

// Load reads the full order, trade, and blacklist sets.
func (p *Postgres) Load(ctx context.Context) (*Snapshot, error) {
	snap := NewSnapshot()

	rows, err := p.Pool.Query(ctx,
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

	tradeRows, err := p.Pool.Query(ctx, `SELECT id, order_id, send_cur, send_count, get_cur, get_count,
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

	blRows, err := p.Pool.Query(ctx, "SELECT ip FROM black_list")
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
func (p *Postgres) AppendOrder(ctx context.Context, order *models.Order) error {
	_, err := p.Pool.Exec(ctx,
		"INSERT INTO orders (id, send_cur, send_count, get_cur, get_count, get_address, hash) VALUES ($1, $2, $3, $4, $5, $6, $7)",
		order.ID, order.SendCur, order.SendCount, order.GetCur, order.GetCount, order.GetAddr, order.AuthHash)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

// RemoveOrder deletes an order row.
func (p *Postgres) RemoveOrder(ctx context.Context, id int64) error {
	if _, err := p.Pool.Exec(ctx, "DELETE FROM orders WHERE id = $1", id); err != nil {
		return fmt.Errorf("failed to delete order: %w", err)
	}
	return nil
}

// AppendTrade inserts the trade and removes the consumed order in one
// transaction.
func (p *Postgres) AppendTrade(ctx context.Context, trade *models.Trade) error {
	tx, err := p.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM orders WHERE id = $1", trade.Order.ID); err != nil {
		return fmt.Errorf("failed to delete consumed order: %w", err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO trades (id, order_id, send_cur, send_count, get_cur, get_count,
		get_address, order_hash, initiator_address, secret_hash, contract_initiator, contract_participant,
		initiator_contract_tx, participant_contract_tx, initiator_redemption_tx, participant_redemption_tx,
		initiator_commission_paid, participant_commission_paid, refunded_init, refunded_part,
		refund_time_init, refund_time_part, hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`,
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
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// UpdateTrade overwrites the mutable trade columns.
func (p *Postgres) UpdateTrade(ctx context.Context, trade *models.Trade) error {
	_, err := p.Pool.Exec(ctx, `UPDATE trades SET secret_hash = $1, contract_initiator = $2,
		contract_participant = $3, initiator_contract_tx = $4, participant_contract_tx = $5,
		initiator_redemption_tx = $6, participant_redemption_tx = $7, initiator_commission_paid = $8,
		participant_commission_paid = $9, refunded_init = $10, refunded_part = $11,
		refund_time_init = $12, refund_time_part = $13 WHERE id = $14`,
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
func (p *Postgres) AppendBlacklist(ctx context.Context, ip string) error {
	_, err := p.Pool.Exec(ctx, "INSERT INTO black_list (ip) VALUES ($1) ON CONFLICT DO NOTHING", ip)
	if err != nil {
		return fmt.Errorf("failed to insert blacklist entry: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (p *Postgres) Close(ctx context.Context) error {
	p.Pool.Close()
	return nil
}
