// Package exchange holds the authoritative in-memory order and trade state.
// Orders are standing offers; creating a trade consumes its order exactly
// once. Mutations are written through the persistence gateway as an audit
// trail: a write failure is logged but never rolls back memory.
package exchange

import (
	"context"
	"sort"

	"github.com/atomicswap/atomengine/internal/auth"
	"github.com/atomicswap/atomengine/internal/db"
	"github.com/atomicswap/atomengine/internal/models"

	"github.com/sirupsen/logrus"
)

// Exchange is the live order/trade store. It is not safe for concurrent
// use: the session manager serializes every command, which is also what
// makes CreateTrade's lookup-and-remove atomic.
type Exchange struct {
	store  db.Store
	hasher auth.Hasher
	log    *logrus.Logger

	orders     map[int64]*models.Order
	trades     map[int64]*models.Trade
	curOrderID int64
	curTradeID int64
}

// New creates an empty exchange writing through store.
func New(store db.Store, hasher auth.Hasher, log *logrus.Logger) *Exchange {
	return &Exchange{
		store:  store,
		hasher: hasher,
		log:    log,
		orders: make(map[int64]*models.Order),
		trades: make(map[int64]*models.Trade),
	}
}

// Restore installs a startup snapshot. Id sequences continue after the
// highest loaded id, so replayed entities keep their numbers and new ones
// never collide.
func (e *Exchange) Restore(snap *db.Snapshot) {
	for id, order := range snap.Orders {
		e.orders[id] = order
		if id > e.curOrderID {
			e.curOrderID = id
		}
	}
	for id, trade := range snap.Trades {
		e.trades[id] = trade
		if id > e.curTradeID {
			e.curTradeID = id
		}
		if trade.Order != nil && trade.Order.ID > e.curOrderID {
			e.curOrderID = trade.Order.ID
		}
	}
}

// CreateOrder assigns the next order id and inserts the order. Fields are
// trusted verbatim; an empty secret leaves the order unrestricted. Always
// succeeds.
func (e *Exchange) CreateOrder(ctx context.Context, secret string, spec models.OrderSpec) *models.Order {
	e.curOrderID++
	order := &models.Order{
		ID:        e.curOrderID,
		SendCur:   spec.SendCur,
		SendCount: spec.SendCount,
		GetCur:    spec.GetCur,
		GetCount:  spec.GetCount,
		GetAddr:   spec.GetAddr,
		AuthHash:  auth.HashSecret(e.hasher, secret),
	}
	e.orders[order.ID] = order
	if err := e.store.AppendOrder(ctx, order); err != nil {
		e.log.WithError(err).WithField("order", order.ID).Error("failed to persist order")
	}
	return order
}

// DeleteOrder removes the order iff it exists and the secret authorizes it.
func (e *Exchange) DeleteOrder(ctx context.Context, secret string, id int64) bool {
	order, ok := e.orders[id]
	if !ok || !auth.Verify(e.hasher, order.AuthHash, secret) {
		return false
	}
	delete(e.orders, id)
	if err := e.store.RemoveOrder(ctx, id); err != nil {
		e.log.WithError(err).WithField("order", id).Error("failed to persist order deletion")
	}
	return true
}

// CreateTrade consumes the order into a new trade. Any caller may consume
// any existing order; the order's own secret is irrelevant here. Returns
// nil when the order does not exist (already consumed or deleted). The
// lookup-and-remove is indivisible relative to all other commands, so the
// same order can never be consumed twice.
func (e *Exchange) CreateTrade(ctx context.Context, secret string, orderID int64, initiatorAddr string) *models.Trade {
	order, ok := e.orders[orderID]
	if !ok {
		return nil
	}
	delete(e.orders, orderID)
	e.curTradeID++
	trade := &models.Trade{
		ID:            e.curTradeID,
		Order:         order,
		InitiatorAddr: initiatorAddr,
		AuthHash:      auth.HashSecret(e.hasher, secret),
	}
	e.trades[trade.ID] = trade
	if err := e.store.AppendTrade(ctx, trade); err != nil {
		e.log.WithError(err).WithField("trade", trade.ID).Error("failed to persist trade")
	}
	return trade
}

// UpdateTrade applies a patch to an existing trade. Either party may
// update: the secret is checked against the trade's own hash and the
// consumed order's hash. Returns nil on lookup or authorization failure;
// callers cannot distinguish the two.
func (e *Exchange) UpdateTrade(ctx context.Context, secret string, patch *models.TradeUpdate) *models.Trade {
	if patch == nil {
		return nil
	}
	trade, ok := e.trades[patch.ID]
	if !ok {
		return nil
	}
	if !auth.Verify(e.hasher, trade.AuthHash, secret) && !auth.Verify(e.hasher, trade.Order.AuthHash, secret) {
		return nil
	}

	trade.SecretHash = patch.SecretHash
	trade.ContractInitiator = patch.ContractInitiator
	trade.ContractParticipant = patch.ContractParticipant
	trade.InitiatorContractTransaction = patch.InitiatorContractTransaction
	trade.ParticipantContractTransaction = patch.ParticipantContractTransaction
	trade.InitiatorRedemptionTransaction = patch.InitiatorRedemptionTransaction
	trade.ParticipantRedemptionTransaction = patch.ParticipantRedemptionTransaction

	// Commission flags are write-once-true.
	if !trade.InitiatorCommissionPaid {
		trade.InitiatorCommissionPaid = patch.CommissionInitiatorPaid
	}
	if !trade.ParticipantCommissionPaid {
		trade.ParticipantCommissionPaid = patch.CommissionParticipantPaid
	}

	// Refund fields apply only when the key was present in the payload.
	if patch.RefundedInit != nil {
		trade.RefundedInit = *patch.RefundedInit
	}
	if patch.RefundedPart != nil {
		trade.RefundedPart = *patch.RefundedPart
	}
	if patch.RefundTimeInit != nil {
		trade.RefundTimeInit = *patch.RefundTimeInit
	}
	if patch.RefundTimePart != nil {
		trade.RefundTimePart = *patch.RefundTimePart
	}

	if err := e.store.UpdateTrade(ctx, trade); err != nil {
		e.log.WithError(err).WithField("trade", trade.ID).Error("failed to persist trade update")
	}
	return trade
}

// Orders returns the live order set sorted by id. Never nil, so it
// serializes as an empty JSON array.
func (e *Exchange) Orders() []*models.Order {
	orders := make([]*models.Order, 0, len(e.orders))
	for _, order := range e.orders {
		orders = append(orders, order)
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })
	return orders
}

// Trades returns the live trade set sorted by id. Never nil.
func (e *Exchange) Trades() []*models.Trade {
	trades := make([]*models.Trade, 0, len(e.trades))
	for _, trade := range e.trades {
		trades = append(trades, trade)
	}
	sort.Slice(trades, func(i, j int) bool { return trades[i].ID < trades[j].ID })
	return trades
}

// TradesFor returns the trades where either party's address is in addrs,
// sorted by id. Used to resync a client on init.
func (e *Exchange) TradesFor(addrs map[string]bool) []*models.Trade {
	trades := make([]*models.Trade, 0)
	for _, trade := range e.trades {
		if addrs[trade.Order.GetAddr] || addrs[trade.InitiatorAddr] {
			trades = append(trades, trade)
		}
	}
	sort.Slice(trades, func(i, j int) bool { return trades[i].ID < trades[j].ID })
	return trades
}
