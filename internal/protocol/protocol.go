// Package protocol implements the newline-delimited JSON wire protocol:
// framing of raw byte chunks into complete records, and the request/reply
// message shapes exchanged with clients.
package protocol

import (
	"bytes"
	"encoding/json"

	"github.com/atomicswap/atomengine/internal/models"
)

// Reply type identifiers, carried in the "reply" field of every
// server-to-client message.
const (
	ReplyInitSuccess        = "init_success"
	ReplyCommissionSuccess  = "request_swap_commission_success"
	ReplyCreateOrderSuccess = "create_order_success"
	ReplyCreateOrder        = "create_order"
	ReplyDeleteOrderSuccess = "delete_order_success"
	ReplyDeleteOrder        = "delete_order"
	ReplyCreateTradeSuccess = "create_trade_success"
	ReplyCreateTrade        = "create_trade"
	ReplyCreateTradeFailed  = "create_trade_failed"
	ReplyUpdateTradeSuccess = "update_trade_success"
	ReplyUpdateTrade        = "update_trade"
	ReplyUserConnected      = "user_connected"
	ReplyUserDisconnected   = "user_disconnected"
)

// Command identifiers accepted from clients.
const (
	CmdInit           = "init"
	CmdSwapCommission = "request_swap_commission"
	CmdCreateOrder    = "create_order"
	CmdDeleteOrder    = "delete_order"
	CmdCreateTrade    = "create_trade"
	CmdUpdateTrade    = "update_trade"
)

// ExtractRecords splits buf at its last newline. Everything before that
// point is returned as complete records (empty records dropped); the
// remainder after the last newline is returned as the new buffer content.
// Without a newline nothing is emitted and the whole buffer carries over.
func ExtractRecords(buf []byte) (records [][]byte, rest []byte) {
	pos := bytes.LastIndexByte(buf, '\n')
	if pos < 0 {
		return nil, buf
	}
	for _, rec := range bytes.Split(buf[:pos], []byte{'\n'}) {
		if len(rec) == 0 {
			continue
		}
		records = append(records, rec)
	}
	return records, buf[pos+1:]
}

// CurrencyAddrs is one entry of the "curs" array in init and
// request_swap_commission payloads.
type CurrencyAddrs struct {
	Addrs []string `json:"addrs"`
}

// Request is the union of all client command payloads. Which fields are
// meaningful depends on Command; the rest stay at their zero values.
type Request struct {
	Command string              `json:"command"`
	Curs    []CurrencyAddrs     `json:"curs"`
	Order   *models.OrderSpec   `json:"order"`
	ID      int64               `json:"id"`
	OrderID int64               `json:"orderId"`
	Address string              `json:"address"`
	Key     string              `json:"key"`
	Trade   *models.TradeUpdate `json:"trade"`
}

// DecodeRequest parses one record. Malformed or non-object payloads return
// ok=false and are dropped by the caller without any reply.
func DecodeRequest(rec []byte) (*Request, bool) {
	var req Request
	if err := json.Unmarshal(rec, &req); err != nil {
		return nil, false
	}
	return &req, true
}

// InitSuccess answers an init command: the full live order set, the trades
// involving any address the client just registered, and the current address
// registry. isActual is a protocol relic kept for client compatibility.
type InitSuccess struct {
	Reply       string          `json:"reply"`
	IsActual    bool            `json:"isActual"`
	Orders      []*models.Order `json:"orders"`
	Trades      []*models.Trade `json:"trades"`
	Commissions []any           `json:"commissions"`
	Addrs       []string        `json:"addrs"`
}

// CommissionReply answers request_swap_commission. The commission list is
// always empty.
type CommissionReply struct {
	Reply       string `json:"reply"`
	Commissions []any  `json:"commissions"`
}

// OrderReply carries a full order, for create_order_success and the
// create_order broadcast.
type OrderReply struct {
	Reply string        `json:"reply"`
	Order *models.Order `json:"order"`
}

// OrderIDReply carries just an order id, for delete_order acks and
// broadcasts.
type OrderIDReply struct {
	Reply string `json:"reply"`
	ID    int64  `json:"id"`
}

// TradeReply carries a full trade snapshot, for create_trade and
// update_trade notices.
type TradeReply struct {
	Reply string        `json:"reply"`
	Trade *models.Trade `json:"trade"`
}

// TradeFailedReply reports a failed create_trade. The misspelled field name
// is part of the wire contract.
type TradeFailedReply struct {
	Reply  string `json:"reply"`
	Reason string `json:"reasone"`
}

// AckReply is a bare acknowledgment, used by update_trade_success.
type AckReply struct {
	Reply string `json:"reply"`
}

// AddrsReply carries an address list, for user_connected (the full current
// registry) and user_disconnected (the departing connection's addresses).
type AddrsReply struct {
	Reply string   `json:"reply"`
	Addrs []string `json:"addrs"`
}

// Encode marshals a reply and appends the terminating newline.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
