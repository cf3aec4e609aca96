package exchange

import (
	"context"
	"io"
	"testing"

	"github.com/atomicswap/atomengine/internal/auth"
	"github.com/atomicswap/atomengine/internal/db"
	"github.com/atomicswap/atomengine/internal/models"

	"github.com/sirupsen/logrus"
)

func newTestExchange() (*Exchange, *db.Mem) {
	store := db.NewMem()
	log := logrus.New()
	log.SetOutput(io.Discard)
	return New(store, auth.SHA3{}, log), store
}

func sampleSpec(getAddr string) models.OrderSpec {
	return models.OrderSpec{
		SendCur:   "BTC",
		SendCount: 100000,
		GetCur:    "LTC",
		GetCount:  20000000,
		GetAddr:   getAddr,
	}
}

func TestCreateOrderIDs(t *testing.T) {
	e, store := newTestExchange()
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		order := e.CreateOrder(ctx, "", sampleSpec("addr"))
		if order.ID != want {
			t.Fatalf("expected order id %d, got %d", want, order.ID)
		}
	}

	// Deleting never frees an id for reuse.
	if !e.DeleteOrder(ctx, "", 2) {
		t.Fatal("expected delete to succeed")
	}
	if order := e.CreateOrder(ctx, "", sampleSpec("addr")); order.ID != 4 {
		t.Errorf("expected order id 4 after delete, got %d", order.ID)
	}

	snap, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if len(snap.Orders) != 3 {
		t.Errorf("expected 3 persisted orders, got %d", len(snap.Orders))
	}
}

func TestDeleteOrderAuth(t *testing.T) {
	e, _ := newTestExchange()
	ctx := context.Background()

	open := e.CreateOrder(ctx, "", sampleSpec("addr"))
	locked := e.CreateOrder(ctx, "letmein", sampleSpec("addr"))

	tests := []struct {
		name   string
		id     int64
		secret string
		want   bool
	}{
		{name: "MissingOrder", id: 99, secret: "", want: false},
		{name: "LockedWrongSecret", id: locked.ID, secret: "nope", want: false},
		{name: "LockedEmptySecret", id: locked.ID, secret: "", want: false},
		{name: "OpenAnySecret", id: open.ID, secret: "whatever", want: true},
		{name: "LockedRightSecret", id: locked.ID, secret: "letmein", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.DeleteOrder(ctx, tt.secret, tt.id); got != tt.want {
				t.Errorf("DeleteOrder(%q, %d) = %v, expected %v", tt.secret, tt.id, got, tt.want)
			}
		})
	}
}

func TestCreateTradeConsumesOrderOnce(t *testing.T) {
	e, _ := newTestExchange()
	ctx := context.Background()

	order := e.CreateOrder(ctx, "ownersecret", sampleSpec("owner-addr"))

	// The order's secret does not gate consumption.
	trade := e.CreateTrade(ctx, "initsecret", order.ID, "init-addr")
	if trade == nil {
		t.Fatal("expected trade to be created")
	}
	if trade.ID != 1 {
		t.Errorf("expected trade id 1, got %d", trade.ID)
	}
	if trade.Order == nil || trade.Order.ID != order.ID {
		t.Error("expected trade to embed the consumed order")
	}
	if trade.InitiatorAddr != "init-addr" {
		t.Errorf("unexpected initiator address %q", trade.InitiatorAddr)
	}
	if len(e.Orders()) != 0 {
		t.Error("expected order to be consumed")
	}

	if again := e.CreateTrade(ctx, "initsecret", order.ID, "other-addr"); again != nil {
		t.Error("expected second consumption to fail")
	}
	if missing := e.CreateTrade(ctx, "", 99, "addr"); missing != nil {
		t.Error("expected trade on missing order to fail")
	}
}

func TestTradeIDSequenceIndependent(t *testing.T) {
	e, _ := newTestExchange()
	ctx := context.Background()

	o1 := e.CreateOrder(ctx, "", sampleSpec("a"))
	o2 := e.CreateOrder(ctx, "", sampleSpec("b"))
	o3 := e.CreateOrder(ctx, "", sampleSpec("c"))

	if trade := e.CreateTrade(ctx, "", o2.ID, "x"); trade.ID != 1 {
		t.Errorf("expected trade id 1, got %d", trade.ID)
	}
	if trade := e.CreateTrade(ctx, "", o1.ID, "y"); trade.ID != 2 {
		t.Errorf("expected trade id 2, got %d", trade.ID)
	}
	if trade := e.CreateTrade(ctx, "", o3.ID, "z"); trade.ID != 3 {
		t.Errorf("expected trade id 3, got %d", trade.ID)
	}
}

func TestUpdateTradeAuth(t *testing.T) {
	e, _ := newTestExchange()
	ctx := context.Background()

	order := e.CreateOrder(ctx, "ownersecret", sampleSpec("owner-addr"))
	trade := e.CreateTrade(ctx, "initsecret", order.ID, "init-addr")

	patch := &models.TradeUpdate{ID: trade.ID, SecretHash: "deadbeef"}

	if got := e.UpdateTrade(ctx, "wrong", patch); got != nil {
		t.Error("expected wrong secret to be rejected")
	}
	if got := e.UpdateTrade(ctx, "", patch); got != nil {
		t.Error("expected empty secret to be rejected")
	}
	if got := e.UpdateTrade(ctx, "initsecret", patch); got == nil {
		t.Error("expected the trade's own secret to authorize")
	}
	// The consumed order's secret works too, so both parties can update.
	if got := e.UpdateTrade(ctx, "ownersecret", patch); got == nil {
		t.Error("expected the order's secret to authorize")
	}
	if got := e.UpdateTrade(ctx, "initsecret", &models.TradeUpdate{ID: 99}); got != nil {
		t.Error("expected missing trade to return nil")
	}
	if got := e.UpdateTrade(ctx, "initsecret", nil); got != nil {
		t.Error("expected nil patch to return nil")
	}
}

func TestUpdateTradeCommissionWriteOnce(t *testing.T) {
	e, _ := newTestExchange()
	ctx := context.Background()

	order := e.CreateOrder(ctx, "", sampleSpec("owner-addr"))
	trade := e.CreateTrade(ctx, "s", order.ID, "init-addr")

	got := e.UpdateTrade(ctx, "s", &models.TradeUpdate{ID: trade.ID, CommissionInitiatorPaid: true})
	if got == nil || !got.InitiatorCommissionPaid {
		t.Fatal("expected initiator commission flag to be set")
	}

	// A later patch with the flag absent (false) never clears it.
	got = e.UpdateTrade(ctx, "s", &models.TradeUpdate{ID: trade.ID, CommissionParticipantPaid: true})
	if got == nil || !got.InitiatorCommissionPaid || !got.ParticipantCommissionPaid {
		t.Error("expected both commission flags to stay set")
	}
}

func TestUpdateTradeRefundFields(t *testing.T) {
	e, _ := newTestExchange()
	ctx := context.Background()

	order := e.CreateOrder(ctx, "", sampleSpec("owner-addr"))
	trade := e.CreateTrade(ctx, "s", order.ID, "init-addr")

	refunded := true
	refundTime := int64(1700000000)
	got := e.UpdateTrade(ctx, "s", &models.TradeUpdate{
		ID:             trade.ID,
		RefundedInit:   &refunded,
		RefundTimeInit: &refundTime,
	})
	if got == nil {
		t.Fatal("expected update to succeed")
	}
	if !got.RefundedInit || got.RefundTimeInit != refundTime {
		t.Error("expected present refund fields to apply")
	}
	if got.RefundedPart || got.RefundTimePart != 0 {
		t.Error("expected absent refund fields to stay zero")
	}

	// Absent keys leave earlier values alone.
	got = e.UpdateTrade(ctx, "s", &models.TradeUpdate{ID: trade.ID})
	if !got.RefundedInit || got.RefundTimeInit != refundTime {
		t.Error("expected refund fields to survive a patch without them")
	}
}

func TestUpdateTradeStringsOverwrite(t *testing.T) {
	e, _ := newTestExchange()
	ctx := context.Background()

	order := e.CreateOrder(ctx, "", sampleSpec("owner-addr"))
	trade := e.CreateTrade(ctx, "s", order.ID, "init-addr")

	e.UpdateTrade(ctx, "s", &models.TradeUpdate{ID: trade.ID, ContractInitiator: "contract-hex"})
	got := e.UpdateTrade(ctx, "s", &models.TradeUpdate{ID: trade.ID, SecretHash: "deadbeef"})
	if got.SecretHash != "deadbeef" {
		t.Errorf("expected secret hash to be set, got %q", got.SecretHash)
	}
	// String fields mirror the patch verbatim, including empties.
	if got.ContractInitiator != "" {
		t.Errorf("expected contract to be cleared by the second patch, got %q", got.ContractInitiator)
	}
}

func TestRestoreContinuesSequences(t *testing.T) {
	e, _ := newTestExchange()
	ctx := context.Background()

	snap := db.NewSnapshot()
	snap.Orders[5] = &models.Order{ID: 5, GetAddr: "a"}
	snap.Trades[3] = &models.Trade{ID: 3, Order: &models.Order{ID: 7, GetAddr: "b"}, InitiatorAddr: "c"}
	e.Restore(snap)

	// Order ids continue past the highest seen anywhere, including orders
	// embedded in trades.
	if order := e.CreateOrder(ctx, "", sampleSpec("addr")); order.ID != 8 {
		t.Errorf("expected order id 8, got %d", order.ID)
	}
	if trade := e.CreateTrade(ctx, "", 5, "x"); trade == nil || trade.ID != 4 {
		t.Errorf("expected trade id 4, got %+v", trade)
	}
}

func TestTradesFor(t *testing.T) {
	e, _ := newTestExchange()
	ctx := context.Background()

	o1 := e.CreateOrder(ctx, "", sampleSpec("owner-a"))
	o2 := e.CreateOrder(ctx, "", sampleSpec("owner-b"))
	t1 := e.CreateTrade(ctx, "", o1.ID, "init-a")
	t2 := e.CreateTrade(ctx, "", o2.ID, "init-b")

	trades := e.TradesFor(map[string]bool{"owner-a": true})
	if len(trades) != 1 || trades[0].ID != t1.ID {
		t.Errorf("expected trade %d for owner-a, got %v", t1.ID, trades)
	}
	trades = e.TradesFor(map[string]bool{"init-b": true})
	if len(trades) != 1 || trades[0].ID != t2.ID {
		t.Errorf("expected trade %d for init-b, got %v", t2.ID, trades)
	}
	trades = e.TradesFor(map[string]bool{"stranger": true})
	if trades == nil || len(trades) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", trades)
	}
}
