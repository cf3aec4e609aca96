// Package server owns the live connection set and the command pipeline:
// inbound bytes are framed into records, decoded, gated by the abuse guard,
// applied to the exchange, persisted, and fanned out to the connections the
// routing rules select.
package server

import (
	"context"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/atomicswap/atomengine/internal/db"
	"github.com/atomicswap/atomengine/internal/exchange"
	"github.com/atomicswap/atomengine/internal/models"
	"github.com/atomicswap/atomengine/internal/protocol"
	"github.com/atomicswap/atomengine/internal/ratelimit"

	"github.com/sirupsen/logrus"
)

const (
	readBufferSize = 4096
	writeTimeout   = 10 * time.Second
)

// Config holds the transport parameters.
type Config struct {
	ListenAddr string
}

type conn struct {
	id int64
	nc net.Conn
	ip string
	// buf holds bytes received but not yet newline-terminated.
	buf []byte
}

// Server multiplexes client connections over one command pipeline. A single
// mutex serializes guard checks, store mutations, address registry updates,
// and fan-out: exactly one record is fully processed before the next is
// considered, which is what guarantees exactly-once order consumption.
type Server struct {
	cfg    Config
	log    *logrus.Logger
	engine *exchange.Exchange
	guard  *ratelimit.Guard
	store  db.Store

	ln net.Listener
	wg sync.WaitGroup

	mu         sync.Mutex
	conns      map[int64]*conn
	addrs      map[string]int64
	nextConnID int64
	closed     bool
}

// New builds a server over an already-restored exchange and guard.
func New(cfg Config, engine *exchange.Exchange, guard *ratelimit.Guard, store db.Store, log *logrus.Logger) *Server {
	return &Server{
		cfg:    cfg,
		log:    log,
		engine: engine,
		guard:  guard,
		store:  store,
		conns:  make(map[int64]*conn),
		addrs:  make(map[string]int64),
	}
}

// Listen binds the TCP listener.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.log.WithField("addr", ln.Addr().String()).Info("atom engine listening")
	return nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Serve accepts connections until the listener closes. Blacklisted sources
// are closed at accept time without reading a byte.
func (s *Server) Serve() error {
	for {
		nc, err := s.ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			return err
		}
		ip := peerIP(nc)

		s.mu.Lock()
		if s.guard.Blacklisted(ip) {
			s.mu.Unlock()
			nc.Close()
			continue
		}
		s.nextConnID++
		c := &conn{id: s.nextConnID, nc: nc, ip: ip}
		s.conns[c.id] = c
		active := len(s.conns)
		s.mu.Unlock()

		s.log.WithFields(logrus.Fields{"conn": c.id, "active": active}).Info("new connection")
		s.wg.Add(1)
		go s.readLoop(c)
	}
}

// ListenAndServe binds and serves.
func (s *Server) ListenAndServe() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Close stops the listener, closes every connection, and waits for the read
// loops to drain.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	ln := s.ln
	open := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		open = append(open, c)
	}
	s.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	for _, c := range open {
		c.nc.Close()
	}
	s.wg.Wait()
	return nil
}

func (s *Server) readLoop(c *conn) {
	defer s.wg.Done()
	buf := make([]byte, readBufferSize)
	for {
		n, err := c.nc.Read(buf)
		if n > 0 {
			if !s.ingest(c, buf[:n]) {
				return
			}
		}
		if err != nil {
			s.removeConn(c)
			return
		}
	}
}

// ingest runs the guard and the framer over one transport read and
// dispatches every complete record. Returns false when the connection was
// torn down (abuse or concurrent removal).
func (s *Server) ingest(c *conn, chunk []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conns[c.id]; !ok {
		return false
	}
	c.buf = append(c.buf, chunk...)

	switch s.guard.Admit(c.ip, len(c.buf)) {
	case ratelimit.Banned:
		s.closeConnLocked(c)
		return false
	case ratelimit.Oversized:
		s.log.WithFields(logrus.Fields{"conn": c.id, "ip": c.ip, "buffered": len(c.buf)}).Warn("request size ceiling exceeded, blacklisting")
		s.persistBlacklistLocked(c.ip)
		s.closeConnLocked(c)
		return false
	case ratelimit.RateExceeded:
		s.log.WithFields(logrus.Fields{"conn": c.id, "ip": c.ip}).Warn("rate limit exceeded, blacklisting")
		s.persistBlacklistLocked(c.ip)
		s.closeConnLocked(c)
		return false
	}

	records, rest := protocol.ExtractRecords(c.buf)
	c.buf = rest
	for _, rec := range records {
		s.dispatch(c, rec)
	}
	return true
}

func (s *Server) dispatch(c *conn, rec []byte) {
	s.log.WithField("conn", c.id).Info(string(rec))
	req, ok := protocol.DecodeRequest(rec)
	if !ok {
		// Malformed input gets no reply; the connection stays open.
		return
	}
	ctx := context.Background()
	switch req.Command {
	case protocol.CmdInit:
		s.handleInit(c, req)
	case protocol.CmdSwapCommission:
		s.handleSwapCommission(c, req)
	case protocol.CmdCreateOrder:
		s.handleCreateOrder(ctx, c, req)
	case protocol.CmdDeleteOrder:
		s.handleDeleteOrder(ctx, c, req)
	case protocol.CmdCreateTrade:
		s.handleCreateTrade(ctx, c, req)
	case protocol.CmdUpdateTrade:
		s.handleUpdateTrade(ctx, c, req)
	default:
		// Unknown commands are a silent no-op.
	}
}

func (s *Server) handleInit(c *conn, req *protocol.Request) {
	active := make(map[string]bool)
	for _, cur := range req.Curs {
		for _, addr := range cur.Addrs {
			s.addrs[addr] = c.id
			active[addr] = true
		}
	}
	s.send(c, &protocol.InitSuccess{
		Reply:       protocol.ReplyInitSuccess,
		IsActual:    true,
		Orders:      s.engine.Orders(),
		Trades:      s.engine.TradesFor(active),
		Commissions: []any{},
		Addrs:       s.registryLocked(),
	})
	s.broadcastLocked(map[int64]bool{c.id: true}, &protocol.AddrsReply{
		Reply: protocol.ReplyUserConnected,
		Addrs: s.registryLocked(),
	})
}

func (s *Server) handleSwapCommission(c *conn, req *protocol.Request) {
	for _, cur := range req.Curs {
		for _, addr := range cur.Addrs {
			s.addrs[addr] = c.id
		}
	}
	s.send(c, &protocol.CommissionReply{
		Reply:       protocol.ReplyCommissionSuccess,
		Commissions: []any{},
	})
}

func (s *Server) handleCreateOrder(ctx context.Context, c *conn, req *protocol.Request) {
	var spec models.OrderSpec
	if req.Order != nil {
		spec = *req.Order
	}
	order := s.engine.CreateOrder(ctx, req.Key, spec)
	_, wasKnown := s.addrs[order.GetAddr]

	s.send(c, &protocol.OrderReply{Reply: protocol.ReplyCreateOrderSuccess, Order: order})
	s.broadcastLocked(map[int64]bool{c.id: true}, &protocol.OrderReply{Reply: protocol.ReplyCreateOrder, Order: order})

	s.addrs[order.GetAddr] = c.id
	if !wasKnown {
		s.broadcastLocked(map[int64]bool{c.id: true}, &protocol.AddrsReply{
			Reply: protocol.ReplyUserConnected,
			Addrs: s.registryLocked(),
		})
	}
}

func (s *Server) handleDeleteOrder(ctx context.Context, c *conn, req *protocol.Request) {
	deleted := s.engine.DeleteOrder(ctx, req.Key, req.ID)
	// The ack is unconditional; only the broadcast reveals success.
	s.send(c, &protocol.OrderIDReply{Reply: protocol.ReplyDeleteOrderSuccess, ID: req.ID})
	if deleted {
		s.broadcastLocked(map[int64]bool{c.id: true}, &protocol.OrderIDReply{Reply: protocol.ReplyDeleteOrder, ID: req.ID})
	}
}

func (s *Server) handleCreateTrade(ctx context.Context, c *conn, req *protocol.Request) {
	s.addrs[req.Address] = c.id
	trade := s.engine.CreateTrade(ctx, req.Key, req.OrderID, req.Address)
	if trade == nil {
		s.send(c, &protocol.TradeFailedReply{Reply: protocol.ReplyCreateTradeFailed, Reason: "order out of date"})
		return
	}
	s.send(c, &protocol.TradeReply{Reply: protocol.ReplyCreateTradeSuccess, Trade: trade})

	// The order owner gets the trade; everyone else only learns the order
	// disappeared.
	except := map[int64]bool{c.id: true}
	if ownerID, ok := s.addrs[trade.Order.GetAddr]; ok {
		if owner, live := s.conns[ownerID]; live {
			except[ownerID] = true
			if ownerID != c.id {
				s.send(owner, &protocol.TradeReply{Reply: protocol.ReplyCreateTrade, Trade: trade})
			}
		}
	}
	s.broadcastLocked(except, &protocol.OrderIDReply{Reply: protocol.ReplyDeleteOrder, ID: trade.Order.ID})
}

func (s *Server) handleUpdateTrade(ctx context.Context, c *conn, req *protocol.Request) {
	// Acked before the outcome is known; preserved protocol behavior.
	s.send(c, &protocol.AckReply{Reply: protocol.ReplyUpdateTradeSuccess})
	trade := s.engine.UpdateTrade(ctx, req.Key, req.Trade)
	if trade == nil {
		return
	}
	ownerID, ownerKnown := s.addrs[trade.Order.GetAddr]
	initiatorID, initiatorKnown := s.addrs[trade.InitiatorAddr]
	if !ownerKnown || !initiatorKnown {
		return
	}
	target := ownerID
	if ownerID == c.id {
		target = initiatorID
	}
	if target == c.id {
		return
	}
	if tc, ok := s.conns[target]; ok {
		s.send(tc, &protocol.TradeReply{Reply: protocol.ReplyUpdateTrade, Trade: trade})
	}
}

// removeConn tears down a connection after a transport error. Idempotent.
func (s *Server) removeConn(c *conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conns[c.id]; !ok {
		return
	}
	s.closeConnLocked(c)
}

// closeConnLocked deregisters the connection's addresses, drops its abuse
// state, closes the socket, and announces the departure to everyone left.
func (s *Server) closeConnLocked(c *conn) {
	delete(s.conns, c.id)
	removed := make([]string, 0)
	for addr, id := range s.addrs {
		if id == c.id {
			delete(s.addrs, addr)
			removed = append(removed, addr)
		}
	}
	sort.Strings(removed)
	s.guard.Forget(c.ip)
	c.nc.Close()
	c.buf = nil

	s.log.WithFields(logrus.Fields{"conn": c.id, "active": len(s.conns)}).Info("client disconnected")
	s.broadcastLocked(nil, &protocol.AddrsReply{
		Reply: protocol.ReplyUserDisconnected,
		Addrs: removed,
	})
}

func (s *Server) persistBlacklistLocked(ip string) {
	if err := s.store.AppendBlacklist(context.Background(), ip); err != nil {
		s.log.WithError(err).WithField("ip", ip).Error("failed to persist blacklist entry")
	}
}

func (s *Server) registryLocked() []string {
	addrs := make([]string, 0, len(s.addrs))
	for addr := range s.addrs {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	return addrs
}

// send writes one reply to a single connection. Write failures are left to
// the connection's own read loop to surface; the command pipeline never
// fails because one peer stalled.
func (s *Server) send(c *conn, v any) {
	data, err := protocol.Encode(v)
	if err != nil {
		s.log.WithError(err).Error("failed to encode reply")
		return
	}
	c.nc.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := c.nc.Write(data); err != nil {
		s.log.WithError(err).WithField("conn", c.id).Debug("failed to write reply")
	}
}

// broadcastLocked sends one reply to every live connection not in except.
func (s *Server) broadcastLocked(except map[int64]bool, v any) {
	data, err := protocol.Encode(v)
	if err != nil {
		s.log.WithError(err).Error("failed to encode broadcast")
		return
	}
	for id, c := range s.conns {
		if except[id] {
			continue
		}
		c.nc.SetWriteDeadline(time.Now().Add(writeTimeout))
		if _, err := c.nc.Write(data); err != nil {
			s.log.WithError(err).WithField("conn", id).Debug("failed to write broadcast")
		}
	}
}

// Status is a point-in-time view for the operational endpoints.
type Status struct {
	Connections int `json:"connections"`
	Orders      int `json:"orders"`
	Trades      int `json:"trades"`
	Addresses   int `json:"addresses"`
}

// Status reports current counts.
func (s *Server) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Connections: len(s.conns),
		Orders:      len(s.engine.Orders()),
		Trades:      len(s.engine.Trades()),
		Addresses:   len(s.addrs),
	}
}

// Orders returns the live order set.
func (s *Server) Orders() []*models.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Orders()
}

// Trades returns the live trade set.
func (s *Server) Trades() []*models.Trade {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Trades()
}

func peerIP(nc net.Conn) string {
	host, _, err := net.SplitHostPort(nc.RemoteAddr().String())
	if err != nil {
		return nc.RemoteAddr().String()
	}
	return host
}
