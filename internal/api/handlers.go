// Package api serves the read-only operational HTTP endpoints.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/atomicswap/atomengine/internal/server"

	"github.com/go-chi/chi/v5"
)

// Handler exposes server state to operators.
type Handler struct {
	Server *server.Server
}

// NewHandler creates a new handler over the relay server.
func NewHandler(srv *server.Server) *Handler {
	return &Handler{Server: srv}
}

// Router builds the status routes.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Get("/status", h.GetStatus)
	r.Get("/orders", h.GetOrders)
	r.Get("/trades", h.GetTrades)
	return r
}

// GetStatus reports connection, order, trade, and address counts.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.Server.Status())
}

// GetOrders returns the live order set.
func (h *Handler) GetOrders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.Server.Orders())
}

// GetTrades returns the live trade set.
func (h *Handler) GetTrades(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.Server.Trades())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}
