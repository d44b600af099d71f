// Package api provides the HTTP handlers for quoting, planning and
// executing settlements, and for reading balances, history and records.
//
// All monetary values use shopspring/decimal, never float64.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/fredfun/settlement-engine/internal/address"
	"github.com/fredfun/settlement-engine/internal/confirm"
	"github.com/fredfun/settlement-engine/internal/fee"
	"github.com/fredfun/settlement-engine/internal/funds"
	"github.com/fredfun/settlement-engine/internal/history"
	"github.com/fredfun/settlement-engine/internal/model"
	"github.com/fredfun/settlement-engine/internal/payment"
	"github.com/fredfun/settlement-engine/internal/settlement"
	"github.com/fredfun/settlement-engine/internal/store"
	"github.com/fredfun/settlement-engine/internal/swap"
	"github.com/fredfun/settlement-engine/internal/wallet"
)

const maxHistoryLimit = 100

// Handler serves the /api/v1 surface.
type Handler struct {
	payments     *payment.Service
	history      *history.Service
	prices       payment.Prices // optional
	wallet       wallet.Wallet
	historyLimit int
	log          *slog.Logger
}

// NewHandler creates the handler set. prices may be nil.
func NewHandler(p *payment.Service, h *history.Service, prices payment.Prices, w wallet.Wallet, historyLimit int) *Handler {
	if historyLimit <= 0 {
		historyLimit = 5
	}
	return &Handler{
		payments:     p,
		history:      h,
		prices:       prices,
		wallet:       w,
		historyLimit: historyLimit,
		log:          slog.With("component", "api"),
	}
}

// Routes mounts every endpoint on r. The WebSocket hub is optional.
func (h *Handler) Routes(r chi.Router, hub *WSHub) {
	r.Post("/fees/quote", h.QuoteFee)
	r.Post("/settlements/plan", h.PlanSettlement)
	r.Get("/settlements/{id}", h.GetSettlement)
	r.Post("/transfers", h.Transfer)
	r.Post("/swaps/quote", h.QuoteSwap)
	r.Post("/swaps", h.ExecuteSwap)

	r.Get("/accounts/{address}/balances", h.GetBalances)
	r.Get("/accounts/{address}/transactions", h.GetTransactions)
	r.Get("/accounts/{address}/settlements", h.ListSettlements)

	r.Get("/prices", h.GetPrices)

	r.Get("/wallet", h.GetWallet)
	r.Post("/wallet/connect", h.ConnectWallet)
	r.Post("/wallet/disconnect", h.DisconnectWallet)

	if hub != nil {
		r.Get("/ws", hub.HandleWS)
	}
}

// --- Request/Response types ---

// QuoteRequest is the JSON body for POST /fees/quote.
type QuoteRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Asset  model.AssetKind `json:"asset"` // BASE or TOKEN
}

// PlanRequest is the JSON body for POST /settlements/plan.
type PlanRequest struct {
	Sender    string          `json:"sender"`
	Recipient string          `json:"recipient"`
	Amount    decimal.Decimal `json:"amount"`
	Asset     model.AssetKind `json:"asset"`
}

// TransferRequest is the JSON body for POST /transfers. The connected
// wallet is the sender.
type TransferRequest struct {
	Recipient string          `json:"recipient"`
	Amount    decimal.Decimal `json:"amount"`
	Asset     model.AssetKind `json:"asset"`
}

// SettlementResponse is returned by the executing endpoints, including
// when a submitted settlement failed or timed out.
type SettlementResponse struct {
	Settlement *model.SettlementRecord `json:"settlement,omitempty"`
	Swap       *payment.SwapQuote      `json:"swap,omitempty"`
	Message    string                  `json:"message"`
	Error      string                  `json:"error,omitempty"`
}

// --- HTTP Handlers ---

// QuoteFee handles POST /api/v1/fees/quote
func (h *Handler) QuoteFee(w http.ResponseWriter, r *http.Request) {
	var req QuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Asset == "" {
		req.Asset = model.AssetBase
	}

	q, err := h.payments.QuoteTransfer(r.Context(), req.Amount, req.Asset)
	if err != nil {
		writeError(w, payment.Message(err), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// PlanSettlement handles POST /api/v1/settlements/plan
// Returns the operations a transfer would submit, without submitting.
func (h *Handler) PlanSettlement(w http.ResponseWriter, r *http.Request) {
	var req PlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Asset == "" {
		req.Asset = model.AssetBase
	}

	plan, err := h.payments.Plan(r.Context(), req.Sender, req.Recipient, req.Amount, req.Asset)
	if err != nil {
		writeError(w, payment.Message(err), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// Transfer handles POST /api/v1/transfers
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Recipient == "" {
		writeError(w, "recipient is required", http.StatusBadRequest)
		return
	}
	if req.Asset == "" {
		req.Asset = model.AssetBase
	}

	rec, err := h.payments.Transfer(r.Context(), req.Recipient, req.Amount, req.Asset)
	h.writeSettlement(w, rec, nil, err)
}

// QuoteSwap handles POST /api/v1/swaps/quote
func (h *Handler) QuoteSwap(w http.ResponseWriter, r *http.Request) {
	var req payment.SwapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	q, err := h.payments.QuoteSwap(r.Context(), req)
	if err != nil {
		writeError(w, payment.Message(err), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// ExecuteSwap handles POST /api/v1/swaps
func (h *Handler) ExecuteSwap(w http.ResponseWriter, r *http.Request) {
	var req payment.SwapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	rec, q, err := h.payments.ExecuteSwap(r.Context(), req)
	h.writeSettlement(w, rec, q, err)
}

// GetSettlement handles GET /api/v1/settlements/{id}
func (h *Handler) GetSettlement(w http.ResponseWriter, r *http.Request) {
	rec, err := h.payments.Settlement(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "settlement not found", http.StatusNotFound)
			return
		}
		writeError(w, "failed to load settlement", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ListSettlements handles GET /api/v1/accounts/{address}/settlements
func (h *Handler) ListSettlements(w http.ResponseWriter, r *http.Request) {
	acct := chi.URLParam(r, "address")
	if _, err := address.Parse(acct); err != nil {
		writeError(w, "invalid address", http.StatusBadRequest)
		return
	}
	limit, ok := parseLimit(w, r, store.DefaultPage)
	if !ok {
		return
	}

	recs, err := h.payments.Settlements(r.Context(), acct, limit)
	if err != nil {
		writeError(w, "failed to list settlements", http.StatusInternalServerError)
		return
	}
	if recs == nil {
		recs = []model.SettlementRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// GetBalances handles GET /api/v1/accounts/{address}/balances
func (h *Handler) GetBalances(w http.ResponseWriter, r *http.Request) {
	b, err := h.payments.Balances(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		if errors.Is(err, address.ErrInvalidAddress) {
			writeError(w, "invalid address", http.StatusBadRequest)
			return
		}
		h.log.Error("balance read failed", "error", err)
		writeError(w, "Failed to fetch balances", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// GetTransactions handles GET /api/v1/accounts/{address}/transactions
// Recent history with dust and spam flags.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	owner, err := address.Parse(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, "invalid address", http.StatusBadRequest)
		return
	}
	limit, ok := parseLimit(w, r, h.historyLimit)
	if !ok {
		return
	}

	txs, err := h.history.Recent(r.Context(), owner, limit)
	if err != nil {
		h.log.Error("history read failed", "error", err)
		writeError(w, "Failed to fetch transactions", http.StatusBadGateway)
		return
	}
	if txs == nil {
		txs = []model.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

// GetPrices handles GET /api/v1/prices
func (h *Handler) GetPrices(w http.ResponseWriter, r *http.Request) {
	if h.prices == nil {
		writeError(w, "prices are not configured", http.StatusNotImplemented)
		return
	}
	p, err := h.prices.Snapshot(r.Context())
	if err != nil && p.BaseUSD.IsZero() && p.TokenUSD.IsZero() {
		writeError(w, "Failed to fetch prices", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GetWallet handles GET /api/v1/wallet
func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	pk, err := h.wallet.PublicKey()
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"connected": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"connected": true, "public_key": pk.String()})
}

// ConnectWallet handles POST /api/v1/wallet/connect
func (h *Handler) ConnectWallet(w http.ResponseWriter, r *http.Request) {
	pk, err := h.wallet.Connect(r.Context())
	if err != nil {
		writeError(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"connected": true, "public_key": pk.String()})
}

// DisconnectWallet handles POST /api/v1/wallet/disconnect
func (h *Handler) DisconnectWallet(w http.ResponseWriter, r *http.Request) {
	if err := h.wallet.Disconnect(r.Context()); err != nil {
		writeError(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"connected": false})
}

// --- Helpers ---

// writeSettlement reports the outcome of an executing endpoint. A record
// is included whenever something reached the ledger.
func (h *Handler) writeSettlement(w http.ResponseWriter, rec *model.SettlementRecord, q *payment.SwapQuote, err error) {
	resp := SettlementResponse{Settlement: rec, Swap: q}
	status := http.StatusOK
	switch {
	case err == nil:
		resp.Message = "Transaction sent successfully!"
		if rec != nil && rec.PartialFailure {
			resp.Message = "Transaction sent; service fee collection failed"
		}
	default:
		resp.Message = payment.Message(err)
		resp.Error = err.Error()
		status = statusFor(err)
	}
	writeJSON(w, status, resp)
}

// statusFor maps the error taxonomy onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, fee.ErrInvalidAmount),
		errors.Is(err, fee.ErrBelowMinimumAmount),
		errors.Is(err, address.ErrInvalidRecipient),
		errors.Is(err, address.ErrInvalidAddress),
		errors.Is(err, settlement.ErrInvalidSender),
		errors.Is(err, settlement.ErrSelfTransfer),
		errors.Is(err, settlement.ErrZeroTransfer),
		errors.Is(err, payment.ErrUnsupportedAsset):
		return http.StatusBadRequest
	case errors.Is(err, funds.ErrInsufficientFunds),
		errors.Is(err, swap.ErrNoRoute):
		return http.StatusUnprocessableEntity
	case errors.Is(err, wallet.ErrUserRejectedSigning):
		return http.StatusForbidden
	case errors.Is(err, wallet.ErrNotConnected):
		return http.StatusConflict
	case errors.Is(err, confirm.ErrConfirmationTimeout):
		// Submitted but unresolved; the caller checks the handle later.
		return http.StatusAccepted
	case errors.Is(err, confirm.ErrSettlementFailed),
		errors.Is(err, swap.ErrUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, fee.ErrMissingPriceData):
		return http.StatusServiceUnavailable
	case errors.Is(err, payment.ErrSwapsDisabled):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func parseLimit(w http.ResponseWriter, r *http.Request, def int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > maxHistoryLimit {
		writeError(w, "limit must be between 1 and 100", http.StatusBadRequest)
		return 0, false
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
