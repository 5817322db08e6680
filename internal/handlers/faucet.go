package handlers

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/benvon/testnet-faucet/internal/faucet"
	"github.com/benvon/testnet-faucet/internal/models"
	"github.com/benvon/testnet-faucet/internal/request"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// FaucetService runs faucet requests. *faucet.Controller implements it.
type FaucetService interface {
	Request(ctx context.Context, ip, address string) (models.LogEntry, error)
	Status(ctx context.Context) (faucet.Status, error)
}

var _ FaucetService = (*faucet.Controller)(nil)

// FaucetHandler serves the public dispensing endpoint
type FaucetHandler struct {
	svc FaucetService
	log *zap.Logger
	now func() time.Time
}

// NewFaucetHandler creates a new faucet handler
func NewFaucetHandler(svc FaucetService, log *zap.Logger) *FaucetHandler {
	return &FaucetHandler{svc: svc, log: log, now: time.Now}
}

// RegisterRoutes registers faucet routes. The router should already carry the /faucet prefix.
func (h *FaucetHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("", h.RequestTokens).Methods(http.MethodPost)
	r.HandleFunc("", h.Status).Methods(http.MethodGet)
}

// FaucetRequest is the POST body
type FaucetRequest struct {
	Address string `json:"address"`
}

// FaucetResponse is returned for a successful disbursement
type FaucetResponse struct {
	Success              bool    `json:"success"`
	ID                   string  `json:"id"`
	Address              string  `json:"address"`
	Amount               float64 `json:"amount"`
	Timestamp            string  `json:"timestamp"`
	TransactionReference string  `json:"transactionReference"`
}

// RateLimitedResponse is returned with 429
type RateLimitedResponse struct {
	Error      string `json:"error"`
	RetryAfter string `json:"retryAfter"`
}

// StatusResponse describes the faucet's live policy
type StatusResponse struct {
	Status       string          `json:"status"`
	RateLimit    RateLimitStatus `json:"rateLimit"`
	FaucetAmount float64         `json:"faucetAmount"`
	TotalLogged  int             `json:"totalLogged"`
}

// RateLimitStatus is the per-window cap
type RateLimitStatus struct {
	MaxRequests int   `json:"maxRequests"`
	WindowMs    int64 `json:"windowMs"`
}

// MaxFaucetBodyBytes caps the POST body. The handler enforces it itself so that oversized
// requests are still recorded in the ledger.
const MaxFaucetBodyBytes int64 = 64 << 10

// RequestTokens handles POST /api/faucet. Every call, including unreadable ones, reaches the
// controller exactly once so it leaves exactly one ledger entry.
func (h *FaucetHandler) RequestTokens(w http.ResponseWriter, r *http.Request) {
	ip := request.ClientIP(r)

	if !isJSONBody(r) {
		h.recordUnreadable(r.Context(), ip)
		respondJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return
	}

	if r.Body != nil {
		r.Body = http.MaxBytesReader(w, r.Body, MaxFaucetBodyBytes)
	}
	var req FaucetRequest
	if err := decodeJSON(r, &req); err != nil {
		h.recordUnreadable(r.Context(), ip)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondJSONError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		respondJSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	entry, err := h.svc.Request(r.Context(), ip, req.Address)
	if err != nil {
		h.respondFailure(w, err)
		return
	}

	var amount float64
	if entry.Amount != nil {
		amount = *entry.Amount
	}
	respondJSON(w, http.StatusOK, FaucetResponse{
		Success:              true,
		ID:                   entry.ID,
		Address:              entry.Address,
		Amount:               amount,
		Timestamp:            entry.Timestamp.UTC().Format(time.RFC3339Nano),
		TransactionReference: entry.TxHash,
	})
}

// recordUnreadable logs a request whose body could not be read, under the unknown address
func (h *FaucetHandler) recordUnreadable(ctx context.Context, ip string) {
	_, _ = h.svc.Request(ctx, ip, "")
}

func (h *FaucetHandler) respondFailure(w http.ResponseWriter, err error) {
	var rl *faucet.RateLimitedError
	switch {
	case errors.Is(err, faucet.ErrInvalidAddress):
		respondJSONError(w, http.StatusBadRequest, "Invalid address format")
	case errors.Is(err, faucet.ErrBanned):
		respondJSONError(w, http.StatusForbidden, "You are banned from using the faucet.")
	case errors.As(err, &rl):
		wait := rl.RetryAfter.Sub(h.now())
		if wait < 0 {
			wait = 0
		}
		w.Header().Set("Retry-After", strconv.FormatInt(int64(math.Ceil(wait.Seconds())), 10))
		respondJSON(w, http.StatusTooManyRequests, RateLimitedResponse{
			Error:      fmt.Sprintf("Rate limit exceeded. Try again in %d min.", int64(math.Ceil(wait.Minutes()))),
			RetryAfter: rl.RetryAfter.UTC().Format(time.RFC3339Nano),
		})
	default:
		// detail lives in the ledger entry, not the response
		respondJSONError(w, http.StatusInternalServerError, "Failed to send tokens")
	}
}

// Status handles GET /api/faucet
func (h *FaucetHandler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Status(r.Context())
	if err != nil {
		h.log.Error("faucet_status_failed", zap.Error(err))
		respondJSONError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondJSON(w, http.StatusOK, StatusResponse{
		Status: "online",
		RateLimit: RateLimitStatus{
			MaxRequests: st.MaxRequests,
			WindowMs:    st.Window.Milliseconds(),
		},
		FaucetAmount: st.DisplayAmount,
		TotalLogged:  st.TotalLogged,
	})
}
