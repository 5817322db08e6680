package handlers

import (
	"errors"
	"net/http"

	"github.com/benvon/testnet-faucet/internal/admin"
	"github.com/benvon/testnet-faucet/internal/models"
	"github.com/benvon/testnet-faucet/internal/validation"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// AdminSecretHeader carries the admin credential for requests without a body
const AdminSecretHeader = "X-Admin-Secret"

// AdminHandler serves the admin surface
type AdminHandler struct {
	svc *admin.Service
	log *zap.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(svc *admin.Service, log *zap.Logger) *AdminHandler {
	return &AdminHandler{svc: svc, log: log}
}

// RegisterRoutes registers admin routes. The router should already carry the /admin prefix.
func (h *AdminHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("", h.Overview).Methods(http.MethodGet)
	r.HandleFunc("", h.BanAction).Methods(http.MethodPost)
	r.HandleFunc("", h.Reset).Methods(http.MethodDelete)
	r.HandleFunc("/block", h.Block).Methods(http.MethodPost)
	r.HandleFunc("/stats", h.Stats).Methods(http.MethodGet)
	r.HandleFunc("/login", h.Login).Methods(http.MethodPost)
	r.HandleFunc("/reload", h.ReloadPolicy).Methods(http.MethodPost)
}

// AdminRequest is the body shared by admin mutations
type AdminRequest struct {
	Secret string `json:"secret"`
	IP     string `json:"ip,omitempty"`
	Wallet string `json:"wallet,omitempty"`
	Action string `json:"action,omitempty"`
}

// BansResponse is returned by ban mutations
type BansResponse struct {
	Success bool           `json:"success"`
	Bans    models.BanList `json:"bans"`
	Message string         `json:"message,omitempty"`
}

// MessageResponse is a plain acknowledgement
type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// PolicyResponse reports the policy in force after a reload
type PolicyResponse struct {
	Success     bool    `json:"success"`
	Changed     bool    `json:"changed"`
	MaxRequests int     `json:"maxRequests"`
	WindowMs    int64   `json:"windowMs"`
	Amount      float64 `json:"faucetAmount"`
}

// credential picks the admin secret from the header, the body or the query string, in that order
func credential(r *http.Request, body string) string {
	if v := r.Header.Get(AdminSecretHeader); v != "" {
		return v
	}
	if body != "" {
		return body
	}
	return r.URL.Query().Get("secret")
}

// authorize writes 403 and returns false when the credential does not match
func (h *AdminHandler) authorize(w http.ResponseWriter, r *http.Request, body string) bool {
	if err := h.svc.Authorize(credential(r, body)); err != nil {
		respondJSONError(w, http.StatusForbidden, "Unauthorized")
		return false
	}
	return true
}

// decodeAdminRequest parses the body and authorises it. It writes the error response itself.
func (h *AdminHandler) decodeAdminRequest(w http.ResponseWriter, r *http.Request) (AdminRequest, bool) {
	var req AdminRequest
	if err := decodeJSON(r, &req); err != nil {
		respondJSONError(w, http.StatusBadRequest, "Invalid request body")
		return req, false
	}
	if !h.authorize(w, r, req.Secret) {
		return req, false
	}
	req.IP = validation.SanitizeText(req.IP)
	req.Wallet = validation.SanitizeText(req.Wallet)
	return req, true
}

// Overview handles GET /api/admin
func (h *AdminHandler) Overview(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r, "") {
		return
	}
	overview, err := h.svc.Overview(r.Context())
	if err != nil {
		h.internalError(w, "admin_overview_failed", err)
		return
	}
	respondJSON(w, http.StatusOK, overview)
}

// BanAction handles POST /api/admin
func (h *AdminHandler) BanAction(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeAdminRequest(w, r)
	if !ok {
		return
	}
	list, err := h.svc.ApplyBanAction(r.Context(), req.IP, req.Wallet, req.Action)
	if err != nil {
		h.mutationError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, BansResponse{Success: true, Bans: list})
}

// Block handles POST /api/admin/block
func (h *AdminHandler) Block(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeAdminRequest(w, r)
	if !ok {
		return
	}
	list, err := h.svc.Block(r.Context(), req.IP, req.Wallet)
	if err != nil {
		h.mutationError(w, err)
		return
	}
	target := req.Wallet
	if target == "" {
		target = req.IP
	}
	respondJSON(w, http.StatusOK, BansResponse{Success: true, Bans: list, Message: "Blocked " + target})
}

// Reset handles DELETE /api/admin
func (h *AdminHandler) Reset(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.decodeAdminRequest(w, r); !ok {
		return
	}
	if err := h.svc.Reset(r.Context()); err != nil {
		h.internalError(w, "admin_reset_failed", err)
		return
	}
	respondJSON(w, http.StatusOK, MessageResponse{Success: true, Message: "Faucet data reset"})
}

// Stats handles GET /api/admin/stats
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r, "") {
		return
	}
	st, err := h.svc.Stats(r.Context())
	if err != nil {
		h.internalError(w, "admin_stats_failed", err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

// LoginRequest is the login body
type LoginRequest struct {
	Password string `json:"password"`
}

// Login handles POST /api/admin/login. It only verifies the password; no session is issued.
func (h *AdminHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		respondJSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.svc.Authorize(req.Password); err != nil {
		respondJSON(w, http.StatusUnauthorized, map[string]bool{"success": false})
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// ReloadPolicy handles POST /api/admin/reload
func (h *AdminHandler) ReloadPolicy(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.decodeAdminRequest(w, r); !ok {
		return
	}
	pol, changed, err := h.svc.ReloadPolicy(r.Context())
	switch {
	case errors.Is(err, admin.ErrReloadUnavailable):
		respondJSONError(w, http.StatusConflict, "Policy file not configured")
		return
	case err != nil:
		h.log.Warn("admin_policy_reload_failed", zap.Error(err))
		respondJSONError(w, http.StatusUnprocessableEntity, "Policy file rejected; previous policy kept")
		return
	}
	respondJSON(w, http.StatusOK, PolicyResponse{
		Success:     true,
		Changed:     changed,
		MaxRequests: pol.MaxRequests,
		WindowMs:    pol.Window.Milliseconds(),
		Amount:      pol.DisplayAmount(),
	})
}

func (h *AdminHandler) mutationError(w http.ResponseWriter, err error) {
	if errors.Is(err, admin.ErrInvalidAction) {
		respondJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.internalError(w, "admin_ban_update_failed", err)
}

func (h *AdminHandler) internalError(w http.ResponseWriter, event string, err error) {
	h.log.Error(event, zap.Error(err))
	respondJSONError(w, http.StatusInternalServerError, "Internal server error")
}
