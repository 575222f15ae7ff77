/**
 * @description
 * This file contains the HTTP handlers for the transfer-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, enforcing rate limits,
 * calling the appropriate methods on the application service, and mapping the
 * workflow's error taxonomy onto specific HTTP statuses so the UI can
 * distinguish "wrong code, retry the same stage" from dead ends.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - github.com/go-chi/chi/v5: URL parameter extraction.
 * - internal/app, internal/domain, internal/store: service logic, models, errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/scbank/transfer-service/internal/app"
	"github.com/scbank/transfer-service/internal/domain"
	"github.com/scbank/transfer-service/internal/store"
)

// TransferHandlers holds the application service and rate limiter used by the
// endpoint handlers.
type TransferHandlers struct {
	service *app.Service
	limiter app.RateLimiter

	initiatePerMinute int
	verifyPerMinute   int
}

// NewTransferHandlers creates a new instance of TransferHandlers. A nil limiter
// disables rate limiting.
func NewTransferHandlers(service *app.Service, limiter app.RateLimiter, initiatePerMinute, verifyPerMinute int) *TransferHandlers {
	return &TransferHandlers{
		service:           service,
		limiter:           limiter,
		initiatePerMinute: initiatePerMinute,
		verifyPerMinute:   verifyPerMinute,
	}
}

// initiateTransferRequest mirrors the payload submitted by the transfer form.
// Amount is in minor currency units.
type initiateTransferRequest struct {
	TransferType  string `json:"transfer_type"`
	BankName      string `json:"bank_name"`
	AccountNumber string `json:"account_number"`
	AccountHolder string `json:"account_holder"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	Description   string `json:"description"`
	Country       string `json:"country"`
	RoutingCode   string `json:"routing_code"`
	BranchName    string `json:"branch_name"`
	AccountType   string `json:"account_type"`
	ChargesType   string `json:"charges_type"`
}

type verifyStageRequest struct {
	TxRef string `json:"tx_ref"`
	Code  string `json:"code"`
}

type errorResponse struct {
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
	Field   string `json:"field,omitempty"`
}

type verifyStageResponse struct {
	Message   string           `json:"message"`
	Stage     domain.StageName `json:"stage"`
	Completed bool             `json:"completed"`
	NextStage domain.StageName `json:"next_stage,omitempty"`
}

// InitiateTransferHandler handles requests to start a new transfer.
func (h *TransferHandlers) InitiateTransferHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	if !h.consumeLimit(w, r, "initiate", accountID, h.initiatePerMinute) {
		return
	}

	var req initiateTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=initiate outcome=reject reason=invalid_json err=%v", err)
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "Invalid request body", Reason: "invalid_json"})
		return
	}

	category, ok := domain.ParseTransferCategory(req.TransferType)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "Unknown transfer type", Reason: "unknown_category", Field: "transfer_type"})
		return
	}

	receipt, err := h.service.InitiateTransfer(r.Context(), accountID, app.TransferInput{
		Category:      category,
		AmountMinor:   req.Amount,
		Currency:      req.Currency,
		BankName:      req.BankName,
		AccountNumber: req.AccountNumber,
		HolderName:    req.AccountHolder,
		Country:       req.Country,
		RoutingCode:   req.RoutingCode,
		BranchName:    req.BranchName,
		AccountType:   req.AccountType,
		Description:   req.Description,
		ChargesType:   req.ChargesType,
	})
	if err != nil {
		log.Printf("level=warn component=api endpoint=initiate outcome=failed account_id=%s err=%v", accountID, err)
		h.writeServiceError(w, err)
		return
	}

	log.Printf("level=info component=api endpoint=initiate outcome=accepted account_id=%s tx_ref=%s amount=%d category=%s",
		accountID, receipt.TxRef, receipt.Amount, category)
	writeJSON(w, http.StatusCreated, receipt)
}

// VerifyStageHandler handles code submission for any verification stage. The
// stage name arrives as a URL parameter, so one handler serves the whole plan.
func (h *TransferHandlers) VerifyStageHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	if !h.consumeLimit(w, r, "verify", accountID, h.verifyPerMinute) {
		return
	}

	stage, ok := domain.ParseStageName(chi.URLParam(r, "stage"))
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Message: "Unknown verification stage", Reason: "unknown_stage"})
		return
	}

	var req verifyStageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "Invalid request body", Reason: "invalid_json"})
		return
	}
	if req.TxRef == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "tx_ref is required", Reason: "required", Field: "tx_ref"})
		return
	}

	res, err := h.service.SubmitStageCode(r.Context(), accountID, req.TxRef, stage, req.Code)
	if err != nil {
		log.Printf("level=warn component=api endpoint=verify stage=%s outcome=failed account_id=%s tx_ref=%s err=%v",
			stage, accountID, req.TxRef, err)
		h.writeServiceError(w, err)
		return
	}

	resp := verifyStageResponse{Stage: res.Stage, Completed: res.Completed, NextStage: res.NextStage}
	if res.Completed {
		resp.Message = "Transfer verified and settled"
	} else {
		resp.Message = "Stage verified; continue with the next code"
	}
	log.Printf("level=info component=api endpoint=verify stage=%s outcome=verified account_id=%s tx_ref=%s completed=%t",
		stage, accountID, req.TxRef, res.Completed)
	writeJSON(w, http.StatusOK, resp)
}

// ResendOTPHandler re-issues the one-time code for a pending local transfer.
func (h *TransferHandlers) ResendOTPHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	if !h.consumeLimit(w, r, "verify", accountID, h.verifyPerMinute) {
		return
	}

	txRef := chi.URLParam(r, "txRef")
	if err := h.service.ReissueOTP(r.Context(), accountID, txRef); err != nil {
		log.Printf("level=warn component=api endpoint=resend_otp outcome=failed account_id=%s tx_ref=%s err=%v", accountID, txRef, err)
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "A new one-time code has been sent"})
}

// GetTransferHandler returns the public projection of a transfer record.
func (h *TransferHandlers) GetTransferHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	txRef := chi.URLParam(r, "txRef")
	proj, err := h.service.GetTransferByRef(r.Context(), accountID, txRef)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, proj)
}

func (h *TransferHandlers) authenticate(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	accountID, ok := AccountIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Message: "Authentication required", Reason: "unauthenticated"})
		return uuid.Nil, false
	}
	return accountID, true
}

func (h *TransferHandlers) consumeLimit(w http.ResponseWriter, r *http.Request, scope string, accountID uuid.UUID, perMinute int) bool {
	if h.limiter == nil || perMinute <= 0 {
		return true
	}
	count, retryAfter, err := h.limiter.ConsumeRateLimit(r.Context(), scope, accountID.String(), perMinute, time.Minute)
	if err != nil {
		// Limiter outage must not take the workflow down with it.
		log.Printf("level=warn component=api msg=\"rate limiter unavailable; allowing request\" scope=%s err=%v", scope, err)
		return true
	}
	if count > perMinute {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Message: "Too many requests; slow down", Reason: "rate_limited"})
		return false
	}
	return true
}

// writeServiceError maps the workflow error taxonomy to HTTP statuses. Every
// expected outcome gets a machine-checkable reason; unexpected failures are
// logged server-side and surfaced generically.
func (h *TransferHandlers) writeServiceError(w http.ResponseWriter, err error) {
	var vErr *app.ValidationError
	if errors.As(err, &vErr) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "Validation failed", Reason: vErr.Reason, Field: vErr.Field})
		return
	}

	switch {
	case errors.Is(err, app.ErrAccountNotVerified),
		errors.Is(err, app.ErrTransfersDisabled),
		errors.Is(err, app.ErrLocalTransfersDisabled),
		errors.Is(err, app.ErrInternationalTransfersDisabled),
		errors.Is(err, app.ErrLocalTransfersSuspended),
		errors.Is(err, app.ErrInternationalSuspended):
		writeJSON(w, http.StatusForbidden, errorResponse{Message: "Transfer not permitted", Reason: app.DenialReason(err)})
	case errors.Is(err, store.ErrInsufficientFunds):
		writeJSON(w, http.StatusPaymentRequired, errorResponse{Message: "Insufficient funds", Reason: "insufficient_funds"})
	case errors.Is(err, store.ErrAccountNotFound):
		writeJSON(w, http.StatusUnauthorized, errorResponse{Message: "Account not found", Reason: "unknown_account"})
	case errors.Is(err, store.ErrTransferNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Message: "Transfer not found", Reason: "not_found"})
	case errors.Is(err, domain.ErrWrongStage):
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "This is not the current verification stage", Reason: "wrong_stage"})
	case errors.Is(err, domain.ErrInvalidCode):
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "The submitted code is incorrect", Reason: "invalid_code"})
	case errors.Is(err, domain.ErrCodeExpired):
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "The one-time code has expired; request a new one", Reason: "expired"})
	case errors.Is(err, domain.ErrTransferTerminal), errors.Is(err, store.ErrTransferNotPending):
		writeJSON(w, http.StatusConflict, errorResponse{Message: "Transfer is no longer pending", Reason: "terminal"})
	case errors.Is(err, store.ErrStageConflict):
		writeJSON(w, http.StatusConflict, errorResponse{Message: "Verification state changed; reload and retry", Reason: "conflict"})
	case errors.Is(err, app.ErrOTPNotApplicable):
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "This transfer is not verified by a one-time code", Reason: "otp_not_applicable"})
	case errors.Is(err, domain.ErrUnknownCategory):
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "Unknown transfer type", Reason: "unknown_category", Field: "transfer_type"})
	default:
		log.Printf("level=error component=api msg=\"unexpected service error\" err=%v", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Message: "Something went wrong. Please try again.", Reason: "internal"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("level=error component=api msg=\"response encode failed\" err=%v", err)
	}
}
