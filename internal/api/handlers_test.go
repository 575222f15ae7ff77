package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/scbank/transfer-service/internal/app"
	"github.com/scbank/transfer-service/internal/domain"
	"github.com/scbank/transfer-service/internal/store"
)

// stubRepo is an in-memory store.Repository carrying the same error contract as
// the PostgreSQL implementation, enough to drive the HTTP surface end to end.
type stubRepo struct {
	accounts  map[uuid.UUID]*domain.Account
	balances  map[string]int64
	transfers map[string]*domain.Transfer
	audits    []domain.AuditEntry
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		accounts:  make(map[uuid.UUID]*domain.Account),
		balances:  make(map[string]int64),
		transfers: make(map[string]*domain.Transfer),
	}
}

func (r *stubRepo) balanceKey(accountID uuid.UUID, currency string) string {
	return accountID.String() + "/" + currency
}

func (r *stubRepo) FindAccountByID(_ context.Context, accountID uuid.UUID) (*domain.Account, error) {
	acct, ok := r.accounts[accountID]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	return acct, nil
}

func (r *stubRepo) GetBalance(_ context.Context, accountID uuid.UUID, currency string) (int64, error) {
	return r.balances[r.balanceKey(accountID, currency)], nil
}

func (r *stubRepo) DebitBalance(_ context.Context, accountID uuid.UUID, currency string, amountMinor int64) error {
	key := r.balanceKey(accountID, currency)
	if r.balances[key] < amountMinor {
		return store.ErrInsufficientFunds
	}
	r.balances[key] -= amountMinor
	return nil
}

func (r *stubRepo) CreditBalance(_ context.Context, accountID uuid.UUID, currency string, amountMinor int64) error {
	r.balances[r.balanceKey(accountID, currency)] += amountMinor
	return nil
}

func (r *stubRepo) CreateTransfer(_ context.Context, t *domain.Transfer) error {
	if _, exists := r.transfers[t.TxRef]; exists {
		return store.ErrDuplicateTxRef
	}
	c := *t
	c.Stages = append([]domain.StageState(nil), t.Stages...)
	r.transfers[t.TxRef] = &c
	return nil
}

func (r *stubRepo) FindTransferByRef(_ context.Context, txRef string) (*domain.Transfer, error) {
	t, ok := r.transfers[txRef]
	if !ok {
		return nil, store.ErrTransferNotFound
	}
	c := *t
	c.Stages = append([]domain.StageState(nil), t.Stages...)
	return &c, nil
}

func (r *stubRepo) AdvanceTransferStage(_ context.Context, txRef string, fromStage int, verifiedAt time.Time) error {
	t, ok := r.transfers[txRef]
	if !ok {
		return store.ErrTransferNotFound
	}
	if t.Status != domain.StatusPending {
		return store.ErrTransferNotPending
	}
	if t.CurrentStage != fromStage {
		return store.ErrStageConflict
	}
	at := verifiedAt
	t.Stages[fromStage].Verified = true
	t.Stages[fromStage].VerifiedAt = &at
	t.CurrentStage++
	return nil
}

func (r *stubRepo) UpdateTransferOTP(_ context.Context, txRef string, codeHash string, expiresAt time.Time) error {
	t, ok := r.transfers[txRef]
	if !ok {
		return store.ErrTransferNotFound
	}
	exp := expiresAt
	t.OTPCodeHash = codeHash
	t.OTPExpiresAt = &exp
	return nil
}

func (r *stubRepo) SettleTransfer(_ context.Context, t *domain.Transfer, completedAt time.Time) error {
	stored, ok := r.transfers[t.TxRef]
	if !ok {
		return store.ErrTransferNotFound
	}
	if stored.Status != domain.StatusPending {
		return store.ErrTransferNotPending
	}
	key := r.balanceKey(stored.AccountID, stored.Currency)
	total := stored.AmountMinor + stored.ChargeMinor
	if r.balances[key] < total {
		return store.ErrInsufficientFunds
	}
	r.balances[key] -= total
	at := completedAt
	stored.Status = domain.StatusSuccess
	stored.CompletedAt = &at
	return nil
}

func (r *stubRepo) MarkTransferFailed(_ context.Context, txRef string, reason string) error {
	t, ok := r.transfers[txRef]
	if !ok {
		return store.ErrTransferNotFound
	}
	t.Status = domain.StatusFailed
	t.FailureReason = &reason
	return nil
}

func (r *stubRepo) AppendAuditEntry(_ context.Context, entry domain.AuditEntry) error {
	r.audits = append(r.audits, entry)
	return nil
}

// recordingPublisher keeps the published events so tests can pull the OTP code
// the way the notification collaborator would.
type recordingPublisher struct {
	events []interface{}
}

func (p *recordingPublisher) Publish(_ context.Context, _, _ string, body interface{}) error {
	p.events = append(p.events, body)
	return nil
}

func (p *recordingPublisher) Close() {}

func (p *recordingPublisher) lastOTPCode(t *testing.T) string {
	t.Helper()
	for i := len(p.events) - 1; i >= 0; i-- {
		if e, ok := p.events[i].(domain.OTPIssuedEvent); ok {
			return e.Code
		}
	}
	t.Fatal("no otp event published")
	return ""
}

// fixedLimiter returns a constant count for every consume call.
type fixedLimiter struct {
	count      int
	retryAfter int
}

func (l *fixedLimiter) ConsumeRateLimit(_ context.Context, _, _ string, _ int, _ time.Duration) (int, int, error) {
	return l.count, l.retryAfter, nil
}

type apiFixture struct {
	repo    *stubRepo
	pub     *recordingPublisher
	router  http.Handler
	account *domain.Account
	token   string
}

func newAPIFixture(t *testing.T, limiter app.RateLimiter) *apiFixture {
	t.Helper()
	repo := newStubRepo()
	pub := &recordingPublisher{}

	acct := &domain.Account{
		ID:                       uuid.New(),
		AccountNumber:            "1002003004",
		HolderName:               "Jane Doe",
		Verified:                 true,
		CanTransfer:              true,
		CanLocalTransfer:         true,
		CanInternationalTransfer: true,
	}
	repo.accounts[acct.ID] = acct
	repo.balances[repo.balanceKey(acct.ID, "USD")] = 1000000

	svc := app.NewService(
		repo,
		pub,
		domain.StageCodes{
			domain.StageCOT: "COT-1111",
			domain.StageIMF: "IMF-2222",
			domain.StageESI: "ESI-3333",
			domain.StageDCO: "DCO-4444",
			domain.StageTAX: "TAX-5555",
			domain.StageTAC: "TAC-6666",
		},
		app.FeeSchedule{LocalBPS: 50, LocalMinimumMinor: 100, InternationalBPS: 150, InternationalMinimumMinor: 1000},
		app.Switches{LocalEnabled: true, InternationalEnabled: true},
		10000000,
		10*time.Minute,
	)

	handlers := NewTransferHandlers(svc, limiter, 10, 30)
	return &apiFixture{
		repo:    repo,
		pub:     pub,
		router:  TransferRoutes(handlers, testSecret, "scbank"),
		account: acct,
		token:   signToken(t, testSecret, sessionClaims(acct.ID, "scbank")),
	}
}

func (f *apiFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+f.token)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(out); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
}

func initiateBody(transferType string) map[string]interface{} {
	return map[string]interface{}{
		"transfer_type":  transferType,
		"bank_name":      "First Bank",
		"account_number": "0123456789",
		"account_holder": "John Smith",
		"amount":         50000,
		"currency":       "USD",
		"description":    "rent",
	}
}

func TestInitiateEndpoint_LocalTransfer(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/initiate", initiateBody("local"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var receipt app.TransferReceipt
	decodeBody(t, rec, &receipt)
	if receipt.TxRef == "" || !receipt.RequiresOTP || receipt.NextStage != domain.StageOTP {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}
	// No code material may appear anywhere in the HTTP response.
	code := f.pub.lastOTPCode(t)
	if strings.Contains(rec.Body.String(), code) {
		t.Fatal("otp code leaked into the http response")
	}
}

func TestInitiateEndpoint_RejectsUnknownType(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/initiate", initiateBody("wire"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var resp errorResponse
	decodeBody(t, rec, &resp)
	if resp.Reason != "unknown_category" {
		t.Fatalf("expected unknown_category, got %s", resp.Reason)
	}
}

func TestInitiateEndpoint_ValidationErrorShape(t *testing.T) {
	f := newAPIFixture(t, nil)

	body := initiateBody("local")
	body["account_number"] = "12AB"
	rec := f.do(t, http.MethodPost, "/initiate", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var resp errorResponse
	decodeBody(t, rec, &resp)
	if resp.Field != "account_number" || resp.Reason != "digits_only" {
		t.Fatalf("unexpected error shape: %+v", resp)
	}
}

func TestInitiateEndpoint_InsufficientFunds(t *testing.T) {
	f := newAPIFixture(t, nil)
	f.repo.balances[f.repo.balanceKey(f.account.ID, "USD")] = 100

	rec := f.do(t, http.MethodPost, "/initiate", initiateBody("local"))
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", rec.Code)
	}
}

func TestInitiateEndpoint_PermissionDenied(t *testing.T) {
	f := newAPIFixture(t, nil)
	f.account.CanInternationalTransfer = false

	rec := f.do(t, http.MethodPost, "/initiate", initiateBody("international"))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	var resp errorResponse
	decodeBody(t, rec, &resp)
	if resp.Reason != "international_disabled" {
		t.Fatalf("expected international_disabled, got %s", resp.Reason)
	}
}

func TestVerifyEndpoint_LocalOTPFlow(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/initiate", initiateBody("local"))
	var receipt app.TransferReceipt
	decodeBody(t, rec, &receipt)
	code := f.pub.lastOTPCode(t)

	// Wrong code first: 400 invalid_code, stage not consumed.
	rec = f.do(t, http.MethodPost, "/verify/otp", verifyStageRequest{TxRef: receipt.TxRef, Code: "000000x"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for wrong code, got %d", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/verify/otp", verifyStageRequest{TxRef: receipt.TxRef, Code: code})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp verifyStageResponse
	decodeBody(t, rec, &resp)
	if !resp.Completed {
		t.Fatalf("expected completed flow, got %+v", resp)
	}

	// Terminal record: a replayed code now conflicts.
	rec = f.do(t, http.MethodPost, "/verify/otp", verifyStageRequest{TxRef: receipt.TxRef, Code: code})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 after settlement, got %d", rec.Code)
	}
}

func TestVerifyEndpoint_InternationalChainOverHTTP(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/initiate", initiateBody("international"))
	var receipt app.TransferReceipt
	decodeBody(t, rec, &receipt)

	steps := []struct {
		stage string
		code  string
	}{
		{"cot", "COT-1111"},
		{"imf", "IMF-2222"},
		{"esi", "ESI-3333"},
		{"dco", "DCO-4444"},
		{"tax", "TAX-5555"},
		{"tac", "TAC-6666"},
	}
	for i, step := range steps {
		rec := f.do(t, http.MethodPost, "/verify/"+step.stage, verifyStageRequest{TxRef: receipt.TxRef, Code: step.code})
		if rec.Code != http.StatusOK {
			t.Fatalf("stage %s: expected 200, got %d: %s", step.stage, rec.Code, rec.Body.String())
		}
		var resp verifyStageResponse
		decodeBody(t, rec, &resp)
		if wantDone := i == len(steps)-1; resp.Completed != wantDone {
			t.Fatalf("stage %s: completed=%t", step.stage, resp.Completed)
		}
	}

	if got := f.repo.transfers[receipt.TxRef].Status; got != domain.StatusSuccess {
		t.Fatalf("expected settled transfer, got %s", got)
	}
}

func TestVerifyEndpoint_OutOfOrderAndUnknownStage(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/initiate", initiateBody("international"))
	var receipt app.TransferReceipt
	decodeBody(t, rec, &receipt)

	rec = f.do(t, http.MethodPost, "/verify/tac", verifyStageRequest{TxRef: receipt.TxRef, Code: "TAC-6666"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for out-of-order stage, got %d", rec.Code)
	}
	var resp errorResponse
	decodeBody(t, rec, &resp)
	if resp.Reason != "wrong_stage" {
		t.Fatalf("expected wrong_stage, got %s", resp.Reason)
	}

	rec = f.do(t, http.MethodPost, "/verify/pin", verifyStageRequest{TxRef: receipt.TxRef, Code: "whatever"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown stage, got %d", rec.Code)
	}
}

func TestResendOTPEndpoint(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/initiate", initiateBody("local"))
	var receipt app.TransferReceipt
	decodeBody(t, rec, &receipt)
	firstHash := f.repo.transfers[receipt.TxRef].OTPCodeHash

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/%s/resend-otp", receipt.TxRef), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if f.repo.transfers[receipt.TxRef].OTPCodeHash == firstHash {
		t.Fatal("expected digest replaced after resend")
	}

	// Resend makes no sense for the admin-code path.
	rec = f.do(t, http.MethodPost, "/initiate", initiateBody("international"))
	decodeBody(t, rec, &receipt)
	rec = f.do(t, http.MethodPost, fmt.Sprintf("/%s/resend-otp", receipt.TxRef), nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for international resend, got %d", rec.Code)
	}
}

func TestGetTransferEndpoint(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/initiate", initiateBody("international"))
	var receipt app.TransferReceipt
	decodeBody(t, rec, &receipt)

	rec = f.do(t, http.MethodGet, "/"+receipt.TxRef, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var proj app.TransferProjection
	decodeBody(t, rec, &proj)
	if proj.TxRef != receipt.TxRef || len(proj.Stages) != 6 {
		t.Fatalf("unexpected projection: %+v", proj)
	}

	rec = f.do(t, http.MethodGet, "/TX-DOESNOTEXIST", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestEndpointsRequireAuth(t *testing.T) {
	f := newAPIFixture(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/initiate", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d", rec.Code)
	}
}

func TestRateLimitExceeded(t *testing.T) {
	f := newAPIFixture(t, &fixedLimiter{count: 11, retryAfter: 42})

	rec := f.do(t, http.MethodPost, "/initiate", initiateBody("local"))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "42" {
		t.Fatalf("expected Retry-After 42, got %q", got)
	}
	if len(f.repo.transfers) != 0 {
		t.Fatal("expected no transfer created while rate limited")
	}
}
