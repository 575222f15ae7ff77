/**
 * @description
 * This file contains the core business logic for the transfer-service. The
 * `Service` struct orchestrates the transfer authorization workflow: permission
 * gating, input validation, charge computation, creation of the pending transfer
 * record with its verification stage plan, stage-code submission, and final
 * settlement against the per-currency balance ledger.
 *
 * Key features:
 * - The initiation path mutates nothing until every check has passed; the first
 *   write is the transfer record itself.
 * - The balance pre-check at initiation is advisory. The authoritative funds
 *   check happens inside the atomic settlement update, so a balance that shrank
 *   between initiation and the final stage fails the transfer cleanly.
 * - Every denial and every state transition is appended to the audit log and
 *   fanned out as an event for the notification collaborator.
 *
 * @dependencies
 * - github.com/google/uuid: entity identifiers.
 * - internal/domain, internal/store: domain models and persistence contract.
 * - pkg/rabbitmq: event publishing.
 */

package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/scbank/transfer-service/internal/domain"
	"github.com/scbank/transfer-service/internal/store"
	"github.com/scbank/transfer-service/pkg/rabbitmq"
)

const EventsExchange = "scbank.events"

// Routing keys for workflow events.
const (
	routeInitiated     = "transfer.initiated"
	routeOTPIssued     = "transfer.otp.issued"
	routeStageVerified = "transfer.stage.verified"
	routeCompleted     = "transfer.completed"
	routeFailed        = "transfer.failed"
)

// Audit actions recorded for denials and state transitions.
const (
	auditTransferDenied   = "transfer_denied"
	auditTransferRejected = "transfer_rejected"
	auditTransferCreated  = "transfer_initiated"
	auditStageVerified    = "stage_verified"
	auditStageRejected    = "stage_rejected"
	auditTransferSettled  = "transfer_settled"
	auditTransferFailed   = "transfer_failed"
	auditOTPReissued      = "otp_reissued"
)

var ErrOTPNotApplicable = errors.New("transfer is not verified by a one-time code")

// Service provides the core business logic for the transfer workflow.
type Service struct {
	repo     store.Repository
	events   rabbitmq.Publisher
	codes    domain.StageCodes
	fees     FeeSchedule
	switches Switches

	ceilingMinor int64
	otpTTL       time.Duration

	clock func() time.Time
}

// NewService creates a new transfer service instance. A nil publisher disables
// event fan-out (used in tests and degraded startup).
func NewService(
	repo store.Repository,
	events rabbitmq.Publisher,
	codes domain.StageCodes,
	fees FeeSchedule,
	switches Switches,
	ceilingMinor int64,
	otpTTL time.Duration,
) *Service {
	if otpTTL <= 0 {
		otpTTL = 10 * time.Minute
	}
	return &Service{
		repo:         repo,
		events:       events,
		codes:        codes,
		fees:         fees,
		switches:     switches,
		ceilingMinor: ceilingMinor,
		otpTTL:       otpTTL,
		clock:        func() time.Time { return time.Now().UTC() },
	}
}

// TransferReceipt is returned to the caller after successful initiation. It
// names the verification path but never carries any code material.
type TransferReceipt struct {
	TxRef         string           `json:"tx_ref"`
	Amount        int64            `json:"amount"`
	Charge        int64            `json:"charge"`
	Currency      string           `json:"currency"`
	Recipient     string           `json:"recipient"`
	RequiresOTP   bool             `json:"requires_otp"`
	RequiresCodes bool             `json:"requires_codes"`
	NextStage     domain.StageName `json:"next_stage,omitempty"`
}

// InitiateTransfer runs the gate -> validate -> charge -> pre-check -> create
// pipeline. No state is mutated before every check has passed.
func (s *Service) InitiateTransfer(ctx context.Context, accountID uuid.UUID, in TransferInput) (*TransferReceipt, error) {
	acct, err := s.repo.FindAccountByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}

	if err := CheckPermission(acct, in.Category, s.switches); err != nil {
		s.audit(ctx, domain.AuditEntry{
			AccountID:   acct.ID,
			Action:      auditTransferDenied,
			Category:    in.Category,
			AmountMinor: in.AmountMinor,
			Success:     false,
			Detail:      DenialReason(err),
		})
		return nil, err
	}

	in, err = ValidateTransferInput(in, s.ceilingMinor)
	if err != nil {
		var vErr *ValidationError
		detail := "invalid_input"
		if errors.As(err, &vErr) {
			detail = vErr.Field + ":" + vErr.Reason
		}
		s.audit(ctx, domain.AuditEntry{
			AccountID:   acct.ID,
			Action:      auditTransferRejected,
			Category:    in.Category,
			AmountMinor: in.AmountMinor,
			Success:     false,
			Detail:      detail,
		})
		return nil, err
	}

	charge := ComputeCharge(in.AmountMinor, in.Category, s.fees)

	// Advisory pre-check; the settlement update re-verifies atomically.
	balance, err := s.repo.GetBalance(ctx, acct.ID, in.Currency)
	if err != nil {
		return nil, fmt.Errorf("failed to read balance: %w", err)
	}
	if balance < in.AmountMinor+charge {
		s.audit(ctx, domain.AuditEntry{
			AccountID:   acct.ID,
			Action:      auditTransferRejected,
			Category:    in.Category,
			AmountMinor: in.AmountMinor,
			Success:     false,
			Detail:      "insufficient_funds",
		})
		return nil, store.ErrInsufficientFunds
	}

	now := s.clock()
	t, err := domain.NewTransfer(domain.NewTransferParams{
		TxRef:       domain.NewTxRef(),
		AccountID:   acct.ID,
		Category:    in.Category,
		AmountMinor: in.AmountMinor,
		ChargeMinor: charge,
		Currency:    in.Currency,
		Description: in.Description,
		ChargesType: in.ChargesType,
		Recipient: domain.Recipient{
			BankName:      in.BankName,
			AccountNumber: in.AccountNumber,
			HolderName:    in.HolderName,
			Country:       in.Country,
			RoutingCode:   in.RoutingCode,
			BranchName:    in.BranchName,
			AccountType:   in.AccountType,
		},
		Now: now,
	})
	if err != nil {
		return nil, err
	}

	var otpCode string
	if t.RequiresOTP() {
		otpCode, err = generateOTP()
		if err != nil {
			return nil, fmt.Errorf("failed to generate one-time code: %w", err)
		}
		if err := t.IssueOTP(otpCode, s.otpTTL, now); err != nil {
			return nil, err
		}
	}

	if err := s.repo.CreateTransfer(ctx, t); err != nil {
		if errors.Is(err, store.ErrDuplicateTxRef) {
			// Vanishingly unlikely; retry once with a fresh reference.
			t.TxRef = domain.NewTxRef()
			err = s.repo.CreateTransfer(ctx, t)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create transfer record: %w", err)
		}
	}

	s.publish(ctx, routeInitiated, domain.TransferInitiatedEvent{
		TxRef:       t.TxRef,
		AccountID:   t.AccountID,
		Category:    t.Category,
		Amount:      t.AmountMinor,
		Charge:      t.ChargeMinor,
		Currency:    t.Currency,
		Recipient:   t.Recipient.HolderName,
		RequiresOTP: t.RequiresOTP(),
		OccurredAt:  now,
	})
	if t.RequiresOTP() {
		// The cleartext code travels only on this event for out-of-band delivery.
		s.publish(ctx, routeOTPIssued, domain.OTPIssuedEvent{
			TxRef:      t.TxRef,
			AccountID:  t.AccountID,
			Code:       otpCode,
			ExpiresAt:  *t.OTPExpiresAt,
			OccurredAt: now,
		})
	}

	s.audit(ctx, domain.AuditEntry{
		AccountID:   t.AccountID,
		Action:      auditTransferCreated,
		TxRef:       t.TxRef,
		Category:    t.Category,
		AmountMinor: t.AmountMinor,
		Success:     true,
	})

	receipt := &TransferReceipt{
		TxRef:         t.TxRef,
		Amount:        t.AmountMinor,
		Charge:        t.ChargeMinor,
		Currency:      t.Currency,
		Recipient:     t.Recipient.HolderName,
		RequiresOTP:   t.RequiresOTP(),
		RequiresCodes: !t.RequiresOTP(),
	}
	if next, ok := t.AwaitingStage(); ok {
		receipt.NextStage = next
	}
	return receipt, nil
}

// SubmitStageCode validates a code for the transfer's current verification
// stage and advances the workflow. When the final stage verifies, settlement is
// performed atomically; a late insufficient-funds condition fails the transfer.
func (s *Service) SubmitStageCode(ctx context.Context, accountID uuid.UUID, txRef string, stage domain.StageName, code string) (*domain.StageResult, error) {
	t, err := s.loadOwnedTransfer(ctx, accountID, txRef)
	if err != nil {
		return nil, err
	}
	if t.Status.IsTerminal() {
		return nil, domain.ErrTransferTerminal
	}

	now := s.clock()
	res, err := t.SubmitStage(stage, code, s.codes, now)
	if err != nil {
		s.audit(ctx, domain.AuditEntry{
			AccountID: t.AccountID,
			Action:    auditStageRejected,
			TxRef:     t.TxRef,
			Category:  t.Category,
			Success:   false,
			Detail:    string(stage) + ":" + rejectionReason(err),
		})
		return nil, err
	}

	// SubmitStage advanced the in-memory pointer; persist conditionally on the
	// stored pointer still holding the pre-advance value.
	if err := s.repo.AdvanceTransferStage(ctx, t.TxRef, t.CurrentStage-1, now); err != nil {
		if errors.Is(err, store.ErrStageConflict) {
			s.audit(ctx, domain.AuditEntry{
				AccountID: t.AccountID,
				Action:    auditStageRejected,
				TxRef:     t.TxRef,
				Category:  t.Category,
				Success:   false,
				Detail:    string(stage) + ":concurrent_conflict",
			})
		}
		return nil, err
	}

	s.publish(ctx, routeStageVerified, domain.StageVerifiedEvent{
		TxRef:      t.TxRef,
		AccountID:  t.AccountID,
		Stage:      res.Stage,
		NextStage:  res.NextStage,
		OccurredAt: now,
	})
	s.audit(ctx, domain.AuditEntry{
		AccountID: t.AccountID,
		Action:    auditStageVerified,
		TxRef:     t.TxRef,
		Category:  t.Category,
		Success:   true,
		Detail:    string(res.Stage),
	})

	if res.Completed {
		if err := s.settle(ctx, t, now); err != nil {
			return nil, err
		}
	}

	return &res, nil
}

// settle performs the authoritative debit and terminal transition after the
// last stage has verified.
func (s *Service) settle(ctx context.Context, t *domain.Transfer, now time.Time) error {
	err := s.repo.SettleTransfer(ctx, t, now)
	if err == nil {
		s.publish(ctx, routeCompleted, domain.TransferCompletedEvent{
			TxRef:      t.TxRef,
			AccountID:  t.AccountID,
			Amount:     t.AmountMinor,
			Charge:     t.ChargeMinor,
			Currency:   t.Currency,
			Recipient:  t.Recipient.HolderName,
			OccurredAt: now,
		})
		s.audit(ctx, domain.AuditEntry{
			AccountID:   t.AccountID,
			Action:      auditTransferSettled,
			TxRef:       t.TxRef,
			Category:    t.Category,
			AmountMinor: t.AmountMinor,
			Success:     true,
		})
		return nil
	}

	if errors.Is(err, store.ErrInsufficientFunds) {
		// Balance shrank since initiation. The money never moved; the record
		// fails terminally and the caller learns why.
		if markErr := s.repo.MarkTransferFailed(ctx, t.TxRef, "insufficient_funds"); markErr != nil {
			log.Printf("level=error component=app msg=\"failed to mark transfer failed\" tx_ref=%s err=%v", t.TxRef, markErr)
		}
		s.publish(ctx, routeFailed, domain.TransferFailedEvent{
			TxRef:      t.TxRef,
			AccountID:  t.AccountID,
			Reason:     "insufficient_funds",
			OccurredAt: now,
		})
		s.audit(ctx, domain.AuditEntry{
			AccountID:   t.AccountID,
			Action:      auditTransferFailed,
			TxRef:       t.TxRef,
			Category:    t.Category,
			AmountMinor: t.AmountMinor,
			Success:     false,
			Detail:      "insufficient_funds",
		})
		return store.ErrInsufficientFunds
	}

	return fmt.Errorf("settlement failed: %w", err)
}

// ReissueOTP generates a fresh one-time code for a pending local transfer whose
// otp stage has not yet verified, replacing the previous code and expiry.
func (s *Service) ReissueOTP(ctx context.Context, accountID uuid.UUID, txRef string) error {
	t, err := s.loadOwnedTransfer(ctx, accountID, txRef)
	if err != nil {
		return err
	}
	if t.Status.IsTerminal() {
		return domain.ErrTransferTerminal
	}
	if !t.RequiresOTP() {
		return ErrOTPNotApplicable
	}
	if t.CurrentStage > 0 {
		return domain.ErrWrongStage
	}

	code, err := generateOTP()
	if err != nil {
		return fmt.Errorf("failed to generate one-time code: %w", err)
	}
	now := s.clock()
	expiresAt := now.Add(s.otpTTL)
	if err := s.repo.UpdateTransferOTP(ctx, t.TxRef, domain.HashCode(code), expiresAt); err != nil {
		return err
	}

	s.publish(ctx, routeOTPIssued, domain.OTPIssuedEvent{
		TxRef:      t.TxRef,
		AccountID:  t.AccountID,
		Code:       code,
		ExpiresAt:  expiresAt,
		OccurredAt: now,
	})
	s.audit(ctx, domain.AuditEntry{
		AccountID: t.AccountID,
		Action:    auditOTPReissued,
		TxRef:     t.TxRef,
		Category:  t.Category,
		Success:   true,
	})
	return nil
}

// StageView is the public projection of one verification stage. Expected codes
// and digests never appear here.
type StageView struct {
	Name       domain.StageName `json:"name"`
	Verified   bool             `json:"verified"`
	VerifiedAt *time.Time       `json:"verified_at,omitempty"`
}

// TransferProjection is the public view of a transfer record served to the UI
// during the multi-step flow.
type TransferProjection struct {
	TxRef         string                  `json:"tx_ref"`
	Category      domain.TransferCategory `json:"category"`
	Amount        int64                   `json:"amount"`
	Charge        int64                   `json:"charge"`
	Currency      string                  `json:"currency"`
	Description   string                  `json:"description,omitempty"`
	Recipient     domain.Recipient        `json:"recipient"`
	Status        domain.TransferStatus   `json:"status"`
	FailureReason *string                 `json:"failure_reason,omitempty"`
	CurrentStage  domain.StageName        `json:"current_stage,omitempty"`
	Stages        []StageView             `json:"stages"`
	CreatedAt     time.Time               `json:"created_at"`
	CompletedAt   *time.Time              `json:"completed_at,omitempty"`
}

// GetTransferByRef returns the public projection of an owned transfer record.
func (s *Service) GetTransferByRef(ctx context.Context, accountID uuid.UUID, txRef string) (*TransferProjection, error) {
	t, err := s.loadOwnedTransfer(ctx, accountID, txRef)
	if err != nil {
		return nil, err
	}

	proj := &TransferProjection{
		TxRef:         t.TxRef,
		Category:      t.Category,
		Amount:        t.AmountMinor,
		Charge:        t.ChargeMinor,
		Currency:      t.Currency,
		Description:   t.Description,
		Recipient:     t.Recipient,
		Status:        t.Status,
		FailureReason: t.FailureReason,
		Stages:        make([]StageView, 0, len(t.Stages)),
		CreatedAt:     t.CreatedAt,
		CompletedAt:   t.CompletedAt,
	}
	if current, ok := t.AwaitingStage(); ok {
		proj.CurrentStage = current
	}
	for _, st := range t.Stages {
		proj.Stages = append(proj.Stages, StageView{Name: st.Name, Verified: st.Verified, VerifiedAt: st.VerifiedAt})
	}
	return proj, nil
}

// loadOwnedTransfer fetches a transfer and enforces ownership. A record owned
// by another account is indistinguishable from a missing one.
func (s *Service) loadOwnedTransfer(ctx context.Context, accountID uuid.UUID, txRef string) (*domain.Transfer, error) {
	t, err := s.repo.FindTransferByRef(ctx, txRef)
	if err != nil {
		return nil, err
	}
	if t.AccountID != accountID {
		return nil, store.ErrTransferNotFound
	}
	return t, nil
}

func (s *Service) publish(ctx context.Context, routingKey string, body interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, EventsExchange, routingKey, body); err != nil {
		log.Printf("level=warn component=app msg=\"event publish failed\" routing_key=%s err=%v", routingKey, err)
	}
}

func (s *Service) audit(ctx context.Context, entry domain.AuditEntry) {
	entry.OccurredAt = s.clock()
	if err := s.repo.AppendAuditEntry(ctx, entry); err != nil {
		log.Printf("level=error component=app msg=\"audit append failed\" action=%s tx_ref=%s err=%v", entry.Action, entry.TxRef, err)
	}
}

// rejectionReason maps a stage-machine error to its audit detail.
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrWrongStage):
		return "wrong_stage"
	case errors.Is(err, domain.ErrInvalidCode):
		return "invalid_code"
	case errors.Is(err, domain.ErrCodeExpired):
		return "expired"
	case errors.Is(err, domain.ErrTransferTerminal):
		return "terminal"
	case errors.Is(err, domain.ErrStageCodeUnset):
		return "code_unset"
	}
	return "rejected"
}

// generateOTP returns a 6-digit single-use numeric code.
func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
