/**
 * @description
 * This file defines the core domain models for the transfer-service. The central
 * entity is the Transfer: an auditable, resumable record of a money transfer that
 * is gated behind an ordered sequence of verification stages.
 *
 * @notes
 * - Amounts are stored as `int64` in minor currency units (cents/kobo equivalents)
 *   to avoid floating-point inaccuracies with financial data.
 * - Transfer records are append-only at the business level: once created, only the
 *   stage state and terminal status may change. Recipient and amount metadata are
 *   immutable after creation.
 */

package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TransferCategory distinguishes the two supported transfer flows. Each category
// carries its own ordered verification stage plan.
type TransferCategory string

const (
	CategoryLocal         TransferCategory = "local"
	CategoryInternational TransferCategory = "international"
)

// ParseTransferCategory validates a raw category string from the API layer.
func ParseTransferCategory(raw string) (TransferCategory, bool) {
	switch TransferCategory(strings.ToLower(strings.TrimSpace(raw))) {
	case CategoryLocal:
		return CategoryLocal, true
	case CategoryInternational:
		return CategoryInternational, true
	}
	return "", false
}

// TransferStatus is the lifecycle status of a Transfer record.
// Transitions are strictly forward: pending -> success | failed | cancelled.
type TransferStatus string

const (
	StatusPending   TransferStatus = "pending"
	StatusSuccess   TransferStatus = "success"
	StatusFailed    TransferStatus = "failed"
	StatusCancelled TransferStatus = "cancelled"
)

// IsTerminal reports whether no further mutation of the record is allowed.
func (s TransferStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusCancelled
}

// Recipient holds the immutable destination bank metadata captured at initiation.
type Recipient struct {
	BankName      string `json:"bank_name"`
	AccountNumber string `json:"account_number"`
	HolderName    string `json:"holder_name"`
	Country       string `json:"country,omitempty"`
	RoutingCode   string `json:"routing_code,omitempty"`
	BranchName    string `json:"branch_name,omitempty"`
	AccountType   string `json:"account_type,omitempty"`
}

// Transfer is the persisted record of one transfer authorization workflow.
// It maps to the `transfers` table plus its `transfer_stages` child rows.
type Transfer struct {
	TxRef       string           `json:"tx_ref"`
	AccountID   uuid.UUID        `json:"account_id"`
	Category    TransferCategory `json:"category"`
	AmountMinor int64            `json:"amount"` // in minor units
	ChargeMinor int64            `json:"charge"` // in minor units
	Currency    string           `json:"currency"`
	Description string           `json:"description,omitempty"`
	ChargesType string           `json:"charges_type,omitempty"`
	Recipient   Recipient        `json:"recipient"`

	Status        TransferStatus `json:"status"`
	FailureReason *string        `json:"failure_reason,omitempty"`

	// CurrentStage indexes into Stages; when it equals len(Stages) every
	// required stage has been verified.
	CurrentStage int          `json:"current_stage"`
	Stages       []StageState `json:"stages"`

	// OTP material exists only for local transfers. Only a digest of the code
	// is ever persisted; the cleartext leaves the process solely on the
	// out-of-band notification event.
	OTPCodeHash  string     `json:"-"`
	OTPExpiresAt *time.Time `json:"-"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewTransferParams carries the validated inputs for constructing a Transfer.
type NewTransferParams struct {
	TxRef       string
	AccountID   uuid.UUID
	Category    TransferCategory
	AmountMinor int64
	ChargeMinor int64
	Currency    string
	Description string
	ChargesType string
	Recipient   Recipient
	Now         time.Time
}

// NewTransfer constructs a pending Transfer with its stage plan initialized for
// the requested category and zero stages verified.
func NewTransfer(p NewTransferParams) (*Transfer, error) {
	if strings.TrimSpace(p.TxRef) == "" {
		return nil, ErrMissingTxRef
	}
	if p.AccountID == uuid.Nil {
		return nil, ErrInvalidAccountID
	}
	if p.AmountMinor <= 0 {
		return nil, ErrInvalidAmount
	}
	if p.ChargeMinor < 0 {
		return nil, ErrInvalidCharge
	}
	cur := strings.ToUpper(strings.TrimSpace(p.Currency))
	if len(cur) != 3 {
		return nil, ErrInvalidCurrency
	}
	plan := StagesForCategory(p.Category)
	if plan == nil {
		return nil, ErrUnknownCategory
	}
	if p.Now.IsZero() {
		p.Now = time.Now().UTC()
	}

	stages := make([]StageState, len(plan))
	for i, name := range plan {
		stages[i] = StageState{Name: name, Position: i}
	}

	return &Transfer{
		TxRef:        p.TxRef,
		AccountID:    p.AccountID,
		Category:     p.Category,
		AmountMinor:  p.AmountMinor,
		ChargeMinor:  p.ChargeMinor,
		Currency:     cur,
		Description:  p.Description,
		ChargesType:  p.ChargesType,
		Recipient:    p.Recipient,
		Status:       StatusPending,
		CurrentStage: 0,
		Stages:       stages,
		CreatedAt:    p.Now,
		UpdatedAt:    p.Now,
	}, nil
}

// NewTxRef generates a globally unique transaction reference.
func NewTxRef() string {
	return "TX-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
}

// NormalizeCode applies the comparison normalization used for every stage code:
// exact match after trimming and case-folding, no partial credit.
func NormalizeCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

// HashCode returns the hex-encoded SHA-256 digest of a normalized code. Used for
// the single-use OTP so the cleartext never reaches storage.
func HashCode(code string) string {
	sum := sha256.Sum256([]byte(NormalizeCode(code)))
	return hex.EncodeToString(sum[:])
}

// VerificationComplete reports whether every required stage has been verified.
func (t *Transfer) VerificationComplete() bool {
	return t.CurrentStage >= len(t.Stages)
}

// AwaitingStage returns the name of the stage the workflow is currently waiting
// on, or false when verification is already complete.
func (t *Transfer) AwaitingStage() (StageName, bool) {
	if t.VerificationComplete() {
		return "", false
	}
	return t.Stages[t.CurrentStage].Name, true
}

// RequiresOTP reports whether this transfer is verified by a single-use
// generated code rather than the administrator-set stage codes.
func (t *Transfer) RequiresOTP() bool {
	return t.Category == CategoryLocal
}
