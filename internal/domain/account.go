package domain

import (
	"time"

	"github.com/google/uuid"
)

// Account is the read-side projection of a customer account that this service
// needs: identity plus the permission flags evaluated by the permission gate.
// Accounts are created and administered elsewhere; this service only reads the
// flags and mutates balances through the atomic ledger operations.
type Account struct {
	ID                       uuid.UUID `json:"id"`
	AccountNumber            string    `json:"account_number"`
	HolderName               string    `json:"holder_name"`
	Verified                 bool      `json:"verified"`
	CanTransfer              bool      `json:"can_transfer"`
	CanLocalTransfer         bool      `json:"can_local_transfer"`
	CanInternationalTransfer bool      `json:"can_international_transfer"`
}

// AccountBalance is one entry of an account's per-currency balance map.
// A currency with no row is a zero balance.
type AccountBalance struct {
	AccountID    uuid.UUID `json:"account_id"`
	Currency     string    `json:"currency"`
	BalanceMinor int64     `json:"balance"` // in minor units
}

// AuditEntry is one append-only record of a denial or state transition. The
// audit trail is a correctness requirement of the workflow, not optional logging.
type AuditEntry struct {
	ID          uuid.UUID        `json:"id"`
	OccurredAt  time.Time        `json:"occurred_at"`
	AccountID   uuid.UUID        `json:"account_id"`
	Action      string           `json:"action"`
	TxRef       string           `json:"tx_ref,omitempty"`
	Category    TransferCategory `json:"category,omitempty"`
	AmountMinor int64            `json:"amount,omitempty"`
	Success     bool             `json:"success"`
	Detail      string           `json:"detail,omitempty"`
}
