package domain

import (
	"time"

	"github.com/google/uuid"
)

// Event payloads published to the message broker for consumption by the
// notification and audit collaborators. Routing keys live in the app layer.

// TransferInitiatedEvent announces a new pending transfer awaiting verification.
type TransferInitiatedEvent struct {
	TxRef       string           `json:"tx_ref"`
	AccountID   uuid.UUID        `json:"account_id"`
	Category    TransferCategory `json:"category"`
	Amount      int64            `json:"amount"`
	Charge      int64            `json:"charge"`
	Currency    string           `json:"currency"`
	Recipient   string           `json:"recipient"`
	RequiresOTP bool             `json:"requires_otp"`
	OccurredAt  time.Time        `json:"occurred_at"`
}

// OTPIssuedEvent carries the cleartext one-time code to the notification
// collaborator for out-of-band delivery. This payload must never be exposed on
// the HTTP surface.
type OTPIssuedEvent struct {
	TxRef      string    `json:"tx_ref"`
	AccountID  uuid.UUID `json:"account_id"`
	Code       string    `json:"code"`
	ExpiresAt  time.Time `json:"expires_at"`
	OccurredAt time.Time `json:"occurred_at"`
}

// StageVerifiedEvent records one successful stage advancement.
type StageVerifiedEvent struct {
	TxRef      string    `json:"tx_ref"`
	AccountID  uuid.UUID `json:"account_id"`
	Stage      StageName `json:"stage"`
	NextStage  StageName `json:"next_stage,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// TransferCompletedEvent announces settlement of a fully verified transfer.
type TransferCompletedEvent struct {
	TxRef      string    `json:"tx_ref"`
	AccountID  uuid.UUID `json:"account_id"`
	Amount     int64     `json:"amount"`
	Charge     int64     `json:"charge"`
	Currency   string    `json:"currency"`
	Recipient  string    `json:"recipient"`
	OccurredAt time.Time `json:"occurred_at"`
}

// TransferFailedEvent announces a terminal failure, e.g. insufficient funds
// discovered at settlement time.
type TransferFailedEvent struct {
	TxRef      string    `json:"tx_ref"`
	AccountID  uuid.UUID `json:"account_id"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurred_at"`
}
