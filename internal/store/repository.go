/**
 * @description
 * This file defines the `Repository` interface: the contract for all persistence
 * operations required by the transfer-service. The interface decouples the
 * workflow logic from PostgreSQL so the service can be unit-tested against
 * hand-rolled stubs.
 *
 * @notes
 * - The balance operations carry the concurrency contract of the ledger: a debit
 *   is atomic with respect to the balance read and never drives a balance
 *   negative. A missing currency row reads as a zero balance.
 * - AdvanceTransferStage is an optimistic conditional update keyed on the current
 *   stage pointer; a losing concurrent writer observes ErrStageConflict.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/scbank/transfer-service/internal/domain"
)

var (
	ErrAccountNotFound    = errors.New("account not found")
	ErrTransferNotFound   = errors.New("transfer not found")
	ErrDuplicateTxRef     = errors.New("transfer reference already exists")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrStageConflict      = errors.New("stage pointer moved concurrently")
	ErrTransferNotPending = errors.New("transfer is not pending")
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Account methods
	FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error)

	// Balance ledger methods
	GetBalance(ctx context.Context, accountID uuid.UUID, currency string) (int64, error)
	DebitBalance(ctx context.Context, accountID uuid.UUID, currency string, amountMinor int64) error
	CreditBalance(ctx context.Context, accountID uuid.UUID, currency string, amountMinor int64) error

	// Transfer record methods
	CreateTransfer(ctx context.Context, t *domain.Transfer) error
	FindTransferByRef(ctx context.Context, txRef string) (*domain.Transfer, error)
	AdvanceTransferStage(ctx context.Context, txRef string, fromStage int, verifiedAt time.Time) error
	UpdateTransferOTP(ctx context.Context, txRef string, codeHash string, expiresAt time.Time) error
	// SettleTransfer debits amount+charge from the sender's balance and flips the
	// record to success in a single transaction. Returns ErrInsufficientFunds
	// without mutating anything when the balance no longer covers the total, and
	// ErrTransferNotPending when the record already reached a terminal status.
	SettleTransfer(ctx context.Context, t *domain.Transfer, completedAt time.Time) error
	MarkTransferFailed(ctx context.Context, txRef string, reason string) error

	// Audit trail (append-only)
	AppendAuditEntry(ctx context.Context, entry domain.AuditEntry) error
}
