/**
 * @description
 * The permission gate: a pure decision function over an account's permission
 * flags and the global per-category kill switches. Every denial reason is a
 * distinct sentinel so the audit trail can record exactly why a transfer was
 * refused.
 */

package app

import (
	"errors"

	"github.com/scbank/transfer-service/internal/domain"
)

var (
	ErrAccountNotVerified             = errors.New("account is not verified")
	ErrTransfersDisabled              = errors.New("transfers are disabled for this account")
	ErrLocalTransfersDisabled         = errors.New("local transfers are disabled for this account")
	ErrInternationalTransfersDisabled = errors.New("international transfers are disabled for this account")
	ErrLocalTransfersSuspended        = errors.New("local transfers are suspended system-wide")
	ErrInternationalSuspended         = errors.New("international transfers are suspended system-wide")
)

// Switches are the admin-level transfer freeze flags. They gate whole categories
// regardless of per-account permissions.
type Switches struct {
	LocalEnabled         bool
	InternationalEnabled bool
}

// CheckPermission decides whether the account may initiate a transfer of the
// given category. It has no side effects; callers audit the outcome.
func CheckPermission(acct *domain.Account, cat domain.TransferCategory, sw Switches) error {
	if !acct.Verified {
		return ErrAccountNotVerified
	}
	if !acct.CanTransfer {
		return ErrTransfersDisabled
	}
	switch cat {
	case domain.CategoryLocal:
		if !sw.LocalEnabled {
			return ErrLocalTransfersSuspended
		}
		if !acct.CanLocalTransfer {
			return ErrLocalTransfersDisabled
		}
	case domain.CategoryInternational:
		if !sw.InternationalEnabled {
			return ErrInternationalSuspended
		}
		if !acct.CanInternationalTransfer {
			return ErrInternationalTransfersDisabled
		}
	default:
		return domain.ErrUnknownCategory
	}
	return nil
}

// DenialReason maps a gate error to the machine-checkable reason recorded in the
// audit log and returned to the caller.
func DenialReason(err error) string {
	switch {
	case errors.Is(err, ErrAccountNotVerified):
		return "account_unverified"
	case errors.Is(err, ErrTransfersDisabled):
		return "transfers_disabled"
	case errors.Is(err, ErrLocalTransfersDisabled):
		return "local_disabled"
	case errors.Is(err, ErrInternationalTransfersDisabled):
		return "international_disabled"
	case errors.Is(err, ErrLocalTransfersSuspended):
		return "local_suspended"
	case errors.Is(err, ErrInternationalSuspended):
		return "international_suspended"
	}
	return "denied"
}
