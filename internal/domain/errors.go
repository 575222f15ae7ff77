package domain

import "errors"

var (
	ErrMissingTxRef     = errors.New("transfer: tx_ref is required")
	ErrInvalidAccountID = errors.New("transfer: invalid account id")
	ErrInvalidAmount    = errors.New("transfer: amount must be > 0")
	ErrInvalidCharge    = errors.New("transfer: charge must be >= 0")
	ErrInvalidCurrency  = errors.New("transfer: currency must be a 3-letter code")
	ErrUnknownCategory  = errors.New("transfer: unknown transfer category")

	ErrTransferTerminal = errors.New("transfer: record is no longer pending")
	ErrWrongStage       = errors.New("transfer: stage is not the current verification stage")
	ErrInvalidCode      = errors.New("transfer: submitted code does not match")
	ErrCodeExpired      = errors.New("transfer: one-time code has expired")
	ErrStageCodeUnset   = errors.New("transfer: no expected code configured for stage")
)
