/**
 * @description
 * Input validation and sanitization for transfer initiation. Free-text fields
 * are scrubbed with bluemonday's strict policy (all markup removed), trimmed,
 * and truncated before any validation decision, so nothing that reaches the
 * database can carry markup or unbounded length.
 *
 * @dependencies
 * - github.com/microcosm-cc/bluemonday: HTML sanitizer, strict policy.
 */

package app

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
	"github.com/scbank/transfer-service/internal/domain"
)

const (
	maxFreeTextRunes        = 1000
	minAccountNumberDigits  = 10
	maxAccountNumberDigits  = 20
)

var strictPolicy = bluemonday.StrictPolicy()

// ValidationError reports which field failed and why. The reason is
// machine-checkable; handlers surface it verbatim.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: field=%s reason=%s", e.Field, e.Reason)
}

// TransferInput is the initiation payload after JSON decoding, before
// sanitization. ValidateTransferInput returns the sanitized copy that is safe
// to persist.
type TransferInput struct {
	Category      domain.TransferCategory
	AmountMinor   int64
	Currency      string
	BankName      string
	AccountNumber string
	HolderName    string
	Country       string
	RoutingCode   string
	BranchName    string
	AccountType   string
	Description   string
	ChargesType   string
}

// sanitizeText strips markup, trims, and bounds a free-text field.
func sanitizeText(s string) string {
	clean := strictPolicy.Sanitize(s)
	// The strict policy escapes rather than drops stray angle brackets; remove
	// them outright so stored text can never reassemble markup.
	clean = strings.NewReplacer("<", "", ">", "", "&lt;", "", "&gt;", "").Replace(clean)
	clean = strings.TrimSpace(clean)
	runes := []rune(clean)
	if len(runes) > maxFreeTextRunes {
		clean = string(runes[:maxFreeTextRunes])
	}
	return clean
}

// normalizeAccountNumber removes all whitespace so formatted input like
// "0123 4567 89" validates as its digit string.
func normalizeAccountNumber(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

func digitsOnly(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// ValidateTransferInput checks amount bounds and account-number format and
// sanitizes every free-text field. It returns the sanitized input; the caller
// must persist only the returned copy. Nothing is coerced silently — every
// rejection names its field and reason.
func ValidateTransferInput(in TransferInput, ceilingMinor int64) (TransferInput, error) {
	if in.AmountMinor <= 0 {
		return in, &ValidationError{Field: "amount", Reason: "must_be_positive"}
	}
	if ceilingMinor > 0 && in.AmountMinor > ceilingMinor {
		return in, &ValidationError{Field: "amount", Reason: "exceeds_transaction_ceiling"}
	}

	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	if len(in.Currency) != 3 {
		return in, &ValidationError{Field: "currency", Reason: "must_be_3_letter_code"}
	}

	in.AccountNumber = normalizeAccountNumber(in.AccountNumber)
	if !digitsOnly(in.AccountNumber) {
		return in, &ValidationError{Field: "account_number", Reason: "digits_only"}
	}
	if n := len(in.AccountNumber); n < minAccountNumberDigits || n > maxAccountNumberDigits {
		return in, &ValidationError{Field: "account_number", Reason: "length_out_of_range"}
	}

	in.BankName = sanitizeText(in.BankName)
	in.HolderName = sanitizeText(in.HolderName)
	in.Country = sanitizeText(in.Country)
	in.RoutingCode = sanitizeText(in.RoutingCode)
	in.BranchName = sanitizeText(in.BranchName)
	in.AccountType = sanitizeText(in.AccountType)
	in.Description = sanitizeText(in.Description)
	in.ChargesType = sanitizeText(in.ChargesType)

	if in.BankName == "" {
		return in, &ValidationError{Field: "bank_name", Reason: "required"}
	}
	if in.HolderName == "" {
		return in, &ValidationError{Field: "account_holder", Reason: "required"}
	}

	return in, nil
}
