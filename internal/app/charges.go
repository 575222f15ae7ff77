package app

import "github.com/scbank/transfer-service/internal/domain"

// FeeSchedule encodes the business fee parameters per transfer category:
// a basis-points rate with a per-category minimum. Values come from config so
// the schedule can change without a code change.
type FeeSchedule struct {
	LocalBPS                  int64
	LocalMinimumMinor         int64
	InternationalBPS          int64
	InternationalMinimumMinor int64
}

// ComputeCharge is a pure function of amount and category: same inputs always
// produce the same non-negative charge.
func ComputeCharge(amountMinor int64, cat domain.TransferCategory, fs FeeSchedule) int64 {
	var bps, minimum int64
	switch cat {
	case domain.CategoryLocal:
		bps, minimum = fs.LocalBPS, fs.LocalMinimumMinor
	case domain.CategoryInternational:
		bps, minimum = fs.InternationalBPS, fs.InternationalMinimumMinor
	default:
		return 0
	}
	if bps < 0 {
		bps = 0
	}
	if minimum < 0 {
		minimum = 0
	}
	charge := amountMinor * bps / 10000
	if charge < minimum {
		charge = minimum
	}
	return charge
}
