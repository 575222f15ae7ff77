/**
 * @description
 * This file implements the verification stage machine: the ordered stage plan per
 * transfer category and the rules for submitting a code against the current stage.
 * The machine is pure — it mutates only the in-memory Transfer and leaves
 * persistence and event emission to the application service.
 *
 * @notes
 * - Stages must be completed strictly in order. Submitting a stage other than the
 *   current one is rejected without consuming anything, so the same correct code
 *   may be resubmitted after a failed attempt.
 * - Only the `otp` stage carries an expiry. The admin-set stage codes (cot, imf,
 *   esi, dco, tax, tac) are system-wide configuration resolved via StageCodes.
 */

package domain

import "time"

// StageName identifies one verification responsibility in a transfer's plan.
type StageName string

const (
	StageOTP StageName = "otp"
	StageCOT StageName = "cot"
	StageIMF StageName = "imf"
	StageESI StageName = "esi"
	StageDCO StageName = "dco"
	StageTAX StageName = "tax"
	StageTAC StageName = "tac"
)

var localStagePlan = []StageName{StageOTP}

var internationalStagePlan = []StageName{StageCOT, StageIMF, StageESI, StageDCO, StageTAX, StageTAC}

// StagesForCategory returns the ordered stage plan for a category, or nil for an
// unknown category. The returned slice must not be mutated.
func StagesForCategory(cat TransferCategory) []StageName {
	switch cat {
	case CategoryLocal:
		return localStagePlan
	case CategoryInternational:
		return internationalStagePlan
	}
	return nil
}

// ParseStageName validates a raw stage name from the API layer.
func ParseStageName(raw string) (StageName, bool) {
	switch s := StageName(NormalizeCode(raw)); s {
	case StageOTP, StageCOT, StageIMF, StageESI, StageDCO, StageTAX, StageTAC:
		return s, true
	}
	return "", false
}

// StageState records the verification state of one required stage on a Transfer.
type StageState struct {
	Name       StageName  `json:"name"`
	Position   int        `json:"position"`
	Verified   bool       `json:"verified"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
}

// StageCodes resolves the expected administrator-set code for a stage. The otp
// stage is never resolved through this lookup; its expected value lives on the
// Transfer record as a digest.
type StageCodes map[StageName]string

// StageResult describes the outcome of a successful stage submission.
type StageResult struct {
	Stage     StageName `json:"stage"`
	Completed bool      `json:"completed"`
	// NextStage is set when further stages remain.
	NextStage StageName `json:"next_stage,omitempty"`
}

// SubmitStage validates a submitted code against the current stage and advances
// the stage pointer on success. The caller persists the mutation and performs
// settlement when the result reports completion.
func (t *Transfer) SubmitStage(stage StageName, code string, codes StageCodes, now time.Time) (StageResult, error) {
	if t.Status.IsTerminal() {
		return StageResult{}, ErrTransferTerminal
	}
	current, ok := t.AwaitingStage()
	if !ok {
		// All stages verified; settlement is pending but no further codes are accepted.
		return StageResult{}, ErrTransferTerminal
	}
	if stage != current {
		return StageResult{}, ErrWrongStage
	}

	if now.IsZero() {
		now = time.Now().UTC()
	}

	if stage == StageOTP {
		if t.OTPExpiresAt != nil && now.After(*t.OTPExpiresAt) {
			return StageResult{}, ErrCodeExpired
		}
		if t.OTPCodeHash == "" || HashCode(code) != t.OTPCodeHash {
			return StageResult{}, ErrInvalidCode
		}
	} else {
		expected, ok := codes[stage]
		if !ok || NormalizeCode(expected) == "" {
			return StageResult{}, ErrStageCodeUnset
		}
		if NormalizeCode(code) != NormalizeCode(expected) {
			return StageResult{}, ErrInvalidCode
		}
	}

	at := now
	t.Stages[t.CurrentStage].Verified = true
	t.Stages[t.CurrentStage].VerifiedAt = &at
	t.CurrentStage++
	t.UpdatedAt = now

	res := StageResult{Stage: stage, Completed: t.VerificationComplete()}
	if !res.Completed {
		res.NextStage = t.Stages[t.CurrentStage].Name
	}
	return res, nil
}

// IssueOTP stores the digest and expiry for a freshly generated one-time code.
// Re-issuing replaces any previous code.
func (t *Transfer) IssueOTP(code string, ttl time.Duration, now time.Time) error {
	if t.Status.IsTerminal() {
		return ErrTransferTerminal
	}
	if !t.RequiresOTP() {
		return ErrWrongStage
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	expiry := now.Add(ttl)
	t.OTPCodeHash = HashCode(code)
	t.OTPExpiresAt = &expiry
	t.UpdatedAt = now
	return nil
}
