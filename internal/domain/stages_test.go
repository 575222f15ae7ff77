package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

var testStageCodes = StageCodes{
	StageCOT: "COT-1111",
	StageIMF: "IMF-2222",
	StageESI: "ESI-3333",
	StageDCO: "DCO-4444",
	StageTAX: "TAX-5555",
	StageTAC: "TAC-6666",
}

func newTestTransfer(t *testing.T, cat TransferCategory) *Transfer {
	t.Helper()
	tr, err := NewTransfer(NewTransferParams{
		TxRef:       NewTxRef(),
		AccountID:   uuid.New(),
		Category:    cat,
		AmountMinor: 100000,
		ChargeMinor: 500,
		Currency:    "USD",
		Recipient:   Recipient{BankName: "First Bank", AccountNumber: "0123456789", HolderName: "Jane Doe"},
		Now:         time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("NewTransfer returned error: %v", err)
	}
	return tr
}

func TestStagesForCategory_PlansAreFixed(t *testing.T) {
	local := StagesForCategory(CategoryLocal)
	if len(local) != 1 || local[0] != StageOTP {
		t.Fatalf("expected local plan [otp], got %v", local)
	}

	intl := StagesForCategory(CategoryInternational)
	want := []StageName{StageCOT, StageIMF, StageESI, StageDCO, StageTAX, StageTAC}
	if len(intl) != len(want) {
		t.Fatalf("expected %d international stages, got %d", len(want), len(intl))
	}
	for i, name := range want {
		if intl[i] != name {
			t.Fatalf("expected stage %d to be %s, got %s", i, name, intl[i])
		}
	}

	if StagesForCategory("wire") != nil {
		t.Fatal("expected nil plan for unknown category")
	}
}

func TestSubmitStage_LocalCompletesAfterSingleOTP(t *testing.T) {
	tr := newTestTransfer(t, CategoryLocal)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	if err := tr.IssueOTP("482913", 10*time.Minute, now); err != nil {
		t.Fatalf("IssueOTP returned error: %v", err)
	}

	res, err := tr.SubmitStage(StageOTP, " 482913 ", testStageCodes, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("SubmitStage returned error: %v", err)
	}
	if !res.Completed {
		t.Fatal("expected completion after the single otp stage")
	}
	if !tr.VerificationComplete() {
		t.Fatal("expected verification to be complete")
	}
	if !tr.Stages[0].Verified || tr.Stages[0].VerifiedAt == nil {
		t.Fatal("expected otp stage marked verified with timestamp")
	}
}

func TestSubmitStage_OTPExpiryRejectsCorrectCode(t *testing.T) {
	tr := newTestTransfer(t, CategoryLocal)
	issued := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	if err := tr.IssueOTP("482913", 10*time.Minute, issued); err != nil {
		t.Fatalf("IssueOTP returned error: %v", err)
	}

	_, err := tr.SubmitStage(StageOTP, "482913", testStageCodes, issued.Add(11*time.Minute))
	if err != ErrCodeExpired {
		t.Fatalf("expected ErrCodeExpired, got %v", err)
	}
	if tr.CurrentStage != 0 || tr.Stages[0].Verified {
		t.Fatal("expected state unchanged after expired submission")
	}
}

func TestSubmitStage_InternationalEnforcesOrder(t *testing.T) {
	tr := newTestTransfer(t, CategoryInternational)
	now := time.Now().UTC()

	// The first required stage is cot; everything else is out of order.
	for _, stage := range []StageName{StageIMF, StageESI, StageDCO, StageTAX, StageTAC} {
		if _, err := tr.SubmitStage(stage, string(stage), testStageCodes, now); err != ErrWrongStage {
			t.Fatalf("expected ErrWrongStage for %s, got %v", stage, err)
		}
	}
	if tr.CurrentStage != 0 {
		t.Fatalf("expected stage pointer unchanged, got %d", tr.CurrentStage)
	}
}

func TestSubmitStage_InternationalFullChain(t *testing.T) {
	tr := newTestTransfer(t, CategoryInternational)
	now := time.Now().UTC()

	chain := []StageName{StageCOT, StageIMF, StageESI, StageDCO, StageTAX, StageTAC}
	for i, stage := range chain {
		res, err := tr.SubmitStage(stage, testStageCodes[stage], testStageCodes, now)
		if err != nil {
			t.Fatalf("stage %s: SubmitStage returned error: %v", stage, err)
		}
		// Resubmitting the stage that just verified is out of order now.
		if i < len(chain)-1 {
			if _, err := tr.SubmitStage(stage, testStageCodes[stage], testStageCodes, now); err != ErrWrongStage {
				t.Fatalf("stage %s: expected ErrWrongStage on resubmission, got %v", stage, err)
			}
		}
		if i < len(chain)-1 {
			if res.Completed {
				t.Fatalf("stage %s: unexpected completion", stage)
			}
			if res.NextStage != chain[i+1] {
				t.Fatalf("stage %s: expected next stage %s, got %s", stage, chain[i+1], res.NextStage)
			}
		} else if !res.Completed {
			t.Fatal("expected completion after tac")
		}
	}

	// A verified stage cannot be resubmitted.
	if _, err := tr.SubmitStage(StageTAC, testStageCodes[StageTAC], testStageCodes, now); err != ErrTransferTerminal {
		t.Fatalf("expected ErrTransferTerminal after full verification, got %v", err)
	}
}

func TestSubmitStage_WrongCodeDoesNotConsumeStage(t *testing.T) {
	tr := newTestTransfer(t, CategoryInternational)
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		if _, err := tr.SubmitStage(StageCOT, "wrong", testStageCodes, now); err != ErrInvalidCode {
			t.Fatalf("attempt %d: expected ErrInvalidCode, got %v", i, err)
		}
		if tr.CurrentStage != 0 || tr.Stages[0].Verified {
			t.Fatalf("attempt %d: expected state unchanged", i)
		}
	}

	// The same correct code still works after failed attempts.
	if _, err := tr.SubmitStage(StageCOT, "cot-1111", testStageCodes, now); err != nil {
		t.Fatalf("expected correct code to verify after failures, got %v", err)
	}
}

func TestSubmitStage_CaseInsensitiveTrimmedComparison(t *testing.T) {
	tr := newTestTransfer(t, CategoryInternational)
	if _, err := tr.SubmitStage(StageCOT, "  cOt-1111\n", testStageCodes, time.Now().UTC()); err != nil {
		t.Fatalf("expected normalized comparison to accept code, got %v", err)
	}
}

func TestSubmitStage_TerminalStatusRejectsEverything(t *testing.T) {
	tr := newTestTransfer(t, CategoryInternational)
	tr.Status = StatusFailed

	if _, err := tr.SubmitStage(StageCOT, testStageCodes[StageCOT], testStageCodes, time.Now().UTC()); err != ErrTransferTerminal {
		t.Fatalf("expected ErrTransferTerminal, got %v", err)
	}
}

func TestSubmitStage_MissingConfiguredCode(t *testing.T) {
	tr := newTestTransfer(t, CategoryInternational)
	if _, err := tr.SubmitStage(StageCOT, "anything", StageCodes{}, time.Now().UTC()); err != ErrStageCodeUnset {
		t.Fatalf("expected ErrStageCodeUnset, got %v", err)
	}
}

func TestSubmitStage_ZeroStagePlanIsAlreadyComplete(t *testing.T) {
	tr := newTestTransfer(t, CategoryLocal)
	tr.Stages = nil
	tr.CurrentStage = 0

	if !tr.VerificationComplete() {
		t.Fatal("expected zero-stage plan to be complete")
	}
	if _, ok := tr.AwaitingStage(); ok {
		t.Fatal("expected no awaited stage")
	}
	if _, err := tr.SubmitStage(StageOTP, "123456", testStageCodes, time.Now().UTC()); err != ErrTransferTerminal {
		t.Fatalf("expected ErrTransferTerminal, got %v", err)
	}
}

func TestIssueOTP_RejectedForInternational(t *testing.T) {
	tr := newTestTransfer(t, CategoryInternational)
	if err := tr.IssueOTP("123456", 10*time.Minute, time.Now().UTC()); err != ErrWrongStage {
		t.Fatalf("expected ErrWrongStage, got %v", err)
	}
}

func TestParseStageName(t *testing.T) {
	if s, ok := ParseStageName(" OTP "); !ok || s != StageOTP {
		t.Fatalf("expected otp, got %q ok=%t", s, ok)
	}
	if _, ok := ParseStageName("pin"); ok {
		t.Fatal("expected unknown stage to be rejected")
	}
}
