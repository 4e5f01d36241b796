package domain

import "testing"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from TransferState
		to   TransferState
		want bool
	}{
		{"received to compliance checking", TransferStateReceived, TransferStateComplianceChecking, true},
		{"received to cancelled", TransferStateReceived, TransferStateCancelled, true},
		{"received cannot skip to submitting", TransferStateReceived, TransferStateSubmitting, false},
		{"received cannot skip to settled", TransferStateReceived, TransferStateSettled, false},
		{"checking to held", TransferStateComplianceChecking, TransferStateComplianceHeld, true},
		{"checking to blocked", TransferStateComplianceChecking, TransferStateComplianceBlocked, true},
		{"checking to submitting", TransferStateComplianceChecking, TransferStateSubmitting, true},
		{"checking to cancelled", TransferStateComplianceChecking, TransferStateCancelled, true},
		{"held releases back to checking", TransferStateComplianceHeld, TransferStateComplianceChecking, true},
		{"held cannot jump to submitting", TransferStateComplianceHeld, TransferStateSubmitting, false},
		{"submitting to submitted", TransferStateSubmitting, TransferStateSubmitted, true},
		{"submitting to failed", TransferStateSubmitting, TransferStateFailed, true},
		{"submitting cannot be cancelled", TransferStateSubmitting, TransferStateCancelled, false},
		{"submitted to settled", TransferStateSubmitted, TransferStateSettled, true},
		{"submitted to failed", TransferStateSubmitted, TransferStateFailed, true},
		{"settled is final", TransferStateSettled, TransferStateFailed, false},
		{"failed is final", TransferStateFailed, TransferStateSubmitted, false},
		{"blocked is final", TransferStateComplianceBlocked, TransferStateComplianceChecking, false},
		{"cancelled is final", TransferStateCancelled, TransferStateComplianceChecking, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Fatalf("CanTransition(%s, %s) = %t, want %t", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestIsTerminal(t *testing.T) {
	terminal := []TransferState{TransferStateComplianceBlocked, TransferStateSettled, TransferStateFailed, TransferStateCancelled}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Fatalf("expected %s to be terminal", s)
		}
	}

	// Held is parked, not terminal: an operator release re-enters the pipeline.
	nonTerminal := []TransferState{TransferStateReceived, TransferStateComplianceChecking, TransferStateComplianceHeld, TransferStateSubmitting, TransferStateSubmitted}
	for _, s := range nonTerminal {
		if s.IsTerminal() {
			t.Fatalf("expected %s to not be terminal", s)
		}
	}
}

func TestIsCancellable(t *testing.T) {
	if !TransferStateReceived.IsCancellable() {
		t.Fatal("expected received to be cancellable")
	}
	if !TransferStateComplianceChecking.IsCancellable() {
		t.Fatal("expected compliance_checking to be cancellable")
	}
	for _, s := range []TransferState{TransferStateSubmitting, TransferStateSubmitted, TransferStateSettled, TransferStateFailed, TransferStateComplianceHeld} {
		if s.IsCancellable() {
			t.Fatalf("expected %s to not be cancellable", s)
		}
	}
}
