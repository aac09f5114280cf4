package jobs

import "testing"

func TestEffectiveRecoveryOverride(t *testing.T) {
	job := JobSnapshot{
		Status: StatusDownloading,
		Envelope: &ErrorEnvelope{
			Class:    ErrorLocal,
			Recovery: RecoveryAwaitingDecision,
		},
	}
	state := job.Effective()
	if state.Recovery != RecoveryAwaitingDecision {
		t.Fatalf("expected recovery state to surface, got %s", state.Recovery)
	}
	if !job.InRecovery() {
		t.Fatalf("expected InRecovery to report true")
	}

	job.Envelope.Recovery = RecoveryNone
	state = job.Effective()
	if state.Recovery != RecoveryNone {
		t.Fatalf("expected nominal state when recovery is idle, got %s", state.Recovery)
	}
	if job.InRecovery() {
		t.Fatalf("expected InRecovery to report false with idle recovery state")
	}
}

func TestEffectiveWithoutEnvelope(t *testing.T) {
	job := JobSnapshot{Status: StatusSeeding}
	state := job.Effective()
	if state.Status != StatusSeeding || state.Recovery != RecoveryNone {
		t.Fatalf("unexpected effective state %+v", state)
	}
}

func TestCloneIsDeep(t *testing.T) {
	job := JobSnapshot{
		ID:   7,
		Hash: "abc",
		Envelope: &ErrorEnvelope{
			Class:   ErrorLocal,
			Message: "data missing",
			Actions: []string{"recheck"},
		},
	}
	clone := job.Clone()
	clone.Envelope.Message = "changed"
	clone.Envelope.Actions[0] = "redownload"
	if job.Envelope.Message != "data missing" {
		t.Fatalf("clone mutation leaked into envelope message")
	}
	if job.Envelope.Actions[0] != "recheck" {
		t.Fatalf("clone mutation leaked into envelope actions")
	}
}

func TestCarryRecovery(t *testing.T) {
	prev := JobSnapshot{
		Hash: "abc",
		Envelope: &ErrorEnvelope{
			Class:    ErrorLocal,
			Recovery: RecoveryChecking,
			Actions:  []string{"recheck"},
		},
	}
	next := JobSnapshot{
		Hash:     "abc",
		Envelope: &ErrorEnvelope{Class: ErrorLocal, Message: "still broken"},
	}
	next.CarryRecovery(prev)
	if next.Envelope.Recovery != RecoveryChecking {
		t.Fatalf("expected recovery state carried, got %s", next.Envelope.Recovery)
	}
	if len(next.Envelope.Actions) != 1 || next.Envelope.Actions[0] != "recheck" {
		t.Fatalf("expected actions carried, got %v", next.Envelope.Actions)
	}

	replaced := JobSnapshot{
		Hash:     "different",
		Envelope: &ErrorEnvelope{Class: ErrorLocal},
	}
	replaced.CarryRecovery(prev)
	if replaced.Envelope.Recovery != RecoveryNone {
		t.Fatalf("recovery state must not carry across identity changes")
	}

	healthy := JobSnapshot{Hash: "abc"}
	healthy.CarryRecovery(prev)
	if healthy.Envelope != nil {
		t.Fatalf("healthy refresh must not regain an envelope")
	}
}

func TestCompletedBytes(t *testing.T) {
	job := JobSnapshot{SizeWhenDone: 100, LeftUntilDone: 30}
	if got := job.CompletedBytes(); got != 70 {
		t.Fatalf("expected 70 completed bytes, got %d", got)
	}
	job = JobSnapshot{SizeWhenDone: 0, LeftUntilDone: 10}
	if got := job.CompletedBytes(); got != 0 {
		t.Fatalf("expected clamp to zero, got %d", got)
	}
}

func TestEnumStrings(t *testing.T) {
	if StatusDownloading.String() != "downloading" {
		t.Fatalf("unexpected status string %q", StatusDownloading.String())
	}
	if Status(99).String() != "unknown" {
		t.Fatalf("unexpected fallback status string")
	}
	if ErrorLocal.String() != "local" {
		t.Fatalf("unexpected error class string %q", ErrorLocal.String())
	}
	if RecoveryBlocked.String() != "blocked" {
		t.Fatalf("unexpected recovery string %q", RecoveryBlocked.String())
	}
}
