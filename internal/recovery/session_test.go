package recovery

import "testing"

func TestSessionRegistryBeginIsIdempotent(t *testing.T) {
	r := NewSessionRegistry()

	first, created := r.Begin("hash-a")
	if !created {
		t.Fatal("first Begin did not create")
	}
	if first.ID == "" || first.JobHash != "hash-a" {
		t.Fatalf("bad session: %+v", first)
	}

	second, created := r.Begin("hash-a")
	if created {
		t.Fatal("second Begin created a duplicate")
	}
	if second.ID != first.ID {
		t.Fatalf("session id changed: %s vs %s", second.ID, first.ID)
	}
	if r.ActiveCount() != 1 {
		t.Fatalf("active = %d, want 1", r.ActiveCount())
	}
}

func TestSessionRegistryResolveDeliversOutcome(t *testing.T) {
	r := NewSessionRegistry()
	s, _ := r.Begin("hash-a")

	if !r.Resolve("hash-a", OutcomeAutoRecovered) {
		t.Fatal("Resolve returned false for active session")
	}
	select {
	case got := <-s.Done:
		if got != OutcomeAutoRecovered {
			t.Fatalf("outcome = %v, want auto-recovered", got)
		}
	default:
		t.Fatal("Done channel empty after Resolve")
	}

	if _, ok := r.Lookup("hash-a"); ok {
		t.Fatal("session survived Resolve")
	}
	if r.Resolve("hash-a", OutcomeBlocked) {
		t.Fatal("Resolve succeeded twice")
	}
}

func TestSessionRegistryCancel(t *testing.T) {
	r := NewSessionRegistry()
	s, _ := r.Begin("hash-a")

	if !r.Cancel("hash-a") {
		t.Fatal("Cancel returned false")
	}
	if got := <-s.Done; got != OutcomeCancelled {
		t.Fatalf("outcome = %v, want cancelled", got)
	}
	if r.Cancel("hash-a") {
		t.Fatal("Cancel succeeded twice")
	}
}

func TestSessionRegistryIsolatesJobs(t *testing.T) {
	r := NewSessionRegistry()
	a, _ := r.Begin("hash-a")
	b, _ := r.Begin("hash-b")
	if a.ID == b.ID {
		t.Fatal("distinct jobs shared a session id")
	}

	r.Resolve("hash-a", OutcomeBlocked)
	if _, ok := r.Lookup("hash-b"); !ok {
		t.Fatal("resolving one job destroyed another's session")
	}
}
