package recovery

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session ties one job's recovery attempt to its pending outcome. At most one
// session is active per job hash; Done yields exactly one final outcome.
type Session struct {
	ID        string
	JobHash   string
	StartedAt time.Time
	Done      <-chan SessionOutcome
}

type activeSession struct {
	id       string
	started  time.Time
	done     chan SessionOutcome
	resolved bool
}

// SessionRegistry owns recovery session state. Everything else consumes it
// read-only.
type SessionRegistry struct {
	mu     sync.Mutex
	byHash map[string]*activeSession
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{byHash: map[string]*activeSession{}}
}

// Begin returns the job's session, creating one if none is active. The bool
// reports whether this call created it.
func (r *SessionRegistry) Begin(jobHash string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byHash[jobHash]; ok {
		return sessionView(jobHash, existing), false
	}
	created := &activeSession{
		id:      uuid.NewString(),
		started: time.Now(),
		done:    make(chan SessionOutcome, 1),
	}
	r.byHash[jobHash] = created
	return sessionView(jobHash, created), true
}

// Lookup returns the active session for a job, if any.
func (r *SessionRegistry) Lookup(jobHash string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	active, ok := r.byHash[jobHash]
	if !ok {
		return Session{}, false
	}
	return sessionView(jobHash, active), true
}

// Resolve settles and destroys the job's session with a final outcome.
// Returns false when no session was active.
func (r *SessionRegistry) Resolve(jobHash string, outcome SessionOutcome) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	active, ok := r.byHash[jobHash]
	if !ok {
		return false
	}
	if !active.resolved {
		active.resolved = true
		active.done <- outcome
	}
	delete(r.byHash, jobHash)
	return true
}

// Cancel aborts the session: the pending outcome resolves to cancelled rather
// than silently vanishing.
func (r *SessionRegistry) Cancel(jobHash string) bool {
	return r.Resolve(jobHash, OutcomeCancelled)
}

// ActiveHashes lists the jobs that currently hold a session.
func (r *SessionRegistry) ActiveHashes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	hashes := make([]string, 0, len(r.byHash))
	for h := range r.byHash {
		hashes = append(hashes, h)
	}
	return hashes
}

// ActiveCount reports how many jobs currently hold a session.
func (r *SessionRegistry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byHash)
}

func sessionView(jobHash string, active *activeSession) Session {
	return Session{
		ID:        active.id,
		JobHash:   jobHash,
		StartedAt: active.started,
		Done:      active.done,
	}
}
