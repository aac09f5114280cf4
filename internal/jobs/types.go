package jobs

// Status mirrors the daemon's torrent status numbering.
type Status int

const (
	StatusStopped Status = iota
	StatusQueuedVerify
	StatusVerifying
	StatusQueuedDownload
	StatusDownloading
	StatusQueuedSeed
	StatusSeeding
)

func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "stopped"
	case StatusQueuedVerify:
		return "queued-verify"
	case StatusVerifying:
		return "verifying"
	case StatusQueuedDownload:
		return "queued-download"
	case StatusDownloading:
		return "downloading"
	case StatusQueuedSeed:
		return "queued-seed"
	case StatusSeeding:
		return "seeding"
	default:
		return "unknown"
	}
}

// ErrorClass mirrors the daemon's torrent error numbering.
type ErrorClass int

const (
	ErrorNone ErrorClass = iota
	ErrorTrackerWarning
	ErrorTrackerError
	ErrorLocal
)

func (c ErrorClass) String() string {
	switch c {
	case ErrorNone:
		return "none"
	case ErrorTrackerWarning:
		return "tracker-warning"
	case ErrorTrackerError:
		return "tracker-error"
	case ErrorLocal:
		return "local"
	default:
		return "unknown"
	}
}

// RecoveryState is set client-side while a job is moving through the
// missing-data recovery flow. A state other than RecoveryNone overrides the
// nominal status for display and decision purposes.
type RecoveryState int

const (
	RecoveryNone RecoveryState = iota
	RecoveryChecking
	RecoveryAwaitingDecision
	RecoveryRelocating
	RecoveryBlocked
)

func (r RecoveryState) String() string {
	switch r {
	case RecoveryNone:
		return "none"
	case RecoveryChecking:
		return "checking"
	case RecoveryAwaitingDecision:
		return "awaiting-decision"
	case RecoveryRelocating:
		return "relocating"
	case RecoveryBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// ErrorEnvelope is attached to a snapshot when the daemon reports an abnormal
// condition. Recovery and Actions are client-side annotations carried across
// refreshes of the same identity.
type ErrorEnvelope struct {
	Class       ErrorClass
	Message     string
	LastErrorAt int64
	Recovery    RecoveryState
	Actions     []string
}

// JobSnapshot is one tracked item in the mirrored collection. The heartbeat
// manager owns the canonical copy; consumers receive clones.
type JobSnapshot struct {
	ID             int
	Hash           string
	Name           string
	Status         Status
	Progress       float64
	RateDownload   int64
	RateUpload     int64
	ETA            int64
	SizeWhenDone   int64
	LeftUntilDone  int64
	UploadedEver   int64
	DownloadedEver int64
	DoneDate       int64
	SecondsActive  int64
	DownloadDir    string
	IsFinished     bool
	Envelope       *ErrorEnvelope
}

// EffectiveState is what consumers display and branch on.
type EffectiveState struct {
	Status   Status
	Recovery RecoveryState
}

// Effective returns the job's state with any active recovery state applied
// over the nominal status.
func (j JobSnapshot) Effective() EffectiveState {
	if j.Envelope != nil && j.Envelope.Recovery != RecoveryNone {
		return EffectiveState{Status: j.Status, Recovery: j.Envelope.Recovery}
	}
	return EffectiveState{Status: j.Status}
}

// InRecovery reports whether a recovery state currently overrides the job's
// nominal status.
func (j JobSnapshot) InRecovery() bool {
	return j.Envelope != nil && j.Envelope.Recovery != RecoveryNone
}

// CompletedBytes is the locally verified byte count the daemon reports.
func (j JobSnapshot) CompletedBytes() int64 {
	done := j.SizeWhenDone - j.LeftUntilDone
	if done < 0 {
		return 0
	}
	return done
}

// Clone returns a deep copy safe to hand to subscribers.
func (j JobSnapshot) Clone() JobSnapshot {
	out := j
	if j.Envelope != nil {
		env := *j.Envelope
		env.Actions = append([]string(nil), j.Envelope.Actions...)
		out.Envelope = &env
	}
	return out
}

// CloneAll deep-copies a collection.
func CloneAll(list []JobSnapshot) []JobSnapshot {
	out := make([]JobSnapshot, len(list))
	for i, job := range list {
		out[i] = job.Clone()
	}
	return out
}

// CarryRecovery preserves client-side recovery annotations when a refreshed
// snapshot of the same identity still carries an error envelope.
func (j *JobSnapshot) CarryRecovery(prev JobSnapshot) {
	if j.Envelope == nil || prev.Envelope == nil || j.Hash != prev.Hash {
		return
	}
	j.Envelope.Recovery = prev.Envelope.Recovery
	j.Envelope.Actions = append([]string(nil), prev.Envelope.Actions...)
}
