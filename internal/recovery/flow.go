package recovery

import (
	"context"
	"sync"
	"time"

	"github.com/tinytorrent/ttsync/internal/jobs"
	"github.com/tinytorrent/ttsync/internal/rpc"
)

// DispositionFunc receives every resolved disposition, typically to drive UI
// state. Called from Flow goroutines; implementations must not block.
type DispositionFunc func(job jobs.JobSnapshot, d Disposition, c Classification)

// FlowOptions configures a Flow. Client and Evidence are required; the rest
// default sensibly.
type FlowOptions struct {
	Client        rpc.Client
	Evidence      Evidence
	Backoff       BackoffScheduler
	Watcher       *DirWatcher
	Logger        Logger
	OnDisposition DispositionFunc

	// VerifyTimeout bounds each torrent-verify RPC.
	VerifyTimeout time.Duration
}

// Flow orchestrates recovery for errored jobs: it classifies them, opens
// sessions, resolves dispositions, paces automatic rechecks with backoff, and
// watches lost directories for return.
type Flow struct {
	client  rpc.Client
	evid    Evidence
	backoff BackoffScheduler
	watcher *DirWatcher
	logger  Logger
	notify  DispositionFunc
	verifyT time.Duration

	registry *SessionRegistry

	mu       sync.Mutex
	attempts map[string]int
	timers   map[string]*time.Timer
	awaiting map[string]string
	closed   bool
}

func NewFlow(opts FlowOptions) *Flow {
	if opts.VerifyTimeout <= 0 {
		opts.VerifyTimeout = 15 * time.Second
	}
	return &Flow{
		client:   opts.Client,
		evid:     opts.Evidence,
		backoff:  opts.Backoff,
		watcher:  opts.Watcher,
		logger:   opts.Logger,
		notify:   opts.OnDisposition,
		verifyT:  opts.VerifyTimeout,
		registry: NewSessionRegistry(),
		attempts: map[string]int{},
		timers:   map[string]*time.Timer{},
		awaiting: map[string]string{},
	}
}

// Sessions exposes the registry for read-only inspection.
func (f *Flow) Sessions() *SessionRegistry { return f.registry }

// Observe processes a fresh job collection. Healthy jobs settle their
// sessions; errored jobs get classified and dispatched. Safe to call on every
// heartbeat update.
func (f *Flow) Observe(list []jobs.JobSnapshot) {
	for i := range list {
		job := list[i]
		if job.Envelope == nil || job.Envelope.Class != jobs.ErrorLocal {
			f.settle(job.Hash)
			continue
		}
		f.handleErrored(job)
	}
}

// Recheck is the user-initiated path: verify now, bypassing the backoff
// pacing and the modal.
func (f *Flow) Recheck(job jobs.JobSnapshot) {
	_, ok := f.registry.Lookup(job.Hash)
	d := Determine(FlowOutcome{}, Context{ManualRecheck: true, ActiveSession: ok})
	if d.Action == ActionEnqueue {
		f.registry.Begin(job.Hash)
	}
	f.emit(job, d, Classification{})
	f.verify(job)
}

// Relocate is the user's answer to a path-loss decision: re-point the job at
// newDir without moving data, then verify so the daemon re-adopts whatever is
// already there. The session settles on the next healthy observation.
func (f *Flow) Relocate(job jobs.JobSnapshot, newDir string) error {
	ctx, cancel := context.WithTimeout(context.Background(), f.verifyT)
	defer cancel()
	if err := f.client.TorrentSetLocation(ctx, []int{job.ID}, newDir, false); err != nil {
		return err
	}
	f.verify(job)
	return nil
}

// Abort cancels the job's recovery: the session resolves to cancelled, any
// scheduled recheck is dropped and the directory watch released.
func (f *Flow) Abort(jobHash string) {
	f.registry.Cancel(jobHash)
	f.mu.Lock()
	delete(f.attempts, jobHash)
	if t := f.timers[jobHash]; t != nil {
		t.Stop()
		delete(f.timers, jobHash)
	}
	lost := f.awaiting[jobHash]
	delete(f.awaiting, jobHash)
	f.mu.Unlock()
	if lost != "" && f.watcher != nil {
		f.watcher.Cancel(lost)
	}
}

// Close cancels every active session.
func (f *Flow) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	for _, h := range f.registry.ActiveHashes() {
		f.Abort(h)
	}
}

func (f *Flow) handleErrored(job jobs.JobSnapshot) {
	cls := Classify(job, f.evid)
	if cls.Kind == KindOK {
		return
	}

	_, created := f.registry.Begin(job.Hash)
	outcome := outcomeFor(cls.Kind)
	// A repeat observation joins the session opened earlier; the feedback
	// was already shown then.
	d := Determine(
		FlowOutcome{Pending: true, Outcome: outcome, Classification: cls},
		Context{ActiveSession: !created, SuppressFeedback: !created},
	)
	f.emit(job, d, cls)

	switch cls.Kind {
	case KindDataGap:
		f.scheduleVerify(job)
	case KindPathLoss, KindVolumeLoss:
		f.awaitReturn(job)
	}
}

// settle resolves a job's session once the daemon reports it healthy again.
func (f *Flow) settle(jobHash string) {
	if _, ok := f.registry.Lookup(jobHash); !ok {
		return
	}
	f.registry.Resolve(jobHash, OutcomeAutoRecovered)
	f.mu.Lock()
	delete(f.attempts, jobHash)
	if t := f.timers[jobHash]; t != nil {
		t.Stop()
		delete(f.timers, jobHash)
	}
	lost := f.awaiting[jobHash]
	delete(f.awaiting, jobHash)
	f.mu.Unlock()
	if lost != "" && f.watcher != nil {
		f.watcher.Cancel(lost)
	}
}

// scheduleVerify paces an unattended recheck. Re-observing the same errored
// job while a timer is pending is a no-op; the attempt counter only advances
// when a verify actually fires.
func (f *Flow) scheduleVerify(job jobs.JobSnapshot) {
	f.mu.Lock()
	if f.closed || f.timers[job.Hash] != nil {
		f.mu.Unlock()
		return
	}
	attempt := f.attempts[job.Hash] + 1
	f.attempts[job.Hash] = attempt
	delay := f.backoff.ComputeDelay(jobs.Fingerprint([]jobs.JobSnapshot{job}), attempt)
	f.timers[job.Hash] = time.AfterFunc(delay, func() {
		f.mu.Lock()
		delete(f.timers, job.Hash)
		closed := f.closed
		f.mu.Unlock()
		if closed {
			return
		}
		f.verify(job)
	})
	f.mu.Unlock()
}

func (f *Flow) awaitReturn(job jobs.JobSnapshot) {
	if f.watcher == nil || job.DownloadDir == "" {
		return
	}
	f.mu.Lock()
	if f.awaiting[job.Hash] != "" {
		f.mu.Unlock()
		return
	}
	f.awaiting[job.Hash] = job.DownloadDir
	f.mu.Unlock()

	err := f.watcher.Await(job.DownloadDir, func(string) {
		f.mu.Lock()
		delete(f.awaiting, job.Hash)
		f.mu.Unlock()
		f.verify(job)
	})
	if err != nil {
		f.mu.Lock()
		delete(f.awaiting, job.Hash)
		f.mu.Unlock()
		f.logf("watch %s: %v", job.DownloadDir, err)
	}
}

func (f *Flow) verify(job jobs.JobSnapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), f.verifyT)
	defer cancel()
	if err := f.client.TorrentAction(ctx, "torrent-verify", []int{job.ID}); err != nil {
		f.logf("verify %s: %v", job.Hash, err)
	}
}

func (f *Flow) emit(job jobs.JobSnapshot, d Disposition, c Classification) {
	if f.notify != nil {
		f.notify(job, d, c)
	}
}

func (f *Flow) logf(format string, args ...any) {
	if f.logger != nil {
		f.logger.Printf(format, args...)
	}
}

// outcomeFor maps a classification onto the recovery outcome it implies when
// no user is in the loop yet.
func outcomeFor(kind Kind) SessionOutcome {
	switch kind {
	case KindDataGap:
		return OutcomeAutoInProgress
	case KindPathLoss:
		return OutcomeNeedsUserDecision
	case KindVolumeLoss, KindAccessDenied:
		return OutcomeBlocked
	default:
		return OutcomeAutoRecovered
	}
}
