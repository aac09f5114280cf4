// Package heartbeat drives the poll loop that keeps a local mirror of the
// daemon's torrent collection fresh: full fetches, incremental deltas with
// drift correction, fingerprint-based change suppression, and liveness-driven
// suspension. The daemon offers no push transport; this manager decides when
// and how often to ask.
package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tinytorrent/ttsync/internal/jobs"
	"github.com/tinytorrent/ttsync/internal/liveness"
	"github.com/tinytorrent/ttsync/internal/rpc"
)

var ErrDisposed = errors.New("heartbeat manager disposed")

type Logger interface {
	Printf(format string, args ...any)
}

type Mode int

const (
	ModeTable Mode = iota
	ModeDetail
)

func (m Mode) String() string {
	switch m {
	case ModeTable:
		return "table"
	case ModeDetail:
		return "detail"
	default:
		return "unknown"
	}
}

// Subscription registers interest in one polling mode. OnUpdate receives
// defensive copies; neither callback is invoked after Unsubscribe returns.
type Subscription struct {
	Mode     Mode
	DetailID int
	Interval time.Duration
	OnUpdate func([]jobs.JobSnapshot)
	OnError  func(error)
}

// Handle detaches a subscription. Unsubscribing twice is safe.
type Handle struct {
	m    *Manager
	key  loopKey
	id   int
	once sync.Once
}

func (h *Handle) Unsubscribe() {
	h.once.Do(func() { h.m.unsubscribe(h.key, h.id) })
}

type Options struct {
	Client         rpc.Client
	Capabilities   rpc.Capabilities
	Liveness       liveness.Signal // optional; nil means always active
	TableInterval  time.Duration   // default 2s
	DetailInterval time.Duration   // default 1s
	MaxDeltaCycles int             // full-fetch drift correction period, default 10
	FetchTimeout   time.Duration   // per-tick fetch budget, default 15s
	Logger         Logger
}

type loopKey struct {
	mode     Mode
	detailID int
}

type loop struct {
	key      loopKey
	interval time.Duration
	subs     map[int]Subscription
	timer    *time.Timer
	inFlight bool
	// generation invalidates late fetch completions after dispose or
	// unsubscribe-to-empty.
	generation      uint64
	stopped         bool
	lastFingerprint uint64
	haveFingerprint bool
}

// Manager owns the last-known-state cache exclusively; every other component
// reads copies handed out through callbacks or Jobs.
type Manager struct {
	client         rpc.Client
	caps           rpc.Capabilities
	logger         Logger
	maxDeltaCycles int
	tableInterval  time.Duration
	detailInterval time.Duration
	fetchTimeout   time.Duration

	mu             sync.Mutex
	disposed       bool
	suspended      bool
	detachLiveness func()
	loops          map[loopKey]*loop
	cache          map[int]jobs.JobSnapshot
	haveFull       bool
	deltaCycles    int
	// detailMarks orders detail-mode applications per job identity so a
	// stale payload can never overwrite a newer one.
	detailMarks map[string]int64
	nextSubID   int
}

func NewManager(opts Options) (*Manager, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("client is required")
	}
	m := &Manager{
		client:         opts.Client,
		caps:           opts.Capabilities,
		logger:         opts.Logger,
		maxDeltaCycles: opts.MaxDeltaCycles,
		tableInterval:  opts.TableInterval,
		detailInterval: opts.DetailInterval,
		fetchTimeout:   opts.FetchTimeout,
		loops:          map[loopKey]*loop{},
		cache:          map[int]jobs.JobSnapshot{},
		detailMarks:    map[string]int64{},
	}
	if m.maxDeltaCycles <= 0 {
		m.maxDeltaCycles = 10
	}
	if m.tableInterval <= 0 {
		m.tableInterval = 2 * time.Second
	}
	if m.detailInterval <= 0 {
		m.detailInterval = time.Second
	}
	if m.fetchTimeout <= 0 {
		m.fetchTimeout = 15 * time.Second
	}
	if opts.Liveness != nil {
		m.suspended = !opts.Liveness.Active()
		m.detachLiveness = opts.Liveness.Attach(liveness.Hooks{
			OnBecomeActive:   m.resume,
			OnBecomeInactive: m.suspend,
		})
	}
	return m, nil
}

// Subscribe registers a callback pair for a mode. The first subscription of a
// mode triggers an immediate tick so consumers are never empty on mount.
func (m *Manager) Subscribe(sub Subscription) (*Handle, error) {
	if sub.OnUpdate == nil {
		return nil, fmt.Errorf("OnUpdate callback is required")
	}
	if sub.Mode != ModeTable && sub.Mode != ModeDetail {
		return nil, fmt.Errorf("unknown subscription mode %d", sub.Mode)
	}
	if sub.Mode == ModeDetail && sub.DetailID <= 0 {
		return nil, fmt.Errorf("detail subscriptions require a positive DetailID")
	}

	key := loopKey{mode: sub.Mode}
	if sub.Mode == ModeDetail {
		key.detailID = sub.DetailID
	}

	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return nil, ErrDisposed
	}
	lp, ok := m.loops[key]
	first := !ok
	if first {
		interval := sub.Interval
		if interval <= 0 {
			if sub.Mode == ModeDetail {
				interval = m.detailInterval
			} else {
				interval = m.tableInterval
			}
		}
		lp = &loop{key: key, interval: interval, subs: map[int]Subscription{}}
		m.loops[key] = lp
	}
	id := m.nextSubID
	m.nextSubID++
	lp.subs[id] = sub

	// A subscriber joining an already-polling mode gets the cached state
	// right away; waiting for the next fingerprint change could mean never
	// on a quiet collection.
	var initial []jobs.JobSnapshot
	if !first && lp.haveFingerprint {
		if sub.Mode == ModeDetail {
			if job, ok := m.cache[key.detailID]; ok {
				initial = jobs.CloneAll([]jobs.JobSnapshot{job})
			}
		} else if m.haveFull {
			initial = jobs.CloneAll(m.collectionLocked())
		}
	}
	m.mu.Unlock()

	if first {
		go m.tick(lp)
	} else if initial != nil {
		sub.OnUpdate(initial)
	}
	return &Handle{m: m, key: key, id: id}, nil
}

func (m *Manager) unsubscribe(key loopKey, id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lp, ok := m.loops[key]
	if !ok {
		return
	}
	delete(lp.subs, id)
	if len(lp.subs) == 0 {
		lp.stopped = true
		lp.generation++
		if lp.timer != nil {
			lp.timer.Stop()
		}
		delete(m.loops, key)
		if key.mode == ModeDetail {
			if job, ok := m.cache[key.detailID]; ok {
				delete(m.detailMarks, job.Hash)
			}
		}
	}
}

// Dispose tears the manager down: pending timers are cancelled, the liveness
// signal is detached, and any in-flight fetch completion becomes a no-op.
// Safe to call more than once.
func (m *Manager) Dispose() {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.disposed = true
	detach := m.detachLiveness
	m.detachLiveness = nil
	for _, lp := range m.loops {
		lp.stopped = true
		lp.generation++
		if lp.timer != nil {
			lp.timer.Stop()
		}
	}
	m.loops = map[loopKey]*loop{}
	m.mu.Unlock()

	if detach != nil {
		detach()
	}
}

// Jobs returns a deep copy of the cached collection ordered by id. Writes
// through the result, envelopes included, never reach the cache.
func (m *Manager) Jobs() []jobs.JobSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return jobs.CloneAll(m.collectionLocked())
}

// SetRecoveryState annotates a cached job's envelope with a client-side
// recovery state and rebroadcasts if that changed anything. The recovery flow
// is the only caller.
func (m *Manager) SetRecoveryState(id int, state jobs.RecoveryState) {
	m.mu.Lock()
	job, ok := m.cache[id]
	if !ok || job.Envelope == nil || job.Envelope.Recovery == state {
		m.mu.Unlock()
		return
	}
	env := *job.Envelope
	env.Recovery = state
	job.Envelope = &env
	m.cache[id] = job

	lp := m.loops[loopKey{mode: ModeTable}]
	var updates []jobs.JobSnapshot
	var targets []Subscription
	if lp != nil {
		fp := jobs.Fingerprint(m.collectionLocked())
		if !lp.haveFingerprint || fp != lp.lastFingerprint {
			lp.lastFingerprint = fp
			lp.haveFingerprint = true
			updates = m.collectionLocked()
			for _, s := range lp.subs {
				targets = append(targets, s)
			}
		}
	}
	m.mu.Unlock()

	for _, s := range targets {
		s.OnUpdate(jobs.CloneAll(updates))
	}
}

func (m *Manager) suspend() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed || m.suspended {
		return
	}
	m.suspended = true
	for _, lp := range m.loops {
		if lp.timer != nil {
			lp.timer.Stop()
		}
	}
}

func (m *Manager) resume() {
	m.mu.Lock()
	if m.disposed || !m.suspended {
		m.mu.Unlock()
		return
	}
	m.suspended = false
	pending := make([]*loop, 0, len(m.loops))
	for _, lp := range m.loops {
		pending = append(pending, lp)
	}
	m.mu.Unlock()

	// Catch-up ticks bypass the normal interval wait once.
	for _, lp := range pending {
		go m.tick(lp)
	}
}

func (m *Manager) tick(lp *loop) {
	m.mu.Lock()
	if m.disposed || lp.stopped || m.suspended || len(lp.subs) == 0 {
		m.mu.Unlock()
		return
	}
	if lp.inFlight {
		// Overlapping ticks are skipped, never queued.
		m.mu.Unlock()
		return
	}
	lp.inFlight = true
	lp.generation++
	gen := lp.generation
	useDelta := lp.key.mode == ModeTable &&
		m.caps.RecentlyActive && m.haveFull && m.deltaCycles < m.maxDeltaCycles
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.fetchTimeout)
	defer cancel()

	var res rpc.TorrentGetResult
	var err error
	switch {
	case lp.key.mode == ModeDetail:
		res, err = m.client.TorrentGet(ctx, rpc.TorrentGetRequest{IDs: []int{lp.key.detailID}})
	case useDelta:
		res, err = m.client.TorrentGet(ctx, rpc.TorrentGetRequest{RecentlyActive: true})
	default:
		res, err = m.client.TorrentGet(ctx, rpc.TorrentGetRequest{})
	}
	m.finishTick(lp, gen, useDelta, res, err)
}

func (m *Manager) finishTick(lp *loop, gen uint64, useDelta bool, res rpc.TorrentGetResult, err error) {
	arrivedAt := time.Now().UnixNano()
	observedAt := time.Now().Unix()

	m.mu.Lock()
	if m.disposed || lp.stopped || gen != lp.generation {
		m.mu.Unlock()
		return
	}
	lp.inFlight = false

	var updates []jobs.JobSnapshot
	var updateSubs, errorSubs []int
	if err != nil {
		// A failed fetch never clears the cache; subscribers hear about it
		// and the next tick retries at the same cadence.
		m.logf("heartbeat %s fetch failed: %v", lp.key.mode, err)
		for id, s := range lp.subs {
			if s.OnError != nil {
				errorSubs = append(errorSubs, id)
			}
		}
	} else {
		var scope []jobs.JobSnapshot
		if lp.key.mode == ModeDetail {
			if m.applyDetailLocked(lp.key.detailID, res, arrivedAt, observedAt) {
				if job, ok := m.cache[lp.key.detailID]; ok {
					scope = []jobs.JobSnapshot{job}
				} else {
					scope = []jobs.JobSnapshot{}
				}
			}
		} else {
			if useDelta {
				m.applyDeltaLocked(res, observedAt)
				m.deltaCycles++
			} else {
				m.applyFullLocked(res, observedAt)
				m.haveFull = true
				m.deltaCycles = 0
			}
			scope = m.collectionLocked()
		}
		if scope != nil {
			fp := jobs.Fingerprint(scope)
			if !lp.haveFingerprint || fp != lp.lastFingerprint {
				lp.lastFingerprint = fp
				lp.haveFingerprint = true
				updates = scope
				for id := range lp.subs {
					updateSubs = append(updateSubs, id)
				}
			}
		}
	}

	if !m.suspended {
		m.scheduleLocked(lp, lp.interval)
	}
	m.mu.Unlock()

	for _, id := range errorSubs {
		if s, ok := m.subscriber(lp, id); ok {
			s.OnError(err)
		}
	}
	for _, id := range updateSubs {
		if s, ok := m.subscriber(lp, id); ok {
			s.OnUpdate(jobs.CloneAll(updates))
		}
	}
}

// subscriber re-checks liveness at delivery time so a handle unsubscribed
// while a fetch was in flight never hears from us again.
func (m *Manager) subscriber(lp *loop, id int) (Subscription, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := lp.subs[id]
	return s, ok
}

func (m *Manager) scheduleLocked(lp *loop, d time.Duration) {
	if lp.stopped || m.disposed {
		return
	}
	if lp.timer != nil {
		lp.timer.Stop()
	}
	lp.timer = time.AfterFunc(d, func() { m.tick(lp) })
}

// applyFullLocked replaces the cached collection wholesale, pruning every id
// the daemon no longer reports.
func (m *Manager) applyFullLocked(res rpc.TorrentGetResult, observedAt int64) {
	next := make(map[int]jobs.JobSnapshot, len(res.Torrents))
	for _, rec := range res.Torrents {
		snap := rec.Snapshot(observedAt)
		if prev, ok := m.cache[snap.ID]; ok {
			snap.CarryRecovery(prev)
		}
		next[snap.ID] = snap
	}
	m.cache = next

	// Marks for identities the daemon no longer reports would otherwise
	// accrue forever.
	if len(m.detailMarks) > 0 {
		live := make(map[string]struct{}, len(next))
		for _, snap := range next {
			live[snap.Hash] = struct{}{}
		}
		for hash := range m.detailMarks {
			if _, ok := live[hash]; !ok {
				delete(m.detailMarks, hash)
			}
		}
	}
}

// applyDeltaLocked merges changed records first, then applies removals, so a
// payload carrying both is applied consistently regardless of array order.
func (m *Manager) applyDeltaLocked(res rpc.TorrentGetResult, observedAt int64) {
	for _, rec := range res.Torrents {
		snap := rec.Snapshot(observedAt)
		if prev, ok := m.cache[snap.ID]; ok {
			snap.CarryRecovery(prev)
		}
		m.cache[snap.ID] = snap
	}
	for _, id := range res.Removed {
		if prev, ok := m.cache[id]; ok {
			delete(m.detailMarks, prev.Hash)
		}
		delete(m.cache, id)
	}
}

func (m *Manager) applyDetailLocked(detailID int, res rpc.TorrentGetResult, arrivedAt, observedAt int64) bool {
	if len(res.Torrents) == 0 {
		// The job vanished between subscription and fetch.
		prev, ok := m.cache[detailID]
		if !ok {
			return true
		}
		delete(m.detailMarks, prev.Hash)
		delete(m.cache, detailID)
		return true
	}
	rec := res.Torrents[0]
	snap := rec.Snapshot(observedAt)
	if prev, ok := m.cache[snap.ID]; ok {
		snap.CarryRecovery(prev)
		if prev.Hash == snap.Hash {
			if mark, seen := m.detailMarks[snap.Hash]; seen && arrivedAt < mark {
				return false
			}
		} else {
			delete(m.detailMarks, prev.Hash)
		}
	}
	m.detailMarks[snap.Hash] = arrivedAt
	m.cache[snap.ID] = snap
	return true
}

func (m *Manager) collectionLocked() []jobs.JobSnapshot {
	list := make([]jobs.JobSnapshot, 0, len(m.cache))
	for _, job := range m.cache {
		list = append(list, job)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

func (m *Manager) logf(format string, args ...any) {
	if m.logger == nil {
		return
	}
	m.logger.Printf(format, args...)
}
