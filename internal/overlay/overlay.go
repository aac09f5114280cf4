// Package overlay keeps optimistic local state for slow remote mutations: the
// UI reads the overlaid value immediately while the RPC commits in the
// background, and a failed commit rolls back only the entries the failed call
// owned.
package overlay

import (
	"context"
	"fmt"
	"sync"
)

// CommitFunc pushes the desired value to the remote side for a set of job ids.
type CommitFunc func(ctx context.Context, ids []int, desired bool) error

type Logger interface {
	Printf(format string, args ...any)
}

// Coordinator mediates between readers wanting instant feedback and commits
// that can fail long after the value was shown. Each Toggle stamps the entries
// it writes; a later Toggle over the same id takes ownership, so a stale
// failure cannot clobber a newer intent.
type Coordinator struct {
	logger Logger

	mu     sync.Mutex
	values map[int]bool
	stamps map[int]uint64
	seq    uint64
}

func NewCoordinator(logger Logger) *Coordinator {
	return &Coordinator{
		logger: logger,
		values: map[int]bool{},
		stamps: map[int]uint64{},
	}
}

// Toggle applies desired to every id immediately, then runs commit. On commit
// failure it reverts the ids this call still owns and returns the error. The
// commit runs on the calling goroutine; callers wanting fire-and-forget wrap
// it themselves.
func (c *Coordinator) Toggle(ctx context.Context, ids []int, desired bool, commit CommitFunc) error {
	if len(ids) == 0 {
		return nil
	}

	c.mu.Lock()
	c.seq++
	stamp := c.seq
	for _, id := range ids {
		c.values[id] = desired
		c.stamps[id] = stamp
	}
	c.mu.Unlock()

	err := c.runCommit(ctx, ids, desired, commit)
	if err == nil {
		return nil
	}

	c.mu.Lock()
	for _, id := range ids {
		if c.stamps[id] != stamp {
			// A newer Toggle owns this entry now.
			continue
		}
		delete(c.values, id)
		delete(c.stamps, id)
	}
	c.mu.Unlock()

	if c.logger != nil {
		c.logger.Printf("overlay commit reverted for %d ids: %v", len(ids), err)
	}
	return err
}

func (c *Coordinator) runCommit(ctx context.Context, ids []int, desired bool, commit CommitFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("commit panicked: %v", r)
		}
	}()
	return commit(ctx, ids, desired)
}

// Value returns the overlaid value for id, or base when no override exists.
func (c *Coordinator) Value(id int, base bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.values[id]; ok {
		return v
	}
	return base
}

// Overridden reports whether id currently carries an optimistic override.
func (c *Coordinator) Overridden(id int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.values[id]
	return ok
}

// Drop discards the override for id, typically once the authoritative value
// arrives from a poll and the optimism is no longer needed.
func (c *Coordinator) Drop(id int) {
	c.mu.Lock()
	delete(c.values, id)
	delete(c.stamps, id)
	c.mu.Unlock()
}
