package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

type flight struct {
	done chan struct{}
	val  any
	err  error
}

// Coalescer deduplicates concurrent identical calls: callers arriving while a
// call with the same signature is in flight attach to it and receive the same
// result or error. A settled signature is forgotten immediately, so the next
// identical call always issues a fresh request; nothing is ever cached.
type Coalescer struct {
	mu      sync.Mutex
	flights map[string]*flight
}

func NewCoalescer() *Coalescer {
	return &Coalescer{flights: map[string]*flight{}}
}

// Signature builds the canonical identity of a call from its method and
// arguments.
func Signature(method string, args any) string {
	data, err := json.Marshal(args)
	if err != nil {
		return method + "?" + fmt.Sprintf("%+v", args)
	}
	return method + "?" + string(data)
}

// Do runs fn, sharing the underlying execution with every concurrent caller
// presenting the same signature. A waiter whose own context expires detaches
// without cancelling the shared call.
func (c *Coalescer) Do(ctx context.Context, signature string, fn func(context.Context) (any, error)) (any, error) {
	c.mu.Lock()
	if f, ok := c.flights[signature]; ok {
		c.mu.Unlock()
		select {
		case <-f.done:
			return f.val, f.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f := &flight{done: make(chan struct{})}
	c.flights[signature] = f
	c.mu.Unlock()

	f.val, f.err = fn(ctx)

	c.mu.Lock()
	delete(c.flights, signature)
	c.mu.Unlock()
	close(f.done)
	return f.val, f.err
}

// CoalescingClient wraps a Client so overlapping identical read calls share
// one round trip, even when they originate from different subscription modes.
// Mutations pass through untouched; each must reach the daemon.
type CoalescingClient struct {
	inner Client
	co    *Coalescer
}

func NewCoalescingClient(inner Client) *CoalescingClient {
	return &CoalescingClient{inner: inner, co: NewCoalescer()}
}

func (c *CoalescingClient) TorrentGet(ctx context.Context, req TorrentGetRequest) (TorrentGetResult, error) {
	v, err := c.co.Do(ctx, Signature("torrent-get", req), func(ctx context.Context) (any, error) {
		return c.inner.TorrentGet(ctx, req)
	})
	if err != nil {
		return TorrentGetResult{}, err
	}
	return v.(TorrentGetResult), nil
}

func (c *CoalescingClient) SessionGet(ctx context.Context) (SessionInfo, error) {
	v, err := c.co.Do(ctx, Signature("session-get", nil), func(ctx context.Context) (any, error) {
		return c.inner.SessionGet(ctx)
	})
	if err != nil {
		return SessionInfo{}, err
	}
	return v.(SessionInfo), nil
}

func (c *CoalescingClient) FreeSpace(ctx context.Context, path string) (FreeSpaceResult, error) {
	v, err := c.co.Do(ctx, Signature("free-space", path), func(ctx context.Context) (any, error) {
		return c.inner.FreeSpace(ctx, path)
	})
	if err != nil {
		return FreeSpaceResult{}, err
	}
	return v.(FreeSpaceResult), nil
}

func (c *CoalescingClient) TorrentAction(ctx context.Context, method string, ids []int) error {
	return c.inner.TorrentAction(ctx, method, ids)
}

func (c *CoalescingClient) TorrentSet(ctx context.Context, req TorrentSetRequest) error {
	return c.inner.TorrentSet(ctx, req)
}

func (c *CoalescingClient) TorrentSetLocation(ctx context.Context, ids []int, location string, move bool) error {
	return c.inner.TorrentSetLocation(ctx, ids, location, move)
}
