package rpc

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestCoalescerSharesInFlightCalls(t *testing.T) {
	co := NewCoalescer()
	var calls atomic.Int64
	release := make(chan struct{})

	fn := func(ctx context.Context) (any, error) {
		calls.Add(1)
		<-release
		return "payload", nil
	}

	const waiters = 8
	results := make(chan string, waiters)
	var started sync.WaitGroup
	for i := 0; i < waiters; i++ {
		started.Add(1)
		go func() {
			started.Done()
			v, err := co.Do(context.Background(), "torrent-get?all", fn)
			if err != nil {
				t.Errorf("coalesced call failed: %v", err)
				results <- ""
				return
			}
			results <- v.(string)
		}()
	}
	started.Wait()
	time.Sleep(20 * time.Millisecond)
	close(release)

	for i := 0; i < waiters; i++ {
		if got := <-results; got != "payload" {
			t.Fatalf("waiter %d got %q", i, got)
		}
	}
	if calls.Load() != 1 {
		t.Fatalf("expected exactly 1 underlying call, got %d", calls.Load())
	}
}

func TestCoalescerIssuesFreshCallAfterSettle(t *testing.T) {
	co := NewCoalescer()
	var calls atomic.Int64
	fn := func(ctx context.Context) (any, error) {
		return calls.Add(1), nil
	}

	first, err := co.Do(context.Background(), "sig", fn)
	if err != nil {
		t.Fatalf("first call failed: %v", err)
	}
	second, err := co.Do(context.Background(), "sig", fn)
	if err != nil {
		t.Fatalf("second call failed: %v", err)
	}
	if first.(int64) != 1 || second.(int64) != 2 {
		t.Fatalf("expected fresh underlying calls, got %v then %v", first, second)
	}
}

func TestCoalescerPropagatesSharedError(t *testing.T) {
	co := NewCoalescer()
	sentinel := errors.New("transport down")
	release := make(chan struct{})
	fn := func(ctx context.Context) (any, error) {
		<-release
		return nil, sentinel
	}

	errs := make(chan error, 2)
	go func() {
		_, err := co.Do(context.Background(), "sig", fn)
		errs <- err
	}()
	go func() {
		_, err := co.Do(context.Background(), "sig", fn)
		errs <- err
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)

	for i := 0; i < 2; i++ {
		if err := <-errs; !errors.Is(err, sentinel) {
			t.Fatalf("waiter %d got %v", i, err)
		}
	}
}

func TestCoalescerDistinctSignaturesRunSeparately(t *testing.T) {
	co := NewCoalescer()
	var calls atomic.Int64
	fn := func(ctx context.Context) (any, error) {
		calls.Add(1)
		return nil, nil
	}
	if _, err := co.Do(context.Background(), "a", fn); err != nil {
		t.Fatalf("call a failed: %v", err)
	}
	if _, err := co.Do(context.Background(), "b", fn); err != nil {
		t.Fatalf("call b failed: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 underlying calls, got %d", calls.Load())
	}
}

func TestCoalescerWaiterDetachesOnContextCancel(t *testing.T) {
	co := NewCoalescer()
	release := make(chan struct{})
	fn := func(ctx context.Context) (any, error) {
		<-release
		return "late", nil
	}

	go func() {
		if _, err := co.Do(context.Background(), "sig", fn); err != nil {
			t.Errorf("owner call failed: %v", err)
		}
	}()
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := co.Do(ctx, "sig", fn); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
	close(release)
}

func TestSignatureDistinguishesArguments(t *testing.T) {
	a := Signature("torrent-get", TorrentGetRequest{RecentlyActive: true})
	b := Signature("torrent-get", TorrentGetRequest{})
	if a == b {
		t.Fatalf("different arguments produced identical signatures")
	}
	if a != Signature("torrent-get", TorrentGetRequest{RecentlyActive: true}) {
		t.Fatalf("identical arguments produced different signatures")
	}
}
