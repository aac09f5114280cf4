package liveness

import (
	"context"
	"time"

	"nhooyr.io/websocket"
)

type Logger interface {
	Printf(format string, args ...any)
}

// SocketSignal derives liveness from connectivity to the daemon's websocket
// update feed: connected means the daemon is reachable and worth polling,
// disconnected means polling would only burn retries. Payloads on the socket
// are discarded; the synchronous RPC poll remains the only data path.
type SocketSignal struct {
	signal *ManualSignal
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSocketSignal(url string, reconnect time.Duration, logger Logger) *SocketSignal {
	if reconnect <= 0 {
		reconnect = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &SocketSignal{
		signal: NewManualSignal(false),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.run(ctx, url, reconnect, logger)
	return s
}

func (s *SocketSignal) Active() bool {
	return s.signal.Active()
}

func (s *SocketSignal) Attach(hooks Hooks) func() {
	return s.signal.Attach(hooks)
}

// Close stops the reconnect loop and marks the signal inactive.
func (s *SocketSignal) Close() {
	s.cancel()
	<-s.done
}

func (s *SocketSignal) run(ctx context.Context, url string, reconnect time.Duration, logger Logger) {
	defer close(s.done)
	defer s.signal.SetActive(false)
	for {
		conn, _, err := websocket.Dial(ctx, url, nil)
		if err != nil {
			s.signal.SetActive(false)
			if ctx.Err() != nil {
				return
			}
			logf(logger, "liveness socket dial failed: %v", err)
			if !sleep(ctx, reconnect) {
				return
			}
			continue
		}

		s.signal.SetActive(true)
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				break
			}
		}
		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.signal.SetActive(false)
		if ctx.Err() != nil {
			return
		}
		logf(logger, "liveness socket dropped; reconnecting")
		if !sleep(ctx, reconnect) {
			return
		}
	}
}

func logf(logger Logger, format string, args ...any) {
	if logger == nil {
		return
	}
	logger.Printf(format, args...)
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
