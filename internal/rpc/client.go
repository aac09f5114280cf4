package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	rpcPath       = "/transmission/rpc"
	sessionHeader = "X-Transmission-Session-Id"
	authHeader    = "X-TT-Auth"
)

type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %d", e.StatusCode)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// RPCError is a daemon-level failure: the HTTP exchange succeeded but the
// envelope result was not "success".
type RPCError struct {
	Method string
	Result string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc %s failed: %s", e.Method, e.Result)
}

// Client is the synchronous request/response surface of the daemon. The
// heartbeat manager decides when and how often to call it; nothing here is
// pushed.
type Client interface {
	TorrentGet(ctx context.Context, req TorrentGetRequest) (TorrentGetResult, error)
	TorrentAction(ctx context.Context, method string, ids []int) error
	TorrentSet(ctx context.Context, req TorrentSetRequest) error
	TorrentSetLocation(ctx context.Context, ids []int, location string, move bool) error
	SessionGet(ctx context.Context) (SessionInfo, error)
	FreeSpace(ctx context.Context, path string) (FreeSpaceResult, error)
}

// HTTPClient talks Transmission-style JSON RPC: a single POST endpoint,
// envelope responses, and CSRF session ids renegotiated via 409.
type HTTPClient struct {
	endpoint   string
	token      string
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration

	mu        sync.Mutex
	sessionID string
}

func NewHTTPClient(baseURL, token string, httpClient *http.Client) *HTTPClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPClient{
		endpoint:   baseURL + rpcPath,
		token:      strings.TrimSpace(token),
		httpClient: httpClient,
		maxRetries: 3,
		baseDelay:  100 * time.Millisecond,
		maxDelay:   2 * time.Second,
	}
}

func (c *HTTPClient) TorrentGet(ctx context.Context, req TorrentGetRequest) (TorrentGetResult, error) {
	fields := req.Fields
	if len(fields) == 0 {
		fields = summaryFields
	}
	args := map[string]any{"fields": fields}
	switch {
	case req.RecentlyActive:
		args["ids"] = "recently-active"
	case len(req.IDs) > 0:
		args["ids"] = req.IDs
	}
	var out TorrentGetResult
	if err := c.call(ctx, "torrent-get", args, &out); err != nil {
		return TorrentGetResult{}, err
	}
	return out, nil
}

// TorrentAction issues an ids-only mutation such as torrent-start,
// torrent-stop or torrent-verify.
func (c *HTTPClient) TorrentAction(ctx context.Context, method string, ids []int) error {
	if len(ids) == 0 {
		return fmt.Errorf("ids are required for %s", method)
	}
	return c.call(ctx, method, map[string]any{"ids": ids}, nil)
}

func (c *HTTPClient) TorrentSet(ctx context.Context, req TorrentSetRequest) error {
	if len(req.IDs) == 0 {
		return fmt.Errorf("ids are required for torrent-set")
	}
	args := map[string]any{"ids": req.IDs}
	if req.SequentialDownload != nil {
		args["sequentialDownload"] = *req.SequentialDownload
	}
	if req.Labels != nil {
		args["labels"] = req.Labels
	}
	return c.call(ctx, "torrent-set", args, nil)
}

// TorrentSetLocation moves a torrent's download directory. With move=false the
// daemon only re-points the torrent and expects the data to already be there.
func (c *HTTPClient) TorrentSetLocation(ctx context.Context, ids []int, location string, move bool) error {
	if len(ids) == 0 {
		return fmt.Errorf("ids are required for torrent-set-location")
	}
	if strings.TrimSpace(location) == "" {
		return fmt.Errorf("location is required for torrent-set-location")
	}
	args := map[string]any{"ids": ids, "location": location, "move": move}
	return c.call(ctx, "torrent-set-location", args, nil)
}

func (c *HTTPClient) SessionGet(ctx context.Context) (SessionInfo, error) {
	var out SessionInfo
	if err := c.call(ctx, "session-get", nil, &out); err != nil {
		return SessionInfo{}, err
	}
	return out, nil
}

func (c *HTTPClient) FreeSpace(ctx context.Context, path string) (FreeSpaceResult, error) {
	var out FreeSpaceResult
	if err := c.call(ctx, "free-space", map[string]any{"path": path}, &out); err != nil {
		return FreeSpaceResult{}, err
	}
	return out, nil
}

func (c *HTTPClient) call(ctx context.Context, method string, args any, out any) error {
	payload, err := json.Marshal(requestEnvelope{Method: method, Arguments: args})
	if err != nil {
		return err
	}
	renegotiated := false
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.token != "" {
			req.Header.Set(authHeader, c.token)
		}
		if sid := c.session(); sid != "" {
			req.Header.Set(sessionHeader, sid)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries {
				if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}
		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode == http.StatusConflict {
			// CSRF handshake: capture the fresh session id and replay once.
			c.setSession(resp.Header.Get(sessionHeader))
			if !renegotiated {
				renegotiated = true
				continue
			}
			return &HTTPError{StatusCode: resp.StatusCode, Message: "session renegotiation loop"}
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			var envelope responseEnvelope
			if err := json.Unmarshal(body, &envelope); err != nil {
				return err
			}
			if envelope.Result != "success" {
				return &RPCError{Method: method, Result: envelope.Result}
			}
			if out == nil || len(envelope.Arguments) == 0 {
				return nil
			}
			return json.Unmarshal(envelope.Arguments, out)
		}

		if (resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)) && attempt < c.maxRetries {
			if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}

		return &HTTPError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(body)),
		}
	}
}

func (c *HTTPClient) session() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *HTTPClient) setSession(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id != "" {
		c.sessionID = id
	}
}

func (c *HTTPClient) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	maxDelay := c.maxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		if retryAfter > maxDelay {
			return maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := time.Parse(time.RFC1123, header); err == nil {
		delta := time.Until(ts)
		if delta > 0 {
			return delta
		}
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
