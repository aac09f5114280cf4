package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/tinytorrent/ttsync/internal/config"
	"github.com/tinytorrent/ttsync/internal/heartbeat"
	"github.com/tinytorrent/ttsync/internal/jobs"
	"github.com/tinytorrent/ttsync/internal/liveness"
	"github.com/tinytorrent/ttsync/internal/recovery"
	"github.com/tinytorrent/ttsync/internal/rpc"
)

func main() {
	configPath := flag.String("config", strings.TrimSpace(os.Getenv("TTSYNC_CONFIG")), "config file path")
	rpcURL := flag.String("rpc-url", "", "daemon RPC URL (overrides config)")
	token := flag.String("token", "", "auth token (overrides config)")
	socketURL := flag.String("liveness-socket", "", "websocket URL for liveness hints (overrides config)")
	timeout := flag.Duration("timeout", 15*time.Second, "per-request timeout")
	once := flag.Bool("once", false, "fetch one collection, print it and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if strings.TrimSpace(*rpcURL) != "" {
		cfg.RPCURL = strings.TrimSpace(*rpcURL)
	}
	if strings.TrimSpace(*token) != "" {
		cfg.AuthToken = strings.TrimSpace(*token)
	}
	if strings.TrimSpace(*socketURL) != "" {
		cfg.LivenessSocket = strings.TrimSpace(*socketURL)
	}

	client := rpc.NewCoalescingClient(rpc.NewHTTPClient(cfg.RPCURL, cfg.AuthToken, &http.Client{Timeout: *timeout}))

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handshakeCtx, cancel := context.WithTimeout(rootCtx, *timeout)
	session, err := client.SessionGet(handshakeCtx)
	cancel()
	if err != nil {
		log.Fatalf("daemon handshake failed: %v", err)
	}
	caps := rpc.Capabilities{
		RecentlyActive:  session.SupportsRecentlyActive(),
		LocalFilesystem: cfg.LocalFilesystem,
	}
	log.Printf("connected to %s (rpc version %d, incremental=%v)", cfg.RPCURL, session.RPCVersion, caps.RecentlyActive)
	if session.DownloadDir != "" {
		spaceCtx, cancel := context.WithTimeout(rootCtx, *timeout)
		if space, err := client.FreeSpace(spaceCtx, session.DownloadDir); err == nil {
			log.Printf("download dir %s: %d bytes free", session.DownloadDir, space.SizeBytes)
		}
		cancel()
	}

	var signalSrc liveness.Signal
	var socket *liveness.SocketSignal
	if cfg.LivenessSocket != "" {
		socket = liveness.NewSocketSignal(cfg.LivenessSocket, 5*time.Second, log.Default())
		signalSrc = socket
	} else if derived := deriveSocketURL(cfg.RPCURL); derived != "" {
		socket = liveness.NewSocketSignal(derived, 5*time.Second, log.Default())
		signalSrc = socket
	} else {
		signalSrc = liveness.NewManualSignal(true)
	}
	if socket != nil {
		defer socket.Close()
	}

	var watcher *recovery.DirWatcher
	if cfg.WatchDownloads && cfg.LocalFilesystem {
		watcher, err = recovery.NewDirWatcher(log.Default())
		if err != nil {
			log.Printf("directory watcher unavailable: %v", err)
		} else {
			defer watcher.Close()
		}
	}

	evidence := recovery.Evidence{LocalFilesystem: cfg.LocalFilesystem}
	if cfg.LocalFilesystem {
		evidence.Probe = recovery.LocalProbe{}
	}
	flow := recovery.NewFlow(recovery.FlowOptions{
		Client:   client,
		Evidence: evidence,
		Backoff:  recovery.BackoffScheduler{Base: cfg.BackoffBase()},
		Watcher:  watcher,
		Logger:   log.Default(),
		OnDisposition: func(job jobs.JobSnapshot, d recovery.Disposition, c recovery.Classification) {
			if d.Action == recovery.ActionNone && !d.ShowFeedback {
				return
			}
			log.Printf("recovery %s: %s (%s, %s confidence)", job.Hash, d.Action, c.Kind, c.Confidence)
		},
	})
	defer flow.Close()

	manager, err := heartbeat.NewManager(heartbeat.Options{
		Client:         client,
		Capabilities:   caps,
		Liveness:       signalSrc,
		TableInterval:  cfg.TableInterval(),
		DetailInterval: cfg.DetailInterval(),
		MaxDeltaCycles: cfg.MaxDeltaCycles,
		FetchTimeout:   *timeout,
		Logger:         log.Default(),
	})
	if err != nil {
		log.Fatalf("failed to initialize heartbeat manager: %v", err)
	}
	defer manager.Dispose()

	first := make(chan []jobs.JobSnapshot, 1)
	handle, err := manager.Subscribe(heartbeat.Subscription{
		Mode: heartbeat.ModeTable,
		OnUpdate: func(list []jobs.JobSnapshot) {
			select {
			case first <- list:
			default:
			}
			flow.Observe(list)
			log.Printf("collection changed: %d jobs", len(list))
		},
		OnError: func(err error) {
			log.Printf("poll failed: %v", err)
		},
	})
	if err != nil {
		log.Fatalf("subscribe: %v", err)
	}
	defer handle.Unsubscribe()

	if *once {
		select {
		case list := <-first:
			printCollection(list)
		case <-time.After(*timeout):
			log.Fatalf("no collection within %s", *timeout)
		case <-rootCtx.Done():
		}
		return
	}

	<-rootCtx.Done()
	log.Printf("sync stopping: %v", rootCtx.Err())
}

func printCollection(list []jobs.JobSnapshot) {
	for _, job := range list {
		state := job.Effective().Status.String()
		if job.InRecovery() {
			state = job.Envelope.Recovery.String()
		}
		log.Printf("%4d  %-40s  %6.1f%%  %s", job.ID, job.Name, job.Progress*100, state)
	}
}

// deriveSocketURL maps the daemon's HTTP base onto its broadcast websocket.
func deriveSocketURL(rpcURL string) string {
	u, err := url.Parse(rpcURL)
	if err != nil || u.Host == "" {
		return ""
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return ""
	}
	u.Path = "/ws"
	u.RawQuery = ""
	return u.String()
}
