package rpc

import (
	"encoding/json"

	"github.com/tinytorrent/ttsync/internal/jobs"
)

type requestEnvelope struct {
	Method    string `json:"method"`
	Arguments any    `json:"arguments,omitempty"`
	Tag       int64  `json:"tag,omitempty"`
}

type responseEnvelope struct {
	Result    string          `json:"result"`
	Arguments json.RawMessage `json:"arguments"`
	Tag       int64           `json:"tag"`
}

// TorrentRecord is the daemon's wire form of one torrent summary.
type TorrentRecord struct {
	ID             int     `json:"id"`
	HashString     string  `json:"hashString"`
	Name           string  `json:"name"`
	Status         int     `json:"status"`
	PercentDone    float64 `json:"percentDone"`
	RateDownload   int64   `json:"rateDownload"`
	RateUpload     int64   `json:"rateUpload"`
	ETA            int64   `json:"eta"`
	TotalSize      int64   `json:"totalSize"`
	SizeWhenDone   int64   `json:"sizeWhenDone"`
	LeftUntilDone  int64   `json:"leftUntilDone"`
	UploadedEver   int64   `json:"uploadedEver"`
	DownloadedEver int64   `json:"downloadedEver"`
	DoneDate       int64   `json:"doneDate"`
	SecondsActive  int64   `json:"secondsDownloading"`
	DownloadDir    string  `json:"downloadDir"`
	IsFinished     bool    `json:"isFinished"`
	Error          int     `json:"error"`
	ErrorString    string  `json:"errorString"`
}

// Snapshot converts a wire record into the domain form. observedAt stamps the
// envelope when the daemon reports an error; client-side recovery annotations
// start empty and are carried over by the cache merge.
func (r TorrentRecord) Snapshot(observedAt int64) jobs.JobSnapshot {
	snap := jobs.JobSnapshot{
		ID:             r.ID,
		Hash:           r.HashString,
		Name:           r.Name,
		Status:         jobs.Status(r.Status),
		Progress:       r.PercentDone,
		RateDownload:   r.RateDownload,
		RateUpload:     r.RateUpload,
		ETA:            r.ETA,
		SizeWhenDone:   r.SizeWhenDone,
		LeftUntilDone:  r.LeftUntilDone,
		UploadedEver:   r.UploadedEver,
		DownloadedEver: r.DownloadedEver,
		DoneDate:       r.DoneDate,
		SecondsActive:  r.SecondsActive,
		DownloadDir:    r.DownloadDir,
		IsFinished:     r.IsFinished,
	}
	if r.Error != 0 {
		snap.Envelope = &jobs.ErrorEnvelope{
			Class:       jobs.ErrorClass(r.Error),
			Message:     r.ErrorString,
			LastErrorAt: observedAt,
		}
	}
	return snap
}

// TorrentGetRequest selects between a full fetch (zero value), a delta fetch
// of recently active torrents, and a fetch of specific ids.
type TorrentGetRequest struct {
	IDs            []int
	RecentlyActive bool
	Fields         []string
}

// TorrentGetResult carries the fetched records plus, on delta fetches, the
// ids the daemon has stopped reporting.
type TorrentGetResult struct {
	Torrents []TorrentRecord `json:"torrents"`
	Removed  []int           `json:"removed"`
}

// TorrentSetRequest mutates per-torrent settings.
type TorrentSetRequest struct {
	IDs                []int
	SequentialDownload *bool
	Labels             []string
}

// SessionInfo is the session-get handshake payload.
type SessionInfo struct {
	Version     string `json:"version"`
	RPCVersion  int    `json:"rpc-version"`
	DownloadDir string `json:"download-dir"`
}

// SupportsRecentlyActive reports whether the daemon understands delta fetches
// via ids "recently-active" with a removed array.
func (s SessionInfo) SupportsRecentlyActive() bool {
	return s.RPCVersion >= 16
}

// FreeSpaceResult is the free-space probe payload.
type FreeSpaceResult struct {
	Path      string `json:"path"`
	SizeBytes int64  `json:"size-bytes"`
}

// Capabilities describes what the connected daemon and host environment can
// do, resolved once at construction rather than probed at call sites.
type Capabilities struct {
	RecentlyActive  bool
	LocalFilesystem bool
}

// summaryFields is the default torrent-get projection; it covers every field
// the fingerprint folds.
var summaryFields = []string{
	"id", "hashString", "name", "status", "percentDone",
	"rateDownload", "rateUpload", "eta", "totalSize", "sizeWhenDone",
	"leftUntilDone", "uploadedEver", "downloadedEver", "doneDate",
	"secondsDownloading", "downloadDir", "isFinished", "error", "errorString",
}
