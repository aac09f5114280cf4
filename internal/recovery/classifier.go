package recovery

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/tinytorrent/ttsync/internal/jobs"
)

// Kind is the classified cause of a job's missing-data condition.
type Kind int

const (
	KindOK Kind = iota
	KindDataGap
	KindPathLoss
	KindVolumeLoss
	KindAccessDenied
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindDataGap:
		return "data-gap"
	case KindPathLoss:
		return "path-loss"
	case KindVolumeLoss:
		return "volume-loss"
	case KindAccessDenied:
		return "access-denied"
	default:
		return "unknown"
	}
}

// ProbeKind is the finer-grained on-disk finding behind a classification.
type ProbeKind int

const (
	ProbeOK ProbeKind = iota
	ProbePathMissing
	ProbeDataMissing
	ProbeDataPartial
)

func (p ProbeKind) String() string {
	switch p {
	case ProbeOK:
		return "ok"
	case ProbePathMissing:
		return "path-missing"
	case ProbeDataMissing:
		return "data-missing"
	case ProbeDataPartial:
		return "data-partial"
	default:
		return "unknown"
	}
}

type Confidence int

const (
	ConfidenceUnknown Confidence = iota
	ConfidenceLikely
	ConfidenceCertain
)

func (c Confidence) String() string {
	switch c {
	case ConfidenceCertain:
		return "certain"
	case ConfidenceLikely:
		return "likely"
	default:
		return "unknown"
	}
}

// Classification is produced once per probe and never mutated.
type Classification struct {
	Kind       Kind
	Probe      ProbeKind
	Confidence Confidence
	Actions    []string
}

// Evidence is what the classifier may consult: a capability flag resolved at
// construction and, when local filesystem access exists, a probe.
type Evidence struct {
	LocalFilesystem bool
	Probe           PathProbe
}

// Classify decides why a job's data appears missing. With local filesystem
// access it inspects the disk directly; otherwise it falls back to a
// conservative heuristic over the error envelope and activity counters.
func Classify(job jobs.JobSnapshot, ev Evidence) Classification {
	if ev.LocalFilesystem && ev.Probe != nil {
		return classifyLocal(job, ev.Probe)
	}
	return classifyRemote(job)
}

func classifyLocal(job jobs.JobSnapshot, probe PathProbe) Classification {
	dataPath := filepath.Join(job.DownloadDir, job.Name)
	res, err := probe.Probe(dataPath)
	switch {
	case errors.Is(err, ErrAccessDenied):
		return Classification{
			Kind:       KindAccessDenied,
			Probe:      ProbePathMissing,
			Confidence: ConfidenceCertain,
			Actions:    []string{"fix-permissions", "recheck"},
		}
	case errors.Is(err, ErrPathNotFound):
		if _, dirErr := probe.Probe(job.DownloadDir); errors.Is(dirErr, ErrPathNotFound) {
			kind := KindPathLoss
			if nearestExistingAncestor(job.DownloadDir) == rootOf(job.DownloadDir) {
				kind = KindVolumeLoss
			}
			return Classification{
				Kind:       kind,
				Probe:      ProbePathMissing,
				Confidence: ConfidenceCertain,
				Actions:    []string{"set-location", "recheck"},
			}
		}
		// The directory exists but the payload is gone entirely.
		if job.SizeWhenDone > 0 {
			return Classification{
				Kind:       KindDataGap,
				Probe:      ProbeDataMissing,
				Confidence: ConfidenceCertain,
				Actions:    []string{"recheck", "redownload"},
			}
		}
		return Classification{Kind: KindOK, Probe: ProbeOK, Confidence: ConfidenceUnknown}
	case err != nil:
		return Classification{Kind: KindOK, Probe: ProbeOK, Confidence: ConfidenceUnknown}
	}

	completed := job.CompletedBytes()
	switch {
	case res.SizeBytes == 0 && job.SizeWhenDone > 0:
		return Classification{
			Kind:       KindDataGap,
			Probe:      ProbeDataMissing,
			Confidence: ConfidenceCertain,
			Actions:    []string{"recheck", "redownload"},
		}
	case completed > 0 && res.SizeBytes < completed:
		actions := []string{"recheck"}
		// A full disk truncates writes; surface that before suggesting a
		// recheck loop.
		if res.FreeBytes == 0 {
			actions = append([]string{"free-disk-space"}, actions...)
		}
		return Classification{
			Kind:       KindDataGap,
			Probe:      ProbeDataPartial,
			Confidence: ConfidenceLikely,
			Actions:    actions,
		}
	}
	return Classification{Kind: KindOK, Probe: ProbeOK, Confidence: ConfidenceCertain}
}

// classifyRemote infers a missing-local-data condition from indirect
// evidence only. It deliberately requires some signal of prior life before
// concluding "missing", so a torrent that simply never started downloading is
// not misclassified.
func classifyRemote(job jobs.JobSnapshot) Classification {
	env := job.Envelope
	if env == nil {
		return Classification{Kind: KindOK, Probe: ProbeOK, Confidence: ConfidenceCertain}
	}
	if env.Class != jobs.ErrorLocal {
		return Classification{Kind: KindOK, Probe: ProbeOK, Confidence: ConfidenceUnknown}
	}
	priorLife := job.UploadedEver > 0 || job.DownloadedEver > 0 ||
		job.DoneDate > 0 || job.SecondsActive > 0
	if job.SizeWhenDone > 0 && job.CompletedBytes() == 0 && priorLife {
		return Classification{
			Kind:       KindDataGap,
			Probe:      ProbeDataMissing,
			Confidence: ConfidenceLikely,
			Actions:    []string{"recheck", "redownload"},
		}
	}
	return Classification{Kind: KindOK, Probe: ProbeOK, Confidence: ConfidenceUnknown}
}

func nearestExistingAncestor(path string) string {
	current := filepath.Clean(path)
	for {
		if _, err := os.Stat(current); err == nil {
			return current
		}
		next := filepath.Dir(current)
		if next == current {
			return current
		}
		current = next
	}
}

func rootOf(path string) string {
	current := filepath.Clean(path)
	for {
		next := filepath.Dir(current)
		if next == current {
			return current
		}
		current = next
	}
}
