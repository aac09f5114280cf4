package recovery

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tinytorrent/ttsync/internal/jobs"
)

type scriptedProbe struct {
	results map[string]ProbeResult
	errs    map[string]error
}

func (p scriptedProbe) Probe(path string) (ProbeResult, error) {
	if err, ok := p.errs[path]; ok {
		return ProbeResult{}, err
	}
	if res, ok := p.results[path]; ok {
		return res, nil
	}
	return ProbeResult{}, ErrPathNotFound
}

func erroredJob(dir, name string, size, left int64) jobs.JobSnapshot {
	return jobs.JobSnapshot{
		ID:            1,
		Hash:          "abc123",
		Name:          name,
		SizeWhenDone:  size,
		LeftUntilDone: left,
		DownloadDir:   dir,
		Envelope: &jobs.ErrorEnvelope{
			Class:   jobs.ErrorLocal,
			Message: "No data found",
		},
	}
}

func TestClassifyLocalIntactData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "payload.bin")
	if err := os.WriteFile(path, make([]byte, 1024), 0o644); err != nil {
		t.Fatal(err)
	}

	job := erroredJob(dir, "payload.bin", 1024, 0)
	got := Classify(job, Evidence{LocalFilesystem: true, Probe: LocalProbe{}})
	if got.Kind != KindOK {
		t.Fatalf("kind = %v, want %v", got.Kind, KindOK)
	}
	if got.Confidence != ConfidenceCertain {
		t.Fatalf("confidence = %v, want %v", got.Confidence, ConfidenceCertain)
	}
}

func TestClassifyLocalPayloadGone(t *testing.T) {
	dir := t.TempDir()
	job := erroredJob(dir, "payload.bin", 1024, 0)

	got := Classify(job, Evidence{LocalFilesystem: true, Probe: LocalProbe{}})
	if got.Kind != KindDataGap || got.Probe != ProbeDataMissing {
		t.Fatalf("got %v/%v, want data-gap/data-missing", got.Kind, got.Probe)
	}
	if got.Confidence != ConfidenceCertain {
		t.Fatalf("confidence = %v, want certain", got.Confidence)
	}
	if len(got.Actions) == 0 {
		t.Fatal("expected suggested actions")
	}
}

func TestClassifyLocalDirectoryGone(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "missing-subdir")
	job := erroredJob(dir, "payload.bin", 1024, 0)

	got := Classify(job, Evidence{LocalFilesystem: true, Probe: LocalProbe{}})
	if got.Kind != KindPathLoss || got.Probe != ProbePathMissing {
		t.Fatalf("got %v/%v, want path-loss/path-missing", got.Kind, got.Probe)
	}
}

func TestClassifyLocalAccessDenied(t *testing.T) {
	job := erroredJob("/restricted", "payload.bin", 1024, 0)
	probe := scriptedProbe{errs: map[string]error{
		filepath.Join("/restricted", "payload.bin"): ErrAccessDenied,
	}}

	got := Classify(job, Evidence{LocalFilesystem: true, Probe: probe})
	if got.Kind != KindAccessDenied {
		t.Fatalf("kind = %v, want access-denied", got.Kind)
	}
	if got.Confidence != ConfidenceCertain {
		t.Fatalf("confidence = %v, want certain", got.Confidence)
	}
}

func TestClassifyLocalPartialData(t *testing.T) {
	job := erroredJob("/data", "payload.bin", 1000, 200)
	probe := scriptedProbe{results: map[string]ProbeResult{
		filepath.Join("/data", "payload.bin"): {SizeBytes: 300},
	}}

	got := Classify(job, Evidence{LocalFilesystem: true, Probe: probe})
	if got.Kind != KindDataGap || got.Probe != ProbeDataPartial {
		t.Fatalf("got %v/%v, want data-gap/data-partial", got.Kind, got.Probe)
	}
	if got.Confidence != ConfidenceLikely {
		t.Fatalf("confidence = %v, want likely", got.Confidence)
	}
}

func TestClassifyRemoteHeuristic(t *testing.T) {
	base := func() jobs.JobSnapshot {
		j := erroredJob("/remote", "payload.bin", 1000, 1000)
		j.DownloadedEver = 500
		return j
	}

	cases := []struct {
		name    string
		mutate  func(*jobs.JobSnapshot)
		kind    Kind
		conf    Confidence
	}{
		{
			name:   "local error with prior activity",
			mutate: func(*jobs.JobSnapshot) {},
			kind:   KindDataGap,
			conf:   ConfidenceLikely,
		},
		{
			name: "no error envelope",
			mutate: func(j *jobs.JobSnapshot) {
				j.Envelope = nil
			},
			kind: KindOK,
			conf: ConfidenceCertain,
		},
		{
			name: "tracker error is not a data problem",
			mutate: func(j *jobs.JobSnapshot) {
				j.Envelope.Class = jobs.ErrorTrackerError
			},
			kind: KindOK,
			conf: ConfidenceUnknown,
		},
		{
			name: "never started downloading",
			mutate: func(j *jobs.JobSnapshot) {
				j.DownloadedEver = 0
			},
			kind: KindOK,
			conf: ConfidenceUnknown,
		},
		{
			name: "partially complete keeps waiting",
			mutate: func(j *jobs.JobSnapshot) {
				j.LeftUntilDone = 400
			},
			kind: KindOK,
			conf: ConfidenceUnknown,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			job := base()
			tc.mutate(&job)
			got := Classify(job, Evidence{})
			if got.Kind != tc.kind {
				t.Fatalf("kind = %v, want %v", got.Kind, tc.kind)
			}
			if got.Confidence != tc.conf {
				t.Fatalf("confidence = %v, want %v", got.Confidence, tc.conf)
			}
			// Indirect evidence never yields certainty about missing data.
			if got.Kind != KindOK && got.Confidence == ConfidenceCertain {
				t.Fatal("remote heuristic must not claim certainty")
			}
		})
	}
}
