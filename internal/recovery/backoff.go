package recovery

import (
	"encoding/binary"
	"hash/fnv"
	"time"
)

const (
	// DefaultBackoffBase paces unattended recovery retries.
	DefaultBackoffBase = 4 * time.Second
	backoffCapFactor   = 6
	jitterRatio        = 0.15
)

// BackoffScheduler computes exponential retry delays with deterministic
// jitter: identical (fingerprint, attempt) inputs always yield identical
// delays, which keeps retry timing reproducible in tests while still spreading
// distinct jobs apart.
type BackoffScheduler struct {
	Base time.Duration
}

// ComputeDelay returns base * 2^(attempt-1) capped at base*6, scaled by a
// jitter factor in [1-ratio, 1+ratio] seeded from the inputs, and clamped back
// into [base, base*6].
func (s BackoffScheduler) ComputeDelay(fingerprint uint64, attempt int) time.Duration {
	base := s.Base
	if base <= 0 {
		base = DefaultBackoffBase
	}
	if attempt < 1 {
		attempt = 1
	}
	capped := base * backoffCapFactor

	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= capped {
			delay = capped
			break
		}
	}

	factor := 1 - jitterRatio + 2*jitterRatio*jitterUnit(fingerprint, attempt)
	jittered := time.Duration(float64(delay) * factor)
	if jittered < base {
		return base
	}
	if jittered > capped {
		return capped
	}
	return jittered
}

// jitterUnit maps (fingerprint, attempt) onto [0, 1] deterministically.
func jitterUnit(fingerprint uint64, attempt int) float64 {
	h := fnv.New64a()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], fingerprint)
	h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], uint64(attempt))
	h.Write(buf[:])
	return float64(h.Sum64()%1000) / 999
}

// ComputeDelay uses the default base; callable from tests without scaffolding.
func ComputeDelay(fingerprint uint64, attempt int) time.Duration {
	return BackoffScheduler{}.ComputeDelay(fingerprint, attempt)
}
