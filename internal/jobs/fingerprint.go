package jobs

import (
	"encoding/binary"
	"hash/fnv"
	"math"
	"sort"
)

// Fingerprint digests every surfaced field of a collection into a single
// integer, iterating by ascending ID so ordering of the input never matters.
// Field names participate in the hash input so two different fields holding
// swapped values cannot collide. Identical logical collections produce
// identical fingerprints across process restarts; used only for change
// suppression, never for identity.
func Fingerprint(list []JobSnapshot) uint64 {
	ordered := make([]JobSnapshot, len(list))
	copy(ordered, list)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	h := fnv.New64a()
	var buf [8]byte
	writeInt := func(name string, v int64) {
		h.Write([]byte(name))
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		h.Write(buf[:])
	}
	writeStr := func(name, v string) {
		h.Write([]byte(name))
		binary.LittleEndian.PutUint64(buf[:], uint64(len(v)))
		h.Write(buf[:])
		h.Write([]byte(v))
	}
	writeBool := func(name string, v bool) {
		if v {
			writeInt(name, 1)
		} else {
			writeInt(name, 0)
		}
	}

	writeInt("count", int64(len(ordered)))
	for _, job := range ordered {
		writeInt("id", int64(job.ID))
		writeStr("hash", job.Hash)
		writeStr("name", job.Name)
		writeInt("status", int64(job.Status))
		writeInt("progress", int64(math.Float64bits(job.Progress)))
		writeInt("rateDownload", job.RateDownload)
		writeInt("rateUpload", job.RateUpload)
		writeInt("eta", job.ETA)
		writeInt("sizeWhenDone", job.SizeWhenDone)
		writeInt("leftUntilDone", job.LeftUntilDone)
		writeInt("uploadedEver", job.UploadedEver)
		writeInt("downloadedEver", job.DownloadedEver)
		writeInt("doneDate", job.DoneDate)
		writeInt("secondsActive", job.SecondsActive)
		writeStr("downloadDir", job.DownloadDir)
		writeBool("isFinished", job.IsFinished)
		writeBool("hasEnvelope", job.Envelope != nil)
		if job.Envelope != nil {
			writeInt("errorClass", int64(job.Envelope.Class))
			writeStr("errorMessage", job.Envelope.Message)
			writeInt("lastErrorAt", job.Envelope.LastErrorAt)
			writeInt("recoveryState", int64(job.Envelope.Recovery))
			writeInt("actionCount", int64(len(job.Envelope.Actions)))
			for _, action := range job.Envelope.Actions {
				writeStr("action", action)
			}
		}
	}
	return h.Sum64()
}
