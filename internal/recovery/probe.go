package recovery

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

var (
	ErrPathNotFound = errors.New("path not found")
	ErrAccessDenied = errors.New("access denied")
)

type Logger interface {
	Printf(format string, args ...any)
}

// ProbeResult is the on-disk footprint of a path.
type ProbeResult struct {
	SizeBytes int64
	FreeBytes int64
}

// PathProbe inspects local paths. Implementations must report missing paths
// as ErrPathNotFound and permission failures as ErrAccessDenied so the
// classifier can tell them apart.
type PathProbe interface {
	Probe(path string) (ProbeResult, error)
}

// LocalProbe reads the real filesystem. Only usable when the client runs on
// the same host as the daemon's storage.
type LocalProbe struct{}

func (LocalProbe) Probe(path string) (ProbeResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return ProbeResult{}, translateStatError(err)
	}
	size := info.Size()
	if info.IsDir() {
		size, err = dirSize(path)
		if err != nil {
			return ProbeResult{}, err
		}
	}
	free, ferr := freeSpace(path)
	if ferr != nil {
		free = 0
	}
	return ProbeResult{SizeBytes: size, FreeBytes: free}, nil
}

func dirSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			// Entries can vanish mid-walk while the daemon moves data.
			if errors.Is(walkErr, fs.ErrNotExist) {
				return nil
			}
			return translateStatError(walkErr)
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return translateStatError(err)
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

func translateStatError(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return ErrPathNotFound
	}
	if errors.Is(err, fs.ErrPermission) {
		return ErrAccessDenied
	}
	return err
}
