//go:build !(linux || darwin)

package recovery

import "errors"

func freeSpace(path string) (int64, error) {
	return 0, errors.New("free space probe unsupported on this platform")
}
