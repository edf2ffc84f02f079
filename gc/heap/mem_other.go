//go:build !unix

package heap

// reserve falls back to a plain Go allocation on platforms without mmap.
func reserve(size int64) ([]byte, func() error, error) {
	return make([]byte, size), nil, nil
}
