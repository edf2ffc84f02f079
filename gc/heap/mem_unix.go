//go:build unix

package heap

import "golang.org/x/sys/unix"

// reserve maps an anonymous private region for the arena. Mapping instead of
// allocating through the Go heap keeps the arena out of the host runtime's
// GC scanning and gives pages back to the OS on release.
func reserve(size int64) ([]byte, func() error, error) {
	data, err := unix.Mmap(-1, 0, int(size),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, nil, err
	}
	return data, func() error { return unix.Munmap(data) }, nil
}
