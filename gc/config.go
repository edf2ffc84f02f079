package gc

import (
	"fmt"
	"strconv"

	"github.com/peterzhu2118/gckit/gc/heap"
	"github.com/peterzhu2118/gckit/gc/mutator"
	"github.com/peterzhu2118/gckit/internal/layout"
)

// Config keys recognized by the backend. The surface is an opaque
// string-keyed map so runtimes can pass tunables through without a schema.
const (
	// ConfigHeapSize is the arena reservation in bytes. Locked after Init.
	ConfigHeapSize = "heap.size"

	// ConfigCacheBatch is the refill batch size for mutator caches.
	ConfigCacheBatch = "cache.batch"
)

// Config returns a copy of the current tunables.
func (b *Backend) Config() map[string]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return map[string]string{
		ConfigHeapSize:   strconv.FormatInt(b.heapSize, 10),
		ConfigCacheBatch: strconv.Itoa(b.cacheBatch),
	}
}

// SetConfig applies a tunables map. Validation is atomic: an unknown key,
// an unparsable value, or a post-init change to a locked key rejects the
// whole map with no side effects.
func (b *Backend) SetConfig(cfg map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	heapSize := b.heapSize
	cacheBatch := b.cacheBatch

	for k, v := range cfg {
		switch k {
		case ConfigHeapSize:
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil || n <= 0 || n > heap.MaxArenaSize || !layout.Aligned(n) {
				return fmt.Errorf("%w: %s=%q", ErrConfigValue, k, v)
			}
			if b.state != stateUninitialized && n != b.heapSize {
				return fmt.Errorf("%w: %s", ErrConfigLocked, k)
			}
			heapSize = n
		case ConfigCacheBatch:
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				return fmt.Errorf("%w: %s=%q", ErrConfigValue, k, v)
			}
			cacheBatch = n
		default:
			return fmt.Errorf("%w: %q", ErrUnknownConfigKey, k)
		}
	}

	b.heapSize = heapSize
	b.cacheBatch = cacheBatch
	return nil
}

func defaultConfig() (int64, int) {
	return heap.DefaultArenaSize, mutator.DefaultBatch
}
