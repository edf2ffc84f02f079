package gc

import "errors"

var (
	// ErrDisabled indicates allocation or collection was requested while
	// the backend is disabled.
	ErrDisabled = errors.New("gc: backend disabled")

	// ErrUnknownConfigKey indicates SetConfig saw a key the backend does
	// not recognize. The whole map is rejected; nothing is applied.
	ErrUnknownConfigKey = errors.New("gc: unknown config key")

	// ErrConfigValue indicates a recognized config key carried an
	// unparsable or out-of-range value.
	ErrConfigValue = errors.New("gc: invalid config value")

	// ErrConfigLocked indicates a config key that only takes effect at
	// Init was changed afterwards.
	ErrConfigLocked = errors.New("gc: config key locked after init")

	// ErrUpcallMissing indicates Bind was given an upcall table without a
	// capability the backend requires.
	ErrUpcallMissing = errors.New("gc: required upcall not bound")
)
