package heap

// Config holds the tunables a Heap is built with. All of them are fixed for
// the lifetime of a Heap: NewHeap (which Init calls) applies the options
// once, and nothing changes them afterwards.
type Config struct {
	// WordSize is the platform's native word size in bytes. Header
	// addresses, payload sizes, and the region itself are all aligned to
	// this value.
	WordSize uintptr

	// MinPayload is the smallest payload size Allocate will ever hand
	// out; smaller requests are clamped up to it.
	MinPayload uintptr

	// MaxPayload is the largest payload size Allocate will accept.
	MaxPayload uintptr

	// CoalesceThreshold is the free_blocks count above which Allocate
	// runs a coalescing sweep before its search, and Reallocate runs one
	// after an in-place shrink or grow, or before its relocate search.
	CoalesceThreshold int
}

// Option mutates a Config during NewHeap.
type Option func(*Config)

func defaultConfig() *Config {
	return &Config{
		WordSize:          8,
		MinPayload:        16,
		MaxPayload:        1 << 30,
		CoalesceThreshold: 8,
	}
}

// WithWordSize overrides the alignment unit. Must be a power of two; NewHeap
// rejects the region if it isn't.
func WithWordSize(w uintptr) Option {
	return func(c *Config) { c.WordSize = w }
}

// WithMinPayload overrides the minimum payload clamp.
func WithMinPayload(n uintptr) Option {
	return func(c *Config) { c.MinPayload = n }
}

// WithMaxPayload overrides the maximum payload a single allocation may request.
func WithMaxPayload(n uintptr) Option {
	return func(c *Config) { c.MaxPayload = n }
}

// WithCoalesceThreshold overrides the free_blocks count above which
// Allocate and Reallocate run a coalescing sweep.
func WithCoalesceThreshold(n int) Option {
	return func(c *Config) { c.CoalesceThreshold = n }
}
