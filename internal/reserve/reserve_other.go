//go:build !(linux || darwin || freebsd)

package reserve

// Default returns the reserver used when the consumer does not provide one. Anonymous mappings
// are not available on this platform, so buffers come from the Go heap.
func Default() Reserver {
	return &GoHeapReserver{}
}
