//go:build linux || darwin || freebsd

package reserve

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// MmapReserver reserves each buffer as its own anonymous private mapping, so that releasing a heap
// returns its pages to the operating system right away.
type MmapReserver struct{}

var _ Reserver = MmapReserver{}

func (MmapReserver) Reserve(size int) ([]byte, error) {
	if size < 1 {
		return nil, errors.Wrapf(ErrReservation, "cannot reserve %d bytes", size)
	}

	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, errors.Wrapf(ErrReservation, "mmap of %d bytes failed: %v", size, err)
	}

	return data, nil
}

func (MmapReserver) Release(data []byte) error {
	if len(data) == 0 {
		return nil
	}

	err := unix.Munmap(data)
	if errors.Is(err, unix.EINVAL) {
		// Already unmapped
		return nil
	}
	return err
}

// Default returns the reserver used when the consumer does not provide one
func Default() Reserver {
	return MmapReserver{}
}
