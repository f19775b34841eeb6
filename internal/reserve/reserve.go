// Package reserve obtains the host memory that backs heap buffers.
package reserve

import (
	"github.com/pkg/errors"
)

//go:generate mockgen -source=reserve.go -destination=mocks/reserver.go -package=mocks

// ErrReservation is returned when host memory could not be reserved
var ErrReservation = errors.New("host memory reservation failed")

// Reserver obtains buffers of host memory and gives them back. Buffers returned from Reserve are
// zeroed and exactly size bytes long.
type Reserver interface {
	Reserve(size int) ([]byte, error)
	Release(data []byte) error
}

// GoHeapReserver reserves buffers from the Go heap. If Limit is positive, requests that would
// bring the total held by this reserver above Limit bytes fail instead of being attempted.
type GoHeapReserver struct {
	Limit int

	held int
}

var _ Reserver = &GoHeapReserver{}

func (r *GoHeapReserver) Reserve(size int) ([]byte, error) {
	if size < 1 {
		return nil, errors.Wrapf(ErrReservation, "cannot reserve %d bytes", size)
	}
	if r.Limit > 0 && r.held+size > r.Limit {
		return nil, errors.Wrapf(ErrReservation, "reserving %d bytes would exceed the limit of %d bytes (%d held)", size, r.Limit, r.held)
	}

	r.held += size
	return make([]byte, size), nil
}

func (r *GoHeapReserver) Release(data []byte) error {
	r.held -= len(data)
	if r.held < 0 {
		r.held = 0
	}
	return nil
}

// Held returns the number of bytes currently reserved and not yet released
func (r *GoHeapReserver) Held() int {
	return r.held
}
