package memutils

import "github.com/pkg/errors"

// ErrPowerOfTwo is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
var ErrPowerOfTwo error = errors.New("number must be a power of two")

// ErrLengthMismatch is returned when a dynamically-sized payload is built from an element source
// that yields a different number of elements than the declared length
var ErrLengthMismatch error = errors.New("element source did not yield the declared number of elements")

// ErrAllocationFailed is returned when an allocator could not reserve memory for a block
var ErrAllocationFailed error = errors.New("allocation failed")

// ErrDoubleFree is the panic value used when a block is freed twice
var ErrDoubleFree error = errors.New("block was already freed")

// ErrLayoutMismatch is the panic value used when a block is freed with a layout that differs from
// the one it was allocated with
var ErrLayoutMismatch error = errors.New("block was freed with a different layout than it was allocated with")

// ErrUnsupportedPayload is returned by allocators that place blocks outside the Go heap when
// asked to hold a payload type that contains Go pointers
var ErrUnsupportedPayload error = errors.New("payload type is not supported by this allocator")
