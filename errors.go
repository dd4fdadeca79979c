package mp4

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedBox reports a header or body that violates its size invariants.
	ErrMalformedBox = errors.New("malformed box")
	// ErrUnsupportedVersion reports a full box version this package cannot decode.
	ErrUnsupportedVersion = errors.New("unsupported box version")
	// ErrMissingRequiredBox reports a required child that is absent.
	ErrMissingRequiredBox = errors.New("missing required box")
	// ErrInconsistentCount reports a table whose entry count disagrees with
	// its contents or with a sibling table. Decoders returning it also return
	// the entries they could read.
	ErrInconsistentCount = errors.New("inconsistent entry count")
	// ErrInfiniteLoopGuard reports an iteration that stopped advancing or
	// exceeded its bound.
	ErrInfiniteLoopGuard = errors.New("box iteration guard exceeded")
)

// BoxError locates an error at a box.
type BoxError struct {
	Type   BoxType
	Offset int64
	Err    error
}

func (e *BoxError) Error() string {
	return fmt.Sprintf("%s at offset %d: %v", e.Type, e.Offset, e.Err)
}

func (e *BoxError) Unwrap() error { return e.Err }

// IsFatal reports whether err stops decoding. A nil error and an
// ErrInconsistentCount are not fatal.
func IsFatal(err error) bool {
	return err != nil && !errors.Is(err, ErrInconsistentCount)
}
