package quant

import (
	"errors"
	"fmt"

	"github.com/samcharles93/quanta/internal/tensor"
)

var (
	// ErrDegenerateRange is returned when the input range cannot produce a
	// finite positive scale: rmax == rmin in affine mode, or max|r| == 0 in
	// symmetric mode.
	ErrDegenerateRange = errors.New("degenerate range")
	// ErrShapeMismatch is returned when a tensor and its scale or zero point
	// are not broadcast compatible.
	ErrShapeMismatch = tensor.ErrShapeMismatch
	// ErrUnsupportedWidth is returned for bit widths without a signed range.
	ErrUnsupportedWidth = errors.New("unsupported width")
)

type rangeError struct {
	mode   string
	lo, hi float32
}

func (e rangeError) Error() string {
	if e.mode == ModeAffine.String() {
		return fmt.Sprintf("%s: rmin == rmax == %g", e.mode, e.lo)
	}
	return fmt.Sprintf("%s: max|r| == %g", e.mode, e.hi)
}

func (e rangeError) Unwrap() error {
	return ErrDegenerateRange
}

func newRangeError(mode Mode, lo, hi float32) error {
	return rangeError{mode: mode.String(), lo: lo, hi: hi}
}
