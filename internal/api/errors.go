package api

import (
	"errors"
	"net/http"

	"github.com/samcharles93/quanta/internal/metrics"
	"github.com/samcharles93/quanta/internal/nn"
	"github.com/samcharles93/quanta/pkg/quant"
)

var ErrInvalidRequest = errors.New("invalid_request")

type invalidRequestError struct {
	msg string
}

func (e invalidRequestError) Error() string {
	return e.msg
}

func (e invalidRequestError) Unwrap() error {
	return ErrInvalidRequest
}

func newInvalidRequest(msg string) error {
	return invalidRequestError{msg: msg}
}

// kinds labels the error counter and the "code" field of error bodies.
var kinds = metrics.Classifier{
	{Err: quant.ErrDegenerateRange, Kind: metrics.KindDegenerate},
	{Err: quant.ErrShapeMismatch, Kind: metrics.KindShape},
	{Err: quant.ErrUnsupportedWidth, Kind: metrics.KindWidth},
	{Err: nn.ErrNotQuantized, Kind: metrics.KindNotQuantize},
	{Err: nn.ErrGraphConflict, Kind: metrics.KindGraph},
}

// statusFor maps an error to an HTTP status. Input problems are the caller's
// fault; anything unrecognised is a server error.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, quant.ErrDegenerateRange),
		errors.Is(err, quant.ErrShapeMismatch),
		errors.Is(err, quant.ErrUnsupportedWidth),
		errors.Is(err, nn.ErrGraphConflict):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
