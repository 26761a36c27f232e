package api

import (
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/quanta/internal/metrics"
)

func writeBadRequest(c *echo.Context, msg, param string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg, param, "")
}

func writeNotFound(c *echo.Context, msg string) error {
	return writeError(c, http.StatusNotFound, "not_found_error", msg, "", "")
}

func writeError(c *echo.Context, status int, errType, msg, param, code string) error {
	return c.JSON(status, map[string]any{
		"error": ErrorBody{
			Message: msg,
			Type:    errType,
			Code:    code,
			Param:   param,
		},
	})
}

// writeFailure reports err with the status and code derived from its
// sentinel, and counts it.
func (s *Server) writeFailure(c *echo.Context, err error) error {
	kind := kinds.Kind(err)
	metrics.RecordError(kind)
	status := statusFor(err)
	errType := "invalid_request_error"
	if status >= http.StatusInternalServerError {
		errType = "server_error"
		s.log.Error("request failed", "path", c.Request().URL.Path, "error", err)
	}
	return writeError(c, status, errType, err.Error(), "", kind)
}

// decodeJSON rejects unknown fields so typos in option names surface as 400s.
func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}
