package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-knxip/internal/knxip/address"
	"github.com/nerrad567/gray-logic-knxip/internal/knxip/connection"
	"github.com/nerrad567/gray-logic-knxip/internal/knxip/dpt"
)

// Error is the body of every failed HTTP request and the payload of
// stream error messages. Status is omitted on the stream.
type Error struct {
	Status    int    `json:"status,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeInternal     = "internal_error"
	ErrCodeValidation   = "validation_error"
	ErrCodeUnavailable  = "unavailable"
	ErrCodeTimeout      = "timeout"
	ErrCodeUnauthorized = "unauthorized"
	// ErrCodeLink marks failures reported by the KNXnet/IP link itself.
	ErrCodeLink = "link_error"
)

// classify maps a request, codec or link error onto an HTTP status and
// error code. Anything unrecognised is blamed on the link.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrTokenMissing), errors.Is(err, ErrTokenInvalid):
		return http.StatusUnauthorized, ErrCodeUnauthorized
	case errors.Is(err, address.ErrInvalidAddress):
		return http.StatusBadRequest, ErrCodeBadRequest
	case errors.Is(err, errNoPayload),
		errors.Is(err, errRawHex),
		errors.Is(err, dpt.ErrInvalidDPT),
		errors.Is(err, dpt.ErrEncodingFailed):
		return http.StatusBadRequest, ErrCodeValidation
	case errors.Is(err, connection.ErrNotConnected),
		errors.Is(err, connection.ErrClosed),
		errors.Is(err, errNoBus):
		return http.StatusServiceUnavailable, ErrCodeUnavailable
	case errors.Is(err, connection.ErrReadTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrCodeTimeout
	default:
		return http.StatusBadGateway, ErrCodeLink
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // the client may already be gone
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:    status,
		Code:      code,
		Message:   message,
		RequestID: requestID(r),
	})
}

// writeFailure classifies err and writes it. Link failures are also logged
// since they point at the gateway rather than the caller.
func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error, args ...any) {
	status, code := classify(err)
	if code == ErrCodeLink {
		s.logger.Warn("group operation failed", append(args, "error", err, "request_id", requestID(r))...)
	}
	writeError(w, r, status, code, err.Error())
}
