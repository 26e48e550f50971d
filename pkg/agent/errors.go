package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/manthysbr/runagent/internal/core/domain"
	"github.com/manthysbr/runagent/pkg/api"
)

// statusError pins the HTTP status of an error regardless of its kind.
type statusError struct {
	status int
	err    error
}

func (e *statusError) Error() string { return e.err.Error() }
func (e *statusError) Unwrap() error { return e.err }

func withStatus(status int, err error) error {
	return &statusError{status: status, err: err}
}

// badRequest marks a body that could not be parsed or failed schema validation.
func badRequest(err error) error {
	return withStatus(http.StatusBadRequest, fmt.Errorf("%w: %v", domain.ErrValidation, err))
}

func errBodyTooLarge(err *http.MaxBytesError) error {
	return withStatus(http.StatusRequestEntityTooLarge,
		fmt.Errorf("%w: request body exceeds %d bytes", domain.ErrValidation, err.Limit))
}

// statusFor maps an error to a response status. Unclassified failures are 500.
func statusFor(err error) int {
	var se *statusError
	switch {
	case errors.As(err, &se):
		return se.status
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	s.writeErrorStatus(w, r, statusFor(err), err)
}

func (s *Server) writeErrorStatus(w http.ResponseWriter, r *http.Request, status int, err error) {
	resp := api.ErrorResponse{
		Error: err.Error(),
		Code:  string(domain.CodeOf(err)),
	}

	var syncErr *domain.SyncError
	if errors.As(err, &syncErr) {
		resp.Code = string(syncCode(syncErr))
		for _, f := range syncErr.Failures {
			resp.Failures = append(resp.Failures, api.FileFailure{
				Path:  f.Path,
				Code:  string(domain.CodeOf(f.Err)),
				Error: f.Err.Error(),
			})
		}
	}

	attrs := []any{"method", r.Method, "path", r.URL.Path, "status", status, "code", resp.Code, "error", err,
		"request_id", middleware.GetReqID(r.Context())}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", attrs...)
	} else {
		s.logger.Warn("request rejected", attrs...)
	}

	writeJSON(w, status, resp)
}

// syncCode is the shared code of all failures, or IO_ERROR when they differ.
func syncCode(err *domain.SyncError) domain.ErrorCode {
	if len(err.Failures) == 0 {
		return domain.CodeIO
	}
	code := domain.CodeOf(err.Failures[0].Err)
	for _, f := range err.Failures[1:] {
		if domain.CodeOf(f.Err) != code {
			return domain.CodeIO
		}
	}
	return code
}
