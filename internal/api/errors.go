package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-intake/internal/approval"
	"github.com/sells-group/lead-intake/internal/enrich"
	"github.com/sells-group/lead-intake/internal/lead"
	"github.com/sells-group/lead-intake/internal/phonejob"
	"github.com/sells-group/lead-intake/internal/webhook"
)

// ValidationError is a client error in the request itself.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func invalid(msg string) error { return &ValidationError{Message: msg} }

// UpstreamError is a failure of a third-party service the request depended on.
type UpstreamError struct {
	Service string
	Err     error
}

func (e *UpstreamError) Error() string { return e.Service + ": " + e.Err.Error() }

func (e *UpstreamError) Unwrap() error { return e.Err }

// errNotConfigured marks a feature whose credentials are missing.
var errNotConfigured = eris.New("not configured")

type errorBody struct {
	Error  string            `json:"error"`
	Fields []lead.FieldError `json:"fields,omitempty"`
}

// statusFor maps an error to its HTTP status and client-facing body.
func statusFor(err error) (int, errorBody) {
	var verr *ValidationError
	var lerr *lead.ValidationError
	var uerr *UpstreamError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, errorBody{Error: verr.Message}
	case errors.As(err, &lerr):
		return http.StatusBadRequest, errorBody{Error: "Invalid form submission", Fields: lerr.Fields}
	case errors.Is(err, webhook.ErrMissingJobID):
		return http.StatusBadRequest, errorBody{Error: "Missing jobId parameter"}
	case errors.Is(err, phonejob.ErrJobNotFound):
		return http.StatusNotFound, errorBody{Error: "Job not found"}
	case errors.Is(err, approval.ErrNotFound):
		return http.StatusNotFound, errorBody{Error: "Approval not found"}
	case errors.Is(err, approval.ErrAlreadyDecided):
		return http.StatusConflict, errorBody{Error: "Approval already decided"}
	case errors.As(err, &uerr):
		return http.StatusBadGateway, errorBody{Error: uerr.Service + " request failed"}
	case errors.Is(err, enrich.ErrNotConfigured):
		return http.StatusInternalServerError, errorBody{Error: "Contact provider API key not configured"}
	case errors.Is(err, errNotConfigured):
		return http.StatusInternalServerError, errorBody{Error: err.Error()}
	default:
		return http.StatusInternalServerError, errorBody{Error: "Internal server error"}
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := statusFor(err)
	log := zap.L().With(zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Int("status", status))
	if status >= http.StatusInternalServerError {
		log.Error("api: request failed", zap.Error(err))
	} else {
		log.Debug("api: request rejected", zap.Error(err))
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: encode response", zap.Error(err))
	}
}

// decodeJSON reads a JSON body of at most maxBody bytes into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return invalid("Invalid JSON body")
	}
	return nil
}
