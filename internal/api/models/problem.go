package models

import (
	"encoding/json"
	"net/http"
)

// Problem is an RFC 7807 body, written as application/problem+json for
// every error the API returns. TraceID carries the request ID.
type Problem struct {
	Type     string       `json:"type"`
	Title    string       `json:"title"`
	Status   int          `json:"status"`
	Detail   string       `json:"detail,omitempty"`
	Instance string       `json:"instance,omitempty"`
	TraceID  string       `json:"traceId"`
	Errors   []FieldError `json:"errors,omitempty"`
}

// FieldError points at one invalid request field, e.g.
// "waypoints[1].lat".
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Problem type URIs.
const (
	ProblemTypeValidation      = "https://api.pedalei.app/problems/validation-error"
	ProblemTypeNotFound        = "https://api.pedalei.app/problems/not-found"
	ProblemTypeConflict        = "https://api.pedalei.app/problems/conflict"
	ProblemTypeNoRoute         = "https://api.pedalei.app/problems/no-route"
	ProblemTypeMediaType       = "https://api.pedalei.app/problems/unsupported-media-type"
	ProblemTypeTooManyRequests = "https://api.pedalei.app/problems/too-many-requests"
	ProblemTypeInternal        = "https://api.pedalei.app/problems/internal-error"
	ProblemTypeUnavailable     = "https://api.pedalei.app/problems/service-unavailable"
)

// NewProblem returns a problem without detail.
func NewProblem(problemType, title string, status int, traceID string) *Problem {
	return &Problem{
		Type:    problemType,
		Title:   title,
		Status:  status,
		TraceID: traceID,
	}
}

// Write writes the Problem as JSON to the ResponseWriter.
func (p *Problem) Write(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/problem+json")
	if p.TraceID != "" {
		w.Header().Set("X-Request-Id", p.TraceID)
	}
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

func newDetailed(problemType, title string, status int, traceID, detail string) *Problem {
	p := NewProblem(problemType, title, status, traceID)
	p.Detail = detail
	return p
}

// NewBadRequest creates a 400 validation problem listing the offending fields.
func NewBadRequest(traceID, detail string, errors []FieldError) *Problem {
	p := newDetailed(ProblemTypeValidation, "Validation error", http.StatusBadRequest, traceID, detail)
	p.Errors = errors
	return p
}

// NewNoRoute creates a 422 problem for plans no provider could satisfy.
func NewNoRoute(traceID, detail string) *Problem {
	return newDetailed(ProblemTypeNoRoute, "No route found", http.StatusUnprocessableEntity, traceID, detail)
}

// NewUnsupportedMediaType creates a 415 problem for non-JSON request bodies.
func NewUnsupportedMediaType(traceID, detail string) *Problem {
	return newDetailed(ProblemTypeMediaType, "Unsupported media type", http.StatusUnsupportedMediaType, traceID, detail)
}

// NewNotFound creates a 404 problem.
func NewNotFound(traceID, detail string) *Problem {
	return newDetailed(ProblemTypeNotFound, "Not found", http.StatusNotFound, traceID, detail)
}

// NewConflict creates a 409 problem, used for rides that are no longer active.
func NewConflict(traceID, detail string) *Problem {
	return newDetailed(ProblemTypeConflict, "Conflict", http.StatusConflict, traceID, detail)
}

// NewTooManyRequests creates a 429 problem.
func NewTooManyRequests(traceID, detail string) *Problem {
	return newDetailed(ProblemTypeTooManyRequests, "Too many requests", http.StatusTooManyRequests, traceID, detail)
}

// NewInternalError creates a 500 problem. detail must not leak internals.
func NewInternalError(traceID, detail string) *Problem {
	return newDetailed(ProblemTypeInternal, "Internal server error", http.StatusInternalServerError, traceID, detail)
}

// NewServiceUnavailable creates a 503 problem.
func NewServiceUnavailable(traceID, detail string) *Problem {
	return newDetailed(ProblemTypeUnavailable, "Service unavailable", http.StatusServiceUnavailable, traceID, detail)
}
