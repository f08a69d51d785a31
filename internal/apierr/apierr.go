// Package apierr maps the admission pipeline's error taxonomy (spec §7)
// onto HTTP status codes and the OpenAI-style error envelope the edge
// returns to clients.
package apierr

import (
	"encoding/json"
	"net/http"
)

type Kind string

const (
	KindAuth       Kind = "authentication_error"
	KindRouting    Kind = "routing_error"
	KindRateLimit  Kind = "rate_limit_error"
	KindPolicy     Kind = "policy_denied"
	KindUpstream   Kind = "upstream_error"
	KindValidation Kind = "validation_error"
	KindInternal   Kind = "internal_error"
)

// Error is the error value every external-I/O boundary in the admission
// pipeline classifies into before returning to the caller.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	// ClientMessage, when set, is what WriteJSON sends to the caller
	// instead of Message — used where the spec requires a generic body
	// text while the detailed Message still flows to Error()/logging.
	ClientMessage string
	// Body, when set, is forwarded to the client verbatim instead of the
	// generic envelope (used for upstream non-2xx pass-through).
	Body []byte
}

func (e *Error) Error() string { return e.Message }

func Auth(msg string) *Error {
	return &Error{Kind: KindAuth, Status: http.StatusUnauthorized, Message: msg}
}

func Routing(status int, msg string) *Error {
	return &Error{Kind: KindRouting, Status: status, Message: msg}
}

func RateLimited(msg string) *Error {
	return &Error{Kind: KindRateLimit, Status: http.StatusTooManyRequests, Message: msg}
}

func PolicyDenied(msg string) *Error {
	return &Error{Kind: KindPolicy, Status: http.StatusForbidden, Message: msg}
}

func Upstream(status int, body []byte) *Error {
	if status == 0 {
		status = http.StatusBadGateway
	}
	return &Error{Kind: KindUpstream, Status: status, Message: "upstream error", Body: body}
}

// Validation maps malformed-input failures (spec §4.4, §7: "ValidationError
// … → 500 with generic text") to a 500; msg is kept on the Error for
// Error()/logging but never reaches the client body.
func Validation(msg string) *Error {
	return &Error{
		Kind:          KindValidation,
		Status:        http.StatusInternalServerError,
		Message:       msg,
		ClientMessage: "internal error",
	}
}

func Internal(msg string) *Error {
	return &Error{Kind: KindInternal, Status: http.StatusInternalServerError, Message: msg}
}

// WriteJSON emits the standard {"error":{...}} envelope, or passes e.Body
// through verbatim when set (upstream pass-through).
func WriteJSON(w http.ResponseWriter, e *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)
	if e.Body != nil {
		w.Write(e.Body)
		return
	}
	msg := e.Message
	if e.ClientMessage != "" {
		msg = e.ClientMessage
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"message": msg,
			"type":    string(e.Kind),
			"code":    e.Status,
		},
	})
}
