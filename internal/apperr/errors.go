// Package apperr provides the error kinds and HTTP/protocol status mapping
// shared by the WebSocket connection boundary and the admin HTTP API.
//
// Every handler boundary converts unexpected errors into one of five kinds
// (Protocol, Authorization, ResourceExhaustion, Backend, Fatal), plus a
// Validation kind for admin API request bodies; no other error shape should
// cross a connection or request boundary uncaught.
package apperr

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Kind categorizes an AppError per the broker's error handling design.
type Kind string

const (
	KindProtocol    Kind = "protocol_violation"
	KindAuth        Kind = "authorization_failure"
	KindResource    Kind = "resource_exhaustion"
	KindBackend     Kind = "backend_failure"
	KindFatal       Kind = "fatal"
	KindValidation  Kind = "validation"
)

// Pusher WebSocket error codes (spec §6.3).
const (
	WSCodeAppDisabled       = 4001
	WSCodeOriginNotAllowed  = 4003
	WSCodeConnectionLimit   = 4004
	WSCodeInvalidPayload    = 4007
	WSCodeUnauthorized      = 4009
	WSCodeServerShutdown    = 4200
	WSCodeUnknownEvent      = 4301
)

// AppError is the single error shape that crosses every handler boundary.
// WSCode is non-zero for errors that surface as a pusher:error frame;
// HTTPStatus always applies to the admin API.
type AppError struct {
	Kind       Kind
	WSCode     int
	HTTPStatus int
	Message    string
	Errors     map[string][]string
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// WSFrame is the data payload of a pusher:error frame.
type WSFrame struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ToWSFrame renders the error as a pusher:error data payload. Only valid
// when WSCode is non-zero.
func (e *AppError) ToWSFrame() WSFrame {
	return WSFrame{Code: e.WSCode, Message: e.Message}
}

// HTTPResponse is the JSON body returned by the admin API on failure.
type HTTPResponse struct {
	Message string              `json:"message"`
	Errors  map[string][]string `json:"errors,omitempty"`
}

// ToHTTPResponse renders the error as the admin API's {message, errors?}
// body shape.
func (e *AppError) ToHTTPResponse() HTTPResponse {
	return HTTPResponse{Message: e.Message, Errors: e.Errors}
}

// InvalidPayload is returned when an inbound WS frame fails shape
// validation (spec §4.5.1 / §7 Protocol violation).
func InvalidPayload(message string) *AppError {
	return &AppError{Kind: KindProtocol, WSCode: WSCodeInvalidPayload, HTTPStatus: http.StatusUnprocessableEntity, Message: message}
}

// UnknownEvent is returned for an inbound event name the handler does not
// recognize.
func UnknownEvent() *AppError {
	return &AppError{Kind: KindProtocol, WSCode: WSCodeUnknownEvent, HTTPStatus: http.StatusUnprocessableEntity, Message: "Unknown event"}
}

// Unauthorized is returned when subscribe-time signature verification
// fails (spec §4.4).
func Unauthorized() *AppError {
	return &AppError{Kind: KindAuth, WSCode: WSCodeUnauthorized, HTTPStatus: http.StatusUnauthorized, Message: "Connection unauthorized"}
}

// SignatureMismatch is the admin-API analogue of Unauthorized (spec §4.8).
func SignatureMismatch() *AppError {
	return &AppError{Kind: KindAuth, HTTPStatus: http.StatusUnauthorized, Message: "Invalid signature"}
}

// AppNotFound is returned when appId/app key does not resolve.
func AppNotFound() *AppError {
	return &AppError{Kind: KindAuth, WSCode: WSCodeAppDisabled, HTTPStatus: http.StatusNotFound, Message: "Application not found"}
}

// OriginNotAllowed is returned when a connection's Origin header is not in
// the app's allowed_origins list.
func OriginNotAllowed() *AppError {
	return &AppError{Kind: KindAuth, WSCode: WSCodeOriginNotAllowed, HTTPStatus: http.StatusForbidden, Message: "Origin not allowed"}
}

// ConnectionLimitReached is returned at accept time once an app's
// max_connections cap is hit (spec §7 Resource exhaustion).
func ConnectionLimitReached() *AppError {
	return &AppError{Kind: KindResource, WSCode: WSCodeConnectionLimit, HTTPStatus: http.StatusTooManyRequests, Message: "Connection limit reached"}
}

// ServerShuttingDown is broadcast to every connection during graceful
// shutdown (spec §5).
func ServerShuttingDown() *AppError {
	return &AppError{Kind: KindFatal, WSCode: WSCodeServerShutdown, HTTPStatus: http.StatusServiceUnavailable, Message: "Server shutting down"}
}

// NotFound is a generic 404 for admin API resources (channel, user).
func NotFound(resource string) *AppError {
	return &AppError{Kind: KindAuth, HTTPStatus: http.StatusNotFound, Message: fmt.Sprintf("%s not found", resource)}
}

// NotPresenceChannel is a 400 for admin API calls that only make sense on a
// presence-variant channel (spec §4.8's /channels/{channel}/users).
func NotPresenceChannel() *AppError {
	return &AppError{Kind: KindValidation, HTTPStatus: http.StatusBadRequest, Message: "channel is not a presence channel"}
}

// ValidationFailed wraps field-level validation errors for the admin API
// (spec §7: HTTP 422 with {message, errors}).
func ValidationFailed(fieldErrors map[string][]string) *AppError {
	return &AppError{Kind: KindValidation, HTTPStatus: http.StatusUnprocessableEntity, Message: "Validation failed", Errors: fieldErrors}
}

// BatchTooLarge is returned when a batch_events request exceeds the
// 10-item limit (spec §4.8 / S6).
func BatchTooLarge() *AppError {
	return ValidationFailed(map[string][]string{
		"batch": {"The batch may not contain more than 10 events."},
	})
}

// ServiceUnavailable is returned by admin calls while the configured bus
// is in its reconnect grace window (spec §7 Backend failure).
func ServiceUnavailable(what string) *AppError {
	return &AppError{Kind: KindBackend, HTTPStatus: http.StatusServiceUnavailable, Message: fmt.Sprintf("%s unavailable", what)}
}

// FieldErrors converts a validator.ValidationErrors (or any other error) into
// the {field: [messages]} shape ValidationFailed expects. A non-validator
// error becomes a single "body" entry.
func FieldErrors(err error) map[string][]string {
	out := map[string][]string{}
	if verrs, ok := err.(validator.ValidationErrors); ok {
		for _, e := range verrs {
			field := strings.ToLower(e.Field())
			out[field] = append(out[field], formatFieldError(e))
		}
		return out
	}
	out["body"] = []string{err.Error()}
	return out
}

func formatFieldError(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", e.Field())
	case "max":
		return fmt.Sprintf("%s must be at most %s items", e.Field(), e.Param())
	case "min":
		return fmt.Sprintf("%s must have at least %s items", e.Field(), e.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", e.Field(), e.Param())
	default:
		return fmt.Sprintf("%s failed validation: %s", e.Field(), e.Tag())
	}
}

// Internal wraps an unexpected error as a 500.
func Internal(err error) *AppError {
	msg := "internal server error"
	if err != nil {
		msg = err.Error()
	}
	return &AppError{Kind: KindBackend, HTTPStatus: http.StatusInternalServerError, Message: msg}
}
