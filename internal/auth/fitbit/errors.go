// Package fitbit implements the OAuth2 Authorization Code with PKCE flow
// for the Fitbit Web API. It handles PKCE challenge generation, the local
// HTTPS callback listener, token exchange and refresh, and persistent
// credential storage.
package fitbit

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
)

// APIError is the base error type for all Fitbit API and OAuth failures.
// Every classified error embeds it, so callers can match the concrete kind
// with errors.As or fall back to the shared fields here.
type APIError struct {
	// Message is the human-readable description reported by the provider
	// or generated locally.
	Message string `json:"message"`
	// ErrorType is the provider's errorType value (e.g. "invalid_grant").
	ErrorType string `json:"errorType"`
	// StatusCode is the HTTP status code associated with the error.
	StatusCode int `json:"status,omitempty"`
	// FieldName names the request field that failed validation, when known.
	FieldName string `json:"fieldName,omitempty"`
}

// Error returns a string representation of the API error.
func (e *APIError) Error() string {
	if e.FieldName != "" {
		return fmt.Sprintf("%s (%s): %s", e.ErrorType, e.FieldName, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.ErrorType, e.Message)
}

// OAuthError is the generic fallback for provider OAuth errors that do not
// match a more specific kind.
type OAuthError struct{ APIError }

// ExpiredTokenError indicates the access token has expired.
type ExpiredTokenError struct{ APIError }

// InvalidGrantError indicates the authorization code or refresh token was
// rejected by the provider.
type InvalidGrantError struct{ APIError }

// InvalidClientError indicates the client id or secret was rejected.
type InvalidClientError struct{ APIError }

// InvalidTokenError indicates the access token is malformed or revoked.
type InvalidTokenError struct{ APIError }

// InvalidRequestError indicates the request syntax or parameters were invalid.
type InvalidRequestError struct{ APIError }

// AuthorizationError indicates a generic authorization failure (HTTP 401).
type AuthorizationError struct{ APIError }

// InsufficientPermissionsError indicates the application lacks permission
// for the requested operation.
type InsufficientPermissionsError struct{ APIError }

// InsufficientScopeError indicates the credential is missing a required scope.
type InsufficientScopeError struct{ APIError }

// NotFoundError indicates the requested resource does not exist.
type NotFoundError struct{ APIError }

// RateLimitError indicates the application hit the provider's rate limits.
type RateLimitError struct{ APIError }

// SystemError indicates a provider-side or local system-level failure.
type SystemError struct{ APIError }

// ValidationError indicates a client-side validation failure detected before
// any network call (bad redirect scheme, PKCE verifier out of range).
type ValidationError struct{ APIError }

// CallbackTimeoutError indicates no OAuth callback arrived within the wait
// timeout. Recoverable by retrying the authentication flow.
type CallbackTimeoutError struct{ APIError }

// errorTypeTable maps provider errorType values onto constructors for the
// corresponding typed error. Adding a provider code is a one-line addition.
var errorTypeTable = map[string]func(APIError) error{
	"authorization":            func(b APIError) error { return &AuthorizationError{b} },
	"expired_token":            func(b APIError) error { return &ExpiredTokenError{b} },
	"insufficient_permissions": func(b APIError) error { return &InsufficientPermissionsError{b} },
	"insufficient_scope":       func(b APIError) error { return &InsufficientScopeError{b} },
	"invalid_client":           func(b APIError) error { return &InvalidClientError{b} },
	"invalid_grant":            func(b APIError) error { return &InvalidGrantError{b} },
	"invalid_request":          func(b APIError) error { return &InvalidRequestError{b} },
	"invalid_token":            func(b APIError) error { return &InvalidTokenError{b} },
	"not_found":                func(b APIError) error { return &NotFoundError{b} },
	"oauth":                    func(b APIError) error { return &OAuthError{b} },
	"request":                  func(b APIError) error { return &InvalidRequestError{b} },
	"system":                   func(b APIError) error { return &SystemError{b} },
	"validation":               func(b APIError) error { return &ValidationError{b} },
}

// statusCodeTable maps HTTP status codes from non-token endpoints onto
// typed error constructors.
var statusCodeTable = map[int]func(APIError) error{
	http.StatusBadRequest:          func(b APIError) error { return &InvalidRequestError{b} },
	http.StatusUnauthorized:        func(b APIError) error { return &AuthorizationError{b} },
	http.StatusForbidden:           func(b APIError) error { return &InsufficientPermissionsError{b} },
	http.StatusNotFound:            func(b APIError) error { return &NotFoundError{b} },
	http.StatusConflict:            func(b APIError) error { return &InvalidRequestError{b} },
	http.StatusTooManyRequests:     func(b APIError) error { return &RateLimitError{b} },
	http.StatusInternalServerError: func(b APIError) error { return &SystemError{b} },
	http.StatusBadGateway:          func(b APIError) error { return &SystemError{b} },
	http.StatusServiceUnavailable:  func(b APIError) error { return &SystemError{b} },
	http.StatusGatewayTimeout:      func(b APIError) error { return &SystemError{b} },
}

// ClassifyErrorType builds a typed error from a provider errorType value.
// Unrecognized types fall back to the generic OAuthError.
func ClassifyErrorType(errorType, message string, statusCode int) error {
	base := APIError{
		Message:    message,
		ErrorType:  errorType,
		StatusCode: statusCode,
	}
	if factory, ok := errorTypeTable[errorType]; ok {
		return factory(base)
	}
	return &OAuthError{base}
}

// ClassifyStatusCode builds a typed error from an HTTP status code for
// responses that carry no structured error body.
func ClassifyStatusCode(statusCode int, message string) error {
	base := APIError{
		Message:    message,
		ErrorType:  http.StatusText(statusCode),
		StatusCode: statusCode,
	}
	if factory, ok := statusCodeTable[statusCode]; ok {
		return factory(base)
	}
	return &SystemError{base}
}

// ClassifyResponse classifies a non-2xx provider response. It prefers the
// structured errorType field from the JSON body, falling back to flat
// OAuth error fields and finally to the status code alone.
//
// Fitbit error bodies look like:
//
//	{"errors":[{"errorType":"invalid_grant","message":"Refresh token invalid"}],"success":false}
func ClassifyResponse(statusCode int, body []byte) error {
	if errType := gjson.GetBytes(body, "errors.0.errorType"); errType.Exists() {
		message := gjson.GetBytes(body, "errors.0.message").String()
		return ClassifyErrorType(errType.String(), message, statusCode)
	}
	if errType := gjson.GetBytes(body, "error"); errType.Exists() {
		message := gjson.GetBytes(body, "error_description").String()
		if message == "" {
			message = errType.String()
		}
		return ClassifyErrorType(errType.String(), message, statusCode)
	}
	return ClassifyStatusCode(statusCode, string(body))
}

// NewValidationError creates a client-side validation error for the named
// field. These are raised before any network or listener activity.
func NewValidationError(message, fieldName string) error {
	return &ValidationError{APIError{
		Message:    message,
		ErrorType:  "validation",
		StatusCode: http.StatusBadRequest,
		FieldName:  fieldName,
	}}
}

// NewSystemError creates a local system-level error, optionally wrapping
// the message of an underlying cause.
func NewSystemError(message string, cause error) error {
	if cause != nil {
		message = fmt.Sprintf("%s: %v", message, cause)
	}
	return &SystemError{APIError{
		Message:    message,
		ErrorType:  "system",
		StatusCode: http.StatusInternalServerError,
	}}
}

// NewCallbackTimeoutError creates the error raised when no OAuth callback
// arrives within the configured wait timeout.
func NewCallbackTimeoutError(message string) error {
	return &CallbackTimeoutError{APIError{
		Message:    message,
		ErrorType:  "callback_timeout",
		StatusCode: http.StatusRequestTimeout,
	}}
}

// IsInvalidGrant reports whether the error indicates a rejected or expired
// grant. The token store uses it to decide that a cached refresh token is
// dead and a full reauthorization is required.
func IsInvalidGrant(err error) bool {
	var invalidGrant *InvalidGrantError
	if errors.As(err, &invalidGrant) {
		return true
	}
	var expired *ExpiredTokenError
	if errors.As(err, &expired) {
		return true
	}
	var invalidToken *InvalidTokenError
	return errors.As(err, &invalidToken)
}

// Classified is implemented by every typed error produced by the
// classifier. The Base method is promoted from the embedded APIError.
type Classified interface {
	error
	Base() *APIError
}

// Base returns the shared APIError fields.
func (e *APIError) Base() *APIError { return e }

// AsAPIError extracts the shared APIError base from any classified error
// in the chain.
func AsAPIError(err error) (*APIError, bool) {
	var classified Classified
	if errors.As(err, &classified) {
		return classified.Base(), true
	}
	return nil, false
}

// IsOAuthError reports whether the error originated from the OAuth flow,
// i.e. it carries the shared APIError base.
func IsOAuthError(err error) bool {
	_, ok := AsAPIError(err)
	return ok
}
