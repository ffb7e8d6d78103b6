package domain

import "errors"

var (
	// ErrAuthentication is returned when a credential is missing or invalid.
	ErrAuthentication = errors.New("authentication error")
	// ErrForbidden is returned when an authenticated user may not access a session.
	ErrForbidden = errors.New("access denied")
	// ErrSessionNotFound is returned when a session id does not resolve.
	ErrSessionNotFound = errors.New("session not found")
	// ErrUserNotFound is returned when a user id does not resolve.
	ErrUserNotFound = errors.New("user not found")
	// ErrProfileNotFound is returned when a user has no profile row yet.
	ErrProfileNotFound = errors.New("psychometric profile not found")
	// ErrSessionExpired is returned for turns attempted at or after the session end time.
	ErrSessionExpired = errors.New("Session time has expired. No new messages can be sent.")
	// ErrUpstreamCompletion wraps failures of the completion service.
	ErrUpstreamCompletion = errors.New("completion service failure")
	// ErrMalformedStructuredOutput marks a completion that did not yield a valid document.
	ErrMalformedStructuredOutput = errors.New("malformed structured output")
	// ErrInvalidInput is returned for empty or malformed request fields.
	ErrInvalidInput = errors.New("invalid input")
)
