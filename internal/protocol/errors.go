package protocol

import "errors"

// Stable error codes surfaced to command senders.
const (
	ErrBadRequest     = "E_BAD_REQUEST"
	ErrUnauthorized   = "E_UNAUTHORIZED"
	ErrTargetNotFound = "E_TARGET_NOT_FOUND"

	// Navigation failures (behavior aborts to Idle).
	ErrNavNoPath  = "E_NAV_NO_PATH"
	ErrNavTimeout = "E_NAV_TIMEOUT"
	ErrNavStuck   = "E_NAV_STUCK"

	// Combat: target disappeared (prior passive behavior resumes).
	ErrEngagementLost = "E_ENGAGEMENT_LOST"

	// Store degraded; never fatal.
	ErrStoreUnavailable = "E_STORE_UNAVAILABLE"

	ErrInternal = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrBadRequest:       {},
	ErrUnauthorized:     {},
	ErrTargetNotFound:   {},
	ErrNavNoPath:        {},
	ErrNavTimeout:       {},
	ErrNavStuck:         {},
	ErrEngagementLost:   {},
	ErrStoreUnavailable: {},
	ErrInternal:         {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// CodedError pairs a stable code with a human-readable message.
type CodedError struct {
	Code    string
	Message string
}

func (e *CodedError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

func NewError(code, message string) *CodedError {
	return &CodedError{Code: code, Message: message}
}

// CodeOf extracts the stable code from an error chain, or E_INTERNAL for
// errors that carry no code.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var ce *CodedError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ErrInternal
}
