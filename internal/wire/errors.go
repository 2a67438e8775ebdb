package wire

import (
	"errors"
	"fmt"
)

// ProtocolError describes a datagram that could not be decoded.
//
// The whole datagram is dropped when a ProtocolError is returned. Individual
// bad commands inside an otherwise valid TICK message do not produce one; they
// are reported through Message.Rejected instead.
type ProtocolError struct {
	// Code identifies the error category.
	Code ProtocolErrorCode

	// Message is a human-readable description.
	Message string

	// Raw is the offending payload, truncated for logging.
	Raw string
}

// ProtocolErrorCode categorizes protocol errors.
type ProtocolErrorCode string

const (
	// ErrCodeEmpty indicates an empty datagram.
	ErrCodeEmpty ProtocolErrorCode = "EMPTY"

	// ErrCodeUnknownKind indicates an unrecognized message prefix.
	ErrCodeUnknownKind ProtocolErrorCode = "UNKNOWN_KIND"

	// ErrCodeMalformed indicates a header field that does not parse.
	ErrCodeMalformed ProtocolErrorCode = "MALFORMED"

	// ErrCodeTruncated indicates a TICK whose command count disagrees with
	// the number of command fields present.
	ErrCodeTruncated ProtocolErrorCode = "TRUNCATED"
)

const maxRawInError = 96

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	if e.Raw != "" {
		return fmt.Sprintf("%s: %s (raw=%q)", e.Code, e.Message, e.Raw)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsTruncated returns true if the error reports a truncated tick message.
// Uses errors.As to handle wrapped errors.
func IsTruncated(err error) bool {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Code == ErrCodeTruncated
	}
	return false
}

// IsProtocolError returns true for any decoding failure.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

func newProtocolError(code ProtocolErrorCode, raw, format string, args ...any) *ProtocolError {
	if len(raw) > maxRawInError {
		raw = raw[:maxRawInError] + "..."
	}
	return &ProtocolError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Raw:     raw,
	}
}
