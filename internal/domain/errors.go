package domain

import (
	"errors"
	"fmt"
)

// Error types for domain-specific errors
type ErrorType string

const (
	ErrorTypeValidation        ErrorType = "validation"
	ErrorTypeEmptyInput        ErrorType = "empty_input"
	ErrorTypePayloadTooLarge   ErrorType = "payload_too_large"
	ErrorTypeUnsupportedFormat ErrorType = "unsupported_format"
	ErrorTypeFetch             ErrorType = "fetch"
	ErrorTypeDecode            ErrorType = "decode"
	ErrorTypePipeline          ErrorType = "pipeline"
	ErrorTypePartialResult     ErrorType = "partial_result"
	ErrorTypeConfig            ErrorType = "config"
	ErrorTypeIO                ErrorType = "io"
)

// DomainError represents a domain-specific error with context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	// Wrapped errors whose text is already the message are not repeated.
	if e.Err != nil && UserMessage(e.Err) != e.Message {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewError creates a new domain error
func NewError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
	}
}

// Common error constructors
func ValidationError(message string, err error) *DomainError {
	return NewError(ErrorTypeValidation, message, err)
}

func EmptyInputError(message string) *DomainError {
	return NewError(ErrorTypeEmptyInput, message, nil)
}

func PayloadTooLargeError(limit int64) *DomainError {
	return NewError(ErrorTypePayloadTooLarge, fmt.Sprintf("File too large. Maximum size: %s", FormatBytes(limit)), nil)
}

func UnsupportedFormatError(message string) *DomainError {
	return NewError(ErrorTypeUnsupportedFormat, message, nil)
}

func FetchError(message string, err error) *DomainError {
	return NewError(ErrorTypeFetch, message, err)
}

func DecodeError(message string, err error) *DomainError {
	return NewError(ErrorTypeDecode, message, err)
}

// PipelineError wraps a failure raised by the extraction engine. The engine's
// own message is kept as the user-facing text.
func PipelineError(err error) *DomainError {
	msg := "pipeline failed"
	if err != nil {
		msg = UserMessage(err)
	}
	return &DomainError{Type: ErrorTypePipeline, Message: msg, Err: err}
}

// PartialResultError reports a result sequence that failed after pagesRead pages.
func PartialResultError(pagesRead int, err error) *DomainError {
	return NewError(ErrorTypePartialResult, fmt.Sprintf("result iteration failed after %d pages", pagesRead), err)
}

func ConfigError(message string, err error) *DomainError {
	return NewError(ErrorTypeConfig, message, err)
}

func IOError(message string, err error) *DomainError {
	return NewError(ErrorTypeIO, message, err)
}

// IsType reports whether any DomainError in err's chain has the given type.
func IsType(err error, t ErrorType) bool {
	var de *DomainError
	for err != nil {
		if !errors.As(err, &de) {
			return false
		}
		if de.Type == t {
			return true
		}
		err = de.Err
	}
	return false
}

// TypeOf returns the type of the outermost DomainError, or "" if there is none.
func TypeOf(err error) ErrorType {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Type
	}
	return ""
}

// UserMessage renders err for API clients and job results, without the
// bracketed type prefix.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var de *DomainError
	if !errors.As(err, &de) {
		return err.Error()
	}
	if de.Type == ErrorTypePipeline || de.Err == nil {
		return de.Message
	}
	return de.Message + ": " + UserMessage(de.Err)
}

// FormatBytes renders n using binary units, e.g. "50.0 MB".
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
