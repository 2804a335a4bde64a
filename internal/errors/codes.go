package errors

import (
	"errors"
	"fmt"
)

// Exit codes for jianpu-ly. Install errors do not use these: they carry the
// exit status of the package manager or download tool that failed.
const (
	// ExitOK indicates success.
	ExitOK = 0
	// ExitError is a general/unclassified error. Usage errors share it.
	ExitError = 1
	// ExitFetchError indicates a download failed or did not verify.
	ExitFetchError = 3
	// ExitConversionError indicates the conversion script failed or produced nothing.
	ExitConversionError = 4
	// ExitDeliveryError indicates one or more artifacts could not be delivered.
	ExitDeliveryError = 5
)

// Kind classifies a pipeline failure.
type Kind string

const (
	KindUsage      Kind = "usage"
	KindInstall    Kind = "install"
	KindFetch      Kind = "fetch"
	KindConversion Kind = "conversion"
	KindDelivery   Kind = "delivery"
)

// Error is an error that carries a kind and an exit code.
type Error struct {
	// Kind is the failure class.
	Kind Kind
	// Code is the process exit code.
	Code int
	// Err is the underlying error.
	Err error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewUsageError wraps an error for wrong argument counts or bad flags.
func NewUsageError(format string, args ...any) *Error {
	return &Error{Kind: KindUsage, Code: ExitError, Err: fmt.Errorf(format, args...)}
}

// NewInstallError wraps an install failure with the failing tool's exit code.
// A non-positive code falls back to ExitError.
func NewInstallError(code int, err error) *Error {
	if code <= 0 {
		code = ExitError
	}
	return &Error{Kind: KindInstall, Code: code, Err: err}
}

// NewFetchError wraps a download or checksum failure.
func NewFetchError(err error) *Error {
	return &Error{Kind: KindFetch, Code: ExitFetchError, Err: err}
}

// NewConversionError wraps a conversion failure.
func NewConversionError(err error) *Error {
	return &Error{Kind: KindConversion, Code: ExitConversionError, Err: err}
}

// NewDeliveryError wraps a delivery failure.
func NewDeliveryError(err error) *Error {
	return &Error{Kind: KindDelivery, Code: ExitDeliveryError, Err: err}
}

// ExitCode extracts the exit code from an error. Defaults to ExitError for
// unclassified errors, and ExitOK for nil.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ExitError
}

// KindOf returns the kind of the first classified error in err's chain, or
// the empty kind.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
