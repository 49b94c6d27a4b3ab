// Package simerr defines the error taxonomy shared by the simulator packages.
//
// Every failure returned by a control operation wraps exactly one of the
// sentinel errors below, so callers (and the remote binding layer) can
// classify it with errors.Is or Kind.
package simerr

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration reports a caller mistake: an unknown name or an invalid parameter.
	ErrConfiguration = errors.New("configuration error")
	// ErrRecognition reports a scenario definition that could not be parsed.
	ErrRecognition = errors.New("scenario recognition error")
	// ErrValidation reports a parsed scenario that is semantically invalid.
	ErrValidation = errors.New("scenario validation error")
	// ErrAdaptor reports a protocol adaptor construction or runtime failure.
	ErrAdaptor = errors.New("protocol adaptor error")
	// ErrSimulator reports an operational failure such as a readiness timeout.
	ErrSimulator = errors.New("simulator error")
	// ErrIO reports a failure reading a data set or staged payload.
	ErrIO = errors.New("i/o error")
)

// Configuration wraps a formatted message with ErrConfiguration.
func Configuration(format string, args ...any) error {
	return wrap(ErrConfiguration, format, args...)
}

// Recognition wraps a formatted message with ErrRecognition.
func Recognition(format string, args ...any) error {
	return wrap(ErrRecognition, format, args...)
}

// Validation wraps a formatted message with ErrValidation.
func Validation(format string, args ...any) error {
	return wrap(ErrValidation, format, args...)
}

// Adaptor wraps a formatted message with ErrAdaptor.
func Adaptor(format string, args ...any) error {
	return wrap(ErrAdaptor, format, args...)
}

// Simulator wraps a formatted message with ErrSimulator.
func Simulator(format string, args ...any) error {
	return wrap(ErrSimulator, format, args...)
}

// IO wraps a formatted message with ErrIO.
func IO(format string, args ...any) error {
	return wrap(ErrIO, format, args...)
}

func wrap(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %w", kind, fmt.Errorf(format, args...))
}

// Kind returns a short, stable label for the taxonomy class of err.
// Errors outside the taxonomy are reported as "internal".
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrRecognition):
		return "recognition"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrAdaptor):
		return "adaptor"
	case errors.Is(err, ErrSimulator):
		return "simulator"
	case errors.Is(err, ErrIO):
		return "io"
	default:
		return "internal"
	}
}
