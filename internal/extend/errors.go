package extend

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedOption is returned for an unrecognised option token.
	ErrUnsupportedOption = errors.New("extended option not supported")

	// ErrInvalidValue is returned for a malformed numeric value.
	ErrInvalidValue = errors.New("invalid value")

	// ErrRegistration is returned when a configuration node cannot be created.
	ErrRegistration = errors.New("failed to register configuration node")
)

// OptionError records which option token failed to parse.
type OptionError struct {
	Option string
	Err    error
}

func (e *OptionError) Error() string {
	return fmt.Sprintf("option %q: %v", e.Option, e.Err)
}

func (e *OptionError) Unwrap() error {
	return e.Err
}
