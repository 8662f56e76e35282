package blocks

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownField is matched by errors.Is for unmapped field codes.
	ErrUnknownField = errors.New("unrecognized field code")
	// ErrMalformedLine is matched by errors.Is for lines that cannot be placed in a block.
	ErrMalformedLine = errors.New("malformed line")
	// ErrDecode is matched by errors.Is when input bytes do not decode.
	ErrDecode = errors.New("decode input")
)

// UnknownFieldError reports a field code missing from the FieldMap.
type UnknownFieldError struct {
	Code string
	Line int
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("line %d: unrecognized field code %q", e.Line, e.Code)
}

// Is implements errors.Is support.
func (e *UnknownFieldError) Is(target error) bool {
	return target == ErrUnknownField
}

// MalformedLineError reports a line that is neither a field nor a valid continuation.
type MalformedLineError struct {
	Line   int
	Text   string
	Reason string
}

func (e *MalformedLineError) Error() string {
	return fmt.Sprintf("line %d: malformed line %q: %s", e.Line, e.Text, e.Reason)
}

// Is implements errors.Is support.
func (e *MalformedLineError) Is(target error) bool {
	return target == ErrMalformedLine
}

// DecodeError reports input that is not valid under the declared encoding.
type DecodeError struct {
	Encoding string
	Err      error
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("decode input as %s", e.Encoding)
	}
	return fmt.Sprintf("decode input as %s: %v", e.Encoding, e.Err)
}

// Unwrap implements errors.Unwrap.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support.
func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}
