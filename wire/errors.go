package wire

import (
	"errors"
	"fmt"
)

var (
	// ErrProtocolDecode is wrapped by every DecodeError.
	ErrProtocolDecode = errors.New("malformed worker output")

	// ErrTypeInfoParse is wrapped by every TypeInfoParseError.
	ErrTypeInfoParse = errors.New("malformed type information note")
)

// DecodeError reports a worker output line that is not a valid batch.
type DecodeError struct {
	Line []byte
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: %v (line: %q)", ErrProtocolDecode, e.Err, truncate(e.Line, 120))
}

func (e *DecodeError) Unwrap() []error {
	return []error{ErrProtocolDecode, e.Err}
}

// TypeInfoParseError reports a type information note whose payload does not
// follow the checker=...;kind=...;type=...;range=(...) shape.
type TypeInfoParseError struct {
	Message string
	Reason  string
}

func (e *TypeInfoParseError) Error() string {
	return fmt.Sprintf("%s: %s (message: %q)", ErrTypeInfoParse, e.Reason, e.Message)
}

func (e *TypeInfoParseError) Unwrap() error {
	return ErrTypeInfoParse
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
