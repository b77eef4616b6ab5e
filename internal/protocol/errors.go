package protocol

import "fmt"

// ErrKind distinguishes the closed set of structural rejection reasons.
type ErrKind string

const (
	ErrMalformedInput       ErrKind = "malformed_input"
	ErrUnrecognizedForm     ErrKind = "unrecognized_form"
	ErrAmbiguousForm        ErrKind = "ambiguous_form"
	ErrUnexpectedField      ErrKind = "unexpected_field"
	ErrMissingRequiredField ErrKind = "missing_required_field"
	ErrInvalidFieldType     ErrKind = "invalid_field_type"
	ErrInvalidToolName      ErrKind = "invalid_tool_name"
	ErrEmptyContent         ErrKind = "empty_content"
)

// Error is the structural rejection of one protocol message. Kind is machine
// distinguishable; Path points at the offending field in the input when the
// failure is field-local (e.g. "message.content", "tool_call.args").
type Error struct {
	Kind    ErrKind
	Path    string
	Message string
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("protocol: %s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("protocol: %s at %s: %s", e.Kind, e.Path, e.Message)
}

func newError(kind ErrKind, path string, format string, args ...any) *Error {
	return &Error{Kind: kind, Path: path, Message: fmt.Sprintf(format, args...)}
}
