package compiler

import "fmt"

// Kind classifies a compile failure. Every failure aborts compilation; no
// partial node list is ever returned.
type Kind string

const (
	ErrParse                 Kind = "parse_error"
	ErrUnknownOperationType  Kind = "unknown_operation_type"
	ErrUnknownReference      Kind = "unknown_reference"
	ErrMissingTimeframe      Kind = "missing_timeframe"
	ErrMissingRequiredOption Kind = "missing_required_option"
	ErrMissingRequiredInput  Kind = "missing_required_input"
	ErrInvalidOption         Kind = "invalid_option"
	ErrInvalidTypeCast       Kind = "invalid_type_cast"
	ErrInvalidSessionRange   Kind = "invalid_session_range"
	ErrCycle                 Kind = "cycle"
	ErrNoOutput              Kind = "no_output"
)

// Error is a compile failure carrying the offending node id/type and the
// missing or invalid field, when known.
type Error struct {
	Kind     Kind
	NodeID   string
	NodeType string
	Field    string
	Msg      string
}

func (e *Error) Error() string {
	prefix := string(e.Kind)
	if e.NodeID != "" {
		prefix = fmt.Sprintf("%s: node %q (%s)", e.Kind, e.NodeID, e.NodeType)
		if e.Field != "" {
			prefix += fmt.Sprintf(", field %q", e.Field)
		}
	}
	if e.Msg == "" {
		return prefix
	}
	return prefix + ": " + e.Msg
}

func errf(kind Kind, nodeID, nodeType, field, format string, args ...any) *Error {
	return &Error{
		Kind:     kind,
		NodeID:   nodeID,
		NodeType: nodeType,
		Field:    field,
		Msg:      fmt.Sprintf(format, args...),
	}
}
