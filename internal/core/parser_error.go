package core

import (
	"fmt"
	"strings"
)

// ErrorKind classifies a validation failure raised while parsing an import source.
type ErrorKind int

const (
	InvalidHeaders ErrorKind = iota + 1
	InvalidDate
	InvalidLocation
	InvalidResult
	InvalidData
	InvalidEvent
	WrongRowCount
	PermissionDenied
	InvalidPath
)

var errorKindNames = map[ErrorKind]string{
	InvalidHeaders:   "INVALID_HEADERS",
	InvalidDate:      "INVALID_DATE",
	InvalidLocation:  "INVALID_LOCATION",
	InvalidResult:    "INVALID_RESULT",
	InvalidData:      "INVALID_DATA",
	InvalidEvent:     "INVALID_EVENT",
	WrongRowCount:    "WRONG_ROW_COUNT",
	PermissionDenied: "PERMISSION_DENIED",
	InvalidPath:      "INVALID_PATH",
}

func (k ErrorKind) String() string {
	if name, ok := errorKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// ParserError is raised the instant a row or slice fails a validation rule.
// Line and Column are 1-based; zero means "not applicable".
type ParserError struct {
	Kind        ErrorKind
	Line        int
	Column      int
	Value       string
	Extra       string   // Optional detail, e.g. the violated entity rule
	Suggestions []string // Address suggestions for InvalidLocation
	Err         error    // Underlying cause, if any
}

// NewParserError creates a ParserError at the given 1-based position.
func NewParserError(kind ErrorKind, line, column int, value string) *ParserError {
	return &ParserError{Kind: kind, Line: line, Column: column, Value: value}
}

// WithExtra sets the optional detail and returns the error.
func (e *ParserError) WithExtra(extra string) *ParserError {
	e.Extra = extra
	return e
}

// Error returns the technical description used in logs.
func (e *ParserError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Line > 0 {
		fmt.Fprintf(&b, " at line %d", e.Line)
		if e.Column > 0 {
			fmt.Fprintf(&b, ", column %d", e.Column)
		}
	}
	if e.Value != "" {
		fmt.Fprintf(&b, ": %q", e.Value)
	}
	if e.Extra != "" {
		b.WriteString(" (" + e.Extra + ")")
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *ParserError) Unwrap() error {
	return e.Err
}

// Message renders the user-facing message for the error.
func (e *ParserError) Message(t Translator) string {
	if t == nil {
		t = DefaultTranslator
	}

	var msg string
	switch e.Kind {
	case InvalidHeaders:
		msg = t.Sprintf("The column headers are incorrect. Please use the import template.")
	case InvalidDate:
		msg = t.Sprintf("Line %d, column %d: incorrect date %q.", e.Line, e.Column, e.Value)
	case InvalidLocation:
		msg = t.Sprintf("Line %d, column %d: the address %q could not be found.", e.Line, e.Column, e.Value)
		if len(e.Suggestions) > 0 {
			msg += " " + t.Sprintf("Suggestions: %s", strings.Join(e.Suggestions, "; "))
		}
	case InvalidResult:
		msg = t.Sprintf("Line %d, column %d: incorrect result %q.", e.Line, e.Column, e.Value)
	case InvalidData:
		msg = t.Sprintf("Line %d, column %d: incorrect data value %q.", e.Line, e.Column, e.Value)
	case InvalidEvent:
		msg = t.Sprintf("Line %d: the event is not valid.", e.Line)
	case WrongRowCount:
		msg = t.Sprintf("Line %d: wrong number of columns.", e.Line)
	case PermissionDenied:
		msg = t.Sprintf("You do not have permission to import into this group.")
	case InvalidPath:
		msg = t.Sprintf("The calendar at %q could not be retrieved.", e.Value)
	default:
		msg = t.Sprintf("The import source is not valid.")
	}

	if e.Extra != "" {
		msg += " " + e.Extra
	}
	return msg
}
