// Package core provides the domain model shared by the import and export parsers.
//
// # Error Codes Reference
//
// This file defines user-friendly error messages with codes for support reference.
// When users encounter errors, they can quote the error code to support staff
// for faster diagnosis.
//
// # Import Validation Errors (IMP001-IMP099)
//
// Parser validation failures map one-to-one onto codes, in ErrorKind order:
//
//	IMP001 - INVALID_HEADERS    Action: Download the import template and copy your data into it
//	IMP002 - INVALID_DATE       Action: Use the format YYYY-MM-DD HH:MM
//	IMP003 - INVALID_LOCATION   Action: Pick one of the suggested addresses or move it to extra information
//	IMP004 - INVALID_RESULT     Action: Check the result type import name and the number of fields
//	IMP005 - INVALID_DATA       Action: Data values must be numbers
//	IMP006 - INVALID_EVENT      Action: Check the event's dates and title
//	IMP007 - WRONG_ROW_COUNT    Action: Every line must have the same columns as the header
//	IMP008 - PERMISSION_DENIED  Action: Ask an organizer of the group for access
//	IMP009 - INVALID_PATH       Action: Check that the calendar URL is public and correct
//
// # Storage Errors (DB001-DB099)
//
//	DB001 - Not found: the referenced entity does not exist
//	DB002 - Invalid entity: a record failed validation on save
//	DB003 - Connection refused
//	DB004 - Timeout
//
// # Request Errors (REQ001-REQ099)
//
//	REQ001 - File too large
//	REQ002 - No file provided
//	REQ003 - Empty file
//	REQ004 - Too many imports running
//	REQ005 - Batch not found
//	REQ006 - Request cancelled
//
// # Default Error (ERR000)
//
// Fallback when no specific pattern matches.
//
// # Pattern Matching
//
// Parser errors are matched by kind using errors.As. Other errors are matched
// case-insensitively using strings.Contains; the first matching pattern wins.
package core

import (
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

var parserActions = map[ErrorKind]string{
	InvalidHeaders:   "Download the import template and copy your data into it",
	InvalidDate:      "Use the format YYYY-MM-DD HH:MM",
	InvalidLocation:  "Pick one of the suggested addresses or move it to extra information",
	InvalidResult:    "Check the result type import name and the number of fields",
	InvalidData:      "Data values must be numbers",
	InvalidEvent:     "Check the event's dates and title",
	WrongRowCount:    "Every line must have the same columns as the header",
	PermissionDenied: "Ask an organizer of the group for access",
	InvalidPath:      "Check that the calendar URL is public and correct",
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error patterns (case-insensitive) to user messages.
// More specific patterns come before general ones.
var errorPatterns = []errorPattern{
	{
		pattern: "entity not found",
		msg: UserMessage{
			Message: "The requested record does not exist",
			Action:  "Verify the group or import id is correct",
			Code:    "DB001",
		},
	},
	{
		pattern: "invalid entity",
		msg: UserMessage{
			Message: "A record could not be saved",
			Action:  "Review the failed items of the import",
			Code:    "DB002",
		},
	},
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to the database",
			Action:  "Please try again in a few moments",
			Code:    "DB003",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Try a smaller file or try again later",
			Code:    "DB004",
		},
	},
	{
		pattern: "file too large",
		msg: UserMessage{
			Message: "File exceeds the maximum size limit",
			Action:  "Split the file into smaller chunks",
			Code:    "REQ001",
		},
	},
	{
		pattern: "no file provided",
		msg: UserMessage{
			Message: "No file was selected",
			Action:  "Please select a CSV file to import",
			Code:    "REQ002",
		},
	},
	{
		pattern: "empty file",
		msg: UserMessage{
			Message: "The uploaded file is empty",
			Action:  "Please upload a CSV file with a header and data rows",
			Code:    "REQ003",
		},
	},
	{
		pattern: "too many concurrent",
		msg: UserMessage{
			Message: "System is busy processing other imports",
			Action:  "Please wait a moment and try again",
			Code:    "REQ004",
		},
	},
	{
		pattern: "batch not found",
		msg: UserMessage{
			Message: "Batch run not found",
			Action:  "The run may have expired. Please start a new import",
			Code:    "REQ005",
		},
	},
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "Request was cancelled",
			Action:  "Please try again",
			Code:    "REQ006",
		},
	},
}

// defaultMessage is returned when no pattern matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// Parser errors keep their rendered message; other errors are matched
// against known patterns, falling back to ERR000.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var pe *ParserError
	if errors.As(err, &pe) {
		return UserMessage{
			Message: pe.Message(DefaultTranslator),
			Action:  parserActions[pe.Kind],
			Code:    fmt.Sprintf("IMP%03d", int(pe.Kind)),
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether an error maps to a specific message rather
// than the generic ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
