package core

// error_messages.go maps technical errors to user-facing messages with codes
// for support reference.
//
// # Error Codes Reference
//
// # Source Errors (SRC001-SRC099)
//
//	SRC001 - Empty file: The file contains no rows
//	         Action: Upload a file with a header row and data
//	SRC002 - Malformed file: The file could not be read
//	         Action: Save it as .csv or .xlsx and try again
//
// # Sink Errors (SNK000-SNK099)
//
// Raised when the database rejects a batch. Rows from earlier batches stay
// committed; re-running the upload is safe under the ignore policy.
//
//	SNK000 - Rejected: The database rejected a batch
//	SNK001 - Value too large: A number or date is out of range for its column
//	SNK002 - Text too long: A text value exceeds the column length
//	SNK003 - No such table: Table X does not exist
//	SNK004 - Type mismatch: A value does not match the column type
//	SNK005 - Timeout: A batch took too long to write
//	SNK006 - Duplicate key: A row collides with an existing key
//	SNK007 - Connection: The database could not be reached
//	SNK008 - Unknown column: The file has a column the table does not
//
// # Upload Errors (UPL001-UPL099)
//
//	UPL001 - Upload cancelled
//	UPL002 - System busy: Too many uploads in progress
//	UPL003 - Session expired: Upload not found
//	UPL004 - Request cancelled
//	UPL005 - Request or upload timeout
//
// # Validation Errors (VAL001-VAL099)
//
//	VAL001 - Invalid column definition
//	VAL002 - Column count does not match the file header
//	VAL003 - Invalid table name
//	VAL004 - Table already exists
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large
//	FILE004 - No file provided
//
// # Default Error (ERR000)
//
// Fallback when nothing matches. Check the logs for the technical error.
//
// Typed errors are matched with errors.Is/As first; the remaining patterns are
// matched case-insensitively with strings.Contains, first match wins.

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/tableload/internal/sink"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action"`
	Code    string `json:"code"`
}

var (
	msgEmptySource  = UserMessage{"The file contains no rows", "Upload a file with a header row and data", "SRC001"}
	msgMalformed    = UserMessage{"The file could not be read", "Save it as .csv or .xlsx and try again", "SRC002"}
	msgCancelled    = UserMessage{"Upload was cancelled", "Start a new upload when ready", "UPL001"}
	msgBusy         = UserMessage{"System is busy processing other uploads", "Please wait a moment and try again", "UPL002"}
	msgNotFound     = UserMessage{"Upload session not found", "The upload may have expired. Please start a new upload", "UPL003"}
	msgCtxCancelled = UserMessage{"Request was cancelled", "Please try again", "UPL004"}
	msgCtxTimeout   = UserMessage{"Request timed out", "Try a smaller file or try again later", "UPL005"}
	msgTimedOut     = UserMessage{"Upload took too long and was stopped", "Rows already written were kept. Split the file and upload the rest", "UPL005"}
	msgBadSchema    = UserMessage{"Invalid column definition", "Use INTEGER, DECIMAL(p,s), VARCHAR(n) or DATETIME", "VAL001"}
	msgColumnCount  = UserMessage{"Column count does not match the file header", "Analyze the file again and resubmit its columns", "VAL002"}
)

// sinkMessages maps failure kinds to messages. FailureNoSuchTable is built
// per error because it names the table.
var sinkMessages = map[sink.FailureKind]UserMessage{
	sink.FailureGeneric:       {"The database rejected a batch", "Check the file against the table definition", "SNK000"},
	sink.FailureValueTooLarge: {"A value is too large for its column", "Widen the column type or fix the values", "SNK001"},
	sink.FailureTextTooLong:   {"A text value is longer than its column allows", "Widen the VARCHAR column or shorten the values", "SNK002"},
	sink.FailureTypeMismatch:  {"A value does not match its column type", "Check numbers and dates in the file", "SNK004"},
	sink.FailureTimeout:       {"A batch took too long to write", "Try again later or upload a smaller file", "SNK005"},
	sink.FailureDuplicateKey:  {"A row collides with an existing key", "Use the ignore or update conflict policy", "SNK006"},
	sink.FailureConnection:    {"Unable to reach the database", "Please try again in a few moments", "SNK007"},
	sink.FailureNoSuchColumn:  {"The file has a column the table does not", "Rename the header or add the column", "SNK008"},
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns catch untyped errors, mostly from the transport layer.
var errorPatterns = []errorPattern{
	{"too many concurrent uploads", msgBusy},
	{"upload not found", msgNotFound},
	{"file too large", UserMessage{"File exceeds the maximum upload size", "Split the file into smaller chunks", "FILE001"}},
	{"no file provided", UserMessage{"No file was selected", "Please select a .csv or .xlsx file", "FILE004"}},
	{"table name is required", UserMessage{"Invalid table name", "Enter the destination table", "VAL003"}},
	{"table reference contains", UserMessage{"Invalid table name", "Enter the destination table", "VAL003"}},
	{"already exists", UserMessage{"Table already exists", "Choose another name or upload into the existing table", "VAL004"}},
	{"unsupported column type", msgBadSchema},
	{"invalid column type", msgBadSchema},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var rejected *SinkRejectedError
	switch {
	case errors.As(err, &rejected):
		if rejected.Kind == sink.FailureNoSuchTable {
			return UserMessage{
				Message: fmt.Sprintf("Table %s does not exist", rejected.Table),
				Action:  "Create the table first or check its name",
				Code:    "SNK003",
			}
		}
		if msg, ok := sinkMessages[rejected.Kind]; ok {
			return msg
		}
		return sinkMessages[sink.FailureGeneric]
	case errors.Is(err, ErrEmptySource):
		return msgEmptySource
	case errors.Is(err, ErrMalformedFile):
		return msgMalformed
	case errors.Is(err, ErrUploadTimeout):
		return msgTimedOut
	case errors.Is(err, ErrCancelled):
		return msgCancelled
	case errors.Is(err, ErrTooManyUploads):
		return msgBusy
	case errors.Is(err, ErrUploadNotFound):
		return msgNotFound
	case errors.Is(err, ErrInvalidSchema):
		return msgBadSchema
	case errors.Is(err, ErrColumnMismatch):
		return msgColumnCount
	case errors.Is(err, context.DeadlineExceeded):
		return msgCtxTimeout
	case errors.Is(err, context.Canceled):
		return msgCtxCancelled
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}
	return defaultMessage
}

// FormatUserError creates a formatted error string for display:
// "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to something more specific than ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error (for logs) with its user-facing message.
type UserError struct {
	Technical error
	User      UserMessage
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err and keeps the original for Unwrap. Returns nil for nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
