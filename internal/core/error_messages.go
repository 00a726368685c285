package core

// error_messages.go maps technical errors to user-facing messages with codes
// support staff can look up.
//
// # Codes
//
//	CSV001 - Invalid CSV: the file could not be read as UTF-8 CSV
//	CSV002 - Empty file: the file has no data rows
//	CSV003 - Unknown data type: the declared data type is not supported
//	CSV004 - Missing columns: required columns are missing from the header
//	CSV005 - Invalid file: only .csv files are accepted
//
//	STG001 - No staged data: nothing to commit, the upload expired or never validated
//	STG002 - No data type: the upload's data type expired
//	STG003 - Upload not found
//	STG004 - Staging unavailable
//
//	COM001 - Partial commit: a batch failed, earlier batches were written
//	COM002 - Already committed
//	COM003 - Commit in progress, or a failed commit awaits rollback
//	COM004 - Transform failed for a validated row
//	COM005 - Already rolled back
//
//	DB001-DB007 - Database errors matched by message
//	UPL001-UPL005 - Upload limits and request lifecycle
//	RATE001 - Too many requests
//	ERR000 - Unknown error
//
// Sentinel errors are matched first with errors.Is. Anything else falls back
// to case-insensitive substring patterns, where the first match wins.

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/livpulse/internal/schema"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"` // What happened
	Action  string `json:"action"`  // What to do about it
	Code    string `json:"code"`    // Reference for support
}

type sentinelMessage struct {
	err error
	msg UserMessage
}

// sentinelMessages is checked in order; more specific errors come first.
var sentinelMessages = []sentinelMessage{
	{ErrCommitBatchFailed, UserMessage{
		Message: "Commit stopped partway; some rows were saved",
		Action:  "Roll back the upload, fix the cause and commit again",
		Code:    "COM001",
	}},
	{ErrAlreadyCommitted, UserMessage{
		Message: "This upload has already been committed",
		Action:  "Check the upload history",
		Code:    "COM002",
	}},
	{ErrCommitInProgress, UserMessage{
		Message: "A commit for this upload is running or needs a rollback",
		Action:  "Wait for it to finish, or roll back a failed commit first",
		Code:    "COM003",
	}},
	{ErrAlreadyRolledBack, UserMessage{
		Message: "This upload has already been rolled back",
		Action:  "Check the upload history",
		Code:    "COM005",
	}},
	{ErrParse, UserMessage{
		Message: "File is not a valid CSV",
		Action:  "Save the file as comma-separated UTF-8 text",
		Code:    "CSV001",
	}},
	{ErrEmptyFile, UserMessage{
		Message: "The uploaded file has no data rows",
		Action:  "Upload a CSV with a header row and at least one data row",
		Code:    "CSV002",
	}},
	{schema.ErrUnknownDataType, UserMessage{
		Message: "Unsupported data type",
		Action:  "Choose one of the listed data types",
		Code:    "CSV003",
	}},
	{ErrMissingColumns, UserMessage{
		Message: "Required columns are missing from the file",
		Action:  "Add the missing columns and upload again",
		Code:    "CSV004",
	}},
	{ErrNoStagedData, UserMessage{
		Message: "No validated data found for this upload",
		Action:  "The upload may have expired. Please upload the file again",
		Code:    "STG001",
	}},
	{ErrNoDataType, UserMessage{
		Message: "Upload data type not found",
		Action:  "The upload may have expired. Please upload the file again",
		Code:    "STG002",
	}},
	{ErrUploadNotFound, UserMessage{
		Message: "Upload not found",
		Action:  "Check the upload id",
		Code:    "STG003",
	}},
	{ErrTooManyUploads, UserMessage{
		Message: "Too many uploads in progress",
		Action:  "Please wait a moment and try again",
		Code:    "UPL002",
	}},
	{context.Canceled, UserMessage{
		Message: "Request was cancelled",
		Action:  "Please try again",
		Code:    "UPL004",
	}},
	{context.DeadlineExceeded, UserMessage{
		Message: "Request timed out",
		Action:  "Try a smaller file or try again later",
		Code:    "UPL005",
	}},
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns catches errors from drivers and the network that carry no sentinel.
var errorPatterns = []errorPattern{
	// =========================================================================
	// Database (DB001-DB007)
	// =========================================================================
	{"duplicate key", UserMessage{
		Message: "A record with this ID already exists",
		Action:  "Remove duplicate rows and try again",
		Code:    "DB001",
	}},
	{"violates unique", UserMessage{
		Message: "This value must be unique but already exists",
		Action:  "Check for duplicate entries in your CSV",
		Code:    "DB002",
	}},
	{"violates not-null", UserMessage{
		Message: "A required value was empty when saving",
		Action:  "Ensure all required columns have values",
		Code:    "DB003",
	}},
	{"connection refused", UserMessage{
		Message: "Unable to connect to database",
		Action:  "Please try again in a few moments",
		Code:    "DB004",
	}},
	{"connection reset", UserMessage{
		Message: "Database connection was interrupted",
		Action:  "Please try again",
		Code:    "DB005",
	}},
	{"timeout", UserMessage{
		Message: "Operation timed out",
		Action:  "Try a smaller file or try again later",
		Code:    "DB006",
	}},
	{"deadlock", UserMessage{
		Message: "Database was busy with conflicting operations",
		Action:  "Please try again",
		Code:    "DB007",
	}},

	// =========================================================================
	// Upload (UPL001-UPL003), file (CSV005), transform (COM004)
	// =========================================================================
	{"file too large", UserMessage{
		Message: "File exceeds maximum size limit (50MB)",
		Action:  "Split the file into smaller chunks",
		Code:    "UPL001",
	}},
	{"only csv", UserMessage{
		Message: "Only CSV files are allowed",
		Action:  "Upload a file with the .csv extension",
		Code:    "CSV005",
	}},
	{"no file provided", UserMessage{
		Message: "No file was provided",
		Action:  "Please select a CSV file to upload",
		Code:    "UPL003",
	}},
	{"is not a valid", UserMessage{
		Message: "A validated row could not be converted",
		Action:  "Contact support with the upload id",
		Code:    "COM004",
	}},
	{"redis", UserMessage{
		Message: "Staging store is unavailable",
		Action:  "Please try again in a few moments",
		Code:    "STG004",
	}},

	// =========================================================================
	// Rate limiting (RATE001)
	// =========================================================================
	{"rate limit", UserMessage{
		Message: "Too many requests",
		Action:  "Please wait a moment before trying again",
		Code:    "RATE001",
	}},
}

// defaultMessage is returned when nothing matches (ERR000). Support staff
// should check application logs for the original error.
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
//
//	msg := MapError(fmt.Errorf("commit %s: %w", id, ErrNoStagedData))
//	// msg.Code == "STG001"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, sm := range sentinelMessages {
		if errors.Is(err, sm.err) {
			return sm.msg
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

// IsUserFacing reports whether err maps to a specific message rather than ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
