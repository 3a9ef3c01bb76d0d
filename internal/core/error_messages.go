package core

// # Error Codes Reference
//
// User-facing messages carry a code that operators can quote when
// reporting a problem. Rules are checked in order and the first match
// wins. Most rules match an error class with errors.Is; a few fall back to
// substrings of the technical message.
//
// # Connection Errors (CONN001-CONN099)
//
//	CONN001 - Database unreachable
//	          Action: Check host, port, database name and credentials
//	CONN002 - Map server unreachable
//	          Action: Check the map server URL and that it is running
//	AUTH001 - Map server rejected the credentials (HTTP 401/403)
//	          Action: Check the map server user name and password
//
// # Prerequisite Errors (PRE001-PRE099)
//
//	PRE001 - PostGIS extension missing
//	         Action: Run CREATE EXTENSION postgis in the target database
//	PRE002 - Required component not configured
//
// # Import Errors (IMP001-IMP099)
//
//	IMP000 - Generic import failure
//	IMP001 - Source has no geometry
//	IMP002 - Reprojection failed
//	IMP003 - Format not supported for import
//	IMP004 - Table already exists
//
// # Publish Errors (PUB001-PUB099)
//
//	PUB000 - Map server rejected the request
//	PUB001 - Layer already published (HTTP 409)
//	PUB002 - Referenced resource not found (HTTP 404)
//
// # Naming, Support and File Errors
//
//	NAME001 - Invalid table or layer name
//	NAME002 - Name already in use
//	SUP001  - Raster import not supported
//	SUP002  - Other unsupported item
//	FILE001 - File could not be inspected
//
// # Database Errors (DB001-DB099)
//
//	DB000 - Generic database failure
//	DB004 - Connection refused
//	DB005 - Connection reset
//	DB006 - Timeout
//	DB007 - Deadlock
//	DB008 - Permission denied
//
// # Run Errors (RUN001-RUN099)
//
//	RUN001 - Run cancelled
//	RUN002 - Another run in progress
//	RUN003 - Run not found or expired
//	RUN004 - Nothing to publish
//	RUN005 - Run timed out
//
// ERR000 is the fallback; check the logs for the technical error.

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/JonMunkholm/geopublish/internal/domain"
)

// UserMessage is a technical error translated for display.
type UserMessage struct {
	Message string `json:"message"` // What happened (user-friendly)
	Action  string `json:"action"`  // What to do about it
	Code    string `json:"code"`    // Code for support reference
}

type matcher func(err error, text string) bool

type errorRule struct {
	match matcher
	msg   UserMessage
}

func is(target error) matcher {
	return func(err error, _ string) bool { return errors.Is(err, target) }
}

func contains(pattern string) matcher {
	return func(_ error, text string) bool { return strings.Contains(text, pattern) }
}

func status(codes ...int) matcher {
	return func(err error, _ string) bool {
		s := domain.StatusOf(err)
		for _, c := range codes {
			if s == c {
				return true
			}
		}
		return false
	}
}

func all(ms ...matcher) matcher {
	return func(err error, text string) bool {
		for _, m := range ms {
			if !m(err, text) {
				return false
			}
		}
		return true
	}
}

var errorRules = []errorRule{
	// Run service
	{is(ErrTooManyRuns), UserMessage{
		Message: "Another publish run is in progress",
		Action:  "Wait for it to finish and try again",
		Code:    "RUN002",
	}},
	{is(ErrRunNotFound), UserMessage{
		Message: "Run not found",
		Action:  "The run may have expired. Start a new run",
		Code:    "RUN003",
	}},
	{is(ErrNoItems), UserMessage{
		Message: "There is nothing to publish",
		Action:  "Select at least one file or table",
		Code:    "RUN004",
	}},

	// Prerequisites
	{all(is(domain.ErrPrerequisite), contains("postgis extension")), UserMessage{
		Message: "The PostGIS extension is not installed in the target database",
		Action:  "Run CREATE EXTENSION postgis in the database, then try again",
		Code:    "PRE001",
	}},
	{is(domain.ErrPrerequisite), UserMessage{
		Message: "A required component is not configured",
		Action:  "Check the server configuration",
		Code:    "PRE002",
	}},

	// Connections
	{all(is(domain.ErrConnection), status(http.StatusUnauthorized, http.StatusForbidden)), UserMessage{
		Message: "The map server rejected the credentials",
		Action:  "Check the map server user name and password",
		Code:    "AUTH001",
	}},
	{all(is(domain.ErrConnection), contains("map server")), UserMessage{
		Message: "Unable to reach the map server",
		Action:  "Check the map server URL and that it is running",
		Code:    "CONN002",
	}},
	{is(domain.ErrConnection), UserMessage{
		Message: "Unable to connect to the database",
		Action:  "Check host, port, database name and credentials",
		Code:    "CONN001",
	}},

	// Publishing
	{all(is(domain.ErrPublish), status(http.StatusConflict)), UserMessage{
		Message: "A layer with this name is already published",
		Action:  "Rename the item or remove the existing layer first",
		Code:    "PUB001",
	}},
	{all(is(domain.ErrPublish), status(http.StatusUnauthorized, http.StatusForbidden)), UserMessage{
		Message: "The map server rejected the credentials",
		Action:  "Check the map server user name and password",
		Code:    "AUTH001",
	}},
	{all(is(domain.ErrPublish), status(http.StatusNotFound)), UserMessage{
		Message: "The referenced resource was not found on the map server",
		Action:  "Check that the workspace and data store exist",
		Code:    "PUB002",
	}},
	{is(domain.ErrPublish), UserMessage{
		Message: "The map server rejected the request",
		Action:  "Check the map server logs for details",
		Code:    "PUB000",
	}},

	// Import
	{is(domain.ErrNoGeometry), UserMessage{
		Message: "The file contains no geometry",
		Action:  "Check that the file holds spatial features",
		Code:    "IMP001",
	}},
	{is(domain.ErrReprojection), UserMessage{
		Message: "The data could not be reprojected",
		Action:  "Use EPSG:4326 or EPSG:3857, or reproject the file beforehand",
		Code:    "IMP002",
	}},
	{all(is(domain.ErrImport), contains("format not supported")), UserMessage{
		Message: "This file format cannot be imported",
		Action:  "Convert the file to GeoJSON or Shapefile",
		Code:    "IMP003",
	}},
	{all(is(domain.ErrImport), contains("already exists")), UserMessage{
		Message: "A table with this name already exists",
		Action:  "Enable overwrite or choose another name",
		Code:    "IMP004",
	}},
	{is(domain.ErrImport), UserMessage{
		Message: "The file could not be imported",
		Action:  "Check the file and the logs for details",
		Code:    "IMP000",
	}},

	// Names and support
	{all(is(domain.ErrName), contains("already exists")), UserMessage{
		Message: "That name is already in use",
		Action:  "Choose a different name",
		Code:    "NAME002",
	}},
	{is(domain.ErrName), UserMessage{
		Message: "Invalid name",
		Action:  "Use only lowercase letters, digits and underscores",
		Code:    "NAME001",
	}},
	{all(is(domain.ErrNotSupported), contains("raster")), UserMessage{
		Message: "Raster import is not supported",
		Action:  "Load rasters with raster2pgsql or publish them as a coverage store",
		Code:    "SUP001",
	}},
	{is(domain.ErrNotSupported), UserMessage{
		Message: "This item type is not supported",
		Action:  "Check the item kind",
		Code:    "SUP002",
	}},
	{is(domain.ErrInspection), UserMessage{
		Message: "The file could not be inspected",
		Action:  "Check that the file exists and is a supported spatial format",
		Code:    "FILE001",
	}},

	// Database driver text
	{contains("connection refused"), UserMessage{
		Message: "Unable to connect to database",
		Action:  "Please try again in a few moments",
		Code:    "DB004",
	}},
	{contains("connection reset"), UserMessage{
		Message: "Database connection was interrupted",
		Action:  "Please try again",
		Code:    "DB005",
	}},
	{contains("deadlock"), UserMessage{
		Message: "Database was busy with conflicting operations",
		Action:  "Please try again",
		Code:    "DB007",
	}},
	{contains("permission denied"), UserMessage{
		Message: "The database user lacks the required privileges",
		Action:  "Grant CREATE on the target schema to the database user",
		Code:    "DB008",
	}},

	// Context
	{is(context.Canceled), UserMessage{
		Message: "The run was cancelled",
		Action:  "Start a new run when ready",
		Code:    "RUN001",
	}},
	{is(context.DeadlineExceeded), UserMessage{
		Message: "The run timed out",
		Action:  "Publish fewer items per run or raise the run timeout",
		Code:    "RUN005",
	}},
	{contains("timeout"), UserMessage{
		Message: "Operation timed out",
		Action:  "Please try again later",
		Code:    "DB006",
	}},
	{is(domain.ErrDatabase), UserMessage{
		Message: "The database reported an error",
		Action:  "Check the logs for details",
		Code:    "DB000",
	}},
}

// defaultMessage is returned when no rule matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or check the logs",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-facing message. Substring
// rules compare case-insensitively.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	text := strings.ToLower(err.Error())
	for _, r := range errorRules {
		if r.match(err, text) {
			return r.msg
		}
	}
	return defaultMessage
}

// FormatUserError formats err as "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with its user message. Error returns
// the user message; Unwrap returns the technical error for logging.
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

// NewUserError maps err. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{Technical: err, User: MapError(err)}
}
