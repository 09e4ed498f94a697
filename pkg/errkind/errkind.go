// Copyright 2026 Society Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package errkind classifies the runtime's failure modes into a small set of
// kinds that callers can branch on without string matching. Tool-facing code
// converts these into structured results; only boot failures escape as plain
// errors.
package errkind

import (
	"errors"
	"fmt"
)

// Kind identifies a class of failure.
type Kind string

const (
	KindUnknown        Kind = "unknown"
	KindNotFound       Kind = "not_found"
	KindUnauthorized   Kind = "unauthorized"
	KindBlocked        Kind = "blocked"
	KindAlreadyHasTask Kind = "already_has_task"
	KindInvalidState   Kind = "invalid_state"
	KindTimeout        Kind = "timeout"
	KindParseError     Kind = "parse_error"
	KindRateLimited    Kind = "rate_limited"
	KindStalled        Kind = "stalled"
	KindLoopDetected   Kind = "loop_detected"
	KindIoError        Kind = "io_error"
)

// Error is a kinded error. It wraps an optional cause and carries a
// human-readable message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an existing error.
func Wrap(kind Kind, err error, msg string) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// NotFound reports a missing agent, project, task, or file.
func NotFound(format string, args ...any) *Error {
	return Newf(KindNotFound, format, args...)
}

// Unauthorized reports a signature verification failure from a known sender.
func Unauthorized(format string, args ...any) *Error {
	return Newf(KindUnauthorized, format, args...)
}

// Blocked reports a command refused by the system-protection list.
func Blocked(format string, args ...any) *Error {
	return Newf(KindBlocked, format, args...)
}

// AlreadyHasTask reports a claim attempt while a task is already held.
func AlreadyHasTask(format string, args ...any) *Error {
	return Newf(KindAlreadyHasTask, format, args...)
}

// InvalidState reports a task transition from a disallowed status.
func InvalidState(format string, args ...any) *Error {
	return Newf(KindInvalidState, format, args...)
}

// Timeout reports an exceeded time budget.
func Timeout(format string, args ...any) *Error {
	return Newf(KindTimeout, format, args...)
}

// ParseError reports malformed input that was skipped or salvaged.
func ParseError(format string, args ...any) *Error {
	return Newf(KindParseError, format, args...)
}

// RateLimited reports an exceeded MCP rate budget.
func RateLimited(format string, args ...any) *Error {
	return Newf(KindRateLimited, format, args...)
}

// Stalled reports a loop that made no progress within its watchdog window.
func Stalled(format string, args ...any) *Error {
	return Newf(KindStalled, format, args...)
}

// LoopDetected reports a repetition guard trip in the agentic loop.
func LoopDetected(format string, args ...any) *Error {
	return Newf(KindLoopDetected, format, args...)
}

// IoError reports a filesystem or network failure.
func IoError(err error, format string, args ...any) *Error {
	return &Error{Kind: KindIoError, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind carried by err, or KindUnknown for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
