package discovery

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so callers can decide how to surface them.
type ErrorKind int

const (
	// KindValidation indicates a malformed command, rejected before it
	// touches session state.
	KindValidation ErrorKind = iota + 1

	// KindStateConflict indicates a well-formed command that is not valid for
	// the current session state.
	KindStateConflict

	// KindAdapterTransient indicates a retryable upstream failure.
	KindAdapterTransient

	// KindAdapterPermanent indicates an upstream rejection that will not
	// succeed on retry.
	KindAdapterPermanent

	// KindConnectivityLoss indicates the upstreams could not be reached at all.
	KindConnectivityLoss

	// KindUnauthorized indicates the caller lacks the role for a command.
	KindUnauthorized
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindStateConflict:
		return "state_conflict"
	case KindAdapterTransient:
		return "adapter_transient"
	case KindAdapterPermanent:
		return "adapter_permanent"
	case KindConnectivityLoss:
		return "connectivity_loss"
	case KindUnauthorized:
		return "unauthorized"
	default:
		return "unknown"
	}
}

// ErrorCode narrows an ErrorKind to a specific condition.
type ErrorCode string

const (
	CodeInvalidCommand   ErrorCode = "invalid_command"
	CodeUnknownCandidate ErrorCode = "unknown_candidate"
	CodeEmptyPrompt      ErrorCode = "empty_prompt"
	CodeEmptyQuery       ErrorCode = "empty_query"
	CodeEmptySeeds       ErrorCode = "empty_seeds"
	CodeAlreadyRunning   ErrorCode = "already_running"
	CodeNotReady         ErrorCode = "not_ready"
	CodeAlreadyPending   ErrorCode = "already_pending"
	CodeTerminalStatus   ErrorCode = "terminal_status"
	CodeNotConfigured    ErrorCode = "not_configured"
	CodeForbidden        ErrorCode = "forbidden"
)

// Error is the domain error returned by session operations.
type Error struct {
	kind ErrorKind
	code ErrorCode
	msg  string
}

// Error returns the error message. This implements the error interface.
func (e *Error) Error() string {
	if e.msg == "" {
		return string(e.code)
	}
	return e.msg
}

// Kind returns the error classification.
func (e *Error) Kind() ErrorKind { return e.kind }

// Code returns the specific condition.
func (e *Error) Code() ErrorCode { return e.code }

// Is matches on code when the target carries one, otherwise on kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.code != "" {
		return e.code == t.code
	}
	return e.kind == t.kind
}

// Sentinel errors for use with errors.Is.
var (
	ErrValidation       = &Error{kind: KindValidation}
	ErrStateConflict    = &Error{kind: KindStateConflict}
	ErrUnauthorized     = &Error{kind: KindUnauthorized}
	ErrAlreadyRunning   = &Error{kind: KindStateConflict, code: CodeAlreadyRunning}
	ErrNotReady         = &Error{kind: KindStateConflict, code: CodeNotReady}
	ErrAlreadyPending   = &Error{kind: KindStateConflict, code: CodeAlreadyPending}
	ErrTerminalStatus   = &Error{kind: KindStateConflict, code: CodeTerminalStatus}
	ErrUnknownCandidate = &Error{kind: KindValidation, code: CodeUnknownCandidate}
	ErrEmptyPrompt      = &Error{kind: KindValidation, code: CodeEmptyPrompt}
	ErrEmptyQuery       = &Error{kind: KindValidation, code: CodeEmptyQuery}
	ErrEmptySeeds       = &Error{kind: KindValidation, code: CodeEmptySeeds}
	ErrNotConfigured    = &Error{kind: KindValidation, code: CodeNotConfigured}
)

// NewValidationError reports a malformed command.
func NewValidationError(format string, args ...any) error {
	return &Error{kind: KindValidation, code: CodeInvalidCommand, msg: fmt.Sprintf(format, args...)}
}

// NewUnauthorizedError reports a command the caller may not issue.
func NewUnauthorizedError(command string) error {
	return &Error{kind: KindUnauthorized, code: CodeForbidden, msg: fmt.Sprintf("not authorized to %s", command)}
}

// NewAlreadyRunningError reports a start while a run is active.
func NewAlreadyRunningError(state SessionState) error {
	return &Error{kind: KindStateConflict, code: CodeAlreadyRunning, msg: fmt.Sprintf("session is %s", state)}
}

func newNotReadyError() error {
	return &Error{kind: KindStateConflict, code: CodeNotReady, msg: "initial load has not completed"}
}

func newAlreadyPendingError() error {
	return &Error{kind: KindStateConflict, code: CodeAlreadyPending, msg: "a load-more request is already pending"}
}

// NewSeedPendingError reports a prompt or search sent while another
// connection's one is still being resolved.
func NewSeedPendingError(noun string) error {
	return &Error{kind: KindStateConflict, code: CodeAlreadyPending, msg: fmt.Sprintf("another %s is already being resolved", noun)}
}

// NewTerminalStatusError reports an action against a candidate that can no
// longer change.
func NewTerminalStatusError(identity string, status CandidateStatus) error {
	return &Error{
		kind: KindStateConflict,
		code: CodeTerminalStatus,
		msg:  fmt.Sprintf("%s is already %s", identity, status),
	}
}

// NewUnknownCandidateError reports an action against an identity that is not
// in the result buffer.
func NewUnknownCandidateError(identity string) error {
	return &Error{kind: KindValidation, code: CodeUnknownCandidate, msg: fmt.Sprintf("no candidate %q in session", identity)}
}

// NewEmptySeedsError reports a catalogue start without seeds.
func NewEmptySeedsError() error {
	return &Error{kind: KindValidation, code: CodeEmptySeeds, msg: "select at least one artist to start"}
}

// NewEmptyPromptError reports a blank prompt.
func NewEmptyPromptError() error {
	return &Error{
		kind: KindValidation,
		code: CodeEmptyPrompt,
		msg:  "Describe what kind of music you're after so the AI assistant can help.",
	}
}

// NewEmptyQueryError reports a blank artist search.
func NewEmptyQueryError() error {
	return &Error{kind: KindValidation, code: CodeEmptyQuery, msg: "Enter an artist name to search for."}
}

// NewNotConfiguredError reports a command whose upstream is not configured.
func NewNotConfiguredError(msg string) error {
	return &Error{kind: KindValidation, code: CodeNotConfigured, msg: msg}
}

// KindOf extracts the ErrorKind from err. Adapter errors map to their adapter
// kinds and anything unrecognised is treated as transient.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.kind
	}
	var ae *AdapterError
	if errors.As(err, &ae) {
		switch ae.Class {
		case ClassPermanent:
			return KindAdapterPermanent
		case ClassConnectivity:
			return KindConnectivityLoss
		}
	}
	return KindAdapterTransient
}

// AdapterErrorClass describes how an upstream failure should be treated.
type AdapterErrorClass int

const (
	// ClassTransient failures are retryable.
	ClassTransient AdapterErrorClass = iota
	// ClassPermanent failures are domain-declared invalid operations.
	ClassPermanent
	// ClassConnectivity failures mean the upstream could not be reached.
	ClassConnectivity
)

func (c AdapterErrorClass) String() string {
	switch c {
	case ClassPermanent:
		return "permanent"
	case ClassConnectivity:
		return "connectivity"
	default:
		return "transient"
	}
}

// AdapterError wraps a failure returned by an upstream adapter.
type AdapterError struct {
	Op    string
	Class AdapterErrorClass
	// Status optionally pins the candidate status an action failure maps to.
	Status CandidateStatus
	Err    error
}

func (e *AdapterError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s failure", e.Op, e.Class)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// NewTransientError wraps err as a retryable adapter failure.
func NewTransientError(op string, err error) error {
	return &AdapterError{Op: op, Class: ClassTransient, Err: err}
}

// NewPermanentError wraps err as a non-retryable adapter failure.
func NewPermanentError(op string, err error) error {
	return &AdapterError{Op: op, Class: ClassPermanent, Err: err}
}

// NewConnectivityError wraps err as an unreachable-upstream failure.
func NewConnectivityError(op string, err error) error {
	return &AdapterError{Op: op, Class: ClassConnectivity, Err: err}
}

// NewStatusError wraps err as an adapter failure that resolves a candidate to
// a specific status.
func NewStatusError(op string, status CandidateStatus, err error) error {
	class := ClassTransient
	if status.IsTerminal() {
		class = ClassPermanent
	}
	return &AdapterError{Op: op, Class: class, Status: status, Err: err}
}

// IsConnectivity reports whether err is a connectivity-classified adapter error.
func IsConnectivity(err error) bool {
	var ae *AdapterError
	return errors.As(err, &ae) && ae.Class == ClassConnectivity
}

// StatusForActionError maps an action failure onto the candidate status it
// produces. Permanent failures become InvalidTarget unless the adapter pinned
// a different status; everything else becomes Failed.
func StatusForActionError(err error) CandidateStatus {
	var ae *AdapterError
	if errors.As(err, &ae) {
		if ae.Status != StatusNew {
			return ae.Status
		}
		if ae.Class == ClassPermanent {
			return StatusInvalidTarget
		}
	}
	return StatusFailed
}
