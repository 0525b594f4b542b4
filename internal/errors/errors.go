// Package errors provides centralized error definitions and error handling utilities
// for elmctl. It defines the remote error taxonomy that drives every branch in the
// checkout, upload, and sign-out protocols, plus the semantic errors used for local
// input validation.
//
// # Error Classes
//
// Every failure reported by a remote gateway is classified into exactly one [Class]:
//   - ClassCredentialsInvalid: the remote rejected the supplied credentials
//   - ClassConnectionFailed: the remote could not be reached (includes cancellation)
//   - ClassCertValidationFailed: the remote's TLS certificate was rejected
//   - ClassSignOutConflict: the element is signed out to someone else
//   - ClassFingerprintMismatch: the element changed since its fingerprint was read
//   - ClassDuplicateElement: the element already exists at the target location
//   - ClassGeneric: any other remote failure, including not-found
//
// Only sign-out conflicts and fingerprint mismatches trigger recovery protocols.
// Everything else is terminal and propagates to the caller tagged with its element.
//
// # Usage
//
//	err := errors.NewRemoteError(errors.ClassSignOutConflict, "element is signed out").
//	    WithElement("DEV/1/SYS/SUB/COBOL/ELM1").
//	    WithReturnCode(12)
//
//	switch errors.MustClassify(err) {
//	case errors.ClassSignOutConflict:
//	    // ask for override
//	...
//	}
//
//	if errors.Is(err, errors.ErrSignOutConflict) { ... }
//
// # Exhaustiveness
//
// Switches over [Class] end in a default branch that panics with
// [UnreachableClassError]. An error without a class reaching the core is a
// programming fault in the gateway adapter, not something to swallow as generic.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Error Classes
// -----------------------------------------------------------------------------

// Class is the classification of a remote failure. The zero value is not a
// valid class.
type Class int

const (
	classInvalid Class = iota
	// ClassCredentialsInvalid indicates the remote rejected the credentials.
	ClassCredentialsInvalid
	// ClassConnectionFailed indicates the remote could not be reached.
	ClassConnectionFailed
	// ClassCertValidationFailed indicates the remote TLS certificate was rejected.
	ClassCertValidationFailed
	// ClassSignOutConflict indicates the element is signed out to another user.
	ClassSignOutConflict
	// ClassFingerprintMismatch indicates the remote element changed since it was read.
	ClassFingerprintMismatch
	// ClassDuplicateElement indicates the element already exists at the target.
	ClassDuplicateElement
	// ClassGeneric covers every other remote failure.
	ClassGeneric
	classSentinel
)

var classNames = map[Class]string{
	ClassCredentialsInvalid:   "credentials-invalid",
	ClassConnectionFailed:     "connection-failed",
	ClassCertValidationFailed: "cert-validation-failed",
	ClassSignOutConflict:      "sign-out-conflict",
	ClassFingerprintMismatch:  "fingerprint-mismatch",
	ClassDuplicateElement:     "duplicate-element",
	ClassGeneric:              "generic",
}

// String returns the taxonomy name of the class.
func (c Class) String() string {
	if name, ok := classNames[c]; ok {
		return name
	}
	return fmt.Sprintf("class(%d)", int(c))
}

// Valid reports whether c is one of the seven known classes.
func (c Class) Valid() bool {
	return c > classInvalid && c < classSentinel
}

// Recoverable reports whether the class triggers an in-core recovery protocol.
func (c Class) Recoverable() bool {
	return c == ClassSignOutConflict || c == ClassFingerprintMismatch
}

// Classes returns all valid classes in declaration order.
func Classes() []Class {
	out := make([]Class, 0, int(classSentinel)-1)
	for c := classInvalid + 1; c < classSentinel; c++ {
		out = append(out, c)
	}
	return out
}

// ParseClass converts a taxonomy name back into a Class.
func ParseClass(name string) (Class, bool) {
	for c, n := range classNames {
		if n == name {
			return c, true
		}
	}
	return classInvalid, false
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Class sentinels. A RemoteError matches the sentinel of its class via errors.Is.
var (
	// ErrCredentialsInvalid indicates the remote rejected the supplied credentials.
	ErrCredentialsInvalid = New("credentials invalid")
	// ErrConnectionFailed indicates the remote could not be reached.
	ErrConnectionFailed = New("connection failed")
	// ErrCertValidationFailed indicates the remote certificate could not be validated.
	ErrCertValidationFailed = New("certificate validation failed")
	// ErrSignOutConflict indicates the element is signed out to someone else.
	ErrSignOutConflict = New("element is signed out to another user")
	// ErrFingerprintMismatch indicates the remote element changed since it was read.
	ErrFingerprintMismatch = New("fingerprint mismatch")
	// ErrDuplicateElement indicates the element already exists.
	ErrDuplicateElement = New("duplicate element")
	// ErrRemoteFailure covers generic remote failures.
	ErrRemoteFailure = New("remote request failed")
)

var classSentinels = map[Class]error{
	ClassCredentialsInvalid:   ErrCredentialsInvalid,
	ClassConnectionFailed:     ErrConnectionFailed,
	ClassCertValidationFailed: ErrCertValidationFailed,
	ClassSignOutConflict:      ErrSignOutConflict,
	ClassFingerprintMismatch:  ErrFingerprintMismatch,
	ClassDuplicateElement:     ErrDuplicateElement,
	ClassGeneric:              ErrRemoteFailure,
}

// Local sentinel errors
var (
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
	// ErrDependencyNotFound indicates a component could not be located by search.
	ErrDependencyNotFound = New("dependency not found")
	// ErrDeclined indicates a human declined a prompt. It is never reported as a failure.
	ErrDeclined = New("declined by user")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// ElmError is the base interface for all elmctl errors.
type ElmError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Is reports whether this error matches the target error.
	Is(target error) bool

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsUserFacing returns true if the error message is safe to display
	// to end users.
	IsUserFacing() bool
}

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	userFacing bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsUserFacing returns whether the error is safe to show users.
func (e *baseError) IsUserFacing() bool {
	return e.userFacing
}

// -----------------------------------------------------------------------------
// Remote Errors
// -----------------------------------------------------------------------------

// RemoteError is a classified failure returned by a gateway call.
//
// Example:
//
//	err := errors.NewRemoteError(errors.ClassFingerprintMismatch, "update rejected").
//	    WithElement("DEV/1/SYS/SUB/COBOL/ELM1").
//	    WithReturnCode(12).
//	    WithMessages("C1G0410E FINGERPRINT DOES NOT MATCH")
//	fmt.Println(err) // "fingerprint-mismatch [element=DEV/1/SYS/SUB/COBOL/ELM1, rc=12]: update rejected"
type RemoteError struct {
	baseError
	Class      Class
	Element    string
	ReturnCode int
	Messages   []string
}

// NewRemoteError creates a RemoteError of the given class.
func NewRemoteError(class Class, message string) *RemoteError {
	severity := SeverityError
	if class.Recoverable() {
		severity = SeverityWarning
	}
	return &RemoteError{
		baseError: baseError{
			message:    message,
			severity:   severity,
			userFacing: true,
		},
		Class: class,
	}
}

// WithElement adds the element the error concerns.
func (e *RemoteError) WithElement(element string) *RemoteError {
	e.Element = element
	return e
}

// WithReturnCode adds the remote return code.
func (e *RemoteError) WithReturnCode(rc int) *RemoteError {
	e.ReturnCode = rc
	return e
}

// WithMessages adds the remote's diagnostic messages.
func (e *RemoteError) WithMessages(msgs ...string) *RemoteError {
	e.Messages = append(e.Messages, msgs...)
	return e
}

// WithCause adds an underlying cause.
func (e *RemoteError) WithCause(cause error) *RemoteError {
	e.cause = cause
	return e
}

// WithSeverity sets the error severity.
func (e *RemoteError) WithSeverity(s Severity) *RemoteError {
	e.severity = s
	return e
}

// Error returns the formatted error message.
func (e *RemoteError) Error() string {
	var parts []string
	if e.Element != "" {
		parts = append(parts, fmt.Sprintf("element=%s", e.Element))
	}
	if e.ReturnCode != 0 {
		parts = append(parts, fmt.Sprintf("rc=%d", e.ReturnCode))
	}

	prefix := e.Class.String()
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", prefix, strings.Join(parts, ", "))
	}

	msg := e.message
	if len(e.Messages) > 0 {
		msg = fmt.Sprintf("%s (%s)", msg, strings.Join(e.Messages, "; "))
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, msg)
}

// Is matches any *RemoteError, the sentinel of its class, or its cause.
func (e *RemoteError) Is(target error) bool {
	if _, ok := target.(*RemoteError); ok {
		return true
	}
	if sentinel, ok := classSentinels[e.Class]; ok && target == sentinel {
		return true
	}
	return e.baseError.Is(target)
}

// UnreachableClassError is the panic value raised when an error reaches a
// class dispatch without a valid class.
type UnreachableClassError struct {
	Class Class
	Err   error
}

// Error returns the formatted error message.
func (e *UnreachableClassError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unreachable error class %s: %v", e.Class, e.Err)
	}
	return fmt.Sprintf("unreachable error class %s", e.Class)
}

// Unreachable panics with an UnreachableClassError for c. Switches over Class
// call it from their default branch.
func Unreachable(c Class, err error) {
	panic(&UnreachableClassError{Class: c, Err: err})
}

// Classify returns the class of err and whether one could be determined.
// Context cancellation and deadline errors classify as ClassConnectionFailed.
func Classify(err error) (Class, bool) {
	if err == nil {
		return classInvalid, false
	}
	var remote *RemoteError
	if As(err, &remote) {
		return remote.Class, remote.Class.Valid()
	}
	if Is(err, context.Canceled) || Is(err, context.DeadlineExceeded) {
		return ClassConnectionFailed, true
	}
	return classInvalid, false
}

// MustClassify returns the class of err, panicking with an
// UnreachableClassError when err carries no valid class.
func MustClassify(err error) Class {
	c, ok := Classify(err)
	if !ok {
		Unreachable(c, err)
	}
	return c
}

// ElementOf returns the element recorded on err, if any.
func ElementOf(err error) string {
	var remote *RemoteError
	if As(err, &remote) {
		return remote.Element
	}
	return ""
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError represents a resource that could not be found locally.
//
// Example:
//
//	err := errors.NewNotFoundError("workspace metadata", "src/ELM1.cbl")
//	fmt.Println(err) // "workspace metadata 'src/ELM1.cbl' not found"
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:    fmt.Sprintf("%s '%s' not found", resourceType, resourceID),
			severity:   SeverityWarning,
			userFacing: true,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithCause adds a cause to the error.
func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *NotFoundError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s '%s' not found: %v", e.ResourceType, e.ResourceID, e.cause)
	}
	return fmt.Sprintf("%s '%s' not found", e.ResourceType, e.ResourceID)
}

// Is checks if this error matches the target.
func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ValidationError represents invalid input or state.
//
// Example:
//
//	err := errors.NewValidationError("ccid cannot be empty").WithField("ccid")
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			severity:   SeverityWarning,
			userFacing: true,
		},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}

	prefix := "validation error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("validation error [%s]", strings.Join(parts, ", "))
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	if target == ErrInvalidInput {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsRecoverable returns true if err is a remote error whose class triggers
// an in-core recovery protocol (sign-out override or merge escalation).
func IsRecoverable(err error) bool {
	c, ok := Classify(err)
	return ok && c.Recoverable()
}

// IsUserFacing returns true if the error message is safe to display to end users.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}

	var elmErr ElmError
	if As(err, &elmErr) {
		return elmErr.IsUserFacing()
	}
	return false
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement ElmError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var elmErr ElmError
	if As(err, &elmErr) {
		return elmErr.Severity()
	}
	return SeverityError
}

// Wrap wraps an error with additional context message.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
