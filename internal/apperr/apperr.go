// Package apperr classifies domain errors so callers can tell bad input from
// provider failures, lock conflicts and state machine violations.
package apperr

import (
	"errors"
	"fmt"
)

type Class string

const (
	// ClassInput is rejected before any state change. Safe to retry once corrected.
	ClassInput Class = "input"
	// ClassNotFound means the addressed job, plan, account or schedule does not exist.
	ClassNotFound Class = "not_found"
	// ClassDependency is a cloud provider failure or timeout.
	ClassDependency Class = "dependency"
	// ClassConflict is transient. Retry after the conflicting plan resolves.
	ClassConflict Class = "conflict"
	// ClassInvariant is an operator or programmer error that is never downgraded.
	ClassInvariant Class = "invariant"
)

type Error struct {
	Class   Class  `json:"class"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code, so a detailed copy still equals its sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func New(class Class, code, message string) *Error {
	return &Error{Class: class, Code: code, Message: message}
}

// Withf returns a copy of the sentinel with a formatted detail appended to the message.
func (e *Error) Withf(format string, args ...interface{}) *Error {
	return &Error{
		Class:   e.Class,
		Code:    e.Code,
		Message: e.Message + ": " + fmt.Sprintf(format, args...),
	}
}

// Wrap returns a copy of the sentinel carrying cause.
func (e *Error) Wrap(cause error) *Error {
	return &Error{Class: e.Class, Code: e.Code, Message: e.Message, Err: cause}
}

var (
	ErrInvalidInput             = New(ClassInput, "invalid_input", "invalid input")
	ErrInvalidScanTarget        = New(ClassInput, "invalid_scan_target", "invalid scan target")
	ErrEmptySelection           = New(ClassInput, "empty_selection", "no findings selected")
	ErrFindingNotFound          = New(ClassInput, "finding_not_found", "finding not found")
	ErrFindingAlreadyRemediated = New(ClassInput, "finding_already_remediated", "finding already remediated")
	ErrNoRemediationMapping     = New(ClassInput, "no_remediation_mapping", "no remediation mapping for finding type")

	ErrScanNotFound     = New(ClassNotFound, "scan_not_found", "scan not found")
	ErrPlanNotFound     = New(ClassNotFound, "plan_not_found", "plan not found")
	ErrAccountNotFound  = New(ClassNotFound, "account_not_found", "account not found")
	ErrScheduleNotFound = New(ClassNotFound, "schedule_not_found", "schedule not found")

	ErrDependency = New(ClassDependency, "dependency_failure", "cloud provider call failed")
	ErrTimeout    = New(ClassDependency, "timeout", "cloud provider call timed out")

	ErrFindingLocked = New(ClassConflict, "finding_locked", "finding is locked by an executing plan")

	ErrApprovalRequiresExplicitConsent = New(ClassInvariant, "approval_requires_explicit_consent", "dry-run plans cannot be approved for execution")
	ErrInvalidPlanState                = New(ClassInvariant, "invalid_plan_state", "operation not allowed in current plan state")
	ErrInvalidFindingState             = New(ClassInvariant, "invalid_finding_state", "operation not allowed in current finding state")
)

// ClassOf returns the class of the first *Error in err's chain, or "" for unclassified errors.
func ClassOf(err error) Class {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}

// CodeOf returns the code of the first *Error in err's chain.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
