package errors

import (
	stderrors "errors"
	"fmt"
)

// Error code constants for classifying domain failures.
const (
	CodeNotFound      = "NOT_FOUND"
	CodeDuplicateCode = "DUPLICATE_CODE"
	CodeInvalidMove   = "INVALID_MOVE"
	CodeGeometry      = "GEOMETRY_ERROR"
	CodeValidation    = "VALIDATION_ERROR"
	CodeInternal      = "INTERNAL_ERROR"
)

// Coded is implemented by every domain error in this package.
type Coded interface {
	error
	ErrorCode() string
}

// DuplicateCodeError reports an attempt to create a second area with the
// same (code, kind) pair. The caller must pick a different code.
type DuplicateCodeError struct {
	Code   string
	KindID int64
}

func (e *DuplicateCodeError) Error() string {
	return fmt.Sprintf("area with code %q and kind %d already exists", e.Code, e.KindID)
}

// ErrorCode returns CodeDuplicateCode.
func (e *DuplicateCodeError) ErrorCode() string { return CodeDuplicateCode }

// InvalidMoveError reports a move whose target is the node itself or one of
// its descendants.
type InvalidMoveError struct {
	NodeID   int64
	TargetID int64
	Reason   string
}

func (e *InvalidMoveError) Error() string {
	return fmt.Sprintf("cannot move area %d relative to %d: %s", e.NodeID, e.TargetID, e.Reason)
}

// ErrorCode returns CodeInvalidMove.
func (e *InvalidMoveError) ErrorCode() string { return CodeInvalidMove }

// GeometryError wraps a failing or malformed geometry store operation.
type GeometryError struct {
	Op  string
	Err error
}

func (e *GeometryError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("geometry %s failed", e.Op)
	}
	return fmt.Sprintf("geometry %s failed: %v", e.Op, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *GeometryError) Unwrap() error { return e.Err }

// ErrorCode returns CodeGeometry.
func (e *GeometryError) ErrorCode() string { return CodeGeometry }

// NotFoundError reports a reference to a missing area or area type.
type NotFoundError struct {
	Resource string
	ID       interface{}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %v not found", e.Resource, e.ID)
}

// ErrorCode returns CodeNotFound.
func (e *NotFoundError) ErrorCode() string { return CodeNotFound }

// NewGeometryError wraps err as a GeometryError for op. A nil err stays nil.
func NewGeometryError(op string, err error) error {
	if err == nil {
		return nil
	}
	var ge *GeometryError
	if stderrors.As(err, &ge) {
		return err
	}
	return &GeometryError{Op: op, Err: err}
}

// CodeOf returns the code of the first domain error in err's chain, or
// CodeInternal when there is none.
func CodeOf(err error) string {
	var coded Coded
	if stderrors.As(err, &coded) {
		return coded.ErrorCode()
	}
	return CodeInternal
}

// IsNotFound reports whether err carries a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return stderrors.As(err, &nf)
}

// IsRecoverable reports whether err is a rejection the caller can fix by
// changing its input, as opposed to an infrastructure failure.
func IsRecoverable(err error) bool {
	switch CodeOf(err) {
	case CodeDuplicateCode, CodeInvalidMove, CodeNotFound, CodeValidation:
		return true
	default:
		return false
	}
}
