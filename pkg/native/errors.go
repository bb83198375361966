package native

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/marmos91/dittosmb/pkg/smburi"
)

// Error is a failure reported by a Client.
//
// Errors fall into two classes. I/O-class errors describe the remote side
// (missing file, denied access, dropped connection) and may be stored and
// retried by callers. Logic-class errors mean the caller broke a contract
// (unsupported operation, invalid argument, a panic inside the client) and
// must propagate immediately.
//
// Errors that are not *Error are treated as I/O class.
type Error struct {
	// Code is the error category
	Code ErrorCode

	// Op is the native operation that failed (e.g. "opendir", "stat")
	Op string

	// ID is the resource the operation targeted, if any
	ID smburi.ID

	// Err is the underlying cause
	Err error
}

func (e *Error) Error() string {
	msg := e.Code.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.ID != "" {
		msg += ": " + string(e.ID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match on the fs sentinels that correspond to a code.
func (e *Error) Is(target error) bool {
	switch target {
	case fs.ErrNotExist:
		return e.Code == ErrNotFound
	case fs.ErrPermission:
		return e.Code == ErrAccessDenied || e.Code == ErrAuthFailed
	case fs.ErrExist:
		return e.Code == ErrAlreadyExists
	}
	return false
}

// ErrorCode is the category of an Error.
type ErrorCode int

const (
	// ErrIO is a generic remote failure
	ErrIO ErrorCode = iota

	// ErrNotFound indicates the resource does not exist
	ErrNotFound

	// ErrAccessDenied indicates the server refused the operation
	ErrAccessDenied

	// ErrAuthFailed indicates the credentials were rejected
	ErrAuthFailed

	// ErrAlreadyExists indicates the target name is taken
	ErrAlreadyExists

	// ErrNotEmpty indicates a directory still has entries
	ErrNotEmpty

	// ErrNotDirectory indicates a directory operation on a non-directory
	ErrNotDirectory

	// ErrUnreachable indicates the host could not be contacted
	ErrUnreachable

	// ErrInvalidArgument indicates a malformed request. Logic class.
	ErrInvalidArgument

	// ErrNotSupported indicates the client cannot perform the operation. Logic class.
	ErrNotSupported

	// ErrInternal indicates a bug, such as a recovered panic. Logic class.
	ErrInternal
)

func (c ErrorCode) String() string {
	switch c {
	case ErrIO:
		return "i/o error"
	case ErrNotFound:
		return "not found"
	case ErrAccessDenied:
		return "access denied"
	case ErrAuthFailed:
		return "authentication failed"
	case ErrAlreadyExists:
		return "already exists"
	case ErrNotEmpty:
		return "directory not empty"
	case ErrNotDirectory:
		return "not a directory"
	case ErrUnreachable:
		return "host unreachable"
	case ErrInvalidArgument:
		return "invalid argument"
	case ErrNotSupported:
		return "not supported"
	case ErrInternal:
		return "internal error"
	default:
		return fmt.Sprintf("error code %d", int(c))
	}
}

// Logic reports whether the code belongs to the logic class.
func (c ErrorCode) Logic() bool {
	return c >= ErrInvalidArgument
}

// NewError builds an *Error.
func NewError(code ErrorCode, op string, id smburi.ID, err error) *Error {
	return &Error{Code: code, Op: op, ID: id, Err: err}
}

// CodeOf returns the code of err. Non-native errors report ErrIO.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrIO
}

// IsLogic reports whether err is a logic-class failure.
func IsLogic(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Code.Logic()
}

// IsIO reports whether err is a non-nil I/O-class failure.
func IsIO(err error) bool {
	return err != nil && !IsLogic(err)
}

func IsNotFound(err error) bool   { return err != nil && CodeOf(err) == ErrNotFound }
func IsAuthFailed(err error) bool { return err != nil && CodeOf(err) == ErrAuthFailed }
func IsExist(err error) bool      { return err != nil && CodeOf(err) == ErrAlreadyExists }
