package gbolt

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error represents a gbolt error with an error code
type Error struct {
	Code    ErrorCode
	Message string
	Err     error // wrapped error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gbolt: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("gbolt: %s", e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a gbolt error of the same kind, so that
// errors.Is(WrapError(CodeTimeout, cause), ErrTimeout) holds.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// ErrorCode identifies the kind of failure.
type ErrorCode int

// Error codes
const (
	// Success indicates the operation completed successfully
	Success ErrorCode = iota

	// CodeDatabaseNotOpen is returned when a DB instance is accessed before it
	// is opened or after it is closed.
	CodeDatabaseNotOpen

	// CodeDatabaseOpen is returned when opening a database that is
	// already open.
	CodeDatabaseOpen

	// CodeDatabaseReadOnly is returned when a write transaction is started on a
	// database opened read-only.
	CodeDatabaseReadOnly

	// CodeInvalid is returned when both meta pages fail validation, usually
	// because the file is not a gbolt database.
	CodeInvalid

	// CodeVersionMismatch is returned when the data file was created with a
	// different format version.
	CodeVersionMismatch

	// CodeChecksum is returned when a meta page checksum does not match.
	CodeChecksum

	// CodeTimeout is returned when the file lock could not be obtained in time.
	CodeTimeout

	// CodeTxNotWritable is returned when a mutation is attempted in a read-only
	// transaction.
	CodeTxNotWritable

	// CodeTxClosed is returned when committing or rolling back a transaction
	// that has already been committed or rolled back.
	CodeTxClosed

	// CodeTxManaged is returned when Commit or Rollback is called inside
	// Update or View.
	CodeTxManaged

	// CodeIncompatibleValue is returned when a plain value is used as a bucket
	// or a bucket is used as a plain value.
	CodeIncompatibleValue

	// CodeKeyRequired is returned when a zero-length key is used.
	CodeKeyRequired

	// CodeKeyTooLarge is returned when a key exceeds MaxKeySize.
	CodeKeyTooLarge

	// CodeValueTooLarge is returned when a value exceeds MaxValueSize.
	CodeValueTooLarge

	// CodeBucketNameRequired is returned when a bucket name is empty.
	CodeBucketNameRequired

	// CodeBucketExists is returned when creating a bucket that already exists.
	CodeBucketExists

	// CodeBucketNotFound is returned when a bucket does not exist.
	CodeBucketNotFound

	// CodeOutOfAllocableSpace is returned when no run of free pages is long
	// enough and the file cannot grow.
	CodeOutOfAllocableSpace
)

// Error descriptions
var errorMessages = map[ErrorCode]string{
	Success:                 "success",
	CodeDatabaseNotOpen:     "database not open",
	CodeDatabaseOpen:        "database already open",
	CodeDatabaseReadOnly:    "database is in read-only mode",
	CodeInvalid:             "invalid database",
	CodeVersionMismatch:     "version mismatch",
	CodeChecksum:            "checksum error",
	CodeTimeout:             "timeout",
	CodeTxNotWritable:       "tx not writable",
	CodeTxClosed:            "tx closed",
	CodeTxManaged:           "managed tx commit/rollback not allowed",
	CodeIncompatibleValue:   "incompatible value",
	CodeKeyRequired:         "key required",
	CodeKeyTooLarge:         "key too large",
	CodeValueTooLarge:       "value too large",
	CodeBucketNameRequired:  "bucket name required",
	CodeBucketExists:        "bucket already exists",
	CodeBucketNotFound:      "bucket not found",
	CodeOutOfAllocableSpace: "out of allocable space",
}

// String returns the description of the code.
func (c ErrorCode) String() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return fmt.Sprintf("unknown error code %d", int(c))
}

// NewError creates a new Error with the given code
func NewError(code ErrorCode) *Error {
	return &Error{Code: code, Message: code.String()}
}

// WrapError creates a new Error wrapping another error
func WrapError(code ErrorCode, err error) *Error {
	e := NewError(code)
	e.Err = err
	return e
}

// Sentinel errors, one per ErrorCode. Compare with errors.Is.
var (
	ErrDatabaseNotOpen     = NewError(CodeDatabaseNotOpen)
	ErrDatabaseOpen        = NewError(CodeDatabaseOpen)
	ErrDatabaseReadOnly    = NewError(CodeDatabaseReadOnly)
	ErrInvalid             = NewError(CodeInvalid)
	ErrVersionMismatch     = NewError(CodeVersionMismatch)
	ErrChecksum            = NewError(CodeChecksum)
	ErrTimeout             = NewError(CodeTimeout)
	ErrTxNotWritable       = NewError(CodeTxNotWritable)
	ErrTxClosed            = NewError(CodeTxClosed)
	ErrTxManaged           = NewError(CodeTxManaged)
	ErrIncompatibleValue   = NewError(CodeIncompatibleValue)
	ErrKeyRequired         = NewError(CodeKeyRequired)
	ErrKeyTooLarge         = NewError(CodeKeyTooLarge)
	ErrValueTooLarge       = NewError(CodeValueTooLarge)
	ErrBucketNameRequired  = NewError(CodeBucketNameRequired)
	ErrBucketExists        = NewError(CodeBucketExists)
	ErrBucketNotFound      = NewError(CodeBucketNotFound)
	ErrOutOfAllocableSpace = NewError(CodeOutOfAllocableSpace)
)

// Is returns true if err is a gbolt error with the given code.
func Is(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// Code returns the error code from an error, or Success for nil.
// Errors that did not originate in gbolt report -1.
func Code(err error) ErrorCode {
	if err == nil {
		return Success
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return -1
}

// _assert panics with a formatted message when condition is false. It guards
// invariants whose violation means the tree on disk or in memory is corrupt.
func _assert(condition bool, msg string, v ...any) {
	if !condition {
		panic(fmt.Sprintf("assertion failed: "+msg, v...))
	}
}
