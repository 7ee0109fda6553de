// Package blunder provides error-handling wrappers
//
// These wrappers allow callers to provide additional information in Go errors
// while still conforming to the Go error interface.
//
// This package provides APIs to tag regular Go errors with the error kinds
// the library distinguishes (not-loaded, data-format, task-abort, ...) and to
// attach retry context such as the key or key range involved.
//
// This package is currently implemented on top of the ansel1/merry package:
//   https://github.com/ansel1/merry
//
//   merry comes with built-in support for adding information to errors:
//    - stacktraces
//    - overriding the error message
//    - end user error messages
//    - your own additional information
//
//   From merry godoc:
//     You can add any context information to an error with `e = merry.WithValue(e, "code", 12345)`
//     You can retrieve that value with `v, _ := merry.Value(e, "code").(int)`
package blunder

import (
	"fmt"

	"github.com/ansel1/merry"
	"golang.org/x/sys/unix"

	"github.com/redwerk/plugin-Library/logger"
)

// Error constants to be used in the plugin-Library namespace.
//
// Each error kind is tagged with the errno whose meaning is closest, so that
// hosts embedding the library can map failures onto their own fault space
// without string matching.
//
type LibError int

// The following line of code is a directive to go generate that tells it to create a
// file called liberror_string.go that implements the .String() method for type LibError.
//go:generate stringer -type=LibError

const (
	// NotLoadedError indicates a structural query hit a ghost (or a bare
	// entries map). The caller is expected to inflate and retry; the error
	// carries the context needed to do so (see ParentValue/KeyValue).
	NotLoadedError LibError = LibError(int(unix.ENODATA))

	// DataFormatError indicates a translator or archiver produced an object
	// that does not match what was expected (bad cast, size mismatch,
	// lkey/rkey disagreement). Never retried.
	DataFormatError LibError = LibError(int(unix.EBADMSG))

	// TaskAbortError indicates terminal failure of a push or pull batch.
	TaskAbortError LibError = LibError(int(unix.ECANCELED))

	// TaskCompleteError indicates successful duplicate-work elimination: the
	// task's work was already covered by a concurrent task. It is a signal,
	// not a fault, but travels through the error channel for notification.
	TaskCompleteError LibError = LibError(int(unix.EALREADY))

	// TaskInProgressError indicates a duplicate whose covering task has not
	// yet finished. Scheduler implementations must convert this to
	// TaskCompleteError before depositing; it never escapes a scheduler.
	TaskInProgressError LibError = LibError(int(unix.EINPROGRESS))

	// IllegalStateError indicates a programmer contract violation, such as
	// deflating a non-bare child or replacing the archiver on a tree that is
	// not live. Always fatal.
	IllegalStateError LibError = LibError(int(unix.EPERM))

	// InvalidArgError indicates a malformed argument (bad comparator result,
	// key of the wrong type, node_min below 1).
	InvalidArgError LibError = LibError(int(unix.EINVAL))

	// NotImplementedError indicates surface area that is declared but not
	// supported in this build.
	NotImplementedError LibError = LibError(int(unix.ENOSYS))

	// InterruptedError tags an interrupted wait. The bulk-inflate driver
	// does not use it: it reports its own interruption as TaskAbortError.
	InterruptedError LibError = LibError(int(unix.EINTR))

	// IOError indicates an archiver-level storage fault.
	IOError LibError = LibError(int(unix.EIO))

	// NotFoundError indicates an archiver was asked to pull a meta handle it
	// has no object for.
	NotFoundError LibError = LibError(int(unix.ENOENT))
)

// Success error (sounds odd, no? - perhaps this could be renamed "NotAnError"?)
const SuccessError LibError = 0

// Default errno values for success and failure
const successErrno = 0
const failureErrno = -1

// Keys under which retry/diagnosis context is attached to errors.
const (
	parentKey = "parent"
	keyKey    = "key"
	ghostKey  = "ghost"
	rangeKey  = "range"
)

// Value returns the int value for the specified LibError constant
func (err LibError) Value() int {
	return int(err)
}

// NewError creates a new merry/blunder.LibError-annotated error using the given
// format string and arguments.
func NewError(errValue LibError, format string, a ...interface{}) error {
	return merry.WrapSkipping(fmt.Errorf(format, a...), 1).WithValue("errno", int(errValue))
}

// AddError is used to add library error detail to a Go error.
//
// NOTE: Checks whether the error value has already been set
//       Note that by default merry will replace the old with the new.
//
func AddError(e error, errValue LibError) error {
	if e == nil {
		// Error hasn't been allocated yet; need to create one
		//
		// Usually we wouldn't want to mess with a nil error, but the caller of
		// this function obviously intends to make this a non-nil error.
		//
		// It's recommended that the caller create an error with some context
		// in the error string first, but we don't want to silently not work
		// if they forget to do that.
		//
		return merry.New("regular error").WithValue("errno", int(errValue))
	}

	// Make the error "merry", adding stack trace as well as errno value.
	// This is done all in one line because the merry APIs create a new error each time.

	// For now, check and log if an errno has already been added to
	// this error, to help debugging in the cases where this was not intentional.
	prevValue := Errno(e)
	if prevValue != successErrno && prevValue != failureErrno {
		logger.Warnf("replacing error value %v with value %v for error %v.\n", prevValue, int(errValue), e)
	}

	return merry.WrapSkipping(e, 1).WithValue("errno", int(errValue))
}

// AddNotLoadedContext attaches the retry context a not-loaded error carries:
// the parent able to service an inflate for the missing child, the key whose
// right-hand child slot is missing, and the ghost occupying that slot.
func AddNotLoadedContext(e error, parent interface{}, key interface{}, ghost interface{}) error {
	return merry.Wrap(e).
		WithValue(parentKey, parent).
		WithValue(keyKey, key).
		WithValue(ghostKey, ghost)
}

// AddRangeContext attaches a human-readable key-range description to an
// error, for diagnosis of push/pull batch failures.
func AddRangeContext(e error, nodeRange string) error {
	return merry.Wrap(e).WithValue(rangeKey, nodeRange)
}

// ParentValue extracts the parent handle attached by AddNotLoadedContext, or
// nil if the error carries none.
func ParentValue(e error) interface{} {
	return merry.Value(e, parentKey)
}

// KeyValue extracts the key attached by AddNotLoadedContext.
func KeyValue(e error) interface{} {
	return merry.Value(e, keyKey)
}

// GhostValue extracts the ghost attached by AddNotLoadedContext.
func GhostValue(e error) interface{} {
	return merry.Value(e, ghostKey)
}

// RangeValue extracts the range description attached by AddRangeContext, or
// "" if the error carries none.
func RangeValue(e error) string {
	tmp := merry.Value(e, rangeKey)
	if tmp == nil {
		return ""
	}
	return tmp.(string)
}

func hasErrnoValue(e error) bool {
	// If the "errno" key/value was not present, merry.Value returns nil.
	tmp := merry.Value(e, "errno")
	if tmp != nil {
		return true
	}

	return false
}

// Errno extracts errno from the error, if it was previously wrapped.
// Otherwise a default value is returned.
//
func Errno(e error) int {
	if e == nil {
		// nil error = success
		return successErrno
	}

	// If the "errno" key/value was not present, merry.Value returns nil.
	var errno = failureErrno
	tmp := merry.Value(e, "errno")
	if tmp != nil {
		errno = tmp.(int)
	}

	return errno
}

func ErrorString(e error) string {
	if e == nil {
		return ""
	}

	// Get the regular error string
	errPlusVal := e.Error()

	// Add the error value to it, if set
	var errno = failureErrno
	tmp := merry.Value(e, "errno")
	if tmp != nil {
		errno = tmp.(int)
		errPlusVal = fmt.Sprintf("%s. Error Value: %v\n", errPlusVal, errno)
	}

	return errPlusVal
}

// Check if an error matches a particular LibError
//
// NOTE: Because the value of the underlying errno is used to do this check, one cannot
//       use this API to distinguish between LibErrors that use the same errno value.
//
func Is(e error, theError LibError) bool {
	return Errno(e) == theError.Value()
}

// Check if an error is NOT a particular LibError
func IsNot(e error, theError LibError) bool {
	return Errno(e) != theError.Value()
}

// Check if an error is the success LibError
func IsSuccess(e error) bool {
	return Errno(e) == successErrno
}

// Check if an error is NOT the success LibError
func IsNotSuccess(e error) bool {
	return Errno(e) != successErrno
}

// Location returns the file and line number of the code that generated the error.
// Returns zero values if e has no stacktrace.
func Location(e error) (file string, line int) {
	file, line = merry.Location(e)
	return
}

// SourceLine returns the string representation of Location's result
// Returns empty string if e has no stacktrace.
func SourceLine(e error) string {
	return merry.SourceLine(e)
}

// Details wraps merry.Details, which returns all error details including stacktrace in a string.
func Details(e error) string {
	return merry.Details(e)
}

// Stacktrace wraps merry.Stacktrace, which returns error stacktrace (if set) in a string.
func Stacktrace(e error) string {
	return merry.Stacktrace(e)
}
