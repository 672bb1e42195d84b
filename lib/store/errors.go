package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/lni/dragonboat/v4/logger"
)

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode),
// an error message and optionally the lower-level cause.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
	Err  error   // The wrapped cause, may be nil

	handled bool // already passed to an ErrorHandler
}

// Error returns a string representation of the error
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("mkv error (code %s): %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("mkv error (code %s): %s", e.Code, e.Msg)
}

// Unwrap returns the wrapped cause
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code. This allows
// errors.Is(err, &store.Error{Code: store.RetCClosed}).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code && t.Msg == "" && t.Err == nil
}

// NewError creates a new Error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// WrapError creates a new Error with the given code and message wrapping err.
func WrapError(code RetCode, msg string, err error) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
		Err:  err,
	}
}

// CodeOf returns the RetCode of the first *Error in err's chain, or
// RetCSuccess for a nil error and RetCInternalError for foreign errors.
func CodeOf(err error) RetCode {
	if err == nil {
		return RetCSuccess
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return RetCInternalError
}

// wasHandled reports whether err already went through an ErrorHandler
func wasHandled(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.handled
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code RetCode) bool {
	return err != nil && CodeOf(err) == code
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

// RetCode is the return code of an operation. It classifies the failure.
type RetCode uint64

const (
	RetCSuccess        RetCode = iota // 0: Operation executed successfully.
	RetCInternalError                 // 1: Operation failed due to an internal error.
	RetCConfig                        // 2: Invalid configuration or unusable directory.
	RetCThreadAffinity                // 3: Write transaction used outside of the writer.
	RetCStorage                       // 4: The underlying store failed a single operation.
	RetCCommit                        // 5: Committing the write transaction failed.
	RetCInterrupted                   // 6: A blocking wait was cancelled.
	RetCQueueFull                     // 7: The write queue stayed full until the deadline.
	RetCClosed                        // 8: The environment or writer is closed.
	RetCNotFound                      // 9: A table does not exist.
	RetCInvalidArgument               // 10: A key, range or name is invalid.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCConfig:
		return "Config"
	case RetCThreadAffinity:
		return "ThreadAffinity"
	case RetCStorage:
		return "Storage"
	case RetCCommit:
		return "Commit"
	case RetCInterrupted:
		return "Interrupted"
	case RetCQueueFull:
		return "QueueFull"
	case RetCClosed:
		return "Closed"
	case RetCNotFound:
		return "NotFound"
	case RetCInvalidArgument:
		return "InvalidArgument"
	default:
		return "Unknown"
	}
}

// fromContext maps a context error of a blocking wait onto a RetCode.
// A deadline while waiting for queue space is reported as RetCQueueFull,
// every other cancellation as RetCInterrupted.
func fromContext(err error, queueWait bool) *Error {
	if queueWait && errors.Is(err, context.DeadlineExceeded) {
		return WrapError(RetCQueueFull, "write queue is full", err)
	}
	return WrapError(RetCInterrupted, "interrupted while waiting", err)
}

// --------------------------------------------------------------------------
// Error Handler
// --------------------------------------------------------------------------

// ErrorHandler is invoked with every unexpected lower-level failure before
// the failure is returned to the caller. It must not block for long, it may
// be called from the writer goroutine.
type ErrorHandler func(err error)

// LogErrorHandler returns an ErrorHandler that logs to the given logger.
func LogErrorHandler(log logger.ILogger) ErrorHandler {
	return func(err error) {
		log.Errorf("%v", err)
	}
}
