// Package stockpileerrors provides structured errors for stockpile with a
// category, key-value details, an optional cause and a captured call stack.
//
// # Overview
//
// Every error the library produces on its own behalf is a *Error:
//   - Type categorizes the failure (factory, closed, queue_full, ...)
//   - Cause keeps the underlying error reachable through errors.Is/As
//   - Details carry small pieces of context such as the pool name
//   - Stack records where the error was created
//
// # Basic Usage
//
//	inst, err := p.Acquire(ctx)
//	if stockpileerrors.IsType(err, stockpileerrors.ErrorTypeFactory) {
//	    // the factory failed; errors.Is(err, myFactoryErr) still works
//	}
//
// Error values are not safe for concurrent modification. Finish adding
// details before sharing one across goroutines.
package stockpileerrors

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrorType represents the category of an error.
type ErrorType string

const (
	// ErrorTypeInternal represents failures inside stockpile itself
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeValidation represents invalid arguments or options
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeConfig represents configuration loading or validation errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeFactory represents a failure reported by an instance factory
	ErrorTypeFactory ErrorType = "factory"
	// ErrorTypeClosed represents use of a pool or processor after teardown
	ErrorTypeClosed ErrorType = "closed"
	// ErrorTypeQueueFull represents a rejected cross-goroutine hand-off
	ErrorTypeQueueFull ErrorType = "queue_full"
	// ErrorTypeProtocol represents caller protocol violations
	ErrorTypeProtocol ErrorType = "protocol"
	// ErrorTypeFile represents file operation errors
	ErrorTypeFile ErrorType = "file"
)

// Error represents a structured error with context.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame represents a single frame in the call stack.
type StackFrame struct {
	Function string // Fully qualified function name
	File     string // Source file path
	Line     int    // Line number in source file
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error so errors.Is and errors.As can see it.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error. Calls can be chained.
//
//	err := stockpileerrors.New(stockpileerrors.ErrorTypeValidation, "chunk must be positive").
//	    WithDetail("chunk", chunk)
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new error with the given type and message, capturing the
// call stack at the point of creation.
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf is New with a formatted message.
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error with a type and message, keeping it as the
// cause. If err is already a *Error its stack is reused. Returns nil if err
// is nil.
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	var existingErr *Error
	if errors.As(err, &existingErr) {
		return &Error{
			Type:    errType,
			Message: message,
			Cause:   err,
			Stack:   existingErr.Stack,
		}
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// IsType reports whether any error in err's chain is a *Error of the given type.
func IsType(err error, errType ErrorType) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Type == errType {
			return true
		}
		err = e.Cause
	}
	return false
}

// captureStack captures the current call stack up to maxFrames deep,
// skipping the given number of frames from the top.
func captureStack(skip int) []StackFrame {
	const maxFrames = 32
	frames := make([]StackFrame, 0, maxFrames)

	for i := skip; i < maxFrames+skip; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		frames = append(frames, StackFrame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}
