package vm

import (
	"errors"
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Error taxonomy
// ---------------------------------------------------------------------------

// ErrorKind classifies VM errors.
type ErrorKind int

const (
	ErrResolution ErrorKind = iota + 1
	ErrClassNotFound
	ErrClassFormat
	ErrLinkage
	ErrInitialization
	ErrVerify

	// Java-catchable kinds. The interpreter materializes these as exception
	// objects and routes them through handler lookup.
	ErrArithmetic
	ErrNullPointer
	ErrArrayIndex
	ErrNegativeArraySize
	ErrClassCast
	ErrArrayStore
	ErrAbstractMethod
	ErrIllegalMonitorState
	ErrIllegalState
	ErrInstantiation
	ErrOutOfMemory

	// Fatal to the current thread.
	ErrStackOverflow
	ErrStackUnderflow
	ErrLocalIndex
	ErrUnimplemented
)

var errorKindNames = map[ErrorKind]string{
	ErrResolution:          "ResolutionError",
	ErrClassNotFound:       "ClassNotFoundError",
	ErrClassFormat:         "ClassFormatError",
	ErrLinkage:             "LinkageError",
	ErrInitialization:      "InitializationError",
	ErrVerify:              "VerifyError",
	ErrArithmetic:          "ArithmeticError",
	ErrNullPointer:         "NullPointerError",
	ErrArrayIndex:          "ArrayIndexError",
	ErrNegativeArraySize:   "NegativeArraySizeError",
	ErrClassCast:           "ClassCastError",
	ErrArrayStore:          "ArrayStoreError",
	ErrAbstractMethod:      "AbstractMethodError",
	ErrIllegalMonitorState: "IllegalMonitorStateError",
	ErrIllegalState:        "IllegalStateError",
	ErrInstantiation:       "InstantiationError",
	ErrOutOfMemory:         "OutOfMemoryError",
	ErrStackOverflow:       "StackOverflow",
	ErrStackUnderflow:      "StackUnderflow",
	ErrLocalIndex:          "LocalIndexError",
	ErrUnimplemented:       "Unimplemented",
}

// javaExceptionClasses maps catchable kinds to the class thrown for them.
var javaExceptionClasses = map[ErrorKind]string{
	ErrArithmetic:          "java/lang/ArithmeticException",
	ErrNullPointer:         "java/lang/NullPointerException",
	ErrArrayIndex:          "java/lang/ArrayIndexOutOfBoundsException",
	ErrNegativeArraySize:   "java/lang/NegativeArraySizeException",
	ErrClassCast:           "java/lang/ClassCastException",
	ErrArrayStore:          "java/lang/ArrayStoreException",
	ErrAbstractMethod:      "java/lang/AbstractMethodError",
	ErrIllegalMonitorState: "java/lang/IllegalMonitorStateException",
	ErrIllegalState:        "java/lang/IllegalStateException",
	ErrInstantiation:       "java/lang/InstantiationError",
	ErrOutOfMemory:         "java/lang/OutOfMemoryError",
}

func (k ErrorKind) String() string {
	if name, ok := errorKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Error is a VM-level failure. Class names the class being loaded, linked or
// executed when it is known.
type Error struct {
	Kind  ErrorKind
	Msg   string
	Class string
	Err   error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Class != "" {
		b.WriteString(" [")
		b.WriteString(e.Class)
		b.WriteString("]")
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Catchable reports whether Java code can handle the error.
func (e *Error) Catchable() bool {
	_, ok := javaExceptionClasses[e.Kind]
	return ok
}

// JavaClass returns the exception class thrown for a catchable error.
func (e *Error) JavaClass() string {
	return javaExceptionClasses[e.Kind]
}

// Fatal reports whether the error terminates the current thread outright.
func (e *Error) Fatal() bool {
	switch e.Kind {
	case ErrStackOverflow, ErrStackUnderflow, ErrLocalIndex, ErrVerify, ErrUnimplemented:
		return true
	}
	return false
}

func newError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func wrapError(kind ErrorKind, class string, err error) *Error {
	return &Error{Kind: kind, Class: class, Err: err}
}

// IsKind reports whether err is, or wraps, a VM Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	for err != nil {
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}

// ---------------------------------------------------------------------------
// Thrown Java objects
// ---------------------------------------------------------------------------

// Throwable carries a thrown java/lang/Throwable instance up the Go call
// stack. Class and Message are captured at throw time for reporting.
type Throwable struct {
	Ref     Ref
	Class   string
	Message string
}

func (t *Throwable) Error() string {
	name := strings.ReplaceAll(t.Class, "/", ".")
	if t.Message == "" {
		return name
	}
	return name + ": " + t.Message
}

// ExitError is returned once System.exit has been called.
type ExitError struct {
	Status int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Status)
}

// ---------------------------------------------------------------------------
// Stack traces
// ---------------------------------------------------------------------------

// StackTraceElement is one captured activation.
type StackTraceElement struct {
	Class  string
	Method string
	File   string
	Line   int
}

func (e StackTraceElement) String() string {
	loc := "Unknown Source"
	switch {
	case e.File != "" && e.Line > 0:
		loc = fmt.Sprintf("%s:%d", e.File, e.Line)
	case e.File != "":
		loc = e.File
	}
	return fmt.Sprintf("%s.%s(%s)", strings.ReplaceAll(e.Class, "/", "."), e.Method, loc)
}
