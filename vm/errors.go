package vm

import (
	"errors"
	"fmt"
)

var (
	ErrFrozen          = errors.New("vm: object is frozen")
	ErrNotConfigurable = errors.New("vm: property is not configurable")
	ErrNotConstructor  = errors.New("vm: not a constructor")
	ErrNoInterpreter   = errors.New("vm: compiled function needs an interpreter")
)

// ScriptError is a value thrown by script code, or a runtime error raised on
// its behalf, that was not caught.
type ScriptError struct {
	Value    Value
	Location string // "<source>:<subunit>" of the innermost frame
}

func (e *ScriptError) Error() string {
	msg := "uncaught " + e.Value.String()
	if obj := e.Value.AsObject(); obj != nil && obj.Class() == "Error" {
		name, _ := obj.Get("name")
		text, _ := obj.Get("message")
		msg = name.ToString() + ": " + text.ToString()
	}
	if e.Location != "" {
		msg += " (" + e.Location + ")"
	}
	return msg
}

// Name returns the error name ("TypeError") for runtime errors, or "" for
// arbitrary thrown values.
func (e *ScriptError) Name() string {
	if obj := e.Value.AsObject(); obj != nil && obj.Class() == "Error" {
		name, _ := obj.Get("name")
		return name.ToString()
	}
	return ""
}

// NewError builds an error object with name and message properties.
func NewError(name, message string) *HostObject {
	obj := NewObject("Error", nil)
	obj.put("name", AttrWritable|AttrConfigurable, slot{value: String(name)})
	obj.put("message", AttrWritable|AttrConfigurable, slot{value: String(message)})
	return obj
}

func throwError(name, format string, args ...any) error {
	return &ScriptError{Value: Object(NewError(name, fmt.Sprintf(format, args...)))}
}

// TypeError returns a script-visible TypeError.
func TypeError(format string, args ...any) error {
	return throwError("TypeError", format, args...)
}

// ReferenceError returns a script-visible ReferenceError.
func ReferenceError(format string, args ...any) error {
	return throwError("ReferenceError", format, args...)
}

// RangeError returns a script-visible RangeError.
func RangeError(format string, args ...any) error {
	return throwError("RangeError", format, args...)
}
