package model

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsaved is matched by every IdentityError.
	ErrUnsaved = errors.New("instance is not saved")
	// ErrUnsupported marks operations the field types deliberately do not implement.
	ErrUnsupported = errors.New("unsupported operation")
	// ErrDoesNotExist is returned by Get when no row matches.
	ErrDoesNotExist = errors.New("object does not exist")
	// ErrMultipleObjects is returned by Get when more than one row matches.
	ErrMultipleObjects = errors.New("get returned more than one object")
)

// IdentityError reports use of an instance that has no primary key yet.
type IdentityError struct {
	Model string
	// Field is the relation or value that needed the key, if known.
	Field string
}

func (e *IdentityError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%q instance needs a primary key value", e.Model)
	}
	return fmt.Sprintf("%q instance needs a primary key value before %s can be used", e.Model, e.Field)
}

func (e *IdentityError) Unwrap() error { return ErrUnsaved }

// TypeError reports a value of the wrong model or an invalid lookup.
type TypeError struct {
	Expected string
	Got      string
	Msg      string
}

func (e *TypeError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return fmt.Sprintf("%q instance expected, got %s", e.Expected, e.Got)
}

// FieldError reports an unknown field or lookup, or a forbidden assignment.
type FieldError struct {
	Model  string
	Field  string
	Lookup string
	Msg    string
	Err    error
}

func (e *FieldError) Error() string {
	var target string
	switch {
	case e.Lookup != "":
		target = fmt.Sprintf("field %q lookup %q", e.Field, e.Lookup)
	default:
		target = fmt.Sprintf("field %q", e.Field)
	}
	if e.Model != "" {
		target = e.Model + ": " + target
	}
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return target + ": " + msg
}

func (e *FieldError) Unwrap() error { return e.Err }
