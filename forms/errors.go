package forms

import "fmt"

// ValidationError is returned by Clean when a value is rejected. Code names
// the failed check, e.g. "required", "max_length" or "invalid_json".
type ValidationError struct {
	Code    string
	Message string
	// Field is set by composite fields to the name of the failing member.
	Field string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

func required() *ValidationError {
	return &ValidationError{Code: "required", Message: "This field is required."}
}
