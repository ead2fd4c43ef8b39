package workflow

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidTransition  = errors.New("invalid transition")
	ErrPrerequisiteNotMet = errors.New("prerequisite not met")
	ErrAlreadyProcessed   = errors.New("already processed")
	ErrAlreadyLocked      = errors.New("project already locked")
	ErrValidationFailed   = errors.New("validation failed")
)

// TransitionError describes a rejected request. Kind is one of the Err* sentinels.
type TransitionError struct {
	Kind   error
	Step   Step
	Action Action
	Detail string
	Fields []string
}

func (e *TransitionError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Action != "" || e.Step != "" {
		b.WriteString(": ")
		b.WriteString(string(e.Action))
		if e.Step != "" {
			if e.Action != "" {
				b.WriteString(" ")
			}
			b.WriteString(string(e.Step))
		}
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

func (e *TransitionError) Unwrap() error { return e.Kind }

func newError(kind error, step Step, action Action, format string, args ...any) *TransitionError {
	return &TransitionError{Kind: kind, Step: step, Action: action, Detail: fmt.Sprintf(format, args...)}
}

// Validation returns a ValidationFailed error naming the offending fields.
func Validation(detail string, fields ...string) error {
	return &TransitionError{Kind: ErrValidationFailed, Detail: detail, Fields: fields}
}

// Kind returns the sentinel carried by err, or nil if err is not a workflow error.
func Kind(err error) error {
	for _, k := range []error{
		ErrForbidden,
		ErrInvalidTransition,
		ErrPrerequisiteNotMet,
		ErrAlreadyProcessed,
		ErrAlreadyLocked,
		ErrValidationFailed,
	} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
