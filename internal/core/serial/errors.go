package serial

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownClass   = errors.New("class is not registered")
	ErrDuplicateClass = errors.New("class already registered")
	ErrClassMismatch  = errors.New("record class does not match component type")
	ErrNilFactory     = errors.New("nil component factory")
	ErrNullEntry      = errors.New("entry has no body")
	ErrMalformedPair  = errors.New("entry is not a [key, value] pair")
	ErrMissingID      = errors.New("entity has no id")
	ErrIDMismatch     = errors.New("entity id does not match its key")
)

// RecordError ties a decode failure to the record that caused it.
type RecordError struct {
	Entity    string
	ClassName string
	Err       error
}

func (e *RecordError) Error() string {
	if e.ClassName == "" {
		return fmt.Sprintf("entity %s: %v", e.Entity, e.Err)
	}
	return fmt.Sprintf("entity %s: record %s: %v", e.Entity, e.ClassName, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }
