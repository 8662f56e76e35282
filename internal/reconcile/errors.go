package reconcile

import (
	"errors"
	"fmt"
)

var (
	// ErrDanglingReference is matched by errors.Is when a key refers to a
	// parent row that does not exist.
	ErrDanglingReference = errors.New("dangling reference")
	// ErrSchema is matched by errors.Is for invalid schema declarations.
	ErrSchema = errors.New("invalid schema")
	// ErrInvalidEntity is matched by errors.Is for entities or pairs that do
	// not fit their table declaration.
	ErrInvalidEntity = errors.New("invalid entity")
)

// DanglingReferenceError reports a reference to a missing parent row.
type DanglingReferenceError struct {
	// From is the table or relation being reconciled.
	From  string
	Table string
	Key   Key
}

func (e *DanglingReferenceError) Error() string {
	return fmt.Sprintf("%s: dangling reference to %s%s", e.From, e.Table, e.Key)
}

// Is implements errors.Is support.
func (e *DanglingReferenceError) Is(target error) bool {
	return target == ErrDanglingReference
}

// SchemaError reports an invalid table or relation declaration.
type SchemaError struct {
	Table  string
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Table == "" {
		return "invalid schema: " + e.Reason
	}
	return fmt.Sprintf("invalid schema: %s: %s", e.Table, e.Reason)
}

// Is implements errors.Is support.
func (e *SchemaError) Is(target error) bool {
	return target == ErrSchema
}

// EntityError reports an entity whose parts do not match its table.
type EntityError struct {
	Table  string
	Reason string
}

func (e *EntityError) Error() string {
	return fmt.Sprintf("invalid %s entity: %s", e.Table, e.Reason)
}

// Is implements errors.Is support.
func (e *EntityError) Is(target error) bool {
	return target == ErrInvalidEntity
}
