// Package errors defines error types and utilities for relorm
package errors

import (
	"errors"
	"fmt"
)

// Build and resolve errors. All of these surface before a statement is
// handed to the executor.
var (
	// ErrUnknownAssociation is returned when an association name is not registered on its parent type
	ErrUnknownAssociation = errors.New("unknown association")

	// ErrInvalidSelectClause is returned when a select list normalizes to nothing
	ErrInvalidSelectClause = errors.New("invalid select clause")

	// ErrInvalidBatchConfiguration is returned for non-positive batch sizes and bad cursor options
	ErrInvalidBatchConfiguration = errors.New("invalid batch configuration")

	// ErrScopedOrderConflict is returned when strict batch iteration meets a caller supplied order
	ErrScopedOrderConflict = errors.New("scoped order conflicts with batch cursor order")

	// ErrEmptySetCondition is returned when IN / NOT IN is built over zero values
	ErrEmptySetCondition = errors.New("empty set condition")

	// ErrMalformedNamedPlaceholder is returned when a :name token is missing from the bind table
	ErrMalformedNamedPlaceholder = errors.New("malformed named placeholder")

	// ErrBindCountMismatch is returned when a raw fragment's ? count differs from its params
	ErrBindCountMismatch = errors.New("bind count mismatch")

	// ErrInvalidOperator is returned when an invalid comparison operator is used
	ErrInvalidOperator = errors.New("invalid query operator")

	// ErrInvalidPagination is returned for negative limits or offsets
	ErrInvalidPagination = errors.New("invalid limit or offset")

	// ErrInvalidIdentifier is returned when a column or table reference is unsafe
	ErrInvalidIdentifier = errors.New("invalid identifier")

	// ErrInvalidModel is returned when a model struct or type definition is invalid
	ErrInvalidModel = errors.New("invalid model")

	// ErrModelNotRegistered is returned when a type name is not in the registry
	ErrModelNotRegistered = errors.New("model not registered")

	// ErrMissingPrimaryKey is returned when a model doesn't have a primary key
	ErrMissingPrimaryKey = errors.New("missing primary key")

	// ErrInvalidTag is returned when a struct tag is invalid
	ErrInvalidTag = errors.New("invalid struct tag")

	// ErrDuplicateAssociation is returned when an association name is registered twice on a type
	ErrDuplicateAssociation = errors.New("duplicate association")

	// ErrInvalidAssociation is returned when an association descriptor is incomplete
	ErrInvalidAssociation = errors.New("invalid association")

	// ErrPolymorphicJoin is returned when a polymorphic belongs-to without a fixed target is joined
	ErrPolymorphicJoin = errors.New("cannot join polymorphic association without a target type")

	// ErrUnknownScope is returned when a named scope is not defined on a type
	ErrUnknownScope = errors.New("unknown scope")

	// ErrInvalidSchema is returned when a schema document fails validation
	ErrInvalidSchema = errors.New("invalid schema document")

	// ErrRecordNotFound is returned when a find yields no rows
	ErrRecordNotFound = errors.New("record not found")
)

// UnknownAssociationError names the association that failed to resolve and
// the type it was looked up on.
type UnknownAssociationError struct {
	Name   string
	Parent string
	Path   []string
}

func (e *UnknownAssociationError) Error() string {
	if len(e.Path) > 0 {
		return fmt.Sprintf("relorm: association %q not found on %s (path %v)", e.Name, e.Parent, e.Path)
	}
	return fmt.Sprintf("relorm: association %q not found on %s", e.Name, e.Parent)
}

// Is reports whether target is ErrUnknownAssociation
func (e *UnknownAssociationError) Is(target error) bool {
	return target == ErrUnknownAssociation
}

// RelormError represents a detailed error with context
type RelormError struct {
	Op      string         // Operation that failed
	Model   string         // Model type name
	Err     error          // Underlying error
	Context map[string]any // Additional context
}

// Error implements the error interface
func (e *RelormError) Error() string {
	if e.Model == "" {
		return fmt.Sprintf("relorm: %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("relorm: %s %s failed: %v", e.Op, e.Model, e.Err)
}

// Unwrap returns the underlying error
func (e *RelormError) Unwrap() error {
	return e.Err
}

// NewError creates a new RelormError
func NewError(op, model string, err error) *RelormError {
	return &RelormError{
		Op:    op,
		Model: model,
		Err:   err,
	}
}

// NewErrorWithContext creates a new RelormError with context
func NewErrorWithContext(op, model string, err error, context map[string]any) *RelormError {
	return &RelormError{
		Op:      op,
		Model:   model,
		Err:     err,
		Context: context,
	}
}

// IsNotFound checks if an error indicates a record was not found
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRecordNotFound)
}

// IsUnknownAssociation checks if an error came from association resolution
func IsUnknownAssociation(err error) bool {
	return errors.Is(err, ErrUnknownAssociation)
}

// IsEmptySet checks if an error came from an IN / NOT IN over zero values
func IsEmptySet(err error) bool {
	return errors.Is(err, ErrEmptySetCondition)
}
