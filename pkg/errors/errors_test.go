package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelormError(t *testing.T) {
	err := NewError("find", "Post", ErrRecordNotFound)
	assert.Equal(t, "relorm: find Post failed: record not found", err.Error())
	assert.True(t, errors.Is(err, ErrRecordNotFound))
	assert.True(t, IsNotFound(err))
	assert.False(t, IsNotFound(NewError("find", "Post", ErrInvalidModel)))

	bare := NewError("count", "", ErrEmptySetCondition)
	assert.Equal(t, "relorm: count failed: empty set condition", bare.Error())
	assert.True(t, IsEmptySet(fmt.Errorf("outer: %w", bare)))

	withContext := NewErrorWithContext("find", "Post", ErrMissingPrimaryKey, map[string]any{"given": 2})
	assert.Equal(t, 2, withContext.Context["given"])
	assert.ErrorIs(t, withContext, ErrMissingPrimaryKey)
}

func TestUnknownAssociationError(t *testing.T) {
	err := &UnknownAssociationError{Name: "editor", Parent: "Post"}
	assert.Equal(t, `relorm: association "editor" not found on Post`, err.Error())
	assert.True(t, IsUnknownAssociation(err))
	assert.True(t, errors.Is(fmt.Errorf("resolve: %w", err), ErrUnknownAssociation))

	nested := &UnknownAssociationError{Name: "body", Parent: "Comment", Path: []string{"comments"}}
	assert.Equal(t, `relorm: association "body" not found on Comment (path [comments])`, nested.Error())

	var target *UnknownAssociationError
	require.True(t, errors.As(NewError("includes", "Post", nested), &target))
	assert.Equal(t, "body", target.Name)
}

func TestSentinelsAreDistinct(t *testing.T) {
	sentinels := []error{
		ErrUnknownAssociation, ErrInvalidSelectClause, ErrInvalidBatchConfiguration,
		ErrScopedOrderConflict, ErrEmptySetCondition, ErrMalformedNamedPlaceholder,
		ErrBindCountMismatch, ErrInvalidOperator, ErrInvalidPagination,
		ErrInvalidIdentifier, ErrInvalidModel, ErrModelNotRegistered,
		ErrMissingPrimaryKey, ErrInvalidTag, ErrDuplicateAssociation,
		ErrInvalidAssociation, ErrPolymorphicJoin, ErrUnknownScope,
		ErrInvalidSchema, ErrRecordNotFound,
	}
	for i, a := range sentinels {
		for j, b := range sentinels {
			if i != j {
				assert.False(t, errors.Is(a, b), "%v matches %v", a, b)
			}
		}
	}
}
