package commission_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gearlink/commission-engine/commission"
)

// =============================================================================
// ERROR TAXONOMY
// =============================================================================

func TestStructuredErrors_UnwrapToSentinels(t *testing.T) {
	cases := []struct {
		err      error
		sentinel error
	}{
		{&commission.ValidationError{Field: "amountTotal", Message: "must be positive"}, commission.ErrValidation},
		{&commission.NotFoundError{Kind: "vendor", Ref: "42"}, commission.ErrNotFound},
		{&commission.InactiveResourceError{Kind: "mechanic", Ref: "7"}, commission.ErrInactiveResource},
		{&commission.ConflictError{Op: "mark-paid", Reason: "already PAID"}, commission.ErrConflict},
		{&commission.ForbiddenError{Role: commission.RoleVendor, Op: "create-settlement"}, commission.ErrForbidden},
		{&commission.PersistenceError{Op: "insert", Err: errors.New("disk full")}, commission.ErrPersistence},
	}
	for _, tc := range cases {
		assert.ErrorIs(t, tc.err, tc.sentinel, "%T", tc.err)
	}
}

func TestStructuredErrors_SurviveWrapping(t *testing.T) {
	// GIVEN: A structured error wrapped by a caller adding context
	// WHEN: Matching with errors.Is / errors.As
	// THEN: Both the sentinel and the concrete type are reachable

	inner := &commission.NotFoundError{Kind: "settlement", Ref: "99"}
	wrapped := fmt.Errorf("loading detail: %w", inner)

	assert.ErrorIs(t, wrapped, commission.ErrNotFound)

	var nf *commission.NotFoundError
	require.True(t, errors.As(wrapped, &nf))
	assert.Equal(t, "settlement", nf.Kind)
}

func TestErrorHelpers(t *testing.T) {
	assert.True(t, commission.IsClientError(&commission.ValidationError{Field: "f"}))
	assert.True(t, commission.IsClientError(&commission.ConflictError{Op: "consume-order"}))
	assert.False(t, commission.IsClientError(&commission.PersistenceError{Op: "query", Err: errors.New("x")}))

	assert.True(t, commission.IsNotFound(&commission.NotFoundError{Kind: "order"}))
	assert.False(t, commission.IsNotFound(commission.ErrConflict))

	assert.True(t, commission.IsConflict(&commission.ConflictError{Op: "mark-paid"}))

	assert.True(t, commission.IsRetryable(&commission.PersistenceError{Op: "commit", Err: errors.New("busy")}))
	assert.False(t, commission.IsRetryable(commission.ErrValidation))
}

func TestPersistenceError_ExposesCause(t *testing.T) {
	// GIVEN: A store failure wrapping a driver error
	// THEN: Both the sentinel and the cause stay matchable

	cause := errors.New("database is locked")
	err := fmt.Errorf("recording sale: %w", &commission.PersistenceError{Op: "insert", Err: cause})

	assert.ErrorIs(t, err, commission.ErrPersistence)
	assert.ErrorIs(t, err, cause)
}

// =============================================================================
// ACTOR ROLE CHECKS
// =============================================================================

func TestActor_Require(t *testing.T) {
	admin := commission.Actor{ID: 1, Role: commission.RoleAdmin}
	vendor := commission.Actor{ID: 2, Role: commission.RoleVendor}

	assert.NoError(t, admin.Require("create-settlement", commission.RoleAdmin))
	assert.NoError(t, vendor.Require("record", commission.RoleVendor, commission.RoleAdmin))

	err := vendor.Require("create-settlement", commission.RoleAdmin)
	assert.ErrorIs(t, err, commission.ErrForbidden)

	var fe *commission.ForbiddenError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, commission.RoleVendor, fe.Role)
	assert.Equal(t, "create-settlement", fe.Op)
}
