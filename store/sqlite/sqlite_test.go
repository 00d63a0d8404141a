package sqlite_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gearlink/commission-engine/commission"
	"github.com/gearlink/commission-engine/store/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// =============================================================================
// DIRECTORY STORE
// =============================================================================

func TestSaveVendor_UpdateMissingVendor_NotFound(t *testing.T) {
	// GIVEN: An empty store
	// WHEN: Updating a vendor id that was never inserted
	// THEN: NotFoundError, not a silent zero-row success

	store := newTestStore(t)
	ctx := context.Background()

	v := &commission.Vendor{ID: 99, StoreName: "Ghost Parts"}
	err := store.SaveVendor(ctx, v)

	var nf *commission.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "vendor", nf.Kind)
}

func TestSaveMechanic_UpdateMissingMechanic_NotFound(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	m := &commission.Mechanic{ID: 42, FullName: "Nobody"}
	err := store.SaveMechanic(ctx, m)

	var nf *commission.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "mechanic", nf.Kind)
}

func TestSaveVendor_UpdateExistingVendor(t *testing.T) {
	// GIVEN: A saved vendor
	// WHEN: Updating its fields in place
	// THEN: The row reflects the change

	store := newTestStore(t)
	ctx := context.Background()

	v := &commission.Vendor{StoreName: "AutoParts Plus"}
	require.NoError(t, store.SaveVendor(ctx, v))

	v.City = "Springfield"
	v.Status = commission.VendorSuspended
	require.NoError(t, store.SaveVendor(ctx, v))

	got, err := store.GetVendor(ctx, v.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Springfield", got.City)
	assert.Equal(t, commission.VendorSuspended, got.Status)
}
