package settle_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gearlink/commission-engine/commission"
	"github.com/gearlink/commission-engine/ledger"
	"github.com/gearlink/commission-engine/settle"
	"github.com/gearlink/commission-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var admin = commission.Actor{ID: 1, Role: commission.RoleAdmin}

type fixture struct {
	store    *sqlite.Store
	ledger   *ledger.Ledger
	service  *settle.Service
	vendor   *commission.Vendor
	mechanic *commission.Mechanic
}

func newFixture(t *testing.T) *fixture {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	v := &commission.Vendor{StoreName: "AutoParts Plus"}
	require.NoError(t, store.SaveVendor(ctx, v))
	m := &commission.Mechanic{FullName: "Ray Ortiz", QRActive: true}
	require.NoError(t, store.SaveMechanic(ctx, m))

	log := zap.NewNop()
	return &fixture{
		store:    store,
		ledger:   ledger.New(store, log),
		service:  settle.New(store, nil, log),
		vendor:   v,
		mechanic: m,
	}
}

func (f *fixture) record(t *testing.T, eligible int64) *commission.Transaction {
	res, err := f.ledger.Record(context.Background(), ledger.RecordRequest{
		VendorID:       f.vendor.ID,
		MechanicID:     f.mechanic.ID,
		CustomerPhone:  "+15550001111",
		AmountTotal:    commission.NewMoney(eligible + 500),
		AmountEligible: commission.NewMoney(eligible),
	})
	require.NoError(t, err)
	return res.Transaction
}

func today() commission.DateRange {
	now := time.Now().UTC()
	r, _ := commission.NewDateRange(now, now)
	return r
}

// =============================================================================
// BATCHING
// =============================================================================

func TestSettle_Create_BatchesAllEligible(t *testing.T) {
	// GIVEN: Three pending transactions recorded today
	// WHEN: Creating a settlement for today's window
	// THEN: All three are claimed and totals equal the sum of their parts

	f := newFixture(t)
	ctx := context.Background()

	f.record(t, 1_000_000)
	f.record(t, 2_000_000)
	f.record(t, 1_000_000)

	res, err := f.service.Create(ctx, admin, settle.BatchRequest{VendorID: f.vendor.ID, Period: today()})
	require.NoError(t, err)

	assert.True(t, res.Created)
	assert.Equal(t, 3, res.Count)
	assert.Equal(t, "4000000", res.Totals.Eligible.String())
	assert.Equal(t, "120000", res.Totals.Mechanic.String(), "3% of 4,000,000")
	assert.Equal(t, "80000", res.Totals.Platform.String(), "2% of 4,000,000")

	items, err := f.service.Items(ctx, admin, res.SettlementID)
	require.NoError(t, err)
	assert.Len(t, items, 3)
}

func TestSettle_Create_TotalsConserveItemSums(t *testing.T) {
	// GIVEN: Transactions with amounts that stress per-item rounding
	// WHEN: Batching them
	// THEN: Settlement totals equal the exact sum of per-item commission
	//       amounts, not a recomputation over the summed eligible base

	f := newFixture(t)
	ctx := context.Background()

	// 3% of 17 rounds 0.51 -> 1 per item; three items sum to 3,
	// while 3% of the summed 51 would round 1.53 -> 2. The stored
	// total must be the item sum, 3.
	for i := 0; i < 3; i++ {
		f.record(t, 17)
	}

	res, err := f.service.Create(ctx, admin, settle.BatchRequest{VendorID: f.vendor.ID, Period: today()})
	require.NoError(t, err)

	items, err := f.service.Items(ctx, admin, res.SettlementID)
	require.NoError(t, err)

	var mech, plat commission.Money
	for _, it := range items {
		mech = mech.Add(it.MechanicAmount)
		plat = plat.Add(it.PlatformAmount)
	}
	assert.True(t, res.Totals.Mechanic.Equal(mech), "mechanic total must equal item sum")
	assert.True(t, res.Totals.Platform.Equal(plat), "platform total must equal item sum")
}

func TestSettle_Create_EmptyWindow_IsNormalResult(t *testing.T) {
	// GIVEN: No transactions at all
	// WHEN: Creating a settlement
	// THEN: Created=false with zero count; no error, no settlement row

	f := newFixture(t)
	ctx := context.Background()

	res, err := f.service.Create(ctx, admin, settle.BatchRequest{VendorID: f.vendor.ID, Period: today()})
	require.NoError(t, err)

	assert.False(t, res.Created)
	assert.Zero(t, res.Count)
	assert.Zero(t, res.SettlementID)

	all, err := f.service.List(ctx, admin, commission.SettlementFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSettle_Create_Disjointness_SecondBatchSkipsClaimed(t *testing.T) {
	// GIVEN: A settlement already claiming today's two transactions
	// WHEN: A second settlement is created over the SAME window
	// THEN: It claims nothing - settlements never share a transaction

	f := newFixture(t)
	ctx := context.Background()

	f.record(t, 10_000)
	f.record(t, 20_000)

	req := settle.BatchRequest{VendorID: f.vendor.ID, Period: today()}
	first, err := f.service.Create(ctx, admin, req)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Count)

	second, err := f.service.Create(ctx, admin, req)
	require.NoError(t, err)
	assert.False(t, second.Created, "overlapping window must yield an empty batch")

	// A new transaction after the first batch is claimable by a third.
	f.record(t, 30_000)
	third, err := f.service.Create(ctx, admin, req)
	require.NoError(t, err)
	assert.True(t, third.Created)
	assert.Equal(t, 1, third.Count)
}

func TestSettle_Create_ConcurrentBatchers_SplitWithoutOverlap(t *testing.T) {
	// GIVEN: 20 pending transactions
	// WHEN: Two batchers race over two overlapping waves
	// THEN: Every transaction lands in exactly one settlement; losers
	//       fail whole with a conflict or come back empty

	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		f.record(t, int64(1000*(i+1)))
	}

	req := settle.BatchRequest{VendorID: f.vendor.ID, Period: today()}
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := f.service.Create(ctx, admin, req)
			results <- err
		}()
	}
	for i := 0; i < 2; i++ {
		err := <-results
		if err != nil {
			assert.True(t, commission.IsConflict(err), "a losing batcher may only fail with a conflict")
		}
	}

	// Union of all settlement items covers each transaction at most once.
	settlements, err := f.service.List(ctx, admin, commission.SettlementFilter{})
	require.NoError(t, err)

	seen := map[commission.TransactionID]bool{}
	total := 0
	for _, st := range settlements {
		items, err := f.service.Items(ctx, admin, st.ID)
		require.NoError(t, err)
		for _, it := range items {
			assert.False(t, seen[it.TransactionID], "transaction %d claimed twice", it.TransactionID)
			seen[it.TransactionID] = true
			total++
		}
	}
	assert.Equal(t, 20, total, "every transaction settled exactly once")
}

func TestSettle_Create_MechanicFilter(t *testing.T) {
	// GIVEN: Transactions referred by two different mechanics
	// WHEN: Batching with a mechanic filter
	// THEN: Only that mechanic's transactions are claimed

	f := newFixture(t)
	ctx := context.Background()

	other := &commission.Mechanic{FullName: "Second Mechanic", QRActive: true}
	require.NoError(t, f.store.SaveMechanic(ctx, other))

	f.record(t, 10_000)
	_, err := f.ledger.Record(ctx, ledger.RecordRequest{
		VendorID:       f.vendor.ID,
		MechanicID:     other.ID,
		CustomerPhone:  "+15550001111",
		AmountTotal:    commission.NewMoney(30_000),
		AmountEligible: commission.NewMoney(20_000),
	})
	require.NoError(t, err)

	res, err := f.service.Create(ctx, admin, settle.BatchRequest{
		VendorID:   f.vendor.ID,
		MechanicID: &f.mechanic.ID,
		Period:     today(),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)
	assert.Equal(t, "10000", res.Totals.Eligible.String())
}

func TestSettle_Create_WindowExcludesOutsideDays(t *testing.T) {
	// GIVEN: A pending transaction recorded today
	// WHEN: Batching over a window that ended yesterday
	// THEN: Nothing is eligible

	f := newFixture(t)
	ctx := context.Background()
	f.record(t, 10_000)

	yesterday := time.Now().UTC().AddDate(0, 0, -1)
	window, err := commission.NewDateRange(yesterday.AddDate(0, 0, -6), yesterday)
	require.NoError(t, err)

	res, err := f.service.Create(ctx, admin, settle.BatchRequest{VendorID: f.vendor.ID, Period: window})
	require.NoError(t, err)
	assert.False(t, res.Created)
}

// =============================================================================
// PREVIEW
// =============================================================================

func TestSettle_Preview_MatchesCreate(t *testing.T) {
	// GIVEN: Pending transactions in a window
	// WHEN: Previewing and then creating over the same window
	// THEN: The preview's count and totals match what Create claims

	f := newFixture(t)
	ctx := context.Background()

	f.record(t, 100_000)
	f.record(t, 250_000)

	req := settle.BatchRequest{VendorID: f.vendor.ID, Period: today()}

	preview, err := f.service.Preview(ctx, admin, req)
	require.NoError(t, err)
	assert.Equal(t, 2, preview.Count)
	assert.Len(t, preview.Items, 2)

	created, err := f.service.Create(ctx, admin, req)
	require.NoError(t, err)
	assert.Equal(t, preview.Count, created.Count)
	assert.True(t, preview.Totals.Eligible.Equal(created.Totals.Eligible))
	assert.True(t, preview.Totals.Mechanic.Equal(created.Totals.Mechanic))
	assert.True(t, preview.Totals.Platform.Equal(created.Totals.Platform))

	// After creation the same preview is empty.
	after, err := f.service.Preview(ctx, admin, req)
	require.NoError(t, err)
	assert.Zero(t, after.Count)
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestSettle_MarkPaid_CascadesSettled(t *testing.T) {
	// GIVEN: An OPEN settlement over two pending transactions
	// WHEN: Marking it paid
	// THEN: The settlement is PAID with a timestamp and both
	//       transactions flip to SETTLED

	f := newFixture(t)
	ctx := context.Background()

	tx1 := f.record(t, 10_000)
	tx2 := f.record(t, 20_000)

	res, err := f.service.Create(ctx, admin, settle.BatchRequest{VendorID: f.vendor.ID, Period: today()})
	require.NoError(t, err)

	paid, err := f.service.MarkPaid(ctx, admin, res.SettlementID)
	require.NoError(t, err)
	assert.Equal(t, commission.SettlementPaid, paid.Status)
	require.NotNil(t, paid.PaidAt)

	for _, id := range []commission.TransactionID{tx1.ID, tx2.ID} {
		got, err := f.store.GetTransaction(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, commission.TxSettled, got.Status)
	}
}

func TestSettle_MarkPaid_Twice_Conflict(t *testing.T) {
	// GIVEN: A settlement already marked paid
	// WHEN: Marking it paid again
	// THEN: ConflictError - PAID is terminal

	f := newFixture(t)
	ctx := context.Background()
	f.record(t, 10_000)

	res, err := f.service.Create(ctx, admin, settle.BatchRequest{VendorID: f.vendor.ID, Period: today()})
	require.NoError(t, err)

	_, err = f.service.MarkPaid(ctx, admin, res.SettlementID)
	require.NoError(t, err)

	_, err = f.service.MarkPaid(ctx, admin, res.SettlementID)
	assert.True(t, commission.IsConflict(err))
}

func TestSettle_MarkPaid_Unknown_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.MarkPaid(context.Background(), admin, 404)
	assert.True(t, commission.IsNotFound(err))
}

func TestSettle_MarkPaid_DoesNotTouchUnclaimedTransactions(t *testing.T) {
	// GIVEN: One claimed and one unclaimed pending transaction
	// WHEN: Paying the settlement
	// THEN: Only the claimed transaction becomes SETTLED

	f := newFixture(t)
	ctx := context.Background()

	claimed := f.record(t, 10_000)
	res, err := f.service.Create(ctx, admin, settle.BatchRequest{VendorID: f.vendor.ID, Period: today()})
	require.NoError(t, err)

	unclaimed := f.record(t, 20_000)

	_, err = f.service.MarkPaid(ctx, admin, res.SettlementID)
	require.NoError(t, err)

	gotClaimed, err := f.store.GetTransaction(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, commission.TxSettled, gotClaimed.Status)

	gotUnclaimed, err := f.store.GetTransaction(ctx, unclaimed.ID)
	require.NoError(t, err)
	assert.Equal(t, commission.TxPending, gotUnclaimed.Status)
}

// =============================================================================
// ACCESS CONTROL
// =============================================================================

func TestSettle_RoleGates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.record(t, 10_000)

	vendorActor := commission.Actor{ID: int64(f.vendor.ID), Role: commission.RoleVendor}
	mechActor := commission.Actor{ID: int64(f.mechanic.ID), Role: commission.RoleMechanic}
	req := settle.BatchRequest{VendorID: f.vendor.ID, Period: today()}

	_, err := f.service.Create(ctx, vendorActor, req)
	assert.ErrorIs(t, err, commission.ErrForbidden, "vendors cannot create settlements")

	_, err = f.service.Preview(ctx, mechActor, req)
	assert.ErrorIs(t, err, commission.ErrForbidden, "mechanics cannot preview settlements")

	res, err := f.service.Create(ctx, admin, req)
	require.NoError(t, err)

	_, err = f.service.MarkPaid(ctx, vendorActor, res.SettlementID)
	assert.ErrorIs(t, err, commission.ErrForbidden, "vendors cannot mark paid")
}

func TestSettle_VendorSeesOnlyOwnSettlements(t *testing.T) {
	// GIVEN: Settlements for two vendors
	// WHEN: One vendor lists and fetches
	// THEN: Foreign settlements are invisible and fetch as not-found

	f := newFixture(t)
	ctx := context.Background()

	otherVendor := &commission.Vendor{StoreName: "Gearbox Garage"}
	require.NoError(t, f.store.SaveVendor(ctx, otherVendor))

	f.record(t, 10_000)
	_, err := f.ledger.Record(ctx, ledger.RecordRequest{
		VendorID:       otherVendor.ID,
		MechanicID:     f.mechanic.ID,
		CustomerPhone:  "+15550001111",
		AmountTotal:    commission.NewMoney(9_000),
		AmountEligible: commission.NewMoney(8_000),
	})
	require.NoError(t, err)

	mine, err := f.service.Create(ctx, admin, settle.BatchRequest{VendorID: f.vendor.ID, Period: today()})
	require.NoError(t, err)
	theirs, err := f.service.Create(ctx, admin, settle.BatchRequest{VendorID: otherVendor.ID, Period: today()})
	require.NoError(t, err)

	me := commission.Actor{ID: int64(f.vendor.ID), Role: commission.RoleVendor}

	listed, err := f.service.List(ctx, me, commission.SettlementFilter{})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, mine.SettlementID, listed[0].ID)

	_, err = f.service.Get(ctx, me, theirs.SettlementID)
	assert.True(t, commission.IsNotFound(err))
}

func TestSettle_MechanicSeesSettlementsContainingTheirSales(t *testing.T) {
	// GIVEN: Two settlements, only one containing the mechanic's sales
	// WHEN: The mechanic lists and fetches
	// THEN: Only the settlement with their transactions is visible

	f := newFixture(t)
	ctx := context.Background()

	otherMechanic := &commission.Mechanic{FullName: "Dana Kim", QRActive: true}
	require.NoError(t, f.store.SaveMechanic(ctx, otherMechanic))

	f.record(t, 10_000)
	mid := f.mechanic.ID
	mine, err := f.service.Create(ctx, admin, settle.BatchRequest{
		VendorID: f.vendor.ID, MechanicID: &mid, Period: today(),
	})
	require.NoError(t, err)

	_, err = f.ledger.Record(ctx, ledger.RecordRequest{
		VendorID:       f.vendor.ID,
		MechanicID:     otherMechanic.ID,
		CustomerPhone:  "+15550001111",
		AmountTotal:    commission.NewMoney(9_000),
		AmountEligible: commission.NewMoney(8_000),
	})
	require.NoError(t, err)
	theirs, err := f.service.Create(ctx, admin, settle.BatchRequest{VendorID: f.vendor.ID, Period: today()})
	require.NoError(t, err)

	me := commission.Actor{ID: int64(f.mechanic.ID), Role: commission.RoleMechanic}

	listed, err := f.service.List(ctx, me, commission.SettlementFilter{})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, mine.SettlementID, listed[0].ID)

	got, err := f.service.Get(ctx, me, mine.SettlementID)
	require.NoError(t, err)
	assert.Equal(t, mine.SettlementID, got.ID)

	_, err = f.service.Get(ctx, me, theirs.SettlementID)
	assert.True(t, commission.IsNotFound(err))
}

// =============================================================================
// REPORTS
// =============================================================================

func TestSettle_VendorStats_SplitsByStatus(t *testing.T) {
	// GIVEN: One settled and one still-pending transaction
	// WHEN: Asking for vendor stats over the window
	// THEN: Counts split by status and totals cover both

	f := newFixture(t)
	ctx := context.Background()

	f.record(t, 1_000_000)
	res, err := f.service.Create(ctx, admin, settle.BatchRequest{VendorID: f.vendor.ID, Period: today()})
	require.NoError(t, err)
	_, err = f.service.MarkPaid(ctx, admin, res.SettlementID)
	require.NoError(t, err)

	f.record(t, 500_000)

	stats, err := f.service.VendorStats(ctx, admin, f.vendor.ID, today())
	require.NoError(t, err)

	assert.Equal(t, 2, stats.TransactionCount)
	assert.Equal(t, 1, stats.PendingCount)
	assert.Equal(t, 1, stats.SettledCount)
	assert.Equal(t, "1500000", stats.TotalEligible.String())
	assert.Equal(t, "45000", stats.MechanicEarned.String())
	assert.Equal(t, "30000", stats.PlatformEarned.String())
}

func TestSettle_MechanicStats_OwnOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.record(t, 200_000)

	me := commission.Actor{ID: int64(f.mechanic.ID), Role: commission.RoleMechanic}
	stats, err := f.service.MechanicStats(ctx, me, f.mechanic.ID, today())
	require.NoError(t, err)
	assert.Equal(t, "6000", stats.MechanicEarned.String())

	_, err = f.service.MechanicStats(ctx, me, f.mechanic.ID+1, today())
	assert.True(t, commission.IsNotFound(err))
}

// Scenario check from the seed data: a week of sales totalling
// 4,000,000 eligible settles into 120,000 mechanic / 80,000 platform.
func TestSettle_EndToEnd_SeedScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i, eligible := range []int64{1_500_000, 1_500_000, 1_000_000} {
		res, err := f.ledger.Record(ctx, ledger.RecordRequest{
			VendorID:       f.vendor.ID,
			MechanicID:     f.mechanic.ID,
			CustomerPhone:  "+15550001111",
			AmountTotal:    commission.NewMoney(5_000_000),
			AmountEligible: commission.NewMoney(eligible),
			IdempotencyKey: fmt.Sprintf("sale-%d", i),
		})
		require.NoError(t, err)
		require.False(t, res.Replayed)
	}

	created, err := f.service.Create(ctx, admin, settle.BatchRequest{VendorID: f.vendor.ID, Period: today()})
	require.NoError(t, err)

	assert.Equal(t, "4000000", created.Totals.Eligible.String())
	assert.Equal(t, "120000", created.Totals.Mechanic.String())
	assert.Equal(t, "80000", created.Totals.Platform.String())

	paid, err := f.service.MarkPaid(ctx, admin, created.SettlementID)
	require.NoError(t, err)
	assert.Equal(t, commission.SettlementPaid, paid.Status)
}
