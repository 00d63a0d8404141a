/*
handlers_test.go - HTTP-level tests for the commission API

Exercises the full stack: router, auth middleware, rate limiting,
handlers, services, and the SQLite store.
*/
package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gearlink/commission-engine/api"
	"github.com/gearlink/commission-engine/commission"
	"github.com/gearlink/commission-engine/ledger"
	"github.com/gearlink/commission-engine/ratelimit"
	"github.com/gearlink/commission-engine/settle"
	"github.com/gearlink/commission-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var testSecret = []byte("test-secret")

type env struct {
	router   http.Handler
	store    *sqlite.Store
	vendor   *commission.Vendor
	mechanic *commission.Mechanic
}

func newEnv(t *testing.T) *env {
	return newEnvWithLimiter(t, nil)
}

func newEnvWithLimiter(t *testing.T, limiter ratelimit.Limiter) *env {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	v := &commission.Vendor{StoreName: "AutoParts Plus"}
	require.NoError(t, store.SaveVendor(ctx, v))
	m := &commission.Mechanic{FullName: "Ray Ortiz", QRActive: true}
	require.NoError(t, store.SaveMechanic(ctx, m))

	log := zap.NewNop()
	h := api.NewHandler(
		ledger.New(store, log),
		settle.New(store, nil, log),
		store,
		log,
	)
	router := api.NewRouter(h, api.RouterConfig{
		JWTSecret:    testSecret,
		WriteLimiter: limiter,
	})

	return &env{router: router, store: store, vendor: v, mechanic: m}
}

func (e *env) token(t *testing.T, id int64, role commission.Role) string {
	tok, err := api.IssueToken(commission.Actor{ID: id, Role: role}, testSecret, time.Hour)
	require.NoError(t, err)
	return tok
}

func (e *env) do(t *testing.T, method, path, token string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

func todayWindow() string {
	d := time.Now().UTC().Format("2006-01-02")
	return fmt.Sprintf("from=%s&to=%s", d, d)
}

// =============================================================================
// AUTH
// =============================================================================

func TestAPI_RequiresBearerToken(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodGet, "/api/transactions", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/transactions", "not-a-jwt", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPI_HealthAndMetrics_Unauthenticated(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodGet, "/healthz", "", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodGet, "/metrics", "", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestAPI_CreateTransaction(t *testing.T) {
	// GIVEN: An authenticated vendor
	// WHEN: Posting a sale referred by a mechanic code
	// THEN: 201 with the commission breakdown frozen in the response

	e := newEnv(t)
	token := e.token(t, int64(e.vendor.ID), commission.RoleVendor)

	rec := e.do(t, http.MethodPost, "/api/transactions", token, api.CreateTransactionRequest{
		MechanicCode:   e.mechanic.Code,
		CustomerPhone:  "+15550001111",
		AmountTotal:    "5000000",
		AmountEligible: "4000000",
	}, nil)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	dto := decode[api.TransactionDTO](t, rec)
	assert.Equal(t, "PENDING", dto.Status)
	require.NotNil(t, dto.Commission)
	assert.Equal(t, "120000", dto.Commission.MechanicAmount)
	assert.Equal(t, "80000", dto.Commission.PlatformAmount)
}

func TestAPI_CreateTransaction_IdempotencyHeader(t *testing.T) {
	// GIVEN: A recorded sale with an x-idempotency-key header
	// WHEN: The same request is replayed
	// THEN: 200 (not 201) with the original transaction and replayed=true

	e := newEnv(t)
	token := e.token(t, int64(e.vendor.ID), commission.RoleVendor)
	body := api.CreateTransactionRequest{
		MechanicID:     int64(e.mechanic.ID),
		CustomerPhone:  "+15550001111",
		AmountTotal:    "2000",
		AmountEligible: "1000",
	}
	headers := map[string]string{"x-idempotency-key": "retry-1"}

	first := e.do(t, http.MethodPost, "/api/transactions", token, body, headers)
	require.Equal(t, http.StatusCreated, first.Code)
	firstDTO := decode[api.TransactionDTO](t, first)

	second := e.do(t, http.MethodPost, "/api/transactions", token, body, headers)
	require.Equal(t, http.StatusOK, second.Code)
	secondDTO := decode[api.TransactionDTO](t, second)

	assert.Equal(t, firstDTO.ID, secondDTO.ID)
	assert.True(t, secondDTO.Replayed)
}

func TestAPI_CreateTransaction_MechanicRole_Forbidden(t *testing.T) {
	e := newEnv(t)
	token := e.token(t, int64(e.mechanic.ID), commission.RoleMechanic)

	rec := e.do(t, http.MethodPost, "/api/transactions", token, api.CreateTransactionRequest{
		MechanicID:     int64(e.mechanic.ID),
		CustomerPhone:  "+15550001111",
		AmountTotal:    "2000",
		AmountEligible: "1000",
	}, nil)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAPI_CreateTransaction_ValidationError_400(t *testing.T) {
	e := newEnv(t)
	token := e.token(t, int64(e.vendor.ID), commission.RoleVendor)

	rec := e.do(t, http.MethodPost, "/api/transactions", token, api.CreateTransactionRequest{
		MechanicID:     int64(e.mechanic.ID),
		CustomerPhone:  "+15550001111",
		AmountTotal:    "1000",
		AmountEligible: "2000",
	}, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// SETTLEMENT FLOW
// =============================================================================

func TestAPI_SettlementLifecycle(t *testing.T) {
	// GIVEN: Two recorded sales
	// WHEN: Admin previews, creates, inspects and pays a settlement
	// THEN: Each step returns the right status and the figures line up

	e := newEnv(t)
	vendorToken := e.token(t, int64(e.vendor.ID), commission.RoleVendor)
	adminToken := e.token(t, 1, commission.RoleAdmin)

	for _, eligible := range []string{"1500000", "2500000"} {
		rec := e.do(t, http.MethodPost, "/api/transactions", vendorToken, api.CreateTransactionRequest{
			MechanicID:     int64(e.mechanic.ID),
			CustomerPhone:  "+15550001111",
			AmountTotal:    "9000000",
			AmountEligible: eligible,
		}, nil)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	day := time.Now().UTC().Format("2006-01-02")

	// Preview
	rec := e.do(t, http.MethodGet,
		fmt.Sprintf("/api/settlements/preview?vendorId=%d&%s", e.vendor.ID, todayWindow()),
		adminToken, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	preview := decode[api.PreviewDTO](t, rec)
	assert.Equal(t, 2, preview.Count)
	assert.Equal(t, "4000000", preview.Eligible)

	// Create
	rec = e.do(t, http.MethodPost, "/api/settlements", adminToken, api.CreateSettlementRequest{
		VendorID: int64(e.vendor.ID),
		From:     day,
		To:       day,
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[api.SettlementResultDTO](t, rec)
	assert.True(t, created.Created)
	assert.Equal(t, 2, created.Count)
	assert.Equal(t, "120000", created.Mechanic)
	assert.Equal(t, "80000", created.Platform)

	// Detail with items
	rec = e.do(t, http.MethodGet, fmt.Sprintf("/api/settlements/%d", created.SettlementID), adminToken, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decode[api.SettlementDTO](t, rec)
	assert.Equal(t, "OPEN", detail.Status)
	assert.Len(t, detail.Items, 2)

	// Mark paid
	rec = e.do(t, http.MethodPost, fmt.Sprintf("/api/settlements/%d/mark-paid", created.SettlementID), adminToken, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	paid := decode[api.SettlementDTO](t, rec)
	assert.Equal(t, "PAID", paid.Status)
	assert.NotEmpty(t, paid.PaidAt)

	// Second mark-paid conflicts
	rec = e.do(t, http.MethodPost, fmt.Sprintf("/api/settlements/%d/mark-paid", created.SettlementID), adminToken, nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAPI_CreateSettlement_EmptyWindow_200(t *testing.T) {
	e := newEnv(t)
	adminToken := e.token(t, 1, commission.RoleAdmin)
	day := time.Now().UTC().Format("2006-01-02")

	rec := e.do(t, http.MethodPost, "/api/settlements", adminToken, api.CreateSettlementRequest{
		VendorID: int64(e.vendor.ID),
		From:     day,
		To:       day,
	}, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	dto := decode[api.SettlementResultDTO](t, rec)
	assert.False(t, dto.Created)
	assert.Zero(t, dto.Count)
}

func TestAPI_CreateSettlement_VendorRole_Forbidden(t *testing.T) {
	e := newEnv(t)
	token := e.token(t, int64(e.vendor.ID), commission.RoleVendor)
	day := time.Now().UTC().Format("2006-01-02")

	rec := e.do(t, http.MethodPost, "/api/settlements", token, api.CreateSettlementRequest{
		VendorID: int64(e.vendor.ID),
		From:     day,
		To:       day,
	}, nil)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

// =============================================================================
// ORDERS
// =============================================================================

func TestAPI_OrderFlow(t *testing.T) {
	// GIVEN: A mechanic creating an order
	// WHEN: The vendor consumes it while recording the sale
	// THEN: The order shows CONSUMED on subsequent lookups

	e := newEnv(t)
	mechToken := e.token(t, int64(e.mechanic.ID), commission.RoleMechanic)
	vendorToken := e.token(t, int64(e.vendor.ID), commission.RoleVendor)

	rec := e.do(t, http.MethodPost, "/api/orders", mechToken, api.CreateOrderRequest{
		CustomerPhone: "+15550002222",
		Items:         []api.OrderItemInput{{Title: "Brake pads", Quantity: 2}},
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	order := decode[api.OrderDTO](t, rec)
	assert.Len(t, order.Code, 12)
	assert.Equal(t, "PENDING", order.Status)

	rec = e.do(t, http.MethodPost, "/api/transactions", vendorToken, api.CreateTransactionRequest{
		MechanicID:     int64(e.mechanic.ID),
		CustomerPhone:  "+15550002222",
		AmountTotal:    "60000",
		AmountEligible: "50000",
		OrderCode:      order.Code,
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = e.do(t, http.MethodGet, "/api/orders/"+order.Code, mechToken, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[api.OrderDTO](t, rec)
	assert.Equal(t, "CONSUMED", got.Status)
	assert.NotNil(t, got.ConsumedByTx)
}

func TestAPI_CreateOrder_VendorRole_Forbidden(t *testing.T) {
	e := newEnv(t)
	token := e.token(t, int64(e.vendor.ID), commission.RoleVendor)

	rec := e.do(t, http.MethodPost, "/api/orders", token, api.CreateOrderRequest{
		CustomerPhone: "+15550002222",
		Items:         []api.OrderItemInput{{Title: "Oil filter"}},
	}, nil)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

// =============================================================================
// STATS
// =============================================================================

func TestAPI_VendorStats(t *testing.T) {
	e := newEnv(t)
	vendorToken := e.token(t, int64(e.vendor.ID), commission.RoleVendor)

	rec := e.do(t, http.MethodPost, "/api/transactions", vendorToken, api.CreateTransactionRequest{
		MechanicID:     int64(e.mechanic.ID),
		CustomerPhone:  "+15550001111",
		AmountTotal:    "2000000",
		AmountEligible: "1000000",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = e.do(t, http.MethodGet, fmt.Sprintf("/api/vendors/%d/stats", e.vendor.ID), vendorToken, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[api.StatsDTO](t, rec)
	assert.Equal(t, 1, stats.TransactionCount)
	assert.Equal(t, "30000", stats.MechanicEarned)
	assert.Equal(t, "20000", stats.PlatformEarned)

	// A vendor cannot read a different vendor's stats.
	rec = e.do(t, http.MethodGet, fmt.Sprintf("/api/vendors/%d/stats", e.vendor.ID+1), vendorToken, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// RATE LIMITING
// =============================================================================

func TestAPI_WriteRateLimit(t *testing.T) {
	// GIVEN: A write budget of 2 per minute
	// WHEN: A vendor posts three sales
	// THEN: The third is rejected with 429 and a Retry-After hint;
	//       reads remain unaffected

	e := newEnvWithLimiter(t, ratelimit.NewFixedWindow(2, time.Minute))
	token := e.token(t, int64(e.vendor.ID), commission.RoleVendor)
	body := api.CreateTransactionRequest{
		MechanicID:     int64(e.mechanic.ID),
		CustomerPhone:  "+15550001111",
		AmountTotal:    "2000",
		AmountEligible: "1000",
	}

	for i := 0; i < 2; i++ {
		rec := e.do(t, http.MethodPost, "/api/transactions", token, body, nil)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := e.do(t, http.MethodPost, "/api/transactions", token, body, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	rec = e.do(t, http.MethodGet, "/api/transactions", token, nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code, "reads are not write-limited")
}
