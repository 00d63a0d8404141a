/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types
  decouple the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

CONVENTIONS:
  All monetary fields travel as decimal strings (see commission.Money's
  JSON codec). Date window params use YYYY-MM-DD; timestamps in
  responses use RFC3339.

VALIDATION:
  Validation is done in handlers and services, not in DTOs. DTOs are
  pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/gearlink/commission-engine/commission"
)

// =============================================================================
// REQUESTS
// =============================================================================

// CreateTransactionRequest records one sale. Exactly one of mechanicId
// or mechanicCode identifies the referrer. The idempotency key comes
// from the x-idempotency-key header, not the body.
type CreateTransactionRequest struct {
	MechanicID     int64  `json:"mechanicId,omitempty"`
	MechanicCode   string `json:"mechanicCode,omitempty"`
	CustomerPhone  string `json:"customerPhone"`
	AmountTotal    string `json:"amountTotal"`
	AmountEligible string `json:"amountEligible"`
	Note           string `json:"note,omitempty"`
	OrderCode      string `json:"orderCode,omitempty"`
}

// CreateSettlementRequest selects the population of one batch.
type CreateSettlementRequest struct {
	VendorID   int64  `json:"vendorId"`
	MechanicID *int64 `json:"mechanicId,omitempty"`
	From       string `json:"from"` // YYYY-MM-DD
	To         string `json:"to"`   // YYYY-MM-DD
}

// CreateOrderRequest creates a mechanic's order.
type CreateOrderRequest struct {
	CustomerPhone string           `json:"customerPhone"`
	Note          string           `json:"note,omitempty"`
	Items         []OrderItemInput `json:"items"`
}

type OrderItemInput struct {
	Title    string `json:"title"`
	Quantity int    `json:"quantity,omitempty"`
	Note     string `json:"note,omitempty"`
}

// CreateVendorRequest registers a vendor.
type CreateVendorRequest struct {
	StoreName string `json:"storeName"`
	City      string `json:"city,omitempty"`
}

// CreateMechanicRequest registers a mechanic; the referral code is
// generated server-side.
type CreateMechanicRequest struct {
	FullName string `json:"fullName"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type TransactionDTO struct {
	ID             int64          `json:"id"`
	VendorID       int64          `json:"vendorId"`
	MechanicID     int64          `json:"mechanicId"`
	CustomerPhone  string         `json:"customerPhone"`
	AmountTotal    string         `json:"amountTotal"`
	AmountEligible string         `json:"amountEligible"`
	Note           string         `json:"note,omitempty"`
	Status         string         `json:"status"`
	CreatedAt      string         `json:"createdAt"`
	Commission     *CommissionDTO `json:"commission,omitempty"`
	Replayed       bool           `json:"replayed,omitempty"`
}

type CommissionDTO struct {
	RateMechanic   string `json:"rateMechanic"`
	RatePlatform   string `json:"ratePlatform"`
	MechanicAmount string `json:"mechanicAmount"`
	PlatformAmount string `json:"platformAmount"`
}

type SettlementDTO struct {
	ID                  int64               `json:"id"`
	VendorID            int64               `json:"vendorId"`
	PeriodFrom          string              `json:"periodFrom"`
	PeriodTo            string              `json:"periodTo"`
	TotalAmountEligible string              `json:"totalAmountEligible"`
	TotalMechanicAmount string              `json:"totalMechanicAmount"`
	TotalPlatformAmount string              `json:"totalPlatformAmount"`
	Status              string              `json:"status"`
	CreatedAt           string              `json:"createdAt"`
	PaidAt              string              `json:"paidAt,omitempty"`
	Items               []SettlementItemDTO `json:"items,omitempty"`
}

type SettlementItemDTO struct {
	TransactionID  int64  `json:"transactionId"`
	MechanicAmount string `json:"mechanicAmount"`
	PlatformAmount string `json:"platformAmount"`
}

// SettlementResultDTO is the response to a batch attempt. created=false
// with count 0 is the empty-window success shape.
type SettlementResultDTO struct {
	Created      bool   `json:"created"`
	SettlementID int64  `json:"settlementId,omitempty"`
	Count        int    `json:"count"`
	Eligible     string `json:"totalAmountEligible,omitempty"`
	Mechanic     string `json:"totalMechanicAmount,omitempty"`
	Platform     string `json:"totalPlatformAmount,omitempty"`
}

type PreviewDTO struct {
	Count    int              `json:"count"`
	Eligible string           `json:"totalAmountEligible"`
	Mechanic string           `json:"totalMechanicAmount"`
	Platform string           `json:"totalPlatformAmount"`
	Items    []TransactionDTO `json:"items"`
}

type OrderDTO struct {
	ID            int64          `json:"id"`
	Code          string         `json:"code"`
	MechanicID    int64          `json:"mechanicId"`
	CustomerPhone string         `json:"customerPhone"`
	Note          string         `json:"note,omitempty"`
	Status        string         `json:"status"`
	ConsumedByTx  *int64         `json:"consumedByTx,omitempty"`
	ConsumedAt    string         `json:"consumedAt,omitempty"`
	CreatedAt     string         `json:"createdAt"`
	Items         []OrderItemDTO `json:"items"`
}

type OrderItemDTO struct {
	Title    string `json:"title"`
	Quantity int    `json:"quantity"`
	Note     string `json:"note,omitempty"`
}

type VendorDTO struct {
	ID        int64  `json:"id"`
	StoreName string `json:"storeName"`
	City      string `json:"city,omitempty"`
	Status    string `json:"status"`
	CreatedAt string `json:"createdAt"`
}

type MechanicDTO struct {
	ID        int64  `json:"id"`
	FullName  string `json:"fullName"`
	Code      string `json:"code"`
	QRActive  bool   `json:"qrActive"`
	CreatedAt string `json:"createdAt"`
}

type StatsDTO struct {
	TransactionCount int    `json:"transactionCount"`
	PendingCount     int    `json:"pendingCount"`
	SettledCount     int    `json:"settledCount"`
	TotalEligible    string `json:"totalEligible"`
	MechanicEarned   string `json:"mechanicEarned"`
	PlatformEarned   string `json:"platformEarned"`
}

// ErrorDTO is the uniform error envelope.
type ErrorDTO struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// MAPPERS
// =============================================================================

func toTransactionDTO(tx *commission.Transaction, replayed bool) TransactionDTO {
	dto := TransactionDTO{
		ID:             int64(tx.ID),
		VendorID:       int64(tx.VendorID),
		MechanicID:     int64(tx.MechanicID),
		CustomerPhone:  tx.CustomerPhone,
		AmountTotal:    tx.AmountTotal.String(),
		AmountEligible: tx.AmountEligible.String(),
		Note:           tx.Note,
		Status:         string(tx.Status),
		CreatedAt:      tx.CreatedAt.Format(time.RFC3339),
		Replayed:       replayed,
	}
	if tx.Commission != nil {
		dto.Commission = &CommissionDTO{
			RateMechanic:   tx.Commission.RateMechanic.String(),
			RatePlatform:   tx.Commission.RatePlatform.String(),
			MechanicAmount: tx.Commission.MechanicAmount.String(),
			PlatformAmount: tx.Commission.PlatformAmount.String(),
		}
	}
	return dto
}

func toSettlementDTO(st *commission.Settlement, items []commission.SettlementItem) SettlementDTO {
	dto := SettlementDTO{
		ID:                  int64(st.ID),
		VendorID:            int64(st.VendorID),
		PeriodFrom:          st.Period.From.Format("2006-01-02"),
		PeriodTo:            st.Period.To.Format("2006-01-02"),
		TotalAmountEligible: st.TotalAmountEligible.String(),
		TotalMechanicAmount: st.TotalMechanicAmount.String(),
		TotalPlatformAmount: st.TotalPlatformAmount.String(),
		Status:              string(st.Status),
		CreatedAt:           st.CreatedAt.Format(time.RFC3339),
	}
	if st.PaidAt != nil {
		dto.PaidAt = st.PaidAt.Format(time.RFC3339)
	}
	for _, it := range items {
		dto.Items = append(dto.Items, SettlementItemDTO{
			TransactionID:  int64(it.TransactionID),
			MechanicAmount: it.MechanicAmount.String(),
			PlatformAmount: it.PlatformAmount.String(),
		})
	}
	return dto
}

func toOrderDTO(o *commission.Order) OrderDTO {
	dto := OrderDTO{
		ID:            int64(o.ID),
		Code:          o.Code,
		MechanicID:    int64(o.MechanicID),
		CustomerPhone: o.CustomerPhone,
		Note:          o.Note,
		Status:        string(o.Status),
		CreatedAt:     o.CreatedAt.Format(time.RFC3339),
		Items:         []OrderItemDTO{},
	}
	if o.ConsumedByTx != nil {
		id := int64(*o.ConsumedByTx)
		dto.ConsumedByTx = &id
	}
	if o.ConsumedAt != nil {
		dto.ConsumedAt = o.ConsumedAt.Format(time.RFC3339)
	}
	for _, it := range o.Items {
		dto.Items = append(dto.Items, OrderItemDTO{Title: it.Title, Quantity: it.Quantity, Note: it.Note})
	}
	return dto
}

func toVendorDTO(v commission.Vendor) VendorDTO {
	return VendorDTO{
		ID:        int64(v.ID),
		StoreName: v.StoreName,
		City:      v.City,
		Status:    string(v.Status),
		CreatedAt: v.CreatedAt.Format(time.RFC3339),
	}
}

func toMechanicDTO(m commission.Mechanic) MechanicDTO {
	return MechanicDTO{
		ID:        int64(m.ID),
		FullName:  m.FullName,
		Code:      m.Code,
		QRActive:  m.QRActive,
		CreatedAt: m.CreatedAt.Format(time.RFC3339),
	}
}

func toStatsDTO(t *commission.PartyTotals) StatsDTO {
	return StatsDTO{
		TransactionCount: t.TransactionCount,
		PendingCount:     t.PendingCount,
		SettledCount:     t.SettledCount,
		TotalEligible:    t.TotalEligible.String(),
		MechanicEarned:   t.MechanicEarned.String(),
		PlatformEarned:   t.PlatformEarned.String(),
	}
}
