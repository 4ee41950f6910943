package model

import "time"

type Company struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Product struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	DateSalesFrom  time.Time `json:"dateSalesFrom"`
	DateSalesUntil time.Time `json:"dateSalesUntil"`
	// MaxTotalReservationsPerCheckout is nil when the product defines no checkout cap.
	MaxTotalReservationsPerCheckout *int64 `json:"maxTotalReservationsPerCheckout"`
}

// CheckoutCap returns the per-checkout cap and whether one is active.
func (p Product) CheckoutCap() (int64, bool) {
	if p.MaxTotalReservationsPerCheckout == nil || *p.MaxTotalReservationsPerCheckout < 0 {
		return 0, false
	}
	return *p.MaxTotalReservationsPerCheckout, true
}

type Variant struct {
	ID                 string `json:"id"`
	InventoryID        string `json:"inventoryId"`
	Name               string `json:"name"`
	Description        string `json:"description,omitempty"`
	PricePerItem       int64  `json:"pricePerItem"`
	CurrencyCode       string `json:"currencyCode,omitempty"`
	Availability       int64  `json:"availability"`
	MaxPerUser         int64  `json:"productVariantMaximumItemQuantityPerUser"`
	MaxPerReservation  int64  `json:"productVariantMaximumReservableQuantity"`
	MinPerReservation  int64  `json:"productVariantMinimumReservableQuantity,omitempty"`
	MembershipRequired bool   `json:"isProductVariantMembershipRequired"`
}

type Category struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	OrderingNumber int    `json:"orderingNumber"`
}

// Sale is one snapshot of a product listing. Snapshots are replaced by re-fetching, never mutated.
type Sale struct {
	Company    Company    `json:"company"`
	Product    Product    `json:"product"`
	Variants   []Variant  `json:"variants"`
	Categories []Category `json:"categories"`
}

// Purchasable reports whether the vendor has published any variants yet.
func (s Sale) Purchasable() bool {
	return len(s.Variants) > 0
}

type ReservationRequest struct {
	InventoryID string `json:"inventoryId"`
	Quantity    int64  `json:"quantity"`
}

type ReservationBatch struct {
	ToCreate []ReservationRequest `json:"toCreate"`
	ToCancel []ReservationRequest `json:"toCancel"`
}

func NewReservationBatch(reqs ...ReservationRequest) ReservationBatch {
	return ReservationBatch{
		ToCreate: append([]ReservationRequest{}, reqs...),
		ToCancel: []ReservationRequest{},
	}
}

// Total is the summed quantity of the create side.
func (b ReservationBatch) Total() int64 {
	var total int64
	for _, r := range b.ToCreate {
		total += r.Quantity
	}
	return total
}
