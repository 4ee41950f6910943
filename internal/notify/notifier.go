package notify

import (
	"context"
	"time"
)

// ReservationEvent describes one reservation the vendor accepted.
type ReservationEvent struct {
	At          time.Time `json:"at"`
	TaskID      string    `json:"taskId"`
	SaleID      string    `json:"saleId"`
	SaleName    string    `json:"saleName,omitempty"`
	AccountID   string    `json:"accountId"`
	AccountName string    `json:"accountName,omitempty"`
	VariantName string    `json:"variantName,omitempty"`
	InventoryID string    `json:"inventoryId"`
	Quantity    int64     `json:"quantity"`
}

type Notifier interface {
	NotifyReservation(ctx context.Context, evt ReservationEvent)
}

// Multi forwards every event to each notifier in order.
type Multi []Notifier

func (m Multi) NotifyReservation(ctx context.Context, evt ReservationEvent) {
	for _, n := range m {
		if n != nil {
			n.NotifyReservation(ctx, evt)
		}
	}
}

// Nop drops events.
type Nop struct{}

func (Nop) NotifyReservation(context.Context, ReservationEvent) {}
