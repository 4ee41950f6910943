package provider

import (
	"context"

	"presale_sniper/internal/model"
)

// Provider is the ticket vendor API.
type Provider interface {
	Name() string

	// Product fetches a fresh snapshot of a sale.
	Product(ctx context.Context, saleID string) (model.Sale, error)
	// Reserve submits one reservation batch authenticated with token.
	Reserve(ctx context.Context, token string, batch model.ReservationBatch) error
}
