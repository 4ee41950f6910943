package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"presale_sniper/internal/config"
	"presale_sniper/internal/model"
	"presale_sniper/internal/provider/standard"
)

func startMock(t *testing.T, openIn time.Duration, checkoutCap int64) (*vendor, *standard.StandardProvider, string) {
	t.Helper()
	v := newVendor(openIn, checkoutCap)
	srv := httptest.NewServer(v.routes())
	t.Cleanup(srv.Close)
	p := standard.New(config.ProviderConfig{BaseURL: srv.URL + "/api"}, config.ProxyConfig{}, config.LimitsConfig{}, nil)
	return v, p, srv.URL
}

func TestClosedSaleHasNoVariants(t *testing.T) {
	_, p, _ := startMock(t, time.Hour, -1)
	ctx := context.Background()

	sale, err := p.Product(ctx, "sale-1")
	if err != nil {
		t.Fatalf("Product: %v", err)
	}
	if sale.Purchasable() {
		t.Errorf("closed sale lists %d variants", len(sale.Variants))
	}
	if _, ok := sale.Product.CheckoutCap(); ok {
		t.Error("negative cap flag should publish no cap")
	}

	err = p.Reserve(ctx, "tok", model.NewReservationBatch(model.ReservationRequest{InventoryID: "x", Quantity: 1}))
	var te *model.TransportError
	if !errors.As(err, &te) || te.Status != http.StatusConflict {
		t.Errorf("Reserve before open err = %v", err)
	}
}

func TestReserveDrawsFromStock(t *testing.T) {
	v, p, _ := startMock(t, 0, 4)
	ctx := context.Background()

	sale, err := p.Product(ctx, "sale-1")
	if err != nil {
		t.Fatalf("Product: %v", err)
	}
	if len(sale.Variants) != 4 {
		t.Fatalf("variants = %d", len(sale.Variants))
	}
	if c, ok := sale.Product.CheckoutCap(); !ok || c != 4 {
		t.Errorf("cap = %d, %v", c, ok)
	}

	inv := sale.Variants[0].InventoryID
	if err := p.Reserve(ctx, "tok", model.NewReservationBatch(model.ReservationRequest{InventoryID: inv, Quantity: 3})); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	v.mu.Lock()
	got := v.stock[inv]
	v.mu.Unlock()
	if got != 47 {
		t.Errorf("stock = %d, want 47", got)
	}

	over := model.NewReservationBatch(
		model.ReservationRequest{InventoryID: inv, Quantity: 3},
		model.ReservationRequest{InventoryID: sale.Variants[1].InventoryID, Quantity: 2},
	)
	var te *model.TransportError
	if err := p.Reserve(ctx, "tok", over); !errors.As(err, &te) || te.Status != http.StatusBadRequest {
		t.Errorf("over-cap Reserve err = %v", err)
	}
}

func TestReserveRequiresBearer(t *testing.T) {
	_, _, url := startMock(t, 0, -1)
	resp, err := http.Post(url+"/api/reservations", "application/json", nil)
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d", resp.StatusCode)
	}
}
