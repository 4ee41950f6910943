// Command mock serves a minimal vendor API for local runs: a product that opens
// after a delay and a reservation endpoint that draws from fixed stock.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"presale_sniper/internal/model"
)

type vendor struct {
	mu       sync.Mutex
	opensAt  time.Time
	cap      *int64
	variants []model.Variant
	stock    map[string]int64
}

func newVendor(openIn time.Duration, checkoutCap int64) *vendor {
	v := &vendor{
		opensAt: time.Now().Add(openIn),
		stock:   map[string]int64{},
	}
	if checkoutCap >= 0 {
		v.cap = &checkoutCap
	}
	for i, name := range []string{"4 hengen hytti", "2 hengen hytti", "Kansipaikka", "Inva hytti"} {
		variant := model.Variant{
			ID:                uuid.NewString(),
			InventoryID:       uuid.NewString(),
			Name:              name,
			PricePerItem:      int64(3990 + i*1000),
			CurrencyCode:      "EUR",
			Availability:      50,
			MaxPerUser:        10,
			MaxPerReservation: 10,
		}
		v.variants = append(v.variants, variant)
		v.stock[variant.InventoryID] = variant.Availability
	}
	return v
}

func (v *vendor) product(w http.ResponseWriter, r *http.Request) {
	v.mu.Lock()
	defer v.mu.Unlock()

	sale := model.Sale{
		Company: model.Company{ID: "mock", Name: "Mock Student Union"},
		Product: model.Product{
			ID:                              r.PathValue("id"),
			Name:                            "Mock cruise",
			DateSalesFrom:                   v.opensAt.UTC(),
			DateSalesUntil:                  v.opensAt.Add(24 * time.Hour).UTC(),
			MaxTotalReservationsPerCheckout: v.cap,
		},
		Variants: []model.Variant{},
	}
	if !time.Now().Before(v.opensAt) {
		for _, variant := range v.variants {
			variant.Availability = v.stock[variant.InventoryID]
			sale.Variants = append(sale.Variants, variant)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"model": sale})
}

func (v *vendor) reserve(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" || token == r.Header.Get("Authorization") {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "missing bearer token"})
		return
	}
	var batch model.ReservationBatch
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if time.Now().Before(v.opensAt) {
		writeJSON(w, http.StatusConflict, map[string]any{"error": "sale has not started"})
		return
	}
	if v.cap != nil && *v.cap > 0 && batch.Total() > *v.cap {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "checkout cap exceeded"})
		return
	}
	for _, req := range batch.ToCreate {
		left, ok := v.stock[req.InventoryID]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown inventory " + req.InventoryID})
			return
		}
		if req.Quantity <= 0 || req.Quantity > left {
			writeJSON(w, http.StatusConflict, map[string]any{"error": "not enough stock for " + req.InventoryID})
			return
		}
	}
	for _, req := range batch.ToCreate {
		v.stock[req.InventoryID] -= req.Quantity
	}
	log.Printf("reserved %d item(s) for token %s...", batch.Total(), token[:min(4, len(token))])
	writeJSON(w, http.StatusOK, map[string]any{"model": map[string]any{"reservationsCount": batch.Total()}})
}

func (v *vendor) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	mux.HandleFunc("GET /api/products/{id}", v.product)
	mux.HandleFunc("POST /api/reservations", v.reserve)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	openIn := flag.Duration("open-in", 30*time.Second, "delay until the mock sale opens")
	checkoutCap := flag.Int64("cap", -1, "per-checkout cap; negative means none")
	flag.Parse()

	v := newVendor(*openIn, *checkoutCap)
	log.Printf("mock vendor listening on %s, sale opens at %s", *addr, v.opensAt.Format(time.RFC3339))
	server := &http.Server{Addr: *addr, Handler: v.routes(), ReadHeaderTimeout: 10 * time.Second}
	log.Fatal(server.ListenAndServe())
}
