package strategy

import (
	"fmt"

	"presale_sniper/internal/model"
)

type QuantityKind int

const (
	SingleUnitKind QuantityKind = iota
	FixedCountKind
	AllAvailableKind
)

// Quantity computes how many units to request for a variant.
type Quantity struct {
	Kind  QuantityKind
	Count int64
}

func SingleUnit() Quantity { return Quantity{Kind: SingleUnitKind} }

// FixedCount requests exactly n units. The vendor enforces the caps.
func FixedCount(n int64) Quantity { return Quantity{Kind: FixedCountKind, Count: n} }

func AllAvailable() Quantity { return Quantity{Kind: AllAvailableKind} }

func (q Quantity) For(v model.Variant) int64 {
	switch q.Kind {
	case SingleUnitKind:
		return 1
	case FixedCountKind:
		return q.Count
	case AllAvailableKind:
		return min(v.Availability, v.MaxPerUser, v.MaxPerReservation)
	default:
		panic(fmt.Sprintf("strategy: unknown quantity kind %d", q.Kind))
	}
}

func (q Quantity) String() string {
	switch q.Kind {
	case SingleUnitKind:
		return "single"
	case FixedCountKind:
		return fmt.Sprintf("count(%d)", q.Count)
	case AllAvailableKind:
		return "all"
	default:
		return "unknown"
	}
}
