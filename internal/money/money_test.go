package money

import (
	"math"
	"math/rand"
	"testing"

	"tiendapos/backend/internal/domain"
)

const eps = 1e-9

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < eps
}

func TestLineSubtotalAppliesDiscount(t *testing.T) {
	if got := LineSubtotal(10, 2, 0); !almostEqual(got, 20) {
		t.Fatalf("expected 20, got %v", got)
	}
	if got := LineSubtotal(10, 2, 50); !almostEqual(got, 10) {
		t.Fatalf("expected 10, got %v", got)
	}
	if got := LineSubtotal(10, 2, 100); !almostEqual(got, 0) {
		t.Fatalf("expected 0 at full discount, got %v", got)
	}
}

func TestLineTaxAndTotal(t *testing.T) {
	subtotal := LineSubtotal(10, 2, 0)
	if got := LineTax(subtotal, 18); !almostEqual(got, 3.6) {
		t.Fatalf("expected tax 3.6, got %v", got)
	}
	if got := LineTotal(subtotal, 18); !almostEqual(got, 23.6) {
		t.Fatalf("expected total 23.6, got %v", got)
	}
}

func TestRecalculateKeepsDerivedFieldsConsistent(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		line := domain.CartLine{
			UnitPrice:   rng.Float64() * 500,
			Quantity:    rng.Float64()*20 + 0.01,
			DiscountPct: rng.Float64() * 100,
			TaxRatePct:  rng.Float64() * 30,
		}
		Recalculate(&line)

		wantSubtotal := line.UnitPrice * line.Quantity * (1 - line.DiscountPct/100)
		wantTotal := wantSubtotal * (1 + line.TaxRatePct/100)
		if !almostEqual(line.Subtotal, wantSubtotal) {
			t.Fatalf("iteration %d: subtotal %v, want %v", i, line.Subtotal, wantSubtotal)
		}
		if !almostEqual(line.Total, wantTotal) {
			t.Fatalf("iteration %d: total %v, want %v", i, line.Total, wantTotal)
		}
	}
}

func TestCartTotalsSingleLine(t *testing.T) {
	line := domain.CartLine{UnitPrice: 10, Quantity: 2, TaxRatePct: 18}
	Recalculate(&line)

	totals := CartTotals([]domain.CartLine{line})
	if !almostEqual(totals.Subtotal, 20) {
		t.Fatalf("subtotal %v, want 20", totals.Subtotal)
	}
	if !almostEqual(totals.TaxAmount, 3.6) {
		t.Fatalf("tax %v, want 3.6", totals.TaxAmount)
	}
	if !almostEqual(totals.DiscountAmount, 0) {
		t.Fatalf("discount %v, want 0", totals.DiscountAmount)
	}
	if !almostEqual(totals.Total, 23.6) {
		t.Fatalf("total %v, want 23.6", totals.Total)
	}
}

func TestCartTotalsDiscountUsesDiscountedBase(t *testing.T) {
	// 100 * 1 at 10% discount: line subtotal 90, aggregate discount 9 (not 10).
	line := domain.CartLine{UnitPrice: 100, Quantity: 1, DiscountPct: 10, TaxRatePct: 0}
	Recalculate(&line)

	totals := CartTotals([]domain.CartLine{line})
	if !almostEqual(totals.Subtotal, 90) {
		t.Fatalf("subtotal %v, want 90", totals.Subtotal)
	}
	if !almostEqual(totals.DiscountAmount, 9) {
		t.Fatalf("discount %v, want 9", totals.DiscountAmount)
	}
	if !almostEqual(totals.Total, 81) {
		t.Fatalf("total %v, want 81", totals.Total)
	}
}

func TestCartTotalsSumsAcrossLines(t *testing.T) {
	lines := []domain.CartLine{
		{UnitPrice: 10, Quantity: 2, TaxRatePct: 18},
		{UnitPrice: 5, Quantity: 4, DiscountPct: 25, TaxRatePct: 18},
	}
	for i := range lines {
		Recalculate(&lines[i])
	}

	totals := CartTotals(lines)
	if !almostEqual(totals.Subtotal, 35) {
		t.Fatalf("subtotal %v, want 35", totals.Subtotal)
	}
	if !almostEqual(totals.TaxAmount, 6.3) {
		t.Fatalf("tax %v, want 6.3", totals.TaxAmount)
	}
	if !almostEqual(totals.DiscountAmount, 3.75) {
		t.Fatalf("discount %v, want 3.75", totals.DiscountAmount)
	}
}
