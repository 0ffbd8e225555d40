// Package money holds the pure price/tax arithmetic used by the POS cart.
// All functions are total over their documented domain; range checks on
// quantity, discount and tax rate belong to the cart, not here. Amounts stay
// unrounded floats until display time.
package money

import "tiendapos/backend/internal/domain"

// LineSubtotal is the discounted pre-tax amount for one line.
func LineSubtotal(unitPrice, quantity, discountPct float64) float64 {
	return unitPrice * quantity * (1 - discountPct/100)
}

// LineTax is the tax owed on an already-discounted subtotal.
func LineTax(subtotal, taxRatePct float64) float64 {
	return subtotal * taxRatePct / 100
}

// LineTotal is subtotal plus tax.
func LineTotal(subtotal, taxRatePct float64) float64 {
	return subtotal * (1 + taxRatePct/100)
}

// Recalculate refreshes the derived fields of a line from its inputs.
func Recalculate(line *domain.CartLine) {
	line.Subtotal = LineSubtotal(line.UnitPrice, line.Quantity, line.DiscountPct)
	line.Total = LineTotal(line.Subtotal, line.TaxRatePct)
}

// CartTotals sums the line aggregates. DiscountAmount intentionally applies
// the percentage to the discounted subtotal; issued documents were computed
// this way, so parity wins over the arguably more correct pre-discount base.
func CartTotals(lines []domain.CartLine) domain.CartTotals {
	var totals domain.CartTotals
	for _, line := range lines {
		totals.Subtotal += line.Subtotal
		totals.TaxAmount += LineTax(line.Subtotal, line.TaxRatePct)
		totals.DiscountAmount += line.Subtotal * line.DiscountPct / 100
	}
	totals.Total = totals.Subtotal + totals.TaxAmount - totals.DiscountAmount
	return totals
}
