package pos

import (
	"tiendapos/backend/internal/domain"
	"tiendapos/backend/internal/money"
)

// Cart owns the ordered collection of lines for one register. All mutations
// are synchronous and perform no I/O; every rejection is surfaced through the
// notifier and leaves the cart untouched.
type Cart struct {
	lines    []domain.CartLine
	notifier Notifier
}

func NewCart(notifier Notifier) *Cart {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Cart{notifier: notifier}
}

// Lines returns a copy of the cart lines in insertion order.
func (c *Cart) Lines() []domain.CartLine {
	out := make([]domain.CartLine, len(c.lines))
	copy(out, c.lines)
	return out
}

func (c *Cart) IsEmpty() bool {
	return len(c.lines) == 0
}

// Totals recomputes the cart aggregates from the current lines.
func (c *Cart) Totals() domain.CartTotals {
	return money.CartTotals(c.lines)
}

func (c *Cart) find(productID string) int {
	for i := range c.lines {
		if c.lines[i].ProductID == productID {
			return i
		}
	}
	return -1
}

// AddProduct appends a new line or merges into an existing line of the same
// product, re-validating the summed quantity against the stock snapshot.
func (c *Cart) AddProduct(product domain.Product, quantity float64) bool {
	if quantity <= 0 || quantity > product.AvailableStock {
		c.notifier.Notify(NotifyError, "invalid quantity or insufficient stock", product.Name)
		return false
	}

	if idx := c.find(product.ID); idx >= 0 {
		return c.UpdateQuantity(product.ID, c.lines[idx].Quantity+quantity)
	}

	taxRate := product.TaxRatePct
	if taxRate <= 0 {
		taxRate = domain.StandardTaxRatePct
	}

	line := domain.CartLine{
		ProductID:      product.ID,
		SKU:            product.SKU,
		Name:           product.Name,
		Quantity:       quantity,
		UnitPrice:      product.CurrentPrice,
		DiscountPct:    0,
		TaxRatePct:     taxRate,
		AvailableStock: product.AvailableStock,
	}
	money.Recalculate(&line)

	c.lines = append(c.lines, line)
	c.notifier.Notify(NotifySuccess, "product added to cart", product.Name)
	return true
}

// UpdateQuantity sets the quantity of an existing line. Zero or negative
// removes the line; exceeding the stock snapshot rejects and leaves the line
// unchanged.
func (c *Cart) UpdateQuantity(productID string, quantity float64) bool {
	idx := c.find(productID)
	if idx < 0 {
		return false
	}

	if quantity <= 0 {
		c.RemoveLine(productID)
		return true
	}

	if quantity > c.lines[idx].AvailableStock {
		c.notifier.Notify(NotifyError, "insufficient stock", c.lines[idx].Name)
		return false
	}

	c.lines[idx].Quantity = quantity
	money.Recalculate(&c.lines[idx])
	return true
}

// UpdateDiscount sets the discount percentage of an existing line.
func (c *Cart) UpdateDiscount(productID string, discountPct float64) bool {
	idx := c.find(productID)
	if idx < 0 {
		return false
	}

	if discountPct < 0 || discountPct > 100 {
		c.notifier.Notify(NotifyError, "invalid discount", c.lines[idx].Name)
		return false
	}

	c.lines[idx].DiscountPct = discountPct
	money.Recalculate(&c.lines[idx])
	return true
}

// RemoveLine removes the line for productID; absent lines are a no-op.
func (c *Cart) RemoveLine(productID string) {
	idx := c.find(productID)
	if idx < 0 {
		return
	}
	name := c.lines[idx].Name
	c.lines = append(c.lines[:idx], c.lines[idx+1:]...)
	c.notifier.Notify(NotifyInfo, "product removed from cart", name)
}

// Clear empties the cart. Callers that need the coupled cart/tender/customer
// reset should go through Register.Reset instead.
func (c *Cart) Clear() {
	c.lines = nil
}
