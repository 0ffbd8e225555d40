package pos

import (
	"sync"

	"tiendapos/backend/internal/domain"
)

// Register is the single-screen state unit of one POS terminal: the cart, the
// tenders applied toward it, and the selected customer. The three are coupled
// on purpose — Reset clears them together so a partially cleared register can
// never occur.
type Register struct {
	mu       sync.Mutex
	cart     *Cart
	tenders  *TenderList
	customer *domain.Customer
	notifier Notifier
}

func NewRegister(notifier Notifier) *Register {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Register{
		cart:     NewCart(notifier),
		tenders:  NewTenderList(notifier),
		notifier: notifier,
	}
}

func (r *Register) AddProduct(product domain.Product, quantity float64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cart.AddProduct(product, quantity)
}

func (r *Register) UpdateQuantity(productID string, quantity float64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cart.UpdateQuantity(productID, quantity)
}

func (r *Register) UpdateDiscount(productID string, discountPct float64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cart.UpdateDiscount(productID, discountPct)
}

func (r *Register) RemoveLine(productID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cart.RemoveLine(productID)
}

func (r *Register) AddTender(tender domain.Tender) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tenders.Add(tender, r.cart.Totals().Total)
}

func (r *Register) RemoveTender(index int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tenders.Remove(index)
}

func (r *Register) SelectCustomer(customer domain.Customer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.customer = &customer
}

func (r *Register) Customer() *domain.Customer {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.customer == nil {
		return nil
	}
	copied := *r.customer
	return &copied
}

func (r *Register) Lines() []domain.CartLine {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cart.Lines()
}

func (r *Register) Tenders() []domain.Tender {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tenders.Tenders()
}

func (r *Register) Totals() domain.CartTotals {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cart.Totals()
}

func (r *Register) TotalTendered() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tenders.TotalTendered()
}

func (r *Register) ChangeDue() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tenders.ChangeDue(r.cart.Totals().Total)
}

func (r *Register) AmountRemaining() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tenders.AmountRemaining(r.cart.Totals().Total)
}

// CanCompleteSale is the derived completion gate: non-empty cart, a selected
// customer, and tenders covering the cart total. Advisory only — the backend
// procedure re-validates independently and is the final authority.
func (r *Register) CanCompleteSale() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.cart.IsEmpty() &&
		r.customer != nil &&
		r.tenders.TotalTendered() >= r.cart.Totals().Total
}

// Reset clears cart, tenders and customer atomically. Idempotent.
func (r *Register) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cart.Clear()
	r.tenders.Clear()
	r.customer = nil
}

// Snapshot returns a consistent view of the register for settlement: lines,
// tenders, totals and customer captured under one lock acquisition.
func (r *Register) Snapshot() RegisterSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := RegisterSnapshot{
		Lines:         r.cart.Lines(),
		Tenders:       r.tenders.Tenders(),
		Totals:        r.cart.Totals(),
		TotalTendered: r.tenders.TotalTendered(),
	}
	if r.customer != nil {
		copied := *r.customer
		snap.Customer = &copied
	}
	return snap
}

type RegisterSnapshot struct {
	Lines         []domain.CartLine
	Tenders       []domain.Tender
	Totals        domain.CartTotals
	TotalTendered float64
	Customer      *domain.Customer
}

// Hub hands out one register per terminal, creating them on first use.
type Hub struct {
	mu        sync.Mutex
	registers map[string]*Register
	notifier  Notifier
}

func NewHub(notifier Notifier) *Hub {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Hub{
		registers: make(map[string]*Register),
		notifier:  notifier,
	}
}

func (h *Hub) Register(terminalID string) *Register {
	if terminalID == "" {
		terminalID = "main-terminal"
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	reg, ok := h.registers[terminalID]
	if !ok {
		reg = NewRegister(h.notifier)
		h.registers[terminalID] = reg
	}
	return reg
}
