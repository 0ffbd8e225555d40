package pos

import (
	"testing"

	"tiendapos/backend/internal/domain"
)

func walkInCustomer() domain.Customer {
	return domain.Customer{
		ID:             "cust-walkin",
		DocumentType:   "DNI",
		DocumentNumber: "00000000",
		Name:           "Cliente Varios",
	}
}

func TestCanCompleteSaleRequiresAllThree(t *testing.T) {
	reg := NewRegister(&recorder{})

	if reg.CanCompleteSale() {
		t.Fatalf("empty register must not be completable")
	}

	reg.AddProduct(testProduct(), 2)
	if reg.CanCompleteSale() {
		t.Fatalf("no customer and no payment: gate must stay closed")
	}

	reg.SelectCustomer(walkInCustomer())
	if reg.CanCompleteSale() {
		t.Fatalf("unpaid cart: gate must stay closed")
	}

	reg.AddTender(domain.Tender{Type: domain.TenderCash, Amount: 25})
	if !reg.CanCompleteSale() {
		t.Fatalf("cart + customer + full payment: gate should open")
	}
	if !almostEqual(reg.ChangeDue(), 1.4) {
		t.Fatalf("change %v, want 1.4", reg.ChangeDue())
	}
	if !almostEqual(reg.AmountRemaining(), 0) {
		t.Fatalf("remaining %v, want 0", reg.AmountRemaining())
	}
}

func TestCanCompleteSalePartialPayment(t *testing.T) {
	reg := NewRegister(&recorder{})
	reg.AddProduct(testProduct(), 2)
	reg.SelectCustomer(walkInCustomer())
	reg.AddTender(domain.Tender{Type: domain.TenderCard, Amount: 10, Reference: "ref"})

	if reg.CanCompleteSale() {
		t.Fatalf("partial payment must not open the gate")
	}
	if !almostEqual(reg.AmountRemaining(), 13.6) {
		t.Fatalf("remaining %v, want 13.6", reg.AmountRemaining())
	}
}

func TestResetClearsEverythingAndIsIdempotent(t *testing.T) {
	reg := NewRegister(&recorder{})
	reg.AddProduct(testProduct(), 2)
	reg.SelectCustomer(walkInCustomer())
	reg.AddTender(domain.Tender{Type: domain.TenderCash, Amount: 25})

	reg.Reset()
	reg.Reset()

	if len(reg.Lines()) != 0 {
		t.Fatalf("cart not cleared")
	}
	if len(reg.Tenders()) != 0 {
		t.Fatalf("tenders not cleared")
	}
	if reg.Customer() != nil {
		t.Fatalf("customer not cleared")
	}
	if reg.CanCompleteSale() {
		t.Fatalf("reset register must not be completable")
	}
}

func TestHubReturnsSameRegisterPerTerminal(t *testing.T) {
	hub := NewHub(&recorder{})

	a := hub.Register("terminal-1")
	b := hub.Register("terminal-1")
	if a != b {
		t.Fatalf("expected one register per terminal")
	}

	c := hub.Register("terminal-2")
	if a == c {
		t.Fatalf("terminals must not share registers")
	}

	if hub.Register("") != hub.Register("main-terminal") {
		t.Fatalf("empty terminal id should map to the default register")
	}
}

func TestSnapshotIsConsistentCopy(t *testing.T) {
	reg := NewRegister(&recorder{})
	reg.AddProduct(testProduct(), 2)
	reg.SelectCustomer(walkInCustomer())
	reg.AddTender(domain.Tender{Type: domain.TenderCash, Amount: 25})

	snap := reg.Snapshot()
	if len(snap.Lines) != 1 || len(snap.Tenders) != 1 || snap.Customer == nil {
		t.Fatalf("snapshot incomplete: %+v", snap)
	}
	if !almostEqual(snap.Totals.Total, 23.6) {
		t.Fatalf("snapshot total %v, want 23.6", snap.Totals.Total)
	}

	// Mutating the snapshot must not leak back into the register.
	snap.Lines[0].Quantity = 999
	if !almostEqual(reg.Lines()[0].Quantity, 2) {
		t.Fatalf("snapshot mutation leaked into register state")
	}
}
