package pos

import "tiendapos/backend/internal/domain"

// OverpayTolerance caps cumulative tenders at 110% of the cart total. The
// extra 10% is the cash-rounding allowance carried over from the issuing
// business rules; confirm intent before widening it.
const OverpayTolerance = 1.10

// TenderList tracks the payment instruments applied toward the current cart
// total. The cart total is supplied by the caller on every mutation so the
// invariant always checks against the live amount.
type TenderList struct {
	tenders  []domain.Tender
	notifier Notifier
}

func NewTenderList(notifier Notifier) *TenderList {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &TenderList{notifier: notifier}
}

// Tenders returns a copy of the applied tenders in insertion order.
func (t *TenderList) Tenders() []domain.Tender {
	out := make([]domain.Tender, len(t.tenders))
	copy(out, t.tenders)
	return out
}

// Add appends a tender unless the amount is non-positive or the cumulative
// tendered amount would exceed the overpayment tolerance.
func (t *TenderList) Add(tender domain.Tender, cartTotal float64) bool {
	if tender.Amount <= 0 {
		t.notifier.Notify(NotifyError, "invalid payment amount", "")
		return false
	}

	if t.TotalTendered()+tender.Amount > cartTotal*OverpayTolerance {
		t.notifier.Notify(NotifyError, "payment exceeds sale total", "")
		return false
	}

	t.tenders = append(t.tenders, tender)
	t.notifier.Notify(NotifySuccess, "payment added", "")
	return true
}

// Remove drops the tender at index; out-of-range indexes are a no-op.
func (t *TenderList) Remove(index int) {
	if index < 0 || index >= len(t.tenders) {
		return
	}
	t.tenders = append(t.tenders[:index], t.tenders[index+1:]...)
	t.notifier.Notify(NotifyInfo, "payment removed", "")
}

func (t *TenderList) Clear() {
	t.tenders = nil
}

func (t *TenderList) TotalTendered() float64 {
	var sum float64
	for _, tender := range t.tenders {
		sum += tender.Amount
	}
	return sum
}

func (t *TenderList) ChangeDue(cartTotal float64) float64 {
	if change := t.TotalTendered() - cartTotal; change > 0 {
		return change
	}
	return 0
}

func (t *TenderList) AmountRemaining(cartTotal float64) float64 {
	if remaining := cartTotal - t.TotalTendered(); remaining > 0 {
		return remaining
	}
	return 0
}
