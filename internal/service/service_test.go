package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"tiendapos/backend/internal/backend"
	"tiendapos/backend/internal/domain"
	"tiendapos/backend/internal/pos"
)

type quietNotifier struct{}

func (quietNotifier) Notify(_ string, _ string, _ string) {}

type fakeGateway struct {
	mu sync.Mutex

	openSession  *domain.Session
	openErr      error
	validation   domain.StockValidation
	validateErr  error
	saleResult   domain.SaleResult
	saleErr      error
	saleRequests []domain.SaleRequest
	expectedCash float64
	expectedErr  error
	closed       *domain.Session
	sessions     []domain.Session
	stats        domain.SessionStats
	statsCalls   int
	users        []domain.UserAccount
	company      domain.ReceiptCompany
}

func (f *fakeGateway) SearchProducts(_ context.Context, _ string, _ string, _ int) ([]domain.Product, error) {
	return nil, nil
}

func (f *fakeGateway) SearchCustomers(_ context.Context, _ string, _ int) ([]domain.Customer, error) {
	return nil, nil
}

func (f *fakeGateway) CreateCustomer(_ context.Context, _ domain.CustomerCreateRequest) (*domain.Customer, error) {
	return nil, backend.ErrInvalidInput
}

func (f *fakeGateway) DefaultCustomer(_ context.Context) (*domain.Customer, error) {
	return &domain.Customer{ID: "cust-walkin", DocumentType: "DNI", DocumentNumber: "00000000", Name: "Cliente Varios"}, nil
}

func (f *fakeGateway) ValidateCartStock(_ context.Context, _ string, _ []domain.StockLine) (domain.StockValidation, error) {
	if f.validateErr != nil {
		return domain.StockValidation{}, f.validateErr
	}
	return f.validation, nil
}

func (f *fakeGateway) ProcessSale(_ context.Context, req domain.SaleRequest) (domain.SaleResult, error) {
	f.mu.Lock()
	f.saleRequests = append(f.saleRequests, req)
	f.mu.Unlock()
	if f.saleErr != nil {
		return domain.SaleResult{}, f.saleErr
	}
	return f.saleResult, nil
}

func (f *fakeGateway) OpenSession(_ context.Context, session domain.Session) (*domain.Session, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	session.ID = "session-1"
	session.Status = domain.SessionStatusOpen
	f.openSession = &session
	return &session, nil
}

func (f *fakeGateway) GetOpenSession(_ context.Context, _ string, _ string) (*domain.Session, error) {
	if f.openSession == nil {
		return nil, backend.ErrNotFound
	}
	copied := *f.openSession
	return &copied, nil
}

func (f *fakeGateway) CloseSession(_ context.Context, session domain.Session) (*domain.Session, error) {
	if f.openSession == nil || f.openSession.ID != session.ID {
		return nil, backend.ErrNotFound
	}
	closed := *f.openSession
	closed.Status = domain.SessionStatusClosed
	closed.ClosedAt = session.ClosedAt
	closed.ClosingAmount = session.ClosingAmount
	closed.ExpectedAmount = session.ExpectedAmount
	closed.Difference = session.Difference
	f.closed = &closed
	f.openSession = nil
	return &closed, nil
}

func (f *fakeGateway) ListTodaySessions(_ context.Context) ([]domain.Session, error) {
	return f.sessions, nil
}

func (f *fakeGateway) SessionStats(_ context.Context, sessionID string) (domain.SessionStats, error) {
	f.mu.Lock()
	f.statsCalls++
	f.mu.Unlock()
	stats := f.stats
	stats.SessionID = sessionID
	return stats, nil
}

func (f *fakeGateway) SessionExpectedCash(_ context.Context, _ string) (float64, error) {
	if f.expectedErr != nil {
		return 0, f.expectedErr
	}
	return f.expectedCash, nil
}

func (f *fakeGateway) CompanyInfo(_ context.Context) (domain.ReceiptCompany, error) {
	return f.company, nil
}

func (f *fakeGateway) CreateUser(_ context.Context, user domain.UserAccount) error {
	f.users = append(f.users, user)
	return nil
}

func (f *fakeGateway) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	return f.users, nil
}

func (f *fakeGateway) UpdateUserPassword(_ context.Context, _ string, _ string) error {
	return nil
}

type fakeStats struct {
	mu          sync.Mutex
	store       map[string]*domain.SessionStats
	sets        int
	invalidated []string
}

func newFakeStats() *fakeStats {
	return &fakeStats{store: map[string]*domain.SessionStats{}}
}

func (f *fakeStats) Get(_ context.Context, sessionID string) (*domain.SessionStats, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats, ok := f.store[sessionID]
	return stats, ok, nil
}

func (f *fakeStats) Set(_ context.Context, sessionID string, value *domain.SessionStats, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.store[sessionID] = value
	f.sets++
	return nil
}

func (f *fakeStats) Invalidate(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.store, sessionID)
	f.invalidated = append(f.invalidated, sessionID)
	return nil
}

func newTestService(gw *fakeGateway) (*Service, *fakeStats) {
	stats := newFakeStats()
	svc := New(pos.NewHub(quietNotifier{}), gw, stats, quietNotifier{}, "wh-1", 30*time.Second)
	return svc, stats
}

func cashierCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "cashier", Role: "cashier"})
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
}

func testProduct() domain.Product {
	return domain.Product{
		ID:             "prod-abc",
		SKU:            "ABC",
		Name:           "Producto ABC",
		CurrentPrice:   10,
		AvailableStock: 5,
		TaxRatePct:     18,
	}
}

func sufficientValidation() domain.StockValidation {
	return domain.StockValidation{Items: []domain.StockValidationItem{
		{ProductID: "prod-abc", ProductName: "Producto ABC", IsSufficient: true},
	}}
}

func loadRegister(t *testing.T, svc *Service) {
	t.Helper()
	if !svc.AddToCart("t1", testProduct(), 2) {
		t.Fatalf("failed to add product to cart")
	}
	svc.SelectCustomer("t1", domain.Customer{ID: "cust-1", DocumentType: "DNI", DocumentNumber: "12345678", Name: "Ana"})
	if !svc.AddTender("t1", domain.Tender{Type: domain.TenderCash, Amount: 25}) {
		t.Fatalf("failed to tender cash")
	}
}

func TestCompleteSaleHappyPath(t *testing.T) {
	gw := &fakeGateway{
		openSession: &domain.Session{ID: "session-1", UserID: "cashier", WarehouseID: "wh-1", Status: domain.SessionStatusOpen, OpeningAmount: 100},
		validation:  sufficientValidation(),
		saleResult:  domain.SaleResult{Success: true, SalesDocID: "sale-9", DocumentNumber: "B001-00000042"},
	}
	svc, stats := newTestService(gw)
	loadRegister(t, svc)

	sale, err := svc.CompleteSale(cashierCtx(), "t1", "")
	if err != nil {
		t.Fatalf("CompleteSale: %v", err)
	}

	if sale.ID != "sale-9" || sale.Series != "B001" || sale.Number != "00000042" {
		t.Fatalf("unexpected sale identity: %+v", sale)
	}
	if math.Abs(sale.Total-23.6) > 1e-9 || math.Abs(sale.TaxAmount-3.6) > 1e-9 {
		t.Fatalf("unexpected sale totals: total=%v tax=%v", sale.Total, sale.TaxAmount)
	}
	if sale.Status != domain.SaleStatusCompleted {
		t.Fatalf("sale status %q", sale.Status)
	}

	if len(gw.saleRequests) != 1 {
		t.Fatalf("expected one sale request, got %d", len(gw.saleRequests))
	}
	req := gw.saleRequests[0]
	if req.SessionID != "session-1" || req.CustomerID != "cust-1" {
		t.Fatalf("unexpected sale request: %+v", req)
	}
	if len(req.Items) != 1 || req.Items[0].Quantity != 2 || req.Items[0].UnitPrice != 10 {
		t.Fatalf("unexpected sale items: %+v", req.Items)
	}
	if len(req.Payments) != 1 || req.Payments[0].Amount != 25 {
		t.Fatalf("unexpected sale payments: %+v", req.Payments)
	}

	snap := svc.RegisterState("t1")
	if len(snap.Lines) != 0 || len(snap.Tenders) != 0 || snap.Customer != nil {
		t.Fatalf("register must be reset after a settled sale: %+v", snap)
	}

	if len(stats.invalidated) != 1 || stats.invalidated[0] != "session-1" {
		t.Fatalf("stats cache not invalidated: %v", stats.invalidated)
	}
}

func TestCompleteSaleRequiresOpenSession(t *testing.T) {
	gw := &fakeGateway{validation: sufficientValidation()}
	svc, _ := newTestService(gw)
	loadRegister(t, svc)

	_, err := svc.CompleteSale(cashierCtx(), "t1", "")
	if !errors.Is(err, ErrNoOpenSession) {
		t.Fatalf("expected ErrNoOpenSession, got %v", err)
	}
}

func TestCompleteSaleGateClosed(t *testing.T) {
	gw := &fakeGateway{
		openSession: &domain.Session{ID: "session-1", Status: domain.SessionStatusOpen},
		validation:  sufficientValidation(),
	}
	svc, _ := newTestService(gw)
	svc.AddToCart("t1", testProduct(), 2)
	// No customer and no payment.

	_, err := svc.CompleteSale(cashierCtx(), "t1", "")
	if !errors.Is(err, ErrSaleNotReady) {
		t.Fatalf("expected ErrSaleNotReady, got %v", err)
	}
	if len(gw.saleRequests) != 0 {
		t.Fatalf("no sale request may be sent when the gate is closed")
	}
}

func TestCompleteSaleStockShortBlocksAndPreservesRegister(t *testing.T) {
	gw := &fakeGateway{
		openSession: &domain.Session{ID: "session-1", Status: domain.SessionStatusOpen},
		validation: domain.StockValidation{
			HasStockErrors: true,
			Items: []domain.StockValidationItem{
				{ProductID: "prod-abc", ProductName: "Producto ABC", IsSufficient: false},
			},
		},
	}
	svc, _ := newTestService(gw)
	loadRegister(t, svc)

	_, err := svc.CompleteSale(cashierCtx(), "t1", "")
	if !errors.Is(err, backend.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if len(gw.saleRequests) != 0 {
		t.Fatalf("sale must not be submitted on a failed stock check")
	}

	snap := svc.RegisterState("t1")
	if len(snap.Lines) != 1 || len(snap.Tenders) != 1 || snap.Customer == nil {
		t.Fatalf("register state must survive a blocked sale: %+v", snap)
	}
}

func TestCompleteSaleValidationOutageBlocksConservatively(t *testing.T) {
	gw := &fakeGateway{
		openSession: &domain.Session{ID: "session-1", Status: domain.SessionStatusOpen},
		validateErr: fmt.Errorf("connection refused"),
	}
	svc, _ := newTestService(gw)
	loadRegister(t, svc)

	_, err := svc.CompleteSale(cashierCtx(), "t1", "")
	if err == nil {
		t.Fatalf("unreachable stock validation must block the sale")
	}
	if len(gw.saleRequests) != 0 {
		t.Fatalf("sale must not be submitted when validation is unreachable")
	}

	snap := svc.RegisterState("t1")
	if len(snap.Lines) != 1 {
		t.Fatalf("register state must survive a validation outage")
	}
}

func TestCompleteSaleBackendRejectionPreservesRegister(t *testing.T) {
	gw := &fakeGateway{
		openSession: &domain.Session{ID: "session-1", Status: domain.SessionStatusOpen},
		validation:  sufficientValidation(),
		saleResult:  domain.SaleResult{Success: false, Error: "insufficient stock for Producto ABC"},
	}
	svc, stats := newTestService(gw)
	loadRegister(t, svc)

	_, err := svc.CompleteSale(cashierCtx(), "t1", "")
	if !errors.Is(err, ErrSettlementRejected) {
		t.Fatalf("expected ErrSettlementRejected, got %v", err)
	}

	snap := svc.RegisterState("t1")
	if len(snap.Lines) != 1 || len(snap.Tenders) != 1 || snap.Customer == nil {
		t.Fatalf("register must be preserved after backend rejection: %+v", snap)
	}
	if len(stats.invalidated) != 0 {
		t.Fatalf("stats must not be invalidated on a rejected sale")
	}
}

func TestOpenAndCloseSessionReconciliation(t *testing.T) {
	gw := &fakeGateway{expectedCash: 250}
	svc, _ := newTestService(gw)

	opened, err := svc.OpenSession(cashierCtx(), domain.SessionOpenRequest{OpeningAmount: 100})
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	if opened.Session.Status != domain.SessionStatusOpen || opened.Session.OpeningAmount != 100 {
		t.Fatalf("unexpected opened session: %+v", opened.Session)
	}

	closed, err := svc.CloseSession(cashierCtx(), domain.SessionCloseRequest{ClosingAmount: 345})
	if err != nil {
		t.Fatalf("CloseSession: %v", err)
	}
	session := closed.Session
	if session.Status != domain.SessionStatusClosed {
		t.Fatalf("session status %q", session.Status)
	}
	if session.ExpectedAmount == nil || math.Abs(*session.ExpectedAmount-350) > 1e-9 {
		t.Fatalf("expected amount %v, want 350", session.ExpectedAmount)
	}
	if session.Difference == nil || math.Abs(*session.Difference-(-5)) > 1e-9 {
		t.Fatalf("difference %v, want -5", session.Difference)
	}

	// A second close has no open session to act on.
	if _, err := svc.CloseSession(cashierCtx(), domain.SessionCloseRequest{ClosingAmount: 345}); !errors.Is(err, ErrNoOpenSession) {
		t.Fatalf("expected ErrNoOpenSession on double close, got %v", err)
	}
}

func TestOpenSessionConflictPassesThrough(t *testing.T) {
	gw := &fakeGateway{openErr: backend.ErrSessionConflict}
	svc, _ := newTestService(gw)

	_, err := svc.OpenSession(cashierCtx(), domain.SessionOpenRequest{OpeningAmount: 50})
	if !errors.Is(err, backend.ErrSessionConflict) {
		t.Fatalf("expected ErrSessionConflict, got %v", err)
	}
}

func TestSessionStatsServedFromCache(t *testing.T) {
	gw := &fakeGateway{stats: domain.SessionStats{TodaySales: 500, TodayTransactions: 4}}
	svc, stats := newTestService(gw)

	first, err := svc.SessionStats(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("SessionStats: %v", err)
	}
	if first.TodaySales != 500 || gw.statsCalls != 1 {
		t.Fatalf("expected one backend fetch, got calls=%d stats=%+v", gw.statsCalls, first)
	}

	second, err := svc.SessionStats(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("SessionStats cached: %v", err)
	}
	if gw.statsCalls != 1 {
		t.Fatalf("cached read must not hit the backend, calls=%d", gw.statsCalls)
	}
	if second.TodaySales != 500 {
		t.Fatalf("cached stats mismatch: %+v", second)
	}
	if stats.sets != 1 {
		t.Fatalf("expected one cache write, got %d", stats.sets)
	}
}

func TestReceiptCarriesQRPayload(t *testing.T) {
	gw := &fakeGateway{
		openSession: &domain.Session{ID: "session-1", Status: domain.SessionStatusOpen},
		validation:  sufficientValidation(),
		saleResult:  domain.SaleResult{Success: true, SalesDocID: "sale-9", DocumentNumber: "B001-00000042"},
		company:     domain.ReceiptCompany{Name: "Tienda", RUC: "20456789012", Address: "Lima"},
	}
	svc, _ := newTestService(gw)
	loadRegister(t, svc)

	sale, err := svc.CompleteSale(cashierCtx(), "t1", "")
	if err != nil {
		t.Fatalf("CompleteSale: %v", err)
	}

	receipt, err := svc.Receipt(context.Background(), sale.ID)
	if err != nil {
		t.Fatalf("Receipt: %v", err)
	}
	want := fmt.Sprintf("20456789012|03|B001|00000042|3.60|23.60|%s|DNI|12345678", sale.SaleDate.Format("2006-01-02"))
	if receipt.QRCode != want {
		t.Fatalf("qr payload\n got %q\nwant %q", receipt.QRCode, want)
	}

	// The buyer identity comes from the register snapshot taken at settlement;
	// the gateway's customer search (which returns nothing here) is never needed.
	if receipt.Customer.Name != "Ana" || receipt.Customer.DocumentNumber != "12345678" {
		t.Fatalf("receipt must carry the settled customer, got %+v", receipt.Customer)
	}

	if _, err := svc.Receipt(context.Background(), "sale-unknown"); !errors.Is(err, backend.ErrNotFound) {
		t.Fatalf("unknown sale must return ErrNotFound, got %v", err)
	}
}

func TestAuthenticate(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret-pass"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	gw := &fakeGateway{users: []domain.UserAccount{
		{Username: "cashier", Password: string(hash), Role: "cashier", Active: true},
		{Username: "former", Password: string(hash), Role: "cashier", Active: false},
	}}
	svc, _ := newTestService(gw)

	actor, err := svc.Authenticate(context.Background(), "cashier", "s3cret-pass")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if actor.Role != "cashier" {
		t.Fatalf("unexpected actor: %+v", actor)
	}

	if _, err := svc.Authenticate(context.Background(), "cashier", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password must fail with ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Authenticate(context.Background(), "former", "s3cret-pass"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("inactive account must fail with ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Authenticate(context.Background(), "ghost", "s3cret-pass"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown account must fail with ErrInvalidCredentials, got %v", err)
	}
}

func TestCreateCashierRequiresAdmin(t *testing.T) {
	gw := &fakeGateway{}
	svc, _ := newTestService(gw)

	if _, err := svc.CreateCashier(cashierCtx(), domain.CashierCreateRequest{Username: "new", Password: "longenough"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("non-admin create must fail with ErrForbidden, got %v", err)
	}
	if _, err := svc.TodaySessions(cashierCtx()); !errors.Is(err, ErrForbidden) {
		t.Fatalf("non-admin session listing must fail with ErrForbidden, got %v", err)
	}
	if _, err := svc.ListCashiers(cashierCtx()); !errors.Is(err, ErrForbidden) {
		t.Fatalf("non-admin cashier listing must fail with ErrForbidden, got %v", err)
	}

	created, err := svc.CreateCashier(adminCtx(), domain.CashierCreateRequest{Username: "new", Password: "longenough"})
	if err != nil {
		t.Fatalf("CreateCashier: %v", err)
	}
	if created.Role != "cashier" || !created.Active {
		t.Fatalf("unexpected cashier: %+v", created)
	}
	if len(gw.users) != 1 || gw.users[0].Password == "longenough" {
		t.Fatalf("password must be stored hashed")
	}
}
