package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"tiendapos/backend/internal/backend"
	"tiendapos/backend/internal/cache"
	"tiendapos/backend/internal/domain"
	"tiendapos/backend/internal/money"
	"tiendapos/backend/internal/pos"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

var (
	// ErrNoOpenSession blocks any sale or close attempt without an open drawer.
	ErrNoOpenSession = errors.New("no open cash session")
	// ErrSaleNotReady means the completion gate is closed: empty cart, no
	// customer, or payment short of the total.
	ErrSaleNotReady = errors.New("sale is not ready to complete")
	// ErrSettlementRejected wraps a structured rejection from the sale
	// procedure. The register state is preserved so the cashier can retry.
	ErrSettlementRejected = errors.New("sale rejected by backend")
	// ErrInvalidCredentials is returned on any login failure; the cause is
	// never disclosed to the caller.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrForbidden marks operations reserved for the admin role.
	ErrForbidden = errors.New("admin role required")
	// ErrNoActor means the context carries no authenticated actor. The HTTP
	// layer always injects one, so hitting this is a wiring bug.
	ErrNoActor = errors.New("authenticated actor required")
)

type Service struct {
	hub         *pos.Hub
	gw          backend.Gateway
	stats       cache.StatsCache
	notifier    pos.Notifier
	warehouseID string
	statsTTL    time.Duration

	mu          sync.RWMutex
	recentSales map[string]settledSale
}

// settledSale pairs a settled sale with the customer snapshot taken from the
// register at completion time, so receipts never depend on a later lookup.
type settledSale struct {
	sale     domain.Sale
	customer domain.Customer
}

func New(hub *pos.Hub, gw backend.Gateway, stats cache.StatsCache, notifier pos.Notifier, warehouseID string, statsTTL time.Duration) *Service {
	if warehouseID == "" {
		warehouseID = "main-warehouse"
	}
	if stats == nil {
		stats = cache.NoopStatsCache{}
	}
	if notifier == nil {
		notifier = pos.LogNotifier{}
	}
	if statsTTL <= 0 {
		statsTTL = 30 * time.Second
	}

	return &Service{
		hub:         hub,
		gw:          gw,
		stats:       stats,
		notifier:    notifier,
		warehouseID: warehouseID,
		statsTTL:    statsTTL,
		recentSales: map[string]settledSale{},
	}
}

// --- catalog and customers ---

func (s *Service) SearchProducts(ctx context.Context, query string, limit int) ([]domain.Product, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []domain.Product{}, nil
	}
	return s.gw.SearchProducts(ctx, query, s.warehouseID, limit)
}

func (s *Service) SearchCustomers(ctx context.Context, query string, limit int) ([]domain.Customer, error) {
	return s.gw.SearchCustomers(ctx, query, limit)
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	created, err := s.gw.CreateCustomer(ctx, req)
	if err != nil {
		return domain.Customer{}, err
	}
	s.logAudit(ctx, "customer_create", "customer", created.ID, created.DocumentNumber)
	return *created, nil
}

// --- register operations ---

func (s *Service) Register(terminalID string) *pos.Register {
	return s.hub.Register(terminalID)
}

func (s *Service) AddToCart(terminalID string, product domain.Product, qty float64) bool {
	return s.hub.Register(terminalID).AddProduct(product, qty)
}

func (s *Service) UpdateQuantity(terminalID string, productID string, qty float64) bool {
	return s.hub.Register(terminalID).UpdateQuantity(productID, qty)
}

func (s *Service) UpdateDiscount(terminalID string, productID string, discountPct float64) bool {
	return s.hub.Register(terminalID).UpdateDiscount(productID, discountPct)
}

func (s *Service) RemoveLine(terminalID string, productID string) {
	s.hub.Register(terminalID).RemoveLine(productID)
}

func (s *Service) AddTender(terminalID string, tender domain.Tender) bool {
	return s.hub.Register(terminalID).AddTender(tender)
}

func (s *Service) RemoveTender(terminalID string, index int) {
	s.hub.Register(terminalID).RemoveTender(index)
}

func (s *Service) SelectCustomer(terminalID string, customer domain.Customer) {
	s.hub.Register(terminalID).SelectCustomer(customer)
}

// SelectWalkInCustomer puts the generic walk-in customer on the register.
func (s *Service) SelectWalkInCustomer(ctx context.Context, terminalID string) (domain.Customer, error) {
	customer, err := s.gw.DefaultCustomer(ctx)
	if err != nil {
		return domain.Customer{}, err
	}
	s.hub.Register(terminalID).SelectCustomer(*customer)
	return *customer, nil
}

func (s *Service) ResetRegister(terminalID string) {
	s.hub.Register(terminalID).Reset()
}

func (s *Service) RegisterState(terminalID string) pos.RegisterSnapshot {
	return s.hub.Register(terminalID).Snapshot()
}

// --- stock validation ---

// ValidateStock runs the advisory pre-flight against live stock. A transport
// failure is returned as an error and callers must treat it as blocking:
// selling into unknown stock is worse than a retry.
func (s *Service) ValidateStock(ctx context.Context, terminalID string) (domain.StockValidation, error) {
	snap := s.hub.Register(terminalID).Snapshot()
	if len(snap.Lines) == 0 {
		return domain.StockValidation{}, backend.ErrInvalidInput
	}

	lines := make([]domain.StockLine, 0, len(snap.Lines))
	for _, line := range snap.Lines {
		lines = append(lines, domain.StockLine{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		})
	}
	return s.gw.ValidateCartStock(ctx, s.warehouseID, lines)
}

// --- settlement ---

// CompleteSale settles the register's current transaction. The register is
// mutated only on success: any validation, stock, or backend failure leaves
// cart, tenders and customer untouched for a retry.
func (s *Service) CompleteSale(ctx context.Context, terminalID string, notes string) (domain.Sale, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Sale{}, ErrNoActor
	}

	session, err := s.gw.GetOpenSession(ctx, actor.Username, s.warehouseID)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return domain.Sale{}, ErrNoOpenSession
		}
		return domain.Sale{}, err
	}

	reg := s.hub.Register(terminalID)
	if !reg.CanCompleteSale() {
		return domain.Sale{}, ErrSaleNotReady
	}

	snap := reg.Snapshot()

	// Recompute every derived amount from the raw line inputs; the gate may
	// have been evaluated against stale totals.
	for i := range snap.Lines {
		money.Recalculate(&snap.Lines[i])
	}
	totals := money.CartTotals(snap.Lines)
	var tendered float64
	for _, t := range snap.Tenders {
		if t.Amount <= 0 {
			return domain.Sale{}, fmt.Errorf("%w: non-positive tender", ErrSaleNotReady)
		}
		tendered += t.Amount
	}
	if snap.Customer == nil || len(snap.Lines) == 0 || tendered < totals.Total {
		return domain.Sale{}, ErrSaleNotReady
	}

	stockLines := make([]domain.StockLine, 0, len(snap.Lines))
	for _, line := range snap.Lines {
		if line.Quantity <= 0 || line.UnitPrice < 0 || line.DiscountPct < 0 || line.DiscountPct > 100 {
			return domain.Sale{}, fmt.Errorf("%w: malformed cart line %s", ErrSaleNotReady, line.ProductID)
		}
		stockLines = append(stockLines, domain.StockLine{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		})
	}

	validation, err := s.gw.ValidateCartStock(ctx, s.warehouseID, stockLines)
	if err != nil {
		// Conservative: an unreachable stock check blocks the sale.
		return domain.Sale{}, fmt.Errorf("stock validation unavailable: %w", err)
	}
	if validation.HasStockErrors {
		short := make([]string, 0, 2)
		for _, item := range validation.Items {
			if !item.IsSufficient {
				short = append(short, item.ProductName)
			}
		}
		return domain.Sale{}, fmt.Errorf("%w: %s", backend.ErrInsufficientStock, strings.Join(short, ", "))
	}

	req := domain.SaleRequest{
		SessionID:  session.ID,
		CustomerID: snap.Customer.ID,
		Notes:      strings.TrimSpace(notes),
	}
	for _, line := range snap.Lines {
		req.Items = append(req.Items, domain.SaleItemRow{
			ProductID:   line.ProductID,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			DiscountPct: line.DiscountPct,
		})
	}
	for _, t := range snap.Tenders {
		req.Payments = append(req.Payments, domain.SalePaymentRow{
			Type:      t.Type,
			Amount:    t.Amount,
			Reference: t.Reference,
			CardType:  t.CardType,
			AuthCode:  t.AuthCode,
		})
	}

	result, err := s.gw.ProcessSale(ctx, req)
	if err != nil {
		return domain.Sale{}, fmt.Errorf("sale settlement failed: %w", err)
	}
	if !result.Success {
		s.notifier.Notify(pos.NotifyError, "Venta rechazada", result.Error)
		return domain.Sale{}, fmt.Errorf("%w: %s", ErrSettlementRejected, result.Error)
	}

	series, number := splitDocumentNumber(result.DocumentNumber)
	sale := domain.Sale{
		ID:             result.SalesDocID,
		SessionID:      session.ID,
		CustomerID:     snap.Customer.ID,
		DocType:        "03",
		Series:         series,
		Number:         number,
		SaleDate:       time.Now().UTC(),
		Items:          snap.Lines,
		Payments:       snap.Tenders,
		Subtotal:       totals.Subtotal,
		TaxAmount:      totals.TaxAmount,
		DiscountAmount: totals.DiscountAmount,
		Total:          totals.Total,
		Status:         domain.SaleStatusCompleted,
		Notes:          req.Notes,
	}

	s.mu.Lock()
	s.recentSales[sale.ID] = settledSale{sale: sale, customer: *snap.Customer}
	s.mu.Unlock()

	if err := s.stats.Invalidate(ctx, session.ID); err != nil {
		log.Printf("[service] WARN: failed to invalidate session stats cache session=%s: %v", session.ID, err)
	}

	reg.Reset()
	s.notifier.Notify(pos.NotifySuccess, "Venta completada", fmt.Sprintf("Documento %s", result.DocumentNumber))
	s.logAudit(ctx, "sale_complete", "sale", sale.ID, fmt.Sprintf("doc=%s,total=%.2f", result.DocumentNumber, sale.Total))

	return sale, nil
}

// splitDocumentNumber separates "B001-00000042" into series and number. The
// backend assigns both; a malformed value keeps the raw string as the number.
func splitDocumentNumber(doc string) (string, string) {
	idx := strings.LastIndex(doc, "-")
	if idx < 1 || idx == len(doc)-1 {
		return "", doc
	}
	return doc[:idx], doc[idx+1:]
}

// --- receipts ---

// Receipt assembles the render-ready data for a recently settled sale,
// including the tax-authority QR payload.
func (s *Service) Receipt(ctx context.Context, saleID string) (domain.ReceiptData, error) {
	s.mu.RLock()
	settled, ok := s.recentSales[saleID]
	s.mu.RUnlock()
	if !ok {
		return domain.ReceiptData{}, backend.ErrNotFound
	}

	company, err := s.gw.CompanyInfo(ctx)
	if err != nil {
		return domain.ReceiptData{}, err
	}

	return domain.ReceiptData{
		Sale:     settled.sale,
		Customer: settled.customer,
		Company:  company,
		QRCode:   qrPayload(company, settled.sale, settled.customer),
	}, nil
}

// qrPayload builds the pipe-delimited electronic document payload:
// RUC|docType|series|number|tax|total|date|custDocType|custDocNumber.
func qrPayload(company domain.ReceiptCompany, sale domain.Sale, customer domain.Customer) string {
	return strings.Join([]string{
		company.RUC,
		sale.DocType,
		sale.Series,
		sale.Number,
		fmt.Sprintf("%.2f", sale.TaxAmount),
		fmt.Sprintf("%.2f", sale.Total),
		sale.SaleDate.Format("2006-01-02"),
		customer.DocumentType,
		customer.DocumentNumber,
	}, "|")
}

// --- cash sessions ---

func (s *Service) OpenSession(ctx context.Context, req domain.SessionOpenRequest) (domain.SessionResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.SessionResponse{}, ErrNoActor
	}
	if req.OpeningAmount < 0 {
		return domain.SessionResponse{}, backend.ErrInvalidInput
	}
	warehouseID := req.WarehouseID
	if warehouseID == "" {
		warehouseID = s.warehouseID
	}

	session := domain.Session{
		UserID:        actor.Username,
		WarehouseID:   warehouseID,
		OpeningAmount: req.OpeningAmount,
		OpenedAt:      time.Now().UTC(),
		Notes:         strings.TrimSpace(req.Notes),
	}
	saved, err := s.gw.OpenSession(ctx, session)
	if err != nil {
		return domain.SessionResponse{}, err
	}

	s.logAudit(ctx, "session_open", "session", saved.ID, fmt.Sprintf("opening=%.2f", saved.OpeningAmount))
	return domain.SessionResponse{Session: *saved}, nil
}

func (s *Service) CurrentSession(ctx context.Context) (domain.SessionResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.SessionResponse{}, ErrNoActor
	}
	session, err := s.gw.GetOpenSession(ctx, actor.Username, s.warehouseID)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return domain.SessionResponse{}, ErrNoOpenSession
		}
		return domain.SessionResponse{}, err
	}
	return domain.SessionResponse{Session: *session}, nil
}

// CloseSession reconciles the drawer: expected = opening float + cash sales,
// difference = counted − expected. Both are recorded on the closed session.
func (s *Service) CloseSession(ctx context.Context, req domain.SessionCloseRequest) (domain.SessionResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.SessionResponse{}, ErrNoActor
	}
	if req.ClosingAmount < 0 {
		return domain.SessionResponse{}, backend.ErrInvalidInput
	}

	session, err := s.gw.GetOpenSession(ctx, actor.Username, s.warehouseID)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return domain.SessionResponse{}, ErrNoOpenSession
		}
		return domain.SessionResponse{}, err
	}

	cashSales, err := s.gw.SessionExpectedCash(ctx, session.ID)
	if err != nil {
		return domain.SessionResponse{}, fmt.Errorf("cannot compute expected cash: %w", err)
	}

	expected := session.OpeningAmount + cashSales
	difference := req.ClosingAmount - expected
	now := time.Now().UTC()

	toClose := domain.Session{
		ID:             session.ID,
		ClosedAt:       &now,
		ClosingAmount:  &req.ClosingAmount,
		ExpectedAmount: &expected,
		Difference:     &difference,
		Notes:          strings.TrimSpace(req.Notes),
	}
	closed, err := s.gw.CloseSession(ctx, toClose)
	if err != nil {
		return domain.SessionResponse{}, err
	}

	if err := s.stats.Invalidate(ctx, session.ID); err != nil {
		log.Printf("[service] WARN: failed to invalidate session stats cache session=%s: %v", session.ID, err)
	}

	s.logAudit(ctx, "session_close", "session", closed.ID,
		fmt.Sprintf("closing=%.2f,expected=%.2f,difference=%.2f", req.ClosingAmount, expected, difference))
	return domain.SessionResponse{Session: *closed}, nil
}

func (s *Service) TodaySessions(ctx context.Context) ([]domain.Session, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return nil, ErrForbidden
	}
	return s.gw.ListTodaySessions(ctx)
}

// --- session stats ---

// SessionStats serves the polled dashboard aggregate, cache-first.
func (s *Service) SessionStats(ctx context.Context, sessionID string) (domain.SessionStats, error) {
	if sessionID == "" {
		return domain.SessionStats{}, backend.ErrInvalidInput
	}

	if cached, ok, err := s.stats.Get(ctx, sessionID); err == nil && ok {
		return *cached, nil
	} else if err != nil {
		log.Printf("[service] WARN: stats cache read failed session=%s: %v", sessionID, err)
	}

	stats, err := s.gw.SessionStats(ctx, sessionID)
	if err != nil {
		return domain.SessionStats{}, err
	}

	if err := s.stats.Set(ctx, sessionID, &stats, s.statsTTL); err != nil {
		log.Printf("[service] WARN: stats cache write failed session=%s: %v", sessionID, err)
	}
	return stats, nil
}

// RunStatsPoller refreshes stats for every open session on a fixed interval,
// so terminals polling the endpoint keep hitting warm cache. Blocks until the
// context is cancelled.
func (s *Service) RunStatsPoller(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refreshOpenSessionStats(ctx)
		}
	}
}

func (s *Service) refreshOpenSessionStats(ctx context.Context) {
	sessions, err := s.gw.ListTodaySessions(ctx)
	if err != nil {
		log.Printf("[service] WARN: stats poller cannot list sessions: %v", err)
		return
	}
	for _, session := range sessions {
		if session.Status != domain.SessionStatusOpen {
			continue
		}
		stats, err := s.gw.SessionStats(ctx, session.ID)
		if err != nil {
			log.Printf("[service] WARN: stats poller refresh failed session=%s: %v", session.ID, err)
			continue
		}
		if err := s.stats.Set(ctx, session.ID, &stats, s.statsTTL); err != nil {
			log.Printf("[service] WARN: stats poller cache write failed session=%s: %v", session.ID, err)
		}
	}
}

// --- auth and users ---

func (s *Service) Authenticate(ctx context.Context, username string, password string) (domain.Actor, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return domain.Actor{}, ErrInvalidCredentials
	}

	users, err := s.gw.ListUsers(ctx)
	if err != nil {
		return domain.Actor{}, err
	}
	for _, u := range users {
		if u.Username != username {
			continue
		}
		if !u.Active {
			return domain.Actor{}, ErrInvalidCredentials
		}
		if bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password)) != nil {
			return domain.Actor{}, ErrInvalidCredentials
		}
		return domain.Actor{Username: u.Username, Role: u.Role}, nil
	}
	return domain.Actor{}, ErrInvalidCredentials
}

func (s *Service) CreateCashier(ctx context.Context, req domain.CashierCreateRequest) (domain.CashierUser, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.CashierUser{}, ErrForbidden
	}

	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || len(req.Password) < 8 {
		return domain.CashierUser{}, backend.ErrInvalidInput
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return domain.CashierUser{}, err
	}

	user := domain.UserAccount{
		Username:  req.Username,
		Password:  string(hash),
		Role:      "cashier",
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.gw.CreateUser(ctx, user); err != nil {
		return domain.CashierUser{}, err
	}

	s.logAudit(ctx, "cashier_create", "user", user.Username, "")
	return domain.CashierUser{
		Username:  user.Username,
		Role:      user.Role,
		Active:    user.Active,
		CreatedAt: user.CreatedAt,
	}, nil
}

func (s *Service) ListCashiers(ctx context.Context) ([]domain.CashierUser, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return nil, ErrForbidden
	}

	users, err := s.gw.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	cashiers := make([]domain.CashierUser, 0, len(users))
	for _, u := range users {
		cashiers = append(cashiers, domain.CashierUser{
			Username:  u.Username,
			Role:      u.Role,
			Active:    u.Active,
			CreatedAt: u.CreatedAt,
		})
	}
	return cashiers, nil
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, _ := ActorFromContext(ctx)
	log.Printf("[service] audit action=%s entity=%s/%s actor=%s detail=%s", action, entityType, entityID, actor.Username, detail)
}
