package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"tiendapos/backend/internal/backend"
	"tiendapos/backend/internal/domain"
	"tiendapos/backend/internal/xid"
)

const walkInDocNumber = "00000000"

// Gateway is the in-memory implementation used in dev mode and tests. It
// reproduces the backend procedure's semantics locally: ProcessSale checks
// and deducts stock for all lines under one lock, assigns the document
// number, and records the payments.
type Gateway struct {
	mu              sync.RWMutex
	products        map[string]domain.Product
	stock           map[string]map[string]float64
	customers       map[string]domain.Customer
	sessionsByID    map[string]domain.Session
	openSessionKey  map[string]string
	salesByID       map[string]domain.Sale
	salesBySession  map[string][]string
	cashBySession   map[string]float64
	docCounter      int
	docSeries       string
	company         domain.ReceiptCompany
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the initial user accounts for dev/demo mode. Credentials
// come from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD; hardcoded dev
// defaults are used with a warning when unset. Production deployments use the
// postgres gateway instead.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-gateway] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-gateway] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded(warehouseID string, docSeries string) *Gateway {
	if warehouseID == "" {
		warehouseID = "main-warehouse"
	}
	if docSeries == "" {
		docSeries = "B001"
	}

	products := []domain.Product{
		{ID: "prod-arroz", SKU: "ARROZ-5KG", Name: "Arroz Extra 5kg", BrandName: "Costeño", CategoryName: "abarrotes", UnitCode: "NIU", CurrentPrice: 28.5, AvailableStock: 80, TaxRatePct: 18},
		{ID: "prod-aceite", SKU: "ACEITE-1L", Name: "Aceite Vegetal 1L", BrandName: "Primor", CategoryName: "abarrotes", UnitCode: "NIU", CurrentPrice: 12.9, AvailableStock: 60, TaxRatePct: 18},
		{ID: "prod-leche", SKU: "LECHE-EVAP", Name: "Leche Evaporada 400g", BrandName: "Gloria", CategoryName: "lacteos", UnitCode: "NIU", CurrentPrice: 4.2, AvailableStock: 150, TaxRatePct: 18},
		{ID: "prod-gaseosa", SKU: "GAS-500", Name: "Gaseosa 500ml", BrandName: "Inca Kola", CategoryName: "bebidas", UnitCode: "NIU", CurrentPrice: 3.5, AvailableStock: 200, TaxRatePct: 18},
		{ID: "prod-galleta", SKU: "GALL-SODA", Name: "Galleta Soda Pack", BrandName: "Field", CategoryName: "snacks", UnitCode: "NIU", CurrentPrice: 5.8, AvailableStock: 90, TaxRatePct: 18},
		{ID: "prod-detergente", SKU: "DET-1KG", Name: "Detergente 1kg", BrandName: "Bolívar", CategoryName: "limpieza", UnitCode: "NIU", CurrentPrice: 15.4, AvailableStock: 45, TaxRatePct: 18},
		{ID: "prod-atun", SKU: "ATUN-170", Name: "Atún en Filete 170g", BrandName: "Florida", CategoryName: "conservas", UnitCode: "NIU", CurrentPrice: 7.9, AvailableStock: 110, TaxRatePct: 18},
		{ID: "prod-pan", SKU: "PAN-MOLDE", Name: "Pan de Molde", BrandName: "Bimbo", CategoryName: "panaderia", UnitCode: "NIU", CurrentPrice: 9.5, AvailableStock: 35, TaxRatePct: 18},
	}

	productMap := make(map[string]domain.Product, len(products))
	stock := map[string]map[string]float64{warehouseID: {}}
	for _, p := range products {
		productMap[p.ID] = p
		stock[warehouseID][p.ID] = p.AvailableStock
	}

	return &Gateway{
		products:       productMap,
		stock:          stock,
		customers:      map[string]domain.Customer{},
		sessionsByID:   map[string]domain.Session{},
		openSessionKey: map[string]string{},
		salesByID:      map[string]domain.Sale{},
		salesBySession: map[string][]string{},
		cashBySession:  map[string]float64{},
		docSeries:      docSeries,
		company: domain.ReceiptCompany{
			Name:    "Comercial Tienda Posada S.A.C.",
			RUC:     "20456789012",
			Address: "Av. Los Próceres 1234, Lima",
			Phone:   "+51 1 555 0199",
		},
		usersByUsername: seedUsers(),
	}
}

func (g *Gateway) SearchProducts(_ context.Context, query string, warehouseID string, limit int) ([]domain.Product, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" || warehouseID == "" {
		return []domain.Product{}, nil
	}
	if limit < 1 {
		limit = 20
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	warehouseStock := g.stock[warehouseID]
	matches := make([]domain.Product, 0, limit)
	for _, p := range g.products {
		if !strings.Contains(strings.ToLower(p.SKU), query) && !strings.Contains(strings.ToLower(p.Name), query) {
			continue
		}
		p.AvailableStock = warehouseStock[p.ID]
		matches = append(matches, p)
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].SKU < matches[j].SKU })
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (g *Gateway) SearchCustomers(_ context.Context, query string, limit int) ([]domain.Customer, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	if limit < 1 {
		limit = 20
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	matches := make([]domain.Customer, 0, limit)
	for _, c := range g.customers {
		if query != "" &&
			!strings.Contains(strings.ToLower(c.Name), query) &&
			!strings.Contains(strings.ToLower(c.DocumentNumber), query) {
			continue
		}
		matches = append(matches, c)
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Name < matches[j].Name })
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (g *Gateway) CreateCustomer(_ context.Context, req domain.CustomerCreateRequest) (*domain.Customer, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.DocumentType = strings.TrimSpace(req.DocumentType)
	req.DocumentNumber = strings.TrimSpace(req.DocumentNumber)
	if req.Name == "" || req.DocumentType == "" || req.DocumentNumber == "" {
		return nil, backend.ErrInvalidInput
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	for _, c := range g.customers {
		if c.DocumentNumber == req.DocumentNumber {
			return nil, fmt.Errorf("%w: document number already registered", backend.ErrInvalidInput)
		}
	}

	customer := domain.Customer{
		ID:             xid.New("cust"),
		DocumentType:   req.DocumentType,
		DocumentNumber: req.DocumentNumber,
		Name:           req.Name,
		Email:          strings.TrimSpace(req.Email),
		Phone:          strings.TrimSpace(req.Phone),
		Address:        strings.TrimSpace(req.Address),
	}
	g.customers[customer.ID] = customer
	return &customer, nil
}

// DefaultCustomer resolves the walk-in customer, creating it lazily the way
// the generic "Cliente Varios" row is provisioned on first use.
func (g *Gateway) DefaultCustomer(_ context.Context) (*domain.Customer, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, c := range g.customers {
		if c.DocumentNumber == walkInDocNumber {
			copied := c
			return &copied, nil
		}
	}

	customer := domain.Customer{
		ID:             xid.New("cust"),
		DocumentType:   "DNI",
		DocumentNumber: walkInDocNumber,
		Name:           "Cliente Varios",
	}
	g.customers[customer.ID] = customer
	return &customer, nil
}

func (g *Gateway) ValidateCartStock(_ context.Context, warehouseID string, lines []domain.StockLine) (domain.StockValidation, error) {
	if warehouseID == "" || len(lines) == 0 {
		return domain.StockValidation{}, backend.ErrInvalidInput
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	warehouseStock := g.stock[warehouseID]
	validation := domain.StockValidation{Items: make([]domain.StockValidationItem, 0, len(lines))}
	for _, line := range lines {
		product, exists := g.products[line.ProductID]
		name := line.ProductID
		if exists {
			name = product.Name
		}
		sufficient := exists && warehouseStock[line.ProductID] >= line.Quantity
		if !sufficient {
			validation.HasStockErrors = true
		}
		validation.Items = append(validation.Items, domain.StockValidationItem{
			ProductID:    line.ProductID,
			ProductName:  name,
			IsSufficient: sufficient,
		})
	}
	return validation, nil
}

// ProcessSale mirrors the atomic procedure: every line is checked against
// live stock and the whole sale is rejected as a unit when any line falls
// short. Deduction, numbering and payment recording happen under one lock.
func (g *Gateway) ProcessSale(_ context.Context, req domain.SaleRequest) (domain.SaleResult, error) {
	if req.SessionID == "" || req.CustomerID == "" || len(req.Items) == 0 || len(req.Payments) == 0 {
		return domain.SaleResult{Success: false, Error: "invalid sale request"}, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	session, ok := g.sessionsByID[req.SessionID]
	if !ok || session.Status != domain.SessionStatusOpen {
		return domain.SaleResult{Success: false, Error: "session is not open"}, nil
	}
	if _, ok := g.customers[req.CustomerID]; !ok {
		return domain.SaleResult{Success: false, Error: "unknown customer"}, nil
	}

	warehouseStock := g.stock[session.WarehouseID]
	insufficient := make([]string, 0, 2)
	for _, item := range req.Items {
		product, exists := g.products[item.ProductID]
		if !exists {
			return domain.SaleResult{Success: false, Error: fmt.Sprintf("unknown product %s", item.ProductID)}, nil
		}
		if warehouseStock[item.ProductID] < item.Quantity {
			insufficient = append(insufficient, product.Name)
		}
	}
	if len(insufficient) > 0 {
		return domain.SaleResult{
			Success: false,
			Error:   fmt.Sprintf("insufficient stock: %s", strings.Join(insufficient, ", ")),
		}, nil
	}

	var total float64
	for _, item := range req.Items {
		warehouseStock[item.ProductID] -= item.Quantity
		lineSubtotal := item.UnitPrice * item.Quantity * (1 - item.DiscountPct/100)
		total += lineSubtotal * (1 + taxRateFor(g.products[item.ProductID])/100)
	}

	g.docCounter++
	number := fmt.Sprintf("%08d", g.docCounter)
	saleID := xid.New("sale")

	// Cash applied to the sale is whatever the non-cash tenders left
	// uncovered; change goes back out of the drawer.
	var cashTendered, nonCash float64
	for _, p := range req.Payments {
		if p.Type == domain.TenderCash {
			cashTendered += p.Amount
		} else {
			nonCash += p.Amount
		}
	}
	cashApplied := total - nonCash
	if cashApplied < 0 {
		cashApplied = 0
	}
	if cashApplied > cashTendered {
		cashApplied = cashTendered
	}
	g.cashBySession[req.SessionID] += cashApplied

	sale := domain.Sale{
		ID:         saleID,
		SessionID:  req.SessionID,
		CustomerID: req.CustomerID,
		DocType:    "03",
		Series:     g.docSeries,
		Number:     number,
		SaleDate:   time.Now().UTC(),
		Total:      total,
		Status:     domain.SaleStatusCompleted,
		Notes:      req.Notes,
	}
	for _, item := range req.Items {
		product := g.products[item.ProductID]
		line := domain.CartLine{
			ProductID:   item.ProductID,
			SKU:         product.SKU,
			Name:        product.Name,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			DiscountPct: item.DiscountPct,
			TaxRatePct:  taxRateFor(product),
		}
		line.Subtotal = line.UnitPrice * line.Quantity * (1 - line.DiscountPct/100)
		line.Total = line.Subtotal * (1 + line.TaxRatePct/100)
		sale.Items = append(sale.Items, line)
		sale.Subtotal += line.Subtotal
		sale.TaxAmount += line.Subtotal * line.TaxRatePct / 100
		sale.DiscountAmount += line.Subtotal * line.DiscountPct / 100
	}
	for _, p := range req.Payments {
		sale.Payments = append(sale.Payments, domain.Tender{
			Type:      p.Type,
			Amount:    p.Amount,
			Reference: p.Reference,
			CardType:  p.CardType,
			AuthCode:  p.AuthCode,
		})
	}

	g.salesByID[saleID] = sale
	g.salesBySession[req.SessionID] = append(g.salesBySession[req.SessionID], saleID)

	return domain.SaleResult{
		Success:        true,
		SalesDocID:     saleID,
		DocumentNumber: fmt.Sprintf("%s-%s", g.docSeries, number),
	}, nil
}

// taxRateFor falls back to the standard rate when the catalog carries no rate,
// matching how the register prices lines.
func taxRateFor(product domain.Product) float64 {
	if product.TaxRatePct > 0 {
		return product.TaxRatePct
	}
	return domain.StandardTaxRatePct
}

func sessionKey(userID, warehouseID string) string {
	return userID + "|" + warehouseID
}

func (g *Gateway) OpenSession(_ context.Context, session domain.Session) (*domain.Session, error) {
	if session.UserID == "" || session.WarehouseID == "" || session.OpeningAmount < 0 {
		return nil, backend.ErrInvalidInput
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	key := sessionKey(session.UserID, session.WarehouseID)
	if _, exists := g.openSessionKey[key]; exists {
		return nil, backend.ErrSessionConflict
	}

	if session.ID == "" {
		session.ID = xid.New("session")
	}
	session.Status = domain.SessionStatusOpen
	if session.OpenedAt.IsZero() {
		session.OpenedAt = time.Now().UTC()
	}

	g.sessionsByID[session.ID] = session
	g.openSessionKey[key] = session.ID
	return &session, nil
}

func (g *Gateway) GetOpenSession(_ context.Context, userID string, warehouseID string) (*domain.Session, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	id, ok := g.openSessionKey[sessionKey(userID, warehouseID)]
	if !ok {
		return nil, backend.ErrNotFound
	}
	session := g.sessionsByID[id]
	return &session, nil
}

func (g *Gateway) CloseSession(_ context.Context, session domain.Session) (*domain.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	existing, ok := g.sessionsByID[session.ID]
	if !ok {
		return nil, backend.ErrNotFound
	}
	if existing.Status != domain.SessionStatusOpen {
		return nil, fmt.Errorf("%w: session already closed", backend.ErrInvalidInput)
	}

	existing.Status = domain.SessionStatusClosed
	existing.ClosedAt = session.ClosedAt
	existing.ClosingAmount = session.ClosingAmount
	existing.ExpectedAmount = session.ExpectedAmount
	existing.Difference = session.Difference
	if session.Notes != "" {
		existing.Notes = session.Notes
	}

	g.sessionsByID[existing.ID] = existing
	delete(g.openSessionKey, sessionKey(existing.UserID, existing.WarehouseID))
	return &existing, nil
}

func (g *Gateway) ListTodaySessions(_ context.Context) ([]domain.Session, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	now := time.Now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	sessions := make([]domain.Session, 0, 8)
	for _, s := range g.sessionsByID {
		if s.OpenedAt.Before(dayStart) {
			continue
		}
		sessions = append(sessions, s)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].OpenedAt.After(sessions[j].OpenedAt) })
	return sessions, nil
}

func (g *Gateway) SessionStats(_ context.Context, sessionID string) (domain.SessionStats, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, ok := g.sessionsByID[sessionID]; !ok {
		return domain.SessionStats{}, backend.ErrNotFound
	}

	stats := domain.SessionStats{SessionID: sessionID, GeneratedAt: time.Now().UTC()}
	byProduct := map[string]*domain.TopProduct{}
	byMethod := map[string]float64{}

	for _, saleID := range g.salesBySession[sessionID] {
		sale := g.salesByID[saleID]
		stats.TodaySales += sale.Total
		stats.TodayTransactions++
		for _, line := range sale.Items {
			tp, ok := byProduct[line.ProductID]
			if !ok {
				tp = &domain.TopProduct{ProductID: line.ProductID, Name: line.Name}
				byProduct[line.ProductID] = tp
			}
			tp.Quantity += line.Quantity
			tp.Revenue += line.Total
		}
		for _, payment := range sale.Payments {
			byMethod[payment.Type] += payment.Amount
		}
	}

	if stats.TodayTransactions > 0 {
		stats.AverageTicket = stats.TodaySales / float64(stats.TodayTransactions)
	}

	for _, tp := range byProduct {
		stats.TopProducts = append(stats.TopProducts, *tp)
	}
	sort.Slice(stats.TopProducts, func(i, j int) bool {
		return stats.TopProducts[i].Revenue > stats.TopProducts[j].Revenue
	})
	if len(stats.TopProducts) > 5 {
		stats.TopProducts = stats.TopProducts[:5]
	}

	var tendered float64
	for _, amount := range byMethod {
		tendered += amount
	}
	for method, amount := range byMethod {
		pct := 0.0
		if tendered > 0 {
			pct = amount / tendered * 100
		}
		stats.PaymentBreakdown = append(stats.PaymentBreakdown, domain.PaymentBreakdown{
			Method:     method,
			Amount:     amount,
			Percentage: pct,
		})
	}
	sort.Slice(stats.PaymentBreakdown, func(i, j int) bool {
		return stats.PaymentBreakdown[i].Method < stats.PaymentBreakdown[j].Method
	})

	return stats, nil
}

func (g *Gateway) SessionExpectedCash(_ context.Context, sessionID string) (float64, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, ok := g.sessionsByID[sessionID]; !ok {
		return 0, backend.ErrNotFound
	}
	return g.cashBySession[sessionID], nil
}

func (g *Gateway) CompanyInfo(_ context.Context) (domain.ReceiptCompany, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.company, nil
}

// StockLevel reports remaining stock for tests and the stock view.
func (g *Gateway) StockLevel(warehouseID string, productID string) float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.stock[warehouseID][productID]
}

func (g *Gateway) CreateUser(_ context.Context, user domain.UserAccount) error {
	user.Username = strings.TrimSpace(user.Username)
	if user.Username == "" || user.Password == "" {
		return backend.ErrInvalidInput
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.usersByUsername[user.Username]; exists {
		return fmt.Errorf("%w: username taken", backend.ErrInvalidInput)
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	g.usersByUsername[user.Username] = user
	return nil
}

func (g *Gateway) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(g.usersByUsername))
	for _, u := range g.usersByUsername {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

func (g *Gateway) UpdateUserPassword(_ context.Context, username string, password string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	user, ok := g.usersByUsername[username]
	if !ok {
		return backend.ErrNotFound
	}
	user.Password = password
	g.usersByUsername[username] = user
	return nil
}
