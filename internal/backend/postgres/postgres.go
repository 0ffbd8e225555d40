package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"tiendapos/backend/internal/backend"
	"tiendapos/backend/internal/domain"
	"tiendapos/backend/internal/xid"
)

// Gateway talks to the hosted Postgres backend. The sale itself, stock
// validation and session stats are stored procedures on the server side; this
// adapter marshals the payloads and maps errors to the backend sentinels.
type Gateway struct {
	db          *sql.DB
	companyID   string
	priceListID string
}

func New(ctx context.Context, databaseURL string, companyID string, priceListID string) (*Gateway, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Gateway{db: db, companyID: companyID, priceListID: priceListID}, nil
}

func (g *Gateway) Close() error {
	return g.db.Close()
}

func (g *Gateway) SearchProducts(ctx context.Context, query string, warehouseID string, limit int) ([]domain.Product, error) {
	query = strings.TrimSpace(query)
	if query == "" || warehouseID == "" {
		return []domain.Product{}, nil
	}
	if limit < 1 {
		limit = 20
	}

	rows, err := g.db.QueryContext(ctx, `
		SELECT p.id, p.sku, p.name,
			COALESCE(b.name, ''), COALESCE(c.name, ''),
			p.unit_code,
			COALESCE(pl.unit_price, 0),
			COALESCE(ws.available_qty, 0),
			COALESCE(p.min_stock, 0),
			p.is_serialized,
			COALESCE(p.tax_rate_pct, $5)
		FROM products p
		LEFT JOIN brands b ON b.id = p.brand_id
		LEFT JOIN categories c ON c.id = p.category_id
		LEFT JOIN price_list_items pl ON pl.product_id = p.id AND pl.price_list_id = $4
		LEFT JOIN warehouse_stock ws ON ws.product_id = p.id AND ws.warehouse_id = $2
		WHERE p.active = true
			AND (p.sku ILIKE '%' || $1 || '%' OR p.name ILIKE '%' || $1 || '%')
		ORDER BY p.sku
		LIMIT $3
	`, query, warehouseID, limit, g.priceListID, domain.StandardTaxRatePct)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, limit)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.BrandName, &p.CategoryName, &p.UnitCode,
			&p.CurrentPrice, &p.AvailableStock, &p.MinStock, &p.IsSerialized, &p.TaxRatePct); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (g *Gateway) SearchCustomers(ctx context.Context, query string, limit int) ([]domain.Customer, error) {
	query = strings.TrimSpace(query)
	if limit < 1 {
		limit = 20
	}

	rows, err := g.db.QueryContext(ctx, `
		SELECT id, document_type, document_number, name,
			COALESCE(email, ''), COALESCE(phone, ''), COALESCE(address, ''), is_frequent
		FROM customers
		WHERE company_id = $2
			AND ($1 = '' OR name ILIKE '%' || $1 || '%' OR document_number LIKE $1 || '%')
		ORDER BY name
		LIMIT $3
	`, query, g.companyID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, limit)
	for rows.Next() {
		var c domain.Customer
		if err := rows.Scan(&c.ID, &c.DocumentType, &c.DocumentNumber, &c.Name, &c.Email, &c.Phone, &c.Address, &c.IsFrequent); err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return customers, nil
}

func (g *Gateway) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (*domain.Customer, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.DocumentType = strings.TrimSpace(req.DocumentType)
	req.DocumentNumber = strings.TrimSpace(req.DocumentNumber)
	if req.Name == "" || req.DocumentType == "" || req.DocumentNumber == "" {
		return nil, backend.ErrInvalidInput
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
	_, err := g.db.ExecContext(ctx, `
		INSERT INTO customers (id, company_id, document_type, document_number, name, email, phone, address, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,now())
	`, customer.ID, g.companyID, customer.DocumentType, customer.DocumentNumber, customer.Name,
		nullIfEmpty(customer.Email), nullIfEmpty(customer.Phone), nullIfEmpty(customer.Address))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, backend.ErrInvalidInput
		}
		return nil, err
	}
	return &customer, nil
}

func (g *Gateway) DefaultCustomer(ctx context.Context) (*domain.Customer, error) {
	var c domain.Customer
	err := g.db.QueryRowContext(ctx, `
		SELECT id, document_type, document_number, name,
			COALESCE(email, ''), COALESCE(phone, ''), COALESCE(address, ''), is_frequent
		FROM customers
		WHERE company_id = $1 AND document_number = '00000000'
		LIMIT 1
	`, g.companyID).Scan(&c.ID, &c.DocumentType, &c.DocumentNumber, &c.Name, &c.Email, &c.Phone, &c.Address, &c.IsFrequent)
	if err == nil {
		return &c, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	c = domain.Customer{
		ID:             xid.New("cust"),
		DocumentType:   "DNI",
		DocumentNumber: "00000000",
		Name:           "Cliente Varios",
	}
	_, err = g.db.ExecContext(ctx, `
		INSERT INTO customers (id, company_id, document_type, document_number, name, created_at)
		VALUES ($1,$2,$3,$4,$5,now())
		ON CONFLICT (company_id, document_number) DO NOTHING
	`, c.ID, g.companyID, c.DocumentType, c.DocumentNumber, c.Name)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (g *Gateway) ValidateCartStock(ctx context.Context, warehouseID string, lines []domain.StockLine) (domain.StockValidation, error) {
	if warehouseID == "" || len(lines) == 0 {
		return domain.StockValidation{}, backend.ErrInvalidInput
	}

	payload, err := json.Marshal(lines)
	if err != nil {
		return domain.StockValidation{}, err
	}

	var raw []byte
	err = g.db.QueryRowContext(ctx, `
		SELECT validate_pos_cart($1, $2, $3::jsonb)
	`, g.companyID, warehouseID, payload).Scan(&raw)
	if err != nil {
		return domain.StockValidation{}, err
	}

	var validation domain.StockValidation
	if err := json.Unmarshal(raw, &validation); err != nil {
		return domain.StockValidation{}, err
	}
	return validation, nil
}

func (g *Gateway) ProcessSale(ctx context.Context, req domain.SaleRequest) (domain.SaleResult, error) {
	if req.SessionID == "" || req.CustomerID == "" || len(req.Items) == 0 || len(req.Payments) == 0 {
		return domain.SaleResult{}, backend.ErrInvalidInput
	}

	items, err := json.Marshal(req.Items)
	if err != nil {
		return domain.SaleResult{}, err
	}
	payments, err := json.Marshal(req.Payments)
	if err != nil {
		return domain.SaleResult{}, err
	}

	var raw []byte
	err = g.db.QueryRowContext(ctx, `
		SELECT process_pos_sale($1, $2, $3::jsonb, $4::jsonb, $5)
	`, req.SessionID, req.CustomerID, items, payments, nullIfEmpty(req.Notes)).Scan(&raw)
	if err != nil {
		return domain.SaleResult{}, err
	}

	var result domain.SaleResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return domain.SaleResult{}, err
	}
	return result, nil
}

func (g *Gateway) OpenSession(ctx context.Context, session domain.Session) (*domain.Session, error) {
	if session.UserID == "" || session.WarehouseID == "" || session.OpeningAmount < 0 {
		return nil, backend.ErrInvalidInput
	}
	if session.ID == "" {
		session.ID = xid.New("session")
	}
	session.Status = domain.SessionStatusOpen
	if session.OpenedAt.IsZero() {
		session.OpenedAt = time.Now().UTC()
	}

	// pos_sessions carries a partial unique index on (user_id, warehouse_id)
	// WHERE status = 'OPEN'; a violation means a session is already open.
	_, err := g.db.ExecContext(ctx, `
		INSERT INTO pos_sessions (id, user_id, warehouse_id, opened_at, opening_amount, status, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, session.ID, session.UserID, session.WarehouseID, session.OpenedAt, session.OpeningAmount,
		session.Status, nullIfEmpty(session.Notes))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, backend.ErrSessionConflict
		}
		return nil, err
	}
	return &session, nil
}

func (g *Gateway) GetOpenSession(ctx context.Context, userID string, warehouseID string) (*domain.Session, error) {
	session, err := scanSession(g.db.QueryRowContext(ctx, `
		SELECT id, user_id, warehouse_id, opened_at, closed_at, opening_amount,
			closing_amount, expected_amount, difference, status, COALESCE(notes, '')
		FROM pos_sessions
		WHERE user_id = $1 AND warehouse_id = $2 AND status = 'OPEN'
		ORDER BY opened_at DESC
		LIMIT 1
	`, userID, warehouseID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, backend.ErrNotFound
		}
		return nil, err
	}
	return session, nil
}

func (g *Gateway) CloseSession(ctx context.Context, session domain.Session) (*domain.Session, error) {
	closed, err := scanSession(g.db.QueryRowContext(ctx, `
		UPDATE pos_sessions
		SET status = 'CLOSED', closed_at = $2, closing_amount = $3,
			expected_amount = $4, difference = $5,
			notes = CASE WHEN $6 <> '' THEN $6 ELSE notes END
		WHERE id = $1 AND status = 'OPEN'
		RETURNING id, user_id, warehouse_id, opened_at, closed_at, opening_amount,
			closing_amount, expected_amount, difference, status, COALESCE(notes, '')
	`, session.ID, session.ClosedAt, session.ClosingAmount, session.ExpectedAmount, session.Difference, session.Notes))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, backend.ErrNotFound
		}
		return nil, err
	}
	return closed, nil
}

func (g *Gateway) ListTodaySessions(ctx context.Context) ([]domain.Session, error) {
	rows, err := g.db.QueryContext(ctx, `
		SELECT id, user_id, warehouse_id, opened_at, closed_at, opening_amount,
			closing_amount, expected_amount, difference, status, COALESCE(notes, '')
		FROM pos_sessions
		WHERE opened_at >= CURRENT_DATE
		ORDER BY opened_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := make([]domain.Session, 0, 8)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *session)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (g *Gateway) SessionStats(ctx context.Context, sessionID string) (domain.SessionStats, error) {
	var raw []byte
	err := g.db.QueryRowContext(ctx, `
		SELECT get_pos_session_stats($1)
	`, sessionID).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.SessionStats{}, backend.ErrNotFound
		}
		return domain.SessionStats{}, err
	}

	var stats domain.SessionStats
	if err := json.Unmarshal(raw, &stats); err != nil {
		return domain.SessionStats{}, err
	}
	stats.SessionID = sessionID
	if stats.GeneratedAt.IsZero() {
		stats.GeneratedAt = time.Now().UTC()
	}
	return stats, nil
}

func (g *Gateway) SessionExpectedCash(ctx context.Context, sessionID string) (float64, error) {
	var cash float64
	err := g.db.QueryRowContext(ctx, `
		SELECT calculate_session_expected_amount($1)
	`, sessionID).Scan(&cash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, backend.ErrNotFound
		}
		return 0, err
	}
	return cash, nil
}

func (g *Gateway) CompanyInfo(ctx context.Context) (domain.ReceiptCompany, error) {
	var company domain.ReceiptCompany
	err := g.db.QueryRowContext(ctx, `
		SELECT name, ruc, COALESCE(address, ''), COALESCE(phone, '')
		FROM companies
		WHERE id = $1
	`, g.companyID).Scan(&company.Name, &company.RUC, &company.Address, &company.Phone)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return company, backend.ErrNotFound
		}
		return company, err
	}
	return company, nil
}

func (g *Gateway) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.TrimSpace(user.Username)
	if user.Username == "" || user.Password == "" {
		return backend.ErrInvalidInput
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := g.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return backend.ErrInvalidInput
		}
		return err
	}
	return nil
}

func (g *Gateway) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := g.db.QueryContext(ctx, `
		SELECT username, password_hash, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var u domain.UserAccount
		if err := rows.Scan(&u.Username, &u.Password, &u.Role, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.CreatedAt = u.CreatedAt.UTC()
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (g *Gateway) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := g.db.ExecContext(ctx, `
		UPDATE users
		SET password_hash = $2
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return backend.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var s domain.Session
	var closedAt sql.NullTime
	var closingAmount, expectedAmount, difference sql.NullFloat64
	err := row.Scan(&s.ID, &s.UserID, &s.WarehouseID, &s.OpenedAt, &closedAt, &s.OpeningAmount,
		&closingAmount, &expectedAmount, &difference, &s.Status, &s.Notes)
	if err != nil {
		return nil, err
	}
	s.OpenedAt = s.OpenedAt.UTC()
	if closedAt.Valid {
		at := closedAt.Time.UTC()
		s.ClosedAt = &at
	}
	if closingAmount.Valid {
		v := closingAmount.Float64
		s.ClosingAmount = &v
	}
	if expectedAmount.Valid {
		v := expectedAmount.Float64
		s.ExpectedAmount = &v
	}
	if difference.Valid {
		v := difference.Float64
		s.Difference = &v
	}
	return &s, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}
