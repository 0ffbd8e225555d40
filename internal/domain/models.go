package domain

import "time"

// Product is the POS-facing projection of a catalog product, scoped to a
// warehouse and the default price list.
type Product struct {
	ID             string  `json:"id"`
	SKU            string  `json:"sku"`
	Name           string  `json:"name"`
	BrandName      string  `json:"brand_name,omitempty"`
	CategoryName   string  `json:"category_name,omitempty"`
	UnitCode       string  `json:"unit_code"`
	CurrentPrice   float64 `json:"current_price"`
	AvailableStock float64 `json:"available_stock"`
	MinStock       float64 `json:"min_stock"`
	IsSerialized   bool    `json:"is_serialized"`
	TaxRatePct     float64 `json:"tax_rate_pct"`
}

// StandardTaxRatePct is the jurisdiction's default VAT (IGV) rate applied to
// taxable lines when the product carries no explicit rate.
const StandardTaxRatePct = 18.0

type Customer struct {
	ID             string `json:"id"`
	DocumentType   string `json:"document_type"`
	DocumentNumber string `json:"document_number"`
	Name           string `json:"name"`
	Email          string `json:"email,omitempty"`
	Phone          string `json:"phone,omitempty"`
	Address        string `json:"address,omitempty"`
	IsFrequent     bool   `json:"is_frequent"`
}

type CustomerCreateRequest struct {
	DocumentType   string `json:"document_type"`
	DocumentNumber string `json:"document_number"`
	Name           string `json:"name"`
	Email          string `json:"email,omitempty"`
	Phone          string `json:"phone,omitempty"`
	Address        string `json:"address,omitempty"`
}

// CartLine is one product in the active cart. Subtotal and Total are derived
// and kept in sync by the cart on every mutation.
type CartLine struct {
	ProductID      string  `json:"product_id"`
	SKU            string  `json:"sku"`
	Name           string  `json:"name"`
	Quantity       float64 `json:"quantity"`
	UnitPrice      float64 `json:"unit_price"`
	DiscountPct    float64 `json:"discount_pct"`
	TaxRatePct     float64 `json:"tax_rate_pct"`
	Subtotal       float64 `json:"subtotal"`
	Total          float64 `json:"total"`
	AvailableStock float64 `json:"available_stock"`
}

// CartTotals carries the cart-level aggregates. DiscountAmount is computed
// over the already-discounted line subtotals; document totals depend on this
// exact arithmetic, so it is preserved as-is.
type CartTotals struct {
	Subtotal       float64 `json:"subtotal"`
	TaxAmount      float64 `json:"tax_amount"`
	DiscountAmount float64 `json:"discount_amount"`
	Total          float64 `json:"total"`
}

const (
	TenderCash     = "CASH"
	TenderCard     = "CARD"
	TenderTransfer = "TRANSFER"
)

// Tender is one payment instrument applied toward the current cart's total.
type Tender struct {
	Type      string  `json:"type"`
	Amount    float64 `json:"amount"`
	Reference string  `json:"reference,omitempty"`
	CardType  string  `json:"card_type,omitempty"`
	AuthCode  string  `json:"auth_code,omitempty"`
}

const (
	SessionStatusOpen   = "OPEN"
	SessionStatusClosed = "CLOSED"
)

// Session is one cashier's cash-drawer working period.
type Session struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	WarehouseID    string     `json:"warehouse_id"`
	OpenedAt       time.Time  `json:"opened_at"`
	ClosedAt       *time.Time `json:"closed_at,omitempty"`
	OpeningAmount  float64    `json:"opening_amount"`
	ClosingAmount  *float64   `json:"closing_amount,omitempty"`
	ExpectedAmount *float64   `json:"expected_amount,omitempty"`
	Difference     *float64   `json:"difference,omitempty"`
	Status         string     `json:"status"`
	Notes          string     `json:"notes,omitempty"`
}

type SessionOpenRequest struct {
	WarehouseID   string  `json:"warehouse_id"`
	OpeningAmount float64 `json:"opening_amount"`
	Notes         string  `json:"notes,omitempty"`
}

type SessionCloseRequest struct {
	ClosingAmount float64 `json:"closing_amount"`
	Notes         string  `json:"notes,omitempty"`
}

type SessionResponse struct {
	Session Session `json:"session"`
}

const (
	SaleStatusCompleted = "COMPLETED"
	SaleStatusCancelled = "CANCELLED"
)

// Sale is the immutable record of a completed transaction. The document
// series and number are assigned by the backend procedure, never locally.
type Sale struct {
	ID             string     `json:"id"`
	SessionID      string     `json:"session_id"`
	CustomerID     string     `json:"customer_id"`
	DocType        string     `json:"doc_type"`
	Series         string     `json:"series"`
	Number         string     `json:"number"`
	SaleDate       time.Time  `json:"sale_date"`
	Items          []CartLine `json:"items"`
	Payments       []Tender   `json:"payments"`
	Subtotal       float64    `json:"subtotal"`
	TaxAmount      float64    `json:"tax_amount"`
	DiscountAmount float64    `json:"discount_amount"`
	Total          float64    `json:"total"`
	Status         string     `json:"status"`
	Notes          string     `json:"notes,omitempty"`
}

// SaleItemRow is the row shape the sale procedure expects per cart line.
type SaleItemRow struct {
	ProductID   string  `json:"product_id"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	DiscountPct float64 `json:"discount"`
}

// SalePaymentRow is the row shape the sale procedure expects per tender.
type SalePaymentRow struct {
	Type      string  `json:"type"`
	Amount    float64 `json:"amount"`
	Reference string  `json:"reference,omitempty"`
	CardType  string  `json:"card_type,omitempty"`
	AuthCode  string  `json:"auth_code,omitempty"`
}

// SaleRequest is the assembled payload for the atomic sale procedure.
type SaleRequest struct {
	SessionID  string           `json:"session_id"`
	CustomerID string           `json:"customer_id"`
	Items      []SaleItemRow    `json:"items"`
	Payments   []SalePaymentRow `json:"payments"`
	Notes      string           `json:"notes,omitempty"`
}

// SaleResult mirrors the procedure's structured response. Success=false with
// a populated Error means the backend rejected the sale atomically.
type SaleResult struct {
	Success        bool   `json:"success"`
	Error          string `json:"error,omitempty"`
	SalesDocID     string `json:"sales_doc_id,omitempty"`
	DocumentNumber string `json:"document_number,omitempty"`
}

// StockValidationItem reports per-line sufficiency from the pre-flight check.
type StockValidationItem struct {
	ProductID    string `json:"product_id"`
	ProductName  string `json:"product_name"`
	IsSufficient bool   `json:"is_sufficient"`
}

type StockValidation struct {
	HasStockErrors bool                  `json:"has_stock_errors"`
	Items          []StockValidationItem `json:"items"`
}

// StockLine is one requested line in a stock validation call.
type StockLine struct {
	ProductID string  `json:"product_id"`
	Quantity  float64 `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

type TopProduct struct {
	ProductID string  `json:"product_id"`
	Name      string  `json:"name"`
	Quantity  float64 `json:"quantity"`
	Revenue   float64 `json:"revenue"`
}

type PaymentBreakdown struct {
	Method     string  `json:"method"`
	Amount     float64 `json:"amount"`
	Percentage float64 `json:"percentage"`
}

// SessionStats is the polled aggregate the session panel displays.
type SessionStats struct {
	SessionID         string             `json:"session_id"`
	TodaySales        float64            `json:"today_sales"`
	TodayTransactions int                `json:"today_transactions"`
	AverageTicket     float64            `json:"average_ticket"`
	TopProducts       []TopProduct       `json:"top_products"`
	PaymentBreakdown  []PaymentBreakdown `json:"payment_breakdown"`
	GeneratedAt       time.Time          `json:"generated_at"`
}

// ReceiptData bundles everything a receipt renderer needs.
type ReceiptData struct {
	Sale     Sale           `json:"sale"`
	Customer Customer       `json:"customer"`
	Company  ReceiptCompany `json:"company"`
	QRCode   string         `json:"qr_code,omitempty"`
}

type ReceiptCompany struct {
	Name    string `json:"name"`
	RUC     string `json:"ruc"`
	Address string `json:"address"`
	Phone   string `json:"phone,omitempty"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

// Actor is the authenticated principal carried through request contexts.
type Actor struct {
	Username string
	Role     string
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}
