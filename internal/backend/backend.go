// Package backend defines the call/response contract with the hosted
// relational backend. The POS core never talks SQL or transactions itself;
// everything transactional happens behind ProcessSale on the far side.
package backend

import (
	"context"
	"errors"

	"tiendapos/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrSessionConflict   = errors.New("an open session already exists")
)

// Gateway is implemented by the postgres adapter in production and by the
// seeded memory adapter in dev and tests.
type Gateway interface {
	// SearchProducts returns at most `limit` products matching the free-text
	// or SKU query, scoped to a warehouse and the default price list.
	SearchProducts(ctx context.Context, query string, warehouseID string, limit int) ([]domain.Product, error)

	SearchCustomers(ctx context.Context, query string, limit int) ([]domain.Customer, error)
	CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (*domain.Customer, error)
	// DefaultCustomer resolves the walk-in customer, creating it on first use.
	DefaultCustomer(ctx context.Context) (*domain.Customer, error)

	// ValidateCartStock reconciles requested quantities against live stock.
	// Advisory only: stock may still change before ProcessSale runs.
	ValidateCartStock(ctx context.Context, warehouseID string, lines []domain.StockLine) (domain.StockValidation, error)

	// ProcessSale invokes the atomic sale procedure: stock deduction, ledger
	// posting, document numbering and payment recording happen indivisibly.
	ProcessSale(ctx context.Context, req domain.SaleRequest) (domain.SaleResult, error)

	OpenSession(ctx context.Context, session domain.Session) (*domain.Session, error)
	GetOpenSession(ctx context.Context, userID string, warehouseID string) (*domain.Session, error)
	CloseSession(ctx context.Context, session domain.Session) (*domain.Session, error)
	ListTodaySessions(ctx context.Context) ([]domain.Session, error)

	SessionStats(ctx context.Context, sessionID string) (domain.SessionStats, error)
	// SessionExpectedCash returns the cash sales recorded since the session
	// opened; used only during close.
	SessionExpectedCash(ctx context.Context, sessionID string) (float64, error)

	CompanyInfo(ctx context.Context) (domain.ReceiptCompany, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
