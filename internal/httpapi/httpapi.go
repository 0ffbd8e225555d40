package httpapi

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"tiendapos/backend/internal/backend"
	"tiendapos/backend/internal/domain"
	"tiendapos/backend/internal/receipt"
	"tiendapos/backend/internal/service"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *clientLimiter
	csrfSecret    []byte
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string, loginRatePerMin int) *API {
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		// Fall back to a deterministic secret if crypto/rand fails (should not happen in practice).
		csrfSecret = []byte("csrf-fallback-secret-change-me!!")
	}
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newClientLimiter(loginRatePerMin),
		csrfSecret:    csrfSecret,
	}
}

// csrfTokenForHour computes an HMAC-SHA256 token for the given hour bucket
// (expressed as Unix time truncated to the hour). The token is hex-encoded.
func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

func (a *API) generateCSRFToken() string {
	now := time.Now().UTC()
	bucket := now.Truncate(time.Hour).Unix()
	return a.csrfTokenForHour(bucket)
}

// validateCSRFToken checks whether the provided token matches the current or
// previous hour bucket, giving a 2-hour validity window.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	now := time.Now().UTC()
	currentBucket := now.Truncate(time.Hour).Unix()
	prevBucket := currentBucket - 3600

	expected1 := a.csrfTokenForHour(currentBucket)
	expected2 := a.csrfTokenForHour(prevBucket)

	return hmac.Equal([]byte(token), []byte(expected1)) ||
		hmac.Equal([]byte(token), []byte(expected2))
}

// clientLimiter keeps a token-bucket limiter per client address.
type clientLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newClientLimiter(perMinute int) *clientLimiter {
	if perMinute < 1 {
		perMinute = 30
	}
	return &clientLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    perMinute,
	}
}

func (l *clientLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	limiter, ok := l.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[key] = limiter
	}
	l.mu.Unlock()
	return limiter.Allow()
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func terminalID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Terminal-ID"))
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("/api/v1/auth/csrf-token", a.handleCSRFToken)

	mux.HandleFunc("/api/v1/products", a.requireAuth(a.handleProducts, "cashier", "admin"))
	mux.HandleFunc("/api/v1/customers", a.requireAuth(a.handleCustomers, "cashier", "admin"))

	mux.HandleFunc("/api/v1/register", a.requireAuth(a.handleRegisterState, "cashier", "admin"))
	mux.HandleFunc("/api/v1/register/lines", a.requireAuth(a.handleRegisterLines, "cashier", "admin"))
	mux.HandleFunc("/api/v1/register/lines/", a.requireAuth(a.handleRegisterLineActions, "cashier", "admin"))
	mux.HandleFunc("/api/v1/register/tenders", a.requireAuth(a.handleRegisterTenders, "cashier", "admin"))
	mux.HandleFunc("/api/v1/register/tenders/", a.requireAuth(a.handleRegisterTenderActions, "cashier", "admin"))
	mux.HandleFunc("/api/v1/register/customer", a.requireAuth(a.handleRegisterCustomer, "cashier", "admin"))
	mux.HandleFunc("/api/v1/register/reset", a.requireAuth(a.handleRegisterReset, "cashier", "admin"))
	mux.HandleFunc("/api/v1/register/validate-stock", a.requireAuth(a.handleValidateStock, "cashier", "admin"))
	mux.HandleFunc("/api/v1/register/complete", a.requireAuth(a.handleCompleteSale, "cashier", "admin"))

	mux.HandleFunc("/api/v1/sessions/open", a.requireAuth(a.handleSessionOpen, "cashier", "admin"))
	mux.HandleFunc("/api/v1/sessions/close", a.requireAuth(a.handleSessionClose, "cashier", "admin"))
	mux.HandleFunc("/api/v1/sessions/current", a.requireAuth(a.handleSessionCurrent, "cashier", "admin"))
	mux.HandleFunc("/api/v1/sessions/today", a.requireAuth(a.handleSessionsToday, "admin"))
	mux.HandleFunc("/api/v1/sessions/stats", a.requireAuth(a.handleSessionStats, "cashier", "admin"))

	mux.HandleFunc("/api/v1/receipts/", a.requireAuth(a.handleReceipt, "cashier", "admin"))

	mux.HandleFunc("/api/v1/users/cashiers", a.requireAuth(a.handleCashiers, "admin"))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, errors.New("invalid credentials"))
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleCSRFToken returns a stateless CSRF token valid for the current hour bucket.
// Clients must include this token in the X-CSRF-Token header for all mutating requests.
func (a *API) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": a.generateCSRFToken(),
	})
}

// csrfExemptPaths lists paths that are exempt from CSRF validation. Login is
// excluded because it is called without a prior CSRF token fetch.
var csrfExemptPaths = []string{
	"/api/v1/auth/login",
}

// checkCSRF enforces CSRF token validation for state-changing methods.
// Returns false and writes an error response if validation fails.
func (a *API) checkCSRF(w http.ResponseWriter, r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return true
	}
	for _, exempt := range csrfExemptPaths {
		if r.URL.Path == exempt {
			return true
		}
	}
	token := strings.TrimSpace(r.Header.Get("X-CSRF-Token"))
	if !a.validateCSRFToken(token) {
		writeError(w, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
		return false
	}
	return true
}

func (a *API) handleProducts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	query := r.URL.Query().Get("q")
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 20, 100)
	products, err := a.service.SearchProducts(r.Context(), query, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleCustomers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		query := r.URL.Query().Get("q")
		limit := parsePositiveLimit(r.URL.Query().Get("limit"), 20, 100)
		customers, err := a.service.SearchCustomers(r.Context(), query, limit)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"customers": customers})
	case http.MethodPost:
		var req domain.CustomerCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		customer, err := a.service.CreateCustomer(r.Context(), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"customer": customer})
	default:
		writeMethodNotAllowed(w)
	}
}

// registerStateResponse is the terminal's full screen state in one payload.
type registerStateResponse struct {
	Lines           []domain.CartLine `json:"lines"`
	Tenders         []domain.Tender   `json:"tenders"`
	Totals          domain.CartTotals `json:"totals"`
	TotalTendered   float64           `json:"total_tendered"`
	ChangeDue       float64           `json:"change_due"`
	AmountRemaining float64           `json:"amount_remaining"`
	Customer        *domain.Customer  `json:"customer,omitempty"`
	CanComplete     bool              `json:"can_complete"`
}

func (a *API) registerState(terminal string) registerStateResponse {
	reg := a.service.Register(terminal)
	snap := reg.Snapshot()
	return registerStateResponse{
		Lines:           snap.Lines,
		Tenders:         snap.Tenders,
		Totals:          snap.Totals,
		TotalTendered:   snap.TotalTendered,
		ChangeDue:       reg.ChangeDue(),
		AmountRemaining: reg.AmountRemaining(),
		Customer:        snap.Customer,
		CanComplete:     reg.CanCompleteSale(),
	}
}

func (a *API) handleRegisterState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"register": a.registerState(terminalID(r))})
}

type addLineRequest struct {
	Product  domain.Product `json:"product"`
	Quantity float64        `json:"quantity"`
}

func (a *API) handleRegisterLines(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req addLineRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Product.ID == "" {
		writeError(w, http.StatusBadRequest, errors.New("product is required"))
		return
	}

	if req.Quantity == 0 {
		req.Quantity = 1
	}

	terminal := terminalID(r)
	if !a.service.AddToCart(terminal, req.Product, req.Quantity) {
		writeError(w, http.StatusBadRequest, errors.New("invalid quantity or insufficient stock"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"register": a.registerState(terminal)})
}

type updateLineRequest struct {
	Quantity    *float64 `json:"quantity,omitempty"`
	DiscountPct *float64 `json:"discount_pct,omitempty"`
}

func (a *API) handleRegisterLineActions(w http.ResponseWriter, r *http.Request) {
	productID := strings.TrimPrefix(r.URL.Path, "/api/v1/register/lines/")
	if productID == "" || strings.Contains(productID, "/") {
		writeError(w, http.StatusNotFound, errors.New("unknown cart line"))
		return
	}
	terminal := terminalID(r)

	switch r.Method {
	case http.MethodPatch:
		var req updateLineRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if req.Quantity == nil && req.DiscountPct == nil {
			writeError(w, http.StatusBadRequest, errors.New("nothing to update"))
			return
		}
		if req.Quantity != nil && !a.service.UpdateQuantity(terminal, productID, *req.Quantity) {
			writeError(w, http.StatusBadRequest, errors.New("invalid quantity or insufficient stock"))
			return
		}
		if req.DiscountPct != nil && !a.service.UpdateDiscount(terminal, productID, *req.DiscountPct) {
			writeError(w, http.StatusBadRequest, errors.New("discount must be between 0 and 100"))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"register": a.registerState(terminal)})
	case http.MethodDelete:
		a.service.RemoveLine(terminal, productID)
		writeJSON(w, http.StatusOK, map[string]any{"register": a.registerState(terminal)})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleRegisterTenders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var tender domain.Tender
	if err := decodeJSON(r, &tender); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	terminal := terminalID(r)
	if !a.service.AddTender(terminal, tender) {
		writeError(w, http.StatusBadRequest, errors.New("tender rejected: non-positive amount or above allowed overpayment"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"register": a.registerState(terminal)})
}

func (a *API) handleRegisterTenderActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeMethodNotAllowed(w)
		return
	}

	raw := strings.TrimPrefix(r.URL.Path, "/api/v1/register/tenders/")
	index, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid tender index"))
		return
	}

	terminal := terminalID(r)
	a.service.RemoveTender(terminal, index)
	writeJSON(w, http.StatusOK, map[string]any{"register": a.registerState(terminal)})
}

type selectCustomerRequest struct {
	Customer *domain.Customer `json:"customer,omitempty"`
	WalkIn   bool             `json:"walk_in,omitempty"`
}

func (a *API) handleRegisterCustomer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req selectCustomerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	terminal := terminalID(r)
	switch {
	case req.WalkIn:
		if _, err := a.service.SelectWalkInCustomer(r.Context(), terminal); err != nil {
			writeServiceError(w, err)
			return
		}
	case req.Customer != nil && req.Customer.ID != "":
		a.service.SelectCustomer(terminal, *req.Customer)
	default:
		writeError(w, http.StatusBadRequest, errors.New("customer or walk_in is required"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"register": a.registerState(terminal)})
}

func (a *API) handleRegisterReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	terminal := terminalID(r)
	a.service.ResetRegister(terminal)
	writeJSON(w, http.StatusOK, map[string]any{"register": a.registerState(terminal)})
}

func (a *API) handleValidateStock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	validation, err := a.service.ValidateStock(r.Context(), terminalID(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"validation": validation})
}

func (a *API) handleCompleteSale(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req completeSaleRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	sale, err := a.service.CompleteSale(r.Context(), terminalID(r), req.Notes)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"sale": sale})
}

type completeSaleRequest struct {
	Notes string `json:"notes,omitempty"`
}

func (a *API) handleSessionOpen(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.SessionOpenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.OpenSession(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleSessionClose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.SessionCloseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.CloseSession(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleSessionCurrent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	resp, err := a.service.CurrentSession(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleSessionsToday(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	sessions, err := a.service.TodaySessions(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (a *API) handleSessionStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	stats, err := a.service.SessionStats(r.Context(), sessionID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": stats})
}

func (a *API) handleReceipt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	saleID := strings.TrimPrefix(r.URL.Path, "/api/v1/receipts/")
	if saleID == "" || strings.Contains(saleID, "/") {
		writeError(w, http.StatusNotFound, errors.New("unknown sale"))
		return
	}

	data, err := a.service.Receipt(r.Context(), saleID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	switch strings.ToLower(r.URL.Query().Get("format")) {
	case "", "json":
		writeJSON(w, http.StatusOK, map[string]any{"receipt": data})
	case "html":
		html, err := receipt.HTML(data)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(html))
	case "text":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(receipt.Preview(data)))
	case "escpos":
		writeJSON(w, http.StatusOK, map[string]any{
			"sale_id":       data.Sale.ID,
			"escpos_base64": receipt.EscposBase64(data),
			"file_name":     fmt.Sprintf("receipt-%s.bin", data.Sale.ID),
		})
	case "pdf":
		pdf, err := receipt.PDF(data)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"sale_id":    data.Sale.ID,
			"pdf_base64": base64.StdEncoding.EncodeToString(pdf),
			"file_name":  fmt.Sprintf("receipt-%s.pdf", data.Sale.ID),
		})
	default:
		writeError(w, http.StatusBadRequest, errors.New("unsupported receipt format"))
	}
}

func (a *API) handleCashiers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cashiers, err := a.service.ListCashiers(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"cashiers": cashiers})
	case http.MethodPost:
		var req domain.CashierCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		cashier, err := a.service.CreateCashier(r.Context(), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"cashier": cashier})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token, X-Terminal-ID")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		// Enforce CSRF protection for all state-changing requests.
		if !a.checkCSRF(w, r) {
			return
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(startedAt))
	})
}

// writeServiceError maps service and backend sentinels onto HTTP statuses:
// conflicts on session state, unprocessable on settlement rejections, and
// plain bad requests on input problems.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, backend.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, backend.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, backend.ErrSessionConflict), errors.Is(err, service.ErrNoOpenSession):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, service.ErrSaleNotReady),
		errors.Is(err, service.ErrSettlementRejected),
		errors.Is(err, backend.ErrInsufficientStock):
		writeError(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, service.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, err)
	case errors.Is(err, service.ErrForbidden), errors.Is(err, service.ErrNoActor):
		writeError(w, http.StatusForbidden, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	// For 5xx responses, return a generic message to avoid leaking internal
	// implementation details (stack traces, SQL errors, file paths, etc.).
	// 4xx responses are user-facing so we return the original error message.
	msg := err.Error()
	if status >= 500 {
		log.Printf("internal error (status %d): %v", status, err)
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
