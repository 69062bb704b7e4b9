package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/netip"
	"strconv"
	"strings"

	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"posledger/internal/logger"
	"posledger/internal/service"
	"posledger/internal/store"
)

const maxBodyBytes = 1 << 20

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	log           *slog.Logger
	requests      *limiter.Limiter
	logins        *limiter.Limiter
	pins          *limiter.Limiter
	csrf          *csrfGuard
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string, log *slog.Logger) *API {
	if log == nil {
		log = slog.Default()
	}
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		log:           log,
		requests:      newLimiter("600-M"),
		logins:        newLimiter("5-M"),
		pins:          newLimiter("8-M"),
		csrf:          newCSRFGuard(),
	}
}

func newLimiter(formatted string) *limiter.Limiter {
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		panic("httpapi: bad rate " + formatted + ": " + err.Error())
	}
	return limiter.New(memory.NewStore(), rate)
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	cashier := []string{roleCashier, roleAdmin}
	admin := []string{roleAdmin}

	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.HandleFunc("POST /api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("GET /api/v1/auth/csrf-token", a.handleCSRFToken)

	mux.HandleFunc("GET /api/v1/items", a.requireAuth(a.handleListItems, cashier...))
	mux.HandleFunc("POST /api/v1/items", a.requireAuth(a.handleAddItem, admin...))
	mux.HandleFunc("POST /api/v1/items/bulk-price", a.requireAuth(a.handleBulkPrice, admin...))
	mux.HandleFunc("GET /api/v1/items/{id}", a.requireAuth(a.handleGetItem, cashier...))
	mux.HandleFunc("PATCH /api/v1/items/{id}", a.requireAuth(a.handleEditItem, admin...))
	mux.HandleFunc("DELETE /api/v1/items/{id}", a.requireAuth(a.handleDeleteItem, admin...))
	mux.HandleFunc("POST /api/v1/items/{id}/stock", a.requireAuth(a.handleAdjustStock, admin...))

	mux.HandleFunc("GET /api/v1/scan/{code}", a.requireAuth(a.handleScan, cashier...))
	mux.HandleFunc("POST /api/v1/scan", a.requireAuth(a.handleRegisterScan, admin...))

	mux.HandleFunc("GET /api/v1/cart", a.requireAuth(a.handleCart, cashier...))
	mux.HandleFunc("DELETE /api/v1/cart", a.requireAuth(a.handleClearCart, cashier...))
	mux.HandleFunc("POST /api/v1/cart/items", a.requireAuth(a.handleAddToCart, cashier...))
	mux.HandleFunc("PATCH /api/v1/cart/items/{id}", a.requireAuth(a.handleUpdateCartItem, cashier...))
	mux.HandleFunc("DELETE /api/v1/cart/items/{id}", a.requireAuth(a.handleRemoveCartItem, cashier...))
	mux.HandleFunc("POST /api/v1/cart/items/{id}/override", a.requireAuth(a.handleOverride, cashier...))

	mux.HandleFunc("POST /api/v1/checkout", a.requireAuth(a.handleCheckout, cashier...))
	mux.HandleFunc("POST /api/v1/checkout/quote", a.requireAuth(a.handleQuote, cashier...))
	mux.HandleFunc("POST /api/v1/checkout/park", a.requireAuth(a.handlePark, cashier...))

	mux.HandleFunc("GET /api/v1/bills", a.requireAuth(a.handleListBills, cashier...))
	mux.HandleFunc("GET /api/v1/bills/{id}", a.requireAuth(a.handleGetBill, cashier...))
	mux.HandleFunc("POST /api/v1/bills/{id}/settle", a.requireAuth(a.handleSettle, cashier...))
	mux.HandleFunc("POST /api/v1/bills/{id}/cancel", a.requireAuth(a.handleCancel, cashier...))

	mux.HandleFunc("GET /api/v1/analytics/payments", a.requireAuth(a.handlePaymentAnalytics, admin...))
	mux.HandleFunc("GET /api/v1/analytics/profit", a.requireAuth(a.handleProfitAnalytics, admin...))
	mux.HandleFunc("GET /api/v1/analytics/inventory", a.requireAuth(a.handleInventoryValue, admin...))

	mux.HandleFunc("GET /api/v1/alerts", a.requireAuth(a.handleListAlerts, admin...))
	mux.HandleFunc("POST /api/v1/alerts", a.requireAuth(a.handleScanAlerts, admin...))
	mux.HandleFunc("POST /api/v1/alerts/{id}/ack", a.requireAuth(a.handleAckAlert, admin...))

	mux.HandleFunc("GET /api/v1/users/cashiers", a.requireAuth(a.handleListCashiers, admin...))
	mux.HandleFunc("POST /api/v1/users/cashiers", a.requireAuth(a.handleCreateCashier, admin...))

	limited := stdlib.NewMiddleware(a.requests, stdlib.WithLimitReachedHandler(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many requests"))
	}))
	return logger.Middleware(a.log, a.withMiddleware(limited.Handler(mux)))
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		actor, err := a.auth.ParseToken(strings.TrimSpace(authorization[len("Bearer "):]))
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

// allow counts one attempt for the client against l.
func (a *API) allow(r *http.Request, l *limiter.Limiter) bool {
	state, err := l.Get(r.Context(), clientKey(r))
	if err != nil {
		a.log.Warn("rate limiter unavailable", "error", err)
		return true
	}
	return !state.Reached
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

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token, X-Request-ID")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if !a.csrf.check(w, r) {
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusFor maps the core error kinds onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrForbidden):
		return http.StatusForbidden
	case service.IsConflict(err):
		return http.StatusConflict
	case errors.Is(err, store.ErrInvalidDiscount), errors.Is(err, store.ErrValidation):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.log.Error("request failed", "error", err)
	}

	var changed *store.StockChangedError
	if errors.As(err, &changed) {
		writeJSON(w, status, map[string]any{
			"error":      err.Error(),
			"shortfalls": changed.Shortfalls,
		})
		return
	}
	writeError(w, status, err)
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	if parsed, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && parsed > 0 {
		limit = parsed
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx bodies never carry internals; the cause is logged by the caller.
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
