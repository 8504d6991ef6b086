package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"stallmanager/backend/internal/domain"
	"stallmanager/backend/internal/service"
	"stallmanager/backend/internal/store"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	csrf          *csrfMinter
	// sign-in attempts per client per minute
	loginThrottle *signInThrottle
	pinThrottle   *signInThrottle
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string) *API {
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		csrf:          newCSRFMinter(),
		loginThrottle: newSignInThrottle(5, time.Minute),
		pinThrottle:   newSignInThrottle(8, time.Minute),
	}
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("/api/v1/auth/seller-login", a.handleSellerLogin)
	mux.HandleFunc("/api/v1/auth/csrf-token", a.handleCSRFToken)

	mux.HandleFunc("/api/v1/stalls", a.requireAuth(a.handleStalls, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/stalls/{stallID}", a.requireAuth(a.handleStall, domain.RoleAdmin, domain.RoleSeller))
	mux.HandleFunc("/api/v1/stalls/{stallID}/pin", a.requireAuth(a.handleStallPIN, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/stalls/{stallID}/products", a.requireAuth(a.handleProducts, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/stalls/{stallID}/products/{productID}", a.requireAuth(a.handleProduct, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/stalls/{stallID}/products/{productID}/stock", a.requireAuth(a.handleProductStock, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/stalls/{stallID}/products/{productID}/has-sales", a.requireAuth(a.handleProductHasSales, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/stalls/{stallID}/transactions", a.requireAuth(a.handleTransactions, domain.RoleAdmin, domain.RoleSeller))
	mux.HandleFunc("/api/v1/stalls/{stallID}/sales", a.requireAuth(a.handleStallSales, domain.RoleAdmin, domain.RoleSeller))

	mux.HandleFunc("/api/v1/seller/stall", a.requireAuth(a.handleSellerStall, domain.RoleSeller))

	mux.HandleFunc("/api/v1/sales", a.requireAuth(a.handleAllSales, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/reports/summary", a.requireAuth(a.handleSummary, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/reports/sales.csv", a.requireAuth(a.handleSalesCSV, domain.RoleAdmin))

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

// statusForError maps service and store errors onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, store.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInsufficientStock), errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, store.ErrTransactionAborted):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	status := statusForError(err)

	var stockErr *store.InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		writeJSON(w, status, map[string]any{
			"error":        stockErr.Error(),
			"product_id":   stockErr.ProductID,
			"product_name": stockErr.ProductName,
			"available":    stockErr.Available,
			"requested":    stockErr.Requested,
		})
	case status == http.StatusServiceUnavailable:
		log.Printf("transaction aborted: %v", err)
		w.Header().Set("Retry-After", "1")
		writeJSON(w, status, map[string]any{
			"error": "stall is busy, please retry",
		})
	default:
		writeError(w, status, err)
	}
}

// decodeJSON reads exactly one JSON object with no unknown fields.
func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errors.New("request body too large")
		}
		return err
	}
	if decoder.More() {
		return errors.New("request body must hold a single JSON object")
	}
	return nil
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

// writeError hides the message of 5xx errors from the client and logs it.
func writeError(w http.ResponseWriter, status int, err error) {
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
