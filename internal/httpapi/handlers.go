package httpapi

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"stallmanager/backend/internal/domain"
	"stallmanager/backend/internal/service"
	"stallmanager/backend/internal/store"
)

const maxSalesPage = 1000

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
	client := clientKey(r)
	if !a.loginThrottle.take(client) {
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
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	a.loginThrottle.reset(client)

	writeJSON(w, http.StatusOK, resp)
}

// handleSellerLogin exchanges a stall PIN for a seller token scoped to that
// stall. Unknown and malformed PINs get the same answer.
func (a *API) handleSellerLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	client := clientKey(r)
	if !a.pinThrottle.take(client) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many pin attempts"))
		return
	}

	var req domain.SellerLoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	stall, err := a.service.FindStallByPIN(r.Context(), req.PIN)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrValidation) {
			writeError(w, http.StatusUnauthorized, errors.New("invalid pin"))
			return
		}
		writeServiceError(w, err)
		return
	}

	resp, err := a.auth.IssueSellerToken(stall)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	a.pinThrottle.reset(client)
	writeJSON(w, http.StatusOK, resp)
}

// handleCSRFToken returns a stateless token for the X-CSRF-Token header.
func (a *API) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": a.csrf.mint(),
	})
}

func (a *API) handleStalls(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		stalls, err := a.service.ListStalls(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"stalls": stalls})
	case http.MethodPost:
		var req domain.StallCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		stall, err := a.service.CreateStall(r.Context(), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, stall)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleStall(w http.ResponseWriter, r *http.Request) {
	stallID := r.PathValue("stallID")

	switch r.Method {
	case http.MethodGet:
		stall, err := a.service.GetStall(r.Context(), stallID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stall)
	case http.MethodPatch:
		var req domain.StallUpdateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		stall, err := a.service.UpdateStall(r.Context(), stallID, req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stall)
	case http.MethodDelete:
		if err := a.service.DeleteStall(r.Context(), stallID); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleStallPIN(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.SellerPINRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	stall, err := a.service.SetSellerPIN(r.Context(), r.PathValue("stallID"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stall)
}

func (a *API) handleProducts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.ProductCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	product, err := a.service.AddProduct(r.Context(), r.PathValue("stallID"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, product)
}

func (a *API) handleProduct(w http.ResponseWriter, r *http.Request) {
	stallID := r.PathValue("stallID")
	productID := r.PathValue("productID")

	switch r.Method {
	case http.MethodPatch:
		var req domain.ProductUpdateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		product, err := a.service.UpdateProduct(r.Context(), stallID, productID, req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, product)
	case http.MethodDelete:
		if err := a.service.RemoveProduct(r.Context(), stallID, productID); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleProductStock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.StockUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	product, err := a.service.UpdateProductStock(r.Context(), r.PathValue("stallID"), r.PathValue("productID"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (a *API) handleProductHasSales(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	hasSales, err := a.service.CheckProductHasSales(r.Context(), r.PathValue("stallID"), r.PathValue("productID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"has_sales": hasSales})
}

func (a *API) handleTransactions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.RecordTransactionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	receipt, err := a.service.RecordTransaction(r.Context(), r.PathValue("stallID"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

// handleStallSales lists a stall's sales newest first on GET and records a
// single-item sale on POST. The optional limit trims the list but never the
// total raised.
func (a *API) handleStallSales(w http.ResponseWriter, r *http.Request) {
	stallID := r.PathValue("stallID")

	switch r.Method {
	case http.MethodGet:
		resp, err := a.service.GetSalesForStall(r.Context(), stallID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		limit, err := salesLimit(r.URL.Query().Get("limit"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if limit > 0 && limit < len(resp.Sales) {
			resp.Sales = resp.Sales[:limit]
		}
		writeJSON(w, http.StatusOK, resp)
	case http.MethodPost:
		var req domain.RecordSaleRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		receipt, err := a.service.RecordSale(r.Context(), stallID, req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, receipt)
	default:
		writeMethodNotAllowed(w)
	}
}

// salesLimit parses the optional ?limit of a sales listing. Zero means no
// limit; anything above maxSalesPage is capped.
func salesLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, errors.New("limit must be a positive integer")
	}
	return min(limit, maxSalesPage), nil
}

func (a *API) handleSellerStall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	actor, _ := service.ActorFromContext(r.Context())
	stall, err := a.service.GetStall(r.Context(), actor.StallID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stall)
}

func (a *API) handleAllSales(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	sales, err := a.service.GetAllSales(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sales": sales})
}

func (a *API) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	summary, err := a.service.SalesSummary(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handleSalesCSV buffers the export so a failure can still be reported as JSON.
func (a *API) handleSalesCSV(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	var buf bytes.Buffer
	if err := a.service.ExportSalesCSV(r.Context(), &buf); err != nil {
		writeServiceError(w, err)
		return
	}

	filename := "sales_export.csv"
	if strings.EqualFold(r.URL.Query().Get("dated"), "true") {
		filename = "sales_export_" + time.Now().UTC().Format("20060102") + ".csv"
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
