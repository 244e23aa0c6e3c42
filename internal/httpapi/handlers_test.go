package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"vaalbara/backend/internal/domain"
	"vaalbara/backend/internal/service"
	"vaalbara/backend/internal/store/memory"
)

func newTestAPI(t *testing.T) http.Handler {
	t.Helper()
	repo := memory.NewSeeded()
	svc := service.New(repo, nil, nil)
	auth := NewAuthManager("unit-test-secret-0123456789abcdef", time.Hour, repo)
	return New(svc, auth, "http://127.0.0.1:3000", nil).Handler()
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func loginAs(t *testing.T, handler http.Handler, username, password string) string {
	t.Helper()
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{
		Username: username,
		Password: password,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login as %s: status %d, body %s", username, rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.AccessToken
}

func decodeDetail(t *testing.T, rec *httptest.ResponseRecorder) domain.TransactionDetail {
	t.Helper()
	var detail domain.TransactionDetail
	if err := json.Unmarshal(rec.Body.Bytes(), &detail); err != nil {
		t.Fatalf("decode transaction detail: %v", err)
	}
	return detail
}

func TestHealthz(t *testing.T) {
	handler := newTestAPI(t)

	rec := doJSON(t, handler, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("body = %v", body)
	}
}

func TestRoutesRequireBearerToken(t *testing.T) {
	handler := newTestAPI(t)

	paths := []string{
		"/api/v1/inventories",
		"/api/v1/items",
		"/api/v1/partners",
		"/api/v1/transactions",
		"/api/v1/reports?year=2026",
	}
	for _, path := range paths {
		rec := doJSON(t, handler, http.MethodGet, path, "", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("GET %s without token: status = %d, want 401", path, rec.Code)
		}
	}

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/inventories", "garbage-token", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token: status = %d, want 401", rec.Code)
	}
}

func TestAdminOnlyRoutes(t *testing.T) {
	handler := newTestAPI(t)
	staffToken := loginAs(t, handler, "staff", "staff123")
	adminToken := loginAs(t, handler, "admin", "admin123")

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/audit-logs", staffToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("staff audit-logs: status = %d, want 403", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodGet, "/api/v1/users", staffToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("staff users: status = %d, want 403", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/audit-logs", adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin audit-logs: status = %d, want 200", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodGet, "/api/v1/users", adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin users: status = %d, want 200", rec.Code)
	}
}

func TestTransactionLifecycleOverHTTP(t *testing.T) {
	handler := newTestAPI(t)
	staffToken := loginAs(t, handler, "staff", "staff123")
	managerToken := loginAs(t, handler, "manager", "manager123")

	createReq := domain.TransactionCreateRequest{
		Type:          domain.TxTypeImport,
		InventorySlug: "kho-chinh",
		PartnerID:     1,
		Lines: []domain.TransactionLineRequest{
			{ItemID: 1, UnitCost: decimal.NewFromInt(2000), Quantity: decimal.NewFromInt(10)},
		},
	}
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/transactions", staffToken, createReq)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d, body %s", rec.Code, rec.Body.String())
	}
	created := decodeDetail(t, rec)
	if created.Code != "NK00001" {
		t.Fatalf("code = %s, want NK00001", created.Code)
	}
	txPath := "/api/v1/transactions/1"

	// Staff cannot decide.
	rec = doJSON(t, handler, http.MethodPost, txPath+"/authorize", staffToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("staff authorize: status = %d, want 403", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, txPath+"/authorize", managerToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("authorize: status = %d, body %s", rec.Code, rec.Body.String())
	}
	if detail := decodeDetail(t, rec); detail.Transaction.Status != domain.TxStatusAuthorized {
		t.Fatalf("status = %s, want Authorized", detail.Transaction.Status)
	}

	rec = doJSON(t, handler, http.MethodPost, txPath+"/complete", managerToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("complete: status = %d, body %s", rec.Code, rec.Body.String())
	}
	completed := decodeDetail(t, rec)
	if completed.Transaction.Status != domain.TxStatusCompleted {
		t.Fatalf("status = %s, want Completed", completed.Transaction.Status)
	}
	if !completed.ReportValue.Equal(decimal.NewFromInt(20000)) {
		t.Fatalf("report value = %s, want 20000", completed.ReportValue)
	}

	// Completed means locked: no second completion, no edits, no deletion.
	rec = doJSON(t, handler, http.MethodPost, txPath+"/complete", managerToken, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second complete: status = %d, want 409", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodPatch, txPath, staffToken, domain.TransactionUpdateRequest{
		PartnerID: 1,
		Lines: []domain.TransactionLineRequest{
			{ItemID: 1, UnitCost: decimal.NewFromInt(1), Quantity: decimal.NewFromInt(1)},
		},
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("edit completed: status = %d, want 409", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodDelete, txPath, managerToken, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("delete completed: status = %d, want 409", rec.Code)
	}

	// The settled stock shows up in the stock map.
	rec = doJSON(t, handler, http.MethodGet, "/api/v1/inventories/kho-chinh/stock-map", staffToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stock-map: status = %d, body %s", rec.Code, rec.Body.String())
	}
	var stockResp struct {
		Stock map[string]decimal.Decimal `json:"stock"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &stockResp); err != nil {
		t.Fatalf("decode stock map: %v", err)
	}
	if got := stockResp.Stock["1"]; !got.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("stock for item 1 = %s, want 10", got)
	}
}

func TestStatusCodesForServiceErrors(t *testing.T) {
	handler := newTestAPI(t)
	staffToken := loginAs(t, handler, "staff", "staff123")

	// Unknown transaction type.
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/transactions", staffToken, domain.TransactionCreateRequest{
		Type:          "Transfer",
		InventorySlug: "kho-chinh",
		PartnerID:     1,
		Lines: []domain.TransactionLineRequest{
			{ItemID: 1, UnitCost: decimal.NewFromInt(1), Quantity: decimal.NewFromInt(1)},
		},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad type: status = %d, want 400", rec.Code)
	}

	// Missing inventory.
	rec = doJSON(t, handler, http.MethodGet, "/api/v1/inventories/nonexistent", staffToken, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown inventory: status = %d, want 404", rec.Code)
	}

	// Duplicate slug.
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/inventories", staffToken, domain.InventoryCreateRequest{
		Name: "Kho phụ", Slug: "kho-chinh",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate slug: status = %d, want 409", rec.Code)
	}

	// Export with no stock.
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/transactions", staffToken, domain.TransactionCreateRequest{
		Type:          domain.TxTypeExport,
		InventorySlug: "kho-chinh",
		PartnerID:     1,
		Lines: []domain.TransactionLineRequest{
			{ItemID: 1, UnitCost: decimal.NewFromInt(1), Quantity: decimal.NewFromInt(5)},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create export: status = %d, body %s", rec.Code, rec.Body.String())
	}
	managerToken := loginAs(t, handler, "manager", "manager123")
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/transactions/1/complete", managerToken, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("complete without stock: status = %d, want 409", rec.Code)
	}
}

func TestReportsEndpoint(t *testing.T) {
	handler := newTestAPI(t)
	staffToken := loginAs(t, handler, "staff", "staff123")

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/reports", staffToken, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing year: status = %d, want 400", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/reports?year=2026&month=13", staffToken, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("month 13: status = %d, want 400", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/reports?year=2026", staffToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("yearly report: status = %d, body %s", rec.Code, rec.Body.String())
	}
	var report domain.PeriodReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Year != 2026 {
		t.Fatalf("year = %d, want 2026", report.Year)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	handler := newTestAPI(t)
	staffToken := loginAs(t, handler, "staff", "staff123")

	rec := doJSON(t, handler, http.MethodDelete, "/api/v1/inventories", staffToken, nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodGet, "/api/v1/auth/login", "", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET login: status = %d, want 405", rec.Code)
	}
}

func TestSecurityHeadersAndCORS(t *testing.T) {
	handler := newTestAPI(t)

	rec := doJSON(t, handler, http.MethodGet, "/healthz", "", nil)
	headers := map[string]string{
		"X-Content-Type-Options":      "nosniff",
		"X-Frame-Options":             "DENY",
		"Access-Control-Allow-Origin": "http://127.0.0.1:3000",
	}
	for key, want := range headers {
		if got := rec.Header().Get(key); got != want {
			t.Errorf("%s = %q, want %q", key, got, want)
		}
	}

	rec = doJSON(t, handler, http.MethodOptions, "/api/v1/transactions", "", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight: status = %d, want 204", rec.Code)
	}
}

func TestLoginRateLimit(t *testing.T) {
	handler := newTestAPI(t)

	bad := domain.LoginRequest{Username: "admin", Password: "wrong"}
	for i := 0; i < 5; i++ {
		rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", bad)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: status = %d, want 401", i+1, rec.Code)
		}
	}
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", bad)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("sixth attempt: status = %d, want 429", rec.Code)
	}
}

func TestCreateUserOverHTTP(t *testing.T) {
	handler := newTestAPI(t)
	adminToken := loginAs(t, handler, "admin", "admin123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/users", adminToken, domain.UserCreateRequest{
		Username: "cashier1",
		Password: "secret123",
		Role:     domain.RoleStaff,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create user: status = %d, body %s", rec.Code, rec.Body.String())
	}

	token := loginAs(t, handler, "cashier1", "secret123")
	rec = doJSON(t, handler, http.MethodGet, "/api/v1/inventories", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("new user list inventories: status = %d", rec.Code)
	}
}
