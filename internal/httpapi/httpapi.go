package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"vaalbara/backend/internal/domain"
	"vaalbara/backend/internal/service"
	"vaalbara/backend/internal/store"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *attemptLimiter
	logger        *zap.Logger
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		logger:        logger,
	}
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/api/v1/auth/login", a.handleLogin)

	staff := []string{domain.RoleStaff, domain.RoleManager, domain.RoleAdmin}

	mux.HandleFunc("/api/v1/inventories", a.requireAuth(a.handleInventories, staff...))
	mux.HandleFunc("/api/v1/inventories/", a.requireAuth(a.handleInventoryActions, staff...))
	mux.HandleFunc("/api/v1/items", a.requireAuth(a.handleItems, staff...))
	mux.HandleFunc("/api/v1/items/", a.requireAuth(a.handleItemActions, staff...))
	mux.HandleFunc("/api/v1/partners", a.requireAuth(a.handlePartners, staff...))
	mux.HandleFunc("/api/v1/partners/", a.requireAuth(a.handlePartnerActions, staff...))
	mux.HandleFunc("/api/v1/transactions", a.requireAuth(a.handleTransactions, staff...))
	mux.HandleFunc("/api/v1/transactions/", a.requireAuth(a.handleTransactionActions, staff...))
	mux.HandleFunc("/api/v1/reports", a.requireAuth(a.handleReports, staff...))

	mux.HandleFunc("/api/v1/audit-logs", a.requireAuth(a.handleAuditLogs, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/users", a.requireAuth(a.handleUsers, domain.RoleAdmin))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			a.writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			a.writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			a.writeError(w, http.StatusForbidden, errors.New("forbidden role"))
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
		a.writeMethodNotAllowed(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		a.writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(req)
	if err != nil {
		a.writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleInventories(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		inventories, err := a.service.ListInventories(r.Context())
		if err != nil {
			a.respondServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"inventories": inventories})
	case http.MethodPost:
		var req domain.InventoryCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}
		created, err := a.service.CreateInventory(r.Context(), req)
		if err != nil {
			a.respondServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	default:
		a.writeMethodNotAllowed(w)
	}
}

func (a *API) handleInventoryActions(w http.ResponseWriter, r *http.Request) {
	const prefix = "/api/v1/inventories/"
	tail := strings.TrimSpace(strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/"))
	slug, action, _ := strings.Cut(tail, "/")
	if slug == "" {
		a.writeError(w, http.StatusBadRequest, errors.New("inventory slug is required"))
		return
	}

	switch action {
	case "":
		if r.Method != http.MethodGet {
			a.writeMethodNotAllowed(w)
			return
		}
		summary, err := a.service.GetInventorySummary(r.Context(), slug)
		if err != nil {
			a.respondServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	case "report":
		if r.Method != http.MethodGet {
			a.writeMethodNotAllowed(w)
			return
		}
		month, year, err := parsePeriod(r)
		if err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}
		report, err := a.service.PeriodReport(r.Context(), slug, month, year)
		if err != nil {
			a.respondServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	case "stock-map":
		if r.Method != http.MethodGet {
			a.writeMethodNotAllowed(w)
			return
		}
		stockMap, err := a.service.StockMap(r.Context(), slug)
		if err != nil {
			a.respondServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"stock": stockMap})
	default:
		a.writeError(w, http.StatusNotFound, errors.New("unknown inventory action"))
	}
}

func (a *API) handleItems(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		includeInactive := r.URL.Query().Get("include_inactive") == "true"
		items, err := a.service.ListItems(r.Context(), r.URL.Query().Get("inventory"), includeInactive)
		if err != nil {
			a.respondServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	case http.MethodPost:
		var req domain.ItemCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}
		created, err := a.service.CreateItem(r.Context(), req)
		if err != nil {
			a.respondServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	default:
		a.writeMethodNotAllowed(w)
	}
}

func (a *API) handleItemActions(w http.ResponseWriter, r *http.Request) {
	const prefix = "/api/v1/items/"
	tail := strings.TrimSpace(strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/"))
	rawID, action, _ := strings.Cut(tail, "/")
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id < 1 {
		a.writeError(w, http.StatusBadRequest, errors.New("invalid item id"))
		return
	}

	switch action {
	case "":
		switch r.Method {
		case http.MethodGet:
			detail, err := a.service.GetItem(r.Context(), id)
			if err != nil {
				a.respondServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, detail)
		case http.MethodPatch:
			var req domain.ItemUpdateRequest
			if err := decodeJSON(r, &req); err != nil {
				a.writeError(w, http.StatusBadRequest, err)
				return
			}
			updated, err := a.service.UpdateItem(r.Context(), id, req)
			if err != nil {
				a.respondServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, updated)
		default:
			a.writeMethodNotAllowed(w)
		}
	case "deactivate":
		if r.Method != http.MethodPost {
			a.writeMethodNotAllowed(w)
			return
		}
		updated, err := a.service.DeactivateItem(r.Context(), id)
		if err != nil {
			a.respondServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	default:
		a.writeError(w, http.StatusNotFound, errors.New("unknown item action"))
	}
}

func (a *API) handlePartners(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		partners, err := a.service.ListPartners(r.Context())
		if err != nil {
			a.respondServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"partners": partners})
	case http.MethodPost:
		var req domain.PartnerCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}
		created, err := a.service.CreatePartner(r.Context(), req)
		if err != nil {
			a.respondServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	default:
		a.writeMethodNotAllowed(w)
	}
}

func (a *API) handlePartnerActions(w http.ResponseWriter, r *http.Request) {
	const prefix = "/api/v1/partners/"
	rawID := strings.TrimSpace(strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/"))
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id < 1 {
		a.writeError(w, http.StatusBadRequest, errors.New("invalid partner id"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		partner, err := a.service.GetPartner(r.Context(), id)
		if err != nil {
			a.respondServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, partner)
	case http.MethodPatch:
		var req domain.PartnerUpdateRequest
		if err := decodeJSON(r, &req); err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}
		updated, err := a.service.UpdatePartner(r.Context(), id, req)
		if err != nil {
			a.respondServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	case http.MethodDelete:
		if err := a.service.DeletePartner(r.Context(), id); err != nil {
			a.respondServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
	default:
		a.writeMethodNotAllowed(w)
	}
}

func (a *API) handleTransactions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		query := r.URL.Query()
		limit := parsePositiveLimit(query.Get("limit"), 100, 500)
		transactions, err := a.service.ListTransactions(r.Context(),
			query.Get("inventory"), query.Get("type"), query.Get("status"), limit)
		if err != nil {
			a.respondServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"transactions": transactions})
	case http.MethodPost:
		var req domain.TransactionCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}
		created, err := a.service.CreateTransaction(r.Context(), req)
		if err != nil {
			a.respondServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	default:
		a.writeMethodNotAllowed(w)
	}
}

func (a *API) handleTransactionActions(w http.ResponseWriter, r *http.Request) {
	const prefix = "/api/v1/transactions/"
	tail := strings.TrimSpace(strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/"))
	rawID, action, _ := strings.Cut(tail, "/")
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id < 1 {
		a.writeError(w, http.StatusBadRequest, errors.New("invalid transaction id"))
		return
	}

	switch action {
	case "":
		a.handleTransactionByID(w, r, id)
	case "authorize", "reject", "complete":
		if r.Method != http.MethodPost {
			a.writeMethodNotAllowed(w)
			return
		}
		var detail domain.TransactionDetail
		switch action {
		case "authorize":
			detail, err = a.service.AuthorizeTransaction(r.Context(), id)
		case "reject":
			detail, err = a.service.RejectTransaction(r.Context(), id)
		case "complete":
			detail, err = a.service.CompleteTransaction(r.Context(), id)
		}
		if err != nil {
			a.respondServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, detail)
	default:
		a.writeError(w, http.StatusNotFound, errors.New("unknown transaction action"))
	}
}

func (a *API) handleTransactionByID(w http.ResponseWriter, r *http.Request, id int64) {
	switch r.Method {
	case http.MethodGet:
		detail, err := a.service.GetTransaction(r.Context(), id)
		if err != nil {
			a.respondServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, detail)
	case http.MethodPatch:
		var req domain.TransactionUpdateRequest
		if err := decodeJSON(r, &req); err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}
		updated, err := a.service.UpdateTransaction(r.Context(), id, req)
		if err != nil {
			a.respondServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	case http.MethodDelete:
		if err := a.service.DeleteTransaction(r.Context(), id); err != nil {
			a.respondServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
	default:
		a.writeMethodNotAllowed(w)
	}
}

func (a *API) handleReports(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}
	month, year, err := parsePeriod(r)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	report, err := a.service.PeriodReport(r.Context(), r.URL.Query().Get("inventory"), month, year)
	if err != nil {
		a.respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 1000)
	logs, err := a.service.ListAuditLogs(r.Context(), limit)
	if err != nil {
		a.respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"audit_logs": logs})
}

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"users": a.auth.ListAccounts()})
	case http.MethodPost:
		var req domain.UserCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}
		created, err := a.auth.CreateAccount(req)
		if err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	default:
		a.writeMethodNotAllowed(w)
	}
}

func (a *API) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		a.writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, service.ErrForbidden):
		a.writeError(w, http.StatusForbidden, err)
	case errors.Is(err, store.ErrNotFound):
		a.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, store.ErrDuplicate):
		a.writeError(w, http.StatusConflict, err)
	case errors.Is(err, store.ErrInsufficientStock),
		errors.Is(err, store.ErrInvalidTransition),
		errors.Is(err, store.ErrTransactionLocked),
		errors.Is(err, store.ErrPartnerInUse),
		errors.Is(err, store.ErrItemHasStock):
		a.writeError(w, http.StatusConflict, err)
	default:
		a.writeError(w, http.StatusInternalServerError, err)
	}
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		a.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("took", time.Since(startedAt)))
	})
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
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

func parsePeriod(r *http.Request) (month int, year int, err error) {
	query := r.URL.Query()
	if raw := strings.TrimSpace(query.Get("month")); raw != "" {
		month, err = strconv.Atoi(raw)
		if err != nil || month < 0 || month > 12 {
			return 0, 0, errors.New("month must be 0..12")
		}
	}
	rawYear := strings.TrimSpace(query.Get("year"))
	if rawYear == "" {
		return 0, 0, errors.New("year is required")
	}
	year, err = strconv.Atoi(rawYear)
	if err != nil || year < 1 {
		return 0, 0, errors.New("invalid year")
	}
	return month, year, nil
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

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func (a *API) writeMethodNotAllowed(w http.ResponseWriter) {
	a.writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

// writeError returns a generic message for 5xx responses so internal detail
// never reaches the client. 4xx messages are user-facing.
func (a *API) writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= 500 {
		a.logger.Error("internal error", zap.Int("status", status), zap.Error(err))
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
