package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"tutupkas/backend/internal/domain"
	"tutupkas/backend/internal/service"
	"tutupkas/backend/internal/store"
	"tutupkas/backend/internal/wizard"
)

const maxJSONBody = 1 << 20

type API struct {
	service        *service.Service
	auth           *AuthManager
	allowedOrigins []string
	loginLimiter   *attemptLimiter
	logger         *zap.Logger
}

func New(svc *service.Service, auth *AuthManager, allowedOrigins []string, logger *zap.Logger) *API {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{
		service:        svc,
		auth:           auth,
		allowedOrigins: allowedOrigins,
		loginLimiter:   newAttemptLimiter(5, time.Minute),
		logger:         logger.Named("http"),
	}
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
	l.entries[key] = append(kept, now)
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

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(a.logRequests)
	r.Use(securityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: a.allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(limitJSONBody)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, errors.New("route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	})

	r.Get("/healthz", a.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", a.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth(domain.RoleCashier, domain.RoleAdmin))

			r.Get("/pos-points", a.handlePOSPoints)
			r.Get("/cashiers", a.handleCashiers)
			r.Get("/branches", a.handleBranches)

			r.Post("/wizards", a.handleStartWizard)
			r.Route("/wizards/{wizardID}", func(r chi.Router) {
				r.Get("/", a.handleGetWizard)
				r.Patch("/", a.handlePatchWizard)
				r.Delete("/", a.handleAbandonWizard)
				r.Post("/lines", a.handleAddLine)
				r.Patch("/lines/{lineID}", a.handleUpdateLine)
				r.Delete("/lines/{lineID}", a.handleRemoveLine)
				r.Post("/next", a.handleNext)
				r.Post("/back", a.handleBack)
				r.Post("/commit", a.handleCommit)
			})

			r.Get("/settlements", a.handleListSettlements)
			r.Get("/settlements/{settlementID}", a.handleGetSettlement)

			r.Get("/reports/pos-points/{posID}", a.handlePOSReport)
			r.Get("/reports/cashiers/{cashierID}", a.handleCashierReport)
			r.Get("/reports/overview", a.handleOverview)
		})

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth(domain.RoleAdmin))

			r.Post("/settlements/{settlementID}/wizard", a.handleStartEdit)
			r.Delete("/settlements/{settlementID}", a.handleDeleteSettlement)
			r.Get("/audit-logs", a.handleAuditLogs)
		})
	})

	return r
}

func (a *API) requireAuth(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
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

			next.ServeHTTP(w, r.WithContext(service.WithActor(r.Context(), actor)))
		})
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
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
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
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handlePOSPoints(w http.ResponseWriter, r *http.Request) {
	points, err := a.service.ListPOSPoints(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pos_points": points})
}

func (a *API) handleCashiers(w http.ResponseWriter, r *http.Request) {
	cashiers, err := a.service.ListCashiers(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cashiers": cashiers})
}

func (a *API) handleBranches(w http.ResponseWriter, r *http.Request) {
	branches, err := a.service.ListBranches(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"branches": branches})
}

func (a *API) handleStartWizard(w http.ResponseWriter, r *http.Request) {
	view, err := a.service.StartWizard(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (a *API) handleStartEdit(w http.ResponseWriter, r *http.Request) {
	view, err := a.service.StartEdit(r.Context(), chi.URLParam(r, "settlementID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (a *API) handleGetWizard(w http.ResponseWriter, r *http.Request) {
	view, err := a.service.GetWizard(r.Context(), chi.URLParam(r, "wizardID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handlePatchWizard(w http.ResponseWriter, r *http.Request) {
	var patch wizard.Patch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	view, err := a.service.PatchWizard(r.Context(), chi.URLParam(r, "wizardID"), patch)
	a.writeWizard(w, r, http.StatusOK, view, err)
}

func (a *API) handleAddLine(w http.ResponseWriter, r *http.Request) {
	var req service.LineRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	view, lineID, err := a.service.AddLine(r.Context(), chi.URLParam(r, "wizardID"), req)
	if err != nil {
		a.writeWizard(w, r, http.StatusCreated, view, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"line_id": lineID, "wizard": view})
}

func (a *API) handleUpdateLine(w http.ResponseWriter, r *http.Request) {
	var req service.LineUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	view, err := a.service.UpdateLine(r.Context(), chi.URLParam(r, "wizardID"), chi.URLParam(r, "lineID"), req)
	a.writeWizard(w, r, http.StatusOK, view, err)
}

func (a *API) handleRemoveLine(w http.ResponseWriter, r *http.Request) {
	view, err := a.service.RemoveLine(r.Context(), chi.URLParam(r, "wizardID"), chi.URLParam(r, "lineID"))
	a.writeWizard(w, r, http.StatusOK, view, err)
}

func (a *API) handleNext(w http.ResponseWriter, r *http.Request) {
	view, err := a.service.Next(r.Context(), chi.URLParam(r, "wizardID"))
	a.writeWizard(w, r, http.StatusOK, view, err)
}

func (a *API) handleBack(w http.ResponseWriter, r *http.Request) {
	view, err := a.service.Back(r.Context(), chi.URLParam(r, "wizardID"))
	a.writeWizard(w, r, http.StatusOK, view, err)
}

func (a *API) handleCommit(w http.ResponseWriter, r *http.Request) {
	result, err := a.service.Commit(r.Context(), chi.URLParam(r, "wizardID"))
	if err != nil {
		a.writeWizard(w, r, http.StatusCreated, result.Wizard, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (a *API) handleAbandonWizard(w http.ResponseWriter, r *http.Request) {
	if err := a.service.Abandon(r.Context(), chi.URLParam(r, "wizardID")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleListSettlements(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	resp, err := a.service.ListSettlements(r.Context(), query.Get("from"), query.Get("to"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleGetSettlement(w http.ResponseWriter, r *http.Request) {
	detail, err := a.service.Get(r.Context(), chi.URLParam(r, "settlementID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"settlement": detail})
}

func (a *API) handleDeleteSettlement(w http.ResponseWriter, r *http.Request) {
	if err := a.service.Delete(r.Context(), chi.URLParam(r, "settlementID")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handlePOSReport(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.POSAggregate(r.Context(), chi.URLParam(r, "posID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCashierReport(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.CashierAggregate(r.Context(), chi.URLParam(r, "cashierID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleOverview(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	resp, err := a.service.Overview(r.Context(), query.Get("from"), query.Get("to"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit := parsePositiveLimit(query.Get("limit"), 100, 500)

	logs, err := a.service.ListAuditLogs(r.Context(), query.Get("branch_id"), query.Get("date"), limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

// writeWizard answers a wizard transition. A rejected step still returns the
// unchanged wizard so the client can keep showing the operator's input.
func (a *API) writeWizard(w http.ResponseWriter, r *http.Request, status int, view service.WizardView, err error) {
	if err == nil {
		writeJSON(w, status, view)
		return
	}
	if view.ID == "" {
		a.fail(w, r, err)
		return
	}
	status = statusFor(err)
	if status >= 500 {
		a.fail(w, r, err)
		return
	}
	body := errorBody(err)
	body["wizard"] = view
	writeJSON(w, status, body)
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		a.logger.Error("request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Int("status", status),
			zap.Error(err),
		)
		writeError(w, status, err)
		return
	}
	writeJSON(w, status, errorBody(err))
}

func statusFor(err error) int {
	switch {
	case domain.IsValidation(err):
		return http.StatusUnprocessableEntity
	case domain.IsAuthorization(err):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, service.ErrSessionNotFound),
		errors.Is(err, wizard.ErrLineNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConflict), errors.Is(err, wizard.ErrInvalidStep):
		return http.StatusConflict
	case errors.Is(err, store.ErrInvalidTransaction):
		return http.StatusBadRequest
	case domain.IsStore(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorBody(err error) map[string]any {
	body := map[string]any{"error": err.Error()}
	var validation *domain.ValidationError
	if errors.As(err, &validation) && validation.Field != "" {
		body["field"] = validation.Field
	}
	return body
}

func (a *API) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		startedAt := time.Now()
		next.ServeHTTP(ww, r)
		a.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(startedAt)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		next.ServeHTTP(w, r)
	})
}

func limitJSONBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil && (r.Method == http.MethodPost || r.Method == http.MethodPatch) {
			r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
		}
		next.ServeHTTP(w, r)
	})
}

// decodeJSON rejects unknown fields and empty bodies.
func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
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

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx bodies never carry internal details such as SQL errors.
	msg := err.Error()
	switch {
	case status == http.StatusServiceUnavailable:
		msg = "ledger store unavailable, retry later"
	case status >= 500:
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
