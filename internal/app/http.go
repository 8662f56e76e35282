package app

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Doitordead/Intel-irris/internal/blocks"
	"github.com/Doitordead/Intel-irris/internal/governance"
	"github.com/Doitordead/Intel-irris/internal/importer"
	"github.com/Doitordead/Intel-irris/internal/logging"
	"github.com/Doitordead/Intel-irris/internal/reconcile"
	"github.com/Doitordead/Intel-irris/internal/runstate"
	"github.com/Doitordead/Intel-irris/internal/search"
)

const maxSearchLimit = 100

type HTTPServer struct {
	service  *Service
	apiToken string
	metrics  http.Handler
}

// NewHTTPServer builds the API. A non-empty apiToken is required as a bearer
// token to start imports; metrics may be nil.
func NewHTTPServer(service *Service, apiToken string, metrics http.Handler) *HTTPServer {
	return &HTTPServer{service: service, apiToken: apiToken, metrics: metrics}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	read := r.Method == http.MethodGet || r.Method == http.MethodHead

	switch {
	case read && r.URL.Path == "/api/health":
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	case read && r.URL.Path == "/api/ready":
		s.handleReady(w, r)
	case read && r.URL.Path == "/metrics" && s.metrics != nil:
		s.metrics.ServeHTTP(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/api/imports":
		s.handleStartImport(w, r)
	case read && r.URL.Path == "/api/imports":
		s.handleRecentImports(w, r)
	case read && r.URL.Path == "/api/imports/last":
		summary, err := s.service.LastRun(r.Context())
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	case read && r.URL.Path == "/api/search":
		s.handleSearch(w, r)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	ready := true
	checks := map[string]any{}
	for name, err := range s.service.Ping(ctx) {
		if err != nil {
			ready = false
			checks[name] = map[string]any{"status": "error", "error": err.Error()}
			continue
		}
		checks[name] = map[string]any{"status": "ok"}
	}

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"ok":     ready,
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleStartImport(w http.ResponseWriter, r *http.Request) {
	if s.apiToken != "" {
		token := bearerToken(r)
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.apiToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return
		}
	}
	dryRun, err := queryBool(r, "dryRun")
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", "dryRun must be a boolean", nil)
		return
	}

	summary, err := s.service.RunImport(r.Context(), dryRun)
	if err != nil {
		status, code, message, details := mapError(err)
		if details == nil && summary.ID != "" {
			details = summary
		}
		logging.FromContext(r.Context()).Warn().Err(err).Int("status", status).Msg("import request failed")
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *HTTPServer) handleRecentImports(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 10)
	if err != nil || limit < 1 {
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", "limit must be a positive integer", nil)
		return
	}
	runs, err := s.service.RecentRuns(r.Context(), limit)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": runs})
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	resultType, ok := search.ParseResultType(q.Get("type"))
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", "type must be tree or domain", nil)
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil || limit < 0 {
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", "limit must be a non-negative integer", nil)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", "offset must be a non-negative integer", nil)
		return
	}

	resp, err := s.service.Search(r.Context(), search.Query{
		Text:         q.Get("q"),
		FilterType:   resultType,
		FilterDomain: q.Get("domain"),
		Limit:        min(limit, maxSearchLimit),
		Offset:       offset,
	})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := logging.WithFields(r.Context(), map[string]string{"request_id": requestID})
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		writer.Header().Set("X-Request-ID", requestID)
		writer.Header().Set("Cache-Control", "no-store")

		next.ServeHTTP(writer, r)

		logging.FromContext(ctx).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", writer.status).
			Int64("duration_ms", time.Since(started).Milliseconds()).
			Msg("request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func writeMappedError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func queryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

func queryBool(r *http.Request, name string) (bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return false, nil
	}
	return strconv.ParseBool(raw)
}

// mapError is the single place errors become HTTP statuses.
func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, importer.ErrRunInProgress) {
		return http.StatusConflict, "IMPORT_IN_PROGRESS", "Another import is running", nil
	}
	if errors.Is(err, runstate.ErrNoRun) {
		return http.StatusNotFound, "NOT_FOUND", "No import has run yet", nil
	}
	var blockErr *governance.BlockError
	if errors.As(err, &blockErr) ||
		errors.Is(err, blocks.ErrDecode) ||
		errors.Is(err, blocks.ErrUnknownField) ||
		errors.Is(err, blocks.ErrMalformedLine) ||
		errors.Is(err, reconcile.ErrDanglingReference) {
		return http.StatusUnprocessableEntity, "IMPORT_REJECTED", err.Error(), nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
