package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dvillagrablanco/inmova-app-sub011/internal/channels"
	"github.com/dvillagrablanco/inmova-app-sub011/internal/config"
	"github.com/dvillagrablanco/inmova-app-sub011/internal/database"
	"github.com/dvillagrablanco/inmova-app-sub011/internal/domain"
	"github.com/dvillagrablanco/inmova-app-sub011/internal/export"
	"github.com/dvillagrablanco/inmova-app-sub011/internal/metrics"
	"github.com/dvillagrablanco/inmova-app-sub011/internal/models"
	"github.com/dvillagrablanco/inmova-app-sub011/internal/service"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// HTTPServer exposes the connection lifecycle, manual sync triggers, and the
// read-only status surface.
type HTTPServer struct {
	cfg         config.APIConfig
	connections *service.ConnectionService
	status      *service.StatusService
	store       domain.Store
	enqueuer    domain.JobEnqueuer
	exporter    *export.Exporter
	server      *http.Server
	auth        *HTTPAuth
	logger      zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, connections *service.ConnectionService, status *service.StatusService,
	store domain.Store, enqueuer domain.JobEnqueuer, exporter *export.Exporter, logger *zerolog.Logger) *HTTPServer {

	var l zerolog.Logger
	if logger != nil {
		l = logger.With().Str("component", "http").Logger()
	}

	mux := http.NewServeMux()
	srv := &HTTPServer{
		cfg:         cfg,
		connections: connections,
		status:      status,
		store:       store,
		enqueuer:    enqueuer,
		exporter:    exporter,
		logger:      l,
	}
	srv.auth = NewHTTPAuth(cfg)

	mux.HandleFunc("/api/v1/channels/connect", srv.handleConnect)
	mux.HandleFunc("/api/v1/channels/disconnect", srv.handleDisconnect)
	mux.HandleFunc("/api/v1/channels/facets", srv.handleFacets)
	mux.HandleFunc("/api/v1/channels/retry", srv.handleRetry)
	mux.HandleFunc("/api/v1/channels/sync", srv.handleSync)
	mux.HandleFunc("/api/v1/channels/status", srv.handleStatus)
	mux.HandleFunc("/api/v1/channels/jobs", srv.handleJobList)
	mux.HandleFunc("/api/v1/channels/jobs/", srv.handleJob)
	mux.HandleFunc("/api/v1/channels/export", srv.handleExport)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	handler := srv.loggingMiddleware(srv.auth.Wrap(mux))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	return srv
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("http api listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler exposes the full middleware chain for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

type connectRequest struct {
	ListingID         int64             `json:"listing_id"`
	ChannelType       string            `json:"channel_type"`
	Credentials       map[string]string `json:"credentials"`
	Facets            []string          `json:"facets"`
	ExternalListingID string            `json:"external_listing_id"`
}

func (s *HTTPServer) handleConnect(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("connect")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body connectRequest
	if !decodeBody(w, r, &body) {
		return
	}
	if body.ListingID <= 0 || body.ChannelType == "" {
		writeError(w, http.StatusBadRequest, "listing_id and channel_type are required")
		return
	}

	conn, err := s.connections.Connect(r.Context(), body.ListingID, body.ChannelType,
		body.Credentials, body.Facets, body.ExternalListingID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"connection": conn})
}

type channelRequest struct {
	ListingID   int64    `json:"listing_id"`
	ChannelType string   `json:"channel_type"`
	Facets      []string `json:"facets,omitempty"`
	Facet       string   `json:"facet,omitempty"`
}

func (s *HTTPServer) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("disconnect")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body channelRequest
	if !decodeBody(w, r, &body) {
		return
	}
	if err := s.connections.Disconnect(r.Context(), body.ListingID, body.ChannelType); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": models.ConnDisconnected})
}

func (s *HTTPServer) handleFacets(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("facets")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body channelRequest
	if !decodeBody(w, r, &body) {
		return
	}
	conn, err := s.connections.UpdateFacets(r.Context(), body.ListingID, body.ChannelType, body.Facets)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"connection": conn})
}

func (s *HTTPServer) handleRetry(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("retry")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body channelRequest
	if !decodeBody(w, r, &body) {
		return
	}
	conn, err := s.connections.Retry(r.Context(), body.ListingID, body.ChannelType)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"connection": conn})
}

func (s *HTTPServer) handleSync(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("sync")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body channelRequest
	if !decodeBody(w, r, &body) {
		return
	}
	if !models.ValidFacet(body.Facet) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid facet %q", body.Facet))
		return
	}

	conn, err := s.store.GetConnection(r.Context(), body.ListingID, body.ChannelType)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	job, err := s.enqueuer.Enqueue(r.Context(), conn, body.Facet, models.TriggerManual)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	// Execution is asynchronous; items_synced is the job's current count
	// (zero while queued) and final on the jobs follow-up endpoint.
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":       job.PublicID,
		"status":       job.Status,
		"items_synced": job.ItemsSynced,
	})
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("status")
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	listingID, err := strconv.ParseInt(strings.TrimSpace(r.URL.Query().Get("listing_id")), 10, 64)
	if err != nil || listingID <= 0 {
		writeError(w, http.StatusBadRequest, "listing_id is required")
		return
	}

	statuses, err := s.status.Status(r.Context(), listingID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"listing_id": listingID,
		"channels":   statuses,
	})
}

func (s *HTTPServer) handleJobList(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("jobs")
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	query := r.URL.Query()
	listingID, err := strconv.ParseInt(strings.TrimSpace(query.Get("listing_id")), 10, 64)
	if err != nil || listingID <= 0 {
		writeError(w, http.StatusBadRequest, "listing_id is required")
		return
	}
	channelType := strings.TrimSpace(query.Get("channel_type"))
	if channelType == "" {
		writeError(w, http.StatusBadRequest, "channel_type is required")
		return
	}
	limit, _ := strconv.Atoi(query.Get("limit"))

	jobs, err := s.status.RecentJobs(r.Context(), listingID, channelType, limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"listing_id":   listingID,
		"channel_type": channelType,
		"jobs":         jobs,
	})
}

func (s *HTTPServer) handleJob(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("job")
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	const prefix = "/api/v1/channels/jobs/"
	publicID := strings.TrimSpace(strings.TrimPrefix(r.URL.Path, prefix))
	if publicID == "" || strings.Contains(publicID, "/") {
		writeError(w, http.StatusBadRequest, "job id is required")
		return
	}

	job, conn, err := s.status.JobStatus(r.Context(), publicID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"job":          job,
		"listing_id":   conn.ListingID,
		"channel_type": conn.ChannelType,
	})
}

type exportRequest struct {
	ListingIDs []int64 `json:"listing_ids"`
	From       string  `json:"from"`
	To         string  `json:"to"`
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("export")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.exporter == nil {
		writeError(w, http.StatusServiceUnavailable, "exports are not configured")
		return
	}

	var body exportRequest
	if !decodeBody(w, r, &body) {
		return
	}
	if len(body.ListingIDs) == 0 {
		writeError(w, http.StatusBadRequest, "listing_ids is required")
		return
	}
	from, err := time.Parse("2006-01-02", body.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, "from must be a YYYY-MM-DD date")
		return
	}
	to, err := time.Parse("2006-01-02", body.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, "to must be a YYYY-MM-DD date")
		return
	}
	if to.Before(from) {
		writeError(w, http.StatusBadRequest, "to must not precede from")
		return
	}

	filePath, err := s.exporter.BookingsReport(r.Context(), body.ListingIDs, from, to)
	if err != nil {
		s.logger.Error().Err(err).Msg("bookings report failed")
		writeError(w, http.StatusInternalServerError, "report generation failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"file_path": filePath})
}

// writeDomainError maps domain failures to HTTP statuses. Partner errors are
// surfaced as category + detail only.
func (s *HTTPServer) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrListingNotFound),
		errors.Is(err, database.ErrConnectionNotFound),
		errors.Is(err, database.ErrJobNotFound):
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	var ce *channels.Error
	if errors.As(err, &ce) {
		writeJSON(w, httpStatusForCategory(ce.Category), map[string]string{
			"error":    ce.Detail,
			"category": string(ce.Category),
		})
		return
	}

	s.logger.Error().Err(err).Msg("request failed")
	writeError(w, http.StatusInternalServerError, "internal error")
}

func httpStatusForCategory(category channels.Category) int {
	switch category {
	case channels.CategoryInvalidCredentials, channels.CategoryUnsupportedFacet, channels.CategoryUnknownChannel:
		return http.StatusBadRequest
	case channels.CategoryNotConnected, channels.CategoryConflict:
		return http.StatusConflict
	case channels.CategoryRateLimited:
		return http.StatusTooManyRequests
	case channels.CategoryAuthExpired:
		return http.StatusUnauthorized
	case channels.CategoryTimeout:
		return http.StatusGatewayTimeout
	case channels.CategoryNetworkError:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
