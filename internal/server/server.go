// Package server exposes the admin HTTP API: accounts, sources, channels,
// playlist export, the template dictionary, and schedule tasks.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/kelvane/tellyvault/internal/config"
	"github.com/kelvane/tellyvault/internal/models"
	"github.com/kelvane/tellyvault/internal/scheduler"
	"github.com/kelvane/tellyvault/internal/service"
	"github.com/kelvane/tellyvault/internal/store"
)

// Server holds dependencies for the HTTP API.
type Server struct {
	store store.Store
	svc   *service.Service
	sched *scheduler.Scheduler
	cfg   *config.Config
	log   zerolog.Logger
	mux   *http.ServeMux
}

// New creates a Server and registers routes. registry may be nil to disable
// the /metrics endpoint.
func New(st store.Store, svc *service.Service, sched *scheduler.Scheduler, cfg *config.Config, log zerolog.Logger, registry *prometheus.Registry) *Server {
	srv := &Server{
		store: st,
		svc:   svc,
		sched: sched,
		cfg:   cfg,
		log:   log.With().Str("component", "http").Logger(),
		mux:   http.NewServeMux(),
	}
	srv.routes(registry)
	return srv
}

func (s *Server) routes(registry *prometheus.Registry) {
	s.mux.HandleFunc("GET /api/health", s.handleHealth)

	// Accounts
	s.mux.HandleFunc("GET /api/accounts", s.handleListAccounts)
	s.mux.HandleFunc("POST /api/accounts", s.handleCreateAccount)
	s.mux.HandleFunc("GET /api/accounts/{id}", s.handleGetAccount)
	s.mux.HandleFunc("PATCH /api/accounts/{id}", s.handleUpdateAccount)
	s.mux.HandleFunc("DELETE /api/accounts/{id}", s.handleDeleteAccount)
	s.mux.HandleFunc("POST /api/accounts/{id}/fetch", s.handleFetchAccount)

	// Sources
	s.mux.HandleFunc("GET /api/sources", s.handleListSources)
	s.mux.HandleFunc("GET /api/sources/{id}", s.handleGetSource)
	s.mux.HandleFunc("GET /api/sources/{id}/channels", s.handleListChannels)
	s.mux.HandleFunc("DELETE /api/sources/{id}/channels", s.handleDeleteChannels)
	s.mux.HandleFunc("GET /api/sources/{id}/statistics", s.handleChannelStatistics)
	s.mux.HandleFunc("GET /api/sources/{id}/export", s.handleExport)

	// Channels
	s.mux.HandleFunc("PATCH /api/channels/{id}/status", s.handleSetChannelStatus)

	// Template dictionary
	s.mux.HandleFunc("GET /api/templates", s.handleListTemplates)
	s.mux.HandleFunc("GET /api/templates/groups", s.handleTemplateGroups)
	s.mux.HandleFunc("GET /api/templates/statistics", s.handleTemplateStatistics)
	s.mux.HandleFunc("POST /api/templates/import", s.handleImportTemplates)

	// Schedule tasks
	s.mux.HandleFunc("GET /api/tasks", s.handleListTasks)
	s.mux.HandleFunc("POST /api/tasks", s.handleCreateTask)
	s.mux.HandleFunc("GET /api/tasks/{id}", s.handleGetTask)
	s.mux.HandleFunc("PATCH /api/tasks/{id}", s.handleUpdateTask)
	s.mux.HandleFunc("DELETE /api/tasks/{id}", s.handleDeleteTask)
	s.mux.HandleFunc("POST /api/tasks/{id}/run", s.handleRunTask)

	if registry != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe starts the HTTP server on the configured port. It blocks
// until the server is shut down or ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := ":" + s.cfg.ServerPort
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      withCORS(s.withLogging(s)),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: s.cfg.FetchTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.Error().Err(err).Msg("server shutdown")
		}
	}()

	s.log.Info().Str("addr", addr).Msg("listening")
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ListenAndServe: %w", err)
	}
	return nil
}

// --- handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- account handlers ---

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.store.ListAccounts(r.Context())
	if err != nil {
		s.writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if accounts == nil {
		accounts = []models.Account{}
	}
	for i := range accounts {
		accounts[i].Password = ""
	}
	s.writeJSON(w, http.StatusOK, accounts)
}

type createAccountRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	MAC      string `json:"mac"`
	IMEI     string `json:"imei"`
	Address  string `json:"address"`
	Remark   string `json:"remark"`
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}
	if req.Username == "" || req.Password == "" || req.MAC == "" {
		s.writeErr(w, http.StatusBadRequest, fmt.Errorf("username, password and mac are required"))
		return
	}

	id, err := s.store.CreateAccount(r.Context(), &models.Account{
		Username: req.Username,
		Password: req.Password,
		MAC:      req.MAC,
		IMEI:     req.IMEI,
		Address:  req.Address,
		Remark:   req.Remark,
	})
	if err != nil {
		s.writeErr(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"account_id": id})
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		s.writeErr(w, http.StatusBadRequest, err)
		return
	}
	account, err := s.store.GetAccount(r.Context(), id)
	if err != nil {
		s.writeStoreErr(w, err, "account", id)
		return
	}
	account.Password = ""
	s.writeJSON(w, http.StatusOK, account)
}

type updateAccountRequest struct {
	Username *string `json:"username"`
	Password *string `json:"password"`
	MAC      *string `json:"mac"`
	IMEI     *string `json:"imei"`
	Address  *string `json:"address"`
	Remark   *string `json:"remark"`
}

func (s *Server) handleUpdateAccount(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		s.writeErr(w, http.StatusBadRequest, err)
		return
	}
	var req updateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}

	fields := models.AccountUpdate{
		Username: req.Username,
		Password: req.Password,
		MAC:      req.MAC,
		IMEI:     req.IMEI,
		Address:  req.Address,
		Remark:   req.Remark,
	}
	if err := s.store.UpdateAccount(r.Context(), id, fields); err != nil {
		s.writeStoreErr(w, err, "account", id)
		return
	}

	account, err := s.store.GetAccount(r.Context(), id)
	if err != nil {
		s.writeErr(w, http.StatusInternalServerError, err)
		return
	}
	account.Password = ""
	s.writeJSON(w, http.StatusOK, account)
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		s.writeErr(w, http.StatusBadRequest, err)
		return
	}
	if err := s.store.DeleteAccount(r.Context(), id); err != nil {
		s.writeStoreErr(w, err, "account", id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type fetchRequest struct {
	FilterSD       bool     `json:"filter_sd"`
	ChannelFilters []string `json:"channel_filters"`
}

// handleFetchAccount runs the acquisition pipeline synchronously. The source
// is created on first fetch; afterwards the pipeline upserts into it.
func (s *Server) handleFetchAccount(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		s.writeErr(w, http.StatusBadRequest, err)
		return
	}

	var req fetchRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
			return
		}
	}

	if _, err := s.svc.EnsureSource(r.Context(), id); err != nil {
		s.writeStoreErr(w, err, "account", id)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.FetchTimeout)
	defer cancel()

	res, err := s.svc.FetchChannels(ctx, id, service.Filter{
		ExcludePatterns: req.ChannelFilters,
		FilterSD:        req.FilterSD,
	})
	if err != nil {
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, service.ErrFetchInProgress):
			status = http.StatusConflict
		case errors.Is(err, store.ErrNotFound):
			status = http.StatusNotFound
		}
		s.writeJSON(w, status, res)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

// --- source handlers ---

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.store.ListSources(r.Context())
	if err != nil {
		s.writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if sources == nil {
		sources = []models.Source{}
	}
	s.writeJSON(w, http.StatusOK, sources)
}

func (s *Server) handleGetSource(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		s.writeErr(w, http.StatusBadRequest, err)
		return
	}
	src, err := s.store.GetSourceByID(r.Context(), id)
	if err != nil {
		s.writeStoreErr(w, err, "source", id)
		return
	}
	s.writeJSON(w, http.StatusOK, src)
}

// --- channel handlers ---

func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	sourceID, err := parseID(r, "id")
	if err != nil {
		s.writeErr(w, http.StatusBadRequest, err)
		return
	}

	var status *int16
	if v := r.URL.Query().Get("status"); v != "" {
		n, err := strconv.ParseInt(v, 10, 16)
		if err != nil {
			s.writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid status: %s", v))
			return
		}
		st := int16(n)
		status = &st
	}

	channels, err := s.svc.ChannelsBySource(r.Context(), sourceID, status)
	if err != nil {
		s.writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if channels == nil {
		channels = []models.Channel{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"channels": channels,
		"total":    len(channels),
	})
}

func (s *Server) handleDeleteChannels(w http.ResponseWriter, r *http.Request) {
	sourceID, err := parseID(r, "id")
	if err != nil {
		s.writeErr(w, http.StatusBadRequest, err)
		return
	}
	if err := s.svc.DeleteChannels(r.Context(), sourceID); err != nil {
		s.writeErr(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleChannelStatistics(w http.ResponseWriter, r *http.Request) {
	sourceID, err := parseID(r, "id")
	if err != nil {
		s.writeErr(w, http.StatusBadRequest, err)
		return
	}
	stats, err := s.store.ChannelStatistics(r.Context(), sourceID)
	if err != nil {
		s.writeErr(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

type setChannelStatusRequest struct {
	Status int16 `json:"status"`
}

func (s *Server) handleSetChannelStatus(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		s.writeErr(w, http.StatusBadRequest, err)
		return
	}
	var req setChannelStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}
	if req.Status != models.ChannelStatusEnabled && req.Status != models.ChannelStatusDisabled {
		s.writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid status %d", req.Status))
		return
	}
	if err := s.svc.SetChannelStatus(r.Context(), id, req.Status); err != nil {
		s.writeStoreErr(w, err, "channel", id)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"channel_id": id, "status": req.Status})
}

// handleExport streams the playlist as a plain text document.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	sourceID, err := parseID(r, "id")
	if err != nil {
		s.writeErr(w, http.StatusBadRequest, err)
		return
	}
	format := r.URL.Query().Get("format")

	out, err := s.svc.ExportPlaylist(r.Context(), sourceID, format)
	if err != nil {
		s.writeErr(w, http.StatusBadRequest, err)
		return
	}

	contentType := "audio/x-mpegurl"
	filename := fmt.Sprintf("source-%d.m3u", sourceID)
	if format == service.FormatTXT {
		contentType = "text/plain; charset=utf-8"
		filename = fmt.Sprintf("source-%d.txt", sourceID)
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(out))
}

// --- template handlers ---

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.ListTemplates(r.Context(), r.URL.Query().Get("group"))
	if err != nil {
		s.writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if entries == nil {
		entries = []models.TemplateEntry{}
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleTemplateGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.store.TemplateGroups(r.Context())
	if err != nil {
		s.writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if groups == nil {
		groups = []string{}
	}
	s.writeJSON(w, http.StatusOK, groups)
}

func (s *Server) handleTemplateStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.TemplateStatistics(r.Context())
	if err != nil {
		s.writeErr(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

type importTemplatesRequest struct {
	Entries []models.TemplateEntry `json:"entries"`
}

func (s *Server) handleImportTemplates(w http.ResponseWriter, r *http.Request) {
	var req importTemplatesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}
	if len(req.Entries) == 0 {
		s.writeErr(w, http.StatusBadRequest, fmt.Errorf("entries is required"))
		return
	}
	count, err := s.store.ImportTemplates(r.Context(), req.Entries)
	if err != nil {
		s.writeErr(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"imported": count})
}

// --- task handlers ---

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.ListScheduleTasks(r.Context())
	if err != nil {
		s.writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if rows == nil {
		rows = []models.ScheduleTask{}
	}
	// Runtime scheduling state wins over the persisted snapshot.
	for i := range rows {
		if t, ok := s.sched.GetTask(rows[i].ID); ok {
			rows[i].NextExecution = t.NextExecution
		}
	}
	s.writeJSON(w, http.StatusOK, rows)
}

type createTaskRequest struct {
	AccountID      int64    `json:"account_id"`
	ScheduleTime   string   `json:"schedule_time"`
	RepeatType     string   `json:"repeat_type"`
	FilterSD       bool     `json:"filter_sd"`
	ChannelFilters []string `json:"channel_filters"`
	Enabled        *bool    `json:"is_enabled"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}
	if req.AccountID == 0 || req.ScheduleTime == "" || req.RepeatType == "" {
		s.writeErr(w, http.StatusBadRequest, fmt.Errorf("account_id, schedule_time and repeat_type are required"))
		return
	}
	if _, err := s.store.GetAccount(r.Context(), req.AccountID); err != nil {
		s.writeStoreErr(w, err, "account", req.AccountID)
		return
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	row := models.ScheduleTask{
		AccountID:      req.AccountID,
		TaskType:       models.TaskTypeFetchChannels,
		ScheduleTime:   req.ScheduleTime,
		RepeatType:     req.RepeatType,
		FilterSD:       req.FilterSD,
		ChannelFilters: req.ChannelFilters,
		Enabled:        enabled,
	}

	// Validate before persisting so a bad schedule never reaches the store.
	if _, err := scheduler.NewTask(0, row.TaskType, row.AccountID, row.ScheduleTime, row.RepeatType, row.Enabled,
		scheduler.FilterConfig{ExcludePatterns: row.ChannelFilters, FilterSD: row.FilterSD}, time.Now()); err != nil {
		s.writeErr(w, http.StatusBadRequest, err)
		return
	}

	id, err := s.store.CreateScheduleTask(r.Context(), &row)
	if err != nil {
		s.writeErr(w, http.StatusInternalServerError, err)
		return
	}
	row.ID = id

	task, err := scheduler.FromRow(row, time.Now())
	if err != nil {
		s.writeErr(w, http.StatusInternalServerError, err)
		return
	}
	s.sched.AddTask(task)

	s.writeJSON(w, http.StatusCreated, task.Row())
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		s.writeErr(w, http.StatusBadRequest, err)
		return
	}
	row, err := s.store.GetScheduleTask(r.Context(), id)
	if err != nil {
		s.writeStoreErr(w, err, "task", id)
		return
	}
	if t, ok := s.sched.GetTask(id); ok {
		row.NextExecution = t.NextExecution
	}
	s.writeJSON(w, http.StatusOK, row)
}

type updateTaskRequest struct {
	ScheduleTime   *string   `json:"schedule_time"`
	RepeatType     *string   `json:"repeat_type"`
	FilterSD       *bool     `json:"filter_sd"`
	ChannelFilters *[]string `json:"channel_filters"`
	Enabled        *bool     `json:"is_enabled"`
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		s.writeErr(w, http.StatusBadRequest, err)
		return
	}
	var req updateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}

	fields := models.ScheduleTaskUpdate{
		ScheduleTime:   req.ScheduleTime,
		RepeatType:     req.RepeatType,
		FilterSD:       req.FilterSD,
		ChannelFilters: req.ChannelFilters,
		Enabled:        req.Enabled,
	}
	if err := s.store.UpdateScheduleTask(r.Context(), id, fields); err != nil {
		s.writeStoreErr(w, err, "task", id)
		return
	}
	s.sched.UpdateTask(id, fields)

	row, err := s.store.GetScheduleTask(r.Context(), id)
	if err != nil {
		s.writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if t, ok := s.sched.GetTask(id); ok {
		row.NextExecution = t.NextExecution
	}
	s.writeJSON(w, http.StatusOK, row)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		s.writeErr(w, http.StatusBadRequest, err)
		return
	}
	if err := s.store.DeleteScheduleTask(r.Context(), id); err != nil {
		s.writeStoreErr(w, err, "task", id)
		return
	}
	s.sched.RemoveTask(id)
	w.WriteHeader(http.StatusNoContent)
}

// handleRunTask triggers one task outside its schedule, with the scheduler's
// normal bookkeeping.
func (s *Server) handleRunTask(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		s.writeErr(w, http.StatusBadRequest, err)
		return
	}
	if _, ok := s.sched.GetTask(id); !ok {
		s.writeErr(w, http.StatusNotFound, fmt.Errorf("task %d not found", id))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.FetchTimeout)
	defer cancel()
	if err := s.sched.Execute(ctx, id); err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, service.ErrFetchInProgress) {
			status = http.StatusConflict
		}
		s.writeErr(w, status, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"task_id": id, "executed": true})
}

// --- middleware ---

// withCORS adds CORS headers to every response and handles preflight OPTIONS
// requests.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// withLogging logs each request with method, path, status, and duration.
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", sw.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// --- helpers ---

// APIError is the standard error envelope for all error responses.
type APIError struct {
	Status int    `json:"status"`
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// parseID extracts a path parameter by name and parses it as int64.
func parseID(r *http.Request, param string) (int64, error) {
	v := r.PathValue(param)
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %s", param, v)
	}
	return id, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("writeJSON")
	}
}

func (s *Server) writeErr(w http.ResponseWriter, status int, err error) {
	if status >= 500 {
		s.log.Error().Int("status", status).Err(err).Msg("request failed")
	}
	s.writeJSON(w, status, APIError{
		Status: status,
		Error:  http.StatusText(status),
		Detail: err.Error(),
	})
}

// writeStoreErr maps ErrNotFound to 404 and everything else to 500.
func (s *Server) writeStoreErr(w http.ResponseWriter, err error, kind string, id int64) {
	if errors.Is(err, store.ErrNotFound) {
		s.writeErr(w, http.StatusNotFound, fmt.Errorf("%s %d not found", kind, id))
		return
	}
	s.writeErr(w, http.StatusInternalServerError, err)
}
