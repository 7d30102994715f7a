package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"calreport/internal/config"
	appLog "calreport/internal/log"
	"calreport/internal/model"
	"calreport/internal/pipeline"
)

// Server exposes the latest run, its records and the generated reports.
type Server struct {
	config  func() *config.Config
	store   *pipeline.Store
	refresh func(ctx context.Context) bool
	mux     *http.ServeMux
}

// NewServer constructs a new Server. cfg is consulted on every request so
// reloaded settings (output dir, credentials) take effect immediately.
// refresh may be nil, in which case POST /api/refresh is not available.
func NewServer(cfg func() *config.Config, store *pipeline.Store, refresh func(ctx context.Context) bool) *Server {
	s := &Server{
		config:  cfg,
		store:   store,
		refresh: refresh,
		mux:     http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.basicAuthMiddleware(s.mux)
}

// basicAuth returns the configured credentials, or nil when auth is off.
// An empty username or password disables auth.
func (s *Server) basicAuth() *config.BasicAuthConfig {
	cfg := s.config()
	if cfg == nil || cfg.BasicAuth == nil {
		return nil
	}
	if cfg.BasicAuth.Username == "" || cfg.BasicAuth.Password == "" {
		return nil
	}
	return cfg.BasicAuth
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := s.basicAuth()
		if auth == nil || r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, auth.Username) || !secureCompare(p, auth.Password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="calreport", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// ListenAndServe serves on cfg.Listen until ctx is canceled, then shuts the
// server down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := s.config().Listen
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+addr, "basic_auth", s.basicAuth() != nil)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("GET /api/runs/latest", s.handleLatestRun)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	s.mux.Handle("GET /metrics", promhttp.Handler())
	s.mux.Handle("GET /reports/", s.reportFileServer())
	s.mux.Handle("GET /{$}", http.RedirectHandler("/reports/", http.StatusFound))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// reportFileServer serves the output directory under /reports/.
func (s *Server) reportFileServer() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dir := s.config().OutputDir
		http.StripPrefix("/reports/", http.FileServer(http.Dir(dir))).ServeHTTP(w, r)
	})
}

// eventsResponse is the JSON response shape for /api/events.
type eventsResponse struct {
	RunID       string     `json:"run_id"`
	GeneratedAt time.Time  `json:"generated_at"`
	Events      []eventDTO `json:"events"`
}

// eventDTO is a JSON-friendly view of a record. Start/End are set only when
// the timestamp parsed; the *_raw fields carry the value as written.
type eventDTO struct {
	SourceID    string     `json:"source_id"`
	Summary     string     `json:"summary,omitempty"`
	Start       *time.Time `json:"start,omitempty"`
	StartRaw    string     `json:"start_raw,omitempty"`
	End         *time.Time `json:"end,omitempty"`
	EndRaw      string     `json:"end_raw,omitempty"`
	Location    string     `json:"location,omitempty"`
	Description string     `json:"description,omitempty"`
}

// handleEvents returns the records of the latest run.
//
// GET /api/events?source=<id>&q=<text>&limit=<n>
//   - source: only records of that source (id, or label when no id)
//   - q:      case-insensitive match against summary, location or description
//   - limit:  at most n records (0 or absent means all)
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	sum, ok := s.store.Latest()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "no completed run yet")
		return
	}

	q := r.URL.Query()
	sourceID := q.Get("source")
	needle := strings.ToLower(q.Get("q"))
	limit := parseIntDefault(q.Get("limit"), 0)

	dtos := make([]eventDTO, 0)
	for _, sr := range sum.Sources {
		if sourceID != "" && sr.Source.Label() != sourceID {
			continue
		}
		for _, rec := range sr.Records {
			if needle != "" && !matches(rec, needle) {
				continue
			}
			dtos = append(dtos, toDTO(sr.Source.Label(), rec))
		}
	}
	if limit > 0 && len(dtos) > limit {
		dtos = dtos[:limit]
	}

	writeJSON(w, http.StatusOK, eventsResponse{
		RunID:       sum.RunID,
		GeneratedAt: sum.FinishedAt,
		Events:      dtos,
	})
}

func matches(rec model.Record, needle string) bool {
	for _, v := range []string{rec.Summary, rec.Location, rec.Description} {
		if strings.Contains(strings.ToLower(v), needle) {
			return true
		}
	}
	return false
}

func toDTO(sourceID string, rec model.Record) eventDTO {
	dto := eventDTO{
		SourceID:    sourceID,
		Summary:     rec.Summary,
		StartRaw:    rec.Start.Raw,
		EndRaw:      rec.End.Raw,
		Location:    rec.Location,
		Description: rec.Description,
	}
	if rec.Start.Parsed {
		t := rec.Start.Time
		dto.Start = &t
	}
	if rec.End.Parsed {
		t := rec.End.Time
		dto.End = &t
	}
	return dto
}

// runResponse is the JSON response shape for /api/runs/latest.
type runResponse struct {
	RunID      string         `json:"run_id"`
	Status     string         `json:"status"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Sources    []sourceRunDTO `json:"sources"`
}

type sourceRunDTO struct {
	ID          string         `json:"id"`
	FromCache   bool           `json:"from_cache"`
	Records     int            `json:"records"`
	Diagnostics diagnosticsDTO `json:"diagnostics"`
	Artifacts   []string       `json:"artifacts"`
	Error       string         `json:"error,omitempty"`
}

type diagnosticsDTO struct {
	OrphanCloses        []int `json:"orphan_closes"`
	DiscardedBlocks     []int `json:"discarded_blocks"`
	TruncatedBlocks     []int `json:"truncated_blocks"`
	MalformedTimestamps int   `json:"malformed_timestamps"`
}

func (s *Server) handleLatestRun(w http.ResponseWriter, _ *http.Request) {
	sum, ok := s.store.Latest()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "no completed run yet")
		return
	}

	resp := runResponse{
		RunID:      sum.RunID,
		Status:     sum.Status,
		StartedAt:  sum.StartedAt,
		FinishedAt: sum.FinishedAt,
		Sources:    make([]sourceRunDTO, 0, len(sum.Sources)),
	}
	for _, sr := range sum.Sources {
		d := sr.Diagnostics
		dto := sourceRunDTO{
			ID:        sr.Source.Label(),
			FromCache: sr.FromCache,
			Records:   len(sr.Records),
			Diagnostics: diagnosticsDTO{
				OrphanCloses:        nonNil(d.OrphanCloses),
				DiscardedBlocks:     nonNil(d.DiscardedBlocks),
				TruncatedBlocks:     nonNil(d.TruncatedBlocks),
				MalformedTimestamps: d.MalformedTimestamps,
			},
			Artifacts: artifactLinks(sr.Artifacts),
		}
		if sr.Err != nil {
			dto.Error = sr.Err.Error()
		}
		resp.Sources = append(resp.Sources, dto)
	}
	writeJSON(w, http.StatusOK, resp)
}

// artifactLinks maps artifact paths to their /reports/ URLs.
func artifactLinks(a pipeline.Artifacts) []string {
	links := make([]string, 0, 7)
	for _, p := range []string{a.EventsCSV, a.SubjectCSV, a.CohortChart, a.PieChart, a.Markdown, a.HTML, a.Snapshot} {
		if p == "" {
			continue
		}
		links = append(links, "/reports/"+filepath.Base(p))
	}
	return links
}

func nonNil(v []int) []int {
	if v == nil {
		return []int{}
	}
	return v
}

// handleRefresh triggers an immediate run. It answers 409 when a run is
// already in progress.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.refresh == nil {
		writeError(w, http.StatusNotImplemented, "refresh not available")
		return
	}

	// Detach from the request so a client disconnect doesn't abort the run.
	ctx := context.WithoutCancel(r.Context())
	if !s.refresh(ctx) {
		writeError(w, http.StatusConflict, "a run is already in progress")
		return
	}

	s.handleLatestRun(w, r)
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
