// Package server exposes the analysis orchestrator over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gzhole/accessguard/internal/analysis"
	"github.com/gzhole/accessguard/internal/custom"
	"github.com/gzhole/accessguard/internal/detector"
	"github.com/gzhole/accessguard/internal/export"
	"github.com/gzhole/accessguard/internal/logger"
	"github.com/gzhole/accessguard/internal/metrics"
	"github.com/gzhole/accessguard/internal/summary"
)

// DefaultMaxBodyBytes caps an uploaded corpus.
const DefaultMaxBodyBytes = 64 << 20

const auditSource = "http"

// Options wires optional collaborators. A nil Builder disables
// POST /api/custom; nil Metrics and Audit disable /metrics and audit events.
type Options struct {
	Builder      *custom.Builder
	Metrics      *metrics.Collector
	Audit        *logger.AuditLogger
	MaxBodyBytes int64
}

type Server struct {
	orch   *analysis.Orchestrator
	store  *custom.Store
	opts   Options
	engine *gin.Engine
}

// apiError carries the HTTP status for a failed request.
type apiError struct {
	status int
	err    error
}

func (e *apiError) Error() string { return e.err.Error() }
func (e *apiError) Unwrap() error { return e.err }

func newAPIError(status int, err error) error {
	return &apiError{status: status, err: err}
}

type handleFunc[T any] func(c *gin.Context) (T, error)

func New(orch *analysis.Orchestrator, store *custom.Store, opts Options) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	s := &Server{
		orch:   orch,
		store:  store,
		opts:   opts,
		engine: gin.New(),
	}
	s.engine.Use(gin.Recovery())
	s.routes()
	return s
}

func (s *Server) routes() {
	e := s.engine
	e.GET("/healthz", func(c *gin.Context) { handle(c, s.health) })
	if s.opts.Metrics != nil {
		e.GET("/metrics", gin.WrapH(s.opts.Metrics.Handler()))
	}

	api := e.Group("/api")
	{
		api.GET("categories", func(c *gin.Context) { handle(c, s.categories) })

		api.PUT("corpus", func(c *gin.Context) { handle(c, s.loadCorpus) })
		api.DELETE("corpus", func(c *gin.Context) { handle(c, s.clearCorpus) })

		api.GET("scan", func(c *gin.Context) { handle(c, s.scanAll) })
		api.GET("scan/:category", s.scanCategory)
		api.GET("summary", func(c *gin.Context) { handle(c, s.summary) })

		api.GET("custom", func(c *gin.Context) { handle(c, s.listCustom) })
		api.POST("custom", func(c *gin.Context) { handle(c, s.createCustom) })
		api.DELETE("custom/:key", func(c *gin.Context) { handle(c, s.deleteCustom) })
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}

func handle[T any](c *gin.Context, fn handleFunc[T]) {
	rsp, err := fn(c)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if c.Writer.Written() {
		return
	}
	// A handler may set a status such as 201 before returning.
	code := c.Writer.Status()
	if code == http.StatusNoContent {
		c.Status(code)
		return
	}
	c.JSON(code, rsp)
}

func abortWithError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	var apiErr *apiError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.status
	case errors.Is(err, analysis.ErrUnknownCategory):
		status = http.StatusNotFound
	case errors.Is(err, analysis.ErrDetectorFailed):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, analysis.ErrKeyConflict):
		status = http.StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func (s *Server) audit(ev logger.AuditEvent) {
	if s.opts.Audit == nil {
		return
	}
	ev.Source = auditSource
	_ = s.opts.Audit.Log(ev)
}

type healthResponse struct {
	Status     string `json:"status"`
	Records    int    `json:"records"`
	Extensions int    `json:"extensions"`
}

func (s *Server) health(c *gin.Context) (healthResponse, error) {
	return healthResponse{
		Status:     "ok",
		Records:    s.orch.Len(),
		Extensions: len(s.orch.Extensions()),
	}, nil
}

type categoryEntry struct {
	Key         detector.Key      `json:"key"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Severity    detector.Severity `json:"severity,omitempty"`
	Builtin     bool              `json:"builtin"`
}

func (s *Server) categories(c *gin.Context) ([]categoryEntry, error) {
	var out []categoryEntry
	for _, cat := range detector.Categories() {
		out = append(out, categoryEntry{
			Key:         cat.Key,
			Name:        cat.Name,
			Description: cat.Description,
			Severity:    cat.Severity,
			Builtin:     true,
		})
	}
	for _, ext := range s.orch.Extensions() {
		entry := categoryEntry{Key: ext.Key(), Name: ext.Name()}
		if d, ok := s.store.Get(ext.Key()); ok {
			entry.Description = d.Description()
		}
		out = append(out, entry)
	}
	return out, nil
}

type loadResponse struct {
	Records int `json:"records"`
	Lines   int `json:"lines"`
	Skipped int `json:"skipped"`
}

func (s *Server) loadCorpus(c *gin.Context) (loadResponse, error) {
	body := http.MaxBytesReader(c.Writer, c.Request.Body, s.opts.MaxBodyBytes)
	stats, err := s.orch.LoadReader(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return loadResponse{}, newAPIError(http.StatusRequestEntityTooLarge, err)
		}
		return loadResponse{}, newAPIError(http.StatusBadRequest, err)
	}

	s.audit(logger.AuditEvent{Action: logger.ActionLoad, Records: stats.Parsed, Skipped: stats.Skipped})
	return loadResponse{Records: stats.Parsed, Lines: stats.Lines, Skipped: stats.Skipped}, nil
}

func (s *Server) clearCorpus(c *gin.Context) (any, error) {
	s.orch.Clear()
	s.audit(logger.AuditEvent{Action: logger.ActionClear})
	c.Status(http.StatusNoContent)
	return nil, nil
}

func (s *Server) scanAll(c *gin.Context) (map[detector.Key]analysis.Result, error) {
	start := time.Now()
	results, err := s.orch.RunAll(c.Request.Context(), nil)
	flagged := 0
	for _, r := range results {
		flagged += r.Count
	}
	ev := logger.AuditEvent{
		Action:     logger.ActionScanAll,
		Records:    s.orch.Len(),
		Flagged:    flagged,
		DurationMS: time.Since(start).Milliseconds(),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	s.audit(ev)
	return results, err
}

func (s *Server) scanCategory(c *gin.Context) {
	key := detector.Key(c.Param("category"))

	limit, err := queryInt(c, "limit", analysis.DefaultLimit)
	if err != nil {
		abortWithError(c, err)
		return
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		abortWithError(c, err)
		return
	}
	format := c.DefaultQuery("format", "json")
	if format != "json" && format != "csv" {
		abortWithError(c, newAPIError(http.StatusBadRequest, fmt.Errorf("unsupported format %q", format)))
		return
	}

	start := time.Now()
	res, err := s.orch.RunCategory(c.Request.Context(), key)
	ev := logger.AuditEvent{
		Action:     logger.ActionScan,
		Category:   string(key),
		Records:    s.orch.Len(),
		Flagged:    res.Count,
		DurationMS: time.Since(start).Milliseconds(),
	}
	if err != nil {
		ev.Error = err.Error()
		s.audit(ev)
		abortWithError(c, err)
		return
	}
	s.audit(ev)

	if format == "csv" {
		c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.csv"`, key))
		c.Header("Content-Type", "text/csv; charset=utf-8")
		c.Status(http.StatusOK)
		if err := export.WriteCSV(c.Writer, res.Results); err != nil {
			_ = c.Error(err)
		}
		return
	}
	c.JSON(http.StatusOK, analysis.Page(res, limit, offset))
}

func queryInt(c *gin.Context, name string, def int) (int, error) {
	v := c.Query(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, newAPIError(http.StatusBadRequest, fmt.Errorf("invalid %s %q", name, v))
	}
	return n, nil
}

type summaryResponse struct {
	Summary  summary.Summary   `json:"summary"`
	Findings []summary.Finding `json:"critical_findings"`
}

func (s *Server) summary(c *gin.Context) (summaryResponse, error) {
	results, err := s.orch.RunEverything(c.Request.Context(), nil)
	if err != nil {
		return summaryResponse{}, err
	}
	sum := summary.Build(results)
	findings := summary.CriticalFindings(results, sum)
	if findings == nil {
		findings = []summary.Finding{}
	}
	return summaryResponse{Summary: sum, Findings: findings}, nil
}

func (s *Server) listCustom(c *gin.Context) ([]custom.Info, error) {
	list := s.store.List()
	out := make([]custom.Info, len(list))
	for i, d := range list {
		out[i] = d.Info()
	}
	return out, nil
}

type createRequest struct {
	Description string `json:"description"`
}

func (s *Server) createCustom(c *gin.Context) (custom.Info, error) {
	if s.opts.Builder == nil {
		return custom.Info{}, newAPIError(http.StatusServiceUnavailable, errors.New("no text-generation service configured"))
	}
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return custom.Info{}, newAPIError(http.StatusBadRequest, err)
	}

	d, err := s.opts.Builder.Propose(c.Request.Context(), req.Description)
	ev := logger.AuditEvent{Action: logger.ActionCustomCreate, Detail: req.Description}
	if err != nil {
		ev.Error = err.Error()
		s.audit(ev)
		if errors.Is(err, custom.ErrEmptyDescription) {
			return custom.Info{}, newAPIError(http.StatusBadRequest, err)
		}
		return custom.Info{}, newAPIError(http.StatusBadGateway, err)
	}
	if err := s.orch.Register(d); err != nil {
		return custom.Info{}, err
	}
	s.store.Add(d)

	ev.Detector = string(d.Key())
	s.audit(ev)
	c.Status(http.StatusCreated)
	return d.Info(), nil
}

func (s *Server) deleteCustom(c *gin.Context) (any, error) {
	key := detector.Key(c.Param("key"))
	if _, ok := s.store.Get(key); !ok {
		return nil, fmt.Errorf("%w: %s", analysis.ErrUnknownCategory, key)
	}
	s.orch.Unregister(key)
	s.store.Delete(key)
	c.Status(http.StatusNoContent)
	return nil, nil
}
