// Package server exposes the pipeline over HTTP.
//
//	GET  /health       liveness
//	POST /v1/apply     multipart "file" (zip) + "prompt"; runs the pipeline
//	GET  /v1/runs/:id  audit record of a finished run
//	GET  /metrics      prometheus
package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/jorge-barreto/patchr/internal/audit"
	"github.com/jorge-barreto/patchr/internal/config"
	"github.com/jorge-barreto/patchr/internal/pipeline"
	"github.com/jorge-barreto/patchr/internal/scan"
)

// Runner executes one pipeline run. *pipeline.Orchestrator satisfies it.
type Runner interface {
	Run(ctx context.Context, runID, instruction string, tree scan.Tree) (*pipeline.Success, error)
}

// Server holds the HTTP handlers and their dependencies.
type Server struct {
	runner    Runner
	store     audit.Store
	logger    *zap.Logger
	addr      string
	maxUpload int64
	engine    *gin.Engine
}

// ApplyResponse is returned for a run whose patch passed the gate.
type ApplyResponse struct {
	ID       string `json:"id"`
	Recap    string `json:"recap"`
	Diff     string `json:"diff"`
	Attempts int    `json:"attempts"`
}

// FailureResponse is returned with 422 when a run stops early.
type FailureResponse struct {
	ID         string `json:"id"`
	Error      string `json:"error"`
	Kind       string `json:"kind"`
	Phase      string `json:"phase"`
	Diagnostic string `json:"diagnostic"`
}

// New builds the router. store may be nil, in which case runs are not persisted
// and /v1/runs/:id always answers 404.
func New(runner Runner, store audit.Store, cfg config.Server, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	maxMB := cfg.MaxUploadMB
	if maxMB <= 0 {
		maxMB = 25
	}
	s := &Server{
		runner:    runner,
		store:     store,
		logger:    logger,
		addr:      cfg.Addr,
		maxUpload: maxMB << 20,
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	v1 := r.Group("/v1")
	{
		v1.POST("/apply", s.handleApply)
		v1.GET("/runs/:id", s.handleRun)
	}
	s.engine = r
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.engine }

// ListenAndServe serves until ctx is canceled, then shuts down gracefully,
// giving in-flight runs up to grace to finish.
func (s *Server) ListenAndServe(ctx context.Context, grace time.Duration) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", s.addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleApply(c *gin.Context) {
	// one extra MB for the prompt and multipart framing
	limit := s.maxUpload + 1<<20
	if c.Request.ContentLength > limit {
		tooLarge(c)
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	if err := c.Request.ParseMultipartForm(32 << 20); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			tooLarge(c)
			return
		}
		badRequest(c, "expected a multipart form")
		return
	}

	prompt := strings.TrimSpace(c.PostForm("prompt"))
	if prompt == "" {
		badRequest(c, "prompt is required")
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "file is required")
		return
	}
	if fh.Size > s.maxUpload {
		tooLarge(c)
		return
	}
	file, err := fh.Open()
	if err != nil {
		badRequest(c, "cannot read upload")
		return
	}
	data, err := io.ReadAll(io.LimitReader(file, s.maxUpload+1))
	file.Close()
	if err != nil {
		badRequest(c, "cannot read upload")
		return
	}
	tree, err := scan.FromZipBytes(data)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	id := audit.NewRunID()
	log := s.logger.With(zap.String("run_id", id))
	res, runErr := s.runner.Run(c.Request.Context(), id, prompt, tree)
	s.persist(c.Request.Context(), log, res, runErr)

	if runErr == nil {
		b := res.Board
		var diff string
		if res.Patch != nil {
			diff = res.Patch.Diff
		}
		c.JSON(http.StatusOK, ApplyResponse{ID: id, Recap: res.Recap, Diff: diff, Attempts: b.Attempt + 1})
		return
	}
	var f *pipeline.Failure
	if !errors.As(runErr, &f) {
		log.Error("run ended without a failure record", zap.Error(runErr))
		c.JSON(http.StatusInternalServerError, gin.H{"id": id, "error": runErr.Error()})
		return
	}
	c.JSON(http.StatusUnprocessableEntity, FailureResponse{
		ID:         id,
		Error:      f.Error(),
		Kind:       string(f.Kind),
		Phase:      f.Phase,
		Diagnostic: f.Diagnostic,
	})
}

func (s *Server) handleRun(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	rec, err := s.store.Load(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, audit.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		s.logger.Error("loading run", zap.String("run_id", c.Param("id")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cannot load run"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// persist saves the audit record. Failures are logged; the client still gets
// the run's result.
func (s *Server) persist(ctx context.Context, log *zap.Logger, res *pipeline.Success, runErr error) {
	if s.store == nil {
		return
	}
	rec, err := audit.FromRun(res, runErr, time.Now())
	if err != nil {
		log.Warn("not recording run", zap.Error(err))
		return
	}
	if err := s.store.Save(context.WithoutCancel(ctx), rec); err != nil {
		log.Error("saving audit record", zap.Error(err))
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

func tooLarge(c *gin.Context) {
	c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "upload too large"})
}
