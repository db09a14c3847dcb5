package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	cli "github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/jorge-barreto/patchr/internal/audit"
	"github.com/jorge-barreto/patchr/internal/config"
	"github.com/jorge-barreto/patchr/internal/llm"
	"github.com/jorge-barreto/patchr/internal/logging"
)

// env is what every command needs after startup.
type env struct {
	Root   string
	Config *config.Config
	Logger *zap.Logger
}

// setup finds the project, loads the config and builds the logger.
func setup(cmd *cli.Command) (*env, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	root := findProjectRoot(cwd)

	configPath := cmd.String("config")
	if configPath == "" {
		configPath = filepath.Join(root, ".patchr", "config.yaml")
	}
	cfg, err := config.Load(configPath, root)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if lvl := cmd.String("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	return &env{Root: root, Config: cfg, Logger: logger}, nil
}

// client builds the configured LLM client. A "none" provider yields nil.
func (e *env) client() (llm.Client, error) {
	if err := llm.Preflight(e.Config.LLM.Provider); err != nil {
		return nil, err
	}
	c, err := llm.New(e.Config.LLM, e.Logger)
	if errors.Is(err, llm.ErrDisabled) {
		return nil, nil
	}
	return c, err
}

// store opens the audit backend.
func (e *env) store() (audit.Store, error) {
	s, err := audit.Open(e.Config.Audit)
	if err != nil {
		return nil, fmt.Errorf("opening audit store: %w", err)
	}
	return s, nil
}

// runDir is the artifact directory of a run for the file backend, or "".
func runDir(s audit.Store, id string) string {
	if fs, ok := s.(*audit.FileStore); ok {
		return filepath.Join(fs.Dir, id)
	}
	return ""
}

// loadRecord returns the run named by the first argument, or the latest run.
func loadRecord(ctx context.Context, s audit.Store, id string) (*audit.Record, error) {
	var rec *audit.Record
	var err error
	if id == "" {
		rec, err = s.Latest(ctx)
	} else {
		rec, err = s.Load(ctx, id)
	}
	if errors.Is(err, audit.ErrNotFound) {
		if id == "" {
			return nil, fmt.Errorf("no runs recorded yet")
		}
		return nil, fmt.Errorf("no run %q", id)
	}
	return rec, err
}

// setupTracing installs a tracer provider that prints spans to w. The returned
// function flushes and stops it.
func setupTracing(w io.Writer) (func(), error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("create exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", "patchr"))),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "failed to shut down tracer: %v\n", err)
		}
	}, nil
}

// findProjectRoot walks up from dir looking for a .patchr directory. Without
// one, dir itself is the project root.
func findProjectRoot(dir string) string {
	start := dir
	for {
		if info, err := os.Stat(filepath.Join(dir, ".patchr")); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return start
		}
		dir = parent
	}
}
