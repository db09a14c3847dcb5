package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	cli "github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jorge-barreto/patchr/internal/agent"
	"github.com/jorge-barreto/patchr/internal/audit"
	"github.com/jorge-barreto/patchr/internal/config"
	"github.com/jorge-barreto/patchr/internal/diff"
	"github.com/jorge-barreto/patchr/internal/docs"
	"github.com/jorge-barreto/patchr/internal/doctor"
	"github.com/jorge-barreto/patchr/internal/gate"
	"github.com/jorge-barreto/patchr/internal/pipeline"
	"github.com/jorge-barreto/patchr/internal/scaffold"
	"github.com/jorge-barreto/patchr/internal/scan"
	"github.com/jorge-barreto/patchr/internal/server"
	"github.com/jorge-barreto/patchr/internal/ux"
)

// exitRunFailed is the exit status of a run that ended in a Failure.
const exitRunFailed = 2

func main() {
	app := &cli.Command{
		Name:        "patchr",
		Usage:       "Turn an instruction into a validated patch",
		Description: "Run 'patchr docs' for documentation on the pipeline, the gate, configuration, and more.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "Config file (default: .patchr/config.yaml in the project root)"},
			&cli.StringFlag{Name: "log-level", Usage: "Override log.level (debug, info, warn, error)"},
		},
		Commands: []*cli.Command{
			initCmd(),
			runCmd(),
			serveCmd(),
			statusCmd(),
			doctorCmd(),
			configCmd(),
			docsCmd(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%serror:%s %v\n", ux.Red, ux.Reset, err)
		os.Exit(1)
	}
}

func runCmd() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run the pipeline on a project",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "prompt", Aliases: []string{"p"}, Usage: "The instruction"},
			&cli.StringFlag{Name: "dir", Usage: "Project directory (default: project root)"},
			&cli.StringFlag{Name: "zip", Usage: "Project zip archive instead of a directory"},
			&cli.IntFlag{Name: "max-attempts", Usage: "Generation attempts (overrides pipeline.max-attempts)"},
			&cli.DurationFlag{Name: "timeout", Usage: "Per-phase timeout (overrides pipeline.phase-timeout)"},
			&cli.BoolFlag{Name: "allow-destructive", Usage: "Allow overwriting files without a modify task"},
			&cli.StringFlag{Name: "out", Usage: "Also write the patch to this file"},
			&cli.BoolFlag{Name: "trace", Usage: "Print OpenTelemetry spans to stderr"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			prompt := cmd.String("prompt")
			if prompt == "" {
				return fmt.Errorf("--prompt is required")
			}
			if cmd.IsSet("dir") && cmd.IsSet("zip") {
				return fmt.Errorf("--dir and --zip are mutually exclusive")
			}

			e, err := setup(cmd)
			if err != nil {
				return err
			}
			defer e.Logger.Sync()

			opts, err := runOptions(e.Config.Pipeline, cmd)
			if err != nil {
				return err
			}

			var tree scan.Tree
			if z := cmd.String("zip"); z != "" {
				tree, err = scan.FromZip(z)
			} else {
				dir := cmd.String("dir")
				if dir == "" {
					dir = e.Root
				}
				tree, err = scan.FromDir(dir)
			}
			if err != nil {
				return fmt.Errorf("scanning project: %w", err)
			}

			client, err := e.client()
			if err != nil {
				return err
			}
			store, err := e.store()
			if err != nil {
				return err
			}
			defer store.Close()

			if cmd.Bool("trace") {
				stop, err := setupTracing(os.Stderr)
				if err != nil {
					return err
				}
				defer stop()
			}

			console := ux.NewConsole()
			o := pipeline.New(agent.Phases(client), gate.New(), opts, e.Logger)
			o.Observer = console

			// Set up signal handling
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
			defer stop()

			id := audit.NewRunID()
			res, runErr := o.Run(ctx, id, prompt, tree)

			rec, err := audit.FromRun(res, runErr, time.Now())
			if err != nil {
				return err
			}
			if err := store.Save(context.WithoutCancel(ctx), rec); err != nil {
				e.Logger.Error("saving audit record", zap.Error(err))
			}

			if runErr != nil {
				var f *pipeline.Failure
				if errors.As(runErr, &f) {
					console.Failure(f)
				}
				console.InspectHint(id, true)
				return cli.Exit("", exitRunFailed)
			}

			fmt.Println(res.Recap)
			if res.Patch != nil && res.Patch.Diff != "" {
				fmt.Println(res.Patch.Diff)
				if stats, err := diff.Summarize(res.Patch.Diff); err == nil {
					fmt.Printf("%s%s%s\n", ux.Dim, stats, ux.Reset)
				}
			}
			if out := cmd.String("out"); out != "" && res.Patch != nil {
				if err := os.WriteFile(out, []byte(res.Patch.Diff), 0644); err != nil {
					return fmt.Errorf("writing patch: %w", err)
				}
			}
			console.Success(res.Board.Attempt, res.Board.Generations())
			console.InspectHint(id, false)
			return nil
		},
	}
}

// runOptions applies command-line overrides to the configured pipeline options.
func runOptions(p config.Pipeline, cmd *cli.Command) (pipeline.Options, error) {
	opts := pipeline.Options{
		MaxAttempts:    p.MaxAttempts,
		PhaseTimeout:   p.PhaseTimeout,
		NonDestructive: p.NonDestructive,
	}
	if cmd.IsSet("max-attempts") {
		n := int(cmd.Int("max-attempts"))
		if n < 1 || n > 10 {
			return opts, fmt.Errorf("--max-attempts must be between 1 and 10, got %d", n)
		}
		opts.MaxAttempts = n
	}
	if cmd.IsSet("timeout") {
		d := cmd.Duration("timeout")
		if d <= 0 {
			return opts, fmt.Errorf("--timeout must be positive")
		}
		opts.PhaseTimeout = d
	}
	if cmd.Bool("allow-destructive") {
		opts.NonDestructive = false
	}
	return opts, nil
}

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the HTTP API",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "Listen address (overrides server.addr)"},
			&cli.StringFlag{Name: "metrics-addr", Usage: "Also serve /metrics on a separate listener"},
			&cli.DurationFlag{Name: "grace", Value: 30 * time.Second, Usage: "How long to wait for running requests on shutdown"},
			&cli.BoolFlag{Name: "trace", Usage: "Print OpenTelemetry spans to stderr"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			defer e.Logger.Sync()
			if addr := cmd.String("addr"); addr != "" {
				e.Config.Server.Addr = addr
			}

			client, err := e.client()
			if err != nil {
				return err
			}
			store, err := e.store()
			if err != nil {
				return err
			}
			defer store.Close()

			if cmd.Bool("trace") {
				stop, err := setupTracing(os.Stderr)
				if err != nil {
					return err
				}
				defer stop()
			}

			opts, err := runOptions(e.Config.Pipeline, cmd)
			if err != nil {
				return err
			}
			o := pipeline.New(agent.Phases(client), gate.New(), opts, e.Logger)
			srv := server.New(o, store, e.Config.Server, e.Logger)

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			grace := cmd.Duration("grace")
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return srv.ListenAndServe(gctx, grace)
			})
			if addr := cmd.String("metrics-addr"); addr != "" {
				g.Go(func() error {
					return serveMetrics(gctx, addr, e.Logger)
				})
			}
			return g.Wait()
		},
	}
}

// serveMetrics exposes only /metrics on addr until ctx is done.
func serveMetrics(ctx context.Context, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errc := make(chan error, 1)
	go func() {
		logger.Info("metrics listening", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func statusCmd() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Show a recorded run (default: the latest)",
		ArgsUsage: "[run-id]",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			store, err := e.store()
			if err != nil {
				return err
			}
			defer store.Close()

			rec, err := loadRecord(ctx, store, cmd.Args().First())
			if err != nil {
				return err
			}
			ux.RenderStatus(os.Stdout, rec, runDir(store, rec.ID))
			return nil
		},
	}
}

func doctorCmd() *cli.Command {
	return &cli.Command{
		Name:      "doctor",
		Usage:     "Diagnose a failed run using the configured LLM",
		ArgsUsage: "[run-id]",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			store, err := e.store()
			if err != nil {
				return err
			}
			defer store.Close()

			rec, err := loadRecord(ctx, store, cmd.Args().First())
			if err != nil {
				return err
			}
			client, err := e.client()
			if err != nil {
				return err
			}
			return doctor.Run(ctx, os.Stdout, client, rec, runDir(store, rec.ID))
		},
	}
}

func initCmd() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Initialize a new .patchr/ directory with the default config",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			dir, err := os.Getwd()
			if err != nil {
				return err
			}
			return scaffold.Init(dir, os.Stdout)
		},
	}
}

func configCmd() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Print the effective configuration",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			data, err := config.Marshal(e.Config)
			if err != nil {
				return err
			}
			fmt.Printf("%s# project root: %s%s\n", ux.Dim, e.Root, ux.Reset)
			fmt.Print(string(data))
			return nil
		},
	}
}

func docsCmd() *cli.Command {
	return &cli.Command{
		Name:      "docs",
		Usage:     "Show documentation",
		ArgsUsage: "[topic]",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			name := cmd.Args().First()
			if name == "" {
				docs.WriteIndex(os.Stdout)
				return nil
			}
			t, err := docs.Get(name)
			if err != nil {
				return err
			}
			docs.Write(os.Stdout, t)
			return nil
		},
	}
}
