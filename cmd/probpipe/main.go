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

	"github.com/fatih/color"
	"github.com/programme-lv/probpipe/api"
	"github.com/programme-lv/probpipe/internal/jobstore"
	"github.com/programme-lv/probpipe/internal/metrics"
	"github.com/programme-lv/probpipe/internal/notify"
	"github.com/programme-lv/probpipe/internal/orchestrator"
	"github.com/programme-lv/probpipe/internal/server"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

func main() {
	cmd := &cli.Command{
		Name:  "probpipe",
		Usage: "prepare and verify competitive programming problems",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config.toml",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP API and the background worker",
				Action: serve,
			},
			{
				Name:      "run",
				Usage:     "generate tests, validate inputs and run all solutions of a problem",
				ArgsUsage: "<slug>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "skip-generate", Usage: "keep the existing test inputs"},
					&cli.StringFlag{Name: "test-set", Usage: "only this test set"},
					&cli.BoolFlag{Name: "review", Usage: "review the problem afterwards"},
				},
				Action: runPipeline,
			},
			{
				Name:      "solve",
				Usage:     "run one solution against every test",
				ArgsUsage: "<slug> <solution>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "test-set", Usage: "only this test set"},
				},
				Action: solve,
			},
			{
				Name:      "job",
				Usage:     "print a job record",
				ArgsUsage: "<id>",
				Action:    showJob,
			},
			{
				Name:   "purge",
				Usage:  "delete superseded job records",
				Action: purge,
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := cmd.Run(ctx, os.Args); err != nil {
		color.New(color.FgRed).Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, c *cli.Command) error {
	m, metricsHandler, err := metrics.New()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, c.String("config"), m)
	if err != nil {
		return err
	}
	defer a.close()
	a.stages.SetRecorder(m)

	worker := orchestrator.NewWorker(a.store, a.cfg.Exec.QueueSize, a.log)
	if err := m.ObserveQueue(worker.Pending); err != nil {
		return err
	}
	// stages are not cancelled on shutdown, queued work drains first
	worker.Start(context.WithoutCancel(ctx))

	srv := server.New(a.store, a.pipeline, worker, a.cfg.ProblemsRoot, a.log,
		server.WithMetrics(m, metricsHandler))
	httpSrv := &http.Server{
		Addr:              a.cfg.Server.Listen,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("listening", "addr", httpSrv.Addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		a.log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("http shutdown", "error", err)
	}
	worker.Close()
	return m.Shutdown(shutdownCtx)
}

func runPipeline(ctx context.Context, c *cli.Command) error {
	if c.Args().Len() != 1 {
		return fmt.Errorf("expected <slug>")
	}
	slug := c.Args().First()

	a, err := newApp(ctx, c.String("config"), notify.NewTerminal(os.Stdout))
	if err != nil {
		return err
	}
	defer a.close()
	if _, err := a.stages.Load(slug); err != nil {
		return err
	}

	tasks, err := a.pipeline.Full(slug, api.PipelineRequest{
		SkipGenerate: c.Bool("skip-generate"),
		TestSet:      c.String("test-set"),
	})
	if err != nil {
		return err
	}
	if c.Bool("review") {
		review, err := a.pipeline.Review(slug)
		if err != nil {
			return err
		}
		tasks = append(tasks, review...)
	}
	return follow(ctx, a, tasks)
}

func solve(ctx context.Context, c *cli.Command) error {
	if c.Args().Len() != 2 {
		return fmt.Errorf("expected <slug> <solution>")
	}
	slug, solution := c.Args().Get(0), c.Args().Get(1)

	a, err := newApp(ctx, c.String("config"), notify.NewTerminal(os.Stdout))
	if err != nil {
		return err
	}
	defer a.close()
	p, err := a.stages.Load(slug)
	if err != nil {
		return err
	}
	if _, ok := p.Solution(solution); !ok {
		return fmt.Errorf("solution %q not found in %s", solution, slug)
	}

	tasks, err := a.pipeline.RunSolution(slug, api.RunSolutionRequest{
		SolutionPath: solution,
		TestSet:      c.String("test-set"),
	})
	if err != nil {
		return err
	}
	return follow(ctx, a, tasks)
}

// follow runs tasks in the foreground. The terminal observer prints as the
// jobs move; the exit status reflects whether every job finished.
func follow(ctx context.Context, a *app, tasks []orchestrator.Task) error {
	orchestrator.RunSequential(ctx, a.store, tasks, a.log)
	for _, t := range tasks {
		job, err := a.store.Read(t.JobID)
		if err != nil {
			return err
		}
		if job.Status != api.StatusDone {
			return fmt.Errorf("job %s %s", job.ID, job.Status)
		}
	}
	return nil
}

func showJob(ctx context.Context, c *cli.Command) error {
	if c.Args().Len() != 1 {
		return fmt.Errorf("expected <id>")
	}
	a, err := newApp(ctx, c.String("config"))
	if err != nil {
		return err
	}
	defer a.close()
	job, err := a.store.Read(c.Args().First())
	if errors.Is(err, jobstore.ErrJobNotFound) {
		return fmt.Errorf("no such job: %s", c.Args().First())
	}
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(job)
}

func purge(ctx context.Context, c *cli.Command) error {
	a, err := newApp(ctx, c.String("config"))
	if err != nil {
		return err
	}
	defer a.close()
	n, err := a.store.PurgeStale()
	if err != nil {
		return err
	}
	fmt.Printf("deleted %d job records\n", n)
	return nil
}
