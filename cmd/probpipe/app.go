package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/programme-lv/probpipe/internal/config"
	"github.com/programme-lv/probpipe/internal/jobstore"
	"github.com/programme-lv/probpipe/internal/logging"
	"github.com/programme-lv/probpipe/internal/notify"
	"github.com/programme-lv/probpipe/internal/orchestrator"
	"github.com/programme-lv/probpipe/internal/sandbox"
	"github.com/programme-lv/probpipe/internal/stages"
	"github.com/programme-lv/probpipe/internal/verdict"
	"github.com/programme-lv/probpipe/internal/xdg"
)

// app holds the components shared by every command.
type app struct {
	cfg      *config.Config
	log      *slog.Logger
	store    *jobstore.Store
	stages   *stages.Stages
	pipeline *orchestrator.Pipeline

	closers []func()
}

// newApp wires the pipeline. Observers are attached before anything is
// written so they see every job from its creation.
func newApp(ctx context.Context, cfgPath string, observers ...jobstore.Observer) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	log := logging.New(os.Stderr, cfg.LogLevel)
	if err := xdg.EnsureDir(cfg.CacheRoot); err != nil {
		return nil, fmt.Errorf("failed to create cache root: %w", err)
	}
	a := &app{cfg: cfg, log: log}

	opts := []jobstore.Option{jobstore.WithLogger(log)}
	for _, o := range observers {
		opts = append(opts, jobstore.WithObserver(o))
	}
	if cfg.Nats.URL != "" {
		nc, err := notify.Connect(cfg.Nats.URL, log)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = nc.Drain() })
		opts = append(opts, jobstore.WithObserver(notify.NewNatsPublisher(nc, cfg.Nats.SubjectPrefix, log)))
	}
	if cfg.Sqs.QueueURL != "" {
		client, err := notify.NewSqsClient(ctx, cfg.Sqs.Region)
		if err != nil {
			a.close()
			return nil, err
		}
		n := notify.NewSqsNotifier(client, cfg.Sqs.QueueURL, log)
		a.closers = append(a.closers, n.Close)
		opts = append(opts, jobstore.WithObserver(n))
	}

	a.store, err = jobstore.New(cfg.JobsDir(), opts...)
	if err != nil {
		a.close()
		return nil, err
	}

	sb, err := sandbox.New(sandbox.Config{
		Compiler: sandbox.CompilerConfig{
			Dir:      cfg.BinariesDir(),
			Compiler: cfg.Cpp.Compiler,
			Flags:    cfg.Cpp.Flags,
			Timeout:  cfg.CompileTimeout(),
		},
		PythonBin:  cfg.Python.Bin,
		PythonPath: cfg.Python.LibRoot,
	}, log)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to set up sandbox: %w", err)
	}
	engine := verdict.New(sb, verdict.Config{
		PythonBin:        cfg.Python.Bin,
		CheckerTimeout:   config.Seconds(cfg.Exec.CheckerTimeoutSec),
		AnswerCacheBytes: cfg.Exec.AnswerCacheMB << 20,
	}, log)
	a.stages = stages.New(stages.Config{
		ProblemsRoot:     cfg.ProblemsRoot,
		Workers:          cfg.Exec.Workers,
		FlushInterval:    cfg.FlushInterval(),
		ValidatorTimeout: config.Seconds(cfg.Exec.ValidatorTimeoutSec),
		GeneratorTimeout: config.Seconds(cfg.Exec.GeneratorTimeoutSec),
	}, a.store, sb, engine, log)
	a.pipeline = orchestrator.NewPipeline(a.store, a.stages)
	return a, nil
}

// close runs closers in reverse order.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
