// Package stages implements the long running pipeline stages. Each stage
// owns one job record: it marks it running, streams partial results into it
// and finally marks it done, or failed with the error message and whatever
// partial result it had.
package stages

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/programme-lv/probpipe/api"
	"github.com/programme-lv/probpipe/internal/jobstore"
	"github.com/programme-lv/probpipe/internal/problem"
	"github.com/programme-lv/probpipe/internal/sandbox"
	"github.com/programme-lv/probpipe/internal/verdict"
)

type Config struct {
	ProblemsRoot     string
	Workers          int
	FlushInterval    time.Duration
	ValidatorTimeout time.Duration
	GeneratorTimeout time.Duration
}

// Recorder receives stage and verdict measurements.
type Recorder interface {
	StageFinished(typ api.JobType, status api.JobStatus, took time.Duration)
	VerdictRecorded(v api.Verdict)
}

type nopRecorder struct{}

func (nopRecorder) StageFinished(api.JobType, api.JobStatus, time.Duration) {}
func (nopRecorder) VerdictRecorded(api.Verdict)                             {}

type Stages struct {
	cfg    Config
	store  *jobstore.Store
	sb     *sandbox.Sandbox
	engine *verdict.Engine
	rec    Recorder
	log    *slog.Logger
}

func New(cfg Config, store *jobstore.Store, sb *sandbox.Sandbox, engine *verdict.Engine, log *slog.Logger) *Stages {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Stages{cfg: cfg, store: store, sb: sb, engine: engine, rec: nopRecorder{}, log: log}
}

func (s *Stages) SetRecorder(r Recorder) {
	if r != nil {
		s.rec = r
	}
}

func (s *Stages) Store() *jobstore.Store { return s.store }

// Load reads a problem from the configured root.
func (s *Stages) Load(slug string) (*problem.Problem, error) {
	return problem.Load(s.cfg.ProblemsRoot, slug)
}

// stageFunc does the work of a stage. It returns the final result, or an
// error together with the partial result it has so far.
type stageFunc func(ctx context.Context) (any, error)

func (s *Stages) run(ctx context.Context, jobID string, typ api.JobType, fn stageFunc) error {
	log := s.log.With("job", jobID)
	start := time.Now()
	if err := s.store.MarkRunning(jobID); err != nil {
		return fmt.Errorf("failed to start job: %w", err)
	}
	log.Info("stage started", "type", typ)

	result, err := fn(ctx)
	took := time.Since(start)
	if err != nil {
		log.Error("stage failed", "type", typ, "error", err, "took", took)
		s.rec.StageFinished(typ, api.StatusFailed, took)
		if ferr := s.store.Fail(jobID, err.Error(), result); ferr != nil {
			log.Error("failed to record failure", "error", ferr)
		}
		return err
	}
	if err := s.store.Finish(jobID, result); err != nil {
		s.rec.StageFinished(typ, api.StatusFailed, took)
		return fmt.Errorf("failed to store result: %w", err)
	}
	s.rec.StageFinished(typ, api.StatusDone, took)
	log.Info("stage finished", "type", typ, "took", took)
	return nil
}

// selectSets returns the sets named by filter, or all of them.
func selectSets(p *problem.Problem, filter string) ([]problem.TestSet, error) {
	if filter == "" {
		return p.TestSets, nil
	}
	ts, ok := p.TestSet(filter)
	if !ok {
		return nil, fmt.Errorf("test set %q not found in %s", filter, p.Slug)
	}
	return []problem.TestSet{ts}, nil
}
