package orchestrator

import (
	"context"

	"github.com/programme-lv/probpipe/api"
	"github.com/programme-lv/probpipe/internal/jobstore"
	"github.com/programme-lv/probpipe/internal/stages"
)

// Pipeline creates jobs up front and binds them to stages, so callers can
// hand out every id before anything runs.
type Pipeline struct {
	store  *jobstore.Store
	stages *stages.Stages
}

func NewPipeline(store *jobstore.Store, st *stages.Stages) *Pipeline {
	return &Pipeline{store: store, stages: st}
}

// Full is generate, validate, run solutions. Generation is skipped when
// asked to. If a later job cannot be created, the ones already created are
// failed so none is left pending.
func (p *Pipeline) Full(slug string, req api.PipelineRequest) ([]Task, error) {
	var tasks []Task
	abort := func(err error) ([]Task, error) {
		for _, t := range tasks {
			_ = p.store.Fail(t.JobID, "pipeline not started: "+err.Error(), nil)
		}
		return nil, err
	}
	if !req.SkipGenerate {
		t, err := p.GenerateTests(slug, req.Generate)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t...)
	}
	t, err := p.RunValidators(slug, api.RunValidatorsRequest{TestSet: req.TestSet})
	if err != nil {
		return abort(err)
	}
	tasks = append(tasks, t...)
	t, err = p.RunSolutions(slug, api.RunSolutionsRequest{SolutionPaths: req.SolutionPaths, TestSet: req.TestSet})
	if err != nil {
		return abort(err)
	}
	return append(tasks, t...), nil
}

func (p *Pipeline) GenerateTests(slug string, req api.GenerateTestsRequest) ([]Task, error) {
	id, err := p.store.Create(slug, api.JobGenerateTests)
	if err != nil {
		return nil, err
	}
	return []Task{{JobID: id, Run: func(ctx context.Context) error {
		return p.stages.GenerateTests(ctx, id, slug, req)
	}}}, nil
}

func (p *Pipeline) RunValidators(slug string, req api.RunValidatorsRequest) ([]Task, error) {
	id, err := p.store.Create(slug, api.JobRunValidators)
	if err != nil {
		return nil, err
	}
	return []Task{{JobID: id, Run: func(ctx context.Context) error {
		return p.stages.RunValidators(ctx, id, slug, req)
	}}}, nil
}

// RunSolutions runs a single named solution as an individual job and
// anything else as a group run.
func (p *Pipeline) RunSolutions(slug string, req api.RunSolutionsRequest) ([]Task, error) {
	if len(req.SolutionPaths) == 1 {
		return p.RunSolution(slug, api.RunSolutionRequest{SolutionPath: req.SolutionPaths[0], TestSet: req.TestSet})
	}
	id, err := p.store.Create(slug, api.JobRunSolution)
	if err != nil {
		return nil, err
	}
	return []Task{{JobID: id, Run: func(ctx context.Context) error {
		return p.stages.RunSolutions(ctx, id, slug, req)
	}}}, nil
}

func (p *Pipeline) RunSolution(slug string, req api.RunSolutionRequest) ([]Task, error) {
	id, err := p.store.CreateIndividual(slug, req.SolutionPath)
	if err != nil {
		return nil, err
	}
	return []Task{{JobID: id, Run: func(ctx context.Context) error {
		return p.stages.RunSolution(ctx, id, slug, req)
	}}}, nil
}

func (p *Pipeline) Review(slug string) ([]Task, error) {
	id, err := p.store.Create(slug, api.JobReview)
	if err != nil {
		return nil, err
	}
	return []Task{{JobID: id, Run: func(ctx context.Context) error {
		return p.stages.Review(ctx, id, slug)
	}}}, nil
}

// JobIDs lists the ids of tasks in execution order.
func JobIDs(tasks []Task) []string {
	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		ids = append(ids, t.JobID)
	}
	return ids
}
