package stages

import (
	"context"
	"fmt"
	"slices"

	"github.com/programme-lv/probpipe/api"
	"github.com/programme-lv/probpipe/internal/problem"
	"github.com/programme-lv/probpipe/internal/verdict"
	"golang.org/x/sync/errgroup"
)

type judgement struct {
	sol int
	tc  problem.TestCase
}

// RunSolutions judges the selected solutions on every case of the selected
// sets. Cases run in parallel; results are published solution by solution
// in traversal order.
func (s *Stages) RunSolutions(ctx context.Context, jobID string, slug string, req api.RunSolutionsRequest) error {
	return s.run(ctx, jobID, api.JobRunSolution, func(ctx context.Context) (any, error) {
		return s.runSolutions(ctx, jobID, slug, req)
	})
}

// RunSolution is RunSolutions for a single solution whose job lives under
// the individual run group of that solution.
func (s *Stages) RunSolution(ctx context.Context, jobID string, slug string, req api.RunSolutionRequest) error {
	return s.RunSolutions(ctx, jobID, slug, api.RunSolutionsRequest{
		SolutionPaths: []string{req.SolutionPath},
		TestSet:       req.TestSet,
	})
}

func (s *Stages) runSolutions(ctx context.Context, jobID string, slug string, req api.RunSolutionsRequest) (any, error) {
	p, err := s.Load(slug)
	if err != nil {
		return nil, err
	}
	sets, err := selectSets(p, req.TestSet)
	if err != nil {
		return nil, err
	}
	sols, err := selectSolutions(p, req.SolutionPaths)
	if err != nil {
		return nil, err
	}
	if !p.Interactive() {
		if _, err := verdict.ReferenceSolution(p.Solutions); err != nil {
			return nil, err
		}
	}

	var work []judgement
	counts := make([]int, len(sols))
	for i := range sols {
		for _, ts := range sets {
			for _, tc := range ts.Cases {
				work = append(work, judgement{sol: i, tc: tc})
				counts[i]++
			}
		}
	}

	verdicts := newSlots[api.Verdict](len(work))
	snapshot := func() any { return solutionsSnapshot(sols, counts, verdicts.computed()) }
	fl := startFlusher(s.store, jobID, s.cfg.FlushInterval, snapshot)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for i, w := range work {
		g.Go(func() error {
			v, err := s.engine.Judge(gctx, p, sols[w.sol], w.tc)
			if err != nil {
				return err
			}
			s.rec.VerdictRecorded(v)
			verdicts.set(i, v)
			fl.touch()
			return nil
		})
	}
	err = g.Wait()
	fl.close()
	return snapshot(), err
}

// solutionsSnapshot splits the computed prefix of verdicts between the
// solutions. A solution gets its overall verdict once all of its cases are
// in; until then it is PD.
func solutionsSnapshot(sols []problem.Solution, counts []int, done []api.Verdict) api.RunSolutionsResult {
	out := api.RunSolutionsResult{Solutions: []api.RunSolutionResult{}}
	for i, sol := range sols {
		n := min(counts[i], len(done))
		r := api.RunSolutionResult{
			SolutionPath: sol.Path,
			Verdicts:     done[:n:n],
			Overall:      api.PD,
		}
		if n == counts[i] {
			r.Overall = verdict.Overall(r.Verdicts)
			meets := verdict.MeetsExpectation(sol, r.Verdicts)
			r.MeetsExpectation = &meets
		}
		out.Solutions = append(out.Solutions, r)
		done = done[n:]
		if n < counts[i] {
			break
		}
	}
	return out
}

// selectSolutions resolves paths in problem order; no paths means all.
func selectSolutions(p *problem.Problem, paths []string) ([]problem.Solution, error) {
	if len(paths) == 0 {
		return p.Solutions, nil
	}
	for _, path := range paths {
		if _, ok := p.Solution(path); !ok {
			return nil, fmt.Errorf("solution %q not found in %s", path, p.Slug)
		}
	}
	var out []problem.Solution
	for _, sol := range p.Solutions {
		if slices.Contains(paths, sol.Path) {
			out = append(out, sol)
		}
	}
	return out, nil
}
