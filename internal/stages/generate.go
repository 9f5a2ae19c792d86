package stages

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/programme-lv/probpipe/api"
	"github.com/programme-lv/probpipe/internal/checker"
	"github.com/programme-lv/probpipe/internal/problem"
	"github.com/programme-lv/probpipe/internal/sandbox"
)

// GenerateTests runs the requested generators one after another, each in
// its own test set directory. A failing generator is reported in the result
// and does not fail the stage.
func (s *Stages) GenerateTests(ctx context.Context, jobID string, slug string, req api.GenerateTestsRequest) error {
	return s.run(ctx, jobID, api.JobGenerateTests, func(ctx context.Context) (any, error) {
		p, err := s.Load(slug)
		if err != nil {
			return nil, err
		}
		gens := selectGenerators(p.Generators, req.Requests)

		results := make([]api.GeneratorResult, 0, len(gens))
		for _, g := range gens {
			results = append(results, api.GeneratorResult{
				TestSet:       g.TestSet,
				GeneratorName: g.Name,
				Status:        api.GenPending,
			})
			if err := s.store.Progress(jobID, cloneGen(results)); err != nil {
				return results, err
			}

			cur := &results[len(results)-1]
			if err := s.generate(ctx, p, g); err != nil {
				s.log.Warn("generator failed", "job", jobID, "generator", g.Name, "set", g.TestSet, "error", err)
				cur.Status = api.GenFailed
				cur.Error = checker.TrimToRect(err.Error(), api.MaxErrorHeight, api.MaxErrorWidth)
			} else {
				cur.Status = api.GenComplete
			}
			if err := s.store.Progress(jobID, cloneGen(results)); err != nil {
				return results, err
			}
		}
		return results, nil
	})
}

func (s *Stages) generate(ctx context.Context, p *problem.Problem, g problem.Generator) error {
	exe, err := s.sb.Prepare(ctx, g.Path)
	if err != nil {
		return err
	}
	res, err := s.sb.Run(ctx, exe, sandbox.RunSpec{
		Dir:     filepath.Join(p.Dir, "data", g.TestSet),
		Timeout: s.cfg.GeneratorTimeout,
	})
	if err != nil {
		return err
	}
	if res.TimedOut {
		return fmt.Errorf("timed out after %s", s.cfg.GeneratorTimeout)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("exit code %d\n%s", res.ExitCode, res.Stderr)
	}
	return nil
}

// selectGenerators keeps the generators named in refs; no refs means all.
func selectGenerators(all []problem.Generator, refs []api.GeneratorRef) []problem.Generator {
	if len(refs) == 0 {
		return all
	}
	var out []problem.Generator
	for _, g := range all {
		for _, r := range refs {
			if r.TestSet == g.TestSet && r.GeneratorName == g.Name {
				out = append(out, g)
				break
			}
		}
	}
	return out
}

func cloneGen(rs []api.GeneratorResult) []api.GeneratorResult {
	return append([]api.GeneratorResult(nil), rs...)
}
