package stages

import (
	"context"
	"fmt"

	"github.com/programme-lv/probpipe/api"
	"github.com/programme-lv/probpipe/internal/problem"
	"golang.org/x/sync/errgroup"
)

type validation struct {
	validator problem.Validator
	tc        problem.TestCase
}

// RunValidators runs every input validator on every case of the sets it
// applies to. A case passes when the validator exits 0.
func (s *Stages) RunValidators(ctx context.Context, jobID string, slug string, req api.RunValidatorsRequest) error {
	return s.run(ctx, jobID, api.JobRunValidators, func(ctx context.Context) (any, error) {
		p, err := s.Load(slug)
		if err != nil {
			return nil, err
		}
		sets, err := selectSets(p, req.TestSet)
		if err != nil {
			return nil, err
		}

		var work []validation
		for _, v := range p.Validators {
			for _, ts := range sets {
				if !v.AppliesTo(ts.Name) {
					continue
				}
				for _, tc := range ts.Cases {
					work = append(work, validation{validator: v, tc: tc})
				}
			}
		}

		results := newSlots[api.ValidatorResult](len(work))
		snapshot := func() any { return api.RunValidatorsResult{Results: results.computed()} }
		fl := startFlusher(s.store, jobID, s.cfg.FlushInterval, snapshot)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.cfg.Workers)
		for i, w := range work {
			g.Go(func() error {
				r, err := s.validate(gctx, w)
				if err != nil {
					return err
				}
				results.set(i, r)
				fl.touch()
				return nil
			})
		}
		err = g.Wait()
		fl.close()
		return snapshot(), err
	})
}

func (s *Stages) validate(ctx context.Context, w validation) (api.ValidatorResult, error) {
	r := api.ValidatorResult{
		Validator: w.validator.Path,
		TestCase:  w.tc.Name,
		TestSet:   w.tc.SetName,
	}
	res, err := s.sb.Execute(ctx, w.validator.File, w.tc.InputPath, s.cfg.ValidatorTimeout)
	if err != nil {
		return r, fmt.Errorf("failed to run validator %s on %s/%s: %w", w.validator.Path, w.tc.SetName, w.tc.Name, err)
	}
	switch {
	case res.TimedOut:
		r.Error = fmt.Sprintf("validator timed out after %s", s.cfg.ValidatorTimeout)
	case res.ExitCode != 0:
		r.Error = res.Stderr
	default:
		r.Passed = true
	}
	return r, nil
}
