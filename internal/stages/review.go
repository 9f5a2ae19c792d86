package stages

import (
	"context"
	"fmt"
	"slices"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/programme-lv/probpipe/api"
	"github.com/programme-lv/probpipe/internal/problem"
)

type check struct {
	name     string
	category api.CheckCategory
	run      func(p *problem.Problem) string
}

// Phase one checks block a problem from being usable at all; phase two
// checks flag what a complete problem should still have.
var (
	phase1 = []check{
		{"has_sample_test_case", api.CategoryTest, hasSampleTestCase},
		{"has_ac_solution", api.CategorySolution, hasSolutionWithVerdict(api.AC)},
		{"has_test_for_each_expectation", api.CategoryTest, hasTestForEachExpectation},
	}
	phase2 = []check{
		{"has_input_validation", api.CategoryValidator, hasInputValidation},
		{"has_test_generator", api.CategoryTest, hasTestGenerator},
		{"has_solution_with_verdict_wa", api.CategorySolution, hasSolutionWithVerdict(api.WA)},
		{"has_solution_with_verdict_tle", api.CategorySolution, hasSolutionWithVerdict(api.TLE)},
		{"has_non_zero_test_set", api.CategorySolution, hasNonZeroTestSet},
		{"has_test_set_acs", api.CategorySolution, hasTestSetACs},
		{"has_multiple_languages", api.CategorySolution, hasMultipleLanguages},
	}
)

var categoryOrder = []api.CheckCategory{api.CategorySolution, api.CategoryValidator, api.CategoryTest}

// Review runs the deterministic problem checks.
func (s *Stages) Review(ctx context.Context, jobID string, slug string) error {
	return s.run(ctx, jobID, api.JobReview, func(ctx context.Context) (any, error) {
		p, err := s.Load(slug)
		if err != nil {
			return nil, err
		}
		return ReviewProblem(p), nil
	})
}

func ReviewProblem(p *problem.Problem) api.ReviewResult {
	r1 := runChecks(p, phase1)
	r2 := runChecks(p, phase2)

	res := api.ReviewResult{
		Phase1:     phaseResult(r1),
		Phase2:     phaseResult(r2),
		ByCategory: map[api.CheckCategory]api.CategoryResult{},
		Checks:     append(slices.Clone(r1), r2...),
	}
	for _, cat := range categoryOrder {
		cr := api.CategoryResult{Issues: []string{}, Color: "green"}
		for phase, results := range [][]api.CheckResult{r1, r2} {
			for _, c := range results {
				if c.Category != cat {
					continue
				}
				cr.NumTests++
				if c.Issue == "" {
					cr.Passed++
					continue
				}
				cr.Issues = append(cr.Issues, c.Issue)
				if phase == 0 {
					cr.Color = "red"
				} else if cr.Color != "red" {
					cr.Color = "yellow"
				}
			}
		}
		if cr.NumTests > 0 {
			res.ByCategory[cat] = cr
		}
	}
	return res
}

func runChecks(p *problem.Problem, checks []check) []api.CheckResult {
	out := make([]api.CheckResult, 0, len(checks))
	for _, c := range checks {
		out = append(out, api.CheckResult{Name: c.name, Category: c.category, Issue: c.run(p)})
	}
	return out
}

func phaseResult(results []api.CheckResult) api.PhaseResult {
	pr := api.PhaseResult{NumTests: len(results), Issues: []string{}}
	for _, r := range results {
		if r.Issue == "" {
			pr.Passed++
		} else {
			pr.Issues = append(pr.Issues, r.Issue)
		}
	}
	return pr
}

// Sample cases only make sense to separate out for standard problems.
func hasSampleTestCase(p *problem.Problem) string {
	if p.Config.Type != problem.Standard {
		return ""
	}
	for _, ts := range p.TestSets {
		if ts.Sample() && len(ts.Cases) > 0 {
			return ""
		}
	}
	return "There are no test cases in sets with 0 points."
}

func hasSolutionWithVerdict(v api.VerdictCode) func(p *problem.Problem) string {
	return func(p *problem.Problem) string {
		for _, sol := range p.Solutions {
			if sol.Expectation.Overall() == v {
				return ""
			}
		}
		return fmt.Sprintf("No solution found with verdict %s.", v)
	}
}

func hasTestForEachExpectation(p *problem.Problem) string {
	for _, sol := range p.Solutions {
		for _, set := range sol.Expectation.Sets() {
			ts, ok := p.TestSet(set)
			if !ok {
				return fmt.Sprintf("There is no test set %s.", set)
			}
			if len(ts.Cases) == 0 {
				return fmt.Sprintf("There are no test cases for %s.", set)
			}
		}
	}
	return ""
}

func hasInputValidation(p *problem.Problem) string {
	if len(p.Validators) == 0 {
		return "Has no input validation."
	}
	return ""
}

func hasTestGenerator(p *problem.Problem) string {
	if len(p.Generators) == 0 {
		return "There are no test generators."
	}
	return ""
}

func hasNonZeroTestSet(p *problem.Problem) string {
	for _, ts := range p.TestSets {
		if ts.Config.Points > 0 {
			return ""
		}
	}
	return "All test sets have 0 points."
}

// hasTestSetACs wants, for all scored sets but one, a solution that is
// expected to pass that set while failing overall.
func hasTestSetACs(p *problem.Problem) string {
	var scored []problem.TestSet
	for _, ts := range p.TestSets {
		if ts.Config.Points > 0 {
			scored = append(scored, ts)
		}
	}
	missing := len(scored) - 1
	for _, ts := range scored {
		for _, sol := range p.Solutions {
			want, ok := sol.Expectation.For(ts.Name)
			if ok && want == api.AC && sol.Expectation.Overall() != api.AC {
				missing--
				break
			}
		}
	}
	if missing > 0 {
		return "Multiple test sets do *not* have sub-task only solutions (solutions that pass for them, and not for others)."
	}
	return ""
}

func hasMultipleLanguages(p *problem.Problem) string {
	langs := mapset.NewSet[string]()
	for _, sol := range p.Solutions {
		if sol.Language != "" {
			langs.Add(string(sol.Language))
		}
	}
	switch langs.Cardinality() {
	case 0:
		return "No solutions have a defined language."
	case 1:
		return fmt.Sprintf("All solutions are in %s.", langs.ToSlice()[0])
	}
	return ""
}
