package verdict

import (
	"cmp"
	"slices"

	"github.com/programme-lv/probpipe/api"
	"github.com/programme-lv/probpipe/internal/problem"
	"github.com/programme-lv/probpipe/internal/sandbox"
)

var languagePreference = map[sandbox.Language]int{
	sandbox.Cpp:    0,
	sandbox.Python: 1,
}

// ReferenceSolution picks the solution whose output is taken as the correct
// answer: among solutions expected to pass everything, C++ before Python,
// then by path.
func ReferenceSolution(solutions []problem.Solution) (problem.Solution, error) {
	var candidates []problem.Solution
	for _, s := range solutions {
		if v, ok := s.Expectation.Scalar(); ok && v == api.AC {
			candidates = append(candidates, s)
		}
	}
	if len(candidates) == 0 {
		return problem.Solution{}, ErrNoReferenceSolution
	}
	slices.SortStableFunc(candidates, func(a, b problem.Solution) int {
		if c := cmp.Compare(languagePreference[a.Language], languagePreference[b.Language]); c != 0 {
			return c
		}
		return cmp.Compare(a.Path, b.Path)
	})
	return candidates[0], nil
}

// Overall is the first non-AC verdict in order, or AC.
func Overall(verdicts []api.Verdict) api.VerdictCode {
	for _, v := range verdicts {
		if v.Verdict != api.AC {
			return v.Verdict
		}
	}
	return api.AC
}

// PerSet folds verdicts into one verdict per test set using the same rule
// as Overall.
func PerSet(verdicts []api.Verdict) map[string]api.VerdictCode {
	out := make(map[string]api.VerdictCode)
	for _, v := range verdicts {
		if cur, ok := out[v.TestSet]; !ok || cur == api.AC {
			out[v.TestSet] = v.Verdict
		}
	}
	return out
}

// MeetsExpectation compares what sol was expected to do with verdicts. A
// single expectation is matched against the overall verdict; a per-set one
// against each listed set that was actually run.
func MeetsExpectation(sol problem.Solution, verdicts []api.Verdict) bool {
	if want, ok := sol.Expectation.Scalar(); ok {
		return Overall(verdicts) == want
	}
	got := PerSet(verdicts)
	for _, set := range sol.Expectation.Sets() {
		want, _ := sol.Expectation.For(set)
		if seen, ok := got[set]; ok && seen != want {
			return false
		}
	}
	return true
}
