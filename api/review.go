package api

type CheckCategory string

const (
	CategorySolution  CheckCategory = "solution"
	CategoryValidator CheckCategory = "validator"
	CategoryTest      CheckCategory = "test"
)

// CheckResult is one deterministic review check. Issue is empty when it passed.
type CheckResult struct {
	Name     string        `json:"name" yaml:"name"`
	Category CheckCategory `json:"category" yaml:"category"`
	Issue    string        `json:"issue,omitempty" yaml:"issue,omitempty"`
}

type PhaseResult struct {
	NumTests int      `json:"num_tests" yaml:"num_tests"`
	Passed   int      `json:"passed" yaml:"passed"`
	Issues   []string `json:"issues" yaml:"issues"`
}

type CategoryResult struct {
	NumTests int      `json:"num_tests" yaml:"num_tests"`
	Passed   int      `json:"passed" yaml:"passed"`
	Issues   []string `json:"issues" yaml:"issues"`
	// Color is red when a phase one check fails, yellow when only phase two
	// checks fail and green otherwise.
	Color string `json:"color" yaml:"color"`
}

type ReviewResult struct {
	Phase1     PhaseResult                      `json:"phase1" yaml:"phase1"`
	Phase2     PhaseResult                      `json:"phase2" yaml:"phase2"`
	ByCategory map[CheckCategory]CategoryResult `json:"by_category" yaml:"by_category"`
	Checks     []CheckResult                    `json:"checks" yaml:"checks"`
}
