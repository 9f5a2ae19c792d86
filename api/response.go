package api

// VerdictCode is the outcome of judging a solution on one test case.
type VerdictCode string

const (
	AC  VerdictCode = "AC"
	WA  VerdictCode = "WA"
	TLE VerdictCode = "TLE"
	RTE VerdictCode = "RTE"
	// PD marks an aggregate that is still being computed.
	PD VerdictCode = "PD"
)

// Verdict is written once per (solution, test case) and never changed.
type Verdict struct {
	TestCase string      `json:"test_case" yaml:"test_case"`
	TestSet  string      `json:"test_set" yaml:"test_set"`
	Verdict  VerdictCode `json:"verdict" yaml:"verdict"`
	TimeMs   *int64      `json:"time_ms,omitempty" yaml:"time_ms,omitempty"`
	Comment  string      `json:"comment" yaml:"comment"`
}

type RunSolutionResult struct {
	SolutionPath string      `json:"solution_path" yaml:"solution_path"`
	Verdicts     []Verdict   `json:"verdicts" yaml:"verdicts"`
	Overall      VerdictCode `json:"overall" yaml:"overall"`
	// MeetsExpectation is nil until every verdict is in.
	MeetsExpectation *bool `json:"meets_expectation,omitempty" yaml:"meets_expectation,omitempty"`
}

type RunSolutionsResult struct {
	Solutions []RunSolutionResult `json:"solutions" yaml:"solutions"`
}

type ValidatorResult struct {
	Validator string `json:"validator" yaml:"validator"`
	TestCase  string `json:"test_case" yaml:"test_case"`
	TestSet   string `json:"test_set" yaml:"test_set"`
	Passed    bool   `json:"passed" yaml:"passed"`
	Error     string `json:"error" yaml:"error"`
}

type RunValidatorsResult struct {
	Results []ValidatorResult `json:"results" yaml:"results"`
}

type GenStatus string

const (
	GenPending  GenStatus = "PENDING"
	GenComplete GenStatus = "COMPLETE"
	GenFailed   GenStatus = "FAILED"
)

type GeneratorResult struct {
	TestSet       string    `json:"test_set" yaml:"test_set"`
	GeneratorName string    `json:"generator_name" yaml:"generator_name"`
	Status        GenStatus `json:"status" yaml:"status"`
	Error         string    `json:"error,omitempty" yaml:"error,omitempty"`
}

// MergedSolutionResult is the latest known result for one solution, taken
// from whichever of the group run and the individual run is newer.
type MergedSolutionResult struct {
	RunSolutionResult `yaml:",inline"`

	JobID  string    `json:"job_id" yaml:"job_id"`
	Status JobStatus `json:"status" yaml:"status"`
}

type MergedResults struct {
	Solutions []MergedSolutionResult `json:"solutions" yaml:"solutions"`
}

// JobsResponse lists the job ids created for one request, in execution order.
type JobsResponse struct {
	JobIDs []string `json:"job_ids"`
}
