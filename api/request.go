package api

// RunSolutionsRequest selects solutions (paths relative to solutions/) and
// optionally a single test set. Empty SolutionPaths means every solution.
type RunSolutionsRequest struct {
	SolutionPaths []string `json:"solution_paths"`
	TestSet       string   `json:"test_set,omitempty"`
}

// RunSolutionRequest runs a single solution as an individual job.
type RunSolutionRequest struct {
	SolutionPath string `json:"solution_path"`
	TestSet      string `json:"test_set,omitempty"`
}

type RunValidatorsRequest struct {
	TestSet string `json:"test_set,omitempty"`
}

type GeneratorRef struct {
	TestSet       string `json:"test_set"`
	GeneratorName string `json:"generator_name"`
}

// GenerateTestsRequest lists generators to run. Empty means all of them.
type GenerateTestsRequest struct {
	Requests []GeneratorRef `json:"requests"`
}

// PipelineRequest chains test generation, input validation and solution runs.
type PipelineRequest struct {
	Generate      GenerateTestsRequest `json:"generate"`
	SkipGenerate  bool                 `json:"skip_generate"`
	TestSet       string               `json:"test_set,omitempty"`
	SolutionPaths []string             `json:"solution_paths"`
}
