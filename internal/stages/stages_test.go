package stages_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/programme-lv/probpipe/api"
	"github.com/programme-lv/probpipe/internal/jobstore"
	"github.com/programme-lv/probpipe/internal/logging"
	"github.com/programme-lv/probpipe/internal/problem"
	"github.com/programme-lv/probpipe/internal/problem/problemtest"
	"github.com/programme-lv/probpipe/internal/stages"
	"github.com/programme-lv/probpipe/internal/verdict"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu   sync.Mutex
	jobs []api.Job
}

func (r *recorder) JobUpdated(job api.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
}

func (r *recorder) snapshot() []api.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]api.Job(nil), r.jobs...)
}

type env struct {
	root   string
	store  *jobstore.Store
	stages *stages.Stages
	rec    *recorder
}

func setup(t *testing.T, files problemtest.Files) env {
	t.Helper()
	root := t.TempDir()
	problemtest.Write(t, root, "sum", files)

	cache := t.TempDir()
	rec := &recorder{}
	store, err := jobstore.New(filepath.Join(cache, "jobs"), jobstore.WithLogger(logging.Discard()), jobstore.WithObserver(rec))
	require.NoError(t, err)
	sb := problemtest.Sandbox(t, cache)
	engine := verdict.New(sb, verdict.Config{}, logging.Discard())
	st := stages.New(stages.Config{
		ProblemsRoot:     root,
		Workers:          4,
		FlushInterval:    10 * time.Millisecond,
		ValidatorTimeout: 5 * time.Second,
		GeneratorTimeout: 5 * time.Second,
	}, store, sb, engine, logging.Discard())
	return env{root: root, store: store, stages: st, rec: rec}
}

func readResult[T any](t *testing.T, store *jobstore.Store, id string) (api.Job, T) {
	t.Helper()
	job, err := store.Read(id)
	require.NoError(t, err)
	var out T
	require.NoError(t, jobstore.DecodeResult(job, &out))
	return job, out
}

func requirePython(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available")
	}
}

func TestRunSolutions(t *testing.T) {
	e := setup(t, problemtest.ShellStandard())
	id, err := e.store.Create("sum", api.JobRunSolution)
	require.NoError(t, err)

	require.NoError(t, e.stages.RunSolutions(context.Background(), id, "sum", api.RunSolutionsRequest{}))

	job, res := readResult[api.RunSolutionsResult](t, e.store, id)
	require.Equal(t, api.StatusDone, job.Status)
	require.Nil(t, job.Error)
	require.Len(t, res.Solutions, 2)

	small, sum := res.Solutions[0], res.Solutions[1]
	require.Equal(t, "small.cpp", small.SolutionPath)
	require.Equal(t, api.WA, small.Overall)
	require.NotNil(t, small.MeetsExpectation)
	require.True(t, *small.MeetsExpectation)
	require.Len(t, small.Verdicts, 4)
	require.Equal(t, "sample", small.Verdicts[0].TestSet)
	require.Equal(t, api.WA, small.Verdicts[3].Verdict)

	require.Equal(t, "sum.cpp", sum.SolutionPath)
	require.Equal(t, api.AC, sum.Overall)
	require.True(t, *sum.MeetsExpectation)
}

func TestPartialResultsArePrefixes(t *testing.T) {
	files := problemtest.ShellStandard()
	for i := 1; i <= 6; i++ {
		files[filepath.Join("data/setA", string(rune('a'+i))+".in")] = "1 2\n"
	}
	files["solutions/slow.cpp"] = "sleep 0.05\nread a b\necho $((a + b))\n"
	e := setup(t, files)

	id, err := e.store.Create("sum", api.JobRunSolution)
	require.NoError(t, err)
	require.NoError(t, e.stages.RunSolutions(context.Background(), id, "sum", api.RunSolutionsRequest{
		SolutionPaths: []string{"slow.cpp", "sum.cpp"},
		TestSet:       "setA",
	}))
	_, final := readResult[api.RunSolutionsResult](t, e.store, id)
	require.Len(t, final.Solutions, 2)
	require.Equal(t, "slow.cpp", final.Solutions[0].SolutionPath)

	var flat []api.Verdict
	for _, s := range final.Solutions {
		flat = append(flat, s.Verdicts...)
	}

	for _, job := range e.rec.snapshot() {
		if job.ID != id || job.Result == nil {
			continue
		}
		var partial api.RunSolutionsResult
		require.NoError(t, jobstore.DecodeResult(job, &partial))
		var seen []api.Verdict
		for i, s := range partial.Solutions {
			if s.Overall == api.PD {
				require.Equal(t, len(partial.Solutions)-1, i, "only the last solution may be pending")
				require.Nil(t, s.MeetsExpectation)
			}
			seen = append(seen, s.Verdicts...)
		}
		require.Equal(t, flat[:len(seen)], seen)
	}
}

func TestRunSolutionsWithoutReferenceFails(t *testing.T) {
	files := problemtest.ShellStandard()
	delete(files, "solutions/sum.cpp")
	e := setup(t, files)
	id, err := e.store.Create("sum", api.JobRunSolution)
	require.NoError(t, err)

	err = e.stages.RunSolutions(context.Background(), id, "sum", api.RunSolutionsRequest{})
	require.ErrorIs(t, err, verdict.ErrNoReferenceSolution)

	job, err := e.store.Read(id)
	require.NoError(t, err)
	require.Equal(t, api.StatusFailed, job.Status)
	require.NotNil(t, job.Error)
	require.Contains(t, *job.Error, "no reference solution")
}

func TestRunSolutionsUnknownTestSet(t *testing.T) {
	e := setup(t, problemtest.ShellStandard())
	id, err := e.store.Create("sum", api.JobRunSolution)
	require.NoError(t, err)

	err = e.stages.RunSolutions(context.Background(), id, "sum", api.RunSolutionsRequest{TestSet: "setZ"})
	require.Error(t, err)
	job, _ := e.store.Read(id)
	require.Equal(t, api.StatusFailed, job.Status)
}

func TestMergedResultsPreferNewerRun(t *testing.T) {
	e := setup(t, problemtest.ShellStandard())
	ctx := context.Background()

	group, err := e.store.Create("sum", api.JobRunSolution)
	require.NoError(t, err)
	require.NoError(t, e.stages.RunSolutions(ctx, group, "sum", api.RunSolutionsRequest{}))

	single, err := e.store.CreateIndividual("sum", "small.cpp")
	require.NoError(t, err)
	require.NoError(t, e.stages.RunSolution(ctx, single, "sum", api.RunSolutionRequest{
		SolutionPath: "small.cpp",
		TestSet:      "setA",
	}))

	merged, err := stages.MergedResults(e.store, "sum")
	require.NoError(t, err)
	require.Len(t, merged.Solutions, 2)

	small := merged.Solutions[0]
	require.Equal(t, "small.cpp", small.SolutionPath)
	require.Equal(t, single, small.JobID)
	require.Equal(t, api.AC, small.Overall)
	require.Len(t, small.Verdicts, 2)

	sum := merged.Solutions[1]
	require.Equal(t, group, sum.JobID)
	require.Equal(t, api.StatusDone, sum.Status)
}

func TestReviewProblem(t *testing.T) {
	root := t.TempDir()
	problemtest.Write(t, root, "sum", problemtest.ShellStandard())
	p, err := problem.Load(root, "sum")
	require.NoError(t, err)

	res := stages.ReviewProblem(p)
	require.Equal(t, 3, res.Phase1.NumTests)
	require.Equal(t, 3, res.Phase1.Passed)
	require.Equal(t, 7, res.Phase2.NumTests)
	require.Equal(t, 3, res.Phase2.Passed)
	require.ElementsMatch(t, []string{
		"Has no input validation.",
		"There are no test generators.",
		"No solution found with verdict TLE.",
		"All solutions are in cpp.",
	}, res.Phase2.Issues)

	require.Equal(t, "yellow", res.ByCategory[api.CategorySolution].Color)
	require.Equal(t, 6, res.ByCategory[api.CategorySolution].NumTests)
	require.Equal(t, "yellow", res.ByCategory[api.CategoryValidator].Color)
	require.Equal(t, "yellow", res.ByCategory[api.CategoryTest].Color)

	// dropping the sample set breaks a phase one check
	p.TestSets = p.TestSets[1:]
	res = stages.ReviewProblem(p)
	require.Equal(t, "red", res.ByCategory[api.CategoryTest].Color)
	require.Contains(t, res.Phase1.Issues, "There are no test cases in sets with 0 points.")
}

func TestReviewStage(t *testing.T) {
	e := setup(t, problemtest.ShellStandard())
	id, err := e.store.Create("sum", api.JobReview)
	require.NoError(t, err)
	require.NoError(t, e.stages.Review(context.Background(), id, "sum"))

	job, res := readResult[api.ReviewResult](t, e.store, id)
	require.Equal(t, api.StatusDone, job.Status)
	require.Len(t, res.Checks, 10)
}

func TestRunValidators(t *testing.T) {
	requirePython(t)
	files := problemtest.ShellStandard()
	files["data/setB/2.in"] = "1 two\n"
	files["validators/input/ints.py"] = `import sys
a, b = sys.stdin.read().split()
int(a); int(b)
`
	files["validators/input/scored.py"] = "\"\"\"\n---\nchecks: [setB]\n---\n\"\"\"\n"
	e := setup(t, files)

	id, err := e.store.Create("sum", api.JobRunValidators)
	require.NoError(t, err)
	require.NoError(t, e.stages.RunValidators(context.Background(), id, "sum", api.RunValidatorsRequest{}))

	job, res := readResult[api.RunValidatorsResult](t, e.store, id)
	require.Equal(t, api.StatusDone, job.Status)
	// ints.py on 5 cases, scored.py on the 2 setB cases
	require.Len(t, res.Results, 7)
	failed := 0
	for _, r := range res.Results {
		if !r.Passed {
			failed++
			require.Equal(t, "input/ints.py", r.Validator)
			require.Equal(t, "2", r.TestCase)
			require.Contains(t, r.Error, "ValueError")
		}
	}
	require.Equal(t, 1, failed)
	require.Equal(t, "input/scored.py", res.Results[5].Validator)
}

func TestGenerateTests(t *testing.T) {
	requirePython(t)
	files := problemtest.ShellStandard()
	files["data/setB/gen.py"] = `for i in range(3):
    with open("gen%d.in" % i, "w") as f:
        f.write("%d %d\n" % (i, i))
`
	files["data/setA/broken.py"] = "raise SystemExit(2)\n"
	e := setup(t, files)

	id, err := e.store.Create("sum", api.JobGenerateTests)
	require.NoError(t, err)
	require.NoError(t, e.stages.GenerateTests(context.Background(), id, "sum", api.GenerateTestsRequest{}))

	job, res := readResult[[]api.GeneratorResult](t, e.store, id)
	require.Equal(t, api.StatusDone, job.Status)
	require.Len(t, res, 2)
	require.Equal(t, api.GenFailed, res[0].Status)
	require.Equal(t, "broken.py", res[0].GeneratorName)
	require.Contains(t, res[0].Error, "exit code 2")
	require.Equal(t, api.GenComplete, res[1].Status)

	for i := 0; i < 3; i++ {
		require.FileExists(t, filepath.Join(e.root, "sum", "data", "setB", "gen"+string(rune('0'+i))+".in"))
	}

	// every generator was reported PENDING before it finished
	pending := 0
	for _, j := range e.rec.snapshot() {
		var rs []api.GeneratorResult
		if j.ID == id && jobstore.DecodeResult(j, &rs) == nil && len(rs) > 0 && rs[len(rs)-1].Status == api.GenPending {
			pending++
		}
	}
	require.Equal(t, 2, pending)
	_, err = os.Stat(filepath.Join(e.root, "sum", "data", "setA", "gen0.in"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
