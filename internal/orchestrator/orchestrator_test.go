package orchestrator_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/programme-lv/probpipe/api"
	"github.com/programme-lv/probpipe/internal/jobstore"
	"github.com/programme-lv/probpipe/internal/logging"
	"github.com/programme-lv/probpipe/internal/orchestrator"
	"github.com/programme-lv/probpipe/internal/problem/problemtest"
	"github.com/programme-lv/probpipe/internal/stages"
	"github.com/programme-lv/probpipe/internal/verdict"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *jobstore.Store {
	t.Helper()
	store, err := jobstore.New(t.TempDir(), jobstore.WithLogger(logging.Discard()))
	require.NoError(t, err)
	return store
}

// stage marks its job running and then done, or failed with fail.
func stage(store *jobstore.Store, id string, fail error, ran *[]string, mu *sync.Mutex) orchestrator.Task {
	return orchestrator.Task{JobID: id, Run: func(ctx context.Context) error {
		mu.Lock()
		*ran = append(*ran, id)
		mu.Unlock()
		if err := store.MarkRunning(id); err != nil {
			return err
		}
		if fail != nil {
			_ = store.Fail(id, fail.Error(), nil)
			return fail
		}
		return store.Finish(id, "ok")
	}}
}

func TestRunSequentialSkipsAfterFailure(t *testing.T) {
	store := newStore(t)
	var ids []string
	for _, typ := range []api.JobType{api.JobGenerateTests, api.JobRunValidators, api.JobRunSolution} {
		id, err := store.Create("sum", typ)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	var mu sync.Mutex
	var ran []string
	tasks := []orchestrator.Task{
		stage(store, ids[0], nil, &ran, &mu),
		stage(store, ids[1], errors.New("validator crashed"), &ran, &mu),
		stage(store, ids[2], nil, &ran, &mu),
	}
	orchestrator.RunSequential(context.Background(), store, tasks, logging.Discard())

	require.Equal(t, ids[:2], ran)

	first, _ := store.Read(ids[0])
	require.Equal(t, api.StatusDone, first.Status)

	second, _ := store.Read(ids[1])
	require.Equal(t, api.StatusFailed, second.Status)
	require.Equal(t, "validator crashed", *second.Error)

	third, _ := store.Read(ids[2])
	require.Equal(t, api.StatusFailed, third.Status)
	require.Equal(t, orchestrator.SkippedMessage, *third.Error)
}

func TestRunSequentialRecoversFromPanic(t *testing.T) {
	store := newStore(t)
	a, err := store.Create("sum", api.JobRunValidators)
	require.NoError(t, err)
	b, err := store.Create("sum", api.JobRunSolution)
	require.NoError(t, err)

	var mu sync.Mutex
	var ran []string
	tasks := []orchestrator.Task{
		{JobID: a, Run: func(ctx context.Context) error {
			require.NoError(t, store.MarkRunning(a))
			var m map[string]int
			m["x"]++
			return nil
		}},
		stage(store, b, nil, &ran, &mu),
	}
	orchestrator.RunSequential(context.Background(), store, tasks, logging.Discard())
	require.Empty(t, ran)

	first, _ := store.Read(a)
	require.Equal(t, api.StatusFailed, first.Status)
	require.Contains(t, *first.Error, "assignment to entry in nil map")

	second, _ := store.Read(b)
	require.Equal(t, api.StatusFailed, second.Status)
	require.Equal(t, orchestrator.SkippedMessage, *second.Error)
}

func TestRunSequentialFailsUnfinishedJob(t *testing.T) {
	store := newStore(t)
	a, err := store.Create("sum", api.JobReview)
	require.NoError(t, err)

	tasks := []orchestrator.Task{{JobID: a, Run: func(ctx context.Context) error {
		return errors.New("problem directory vanished")
	}}}
	orchestrator.RunSequential(context.Background(), store, tasks, logging.Discard())

	job, _ := store.Read(a)
	require.Equal(t, api.StatusFailed, job.Status)
	require.Equal(t, "problem directory vanished", *job.Error)
}

func TestWorkerSurvivesPanickingStage(t *testing.T) {
	store := newStore(t)
	w := orchestrator.NewWorker(store, 4, logging.Discard())
	w.Start(context.Background())

	a, _ := store.Create("sum", api.JobReview)
	b, _ := store.Create("sum", api.JobReview)
	var mu sync.Mutex
	var ran []string
	require.NoError(t, w.Submit([]orchestrator.Task{{JobID: a, Run: func(ctx context.Context) error {
		panic("checker module exploded")
	}}}))
	require.NoError(t, w.Submit([]orchestrator.Task{stage(store, b, nil, &ran, &mu)}))
	w.Close()

	failed, _ := store.Read(a)
	require.Equal(t, api.StatusFailed, failed.Status)
	require.Contains(t, *failed.Error, "checker module exploded")
	done, _ := store.Read(b)
	require.Equal(t, api.StatusDone, done.Status)
	require.Equal(t, []string{b}, ran)
}

func TestWorkerRunsOrchestrationsInOrder(t *testing.T) {
	store := newStore(t)
	w := orchestrator.NewWorker(store, 8, logging.Discard())
	w.Start(context.Background())

	var mu sync.Mutex
	var ran []string
	var want []string
	for i := 0; i < 3; i++ {
		a, err := store.Create("sum", api.JobRunValidators)
		require.NoError(t, err)
		b, err := store.Create("sum", api.JobRunSolution)
		require.NoError(t, err)
		want = append(want, a, b)
		require.NoError(t, w.Submit([]orchestrator.Task{
			stage(store, a, nil, &ran, &mu),
			stage(store, b, nil, &ran, &mu),
		}))
	}
	w.Close()

	require.Equal(t, want, ran)
	require.ErrorIs(t, w.Submit(nil), orchestrator.ErrClosed)
}

func TestWorkerQueueFull(t *testing.T) {
	store := newStore(t)
	w := orchestrator.NewWorker(store, 1, logging.Discard())

	a, _ := store.Create("sum", api.JobReview)
	b, _ := store.Create("sum", api.JobReview)
	var mu sync.Mutex
	var ran []string
	require.NoError(t, w.Submit([]orchestrator.Task{stage(store, a, nil, &ran, &mu)}))
	require.Equal(t, 1, w.Pending())
	require.ErrorIs(t, w.Submit([]orchestrator.Task{stage(store, b, nil, &ran, &mu)}), orchestrator.ErrQueueFull)

	rejected, _ := store.Read(b)
	require.Equal(t, api.StatusFailed, rejected.Status)

	w.Start(context.Background())
	w.Close()
	require.Equal(t, []string{a}, ran)
}

func TestFullPipeline(t *testing.T) {
	root := t.TempDir()
	problemtest.Write(t, root, "sum", problemtest.ShellStandard())
	cache := t.TempDir()
	store, err := jobstore.New(filepath.Join(cache, "jobs"), jobstore.WithLogger(logging.Discard()))
	require.NoError(t, err)
	sb := problemtest.Sandbox(t, cache)
	st := stages.New(stages.Config{
		ProblemsRoot:  root,
		Workers:       2,
		FlushInterval: 20 * time.Millisecond,
	}, store, sb, verdict.New(sb, verdict.Config{}, logging.Discard()), logging.Discard())

	p := orchestrator.NewPipeline(store, st)
	tasks, err := p.Full("sum", api.PipelineRequest{SkipGenerate: true})
	require.NoError(t, err)
	ids := orchestrator.JobIDs(tasks)
	require.Len(t, ids, 2)
	require.Contains(t, ids[0], "/run_validators/")
	require.Contains(t, ids[1], "/run_solution/")

	for _, id := range ids {
		job, err := store.Read(id)
		require.NoError(t, err)
		require.Equal(t, api.StatusPending, job.Status)
	}

	orchestrator.RunSequential(context.Background(), store, tasks, logging.Discard())
	for _, id := range ids {
		job, err := store.Read(id)
		require.NoError(t, err)
		require.Equal(t, api.StatusDone, job.Status, id)
	}

	// a single solution goes to its individual group
	tasks, err = p.RunSolutions("sum", api.RunSolutionsRequest{SolutionPaths: []string{"small.cpp"}})
	require.NoError(t, err)
	require.Equal(t, "sum/run_solution/small.cpp/", tasks[0].JobID[:len("sum/run_solution/small.cpp/")])
}

func TestFullPipelineFailsCreatedJobsOnError(t *testing.T) {
	root := t.TempDir()
	problemtest.Write(t, root, "sum", problemtest.ShellStandard())
	cache := t.TempDir()
	jobs := filepath.Join(cache, "jobs")
	store, err := jobstore.New(jobs, jobstore.WithLogger(logging.Discard()))
	require.NoError(t, err)
	// a file where the run_solution group directory belongs
	require.NoError(t, os.MkdirAll(filepath.Join(jobs, "sum"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(jobs, "sum", "run_solution"), nil, 0644))

	sb := problemtest.Sandbox(t, cache)
	st := stages.New(stages.Config{ProblemsRoot: root}, store, sb, verdict.New(sb, verdict.Config{}, logging.Discard()), logging.Discard())
	p := orchestrator.NewPipeline(store, st)

	tasks, err := p.Full("sum", api.PipelineRequest{})
	require.Error(t, err)
	require.Nil(t, tasks)

	for _, typ := range []api.JobType{api.JobGenerateTests, api.JobRunValidators} {
		id, err := store.Latest("sum", typ)
		require.NoError(t, err)
		require.NotEmpty(t, id, typ)
		job, err := store.Read(id)
		require.NoError(t, err)
		require.Equal(t, api.StatusFailed, job.Status, id)
		require.Contains(t, *job.Error, "pipeline not started")
	}
}

func TestPipelineFailureCascades(t *testing.T) {
	root := t.TempDir()
	files := problemtest.ShellStandard()
	delete(files, "solutions/sum.cpp")
	problemtest.Write(t, root, "sum", files)
	cache := t.TempDir()
	store, err := jobstore.New(filepath.Join(cache, "jobs"), jobstore.WithLogger(logging.Discard()))
	require.NoError(t, err)
	sb := problemtest.Sandbox(t, cache)
	st := stages.New(stages.Config{ProblemsRoot: root}, store, sb, verdict.New(sb, verdict.Config{}, logging.Discard()), logging.Discard())
	p := orchestrator.NewPipeline(store, st)

	run, err := p.RunSolutions("sum", api.RunSolutionsRequest{})
	require.NoError(t, err)
	review, err := p.Review("sum")
	require.NoError(t, err)
	tasks := append(run, review...)

	orchestrator.RunSequential(context.Background(), store, tasks, logging.Discard())
	failed, _ := store.Read(tasks[0].JobID)
	require.Equal(t, api.StatusFailed, failed.Status)
	skipped, _ := store.Read(tasks[1].JobID)
	require.Equal(t, api.StatusFailed, skipped.Status)
	require.Equal(t, orchestrator.SkippedMessage, *skipped.Error)
}
