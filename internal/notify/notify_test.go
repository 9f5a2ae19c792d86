package notify_test

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/fatih/color"
	"github.com/programme-lv/probpipe/api"
	"github.com/programme-lv/probpipe/internal/jobstore"
	"github.com/programme-lv/probpipe/internal/logging"
	"github.com/programme-lv/probpipe/internal/notify"
	"github.com/stretchr/testify/require"
)

type published struct {
	subject string
	data    []byte
}

type fakeConn struct {
	mu  sync.Mutex
	out []published
}

func (c *fakeConn) Publish(subj string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out = append(c.out, published{subj, data})
	return nil
}

func TestNatsPublisherSeesEveryWrite(t *testing.T) {
	conn := &fakeConn{}
	store, err := jobstore.New(t.TempDir(),
		jobstore.WithLogger(logging.Discard()),
		jobstore.WithObserver(notify.NewNatsPublisher(conn, "probpipe.jobs", logging.Discard())))
	require.NoError(t, err)

	id, err := store.Create("sum", api.JobRunValidators)
	require.NoError(t, err)
	require.NoError(t, store.MarkRunning(id))
	require.NoError(t, store.Fail(id, strings.Repeat("x\n", 100), nil))

	require.Len(t, conn.out, 3)
	var types []api.MsgType
	for _, p := range conn.out {
		require.Equal(t, "probpipe.jobs.sum.run_validators", p.subject)
		var ev api.JobEvent
		require.NoError(t, json.Unmarshal(p.data, &ev))
		require.Equal(t, id, ev.JobID)
		types = append(types, ev.MsgType)
	}
	require.Equal(t, []api.MsgType{api.JobCreatedMsg, api.JobProgressMsg, api.JobFinishedMsg}, types)

	var last api.JobEvent
	require.NoError(t, json.Unmarshal(conn.out[2].data, &last))
	require.LessOrEqual(t, strings.Count(*last.Error, "\n"), api.MaxErrorHeight)
}

func TestSubjectSanitizesSlug(t *testing.T) {
	job := api.Job{Slug: "a.b*c", Type: api.JobReview}
	require.Equal(t, "p.a_b_c.review", notify.Subject("p", job))
}

type fakeSqs struct {
	mu     sync.Mutex
	bodies []string
}

func (f *fakeSqs) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies = append(f.bodies, *in.MessageBody)
	return &sqs.SendMessageOutput{}, nil
}

func TestSqsNotifierOnlySendsTerminalJobs(t *testing.T) {
	client := &fakeSqs{}
	n := notify.NewSqsNotifier(client, "https://sqs.example/queue", logging.Discard())
	store, err := jobstore.New(t.TempDir(), jobstore.WithLogger(logging.Discard()), jobstore.WithObserver(n))
	require.NoError(t, err)

	id, err := store.Create("sum", api.JobReview)
	require.NoError(t, err)
	require.NoError(t, store.MarkRunning(id))
	require.NoError(t, store.Progress(id, "half"))
	require.NoError(t, store.Finish(id, "all"))
	n.Close()

	require.Len(t, client.bodies, 1)
	var ev api.JobEvent
	require.NoError(t, json.Unmarshal([]byte(client.bodies[0]), &ev))
	require.Equal(t, api.StatusDone, ev.Status)
	require.Equal(t, api.JobFinishedMsg, ev.MsgType)
}

func TestTerminalSummary(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	term := notify.NewTerminal(&buf)
	store, err := jobstore.New(t.TempDir(), jobstore.WithLogger(logging.Discard()), jobstore.WithObserver(term))
	require.NoError(t, err)

	id, err := store.Create("sum", api.JobRunSolution)
	require.NoError(t, err)
	require.NoError(t, store.MarkRunning(id))
	require.NoError(t, store.Progress(id, api.RunSolutionsResult{}))
	no := false
	require.NoError(t, store.Finish(id, api.RunSolutionsResult{Solutions: []api.RunSolutionResult{
		{SolutionPath: "sum.cpp", Overall: api.AC},
		{SolutionPath: "small.cpp", Overall: api.WA, MeetsExpectation: &no},
	}}))

	out := buf.String()
	require.Equal(t, 1, strings.Count(out, "started"))
	require.Contains(t, out, id+" done")
	require.Contains(t, out, "sum.cpp")
	require.Contains(t, out, "WA  (unexpected)")
}
