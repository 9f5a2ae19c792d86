package notify

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/programme-lv/probpipe/api"
	"github.com/programme-lv/probpipe/internal/jobstore"
)

// Terminal prints job status changes for a person watching a pipeline run.
type Terminal struct {
	w io.Writer

	mu      sync.Mutex
	last    map[string]api.JobStatus
	started map[string]time.Time
}

func NewTerminal(w io.Writer) *Terminal {
	return &Terminal{
		w:       w,
		last:    map[string]api.JobStatus{},
		started: map[string]time.Time{},
	}
}

var (
	bold   = color.New(color.Bold)
	green  = color.New(color.FgGreen, color.Bold)
	red    = color.New(color.FgRed, color.Bold)
	yellow = color.New(color.FgYellow)
	faint  = color.New(color.Faint)
)

func (t *Terminal) JobUpdated(job api.Job) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last[job.ID] == job.Status {
		return
	}
	t.last[job.ID] = job.Status

	switch job.Status {
	case api.StatusPending:
		faint.Fprintf(t.w, "-- %s queued\n", job.ID)
	case api.StatusRunning:
		t.started[job.ID] = time.Now()
		bold.Fprintf(t.w, "-> %s started\n", job.ID)
	case api.StatusDone:
		green.Fprintf(t.w, "<- %s done", job.ID)
		fmt.Fprintf(t.w, " in %s\n", t.took(job.ID))
		t.summary(job)
	case api.StatusFailed:
		red.Fprintf(t.w, "<- %s failed", job.ID)
		msg := ""
		if job.Error != nil {
			msg = *job.Error
		}
		fmt.Fprintf(t.w, ": %s\n", msg)
	}
}

func (t *Terminal) took(id string) time.Duration {
	start, ok := t.started[id]
	if !ok {
		return 0
	}
	return time.Since(start).Round(time.Millisecond)
}

func (t *Terminal) summary(job api.Job) {
	switch job.Type {
	case api.JobRunSolution:
		var res api.RunSolutionsResult
		if jobstore.DecodeResult(job, &res) != nil {
			return
		}
		for _, sol := range res.Solutions {
			fmt.Fprintf(t.w, "   %-32s ", sol.SolutionPath)
			verdictColor(sol.Overall).Fprint(t.w, sol.Overall)
			if sol.MeetsExpectation != nil && !*sol.MeetsExpectation {
				yellow.Fprint(t.w, "  (unexpected)")
			}
			fmt.Fprintln(t.w)
		}
	case api.JobRunValidators:
		var res api.RunValidatorsResult
		if jobstore.DecodeResult(job, &res) != nil {
			return
		}
		failed := 0
		for _, r := range res.Results {
			if !r.Passed {
				failed++
				red.Fprintf(t.w, "   %s rejected %s/%s\n", r.Validator, r.TestSet, r.TestCase)
			}
		}
		fmt.Fprintf(t.w, "   %d checks, %d failed\n", len(res.Results), failed)
	case api.JobGenerateTests:
		var res []api.GeneratorResult
		if jobstore.DecodeResult(job, &res) != nil {
			return
		}
		for _, r := range res {
			c := green
			if r.Status != api.GenComplete {
				c = red
			}
			fmt.Fprintf(t.w, "   %s/%s ", r.TestSet, r.GeneratorName)
			c.Fprintln(t.w, r.Status)
		}
	case api.JobReview:
		var res api.ReviewResult
		if jobstore.DecodeResult(job, &res) != nil {
			return
		}
		for _, cat := range []api.CheckCategory{api.CategorySolution, api.CategoryValidator, api.CategoryTest} {
			cr, ok := res.ByCategory[cat]
			if !ok {
				continue
			}
			fmt.Fprintf(t.w, "   %-10s ", cat)
			colorByName(cr.Color).Fprintf(t.w, "%d/%d\n", cr.Passed, cr.NumTests)
			for _, issue := range cr.Issues {
				faint.Fprintf(t.w, "     %s\n", issue)
			}
		}
	}
}

func verdictColor(v api.VerdictCode) *color.Color {
	switch v {
	case api.AC:
		return green
	case api.PD:
		return faint
	default:
		return red
	}
}

func colorByName(name string) *color.Color {
	switch name {
	case "green":
		return green
	case "yellow":
		return yellow
	default:
		return red
	}
}
