package stages

import (
	"github.com/programme-lv/probpipe/api"
	"github.com/programme-lv/probpipe/internal/jobstore"
)

// MergedResults combines the latest group run of slug with the latest
// individual run of each solution. Per solution, the more recently updated
// record wins. Solutions keep the order of the group run, individual-only
// ones follow in key order.
func MergedResults(store *jobstore.Store, slug string) (api.MergedResults, error) {
	type entry struct {
		res api.MergedSolutionResult
		job api.Job
	}
	var order []string
	merged := map[string]entry{}

	offer := func(id string) error {
		if id == "" {
			return nil
		}
		job, err := store.Read(id)
		if err != nil {
			return err
		}
		var res api.RunSolutionsResult
		if err := jobstore.DecodeResult(job, &res); err != nil {
			return err
		}
		for _, sol := range res.Solutions {
			cur, seen := merged[sol.SolutionPath]
			if seen && !job.UpdatedAt.After(cur.job.UpdatedAt) {
				continue
			}
			if !seen {
				order = append(order, sol.SolutionPath)
			}
			merged[sol.SolutionPath] = entry{
				res: api.MergedSolutionResult{RunSolutionResult: sol, JobID: job.ID, Status: job.Status},
				job: job,
			}
		}
		return nil
	}

	group, err := store.Latest(slug, api.JobRunSolution)
	if err != nil {
		return api.MergedResults{}, err
	}
	if err := offer(group); err != nil {
		return api.MergedResults{}, err
	}

	keys, err := store.SolutionKeys(slug)
	if err != nil {
		return api.MergedResults{}, err
	}
	for _, key := range keys {
		id, err := store.Latest(slug, api.JobRunSolution, key)
		if err != nil {
			return api.MergedResults{}, err
		}
		if err := offer(id); err != nil {
			return api.MergedResults{}, err
		}
	}

	out := api.MergedResults{Solutions: make([]api.MergedSolutionResult, 0, len(order))}
	for _, path := range order {
		out.Solutions = append(out.Solutions, merged[path].res)
	}
	return out, nil
}
