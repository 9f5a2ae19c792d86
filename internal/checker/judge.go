package checker

import (
	"context"
	_ "embed"
	"encoding/json"
	"log/slog"
	"os"
	"time"

	"github.com/programme-lv/probpipe/api"
	"github.com/programme-lv/probpipe/internal/sandbox"
)

//go:embed harness/judge.py
var judgeHarness string

// Interaction is the result of one interactive run.
type Interaction struct {
	Outcome Outcome
	// Solution is the candidate's run; its Stdout is always empty.
	Solution sandbox.RunResult
}

// Judge plays an interactive judge.py against a running solution.
type Judge struct {
	script    string
	pythonBin string
	// extra is how much longer than the solution the judge may run.
	extra  time.Duration
	runner *sandbox.Runner
	log    *slog.Logger
}

func NewJudge(script string, pythonBin string, extra time.Duration, runner *sandbox.Runner, log *slog.Logger) *Judge {
	if log == nil {
		log = slog.Default()
	}
	return &Judge{script: script, pythonBin: pythonBin, extra: extra, runner: runner, log: log}
}

// Interact runs the solution under timeout with its stdin and stdout wired to
// the judge. The outcome follows the same rules as Comparator: failures inside
// the judge become RTE, a judge that reports nothing yields WA.
func (j *Judge) Interact(ctx context.Context, solution sandbox.Executable, inputData string, maxPoints float64, timeout time.Duration) (Interaction, error) {
	payloadFile, err := os.CreateTemp("", "probpipe-judge-*.json")
	if err != nil {
		return Interaction{}, err
	}
	defer os.Remove(payloadFile.Name())
	err = json.NewEncoder(payloadFile).Encode(map[string]any{
		"input_data": inputData,
		"points":     maxPoints,
	})
	if cerr := payloadFile.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return Interaction{}, err
	}

	resultPath, err := tempResultFile()
	if err != nil {
		return Interaction{}, err
	}
	defer os.Remove(resultPath)

	solRes, judgeRes, err := j.runner.RunPair(ctx,
		sandbox.RunSpec{Argv: solution.Argv, Env: solution.Env, Timeout: timeout},
		sandbox.RunSpec{
			Argv:    []string{j.pythonBin, "-c", judgeHarness, j.script, resultPath, payloadFile.Name()},
			Timeout: timeout + j.extra,
		},
	)
	if err != nil {
		return Interaction{}, err
	}

	out, ok, rerr := readHarnessResult(resultPath)
	switch {
	case rerr != nil:
		out = crashed("%v", rerr)
	case ok:
		out.Comment = trimDiagnostic(out.Comment)
	case judgeRes.TimedOut:
		out = crashed("judge timed out")
	case judgeRes.ExitCode != 0:
		out = crashed("judge exited with code %d: %s", judgeRes.ExitCode, trimDiagnostic(judgeRes.Stderr))
	default:
		out = noResult()
	}
	j.log.Debug("interaction finished", "code", out.Code, "solution_exit", solRes.ExitCode)
	return Interaction{Outcome: out, Solution: solRes}, nil
}

// Verdict folds the solution's own run into the judge's outcome.
func (i Interaction) Verdict() (api.VerdictCode, string) {
	switch {
	case i.Solution.TimedOut:
		return api.TLE, "Time Limit Exceeded"
	case i.Solution.ExitCode != 0 && !i.Outcome.Accepted():
		return api.RTE, "Runtime Error"
	default:
		return i.Outcome.Code, i.Outcome.Comment
	}
}
