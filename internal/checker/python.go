package checker

import (
	"context"
	_ "embed"
	"encoding/json"
	"log/slog"
	"os"
	"time"

	"github.com/programme-lv/probpipe/internal/sandbox"
)

//go:embed harness/checker.py
var checkerHarness string

// PythonChecker runs a checker.py in a separate interpreter through a small
// harness that hands it a make_result callback and reports what it returns.
type PythonChecker struct {
	script    string
	pythonBin string
	timeout   time.Duration
	runner    *sandbox.Runner
	log       *slog.Logger
}

func NewPythonChecker(script string, pythonBin string, timeout time.Duration, runner *sandbox.Runner, log *slog.Logger) *PythonChecker {
	if log == nil {
		log = slog.Default()
	}
	return &PythonChecker{
		script:    script,
		pythonBin: pythonBin,
		timeout:   timeout,
		runner:    runner,
		log:       log,
	}
}

func (c *PythonChecker) Compare(ctx context.Context, in Input) Outcome {
	payload, err := json.Marshal(map[string]any{
		"input_data":   in.InputData,
		"process_data": in.Output,
		"judge_data":   in.Answer,
		"points":       in.MaxPoints,
	})
	if err != nil {
		return crashed("failed to encode checker input: %v", err)
	}

	resultPath, err := tempResultFile()
	if err != nil {
		return crashed("%v", err)
	}
	defer os.Remove(resultPath)

	res, err := c.runner.Run(ctx, sandbox.RunSpec{
		Argv:    []string{c.pythonBin, "-c", checkerHarness, c.script, resultPath},
		Stdin:   payload,
		Timeout: c.timeout,
	})
	if err != nil {
		c.log.Warn("checker did not run", "script", c.script, "error", err)
		return crashed("checker did not run: %v", err)
	}
	if res.TimedOut {
		return crashed("checker timed out after %s", c.timeout)
	}

	out, ok, err := readHarnessResult(resultPath)
	if err != nil {
		return crashed("%v", err)
	}
	if ok {
		out.Comment = trimDiagnostic(out.Comment)
		return out
	}
	if res.ExitCode != 0 {
		return crashed("checker exited with code %d: %s", res.ExitCode, trimDiagnostic(res.Stderr))
	}
	return noResult()
}
