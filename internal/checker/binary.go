package checker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/programme-lv/probpipe/api"
	"github.com/programme-lv/probpipe/internal/sandbox"
)

// testlib exit codes
const (
	testlibOK     = 0
	testlibWA     = 1
	testlibPE     = 2
	testlibPoints = 7
)

// BinaryChecker runs a compiled testlib-style checker.cpp as
// "checker input output answer" and maps its exit code to a verdict.
type BinaryChecker struct {
	source  string
	sandbox *sandbox.Sandbox
	timeout time.Duration
}

func NewBinaryChecker(source string, sb *sandbox.Sandbox, timeout time.Duration) *BinaryChecker {
	return &BinaryChecker{source: source, sandbox: sb, timeout: timeout}
}

func (c *BinaryChecker) Compare(ctx context.Context, in Input) Outcome {
	exe, err := c.sandbox.Prepare(ctx, c.source)
	if err != nil {
		return crashed("checker unavailable: %s", trimDiagnostic(err.Error()))
	}

	dir, err := os.MkdirTemp("", "probpipe-check-*")
	if err != nil {
		return crashed("failed to create checker workspace: %v", err)
	}
	defer os.RemoveAll(dir)

	files := map[string]string{
		"input.txt":  in.InputData,
		"output.txt": in.Output,
		"answer.txt": in.Answer,
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			return crashed("failed to write %s: %v", name, err)
		}
	}

	res, err := c.sandbox.Run(ctx, exe, sandbox.RunSpec{
		Argv:    []string{"input.txt", "output.txt", "answer.txt"},
		Dir:     dir,
		Timeout: c.timeout,
	})
	if err != nil {
		return crashed("checker did not run: %v", err)
	}
	if res.TimedOut {
		return crashed("checker timed out after %s", c.timeout)
	}

	comment := trimDiagnostic(res.Stderr)
	switch res.ExitCode {
	case testlibOK:
		return Outcome{Code: api.AC, Points: in.MaxPoints, Comment: comment}
	case testlibWA, testlibPE:
		return Outcome{Code: api.WA, Comment: comment}
	case testlibPoints:
		return Outcome{Code: api.WA, Points: parsePoints(res.Stderr), Comment: comment}
	default:
		return crashed("checker failed with exit code %d: %s", res.ExitCode, comment)
	}
}

func parsePoints(stderr string) float64 {
	var p float64
	fields := strings.Fields(stderr)
	if len(fields) > 1 {
		fmt.Sscanf(fields[1], "%g", &p)
	}
	return p
}
