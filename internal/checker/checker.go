// Package checker adapts problem-supplied output checkers and interactive
// judges to a single comparison interface. Implementations never return
// errors: anything that goes wrong inside a checker becomes an RTE outcome.
package checker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/programme-lv/probpipe/api"
)

// Input is what a checker gets to see for one test case.
type Input struct {
	InputData string
	// Output is what the candidate solution printed.
	Output string
	// Answer is what the reference solution printed.
	Answer    string
	MaxPoints float64
}

type Outcome struct {
	Code    api.VerdictCode
	Points  float64
	Comment string
}

func (o Outcome) Accepted() bool { return o.Code == api.AC }

type Comparator interface {
	Compare(ctx context.Context, in Input) Outcome
}

const noResultComment = "no result returned"

func noResult() Outcome {
	return Outcome{Code: api.WA, Points: 0, Comment: noResultComment}
}

func crashed(format string, args ...any) Outcome {
	return Outcome{Code: api.RTE, Points: 0, Comment: fmt.Sprintf(format, args...)}
}

type harnessResult struct {
	Code    string  `json:"code"`
	Points  float64 `json:"points"`
	Comment string  `json:"comment"`
}

// readHarnessResult loads the JSON a harness leaves behind. ok is false when
// the harness wrote nothing.
func readHarnessResult(path string) (Outcome, bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && len(strings.TrimSpace(string(data))) == 0) {
		return Outcome{}, false, nil
	}
	if err != nil {
		return Outcome{}, false, fmt.Errorf("failed to read checker result: %w", err)
	}
	var res harnessResult
	if err := json.Unmarshal(data, &res); err != nil {
		return Outcome{}, false, fmt.Errorf("failed to parse checker result: %w", err)
	}
	return Outcome{
		Code:    normalizeCode(res.Code),
		Points:  res.Points,
		Comment: res.Comment,
	}, true, nil
}

// normalizeCode maps the codes scripts commonly use onto verdict codes.
func normalizeCode(code string) api.VerdictCode {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case "AC", "OK":
		return api.AC
	case "TLE":
		return api.TLE
	case "RTE", "RE":
		return api.RTE
	default:
		return api.WA
	}
}

func tempResultFile() (string, error) {
	f, err := os.CreateTemp("", "probpipe-result-*.json")
	if err != nil {
		return "", fmt.Errorf("failed to create result file: %w", err)
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", fmt.Errorf("failed to create result file: %w", err)
	}
	return name, nil
}

// trimDiagnostic keeps diagnostics readable in job records.
func trimDiagnostic(s string) string {
	return TrimToRect(strings.TrimSpace(s), api.MaxErrorHeight, api.MaxErrorWidth)
}

// TrimToRect cuts s to at most maxHeight lines of at most maxWidth bytes,
// marking every cut with "[...]".
func TrimToRect(s string, maxHeight int, maxWidth int) string {
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > maxHeight {
		lines = append(lines[:maxHeight], "[...]")
	}
	var b strings.Builder
	for i, line := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		if len(line) > maxWidth {
			b.WriteString(line[:maxWidth])
			b.WriteString("[...]")
		} else {
			b.WriteString(line)
		}
	}
	return b.String()
}
