package checker

import (
	"context"
	"fmt"
	"strings"

	"github.com/programme-lv/probpipe/api"
)

// Exact accepts output that matches the answer up to trailing whitespace on
// each line and trailing blank lines.
type Exact struct{}

func (Exact) Compare(_ context.Context, in Input) Outcome {
	got := normalizedLines(in.Output)
	want := normalizedLines(in.Answer)

	for i := 0; i < len(got) && i < len(want); i++ {
		if got[i] != want[i] {
			return Outcome{
				Code:    api.WA,
				Comment: fmt.Sprintf("line %d differs: expected %q, found %q", i+1, clip(want[i]), clip(got[i])),
			}
		}
	}
	if len(got) != len(want) {
		return Outcome{
			Code:    api.WA,
			Comment: fmt.Sprintf("expected %d lines, found %d", len(want), len(got)),
		}
	}
	return Outcome{Code: api.AC, Points: in.MaxPoints, Comment: "output matches"}
}

func normalizedLines(s string) []string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t\r")
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func clip(s string) string {
	const max = 40
	if len(s) > max {
		return s[:max] + "[...]"
	}
	return s
}
