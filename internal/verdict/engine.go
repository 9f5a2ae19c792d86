// Package verdict judges one solution on one test case and aggregates the
// per-case verdicts of a solution.
package verdict

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/coocood/freecache"
	"github.com/programme-lv/probpipe/api"
	"github.com/programme-lv/probpipe/internal/checker"
	"github.com/programme-lv/probpipe/internal/problem"
	"github.com/programme-lv/probpipe/internal/sandbox"
	"golang.org/x/sync/singleflight"
)

var (
	ErrNoReferenceSolution = errors.New("no reference solution")
	ErrReferenceFailed     = errors.New("reference solution failed")
	ErrNoJudge             = errors.New("interactive problem has no judge.py")
)

const (
	commentTLE = "Time Limit Exceeded"
	commentRTE = "Runtime Error"
)

type Config struct {
	PythonBin      string
	CheckerTimeout time.Duration
	// JudgeGrace is how much longer than the solution an interactive judge
	// may keep running.
	JudgeGrace time.Duration
	// AnswerCacheBytes bounds the memory held by cached reference outputs.
	// Outputs larger than 1/1024 of it are never cached.
	AnswerCacheBytes int
}

const defaultAnswerCacheBytes = 256 << 20

type Engine struct {
	sb  *sandbox.Sandbox
	cfg Config
	log *slog.Logger

	// answers caches reference output by reference and input fingerprint.
	answers *freecache.Cache
	flight  singleflight.Group
}

func New(sb *sandbox.Sandbox, cfg Config, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	if cfg.PythonBin == "" {
		cfg.PythonBin = "python3"
	}
	if cfg.CheckerTimeout <= 0 {
		cfg.CheckerTimeout = 10 * time.Second
	}
	if cfg.JudgeGrace <= 0 {
		cfg.JudgeGrace = time.Second
	}
	if cfg.AnswerCacheBytes <= 0 {
		cfg.AnswerCacheBytes = defaultAnswerCacheBytes
	}
	return &Engine{
		sb:      sb,
		cfg:     cfg,
		log:     log,
		answers: freecache.NewCache(cfg.AnswerCacheBytes),
	}
}

// TimeLimit is the per-case wall-clock limit of p.
func TimeLimit(p *problem.Problem) time.Duration {
	return time.Duration(p.Config.Limits.Time * float64(time.Second))
}

// Judge runs sol on tc and decides its verdict. Problems with the candidate
// (timeouts, crashes, build failures, wrong answers) are verdicts; the
// error return is reserved for infrastructure failures and a missing or
// broken reference solution.
func (e *Engine) Judge(ctx context.Context, p *problem.Problem, sol problem.Solution, tc problem.TestCase) (api.Verdict, error) {
	v := api.Verdict{TestCase: tc.Name, TestSet: tc.SetName}

	exe, err := e.sb.Prepare(ctx, sol.File)
	var cerr *sandbox.CompileError
	if errors.As(err, &cerr) {
		v.Verdict = api.RTE
		v.Comment = "Compilation Error\n" + checker.TrimToRect(cerr.Stderr, api.MaxErrorHeight, api.MaxErrorWidth)
		return v, nil
	}
	if err != nil {
		return v, fmt.Errorf("failed to prepare %s: %w", sol.Path, err)
	}

	if p.Interactive() {
		return e.judgeInteractive(ctx, p, exe, tc, v)
	}

	res, err := e.sb.Run(ctx, exe, sandbox.RunSpec{StdinFile: tc.InputPath, Timeout: TimeLimit(p)})
	if err != nil {
		return v, fmt.Errorf("failed to run %s on %s/%s: %w", sol.Path, tc.SetName, tc.Name, err)
	}
	ms := res.WallMillis()
	v.TimeMs = &ms
	switch {
	case res.TimedOut:
		v.Verdict, v.Comment = api.TLE, commentTLE
		return v, nil
	case res.ExitCode != 0:
		v.Verdict, v.Comment = api.RTE, commentRTE
		return v, nil
	}

	answer, err := e.Answer(ctx, p, tc)
	if err != nil {
		return v, err
	}
	input, err := os.ReadFile(tc.InputPath)
	if err != nil {
		return v, fmt.Errorf("failed to read input: %w", err)
	}
	cmp, err := e.Comparator(p)
	if err != nil {
		return v, err
	}

	out := cmp.Compare(ctx, checker.Input{
		InputData: string(input),
		Output:    res.Stdout,
		Answer:    answer,
		MaxPoints: maxPoints(p, tc),
	})
	v.Verdict, v.Comment = out.Code, out.Comment
	e.log.Debug("judged", "solution", sol.Path, "set", tc.SetName, "case", tc.Name,
		"verdict", v.Verdict, "time_ms", ms)
	return v, nil
}

func (e *Engine) judgeInteractive(ctx context.Context, p *problem.Problem, exe sandbox.Executable, tc problem.TestCase, v api.Verdict) (api.Verdict, error) {
	if p.Output == nil || p.Output.Kind != problem.KindJudge {
		return v, ErrNoJudge
	}
	input, err := os.ReadFile(tc.InputPath)
	if err != nil {
		return v, fmt.Errorf("failed to read input: %w", err)
	}
	judge := checker.NewJudge(p.Output.File, e.cfg.PythonBin, e.cfg.JudgeGrace, e.sb.Runner(), e.log)
	it, err := judge.Interact(ctx, exe, string(input), maxPoints(p, tc), TimeLimit(p))
	if err != nil {
		return v, fmt.Errorf("failed to run interaction on %s/%s: %w", tc.SetName, tc.Name, err)
	}
	ms := it.Solution.WallMillis()
	v.TimeMs = &ms
	v.Verdict, v.Comment = it.Verdict()
	return v, nil
}

// Comparator picks the output checker of a standard problem: checker.py,
// checker.cpp or exact comparison when there is none.
func (e *Engine) Comparator(p *problem.Problem) (checker.Comparator, error) {
	if p.Output == nil {
		return checker.Exact{}, nil
	}
	if p.Output.Kind != problem.KindChecker {
		return nil, fmt.Errorf("standard problem %s has a %s instead of a checker", p.Slug, p.Output.Kind)
	}
	if p.Output.Language.Compiled() {
		return checker.NewBinaryChecker(p.Output.File, e.sb, e.cfg.CheckerTimeout), nil
	}
	return checker.NewPythonChecker(p.Output.File, e.cfg.PythonBin, e.cfg.CheckerTimeout, e.sb.Runner(), e.log), nil
}

// Answer returns the reference solution's output on tc. Outputs are cached
// until either the reference or the input file changes.
func (e *Engine) Answer(ctx context.Context, p *problem.Problem, tc problem.TestCase) (string, error) {
	ref, err := ReferenceSolution(p.Solutions)
	if err != nil {
		return "", err
	}
	key, err := fingerprint(ref.File, tc.InputPath)
	if err != nil {
		return "", err
	}
	if answer, err := e.answers.Get([]byte(key)); err == nil {
		return string(answer), nil
	}

	answer, err, _ := e.flight.Do(key, func() (any, error) {
		if answer, err := e.answers.Get([]byte(key)); err == nil {
			return string(answer), nil
		}
		res, err := e.sb.Execute(ctx, ref.File, tc.InputPath, TimeLimit(p))
		if err != nil {
			return "", fmt.Errorf("%w: %s: %w", ErrReferenceFailed, ref.Path, err)
		}
		if res.TimedOut || res.ExitCode != 0 {
			return "", fmt.Errorf("%w: %s on %s/%s (exit code %d, timed out %t)",
				ErrReferenceFailed, ref.Path, tc.SetName, tc.Name, res.ExitCode, res.TimedOut)
		}
		if err := e.answers.Set([]byte(key), []byte(res.Stdout), 0); err != nil {
			e.log.Debug("reference output not cached", "case", tc.Name, "bytes", len(res.Stdout), "error", err)
		}
		return res.Stdout, nil
	})
	if err != nil {
		return "", err
	}
	return answer.(string), nil
}

func fingerprint(paths ...string) (string, error) {
	key := ""
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return "", fmt.Errorf("failed to stat %s: %w", path, err)
		}
		key += fmt.Sprintf("%s:%d:%d|", path, info.ModTime().UnixNano(), info.Size())
	}
	return key, nil
}

func maxPoints(p *problem.Problem, tc problem.TestCase) float64 {
	if ts, ok := p.TestSet(tc.SetName); ok {
		return ts.Config.Points
	}
	return 0
}
