package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"
)

// maxCaptured bounds how much of stdout and stderr is kept per stream.
const maxCaptured = 64 << 20

// RunSpec describes one process invocation.
type RunSpec struct {
	Argv []string
	// StdinFile is read fully and piped in. Empty means no stdin.
	StdinFile string
	// Stdin is used when StdinFile is empty.
	Stdin   []byte
	Timeout time.Duration
	// Env is applied on top of a copy of the ambient environment.
	Env map[string]string
	Dir string
}

type RunResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
	Duration time.Duration
}

// WallMillis is the measured wall time in whole milliseconds.
func (r RunResult) WallMillis() int64 { return r.Duration.Milliseconds() }

type Runner struct {
	log *slog.Logger
}

func NewRunner(log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{log: log}
}

// Run starts the process and waits for it. A timeout kills the whole process
// group and is reported through RunResult.TimedOut, as is a non-zero exit.
// Only failures to set up or start the process are returned as errors.
func (r *Runner) Run(ctx context.Context, spec RunSpec) (RunResult, error) {
	p, err := newProc(spec)
	if err != nil {
		return RunResult{}, err
	}
	if err := p.start(); err != nil {
		return RunResult{}, err
	}
	res, err := p.wait(ctx)
	if err != nil {
		return res, err
	}
	r.log.Debug("process finished",
		"cmd", spec.Argv[0],
		"exit", res.ExitCode,
		"timed_out", res.TimedOut,
		"wall_ms", res.WallMillis())
	return res, nil
}

// RunPair runs two processes with the stdout of each wired to the stdin of
// the other, as needed for interactive problems. Stdin fields of both specs
// are ignored. The captured Stdout of each result is empty.
func (r *Runner) RunPair(ctx context.Context, a RunSpec, b RunSpec) (RunResult, RunResult, error) {
	pa, err := newProc(a)
	if err != nil {
		return RunResult{}, RunResult{}, err
	}
	pb, err := newProc(b)
	if err != nil {
		return RunResult{}, RunResult{}, err
	}

	abR, abW, err := os.Pipe()
	if err != nil {
		return RunResult{}, RunResult{}, fmt.Errorf("failed to create pipe: %w", err)
	}
	baR, baW, err := os.Pipe()
	if err != nil {
		abR.Close()
		abW.Close()
		return RunResult{}, RunResult{}, fmt.Errorf("failed to create pipe: %w", err)
	}
	pa.cmd.Stdout, pb.cmd.Stdin = abW, abR
	pb.cmd.Stdout, pa.cmd.Stdin = baW, baR
	closeEnds := func() {
		abR.Close()
		abW.Close()
		baR.Close()
		baW.Close()
	}

	if err := pa.start(); err != nil {
		closeEnds()
		return RunResult{}, RunResult{}, err
	}
	if err := pb.start(); err != nil {
		closeEnds()
		killProcessGroup(pa.cmd)
		_, _ = pa.wait(ctx)
		return RunResult{}, RunResult{}, err
	}
	// the children hold their own copies now
	closeEnds()

	type outcome struct {
		res RunResult
		err error
	}
	bDone := make(chan outcome, 1)
	go func() {
		res, err := pb.wait(ctx)
		bDone <- outcome{res, err}
	}()
	resA, errA := pa.wait(ctx)
	ob := <-bDone
	if errA != nil {
		return resA, ob.res, errA
	}
	if ob.err != nil {
		return resA, ob.res, ob.err
	}
	r.log.Debug("process pair finished",
		"a", a.Argv[0], "a_exit", resA.ExitCode,
		"b", b.Argv[0], "b_exit", ob.res.ExitCode)
	return resA, ob.res, nil
}

type proc struct {
	spec   RunSpec
	cmd    *exec.Cmd
	stdout *cappedBuffer
	stderr *cappedBuffer
	begin  time.Time
	done   chan error
}

func newProc(spec RunSpec) (*proc, error) {
	if len(spec.Argv) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	var stdin []byte
	if spec.StdinFile != "" {
		data, err := os.ReadFile(spec.StdinFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin file: %w", err)
		}
		stdin = data
	} else {
		stdin = spec.Stdin
	}

	p := &proc{
		spec:   spec,
		cmd:    exec.Command(spec.Argv[0], spec.Argv[1:]...),
		stdout: &cappedBuffer{limit: maxCaptured},
		stderr: &cappedBuffer{limit: maxCaptured},
		done:   make(chan error, 1),
	}
	p.cmd.Dir = spec.Dir
	p.cmd.Env = MergeEnv(os.Environ(), spec.Env)
	if stdin != nil {
		p.cmd.Stdin = bytes.NewReader(stdin)
	}
	p.cmd.Stdout = p.stdout
	p.cmd.Stderr = p.stderr
	p.cmd.WaitDelay = time.Second
	setProcessGroup(p.cmd)
	return p, nil
}

func (p *proc) start() error {
	p.begin = time.Now()
	if err := p.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", p.spec.Argv[0], err)
	}
	go func() { p.done <- p.cmd.Wait() }()
	return nil
}

func (p *proc) wait(ctx context.Context) (RunResult, error) {
	var timeout <-chan time.Time
	if p.spec.Timeout > 0 {
		timer := time.NewTimer(p.spec.Timeout - time.Since(p.begin))
		defer timer.Stop()
		timeout = timer.C
	}

	var waitErr error
	timedOut := false
	select {
	case waitErr = <-p.done:
	case <-timeout:
		timedOut = true
		killProcessGroup(p.cmd)
		waitErr = <-p.done
	case <-ctx.Done():
		killProcessGroup(p.cmd)
		<-p.done
		return RunResult{}, ctx.Err()
	}

	res := RunResult{
		TimedOut: timedOut,
		Duration: time.Since(p.begin),
	}
	if w, ok := p.cmd.Stdout.(*cappedBuffer); ok {
		res.Stdout = w.String()
	}
	res.Stderr = p.stderr.String()

	var exitErr *exec.ExitError
	switch {
	case timedOut:
		res.ExitCode = -1
	case waitErr == nil:
		res.ExitCode = 0
	case errors.As(waitErr, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	case errors.Is(waitErr, exec.ErrWaitDelay):
		res.ExitCode = p.cmd.ProcessState.ExitCode()
	default:
		return res, fmt.Errorf("failed to wait for %s: %w", p.spec.Argv[0], waitErr)
	}
	return res, nil
}

// MergeEnv returns base with overrides applied. base is not modified.
func MergeEnv(base []string, overrides map[string]string) []string {
	env := make([]string, 0, len(base)+len(overrides))
	for _, kv := range base {
		k, _, _ := strings.Cut(kv, "=")
		if _, ok := overrides[k]; ok {
			continue
		}
		env = append(env, kv)
	}
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+overrides[k])
	}
	return env
}

type cappedBuffer struct {
	buf   bytes.Buffer
	limit int
}

var _ io.Writer = (*cappedBuffer)(nil)

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string { return b.buf.String() }
