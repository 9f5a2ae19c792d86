package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Executable is a prepared program: argv plus the environment it needs.
type Executable struct {
	Argv []string
	Env  map[string]string
	Lang Language
}

type Config struct {
	Compiler   CompilerConfig
	PythonBin  string
	PythonPath string
}

// Sandbox compiles sources when needed and runs them with a wall-clock limit.
type Sandbox struct {
	compiler   *Compiler
	runner     *Runner
	pythonBin  string
	pythonPath string
}

func New(cfg Config, log *slog.Logger) (*Sandbox, error) {
	runner := NewRunner(log)
	compiler, err := NewCompiler(cfg.Compiler, runner, log)
	if err != nil {
		return nil, err
	}
	return &Sandbox{
		compiler:   compiler,
		runner:     runner,
		pythonBin:  cfg.PythonBin,
		pythonPath: cfg.PythonPath,
	}, nil
}

func (s *Sandbox) Compiler() *Compiler { return s.compiler }

func (s *Sandbox) Runner() *Runner { return s.runner }

// Prepare turns a source file into something runnable, compiling C++ through
// the cache. A failed build returns *CompileError.
func (s *Sandbox) Prepare(ctx context.Context, source string) (Executable, error) {
	lang, ok := LanguageOf(source)
	if !ok {
		return Executable{}, fmt.Errorf("unsupported source file %s", source)
	}
	abs, err := filepath.Abs(source)
	if err != nil {
		return Executable{}, fmt.Errorf("failed to resolve %s: %w", source, err)
	}
	if _, err := os.Stat(abs); err != nil {
		return Executable{}, fmt.Errorf("failed to stat source: %w", err)
	}

	switch lang {
	case Cpp:
		binary, err := s.compiler.Compile(ctx, abs)
		if err != nil {
			return Executable{}, err
		}
		return Executable{Argv: []string{binary}, Lang: lang}, nil
	default:
		return Executable{
			Argv: []string{s.pythonBin, abs},
			Env:  s.pythonEnv(),
			Lang: lang,
		}, nil
	}
}

// pythonEnv appends the configured library root to the ambient PYTHONPATH.
func (s *Sandbox) pythonEnv() map[string]string {
	if s.pythonPath == "" {
		return nil
	}
	path := s.pythonPath
	if cur := os.Getenv("PYTHONPATH"); cur != "" {
		path = cur + string(os.PathListSeparator) + path
	}
	return map[string]string{"PYTHONPATH": path}
}

// Run executes a prepared program. Fields of spec other than Argv and Env
// are passed through; exe.Env is applied before spec.Env.
func (s *Sandbox) Run(ctx context.Context, exe Executable, spec RunSpec) (RunResult, error) {
	spec.Argv = append(append([]string{}, exe.Argv...), spec.Argv...)
	if len(exe.Env) > 0 {
		env := make(map[string]string, len(exe.Env)+len(spec.Env))
		for k, v := range exe.Env {
			env[k] = v
		}
		for k, v := range spec.Env {
			env[k] = v
		}
		spec.Env = env
	}
	return s.runner.Run(ctx, spec)
}

// Execute prepares source and runs it once against stdinFile.
func (s *Sandbox) Execute(ctx context.Context, source string, stdinFile string, timeout time.Duration) (RunResult, error) {
	exe, err := s.Prepare(ctx, source)
	if err != nil {
		return RunResult{}, err
	}
	return s.Run(ctx, exe, RunSpec{StdinFile: stdinFile, Timeout: timeout})
}
