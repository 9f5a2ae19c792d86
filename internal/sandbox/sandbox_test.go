package sandbox_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/programme-lv/probpipe/internal/logging"
	"github.com/programme-lv/probpipe/internal/sandbox"
	"github.com/stretchr/testify/require"
)

// fakeCompiler writes a shell script that behaves like g++ closely enough for
// the cache: it appends a line to countFile and "compiles" sources into a
// program that echoes its stdin. Sources containing FAIL do not compile.
func fakeCompiler(t *testing.T, dir string, countFile string) string {
	t.Helper()
	script := fmt.Sprintf(`#!/bin/sh
echo x >> %q
out=""
src=""
while [ $# -gt 0 ]; do
	if [ "$1" = "-o" ]; then out="$2"; shift; shift; continue; fi
	src="$1"
	shift
done
if grep -q FAIL "$src"; then echo "error: expected ';'" >&2; exit 1; fi
sleep 0.1
printf '#!/bin/sh\ncat\n' > "$out"
chmod +x "$out"
`, countFile)
	path := filepath.Join(dir, "fake-gxx")
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}

func countLines(t *testing.T, path string) int {
	t.Helper()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0
	}
	require.NoError(t, err)
	return strings.Count(string(data), "\n")
}

func newSandbox(t *testing.T) (*sandbox.Sandbox, string, string) {
	t.Helper()
	dir := t.TempDir()
	countFile := filepath.Join(dir, "count")
	sb, err := sandbox.New(sandbox.Config{
		Compiler: sandbox.CompilerConfig{
			Dir:      filepath.Join(dir, "cpp_binaries"),
			Compiler: fakeCompiler(t, dir, countFile),
			Flags:    []string{"-O2"},
			Timeout:  10 * time.Second,
		},
		PythonBin: "python3",
	}, logging.Discard())
	require.NoError(t, err)
	return sb, dir, countFile
}

func TestCompileCacheHit(t *testing.T) {
	sb, dir, countFile := newSandbox(t)
	src := filepath.Join(dir, "sol.cpp")
	require.NoError(t, os.WriteFile(src, []byte("int main() {}\n"), 0644))

	ctx := context.Background()
	first, err := sb.Compiler().Compile(ctx, src)
	require.NoError(t, err)
	require.Equal(t, 1, countLines(t, countFile))
	require.Regexp(t, `sol_[0-9a-f]{16}$`, first)

	second, err := sb.Compiler().Compile(ctx, src)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, countLines(t, countFile))

	entry, err := sandbox.ReadCompileLog(first)
	require.NoError(t, err)
	require.Equal(t, 0, entry.ExitCode)
	require.Contains(t, entry.Args, "-O2")
}

func TestCompileChangedSourceGetsNewKey(t *testing.T) {
	sb, dir, countFile := newSandbox(t)
	src := filepath.Join(dir, "sol.cpp")
	require.NoError(t, os.WriteFile(src, []byte("int main() {}\n"), 0644))

	ctx := context.Background()
	first, err := sb.Compiler().Compile(ctx, src)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(src, []byte("int main() { return 0; }\n"), 0644))
	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(src, later, later))

	second, err := sb.Compiler().Compile(ctx, src)
	require.NoError(t, err)
	require.NotEqual(t, first, second)
	require.FileExists(t, first)
	require.Equal(t, 2, countLines(t, countFile))
}

func TestConcurrentCompilesOfSameKeyRunOnce(t *testing.T) {
	sb, dir, countFile := newSandbox(t)
	src := filepath.Join(dir, "sol.cpp")
	require.NoError(t, os.WriteFile(src, []byte("int main() {}\n"), 0644))

	var wg sync.WaitGroup
	paths := make([]string, 8)
	for i := range paths {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := sb.Compiler().Compile(context.Background(), src)
			require.NoError(t, err)
			paths[i] = p
		}(i)
	}
	wg.Wait()

	for _, p := range paths {
		require.Equal(t, paths[0], p)
	}
	require.Equal(t, 1, countLines(t, countFile))
}

func TestCompileError(t *testing.T) {
	sb, dir, _ := newSandbox(t)
	src := filepath.Join(dir, "bad.cpp")
	require.NoError(t, os.WriteFile(src, []byte("FAIL\n"), 0644))

	_, err := sb.Compiler().Compile(context.Background(), src)
	var cerr *sandbox.CompileError
	require.ErrorAs(t, err, &cerr)
	require.Contains(t, cerr.Stderr, "expected ';'")
}

func TestCompileErrorIsRemembered(t *testing.T) {
	sb, dir, countFile := newSandbox(t)
	src := filepath.Join(dir, "bad.cpp")
	require.NoError(t, os.WriteFile(src, []byte("FAIL\n"), 0644))

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := sb.Compiler().Compile(ctx, src)
		var cerr *sandbox.CompileError
		require.ErrorAs(t, err, &cerr)
		require.Contains(t, cerr.Stderr, "expected ';'")
	}
	require.Equal(t, 1, countLines(t, countFile))

	require.NoError(t, os.WriteFile(src, []byte("int main() { return 0; }\n"), 0644))
	_, err := sb.Compiler().Compile(ctx, src)
	require.NoError(t, err)
	require.Equal(t, 2, countLines(t, countFile))
}

func TestExecuteCompiledProgram(t *testing.T) {
	sb, dir, _ := newSandbox(t)
	src := filepath.Join(dir, "echo.cpp")
	require.NoError(t, os.WriteFile(src, []byte("int main() {}\n"), 0644))
	in := filepath.Join(dir, "1.in")
	require.NoError(t, os.WriteFile(in, []byte("3 4\n"), 0644))

	res, err := sb.Execute(context.Background(), src, in, 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, 0, res.ExitCode)
	require.False(t, res.TimedOut)
	require.Equal(t, "3 4\n", res.Stdout)
}

func TestRunTimeout(t *testing.T) {
	r := sandbox.NewRunner(logging.Discard())
	start := time.Now()
	res, err := r.Run(context.Background(), sandbox.RunSpec{
		Argv:    []string{"/bin/sh", "-c", "sleep 1; exit 0"},
		Timeout: 200 * time.Millisecond,
	})
	require.NoError(t, err)
	require.True(t, res.TimedOut)
	require.NotEqual(t, 0, res.ExitCode)
	require.Less(t, time.Since(start), 900*time.Millisecond)
}

func TestRunNonZeroExitIsAResult(t *testing.T) {
	r := sandbox.NewRunner(logging.Discard())
	res, err := r.Run(context.Background(), sandbox.RunSpec{
		Argv: []string{"/bin/sh", "-c", "echo oops >&2; exit 3"},
	})
	require.NoError(t, err)
	require.Equal(t, 3, res.ExitCode)
	require.Equal(t, "oops\n", res.Stderr)
}

func TestRunMissingStdinFile(t *testing.T) {
	r := sandbox.NewRunner(logging.Discard())
	_, err := r.Run(context.Background(), sandbox.RunSpec{
		Argv:      []string{"/bin/cat"},
		StdinFile: filepath.Join(t.TempDir(), "missing.in"),
	})
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestRunEnvOverridesDoNotLeak(t *testing.T) {
	t.Setenv("PROBPIPE_AMBIENT", "kept")
	r := sandbox.NewRunner(logging.Discard())
	res, err := r.Run(context.Background(), sandbox.RunSpec{
		Argv: []string{"/bin/sh", "-c", `echo "$PROBPIPE_AMBIENT $PROBPIPE_EXTRA"`},
		Env:  map[string]string{"PROBPIPE_EXTRA": "added"},
	})
	require.NoError(t, err)
	require.Equal(t, "kept added\n", res.Stdout)
	_, set := os.LookupEnv("PROBPIPE_EXTRA")
	require.False(t, set)
}

func TestMergeEnv(t *testing.T) {
	base := []string{"A=1", "B=2"}
	env := sandbox.MergeEnv(base, map[string]string{"B": "3", "C": "4"})
	require.Equal(t, []string{"A=1", "B=3", "C=4"}, env)
	require.Equal(t, []string{"A=1", "B=2"}, base)
}

func TestLanguageOf(t *testing.T) {
	lang, ok := sandbox.LanguageOf("sols/a.CXX")
	require.True(t, ok)
	require.Equal(t, sandbox.Cpp, lang)
	require.True(t, lang.Compiled())

	lang, ok = sandbox.LanguageOf("gen.py")
	require.True(t, ok)
	require.Equal(t, sandbox.Python, lang)

	_, ok = sandbox.LanguageOf("notes.md")
	require.False(t, ok)
}

func TestRunPairCrossWiresStreams(t *testing.T) {
	r := sandbox.NewRunner(logging.Discard())
	a, b, err := r.RunPair(context.Background(),
		sandbox.RunSpec{Argv: []string{"/bin/sh", "-c", `read x; echo "got $x"`}, Timeout: 5 * time.Second},
		sandbox.RunSpec{Argv: []string{"/bin/sh", "-c", `echo hello; read y; echo "$y" >&2`}, Timeout: 5 * time.Second},
	)
	require.NoError(t, err)
	require.Equal(t, 0, a.ExitCode)
	require.Equal(t, 0, b.ExitCode)
	require.Equal(t, "got hello\n", b.Stderr)
}
