// Package problemtest lays out problem directories for tests.
package problemtest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/programme-lv/probpipe/internal/logging"
	"github.com/programme-lv/probpipe/internal/sandbox"
	"github.com/stretchr/testify/require"
)

// Files maps paths relative to the problem directory to their content.
type Files map[string]string

// Write creates root/slug with files and returns the problem directory.
func Write(t testing.TB, root string, slug string, files Files) string {
	t.Helper()
	dir := filepath.Join(root, slug)
	for rel, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	return dir
}

// Standard is a small standard problem: sum of two numbers, a sample set and
// two scored sets, an accepted python solution and a wrong one that fails
// only setB.
func Standard() Files {
	return Files{
		"config.yaml": "name: Sum\ntype: standard\nlimits:\n  time: 2\n  memory: 262144\n",

		"data/sample/1.in":      "1 2\n",
		"data/setA/config.yaml": "points: 40\n",
		"data/setA/1.in":        "3 4\n",
		"data/setA/2.in":        "10 20\n",
		"data/setB/config.yaml": "points: 60\nmarking_style: progressive\n",
		"data/setB/1.in":        "100 200\n",

		"solutions/sum.py": `"""
---
name: Sum
expectation: AC
---
Reads two numbers.
"""
a, b = map(int, input().split())
print(a + b)
`,
		"solutions/small.py": `"""
---
expectation:
- sample: AC
- setA: AC
- setB: WA
---
"""
a, b = map(int, input().split())
print(a + b if a < 100 else 0)
`,
	}
}

// ShellCompiler writes a stand-in for g++ that turns a shell script into a
// "binary": the leading /* ... */ block is dropped and a shebang added.
// Sources containing COMPILE_ERROR fail to build.
func ShellCompiler(t testing.TB, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "fake-gxx")
	script := `#!/bin/sh
while [ $# -gt 0 ]; do
	if [ "$1" = "-o" ]; then out="$2"; shift; shift; continue; fi
	src="$1"; shift
done
if grep -q COMPILE_ERROR "$src"; then echo "error: 'x' was not declared" >&2; exit 1; fi
{ echo '#!/bin/sh'; sed '/^\/\*/,/^\*\//d' "$src"; } > "$out" && chmod +x "$out"
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}

// Sandbox builds a sandbox that compiles with ShellCompiler into cacheDir.
func Sandbox(t testing.TB, cacheDir string) *sandbox.Sandbox {
	t.Helper()
	sb, err := sandbox.New(sandbox.Config{
		Compiler: sandbox.CompilerConfig{
			Dir:      filepath.Join(cacheDir, "cpp_binaries"),
			Compiler: ShellCompiler(t, cacheDir),
			Timeout:  10 * time.Second,
		},
		PythonBin: "python3",
	}, logging.Discard())
	require.NoError(t, err)
	return sb
}

// ShellStandard is Standard with the solutions written as shell scripts
// behind a .cpp extension, for use with ShellCompiler.
func ShellStandard() Files {
	files := Standard()
	delete(files, "solutions/sum.py")
	delete(files, "solutions/small.py")
	files["solutions/sum.cpp"] = "read a b\necho $((a + b))\n"
	files["solutions/small.cpp"] = `/*
---
expectation:
- sample: AC
- setA: AC
- setB: WA
---
*/
read a b
if [ "$a" -lt 100 ]; then echo $((a + b)); else echo 0; fi
`
	return files
}
