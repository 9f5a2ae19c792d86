package sandbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/singleflight"
)

// CompileError carries the compiler's diagnostics for a failed build.
type CompileError struct {
	Source string
	Stderr string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compilation of %s failed: %s", filepath.Base(e.Source), e.Stderr)
}

type CompilerConfig struct {
	// Dir holds the cached binaries.
	Dir      string
	Compiler string
	Flags    []string
	Timeout  time.Duration
}

// Compiler builds C++ sources into a content-addressed cache. A binary is
// keyed by the source's resolved path, modification time and size, so an
// unchanged source never recompiles and a changed one gets a new binary.
// Diagnostics of a failed build are kept under the same key.
type Compiler struct {
	cfg    CompilerConfig
	runner *Runner
	log    *slog.Logger
	flight singleflight.Group
	// failures maps a binary path to the error its source failed with.
	failures *xsync.MapOf[string, *CompileError]
}

func NewCompiler(cfg CompilerConfig, runner *Runner, log *slog.Logger) (*Compiler, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create binary cache directory: %w", err)
	}
	return &Compiler{
		cfg:      cfg,
		runner:   runner,
		log:      log,
		failures: xsync.NewMapOf[string, *CompileError](),
	}, nil
}

// BinaryPath returns where the binary for source is (or would be) cached.
func (c *Compiler) BinaryPath(source string) (string, error) {
	resolved, err := filepath.Abs(source)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", source, err)
	}
	if r, err := filepath.EvalSymlinks(resolved); err == nil {
		resolved = r
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("failed to stat source: %w", err)
	}
	key := fmt.Sprintf("%s:%d:%d", resolved, info.ModTime().UnixNano(), info.Size())
	sum := sha256.Sum256([]byte(key))
	stem := strings.TrimSuffix(filepath.Base(resolved), filepath.Ext(resolved))
	return filepath.Join(c.cfg.Dir, stem+"_"+hex.EncodeToString(sum[:])[:16]), nil
}

// Compile returns the path of an up to date binary for source. Concurrent
// calls for the same key share a single compiler invocation, and a source
// that failed to compile is not retried until it changes.
func (c *Compiler) Compile(ctx context.Context, source string, extraFlags ...string) (string, error) {
	binary, err := c.BinaryPath(source)
	if err != nil {
		return "", err
	}
	if exists(binary) {
		return binary, nil
	}
	if cerr, ok := c.failures.Load(binary); ok {
		return "", cerr
	}

	_, err, _ = c.flight.Do(binary, func() (any, error) {
		if exists(binary) {
			return nil, nil
		}
		if cerr, ok := c.failures.Load(binary); ok {
			return nil, cerr
		}
		err := c.build(ctx, source, binary, extraFlags)
		var cerr *CompileError
		if errors.As(err, &cerr) && ctx.Err() == nil {
			c.failures.Store(binary, cerr)
		}
		return nil, err
	})
	if err != nil {
		return "", err
	}
	return binary, nil
}

func (c *Compiler) build(ctx context.Context, source string, binary string, extraFlags []string) error {
	abs, err := filepath.Abs(source)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", source, err)
	}
	// compile next to the final path and rename so no reader sees a partial binary
	tmp := binary + ".tmp-" + uuid.NewString()
	defer os.Remove(tmp)

	args := append([]string{}, c.cfg.Flags...)
	args = append(args, extraFlags...)
	args = append(args, "-o", tmp, abs)

	c.log.Info("compiling", "source", source, "binary", filepath.Base(binary))
	res, err := c.runner.Run(ctx, RunSpec{
		Argv:    append([]string{c.cfg.Compiler}, args...),
		Timeout: c.cfg.Timeout,
	})
	if err != nil {
		return fmt.Errorf("failed to run compiler: %w", err)
	}

	entry := CompileLog{
		Source:     abs,
		Binary:     binary,
		Compiler:   c.cfg.Compiler,
		Args:       args,
		ExitCode:   res.ExitCode,
		TimedOut:   res.TimedOut,
		Stderr:     res.Stderr,
		DurationMs: res.WallMillis(),
		FinishedAt: time.Now().UTC(),
	}
	if err := writeCompileLog(binary+logSuffix, entry); err != nil {
		c.log.Warn("failed to write compile log", "binary", binary, "error", err)
	}

	if res.TimedOut {
		return &CompileError{Source: source, Stderr: fmt.Sprintf("compilation timed out after %s", c.cfg.Timeout)}
	}
	if res.ExitCode != 0 {
		return &CompileError{Source: source, Stderr: res.Stderr}
	}
	if err := os.Rename(tmp, binary); err != nil {
		return fmt.Errorf("failed to store compiled binary: %w", err)
	}
	return nil
}

const logSuffix = ".log.json.zst"

// CompileLog is stored zstd-compressed next to every cached binary.
type CompileLog struct {
	Source     string    `json:"source"`
	Binary     string    `json:"binary"`
	Compiler   string    `json:"compiler"`
	Args       []string  `json:"args"`
	ExitCode   int       `json:"exit_code"`
	TimedOut   bool      `json:"timed_out"`
	Stderr     string    `json:"stderr"`
	DurationMs int64     `json:"duration_ms"`
	FinishedAt time.Time `json:"finished_at"`
}

func writeCompileLog(path string, entry CompileLog) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal compile log: %w", err)
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	defer enc.Close()
	return os.WriteFile(path, enc.EncodeAll(data, nil), 0644)
}

// ReadCompileLog decodes the log stored for binary.
func ReadCompileLog(binary string) (CompileLog, error) {
	var entry CompileLog
	data, err := os.ReadFile(binary + logSuffix)
	if err != nil {
		return entry, fmt.Errorf("failed to read compile log: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return entry, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	defer dec.Close()
	raw, err := dec.DecodeAll(data, nil)
	if err != nil {
		return entry, fmt.Errorf("failed to decompress compile log: %w", err)
	}
	if err := json.Unmarshal(raw, &entry); err != nil {
		return entry, fmt.Errorf("failed to parse compile log: %w", err)
	}
	return entry, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
