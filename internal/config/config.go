package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/programme-lv/probpipe/internal/xdg"
)

const appName = "probpipe"

// Config is built once at startup and handed to every component that needs it.
type Config struct {
	ProblemsRoot string `toml:"problems_root"`
	CacheRoot    string `toml:"cache_root"`
	LogLevel     string `toml:"log_level"`

	Cpp    CppConfig    `toml:"cpp"`
	Python PythonConfig `toml:"python"`
	Exec   ExecConfig   `toml:"exec"`
	Server ServerConfig `toml:"server"`
	Nats   NatsConfig   `toml:"nats"`
	Sqs    SqsConfig    `toml:"sqs"`
}

type CppConfig struct {
	Compiler          string   `toml:"compiler"`
	Flags             []string `toml:"flags"`
	CompileTimeoutSec int      `toml:"compile_timeout_sec"`
}

type PythonConfig struct {
	Bin string `toml:"bin"`
	// LibRoot is appended to PYTHONPATH so generators can import helper libraries.
	LibRoot string `toml:"lib_root"`
}

type ExecConfig struct {
	Workers             int     `toml:"workers"`
	FlushIntervalMs     int     `toml:"flush_interval_ms"`
	ValidatorTimeoutSec float64 `toml:"validator_timeout_sec"`
	CheckerTimeoutSec   float64 `toml:"checker_timeout_sec"`
	GeneratorTimeoutSec float64 `toml:"generator_timeout_sec"`
	QueueSize           int     `toml:"queue_size"`
	// AnswerCacheMB bounds the in-memory cache of reference outputs.
	AnswerCacheMB int `toml:"answer_cache_mb"`
}

type ServerConfig struct {
	Listen string `toml:"listen"`
}

type NatsConfig struct {
	URL           string `toml:"url"`
	SubjectPrefix string `toml:"subject_prefix"`
}

type SqsConfig struct {
	QueueURL string `toml:"queue_url"`
	Region   string `toml:"region"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	dirs := xdg.NewDirs()
	return &Config{
		ProblemsRoot: "problems",
		CacheRoot:    dirs.AppCacheDir(appName),
		LogLevel:     "info",
		Cpp: CppConfig{
			Compiler:          "g++",
			Flags:             []string{"-O2", "-std=c++17", "-Wall"},
			CompileTimeoutSec: 30,
		},
		Python: PythonConfig{
			Bin: "python3",
		},
		Exec: ExecConfig{
			Workers:             runtime.NumCPU(),
			FlushIntervalMs:     500,
			ValidatorTimeoutSec: 10,
			CheckerTimeoutSec:   10,
			GeneratorTimeoutSec: 300,
			QueueSize:           64,
			AnswerCacheMB:       256,
		},
		Server: ServerConfig{
			Listen: ":8080",
		},
		Nats: NatsConfig{
			SubjectPrefix: "probpipe.jobs",
		},
		Sqs: SqsConfig{
			Region: "eu-central-1",
		},
	}
}

// Load reads the TOML file at path (or the XDG default when path is empty
// and the file exists), then applies .env and environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = xdg.NewDirs().AppConfigFile(appName, "config.toml")
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	err = godotenv.Load()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setStr := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setStr(&c.ProblemsRoot, "PROBLEMS_ROOT")
	setStr(&c.CacheRoot, "CACHE_ROOT")
	setStr(&c.LogLevel, "LOG_LEVEL")
	setStr(&c.Python.Bin, "PROBPIPE_PYTHON")
	setStr(&c.Python.LibRoot, "PROBPIPE_PYTHON_LIB")
	setStr(&c.Server.Listen, "PROBPIPE_LISTEN")
	setStr(&c.Nats.URL, "NATS_URL")
	setStr(&c.Sqs.QueueURL, "SQS_QUEUE_URL")
	setStr(&c.Sqs.Region, "AWS_REGION")

	if v := os.Getenv("PROBPIPE_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("failed to parse PROBPIPE_WORKERS %q: %w", v, err)
		}
		c.Exec.Workers = n
	}
	return nil
}

// Validate rejects values the pipeline cannot work with.
func (c *Config) Validate() error {
	if c.CacheRoot == "" {
		return fmt.Errorf("cache_root must not be empty")
	}
	if c.ProblemsRoot == "" {
		return fmt.Errorf("problems_root must not be empty")
	}
	if c.Exec.Workers < 1 {
		return fmt.Errorf("exec.workers must be positive, got %d", c.Exec.Workers)
	}
	if c.Exec.FlushIntervalMs < 0 {
		return fmt.Errorf("exec.flush_interval_ms must not be negative")
	}
	return nil
}

func (c *Config) JobsDir() string { return filepath.Join(c.CacheRoot, "jobs") }

func (c *Config) BinariesDir() string { return filepath.Join(c.CacheRoot, "cpp_binaries") }

func (c *Config) ProblemDir(slug string) string { return filepath.Join(c.ProblemsRoot, slug) }

func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.Exec.FlushIntervalMs) * time.Millisecond
}

func (c *Config) CompileTimeout() time.Duration {
	return time.Duration(c.Cpp.CompileTimeoutSec) * time.Second
}

// Seconds converts a fractional number of seconds from the config into a duration.
func Seconds(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}
