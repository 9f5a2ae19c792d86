// Package problem reads a problem directory from disk:
//
//	{slug}/config.yaml
//	{slug}/data/{set}/config.yaml, *.in, *.yaml sidecars, generator *.py
//	{slug}/solutions/**/*.{py,cpp,cc,cxx}
//	{slug}/validators/input/*.py
//	{slug}/validators/output/{checker.py,checker.cpp,judge.py}
//
// It never writes anything.
package problem

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/programme-lv/probpipe/internal/sandbox"
	"gopkg.in/yaml.v3"
)

var ErrProblemNotFound = errors.New("problem not found")

type Type string

const (
	Standard    Type = "standard"
	Interactive Type = "interactive"
)

type Limits struct {
	// Time is the wall-clock limit per test case in seconds.
	Time float64 `yaml:"time"`
	// Memory is informational only (KiB); it is not enforced.
	Memory int64 `yaml:"memory"`
}

type Config struct {
	Name       string   `yaml:"name"`
	Type       Type     `yaml:"type"`
	Tags       []string `yaml:"tags"`
	Difficulty *int     `yaml:"difficulty"`
	Limits     Limits   `yaml:"limits"`
}

type Problem struct {
	Slug       string
	Dir        string
	Config     Config
	TestSets   []TestSet
	Solutions  []Solution
	Validators []Validator
	// Output is nil when the problem has no checker or judge.
	Output     *OutputValidator
	Generators []Generator
}

func (p *Problem) Interactive() bool { return p.Config.Type == Interactive }

// TestSet returns the set named name.
func (p *Problem) TestSet(name string) (TestSet, bool) {
	for _, ts := range p.TestSets {
		if ts.Name == name {
			return ts, true
		}
	}
	return TestSet{}, false
}

// Solution returns the solution at path (relative to solutions/).
func (p *Problem) Solution(path string) (Solution, bool) {
	for _, s := range p.Solutions {
		if s.Path == path {
			return s, true
		}
	}
	return Solution{}, false
}

// Load reads everything under problemsRoot/slug.
func Load(problemsRoot string, slug string) (*Problem, error) {
	if slug == "" || slug != filepath.Base(slug) || slug == "." || slug == ".." {
		return nil, fmt.Errorf("%w: invalid slug %q", ErrProblemNotFound, slug)
	}
	dir := filepath.Join(problemsRoot, slug)
	cfg, err := LoadConfig(dir)
	if err != nil {
		return nil, err
	}

	p := &Problem{Slug: slug, Dir: dir, Config: cfg}
	if p.TestSets, err = LoadTestSets(dir); err != nil {
		return nil, err
	}
	if p.Solutions, err = LoadSolutions(dir); err != nil {
		return nil, err
	}
	if p.Validators, err = LoadValidators(dir); err != nil {
		return nil, err
	}
	if p.Output, err = LoadOutputValidator(dir); err != nil {
		return nil, err
	}
	if p.Generators, err = LoadGenerators(dir); err != nil {
		return nil, err
	}
	return p, nil
}

func LoadConfig(dir string) (Config, error) {
	cfg := Config{Type: Standard, Limits: Limits{Time: 1}}
	data, err := os.ReadFile(filepath.Join(dir, "config.yaml"))
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("%w: no config.yaml in %s", ErrProblemNotFound, dir)
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to read problem config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse problem config: %w", err)
	}
	if cfg.Type == "" {
		cfg.Type = Standard
	}
	if cfg.Limits.Time <= 0 {
		cfg.Limits.Time = 1
	}
	return cfg, nil
}

func languageOf(path string) sandbox.Language {
	lang, _ := sandbox.LanguageOf(path)
	return lang
}
