package problem

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type MarkingStyle string

const (
	AllOrNothing MarkingStyle = "all_or_nothing"
	Progressive  MarkingStyle = "progressive"
)

type TestSetConfig struct {
	Name         string       `yaml:"name"`
	Description  string       `yaml:"description"`
	Points       float64      `yaml:"points"`
	MarkingStyle MarkingStyle `yaml:"marking_style"`
}

type TestSet struct {
	Name   string
	Config TestSetConfig
	Cases  []TestCase
}

// Sample sets carry no points.
func (ts TestSet) Sample() bool { return ts.Config.Points == 0 }

type TestCase struct {
	Name        string
	SetName     string
	Description string
	// InputPath is data/{set}/{name}.in under the problem directory.
	InputPath string
}

// LoadTestSets lists every directory under data/ in natural order. A set
// without config.yaml gets a zero-point all-or-nothing config.
func LoadTestSets(dir string) ([]TestSet, error) {
	dataDir := filepath.Join(dir, "data")
	entries, err := os.ReadDir(dataDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list test sets: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sortNatural(names)

	sets := make([]TestSet, 0, len(names))
	for _, name := range names {
		ts, err := LoadTestSet(dir, name)
		if err != nil {
			return nil, err
		}
		sets = append(sets, ts)
	}
	return sets, nil
}

func LoadTestSet(dir string, name string) (TestSet, error) {
	setDir := filepath.Join(dir, "data", name)
	ts := TestSet{
		Name:   name,
		Config: TestSetConfig{Name: name, MarkingStyle: AllOrNothing},
	}

	data, err := os.ReadFile(filepath.Join(setDir, "config.yaml"))
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &ts.Config); err != nil {
			return ts, fmt.Errorf("failed to parse config of test set %s: %w", name, err)
		}
		if ts.Config.Name == "" {
			ts.Config.Name = name
		}
		if ts.Config.MarkingStyle == "" {
			ts.Config.MarkingStyle = AllOrNothing
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return ts, fmt.Errorf("failed to read config of test set %s: %w", name, err)
	}

	entries, err := os.ReadDir(setDir)
	if err != nil {
		return ts, fmt.Errorf("failed to list test set %s: %w", name, err)
	}
	var stems []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".in" {
			stems = append(stems, strings.TrimSuffix(e.Name(), ".in"))
		}
	}
	sortNatural(stems)

	for _, stem := range stems {
		tc := TestCase{
			Name:      stem,
			SetName:   name,
			InputPath: filepath.Join(setDir, stem+".in"),
		}
		tc.Description, err = caseDescription(filepath.Join(setDir, stem+".yaml"))
		if err != nil {
			return ts, err
		}
		ts.Cases = append(ts.Cases, tc)
	}
	return ts, nil
}

func caseDescription(sidecar string) (string, error) {
	data, err := os.ReadFile(sidecar)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", sidecar, err)
	}
	var info struct {
		Description string `yaml:"description"`
	}
	// sidecars are written by generators; a malformed one only loses the description
	if yaml.Unmarshal(data, &info) != nil {
		return "", nil
	}
	return info.Description, nil
}

// Generator is a Python script under data/{set}/ that writes test cases.
type Generator struct {
	// Name is the path relative to the set directory.
	Name        string
	TestSet     string
	Path        string
	Description string
}

// LoadGenerators finds every .py file below data/, in natural order.
func LoadGenerators(dir string) ([]Generator, error) {
	dataDir := filepath.Join(dir, "data")
	var paths []string
	err := filepath.WalkDir(dataDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && filepath.Ext(path) == ".py" {
			rel, err := filepath.Rel(dataDir, path)
			if err != nil {
				return err
			}
			// generators live inside a set directory
			if strings.Contains(rel, string(filepath.Separator)) {
				paths = append(paths, rel)
			}
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find generators: %w", err)
	}
	sortNatural(paths)

	gens := make([]Generator, 0, len(paths))
	for _, rel := range paths {
		set, name, _ := strings.Cut(filepath.ToSlash(rel), "/")
		path := filepath.Join(dataDir, rel)
		fm, err := ParseFrontmatterFile(path)
		if err != nil {
			return nil, err
		}
		gens = append(gens, Generator{
			Name:        name,
			TestSet:     set,
			Path:        path,
			Description: fm.Description,
		})
	}
	return gens, nil
}
