package problem

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/programme-lv/probpipe/internal/sandbox"
)

// Validator is an input validator: it reads a test case on stdin and exits 0
// when the case is well formed.
type Validator struct {
	// Path is relative to validators/, e.g. "input/val.py".
	Path        string
	File        string
	Name        string
	Description string
	// Checks is nil when the validator applies to every set.
	Checks mapset.Set[string]
}

func (v Validator) AppliesTo(set string) bool {
	return v.Checks == nil || v.Checks.Contains(set)
}

type OutputKind string

const (
	KindChecker OutputKind = "checker"
	KindJudge   OutputKind = "judge"
)

type OutputValidator struct {
	Kind     OutputKind
	File     string
	Language sandbox.Language
}

func LoadValidators(dir string) ([]Validator, error) {
	root := filepath.Join(dir, "validators")
	files, err := filepath.Glob(filepath.Join(root, "input", "*.py"))
	if err != nil {
		return nil, fmt.Errorf("failed to find validators: %w", err)
	}
	sort.Strings(files)

	vals := make([]Validator, 0, len(files))
	for _, file := range files {
		rel, err := filepath.Rel(root, file)
		if err != nil {
			return nil, err
		}
		fm, err := ParseFrontmatterFile(file)
		if err != nil {
			return nil, err
		}
		v := Validator{
			Path:        filepath.ToSlash(rel),
			File:        file,
			Name:        fm.String("name", strings.TrimSuffix(filepath.Base(file), ".py")),
			Description: fm.Description,
		}
		if fm.Has("checks") {
			var checks []string
			if err := fm.Decode("checks", &checks); err != nil {
				return nil, fmt.Errorf("validator %s: %w", v.Path, err)
			}
			v.Checks = mapset.NewSet(checks...)
		}
		vals = append(vals, v)
	}
	return vals, nil
}

var outputCandidates = []struct {
	name string
	kind OutputKind
}{
	{"checker.py", KindChecker},
	{"checker.cpp", KindChecker},
	{"judge.py", KindJudge},
}

// LoadOutputValidator returns the first of checker.py, checker.cpp, judge.py
// found in validators/output, or nil.
func LoadOutputValidator(dir string) (*OutputValidator, error) {
	for _, c := range outputCandidates {
		file := filepath.Join(dir, "validators", "output", c.name)
		_, err := os.Stat(file)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", file, err)
		}
		return &OutputValidator{Kind: c.kind, File: file, Language: languageOf(file)}, nil
	}
	return nil, nil
}
