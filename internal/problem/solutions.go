package problem

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/programme-lv/probpipe/api"
	"github.com/programme-lv/probpipe/internal/sandbox"
	"gopkg.in/yaml.v3"
)

type Solution struct {
	// Path is relative to solutions/ and always uses forward slashes.
	Path        string
	File        string
	Language    sandbox.Language
	Name        string
	Expectation Expectation
	Description string
}

type setExpectation struct {
	set     string
	verdict api.VerdictCode
}

// Expectation is either one verdict for the whole solution or a verdict per
// test set. Per-set expectations keep their declared order; sets that are not
// listed have no expectation.
type Expectation struct {
	scalar api.VerdictCode
	perSet []setExpectation
}

func ExpectVerdict(v api.VerdictCode) Expectation { return Expectation{scalar: v} }

// ExpectPerSet builds a per-set expectation from alternating set, verdict pairs.
func ExpectPerSet(pairs ...string) Expectation {
	var e Expectation
	for i := 0; i+1 < len(pairs); i += 2 {
		e.perSet = append(e.perSet, setExpectation{pairs[i], api.VerdictCode(pairs[i+1])})
	}
	return e
}

// Scalar returns the single expected verdict, if the expectation is not per set.
func (e Expectation) Scalar() (api.VerdictCode, bool) {
	if e.perSet != nil {
		return "", false
	}
	if e.scalar == "" {
		return api.AC, true
	}
	return e.scalar, true
}

// For returns the expected verdict on set. ok is false when a per-set
// expectation does not mention it.
func (e Expectation) For(set string) (api.VerdictCode, bool) {
	if v, ok := e.Scalar(); ok {
		return v, true
	}
	for _, se := range e.perSet {
		if se.set == set {
			return se.verdict, true
		}
	}
	return "", false
}

// Overall is the first non-AC expectation in declared order, or AC.
func (e Expectation) Overall() api.VerdictCode {
	if v, ok := e.Scalar(); ok {
		return v
	}
	for _, se := range e.perSet {
		if se.verdict != api.AC {
			return se.verdict
		}
	}
	return api.AC
}

// Sets lists the sets of a per-set expectation in declared order.
func (e Expectation) Sets() []string {
	sets := make([]string, 0, len(e.perSet))
	for _, se := range e.perSet {
		sets = append(sets, se.set)
	}
	return sets
}

func (e Expectation) String() string {
	if v, ok := e.Scalar(); ok {
		return string(v)
	}
	parts := make([]string, 0, len(e.perSet))
	for _, se := range e.perSet {
		parts = append(parts, se.set+": "+string(se.verdict))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// UnmarshalYAML accepts "WA", {setA: AC, setB: WA} and [{setA: AC}, {setB: WA}].
func (e *Expectation) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*e = Expectation{scalar: api.VerdictCode(strings.ToUpper(strings.TrimSpace(node.Value)))}
		return nil
	case yaml.MappingNode:
		out := Expectation{perSet: []setExpectation{}}
		if err := appendPairs(&out, node); err != nil {
			return err
		}
		*e = out
		return nil
	case yaml.SequenceNode:
		out := Expectation{perSet: []setExpectation{}}
		for _, item := range node.Content {
			if item.Kind != yaml.MappingNode {
				return fmt.Errorf("line %d: expectation list items must be set: verdict maps", item.Line)
			}
			if err := appendPairs(&out, item); err != nil {
				return err
			}
		}
		*e = out
		return nil
	}
	return fmt.Errorf("line %d: unsupported expectation", node.Line)
}

func appendPairs(e *Expectation, m *yaml.Node) error {
	for i := 0; i+1 < len(m.Content); i += 2 {
		k, v := m.Content[i], m.Content[i+1]
		if v.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: verdict for set %q must be a string", v.Line, k.Value)
		}
		e.perSet = append(e.perSet, setExpectation{
			set:     k.Value,
			verdict: api.VerdictCode(strings.ToUpper(strings.TrimSpace(v.Value))),
		})
	}
	return nil
}

// LoadSolutions finds every supported source file under solutions/, sorted
// by path. Frontmatter supplies name, expectation and description.
func LoadSolutions(dir string) ([]Solution, error) {
	root := filepath.Join(dir, "solutions")
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if _, ok := sandbox.LanguageOf(path); ok && !d.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find solutions: %w", err)
	}
	sort.Strings(files)

	sols := make([]Solution, 0, len(files))
	for _, file := range files {
		rel, err := filepath.Rel(root, file)
		if err != nil {
			return nil, err
		}
		fm, err := ParseFrontmatterFile(file)
		if err != nil {
			return nil, err
		}
		stem := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
		sol := Solution{
			Path:        filepath.ToSlash(rel),
			File:        file,
			Language:    languageOf(file),
			Name:        fm.String("name", stem),
			Expectation: ExpectVerdict(api.AC),
			Description: fm.Description,
		}
		if err := fm.Decode("expectation", &sol.Expectation); err != nil {
			return nil, fmt.Errorf("solution %s: %w", sol.Path, err)
		}
		sols = append(sols, sol)
	}
	return sols, nil
}
