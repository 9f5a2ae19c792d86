// Package behave turns judging scenarios written in TOML into problem
// directories, so verdict behaviour can be described as data.
package behave

import (
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/programme-lv/probpipe/api"
	"github.com/programme-lv/probpipe/internal/problem/problemtest"
)

// TestSetName is the single test set every scenario is laid out in.
const TestSetName = "tests"

// SpecSource is a program inside a scenario.
type SpecSource struct {
	File string `toml:"file"`
	Code string `toml:"code"`
}

type SpecTest struct {
	In string `toml:"in"`
}

type SpecExpect struct {
	Verdicts []string `toml:"verdicts"`
	// Comments, when given, must prefix the matching verdict's comment.
	Comments []string `toml:"comments"`
}

type specScenario struct {
	Description string      `toml:"description"`
	TimeLimit   float64     `toml:"time_limit"`
	Interactive bool        `toml:"interactive"`
	Checker     *SpecSource `toml:"checker"`
	Reference   SpecSource  `toml:"reference"`
	Candidate   SpecSource  `toml:"candidate"`
	Tests       []SpecTest  `toml:"tests"`
	Expect      SpecExpect  `toml:"expect"`
	Points      float64     `toml:"points"`
}

type specRoot struct {
	Scenarios []specScenario `toml:"scenarios"`
}

// Case is a runnable scenario.
type Case struct {
	Name string
	// Files is the problem directory of the scenario.
	Files problemtest.Files
	// Candidate is the solution path to judge.
	Candidate string
	// Cases lists the test case names in judging order.
	Cases    []string
	Verdicts []api.VerdictCode
	Comments []string
}

// Parse reads a behaviour file.
func Parse(file string) ([]Case, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read behaviour file: %w", err)
	}
	var root specRoot
	if err := toml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}

	cases := make([]Case, 0, len(root.Scenarios))
	for _, sc := range root.Scenarios {
		c, err := build(sc)
		if err != nil {
			return nil, fmt.Errorf("scenario %q: %w", sc.Description, err)
		}
		cases = append(cases, c)
	}
	return cases, nil
}

func build(sc specScenario) (Case, error) {
	if sc.Candidate.File == "" || sc.Candidate.Code == "" {
		return Case{}, fmt.Errorf("candidate needs file and code")
	}
	if !sc.Interactive && sc.Reference.File == "" {
		return Case{}, fmt.Errorf("reference is required for standard problems")
	}
	if sc.Interactive && sc.Checker == nil {
		return Case{}, fmt.Errorf("interactive scenarios need a judge in checker")
	}
	if len(sc.Expect.Verdicts) != len(sc.Tests) {
		return Case{}, fmt.Errorf("%d tests but %d expected verdicts", len(sc.Tests), len(sc.Expect.Verdicts))
	}
	if len(sc.Expect.Comments) > len(sc.Tests) {
		return Case{}, fmt.Errorf("more expected comments than tests")
	}

	timeLimit := sc.TimeLimit
	if timeLimit == 0 {
		timeLimit = 1
	}
	typ := "standard"
	if sc.Interactive {
		typ = "interactive"
	}
	files := problemtest.Files{
		"config.yaml": fmt.Sprintf("name: %q\ntype: %s\nlimits:\n  time: %g\n", sc.Description, typ, timeLimit),
	}
	if sc.Points > 0 {
		files["data/"+TestSetName+"/config.yaml"] = fmt.Sprintf("points: %g\n", sc.Points)
	}

	c := Case{Name: sc.Description, Files: files}
	for i, t := range sc.Tests {
		name := fmt.Sprintf("%02d", i+1)
		files["data/"+TestSetName+"/"+name+".in"] = t.In
		c.Cases = append(c.Cases, name)
		c.Verdicts = append(c.Verdicts, api.VerdictCode(strings.ToUpper(sc.Expect.Verdicts[i])))
	}
	c.Comments = sc.Expect.Comments

	if sc.Reference.File != "" {
		files["solutions/"+sc.Reference.File] = sc.Reference.Code
	}
	candidate, err := withExpectation(sc.Candidate)
	if err != nil {
		return Case{}, err
	}
	c.Candidate = "candidate/" + sc.Candidate.File
	files["solutions/"+c.Candidate] = candidate

	if sc.Checker != nil {
		switch sc.Checker.File {
		case "checker.py", "checker.cpp", "judge.py":
			files["output/"+sc.Checker.File] = sc.Checker.Code
		default:
			return Case{}, fmt.Errorf("unsupported output validator %q", sc.Checker.File)
		}
	}
	return c, nil
}

// withExpectation gives the candidate a per-set expectation, which keeps it
// from ever being picked as the reference.
func withExpectation(src SpecSource) (string, error) {
	block := "---\nexpectation:\n  " + TestSetName + ": AC\n---\n"
	switch path.Ext(src.File) {
	case ".cpp":
		return "/*\n" + block + "*/\n" + src.Code, nil
	case ".py":
		return "\"\"\"\n" + block + "\"\"\"\n" + src.Code, nil
	default:
		return "", fmt.Errorf("unsupported candidate language %q", src.File)
	}
}
