package problem

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

var commentDelims = map[string][2]string{
	".py":  {`"""`, `"""`},
	".cpp": {"/*", "*/"},
	".cc":  {"/*", "*/"},
	".cxx": {"/*", "*/"},
}

// Frontmatter is the metadata block at the top of a source file. Fields
// stay raw so each caller decodes the keys it cares about.
type Frontmatter struct {
	Fields      map[string]yaml.Node
	Description string
}

// Decode unmarshals key into out. Missing keys leave out untouched.
func (f Frontmatter) Decode(key string, out any) error {
	node, ok := f.Fields[key]
	if !ok {
		return nil
	}
	if err := node.Decode(out); err != nil {
		return fmt.Errorf("invalid frontmatter field %q: %w", key, err)
	}
	return nil
}

func (f Frontmatter) Has(key string) bool {
	_, ok := f.Fields[key]
	return ok
}

// String returns a scalar field or def.
func (f Frontmatter) String(key string, def string) string {
	var s string
	if err := f.Decode(key, &s); err != nil || s == "" {
		return def
	}
	return s
}

// ParseFrontmatterFile reads the top-level comment of path: """...""" for
// Python, /*...*/ for C++. Inside it, a ---...--- block is parsed as YAML and
// any prose after it becomes the description. A comment without such a
// block is all description.
func ParseFrontmatterFile(path string) (Frontmatter, error) {
	delims, ok := commentDelims[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return Frontmatter{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Frontmatter{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	fm, err := ParseFrontmatter(string(data), delims[0], delims[1])
	if err != nil {
		return Frontmatter{}, fmt.Errorf("failed to parse frontmatter of %s: %w", path, err)
	}
	return fm, nil
}

func ParseFrontmatter(text string, open string, close string) (Frontmatter, error) {
	if !strings.HasPrefix(text, open) {
		return Frontmatter{}, nil
	}
	end := strings.Index(text[len(open):], close)
	if end < 0 {
		return Frontmatter{}, nil
	}
	inner := strings.TrimSpace(text[len(open) : len(open)+end])

	if !strings.HasPrefix(inner, "---") {
		return Frontmatter{Description: inner}, nil
	}
	rest := inner[3:]
	blockEnd := strings.Index(rest, "---")
	if blockEnd < 0 {
		return Frontmatter{Description: inner}, nil
	}

	fm := Frontmatter{Fields: map[string]yaml.Node{}}
	if block := strings.TrimSpace(rest[:blockEnd]); block != "" {
		var fields map[string]yaml.Node
		if err := yaml.Unmarshal([]byte(block), &fields); err != nil {
			return Frontmatter{}, err
		}
		fm.Fields = fields
	}
	if prose := strings.TrimSpace(rest[blockEnd+3:]); prose != "" {
		fm.Description = prose
	} else {
		fm.Description = fm.String("description", "")
	}
	return fm, nil
}
