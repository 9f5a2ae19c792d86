package sandbox

import (
	"path/filepath"
	"strings"
)

type Language string

const (
	Python Language = "python"
	Cpp    Language = "cpp"
)

var extLanguages = map[string]Language{
	".py":  Python,
	".cpp": Cpp,
	".cc":  Cpp,
	".cxx": Cpp,
}

// LanguageOf infers the language from the file extension. ok is false for
// unsupported files.
func LanguageOf(path string) (lang Language, ok bool) {
	lang, ok = extLanguages[strings.ToLower(filepath.Ext(path))]
	return lang, ok
}

// Compiled reports whether sources in lang need a compile step.
func (l Language) Compiled() bool { return l == Cpp }
