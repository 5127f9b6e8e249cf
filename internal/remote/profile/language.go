// Package profile maps internal language ids to the tokens the remote
// execution service understands.
package profile

import (
	"path/filepath"
	"sort"
	"strings"

	appErr "runbox/pkg/errors"
)

// serviceTokens is the fixed table of internal ids to service language
// tokens. The token is what travels in the "lang" wire field.
var serviceTokens = map[string]string{
	"bash":       "bash",
	"c":          "c",
	"cpp":        "cpp17",
	"csharp":     "csharp",
	"go":         "go",
	"haskell":    "ghc",
	"java":       "java",
	"javascript": "node",
	"kotlin":     "kotlin",
	"lua":        "lua",
	"pascal":     "fpc",
	"perl":       "perl",
	"php":        "php",
	"python":     "python3",
	"python2":    "python",
	"r":          "r",
	"ruby":       "ruby",
	"rust":       "rust",
	"swift":      "swift",
}

// aliases accepts common spellings for the ids above.
var aliases = map[string]string{
	"c++":    "cpp",
	"cc":     "cpp",
	"cs":     "csharp",
	"golang": "go",
	"hs":     "haskell",
	"js":     "javascript",
	"node":   "javascript",
	"pl":     "perl",
	"py":     "python",
	"py2":    "python2",
	"rb":     "ruby",
	"rs":     "rust",
	"sh":     "bash",
}

// extensions maps source file extensions to internal ids for callers
// that only know a file name.
var extensions = map[string]string{
	".c":     "c",
	".cc":    "cpp",
	".cpp":   "cpp",
	".cxx":   "cpp",
	".cs":    "csharp",
	".go":    "go",
	".hs":    "haskell",
	".java":  "java",
	".js":    "javascript",
	".kt":    "kotlin",
	".lua":   "lua",
	".pas":   "pascal",
	".php":   "php",
	".pl":    "perl",
	".py":    "python",
	".r":     "r",
	".rb":    "ruby",
	".rs":    "rust",
	".sh":    "bash",
	".swift": "swift",
}

// Normalize lowercases an id and resolves aliases. The result is not
// guaranteed to be supported.
func Normalize(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	if canonical, ok := aliases[id]; ok {
		return canonical
	}
	return id
}

// Token translates an internal language id to the service token.
// Unknown ids fail with LanguageNotSupported.
func Token(id string) (string, error) {
	token, ok := serviceTokens[Normalize(id)]
	if !ok {
		return "", appErr.Newf(appErr.LanguageNotSupported, "no service token for language %q", id)
	}
	return token, nil
}

// Supported returns the sorted list of internal language ids.
func Supported() []string {
	ids := make([]string, 0, len(serviceTokens))
	for id := range serviceTokens {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// FromExtension guesses the internal id from a source file name.
func FromExtension(path string) (string, bool) {
	id, ok := extensions[strings.ToLower(filepath.Ext(path))]
	return id, ok
}
