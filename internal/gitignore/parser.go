package gitignore

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// GitIgnore matches paths against .gitignore-style patterns. The code
// scanner uses it so that files the project itself ignores never feed the
// schema inference.
type GitIgnore struct {
	patterns []pattern
}

type pattern struct {
	regex    *regexp.Regexp
	negate   bool
	dirOnly  bool
	absolute bool
}

func New() *GitIgnore {
	return &GitIgnore{}
}

// LoadFromFile reads patterns from a .gitignore file. A missing file is not
// an error.
func (g *GitIgnore) LoadFromFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		// Invalid patterns are skipped rather than aborting the load.
		_ = g.AddPattern(strings.TrimSpace(scanner.Text()))
	}
	return scanner.Err()
}

// AddPattern adds a single gitignore pattern. Empty lines and comments are
// ignored.
func (g *GitIgnore) AddPattern(line string) error {
	if line == "" || strings.HasPrefix(line, "#") {
		return nil
	}

	var p pattern
	if strings.HasPrefix(line, "!") {
		p.negate = true
		line = line[1:]
	}
	if strings.HasSuffix(line, "/") {
		p.dirOnly = true
		line = strings.TrimSuffix(line, "/")
	}
	if strings.HasPrefix(line, "/") {
		p.absolute = true
		line = line[1:]
	}

	regex, err := regexp.Compile(convertToRegex(line))
	if err != nil {
		return err
	}
	p.regex = regex
	g.patterns = append(g.patterns, p)
	return nil
}

// IsIgnored reports whether a slash-separated relative path matches the
// loaded patterns. Later patterns win, so negations behave like git's.
func (g *GitIgnore) IsIgnored(filePath string, isDir bool) bool {
	filePath = filepath.ToSlash(filePath)

	ignored := false
	for _, p := range g.patterns {
		if p.matches(filePath, isDir) {
			ignored = !p.negate
		}
	}
	return ignored
}

func (p pattern) matches(filePath string, isDir bool) bool {
	if p.dirOnly && !isDir {
		return false
	}
	if p.absolute {
		return p.regex.MatchString(filePath)
	}
	return p.regex.MatchString(filepath.Base(filePath)) || p.regex.MatchString(filePath)
}

func convertToRegex(pattern string) string {
	pattern = regexp.QuoteMeta(pattern)
	pattern = strings.ReplaceAll(pattern, `\*\*`, ".*")
	pattern = strings.ReplaceAll(pattern, `\*`, "[^/]*")
	pattern = strings.ReplaceAll(pattern, `\?`, ".")
	return "^" + pattern + "$"
}

// LoadDefault adds ignore patterns that apply to every scan regardless of
// the project's own .gitignore.
func (g *GitIgnore) LoadDefault() {
	defaults := []string{
		".git/",
		".svn/",
		".hg/",
		".vscode/",
		".idea/",
		"*.swp",
		".DS_Store",
		"node_modules/",
		"vendor/",
		"build/",
		"dist/",
		"target/",
		"*.log",
		"*.tmp",
		".cache/",
		"*.min.js",
	}
	for _, p := range defaults {
		_ = g.AddPattern(p)
	}
}
