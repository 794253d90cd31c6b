package codescan

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"schema-doctor/cache"
	"schema-doctor/config"
	"schema-doctor/internal/gitignore"
	"schema-doctor/internal/issue"
)

// QueryType classifies a discovered data-access statement
type QueryType string

const (
	QuerySelect QueryType = "SELECT"
	QueryInsert QueryType = "INSERT"
	QueryUpdate QueryType = "UPDATE"
	QueryDelete QueryType = "DELETE"
	QueryOther  QueryType = "OTHER"
)

// QueryPattern records one data-access call site: which table and columns it
// touches and the raw query text for pattern checks.
type QueryPattern struct {
	File      string            `json:"file"`
	Line      int               `json:"line"`
	QueryType QueryType         `json:"query_type"`
	Table     string            `json:"table"`
	Columns   map[string]string `json:"columns"` // column name -> inferred type ("" when unknown)
	Query     string            `json:"query"`
}

// Scanner walks the source corpus and extracts query patterns per table. The
// pattern map is the side channel the issue detector consumes.
type Scanner struct {
	cfg      *config.Config
	inferrer *Inferrer
	cache    *cache.Cache
	logger   *zap.Logger

	patterns map[string][]QueryPattern
}

// NewScanner creates a code pattern scanner rooted at the configured project path.
func NewScanner(cfg *config.Config, logger *zap.Logger) *Scanner {
	return &Scanner{
		cfg:      cfg,
		inferrer: NewInferrer(cfg.Heuristics),
		cache:    cache.New(cfg),
		logger:   logger.Named("code-scanner"),
		patterns: make(map[string][]QueryPattern),
	}
}

// skippedDirs are build outputs, dependency trees and VCS metadata that never
// contain first-party data-access code.
var skippedDirs = []string{
	"node_modules", "vendor", "target", "build", "dist", "out", "bin",
	".next", ".nuxt", "__pycache__", ".pytest_cache", "coverage",
	".git", ".svn", ".hg", ".idea", ".vscode",
	"logs", "tmp", "temp", ".cache",
}

// supportedExtensions lists the file types the analyzer understands. Go files
// go through the structural parser first; everything else is regex-only.
var supportedExtensions = map[string]bool{
	".go": true,
	".py": true,
	".js": true,
	".ts": true,
}

// AnalyzeCodebase walks the corpus, populates the per-table pattern map, and
// returns the issues the analyzer itself can raise (inline type casts).
// Single-file failures never abort the walk.
func (s *Scanner) AnalyzeCodebase() ([]issue.Issue, error) {
	root := s.cfg.CodeScan.ProjectRoot
	if _, err := os.Stat(root); err != nil {
		return nil, fmt.Errorf("project root %s is not accessible: %w", root, err)
	}

	ignores := gitignore.New()
	ignores.LoadDefault()
	if err := ignores.LoadFromFile(filepath.Join(root, ".gitignore")); err != nil {
		s.logger.Warn("failed to load .gitignore", zap.Error(err))
	}

	s.patterns = make(map[string][]QueryPattern)
	var issues []issue.Issue
	maxSize := int64(s.cfg.CodeScan.MaxFileSizeMB) * 1024 * 1024
	filesScanned := 0

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Skip files/directories we can't read
			return nil
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil || relPath == "." {
			return nil
		}

		if d.IsDir() {
			if isSkippedDir(filepath.ToSlash(relPath)) || ignores.IsIgnored(filepath.ToSlash(relPath), true) {
				return fs.SkipDir
			}
			return nil
		}

		ext := strings.ToLower(filepath.Ext(path))
		if !supportedExtensions[ext] || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		if ignores.IsIgnored(filepath.ToSlash(relPath), false) {
			return nil
		}

		info, err := d.Info()
		if err != nil || info.Size() > maxSize {
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn("failed to read source file", zap.String("file", relPath), zap.Error(err))
			return nil
		}

		var sites []CallSite
		if !s.cache.Get(relPath, string(content), &sites) {
			sites = s.extractCallSites(relPath, ext, content)
			if err := s.cache.Set(relPath, string(content), sites); err != nil {
				s.logger.Debug("cache write failed", zap.String("file", relPath), zap.Error(err))
			}
		}
		filesScanned++

		for _, site := range sites {
			pattern := s.buildPattern(relPath, site)
			if pattern.Table != "" {
				s.patterns[pattern.Table] = append(s.patterns[pattern.Table], pattern)
			}
			issues = append(issues, s.castIssues(relPath, site)...)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk project root: %w", err)
	}

	s.logger.Info("codebase scan complete",
		zap.Int("files", filesScanned),
		zap.Int("tables_referenced", len(s.patterns)),
		zap.Int("cast_issues", len(issues)))

	return issues, nil
}

// Patterns returns the query patterns discovered by the last AnalyzeCodebase
// call, grouped by target table.
func (s *Scanner) Patterns() map[string][]QueryPattern {
	return s.patterns
}

// TablesReferenced returns the sorted list of tables the corpus touches.
func (s *Scanner) TablesReferenced() []string {
	tables := make([]string, 0, len(s.patterns))
	for table := range s.patterns {
		tables = append(tables, table)
	}
	sort.Strings(tables)
	return tables
}

func isSkippedDir(relPath string) bool {
	base := strings.ToLower(filepath.Base(relPath))
	for _, skip := range skippedDirs {
		if base == skip {
			return true
		}
	}
	return false
}

// buildPattern turns a raw call site into a QueryPattern with inferred
// column types attached.
func (s *Scanner) buildPattern(file string, site CallSite) QueryPattern {
	parsed := ParseQuery(site.Query)

	columns := make(map[string]string, len(parsed.Columns))
	for col, hint := range parsed.Columns {
		columns[col] = s.inferrer.InferColumnType(col, hint)
	}

	return QueryPattern{
		File:      file,
		Line:      site.Line,
		QueryType: parsed.Type,
		Table:     parsed.Table,
		Columns:   columns,
		Query:     site.Query,
	}
}

// castIssues flags inline ::type casts on user_id-shaped columns, the
// signature of a type mismatch being papered over at the call site.
func (s *Scanner) castIssues(file string, site CallSite) []issue.Issue {
	casts := FindUserIDCasts(site.Query)
	if len(casts) == 0 {
		return nil
	}

	parsed := ParseQuery(site.Query)
	var issues []issue.Issue
	for _, cast := range casts {
		issues = append(issues, issue.Issue{
			Type:          issue.TypeCastInQuery,
			Severity:      issue.Medium,
			Table:         parsed.Table,
			Column:        cast.Column,
			CurrentState:  fmt.Sprintf("query casts %s to %s inline", cast.Column, cast.TargetType),
			ExpectedState: fmt.Sprintf("column %s stored with matching type, no cast needed", cast.Column),
			AffectedFiles: []string{file},
			Queries:       []string{site.Query},
			CreatedAt:     time.Now(),
			CodeEdits: []issue.CodeEdit{{
				File:        file,
				Line:        site.Line,
				Description: fmt.Sprintf("remove the ::%s cast once the column type is corrected", cast.TargetType),
			}},
		})
	}
	return issues
}
