// Package scan walks a repository snapshot, filters to the supported
// languages, and produces the file-record set and per-language
// aggregates (spec.md §4.2).
package scan

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// defaultExcerptChars bounds the content excerpt kept per file.
const defaultExcerptChars = 1400

var extensionLanguage = map[string]string{
	".py":   "python",
	".js":   "javascript",
	".jsx":  "javascript",
	".ts":   "typescript",
	".tsx":  "typescript",
}

// File is one file record (spec.md §3 "File record").
type File struct {
	Path     string // repo-relative, forward-slash
	Ext      string
	Language string
	Lines    int // non-empty-line count (spec.md §9 Open Question 1)
	Excerpt  string
}

// Options configures the scan.
type Options struct {
	SupportedExts   []string
	ExcludeDirs     []string
	MaxExcerptChars int
}

// DefaultOptions returns the spec-pinned defaults.
func DefaultOptions() Options {
	return Options{
		SupportedExts:   []string{".py", ".js", ".jsx", ".ts", ".tsx"},
		ExcludeDirs:     []string{".git", "node_modules", "vendor", "__pycache__", ".venv", "venv", "dist", "build", "target"},
		MaxExcerptChars: defaultExcerptChars,
	}
}

// Scanner walks a repository root, grounded on pkg/index/walker.go's
// filepath.WalkDir traversal and hidden/dependency-directory skip list.
type Scanner struct {
	opts Options
}

// NewScanner builds a Scanner.
func NewScanner(opts Options) *Scanner {
	if opts.MaxExcerptChars <= 0 {
		opts.MaxExcerptChars = defaultExcerptChars
	}
	return &Scanner{opts: opts}
}

// Scan walks root and returns the fixed file-record set, sorted by path
// for deterministic downstream processing.
func (s *Scanner) Scan(ctx context.Context, root string) ([]File, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	exclude := make(map[string]struct{}, len(s.opts.ExcludeDirs))
	for _, d := range s.opts.ExcludeDirs {
		exclude[d] = struct{}{}
	}

	var files []File

	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if d.IsDir() {
			name := d.Name()
			if path != absRoot && (strings.HasPrefix(name, ".") || isExcludedDir(name, exclude)) {
				return filepath.SkipDir
			}
			return nil
		}

		ext := strings.ToLower(filepath.Ext(path))
		lang, ok := extensionLanguage[ext]
		if !ok || !supported(ext, s.opts.SupportedExts) {
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		if isBinary(content) {
			return nil
		}

		rel, err := filepath.Rel(absRoot, path)
		if err != nil {
			return nil
		}

		files = append(files, File{
			Path:     filepath.ToSlash(rel),
			Ext:      ext,
			Language: lang,
			Lines:    countNonEmptyLines(content),
			Excerpt:  excerpt(content, s.opts.MaxExcerptChars),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

func isExcludedDir(name string, exclude map[string]struct{}) bool {
	_, ok := exclude[name]
	return ok
}

func supported(ext string, allowed []string) bool {
	for _, a := range allowed {
		if a == ext {
			return true
		}
	}
	return false
}

func isBinary(content []byte) bool {
	maxCheck := 8000
	if len(content) < maxCheck {
		maxCheck = len(content)
	}
	for i := 0; i < maxCheck; i++ {
		if content[i] == 0 {
			return true
		}
	}
	return false
}

func countNonEmptyLines(content []byte) int {
	count := 0
	for _, line := range strings.Split(string(content), "\n") {
		if strings.TrimSpace(line) != "" {
			count++
		}
	}
	return count
}

func excerpt(content []byte, maxChars int) string {
	s := string(content)
	if len(s) <= maxChars {
		return s
	}
	return s[:maxChars]
}

// Aggregate holds the total and per-language summary (spec.md §4.2).
type Aggregate struct {
	TotalLines int
	FileCount  int
	LanguagePercent map[string]float64
}

// Summarize computes per-language percentages rounded to one decimal.
// The sum is allowed ±0.3 slack from 100 per spec.md §8 invariant 3 /
// §9 Open Question 3.
func Summarize(files []File) Aggregate {
	agg := Aggregate{LanguagePercent: make(map[string]float64)}
	if len(files) == 0 {
		return agg
	}

	byLang := make(map[string]int)
	for _, f := range files {
		agg.TotalLines += f.Lines
		agg.FileCount++
		byLang[f.Language] += f.Lines
	}

	if agg.TotalLines == 0 {
		// No lines at all; fall back to file-count proportions so the
		// percentages still sum close to 100.
		byFileCount := make(map[string]int)
		for _, f := range files {
			byFileCount[f.Language]++
		}
		for lang, n := range byFileCount {
			agg.LanguagePercent[lang] = round1(float64(n) / float64(agg.FileCount) * 100)
		}
		return agg
	}

	for lang, lines := range byLang {
		agg.LanguagePercent[lang] = round1(float64(lines) / float64(agg.TotalLines) * 100)
	}
	return agg
}

func round1(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}
