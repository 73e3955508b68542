package imports

import (
	"os"
	"path/filepath"
	"strings"
)

// Extractor runs the primary and fallback parser for each supported
// language over a file set and unions the results (spec.md §4.3).
type Extractor struct {
	root string
}

// NewExtractor builds an Extractor rooted at a repository snapshot.
func NewExtractor(root string) *Extractor {
	return &Extractor{root: root}
}

// ExtractAll produces the complete edge set for the given repo-relative
// file paths.
func (x *Extractor) ExtractAll(paths []string) ([]Edge, error) {
	var pyFiles, tsjsFiles []string
	fileSet := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		fileSet[p] = struct{}{}
		switch filepath.Ext(p) {
		case ".py":
			pyFiles = append(pyFiles, p)
		case ".js", ".jsx", ".ts", ".tsx":
			tsjsFiles = append(tsjsFiles, p)
		}
	}

	tsconfig := x.loadTSConfig()

	var edgeSets [][]Edge
	for _, p := range pyFiles {
		content, err := x.read(p)
		if err != nil {
			continue
		}
		edgeSets = append(edgeSets, ExtractPythonPrimary(p, content, pyFiles))
		edgeSets = append(edgeSets, ExtractPythonFallback(p, content, pyFiles))
	}

	for _, p := range tsjsFiles {
		content, err := x.read(p)
		if err != nil {
			continue
		}
		edgeSets = append(edgeSets, ExtractTSJSPrimary(p, content, fileSet, tsconfig))
		if looksMalformed(content) {
			edgeSets = append(edgeSets, ExtractTSJSFallback(p, content, fileSet, tsconfig))
		}
	}

	return Merge(edgeSets...), nil
}

func (x *Extractor) read(relPath string) (string, error) {
	data, err := os.ReadFile(filepath.Join(x.root, relPath))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// loadTSConfig looks for a tsconfig.json at the repository root; absence
// or a parse error simply disables alias resolution.
func (x *Extractor) loadTSConfig() *TSConfig {
	data, err := os.ReadFile(filepath.Join(x.root, "tsconfig.json"))
	if err != nil {
		return nil
	}
	return ParseTSConfig(string(data))
}

// NormalizeSlashes converts an OS path to the forward-slash form used
// throughout the core (spec.md §9 "Path handling").
func NormalizeSlashes(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}
