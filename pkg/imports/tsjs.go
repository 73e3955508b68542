package imports

import (
	"encoding/json"
	"path"
	"regexp"
	"strings"
)

// TSConfig holds the subset of tsconfig.json needed for alias
// resolution (spec.md §4.3 "TS/JS primary").
type TSConfig struct {
	BaseURL string
	Paths   map[string][]string
}

type tsconfigRaw struct {
	CompilerOptions struct {
		BaseURL string              `json:"baseUrl"`
		Paths   map[string][]string `json:"paths"`
	} `json:"compilerOptions"`
}

var jsonLineComment = regexp.MustCompile(`(?m)//.*$`)

// ParseTSConfig parses a tsconfig.json body, tolerating // line comments
// (common in real tsconfig files despite not being strict JSON).
func ParseTSConfig(content string) *TSConfig {
	stripped := jsonLineComment.ReplaceAllString(content, "")
	var raw tsconfigRaw
	if err := json.Unmarshal([]byte(stripped), &raw); err != nil {
		return nil
	}
	baseURL := raw.CompilerOptions.BaseURL
	if baseURL == "" {
		baseURL = "."
	}
	return &TSConfig{BaseURL: baseURL, Paths: raw.CompilerOptions.Paths}
}

var (
	tsImportRe  = regexp.MustCompile(`import\s+(?:[\w*{}\s,]+\s+from\s+)?['"]([^'"]+)['"]`)
	tsExportRe  = regexp.MustCompile(`export\s+(?:[\w*{}\s,]+\s+from\s+)?['"]([^'"]+)['"]`)
	tsRequireRe = regexp.MustCompile(`require\(\s*['"]([^'"]+)['"]\s*\)`)
	tsDynImpRe  = regexp.MustCompile(`import\(\s*['"]([^'"]+)['"]\s*\)`)
)

var extensionProbeOrder = []string{"", ".ts", ".tsx", ".js", ".jsx"}

// ExtractTSJSPrimary resolves every static import/export/require/dynamic
// import specifier in a TS/JS file against the repository file set and
// an optional tsconfig, honoring baseUrl/paths aliasing.
func ExtractTSJSPrimary(filePath, content string, allFiles map[string]struct{}, cfg *TSConfig) []Edge {
	return extractTSJS(filePath, content, allFiles, cfg, "tsjs-primary")
}

// ExtractTSJSFallback runs the same regex scan as the primary under its
// own extractor tag. ExtractAll invokes it only for files that
// looksMalformed flags (spec.md §4.3 "TS/JS fallback").
func ExtractTSJSFallback(filePath, content string, allFiles map[string]struct{}, cfg *TSConfig) []Edge {
	return extractTSJS(filePath, content, allFiles, cfg, "tsjs-fallback")
}

func extractTSJS(filePath, content string, allFiles map[string]struct{}, cfg *TSConfig, tag string) []Edge {
	specifiers := make([]string, 0, 8)
	for _, re := range []*regexp.Regexp{tsImportRe, tsExportRe, tsRequireRe, tsDynImpRe} {
		for _, m := range re.FindAllStringSubmatch(content, -1) {
			specifiers = append(specifiers, m[1])
		}
	}

	edges := make([]Edge, 0, len(specifiers))
	for _, spec := range specifiers {
		target, internal := resolveTSJSSpecifier(filePath, spec, allFiles, cfg)
		edges = append(edges, Edge{Source: filePath, Target: target, Internal: internal, Extractor: tag})
	}
	return edges
}

func resolveTSJSSpecifier(filePath, spec string, allFiles map[string]struct{}, cfg *TSConfig) (string, bool) {
	if strings.HasPrefix(spec, ".") || strings.HasPrefix(spec, "/") {
		dir := path.Dir(filePath)
		joined := path.Clean(path.Join(dir, spec))
		if resolved, ok := probeExtensions(joined, allFiles); ok {
			return resolved, true
		}
		return spec, false
	}

	if cfg != nil {
		if resolved, ok := resolveAlias(spec, cfg, allFiles); ok {
			return resolved, true
		}
	}

	return spec, false
}

func probeExtensions(base string, allFiles map[string]struct{}) (string, bool) {
	for _, ext := range extensionProbeOrder {
		candidate := base + ext
		if _, ok := allFiles[candidate]; ok {
			return candidate, true
		}
	}
	for _, ext := range extensionProbeOrder[1:] {
		candidate := path.Join(base, "index"+ext)
		if _, ok := allFiles[candidate]; ok {
			return candidate, true
		}
	}
	return "", false
}

func resolveAlias(spec string, cfg *TSConfig, allFiles map[string]struct{}) (string, bool) {
	if target, ok := cfg.Paths[spec]; ok && len(target) > 0 {
		joined := path.Join(cfg.BaseURL, target[0])
		return probeExtensions(joined, allFiles)
	}

	for pattern, targets := range cfg.Paths {
		if !strings.Contains(pattern, "*") || len(targets) == 0 {
			continue
		}
		prefix := strings.TrimSuffix(pattern, "*")
		if !strings.HasPrefix(spec, prefix) {
			continue
		}
		suffix := strings.TrimPrefix(spec, prefix)
		replacement := strings.Replace(targets[0], "*", suffix, 1)
		joined := path.Join(cfg.BaseURL, replacement)
		if resolved, ok := probeExtensions(joined, allFiles); ok {
			return resolved, true
		}
	}

	return "", false
}

// looksMalformed is a coarse heuristic the extractor orchestrator uses
// to decide whether the fallback scan should also run for a file: an
// odd quote count suggests the primary regexes may have missed a
// specifier spanning a broken string literal.
func looksMalformed(content string) bool {
	return strings.Count(content, `"`)%2 != 0 || strings.Count(content, `'`)%2 != 0
}
