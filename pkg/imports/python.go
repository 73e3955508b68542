package imports

import (
	"regexp"
	"strings"
)

// buildPythonModuleIndex maps every dotted module name in the file set
// to its file path, so importer->imported pairs can be resolved without
// touching the filesystem again (spec.md §4.3 "Python primary").
func buildPythonModuleIndex(files []string) map[string]string {
	idx := make(map[string]string, len(files))
	for _, path := range files {
		if !strings.HasSuffix(path, ".py") {
			continue
		}
		idx[pythonModuleName(path)] = path
	}
	return idx
}

// pythonModuleName converts a repo-relative path to its dotted module
// name. "pkg/__init__.py" -> "pkg"; "pkg/a.py" -> "pkg.a".
func pythonModuleName(path string) string {
	trimmed := strings.TrimSuffix(path, ".py")
	parts := strings.Split(trimmed, "/")
	if len(parts) > 0 && parts[len(parts)-1] == "__init__" {
		parts = parts[:len(parts)-1]
	}
	return strings.Join(parts, ".")
}

// pythonPackageParts returns the dotted-name components of the package
// that contains path, for relative-import resolution.
func pythonPackageParts(path string) []string {
	dir := path
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		dir = path[:idx]
	} else {
		dir = ""
	}
	base := strings.TrimSuffix(path[strings.LastIndex(path, "/")+1:], ".py")
	if base == "__init__" {
		if dir == "" {
			return nil
		}
		return strings.Split(dir, "/")
	}
	if dir == "" {
		return nil
	}
	return strings.Split(dir, "/")
}

var (
	pyImportRe     = regexp.MustCompile(`(?m)^\s*import\s+([\w\.\s,]+?)\s*(?:#.*)?$`)
	pyFromRe       = regexp.MustCompile(`(?m)^\s*from\s+(\.*)([\w\.]*)\s+import\s+(.+)$`)
	pyFromParenRe  = regexp.MustCompile(`(?ms)^\s*from\s+(\.*)([\w\.]*)\s+import\s+\(([^)]*)\)`)
)

// ExtractPythonPrimary is the package-aware Python extractor: it
// resolves every import against the repository's own module index,
// handling multi-line "from x import (...)" groups.
func ExtractPythonPrimary(path string, content string, allFiles []string) []Edge {
	idx := buildPythonModuleIndex(allFiles)
	return extractPython(path, content, idx, "python-primary", true)
}

// ExtractPythonFallback is the coarser, single-line-only Python
// extractor. ExtractAll runs it alongside the primary for every Python
// file and unions the two results.
func ExtractPythonFallback(path string, content string, allFiles []string) []Edge {
	idx := buildPythonModuleIndex(allFiles)
	return extractPython(path, content, idx, "python-fallback", false)
}

func extractPython(path, content string, idx map[string]string, tag string, multiline bool) []Edge {
	var edges []Edge
	pkgParts := pythonPackageParts(path)

	if multiline {
		for _, m := range pyFromParenRe.FindAllStringSubmatch(content, -1) {
			dots, modPart, names := m[1], m[2], m[3]
			edges = append(edges, resolveFromImport(path, pkgParts, dots, modPart, splitNames(names), idx, tag)...)
		}
	}

	for _, m := range pyFromRe.FindAllStringSubmatch(content, -1) {
		dots, modPart, names := m[1], m[2], m[3]
		if strings.Contains(names, "(") {
			continue // handled by the multi-line pass above
		}
		edges = append(edges, resolveFromImport(path, pkgParts, dots, modPart, splitNames(names), idx, tag)...)
	}

	for _, m := range pyImportRe.FindAllStringSubmatch(content, -1) {
		for _, mod := range splitNames(m[1]) {
			mod = strings.TrimSpace(strings.Split(mod, " as ")[0])
			if mod == "" {
				continue
			}
			edges = append(edges, resolveModule(path, mod, idx, tag))
		}
	}

	return edges
}

func splitNames(raw string) []string {
	raw = strings.ReplaceAll(raw, "\n", " ")
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(strings.Split(p, " as ")[0])
		if p != "" && p != "*" {
			out = append(out, p)
		}
	}
	return out
}

func resolveModule(source, module string, idx map[string]string, tag string) Edge {
	if target, ok := idx[module]; ok {
		return Edge{Source: source, Target: target, Internal: true, Extractor: tag}
	}
	return Edge{Source: source, Target: module, Internal: false, Extractor: tag}
}

// resolveFromImport resolves "from <dots><modPart> import <names>" per
// name, preferring a submodule match and falling back to the package's
// own module if the name is a symbol rather than a submodule.
func resolveFromImport(source string, pkgParts []string, dots, modPart string, names []string, idx map[string]string, tag string) []Edge {
	prefix := relativePrefix(pkgParts, len(dots), modPart)
	prefixDotted := strings.Join(prefix, ".")

	var edges []Edge
	for _, name := range names {
		candidate := name
		if prefixDotted != "" {
			candidate = prefixDotted + "." + name
		}
		if target, ok := idx[candidate]; ok {
			edges = append(edges, Edge{Source: source, Target: target, Internal: true, Extractor: tag})
			continue
		}
		if target, ok := idx[prefixDotted]; ok && prefixDotted != "" {
			edges = append(edges, Edge{Source: source, Target: target, Internal: true, Extractor: tag})
			continue
		}
		raw := candidate
		if raw == "" {
			raw = name
		}
		edges = append(edges, Edge{Source: source, Target: raw, Internal: false, Extractor: tag})
	}
	return edges
}

// relativePrefix computes the dotted module-name prefix for a "from"
// import given the importing file's package parts, the relative-import
// level (number of leading dots, 0 = absolute), and the explicit module
// portion following the dots.
func relativePrefix(pkgParts []string, level int, modPart string) []string {
	var base []string
	if level == 0 {
		base = nil
	} else {
		climb := level - 1
		if climb > len(pkgParts) {
			climb = len(pkgParts)
		}
		base = append([]string{}, pkgParts[:len(pkgParts)-climb]...)
	}
	if modPart != "" {
		base = append(base, strings.Split(modPart, ".")...)
	}
	return base
}
