// Package deps partitions edges into internal/external dependency
// analysis and classifies external packages into categories (spec.md
// §4.5), and builds the deterministic folder-structure diagram.
package deps

import (
	"sort"
	"strings"

	"github.com/archlens/archlens/pkg/imports"
)

// Category names, in priority order (first match wins). Adding a token
// to a list must never reorder this slice (spec.md §4.5).
const (
	CategoryFrontendFrameworks = "Frontend Frameworks"
	CategoryWebFrameworks      = "Web Frameworks"
	CategoryDatabases          = "Databases"
	CategoryTesting            = "Testing"
	CategoryBuildTools         = "Build Tools"
	CategoryUILibraries        = "UI Libraries"
	CategoryTypeDefinitions    = "Type Definitions"
	CategoryScopedPackages     = "Scoped Packages"
	CategoryExternalLibraries  = "External Libraries"
)

// categoryTokens is the priority-ordered cascade of substring tokens.
// Matching is case-insensitive against the raw package specifier.
var categoryTokens = []struct {
	category string
	tokens   []string
}{
	{CategoryFrontendFrameworks, []string{"react", "vue", "angular", "svelte", "next", "nuxt", "solid-js"}},
	{CategoryWebFrameworks, []string{"express", "fastify", "koa", "flask", "django", "fastapi", "hapi", "nestjs"}},
	{CategoryDatabases, []string{"mongoose", "sequelize", "prisma", "typeorm", "sqlalchemy", "psycopg", "pymongo", "redis", "knex"}},
	{CategoryTesting, []string{"jest", "mocha", "chai", "pytest", "vitest", "cypress", "playwright", "sinon", "enzyme"}},
	{CategoryBuildTools, []string{"webpack", "rollup", "vite", "esbuild", "babel", "tsc", "gulp", "grunt", "parcel"}},
	{CategoryUILibraries, []string{"mui", "material-ui", "antd", "chakra", "bootstrap", "tailwind", "semantic-ui"}},
}

// Classify returns the priority-ordered category for a raw external
// package specifier.
func Classify(spec string) string {
	lower := strings.ToLower(spec)

	for _, entry := range categoryTokens {
		for _, tok := range entry.tokens {
			if strings.Contains(lower, tok) {
				return entry.category
			}
		}
	}

	if strings.HasPrefix(spec, "@types/") {
		return CategoryTypeDefinitions
	}
	if strings.HasPrefix(spec, "@") {
		return CategoryScopedPackages
	}

	return CategoryExternalLibraries
}

// InternalEdge is a resolved (source, target) pair within the repository.
type InternalEdge struct {
	Source string
	Target string
}

// ExternalDependency is one (source file, package) pair under a category.
type ExternalDependency struct {
	SourceFile string
	Package    string
}

// Summary carries total counts of the partition.
type Summary struct {
	InternalCount int
	ExternalCount int
	ByCategory    map[string]int
}

// Analysis is the dependency analysis described in spec.md §3.
type Analysis struct {
	Internal []InternalEdge
	External map[string][]ExternalDependency
	Summary  Summary
}

// Analyze partitions all edges (internal and external) into the
// dependency analysis. The partition is total: every edge lands in
// exactly one of {internal, one external category} (spec.md §8 invariant 6).
func Analyze(edges []imports.Edge) Analysis {
	a := Analysis{
		External: make(map[string][]ExternalDependency),
		Summary:  Summary{ByCategory: make(map[string]int)},
	}

	seenInternal := make(map[string]struct{})

	for _, e := range edges {
		if e.Internal {
			key := e.Source + "->" + e.Target
			if _, dup := seenInternal[key]; dup {
				continue
			}
			seenInternal[key] = struct{}{}
			a.Internal = append(a.Internal, InternalEdge{Source: e.Source, Target: e.Target})
			a.Summary.InternalCount++
			continue
		}

		category := Classify(e.Target)
		a.External[category] = append(a.External[category], ExternalDependency{SourceFile: e.Source, Package: e.Target})
		a.Summary.ExternalCount++
		a.Summary.ByCategory[category]++
	}

	sort.Slice(a.Internal, func(i, j int) bool {
		if a.Internal[i].Source != a.Internal[j].Source {
			return a.Internal[i].Source < a.Internal[j].Source
		}
		return a.Internal[i].Target < a.Internal[j].Target
	})
	for cat := range a.External {
		list := a.External[cat]
		sort.Slice(list, func(i, j int) bool {
			if list[i].SourceFile != list[j].SourceFile {
				return list[i].SourceFile < list[j].SourceFile
			}
			return list[i].Package < list[j].Package
		})
	}

	return a
}
