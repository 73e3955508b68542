package imports

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// TestExtractAllMinimalPythonPackage is E2E-1.
func TestExtractAllMinimalPythonPackage(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "pkg/__init__.py", "")
	writeFile(t, root, "pkg/a.py", "from pkg import b\n")
	writeFile(t, root, "pkg/b.py", "")

	x := NewExtractor(root)
	edges, err := x.ExtractAll([]string{"pkg/__init__.py", "pkg/a.py", "pkg/b.py"})
	require.NoError(t, err)

	internal := filterInternal(edges, true)
	require.Len(t, internal, 1)
	require.Equal(t, "pkg/a.py", internal[0].Source)
	require.Equal(t, "pkg/b.py", internal[0].Target)

	external := filterInternal(edges, false)
	require.Empty(t, external)
}

// TestExtractAllMixedJSTSWithAlias is E2E-2.
func TestExtractAllMixedJSTSWithAlias(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "tsconfig.json", `{ "compilerOptions": { "baseUrl": ".", "paths": { "@/*": ["src/*"] } } }`)
	writeFile(t, root, "src/app.ts", `import { x } from "@/util"; import React from "react";`)
	writeFile(t, root, "src/util.ts", `export const x = 1;`)

	x := NewExtractor(root)
	edges, err := x.ExtractAll([]string{"src/app.ts", "src/util.ts"})
	require.NoError(t, err)

	var sawInternal, sawExternal bool
	for _, e := range edges {
		if e.Source == "src/app.ts" && e.Target == "src/util.ts" && e.Internal {
			sawInternal = true
		}
		if e.Source == "src/app.ts" && e.Target == "react" && !e.Internal {
			sawExternal = true
		}
	}
	require.True(t, sawInternal, "expected internal edge src/app.ts -> src/util.ts, got %+v", edges)
	require.True(t, sawExternal, "expected external edge src/app.ts -> react, got %+v", edges)
}

func TestMergeInternalWinsTieBreak(t *testing.T) {
	sets := [][]Edge{
		{{Source: "a.py", Target: "mod", Internal: false, Extractor: "fallback"}},
		{{Source: "a.py", Target: "mod", Internal: true, Extractor: "primary"}},
	}
	merged := Merge(sets...)
	require.Len(t, merged, 1)
	require.True(t, merged[0].Internal)
}

func TestMergeDropsSelfLoops(t *testing.T) {
	sets := [][]Edge{
		{{Source: "a.py", Target: "a.py", Internal: true, Extractor: "primary"}},
	}
	merged := Merge(sets...)
	require.Empty(t, merged)
}

func filterInternal(edges []Edge, internal bool) []Edge {
	var out []Edge
	for _, e := range edges {
		if e.Internal == internal {
			out = append(out, e)
		}
	}
	return out
}
