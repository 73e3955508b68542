package deps

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/archlens/archlens/pkg/imports"
)

func TestClassifyPriorityOrder(t *testing.T) {
	require.Equal(t, CategoryFrontendFrameworks, Classify("react"))
	require.Equal(t, CategoryTypeDefinitions, Classify("@types/node"))
	require.Equal(t, CategoryScopedPackages, Classify("@acme/utils"))
	require.Equal(t, CategoryExternalLibraries, Classify("lodash"))
}

func TestAnalyzePartitionIsTotal(t *testing.T) {
	edges := []imports.Edge{
		{Source: "a.py", Target: "b.py", Internal: true},
		{Source: "a.ts", Target: "react", Internal: false},
		{Source: "a.ts", Target: "lodash", Internal: false},
	}
	a := Analyze(edges)
	require.Len(t, a.Internal, 1)
	require.Equal(t, 1, a.Summary.InternalCount)
	require.Equal(t, 2, a.Summary.ExternalCount)
	require.Contains(t, a.External, CategoryFrontendFrameworks)
	require.Contains(t, a.External, CategoryExternalLibraries)
}

func TestFolderDiagramIsIdempotent(t *testing.T) {
	paths := []string{"pkg/a.py", "pkg/sub/b.py", "cmd/main.py"}
	first := FolderDiagram(paths)
	second := FolderDiagram(paths)
	require.Equal(t, first, second)
	require.Contains(t, first, "flowchart TD")
}

func TestFolderDiagramEmptyRepo(t *testing.T) {
	out := FolderDiagram(nil)
	require.Contains(t, out, "flowchart TD")
}
