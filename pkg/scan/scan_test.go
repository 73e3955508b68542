package scan

import (
	"context"
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

func TestScanMinimalPythonPackage(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "pkg/__init__.py", "")
	writeFile(t, root, "pkg/a.py", "from pkg import b\n")
	writeFile(t, root, "pkg/b.py", "")
	writeFile(t, root, "node_modules/ignored.js", "should not appear")

	s := NewScanner(DefaultOptions())
	files, err := s.Scan(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, files, 3)

	agg := Summarize(files)
	require.Equal(t, 100.0, agg.LanguagePercent["python"])
	require.Equal(t, 3, agg.FileCount)
}

func TestScanEmptyRepository(t *testing.T) {
	root := t.TempDir()
	s := NewScanner(DefaultOptions())
	files, err := s.Scan(context.Background(), root)
	require.NoError(t, err)
	require.Empty(t, files)

	agg := Summarize(files)
	require.Empty(t, agg.LanguagePercent)
	require.Equal(t, 0, agg.FileCount)
}

func TestScanSkipsBinaryAndOversizedExcerpt(t *testing.T) {
	root := t.TempDir()
	big := make([]byte, 2000)
	for i := range big {
		big[i] = 'a'
	}
	writeFile(t, root, "big.py", string(big))
	writeFile(t, root, "blob.py", "\x00\x01\x02binary")

	s := NewScanner(DefaultOptions())
	files, err := s.Scan(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.LessOrEqual(t, len(files[0].Excerpt), defaultExcerptChars)
}
