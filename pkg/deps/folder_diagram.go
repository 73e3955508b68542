package deps

import (
	"fmt"
	"path"
	"sort"
	"strings"
)

// FolderDiagram builds the deterministic folder-structure Mermaid
// diagram from a set of repo-relative file paths: one node per
// directory, with an edge from each parent directory to each child
// (spec.md §4.5). It is a pure function of the path set: running it
// twice on the same input yields byte-identical output (spec.md §8
// "round-trips and idempotence").
func FolderDiagram(filePaths []string) string {
	dirs := collectDirs(filePaths)

	var names []string
	for d := range dirs {
		names = append(names, d)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("flowchart TD\n")

	for _, d := range names {
		b.WriteString(fmt.Sprintf("    %s[%q]\n", nodeID(d), label(d)))
	}
	for _, d := range names {
		parent := path.Dir(d)
		if parent == "." || parent == d {
			continue
		}
		if _, ok := dirs[parent]; !ok {
			continue
		}
		b.WriteString(fmt.Sprintf("    %s --> %s\n", nodeID(parent), nodeID(d)))
	}

	return strings.TrimRight(b.String(), "\n") + "\n"
}

func collectDirs(filePaths []string) map[string]struct{} {
	dirs := make(map[string]struct{})
	dirs["."] = struct{}{}
	for _, p := range filePaths {
		dir := path.Dir(p)
		for dir != "." && dir != "/" && dir != "" {
			dirs[dir] = struct{}{}
			dir = path.Dir(dir)
		}
	}
	return dirs
}

func nodeID(dir string) string {
	if dir == "." {
		return "root"
	}
	id := strings.NewReplacer("/", "_", "-", "_", ".", "_").Replace(dir)
	return "dir_" + id
}

func label(dir string) string {
	if dir == "." {
		return "/"
	}
	return path.Base(dir)
}
