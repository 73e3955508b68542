// Package source acquires a shallow, scoped local checkout of a remote
// repository for the duration of one analysis run.
package source

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/archlens/archlens/internal/fileutil"
)

// FetchError wraps a fatal repo-acquisition failure (spec.md §4.1: an
// unreachable remote, an authentication requirement, or a full disk are
// all fatal to the run).
type FetchError struct {
	URL string
	Op  string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("source: %s %q: %v", e.Op, e.URL, e.Err)
}
func (e *FetchError) Unwrap() error { return e.Err }

// Snapshot is a repository snapshot: a local filesystem root plus the
// resolved commit identifier (spec.md §3).
type Snapshot struct {
	Root      string
	CommitSHA string

	release func() error
}

// Release deletes the workspace. Safe to call more than once.
func (s *Snapshot) Release() error {
	if s.release == nil {
		return nil
	}
	err := s.release()
	s.release = nil
	return err
}

// Fetcher performs a shallow clone into a scoped temporary workspace.
// Git access shells out to the system git binary via os/exec; no pure-Go
// git client is grounded in the teacher or retrieval pack (see DESIGN.md).
type Fetcher struct {
	workDirRoot string
	cloneTimeout time.Duration
}

// NewFetcher builds a Fetcher rooted at workDirRoot (created on demand).
func NewFetcher(workDirRoot string) *Fetcher {
	return &Fetcher{
		workDirRoot:  workDirRoot,
		cloneTimeout: 2 * time.Minute,
	}
}

// Acquire shallow-clones repoURL into a freshly created temp directory
// under the fetcher's workspace root and resolves HEAD. The returned
// Snapshot's Release must be called on every exit path, including
// cancellation, to satisfy spec.md invariant 10.
func (f *Fetcher) Acquire(ctx context.Context, repoURL string) (*Snapshot, error) {
	if err := fileutil.EnsureDir(f.workDirRoot); err != nil {
		return nil, &FetchError{URL: repoURL, Op: "create workspace root", Err: err}
	}

	root, err := os.MkdirTemp(f.workDirRoot, "run-*")
	if err != nil {
		return nil, &FetchError{URL: repoURL, Op: "create workspace", Err: err}
	}

	cleanup := func() error { return fileutil.RemoveAll(root) }

	cloneCtx, cancel := context.WithTimeout(ctx, f.cloneTimeout)
	defer cancel()

	cmd := exec.CommandContext(cloneCtx, "git", "clone", "--depth", "1", "--no-tags", "--quiet", repoURL, root)
	if out, err := cmd.CombinedOutput(); err != nil {
		_ = cleanup()
		return nil, &FetchError{URL: repoURL, Op: "clone", Err: fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out)))}
	}

	sha, err := resolveHead(cloneCtx, root)
	if err != nil {
		_ = cleanup()
		return nil, &FetchError{URL: repoURL, Op: "resolve HEAD", Err: err}
	}

	return &Snapshot{
		Root:      root,
		CommitSHA: sha,
		release:   cleanup,
	}, nil
}

func resolveHead(ctx context.Context, root string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "-C", root, "rev-parse", "HEAD")
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// RelPath normalizes an absolute path under root to a repo-relative,
// forward-slash path, matching spec.md §9's path-handling note.
func RelPath(root, abs string) (string, error) {
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}
