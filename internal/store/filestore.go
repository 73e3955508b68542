package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileStore is a JSON-file-backed Store, sufficient for single-node
// operation and tests. One file holds the run index; one file per run
// holds its results, mirroring internal/project/registry.go's
// load-whole-file-then-index-in-memory approach.
type FileStore struct {
	mu       sync.Mutex
	dir      string
	indexPath string
	runs     map[string]*Run
	byURL    map[string]string // repo URL -> latest completed run id
}

// NewFileStore opens (or creates) a file-backed store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &StorageError{Op: "init", Err: err}
	}
	fs := &FileStore{
		dir:       dir,
		indexPath: filepath.Join(dir, "runs.json"),
		runs:      make(map[string]*Run),
		byURL:     make(map[string]string),
	}
	if err := fs.load(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (fs *FileStore) load() error {
	data, err := os.ReadFile(fs.indexPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &StorageError{Op: "load index", Err: err}
	}

	var runs []*Run
	if err := json.Unmarshal(data, &runs); err != nil {
		return &StorageError{Op: "decode index", Err: err}
	}

	for _, r := range runs {
		fs.runs[r.ID] = r
		if r.Status == StatusCompleted {
			fs.byURL[r.RepoURL] = r.ID
		}
	}
	return nil
}

func (fs *FileStore) saveIndexLocked() error {
	list := make([]*Run, 0, len(fs.runs))
	for _, r := range fs.runs {
		list = append(list, r)
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return &StorageError{Op: "encode index", Err: err}
	}
	if err := os.WriteFile(fs.indexPath, data, 0644); err != nil {
		return &StorageError{Op: "write index", Err: err}
	}
	return nil
}

// CreateRun records a new pending run and returns its id.
func (fs *FileStore) CreateRun(repoURL string) (string, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	id := runID(repoURL, time.Now())
	now := time.Now().UTC()
	fs.runs[id] = &Run{
		ID:        id,
		RepoURL:   repoURL,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := fs.saveIndexLocked(); err != nil {
		return "", err
	}
	return id, nil
}

// UpdateStatus mutates a run's status and progress fields.
func (fs *FileStore) UpdateStatus(runID string, status Status, progressLabel, message string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	r, ok := fs.runs[runID]
	if !ok {
		return ErrNotFound
	}

	r.Status = status
	if progressLabel != "" {
		r.ProgressLabel = progressLabel
	}
	if message != "" {
		r.Message = message
	}
	r.UpdatedAt = time.Now().UTC()
	if status.IsTerminal() {
		now := r.UpdatedAt
		r.CompletedAt = &now
		if status == StatusCompleted {
			fs.byURL[r.RepoURL] = r.ID
		}
	}

	return fs.saveIndexLocked()
}

// SaveResults persists the final results payload, idempotent per run.
func (fs *FileStore) SaveResults(runID string, results *Results) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	r, ok := fs.runs[runID]
	if !ok {
		return ErrNotFound
	}

	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return &StorageError{Op: "encode results", Err: err}
	}
	path := fs.resultsPath(runID)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return &StorageError{Op: "write results", Err: err}
	}

	r.HasResults = true
	r.CommitSHA = results.Repo.CommitSHA
	r.UpdatedAt = time.Now().UTC()
	return fs.saveIndexLocked()
}

// LoadResults reads a run's persisted results.
func (fs *FileStore) LoadResults(runID string) (*Results, error) {
	fs.mu.Lock()
	r, ok := fs.runs[runID]
	fs.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	if !r.HasResults {
		return nil, ErrNotReady
	}

	data, err := os.ReadFile(fs.resultsPath(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotReady
		}
		return nil, &StorageError{Op: "read results", Err: err}
	}

	var results Results
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, &StorageError{Op: "decode results", Err: err}
	}
	return &results, nil
}

// LookupLatestByURL returns the most recent completed run for a URL.
func (fs *FileStore) LookupLatestByURL(repoURL string) (string, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	id, ok := fs.byURL[repoURL]
	if !ok {
		return "", ErrNotFound
	}
	return id, nil
}

// GetRun returns a run's metadata record.
func (fs *FileStore) GetRun(runID string) (*Run, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	r, ok := fs.runs[runID]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *r
	return &clone, nil
}

func (fs *FileStore) resultsPath(runID string) string {
	return filepath.Join(fs.dir, runID+".results.json")
}

// runID derives a stable identifier from the repo URL and a timestamp,
// so repeated start() calls against the same URL (spec.md invariant 9)
// can be recognized via LookupLatestByURL rather than via the id itself.
func runID(repoURL string, t time.Time) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%d", repoURL, t.UnixNano())))
	return "run_" + hex.EncodeToString(h[:])[:16]
}
