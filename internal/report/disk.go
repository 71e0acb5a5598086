package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/deixis/smoke"
)

// Format tags every report file written by DiskStore.
const Format = "smoke-run/1"

// file is the on-disk layout of a report.
type file struct {
	Format  string     `json:"format"`
	Harness string     `json:"harness"` // smoke version that wrote the file
	Run     *RunResult `json:"run"`
}

// DiskStore keeps one <run id>.json file per run in a directory. When no
// directory is given, a temp directory is created lazily on first use.
type DiskStore struct {
	mu  sync.Mutex
	dir string
}

// NewDiskStore creates a DiskStore rooted at dir; dir may be empty.
func NewDiskStore(dir string) *DiskStore {
	return &DiskStore{dir: dir}
}

// Dir returns the directory reports are written to, creating it if needed.
func (s *DiskStore) Dir() (string, error) {
	return s.ensureDir()
}

// Save writes result. A reader never sees a partially written file.
func (s *DiskStore) Save(result *RunResult) error {
	if err := validID(result.ID); err != nil {
		return err
	}
	dir, err := s.ensureDir()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(file{Format: Format, Harness: smoke.Version, Run: result}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding run %s: %w", result.ID, err)
	}

	tmp, err := os.CreateTemp(dir, "."+result.ID+"-*")
	if err != nil {
		return fmt.Errorf("writing run %s: %w", result.ID, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing run %s: %w", result.ID, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing run %s: %w", result.ID, err)
	}
	if err := os.Rename(tmp.Name(), s.path(dir, result.ID)); err != nil {
		return fmt.Errorf("writing run %s: %w", result.ID, err)
	}
	return nil
}

// Load reads the report of runID.
func (s *DiskStore) Load(runID string) (*RunResult, error) {
	if err := validID(runID); err != nil {
		return nil, err
	}
	dir, err := s.ensureDir()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(dir, runID))
	if err != nil {
		return nil, fmt.Errorf("reading run %s: %w", runID, err)
	}
	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decoding run %s: %w", runID, err)
	}
	if f.Format != Format || f.Run == nil {
		return nil, fmt.Errorf("run %s: unsupported report format %q", runID, f.Format)
	}
	return f.Run, nil
}

func (s *DiskStore) path(dir, runID string) string {
	return filepath.Join(dir, runID+".json")
}

func validID(runID string) error {
	if runID == "" || runID[0] == '.' || filepath.Base(runID) != runID {
		return fmt.Errorf("invalid run id %q", runID)
	}
	return nil
}

func (s *DiskStore) ensureDir() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dir != "" {
		if err := os.MkdirAll(s.dir, 0o755); err != nil {
			return "", fmt.Errorf("creating report directory: %w", err)
		}
		return s.dir, nil
	}
	dir, err := os.MkdirTemp("", "smoke-runs-*")
	if err != nil {
		return "", fmt.Errorf("creating report directory: %w", err)
	}
	s.dir = dir
	return dir, nil
}
