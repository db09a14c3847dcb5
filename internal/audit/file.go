package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/jorge-barreto/patchr/internal/state"
)

// FileStore keeps one directory per run:
//
//	<dir>/<id>/record.json
//	<dir>/<id>/timing.json
//	<dir>/<id>/patch.diff
//	<dir>/<id>/feedback/attempt-N.md
type FileStore struct {
	Dir string
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating audit dir %s: %w", dir, err)
	}
	return &FileStore{Dir: dir}, nil
}

func (s *FileStore) Save(ctx context.Context, rec *Record) error {
	if !validID(rec.ID) {
		return fmt.Errorf("audit: invalid run id %q", rec.ID)
	}
	runDir := filepath.Join(s.Dir, rec.ID)
	if err := os.MkdirAll(filepath.Join(runDir, "feedback"), 0755); err != nil {
		return fmt.Errorf("creating run dir: %w", err)
	}

	for i, d := range rec.Diagnostics {
		name := filepath.Join(runDir, "feedback", fmt.Sprintf("attempt-%d.md", i+1))
		if err := writeFileAtomic(name, []byte(d), 0644); err != nil {
			return err
		}
	}
	if rec.Diff != "" {
		if err := writeFileAtomic(filepath.Join(runDir, "patch.diff"), []byte(rec.Diff), 0644); err != nil {
			return err
		}
	}
	timing, err := json.MarshalIndent(state.BuildTiming(rec.History), "", "  ")
	if err != nil {
		return err
	}
	if err := writeFileAtomic(filepath.Join(runDir, "timing.json"), timing, 0644); err != nil {
		return err
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(runDir, "record.json"), data, 0644)
}

func (s *FileStore) Load(ctx context.Context, id string) (*Record, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	return readRecord(filepath.Join(s.Dir, id, "record.json"))
}

func (s *FileStore) Latest(ctx context.Context) (*Record, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var latest *Record
	for _, e := range entries {
		if !e.IsDir() || !validID(e.Name()) {
			continue
		}
		rec, err := readRecord(filepath.Join(s.Dir, e.Name(), "record.json"))
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		if latest == nil || rec.Created.After(latest.Created) {
			latest = rec
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return latest, nil
}

func (s *FileStore) Close() error { return nil }

// TimingPath returns the timing file of a run.
func (s *FileStore) TimingPath(id string) string {
	return filepath.Join(s.Dir, id, "timing.json")
}

func readRecord(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &rec, nil
}

// writeFileAtomic writes data to a temporary file in the target directory,
// fsyncs it and renames it over path.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Chmod(tmp, perm); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
