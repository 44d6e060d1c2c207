// Package checkpoint records the logical timestamp of the last completed
// dump so a restart knows how far the durable index got.
package checkpoint

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Checkpoint identifies a completed dump.
type Checkpoint struct {
	DumpID    string
	Timestamp int64
}

// Store persists checkpoints. Load returns the zero Checkpoint when nothing
// has been saved yet.
type Store interface {
	Save(ctx context.Context, cp Checkpoint) error
	Load(ctx context.Context) (Checkpoint, error)
}

// FileStore keeps the checkpoint in a small text file: the decimal
// timestamp on the first line, the dump id on the second.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Save writes to a temp file, fsyncs it, renames it over the old
// checkpoint, then fsyncs the directory.
func (s *FileStore) Save(_ context.Context, cp Checkpoint) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating checkpoint directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "checkpoint-*")
	if err != nil {
		return fmt.Errorf("creating temp checkpoint: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := fmt.Fprintf(tmp, "%d\n%s\n", cp.Timestamp, cp.DumpID); err != nil {
		tmp.Close()
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing checkpoint: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("renaming checkpoint: %w", err)
	}
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		d.Close()
	}
	success = true
	return nil
}

func (s *FileStore) Load(_ context.Context) (Checkpoint, error) {
	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return Checkpoint{}, nil
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("opening checkpoint: %w", err)
	}
	defer f.Close()

	var cp Checkpoint
	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return Checkpoint{}, fmt.Errorf("checkpoint %s is empty", s.path)
	}
	cp.Timestamp, err = strconv.ParseInt(strings.TrimSpace(sc.Text()), 10, 64)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("parsing checkpoint timestamp: %w", err)
	}
	if sc.Scan() {
		cp.DumpID = strings.TrimSpace(sc.Text())
	}
	return cp, sc.Err()
}
