package staging

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"tasksnap/internal/tasksnap"
)

const tmpPrefix = ".tmp-"

// filesystemStore is a directory-backed implementation of stagingStore.
//
// Directory structure:
//
//	<staging_dir>/
//	  files/
//	    <name>    (staged artifact content)
type filesystemStore struct {
	filesDir string
}

var _ stagingStore = (*filesystemStore)(nil)

// NewFileSystemStagingArea creates a new filesystem-based staging area.
// maxSize is the maximum total size in bytes; must be positive. Leftover
// temp files from an interrupted run are removed.
func NewFileSystemStagingArea(stagingDir string, maxSize int64) (tasksnap.StagingArea, error) {
	filesDir := filepath.Join(stagingDir, "files")
	if err := os.MkdirAll(filesDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}

	entries, err := os.ReadDir(filesDir)
	if err != nil {
		return nil, fmt.Errorf("reading staging directory: %w", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), tmpPrefix) {
			os.Remove(filepath.Join(filesDir, e.Name()))
		}
	}

	return &stagingArea{
		store:   &filesystemStore{filesDir: filesDir},
		maxSize: maxSize,
	}, nil
}

func (f *filesystemStore) StoreContent(name string, r io.Reader) (string, int64, error) {
	tmp, err := os.CreateTemp(f.filesDir, tmpPrefix+"*")
	if err != nil {
		return "", 0, fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, h), r)
	if err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("writing content: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, filepath.Join(f.filesDir, name)); err != nil {
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("renaming temp file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}

func (f *filesystemStore) RemoveContent(name string) error {
	err := os.Remove(filepath.Join(f.filesDir, name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing staged %s: %w", name, err)
	}
	return nil
}

func (f *filesystemStore) OpenContent(name string) (io.ReadCloser, error) {
	file, err := os.Open(filepath.Join(f.filesDir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("staged content not found: %s", name)
		}
		return nil, fmt.Errorf("opening staged %s: %w", name, err)
	}
	return file, nil
}

func (f *filesystemStore) ContentSize() (int64, error) {
	entries, err := os.ReadDir(f.filesDir)
	if err != nil {
		return 0, fmt.Errorf("reading staging directory: %w", err)
	}
	var total int64
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), tmpPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return 0, fmt.Errorf("stat %s: %w", e.Name(), err)
		}
		total += info.Size()
	}
	return total, nil
}
