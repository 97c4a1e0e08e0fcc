package staging

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"tasksnap/internal/tasksnap"
)

// stagingArea implements tasksnap.StagingArea using a pluggable stagingStore
// for the storage mechanics. All shared logic lives here.
type stagingArea struct {
	store   stagingStore
	maxSize int64
	mu      sync.Mutex
}

var _ tasksnap.StagingArea = (*stagingArea)(nil)

// Stage copies r into the staging area under name. Content that would push
// the staging area over its maximum size is discarded.
func (s *stagingArea) Stage(name string, r io.Reader) (*tasksnap.StagedArtifact, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	checksum, size, err := s.store.StoreContent(name, r)
	if err != nil {
		return nil, fmt.Errorf("storing content: %w", err)
	}

	total, err := s.store.ContentSize()
	if err != nil {
		s.store.RemoveContent(name)
		return nil, fmt.Errorf("getting current size: %w", err)
	}
	if total > s.maxSize {
		s.store.RemoveContent(name)
		return nil, fmt.Errorf("%w: staging %s would use %d of %d bytes", tasksnap.ErrInsufficientSpace, name, total, s.maxSize)
	}

	return &tasksnap.StagedArtifact{Name: name, Checksum: checksum, Size: size}, nil
}

// Open returns a reader for staged content.
func (s *stagingArea) Open(name string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.OpenContent(name)
}

// Remove deletes staged content.
func (s *stagingArea) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.RemoveContent(name)
}

// Size returns the total size of staged content in bytes.
func (s *stagingArea) Size() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.ContentSize()
}

func validateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid staging name: %q", name)
	}
	return nil
}
