package staging

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"tasksnap/internal/tasksnap"
)

// memoryStore is an in-memory implementation of stagingStore.
type memoryStore struct {
	content map[string][]byte
}

var _ stagingStore = (*memoryStore)(nil)

// NewMemoryStagingArea creates a new in-memory staging area.
// maxSize is the maximum total size in bytes; must be positive.
func NewMemoryStagingArea(maxSize int64) tasksnap.StagingArea {
	return &stagingArea{
		store:   &memoryStore{content: make(map[string][]byte)},
		maxSize: maxSize,
	}
}

func (m *memoryStore) StoreContent(name string, r io.Reader) (string, int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", 0, fmt.Errorf("reading content: %w", err)
	}
	sum := sha256.Sum256(data)
	m.content[name] = data
	return hex.EncodeToString(sum[:]), int64(len(data)), nil
}

func (m *memoryStore) RemoveContent(name string) error {
	delete(m.content, name)
	return nil
}

func (m *memoryStore) OpenContent(name string) (io.ReadCloser, error) {
	data, ok := m.content[name]
	if !ok {
		return nil, fmt.Errorf("staged content not found: %s", name)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryStore) ContentSize() (int64, error) {
	var total int64
	for _, data := range m.content {
		total += int64(len(data))
	}
	return total, nil
}
