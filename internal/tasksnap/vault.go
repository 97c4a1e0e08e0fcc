package tasksnap

import (
	"errors"
	"io"
)

// ErrObjectNotFound is returned by vaults when a key or metadata item does
// not exist.
var ErrObjectNotFound = errors.New("object not found")

// Vault is a storage location for snapshot files and replica database
// copies. Implementations stream through io.Reader/io.Writer so artifacts
// need not be held in memory twice.
type Vault interface {
	// Name returns the configured vault name.
	Name() string

	// Put stores the object at key, replacing any previous value. The write
	// is atomic: readers see either the old or the new object.
	// size is the number of bytes that will be read from r.
	Put(key string, r io.Reader, size int64) error

	// Get writes the object at key to w. A missing key wraps ErrObjectNotFound.
	Get(key string, w io.Writer) error

	// Delete removes the object at key. A missing key wraps ErrObjectNotFound.
	Delete(key string) error

	// List returns every key starting with prefix, in lexical order.
	List(prefix string) ([]string, error)

	// PutMetadata stores a named metadata item for a host together with a
	// version marker. Known names: "db" (replica database copy).
	PutMetadata(hostID string, name string, r io.Reader, size int64, version int64) error

	// GetMetadata writes a named metadata item for a host to w.
	GetMetadata(hostID string, name string, w io.Writer) error

	// GetMetadataVersion returns the version stored with a metadata item,
	// or 0 if none has been stored.
	GetMetadataVersion(hostID string, name string) (int64, error)

	// ValidateSetup verifies that the vault is reachable and writable.
	ValidateSetup() error
}

// Watcher is implemented by vaults that can push change notifications
// instead of being polled. The returned channel receives a value whenever
// the metadata for hostID may have changed and is closed when stop is called.
type Watcher interface {
	WatchMetadata(hostID string) (changes <-chan struct{}, stop func(), err error)
}
