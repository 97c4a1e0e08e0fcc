package staging

import "io"

// stagingStore abstracts the storage mechanics for a staging area.
// Concurrency is managed by the caller (stagingArea.mu), so stores
// do not need to be safe for concurrent use.
type stagingStore interface {
	// StoreContent reads from r into name, replacing previous content, and
	// returns the hex SHA-256 and size of what was stored.
	StoreContent(name string, r io.Reader) (checksum string, size int64, err error)

	// RemoveContent removes stored content by name. A missing name is not an error.
	RemoveContent(name string) error

	// OpenContent returns a reader for stored content.
	OpenContent(name string) (io.ReadCloser, error)

	// ContentSize returns total bytes of all stored content.
	ContentSize() (int64, error)
}
