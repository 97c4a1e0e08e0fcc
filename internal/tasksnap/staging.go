package tasksnap

import "io"

// StagedArtifact describes an artifact held in the staging area.
type StagedArtifact struct {
	Name     string
	Checksum string // hex SHA-256 of the content
	Size     int64
}

// StagingArea holds freshly serialized artifacts before they are copied to
// their archive directories. The staging area enforces a maximum size; a
// Stage call that would exceed it fails with ErrInsufficientSpace.
type StagingArea interface {
	// Stage copies r into staging under name, replacing any previous
	// content with that name.
	Stage(name string, r io.Reader) (*StagedArtifact, error)

	// Open returns a reader for staged content.
	Open(name string) (io.ReadCloser, error)

	// Remove deletes staged content. Removing a missing name is not an error.
	Remove(name string) error

	// Size returns the total size of staged content in bytes.
	Size() (int64, error)
}
