package snapshot

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// IDLayout derives snapshot identifiers from their creation time.
const IDLayout = "20060102T150405.000Z"

const (
	artifactSuffix          = ".json"
	encryptedArtifactSuffix = ".json.age"
	metadataSuffix          = ".meta.json"
)

// Metadata is the sidecar stored next to every artifact. It is encoded on
// its own so snapshots can be listed without reading artifact bodies.
type Metadata struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"createdAt"`
	DeviceName  string    `json:"deviceName"`
	AppVersion  string    `json:"appVersion"`
	OSVersion   string    `json:"osVersion"`
	RecordCount int       `json:"recordCount"`
	FileSize    int64     `json:"fileSize"`
	IsAutomatic bool      `json:"isAutomatic"`
}

// NewID returns the snapshot identifier for a creation time.
func NewID(createdAt time.Time) string {
	return createdAt.UTC().Format(IDLayout)
}

// ArtifactName is the file name of a plaintext artifact.
func ArtifactName(id string) string { return id + artifactSuffix }

// EncryptedArtifactName is the file name of an encrypted artifact copy.
func EncryptedArtifactName(id string) string { return id + encryptedArtifactSuffix }

// MetadataName is the file name of the metadata sidecar.
func MetadataName(id string) string { return id + metadataSuffix }

// FileKind classifies a file found in an archive directory.
type FileKind int

const (
	FileUnknown FileKind = iota
	FileArtifact
	FileEncryptedArtifact
	FileMetadata
)

// ParseName splits an archive file name into its snapshot id and kind.
func ParseName(name string) (id string, kind FileKind) {
	// Suffix order matters: ".meta.json" and ".json.age" both overlap ".json".
	switch {
	case strings.HasSuffix(name, metadataSuffix):
		return strings.TrimSuffix(name, metadataSuffix), FileMetadata
	case strings.HasSuffix(name, encryptedArtifactSuffix):
		return strings.TrimSuffix(name, encryptedArtifactSuffix), FileEncryptedArtifact
	case strings.HasSuffix(name, artifactSuffix):
		return strings.TrimSuffix(name, artifactSuffix), FileArtifact
	default:
		return "", FileUnknown
	}
}

// MarshalMetadata encodes a sidecar.
func MarshalMetadata(m *Metadata) ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}
	return append(data, '\n'), nil
}

// UnmarshalMetadata decodes a sidecar.
func UnmarshalMetadata(data []byte) (*Metadata, error) {
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding metadata: %w", err)
	}
	if m.ID == "" {
		return nil, fmt.Errorf("decoding metadata: missing id")
	}
	return &m, nil
}
