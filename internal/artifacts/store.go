// Package artifacts persists binary outputs of tool executions (screenshots,
// recordings, files) behind a pluggable blob store with TTL-based cleanup.
package artifacts

import (
	"context"
	"io"
	"time"

	pb "github.com/wagmii/core/pkg/proto"
)

// Store is the blob backend a repository writes artifact bytes to.
type Store interface {
	// Put writes the artifact data and returns a stable reference.
	Put(ctx context.Context, artifactID string, data io.Reader, opts PutOptions) (string, error)

	// Get opens the artifact data for reading.
	Get(ctx context.Context, artifactID string) (io.ReadCloser, error)

	// Delete removes the artifact data.
	Delete(ctx context.Context, artifactID string) error

	// Exists reports whether the artifact is present.
	Exists(ctx context.Context, artifactID string) (bool, error)

	// Close releases backend resources.
	Close() error
}

// PutOptions carry per-write hints for the blob backend.
type PutOptions struct {
	MimeType string
	TTL      time.Duration
	Metadata map[string]string
}

// Metadata is the repository's record for one stored artifact.
type Metadata struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	MimeType   string    `json:"mime_type"`
	Filename   string    `json:"filename,omitempty"`
	Size       int64     `json:"size"`
	Reference  string    `json:"reference"`
	SessionID  string    `json:"session_id,omitempty"`
	EdgeID     string    `json:"edge_id,omitempty"`
	TTLSeconds int64     `json:"ttl_seconds,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at,omitempty"`
}

// Filter narrows ListArtifacts results.
type Filter struct {
	SessionID     string
	EdgeID        string
	Type          string
	CreatedAfter  time.Time
	CreatedBefore time.Time
	Limit         int
}

// Repository stores artifacts plus their metadata and serves queries over
// them. Implementations differ in where metadata lives (memory, flat file,
// SQL).
type Repository interface {
	StoreArtifact(ctx context.Context, artifact *pb.Artifact, data io.Reader) error
	GetArtifact(ctx context.Context, artifactID string) (*pb.Artifact, io.ReadCloser, error)
	ListArtifacts(ctx context.Context, filter Filter) ([]*pb.Artifact, error)
	DeleteArtifact(ctx context.Context, artifactID string) error
	PruneExpired(ctx context.Context) (int, error)
}

// defaultTTLs maps artifact types to retention windows.
var defaultTTLs = map[string]time.Duration{
	"screenshot": 24 * time.Hour,
	"recording":  24 * time.Hour,
	"file":       7 * 24 * time.Hour,
}

// GetDefaultTTL returns the retention window for an artifact type.
func GetDefaultTTL(artifactType string) time.Duration {
	if ttl, ok := defaultTTLs[artifactType]; ok {
		return ttl
	}
	return 72 * time.Hour
}
