package remote

import (
	"context"
	"fmt"
	"strings"
	"time"

	"habitsync/internal/snapshot"
)

// MetadataSuffix is appended to a file ID to name its metadata sidecar
const MetadataSuffix = ".meta.json"

// Store is the remote snapshot file. A remote holds at most one snapshot
// per file ID and replaces it whole on PutBody.
type Store interface {
	// GetMetadata returns the header of the stored snapshot without
	// transferring the body when the remote can avoid it
	GetMetadata(ctx context.Context, fileID string) (*snapshot.Header, error)
	GetBody(ctx context.Context, fileID string) ([]byte, error)
	PutBody(ctx context.Context, fileID string, body []byte) error
	// DisplayName identifies the remote in messages
	DisplayName() string
}

// Config is the remote section of the configuration file
type Config struct {
	Type               string        `yaml:"type" json:"type" validate:"required,oneof=webdav folder memory"`
	Name               string        `yaml:"name,omitempty" json:"name,omitempty"`
	URL                string        `yaml:"url,omitempty" json:"url,omitempty" validate:"required_if=Type webdav,omitempty,url"`
	Username           string        `yaml:"username,omitempty" json:"username,omitempty"`
	Password           string        `yaml:"-" json:"-"`
	Path               string        `yaml:"path,omitempty" json:"path,omitempty" validate:"required_if=Type folder"`
	FileID             string        `yaml:"file_id" json:"file_id" validate:"required"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify,omitempty" json:"insecure_skip_verify,omitempty"`
	SuppressSSLWarning bool          `yaml:"suppress_ssl_warning,omitempty" json:"suppress_ssl_warning,omitempty"`
	AllowHTTP          bool          `yaml:"allow_http,omitempty" json:"allow_http,omitempty"`
	Timeout            time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty" validate:"gte=0"`
}

// DisplayName returns the configured name or the remote type
func (c Config) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.Type
}

// ValidateFileID rejects IDs that could escape the remote's root
func ValidateFileID(fileID string) error {
	if fileID == "" {
		return fmt.Errorf("file ID is empty")
	}
	if strings.ContainsAny(fileID, `/\`) || fileID == "." || fileID == ".." || strings.HasPrefix(fileID, ".") {
		return fmt.Errorf("invalid file ID %q: must be a plain file name", fileID)
	}
	return nil
}

// HeaderFromBody builds the sidecar header for a body about to be stored.
// Only a well-formed snapshot can be stored.
func HeaderFromBody(body []byte) (*snapshot.Header, error) {
	h, err := snapshot.DecodeMetadata(body)
	if err != nil {
		return nil, fmt.Errorf("refusing to store an invalid snapshot: %w", err)
	}
	return h, nil
}
