package folder

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"habitsync/internal/remote"
	"habitsync/internal/snapshot"
	"habitsync/internal/utils"
)

func init() {
	// Register folder remote for config type "folder"
	remote.RegisterType("folder", func(cfg remote.Config) (remote.Store, error) {
		return New(cfg)
	})
}

// Store keeps the snapshot in a local directory, typically one mirrored by
// a desktop cloud-drive client
type Store struct {
	cfg remote.Config
	dir string
}

// New creates a folder store, creating the directory if needed
func New(cfg remote.Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("folder remote %s has no path", cfg.DisplayName())
	}
	dir, err := utils.ExpandPath(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("invalid folder path: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create folder %s: %w", dir, err)
	}
	return &Store{cfg: cfg, dir: dir}, nil
}

// DisplayName identifies the remote in messages
func (s *Store) DisplayName() string {
	return s.cfg.DisplayName()
}

// Dir returns the resolved directory
func (s *Store) Dir() string {
	return s.dir
}

// GetMetadata reads the sidecar, falling back to the body header
func (s *Store) GetMetadata(ctx context.Context, fileID string) (*snapshot.Header, error) {
	if err := remote.ValidateFileID(fileID); err != nil {
		return nil, err
	}

	data, err := s.read("GetMetadata", fileID+remote.MetadataSuffix)
	if remote.IsNotFound(err) {
		data, err = s.read("GetMetadata", fileID)
	}
	if err != nil {
		return nil, err
	}
	return snapshot.DecodeMetadata(data)
}

// GetBody reads the snapshot file
func (s *Store) GetBody(ctx context.Context, fileID string) ([]byte, error) {
	if err := remote.ValidateFileID(fileID); err != nil {
		return nil, err
	}
	return s.read("GetBody", fileID)
}

// PutBody atomically replaces the snapshot file, then its sidecar
func (s *Store) PutBody(ctx context.Context, fileID string, body []byte) error {
	if err := remote.ValidateFileID(fileID); err != nil {
		return err
	}
	header, err := remote.HeaderFromBody(body)
	if err != nil {
		return remote.NewTransportError("PutBody", remote.KindProtocol, err.Error()).WithError(err)
	}
	sidecar, err := snapshot.EncodeMetadata(*header)
	if err != nil {
		return err
	}

	metaPath := filepath.Join(s.dir, fileID+remote.MetadataSuffix)
	if err := os.Remove(metaPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return ioError("PutBody", err)
	}
	if err := writeAtomic(filepath.Join(s.dir, fileID), body); err != nil {
		return ioError("PutBody", err)
	}
	if err := writeAtomic(metaPath, sidecar); err != nil {
		utils.Warnf("Snapshot written but its metadata sidecar was not: %v", err)
	}
	return nil
}

func (s *Store) read(op, name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, remote.NotFound(op, name)
	}
	if err != nil {
		return nil, ioError(op, err)
	}
	return data, nil
}

// writeAtomic writes to a temp file in the same directory and renames it
// over the target, so readers never see a half-written file
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func ioError(op string, err error) error {
	kind := remote.KindNetwork
	switch {
	case errors.Is(err, fs.ErrPermission):
		kind = remote.KindUnauthorized
	case errors.Is(err, syscall.ENOSPC):
		kind = remote.KindQuotaExceeded
	}
	return remote.NewTransportError(op, kind, err.Error()).WithError(err)
}
