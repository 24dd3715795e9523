package blob

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"transcript-orchestrator/pkg/models"
)

// ErrAssetNotFound means the referenced audio asset does not exist in
// blob storage. Fatal to the submission that referenced it.
var ErrAssetNotFound = errors.New("audio asset not found")

// Store is the read side of the blob storage collaborator. Uploading
// is external; the core only checks existence before issuing URLs.
type Store interface {
	Stat(ctx context.Context, name string) (*models.AudioAsset, error)
}

type dirStore struct {
	root      string
	container string
}

// NewDirStore returns a Store over a local directory, one file per
// asset. Stands in for the hosted blob service in development and
// tests.
func NewDirStore(root, container string) (Store, error) {
	if err := os.MkdirAll(filepath.Join(root, container), 0755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &dirStore{root: root, container: container}, nil
}

func (s *dirStore) Stat(ctx context.Context, name string) (*models.AudioAsset, error) {
	info, err := os.Stat(filepath.Join(s.root, s.container, filepath.Clean(name)))
	if os.IsNotExist(err) {
		return nil, ErrAssetNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat asset %s: %w", name, err)
	}

	return &models.AudioAsset{
		Container:  s.container,
		Name:       name,
		UploadedAt: info.ModTime(),
	}, nil
}
