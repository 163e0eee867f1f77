package receipts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// FSStore persists receipt binaries on the local filesystem. Objects are
// named by a fresh UUID so redelivered uploads never collide.
type FSStore struct {
	root string
}

// NewFSStore creates a filesystem receipt store rooted at the given directory.
func NewFSStore(root string) (*FSStore, error) {
	if root == "" {
		return nil, fmt.Errorf("receipt store root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create receipt directory: %w", err)
	}
	return &FSStore{root: root}, nil
}

// Store writes the receipt binary and returns its path.
func (s *FSStore) Store(ctx context.Context, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("receipt store canceled: %w", err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("receipt data is empty")
	}

	name := uuid.NewString() + extensionFor(contentType)
	path := filepath.Join(s.root, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write receipt %s: %w", name, err)
	}
	return path, nil
}
