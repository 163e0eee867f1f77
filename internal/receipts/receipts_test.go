package receipts

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeContentType(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"application/pdf", "application/pdf"},
		{"application/pdf; charset=binary", "application/pdf"},
		{"IMAGE/JPEG", "image/jpeg"},
		{"  image/png  ", "image/png"},
		{"image/jpeg;q=0.9", "image/jpeg"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeContentType(tt.input))
		})
	}
}

func TestExtensionFor(t *testing.T) {
	tests := []struct {
		contentType string
		expected    string
	}{
		{"application/pdf", ".pdf"},
		{"image/jpeg", ".jpg"},
		{"image/jpg", ".jpg"},
		{"image/png; charset=binary", ".png"},
		{"image/heic", ".heic"},
		{"application/octet-stream", ".bin"},
		{"", ".bin"},
	}

	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			assert.Equal(t, tt.expected, extensionFor(tt.contentType))
		})
	}
}

func TestNewFSStoreRequiresRoot(t *testing.T) {
	_, err := NewFSStore("")
	assert.Error(t, err)
}

func TestFSStoreWritesReceipt(t *testing.T) {
	root := t.TempDir()
	store, err := NewFSStore(root)
	require.NoError(t, err)

	data := []byte("%PDF-1.4 fake receipt")
	path, err := store.Store(context.Background(), data, "application/pdf; charset=binary")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(path, root))
	assert.Equal(t, ".pdf", filepath.Ext(path))

	written, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, written)
}

func TestFSStoreUniqueNames(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	first, err := store.Store(context.Background(), []byte("a"), "image/png")
	require.NoError(t, err)
	second, err := store.Store(context.Background(), []byte("a"), "image/png")
	require.NoError(t, err)

	assert.NotEqual(t, first, second, "identical uploads must not collide")
}

func TestFSStoreRejectsEmptyData(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Store(context.Background(), nil, "application/pdf")
	assert.Error(t, err)
}

func TestFSStoreHonorsCanceledContext(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = store.Store(ctx, []byte("data"), "application/pdf")
	assert.ErrorIs(t, err, context.Canceled)
}
