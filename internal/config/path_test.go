package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	t.Setenv("LEDGER_TEST_DIR", "/var/data")

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty", "", ""},
		{"absolute unchanged", "/etc/ledger.yaml", "/etc/ledger.yaml"},
		{"tilde slash", "~/ledger.db", filepath.Join(home, "ledger.db")},
		{"bare tilde", "~", home},
		{"env var", "$LEDGER_TEST_DIR/ledger.db", "/var/data/ledger.db"},
		{"tilde mid-path untouched", "/opt/~/x", "/opt/~/x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ExpandPath(tt.input))
		})
	}
}
