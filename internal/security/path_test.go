package security

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateFilePath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr bool
		errMsg  string
	}{
		{name: "valid relative path", path: "config/test.json"},
		{name: "valid absolute path", path: "/etc/wamux/config.toml"},
		{name: "double dot inside a name", path: "backups/creds..old"},
		{name: "empty path", path: "", wantErr: true, errMsg: "path cannot be empty"},
		{name: "leading traversal", path: "../../../etc/passwd", wantErr: true, errMsg: "directory traversal"},
		{name: "embedded traversal", path: "config/../../etc/passwd", wantErr: true, errMsg: "directory traversal"},
		{name: "nul byte", path: "a\x00b", wantErr: true, errMsg: "NUL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFilePath(tt.path)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidateFilePathWithBase(t *testing.T) {
	base := t.TempDir()

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{name: "file in base", path: "abc.jpg"},
		{name: "nested file", path: "alpha_credentials/creds.json"},
		{name: "absolute path", path: "/tmp/x.jpg", wantErr: true},
		{name: "escape", path: "../x.jpg", wantErr: true},
		{name: "base itself", path: ".", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFilePathWithBase(tt.path, base)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestSafeJoin(t *testing.T) {
	base := t.TempDir()

	p, err := SafeJoin(base, "report.pdf")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "report.pdf"), p)

	_, err = SafeJoin(base, "../report.pdf")
	assert.Error(t, err)
}
