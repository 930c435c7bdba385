package security

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	tmpDir := t.TempDir()

	safeDir := filepath.Join(tmpDir, "static")
	outside := filepath.Join(tmpDir, "outside")
	for _, d := range []string{safeDir, outside} {
		if err := os.MkdirAll(d, 0755); err != nil {
			t.Fatalf("Failed to create %s: %v", d, err)
		}
	}
	link := filepath.Join(safeDir, "escape")
	if err := os.Symlink(outside, link); err != nil {
		t.Fatalf("Failed to create symlink: %v", err)
	}

	tests := []struct {
		name      string
		filePath  string
		wantError bool
	}{
		{"file in dir", filepath.Join(safeDir, "aps.json"), false},
		{"nested new file", filepath.Join(safeDir, "plots", "aa_bb.png"), false},
		{"dir itself", safeDir, false},
		{"dot dot", filepath.Join(safeDir, "..", "secret"), true},
		{"sibling", filepath.Join(outside, "x"), true},
		{"through symlink", filepath.Join(link, "new.txt"), true},
		{"symlink itself", link, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tt.filePath, safeDir)
			if (err != nil) != tt.wantError {
				t.Errorf("ValidatePathWithinDirectory(%q) error = %v, wantError %v", tt.filePath, err, tt.wantError)
			}
		})
	}
}

func TestValidatePathWithinDirectory_MissingDir(t *testing.T) {
	if err := ValidatePathWithinDirectory("/tmp/x", "/definitely/not/here"); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"aa:bb:cc:dd:ee:ff", "aa_bb_cc_dd_ee_ff"},
		{"Home Net!!", "Home_Net"},
		{"../../etc/passwd", "etc_passwd"},
		{"", "unknown"},
		{"::::", "unknown"},
		{"plot-01.png", "plot-01.png"},
	}
	for _, tt := range tests {
		if got := SanitizeFilename(tt.in); got != tt.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	long := SanitizeFilename(strings.Repeat("a", 300))
	if len(long) > maxFilenameLen {
		t.Errorf("len = %d, want <= %d", len(long), maxFilenameLen)
	}
}
