package sanitize

import (
	"strings"
	"testing"

	"github.com/autodev-ai/secgate/internal/log"
)

func TestValidateFilePath(t *testing.T) {
	s := New(Limits{}, "", log.NewNop())

	tests := []struct {
		name     string
		path     string
		wantCode string
	}{
		{"relative file", "notes/today.md", ""},
		{"dot segment", "./config.yaml", ""},
		{"plain absolute without root policy", "/tmp/scratch.txt", ""},
		{"traversal", "../../../etc/passwd", CodePathTraversal},
		{"embedded traversal", "data/../../secret", CodePathTraversal},
		{"windows traversal", `..\..\windows\system32`, CodePathTraversal},
		{"mixed separators", `data\..\..\secret`, CodePathTraversal},
		{"empty", "", CodePathEmpty},
		{"null byte", "a\x00b", CodeNullByte},
		{"oversize", strings.Repeat("a/", 5000), CodeInputTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := s.ValidateFilePath(tt.path)
			if tt.wantCode == "" {
				if !res.Valid {
					t.Errorf("ValidateFilePath(%q) = invalid %q, want valid", tt.path, res.Code)
				}
				return
			}
			if res.Valid || res.Code != tt.wantCode {
				t.Errorf("ValidateFilePath(%q) = %+v, want code %q", tt.path, res, tt.wantCode)
			}
		})
	}
}

func TestValidateFilePathAllowedRoot(t *testing.T) {
	s := New(Limits{}, "/srv/workspace", log.NewNop())

	tests := []struct {
		name     string
		path     string
		wantCode string
	}{
		{"inside root", "/srv/workspace/project/main.go", ""},
		{"root itself", "/srv/workspace", ""},
		{"relative stays unchecked against root", "project/main.go", ""},
		{"outside root", "/etc/passwd", CodePathOutsideRoot},
		{"sibling with shared prefix", "/srv/workspace2/file", CodePathOutsideRoot},
		{"traversal out of root", "/srv/workspace/../shadow", CodePathTraversal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := s.ValidateFilePath(tt.path)
			if tt.wantCode == "" {
				if !res.Valid {
					t.Errorf("ValidateFilePath(%q) = invalid %q, want valid", tt.path, res.Code)
				}
				return
			}
			if res.Valid || res.Code != tt.wantCode {
				t.Errorf("ValidateFilePath(%q) = %+v, want code %q", tt.path, res, tt.wantCode)
			}
		})
	}
}

// TestValidateFilePathIdempotent checks that an accepted path re-validates as
// accepted: validation performs no rewriting.
func TestValidateFilePathIdempotent(t *testing.T) {
	s := New(Limits{}, "/srv/workspace", log.NewNop())

	accepted := []string{
		"notes/today.md",
		"/srv/workspace/project/main.go",
		"./config.yaml",
	}
	for _, p := range accepted {
		if res := s.ValidateFilePath(p); !res.Valid {
			t.Fatalf("first validation of %q failed: %q", p, res.Code)
		}
		if res := s.ValidateFilePath(p); !res.Valid {
			t.Errorf("second validation of %q failed: %q", p, res.Code)
		}
	}
}
