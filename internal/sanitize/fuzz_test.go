package sanitize

import (
	"strings"
	"testing"

	"github.com/autodev-ai/secgate/internal/log"
)

// FuzzValidateFilePath tests path validation against malicious inputs.
// Run with: go test -fuzz=FuzzValidateFilePath -fuzztime=30s ./internal/sanitize/
func FuzzValidateFilePath(f *testing.F) {
	seedCorpus := []string{
		"../../../etc/passwd",
		"..\\..\\..\\etc\\passwd",
		"....//....//....//etc/passwd",
		"data/../../secret",
		"/tmp/./test/../../../etc/passwd",
		"file.txt\x00.exe",
		"",
		"/",
		".",
		"..",
		"~/../etc/passwd",
		strings.Repeat("../", 100),
		strings.Repeat("a", 10000),
	}
	for _, seed := range seedCorpus {
		f.Add(seed)
	}

	s := New(Limits{}, "/srv/workspace", log.NewNop())
	f.Fuzz(func(t *testing.T, path string) {
		res := s.ValidateFilePath(path)
		// Property: no accepted path may contain a ".." segment in any
		// separator convention.
		if res.Valid {
			normalized := strings.ReplaceAll(path, "\\", "/")
			for _, seg := range strings.Split(normalized, "/") {
				if seg == ".." {
					t.Errorf("accepted path with traversal segment: %q", path)
				}
			}
		}
		// Property: idempotence — re-validating an accepted path accepts.
		if res.Valid {
			if again := s.ValidateFilePath(path); !again.Valid {
				t.Errorf("accepted path failed re-validation: %q (code %q)", path, again.Code)
			}
		}
	})
}

// FuzzSanitizeString checks that the string sanitizer never panics and that
// rejections always carry a non-empty stable code.
func FuzzSanitizeString(f *testing.F) {
	seedCorpus := []string{
		"<script>alert(1)</script>",
		"<img src=x onerror=alert(1)>",
		"javascript:alert(document.cookie)",
		"JaVaScRiPt:void(0)",
		"data:text/html;base64,PHNjcmlwdD4=",
		"plain text",
		"\x00",
		strings.Repeat("<", 5000),
	}
	for _, seed := range seedCorpus {
		f.Add(seed)
	}

	s := New(Limits{}, "", log.NewNop())
	f.Fuzz(func(t *testing.T, input string) {
		res := s.SanitizeString(input)
		if !res.Valid && res.Code == "" {
			t.Errorf("rejection without code for %q", input)
		}
		// Determinism: the same input always yields the same result.
		if again := s.SanitizeString(input); again != res {
			t.Errorf("non-deterministic result for %q: %+v vs %+v", input, res, again)
		}
	})
}

// FuzzValidateIPCInput ensures arbitrary payload bytes cannot panic the
// whole-payload validator.
func FuzzValidateIPCInput(f *testing.F) {
	f.Add("save_settings", []byte(`{"a":1}`))
	f.Add("cmd", []byte(`{"nested":{"deep":["x"]}}`))
	f.Add("x", []byte(`not json`))
	f.Add("", []byte(``))
	f.Add("save_settings", []byte(strings.Repeat("[", 100000)))

	s := New(Limits{}, "", log.NewNop())
	f.Fuzz(func(t *testing.T, command string, args []byte) {
		res := s.ValidateIPCInput(command, args)
		if !res.Valid && res.Code == "" {
			t.Errorf("rejection without code for command %q", command)
		}
	})
}
