package sanitize

import (
	"path"
	"strings"
)

// ValidateFilePath rejects any path containing traversal segments or escaping
// the allowed root. Separators are normalized before checking so Windows-style
// payloads ("..\\..\\etc") cannot slip past the segment scan.
//
// The check is pure string work: no filesystem access, no symlink resolution.
// Callers performing actual file I/O must re-validate against the real
// filesystem; this engine only gates what crosses the IPC boundary.
//
// Accepted paths are idempotent: a path that validates once validates again
// unchanged.
func (s *Sanitizer) ValidateFilePath(raw string) Result {
	if raw == "" {
		return Reject(CodePathEmpty, "empty path")
	}
	if len(raw) > s.limits.MaxStringLen {
		return Reject(CodeInputTooLong, "path exceeds maximum length")
	}
	if strings.ContainsRune(raw, 0) {
		return Reject(CodeNullByte, "path contains null byte")
	}

	// Normalize separators before any segment inspection.
	normalized := strings.ReplaceAll(raw, "\\", "/")

	for _, seg := range strings.Split(normalized, "/") {
		if seg == ".." {
			s.logger.Warn("path traversal segment detected",
				"security_event", "path_traversal")
			return Reject(CodePathTraversal, "path contains traversal segment")
		}
	}

	// Cleaning must not introduce an escape either (e.g. "a/../../b").
	cleaned := path.Clean(normalized)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		s.logger.Warn("path escapes after normalization",
			"security_event", "path_traversal")
		return Reject(CodePathTraversal, "path escapes its base after normalization")
	}

	if s.allowedRoot != "" {
		root := strings.TrimSuffix(strings.ReplaceAll(s.allowedRoot, "\\", "/"), "/")
		if strings.HasPrefix(cleaned, "/") {
			// Absolute paths must live under the allowed root.
			if cleaned != root && !strings.HasPrefix(cleaned, root+"/") {
				s.logger.Warn("absolute path outside allowed root",
					"security_event", "path_outside_root")
				return Reject(CodePathOutsideRoot, "absolute path outside allowed root")
			}
		}
	}

	return OK
}
