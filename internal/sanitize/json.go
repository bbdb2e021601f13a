package sanitize

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
)

// ValidateJSON enforces payload size and nesting depth limits before any
// semantic checks run. Pathological payloads (multi-megabyte bodies, deeply
// nested arrays) are rejected without full decoding into memory.
func (s *Sanitizer) ValidateJSON(raw []byte) Result {
	if len(raw) > s.limits.MaxPayloadBytes {
		return Reject(CodePayloadTooLarge, "payload exceeds maximum size")
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	depth := 0
	seen := false
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Reject(CodeMalformedJSON, "payload is not valid JSON")
		}
		seen = true
		switch t := tok.(type) {
		case json.Delim:
			switch t {
			case '{', '[':
				depth++
				if depth > s.limits.MaxJSONDepth {
					s.logger.Warn("json payload exceeds depth limit",
						"max_depth", s.limits.MaxJSONDepth,
						"security_event", "json_depth_exceeded")
					return Reject(CodeJSONTooDeep, "payload nesting exceeds maximum depth")
				}
			case '}', ']':
				depth--
			}
		}
	}
	if !seen {
		return Reject(CodeMalformedJSON, "empty payload")
	}
	return OK
}

// ValidateIPCInput validates a whole command payload crossing the IPC
// boundary: the command name format plus the structure of the JSON argument
// payload, and then the markup blocklist over every string value found.
func (s *Sanitizer) ValidateIPCInput(commandName string, argsJSON []byte) Result {
	if res := s.ValidateCommandName(commandName); !res.Valid {
		return res
	}
	if len(argsJSON) == 0 {
		// Commands without arguments are legitimate.
		return OK
	}
	if res := s.ValidateJSON(argsJSON); !res.Valid {
		return res
	}

	// Structural checks passed; scan string leaves for injection patterns.
	var decoded any
	if err := json.Unmarshal(argsJSON, &decoded); err != nil {
		return Reject(CodeMalformedJSON, "payload is not valid JSON")
	}
	return s.scanValue(decoded)
}

// scanValue walks a decoded JSON value applying the string blocklist to every
// leaf. Depth was already bounded by ValidateJSON so recursion is safe.
func (s *Sanitizer) scanValue(v any) Result {
	switch val := v.(type) {
	case string:
		return s.SanitizeString(val)
	case []any:
		for _, item := range val {
			if res := s.scanValue(item); !res.Valid {
				return res
			}
		}
	case map[string]any:
		for key, item := range val {
			if res := s.SanitizeString(key); !res.Valid {
				return res
			}
			if res := s.scanValue(item); !res.Valid {
				return res
			}
		}
	}
	return OK
}
