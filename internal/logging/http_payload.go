package logging

import (
	"bytes"
	"encoding/json"
	"strings"
)

const maxPayloadBytes = 4096

// FormatHTTPPayload renders a response or frame body for log output. JSON
// bodies are indented and have credential members masked, since auth
// responses carry the access token.
func FormatHTTPPayload(raw []byte) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "<empty>"
	}

	// Some backends wrap the error document in a JSON string.
	var quoted string
	if json.Unmarshal(trimmed, &quoted) == nil {
		trimmed = []byte(strings.TrimSpace(quoted))
	}

	var value any
	if json.Unmarshal(trimmed, &value) == nil {
		if pretty, err := marshalIndented(redactJSON(value)); err == nil {
			return clip(pretty)
		}
	}
	return clip(string(trimmed))
}

func marshalIndented(value any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(value); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

func clip(s string) string {
	if len(s) <= maxPayloadBytes {
		return s
	}
	return s[:maxPayloadBytes] + "...(truncated)"
}
