package logging

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

type renderedField struct {
	key   string
	value string
	block bool
}

// formatLine renders an event as "15:04:05 [LEVEL] message k=v ...". Payload
// fields follow on their own indented lines.
func formatLine(event Event) string {
	var b strings.Builder
	b.WriteString(event.Time.Format("15:04:05"))
	b.WriteString(" [")
	b.WriteString(strings.ToUpper(event.Level.String()))
	b.WriteString("] ")
	b.WriteString(event.Message)
	var blocks []renderedField
	for _, field := range renderFields(event.Fields) {
		if field.block {
			blocks = append(blocks, field)
			continue
		}
		b.WriteString(" ")
		b.WriteString(field.key)
		b.WriteString("=")
		b.WriteString(field.value)
	}
	for _, field := range blocks {
		b.WriteString("\n  ")
		b.WriteString(field.key)
		b.WriteString(":\n")
		b.WriteString(indent(field.value, "    "))
	}
	b.WriteString("\n")
	return b.String()
}

// renderFields orders keys alphabetically with payload fields last.
func renderFields(fields map[string]any) []renderedField {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		pi, pj := isPayloadKey(keys[i]), isPayloadKey(keys[j])
		if pi != pj {
			return pj
		}
		return keys[i] < keys[j]
	})

	out := make([]renderedField, 0, len(keys))
	for _, key := range keys {
		value := fields[key]
		if isPayloadKey(key) {
			text := payloadText(value)
			out = append(out, renderedField{key: key, value: text, block: strings.Contains(text, "\n")})
			continue
		}
		out = append(out, renderedField{key: key, value: formatValue(value)})
	}
	return out
}

func isPayloadKey(key string) bool {
	switch strings.ToLower(key) {
	case "payload", "response", "body", "frame":
		return true
	default:
		return false
	}
}

func payloadText(value any) string {
	switch v := value.(type) {
	case []byte:
		return FormatHTTPPayload(v)
	case string:
		return v
	default:
		return formatValue(value)
	}
}

func formatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return "<nil>"
	case string:
		return quoteIfNeeded(v)
	case error:
		return quoteIfNeeded(v.Error())
	case fmt.Stringer:
		return quoteIfNeeded(v.String())
	case []byte:
		return quoteIfNeeded(string(v))
	default:
		return quoteIfNeeded(fmt.Sprint(v))
	}
}

func quoteIfNeeded(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\r\n=\"") {
		return strconv.Quote(s)
	}
	return s
}

func indent(text string, prefix string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}
