package logging

import "strings"

const redacted = "***"

// RedactToken keeps only enough of a bearer token to correlate log lines.
// Applying it twice yields the same result.
func RedactToken(token string) string {
	token = strings.TrimSpace(token)
	token = strings.TrimPrefix(token, "Bearer ")
	switch {
	case token == "":
		return "<none>"
	case len(token) <= 8:
		return redacted
	case len(token) == 11 && token[4:7] == "...":
		return token
	default:
		return token[:4] + "..." + token[len(token)-4:]
	}
}

type sensitivity int

const (
	notSensitive sensitivity = iota
	tokenLike
	secret
)

func classifyKey(key string) sensitivity {
	k := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(key), "-", "_"))
	switch k {
	case "password", "secret", "cookie", "set_cookie":
		return secret
	case "token", "access_token", "refresh_token", "authorization", "bearer", "jwt":
		return tokenLike
	}
	switch {
	case strings.HasSuffix(k, "token"):
		return tokenLike
	case strings.HasSuffix(k, "password"):
		return secret
	}
	return notSensitive
}

func redactField(key string, value any) any {
	switch classifyKey(key) {
	case secret:
		return redacted
	case tokenLike:
		if s, ok := value.(string); ok {
			return RedactToken(s)
		}
		return redacted
	default:
		return value
	}
}

// redactJSON walks a decoded JSON value and masks credential-like members.
func redactJSON(value any) any {
	switch v := value.(type) {
	case map[string]any:
		for key, inner := range v {
			if classifyKey(key) != notSensitive {
				v[key] = redactField(key, inner)
				continue
			}
			v[key] = redactJSON(inner)
		}
		return v
	case []any:
		for i, inner := range v {
			v[i] = redactJSON(inner)
		}
		return v
	default:
		return value
	}
}
