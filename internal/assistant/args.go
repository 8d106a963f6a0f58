package assistant

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"gwi.com/calendar-assistant/internal/apperr"
)

// Args are the decoded JSON arguments of a function call.
type Args map[string]any

// String returns the trimmed string at key, or "" when it is absent.
func (a Args) String(key string) (string, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", apperr.Validation("assistant.args", fmt.Sprintf("%s must be a string", key))
	}
	return strings.TrimSpace(s), nil
}

// Int accepts JSON numbers and numeric strings. Missing keys yield def.
func (a Args) Int(key string, def int) (int, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) {
			return 0, apperr.Validation("assistant.args", fmt.Sprintf("%s must be a whole number", key))
		}
		return int(n), nil
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case string:
		if strings.TrimSpace(n) == "" {
			return def, nil
		}
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, apperr.Validation("assistant.args", fmt.Sprintf("%s must be a number", key))
		}
		return i, nil
	default:
		return 0, apperr.Validation("assistant.args", fmt.Sprintf("%s must be a number", key))
	}
}

// Strings accepts a JSON array of strings or a single comma-separated string.
func (a Args) Strings(key string) ([]string, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return nil, nil
	}
	var out []string
	switch items := v.(type) {
	case []string:
		out = append(out, items...)
	case []any:
		for _, item := range items {
			s, ok := item.(string)
			if !ok {
				return nil, apperr.Validation("assistant.args", fmt.Sprintf("%s must be a list of strings", key))
			}
			out = append(out, s)
		}
	case string:
		out = strings.Split(items, ",")
	default:
		return nil, apperr.Validation("assistant.args", fmt.Sprintf("%s must be a list of strings", key))
	}

	cleaned := out[:0]
	for _, s := range out {
		if s = strings.TrimSpace(s); s != "" {
			cleaned = append(cleaned, s)
		}
	}
	return cleaned, nil
}
