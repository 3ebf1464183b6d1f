package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// StringField returns config[key] as a trimmed string, converting numbers and booleans.
func StringField(config map[string]any, key string) string {
	switch value := config[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(value)
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(value)
	default:
		return strings.TrimSpace(fmt.Sprint(value))
	}
}

// RequireString returns config[key] or an ErrInvalidConfig error when it is empty.
func RequireString(config map[string]any, key string) (string, error) {
	value := StringField(config, key)
	if value == "" {
		return "", fmt.Errorf("%w: missing required field '%s'", ErrInvalidConfig, key)
	}

	return value, nil
}

// IntField reads a numeric field that may arrive as a JSON number or a rendered string.
func IntField(config map[string]any, key string, fallback int) (int, error) {
	switch value := config[key].(type) {
	case nil:
		return fallback, nil
	case float64:
		return int(value), nil
	case int:
		return value, nil
	case int64:
		return int(value), nil
	case string:
		if strings.TrimSpace(value) == "" {
			return fallback, nil
		}

		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return 0, fmt.Errorf("%w: field '%s' must be a number", ErrInvalidConfig, key)
		}

		return parsed, nil
	default:
		return 0, fmt.Errorf("%w: field '%s' must be a number", ErrInvalidConfig, key)
	}
}

// FloatField is IntField for fractional values.
func FloatField(config map[string]any, key string, fallback float64) (float64, error) {
	switch value := config[key].(type) {
	case nil:
		return fallback, nil
	case float64:
		return value, nil
	case int:
		return float64(value), nil
	case string:
		if strings.TrimSpace(value) == "" {
			return fallback, nil
		}

		parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: field '%s' must be a number", ErrInvalidConfig, key)
		}

		return parsed, nil
	default:
		return 0, fmt.Errorf("%w: field '%s' must be a number", ErrInvalidConfig, key)
	}
}

// StringMap converts an object field to map[string]string, dropping nil values.
func StringMap(config map[string]any, key string) map[string]string {
	result := make(map[string]string)

	switch values := config[key].(type) {
	case map[string]any:
		for name, value := range values {
			if value != nil {
				result[name] = fmt.Sprint(value)
			}
		}
	case map[string]string:
		for name, value := range values {
			result[name] = value
		}
	}

	return result
}
