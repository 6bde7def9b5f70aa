package model

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// ModuleDescriptor describes one configured analysis module. It is read-only
// once loaded.
type ModuleDescriptor struct {
	Name    string  `yaml:"name"`
	Type    string  `yaml:"type"`
	Enabled bool    `yaml:"enabled"`
	Options Options `yaml:"options"`
}

// ModuleType returns the registry key for the descriptor, falling back to
// its name when no type was given.
func (d ModuleDescriptor) ModuleType() string {
	if d.Type != "" {
		return d.Type
	}
	return d.Name
}

// Options is the free-form option mapping of a module descriptor.
type Options map[string]any

// Int returns the option as an int, or def when the key is absent.
func (o Options) Int(key string, def int) (int, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("option %q: %v is not an integer", key, n)
		}
		return int(n), nil
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, fmt.Errorf("option %q: %w", key, err)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("option %q: expected integer, got %T", key, v)
	}
}

// Float returns the option as a float64, or def when the key is absent.
func (o Options) Float(key string, def float64) (float64, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, fmt.Errorf("option %q: %w", key, err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("option %q: expected number, got %T", key, v)
	}
}

// String returns the option as a string, or def when the key is absent.
func (o Options) String(key, def string) (string, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return def, nil
	}
	switch s := v.(type) {
	case string:
		return s, nil
	case int, int64, uint64, float64, bool:
		return fmt.Sprint(s), nil
	default:
		return "", fmt.Errorf("option %q: expected string, got %T", key, v)
	}
}

// Bool returns the option as a bool, or def when the key is absent.
func (o Options) Bool(key string, def bool) (bool, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return def, nil
	}
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			return false, fmt.Errorf("option %q: %w", key, err)
		}
		return parsed, nil
	default:
		return false, fmt.Errorf("option %q: expected bool, got %T", key, v)
	}
}

// Duration returns the option as a time.Duration. Plain numbers are read as
// seconds, strings go through time.ParseDuration.
func (o Options) Duration(key string, def time.Duration) (time.Duration, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return def, nil
	}
	switch d := v.(type) {
	case string:
		parsed, err := time.ParseDuration(d)
		if err != nil {
			return 0, fmt.Errorf("option %q: %w", key, err)
		}
		return parsed, nil
	case int, int64, uint64, float64:
		secs, err := o.Float(key, 0)
		if err != nil {
			return 0, err
		}
		return time.Duration(secs * float64(time.Second)), nil
	default:
		return 0, fmt.Errorf("option %q: expected duration, got %T", key, v)
	}
}
