package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const envQuantaConfig = "QUANTA_CONFIG"

// resolveConfigPath picks the config file: the --config flag, then
// $QUANTA_CONFIG, then the per-user default.
func resolveConfigPath(flag string) string {
	if p := strings.TrimSpace(flag); p != "" {
		return filepath.Clean(p)
	}
	if p := strings.TrimSpace(os.Getenv(envQuantaConfig)); p != "" {
		return filepath.Clean(p)
	}
	return configPath()
}

// prepareOut cleans path and creates its parent directory.
func prepareOut(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("empty output path")
	}
	out := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return "", err
	}
	return out, nil
}

// parseFloats parses a comma or whitespace separated list of numbers.
func parseFloats(s string) ([]float32, error) {
	fields := splitList(s)
	if len(fields) == 0 {
		return nil, fmt.Errorf("no values given")
	}
	out := make([]float32, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 32)
		if err != nil {
			return nil, fmt.Errorf("value %d: %w", i, err)
		}
		out[i] = float32(v)
	}
	return out, nil
}

// parseShape parses "2,3" or "2x3".
func parseShape(s string) ([]int, error) {
	fields := splitList(strings.ReplaceAll(strings.ToLower(s), "x", ","))
	out := make([]int, len(fields))
	for i, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("dim %d: %w", i, err)
		}
		if v <= 0 {
			return nil, fmt.Errorf("dim %d: must be positive, got %d", i, v)
		}
		out[i] = v
	}
	return out, nil
}

func splitList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '[' || r == ']'
	})
}
