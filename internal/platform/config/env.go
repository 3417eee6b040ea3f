package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// source answers key lookups over layered maps. Later layers override earlier ones, so the
// order is .env file, process environment, explicit map.
type source struct {
	layers []map[string]string
}

func newSource(options loaderOptions) (source, error) {
	dotEnv, err := readDotEnv(options.envFile)
	if err != nil {
		return source{}, err
	}
	layers := []map[string]string{dotEnv}
	if options.useSystemEnv {
		layers = append(layers, processEnv())
	}
	layers = append(layers, options.envMap)
	return source{layers: layers}, nil
}

func (s source) lookup(key string) (string, bool) {
	for i := len(s.layers) - 1; i >= 0; i-- {
		if value, ok := s.layers[i][key]; ok {
			return value, true
		}
	}
	return "", false
}

func (s source) merged() map[string]string {
	out := make(map[string]string)
	for _, layer := range s.layers {
		for key, value := range layer {
			out[key] = value
		}
	}
	return out
}

// value returns the trimmed value, treating blank as unset.
func (s source) value(key string) (string, bool) {
	raw, ok := s.lookup(key)
	raw = strings.TrimSpace(raw)
	return raw, ok && raw != ""
}

func (s source) str(key, fallback string) string {
	if v, ok := s.value(key); ok {
		return v
	}
	return fallback
}

// The typed readers fall back to the default when the value is absent or malformed;
// validateConfig then checks ranges.

func (s source) duration(key string, fallback time.Duration) time.Duration {
	if v, ok := s.value(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func (s source) integer(key string, fallback int) int {
	if v, ok := s.value(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func (s source) boolean(key string, fallback bool) bool {
	if v, ok := s.value(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func (s source) decimal(key, fallback string) decimal.Decimal {
	if v, ok := s.value(key); ok {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	return decimal.RequireFromString(fallback)
}

// list reads a comma separated value, dropping blank entries.
func (s source) list(key string) []string {
	out := []string{}
	v, ok := s.value(key)
	if !ok {
		return out
	}
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// keyValues reads "a=x,b=y" pairs. Keys are lower-cased.
func (s source) keyValues(key string) map[string]string {
	out := make(map[string]string)
	for _, entry := range s.list(key) {
		name, value, found := strings.Cut(entry, "=")
		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.TrimSpace(value)
		if !found || name == "" || value == "" {
			continue
		}
		out[name] = value
	}
	return out
}

func processEnv() map[string]string {
	env := make(map[string]string)
	for _, entry := range os.Environ() {
		key, value, found := strings.Cut(entry, "=")
		if key = strings.TrimSpace(key); found && key != "" {
			env[key] = value
		}
	}
	return env
}

// readDotEnv parses KEY=VALUE lines, allowing comments, blank lines, an "export " prefix and
// quoted values. A missing file is not an error.
func readDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, found := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !found || key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", path, err)
	}
	return values, nil
}
