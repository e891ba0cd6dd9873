package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// env is the merged view Load reads from: dotenv, then the process
// environment, then explicit overrides.
type env map[string]string

func mergeEnvironment(o loaderOptions) (env, error) {
	merged, err := readDotEnv(o.envFile)
	if err != nil {
		return nil, err
	}
	if o.useSystemEnv {
		for _, entry := range os.Environ() {
			if k, v, ok := strings.Cut(entry, "="); ok && strings.TrimSpace(k) != "" {
				merged[k] = v
			}
		}
	}
	for k, v := range o.envMap {
		merged[k] = v
	}
	return merged, nil
}

func readDotEnv(path string) (env, error) {
	out := env{}
	if path == "" {
		return out, nil
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	values, err := godotenv.Read(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return out, nil
	case err != nil:
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	for k, v := range values {
		out[k] = v
	}
	return out, nil
}

func (e env) str(key, fallback string) string {
	if v := strings.TrimSpace(e[key]); v != "" {
		return v
	}
	return fallback
}

// lower is str folded to lower case; used for enum-like settings.
func (e env) lower(key, fallback string) string {
	return strings.ToLower(e.str(key, fallback))
}

// url is str without a trailing slash so paths can be appended.
func (e env) url(key, fallback string) string {
	return strings.TrimRight(e.str(key, fallback), "/")
}

func (e env) duration(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(e.str(key, ""))
	if err != nil {
		return fallback
	}
	return d
}

func (e env) integer(key string, fallback int) int {
	n, err := strconv.Atoi(e.str(key, ""))
	if err != nil {
		return fallback
	}
	return n
}

func (e env) flag(key string, fallback bool) bool {
	switch e.lower(key, "") {
	case "true", "1", "yes", "on", "sim":
		return true
	case "false", "0", "no", "off", "nao":
		return false
	}
	return fallback
}

// list splits a comma separated value, dropping blanks.
func (e env) list(key string) []string {
	out := []string{}
	for _, part := range strings.Split(e[key], ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
