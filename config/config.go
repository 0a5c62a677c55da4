// Package config loads file based key/value configuration for a service.
//
// Configuration lives in a directory containing a base TOML file and optional
// per-environment overlay files:
//
//	config/
//	    base.toml
//	    env/
//	        production.toml
//	        staging.toml
//
// The overlay for the selected environment is merged over the base values,
// overwriting where both define a key. Values are looked up by dotted path,
// eg. "db.postgres.pool_size". Key lookup is case-insensitive; keys are
// folded to lower case at load time.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	baseFile = "base.toml"
	envDir   = "env"
)

// Config is an immutable view over the merged configuration tree.
type Config struct {
	values map[string]interface{}
}

// Load reads the base config file from dir and, if env is non-empty, merges
// the environment overlay file over it.
func Load(dir, env string) (*Config, error) {
	c := &Config{values: map[string]interface{}{}}

	if err := c.loadFile(filepath.Join(dir, baseFile)); err != nil {
		return nil, err
	}
	if env != "" {
		if err := c.loadFile(filepath.Join(dir, envDir, env+".toml")); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// New constructs a Config directly from a value tree. Intended for tests.
func New(values map[string]interface{}) *Config {
	c := &Config{values: map[string]interface{}{}}
	mergeInto(values, c.values)
	return c
}

func (c *Config) loadFile(filename string) error {
	var loaded map[string]interface{}
	if _, err := toml.DecodeFile(filename, &loaded); err != nil {
		return fmt.Errorf("could not load config file %q: %w", filename, err)
	}
	mergeInto(loaded, c.values)
	return nil
}

// mergeInto merges src into dest recursively, overwriting values in dest with
// new values from src if present. Keys are folded to lower case.
func mergeInto(src, dest map[string]interface{}) {
	for key, value := range src {
		key = strings.ToLower(key)
		if sub, ok := value.(map[string]interface{}); ok {
			node, ok := dest[key].(map[string]interface{})
			if !ok {
				node = map[string]interface{}{}
				dest[key] = node
			}
			mergeInto(sub, node)
			continue
		}
		dest[key] = value
	}
}

// Has reports whether the dotted key is present.
func (c *Config) Has(key string) bool {
	_, err := c.Get(key)
	return err == nil
}

// Get returns the raw value at the dotted key, or an error naming the full
// key if any path segment is absent.
func (c *Config) Get(key string) (interface{}, error) {
	node := c.values
	parts := strings.Split(key, ".")
	for i, part := range parts {
		part = strings.ToLower(part)
		val, ok := node[part]
		if !ok {
			return nil, fmt.Errorf("config key not present: %s", key)
		}
		if i == len(parts)-1 {
			return val, nil
		}
		node, ok = val.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("config key not present: %s", key)
		}
	}
	return nil, fmt.Errorf("config key not present: %s", key)
}

// String returns the string value at the dotted key.
func (c *Config) String(key string) (string, error) {
	v, err := c.Get(key)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("config key %s is %T, not a string", key, v)
	}
	return s, nil
}

// StringOr returns the string value at the dotted key, or def if absent.
func (c *Config) StringOr(key, def string) string {
	s, err := c.String(key)
	if err != nil {
		return def
	}
	return s
}

// Int returns the integer value at the dotted key.
func (c *Config) Int(key string) (int, error) {
	v, err := c.Get(key)
	if err != nil {
		return 0, err
	}
	// TOML decodes all integers as int64
	i, ok := v.(int64)
	if !ok {
		return 0, fmt.Errorf("config key %s is %T, not an integer", key, v)
	}
	return int(i), nil
}

// IntOr returns the integer value at the dotted key, or def if absent.
func (c *Config) IntOr(key string, def int) int {
	i, err := c.Int(key)
	if err != nil {
		return def
	}
	return i
}

// Bool returns the boolean value at the dotted key.
func (c *Config) Bool(key string) (bool, error) {
	v, err := c.Get(key)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("config key %s is %T, not a bool", key, v)
	}
	return b, nil
}

// BoolOr returns the boolean value at the dotted key, or def if absent.
func (c *Config) BoolOr(key string, def bool) bool {
	b, err := c.Bool(key)
	if err != nil {
		return def
	}
	return b
}

// Duration returns the value at the dotted key parsed as a time.Duration,
// eg. "5s" or "100ms".
func (c *Config) Duration(key string) (time.Duration, error) {
	s, err := c.String(key)
	if err != nil {
		return 0, err
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("config key %s: %w", key, err)
	}
	return d, nil
}

// DurationOr returns the duration at the dotted key, or def if absent or invalid.
func (c *Config) DurationOr(key string, def time.Duration) time.Duration {
	d, err := c.Duration(key)
	if err != nil {
		return def
	}
	return d
}

// Strings returns the string list value at the dotted key.
func (c *Config) Strings(key string) ([]string, error) {
	v, err := c.Get(key)
	if err != nil {
		return nil, err
	}
	raw, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("config key %s is %T, not a list", key, v)
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("config key %s contains %T, not a string", key, item)
		}
		out = append(out, s)
	}
	return out, nil
}
