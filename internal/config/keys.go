package config

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// ErrUnknownKey is returned by Get and Set for keys outside the schema.
var ErrUnknownKey = errors.New("unknown config key")

type field struct {
	get func(*Config) string
	set func(*Config, string) error
}

func stringField(ptr func(*Config) *string) field {
	return field{
		get: func(c *Config) string { return *ptr(c) },
		set: func(c *Config, v string) error { *ptr(c) = v; return nil },
	}
}

func boolField(ptr func(*Config) *bool) field {
	return field{
		get: func(c *Config) string { return strconv.FormatBool(*ptr(c)) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("expected true or false: %w", err)
			}
			*ptr(c) = b
			return nil
		},
	}
}

func intField(ptr func(*Config) *int) field {
	return field{
		get: func(c *Config) string { return strconv.Itoa(*ptr(c)) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("expected an integer: %w", err)
			}
			*ptr(c) = n
			return nil
		},
	}
}

func int64Field(ptr func(*Config) *int64) field {
	return field{
		get: func(c *Config) string { return strconv.FormatInt(*ptr(c), 10) },
		set: func(c *Config, v string) error {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return fmt.Errorf("expected an integer: %w", err)
			}
			*ptr(c) = n
			return nil
		},
	}
}

// listField reads and writes comma-separated values.
func listField(ptr func(*Config) *[]string) field {
	return field{
		get: func(c *Config) string { return strings.Join(*ptr(c), ",") },
		set: func(c *Config, v string) error {
			parts := lo.Map(strings.Split(v, ","), func(s string, _ int) string { return strings.TrimSpace(s) })
			*ptr(c) = lo.Compact(parts)
			return nil
		},
	}
}

var fields = map[string]field{
	"base_dir":                         stringField(func(c *Config) *string { return &c.BaseDir }),
	"log_dir":                          stringField(func(c *Config) *string { return &c.LogDir }),
	"snapshot.root":                    stringField(func(c *Config) *string { return &c.Snapshot.Root }),
	"snapshot.compression":             boolField(func(c *Config) *bool { return &c.Snapshot.Compression }),
	"snapshot.compression_level":       intField(func(c *Config) *int { return &c.Snapshot.CompressionLevel }),
	"snapshot.verify_restore":          boolField(func(c *Config) *bool { return &c.Snapshot.VerifyRestore }),
	"snapshot.max_size":                int64Field(func(c *Config) *int64 { return &c.Snapshot.MaxSize }),
	"encryption.enabled":               boolField(func(c *Config) *bool { return &c.Encryption.Enabled }),
	"encryption.type":                  stringField(func(c *Config) *string { return &c.Encryption.Type }),
	"encryption.public_key_path":       stringField(func(c *Config) *string { return &c.Encryption.PublicKeyPath }),
	"encryption.private_key_path":      stringField(func(c *Config) *string { return &c.Encryption.PrivateKeyPath }),
	"watcher.debounce_ms":              intField(func(c *Config) *int { return &c.Watcher.DebounceMS }),
	"watcher.exclude":                  listField(func(c *Config) *[]string { return &c.Watcher.Exclude }),
	"engine.max_concurrent_operations": intField(func(c *Config) *int { return &c.Engine.MaxConcurrentOperations }),
	"retention.enabled":                boolField(func(c *Config) *bool { return &c.Retention.Enabled }),
	"retention.schedule":               stringField(func(c *Config) *string { return &c.Retention.Schedule }),
	"retention.auto_cleanup_days":      intField(func(c *Config) *int { return &c.Retention.AutoCleanupDays }),
	"database.type":                    stringField(func(c *Config) *string { return &c.Database.Type }),
	"database.data_dir":                stringField(func(c *Config) *string { return &c.Database.DataDir }),
	"server.listen":                    stringField(func(c *Config) *string { return &c.Server.Listen }),
}

// Keys lists every settable dotted key in sorted order.
func Keys() []string {
	keys := lo.Keys(fields)
	slices.Sort(keys)
	return keys
}

// Get returns the string form of the value at a dotted key.
func (c *Config) Get(key string) (string, error) {
	f, ok := fields[key]
	if !ok {
		return "", fmt.Errorf("%q: %w", key, ErrUnknownKey)
	}
	return f.get(c), nil
}

// Set parses value into the field at key and validates the result. An
// invalid result leaves the config unchanged.
func (c *Config) Set(key, value string) error {
	f, ok := fields[key]
	if !ok {
		return fmt.Errorf("%q: %w", key, ErrUnknownKey)
	}

	next := *c
	next.Watcher.Exclude = slices.Clone(c.Watcher.Exclude)
	if err := f.set(&next, value); err != nil {
		return fmt.Errorf("setting %s: %w", key, err)
	}
	if err := next.Validate(); err != nil {
		return fmt.Errorf("setting %s: %w", key, err)
	}
	*c = next
	return nil
}
