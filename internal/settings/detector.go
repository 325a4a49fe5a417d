package settings

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Detector reports whether the configuration changed since the last call.
// The first call of a fresh detector may report a change.
type Detector interface {
	Changed(ctx context.Context) (bool, error)
}

// ────────────────────────────────────────────────────────────
// File modification time
// ────────────────────────────────────────────────────────────

// ModTimeDetector watches a file's modification time and size.
type ModTimeDetector struct {
	path string

	mu   sync.Mutex
	seen string
}

// NewModTimeDetector watches path.
func NewModTimeDetector(path string) *ModTimeDetector {
	return &ModTimeDetector{path: path}
}

func (d *ModTimeDetector) Changed(_ context.Context) (bool, error) {
	info, err := os.Stat(d.path)
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", d.path, err)
	}
	marker := fmt.Sprintf("%d:%d", info.ModTime().UnixNano(), info.Size())

	d.mu.Lock()
	defer d.mu.Unlock()
	if marker == d.seen {
		return false, nil
	}
	d.seen = marker
	return true, nil
}

// ────────────────────────────────────────────────────────────
// Per-instrument flag file
// ────────────────────────────────────────────────────────────

// FlagFileDetector consumes a one-shot "<SYMBOL>_config_changed.flag"
// file dropped by whoever edited the config.
type FlagFileDetector struct {
	path string
}

// NewFlagFileDetector watches the flag file of symbol inside dir.
func NewFlagFileDetector(dir, symbol string) *FlagFileDetector {
	return &FlagFileDetector{path: FlagPath(dir, symbol)}
}

// FlagPath returns the flag file path of symbol.
func FlagPath(dir, symbol string) string {
	return filepath.Join(dir, symbol+"_config_changed.flag")
}

func (d *FlagFileDetector) Changed(_ context.Context) (bool, error) {
	err := os.Remove(d.path)
	switch {
	case err == nil:
		return true, nil
	case os.IsNotExist(err):
		return false, nil
	default:
		return false, fmt.Errorf("consume flag %s: %w", d.path, err)
	}
}

// TouchFlags drops a flag file for every symbol. Returns the first error
// but still attempts every symbol.
func TouchFlags(dir string, symbols []string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	var errs []error
	for _, s := range symbols {
		stamp := []byte(time.Now().UTC().Format(time.RFC3339Nano))
		if err := os.WriteFile(FlagPath(dir, s), stamp, 0o644); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ────────────────────────────────────────────────────────────
// Redis version counter
// ────────────────────────────────────────────────────────────

// DefaultVersionKey is the Redis key bumped on every config write.
const DefaultVersionKey = "signalsync:config:version"

// RedisDetector polls an integer version key. A missing key reads as 0.
type RedisDetector struct {
	rdb redis.Cmdable
	key string

	mu     sync.Mutex
	seen   int64
	primed bool
}

// NewRedisDetector polls key on rdb.
func NewRedisDetector(rdb redis.Cmdable, key string) *RedisDetector {
	if key == "" {
		key = DefaultVersionKey
	}
	return &RedisDetector{rdb: rdb, key: key}
}

func (d *RedisDetector) Changed(ctx context.Context) (bool, error) {
	v, err := d.rdb.Get(ctx, d.key).Int64()
	if errors.Is(err, redis.Nil) {
		v, err = 0, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get %s: %w", d.key, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.primed && v == d.seen {
		return false, nil
	}
	d.primed = true
	d.seen = v
	return true, nil
}

// BumpVersion increments the version key so every RedisDetector sees a change.
func BumpVersion(ctx context.Context, rdb redis.Cmdable, key string) (int64, error) {
	if key == "" {
		key = DefaultVersionKey
	}
	v, err := rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incr %s: %w", key, err)
	}
	return v, nil
}

// ────────────────────────────────────────────────────────────
// Combinators
// ────────────────────────────────────────────────────────────

// AnyDetector reports a change when any member does. Every member is
// polled each call so one-shot markers are consumed together. Member
// errors are joined; a change seen by a healthy member is still reported.
type AnyDetector []Detector

func (a AnyDetector) Changed(ctx context.Context) (bool, error) {
	changed := false
	var errs []error
	for _, d := range a {
		c, err := d.Changed(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		changed = changed || c
	}
	return changed, errors.Join(errs...)
}

// ManualDetector is triggered programmatically.
type ManualDetector struct {
	mu      sync.Mutex
	pending bool
}

// Trigger marks a pending change.
func (m *ManualDetector) Trigger() {
	m.mu.Lock()
	m.pending = true
	m.mu.Unlock()
}

func (m *ManualDetector) Changed(_ context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.pending
	m.pending = false
	return c, nil
}
