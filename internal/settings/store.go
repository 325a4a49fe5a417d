// Package settings persists the operator-edited strategy configuration and
// tells sync loops when it has changed.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"trading-signalsync/internal/strategy"
)

// ErrConfigParse is wrapped by every failure to read or validate the
// configuration. Callers keep their previous configuration when they see it.
var ErrConfigParse = errors.New("config parse error")

// Document is the on-disk strategy file: a base config plus optional
// per-instrument partial overrides.
type Document struct {
	strategy.Config
	Instruments map[string]json.RawMessage `json:"instruments,omitempty"`
}

// Resolve returns the config for one instrument: the base with the
// instrument's override block applied on top, validated.
func (d Document) Resolve(symbol string) (strategy.Config, error) {
	cfg := d.Config.Clone()
	if raw, ok := d.Instruments[symbol]; ok && len(raw) > 0 {
		if err := decodeConfig(raw, &cfg, &cfg); err != nil {
			return strategy.Config{}, fmt.Errorf("%w: override %s: %v", ErrConfigParse, symbol, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return strategy.Config{}, fmt.Errorf("%w: %s: %v", ErrConfigParse, symbol, err)
	}
	return cfg, nil
}

// Validate resolves the base and every override.
func (d Document) Validate() error {
	if err := d.Config.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrConfigParse, err)
	}
	for symbol := range d.Instruments {
		if _, err := d.Resolve(symbol); err != nil {
			return err
		}
	}
	return nil
}

// decodeConfig unmarshals b into v, where cfg is the strategy config held
// by v. Keys absent from b keep their values in cfg; time_interval is
// accepted for interval.
func decodeConfig(b []byte, v any, cfg *strategy.Config) error {
	prev := cfg.Interval
	cfg.Interval, cfg.TimeInterval = "", ""
	err := json.Unmarshal(b, v)
	cfg.FoldIntervalAlias(prev)
	return err
}

// Store reads and writes the strategy file. Writes are atomic, so a reader
// never observes a half-written file.
type Store struct {
	path string
	mu   sync.Mutex // serializes writers in this process
}

// NewStore returns a Store for the JSON file at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the file path.
func (s *Store) Path() string { return s.path }

// Ensure writes the default document if the file does not exist yet.
func (s *Store) Ensure() error {
	if _, err := os.Stat(s.path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat %s: %w", s.path, err)
	}
	return s.Save(Document{Config: strategy.DefaultConfig()})
}

// LoadDocument reads and validates the whole file. Keys absent from the
// file take their default values.
func (s *Store) LoadDocument() (Document, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return Document{}, fmt.Errorf("%w: read %s: %v", ErrConfigParse, s.path, err)
	}
	doc := Document{Config: strategy.DefaultConfig()}
	if err := decodeConfig(b, &doc, &doc.Config); err != nil {
		return Document{}, fmt.Errorf("%w: decode %s: %v", ErrConfigParse, s.path, err)
	}
	return doc, nil
}

// Load returns the resolved config for one instrument.
func (s *Store) Load(symbol string) (strategy.Config, error) {
	doc, err := s.LoadDocument()
	if err != nil {
		return strategy.Config{}, err
	}
	return doc.Resolve(symbol)
}

// Save validates doc and replaces the file with it.
func (s *Store) Save(doc Document) error {
	doc.Config.FoldIntervalAlias(doc.Interval)
	if err := doc.Validate(); err != nil {
		return err
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return writeAtomic(s.path, b)
}

// writeAtomic writes to a temp file in the same directory, syncs it and
// renames it over path.
func writeAtomic(path string, b []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmp := f.Name()
	defer os.Remove(tmp) // no-op after a successful rename

	if _, err := f.Write(b); err != nil {
		f.Close()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
