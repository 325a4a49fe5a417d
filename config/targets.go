package config

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"trading-signalsync/internal/model"
)

// ErrNoTargets is returned when the targets file lists no instruments.
var ErrNoTargets = errors.New("no targets configured")

var targetColumns = []string{"Symbol", "Exchange", "Title", "Filename"}

// LoadTargets reads the targets CSV at path.
func LoadTargets(path string) ([]model.Instrument, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open targets: %w", err)
	}
	defer f.Close()
	return ParseTargets(f)
}

// ParseTargets reads a CSV with the header Symbol,Exchange,Title,Filename
// (any column order). Blank rows are skipped and duplicate symbols rejected.
func ParseTargets(r io.Reader) ([]model.Instrument, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, ErrNoTargets
	}
	if err != nil {
		return nil, fmt.Errorf("read targets header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	for _, name := range targetColumns {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("targets header missing column %q", name)
		}
	}

	field := func(rec []string, name string) string {
		if i := col[name]; i < len(rec) {
			return strings.TrimSpace(rec[i])
		}
		return ""
	}

	var out []model.Instrument
	seen := make(map[string]bool)
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("targets line %d: %w", line, err)
		}
		inst := model.Instrument{
			Symbol:   field(rec, "Symbol"),
			Exchange: field(rec, "Exchange"),
			Title:    field(rec, "Title"),
			Filename: field(rec, "Filename"),
		}
		if inst.Symbol == "" {
			continue
		}
		if seen[inst.Key()] {
			return nil, fmt.Errorf("targets line %d: duplicate symbol %s", line, inst.Symbol)
		}
		seen[inst.Key()] = true
		out = append(out, inst)
	}
	if len(out) == 0 {
		return nil, ErrNoTargets
	}
	return out, nil
}
