package engine

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"healthmap/internal/models"
)

//go:embed aliases.yaml
var defaultAliases []byte

// AliasTable maps indicator-source country names to boundary-source names.
// It is built once and never mutated afterwards.
type AliasTable struct {
	version int
	entries map[string]string
	order   []string
}

type aliasFile struct {
	Version int `yaml:"version"`
	Aliases []struct {
		Source string `yaml:"source"`
		Target string `yaml:"target"`
	} `yaml:"aliases"`
}

// DefaultAliases returns the embedded alias table.
func DefaultAliases() *AliasTable {
	t, err := ParseAliases(bytes.NewReader(defaultAliases))
	if err != nil {
		panic(fmt.Sprintf("embedded alias table: %v", err))
	}
	return t
}

// ParseAliases reads a YAML alias file. Duplicate or empty source names are
// rejected.
func ParseAliases(r io.Reader) (*AliasTable, error) {
	var f aliasFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode alias file: %w", err)
	}

	t := &AliasTable{version: f.Version, entries: make(map[string]string, len(f.Aliases))}
	for i, a := range f.Aliases {
		src, dst := normalizeName(a.Source), normalizeName(a.Target)
		if src == "" || dst == "" {
			return nil, fmt.Errorf("alias %d: source and target are required", i)
		}
		if _, dup := t.entries[src]; dup {
			return nil, fmt.Errorf("alias %d: duplicate source %q", i, src)
		}
		t.entries[src] = dst
		t.order = append(t.order, src)
	}
	return t, nil
}

// Version is the data version declared by the alias file.
func (t *AliasTable) Version() int { return t.version }

// Len is the number of aliases.
func (t *AliasTable) Len() int { return len(t.entries) }

// Resolve returns the boundary-source name for name, or name unchanged when
// there is no alias for it.
func (t *AliasTable) Resolve(name string) string {
	if t == nil {
		return name
	}
	if mapped, ok := t.entries[name]; ok {
		return mapped
	}
	return name
}

// Apply returns a copy of records with CountryName resolved through the table.
// RawName keeps the source spelling.
func (t *AliasTable) Apply(records []models.IndicatorRecord) []models.IndicatorRecord {
	out := make([]models.IndicatorRecord, len(records))
	for i, r := range records {
		if r.RawName == "" {
			r.RawName = r.CountryName
		}
		r.CountryName = t.Resolve(r.RawName)
		out[i] = r
	}
	return out
}

// Stale lists alias sources that no longer occur in the indicator records,
// in alias-file order.
func (t *AliasTable) Stale(records []models.IndicatorRecord) []string {
	seen := make(map[string]struct{}, len(records))
	for _, r := range records {
		name := r.RawName
		if name == "" {
			name = r.CountryName
		}
		seen[name] = struct{}{}
	}
	var stale []string
	for _, src := range t.order {
		if _, ok := seen[src]; !ok {
			stale = append(stale, src)
		}
	}
	return stale
}

// Sources returns the alias source names, sorted.
func (t *AliasTable) Sources() []string {
	out := append([]string(nil), t.order...)
	sort.Strings(out)
	return out
}

// normalizeName trims surrounding space and composes the name to NFC so that
// byte-equal comparison works across sources.
func normalizeName(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
