// Package errcatalog holds the Gridcon CCU error codes and tells which of
// them can be acknowledged and which need a hard reset.
package errcatalog

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var catalogYAML []byte

var ErrUnknownErrorCode = errors.New("unknown error code")

type Entry struct {
	Code        uint32 `json:"code"`
	Name        string `json:"name"`
	Group       int    `json:"group"`
	Level       string `json:"level"`
	Acknowledge string `json:"acknowledge"`
	Reaction    string `json:"reaction"`
	HardReset   bool   `json:"hard_reset"`
	Text        string `json:"text"`
}

// Hex formats the code the way the device documentation prints it.
func (e Entry) Hex() string {
	return fmt.Sprintf("0x%06X", e.Code)
}

type rawEntry struct {
	Code        string `yaml:"code"`
	Name        string `yaml:"name"`
	Group       int    `yaml:"group"`
	Level       string `yaml:"level"`
	Acknowledge string `yaml:"acknowledge"`
	Reaction    string `yaml:"reaction"`
	HardReset   bool   `yaml:"hard_reset"`
	Text        string `yaml:"text"`
}

type Catalog struct {
	entries map[uint32]Entry
}

// Load parses a catalog document. Duplicate codes keep the first entry.
func Load(data []byte) (*Catalog, error) {
	var doc struct {
		Entries []rawEntry `yaml:"entries"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("error parsing error catalog: %w", err)
	}

	c := &Catalog{entries: make(map[uint32]Entry, len(doc.Entries))}
	for _, raw := range doc.Entries {
		code, err := ParseCode(raw.Code)
		if err != nil {
			return nil, fmt.Errorf("entry %s: %w", raw.Name, err)
		}
		if _, dup := c.entries[code]; dup {
			continue
		}
		c.entries[code] = Entry{
			Code:        code,
			Name:        raw.Name,
			Group:       raw.Group,
			Level:       raw.Level,
			Acknowledge: raw.Acknowledge,
			Reaction:    raw.Reaction,
			HardReset:   raw.HardReset,
			Text:        strings.TrimSpace(raw.Text),
		}
	}
	return c, nil
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
)

// Default returns the catalog compiled into the binary.
func Default() *Catalog {
	defaultOnce.Do(func() {
		c, err := Load(catalogYAML)
		if err != nil {
			panic(err)
		}
		defaultCatalog = c
	})
	return defaultCatalog
}

func (c *Catalog) Len() int {
	return len(c.entries)
}

func (c *Catalog) Lookup(code uint32) (Entry, error) {
	e, ok := c.entries[code]
	if !ok {
		return Entry{}, fmt.Errorf("0x%06X: %w", code, ErrUnknownErrorCode)
	}
	return e, nil
}

// Acknowledgeable reports whether code can be cleared without a hard reset.
// Codes missing from the catalog are treated as acknowledgeable.
func (c *Catalog) Acknowledgeable(code uint32) bool {
	e, ok := c.entries[code]
	return !ok || !e.HardReset
}

// HardResetCodes lists every code that needs a hard reset, sorted.
func (c *Catalog) HardResetCodes() []uint32 {
	var codes []uint32
	for code, e := range c.entries {
		if e.HardReset {
			codes = append(codes, code)
		}
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	return codes
}

// Identifier extracts the catalog code from the raw error code register.
func Identifier(raw uint32) uint32 {
	return raw >> 8
}

// ParseCode accepts decimal or 0x prefixed hexadecimal codes.
func ParseCode(s string) (uint32, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid error code %q: %w", s, err)
	}
	return uint32(v), nil
}
