// Package catalog describes the datasets available per year and the boundary
// layers a map client can overlay.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// ErrUnknownYear is returned when a year has no catalog entry.
var ErrUnknownYear = errors.New("year not in catalog")

// Catalog is the parsed dataset catalog.
type Catalog struct {
	DefaultYear int              `yaml:"default_year"`
	Pollutant   string           `yaml:"pollutant"`
	Entries     []Entry          `yaml:"years"`
	Layers      map[string]Layer `yaml:"layers"`

	dir string
}

// Entry names the files for one dataset year. Paths are relative to the
// catalog directory unless absolute.
type Entry struct {
	Year       int    `yaml:"year" json:"year"`
	Facilities string `yaml:"facilities" json:"facilities"`
	Ranks      string `yaml:"ranks" json:"ranks"`
	Boundaries string `yaml:"boundaries,omitempty" json:"boundaries,omitempty"`
	Pollutant  string `yaml:"pollutant,omitempty" json:"pollutant,omitempty"`
}

// Layer is a styled boundary overlay served by a tile server.
type Layer struct {
	TileURL string  `yaml:"tile_url" json:"tile_url"`
	MapID   string  `yaml:"map_id" json:"map_id"`
	Outline string  `yaml:"outline" json:"outline"`
	Width   float64 `yaml:"width" json:"width"`
}

// DefaultLayers are the census boundary overlays used when the catalog
// declares none. Their tile URLs are filled in by deployment.
func DefaultLayers() map[string]Layer {
	return map[string]Layer{
		"tracts":       {Outline: "#1f77b4", Width: 1},
		"block_groups": {Outline: "#9333ea", Width: 1},
	}
}

// Load reads and validates the catalog at path.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	c.dir = filepath.Dir(path)
	return c, nil
}

// Parse decodes and validates catalog YAML. The result has no directory, so
// relative file names resolve against the working directory.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	applyDefaults(&c)
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func applyDefaults(c *Catalog) {
	if len(c.Layers) == 0 {
		c.Layers = DefaultLayers()
	}
	for name, l := range c.Layers {
		if l.Outline == "" {
			l.Outline = "#1f77b4"
		}
		if l.Width <= 0 {
			l.Width = 1
		}
		c.Layers[name] = l
	}
	for i := range c.Entries {
		if c.Entries[i].Pollutant == "" {
			c.Entries[i].Pollutant = c.Pollutant
		}
	}
	if c.DefaultYear == 0 && len(c.Entries) > 0 {
		years := c.Years()
		c.DefaultYear = years[len(years)-1]
	}
}

func (c *Catalog) validate() error {
	if len(c.Entries) == 0 {
		return errors.New("no years defined")
	}
	seen := make(map[int]bool, len(c.Entries))
	for _, e := range c.Entries {
		switch {
		case e.Year <= 0:
			return fmt.Errorf("invalid year %d", e.Year)
		case seen[e.Year]:
			return fmt.Errorf("year %d listed twice", e.Year)
		case e.Facilities == "":
			return fmt.Errorf("year %d: facilities file is required", e.Year)
		case e.Ranks == "":
			return fmt.Errorf("year %d: ranks file is required", e.Year)
		}
		seen[e.Year] = true
	}
	if !seen[c.DefaultYear] {
		return fmt.Errorf("default year %d: %w", c.DefaultYear, ErrUnknownYear)
	}
	return nil
}

// Years returns the catalogued years in ascending order.
func (c *Catalog) Years() []int {
	years := make([]int, 0, len(c.Entries))
	for _, e := range c.Entries {
		years = append(years, e.Year)
	}
	sort.Ints(years)
	return years
}

// Year returns the entry for year.
func (c *Catalog) Year(year int) (Entry, error) {
	for _, e := range c.Entries {
		if e.Year == year {
			return e, nil
		}
	}
	return Entry{}, fmt.Errorf("%d: %w", year, ErrUnknownYear)
}

// Default returns the entry for the default year.
func (c *Catalog) Default() (Entry, error) {
	return c.Year(c.DefaultYear)
}

// Dir returns the directory the catalog was loaded from.
func (c *Catalog) Dir() string { return c.dir }
