// Package catalog provides the bundled station directory: lookup by
// name, listing by category or group, and the featured queue used as
// the navigation fallback.
package catalog

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/radyolab/radyo"
)

//go:embed stations.json
var rawStations []byte

// FeaturedLabel is the queue source label of the featured list.
const FeaturedLabel = "Öne Çıkanlar"

// ErrUnknownStation is returned by Lookup for names not in the catalog.
var ErrUnknownStation = errors.New("catalog: unknown station")

type entry struct {
	radyo.Station
	Featured bool `json:"featured,omitempty"`
}

// Catalog is an immutable, fully loaded station directory.
type Catalog struct {
	stations []radyo.Station
	featured []radyo.Station
	byName   map[string]int
}

// Load parses the bundled dataset. Stations are assigned synthetic IDs
// at load time; display names are not guaranteed unique.
func Load() (*Catalog, error) {
	return New(rawStations)
}

// New builds a catalog from raw JSON data.
func New(data []byte) (*Catalog, error) {
	var entries []entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("catalog: decoding station data: %w", err)
	}

	c := &Catalog{
		stations: make([]radyo.Station, 0, len(entries)),
		byName:   make(map[string]int, len(entries)),
	}

	for _, e := range entries {
		st := e.Station
		st.ID = uuid.NewString()

		c.stations = append(c.stations, st)
		if _, dup := c.byName[st.Name]; !dup {
			c.byName[st.Name] = len(c.stations) - 1
		}

		if e.Featured {
			c.featured = append(c.featured, st)
		}
	}

	return c, nil
}

// Stations returns every station in catalog order.
func (c *Catalog) Stations() []radyo.Station {
	out := make([]radyo.Station, len(c.stations))
	copy(out, c.stations)

	return out
}

// Lookup finds a station by display name.
func (c *Catalog) Lookup(name string) (radyo.Station, error) {
	i, ok := c.byName[name]
	if !ok {
		return radyo.Station{}, fmt.Errorf("%w: %q", ErrUnknownStation, name)
	}

	return c.stations[i], nil
}

// ByCategory returns the stations tagged with the category as a queue
// labelled with the category name.
func (c *Catalog) ByCategory(category string) radyo.Queue {
	return c.filter(category, func(st radyo.Station) bool {
		return contains(st.Categories, category)
	})
}

// ByGroup returns the stations belonging to the group as a queue
// labelled with the group name.
func (c *Catalog) ByGroup(group string) radyo.Queue {
	return c.filter(group, func(st radyo.Station) bool {
		return contains(st.Groups, group)
	})
}

// Categories returns every category name in the catalog, sorted.
func (c *Catalog) Categories() []string {
	seen := make(map[string]bool)
	for _, st := range c.stations {
		for _, cat := range st.Categories {
			seen[cat] = true
		}
	}

	out := make([]string, 0, len(seen))
	for cat := range seen {
		out = append(out, cat)
	}
	sort.Strings(out)

	return out
}

// Featured returns the featured-stations queue.
func (c *Catalog) Featured(ctx context.Context) (radyo.Queue, error) {
	if err := ctx.Err(); err != nil {
		return radyo.Queue{}, err
	}

	stations := make([]radyo.Station, len(c.featured))
	copy(stations, c.featured)

	return radyo.Queue{Stations: stations, Source: FeaturedLabel}, nil
}

func (c *Catalog) filter(label string, keep func(radyo.Station) bool) radyo.Queue {
	q := radyo.Queue{Source: label}
	for _, st := range c.stations {
		if keep(st) {
			q.Stations = append(q.Stations, st)
		}
	}

	return q
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}

	return false
}
