package radyo

import (
	"net/url"
	"strings"
)

// Station describes one playable radio feed.
type Station struct {
	// ID is a synthetic identifier assigned at catalog load. Display
	// names are not unique across categories, so identity comparisons
	// prefer the ID when both sides carry one.
	ID string `json:"id,omitempty"`

	Name       string   `json:"name"`
	IconURL    string   `json:"iconUrl,omitempty"`
	StreamURL  string   `json:"streamUrl"`
	Categories []string `json:"categories,omitempty"`
	Groups     []string `json:"groups,omitempty"`
}

// IsSegmented reports whether the station's stream URL points at a
// segmented-streaming manifest rather than a direct stream endpoint.
func (s Station) IsSegmented() bool {
	u, err := url.Parse(s.StreamURL)
	if err != nil {
		return strings.HasSuffix(strings.ToLower(s.StreamURL), ".m3u8")
	}

	return strings.HasSuffix(strings.ToLower(u.Path), ".m3u8")
}

// Same reports whether two stations refer to the same feed. Stations
// restored from sessions saved before IDs existed may lack one, in
// which case the display name decides.
func (s Station) Same(other Station) bool {
	if s.ID != "" && other.ID != "" {
		return s.ID == other.ID
	}

	return s.Name == other.Name
}

// Group returns the station's primary group name, or def if it has none.
func (s Station) Group(def string) string {
	if len(s.Groups) > 0 {
		return s.Groups[0]
	}

	return def
}

// Category returns the station's primary category, or def if it has none.
func (s Station) Category(def string) string {
	if len(s.Categories) > 0 {
		return s.Categories[0]
	}

	return def
}

// Queue is the ordered station list that next/previous navigation
// operates over. Source is a free-text label explaining where the
// queue came from ("Favoriler", a category name, ...).
type Queue struct {
	Stations []Station `json:"stations"`
	Source   string    `json:"source,omitempty"`
}

// Empty reports whether the queue holds no stations.
func (q Queue) Empty() bool {
	return len(q.Stations) == 0
}

// IndexOf returns the position of st in the queue, or -1.
func (q Queue) IndexOf(st Station) int {
	for i, s := range q.Stations {
		if s.Same(st) {
			return i
		}
	}

	return -1
}
