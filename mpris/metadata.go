package mpris

import (
	"net/url"
	"strings"

	"github.com/godbus/dbus/v5"

	"github.com/radyolab/radyo"
)

// Labels used when a station carries no group or category.
const (
	defaultArtist = "Radyo"
	defaultAlbum  = "Canlı Yayın"
)

// noTrack is the well-known MPRIS track ID meaning "nothing loaded".
const noTrack = dbus.ObjectPath("/org/mpris/MediaPlayer2/TrackList/NoTrack")

// MediaMetadata is a mapping from metadata attribute names to values.
//
// https://www.freedesktop.org/wiki/Specifications/mpris-spec/metadata/
type MediaMetadata map[string]dbus.Variant

// StationMetadata builds the metadata record for a station: title is
// the station name, artist its primary group, album its primary
// category. Live streams carry no mpris:length, so the platform shows
// no seek bar. A nil station yields the cleared record.
func StationMetadata(st *radyo.Station, iconBase *url.URL) MediaMetadata {
	if st == nil {
		return MediaMetadata{"mpris:trackid": dbus.MakeVariant(noTrack)}
	}

	m := MediaMetadata{
		"mpris:trackid": dbus.MakeVariant(trackID(st)),
		"xesam:title":   dbus.MakeVariant(st.Name),
		"xesam:artist":  dbus.MakeVariant([]string{st.Group(defaultArtist)}),
		"xesam:album":   dbus.MakeVariant(st.Category(defaultAlbum)),
		"xesam:url":     dbus.MakeVariant(st.StreamURL),
	}

	if art := ArtworkURL(st.IconURL, iconBase); art != "" {
		m["mpris:artUrl"] = dbus.MakeVariant(art)
	}

	return m
}

// ArtworkURL resolves a station icon to a fully qualified URL, as the
// platform rejects relative artwork references. It returns "" for a
// missing, malformed, or unresolvable icon; metadata then simply
// carries no artwork.
func ArtworkURL(icon string, base *url.URL) string {
	if icon == "" {
		return ""
	}

	u, err := url.Parse(icon)
	if err != nil {
		return ""
	}

	if u.IsAbs() {
		return u.String()
	}
	if base == nil {
		return ""
	}

	return base.ResolveReference(u).String()
}

// trackID derives a D-Bus object path from the station identity.
func trackID(st *radyo.Station) dbus.ObjectPath {
	id := st.ID
	if id == "" {
		id = st.Name
	}

	id = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, id)

	return dbus.ObjectPath("/com/radyolab/radyo/station/" + id)
}
