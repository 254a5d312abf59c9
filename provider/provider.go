// Package provider holds the static table of raster tile providers and the
// mapping from display modes to providers.
package provider

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// ID identifies a tile provider.
type ID int

const (
	OSMStandard ID = iota
	EsriSatellite
	CartoDBDark
	OSMHot
	EsriLabels
)

// Default is the provider used as the fallback source for failed tiles.
const Default = OSMStandard

var ids = []ID{OSMStandard, EsriSatellite, CartoDBDark, OSMHot, EsriLabels}

func (id ID) String() string {
	switch id {
	case OSMStandard:
		return "osm-standard"
	case EsriSatellite:
		return "esri-satellite"
	case CartoDBDark:
		return "cartodb-dark"
	case OSMHot:
		return "osm-hot"
	case EsriLabels:
		return "esri-labels"
	}

	return "unknown-" + strconv.Itoa(int(id))
}

// ParseID returns the provider ID for names such as "esri-labels".
func ParseID(s string) (ID, bool) {
	for _, id := range ids {
		if id.String() == s {
			return id, true
		}
	}

	return OSMStandard, false
}

// Provider describes a tile source.
type Provider struct {
	ID          ID
	Name        string
	Attribution string
	HasLabels   bool
	MaxZoom     int

	// template uses {s}, {z}, {x} and {y} placeholders
	template   string
	subdomains []string
}

// URL returns the tile URL for x, y, z.
// The mirror subdomain is derived from the coordinates so a given tile is
// always requested from the same mirror.
func (p Provider) URL(x, y, z int) string {
	zs, xs, ys := strconv.Itoa(z), strconv.Itoa(x), strconv.Itoa(y)

	s := ""
	if len(p.subdomains) > 0 {
		h := xxhash.Sum64String(zs + "/" + xs + "/" + ys)
		s = p.subdomains[h%uint64(len(p.subdomains))]
	}

	return strings.NewReplacer("{s}", s, "{z}", zs, "{x}", xs, "{y}", ys).Replace(p.template)
}

func (p Provider) String() string {
	return fmt.Sprintf("%s (%s)", p.ID, p.Name)
}

const osmAttribution = "© OpenStreetMap contributors"

// Lookup returns the provider for id, unknown values resolve to Default.
func Lookup(id ID) Provider {
	switch id {
	case OSMStandard:
		return Provider{
			ID:          OSMStandard,
			Name:        "OpenStreetMap",
			Attribution: osmAttribution,
			HasLabels:   true,
			MaxZoom:     19,
			template:    "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png",
			subdomains:  []string{"a", "b", "c"},
		}
	case EsriSatellite:
		return Provider{
			ID:          EsriSatellite,
			Name:        "Esri World Imagery",
			Attribution: "Tiles © Esri, Maxar, Earthstar Geographics, and the GIS User Community",
			HasLabels:   false,
			MaxZoom:     19,
			template:    "https://server.arcgisonline.com/ArcGIS/rest/services/World_Imagery/MapServer/tile/{z}/{y}/{x}",
		}
	case CartoDBDark:
		return Provider{
			ID:          CartoDBDark,
			Name:        "CARTO Dark Matter",
			Attribution: osmAttribution + " © CARTO",
			HasLabels:   true,
			MaxZoom:     20,
			template:    "https://{s}.basemaps.cartocdn.com/dark_all/{z}/{x}/{y}.png",
			subdomains:  []string{"a", "b", "c", "d"},
		}
	case OSMHot:
		return Provider{
			ID:          OSMHot,
			Name:        "Humanitarian OpenStreetMap",
			Attribution: osmAttribution + ", Tiles style by Humanitarian OpenStreetMap Team hosted by OpenStreetMap France",
			HasLabels:   true,
			MaxZoom:     19,
			template:    "https://{s}.tile.openstreetmap.fr/hot/{z}/{x}/{y}.png",
			subdomains:  []string{"a", "b", "c"},
		}
	case EsriLabels:
		return Provider{
			ID:          EsriLabels,
			Name:        "Esri Boundaries & Places",
			Attribution: "Labels © Esri",
			HasLabels:   true,
			MaxZoom:     19,
			template:    "https://server.arcgisonline.com/ArcGIS/rest/services/Reference/World_Boundaries_and_Places/MapServer/tile/{z}/{y}/{x}",
		}
	}

	return Lookup(Default)
}

// All returns every known provider.
func All() []Provider {
	ps := make([]Provider, 0, len(ids))
	for _, id := range ids {
		ps = append(ps, Lookup(id))
	}

	return ps
}
