package provider

import "strings"

// Mode is a map display mode as chosen by the user.
type Mode int

const (
	Standard Mode = iota
	Satellite
	Dark
)

func (m Mode) String() string {
	switch m {
	case Satellite:
		return "satellite"
	case Dark:
		return "dark"
	}

	return "standard"
}

// ParseMode never fails, anything unrecognized is Standard.
func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "satellite":
		return Satellite
	case "dark":
		return Dark
	}

	return Standard
}

// Resolve returns the provider displayed for mode.
func Resolve(mode Mode) Provider {
	switch mode {
	case Satellite:
		return Lookup(EsriSatellite)
	case Dark:
		return Lookup(CartoDBDark)
	}

	return Lookup(OSMStandard)
}

// Attribution returns the attribution text to display for mode.
func Attribution(mode Mode) string {
	return Resolve(mode).Attribution
}
