// Package tile provides slippy map tile coordinates.
package tile

import (
	"fmt"
	"math"
)

// MaxZoom is the deepest zoom level accepted.
const MaxZoom = 22

// Coord is a web mercator tile coordinate.
type Coord struct {
	X, Y, Z int
}

func (c Coord) String() string {
	return fmt.Sprintf("%d/%d/%d", c.Z, c.X, c.Y)
}

// Valid reports whether c addresses an existing tile.
func (c Coord) Valid() bool {
	if c.Z < 0 || c.Z > MaxZoom {
		return false
	}
	n := 1 << uint(c.Z)

	return c.X >= 0 && c.X < n && c.Y >= 0 && c.Y < n
}

// FromLatLng returns the tile containing lat, lng at zoom z.
func FromLatLng(lat, lng float64, z int) Coord {
	latRad := lat * math.Pi / 180
	n := math.Exp2(float64(z))
	x := int(math.Floor((lng + 180.0) / 360.0 * n))
	y := int(math.Floor((1.0 - math.Log(math.Tan(latRad)+1/math.Cos(latRad))/math.Pi) / 2.0 * n))

	return clamp(Coord{X: x, Y: y, Z: z})
}

// Around returns the tiles in the square of the given radius centered on c,
// clamped to the valid range for the zoom level.
func Around(c Coord, radius int) []Coord {
	if radius < 0 {
		radius = 0
	}
	seen := make(map[Coord]struct{})
	coords := make([]Coord, 0, (2*radius+1)*(2*radius+1))

	for x := c.X - radius; x <= c.X+radius; x++ {
		for y := c.Y - radius; y <= c.Y+radius; y++ {
			cc := clamp(Coord{X: x, Y: y, Z: c.Z})
			if _, ok := seen[cc]; ok {
				continue
			}
			seen[cc] = struct{}{}
			coords = append(coords, cc)
		}
	}

	return coords
}

func clamp(c Coord) Coord {
	maxTile := (1 << uint(c.Z)) - 1
	c.X = max(0, min(c.X, maxTile))
	c.Y = max(0, min(c.Y, maxTile))

	return c
}
