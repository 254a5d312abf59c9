package cache

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/akhenakh/tilecache/provider"
)

// Key identifies one cached tile of one provider.
type Key struct {
	Provider provider.ID
	X, Y, Z  int
}

// KeyFor returns the key for the tile x, y, z served by id.
func KeyFor(id provider.ID, x, y, z int) Key {
	return Key{Provider: id, X: x, Y: y, Z: z}
}

// String serializes the key as provider/z/x/y, provider names never contain a slash.
func (k Key) String() string {
	return fmt.Sprintf("%s/%d/%d/%d", k.Provider, k.Z, k.X, k.Y)
}

// Tile is a fetched and decoded raster tile.
type Tile struct {
	Data        []byte
	ContentType string
	Image       image.Image

	// Source is the provider that actually served the tile,
	// it differs from the requested one after a fallback.
	Source provider.ID
}

func decodeTile(data []byte, ctype string, source provider.ID) (*Tile, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("can't decode tile image: %w", err)
	}
	if ctype == "" {
		ctype = "image/" + format
	}

	return &Tile{
		Data:        data,
		ContentType: ctype,
		Image:       img,
		Source:      source,
	}, nil
}
