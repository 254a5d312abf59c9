package cache

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/akhenakh/tilecache/provider"
	"github.com/akhenakh/tilecache/tile"
)

// Hybrid is a satellite tile with its optional labels overlay.
type Hybrid struct {
	Base   *Tile
	Labels *Tile
}

// LoadSatelliteWithLabels loads the satellite imagery and the labels overlay
// for x, y, z concurrently.
// Labels are best effort: a missing overlay, or one replaced by the
// fallback provider, leaves Labels nil.
func (c *Cache) LoadSatelliteWithLabels(ctx context.Context, x, y, z int) (Hybrid, error) {
	var h Hybrid

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		t, err := c.LoadProvider(gctx, provider.EsriSatellite, x, y, z)
		if err != nil {
			return err
		}
		h.Base = t

		return nil
	})

	g.Go(func() error {
		t, err := c.LoadProvider(gctx, provider.EsriLabels, x, y, z)
		if errors.Is(err, ErrTileUnavailable) {
			return nil
		}
		if err != nil {
			return err
		}
		if t.Source == provider.EsriLabels {
			h.Labels = t
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		return Hybrid{}, err
	}

	return h, nil
}

// Prefetch loads coords for mode with at most concurrency loads at a time,
// and returns how many tiles are available.
func (c *Cache) Prefetch(ctx context.Context, mode provider.Mode, coords []tile.Coord, concurrency int) int {
	if concurrency <= 0 {
		concurrency = 1
	}

	var loaded atomic.Int64

	g := new(errgroup.Group)
	g.SetLimit(concurrency)

	for _, co := range coords {
		if ctx.Err() != nil {
			break
		}
		co := co
		g.Go(func() error {
			if _, err := c.LoadTile(ctx, mode, co.X, co.Y, co.Z); err == nil {
				loaded.Add(1)
			}

			return nil
		})
	}
	_ = g.Wait()

	return int(loaded.Load())
}
