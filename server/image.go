package server

import (
	"bytes"
	"image"
	"image/color"
	"image/png"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/akhenakh/tilecache/tile"
)

const tileSize = 256

// composite draws labels over base, labels are scaled to the base size.
func composite(base, labels image.Image) ([]byte, error) {
	b := base.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))

	draw.Draw(dst, dst.Bounds(), base, b.Min, draw.Src)
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), labels, labels.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// placeholder renders a neutral tile labelled with its coordinates.
func placeholder(co tile.Coord) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, tileSize, tileSize))

	bg := color.RGBA{R: 230, G: 230, B: 230, A: 255}
	draw.Draw(img, img.Bounds(), &image.Uniform{C: bg}, image.Point{}, draw.Src)

	border := color.RGBA{R: 190, G: 190, B: 190, A: 255}
	for _, r := range []image.Rectangle{
		image.Rect(0, 0, tileSize, 1),
		image.Rect(0, tileSize-1, tileSize, tileSize),
		image.Rect(0, 0, 1, tileSize),
		image.Rect(tileSize-1, 0, tileSize, tileSize),
	} {
		draw.Draw(img, r, &image.Uniform{C: border}, image.Point{}, draw.Src)
	}

	text := co.String()
	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.RGBA{R: 120, G: 120, B: 120, A: 255}),
		Face: face,
	}
	textWidth := d.MeasureString(text).Round()
	textHeight := face.Metrics().Height.Round()
	d.Dot = fixed.Point26_6{
		X: fixed.I((tileSize - textWidth) / 2),
		Y: fixed.I((tileSize + textHeight) / 2),
	}
	d.DrawString(text)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
