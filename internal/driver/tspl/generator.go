// Package tspl converts images into TSPL2 command streams for TSC-style
// thermal label printers.
package tspl

import (
	"bytes"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/makeworld-the-better-one/dither/v2"

	"github.com/orrn/label-api/internal/driver"
)

type Generator struct{}

func NewGenerator() *Generator {
	return &Generator{}
}

var _ driver.Converter = (*Generator)(nil)

// ConvertImageToRaster renders every image onto its own label. Each label is
// a complete SIZE/GAP/.../PRINT block, so continuous media can carry labels
// of different lengths in one stream.
func (g *Generator) ConvertImageToRaster(modelName string, images []image.Image, options map[string]any) (*driver.Raster, error) {
	if len(images) == 0 {
		return nil, driver.ErrNoImages
	}

	model, err := LookupModel(modelName)
	if err != nil {
		return nil, err
	}

	opts, err := ParseOptions(options)
	if err != nil {
		return nil, err
	}

	if opts.WidthMM > model.MaxWidthMM {
		return nil, fmt.Errorf("%w: label width %.1f mm exceeds %s maximum of %.1f mm",
			driver.ErrInvalidOption, opts.WidthMM, model.Name, model.MaxWidthMM)
	}

	var buf bytes.Buffer
	for i, img := range images {
		if img == nil {
			return nil, fmt.Errorf("image %d is nil", i)
		}
		if err := g.writeLabel(&buf, model, opts, img); err != nil {
			return nil, fmt.Errorf("error generating label %d: %w", i, err)
		}
	}

	return &driver.Raster{
		Model: model.Name,
		DPI:   model.DPI,
		Pages: len(images),
		Data:  buf.Bytes(),
	}, nil
}

func (g *Generator) writeLabel(buf *bytes.Buffer, model Model, opts *Options, img image.Image) error {
	widthDots := mmToDots(opts.WidthMM, model.DPI)
	heightDots := mmToDots(opts.HeightMM, model.DPI)

	prepared := prepareImage(img, opts, widthDots, heightDots)
	bounds := prepared.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return fmt.Errorf("image has no printable area")
	}

	labelHeightMM := opts.HeightMM
	if labelHeightMM == 0 {
		labelHeightMM = dotsToMM(bounds.Dy(), model.DPI)
		heightDots = bounds.Dy()
	}

	x := (widthDots - bounds.Dx()) / 2
	y := (heightDots - bounds.Dy()) / 2

	fmt.Fprintf(buf, "SIZE %.1f mm, %.1f mm\n", opts.WidthMM, labelHeightMM)
	fmt.Fprintf(buf, "GAP %.1f mm, 0 mm\n", opts.GapMM)
	if opts.Density != nil {
		fmt.Fprintf(buf, "DENSITY %d\n", *opts.Density)
	}
	if opts.Speed != nil {
		fmt.Fprintf(buf, "SPEED %g\n", *opts.Speed)
	}
	if opts.Cut != nil {
		if *opts.Cut {
			buf.WriteString("SET CUTTER 1\n")
		} else {
			buf.WriteString("SET CUTTER OFF\n")
		}
	}
	buf.WriteString("DIRECTION 0\n")
	buf.WriteString("CLS\n")

	widthBytes, rows := packBitmap(prepared, opts)
	fmt.Fprintf(buf, "BITMAP %d,%d,%d,%d,0,", x, y, widthBytes, bounds.Dy())
	buf.Write(rows)
	buf.WriteString("\n")

	if opts.Copies > 1 {
		fmt.Fprintf(buf, "PRINT 1,%d\n", opts.Copies)
	} else {
		buf.WriteString("PRINT 1\n")
	}
	return nil
}

// prepareImage rotates and scales img to the printable area and returns it as
// grayscale. heightDots of 0 means continuous media, where only the width is
// constrained.
func prepareImage(src image.Image, opts *Options, widthDots, heightDots int) *image.NRGBA {
	// transparent areas print as paper, not as black
	b := src.Bounds()
	img := imaging.Overlay(imaging.New(b.Dx(), b.Dy(), color.White), src, image.Pt(0, 0), 1.0)

	var out *image.NRGBA
	switch opts.Rotate {
	case "90":
		out = imaging.Rotate90(img)
	case "180":
		out = imaging.Rotate180(img)
	case "270":
		out = imaging.Rotate270(img)
	case "auto":
		if needsRotation(img.Bounds(), widthDots, heightDots) {
			out = imaging.Rotate90(img)
		} else {
			out = img
		}
	default:
		out = img
	}

	if heightDots > 0 {
		out = imaging.Fit(out, widthDots, heightDots, imaging.Lanczos)
	} else if out.Bounds().Dx() != widthDots {
		out = imaging.Resize(out, widthDots, 0, imaging.Lanczos)
	}

	return imaging.Grayscale(out)
}

// needsRotation reports whether the image orientation disagrees with the
// label orientation. Continuous media counts as portrait.
func needsRotation(b image.Rectangle, widthDots, heightDots int) bool {
	imageLandscape := b.Dx() > b.Dy()
	labelLandscape := heightDots > 0 && widthDots > heightDots
	return imageLandscape != labelLandscape
}

// packBitmap converts a grayscale image into BITMAP rows, one bit per dot,
// most significant bit first. A cleared bit burns a dot.
func packBitmap(img *image.NRGBA, opts *Options) (int, []byte) {
	b := img.Bounds()
	widthBytes := (b.Dx() + 7) / 8

	if opts.Dither {
		d := dither.NewDitherer([]color.Color{color.Black, color.White})
		d.Matrix = dither.FloydSteinberg
		if out := d.Dither(img); out != nil {
			img = imaging.Clone(out)
		}
	}

	cutoff := uint8((100 - opts.Threshold) / 100 * 255)
	if opts.Dither {
		cutoff = 128
	}

	data := make([]byte, widthBytes*b.Dy())
	for i := range data {
		data[i] = 0xFF
	}

	for y := 0; y < b.Dy(); y++ {
		row := data[y*widthBytes : (y+1)*widthBytes]
		for x := 0; x < b.Dx(); x++ {
			gray := img.Pix[img.PixOffset(b.Min.X+x, b.Min.Y+y)]
			if gray < cutoff {
				row[x/8] &^= 0x80 >> uint(x%8)
			}
		}
	}

	return widthBytes, data
}
