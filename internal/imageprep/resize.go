package imageprep

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"strings"

	"golang.org/x/image/draw"
)

// ErrInvalidOptions reports resize options that cannot be honoured.
var ErrInvalidOptions = errors.New("imageprep: invalid resize options")

// Fit modes accepted by Resize.
const (
	FitCover   = "cover"
	FitContain = "contain"
	FitFill    = "fill"
	FitInside  = "inside"
	FitOutside = "outside"
)

const defaultQuality = 80

// MaxResizeDimension bounds each edge of a resize output.
const MaxResizeDimension = 8192

// ResizeOptions mirrors the options object of the resize endpoint.
type ResizeOptions struct {
	Width              *int   `json:"width,omitempty"`
	Height             *int   `json:"height,omitempty"`
	Fit                string `json:"fit,omitempty"`
	Quality            *int   `json:"quality,omitempty"`
	Format             string `json:"format,omitempty"`
	WithoutEnlargement bool   `json:"withoutEnlargement,omitempty"`
}

// Metadata describes the encoded output image.
type Metadata struct {
	Format string `json:"format"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Size   int    `json:"size"`
}

// ResizeInfo compares the source and output images.
type ResizeInfo struct {
	OriginalWidth    int     `json:"originalWidth"`
	OriginalHeight   int     `json:"originalHeight"`
	NewWidth         int     `json:"newWidth"`
	NewHeight        int     `json:"newHeight"`
	OriginalSize     int     `json:"originalSize"`
	NewSize          int     `json:"newSize"`
	CompressionRatio float64 `json:"compressionRatio"`
}

// Resized is the output of Resize.
type Resized struct {
	Data     []byte
	MIME     string
	Metadata Metadata
	Info     ResizeInfo
}

type layout struct {
	canvas image.Rectangle
	dst    image.Rectangle
	src    image.Rectangle
}

// Resize decodes data, scales it according to opts and re-encodes it.
func Resize(data []byte, opts ResizeOptions) (*Resized, error) {
	fit, quality, err := normalizeOptions(&opts)
	if err != nil {
		return nil, err
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	if err := checkPixels(cfg.Width, cfg.Height); err != nil {
		return nil, err
	}
	bounds := image.Rect(0, 0, cfg.Width, cfg.Height)
	l := plan(bounds, opts.Width, opts.Height, fit, opts.WithoutEnlargement)
	if l.canvas.Dx() > MaxResizeDimension || l.canvas.Dy() > MaxResizeDimension {
		return nil, fmt.Errorf("%w: output %dx%d exceeds %d px", ErrInvalidOptions, l.canvas.Dx(), l.canvas.Dy(), MaxResizeDimension)
	}

	src, srcFormat, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	if src.Bounds() != bounds {
		l = plan(src.Bounds(), opts.Width, opts.Height, fit, opts.WithoutEnlargement)
	}
	format := outputFormat(opts.Format, srcFormat)

	canvas := image.NewRGBA(l.canvas)
	if l.dst != l.canvas && format == "jpeg" {
		draw.Draw(canvas, canvas.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	}
	draw.CatmullRom.Scale(canvas, l.dst, src, l.src, draw.Over, nil)

	var buf bytes.Buffer
	mime := "image/jpeg"
	switch format {
	case "png":
		mime = "image/png"
		err = png.Encode(&buf, canvas)
	default:
		err = jpeg.Encode(&buf, canvas, &jpeg.Options{Quality: quality})
	}
	if err != nil {
		return nil, fmt.Errorf("imageprep: encode %s: %w", format, err)
	}

	out := buf.Bytes()
	ratio := 0.0
	if len(out) > 0 {
		ratio = math.Round(float64(len(data))/float64(len(out))*100) / 100
	}
	return &Resized{
		Data: out,
		MIME: mime,
		Metadata: Metadata{
			Format: format,
			Width:  l.canvas.Dx(),
			Height: l.canvas.Dy(),
			Size:   len(out),
		},
		Info: ResizeInfo{
			OriginalWidth:    src.Bounds().Dx(),
			OriginalHeight:   src.Bounds().Dy(),
			NewWidth:         l.canvas.Dx(),
			NewHeight:        l.canvas.Dy(),
			OriginalSize:     len(data),
			NewSize:          len(out),
			CompressionRatio: ratio,
		},
	}, nil
}

func normalizeOptions(opts *ResizeOptions) (string, int, error) {
	for _, d := range []struct {
		name string
		v    *int
	}{{"width", opts.Width}, {"height", opts.Height}} {
		if d.v == nil {
			continue
		}
		if *d.v <= 0 {
			return "", 0, fmt.Errorf("%w: %s must be positive", ErrInvalidOptions, d.name)
		}
		if *d.v > MaxResizeDimension {
			return "", 0, fmt.Errorf("%w: %s must be at most %d", ErrInvalidOptions, d.name, MaxResizeDimension)
		}
	}
	quality := defaultQuality
	if opts.Quality != nil {
		quality = *opts.Quality
		if quality < 1 || quality > 100 {
			return "", 0, fmt.Errorf("%w: quality must be within 1-100", ErrInvalidOptions)
		}
	}
	fit := strings.ToLower(strings.TrimSpace(opts.Fit))
	switch fit {
	case "":
		fit = FitInside
	case FitCover, FitContain, FitFill, FitInside, FitOutside:
	default:
		return "", 0, fmt.Errorf("%w: unknown fit %q", ErrInvalidOptions, opts.Fit)
	}
	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "", "jpeg", "jpg", "png":
	default:
		return "", 0, fmt.Errorf("%w: unsupported format %q", ErrInvalidOptions, opts.Format)
	}
	return fit, quality, nil
}

func outputFormat(requested, source string) string {
	switch strings.ToLower(strings.TrimSpace(requested)) {
	case "png":
		return "png"
	case "jpeg", "jpg":
		return "jpeg"
	}
	if source == "png" {
		return "png"
	}
	return "jpeg"
}

// plan computes the output canvas, where the scaled image lands on it, and which
// part of the source is used.
func plan(src image.Rectangle, width, height *int, fit string, withoutEnlargement bool) layout {
	sw, sh := float64(src.Dx()), float64(src.Dy())
	full := func(w, h int) layout {
		r := image.Rect(0, 0, max(w, 1), max(h, 1))
		return layout{canvas: r, dst: r, src: src}
	}

	switch {
	case width == nil && height == nil:
		return full(src.Dx(), src.Dy())
	case height == nil:
		s := float64(*width) / sw
		if withoutEnlargement {
			s = math.Min(s, 1)
		}
		return full(round(sw*s), round(sh*s))
	case width == nil:
		s := float64(*height) / sh
		if withoutEnlargement {
			s = math.Min(s, 1)
		}
		return full(round(sw*s), round(sh*s))
	}

	w, h := float64(*width), float64(*height)
	switch fit {
	case FitInside, FitOutside:
		s := math.Min(w/sw, h/sh)
		if fit == FitOutside {
			s = math.Max(w/sw, h/sh)
		}
		if withoutEnlargement {
			s = math.Min(s, 1)
		}
		return full(round(sw*s), round(sh*s))
	}

	if withoutEnlargement {
		w, h = math.Min(w, sw), math.Min(h, sh)
	}
	canvas := image.Rect(0, 0, max(round(w), 1), max(round(h), 1))
	switch fit {
	case FitCover:
		s := math.Max(w/sw, h/sh)
		cw, ch := w/s, h/s
		x0 := src.Min.X + round((sw-cw)/2)
		y0 := src.Min.Y + round((sh-ch)/2)
		return layout{canvas: canvas, dst: canvas, src: image.Rect(x0, y0, x0+round(cw), y0+round(ch))}
	case FitContain:
		s := math.Min(w/sw, h/sh)
		dw, dh := round(sw*s), round(sh*s)
		x0 := (canvas.Dx() - dw) / 2
		y0 := (canvas.Dy() - dh) / 2
		return layout{canvas: canvas, dst: image.Rect(x0, y0, x0+dw, y0+dh), src: src}
	default:
		return layout{canvas: canvas, dst: canvas, src: src}
	}
}

func round(f float64) int {
	return int(math.Round(f))
}

// ResizeRequest is the body of the resize endpoint. ImageB64 is a data URI or
// bare base64 payload.
type ResizeRequest struct {
	ImageB64 string         `json:"imageB64"`
	Options  *ResizeOptions `json:"options"`
}

// ResizeResponse is the success body of the resize endpoint.
type ResizeResponse struct {
	ResizedB64 string     `json:"resizedB64"`
	Metadata   Metadata   `json:"metadata"`
	ResizeInfo ResizeInfo `json:"resizeInfo"`
}
