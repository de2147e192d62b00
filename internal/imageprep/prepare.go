// Package imageprep turns raw image blobs into size-bounded data URIs ready for
// submission, and implements the resize engine behind /api/resize.
package imageprep

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"

	"tryon/internal/imagedata"
	"tryon/internal/tryon"
)

var (
	// ErrCompressionFailed means the image could not be brought under budget.
	ErrCompressionFailed = errors.New("imageprep: compression failed to meet size budget")
	// ErrUnsupportedImage means the blob could not be decoded as an image.
	ErrUnsupportedImage = errors.New("imageprep: unsupported image")
	// ErrImageTooLarge means the source declares more pixels than MaxSourcePixels.
	ErrImageTooLarge = errors.New("imageprep: image too large")
)

// MaxSourcePixels bounds the width*height of any image decoded into memory.
const MaxSourcePixels = 40_000_000

// Budget bounds the prepared payload.
type Budget struct {
	// MaxBytes is the upper bound on the length of the encoded data URI.
	MaxBytes int
	// MaxDimension bounds the longest edge in pixels.
	MaxDimension int
}

// DefaultBudget keeps each encoded image under 2048 KiB and 2048 px.
var DefaultBudget = Budget{MaxBytes: 2048 * 1024, MaxDimension: 2048}

var (
	qualitySteps  = []int{90, 80, 70, 60, 50, 40}
	maxShrinks    = 8
	shrinkFactor  = 0.8
	minDimension  = 32
	jpegURIPrefix = len("data:image/jpeg;base64,")
)

// Encode returns the data URI form of blob without altering it.
func Encode(blob []byte) string {
	return imagedata.Encode(blob)
}

// Compress encodes blob as a data URI no longer than b.MaxBytes. Images that
// already fit are passed through; others are re-encoded as JPEG with falling
// quality and, if needed, progressively downscaled.
func Compress(ctx context.Context, blob []byte, b Budget) (string, error) {
	if len(blob) == 0 {
		return "", fmt.Errorf("%w: empty blob", ErrUnsupportedImage)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(blob))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	if err := checkPixels(cfg.Width, cfg.Height); err != nil {
		return "", err
	}
	direct := imagedata.Encode(blob)
	if len(direct) <= b.MaxBytes && withinDimension(cfg.Width, cfg.Height, b.MaxDimension) {
		return direct, nil
	}

	src, _, err := image.Decode(bytes.NewReader(blob))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	img := fitWithin(src, b.MaxDimension)

	for shrink := 0; shrink <= maxShrinks; shrink++ {
		for _, q := range qualitySteps {
			if err := ctx.Err(); err != nil {
				return "", err
			}
			var buf bytes.Buffer
			if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: q}); err != nil {
				return "", fmt.Errorf("imageprep: encode jpeg: %w", err)
			}
			if jpegURIPrefix+base64.StdEncoding.EncodedLen(buf.Len()) <= b.MaxBytes {
				return imagedata.EncodeAs("image/jpeg", buf.Bytes()), nil
			}
		}
		bounds := img.Bounds()
		w := int(float64(bounds.Dx()) * shrinkFactor)
		h := int(float64(bounds.Dy()) * shrinkFactor)
		if w < minDimension || h < minDimension {
			break
		}
		img = scale(img, w, h)
	}
	return "", ErrCompressionFailed
}

// PrepareAll compresses the model and every apparel image concurrently. The
// first failure cancels the remaining work. Apparel order is preserved.
func PrepareAll(ctx context.Context, model []byte, apparel [][]byte, b Budget) (tryon.Request, error) {
	req := tryon.Request{ApparelImages: make([]string, len(apparel))}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		out, err := Compress(gctx, model, b)
		if err != nil {
			return fmt.Errorf("model image: %w", err)
		}
		req.ModelImage = out
		return nil
	})
	for i, blob := range apparel {
		g.Go(func() error {
			out, err := Compress(gctx, blob, b)
			if err != nil {
				return fmt.Errorf("apparel image %d: %w", i, err)
			}
			req.ApparelImages[i] = out
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return tryon.Request{}, err
	}
	return req, nil
}

// checkPixels rejects images whose decoded form would not fit the pixel budget.
func checkPixels(w, h int) error {
	if w <= 0 || h <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrUnsupportedImage, w, h)
	}
	if int64(w)*int64(h) > MaxSourcePixels {
		return fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrImageTooLarge, w, h, MaxSourcePixels)
	}
	return nil
}

func withinDimension(w, h, max int) bool {
	return max <= 0 || (w <= max && h <= max)
}

func fitWithin(src image.Image, max int) image.Image {
	b := src.Bounds()
	if withinDimension(b.Dx(), b.Dy(), max) {
		return src
	}
	ratio := float64(max) / float64(b.Dx())
	if b.Dy() > b.Dx() {
		ratio = float64(max) / float64(b.Dy())
	}
	return scale(src, int(float64(b.Dx())*ratio), int(float64(b.Dy())*ratio))
}

func scale(src image.Image, w, h int) image.Image {
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)
	return dst
}
