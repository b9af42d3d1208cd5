package ocr

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// minWidth is the width below which images are upscaled before recognition;
// tesseract loses glyphs on small renders.
const minWidth = 300

// Upscaled output never exceeds these bounds. Thin spacer images would
// otherwise grow into multi-gigabyte buffers.
const (
	maxUpscaledSide   = 16384
	maxUpscaledPixels = 24_000_000
)

var ErrEmptyImage = errors.New("empty image data")

// Normalize decodes page image bytes and returns data tesseract can read.
// PNG and JPEG inputs of adequate size pass through untouched; other formats
// (webp, bmp, tiff, gif) are re-encoded as PNG.
func Normalize(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	b := img.Bounds()
	if b.Dx() >= minWidth && (format == "png" || format == "jpeg") {
		return data, nil
	}

	if scale := upscaleFactor(b.Dx(), b.Dy()); scale > 1 {
		dst := image.NewRGBA(image.Rect(0, 0, b.Dx()*scale, b.Dy()*scale))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
		img = dst
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// upscaleFactor is the integer factor that brings w up to minWidth, reduced
// until the result fits maxUpscaledSide and maxUpscaledPixels. 1 means the
// image is used as is.
func upscaleFactor(w, h int) int {
	if w <= 0 || h <= 0 || w >= minWidth {
		return 1
	}
	scale := (minWidth + w - 1) / w
	for scale > 1 && (h*scale > maxUpscaledSide || w*scale*h*scale > maxUpscaledPixels) {
		scale--
	}
	return scale
}
