// Package asset decodes images into the tightly packed RGBA textures the
// engine uploads.
package asset

import (
	"bufio"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"

	_ "golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/gogpu/gfx/gpuerr"
)

// MaxDimension is the largest width or height DecodeTexture accepts
// without scaling.
const MaxDimension = 16384

// DecodeOptions adjusts decoding.
type DecodeOptions struct {
	// MaxSize scales images down, keeping the aspect ratio, so neither side
	// exceeds it. Zero means MaxDimension, and larger images are rejected.
	MaxSize int
}

// DecodeTexture decodes any registered image format into an RGBA image
// whose bounds start at the origin.
func DecodeTexture(r io.Reader, opts *DecodeOptions) (*image.RGBA, error) {
	src, format, err := image.Decode(r)
	if err != nil {
		return nil, gpuerr.AssetLoad(err, "decode image")
	}
	b := src.Bounds()
	if b.Empty() {
		return nil, gpuerr.AssetLoad(nil, "%s image is empty", format)
	}

	w, h := b.Dx(), b.Dy()
	limit := 0
	if opts != nil {
		limit = opts.MaxSize
	}
	if limit <= 0 {
		if w > MaxDimension || h > MaxDimension {
			return nil, gpuerr.AssetLoad(nil, "%s image is %dx%d, larger than %d", format, w, h, MaxDimension)
		}
		return toRGBA(src), nil
	}
	if w <= limit && h <= limit {
		return toRGBA(src), nil
	}

	sw, sh := scaled(w, h, limit)
	dst := image.NewRGBA(image.Rect(0, 0, sw, sh))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, b, xdraw.Src, nil)
	return dst, nil
}

// DecodeFile decodes the image at path.
func DecodeFile(path string, opts *DecodeOptions) (*image.RGBA, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, gpuerr.AssetLoad(err, "open texture %q", path)
	}
	defer f.Close()
	img, err := DecodeTexture(bufio.NewReader(f), opts)
	if err != nil {
		return nil, gpuerr.AssetLoad(err, "texture %q", path)
	}
	return img, nil
}

func toRGBA(src image.Image) *image.RGBA {
	if rgba, ok := src.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) && rgba.Stride == 4*rgba.Rect.Dx() {
		return rgba
	}
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Draw(dst, dst.Bounds(), src, b.Min, xdraw.Src)
	return dst
}

// scaled fits w x h inside limit x limit, never below 1 pixel.
func scaled(w, h, limit int) (int, int) {
	if w >= h {
		return limit, max(1, h*limit/w)
	}
	return max(1, w*limit/h), limit
}
