package blob

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	// 注册解码器
	_ "image/gif"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/BaSui01/labnotebook/internal/pool"
)

// makeThumbnail decodes an image and encodes a JPEG whose longest side is at
// most maxDim. Smaller images keep their size. Transparent areas become white.
func makeThumbnail(data []byte, maxDim, quality int) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	b := src.Bounds()
	w, h := thumbnailSize(b.Dx(), b.Dy(), maxDim)
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("empty image %dx%d", b.Dx(), b.Dy())
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	buf := pool.Buffers.Get()
	defer pool.Buffers.Put(buf)
	if err := jpeg.Encode(buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return bytes.Clone(buf.Bytes()), nil
}

// thumbnailSize scales (w, h) so the longest side is at most maxDim,
// preserving aspect ratio and never upscaling.
func thumbnailSize(w, h, maxDim int) (int, int) {
	if w <= 0 || h <= 0 {
		return 0, 0
	}
	if w <= maxDim && h <= maxDim {
		return w, h
	}
	if w >= h {
		return maxDim, max(1, h*maxDim/w)
	}
	return max(1, w*maxDim/h), maxDim
}
