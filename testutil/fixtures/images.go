// =============================================================================
// 📦 测试数据工厂 - 图像与输入样例
// =============================================================================
package fixtures

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
)

// gradient 生成确定性的渐变图像
func gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8(x * 255 / max(w-1, 1)),
				G: uint8(y * 255 / max(h-1, 1)),
				B: 128,
				A: 255,
			})
		}
	}
	return img
}

// PNG 返回 w×h 的 PNG 字节
func PNG(w, h int) []byte {
	var buf bytes.Buffer
	if err := png.Encode(&buf, gradient(w, h)); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// JPEG 返回 w×h 的 JPEG 字节
func JPEG(w, h int) []byte {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, gradient(w, h), &jpeg.Options{Quality: 90}); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// DiffusionInputs 返回图像生成类实验的典型输入
func DiffusionInputs() map[string]any {
	return map[string]any{
		"cfg":     7.5,
		"seed":    42,
		"sampler": map[string]any{"name": "euler", "steps": 20},
	}
}
