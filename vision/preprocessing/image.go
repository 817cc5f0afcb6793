package preprocessing

import (
	"fmt"
	"image"
	"io"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
)

// Normalization holds per-channel mean and standard deviation applied
// after scaling pixels to [0, 1].
type Normalization struct {
	Mean [3]float32
	Std  [3]float32
}

// ImageNetNormalization is the standard normalization used by models
// pretrained on ImageNet.
var ImageNetNormalization = Normalization{
	Mean: [3]float32{0.485, 0.456, 0.406},
	Std:  [3]float32{0.229, 0.224, 0.225},
}

// ImageProcessor decodes images and converts them to normalized CHW
// float32 tensors of a fixed square size. The zero Normalization (all
// zero std) is replaced with identity scaling.
type ImageProcessor struct {
	targetSize int
	norm       Normalization
}

// NewImageProcessor creates an image processor producing
// 3*targetSize*targetSize tensors.
func NewImageProcessor(targetSize int, norm Normalization) *ImageProcessor {
	if norm.Std == ([3]float32{}) {
		norm = Normalization{Std: [3]float32{1, 1, 1}}
	}
	return &ImageProcessor{targetSize: targetSize, norm: norm}
}

// TensorLen returns the length of tensors produced by Transform.
func (p *ImageProcessor) TensorLen() int {
	return 3 * p.targetSize * p.targetSize
}

// Transform decodes an image in any registered format (jpeg, png, gif,
// bmp), resizes it to targetSize x targetSize with nearest-neighbor
// sampling, and returns CHW float32 data normalized per channel.
func (p *ImageProcessor) Transform(reader io.Reader) ([]float32, error) {
	img, _, err := image.Decode(reader)
	if err != nil {
		return nil, fmt.Errorf("preprocessing: failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("preprocessing: image has empty bounds %v", bounds)
	}

	size := p.targetSize
	plane := size * size
	data := make([]float32, 3*plane)

	scaleX := float64(width) / float64(size)
	scaleY := float64(height) / float64(size)

	for y := 0; y < size; y++ {
		srcY := bounds.Min.Y + int(float64(y)*scaleY)
		if srcY >= bounds.Max.Y {
			srcY = bounds.Max.Y - 1
		}
		for x := 0; x < size; x++ {
			srcX := bounds.Min.X + int(float64(x)*scaleX)
			if srcX >= bounds.Max.X {
				srcX = bounds.Max.X - 1
			}

			r, g, b, _ := img.At(srcX, srcY).RGBA()
			idx := y*size + x
			data[0*plane+idx] = (float32(r)/65535.0 - p.norm.Mean[0]) / p.norm.Std[0]
			data[1*plane+idx] = (float32(g)/65535.0 - p.norm.Mean[1]) / p.norm.Std[1]
			data[2*plane+idx] = (float32(b)/65535.0 - p.norm.Mean[2]) / p.norm.Std[2]
		}
	}

	return data, nil
}
