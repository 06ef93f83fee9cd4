package classifier

import (
	"image"

	"golang.org/x/image/draw"
)

// InputSize is the square edge the model expects.
const InputSize = 224

var (
	channelMean = [3]float32{0.485, 0.456, 0.406}
	channelStd  = [3]float32{0.229, 0.224, 0.225}
)

// Preprocess resizes img to InputSize x InputSize and normalizes each channel
// with the ImageNet statistics the model was trained on.
func Preprocess(img image.Image) Tensor {
	dst := image.NewRGBA(image.Rect(0, 0, InputSize, InputSize))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)

	plane := InputSize * InputSize
	data := make([]float32, 3*plane)
	for y := 0; y < InputSize; y++ {
		for x := 0; x < InputSize; x++ {
			off := dst.PixOffset(x, y)
			idx := y*InputSize + x
			for c := 0; c < 3; c++ {
				v := float32(dst.Pix[off+c]) / 255
				data[c*plane+idx] = (v - channelMean[c]) / channelStd[c]
			}
		}
	}
	return Tensor{Shape: [3]int{3, InputSize, InputSize}, Data: data}
}
