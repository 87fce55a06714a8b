package dataset

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"math/rand"
	"os"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
	_ "golang.org/x/image/webp"
)

// Geometry and per-channel normalization of the ImageNet-pretrained
// backbones.
const (
	CropSize   = 224
	ResizeSize = 256
	Channels   = 3
)

var (
	Mean = [Channels]float64{0.485, 0.456, 0.406}
	Std  = [Channels]float64{0.229, 0.224, 0.225}
)

// Transform turns a decoded image into a normalized CHW row.
type Transform interface {
	Apply(img image.Image, rng *rand.Rand) []float64
	// Width is the length of every row Apply returns.
	Width() int
}

// Augment is the randomized training pipeline: rotation, random resized
// crop, horizontal and vertical flips, then normalization.
type Augment struct {
	Size    int
	Degrees float64
	Scale   [2]float64
	Ratio   [2]float64
	HFlip   float64
	VFlip   float64
}

// TrainTransform returns the augmentation used for the training split.
func TrainTransform() Augment {
	return Augment{
		Size:    CropSize,
		Degrees: 30,
		Scale:   [2]float64{0.08, 1},
		Ratio:   [2]float64{3.0 / 4.0, 4.0 / 3.0},
		HFlip:   0.5,
		VFlip:   0.5,
	}
}

func (a Augment) Width() int { return Channels * a.Size * a.Size }

func (a Augment) Apply(img image.Image, rng *rand.Rand) []float64 {
	src := toRGBA(img)
	if a.Degrees > 0 {
		src = rotate(src, (rng.Float64()*2-1)*a.Degrees)
	}
	crop := a.cropRect(src.Bounds(), rng)
	dst := image.NewRGBA(image.Rect(0, 0, a.Size, a.Size))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, crop, draw.Src, nil)
	hflip := rng.Float64() < a.HFlip
	vflip := rng.Float64() < a.VFlip
	return toTensor(dst, dst.Bounds(), hflip, vflip)
}

// cropRect samples a region covering Scale of the area with an aspect ratio
// drawn log-uniformly from Ratio, falling back to a center crop after ten
// failed attempts.
func (a Augment) cropRect(b image.Rectangle, rng *rand.Rand) image.Rectangle {
	w, h := b.Dx(), b.Dy()
	area := float64(w * h)
	logLo, logHi := math.Log(a.Ratio[0]), math.Log(a.Ratio[1])
	for attempt := 0; attempt < 10; attempt++ {
		target := area * (a.Scale[0] + rng.Float64()*(a.Scale[1]-a.Scale[0]))
		ratio := math.Exp(logLo + rng.Float64()*(logHi-logLo))
		cw := int(math.Round(math.Sqrt(target * ratio)))
		ch := int(math.Round(math.Sqrt(target / ratio)))
		if cw > 0 && ch > 0 && cw <= w && ch <= h {
			x := rng.Intn(w - cw + 1)
			y := rng.Intn(h - ch + 1)
			return image.Rect(x, y, x+cw, y+ch).Add(b.Min)
		}
	}
	cw, ch := w, h
	inRatio := float64(w) / float64(h)
	switch {
	case inRatio < a.Ratio[0]:
		ch = int(math.Round(float64(cw) / a.Ratio[0]))
	case inRatio > a.Ratio[1]:
		cw = int(math.Round(float64(ch) * a.Ratio[1]))
	}
	x := (w - cw) / 2
	y := (h - ch) / 2
	return image.Rect(x, y, x+cw, y+ch).Add(b.Min)
}

// CenterCrop is the deterministic validation pipeline: resize the shorter
// side to Resize, then crop Size×Size from the center.
type CenterCrop struct {
	Resize int
	Size   int
}

// EvalTransform returns the pipeline used for validation and test splits.
func EvalTransform() CenterCrop {
	return CenterCrop{Resize: ResizeSize, Size: CropSize}
}

func (c CenterCrop) Width() int { return Channels * c.Size * c.Size }

func (c CenterCrop) Apply(img image.Image, _ *rand.Rand) []float64 {
	src := toRGBA(img)
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	nw, nh := c.Resize, c.Resize
	if w <= h {
		nh = c.Resize * h / w
	} else {
		nw = c.Resize * w / h
	}
	nw, nh = max(nw, c.Size), max(nh, c.Size)
	resized := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.BiLinear.Scale(resized, resized.Bounds(), src, src.Bounds(), draw.Src, nil)
	x0 := int(math.Round(float64(nw-c.Size) / 2))
	y0 := int(math.Round(float64(nh-c.Size) / 2))
	return toTensor(resized, image.Rect(x0, y0, x0+c.Size, y0+c.Size), false, false)
}

// rotate turns img by deg degrees about its center, keeping the canvas
// size. Uncovered pixels stay black.
func rotate(img *image.RGBA, deg float64) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(b)
	rad := deg * math.Pi / 180
	sin, cos := math.Sincos(rad)
	cx := float64(b.Min.X) + float64(b.Dx())/2
	cy := float64(b.Min.Y) + float64(b.Dy())/2
	s2d := f64.Aff3{
		cos, -sin, cx - cos*cx + sin*cy,
		sin, cos, cy - sin*cx - cos*cy,
	}
	draw.BiLinear.Transform(dst, s2d, img, b, draw.Src, nil)
	return dst
}

// toRGBA copies img into an opaque RGBA image. Alpha is dropped, not
// composited, so translucent pixels keep their straight color.
func toRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			off := dst.PixOffset(x, y)
			dst.Pix[off+0] = c.R
			dst.Pix[off+1] = c.G
			dst.Pix[off+2] = c.B
			dst.Pix[off+3] = 0xff
		}
	}
	return dst
}

// toTensor converts region r of img into a normalized CHW row.
func toTensor(img *image.RGBA, r image.Rectangle, hflip, vflip bool) []float64 {
	w, h := r.Dx(), r.Dy()
	plane := w * h
	out := make([]float64, Channels*plane)
	for y := 0; y < h; y++ {
		sy := y
		if vflip {
			sy = h - 1 - y
		}
		for x := 0; x < w; x++ {
			sx := x
			if hflip {
				sx = w - 1 - x
			}
			off := img.PixOffset(r.Min.X+sx, r.Min.Y+sy)
			for c := 0; c < Channels; c++ {
				out[c*plane+y*w+x] = (float64(img.Pix[off+c])/255 - Mean[c]) / Std[c]
			}
		}
	}
	return out
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("decode %s: empty image", path)
	}
	return img, nil
}
