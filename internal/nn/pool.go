package nn

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// GridPool summarizes a CHW image row as per-cell channel statistics.
//
// The Size×Size plane of each channel is split into a Grid×Grid lattice and
// every cell contributes its mean and standard deviation, giving
// Channels*Grid*Grid*2 outputs. It has no parameters and does not propagate
// gradients into the input pixels.
type GridPool struct {
	Channels int
	Size     int
	Grid     int
}

func NewGridPool(channels, size, grid int) *GridPool {
	return &GridPool{Channels: channels, Size: size, Grid: grid}
}

func (g *GridPool) Forward(x *mat.Dense) *mat.Dense {
	n, c := x.Dims()
	plane := g.Size * g.Size
	if c != g.Channels*plane {
		panic(fmt.Sprintf("nn: gridpool expects %d values per row, got %d", g.Channels*plane, c))
	}
	y := mat.NewDense(n, g.OutWidth(c), nil)
	for i := 0; i < n; i++ {
		src := x.RawRowView(i)
		dst := y.RawRowView(i)
		k := 0
		for ch := 0; ch < g.Channels; ch++ {
			base := src[ch*plane : (ch+1)*plane]
			for gy := 0; gy < g.Grid; gy++ {
				y0, y1 := gy*g.Size/g.Grid, (gy+1)*g.Size/g.Grid
				for gx := 0; gx < g.Grid; gx++ {
					x0, x1 := gx*g.Size/g.Grid, (gx+1)*g.Size/g.Grid
					mean, std := cellStats(base, g.Size, x0, x1, y0, y1)
					dst[k] = mean
					dst[k+1] = std
					k += 2
				}
			}
		}
	}
	return y
}

func (g *GridPool) Backward(*mat.Dense) *mat.Dense { return nil }
func (g *GridPool) Parameters() []*Parameter      { return nil }
func (g *GridPool) OutWidth(int) int              { return g.Channels * g.Grid * g.Grid * 2 }
func (g *GridPool) Kind() string                  { return fmt.Sprintf("GridPool(%d)", g.Grid) }

func cellStats(plane []float64, stride, x0, x1, y0, y1 int) (float64, float64) {
	count := float64((x1 - x0) * (y1 - y0))
	if count == 0 {
		return 0, 0
	}
	var sum, sq float64
	for y := y0; y < y1; y++ {
		row := plane[y*stride+x0 : y*stride+x1]
		for _, v := range row {
			sum += v
			sq += v * v
		}
	}
	mean := sum / count
	variance := sq/count - mean*mean
	if variance < 0 {
		variance = 0
	}
	return mean, math.Sqrt(variance)
}

// AdaptiveAvgPool averages each channel of a CHW row down to one value.
type AdaptiveAvgPool struct {
	Channels int
	spatial  int
}

func NewAdaptiveAvgPool(channels int) *AdaptiveAvgPool {
	return &AdaptiveAvgPool{Channels: channels}
}

func (a *AdaptiveAvgPool) Forward(x *mat.Dense) *mat.Dense {
	n, c := x.Dims()
	if c%a.Channels != 0 {
		panic(fmt.Sprintf("nn: avgpool width %d not divisible by %d channels", c, a.Channels))
	}
	a.spatial = c / a.Channels
	y := mat.NewDense(n, a.Channels, nil)
	for i := 0; i < n; i++ {
		src := x.RawRowView(i)
		dst := y.RawRowView(i)
		for ch := range dst {
			sum := 0.0
			for _, v := range src[ch*a.spatial : (ch+1)*a.spatial] {
				sum += v
			}
			dst[ch] = sum / float64(a.spatial)
		}
	}
	return y
}

func (a *AdaptiveAvgPool) Backward(grad *mat.Dense) *mat.Dense {
	n, _ := grad.Dims()
	dx := mat.NewDense(n, a.Channels*a.spatial, nil)
	inv := 1 / float64(a.spatial)
	for i := 0; i < n; i++ {
		g := grad.RawRowView(i)
		row := dx.RawRowView(i)
		for ch, v := range g {
			for k := ch * a.spatial; k < (ch+1)*a.spatial; k++ {
				row[k] = v * inv
			}
		}
	}
	return dx
}

func (a *AdaptiveAvgPool) Parameters() []*Parameter { return nil }
func (a *AdaptiveAvgPool) OutWidth(int) int          { return a.Channels }
func (a *AdaptiveAvgPool) Kind() string              { return "AdaptiveAvgPool" }
