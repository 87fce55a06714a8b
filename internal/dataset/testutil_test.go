package dataset

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// writeImage writes a w×h PNG filled with a horizontal gradient tinted by
// shade.
func writeImage(t *testing.T, path string, w, h int, shade uint8) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: shade, G: uint8(x * 255 / w), B: uint8(y * 255 / h), A: 255})
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

// writeSplit creates root/{class}/{i}.png for every class.
func writeSplit(t *testing.T, root string, perClass map[string]int) {
	t.Helper()
	shade := uint8(40)
	for class, n := range perClass {
		for i := 0; i < n; i++ {
			writeImage(t, filepath.Join(root, class, string(rune('a'+i))+".png"), 32, 24, shade)
		}
		shade += 80
	}
}
