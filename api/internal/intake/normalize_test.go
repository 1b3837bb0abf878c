package intake

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/webp"
)

func defaultNormalizer() *Normalizer {
	return New(Options{MaxBytes: 5 * 1024 * 1024, MaxDimension: 1024, Quality: 85})
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func noise(w, h int) *image.RGBA {
	r := rand.New(rand.NewSource(1))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	r.Read(img.Pix)
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 0xff
	}
	return img
}

func kindOf(t *testing.T, err error) ErrorKind {
	t.Helper()
	var ve *ValidationError
	require.True(t, errors.As(err, &ve), "want ValidationError, got %v", err)
	assert.NotEmpty(t, ve.UserMessage)
	return ve.Kind
}

func TestNormalizeRejectsUnsupportedMIME(t *testing.T) {
	raw := encodePNG(t, solid(4, 4, color.Black))
	_, err := defaultNormalizer().Normalize(raw, "image/gif")
	assert.Equal(t, UnsupportedFormat, kindOf(t, err))

	_, err = defaultNormalizer().Normalize(raw, "text/plain; charset=utf-8")
	assert.Equal(t, UnsupportedFormat, kindOf(t, err))
}

func TestNormalizeRejectsTooLargeInput(t *testing.T) {
	n := New(Options{MaxBytes: 100, MaxDimension: 1024, Quality: 85})
	raw := encodePNG(t, noise(64, 64))
	require.Greater(t, len(raw), 100)

	_, err := n.Normalize(raw, MIMEPNG)
	assert.Equal(t, TooLarge, kindOf(t, err))
}

func TestNormalizeRejectsCorruptBytes(t *testing.T) {
	_, err := defaultNormalizer().Normalize([]byte("definitely not a picture"), MIMEJPEG)
	assert.Equal(t, Corrupt, kindOf(t, err))

	raw := encodeJPEG(t, solid(32, 32, color.White))
	_, err = defaultNormalizer().Normalize(raw[:len(raw)/3], MIMEJPEG)
	assert.Equal(t, Corrupt, kindOf(t, err))
}

func TestNormalizeAcceptsJPGAlias(t *testing.T) {
	raw := encodeJPEG(t, solid(10, 20, color.RGBA{0, 128, 0, 255}))
	out, err := defaultNormalizer().Normalize(raw, "image/jpg")
	require.NoError(t, err)
	assert.Equal(t, MIMEJPEG, out.MIMEType)
	assert.Equal(t, 10, out.Width)
	assert.Equal(t, 20, out.Height)
}

func TestNormalizeSniffsEmptyMIME(t *testing.T) {
	raw := encodePNG(t, solid(8, 8, color.Black))
	out, err := defaultNormalizer().Normalize(raw, "")
	require.NoError(t, err)
	assert.Equal(t, MIMEJPEG, out.MIMEType)
}

func TestNormalizeFillsTransparencyWithWhite(t *testing.T) {
	raw := encodePNG(t, solid(16, 16, color.NRGBA{0, 0, 0, 0}))
	out, err := defaultNormalizer().Normalize(raw, MIMEPNG)
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(out.Payload))
	require.NoError(t, err)
	r, g, b, _ := img.At(8, 8).RGBA()
	assert.Greater(t, r>>8, uint32(240))
	assert.Greater(t, g>>8, uint32(240))
	assert.Greater(t, b>>8, uint32(240))
}

func TestNormalizeFlattensPalette(t *testing.T) {
	pal := image.NewPaletted(image.Rect(0, 0, 6, 6), color.Palette{color.Transparent, color.RGBA{255, 0, 0, 255}})
	pal.SetColorIndex(1, 1, 1)
	out, err := defaultNormalizer().Normalize(encodePNG(t, pal), MIMEPNG)
	require.NoError(t, err)
	assert.Equal(t, 6, out.Width)
	assert.Equal(t, 6, out.Height)
}

func TestNormalizeDownscalesLargerSideToMax(t *testing.T) {
	n := New(Options{MaxBytes: 5 * 1024 * 1024, MaxDimension: 100, Quality: 85})
	out, err := n.Normalize(encodePNG(t, solid(400, 200, color.Gray{128})), MIMEPNG)
	require.NoError(t, err)
	assert.Equal(t, 100, out.Width)
	assert.Equal(t, 50, out.Height)

	out, err = n.Normalize(encodePNG(t, solid(30, 300, color.Gray{128})), MIMEPNG)
	require.NoError(t, err)
	assert.Equal(t, 10, out.Width)
	assert.Equal(t, 100, out.Height)
}

func TestNormalizeKeepsSmallImages(t *testing.T) {
	out, err := defaultNormalizer().Normalize(encodePNG(t, solid(33, 17, color.Black)), MIMEPNG)
	require.NoError(t, err)
	assert.Equal(t, 33, out.Width)
	assert.Equal(t, 17, out.Height)
}

func TestNormalizeOutputRespectsSizeLimit(t *testing.T) {
	raw := encodeJPEG(t, noise(300, 300))
	limit := len(raw) + 1
	n := New(Options{MaxBytes: limit, MaxDimension: 300, Quality: 100})

	out, err := n.Normalize(raw, MIMEJPEG)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(out.Payload), limit)
	assert.LessOrEqual(t, max(out.Width, out.Height), 300)
}

func TestNormalizeWebPOutput(t *testing.T) {
	n := New(Options{MaxBytes: 5 * 1024 * 1024, MaxDimension: 64, Quality: 85, Format: FormatWebP})
	out, err := n.Normalize(encodePNG(t, solid(128, 64, color.RGBA{10, 200, 30, 255})), MIMEPNG)
	require.NoError(t, err)
	assert.Equal(t, MIMEWebP, out.MIMEType)

	img, err := webp.Decode(bytes.NewReader(out.Payload))
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
	assert.Equal(t, 32, img.Bounds().Dy())
}

func TestFitInside(t *testing.T) {
	for _, tc := range []struct{ w, h, max, ww, wh int }{
		{2048, 1536, 1024, 1024, 768},
		{1536, 2048, 1024, 768, 1024},
		{5000, 1, 1024, 1024, 1},
		{1025, 1025, 1024, 1024, 1024},
	} {
		w, h := fitInside(tc.w, tc.h, tc.max)
		assert.Equal(t, tc.ww, w)
		assert.Equal(t, tc.wh, h)
	}
}

// маркер в левом верхнем углу 3x2 и куда он должен попасть после коррекции
func TestApplyOrientation(t *testing.T) {
	red := color.RGBA{255, 0, 0, 255}
	for _, tc := range []struct {
		orientation int
		w, h        int
		x, y        int
	}{
		{1, 3, 2, 0, 0},
		{2, 3, 2, 2, 0},
		{3, 3, 2, 2, 1},
		{4, 3, 2, 0, 1},
		{5, 2, 3, 0, 0},
		{6, 2, 3, 1, 0},
		{7, 2, 3, 1, 2},
		{8, 2, 3, 0, 2},
	} {
		src := solid(3, 2, color.White)
		src.SetRGBA(0, 0, red)

		got := applyOrientation(src, tc.orientation)
		assert.Equal(t, tc.w, got.Bounds().Dx(), "orientation %d", tc.orientation)
		assert.Equal(t, tc.h, got.Bounds().Dy(), "orientation %d", tc.orientation)
		assert.Equal(t, red, got.RGBAAt(tc.x, tc.y), "orientation %d", tc.orientation)
	}
}

func TestReadOrientationWithoutEXIF(t *testing.T) {
	assert.Equal(t, 1, readOrientation(encodePNG(t, solid(2, 2, color.Black))))
	assert.Equal(t, 1, readOrientation(nil))
}

func TestNormalizeWebPQualityShrinksPayload(t *testing.T) {
	src := encodePNG(t, noise(256, 256))
	size := func(q int) int {
		n := New(Options{MaxBytes: 5 * 1024 * 1024, MaxDimension: 256, Quality: q, Format: FormatWebP})
		out, err := n.Normalize(src, MIMEPNG)
		require.NoError(t, err)
		assert.Equal(t, MIMEWebP, out.MIMEType)
		return len(out.Payload)
	}
	assert.Less(t, size(10), size(90))
}

func TestNormalizeKeepsWebPUnderTightLimit(t *testing.T) {
	img := noise(200, 200)
	low, _, err := New(Options{Format: FormatWebP}).encodeAt(img, minFallbackQuality)
	require.NoError(t, err)
	high, _, err := New(Options{Format: FormatWebP}).encodeAt(img, 100)
	require.NoError(t, err)
	require.Greater(t, len(high), len(low))

	n := New(Options{MaxBytes: len(low), MaxDimension: 200, Quality: 100, Format: FormatWebP})
	out, err := n.Normalize(encodePNG(t, img), MIMEPNG)
	require.NoError(t, err)
	assert.Equal(t, MIMEWebP, out.MIMEType)
	assert.LessOrEqual(t, len(out.Payload), len(low))
}
