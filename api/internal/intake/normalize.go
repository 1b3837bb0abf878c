// Package intake принимает сырые байты картинки и приводит их к виду,
// пригодному для отправки в модель: RGB, правильная ориентация,
// ограниченный размер и предсказуемый формат.
package intake

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"mime"
	"net/http"
	"strings"

	"github.com/chai2010/webp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	MIMEJPEG = "image/jpeg"
	MIMEPNG  = "image/png"
	MIMEWebP = "image/webp"

	FormatJPEG = "jpeg"
	FormatWebP = "webp"

	// защита от "бомб": маленький файл с огромным холстом
	maxPixels = 50_000_000

	minFallbackQuality = 30
	qualityStep        = 10
)

var supported = map[string]string{
	MIMEJPEG:      MIMEJPEG,
	"image/jpg":   MIMEJPEG,
	"image/pjpeg": MIMEJPEG,
	MIMEPNG:       MIMEPNG,
	MIMEWebP:      MIMEWebP,
}

// NormalizedImage - результат нормализации. Не меняется после создания.
type NormalizedImage struct {
	Payload  []byte `json:"payload"`
	MIMEType string `json:"mime_type"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

type Options struct {
	MaxBytes     int
	MaxDimension int
	Quality      int
	Format       string // jpeg | webp
}

type Normalizer struct {
	opts Options
}

func New(opts Options) *Normalizer {
	if opts.Format == "" {
		opts.Format = FormatJPEG
	}
	return &Normalizer{opts: opts}
}

func (n *Normalizer) MaxBytes() int { return n.opts.MaxBytes }

// CanonicalMIME приводит заявленный тип к одному из поддерживаемых.
// Пустой тип определяется по содержимому.
func CanonicalMIME(declared string, raw []byte) (string, error) {
	declared = strings.TrimSpace(declared)
	if declared == "" {
		declared = http.DetectContentType(raw)
	}
	mt, _, err := mime.ParseMediaType(declared)
	if err != nil {
		return "", fmt.Errorf("parse mime %q: %w", declared, err)
	}
	canon, ok := supported[strings.ToLower(mt)]
	if !ok {
		return "", fmt.Errorf("mime %q is not supported", mt)
	}
	return canon, nil
}

// Normalize: проверка типа и размера, декодирование, заливка прозрачности белым,
// EXIF-ориентация, уменьшение до MaxDimension и перекодирование.
func (n *Normalizer) Normalize(raw []byte, declaredMIME string) (NormalizedImage, error) {
	if _, err := CanonicalMIME(declaredMIME, raw); err != nil {
		return NormalizedImage{}, unsupported(err)
	}
	if len(raw) > n.opts.MaxBytes {
		return NormalizedImage{}, tooLarge(n.opts.MaxBytes, fmt.Errorf("input is %d bytes", len(raw)))
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return NormalizedImage{}, corrupt(err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return NormalizedImage{}, corrupt(errors.New("empty canvas"))
	}
	if cfg.Width*cfg.Height > maxPixels {
		return NormalizedImage{}, tooLarge(n.opts.MaxBytes, fmt.Errorf("canvas %dx%d", cfg.Width, cfg.Height))
	}

	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return NormalizedImage{}, corrupt(err)
	}

	img := flatten(src)
	img = applyOrientation(img, readOrientation(raw))
	img = n.downscale(img)

	payload, mimeType, err := n.encode(img)
	if err != nil {
		return NormalizedImage{}, err
	}

	b := img.Bounds()
	return NormalizedImage{
		Payload:  payload,
		MIMEType: mimeType,
		Width:    b.Dx(),
		Height:   b.Dy(),
	}, nil
}

// flatten рисует картинку поверх белого фона: прозрачность и палитра
// превращаются в обычный непрозрачный RGB.
func flatten(src image.Image) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
	return dst
}

func (n *Normalizer) downscale(src *image.RGBA) *image.RGBA {
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	maxDim := n.opts.MaxDimension
	if maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		return src
	}
	nw, nh := fitInside(w, h, maxDim)
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

// fitInside: большая сторона становится ровно maxDim, пропорции сохраняются.
func fitInside(w, h, maxDim int) (int, int) {
	if w >= h {
		nh := (h*maxDim + w/2) / w
		if nh < 1 {
			nh = 1
		}
		return maxDim, nh
	}
	nw := (w*maxDim + h/2) / h
	if nw < 1 {
		nw = 1
	}
	return nw, maxDim
}

// encode кодирует в заданный формат с понижением качества,
// пока результат не влезет в MaxBytes. Формат не подменяется.
func (n *Normalizer) encode(img image.Image) ([]byte, string, error) {
	q := n.opts.Quality
	for {
		payload, mimeType, err := n.encodeAt(img, q)
		if err != nil {
			return nil, "", corrupt(err)
		}
		if len(payload) <= n.opts.MaxBytes {
			return payload, mimeType, nil
		}
		if q <= minFallbackQuality {
			return nil, "", tooLarge(n.opts.MaxBytes, fmt.Errorf("re-encoded %s is %d bytes at quality %d", mimeType, len(payload), q))
		}
		q -= qualityStep
		if q < minFallbackQuality {
			q = minFallbackQuality
		}
	}
}

func (n *Normalizer) encodeAt(img image.Image, q int) ([]byte, string, error) {
	var buf bytes.Buffer
	if n.opts.Format == FormatWebP {
		if err := webp.Encode(&buf, img, &webp.Options{Quality: float32(q)}); err != nil {
			return nil, "", fmt.Errorf("encode webp: %w", err)
		}
		return buf.Bytes(), MIMEWebP, nil
	}
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: q}); err != nil {
		return nil, "", fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), MIMEJPEG, nil
}
