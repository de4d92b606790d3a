package mediacache

import (
	"bytes"
	"fmt"
	"image"
	"mime"
	"net/http"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// Transformed is what gets written to the blob store.
type Transformed struct {
	Data        []byte
	ContentType string
	Width       int
	Height      int
}

type Transformer struct {
	maxSourcePixels int
	jpegQuality     int
}

func NewTransformer(maxSourcePixels, jpegQuality int) *Transformer {
	return &Transformer{maxSourcePixels: maxSourcePixels, jpegQuality: jpegQuality}
}

// Transform re-encodes raster images as JPEG with the longest edge bounded
// by maxDimensionPx. Other media passes through unchanged.
func (t *Transformer) Transform(asset Asset, maxDimensionPx int) (Transformed, error) {
	contentType := mediaType(asset)
	if !strings.HasPrefix(contentType, "image/") {
		return Transformed{Data: asset.Data, ContentType: contentType}, nil
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(asset.Data))
	if err != nil {
		return Transformed{}, &FetchError{Reason: ReasonDecode, Err: err}
	}
	if t.maxSourcePixels > 0 && cfg.Width*cfg.Height > t.maxSourcePixels {
		return Transformed{}, &FetchError{
			Reason: ReasonTooLarge,
			Err:    fmt.Errorf("source is %dx%d, over the %d pixel ceiling", cfg.Width, cfg.Height, t.maxSourcePixels),
		}
	}

	img, err := imaging.Decode(bytes.NewReader(asset.Data), imaging.AutoOrientation(true))
	if err != nil {
		return Transformed{}, &FetchError{Reason: ReasonDecode, Err: err}
	}

	bounds := img.Bounds()
	if maxDimensionPx > 0 && (bounds.Dx() > maxDimensionPx || bounds.Dy() > maxDimensionPx) {
		img = imaging.Fit(img, maxDimensionPx, maxDimensionPx, imaging.Lanczos)
		bounds = img.Bounds()
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(t.jpegQuality)); err != nil {
		return Transformed{}, &FetchError{Reason: ReasonDecode, Err: fmt.Errorf("encode: %w", err)}
	}

	return Transformed{
		Data:        buf.Bytes(),
		ContentType: "image/jpeg",
		Width:       bounds.Dx(),
		Height:      bounds.Dy(),
	}, nil
}

// mediaType trusts the response header unless it is missing or generic.
func mediaType(asset Asset) string {
	if mt, _, err := mime.ParseMediaType(asset.ContentType); err == nil && mt != "application/octet-stream" {
		return mt
	}
	mt, _, _ := mime.ParseMediaType(http.DetectContentType(asset.Data))
	return mt
}
