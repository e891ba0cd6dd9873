package storage

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"io"

	"github.com/nfnt/resize"
)

const (
	// MaxUploadBytes bounds the raw upload accepted from clients.
	MaxUploadBytes = 10 << 20
	// MaxImageWidth is the widest image kept after downscaling.
	MaxImageWidth = 1600
	jpegQuality   = 85
)

var (
	ErrImageTooLarge   = errors.New("storage: image exceeds upload limit")
	ErrUnsupportedType = errors.New("storage: only JPEG and PNG images are accepted")
)

// PreparedImage is the re-encoded JPEG ready for upload.
type PreparedImage struct {
	Data   []byte
	Width  int
	Height int
}

// PrepareImage decodes a JPEG or PNG, downscales it to MaxImageWidth when wider
// and re-encodes it as JPEG.
func PrepareImage(r io.Reader) (PreparedImage, error) {
	raw, err := io.ReadAll(io.LimitReader(r, MaxUploadBytes+1))
	if err != nil {
		return PreparedImage{}, fmt.Errorf("storage: read image: %w", err)
	}
	if len(raw) > MaxUploadBytes {
		return PreparedImage{}, ErrImageTooLarge
	}
	if len(raw) == 0 {
		return PreparedImage{}, errEmptyPayload
	}

	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return PreparedImage{}, ErrUnsupportedType
	}
	if format != "jpeg" && format != "png" {
		return PreparedImage{}, ErrUnsupportedType
	}

	if img.Bounds().Dx() > MaxImageWidth {
		img = resize.Resize(MaxImageWidth, 0, img, resize.Lanczos3)
	}

	var out bytes.Buffer
	if err := jpeg.Encode(&out, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return PreparedImage{}, fmt.Errorf("storage: encode jpeg: %w", err)
	}
	bounds := img.Bounds()
	return PreparedImage{Data: out.Bytes(), Width: bounds.Dx(), Height: bounds.Dy()}, nil
}
