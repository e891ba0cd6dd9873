package services

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/mercadoparceiro/api/internal/platform/storage"
)

type stubImageHost struct {
	uploadErr error
	uploads   []storage.UploadRequest
	destroyed []string
}

func (h *stubImageHost) Upload(_ context.Context, req storage.UploadRequest) (storage.UploadResult, error) {
	if h.uploadErr != nil {
		return storage.UploadResult{}, h.uploadErr
	}
	h.uploads = append(h.uploads, req)
	id := req.Folder + "/" + strings.TrimSuffix(req.FileName, ".jpg")
	return storage.UploadResult{
		URL:      "https://res.cloudinary.com/demo/image/upload/" + id + ".jpg",
		PublicID: id,
		Width:    4,
		Height:   4,
		Bytes:    int64(len(req.Data)),
	}, nil
}

func (h *stubImageHost) Destroy(_ context.Context, publicID string) error {
	h.destroyed = append(h.destroyed, publicID)
	return nil
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for x := 0; x < 4; x++ {
		for y := 0; y < 4; y++ {
			img.Set(x, y, color.RGBA{R: 200, G: 40, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestUploadImageStoresJPEGUnderPartnerFolder(t *testing.T) {
	host := &stubImageHost{}
	svc, err := NewMediaService(MediaServiceDeps{Host: host, RootFolder: "marketplace"})
	if err != nil {
		t.Fatalf("new media: %v", err)
	}
	img, err := svc.UploadImage(context.Background(), UploadImageCommand{
		PartnerID: "partner-1",
		Purpose:   "services",
		FileName:  "C:\\fotos\\banho.png",
		Reader:    bytes.NewReader(pngBytes(t)),
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if len(host.uploads) != 1 {
		t.Fatalf("expected one upload")
	}
	req := host.uploads[0]
	if req.Folder != "marketplace/partners/partner-1/services" || req.FileName != "banho.jpg" {
		t.Fatalf("unexpected request %q/%q", req.Folder, req.FileName)
	}
	if !bytes.HasPrefix(req.Data, []byte{0xFF, 0xD8}) {
		t.Fatalf("payload must be re-encoded as JPEG")
	}
	if img.PublicID != "marketplace/partners/partner-1/services/banho" {
		t.Fatalf("unexpected public id %q", img.PublicID)
	}
}

func TestUploadImageRejections(t *testing.T) {
	cases := []struct {
		name    string
		cmd     UploadImageCommand
		hostErr error
		wantErr error
	}{
		{name: "not an image", cmd: UploadImageCommand{PartnerID: "p", Reader: strings.NewReader("GIF89a")}, wantErr: ErrImageInvalid},
		{name: "unknown purpose", cmd: UploadImageCommand{PartnerID: "p", Purpose: "avatars", Reader: strings.NewReader("x")}, wantErr: ErrImageInvalid},
		{name: "traversal", cmd: UploadImageCommand{PartnerID: "../p", Reader: strings.NewReader("x")}, wantErr: ErrImageInvalid},
		{name: "too large", cmd: UploadImageCommand{PartnerID: "p", Reader: bytes.NewReader(make([]byte, storage.MaxUploadBytes+1))}, wantErr: ErrImageTooLarge},
		{name: "host down", cmd: UploadImageCommand{PartnerID: "p"}, hostErr: errBoom, wantErr: ErrUploadFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			host := &stubImageHost{uploadErr: tc.hostErr}
			if tc.cmd.Reader == nil {
				tc.cmd.Reader = bytes.NewReader(pngBytes(t))
			}
			svc, err := NewMediaService(MediaServiceDeps{Host: host})
			if err != nil {
				t.Fatalf("new media: %v", err)
			}
			if _, err := svc.UploadImage(context.Background(), tc.cmd); !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			if len(host.uploads) != 0 {
				t.Fatalf("rejected images must not be uploaded")
			}
		})
	}
}
