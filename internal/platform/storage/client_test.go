package storage

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

var fixedNow = time.Unix(1735689600, 0)

func sha1Hex(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	signer, err := NewSigner("key-1", "shh")
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	client, err := NewClient(signer, "demo", WithBaseURL(srv.URL), WithClock(func() time.Time { return fixedNow }))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestSignerSortsParamsAndAppendsSecret(t *testing.T) {
	signer, _ := NewSigner("key", "secret")
	got := signer.Sign(map[string]string{"timestamp": "100", "folder": "a/b", "empty": ""})
	if want := sha1Hex("folder=a/b&timestamp=100secret"); got != want {
		t.Fatalf("signature mismatch: got %s want %s", got, want)
	}
}

func TestNewSignerRequiresCredentials(t *testing.T) {
	if _, err := NewSigner("", "x"); err == nil {
		t.Fatal("expected error")
	}
}

func TestUploadSendsSignedMultipart(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1_1/demo/image/upload" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
			return
		}
		if r.FormValue("api_key") != "key-1" || r.FormValue("folder") != "root/partners/p-1/products" {
			t.Errorf("unexpected form %v", r.MultipartForm.Value)
		}
		want := sha1Hex("folder=root/partners/p-1/products&timestamp=1735689600shh")
		if r.FormValue("signature") != want {
			t.Errorf("unexpected signature %s", r.FormValue("signature"))
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			return
		}
		data, _ := io.ReadAll(file)
		if header.Filename != "photo.jpg" || string(data) != "jpeg-bytes" {
			t.Errorf("unexpected file %s %q", header.Filename, data)
		}
		_, _ = w.Write([]byte(`{"secure_url":"https://res.cloudinary.com/demo/x.jpg","public_id":"root/partners/p-1/products/x","width":10,"height":5,"bytes":10}`))
	})

	result, err := client.Upload(context.Background(), UploadRequest{Folder: "root/partners/p-1/products", FileName: "photo.jpg", Data: []byte("jpeg-bytes")})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if result.URL != "https://res.cloudinary.com/demo/x.jpg" || result.PublicID != "root/partners/p-1/products/x" || result.Width != 10 {
		t.Fatalf("unexpected result %#v", result)
	}
}

func TestUploadSurfacesRemoteError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Invalid Signature"}}`))
	})
	_, err := client.Upload(context.Background(), UploadRequest{Folder: "f", FileName: "a.jpg", Data: []byte("x")})
	if !errors.Is(err, ErrRemoteRejected) || !strings.Contains(err.Error(), "Invalid Signature") {
		t.Fatalf("expected remote rejection, got %v", err)
	}
}

func TestDestroySignsPublicID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
			return
		}
		want := sha1Hex("public_id=root/x&timestamp=1735689600shh")
		if r.PostForm.Get("signature") != want {
			t.Errorf("unexpected signature %s", r.PostForm.Get("signature"))
		}
		_, _ = w.Write([]byte(`{"result":"not found"}`))
	})
	if err := client.Destroy(context.Background(), "root/x"); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if err := client.Destroy(context.Background(), " "); err == nil {
		t.Fatal("expected error for blank public id")
	}
}

func encodePNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x += 7 {
		img.Set(x, 0, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

func TestPrepareImageDownscalesWideImages(t *testing.T) {
	prepared, err := PrepareImage(bytes.NewReader(encodePNG(t, 2000, 1000)))
	if err != nil {
		t.Fatalf("PrepareImage: %v", err)
	}
	if prepared.Width != MaxImageWidth || prepared.Height != 800 {
		t.Fatalf("unexpected size %dx%d", prepared.Width, prepared.Height)
	}
	if _, format, err := image.Decode(bytes.NewReader(prepared.Data)); err != nil || format != "jpeg" {
		t.Fatalf("expected jpeg output, got %s %v", format, err)
	}
}

func TestPrepareImageKeepsSmallImages(t *testing.T) {
	prepared, err := PrepareImage(bytes.NewReader(encodePNG(t, 300, 200)))
	if err != nil {
		t.Fatalf("PrepareImage: %v", err)
	}
	if prepared.Width != 300 || prepared.Height != 200 {
		t.Fatalf("unexpected size %dx%d", prepared.Width, prepared.Height)
	}
}

func TestPrepareImageRejectsInvalidInput(t *testing.T) {
	if _, err := PrepareImage(strings.NewReader("not an image")); !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("expected ErrUnsupportedType, got %v", err)
	}
	big := bytes.Repeat([]byte{0}, MaxUploadBytes+1)
	if _, err := PrepareImage(bytes.NewReader(big)); !errors.Is(err, ErrImageTooLarge) {
		t.Fatalf("expected ErrImageTooLarge, got %v", err)
	}
}
