package services

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/mercadoparceiro/api/internal/domain"
	"github.com/mercadoparceiro/api/internal/platform/storage"
)

// ImageHost stores and deletes images. Implemented by storage.Client.
type ImageHost interface {
	Upload(ctx context.Context, req storage.UploadRequest) (storage.UploadResult, error)
	Destroy(ctx context.Context, publicID string) error
}

type MediaServiceDeps struct {
	Host       ImageHost
	RootFolder string
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type mediaService struct {
	host   ImageHost
	root   string
	logger func(context.Context, string, map[string]any)
}

var _ MediaService = (*mediaService)(nil)

func NewMediaService(deps MediaServiceDeps) (MediaService, error) {
	if deps.Host == nil {
		return nil, errors.New("media service: image host is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &mediaService{host: deps.Host, root: deps.RootFolder, logger: logger}, nil
}

// UploadImage re-encodes the image as a bounded JPEG and stores it under the
// partner's folder for the given purpose.
func (m *mediaService) UploadImage(ctx context.Context, cmd UploadImageCommand) (domain.UploadedImage, error) {
	if cmd.Reader == nil {
		return domain.UploadedImage{}, ErrImageInvalid
	}
	purpose := storage.AssetPurpose(strings.ToLower(strings.TrimSpace(cmd.Purpose)))
	if purpose == "" {
		purpose = storage.PurposeProduct
	}
	folder, err := storage.BuildFolder(m.root, cmd.PartnerID, purpose)
	if err != nil {
		return domain.UploadedImage{}, fmt.Errorf("%w: %v", ErrImageInvalid, err)
	}
	prepared, err := storage.PrepareImage(cmd.Reader)
	if err != nil {
		if errors.Is(err, storage.ErrImageTooLarge) {
			return domain.UploadedImage{}, ErrImageTooLarge
		}
		return domain.UploadedImage{}, fmt.Errorf("%w: %v", ErrImageInvalid, err)
	}
	result, err := m.host.Upload(ctx, storage.UploadRequest{
		Folder:   folder,
		FileName: jpegName(cmd.FileName),
		Data:     prepared.Data,
	})
	if err != nil {
		m.logger(ctx, "media.upload.failed", map[string]any{"folder": folder, "error": err.Error()})
		return domain.UploadedImage{}, fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}
	m.logger(ctx, "media.uploaded", map[string]any{"publicId": result.PublicID, "bytes": result.Bytes})
	return domain.UploadedImage{
		URL:      result.URL,
		PublicID: result.PublicID,
		Width:    result.Width,
		Height:   result.Height,
		Bytes:    result.Bytes,
	}, nil
}

func (m *mediaService) DeleteImage(ctx context.Context, publicID string) error {
	if strings.TrimSpace(publicID) == "" {
		return nil
	}
	if err := m.host.Destroy(ctx, publicID); err != nil {
		return fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}
	return nil
}

func jpegName(name string) string {
	base := path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	base = strings.TrimSuffix(base, path.Ext(base))
	if base == "" || base == "." || base == "/" {
		base = "image"
	}
	return base + ".jpg"
}
