package storage

import (
	"context"

	"github.com/bwise1/civic_patrol/config"
	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/pkg/errors"
)

// Cloudinary uploads report photos. It satisfies livesync.Uploader.
type Cloudinary struct {
	CLD *cloudinary.Cloudinary
}

func NewCloudinary(cfg *config.Config) (*Cloudinary, error) {
	if !cfg.CloudinaryEnabled() {
		return nil, errors.New("cloudinary credentials not configured")
	}
	cld, err := cloudinary.NewFromParams(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize cloudinary")
	}
	cld.Config.URL.Secure = true

	return &Cloudinary{CLD: cld}, nil
}

func (c *Cloudinary) UploadImage(ctx context.Context, filePath string, folder string) (string, error) {
	resp, err := c.CLD.Upload.Upload(ctx, filePath, uploader.UploadParams{Folder: folder})
	if err != nil {
		return "", errors.Wrapf(err, "upload %s", filePath)
	}
	if resp.Error.Message != "" {
		return "", errors.Errorf("upload %s: %s", filePath, resp.Error.Message)
	}
	return resp.SecureURL, nil
}
