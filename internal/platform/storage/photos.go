package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cleanline/api/internal/services"
)

const defaultMaxPhotoBytes int64 = 10 << 20

// PhotoUploaderConfig configures signed photo uploads for one bucket.
type PhotoUploaderConfig struct {
	Bucket   string
	URLTTL   time.Duration
	MaxBytes int64
}

// PhotoUploader implements services.PhotoStorage on top of V4 signed PUT URLs.
type PhotoUploader struct {
	client *Client
	cfg    PhotoUploaderConfig
}

var _ services.PhotoStorage = (*PhotoUploader)(nil)

// NewPhotoUploader binds a signing client to the photo bucket.
func NewPhotoUploader(client *Client, cfg PhotoUploaderConfig) (*PhotoUploader, error) {
	if client == nil {
		return nil, errNoSigner
	}
	cfg.Bucket = strings.TrimSpace(cfg.Bucket)
	if cfg.Bucket == "" {
		return nil, errInvalidBucket
	}
	if cfg.URLTTL <= 0 {
		cfg.URLTTL = defaultSignedURLExpiry
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxPhotoBytes
	}
	return &PhotoUploader{client: client, cfg: cfg}, nil
}

// SignPhotoUpload validates the declared content and returns a ticket for a single PUT.
func (u *PhotoUploader) SignPhotoUpload(ctx context.Context, req services.PhotoUploadRequest) (services.PhotoUploadTicket, error) {
	if u == nil || u.client == nil {
		return services.PhotoUploadTicket{}, errNoSigner
	}
	contentType := normaliseContentType(req.ContentType)
	if contentType == "" {
		return services.PhotoUploadTicket{}, fmt.Errorf("%w: content type is required", services.ErrWizardInvalidInput)
	}
	if _, ok := photoExtensions[contentType]; !ok {
		return services.PhotoUploadTicket{}, fmt.Errorf("%w: content type %q is not accepted for photos", services.ErrWizardInvalidInput, req.ContentType)
	}
	if req.SizeBytes < 0 {
		return services.PhotoUploadTicket{}, fmt.Errorf("%w: size must not be negative", services.ErrWizardInvalidInput)
	}
	if req.SizeBytes > u.cfg.MaxBytes {
		return services.PhotoUploadTicket{}, fmt.Errorf("%w: photo exceeds %d bytes", services.ErrWizardInvalidInput, u.cfg.MaxBytes)
	}

	objectPath, err := BuildPhotoObjectPath(PhotoPathParams{
		SessionID:   req.SessionID,
		ItemID:      req.ItemID,
		PhotoID:     req.PhotoID,
		ContentType: contentType,
	})
	if err != nil {
		return services.PhotoUploadTicket{}, fmt.Errorf("%w: %v", services.ErrWizardInvalidInput, err)
	}

	opts := UploadOptions{
		Method:              httpMethodPut,
		ContentType:         contentType,
		AllowedContentTypes: AllowedPhotoContentTypes(),
		MaxSize:             u.cfg.MaxBytes,
		ExpiresIn:           u.cfg.URLTTL,
	}

	signed, err := u.client.SignedUploadURL(ctx, u.cfg.Bucket, objectPath, opts)
	if err != nil {
		if errors.Is(err, errContentTypeDenied) {
			return services.PhotoUploadTicket{}, fmt.Errorf("%w: %v", services.ErrWizardInvalidInput, err)
		}
		return services.PhotoUploadTicket{}, err
	}

	return services.PhotoUploadTicket{
		PhotoID:    strings.TrimSpace(req.PhotoID),
		ObjectPath: objectPath,
		UploadURL:  signed.URL,
		Method:     signed.Method,
		Headers:    signed.Headers,
		ExpiresAt:  signed.ExpiresAt,
	}, nil
}

// OwnsObject reports whether objectPath sits under the prefix issued for this session item.
func (u *PhotoUploader) OwnsObject(sessionID, itemID, objectPath string) bool {
	return IsPhotoObjectPath(sessionID, itemID, objectPath)
}
