package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

const (
	defaultSignedURLExpiry   = 15 * time.Minute
	maxUploadSignedURLExpiry = time.Hour
)

var (
	errNoSigner           = errors.New("storage: signer is required")
	errInvalidBucket      = errors.New("storage: bucket name is required")
	errInvalidObject      = errors.New("storage: object name is required")
	errMethodNotAllowed   = errors.New("storage: HTTP method not allowed for intent")
	errContentTypeMissing = errors.New("storage: content type is required for uploads")
	errContentTypeDenied  = errors.New("storage: content type not allowed")
	errMD5Required        = errors.New("storage: content MD5 is required for uploads")
	errMD5Invalid         = errors.New("storage: content MD5 must be base64 encoded")
	errExpiryTooLong      = errors.New("storage: expiry exceeds permitted maximum")
)

// Client generates signed upload URLs backed by a Signer.
type Client struct {
	signer Signer
	scheme storage.SigningScheme
	now    func() time.Time
}

// ClientOption customises client behaviour.
type ClientOption func(*Client)

// WithSigningScheme overrides the signing scheme (defaults to V4).
func WithSigningScheme(scheme storage.SigningScheme) ClientOption {
	return func(c *Client) {
		if scheme != 0 {
			c.scheme = scheme
		}
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) ClientOption {
	return func(c *Client) {
		if clock != nil {
			c.now = func() time.Time { return clock().UTC() }
		}
	}
}

// NewClient constructs a new storage signed URL client.
func NewClient(signer Signer, opts ...ClientOption) (*Client, error) {
	if signer == nil || strings.TrimSpace(signer.Email()) == "" {
		return nil, errNoSigner
	}

	client := &Client{
		signer: signer,
		scheme: storage.SigningSchemeV4,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// UploadOptions control upload-specific validation.
type UploadOptions struct {
	Method              string
	ContentType         string
	ContentMD5          string
	RequireMD5          bool
	AllowedContentTypes []string
	MaxSize             int64
	ExpiresIn           time.Duration
	AdditionalHeaders   map[string]string
}

// SignedURLResult describes the generated signed URL details.
type SignedURLResult struct {
	URL       string
	Method    string
	ExpiresAt time.Time
	Headers   map[string]string
}

// SignedUploadURL creates a signed URL the client can PUT (or POST) the object bytes to.
// Headers in the result must be sent verbatim by the uploader.
func (c *Client) SignedUploadURL(ctx context.Context, bucket, object string, opts UploadOptions) (SignedURLResult, error) {
	if c == nil {
		return SignedURLResult{}, errNoSigner
	}
	if ctx == nil {
		return SignedURLResult{}, errors.New("storage: context is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return SignedURLResult{}, errInvalidBucket
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return SignedURLResult{}, errInvalidObject
	}

	method, err := normaliseUploadMethod(opts.Method)
	if err != nil {
		return SignedURLResult{}, err
	}

	contentType := strings.TrimSpace(opts.ContentType)
	if contentType == "" {
		return SignedURLResult{}, errContentTypeMissing
	}
	if len(opts.AllowedContentTypes) > 0 && !contentTypeAllowed(contentType, opts.AllowedContentTypes) {
		return SignedURLResult{}, errContentTypeDenied
	}

	expiry := opts.ExpiresIn
	if expiry <= 0 {
		expiry = defaultSignedURLExpiry
	}
	if expiry > maxUploadSignedURLExpiry {
		return SignedURLResult{}, errExpiryTooLong
	}

	md5 := strings.TrimSpace(opts.ContentMD5)
	if opts.RequireMD5 && md5 == "" {
		return SignedURLResult{}, errMD5Required
	}
	if md5 != "" {
		if _, err := base64.StdEncoding.DecodeString(md5); err != nil {
			return SignedURLResult{}, errMD5Invalid
		}
	}

	headers := map[string]string{"Content-Type": contentType}
	if md5 != "" {
		headers["Content-MD5"] = md5
	}

	var extHeader []string
	if opts.MaxSize > 0 {
		sizeHeader := fmt.Sprintf("0,%d", opts.MaxSize)
		extHeader = append(extHeader, "x-goog-content-length-range:"+sizeHeader)
		headers["x-goog-content-length-range"] = sizeHeader
	}

	if len(opts.AdditionalHeaders) > 0 {
		keys := make([]string, 0, len(opts.AdditionalHeaders))
		for k := range opts.AdditionalHeaders {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, key := range keys {
			value := strings.TrimSpace(opts.AdditionalHeaders[key])
			if value == "" {
				continue
			}
			canonical := strings.ToLower(strings.TrimSpace(key))
			extHeader = append(extHeader, fmt.Sprintf("%s:%s", canonical, value))
			headers[key] = value
		}
	}

	expiresAt := c.now().Add(expiry)
	urlOpts := storage.SignedURLOptions{
		GoogleAccessID: strings.TrimSpace(c.signer.Email()),
		Scheme:         c.scheme,
		Method:         method,
		ContentType:    contentType,
		MD5:            md5,
		Headers:        extHeader,
		Expires:        expiresAt,
		SignBytes: func(payload []byte) ([]byte, error) {
			return c.signer.SignBytes(ctx, payload)
		},
	}

	signedURL, err := storage.SignedURL(bucket, object, &urlOpts)
	if err != nil {
		return SignedURLResult{}, fmt.Errorf("storage: sign upload url: %w", err)
	}

	return SignedURLResult{
		URL:       signedURL,
		Method:    method,
		ExpiresAt: expiresAt,
		Headers:   headers,
	}, nil
}

const (
	httpMethodPut  = "PUT"
	httpMethodPost = "POST"
)

func normaliseUploadMethod(method string) (string, error) {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = httpMethodPut
	}
	switch method {
	case httpMethodPut, httpMethodPost:
		return method, nil
	default:
		return "", errMethodNotAllowed
	}
}

func contentTypeAllowed(contentType string, allowed []string) bool {
	normalized := normaliseContentType(contentType)
	for _, candidate := range allowed {
		candidate = strings.ToLower(strings.TrimSpace(candidate))
		if candidate == "" {
			continue
		}
		if candidate == "*" {
			return true
		}
		if strings.HasSuffix(candidate, "/*") {
			if strings.HasPrefix(normalized, strings.TrimSuffix(candidate, "*")) {
				return true
			}
			continue
		}
		if normalized == candidate {
			return true
		}
	}
	return false
}
