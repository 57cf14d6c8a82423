package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

const (
	defaultUploadExpiry   = 15 * time.Minute
	defaultDownloadExpiry = time.Hour
	maxSignedURLExpiry    = 7 * 24 * time.Hour
)

var (
	errNoSigner           = errors.New("storage: signer is required")
	errInvalidBucket      = errors.New("storage: bucket name is required")
	errInvalidObject      = errors.New("storage: object name is required")
	errContentTypeMissing = errors.New("storage: content type is required for uploads")
	// ErrContentTypeDenied is returned when an upload content type is not on the allow list.
	ErrContentTypeDenied = errors.New("storage: content type not allowed")
	errExpiryTooLong     = errors.New("storage: expiry exceeds permitted maximum")
)

// Client generates V4 signed URLs backed by a Signer.
type Client struct {
	signer Signer
	now    func() time.Time
}

// ClientOption customises client behaviour.
type ClientOption func(*Client)

// WithClock injects a custom clock.
func WithClock(clock func() time.Time) ClientOption {
	return func(c *Client) {
		if clock != nil {
			c.now = clock
		}
	}
}

// NewClient constructs a signed URL client.
func NewClient(signer Signer, opts ...ClientOption) (*Client, error) {
	if signer == nil || strings.TrimSpace(signer.Email()) == "" {
		return nil, errNoSigner
	}
	c := &Client{signer: signer, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// UploadOptions control upload validation.
type UploadOptions struct {
	ContentType         string
	AllowedContentTypes []string
	MaxSize             int64
	ExpiresIn           time.Duration
}

// SignedURL is a generated URL and the headers the caller must send with it.
type SignedURL struct {
	URL       string
	Method    string
	ExpiresAt time.Time
	Headers   map[string]string
}

// SignedUpload returns a PUT URL for writing object with the given content type.
func (c *Client) SignedUpload(ctx context.Context, bucket, object string, opts UploadOptions) (SignedURL, error) {
	if err := validateTarget(bucket, object); err != nil {
		return SignedURL{}, err
	}
	contentType := strings.TrimSpace(opts.ContentType)
	if contentType == "" {
		return SignedURL{}, errContentTypeMissing
	}
	if len(opts.AllowedContentTypes) > 0 && !contentTypeAllowed(contentType, opts.AllowedContentTypes) {
		return SignedURL{}, ErrContentTypeDenied
	}
	expiry, err := clampExpiry(opts.ExpiresIn, defaultUploadExpiry)
	if err != nil {
		return SignedURL{}, err
	}

	headers := map[string]string{"Content-Type": contentType}
	var extHeaders []string
	if opts.MaxSize > 0 {
		sizeRange := fmt.Sprintf("0,%d", opts.MaxSize)
		extHeaders = append(extHeaders, "x-goog-content-length-range:"+sizeRange)
		headers["x-goog-content-length-range"] = sizeRange
	}

	expiresAt := c.now().Add(expiry)
	signed, err := storage.SignedURL(strings.TrimSpace(bucket), strings.TrimSpace(object), &storage.SignedURLOptions{
		GoogleAccessID: c.signer.Email(),
		Scheme:         storage.SigningSchemeV4,
		Method:         http.MethodPut,
		ContentType:    contentType,
		Headers:        extHeaders,
		Expires:        expiresAt,
		SignBytes: func(payload []byte) ([]byte, error) {
			return c.signer.SignBytes(ctx, payload)
		},
	})
	if err != nil {
		return SignedURL{}, fmt.Errorf("storage: sign upload url: %w", err)
	}
	return SignedURL{URL: signed, Method: http.MethodPut, ExpiresAt: expiresAt, Headers: headers}, nil
}

// SignedDownload returns a GET URL for reading object.
func (c *Client) SignedDownload(ctx context.Context, bucket, object string, expiresIn time.Duration) (SignedURL, error) {
	if err := validateTarget(bucket, object); err != nil {
		return SignedURL{}, err
	}
	expiry, err := clampExpiry(expiresIn, defaultDownloadExpiry)
	if err != nil {
		return SignedURL{}, err
	}
	expiresAt := c.now().Add(expiry)
	signed, err := storage.SignedURL(strings.TrimSpace(bucket), strings.TrimSpace(object), &storage.SignedURLOptions{
		GoogleAccessID: c.signer.Email(),
		Scheme:         storage.SigningSchemeV4,
		Method:         http.MethodGet,
		Expires:        expiresAt,
		SignBytes: func(payload []byte) ([]byte, error) {
			return c.signer.SignBytes(ctx, payload)
		},
	})
	if err != nil {
		return SignedURL{}, fmt.Errorf("storage: sign download url: %w", err)
	}
	return SignedURL{URL: signed, Method: http.MethodGet, ExpiresAt: expiresAt}, nil
}

func validateTarget(bucket, object string) error {
	if strings.TrimSpace(bucket) == "" {
		return errInvalidBucket
	}
	if strings.TrimSpace(object) == "" {
		return errInvalidObject
	}
	return nil
}

func clampExpiry(requested, fallback time.Duration) (time.Duration, error) {
	if requested <= 0 {
		return fallback, nil
	}
	if requested > maxSignedURLExpiry {
		return 0, errExpiryTooLong
	}
	return requested, nil
}

func contentTypeAllowed(contentType string, allowed []string) bool {
	base := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	for _, candidate := range allowed {
		if strings.EqualFold(strings.TrimSpace(candidate), base) {
			return true
		}
	}
	return false
}
