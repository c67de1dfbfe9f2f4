// Package storage issues V4 signed upload URLs for Cloud Storage and
// promotes staged objects into the public bucket. Browsers upload
// directly against the signed URL, so image bytes never pass through
// the API.
package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

const defaultUploadExpiry = 15 * time.Minute

var (
	errNoSigner           = errors.New("storage: signer is required")
	errInvalidBucket      = errors.New("storage: bucket name is required")
	errInvalidObject      = errors.New("storage: object name is required")
	errMethodNotAllowed   = errors.New("storage: HTTP method not allowed for uploads")
	errContentTypeMissing = errors.New("storage: content type is required")
	errContentTypeDenied  = errors.New("storage: content type not allowed")
	errMD5Invalid         = errors.New("storage: content MD5 must be base64 encoded")
)

// Client signs upload URLs with a service-account Signer.
type Client struct {
	signer Signer
	scheme storage.SigningScheme
	now    func() time.Time
}

// ClientOption customises the client.
type ClientOption func(*Client)

// WithSigningScheme overrides the signing scheme, V4 by default.
func WithSigningScheme(scheme storage.SigningScheme) ClientOption {
	return func(c *Client) {
		if scheme != 0 {
			c.scheme = scheme
		}
	}
}

// WithClock injects the time source for tests.
func WithClock(clock func() time.Time) ClientOption {
	return func(c *Client) {
		if clock != nil {
			c.now = clock
		}
	}
}

// NewClient builds a signed URL client around the signer.
func NewClient(signer Signer, opts ...ClientOption) (*Client, error) {
	if signer == nil || strings.TrimSpace(signer.Email()) == "" {
		return nil, errNoSigner
	}
	client := &Client{
		signer: signer,
		scheme: storage.SigningSchemeV4,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// SignedURLOptions describes the upload the URL must permit. The
// signature pins method, content type, and (when MaxSize is set) an
// x-goog-content-length-range header, so the client cannot upload
// anything other than what was approved.
type SignedURLOptions struct {
	Method              string // PUT (default) or POST
	ContentType         string
	ContentMD5          string // optional, base64; pinned into the signature when set
	AllowedContentTypes []string
	MaxSize             int64 // bytes; 0 means unrestricted
	ExpiresIn           time.Duration
	Query               map[string]string
}

// SignedURLResult is the signed upload the client performs: URL plus
// the exact headers the signature requires.
type SignedURLResult struct {
	URL       string
	Method    string
	ExpiresAt time.Time
	Headers   map[string]string
}

// SignedURL signs an upload URL for the object.
func (c *Client) SignedURL(ctx context.Context, bucket, object string, opts SignedURLOptions) (SignedURLResult, error) {
	if c == nil {
		return SignedURLResult{}, errNoSigner
	}
	if bucket = strings.TrimSpace(bucket); bucket == "" {
		return SignedURLResult{}, errInvalidBucket
	}
	if object = strings.TrimSpace(object); object == "" {
		return SignedURLResult{}, errInvalidObject
	}

	method, err := uploadMethod(opts.Method)
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

	md5 := strings.TrimSpace(opts.ContentMD5)
	if md5 != "" {
		if _, err := base64.StdEncoding.DecodeString(md5); err != nil {
			return SignedURLResult{}, errMD5Invalid
		}
	}

	expiry := opts.ExpiresIn
	if expiry <= 0 {
		expiry = defaultUploadExpiry
	}
	expiresAt := c.now().Add(expiry)

	headers := map[string]string{"Content-Type": contentType}
	if md5 != "" {
		headers["Content-MD5"] = md5
	}

	var signedHeaders []string
	if opts.MaxSize > 0 {
		lengthRange := fmt.Sprintf("0,%d", opts.MaxSize)
		signedHeaders = append(signedHeaders, "x-goog-content-length-range:"+lengthRange)
		headers["x-goog-content-length-range"] = lengthRange
	}

	urlOpts := storage.SignedURLOptions{
		GoogleAccessID: c.signer.Email(),
		Scheme:         c.scheme,
		Method:         method,
		ContentType:    contentType,
		MD5:            md5,
		Expires:        expiresAt,
		Headers:        signedHeaders,
		SignBytes: func(payload []byte) ([]byte, error) {
			return c.signer.SignBytes(ctx, payload)
		},
	}
	if len(opts.Query) > 0 {
		urlOpts.QueryParameters = sortedURLValues(opts.Query)
	}

	signed, err := storage.SignedURL(bucket, object, &urlOpts)
	if err != nil {
		return SignedURLResult{}, fmt.Errorf("storage: sign upload url: %w", err)
	}

	return SignedURLResult{
		URL:       signed,
		Method:    method,
		ExpiresAt: expiresAt,
		Headers:   headers,
	}, nil
}

func uploadMethod(method string) (string, error) {
	switch strings.ToUpper(strings.TrimSpace(method)) {
	case "", "PUT":
		return "PUT", nil
	case "POST":
		return "POST", nil
	}
	return "", errMethodNotAllowed
}

func contentTypeAllowed(contentType string, allowed []string) bool {
	normalized := strings.ToLower(strings.TrimSpace(contentType))
	for _, candidate := range allowed {
		candidate = strings.ToLower(strings.TrimSpace(candidate))
		switch {
		case candidate == "":
		case candidate == "*":
			return true
		case strings.HasSuffix(candidate, "/*"):
			if strings.HasPrefix(normalized, strings.TrimSuffix(candidate, "*")) {
				return true
			}
		case normalized == candidate:
			return true
		}
	}
	return false
}

func sortedURLValues(src map[string]string) url.Values {
	keys := make([]string, 0, len(src))
	for k := range src {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(url.Values, len(src))
	for _, key := range keys {
		out.Add(key, src[key])
	}
	return out
}
