package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
)

const (
	defaultDownloadExpiry = 24 * time.Hour
	maxDownloadExpiry     = 7 * 24 * time.Hour
	maxAssetBytes         = 5 << 20
	publicHost            = "https://storage.googleapis.com"
)

var (
	errInvalidBucket     = errors.New("storage: bucket name is required")
	errInvalidObject     = errors.New("storage: object name is invalid")
	errContentTypeDenied = errors.New("storage: content type not allowed")
	errEmptyPayload      = errors.New("storage: payload is empty")
	// ErrAssetTooLarge is returned when an asset read exceeds the permitted size.
	ErrAssetTooLarge = errors.New("storage: asset exceeds permitted size")
)

// objectBackend is the subset of Cloud Storage operations the artifact store relies on.
type objectBackend interface {
	Write(ctx context.Context, bucket, object string, attrs gcs.ObjectAttrs, data []byte) error
	Read(ctx context.Context, bucket, object string, limit int64) ([]byte, error)
	SignedURL(bucket, object string, opts *gcs.SignedURLOptions) (string, error)
}

type gcsBackend struct {
	client *gcs.Client
}

func (b gcsBackend) Write(ctx context.Context, bucket, object string, attrs gcs.ObjectAttrs, data []byte) error {
	w := b.client.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = attrs.ContentType
	w.ContentDisposition = attrs.ContentDisposition
	w.CacheControl = attrs.CacheControl
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func (b gcsBackend) Read(ctx context.Context, bucket, object string, limit int64) ([]byte, error) {
	r, err := b.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(io.LimitReader(r, limit))
}

func (b gcsBackend) SignedURL(bucket, object string, opts *gcs.SignedURLOptions) (string, error) {
	return b.client.Bucket(bucket).SignedURL(object, opts)
}

// Options configure an ArtifactStore.
type Options struct {
	ArtifactsBucket     string
	AssetsBucket        string
	SignURLs            bool
	DownloadExpiry      time.Duration
	AllowedContentTypes []string
	Clock               func() time.Time
}

// ArtifactStore saves generated artifacts to Cloud Storage and reads static assets such as the catalog logo.
type ArtifactStore struct {
	backend         objectBackend
	artifactsBucket string
	assetsBucket    string
	signURLs        bool
	expiry          time.Duration
	allowed         []string
	now             func() time.Time
}

// NewArtifactStore builds a store over a Cloud Storage client.
func NewArtifactStore(client *gcs.Client, opts Options) (*ArtifactStore, error) {
	if client == nil {
		return nil, errors.New("storage: client is required")
	}
	return newArtifactStore(gcsBackend{client: client}, opts)
}

func newArtifactStore(backend objectBackend, opts Options) (*ArtifactStore, error) {
	artifacts := strings.TrimSpace(opts.ArtifactsBucket)
	if artifacts == "" {
		return nil, errInvalidBucket
	}
	assets := strings.TrimSpace(opts.AssetsBucket)
	if assets == "" {
		assets = artifacts
	}
	expiry := opts.DownloadExpiry
	if expiry <= 0 {
		expiry = defaultDownloadExpiry
	}
	if expiry > maxDownloadExpiry {
		expiry = maxDownloadExpiry
	}
	allowed := opts.AllowedContentTypes
	if len(allowed) == 0 {
		allowed = []string{"application/pdf"}
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &ArtifactStore{
		backend:         backend,
		artifactsBucket: artifacts,
		assetsBucket:    assets,
		signURLs:        opts.SignURLs,
		expiry:          expiry,
		allowed:         allowed,
		now:             clock,
	}, nil
}

// SaveArtifact implements services.ArtifactStore. It returns a V4 signed download URL when signing is
// enabled and the plain object URL otherwise.
func (s *ArtifactStore) SaveArtifact(ctx context.Context, name, contentType string, data []byte) (string, error) {
	object, err := cleanObjectName(name)
	if err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", errEmptyPayload
	}
	contentType = strings.TrimSpace(contentType)
	if !contentTypeAllowed(contentType, s.allowed) {
		return "", fmt.Errorf("%w: %q", errContentTypeDenied, contentType)
	}

	attrs := gcs.ObjectAttrs{
		ContentType:        contentType,
		ContentDisposition: fmt.Sprintf("attachment; filename=%q", path.Base(object)),
		CacheControl:       "private, max-age=0",
	}
	if err := s.backend.Write(ctx, s.artifactsBucket, object, attrs, data); err != nil {
		return "", fmt.Errorf("storage: write %s: %w", object, err)
	}

	if !s.signURLs {
		return objectURL(s.artifactsBucket, object), nil
	}
	signed, err := s.backend.SignedURL(s.artifactsBucket, object, &gcs.SignedURLOptions{
		Method:  "GET",
		Scheme:  gcs.SigningSchemeV4,
		Expires: s.now().Add(s.expiry),
	})
	if err != nil {
		return "", fmt.Errorf("storage: sign download url: %w", err)
	}
	return signed, nil
}

// ReadAsset implements services.ArtifactStore.
func (s *ArtifactStore) ReadAsset(ctx context.Context, object string) ([]byte, error) {
	object, err := cleanObjectName(object)
	if err != nil {
		return nil, err
	}
	data, err := s.backend.Read(ctx, s.assetsBucket, object, maxAssetBytes+1)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", object, err)
	}
	if len(data) > maxAssetBytes {
		return nil, ErrAssetTooLarge
	}
	return data, nil
}

func cleanObjectName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.HasPrefix(name, "/") || strings.Contains(name, "\\") {
		return "", errInvalidObject
	}
	for _, segment := range strings.Split(name, "/") {
		if segment == "" || segment == "." || segment == ".." {
			return "", errInvalidObject
		}
	}
	return name, nil
}

func objectURL(bucket, object string) string {
	segments := strings.Split(object, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return publicHost + "/" + bucket + "/" + strings.Join(segments, "/")
}

func contentTypeAllowed(contentType string, allowed []string) bool {
	normalized := strings.ToLower(strings.TrimSpace(contentType))
	if normalized == "" {
		return false
	}
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
