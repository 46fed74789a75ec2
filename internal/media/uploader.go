// Package media stores uploaded images in an S3-compatible bucket.
package media

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"uplift/api/internal/util"
)

var allowedContentTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// MaxUploadBytes caps a single image upload.
const MaxUploadBytes = 10 << 20

// Uploader writes images to a bucket and returns public URLs.
type Uploader struct {
	client    *minio.Client
	bucket    string
	publicURL string
}

// NewUploader connects to the object store and ensures the bucket exists.
// publicURL is the base the returned object URLs are built on; when empty the
// endpoint itself is used.
func NewUploader(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool, publicURL string) (*Uploader, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to object store: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}

	if publicURL == "" {
		scheme := "http"
		if useSSL {
			scheme = "https"
		}
		publicURL = scheme + "://" + endpoint
	}

	return &Uploader{
		client:    client,
		bucket:    bucket,
		publicURL: strings.TrimRight(publicURL, "/"),
	}, nil
}

// Upload stores one image and returns its public URL. The object key is
// random; the original filename is never trusted.
func (u *Uploader) Upload(ctx context.Context, profileID string, data []byte, contentType string) (string, error) {
	ext, ok := allowedContentTypes[contentType]
	if !ok {
		return "", fmt.Errorf("unsupported content type %q", contentType)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("empty upload")
	}
	if len(data) > MaxUploadBytes {
		return "", fmt.Errorf("upload exceeds %d bytes", MaxUploadBytes)
	}

	key := path.Join(profileID, util.NewID("img")+ext)
	_, err := u.client.PutObject(ctx, u.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("store object %s: %w", key, err)
	}

	return u.publicURL + "/" + u.bucket + "/" + key, nil
}

// Remove deletes a previously uploaded object by its URL. Unknown URLs are
// ignored so callers can pass through externally hosted images.
func (u *Uploader) Remove(ctx context.Context, objectURL string) error {
	prefix := u.publicURL + "/" + u.bucket + "/"
	if !strings.HasPrefix(objectURL, prefix) {
		return nil
	}
	key := strings.TrimPrefix(objectURL, prefix)
	if err := u.client.RemoveObject(ctx, u.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object %s: %w", key, err)
	}
	return nil
}
