// Package media stores user-uploaded avatar images in an S3-compatible
// object store.
package media

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"devflow/api/internal/util"
)

type Service struct {
	client    *minio.Client
	bucket    string
	publicURL string
}

// New connects to the object store. publicURL is the externally reachable
// base for stored objects; when empty, URLs are built from the endpoint.
func New(endpoint, accessKey, secretKey, bucket string, useSSL bool, publicURL string) (*Service, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object store: %w", err)
	}

	if publicURL == "" {
		scheme := "http"
		if useSSL {
			scheme = "https"
		}
		publicURL = scheme + "://" + endpoint
	}

	return &Service{
		client:    client,
		bucket:    bucket,
		publicURL: strings.TrimRight(publicURL, "/"),
	}, nil
}

// EnsureBucket creates the avatar bucket if it does not exist yet.
func (s *Service) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}
	return nil
}

var extByContentType = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// StoreAvatar writes the image and returns its public URL. Each upload gets
// a fresh object name so stale CDN caches never serve an old avatar.
func (s *Service) StoreAvatar(ctx context.Context, userID, contentType string, body io.Reader, size int64) (string, error) {
	ext, ok := extByContentType[contentType]
	if !ok {
		return "", fmt.Errorf("unsupported avatar content type %q", contentType)
	}

	objectName := "avatars/" + userID + "/" + util.NewID("img") + ext
	_, err := s.client.PutObject(ctx, s.bucket, objectName, body, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("put avatar: %w", err)
	}

	return s.publicURL + "/" + s.bucket + "/" + objectName, nil
}
