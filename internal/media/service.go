// Package media stores user avatars in a MinIO bucket.
package media

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"quorum/api/internal/util"
)

const (
	maxAvatarSize = 2 << 20 // 2 MiB
	urlExpiry     = time.Hour
)

var allowedTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

// Service wraps a MinIO client for avatar storage.
type Service struct {
	client *minio.Client
	bucket string
}

// NewService connects to MinIO and ensures the bucket exists.
func NewService(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Service, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}

	return &Service{client: client, bucket: bucket}, nil
}

// UploadAvatar validates and stores an avatar image, returning the object key.
func (s *Service) UploadAvatar(ctx context.Context, userID int64, reader io.Reader, size int64, contentType string) (string, error) {
	if size > maxAvatarSize {
		return "", fmt.Errorf("avatar exceeds %d bytes", maxAvatarSize)
	}
	if !allowedTypes[baseMIME(contentType)] {
		return "", fmt.Errorf("avatar content type %q not allowed", contentType)
	}

	key := fmt.Sprintf("avatars/%d/%s", userID, util.NewID("av"))
	_, err := s.client.PutObject(ctx, s.bucket, key, reader, size, minio.PutObjectOptions{
		ContentType: baseMIME(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("upload avatar: %w", err)
	}
	return key, nil
}

// AvatarURL returns a presigned GET URL for an avatar object key.
func (s *Service) AvatarURL(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", nil
	}
	presigned, err := s.client.PresignedGetObject(ctx, s.bucket, key, urlExpiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign avatar url: %w", err)
	}
	return presigned.String(), nil
}

// RemoveAvatar deletes an avatar object. Missing objects are not an error.
func (s *Service) RemoveAvatar(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove avatar: %w", err)
	}
	return nil
}

func baseMIME(mime string) string {
	parts := strings.Split(mime, ";")
	return strings.TrimSpace(parts[0])
}
