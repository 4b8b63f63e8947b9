package service

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"storyscene-server/config"
	"storyscene-server/models"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// presign 的上限是 7 天
const maxSignedURLTTL = 7 * 24 * time.Hour

// MinIOStore 基于 MinIO 的产物存储，对象路径为 owner/project/file
type MinIOStore struct {
	client *minio.Client
	bucket string
	domain string
	urlTTL time.Duration
	log    *slog.Logger

	bucketOnce sync.Once
	bucketErr  error
}

// NewMinIOStore 初始化连接，在 main.go 中调用
func NewMinIOStore(cfg config.MinIOConfig, log *slog.Logger) (*MinIOStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &MinIOStore{
		client: client,
		bucket: cfg.Bucket,
		domain: strings.TrimRight(cfg.Domain, "/"),
		urlTTL: clampTTL(cfg.URLExpiry),
		log:    log.With("component", "minio"),
	}, nil
}

// ensureBucket 首次写入时检查并创建 Bucket
func (s *MinIOStore) ensureBucket(ctx context.Context) error {
	s.bucketOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucket)
		if err != nil {
			s.bucketErr = fmt.Errorf("check bucket: %w", err)
			return
		}
		if exists {
			return
		}
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			s.bucketErr = fmt.Errorf("make bucket: %w", err)
			return
		}
		s.log.Info("bucket created", "bucket", s.bucket)
	})
	return s.bucketErr
}

// Put uploads data and returns its object path and a retrieval URL.
func (s *MinIOStore) Put(ctx context.Context, ownerID, projectID, fileName string, data []byte, contentType string) (string, string, error) {
	const op = "put object"
	if err := s.ensureBucket(ctx); err != nil {
		return "", "", models.WrapError(models.KindStorage, op, err)
	}
	objectName, err := objectPath(ownerID, projectID, fileName)
	if err != nil {
		return "", "", err
	}
	if contentType == "" {
		contentType = contentTypeFor(objectName)
	}

	_, err = s.client.PutObject(ctx, s.bucket, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", "", models.WrapError(models.KindStorage, op, err)
	}
	u, err := s.SignedURL(ctx, objectName, s.urlTTL)
	if err != nil {
		return "", "", err
	}
	s.log.Debug("object stored", "object", objectName, "size", len(data))
	return objectName, u, nil
}

// SignedURL returns a presigned GET URL, or the public URL when a domain is configured.
func (s *MinIOStore) SignedURL(ctx context.Context, objectName string, ttl time.Duration) (string, error) {
	if objectName == "" {
		return "", models.Validation("sign url", "object path is empty")
	}
	if s.domain != "" {
		return s.domain + "/" + strings.TrimLeft(objectName, "/"), nil
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, objectName, clampTTL(ttl), make(url.Values))
	if err != nil {
		return "", models.WrapError(models.KindStorage, "sign url", err)
	}
	return u.String(), nil
}

// Delete removes objects in one batch; per-object failures are joined into one error.
func (s *MinIOStore) Delete(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	objects := make(chan minio.ObjectInfo, len(paths))
	for _, p := range paths {
		if p != "" {
			objects <- minio.ObjectInfo{Key: p}
		}
	}
	close(objects)

	var failed []string
	for e := range s.client.RemoveObjects(ctx, s.bucket, objects, minio.RemoveObjectsOptions{}) {
		failed = append(failed, fmt.Sprintf("%s: %v", e.ObjectName, e.Err))
	}
	if len(failed) > 0 {
		return models.NewError(models.KindStorage, "delete objects", strings.Join(failed, "; "))
	}
	return nil
}

// objectPath 拼出 owner/project/file，拒绝空段和路径穿越
func objectPath(ownerID, projectID, fileName string) (string, error) {
	parts := []string{ownerID, projectID, fileName}
	for _, p := range parts {
		if strings.TrimSpace(p) == "" || p == "." || p == ".." || strings.ContainsAny(p, `/\`) {
			return "", models.Validation("object path", fmt.Sprintf("invalid path segment %q", p))
		}
	}
	return path.Join(parts...), nil
}

// 根据文件扩展名确定 ContentType
func contentTypeFor(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".mp4":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	}
	return "application/octet-stream"
}

func clampTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultSignedURLTTL
	}
	if ttl > maxSignedURLTTL {
		return maxSignedURLTTL
	}
	return ttl
}
