package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// maxFetchBytes caps how much of a source image we read into memory.
const maxFetchBytes = 50 << 20 // 50MB, same limit as upload validation

// fetchTimeout bounds external URL fetches even when the caller supplies
// no deadline. The object-store path honors the caller's context.
const fetchTimeout = 30 * time.Second

// Store holds uploaded screenshots and serves them back to the pipeline.
// References are either object keys in the configured bucket or absolute
// http(s) URLs for images hosted elsewhere.
type Store struct {
	client     *minio.Client
	bucketName string
	region     string
	httpClient *http.Client
}

// New buat koneksi MinIO
func New(ctx context.Context, endpoint, region, bucket, accessKey, secretKey string, useSSL bool) (*Store, error) {
	cli, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, err
	}

	// pastikan bucket ada
	exists, err := cli.BucketExists(ctx, bucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := cli.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region}); err != nil {
			return nil, err
		}
	}

	return &Store{
		client:     cli,
		bucketName: bucket,
		region:     region,
		httpClient: &http.Client{Timeout: fetchTimeout},
	}, nil
}

// Fetch returns the raw bytes and content type for a reference.
func (s *Store) Fetch(ctx context.Context, reference string) ([]byte, string, error) {
	if strings.HasPrefix(reference, "http://") || strings.HasPrefix(reference, "https://") {
		return s.fetchURL(ctx, reference)
	}

	obj, err := s.client.GetObject(ctx, s.bucketName, reference, minio.GetObjectOptions{})
	if err != nil {
		return nil, "", fmt.Errorf("get object %s: %w", reference, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(io.LimitReader(obj, maxFetchBytes))
	if err != nil {
		return nil, "", fmt.Errorf("read object %s: %w", reference, err)
	}

	contentType := "application/octet-stream"
	if stat, err := obj.Stat(); err == nil && stat.ContentType != "" {
		contentType = stat.ContentType
	}
	return data, contentType, nil
}

func (s *Store) fetchURL(ctx context.Context, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, "", err
	}

	contentType := resp.Header.Get("Content-Type")
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return data, contentType, nil
}

// Upload stores image bytes under key and returns the object key as the
// canonical reference.
func (s *Store) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := s.client.PutObject(ctx, s.bucketName, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return key, nil
}

// SignedURL returns a time-limited GET URL for a stored reference, so the
// dashboard can render images from a private bucket. External http(s)
// references are returned unchanged.
func (s *Store) SignedURL(ctx context.Context, reference string, expirySeconds int) (string, error) {
	if strings.HasPrefix(reference, "http://") || strings.HasPrefix(reference, "https://") {
		return reference, nil
	}
	if expirySeconds <= 0 {
		expirySeconds = 3600
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucketName, reference, time.Duration(expirySeconds)*time.Second, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", reference, err)
	}
	return u.String(), nil
}
