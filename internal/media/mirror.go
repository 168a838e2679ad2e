// Package media mirrors remote media attachments into S3-compatible
// object storage, so cached posts keep their images even after the
// origin instance prunes them.
package media

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Mirror struct {
	client *minio.Client
	bucket string
	http   *http.Client
}

// NewMirror connects to the object store and ensures the bucket
// exists.
func NewMirror(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Mirror, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object store: %w", err)
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

	return &Mirror{
		client: client,
		bucket: bucket,
		http:   &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// MirrorAttachment downloads the attachment and stores it under
// posts/{postID}/{attachmentID}{ext}. An object already in the bucket
// is not fetched again. Returns the object key.
func (m *Mirror) MirrorAttachment(ctx context.Context, postID, attachmentID, remoteURL string) (string, error) {
	key := objectKey(postID, attachmentID, remoteURL)
	if _, err := m.client.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{}); err == nil {
		return key, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, remoteURL, nil)
	if err != nil {
		return "", fmt.Errorf("build attachment request: %w", err)
	}
	resp, err := m.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch attachment %s: %w", remoteURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch attachment %s: status %d", remoteURL, resp.StatusCode)
	}

	_, err = m.client.PutObject(ctx, m.bucket, key, resp.Body, resp.ContentLength, minio.PutObjectOptions{
		ContentType: resp.Header.Get("Content-Type"),
	})
	if err != nil {
		return "", fmt.Errorf("store attachment %s: %w", key, err)
	}
	return key, nil
}

// MirrorAll mirrors a batch of attachments, logging and skipping
// failures; a dead media URL must not fail the sync that found it.
func (m *Mirror) MirrorAll(ctx context.Context, postID string, urls map[string]string) {
	for attachmentID, remoteURL := range urls {
		if remoteURL == "" {
			continue
		}
		if _, err := m.MirrorAttachment(ctx, postID, attachmentID, remoteURL); err != nil {
			log.Printf("media: mirror %s: %v", remoteURL, err)
		}
	}
}

func objectKey(postID, attachmentID, remoteURL string) string {
	ext := ""
	if u, err := url.Parse(remoteURL); err == nil {
		ext = path.Ext(u.Path)
	}
	return fmt.Sprintf("posts/%s/%s%s", postID, attachmentID, ext)
}
