// Package archive implements C11: best-effort upload of a terminated
// session's audit bundle (the final Event plus any diagnostic payload) to
// object storage for long-term retention, adapted from this repo's media
// package's presigned-URL / bucket conventions but writing instead of
// reading.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Archiver uploads a finished session's bundle to object storage, keyed
// by session ID so it can be cross-referenced with the audit trail (C9).
type Archiver struct {
	client *minio.Client
	bucket string
}

// NewArchiver connects to a minio/S3-compatible endpoint and ensures
// bucket exists.
func NewArchiver(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Archiver, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("archive: minio client: %w", err)
	}
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("archive: bucket check: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("archive: make bucket: %w", err)
		}
	}
	return &Archiver{client: client, bucket: bucket}, nil
}

// Upload stores bundle under sessions/<id>/<timestamp>.bin.
func (a *Archiver) Upload(ctx context.Context, sessionID uuid.UUID, bundle []byte) error {
	name := fmt.Sprintf("sessions/%s/%d.bin", sessionID, time.Now().UTC().Unix())
	_, err := a.client.PutObject(ctx, a.bucket, name, bytes.NewReader(bundle), int64(len(bundle)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return fmt.Errorf("archive: put object: %w", err)
	}
	return nil
}
