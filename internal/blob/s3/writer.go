package s3blob

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alanyoungcy/cyclearb/internal/domain"
)

const (
	// partSize is the multipart chunk; S3 rejects parts under 5 MiB.
	partSize = 5 << 20

	// multipartThreshold is the payload size from which uploads go through
	// the multipart manager.
	multipartThreshold = 8 << 20
)

// Writer implements domain.ObjectWriter on one bucket. Small payloads are a
// single PutObject; large ones use the upload manager.
type Writer struct {
	api      manager.UploadAPIClient
	uploader *manager.Uploader
	bucket   string
}

// NewWriter creates a Writer over any S3 upload API.
func NewWriter(api manager.UploadAPIClient, bucket string) *Writer {
	return &Writer{
		api:    api,
		bucket: bucket,
		uploader: manager.NewUploader(api, func(u *manager.Uploader) {
			u.PartSize = partSize
		}),
	}
}

// PutObject stores body under key.
func (w *Writer) PutObject(ctx context.Context, key string, body []byte, contentType string) error {
	in := &s3.PutObjectInput{
		Bucket:        aws.String(w.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(body))),
	}
	var err error
	if len(body) >= multipartThreshold {
		in.ContentLength = nil
		_, err = w.uploader.Upload(ctx, in)
	} else {
		_, err = w.api.PutObject(ctx, in)
	}
	if err != nil {
		return fmt.Errorf("s3blob: put %s (%d bytes): %w", key, len(body), err)
	}
	return nil
}

var _ domain.ObjectWriter = (*Writer)(nil)
