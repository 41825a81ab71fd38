package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3API is the subset of the S3 client used by Mirror.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Mirror copies finished audio files to S3 so they can be served from a CDN.
type Mirror struct {
	client     S3API
	bucket     string
	cdnBaseURL string // e.g. "https://audio.example.com"
}

// NewMirror creates an S3 mirror. An empty cdnBaseURL yields s3:// URLs.
func NewMirror(client S3API, bucket, cdnBaseURL string) *Mirror {
	return &Mirror{client: client, bucket: bucket, cdnBaseURL: strings.TrimRight(cdnBaseURL, "/")}
}

// Key returns the object key used for a job's artifact.
func Key(jobID, path string) string {
	ext := filepath.Ext(path)
	if ext == "" {
		ext = ".wav"
	}
	return "audio/" + jobID + ext
}

// Upload uploads the artifact and returns its public URL.
func (m *Mirror) Upload(ctx context.Context, jobID, path string) (string, error) {
	key := Key(jobID, path)

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat artifact: %w", err)
	}

	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &m.bucket,
		Key:           &key,
		Body:          f,
		ContentType:   aws.String(contentType(path)),
		ContentLength: aws.Int64(info.Size()),
	})
	if err != nil {
		return "", fmt.Errorf("upload to s3: %w", err)
	}

	return m.url(key), nil
}

// Delete removes the artifact object for a job. Missing objects are not an
// error in S3.
func (m *Mirror) Delete(ctx context.Context, jobID, path string) error {
	key := Key(jobID, path)
	_, err := m.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &m.bucket,
		Key:    &key,
	})
	if err != nil {
		return fmt.Errorf("delete from s3: %w", err)
	}
	return nil
}

func (m *Mirror) url(key string) string {
	if m.cdnBaseURL == "" {
		return "s3://" + m.bucket + "/" + key
	}
	return m.cdnBaseURL + "/" + key
}

func contentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		return "audio/mpeg"
	default:
		return "audio/wav"
	}
}
