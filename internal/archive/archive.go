// Package archive keeps the raw inbound webhook payloads in S3. The database
// holds the parsed message; the archive holds what the provider actually
// sent, which is what you need when attribution goes wrong.
package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/openfoia/case-engine/internal/config"
	"github.com/openfoia/case-engine/internal/pkg/logger"
)

// s3API is the slice of the S3 client the archiver uses.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver writes payloads to a bucket, optionally gzipped.
type S3Archiver struct {
	client   s3API
	bucket   string
	prefix   string
	compress bool
}

// NewS3Archiver builds an archiver from config. Returns nil when archival is
// disabled; callers treat a nil archiver as a no-op.
func NewS3Archiver(ctx context.Context, cfg config.ArchiveConfig) (*S3Archiver, error) {
	if !cfg.Enabled || cfg.S3Bucket == "" {
		return nil, nil
	}

	region := cfg.S3Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	logger.Info("payload archive enabled", "bucket", cfg.S3Bucket, "prefix", cfg.Prefix, "compress", cfg.Compress)
	return &S3Archiver{
		client:   s3.NewFromConfig(awsCfg),
		bucket:   cfg.S3Bucket,
		prefix:   strings.TrimSuffix(cfg.Prefix, "/"),
		compress: cfg.Compress,
	}, nil
}

// Archive writes one payload under the given key.
func (a *S3Archiver) Archive(ctx context.Context, key string, payload []byte) error {
	body := payload
	contentType := "application/json"
	var encoding *string

	if a.compress {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		if _, err := gz.Write(payload); err != nil {
			return fmt.Errorf("compress payload: %w", err)
		}
		if err := gz.Close(); err != nil {
			return fmt.Errorf("compress payload: %w", err)
		}
		body = buf.Bytes()
		encoding = aws.String("gzip")
	}

	fullKey := key
	if a.prefix != "" {
		fullKey = a.prefix + "/" + key
	}

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(a.bucket),
		Key:             aws.String(fullKey),
		Body:            bytes.NewReader(body),
		ContentType:     aws.String(contentType),
		ContentEncoding: encoding,
	})
	if err != nil {
		return fmt.Errorf("archive %s: %w", fullKey, err)
	}
	return nil
}
