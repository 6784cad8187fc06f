// Package publish uploads generated document directories to object storage.
package publish

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Uploader is the part of manager.Uploader used for publishing.
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Publisher writes the files of a dated directory to
//
//	s3://<bucket>/<prefix>/<YYYYMMDD>/<file>
type S3Publisher struct {
	Bucket   string
	Prefix   string
	Uploader Uploader
	Log      *slog.Logger
}

// NewS3Publisher loads credentials and region the usual SDK way (environment,
// shared config files).
func NewS3Publisher(ctx context.Context, bucket, prefix string, log *slog.Logger) (*S3Publisher, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket required")
	}
	cfg, err := awsConfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &S3Publisher{
		Bucket:   bucket,
		Prefix:   prefix,
		Uploader: manager.NewUploader(s3.NewFromConfig(cfg)),
		Log:      log,
	}, nil
}

func contentType(name string) string {
	if strings.HasSuffix(name, ".zst") {
		return "application/zstd"
	}
	return "text/plain; charset=us-ascii"
}

// PublishDir uploads every regular file in dir and returns the object keys
// in upload order.
func (p *S3Publisher) PublishDir(ctx context.Context, dir string) ([]string, error) {
	log := p.Log
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(entries, func(a, b os.DirEntry) int { return strings.Compare(a.Name(), b.Name()) })

	var keys []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		body, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return keys, err
		}
		key := path.Join(p.Prefix, filepath.Base(dir), e.Name())
		_, err = p.Uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(p.Bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(body),
			ContentType: aws.String(contentType(e.Name())),
		})
		if err != nil {
			return keys, fmt.Errorf("s3 upload of %s failed: %w", key, err)
		}
		log.Info("published", "bucket", p.Bucket, "key", key, "bytes", len(body))
		keys = append(keys, key)
	}
	return keys, nil
}
