package artifacts

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/mikey/phish-guard/internal/tracing"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// S3Source downloads the model artifacts stored under a bucket prefix
type S3Source struct {
	bucket     string
	prefix     string
	api        s3iface.S3API
	downloader *s3manager.Downloader
	logger     *zap.Logger
}

// NewS3Source creates a source using the default credential chain
func NewS3Source(bucket, prefix, region string, logger *zap.Logger) (*S3Source, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create AWS session")
	}
	api := s3.New(sess)
	return NewS3SourceWithClient(bucket, prefix, api, logger), nil
}

// NewS3SourceWithClient creates a source over an existing S3 client
func NewS3SourceWithClient(bucket, prefix string, api s3iface.S3API, logger *zap.Logger) *S3Source {
	return &S3Source{
		bucket:     bucket,
		prefix:     strings.Trim(prefix, "/"),
		api:        api,
		downloader: s3manager.NewDownloaderWithClient(api),
		logger:     logger,
	}
}

// Sync copies every artifact under the prefix into dir. Each file is written
// to a temporary name first and renamed into place.
func (s *S3Source) Sync(ctx context.Context, dir string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "S3Source.Sync")
	defer span.Finish()
	span.SetTag("bucket", s.bucket)

	keys, err := s.listKeys(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if len(keys) == 0 {
		return fmt.Errorf("no artifacts found in s3://%s/%s", s.bucket, s.prefix)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "failed to create model directory")
	}

	for _, key := range keys {
		if err := s.download(ctx, key, filepath.Join(dir, path.Base(key))); err != nil {
			tracing.TraceErr(span, err)
			return err
		}
	}
	s.logger.Info("Model artifacts synced",
		zap.String("bucket", s.bucket),
		zap.String("prefix", s.prefix),
		zap.Int("files", len(keys)))
	return nil
}

func (s *S3Source) listKeys(ctx context.Context) ([]string, error) {
	input := &s3.ListObjectsV2Input{Bucket: aws.String(s.bucket)}
	if s.prefix != "" {
		input.Prefix = aws.String(s.prefix + "/")
	}

	var keys []string
	err := s.api.ListObjectsV2PagesWithContext(ctx, input, func(page *s3.ListObjectsV2Output, _ bool) bool {
		for _, obj := range page.Contents {
			if obj.Key == nil || !isArtifact(*obj.Key) {
				continue
			}
			keys = append(keys, *obj.Key)
		}
		return true
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list s3://%s/%s", s.bucket, s.prefix)
	}
	return keys, nil
}

func (s *S3Source) download(ctx context.Context, key, dest string) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return errors.Wrap(err, "failed to create temp file")
	}
	defer os.Remove(tmp.Name())

	_, err = s.downloader.DownloadWithContext(ctx, tmp, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	closeErr := tmp.Close()
	if err != nil {
		return errors.Wrapf(err, "failed to download %s", key)
	}
	if closeErr != nil {
		return errors.Wrapf(closeErr, "failed to write %s", dest)
	}
	return os.Rename(tmp.Name(), dest)
}

// isArtifact skips folder markers and anything that is not json or text
func isArtifact(key string) bool {
	if strings.HasSuffix(key, "/") {
		return false
	}
	ext := strings.ToLower(path.Ext(key))
	return ext == ".json" || ext == ".txt"
}
