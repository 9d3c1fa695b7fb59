package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	pkgerrors "github.com/pkg/errors"

	"github.com/questforge-ai/modelplane/pkg/logging"
)

// S3Store implements Store over an S3-compatible bucket.
type S3Store struct {
	client     *s3.Client
	uploader   *manager.Uploader
	downloader *manager.Downloader
	bucket     string
	logger     logging.Interface
}

// NewS3Store builds the client from the config, honoring a custom endpoint for
// S3-compatible stores (MinIO, Ceph) and static credentials when provided.
func NewS3Store(ctx context.Context, config *Config) (*S3Store, error) {
	logger := config.AnotherLogger
	if logger == nil {
		logger = logging.Discard()
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(config.Region),
	}
	if config.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(config.AccessKey, config.SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "loading object store credentials")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if config.Endpoint != "" {
			o.BaseEndpoint = aws.String(config.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Store{
		client:     client,
		uploader:   manager.NewUploader(client),
		downloader: manager.NewDownloader(client),
		bucket:     config.Bucket,
		logger:     logger,
	}, nil
}

// Put uploads the body under key using the multipart-aware uploader.
func (s *S3Store) Put(ctx context.Context, key string, body io.Reader) (string, error) {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   body,
	})
	if err != nil {
		return "", pkgerrors.Wrapf(err, "uploading s3://%s/%s", s.bucket, key)
	}

	s.logger.WithField("bucket", s.bucket).WithField("key", key).Debug("Uploaded object")
	return s.URI(key), nil
}

// Get downloads the whole object under key.
func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	buf := manager.NewWriteAtBuffer(nil)
	_, err := s.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "downloading s3://%s/%s", s.bucket, key)
	}
	return buf.Bytes(), nil
}

// Exists reports whether key is present in the bucket.
func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *s3types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, pkgerrors.Wrapf(err, "probing s3://%s/%s", s.bucket, key)
	}
	return true, nil
}

// List returns all keys under the prefix, following pagination.
func (s *S3Store) List(ctx context.Context, prefix string) ([]string, error) {
	keys := []string{}

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, pkgerrors.Wrapf(err, "listing s3://%s/%s", s.bucket, prefix)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

// URI renders the s3:// URI for key.
func (s *S3Store) URI(key string) string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, strings.TrimPrefix(key, "/"))
}

var _ Store = (*S3Store)(nil)

// PutBytes is a convenience wrapper over Put for in-memory payloads.
func PutBytes(ctx context.Context, store Store, key string, data []byte) (string, error) {
	return store.Put(ctx, key, bytes.NewReader(data))
}
