package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"github.com/martijn/vaultkeep/internal/core/domain"
	"github.com/martijn/vaultkeep/internal/core/port"
)

type S3Options struct {
	Endpoint  string // e.g. "http://localhost:9000" for MinIO or Ceph RGW
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	Prefix    string // optional key prefix inside the bucket
}

// s3API is the subset of *s3.Client the store uses.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Store keeps blobs as objects in one bucket. Transient failures are retried
// with exponential backoff; missing objects are reported as domain.ErrNotFound.
type S3Store struct {
	client  s3API
	bucket  string
	prefix  string
	backoff func() retry.Backoff
	logger  zerolog.Logger
}

var _ port.BlobStore = (*S3Store)(nil)

func NewS3Store(opts S3Options, logger zerolog.Logger) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("%w: s3 bucket is required", domain.ErrValidation)
	}
	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}

	s3Opts := s3.Options{
		Region:       region,
		Credentials:  credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		UsePathStyle: true,
	}
	if opts.Endpoint != "" {
		s3Opts.BaseEndpoint = aws.String(opts.Endpoint)
	}

	return newS3Store(s3.New(s3Opts), opts.Bucket, opts.Prefix, logger), nil
}

func newS3Store(client s3API, bucket, prefix string, logger zerolog.Logger) *S3Store {
	return &S3Store{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		backoff: func() retry.Backoff {
			return retry.WithMaxRetries(3, retry.NewExponential(200*time.Millisecond))
		},
		logger: logger.With().Str("component", "s3-blob-store").Logger(),
	}
}

func (s *S3Store) key(p string) string {
	if s.prefix == "" {
		return p
	}
	return path.Join(s.prefix, p)
}

func (s *S3Store) Put(ctx context.Context, p string, data []byte) error {
	key := s.key(p)
	err := retry.Do(ctx, s.backoff(), func(ctx context.Context) error {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(data),
			ContentLength: aws.Int64(int64(len(data))),
			ContentType:   aws.String("application/octet-stream"),
		})
		return s.classify(err)
	})
	if err != nil {
		return fmt.Errorf("%w: put s3://%s/%s: %v", domain.ErrStorage, s.bucket, key, err)
	}
	s.logger.Debug().Str("key", key).Int("bytes", len(data)).Msg("stored blob")
	return nil
}

func (s *S3Store) Get(ctx context.Context, p string) ([]byte, error) {
	key := s.key(p)
	var data []byte
	err := retry.Do(ctx, s.backoff(), func(ctx context.Context) error {
		out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return s.classify(err)
		}
		defer out.Body.Close()

		data, err = io.ReadAll(out.Body)
		if err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if isNotFound(err) {
		return nil, fmt.Errorf("%w: blob %s", domain.ErrNotFound, p)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get s3://%s/%s: %v", domain.ErrStorage, s.bucket, key, err)
	}
	return data, nil
}

// Delete checks for the object first because S3 deletes of missing keys succeed.
func (s *S3Store) Delete(ctx context.Context, p string) error {
	key := s.key(p)
	err := retry.Do(ctx, s.backoff(), func(ctx context.Context) error {
		_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return s.classify(err)
		}
		_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		return s.classify(err)
	})
	if isNotFound(err) {
		return fmt.Errorf("%w: blob %s", domain.ErrNotFound, p)
	}
	if err != nil {
		return fmt.Errorf("%w: delete s3://%s/%s: %v", domain.ErrStorage, s.bucket, key, err)
	}
	return nil
}

// classify marks everything except missing objects and client errors as retryable.
func (s *S3Store) classify(err error) error {
	if err == nil {
		return nil
	}
	if isNotFound(err) {
		return err
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorFault() == smithy.FaultClient {
		return err
	}
	s.logger.Warn().Err(err).Msg("s3 request failed, retrying")
	return retry.RetryableError(err)
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var noSuchKey *s3types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *s3types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
