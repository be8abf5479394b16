package backends

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3API is the subset of the S3 client used by the S3 backend.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config locates the index object.
type S3Config struct {
	Bucket    string
	Key       string
	Region    string
	Endpoint  string // optional, for S3-compatible stores
	PathStyle bool
}

// S3 keeps the index snapshot as a single JSON object, in the same format as
// the File backend. It lets several hosts that share an artifact volume start
// warm from the same index.
type S3 struct {
	client S3API
	bucket string
	key    string
	logger *slog.Logger
}

// NewS3 builds a client from the default AWS credential chain.
func NewS3(ctx context.Context, cfg S3Config, logger *slog.Logger) (*S3, error) {
	if cfg.Bucket == "" || cfg.Key == "" {
		return nil, fmt.Errorf("%w: s3 bucket and key are required", ErrUnavailable)
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load AWS config: %v", ErrUnavailable, err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})
	return NewS3WithClient(client, cfg.Bucket, cfg.Key, logger), nil
}

// NewS3WithClient wraps an existing client.
func NewS3WithClient(client S3API, bucket, key string, logger *slog.Logger) *S3 {
	return &S3{client: client, bucket: bucket, key: key, logger: logger}
}

func (s *S3) Load(ctx context.Context) (map[string]string, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("failed to get s3://%s/%s: %w", s.bucket, s.key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read index object: %w", err)
	}

	entries := map[string]string{}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse index object: %w", err)
	}
	return entries, nil
}

func (s *S3) Insert(ctx context.Context, sourceURL, path string) error { return nil }

func (s *S3) Remove(ctx context.Context, sourceURL string) error { return nil }

func (s *S3) Save(ctx context.Context, entries map[string]string) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to marshal index: %w", err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to put s3://%s/%s: %w", s.bucket, s.key, err)
	}

	s.logger.Debug("index snapshot uploaded", "bucket", s.bucket, "key", s.key, "entries", len(entries))
	return nil
}

func (s *S3) Transactional() bool { return false }

func (s *S3) Close() error { return nil }
