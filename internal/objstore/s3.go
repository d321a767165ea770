package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog/log"
)

// S3API is the subset of *s3.Client used by S3.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3 is a Store backed by Amazon S3 or an S3-compatible server such as MinIO.
type S3 struct {
	client S3API
}

// NewS3 returns a Store using client.
func NewS3(client S3API) *S3 {
	return &S3{client: client}
}

// Open implements Store.
func (s *S3) Open(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error) {
	log.Debug().Str("bucket", bucket).Str("key", key).Msg("Opening S3 object")
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, 0, fmt.Errorf("s3://%s/%s: %w", bucket, key, ErrNotFound)
		}
		return nil, 0, fmt.Errorf("S3 GetObject: %w", err)
	}
	return out.Body, aws.ToInt64(out.ContentLength), nil
}

// ReadText implements Store.
func (s *S3) ReadText(ctx context.Context, bucket, key string) (Text, error) {
	body, _, err := s.Open(ctx, bucket, key)
	if errors.Is(err, ErrNotFound) {
		return Missing, nil
	}
	if err != nil {
		return Missing, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return Missing, fmt.Errorf("read s3://%s/%s: %w", bucket, key, err)
	}
	return Found(string(data)), nil
}

// WriteText implements Store.
func (s *S3) WriteText(ctx context.Context, bucket, key, text string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        strings.NewReader(text),
		ContentType: aws.String("text/plain; charset=utf-8"),
	})
	if err != nil {
		return fmt.Errorf("S3 PutObject %s: %w", key, err)
	}
	log.Debug().Str("bucket", bucket).Str("key", key).Int("bytes", len(text)).Msg("Wrote S3 text object")
	return nil
}

// List implements Store. S3 returns keys in UTF-8 binary order.
func (s *S3) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	var keys []string
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("S3 ListObjectsV2 %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *s3types.NotFound
	if errors.As(err, &nf) {
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
