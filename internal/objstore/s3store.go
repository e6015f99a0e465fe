package objstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stagegraph/stagegraph/internal/objhash"
)

// S3Store implements Store against an S3-compatible bucket. Keys are
// sharded `blobs/<hash[0:2]>/<hash[2:]>` (spec.md §4.1). Selected over
// FilesystemStore whenever S3_BUCKET is configured (spec.md §6.3).
type S3Store struct {
	client *s3.Client
	bucket string
}

var _ Store = (*S3Store)(nil)

// NewS3Store builds an S3Store from the ambient AWS config (environment
// variables / shared config files), the same discovery path the AWS SDK
// always uses; stagegraph adds no bespoke credential plumbing.
func NewS3Store(ctx context.Context, bucket, region, endpoint string) (*S3Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("objstore: load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Store{client: client, bucket: bucket}, nil
}

func (s *S3Store) key(h objhash.Hash) string {
	hex := h.String()
	return "blobs/" + hex[0:2] + "/" + hex[2:]
}

func (s *S3Store) Store(ctx context.Context, b []byte) (objhash.Hash, string, int64, error) {
	h := objhash.Sum(b)
	if ok, err := s.Exists(ctx, h); err != nil {
		return h, "", 0, err
	} else if ok {
		return h, s.key(h), int64(len(b)), nil
	}
	key := s.key(h)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(b),
	})
	if err != nil {
		return h, "", 0, fmt.Errorf("objstore: s3 put: %w", err)
	}
	return h, key, int64(len(b)), nil
}

func (s *S3Store) StoreReader(ctx context.Context, r io.Reader) (objhash.Hash, string, int64, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return objhash.Hash{}, "", 0, fmt.Errorf("objstore: read: %w", err)
	}
	return s.Store(ctx, b)
}

func (s *S3Store) Retrieve(ctx context.Context, h objhash.Hash) ([]byte, error) {
	rc, err := s.Open(ctx, h)
	if err != nil || rc == nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (s *S3Store) Open(ctx context.Context, h objhash.Hash) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(h)),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("objstore: s3 get: %w", err)
	}
	return out.Body, nil
}

func (s *S3Store) Exists(ctx context.Context, h objhash.Hash) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(h)),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("objstore: s3 head: %w", err)
	}
	return true, nil
}

func (s *S3Store) Delete(ctx context.Context, h objhash.Hash) (bool, error) {
	existed, err := s.Exists(ctx, h)
	if err != nil {
		return false, err
	}
	if !existed {
		return false, nil
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(h)),
	})
	if err != nil {
		return false, fmt.Errorf("objstore: s3 delete: %w", err)
	}
	return true, nil
}

// DownloadURL returns a presigned GET URL valid for ttl (spec.md §4.1).
func (s *S3Store) DownloadURL(ctx context.Context, h objhash.Hash, ttl time.Duration) (string, error) {
	ok, err := s.Exists(ctx, h)
	if err != nil || !ok {
		return "", err
	}
	presigner := s3.NewPresignClient(s.client)
	req, err := presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(h)),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("objstore: presign: %w", err)
	}
	return req.URL, nil
}

func isNoSuchKey(err error) bool {
	var nf interface{ ErrorCode() string }
	if errors.As(err, &nf) {
		switch nf.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
