package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/oshokin/zephyr-tools/internal/config"
)

// defaultAWSRegion is the fallback region when nothing else resolves one.
const defaultAWSRegion = "us-east-1"

var (
	// ErrObjectNotFound is returned when the mirror has no such key.
	ErrObjectNotFound = errors.New("object not found")
	// ErrAccessDenied is returned when the mirror refuses the credentials.
	ErrAccessDenied = errors.New("access denied")
)

// ObjectGetter is the subset of the S3 client used for downloads.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Fetcher downloads s3://bucket/key URLs from S3 or an S3-compatible store.
// The client is built on first use so runs that never touch a mirror skip
// credential resolution.
type S3Fetcher struct {
	cfg config.S3Config

	once   sync.Once
	client ObjectGetter
	err    error
}

// NewS3Fetcher creates a fetcher configured by cfg.
func NewS3Fetcher(cfg config.S3Config) *S3Fetcher {
	return &S3Fetcher{cfg: cfg}
}

// NewS3FetcherWithClient creates a fetcher around an existing client.
func NewS3FetcherWithClient(client ObjectGetter) *S3Fetcher {
	f := &S3Fetcher{client: client}
	f.once.Do(func() {})

	return f
}

// Fetch implements Fetcher.
func (f *S3Fetcher) Fetch(ctx context.Context, u *url.URL, w io.Writer) error {
	f.once.Do(func() {
		f.client, f.err = newS3Client(ctx, f.cfg)
	})

	if f.err != nil {
		return f.err
	}

	bucket := u.Host
	key := strings.TrimPrefix(u.Path, "/")

	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return wrapS3Error(bucket, key, err)
	}
	defer out.Body.Close() //nolint:errcheck // Body is drained by io.Copy.

	_, err = io.Copy(w, out.Body)

	return err
}

// newS3Client builds a client from the default credential chain plus settings.
func newS3Client(ctx context.Context, cfg config.S3Config) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error

	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	// S3-compatible stores usually ignore the region.
	if awsCfg.Region == "" && cfg.Endpoint == "" {
		awsCfg.Region = defaultAWSRegion
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ForcePathStyle

		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// wrapS3Error maps SDK errors onto package sentinels.
func wrapS3Error(bucket, key string, err error) error {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return fmt.Errorf("s3://%s/%s: %w", bucket, key, ErrObjectNotFound)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return fmt.Errorf("s3://%s/%s: %w", bucket, key, ErrObjectNotFound)
		case "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return fmt.Errorf("s3://%s/%s: %w: %w", bucket, key, ErrAccessDenied, err)
		}
	}

	return fmt.Errorf("s3://%s/%s: %w", bucket, key, err)
}
