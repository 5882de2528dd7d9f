package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/ryanuber/go-glob"
)

// S3Config names the bucket and connection details for an S3-compatible
// backend. Provider, when set to one of the known provider keys (see
// KnownProviders), supplies endpoint and path-style defaults; Endpoint
// overrides the provider's endpoint when non-empty.
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	Provider  string
}

// S3Backend implements Backend against an S3-compatible object store using
// aws-sdk-go-v2. It is grounded on the same SDK client construction the
// teacher gateway used for its (single-purpose) object operations,
// generalized here to the five-method Backend capability set.
type S3Backend struct {
	client *s3.Client
	bucket string
}

// NewS3Backend constructs a client for cfg, resolving provider defaults (see
// backend_s3_providers.go) before falling back to cfg.Endpoint/cfg.Region.
func NewS3Backend(ctx context.Context, cfg S3Config) (*S3Backend, error) {
	endpoint := cfg.Endpoint
	pathStyle := false
	if cfg.Provider != "" {
		providerCfg, err := GetProviderConfig(cfg.Provider)
		if err != nil {
			return nil, fmt.Errorf("blobstore: s3: %w", err)
		}
		if endpoint == "" {
			endpoint = providerCfg.DefaultEndpoint
		}
		pathStyle = providerCfg.RequiresPathStyle
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey, cfg.SecretKey, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("blobstore: s3: load aws config: %w", err)
	}

	var opts []func(*s3.Options)
	if endpoint != "" {
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = pathStyle
		})
	}

	return &S3Backend{
		client: s3.NewFromConfig(awsCfg, opts...),
		bucket: cfg.Bucket,
	}, nil
}

func (b *S3Backend) Exists(ctx context.Context, remotePath string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(remotePath),
	})
	if err == nil {
		return true, nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return false, nil
		}
	}
	return false, fmt.Errorf("blobstore: s3: head %s/%s: %w", b.bucket, remotePath, err)
}

func (b *S3Backend) Upload(ctx context.Context, localPath, remotePath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("blobstore: s3: open %s: %w", localPath, err)
	}
	defer f.Close()

	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(remotePath),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("blobstore: s3: put %s/%s: %w", b.bucket, remotePath, err)
	}
	return nil
}

func (b *S3Backend) Download(ctx context.Context, remotePath, localPath string) error {
	result, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(remotePath),
	})
	if err != nil {
		return fmt.Errorf("blobstore: s3: get %s/%s: %w", b.bucket, remotePath, err)
	}
	defer result.Body.Close()

	out, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("blobstore: s3: create %s: %w", localPath, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, result.Body); err != nil {
		return fmt.Errorf("blobstore: s3: download %s/%s: %w", b.bucket, remotePath, err)
	}
	return nil
}

func (b *S3Backend) Remove(ctx context.Context, remotePath string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(remotePath),
	})
	if err != nil {
		return fmt.Errorf("blobstore: s3: delete %s/%s: %w", b.bucket, remotePath, err)
	}
	return nil
}

func (b *S3Backend) List(ctx context.Context, prefix string, recursive bool, globPattern string) ([]string, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(prefix),
	}
	if !recursive {
		input.Delimiter = aws.String("/")
	}

	var out []string
	paginator := s3.NewListObjectsV2Paginator(b.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("blobstore: s3: list %s/%s: %w", b.bucket, prefix, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if globPattern != "" {
				base := key
				if idx := strings.LastIndex(key, "/"); idx >= 0 {
					base = key[idx+1:]
				}
				if !glob.Glob(globPattern, base) {
					continue
				}
			}
			out = append(out, key)
		}
	}
	return out, nil
}

