// Package cloud implements the remote (object storage) cache tier over
// Amazon S3 or an S3-compatible endpoint.
package cloud

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/cenkalti/backoff/v4"

	"github.com/marmos91/imagecache/pkg/cachekey"
	"github.com/marmos91/imagecache/pkg/provider"
)

// NewS3Client builds an S3 client for region, optionally pointed at a
// non-AWS endpoint (S3-compatible stores like MinIO or R2).
func NewS3Client(ctx context.Context, region, endpoint string) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("cloud: failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
	}

	return s3.NewFromConfig(awsCfg, s3Opts...), nil
}

// Metrics receives per-operation observations from the cloud tier. A nil
// Metrics is valid everywhere.
type Metrics interface {
	ObserveOperation(operation string, duration time.Duration, err error)
}

// Config configures a cloud Provider.
type Config struct {
	// Name identifies this provider within a cascade. Defaults to "cloud".
	Name string
	// Client is the configured S3 client. Required.
	Client *s3.Client
	// Bucket is the target S3 bucket. Required.
	Bucket string
	// KeyPrefix is an optional prefix applied to every object key.
	KeyPrefix string
	// CreateBucketIfMissing, when set, has NewProvider create Bucket if
	// HeadBucket reports it absent, rather than failing startup.
	CreateBucketIfMissing bool
	// MaxElapsedTime bounds the total retry budget for a single S3 call.
	// Defaults to 30s.
	MaxElapsedTime time.Duration
	// Metrics, if set, observes the duration and outcome of every S3 call.
	Metrics Metrics
}

// Provider is the remote cache tier, backed by S3.
type Provider struct {
	name      string
	client    *s3.Client
	bucket    string
	keyPrefix string

	maxElapsed time.Duration
	metrics    Metrics
}

// New verifies access to cfg.Bucket (creating it if CreateBucketIfMissing
// is set and it doesn't exist — the non-inverted form of the source's
// create-if-missing guard) and returns a cloud Provider.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("cloud: S3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("cloud: bucket name is required")
	}

	exists, err := bucketExists(ctx, cfg.Client, cfg.Bucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		if !cfg.CreateBucketIfMissing {
			return nil, fmt.Errorf("cloud: bucket %q does not exist", cfg.Bucket)
		}
		if _, err := cfg.Client.CreateBucket(ctx, &s3.CreateBucketInput{
			Bucket: aws.String(cfg.Bucket),
		}); err != nil {
			return nil, fmt.Errorf("cloud: failed to create bucket %q: %w", cfg.Bucket, err)
		}
	}

	name := cfg.Name
	if name == "" {
		name = "cloud"
	}
	maxElapsed := cfg.MaxElapsedTime
	if maxElapsed <= 0 {
		maxElapsed = 30 * time.Second
	}

	return &Provider{
		name:       name,
		client:     cfg.Client,
		bucket:     cfg.Bucket,
		keyPrefix:  cfg.KeyPrefix,
		maxElapsed: maxElapsed,
		metrics:    cfg.Metrics,
	}, nil
}

func (p *Provider) observe(operation string, start time.Time, err error) {
	if p.metrics != nil {
		p.metrics.ObserveOperation(operation, time.Since(start), err)
	}
}

func bucketExists(ctx context.Context, client *s3.Client, bucket string) (bool, error) {
	_, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err == nil {
		return true, nil
	}
	var notFound *smithyhttp.ResponseError
	if errors.As(err, &notFound) && notFound.HTTPStatusCode() == 404 {
		return false, nil
	}
	return false, err
}

func (p *Provider) objectKey(key cachekey.Key) string {
	if p.keyPrefix != "" {
		return p.keyPrefix + key.ToStoragePath()
	}
	return key.ToStoragePath()
}

func (p *Provider) retryPolicy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = p.maxElapsed
	return backoff.WithContext(b, ctx)
}

// Name implements provider.Provider.
func (p *Provider) Name() string { return p.name }

// Capabilities implements provider.Provider.
func (p *Provider) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		RequiresInlineExecution: false,
		LatencyZone:             provider.LatencyZoneRemote,
		IsLocal:                 false,
	}
}

// FetchAsync implements provider.Provider.
func (p *Provider) FetchAsync(ctx context.Context, key cachekey.Key) (*provider.FetchResult, error) {
	start := time.Now()
	var out *s3.GetObjectOutput
	err := backoff.Retry(func() error {
		var getErr error
		out, getErr = p.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(p.bucket),
			Key:    aws.String(p.objectKey(key)),
		})
		return classifyS3Error(getErr)
	}, p.retryPolicy(ctx))
	p.observe("GetObject", start, err)

	if isNoSuchKey(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	meta := provider.EntryMetadata{}
	if out.ContentType != nil {
		meta.ContentType = *out.ContentType
	}
	if out.ContentLength != nil {
		meta.ContentLength = *out.ContentLength
	}
	return &provider.FetchResult{DataStream: out.Body, Metadata: meta}, nil
}

// StoreAsync implements provider.Provider.
func (p *Provider) StoreAsync(ctx context.Context, key cachekey.Key, data []byte, meta provider.EntryMetadata) error {
	start := time.Now()
	err := backoff.Retry(func() error {
		_, err := p.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(p.bucket),
			Key:         aws.String(p.objectKey(key)),
			Body:        bytes.NewReader(data),
			ContentType: aws.String(meta.ContentType),
		})
		return classifyS3Error(err)
	}, p.retryPolicy(ctx))
	p.observe("PutObject", start, err)
	return err
}

// InvalidateAsync implements provider.Provider.
func (p *Provider) InvalidateAsync(ctx context.Context, key cachekey.Key) (bool, error) {
	res, err := p.FetchAsync(ctx, key) // cheap existence probe, reuses retry+error classification
	if err != nil {
		return false, err
	}
	if res == nil {
		return false, nil
	}
	_ = res.Close()

	start := time.Now()
	err = backoff.Retry(func() error {
		_, err := p.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(p.bucket),
			Key:    aws.String(p.objectKey(key)),
		})
		return classifyS3Error(err)
	}, p.retryPolicy(ctx))
	p.observe("DeleteObject", start, err)
	if err != nil {
		return false, err
	}
	return true, nil
}

// PurgeBySourceAsync implements provider.Provider: lists every object under
// sourceHash's prefix and deletes them.
func (p *Provider) PurgeBySourceAsync(ctx context.Context, sourceHash string) (int, error) {
	prefix := sourceHash
	if p.keyPrefix != "" {
		prefix = p.keyPrefix + sourceHash[:4] + "/" + sourceHash
	} else {
		prefix = sourceHash[:4] + "/" + sourceHash
	}

	removed := 0
	listStart := time.Now()
	paginator := s3.NewListObjectsV2Paginator(p.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(p.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		p.observe("ListObjectsV2", listStart, err)
		if err != nil {
			return removed, err
		}
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			start := time.Now()
			err := backoff.Retry(func() error {
				_, err := p.client.DeleteObject(ctx, &s3.DeleteObjectInput{
					Bucket: aws.String(p.bucket),
					Key:    obj.Key,
				})
				return classifyS3Error(err)
			}, p.retryPolicy(ctx))
			p.observe("DeleteObject", start, err)
			if err != nil {
				return removed, err
			}
			removed++
		}
		listStart = time.Now()
	}
	return removed, nil
}

// WantsToStore implements provider.Provider: cloud wants a copy of a
// freshly created artifact, or a replication copy when this tier missed
// during the scan; it declines NotQueried.
func (p *Provider) WantsToStore(key cachekey.Key, sizeBytes int64, reason provider.WantsToStoreReason) bool {
	return reason == provider.FreshlyCreated || reason == provider.Missed
}

// ProbablyContains implements provider.Provider. The cascade gates remote
// providers with its own bloom filter before calling this; cloud itself
// has no cheap local answer, so it defers entirely to that gate by
// returning true (never vetoes on its own).
func (p *Provider) ProbablyContains(key cachekey.Key) bool {
	return true
}

// HealthCheckAsync implements provider.Provider.
func (p *Provider) HealthCheckAsync(ctx context.Context) bool {
	_, err := p.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(p.bucket)})
	return err == nil
}

func isNoSuchKey(err error) bool {
	if err == nil {
		return false
	}
	var nsk *s3.NoSuchKey
	return errors.As(err, &nsk)
}

// classifyS3Error wraps retriable (5xx/throttling) errors so
// backoff.Retry keeps going, and returns backoff.Permanent around anything
// else (including NoSuchKey, which callers must special-case before
// retrying).
func classifyS3Error(err error) error {
	if err == nil {
		return nil
	}
	if isNoSuchKey(err) {
		return backoff.Permanent(err)
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() < 500 && respErr.HTTPStatusCode() != 429 {
		return backoff.Permanent(err)
	}
	return err
}

var _ provider.Provider = (*Provider)(nil)
