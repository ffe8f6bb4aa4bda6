// Package aws adapts AWS object storage to the cloud.Provider
// interface. Only the storage service is backed by a real SDK client;
// the adapter classifies every SDK failure into the closed error-code
// taxonomy at this boundary so callers never inspect AWS error text.
package aws

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"github.com/BaSui01/opsflow/cloud"
	"github.com/BaSui01/opsflow/internal/tlsutil"
	"github.com/BaSui01/opsflow/types"
)

const providerName = "aws"

// ServiceStorage is the only service this adapter implements.
const ServiceStorage = "storage"

// Config holds S3-compatible connection settings. A custom Endpoint
// (e.g. a MinIO deployment) switches the client to path-style access.
type Config struct {
	// Endpoint overrides the AWS endpoint for S3-compatible stores.
	// Leave empty for real AWS S3.
	Endpoint string `yaml:"endpoint" json:"endpoint"`

	// Region is required for AWS S3, optional for MinIO.
	Region string `yaml:"region" json:"region"`

	// Bucket scopes storage operations to one bucket.
	Bucket string `yaml:"bucket" json:"bucket"`

	AccessKeyID     string `yaml:"access_key_id" json:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key" json:"secret_access_key"`

	// UseSSL enables HTTPS for custom endpoints.
	UseSSL bool `yaml:"use_ssl" json:"use_ssl"`
}

// Provider implements cloud.Provider on top of the S3 API.
type Provider struct {
	client    *s3.Client
	presigner *s3.PresignClient
	bucket    string
	logger    *zap.Logger
}

// New builds the adapter, loading credentials from Config or falling
// back to the SDK's default chain.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Provider, error) {
	if cfg.Bucket == "" {
		return nil, types.NewError(types.ErrValidationFailed, "aws provider requires a bucket name").
			WithProvider(providerName)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
		// 整体超时为 0：请求时限交由各调用的 context 控制，
		// 避免大对象上传被客户端级超时截断
		awsconfig.WithHTTPClient(tlsutil.SecureHTTPClient(0)),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "load aws config").
			WithProvider(providerName).
			WithCause(err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		endpoint := fmt.Sprintf("%s://%s", scheme, cfg.Endpoint)
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true // required for MinIO
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Opts...)
	return &Provider{
		client:    client,
		presigner: s3.NewPresignClient(client),
		bucket:    cfg.Bucket,
		logger:    logger.With(zap.String("component", "aws_provider")),
	}, nil
}

func (p *Provider) Name() string { return providerName }

// ListResources lists objects in the configured bucket as resources.
// The "prefix" filter narrows the listing.
func (p *Provider) ListResources(ctx context.Context, req cloud.ListRequest) ([]cloud.Resource, error) {
	if req.Service != ServiceStorage {
		return nil, p.unsupportedService(req.Service)
	}

	input := &s3.ListObjectsV2Input{Bucket: aws.String(p.bucket)}
	if prefix := req.Filters["prefix"]; prefix != "" {
		input.Prefix = aws.String(prefix)
	}

	var out []cloud.Resource
	paginator := s3.NewListObjectsV2Paginator(p.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, p.classify(err, "list objects")
		}
		for _, obj := range page.Contents {
			res := cloud.Resource{
				ID:   aws.ToString(obj.Key),
				Name: aws.ToString(obj.Key),
				Type: "object",
				Attributes: map[string]any{
					"bucket": p.bucket,
					"size":   aws.ToInt64(obj.Size),
				},
			}
			if obj.LastModified != nil {
				res.Attributes["last_modified"] = obj.LastModified.UTC()
			}
			out = append(out, res)
			if req.Limit > 0 && len(out) >= req.Limit {
				return out, nil
			}
		}
	}
	return out, nil
}

// QueryMetric is not backed by this adapter; metric queries belong to a
// monitoring provider.
func (p *Provider) QueryMetric(_ context.Context, req cloud.MetricRequest) (*cloud.MetricSeries, error) {
	return nil, types.NewErrorf(types.ErrNotSupported, "aws storage adapter cannot query metric %q", req.Metric).
		WithProvider(providerName)
}

// RunAction supports object-level actions: delete_object and
// presign_get (parameters: expiry_seconds).
func (p *Provider) RunAction(ctx context.Context, req cloud.ActionRequest) (*cloud.ActionResult, error) {
	if req.Service != ServiceStorage {
		return nil, p.unsupportedService(req.Service)
	}

	switch req.Action {
	case "delete_object":
		_, err := p.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(p.bucket),
			Key:    aws.String(req.ResourceID),
		})
		if err != nil {
			return nil, p.classify(err, "delete object")
		}
		p.logger.Info("object deleted", zap.String("key", req.ResourceID))
		return &cloud.ActionResult{
			ResourceID: req.ResourceID,
			Action:     req.Action,
			Status:     "completed",
		}, nil

	case "presign_get":
		expiry := 15 * time.Minute
		if secs, ok := req.Parameters["expiry_seconds"].(float64); ok && secs > 0 {
			expiry = time.Duration(secs) * time.Second
		}
		result, err := p.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(p.bucket),
			Key:    aws.String(req.ResourceID),
		}, s3.WithPresignExpires(expiry))
		if err != nil {
			return nil, p.classify(err, "presign get")
		}
		return &cloud.ActionResult{
			ResourceID: req.ResourceID,
			Action:     req.Action,
			Status:     "completed",
			Detail:     map[string]any{"url": result.URL, "expires_in": expiry.String()},
		}, nil

	default:
		return nil, types.NewErrorf(types.ErrNotSupported, "aws storage adapter does not support action %q", req.Action).
			WithProvider(providerName)
	}
}

func (p *Provider) unsupportedService(service string) error {
	return types.NewErrorf(types.ErrNotSupported, "aws adapter does not serve %q, only %q", service, ServiceStorage).
		WithProvider(providerName)
}

// classify maps an SDK failure onto the closed taxonomy using the API
// error code, never the message text.
func (p *Provider) classify(err error, op string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return types.NewErrorf(types.ErrTimeout, "%s timed out", op).WithProvider(providerName).WithCause(err)
	}
	if errors.Is(err, context.Canceled) {
		return types.NewErrorf(types.ErrCancelled, "%s cancelled", op).WithProvider(providerName).WithCause(err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := types.ErrUpstreamError
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NoSuchBucket", "NotFound":
			code = types.ErrNotFound
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			code = types.ErrPermissionDenied
		case "Throttling", "ThrottlingException", "SlowDown", "RequestLimitExceeded", "TooManyRequests":
			code = types.ErrThrottled
		case "RequestTimeout", "RequestTimeoutException":
			code = types.ErrTimeout
		case "ServiceUnavailable", "InternalError":
			code = types.ErrUnavailable
		}
		return types.NewErrorf(code, "%s: %s", op, apiErr.ErrorCode()).
			WithProvider(providerName).
			WithCause(err)
	}

	return types.NewErrorf(types.ErrUnavailable, "%s failed", op).
		WithProvider(providerName).
		WithCause(err)
}
