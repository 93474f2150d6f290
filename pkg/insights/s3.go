package insights

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3SinkConfig configures a bring-your-own-bucket cost export sink.
type S3SinkConfig struct {
	// Bucket receives the cost files. Required.
	Bucket string

	// Prefix is prepended to every object key.
	Prefix string

	// Region overrides the SDK default chain region.
	Region string

	// Profile selects a shared-config profile.
	Profile string

	// Endpoint points at an S3-compatible store.
	Endpoint string

	// ForcePathStyle is required by most S3-compatible stores.
	ForcePathStyle bool

	// AccessKeyID and SecretAccessKey override the default credential
	// chain when both are set.
	AccessKeyID     string
	SecretAccessKey string
}

func (c S3SinkConfig) validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("s3 sink bucket is required")
	}
	return nil
}

// S3Sink writes generated cost files directly to a customer bucket
// instead of (or in addition to) the signed-URL upload path.
type S3Sink struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Sink builds the sink using the SDK default credential chain unless
// explicit credentials are provided.
func NewS3Sink(ctx context.Context, cfg S3SinkConfig) (*S3Sink, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		staticCreds := credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"", // session token (empty for long-term credentials)
		)
		opts = append(opts, awsconfig.WithCredentialsProvider(staticCreds))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	s3Opts := []func(*s3.Options){
		func(o *s3.Options) {
			if cfg.ForcePathStyle {
				o.UsePathStyle = true
			}
		},
	}
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	return &S3Sink{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

// PutCostFile uploads the file at path under the given object key.
func (s *S3Sink) PutCostFile(ctx context.Context, key, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open cost file: %w", err)
	}
	defer func() { _ = f.Close() }()

	fullKey := key
	if s.prefix != "" {
		fullKey = s.prefix + "/" + key
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(fullKey),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", s.bucket, fullKey, err)
	}
	return nil
}

// ExportCostInformation encodes the records and writes the resulting
// parquet file to the sink under key.
func (u *Uploader) ExportCostInformation(ctx context.Context, sink *S3Sink, key, metricName string, records []CostRecord) error {
	if u.encoder == nil {
		return ErrMissingDependency
	}
	tempDir, err := os.MkdirTemp("", "dagster-insights-*")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(tempDir) }()

	costFile := tempDir + "/cost.parquet"
	if err := u.encoder.EncodeCostFile(costFile, metricName, records); err != nil {
		return err
	}
	return sink.PutCostFile(ctx, key, costFile)
}
