package services

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type SpacesConfig struct {
	Key        string
	Secret     string
	Region     string
	Bucket     string
	ReportRoot string
	// Endpoint overrides the DigitalOcean Spaces endpoint derived from Region.
	Endpoint string
}

// SpacesService stores audit reports in an S3-compatible bucket.
type SpacesService struct {
	client     *s3.Client
	bucket     string
	region     string
	endpoint   string
	ReportRoot string
}

func NewSpacesService(ctx context.Context, cfg SpacesConfig) (*SpacesService, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("spaces bucket is required")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.digitaloceanspaces.com", cfg.Region)
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.Key, cfg.Secret, "")),
		config.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to load spaces config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = cfg.Endpoint != ""
	})

	return &SpacesService{
		client:     client,
		bucket:     cfg.Bucket,
		region:     cfg.Region,
		endpoint:   endpoint,
		ReportRoot: strings.Trim(cfg.ReportRoot, "/"),
	}, nil
}

// UploadReport writes data under the report root and returns the object URL.
func (s *SpacesService) UploadReport(ctx context.Context, name string, data []byte) (string, error) {
	key := strings.TrimPrefix(name, "/")
	if s.ReportRoot != "" {
		key = s.ReportRoot + "/" + key
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload report %s: %w", key, err)
	}

	return fmt.Sprintf("%s/%s/%s", strings.TrimSuffix(s.endpoint, "/"), s.bucket, key), nil
}

func (s *SpacesService) GetBucket() string {
	return s.bucket
}

func (s *SpacesService) GetRegion() string {
	return s.region
}
