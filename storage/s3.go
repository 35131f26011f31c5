package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"propsift/models"
)

// ArchiveConfig holds configuration for S3-compatible storage.
type ArchiveConfig struct {
	Bucket          string
	Region          string
	Endpoint        string // Optional: for DO Spaces, R2, etc.
	AccessKeyID     string
	SecretAccessKey string
	HTTPClient      *http.Client // Optional: defaults to the SDK's client
}

// ArchiveUploader writes dead-lettered job payloads to S3-compatible storage
// before the cleanup stage prunes them, so failed items stay auditable.
type ArchiveUploader struct {
	client *s3.Client
	bucket string
}

func NewArchiveUploader(ctx context.Context, cfg ArchiveConfig) (*ArchiveUploader, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		),
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, awsconfig.WithHTTPClient(cfg.HTTPClient))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var client *s3.Client
	if cfg.Endpoint != "" {
		client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	} else {
		client = s3.NewFromConfig(awsCfg)
	}

	return &ArchiveUploader{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// ArchiveJob stores one dead-lettered job as JSON under
// dead-letter/<queue>/<date>/<id>.json.
func (u *ArchiveUploader) ArchiveJob(ctx context.Context, job *models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %d: %w", job.ID, err)
	}

	key := fmt.Sprintf("dead-letter/%s/%s/%d.json",
		job.Queue, job.UpdatedAt.UTC().Format(time.DateOnly), job.ID)

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}
