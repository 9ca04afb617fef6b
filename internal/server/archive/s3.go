// Package archive uploads reconciliation sweep reports to S3-compatible
// object storage.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dmitrijs2005/zapzap/internal/server/services"
)

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	putObject = func(c *s3.Client, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
		return c.PutObject(ctx, in, optFns...)
	}
)

// Options locate the bucket. RootUser and RootPassword are static
// credentials (MinIO root user or an access key pair).
type Options struct {
	Region       string
	RootUser     string
	RootPassword string
	BaseEndpoint string
	Bucket       string
}

// S3Archiver stores each report as sweeps/YYYY/MM/DD/<report id>.json.
type S3Archiver struct {
	client *s3.Client
	bucket string
}

var _ services.Archiver = (*S3Archiver)(nil)

func NewS3Archiver(ctx context.Context, opts Options) (*S3Archiver, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(opts.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			opts.RootUser,
			opts.RootPassword,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if opts.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(opts.BaseEndpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Archiver{client: client, bucket: opts.Bucket}, nil
}

// ReportKey is the object key of a report finished at t.
func ReportKey(t time.Time, id string) string {
	t = t.UTC()
	return fmt.Sprintf("sweeps/%04d/%02d/%02d/%s.json", t.Year(), t.Month(), t.Day(), id)
}

func (a *S3Archiver) Archive(ctx context.Context, report *services.SweepReport) error {
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	_, err = putObject(a.client, ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(ReportKey(report.Until, report.ID)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

// Nop discards reports; used when no bucket is configured.
type Nop struct{}

func (Nop) Archive(context.Context, *services.SweepReport) error { return nil }
