// Package report archives a delivery report to S3 when a batch's dispatch
// run completes.
package report

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/ignite/batch-mailer/internal/domain"
	"github.com/ignite/batch-mailer/internal/metrics"
	"github.com/ignite/batch-mailer/internal/pkg/logger"
	"github.com/ignite/batch-mailer/internal/service/batch"
)

// S3API is the subset of the S3 client the archiver uses.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// Report is the archived document.
type Report struct {
	Summary     domain.BatchSummary `json:"summary"`
	Run         domain.Progress     `json:"run"`
	Recipients  []domain.Recipient  `json:"recipients"`
	GeneratedAt time.Time           `json:"generatedAt"`
}

// Config locates the archive.
type Config struct {
	Bucket string
	Prefix string
	Region string
}

// Archiver writes gzip-compressed JSON reports under Prefix/<batchId>/.
type Archiver struct {
	client  S3API
	bucket  string
	prefix  string
	batches *batch.Service
	now     func() time.Time
	log     *logger.Logger
}

// NewS3Client builds an S3 client from the default AWS credential chain.
func NewS3Client(ctx context.Context, region string) (*s3.Client, error) {
	if region == "" {
		region = "us-east-1"
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return s3.NewFromConfig(cfg), nil
}

// NewArchiver creates an archiver uploading through client.
func NewArchiver(client S3API, cfg Config, batches *batch.Service) *Archiver {
	return &Archiver{
		client:  client,
		bucket:  cfg.Bucket,
		prefix:  cfg.Prefix,
		batches: batches,
		now:     time.Now,
		log:     logger.Named("report"),
	}
}

// Key returns the object key for a report generated at t.
func (a *Archiver) Key(batchID string, t time.Time) string {
	return path.Join(a.prefix, batchID, t.UTC().Format("20060102T150405Z")+".json.gz")
}

// Archive builds the report for batchID and uploads it.
func (a *Archiver) Archive(ctx context.Context, batchID string, run domain.Progress) (string, error) {
	summary, err := a.batches.Summary(ctx, batchID)
	if err != nil {
		return "", fmt.Errorf("summary: %w", err)
	}
	recipients, err := a.batches.Recipients(ctx, batchID)
	if err != nil {
		return "", fmt.Errorf("recipients: %w", err)
	}

	now := a.now()
	body, err := encode(Report{Summary: *summary, Run: run, Recipients: recipients, GeneratedAt: now.UTC()})
	if err != nil {
		return "", err
	}

	key := a.Key(batchID, now)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(a.bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(body),
		ContentType:     aws.String("application/json"),
		ContentEncoding: aws.String("gzip"),
	})
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	return key, nil
}

// Hook adapts the archiver to a dispatch completion hook. Upload failures
// are logged; they never affect the run.
func (a *Archiver) Hook() func(ctx context.Context, batchID string, final domain.Progress) {
	return func(ctx context.Context, batchID string, final domain.Progress) {
		key, err := a.Archive(ctx, batchID, final)
		if err != nil {
			metrics.ReportsArchived.WithLabelValues("error").Inc()
			a.log.Error("failed to archive delivery report", "batch_id", batchID, "error", err)
			return
		}
		metrics.ReportsArchived.WithLabelValues("ok").Inc()
		a.log.Info("delivery report archived", "batch_id", batchID, "key", key)
	}
}

// Ping checks that the bucket is reachable.
func (a *Archiver) Ping(ctx context.Context) error {
	_, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(a.bucket)})
	return err
}

func encode(r Report) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if err := json.NewEncoder(zw).Encode(r); err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress report: %w", err)
	}
	return buf.Bytes(), nil
}
