// Package archive persists completed report text to S3-compatible
// object storage. Archival is best-effort: failures are logged by the
// caller and never fail the run transition.
package archive

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/ethpandaops/reportoor/pkg/config"
	"github.com/sirupsen/logrus"
)

// Archiver stores a copy of a run's report outside the database.
type Archiver interface {
	// Preflight verifies connectivity by writing a small test object.
	Preflight(ctx context.Context) error

	// Put uploads the report text for the given run.
	Put(ctx context.Context, runID, report string) error
}

// Compile-time interface check.
var _ Archiver = (*s3Archiver)(nil)

type s3Archiver struct {
	log    logrus.FieldLogger
	cfg    *config.S3ArchiveConfig
	client *s3.Client
}

// NewS3Archiver creates an archiver backed by S3-compatible storage.
func NewS3Archiver(
	log logrus.FieldLogger,
	cfg *config.S3ArchiveConfig,
) Archiver {
	opts := []func(*s3.Options){
		func(o *s3.Options) {
			if cfg.Region != "" {
				o.Region = cfg.Region
			} else {
				o.Region = "us-east-1"
			}

			if cfg.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.EndpointURL)
			}

			if cfg.ForcePathStyle {
				o.UsePathStyle = true
			}

			if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
				o.Credentials = credentials.NewStaticCredentialsProvider(
					cfg.AccessKeyID, cfg.SecretAccessKey, "",
				)
			}
		},
	}

	return &s3Archiver{
		log:    log.WithField("component", "s3-archiver"),
		cfg:    cfg,
		client: s3.New(s3.Options{}, opts...),
	}
}

// Preflight verifies S3 connectivity by writing a small test object.
func (a *s3Archiver) Preflight(ctx context.Context) error {
	content := fmt.Sprintf("reportoor write test: %s",
		time.Now().UTC().Format(time.RFC3339))

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.cfg.Bucket),
		Key:         aws.String(a.key(".reportoor-write-test")),
		Body:        strings.NewReader(content),
		ContentType: aws.String("text/plain"),
	})
	if err != nil {
		return fmt.Errorf("writing test object to s3://%s: %w", a.cfg.Bucket, err)
	}

	return nil
}

// Put uploads the report as a markdown object keyed by run ID.
func (a *s3Archiver) Put(ctx context.Context, runID, report string) error {
	key := a.key(runID + ".md")

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.cfg.Bucket),
		Key:         aws.String(key),
		Body:        strings.NewReader(report),
		ContentType: aws.String("text/markdown"),
	})
	if err != nil {
		return fmt.Errorf("uploading report to s3://%s/%s: %w",
			a.cfg.Bucket, key, err)
	}

	a.log.WithField("run_id", runID).
		WithField("key", key).
		Debug("Report archived")

	return nil
}

// key prepends the configured prefix, if any.
func (a *s3Archiver) key(name string) string {
	prefix := strings.Trim(a.cfg.Prefix, "/")
	if prefix == "" {
		return name
	}

	return prefix + "/" + name
}
