// Package export streams query results to S3 as newline-delimited JSON, one
// object per keyset batch
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/google/uuid"

	"github.com/pay-theory/relorm/pkg/batch"
	"github.com/pay-theory/relorm/pkg/core"
	"github.com/pay-theory/relorm/pkg/logger"
	"github.com/pay-theory/relorm/pkg/query"
)

// ContentType of exported objects
const ContentType = "application/x-ndjson"

// Uploader is the part of the S3 client the exporter uses
type Uploader interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// AccountConfig selects the account objects are written to
type AccountConfig struct {
	Region     string
	RoleARN    string // assumed when set
	ExternalID string
	// Optional: custom session duration (default is 1 hour)
	SessionDuration time.Duration
}

// configLoadFunc is a variable to allow mocking config.LoadDefaultConfig in tests
var configLoadFunc = config.LoadDefaultConfig

// NewS3Client builds an S3 client for account, assuming its role through STS
// when one is configured
func NewS3Client(ctx context.Context, account AccountConfig) (*s3.Client, error) {
	var options []func(*config.LoadOptions) error
	if account.Region != "" {
		options = append(options, config.WithRegion(account.Region))
	}
	baseConfig, err := configLoadFunc(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if account.RoleARN == "" {
		return s3.NewFromConfig(baseConfig), nil
	}

	sessionDuration := account.SessionDuration
	if sessionDuration == 0 {
		sessionDuration = time.Hour
	}
	stsClient := sts.NewFromConfig(baseConfig)
	creds := stscreds.NewAssumeRoleProvider(stsClient, account.RoleARN, func(o *stscreds.AssumeRoleOptions) {
		if account.ExternalID != "" {
			o.ExternalID = aws.String(account.ExternalID)
		}
		o.RoleSessionName = "relorm-export"
		o.Duration = sessionDuration
	})
	assumed := baseConfig.Copy()
	assumed.Credentials = aws.NewCredentialsCache(creds)
	return s3.NewFromConfig(assumed), nil
}

// Config configures an export
type Config struct {
	Bucket string
	Prefix string
	Batch  batch.Config
}

// Result describes a finished export
type Result struct {
	RunID   string
	Objects []string
	Rows    int
}

// Exporter writes query results to a bucket
type Exporter struct {
	uploader Uploader
	cfg      Config
	logger   *slog.Logger
}

// Option configures an Exporter
type Option func(*Exporter)

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(e *Exporter) { e.logger = l }
}

// New creates an exporter
func New(uploader Uploader, cfg Config, opts ...Option) *Exporter {
	e := &Exporter{uploader: uploader, cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logger.Or(e.logger)
	return e
}

// Export iterates q in keyset batches and uploads each batch as
// <prefix>/<table>/<run id>/part-NNNNN.ndjson. Objects already written stay
// in place when a later batch fails.
func (e *Exporter) Export(ctx context.Context, exec core.Executor, q *query.Query) (*Result, error) {
	if e.cfg.Bucket == "" {
		return nil, fmt.Errorf("export bucket is required")
	}
	cfg := e.cfg.Batch
	if cfg.Logger == nil {
		cfg.Logger = e.logger
	}
	it, err := batch.New(exec, q, cfg)
	if err != nil {
		return nil, err
	}

	result := &Result{RunID: uuid.NewString(), Objects: []string{}}
	log := e.logger.With("run", result.RunID, "bucket", e.cfg.Bucket, "table", q.Table())

	err = it.Batches(ctx, func(rows []core.Row) error {
		body, err := encode(rows)
		if err != nil {
			return err
		}
		key := path.Join(e.cfg.Prefix, q.Table(), result.RunID, fmt.Sprintf("part-%05d.ndjson", len(result.Objects)+1))
		_, err = e.uploader.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(e.cfg.Bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(body),
			ContentType: aws.String(ContentType),
		})
		if err != nil {
			return fmt.Errorf("failed to upload %s: %w", key, err)
		}
		result.Objects = append(result.Objects, key)
		result.Rows += len(rows)
		log.Debug("export object written", "key", key, "rows", len(rows))
		return nil
	})
	if err != nil {
		return result, err
	}
	log.Info("export finished", "objects", len(result.Objects), "rows", result.Rows)
	return result, nil
}

// encode renders rows as NDJSON with sorted keys
func encode(rows []core.Row) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, row := range rows {
		if err := enc.Encode(map[string]any(row)); err != nil {
			return nil, fmt.Errorf("failed to encode row: %w", err)
		}
	}
	return buf.Bytes(), nil
}
