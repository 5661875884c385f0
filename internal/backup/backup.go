package backup

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"fleetsync/internal/config"
	"fleetsync/internal/record"
)

// Snapshot is the persisted state of a collection right before a write that
// removes records.
type Snapshot struct {
	Collection string           `json:"collection"`
	Reason     string           `json:"reason"`
	TakenAt    time.Time        `json:"taken_at"`
	Header     []string         `json:"header"`
	Records    []map[string]any `json:"records"`
}

func NewSnapshot(collection, reason string, header []string, records []record.Record, at time.Time) Snapshot {
	rows := make([]map[string]any, 0, len(records))
	for _, r := range records {
		rows = append(rows, r.Clone().Fields)
	}
	return Snapshot{
		Collection: collection,
		Reason:     reason,
		TakenAt:    at.UTC(),
		Header:     append([]string(nil), header...),
		Records:    rows,
	}
}

type Archiver interface {
	Archive(ctx context.Context, snap Snapshot) (key string, err error)
}

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Archiver struct {
	client objectPutter
	bucket string
	prefix string
}

// NewS3Archiver builds an archiver from config. Static keys are used when
// given, otherwise the default AWS credential chain. Endpoint targets any
// S3-compatible store.
func NewS3Archiver(ctx context.Context, cfg config.BackupConfig) (*S3Archiver, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("backup bucket is empty")
	}
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return &S3Archiver{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (a *S3Archiver) Archive(ctx context.Context, snap Snapshot) (string, error) {
	body, err := encode(snap)
	if err != nil {
		return "", err
	}
	key := ObjectKey(a.prefix, snap.Collection, snap.TakenAt)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(a.bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(body),
		ContentType:     aws.String("application/json"),
		ContentEncoding: aws.String("gzip"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload snapshot: %w", err)
	}
	return key, nil
}

// ObjectKey is <prefix>/<collection>/<yyyymmddThhmmssZ>-<uuid>.json.gz.
func ObjectKey(prefix, collection string, at time.Time) string {
	name := fmt.Sprintf("%s-%s.json.gz", at.UTC().Format("20060102T150405Z"), uuid.NewString())
	parts := []string{}
	if p := strings.Trim(prefix, "/"); p != "" {
		parts = append(parts, p)
	}
	parts = append(parts, strings.ToLower(collection), name)
	return strings.Join(parts, "/")
}

func encode(snap Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if err := json.NewEncoder(zw).Encode(snap); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
