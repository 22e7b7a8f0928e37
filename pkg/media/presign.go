// Package media signs upload and download URLs for message attachments held
// in S3-compatible object storage.
package media

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

const uploadPrefix = "uploads/"

type Config struct {
	Bucket      string
	Region      string
	Endpoint    string
	AccessKeyID string
	SecretKey   string
	Expiry      time.Duration
}

// Presigner issues short-lived PUT and GET URLs for one bucket.
type Presigner struct {
	cfg     Config
	presign *s3.PresignClient
}

func NewPresigner(ctx context.Context, cfg Config) (*Presigner, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("media bucket is required")
	}
	if cfg.Expiry <= 0 {
		cfg.Expiry = 15 * time.Minute
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &Presigner{cfg: cfg, presign: s3.NewPresignClient(client)}, nil
}

// NewKey returns a fresh object key for an upload of fileType.
func NewKey(fileType string) string {
	ext := ""
	if exts, err := mime.ExtensionsByType(fileType); err == nil && len(exts) > 0 {
		ext = exts[0]
	}
	return uploadPrefix + uuid.NewString() + ext
}

// Reference is the stable address stored on a message. It never expires;
// readers exchange it for a signed URL.
func (p *Presigner) Reference(key string) string {
	if p.cfg.Endpoint != "" {
		return "s3://" + p.cfg.Bucket + "/" + key
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", p.cfg.Bucket, p.cfg.Region, key)
}

// SignUpload returns a presigned PUT URL for a new object and its reference.
func (p *Presigner) SignUpload(ctx context.Context, fileType string) (uploadURL, reference string, err error) {
	key := NewKey(fileType)
	in := &s3.PutObjectInput{
		Bucket: aws.String(p.cfg.Bucket),
		Key:    aws.String(key),
	}
	if fileType != "" {
		in.ContentType = aws.String(fileType)
	}
	req, err := p.presign.PresignPutObject(ctx, in, s3.WithPresignExpires(p.cfg.Expiry))
	if err != nil {
		return "", "", fmt.Errorf("presigning upload: %w", err)
	}
	return req.URL, p.Reference(key), nil
}

// SignDownload returns a presigned GET URL for key and when it stops working.
func (p *Presigner) SignDownload(ctx context.Context, key string) (string, time.Time, error) {
	key = strings.TrimPrefix(key, "/")
	if key == "" {
		return "", time.Time{}, errors.New("media key is required")
	}
	expires := time.Now().Add(p.cfg.Expiry)
	req, err := p.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.cfg.Bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(p.cfg.Expiry))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("presigning download: %w", err)
	}
	return req.URL, expires, nil
}
