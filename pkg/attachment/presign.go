// Package attachment hands out presigned S3 URLs for message attachments.
// Files go straight from the client to the bucket; the API only ever stores
// the object key.
package attachment

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

type Options struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	TTL       time.Duration
}

// Upload is a presigned PUT target.
type Upload struct {
	Key       string    `json:"key"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Presigner struct {
	client *s3.PresignClient
	bucket string
	ttl    time.Duration
}

func NewPresigner(ctx context.Context, opts Options) (*Presigner, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("attachment: bucket is required")
	}
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(opts.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("attachment: load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Presigner{client: s3.NewPresignClient(client), bucket: opts.Bucket, ttl: ttl}, nil
}

// Key builds the object key for a file attached to a record.
func Key(parentID, filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "file"
	}
	return fmt.Sprintf("records/%s/%s-%s", parentID, uuid.New(), name)
}

// PresignUpload returns a PUT URL for a new attachment of parentID.
func (p *Presigner) PresignUpload(ctx context.Context, parentID, filename string) (Upload, error) {
	key := Key(parentID, filename)
	req, err := p.client.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(p.ttl))
	if err != nil {
		return Upload{}, fmt.Errorf("attachment: presign put: %w", err)
	}
	return Upload{Key: key, URL: req.URL, ExpiresAt: time.Now().Add(p.ttl)}, nil
}

// PresignDownload returns a GET URL for an existing attachment key.
func (p *Presigner) PresignDownload(ctx context.Context, key string) (string, error) {
	req, err := p.client.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(p.ttl))
	if err != nil {
		return "", fmt.Errorf("attachment: presign get: %w", err)
	}
	return req.URL, nil
}
