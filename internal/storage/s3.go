package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// Options configures the S3 client. Empty credentials fall back to the
// default AWS chain.
type Options struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// S3Client reads source documents and stores composed results, applying the
// password envelope from crypt.go when a password is given.
type S3Client struct {
	client     *s3.Client
	uploader   *manager.Uploader
	downloader *manager.Downloader
	bucket     string
}

// FileMetadata describes a stored object.
type FileMetadata struct {
	OriginalName     string            `json:"original_name"`
	ContentType      string            `json:"content_type"`
	Size             int64             `json:"size"`
	Encrypted        bool              `json:"encrypted"`
	EncryptionFormat string            `json:"encryption_format,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

func NewS3Client(ctx context.Context, opts Options) (*S3Client, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3: bucket not configured")
	}
	loaders := []func(*awscfg.LoadOptions) error{}
	if opts.Region != "" {
		loaders = append(loaders, awscfg.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loaders = append(loaders, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")))
	}
	cfg, err := awscfg.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	cli := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = opts.UsePathStyle
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	})
	return &S3Client{
		client:     cli,
		uploader:   manager.NewUploader(cli),
		downloader: manager.NewDownloader(cli),
		bucket:     opts.Bucket,
	}, nil
}

func (s *S3Client) Bucket() string { return s.bucket }

// Ping checks that the bucket is reachable.
func (s *S3Client) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	return err
}

// Download fetches key and opens its envelope when the object is encrypted.
func (s *S3Client) Download(ctx context.Context, key, password string) ([]byte, *FileMetadata, error) {
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to stat s3://%s/%s: %w", s.bucket, key, err)
	}
	meta := &FileMetadata{Metadata: map[string]string{}}
	for k, v := range head.Metadata {
		meta.Metadata[strings.ToLower(k)] = v
	}
	meta.OriginalName = meta.Metadata["name"]
	if head.ContentType != nil {
		meta.ContentType = *head.ContentType
	}

	buf := manager.NewWriteAtBuffer(nil)
	if _, err := s.downloader.Download(ctx, buf, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)}); err != nil {
		return nil, nil, fmt.Errorf("failed to download s3://%s/%s: %w", s.bucket, key, err)
	}
	data := buf.Bytes()
	meta.Size = int64(len(data))

	if IsEncrypted(data) || (password != "" && meta.Metadata["encrypted"] == "true") {
		if password == "" {
			return nil, nil, ErrPasswordRequired
		}
		plain, format, err := Decrypt(data, password)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to decrypt s3://%s/%s: %w", s.bucket, key, err)
		}
		data = plain
		meta.Encrypted, meta.EncryptionFormat = true, format
	}

	log.Debug().
		Str("key", key).
		Str("original_name", meta.OriginalName).
		Bool("encrypted", meta.Encrypted).
		Int("size", len(data)).
		Msg("downloaded object from S3")
	return data, meta, nil
}

// Upload stores data under key, sealed for password when one is given.
func (s *S3Client) Upload(ctx context.Context, key string, data []byte, password string, meta *FileMetadata) error {
	if meta == nil {
		meta = &FileMetadata{}
	}
	body := data
	md := map[string]string{}
	for k, v := range meta.Metadata {
		md[k] = v
	}
	if meta.OriginalName != "" {
		md["name"] = meta.OriginalName
	}
	if password != "" {
		enc, err := Encrypt(data, password, meta.EncryptionFormat)
		if err != nil {
			return fmt.Errorf("failed to encrypt data: %w", err)
		}
		body = enc
		format := meta.EncryptionFormat
		if format == "" {
			format = FormatGCM
		}
		md["encrypted"] = "true"
		md["encryption-format"] = format
	}
	contentType := meta.ContentType
	if contentType == "" {
		contentType = "application/pdf"
	}

	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
		Metadata:    md,
	})
	if err != nil {
		return fmt.Errorf("failed to upload to s3://%s/%s: %w", s.bucket, key, err)
	}
	log.Info().Str("key", key).Bool("encrypted", password != "").Int("size", len(body)).Msg("uploaded object to S3")
	return nil
}
