package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"github.com/technovacao/registration/internal/pkg/config"
)

var (
	ErrDisabled = errors.New("media uploads are disabled")
	ErrTooLarge = errors.New("file exceeds the upload size limit")
)

// Uploader stores a photo and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, folder, filename string, r io.Reader) (string, error)
}

type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Uploader puts photos into an S3-compatible bucket.
type S3Uploader struct {
	client  putObjectAPI
	cfg     config.Media
	newName func() string
	now     func() time.Time
}

// NewS3Uploader creates the bucket client. It fails with ErrDisabled when
// media uploads are switched off.
func NewS3Uploader(ctx context.Context, cfg config.Media) (*S3Uploader, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if cfg.BucketName == "" || cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, fmt.Errorf("S3_BUCKET_NAME, S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY are required when media uploads are enabled")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			o.UsePathStyle = true
		}
	})

	log.Infof("[Media] Initialized S3 uploader for bucket: %s", cfg.BucketName)
	return newS3Uploader(client, cfg), nil
}

func newS3Uploader(client putObjectAPI, cfg config.Media) *S3Uploader {
	return &S3Uploader{client: client, cfg: cfg, newName: uuid.NewString, now: time.Now}
}

// Upload validates the image, stores it under folder/YYYY/MM/<uuid><ext>
// and returns the public URL.
func (u *S3Uploader) Upload(ctx context.Context, folder, filename string, r io.Reader) (string, error) {
	limit := u.cfg.MaxUploadBytes
	if limit <= 0 {
		limit = 5 << 20
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > limit {
		return "", ErrTooLarge
	}

	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	contentType, err := ValidateImageBySniff(filename, head)
	if err != nil {
		return "", err
	}

	key := u.ObjectKey(folder, filename)
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.cfg.BucketName),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}

	log.Infof("[Media] Uploaded s3://%s/%s (%d bytes)", u.cfg.BucketName, key, len(data))
	return u.PublicURL(key), nil
}

// ObjectKey builds folder/YYYY/MM/<uuid><ext>.
func (u *S3Uploader) ObjectKey(folder, filename string) string {
	now := u.now()
	ext := strings.ToLower(filepath.Ext(filename))
	return fmt.Sprintf("%s/%04d/%02d/%s%s", strings.Trim(folder, "/"), now.Year(), int(now.Month()), u.newName(), ext)
}

func (u *S3Uploader) PublicURL(key string) string {
	if u.cfg.PublicBaseURL != "" {
		return u.cfg.PublicBaseURL + "/" + key
	}
	if u.cfg.EndpointURL != "" {
		return strings.TrimRight(u.cfg.EndpointURL, "/") + "/" + u.cfg.BucketName + "/" + key
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", u.cfg.BucketName, u.cfg.Region, key)
}

// NoopUploader is used when media uploads are disabled; photos are skipped.
type NoopUploader struct{}

func (NoopUploader) Upload(context.Context, string, string, io.Reader) (string, error) {
	return "", ErrDisabled
}
