// Package storage archives swap results to S3-compatible object storage.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/digkill/faceswapbot/internal/config"
	"github.com/digkill/faceswapbot/internal/models"
)

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type Archive struct {
	bucket        string
	prefix        string
	publicBaseURL string
	client        objectPutter
	now           func() time.Time
}

func NewArchive(cfg config.Config) (*Archive, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if cfg.S3Region == "" {
		return nil, fmt.Errorf("s3 region is required")
	}
	if cfg.S3AccessKey == "" || cfg.S3SecretKey == "" {
		return nil, fmt.Errorf("s3 credentials are required")
	}

	options := s3.Options{
		Region:       cfg.S3Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		UsePathStyle: cfg.S3UsePathStyle,
	}
	if cfg.S3Endpoint != "" {
		options.BaseEndpoint = aws.String(cfg.S3Endpoint)
	}

	return newArchive(cfg, s3.New(options)), nil
}

func newArchive(cfg config.Config, client objectPutter) *Archive {
	prefix := strings.Trim(cfg.S3Prefix, "/")
	if prefix == "" {
		prefix = "results"
	}
	return &Archive{
		bucket:        cfg.S3Bucket,
		prefix:        prefix,
		publicBaseURL: strings.TrimRight(cfg.S3PublicBaseURL, "/"),
		client:        client,
		now:           time.Now,
	}
}

// Store uploads one swap result and returns its object key and, when a
// public base URL is configured, its URL.
func (a *Archive) Store(ctx context.Context, telegramID int64, kind models.SwapKind, data []byte, contentType string) (string, string, error) {
	if len(data) == 0 {
		return "", "", fmt.Errorf("no data to upload")
	}
	if contentType == "" {
		contentType = defaultContentType(kind)
	}

	key := a.generateKey(contentType)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		Metadata: map[string]string{
			"telegram-id": strconv.FormatInt(telegramID, 10),
			"swap-kind":   string(kind),
		},
	})
	if err != nil {
		return "", "", fmt.Errorf("upload to s3: %w", err)
	}
	if a.publicBaseURL == "" {
		return key, "", nil
	}
	return key, a.publicBaseURL + "/" + key, nil
}

func (a *Archive) generateKey(contentType string) string {
	now := a.now().UTC()
	return path.Join(a.prefix, fmt.Sprintf("%04d/%02d/%02d", now.Year(), now.Month(), now.Day()), uuid.NewString()+extensionFromContentType(contentType))
}

func defaultContentType(kind models.SwapKind) string {
	if kind == models.SwapVideo {
		return "video/mp4"
	}
	return "image/jpeg"
}

func extensionFromContentType(contentType string) string {
	switch strings.ToLower(contentType) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "video/mp4":
		return ".mp4"
	case "video/webm":
		return ".webm"
	case "video/quicktime":
		return ".mov"
	default:
		return ".bin"
	}
}
