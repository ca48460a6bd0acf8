package media

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"vidtube-users/internal/config"
)

type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3 stores assets in an S3-compatible bucket. Object keys carry no file
// extension so the public id recovered from a URL maps back to the key.
type S3 struct {
	client  s3API
	bucket  string
	prefix  string
	baseURL string
}

func NewS3(ctx context.Context, cfg config.MediaConfig) (*S3, error) {
	if strings.TrimSpace(cfg.S3Bucket) == "" {
		return nil, fmt.Errorf("missing s3 bucket")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.S3Region),
	}
	if cfg.S3AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})

	return newS3(client, cfg), nil
}

func newS3(client s3API, cfg config.MediaConfig) *S3 {
	return &S3{
		client:  client,
		bucket:  cfg.S3Bucket,
		prefix:  strings.Trim(cfg.S3KeyPrefix, "/"),
		baseURL: strings.TrimRight(cfg.S3PublicBaseURL, "/"),
	}
}

func (s *S3) Upload(ctx context.Context, localPath string) (Asset, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return Asset{}, fmt.Errorf("open staged file: %w", err)
	}
	defer file.Close()

	contentType, err := detectContentType(file, localPath)
	if err != nil {
		return Asset{}, err
	}

	id := uuid.NewString()
	key := s.key(id)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return Asset{}, fmt.Errorf("s3 put object: %w", err)
	}

	return Asset{
		URL:          s.baseURL + "/" + key,
		PublicID:     id,
		ResourceType: strings.SplitN(contentType, "/", 2)[0],
	}, nil
}

func (s *S3) Delete(ctx context.Context, asset Asset) error {
	publicID := strings.TrimSpace(asset.PublicID)
	if publicID == "" {
		return nil
	}

	// DeleteObject on a missing key succeeds.
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(publicID)),
	})
	if err != nil {
		return fmt.Errorf("s3 delete object: %w", err)
	}
	return nil
}

func (s *S3) key(id string) string {
	if s.prefix == "" {
		return id
	}
	return s.prefix + "/" + id
}

func detectContentType(file *os.File, localPath string) (string, error) {
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(localPath))); byExt != "" {
		return byExt, nil
	}

	head := make([]byte, 512)
	n, err := file.Read(head)
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("sniff staged file: %w", err)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind staged file: %w", err)
	}
	return http.DetectContentType(head[:n]), nil
}
