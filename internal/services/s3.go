package services

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"medfinder/internal/config"
	"medfinder/internal/models"
	"medfinder/internal/utils/logger"
)

// ObjectStorage stores medicine images. S3Service implements it.
type ObjectStorage interface {
	models.FileURLGenerator
	Put(ctx context.Context, content []byte, filename, contentType string) (key string, err error)
	Remove(ctx context.Context, key string) error
}

var _ ObjectStorage = (*S3Service)(nil)

type S3Service struct {
	client     *s3.Client
	presign    *s3.PresignClient
	bucketName string
	acl        types.ObjectCannedACL
	logger     *logger.Logger
}

// NewS3Service builds a client for S3 or an S3-compatible store (R2, MinIO)
// when cfg.Endpoint is set, and verifies the bucket is reachable.
func NewS3Service(ctx context.Context, cfg config.S3Config, provider string) (*S3Service, error) {
	log := logger.New("S3")

	if !cfg.Enabled() {
		return nil, log.Error("S3 credentials are empty ❌", fmt.Errorf("bucket, accessKey or secretKey is empty"))
	}

	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)),
		awsconfig.WithRetryMode(aws.RetryModeStandard),
		awsconfig.WithRetryMaxAttempts(3),
	)
	if err != nil {
		return nil, log.Error("Unable to load SDK config ❌", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			endpoint := cfg.Endpoint
			if !strings.HasPrefix(endpoint, "http") {
				endpoint = "https://" + endpoint
			}
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.BucketName)}); err != nil {
		return nil, log.Error("Failed to verify S3 bucket %s ❌", err, cfg.BucketName)
	}

	// R2 ignores canned ACLs other than public-read.
	acl := types.ObjectCannedACLPrivate
	if provider == "r2" {
		acl = types.ObjectCannedACLPublicRead
	}

	log.Success("S3 service initialized ✅")

	return &S3Service{
		client:     client,
		presign:    s3.NewPresignClient(client),
		bucketName: cfg.BucketName,
		acl:        acl,
		logger:     log,
	}, nil
}

// Put uploads content under a fresh key that keeps the original extension.
func (s *S3Service) Put(ctx context.Context, content []byte, filename, contentType string) (string, error) {
	key := fmt.Sprintf("medicines/%s%s", uuid.New().String(), strings.ToLower(filepath.Ext(filename)))

	s.logger.Debug("Uploading %s as %s", filename, key)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(content),
		ACL:         s.acl,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", s.logger.Error("Failed to upload file to storage ❌", err)
	}

	s.logger.Info("Uploaded %s (%d bytes)", key, len(content))
	return key, nil
}

func (s *S3Service) Remove(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return s.logger.Error("Failed to delete %s", err, key)
	}
	return nil
}

// GetSignedURL implements models.FileURLGenerator
func (s *S3Service) GetSignedURL(ctx context.Context, path string, duration time.Duration) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(path),
	}, s3.WithPresignExpires(duration))
	if err != nil {
		return "", s.logger.Error("Failed to generate pre-signed URL ❌", err)
	}
	return req.URL, nil
}
