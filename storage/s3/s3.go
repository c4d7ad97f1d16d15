package s3

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	s3manager "github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	s3Client "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/schollz/progressbar/v3"

	"github.com/liweiyi88/onebackup/env"
	"github.com/liweiyi88/onebackup/fileutil"
	"github.com/liweiyi88/onebackup/storage"
)

type S3 struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	AccessKeyId     string `yaml:"access-key-id"`
	SecretAccessKey string `yaml:"secret-access-key"`
	SessionToken    string `yaml:"session-token"`
	// Endpoint of an S3 compatible service, path style addressing is used when set.
	Endpoint string `yaml:"endpoint"`
}

func NewS3(bucket, prefix, region, accessKeyId, secretAccessKey, sessionToken string) *S3 {
	return &S3{
		Bucket:          bucket,
		Prefix:          prefix,
		Region:          region,
		AccessKeyId:     accessKeyId,
		SecretAccessKey: secretAccessKey,
		SessionToken:    sessionToken,
	}
}

// HasCredentials reports whether static credentials are configured.
func (s3 *S3) HasCredentials() bool {
	return strings.TrimSpace(s3.AccessKeyId) != "" && strings.TrimSpace(s3.SecretAccessKey) != ""
}

// ApplyCredentials fills in whatever the config file left empty.
func (s3 *S3) ApplyCredentials(creds env.AWSCredentials) {
	if s3.Region == "" {
		s3.Region = creds.Region
	}

	if !s3.HasCredentials() {
		s3.AccessKeyId = creds.AccessKeyID
		s3.SecretAccessKey = creds.SecretAccessKey
		s3.SessionToken = creds.SessionToken
	}
}

func (s3 *S3) newUploader(ctx context.Context) (*s3manager.Uploader, error) {
	opts := make([]func(*config.LoadOptions) error, 0, 2)

	if s3.Region != "" {
		opts = append(opts, config.WithRegion(s3.Region))
	}

	if s3.HasCredentials() {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s3.AccessKeyId, s3.SecretAccessKey, s3.SessionToken),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("fail to load aws config, error: %v", err)
	}

	client := s3Client.NewFromConfig(awsConfig, func(o *s3Client.Options) {
		if s3.Endpoint != "" {
			o.BaseEndpoint = aws.String(s3.Endpoint)
			o.UsePathStyle = true
		}
	})

	return s3manager.NewUploader(client), nil
}

func (s3 *S3) Save(ctx context.Context, reader io.Reader, name string) error {
	uploader, err := s3.newUploader(ctx)
	if err != nil {
		return err
	}

	key := storage.RemotePath(s3.Prefix, name)
	bar := storage.NewProgressBar(fileutil.FileSize(reader), "S3 uploading...")
	body := progressbar.NewReader(reader, bar)

	_, err = uploader.Upload(ctx, &s3Client.PutObjectInput{
		Bucket: aws.String(s3.Bucket),
		Key:    aws.String(key),
		Body:   &body,
	})

	if err != nil {
		return fmt.Errorf("fail to upload file to s3 bucket %s, key: %s, error: %w", s3.Bucket, key, err)
	}

	return nil
}
