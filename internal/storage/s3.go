package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Config holds configuration for S3-compatible object stores
// (AWS, MinIO, B2, ...).
type S3Config struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	Prefix          string
	ForcePathStyle  bool // required for MinIO and some S3-compatible services
}

// S3Provider implements Provider against an S3-compatible bucket.
type S3Provider struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	prefix  string
}

func NewS3Provider(ctx context.Context, cfg S3Config) (*S3Provider, error) {
	var awsCfg aws.Config
	var err error

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID,
				cfg.SecretAccessKey,
				"",
			)),
			awsconfig.WithRegion(cfg.Region),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return &S3Provider{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.Bucket,
		prefix:  cfg.Prefix,
	}, nil
}

func (p *S3Provider) Name() string { return "s3" }

func (p *S3Provider) buildKey(storagePath string) string {
	if p.prefix == "" {
		return storagePath
	}
	prefix := p.prefix
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix + storagePath
}

func (p *S3Provider) Upload(ctx context.Context, localPath, destPath string, compress bool) UploadResult {
	result := UploadResult{ProviderName: p.Name()}

	src := localPath
	storagePath := destPath
	var originalSize, storedSize int64

	if compress {
		tmp, orig, stored, err := compressToTemp(localPath)
		if err != nil {
			result.Err = err
			return result
		}
		defer os.Remove(tmp)
		src = tmp
		storagePath = destPath + GzipSuffix
		originalSize, storedSize = orig, stored
	} else {
		info, err := os.Stat(localPath)
		if err != nil {
			result.Err = err
			return result
		}
		originalSize, storedSize = info.Size(), info.Size()
	}

	file, err := os.Open(src)
	if err != nil {
		result.Err = err
		return result
	}
	defer file.Close()

	key := p.buildKey(storagePath)
	meta := map[string]string{"compressed": fmt.Sprintf("%t", compress)}
	_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:   aws.String(p.bucket),
		Key:      aws.String(key),
		Body:     file, // streams directly from disk
		Metadata: meta,
	})
	if err != nil {
		result.Err = fmt.Errorf("failed to upload to S3: %w", err)
		return result
	}

	result.Success = true
	result.URI = fmt.Sprintf("s3://%s/%s", p.bucket, key)
	result.OriginalSize = originalSize
	result.StoredSize = storedSize
	result.CompressionRatio = ratio(originalSize, storedSize)
	return result
}

func (p *S3Provider) Download(ctx context.Context, storagePath, localPath string, decompress bool) error {
	out, err := p.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.buildKey(storagePath)),
	})
	if err != nil {
		return fmt.Errorf("failed to get object from S3: %w", err)
	}
	defer out.Body.Close()

	if decompress && isCompressedPath(storagePath) {
		return decompressStream(out.Body, localPath)
	}
	return copyStream(out.Body, localPath)
}

func (p *S3Provider) Delete(ctx context.Context, storagePath string) error {
	_, err := p.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.buildKey(storagePath)),
	})
	return err
}

func (p *S3Provider) Exists(ctx context.Context, storagePath string) (bool, error) {
	_, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.buildKey(storagePath)),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		var notFound *types.NotFound
		if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check object existence: %w", err)
	}
	return true, nil
}

func (p *S3Provider) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(p.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(p.bucket),
		Prefix: aws.String(p.buildKey(prefix)),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if p.prefix != "" {
				key = strings.TrimPrefix(key, strings.TrimSuffix(p.prefix, "/")+"/")
			}
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (p *S3Provider) Metadata(ctx context.Context, storagePath string) (Metadata, error) {
	out, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.buildKey(storagePath)),
	})
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to get object metadata: %w", err)
	}
	md := Metadata{Compressed: isCompressedPath(storagePath)}
	if out.ContentLength != nil {
		md.Size = *out.ContentLength
	}
	if out.LastModified != nil {
		md.ModTime = *out.LastModified
	}
	if v, ok := out.Metadata["compressed"]; ok {
		md.Compressed = v == "true"
	}
	return md, nil
}

// AccessURL returns a presigned GET URL for the object.
func (p *S3Provider) AccessURL(ctx context.Context, storagePath string, ttl time.Duration) (string, error) {
	req, err := p.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.buildKey(storagePath)),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("failed to presign object URL: %w", err)
	}
	return req.URL, nil
}
