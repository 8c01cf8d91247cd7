package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"shellproxy/logger"
)

// s3API - подмножество s3.Client, которое использует S3Store
type s3API interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// deleteBatchSize - максимум ключей в одном DeleteObjects
const deleteBatchSize = 1000

// S3Store хранит разделы в бакете S3: раздел - это префикс
// "<prefix><раздел>/", ключ - объект "<prefix><раздел>/<sha256(url)>".
// Пустой раздел обозначается объектом-маркером ".partition".
// Порядок перечисления разделов - лексикографический (порядок листинга S3).
type S3Store struct {
	client s3API
	bucket string
	prefix string
}

// NewS3Store создает клиент по конфигурации и проверяет доступ к бакету
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	store := newS3Store(client, cfg.Bucket, cfg.Prefix)

	// Проверяем доступ к бакету
	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		return nil, fmt.Errorf("failed to access S3 bucket %s: %w", cfg.Bucket, err)
	}

	logger.Info("S3 cache store ready (bucket: %s, prefix: %q)", cfg.Bucket, cfg.Prefix)
	return store, nil
}

func newS3Store(client s3API, bucket, prefix string) *S3Store {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3Store{
		client: client,
		bucket: bucket,
		prefix: prefix,
	}
}

func (s *S3Store) partitionPrefix(name string) string {
	return s.prefix + partitionDir(name) + "/"
}

func (s *S3Store) objectKey(partition, key string) string {
	return s.partitionPrefix(partition) + keyID(key)
}

func (s *S3Store) putMarker(ctx context.Context, name string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.partitionPrefix(name) + markerFile),
		Body:   bytes.NewReader(nil),
	})
	if err != nil {
		return fmt.Errorf("failed to create partition %s: %w", name, err)
	}
	return nil
}

func (s *S3Store) CreatePartition(ctx context.Context, name string) error {
	return s.putMarker(ctx, name)
}

func (s *S3Store) ListPartitions(ctx context.Context) ([]string, error) {
	var names []string
	var token *string

	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(s.prefix),
			Delimiter:         aws.String("/"),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list partitions: %w", err)
		}

		for _, cp := range out.CommonPrefixes {
			dir := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), s.prefix), "/")
			name, err := partitionName(dir)
			if err != nil {
				continue
			}
			names = append(names, name)
		}

		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}
	return names, nil
}

// listKeys возвращает все ключи объектов раздела, включая маркер
func (s *S3Store) listKeys(ctx context.Context, partition string) ([]string, error) {
	var keys []string
	var token *string

	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(s.partitionPrefix(partition)),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list partition %s: %w", partition, err)
		}
		for _, obj := range out.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}
	return keys, nil
}

func (s *S3Store) DeletePartition(ctx context.Context, name string) (bool, error) {
	keys, err := s.listKeys(ctx, name)
	if err != nil {
		return false, err
	}
	if len(keys) == 0 {
		return false, nil
	}

	for start := 0; start < len(keys); start += deleteBatchSize {
		end := start + deleteBatchSize
		if end > len(keys) {
			end = len(keys)
		}

		objects := make([]types.ObjectIdentifier, 0, end-start)
		for _, k := range keys[start:end] {
			objects = append(objects, types.ObjectIdentifier{Key: aws.String(k)})
		}

		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return true, fmt.Errorf("failed to delete partition %s: %w", name, err)
		}
		if len(out.Errors) > 0 {
			first := out.Errors[0]
			return true, fmt.Errorf("failed to delete %d objects of partition %s: %s: %s",
				len(out.Errors), name, aws.ToString(first.Key), aws.ToString(first.Message))
		}
	}
	return true, nil
}

func (s *S3Store) Get(ctx context.Context, partition, key string) (*Entry, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(partition, key)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get cache object: %w", err)
	}
	defer out.Body.Close()

	entry, err := decodeEntry(out.Body)
	if err != nil {
		return nil, err
	}
	if entry.Key != key {
		return nil, ErrNotFound
	}
	return entry, nil
}

func (s *S3Store) Put(ctx context.Context, partition, key string, entry *Entry) error {
	data, err := encodeEntry(entry)
	if err != nil {
		return err
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.objectKey(partition, key)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/x-lz4"),
	})
	if err != nil {
		return fmt.Errorf("failed to put cache object: %w", err)
	}
	return nil
}

func (s *S3Store) Delete(ctx context.Context, partition, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(partition, key)),
	})
	if err != nil && !isS3NotFound(err) {
		return fmt.Errorf("failed to delete cache object: %w", err)
	}
	return nil
}

func (s *S3Store) Count(ctx context.Context, partition string) (int, error) {
	keys, err := s.listKeys(ctx, partition)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, k := range keys {
		if !strings.HasSuffix(k, "/"+markerFile) {
			count++
		}
	}
	return count, nil
}

func (s *S3Store) Close() error {
	return nil
}

// isS3NotFound распознает отсутствие объекта в ответе AWS SDK v2
func isS3NotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var httpErr interface{ HTTPStatusCode() int }
	if errors.As(err, &httpErr) && httpErr.HTTPStatusCode() == http.StatusNotFound {
		return true
	}
	return false
}
