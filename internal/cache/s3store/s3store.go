package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"tradebalance/internal/cache"
	"tradebalance/internal/model"
)

// API is the subset of the S3 client used by Store.
type API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

type Config struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	PathStyle       bool
}

// Store keeps artifacts as S3 objects under Bucket/Prefix. S3 object writes
// are atomic, so a reader sees either the old or the new payload.
type Store struct {
	client API
	bucket string
	prefix string
}

// New builds an S3 client from the default AWS configuration chain,
// optionally overridden by static credentials and a custom endpoint.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3store: bucket is required")
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3store: load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})
	return NewWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

func NewWithClient(client API, bucket, prefix string) *Store {
	return &Store{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

func (s *Store) objectKey(key cache.Key) (string, error) {
	if err := key.Validate(); err != nil {
		return "", err
	}
	if s.prefix == "" {
		return key.Path(), nil
	}
	return path.Join(s.prefix, key.Path()), nil
}

func (s *Store) Get(ctx context.Context, key cache.Key) (cache.Artifact, error) {
	objectKey, err := s.objectKey(key)
	if err != nil {
		return cache.Artifact{}, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		return cache.Artifact{}, s.wrap("get", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return cache.Artifact{}, fmt.Errorf("s3store: read %s: %w", key, err)
	}
	return cache.Artifact{
		Key:     key,
		Data:    data,
		Size:    int64(len(data)),
		ModTime: aws.ToTime(out.LastModified),
	}, nil
}

func (s *Store) Put(ctx context.Context, key cache.Key, data []byte) error {
	objectKey, err := s.objectKey(key)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(objectKey),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("text/csv"),
	})
	if err != nil {
		return fmt.Errorf("s3store: put %s: %w", key, err)
	}
	return nil
}

func (s *Store) Stat(ctx context.Context, key cache.Key) (cache.Info, error) {
	objectKey, err := s.objectKey(key)
	if err != nil {
		return cache.Info{}, err
	}
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		return cache.Info{}, s.wrap("stat", key, err)
	}
	return cache.Info{
		Key:     key,
		Size:    aws.ToInt64(out.ContentLength),
		ModTime: aws.ToTime(out.LastModified),
	}, nil
}

func (s *Store) Delete(ctx context.Context, key cache.Key) error {
	objectKey, err := s.objectKey(key)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("s3store: delete %s: %w", key, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, kind model.DataKind) ([]cache.Key, error) {
	objects, err := s.listObjects(ctx, s.kindPrefix(kind))
	if err != nil {
		return nil, err
	}
	var keys []cache.Key
	for _, objectKey := range objects {
		rel := strings.TrimPrefix(strings.TrimPrefix(objectKey, s.prefix), "/")
		if key, ok := cache.ParsePath(rel); ok {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Path() < keys[j].Path() })
	return keys, nil
}

func (s *Store) Purge(ctx context.Context) error {
	for _, kind := range cache.Kinds {
		objects, err := s.listObjects(ctx, s.kindPrefix(kind))
		if err != nil {
			return err
		}
		for _, objectKey := range objects {
			_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(s.bucket),
				Key:    aws.String(objectKey),
			})
			if err != nil && !isNotFound(err) {
				return fmt.Errorf("s3store: purge %s: %w", objectKey, err)
			}
		}
	}
	return nil
}

func (s *Store) kindPrefix(kind model.DataKind) string {
	if s.prefix == "" {
		return cache.Dir(kind) + "/"
	}
	return path.Join(s.prefix, cache.Dir(kind)) + "/"
}

func (s *Store) listObjects(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3store: list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

func (s *Store) wrap(op string, key cache.Key, err error) error {
	if isNotFound(err) {
		return fmt.Errorf("%w: %s", cache.ErrNotFound, key)
	}
	return fmt.Errorf("s3store: %s %s: %w", op, key, err)
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
