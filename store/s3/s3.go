package s3

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/juju/errors"
	"github.com/warriorguo/taskflow/store"
)

var (
	_ store.Store = &s3Store{}
)

// ObjectAPI is the subset of *s3.Client the store needs.
type ObjectAPI interface {
	GetObject(ctx context.Context, params *awss3.GetObjectInput, optFns ...func(*awss3.Options)) (*awss3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *awss3.PutObjectInput, optFns ...func(*awss3.Options)) (*awss3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *awss3.DeleteObjectInput, optFns ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *awss3.ListObjectsV2Input, optFns ...func(*awss3.Options)) (*awss3.ListObjectsV2Output, error)
}

// Config holds the bucket configuration. Root is an optional key prefix all objects live under.
type Config struct {
	Bucket string
	Root   string
	Region string
	// Endpoint points the client at S3 compatible stores such as MinIO
	Endpoint        string
	ForcePathStyle  bool
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

func (c *Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("bucket cannot be empty")
	}
	if c.AccessKeyID != "" && c.SecretAccessKey == "" {
		return errors.New("secret access key cannot be empty when access key id is set")
	}
	return nil
}

/**
 * s3Store maps every prefix to a "directory" of the bucket and every key to
 * one object inside it. Keys are path escaped so they never contain '/'.
 */
type s3Store struct {
	client ObjectAPI
	bucket string
	root   string
}

// NewS3Store loads the default AWS configuration and overrides it with config.
func NewS3Store(ctx context.Context, config *Config) (store.Store, error) {
	if config == nil {
		return nil, errors.New("config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}

	cfg, err := createAWSConfig(ctx, config)
	if err != nil {
		return nil, errors.Annotatef(err, "failed to load aws config")
	}

	client := awss3.NewFromConfig(cfg, func(o *awss3.Options) {
		if config.Endpoint != "" {
			o.BaseEndpoint = aws.String(config.Endpoint)
		}
		o.UsePathStyle = config.ForcePathStyle
	})
	return NewS3StoreWithClient(client, config.Bucket, config.Root), nil
}

func NewS3StoreWithClient(client ObjectAPI, bucket, root string) store.Store {
	return &s3Store{client: client, bucket: bucket, root: strings.Trim(root, "/")}
}

func createAWSConfig(ctx context.Context, c *Config) (aws.Config, error) {
	configOpts := []func(*config.LoadOptions) error{}
	if c.Region != "" {
		configOpts = append(configOpts, config.WithRegion(c.Region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return aws.Config{}, err
	}

	if c.AccessKeyID != "" {
		cfg.Credentials = aws.NewCredentialsCache(
			credentials.NewStaticCredentialsProvider(c.AccessKeyID, c.SecretAccessKey, c.SessionToken),
		)
	}
	return cfg, nil
}

func (s *s3Store) dir(prefix string) string {
	parts := make([]string, 0, 2)
	if s.root != "" {
		parts = append(parts, s.root)
	}
	if p := strings.Trim(prefix, "/"); p != "" {
		parts = append(parts, p)
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, "/") + "/"
}

func (s *s3Store) objectKey(prefix, key string) string {
	return s.dir(prefix) + url.PathEscape(key)
}

func (s *s3Store) Get(ctx context.Context, prefix, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(prefix, key)),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, nil
		}
		return nil, errors.Annotatef(err, "failed to get object prefix=%s, key=%s", prefix, key)
	}
	defer out.Body.Close()

	b, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, errors.Annotatef(err, "failed to read object prefix=%s, key=%s", prefix, key)
	}
	return b, nil
}

func (s *s3Store) Set(ctx context.Context, prefix, key string, value []byte) error {
	_, err := s.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.objectKey(prefix, key)),
		Body:          bytes.NewReader(value),
		ContentLength: aws.Int64(int64(len(value))),
	})
	if err != nil {
		return errors.Annotatef(err, "failed to put object prefix=%s, key=%s", prefix, key)
	}
	return nil
}

func (s *s3Store) Remove(ctx context.Context, prefix, key string) error {
	_, err := s.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(prefix, key)),
	})
	if err != nil {
		return errors.Annotatef(err, "failed to delete object prefix=%s, key=%s", prefix, key)
	}
	return nil
}

func (s *s3Store) List(ctx context.Context, prefix string, iterator func(key string) bool) error {
	dir := s.dir(prefix)
	paginator := awss3.NewListObjectsV2Paginator(s.client, &awss3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(dir),
		Delimiter: aws.String("/"),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return errors.Annotatef(err, "failed to list objects for prefix=%s", prefix)
		}
		for _, obj := range page.Contents {
			key, err := url.PathUnescape(strings.TrimPrefix(aws.ToString(obj.Key), dir))
			if err != nil {
				return errors.Annotatef(err, "unexpected object key %s", aws.ToString(obj.Key))
			}
			if !iterator(key) {
				return nil
			}
		}
	}
	return nil
}
