// Package s3 stores version payloads in an S3-compatible bucket, one object
// per chunk under versions/<version id>/.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"contentdrive/internal/domain"
	"contentdrive/internal/storage/chunk"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const (
	defaultTimeout  = 30 * time.Second
	defaultRegion   = "us-east-1"
	deleteBatchSize = 1000
)

// objectAPI is the subset of *s3.Client the engine needs.
type objectAPI interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

type Engine struct {
	client    objectAPI
	bucket    string
	prefix    string
	chunkSize int
}

// NewEngine builds the S3 client and checks that the bucket is reachable.
func NewEngine(ctx context.Context, conf *Config, chunkSize int) (*Engine, error) {
	if conf == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid s3 configuration: %w", err)
	}

	region := conf.Region
	if region == "" {
		region = defaultRegion
	}
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
		awsconfig.WithRetryMode(aws.RetryModeAdaptive),
		awsconfig.WithRetryMaxAttempts(3),
	}
	if conf.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(aws.NewCredentialsCache(
			credentials.NewStaticCredentialsProvider(conf.AccessKeyID, conf.SecretAccessKey, ""),
		)))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if conf.Endpoint != "" {
			o.BaseEndpoint = aws.String(conf.Endpoint)
		}
		o.UsePathStyle = conf.UsePathStyle
	})

	headCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()
	if _, err := client.HeadBucket(headCtx, &s3.HeadBucketInput{Bucket: aws.String(conf.Bucket)}); err != nil {
		return nil, fmt.Errorf("unable to access bucket %s: %w", conf.Bucket, err)
	}

	return newEngine(client, conf.Bucket, conf.KeyPrefix, chunkSize), nil
}

func newEngine(client objectAPI, bucket, prefix string, chunkSize int) *Engine {
	if chunkSize <= 0 {
		chunkSize = chunk.DefaultSize
	}
	return &Engine{client: client, bucket: bucket, prefix: prefix, chunkSize: chunkSize}
}

func (e *Engine) versionPrefix(versionID string) string {
	return e.prefix + "versions/" + versionID + "/"
}

func (e *Engine) chunkKey(versionID string, index int) string {
	return e.versionPrefix(versionID) + chunk.Name(index)
}

func (e *Engine) SetVersionContent(ctx context.Context, versionID string, content []byte) error {
	if _, err := e.DeleteVersion(ctx, versionID); err != nil {
		return err
	}
	for i, c := range chunk.Split(content, e.chunkSize) {
		if err := e.putChunk(ctx, versionID, i+1, c); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) GetVersionContent(ctx context.Context, versionID string) ([]byte, error) {
	keys, err := e.listKeys(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("version %s: %w", versionID, domain.ErrContentNotFound)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	for _, key := range keys {
		data, err := e.getObject(ctx, key)
		if err != nil {
			return nil, err
		}
		buf.Write(data)
	}
	return buf.Bytes(), nil
}

// DeleteVersion removes every chunk object of the version with batched DeleteObjects calls.
func (e *Engine) DeleteVersion(ctx context.Context, versionID string) (bool, error) {
	keys, err := e.listKeys(ctx, versionID)
	if err != nil {
		return false, err
	}
	if len(keys) == 0 {
		return false, nil
	}

	for start := 0; start < len(keys); start += deleteBatchSize {
		end := min(start+deleteBatchSize, len(keys))
		objects := make([]types.ObjectIdentifier, 0, end-start)
		for _, k := range keys[start:end] {
			objects = append(objects, types.ObjectIdentifier{Key: aws.String(k)})
		}
		out, err := e.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(e.bucket),
			Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return false, fmt.Errorf("failed to delete objects of version %s: %w", versionID, err)
		}
		if len(out.Errors) > 0 {
			first := out.Errors[0]
			return false, fmt.Errorf("failed to delete %d objects of version %s: %s: %s",
				len(out.Errors), versionID, aws.ToString(first.Key), aws.ToString(first.Message))
		}
	}
	return true, nil
}

func (e *Engine) SetBinChunk(ctx context.Context, versionID string, content []byte, chunkIndex int) (string, error) {
	if !chunk.ValidIndex(chunkIndex) {
		return "", domain.ErrInvalidChunk
	}
	if err := e.putChunk(ctx, versionID, chunkIndex, content); err != nil {
		return "", err
	}
	return domain.ChunkID(versionID, chunkIndex), nil
}

func (e *Engine) GetBinChunk(ctx context.Context, versionID string, chunkIndex int) (*domain.BinChunk, error) {
	data, err := e.getObject(ctx, e.chunkKey(versionID, chunkIndex))
	if err != nil {
		return nil, err
	}
	return &domain.BinChunk{
		ID:         domain.ChunkID(versionID, chunkIndex),
		VersionID:  versionID,
		ChunkIndex: chunkIndex,
		Content:    data,
	}, nil
}

func (e *Engine) putChunk(ctx context.Context, versionID string, index int, data []byte) error {
	_, err := e.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(e.bucket),
		Key:           aws.String(e.chunkKey(versionID, index)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return fmt.Errorf("failed to upload chunk %d of version %s: %w", index, versionID, err)
	}
	return nil
}

func (e *Engine) getObject(ctx context.Context, key string) ([]byte, error) {
	result, err := e.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(e.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("object %s: %w", key, domain.ErrContentNotFound)
		}
		return nil, fmt.Errorf("failed to get object from S3: %w", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", key, err)
	}
	return data, nil
}

func (e *Engine) listKeys(ctx context.Context, versionID string) ([]string, error) {
	var (
		keys  []string
		token *string
	)
	for {
		out, err := e.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(e.bucket),
			Prefix:            aws.String(e.versionPrefix(versionID)),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list objects of version %s: %w", versionID, err)
		}
		for _, obj := range out.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
		if !aws.ToBool(out.IsTruncated) || out.NextContinuationToken == nil {
			return keys, nil
		}
		token = out.NextContinuationToken
	}
}
