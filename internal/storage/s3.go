package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ErrObjectNotFound is returned by Get when the key does not exist.
var ErrObjectNotFound = errors.New("storage: object not found")

// S3API is the subset of the S3 client used here.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// ObjectStore reads and writes whole objects in one bucket.
type ObjectStore struct {
	client S3API
	bucket string
}

// NewObjectStore creates an object store for bucket.
func NewObjectStore(client S3API, bucket string) *ObjectStore {
	return &ObjectStore{client: client, bucket: bucket}
}

// NewS3ObjectStore builds an ObjectStore from the default AWS config.
func NewS3ObjectStore(ctx context.Context, bucket, region, profile string) (*ObjectStore, error) {
	cfg, err := LoadAWSConfig(ctx, region, profile)
	if err != nil {
		return nil, err
	}
	return NewObjectStore(s3.NewFromConfig(cfg), bucket), nil
}

// Bucket returns the bucket name.
func (o *ObjectStore) Bucket() string { return o.bucket }

// Put uploads data under key.
func (o *ObjectStore) Put(ctx context.Context, key, contentType string, data []byte) error {
	_, err := o.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(o.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("putting object to S3 %s/%s: %w", o.bucket, key, err)
	}
	return nil
}

// Get downloads the object at key. A missing key yields ErrObjectNotFound.
func (o *ObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	result, err := o.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("getting object from S3 %s/%s: %w", o.bucket, key, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("reading S3 object body: %w", err)
	}
	return data, nil
}
