package storage

import (
	"context"
	"errors"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

// S3Provider talks to S3 or any S3-compatible endpoint.
type S3Provider struct {
	api s3iface.S3API
}

func NewS3Provider(sess *session.Session) *S3Provider {
	return &S3Provider{api: s3.New(sess)}
}

// S3Options configures a path-style S3 client.
type S3Options struct {
	Endpoint string
	Region   string
	KeyID    string
	AppKey   string
}

func NewS3ProviderFromOptions(o S3Options) (*S3Provider, error) {
	cfg := &aws.Config{
		Region:           aws.String(o.Region),
		S3ForcePathStyle: aws.Bool(true),
	}
	if o.Endpoint != "" {
		cfg.Endpoint = aws.String(o.Endpoint)
	}
	if o.KeyID != "" {
		cfg.Credentials = credentials.NewStaticCredentials(o.KeyID, o.AppKey, "")
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, err
	}
	return NewS3Provider(sess), nil
}

func isS3NotFound(err error) bool {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}

func (s *S3Provider) Get(ctx context.Context, bucket, key string) (*FileObject, error) {
	out, err := s.api.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if isS3NotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &FileObject{
		Body:          out.Body,
		ContentType:   aws.StringValue(out.ContentType),
		ContentLength: aws.Int64Value(out.ContentLength),
		LastModified:  aws.TimeValue(out.LastModified),
	}, nil
}

func (s *S3Provider) Put(ctx context.Context, bucket, key string, body io.ReadSeeker, contentType string) error {
	_, err := s.api.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	return err
}

func (s *S3Provider) Delete(ctx context.Context, bucket, key string) error {
	_, err := s.api.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	return err
}

func (s *S3Provider) Exists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := s.api.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if isS3NotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
