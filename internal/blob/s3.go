package blob

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"go.uber.org/zap"
)

type S3 struct {
	logger *zap.SugaredLogger
	s3     *s3.S3
	bucket string
}

func NewS3(logger *zap.SugaredLogger, region, bucket string) (*S3, error) {
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is not configured")
	}

	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(region),
	})
	if err != nil {
		return nil, err
	}

	return &S3{
		logger: logger,
		s3:     s3.New(sess),
		bucket: bucket,
	}, nil
}

func (c *S3) prefix() string {
	return fmt.Sprintf("https://%s.s3.amazonaws.com/", c.bucket)
}

func (c *S3) Upload(ctx context.Context, b Blob) (string, error) {
	key, contentType := objectKey(b)

	_, err := c.s3.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(b.Data),
		ContentLength: aws.Int64(int64(len(b.Data))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return "", err
	}

	c.logger.Debugf("Uploaded blob %s to bucket %s", key, c.bucket)
	return c.prefix() + key, nil
}

func (c *S3) Destroy(ctx context.Context, url string) error {
	key, err := keyFromURL(c.prefix(), url)
	if err != nil {
		return err
	}

	_, err = c.s3.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return err
	}

	c.logger.Debugf("Deleted blob %s from bucket %s", key, c.bucket)
	return nil
}
