package blob

import (
	"context"
	"errors"
	"fmt"

	gcs "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

type GCS struct {
	logger *zap.SugaredLogger
	client *gcs.Client
	bucket string
}

func NewGCS(ctx context.Context, logger *zap.SugaredLogger, bucket, credentialsFile string) (*GCS, error) {
	if bucket == "" {
		return nil, fmt.Errorf("gcs bucket is not configured")
	}

	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}

	return &GCS{
		logger: logger,
		client: client,
		bucket: bucket,
	}, nil
}

func (c *GCS) prefix() string {
	return fmt.Sprintf("https://storage.googleapis.com/%s/", c.bucket)
}

func (c *GCS) Upload(ctx context.Context, b Blob) (string, error) {
	key, contentType := objectKey(b)

	w := c.client.Bucket(c.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(b.Data); err != nil {
		w.Close()
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	c.logger.Debugf("Uploaded blob %s to bucket %s", key, c.bucket)
	return c.prefix() + key, nil
}

func (c *GCS) Destroy(ctx context.Context, url string) error {
	key, err := keyFromURL(c.prefix(), url)
	if err != nil {
		return err
	}

	err = c.client.Bucket(c.bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return err
	}

	c.logger.Debugf("Deleted blob %s from bucket %s", key, c.bucket)
	return nil
}
