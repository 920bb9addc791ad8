// Package blob stores binary image data outside the Entity Store and hands back public URLs.
package blob

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrForeignURL is returned by Destroy for URLs the store did not hand out
var ErrForeignURL = errors.New("url does not belong to this blob store")

// Blob is an image payload to upload
type Blob struct {
	Data        []byte
	ContentType string
	Alt         string
}

// Store uploads blobs and destroys them by URL. Both calls are fallible and never run inside a unit of work.
type Store interface {
	Upload(ctx context.Context, b Blob) (string, error)
	Destroy(ctx context.Context, url string) error
}

// Config defines fields used for choosing and configuring a Store from environment variables
type Config struct {
	Driver             string `env:"BLOB_DRIVER" envDefault:"local"`
	LocalPath          string `env:"BLOB_LOCAL_PATH" envDefault:"./uploads"`
	BaseURL            string `env:"BLOB_BASE_URL" envDefault:"http://localhost:9000/uploads"`
	S3Region           string `env:"S3_REGION" envDefault:"us-west-2"`
	S3Bucket           string `env:"S3_BUCKET"`
	GCSBucket          string `env:"GCS_BUCKET"`
	GCSCredentialsFile string `env:"GCS_CREDENTIALS_FILE"`
}

// New returns the Store selected by cfg.Driver
func New(ctx context.Context, logger *zap.SugaredLogger, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "local":
		return NewLocal(logger, cfg.LocalPath, cfg.BaseURL)
	case "s3":
		return NewS3(logger, cfg.S3Region, cfg.S3Bucket)
	case "gcs":
		return NewGCS(ctx, logger, cfg.GCSBucket, cfg.GCSCredentialsFile)
	default:
		return nil, fmt.Errorf("unknown blob driver %q", cfg.Driver)
	}
}

// objectKey names a new object after a random uuid with an extension matching the content type
func objectKey(b Blob) (key, contentType string) {
	contentType = b.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(b.Data)
	}

	key = uuid.New().String()
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		key += exts[0]
	}
	return key, contentType
}

// keyFromURL strips prefix from url and rejects anything that is not a flat object key
func keyFromURL(prefix, url string) (string, error) {
	if !strings.HasPrefix(url, prefix) {
		return "", ErrForeignURL
	}
	key := strings.TrimPrefix(url, prefix)
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return "", ErrForeignURL
	}
	return key, nil
}
