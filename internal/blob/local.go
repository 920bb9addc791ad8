package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Local keeps blobs as files under a directory served at baseURL
type Local struct {
	logger   *zap.SugaredLogger
	basePath string
	baseURL  string
}

func NewLocal(logger *zap.SugaredLogger, basePath, baseURL string) (*Local, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating blob directory: %w", err)
	}
	return &Local{
		logger:   logger,
		basePath: basePath,
		baseURL:  strings.TrimRight(baseURL, "/") + "/",
	}, nil
}

func (l *Local) Upload(ctx context.Context, b Blob) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	key, _ := objectKey(b)
	fullPath := filepath.Join(l.basePath, key)
	if err := os.WriteFile(fullPath, b.Data, 0644); err != nil {
		return "", fmt.Errorf("writing blob: %w", err)
	}

	l.logger.Debugf("Stored blob %s (%d bytes)", fullPath, len(b.Data))
	return l.baseURL + key, nil
}

// Destroy removes the file behind url; a file that is already gone is not an error
func (l *Local) Destroy(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key, err := keyFromURL(l.baseURL, url)
	if err != nil {
		return err
	}

	err = os.Remove(filepath.Join(l.basePath, key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing blob: %w", err)
	}

	l.logger.Debugf("Destroyed blob %s", key)
	return nil
}
