package unit

import (
	"context"
	"errors"

	"social-backend/internal/storage"
)

// compensate deletes docs in reverse order of creation, then destroys blobs. Failures are logged and
// counted, never returned.
func (c *Coordinator) compensate(ctx context.Context, unitID string, docs []document, blobs []string) {
	if len(docs) == 0 && len(blobs) == 0 {
		return
	}
	logger := c.logger.With("unit_id", unitID)

	for i := len(docs) - 1; i >= 0; i-- {
		d := docs[i]
		if err := c.deleteDocument(ctx, d); err != nil {
			logger.Errorf("Compensation: cannot delete %s document %d: %v", d.collection, d.id, err)
			c.metrics.compensations.WithLabelValues(targetDocument, resultFailed).Inc()
			continue
		}
		c.metrics.compensations.WithLabelValues(targetDocument, resultOK).Inc()
	}

	for i := len(blobs) - 1; i >= 0; i-- {
		url := blobs[i]
		if c.blobs == nil {
			logger.Errorf("Compensation: no blob store to destroy %s", url)
			c.metrics.compensations.WithLabelValues(targetBlob, resultFailed).Inc()
			continue
		}
		if err := c.blobs.Destroy(ctx, url); err != nil {
			logger.Errorf("Compensation: cannot destroy blob %s: %v", url, err)
			c.metrics.compensations.WithLabelValues(targetBlob, resultFailed).Inc()
			continue
		}
		c.metrics.compensations.WithLabelValues(targetBlob, resultOK).Inc()
	}

	logger.Debugf("Compensated %d documents and %d blobs", len(docs), len(blobs))
}

// deleteDocument removes d in its own transaction; a document already gone with the rollback is fine
func (c *Coordinator) deleteDocument(ctx context.Context, d document) error {
	tx, err := c.backend.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	err = tx.Delete(ctx, d.collection, d.id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}
