// Package unit coordinates units of work: an ordered sequence of Entity Store operations that
// commits as a whole or aborts as a whole, with compensation of created documents and uploaded
// blobs on abort.
package unit

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/xid"
	"go.uber.org/zap"

	"social-backend/internal/apperr"
	"social-backend/internal/blob"
	"social-backend/internal/storage"
	"social-backend/internal/storage/zapadapter"
)

// ErrNested is returned by Begin when ctx already belongs to a unit
var ErrNested = errors.New("units of work cannot be nested")

type activeKey struct{}

// Option alters the default configuration of a Coordinator
type Option interface {
	apply(*Coordinator)
}

type optionFunc func(c *Coordinator)

func (f optionFunc) apply(c *Coordinator) { f(c) }

// WithRegisterer registers the coordinator metrics on reg
func WithRegisterer(reg prometheus.Registerer) Option {
	return optionFunc(func(c *Coordinator) {
		c.registerer = reg
	})
}

// Coordinator opens units of work over a storage.Backend
type Coordinator struct {
	logger     *zap.SugaredLogger
	backend    storage.Backend
	blobs      blob.Store
	registerer prometheus.Registerer
	metrics    *metrics
}

// NewCoordinator returns a Coordinator; blobs is used to destroy uploads of aborted units
func NewCoordinator(logger *zap.SugaredLogger, backend storage.Backend, blobs blob.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		logger:  logger,
		backend: backend,
		blobs:   blobs,
	}
	for _, o := range opts {
		o.apply(c)
	}
	c.metrics = newMetrics(c.registerer)
	return c
}

// Begin opens a unit. Urls of blobs uploaded before the unit are registered for compensation and
// destroyed right away if the unit cannot be opened. The unit ignores cancellation of ctx: once
// begun, it runs to commit or abort.
func (c *Coordinator) Begin(ctx context.Context, uploaded ...string) (*Unit, error) {
	if _, ok := ctx.Value(activeKey{}).(*Unit); ok {
		return nil, ErrNested
	}

	id := xid.New().String()
	ctx = zapadapter.NewContextWithUnitID(context.WithoutCancel(ctx), id)

	tx, err := c.backend.Begin(ctx)
	if err != nil {
		c.logger.Errorf("Cannot begin unit %s: %v", id, err)
		c.compensate(ctx, id, nil, uploaded)
		c.metrics.units.WithLabelValues(outcomeAborted).Inc()
		return nil, apperr.Aborted(err)
	}

	u := &Unit{
		id:     id,
		c:      c,
		tx:     tx,
		logger: c.logger.With("unit_id", id),
		blobs:  append([]string(nil), uploaded...),
	}
	u.ctx = context.WithValue(ctx, activeKey{}, u)

	u.logger.Debug("Unit begun")
	return u, nil
}

// Discard destroys blobs uploaded for a unit that never began, the same way an aborted unit does
func (c *Coordinator) Discard(ctx context.Context, uploaded ...string) {
	if len(uploaded) == 0 {
		return
	}
	c.compensate(context.WithoutCancel(ctx), xid.New().String(), nil, uploaded)
}

// Run begins a unit, hands it to fn and commits it when fn succeeds. Any error from fn aborts the
// unit and is returned wrapped as TransactionAborted.
func (c *Coordinator) Run(ctx context.Context, fn func(u *Unit) error, uploaded ...string) (err error) {
	u, err := c.Begin(ctx, uploaded...)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			u.Abort(fmt.Errorf("panic: %v", r))
			panic(r)
		}
	}()

	if err := fn(u); err != nil {
		return u.Abort(err)
	}
	return u.Commit()
}
