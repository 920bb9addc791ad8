// Package service implements the mutation operations of the social backend. Each operation
// validates its input against the Entity Store, then performs its writes inside one unit of work.
package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"social-backend/internal/apperr"
	"social-backend/internal/blob"
	"social-backend/internal/storage"
	"social-backend/internal/unit"
)

// Option alters the default configuration of a Service
type Option interface {
	apply(*Service)
}

type optionFunc func(s *Service)

func (f optionFunc) apply(s *Service) { f(s) }

// UploadTimeout bounds the blob upload of an image replacement
func UploadTimeout(d time.Duration) Option {
	return optionFunc(func(s *Service) {
		s.uploadTimeout = d
	})
}

// Service defines fields used by mutation operations
type Service struct {
	logger        *zap.SugaredLogger
	store         storage.Reader
	units         *unit.Coordinator
	blobs         blob.Store
	uploadTimeout time.Duration
}

// New returns a Service reading from store and writing through units
func New(logger *zap.SugaredLogger, store storage.Reader, units *unit.Coordinator, blobs blob.Store, opts ...Option) *Service {
	s := &Service{
		logger:        logger,
		store:         store,
		units:         units,
		blobs:         blobs,
		uploadTimeout: 30 * time.Second,
	}
	for _, o := range opts {
		o.apply(s)
	}
	return s
}

// lookup turns a failed read of a referenced document into NotFound or Internal
func lookup(err error, what string, id int64) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.NotFound("%s %d not found", what, id)
	}
	return apperr.Internal(err, "reading %s %d", what, id)
}

// requireUsers fails with NotFound naming the first of ids that does not resolve to a user
func (s *Service) requireUsers(ctx context.Context, ids []int64) error {
	users, err := s.store.Users(ctx, ids)
	if err != nil {
		return apperr.Internal(err, "reading users")
	}
	found := make(map[int64]bool, len(users))
	for _, u := range users {
		found[u.ID] = true
	}
	for _, id := range ids {
		if !found[id] {
			return apperr.NotFound("user %d not found", id)
		}
	}
	return nil
}

// uniq drops repeated ids keeping the first occurrence
func uniq(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// upload stores blobs one after the other before any unit begins. When an upload fails, the blobs
// uploaded so far are destroyed.
func (s *Service) upload(ctx context.Context, blobs []blob.Blob) ([]string, error) {
	urls := make([]string, 0, len(blobs))
	for _, b := range blobs {
		url, err := s.blobs.Upload(ctx, b)
		if err != nil {
			s.units.Discard(ctx, urls...)
			return nil, apperr.Internal(err, "uploading image %d of %d", len(urls)+1, len(blobs))
		}
		urls = append(urls, url)
	}
	return urls, nil
}

// storeImages inserts the Image documents of uploaded blobs one after the other
func storeImages(u *unit.Unit, blobs []blob.Blob, urls []string) ([]int64, error) {
	ids := make([]int64, 0, len(blobs))
	for i, b := range blobs {
		img := storage.Image{URL: urls[i], Alt: b.Alt}
		if err := u.InsertImage(&img); err != nil {
			return nil, err
		}
		ids = append(ids, img.ID)
	}
	return ids, nil
}
