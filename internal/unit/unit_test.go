package unit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"social-backend/internal/apperr"
	"social-backend/internal/blob"
	"social-backend/internal/storage"
	"social-backend/internal/storage/memory"
)

type mockBlobs struct {
	mock.Mock
}

func (m *mockBlobs) Upload(ctx context.Context, b blob.Blob) (string, error) {
	args := m.Called(b)
	return args.String(0), args.Error(1)
}

func (m *mockBlobs) Destroy(ctx context.Context, url string) error {
	return m.Called(url).Error(0)
}

// leakyBackend keeps writes of rolled back transactions, so only compensation can remove them
type leakyBackend struct {
	*memory.Store

	mu          sync.Mutex
	deleted     []string
	failDeletes bool
	failBegin   bool
}

func (b *leakyBackend) Begin(ctx context.Context) (storage.Tx, error) {
	if b.failBegin {
		return nil, errors.New("connection refused")
	}
	tx, err := b.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &leakyTx{Tx: tx, b: b}, nil
}

type leakyTx struct {
	storage.Tx
	b *leakyBackend
}

func (t *leakyTx) Rollback(ctx context.Context) error {
	return t.Tx.Commit(ctx)
}

func (t *leakyTx) Delete(ctx context.Context, c storage.Collection, id int64) error {
	if t.b.failDeletes {
		return errors.New("store unavailable")
	}
	t.b.mu.Lock()
	t.b.deleted = append(t.b.deleted, fmt.Sprintf("%s:%d", c, id))
	t.b.mu.Unlock()
	return t.Tx.Delete(ctx, c, id)
}

func bootstrap(t *testing.T, backend storage.Backend, blobs blob.Store) *Coordinator {
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)
	return NewCoordinator(logger.Sugar(), backend, blobs, WithRegisterer(prometheus.NewRegistry()))
}

func newMemory(t *testing.T) *memory.Store {
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)
	return memory.New(logger.Sugar())
}

func TestRunCommits(t *testing.T) {
	store := newMemory(t)
	c := bootstrap(t, store, nil)

	var user storage.User
	err := c.Run(context.Background(), func(u *Unit) error {
		user = storage.User{AccountTag: "alice"}
		if err := u.InsertUser(&user); err != nil {
			return err
		}
		return u.AddToSet(storage.Users, user.ID, storage.FieldPosts, 10)
	})
	require.NoError(t, err)

	got, err := store.User(context.Background(), user.ID)
	require.NoError(t, err)
	require.Equal(t, []int64{10}, got.Posts)
	require.Equal(t, 1.0, testutil.ToFloat64(c.metrics.units.WithLabelValues(outcomeCommitted)))
}

func TestFailingOperationAbortsUnit(t *testing.T) {
	store := newMemory(t)
	c := bootstrap(t, store, nil)

	u, err := c.Begin(context.Background())
	require.NoError(t, err)

	require.NoError(t, u.InsertImage(&storage.Image{URL: "a"}))
	err = u.AddToSet(storage.Users, 404, storage.FieldChats, 1)
	require.Error(t, err)
	require.Equal(t, apperr.KindTransactionAborted, apperr.KindOf(err))
	require.Equal(t, apperr.KindNotFound, apperr.Cause(err))
	require.Contains(t, err.Error(), "user 404 not found")

	// every later call reports the original failure
	require.Equal(t, err, u.InsertImage(&storage.Image{URL: "b"}))
	require.Equal(t, err, u.Commit())
	require.Equal(t, err, u.Abort(errors.New("other")))

	require.Equal(t, 0, store.Count(storage.Images))
	require.Equal(t, 1.0, testutil.ToFloat64(c.metrics.units.WithLabelValues(outcomeAborted)))
}

func TestCompensationDeletesInReverseOrder(t *testing.T) {
	backend := &leakyBackend{Store: newMemory(t)}
	c := bootstrap(t, backend, nil)

	cause := apperr.BadRequest("stop")
	err := c.Run(context.Background(), func(u *Unit) error {
		user := storage.User{AccountTag: "alice"}
		if err := u.InsertUser(&user); err != nil {
			return err
		}
		for i := 0; i < 2; i++ {
			if err := u.InsertImage(&storage.Image{URL: fmt.Sprint(i)}); err != nil {
				return err
			}
		}
		if err := u.InsertMessage(&storage.Message{Author: user.ID, Text: "hi"}); err != nil {
			return err
		}
		return cause
	})
	require.Equal(t, apperr.KindTransactionAborted, apperr.KindOf(err))
	require.True(t, errors.Is(err, cause))

	require.Equal(t, []string{"messages:4", "images:3", "images:2", "users:1"}, backend.deleted)
	require.Equal(t, 0, backend.Count(storage.Images))
	require.Equal(t, 0, backend.Count(storage.Messages))
	require.Equal(t, 0, backend.Count(storage.Users))
}

func TestCompensationFailureIsLoggedOnly(t *testing.T) {
	backend := &leakyBackend{Store: newMemory(t), failDeletes: true}
	core, logs := observer.New(zapcore.ErrorLevel)
	c := NewCoordinator(zap.New(core).Sugar(), backend, nil)

	cause := errors.New("message insert failed")
	err := c.Run(context.Background(), func(u *Unit) error {
		if err := u.InsertImage(&storage.Image{URL: "a"}); err != nil {
			return err
		}
		return cause
	})
	require.True(t, errors.Is(err, cause))
	require.Equal(t, apperr.KindTransactionAborted, apperr.KindOf(err))

	require.Equal(t, 1, logs.FilterMessageSnippet("cannot delete images document").Len())
	require.Equal(t, 1.0, testutil.ToFloat64(c.metrics.compensations.WithLabelValues(targetDocument, resultFailed)))
}

func TestUploadedBlobsDestroyedOnAbort(t *testing.T) {
	blobs := new(mockBlobs)
	blobs.On("Destroy", "http://cdn/2.png").Return(nil).Once()
	blobs.On("Destroy", "http://cdn/1.png").Return(errors.New("cdn down")).Once()
	blobs.On("Destroy", "http://cdn/pre.png").Return(nil).Once()

	store := newMemory(t)
	c := bootstrap(t, store, blobs)

	err := c.Run(context.Background(), func(u *Unit) error {
		if err := u.InsertImage(&storage.Image{URL: "http://cdn/1.png"}); err != nil {
			return err
		}
		return apperr.Conflict("late failure")
	}, "http://cdn/pre.png", "http://cdn/1.png", "http://cdn/2.png")

	require.Equal(t, apperr.KindConflict, apperr.Cause(err))
	require.Equal(t, 0, store.Count(storage.Images))
	blobs.AssertExpectations(t)
	require.Equal(t, 2.0, testutil.ToFloat64(c.metrics.compensations.WithLabelValues(targetBlob, resultOK)))
	require.Equal(t, 1.0, testutil.ToFloat64(c.metrics.compensations.WithLabelValues(targetBlob, resultFailed)))
}

func TestCommittedUnitKeepsUploads(t *testing.T) {
	blobs := new(mockBlobs)
	c := bootstrap(t, newMemory(t), blobs)

	err := c.Run(context.Background(), func(u *Unit) error {
		return u.InsertImage(&storage.Image{URL: "http://cdn/1.png"})
	}, "http://cdn/1.png")
	require.NoError(t, err)
	blobs.AssertNotCalled(t, "Destroy", mock.Anything)
}

func TestDiscardDestroysUploads(t *testing.T) {
	blobs := new(mockBlobs)
	blobs.On("Destroy", "http://cdn/1.png").Return(nil).Once()
	blobs.On("Destroy", "http://cdn/2.png").Return(nil).Once()

	c := bootstrap(t, newMemory(t), blobs)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c.Discard(ctx, "http://cdn/1.png", "http://cdn/2.png")
	c.Discard(ctx)

	blobs.AssertExpectations(t)
	require.Equal(t, 2.0, testutil.ToFloat64(c.metrics.compensations.WithLabelValues(targetBlob, resultOK)))
}

func TestBeginFailureDestroysUploads(t *testing.T) {
	blobs := new(mockBlobs)
	blobs.On("Destroy", "http://cdn/new.png").Return(nil).Once()

	c := bootstrap(t, &leakyBackend{Store: newMemory(t), failBegin: true}, blobs)

	_, err := c.Begin(context.Background(), "http://cdn/new.png")
	require.Equal(t, apperr.KindTransactionAborted, apperr.KindOf(err))
	blobs.AssertExpectations(t)
}

func TestEmptyCommitIsNoop(t *testing.T) {
	store := newMemory(t)
	c := bootstrap(t, store, nil)

	require.NoError(t, c.Run(context.Background(), func(u *Unit) error { return nil }))

	// the store lock was released
	tx, err := store.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(context.Background()))
}

func TestNestedUnitRejected(t *testing.T) {
	c := bootstrap(t, newMemory(t), nil)

	u, err := c.Begin(context.Background())
	require.NoError(t, err)
	defer u.Abort(errors.New("done"))

	_, err = c.Begin(u.Context())
	require.Equal(t, ErrNested, err)
}

func TestFollowUpFailureIsPartialSuccess(t *testing.T) {
	store := newMemory(t)
	c := bootstrap(t, store, nil)

	var image storage.Image
	err := c.Run(context.Background(), func(u *Unit) error {
		image = storage.Image{URL: "new"}
		if err := u.InsertImage(&image); err != nil {
			return err
		}
		u.AfterCommit("destroying old blob", func(ctx context.Context) error {
			return errors.New("cdn down")
		})
		return nil
	})
	require.Equal(t, apperr.KindPartialSuccess, apperr.KindOf(err))
	require.Contains(t, err.Error(), "destroying old blob")

	_, err = store.Image(context.Background(), image.ID)
	require.NoError(t, err)
	require.Equal(t, 1.0, testutil.ToFloat64(c.metrics.units.WithLabelValues(outcomePartial)))
}

func TestUnitIgnoresCallerCancellation(t *testing.T) {
	store := newMemory(t)
	c := bootstrap(t, store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	u, err := c.Begin(ctx)
	require.NoError(t, err)
	cancel()

	require.NoError(t, u.Context().Err())
	require.NoError(t, u.InsertImage(&storage.Image{URL: "a"}))
	require.NoError(t, u.Commit())
	require.Equal(t, 1, store.Count(storage.Images))
}

func TestCommittedUnitRejectsOperations(t *testing.T) {
	c := bootstrap(t, newMemory(t), nil)

	u, err := c.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, u.Commit())
	require.Equal(t, errCommitted, u.InsertImage(&storage.Image{}))
	require.Equal(t, errCommitted, u.Commit())
}
