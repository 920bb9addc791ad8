package unit

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"social-backend/internal/apperr"
	"social-backend/internal/storage"
)

type state int

const (
	open state = iota
	committed
	aborted
)

var errCommitted = errors.New("unit already committed")

type document struct {
	collection storage.Collection
	id         int64
}

type followUp struct {
	name string
	fn   func(ctx context.Context) error
}

// Unit is one unit of work. Its operations run one at a time; the first failing operation aborts
// the unit and every later call returns the same TransactionAborted error.
type Unit struct {
	id     string
	ctx    context.Context
	c      *Coordinator
	tx     storage.Tx
	logger *zap.SugaredLogger

	mu        sync.Mutex
	state     state
	ops       int
	created   []document
	blobs     []string
	followUps []followUp
	err       error
}

// ID returns the unit id stamped on its logs
func (u *Unit) ID() string { return u.id }

// Context returns the detached context the unit's operations run with
func (u *Unit) Context() context.Context { return u.ctx }

// do runs op against the transaction, aborting the unit when it fails
func (u *Unit) do(op func(ctx context.Context, tx storage.Tx) error, c storage.Collection, id int64) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if err := u.closed(); err != nil {
		return err
	}
	if err := op(u.ctx, u.tx); err != nil {
		return u.abortLocked(classify(err, c, id))
	}
	u.ops++
	return nil
}

func (u *Unit) closed() error {
	switch u.state {
	case committed:
		return errCommitted
	case aborted:
		return u.err
	}
	return nil
}

// classify turns store sentinels into apperr kinds naming the document involved
func classify(err error, c storage.Collection, id int64) error {
	name := strings.TrimSuffix(string(c), "s")
	switch {
	case errors.Is(err, storage.ErrNotFound):
		if id == 0 {
			return apperr.NotFound("document referenced by new %s not found", name)
		}
		return apperr.NotFound("%s %d not found", name, id)
	case errors.Is(err, storage.ErrConflict):
		return apperr.Conflict("%s conflicts with an existing document", name)
	}
	var e *apperr.Error
	if errors.As(err, &e) {
		return err
	}
	return apperr.Internal(err, "%s operation failed", name)
}

func (u *Unit) User(id int64) (storage.User, error) {
	var user storage.User
	err := u.do(func(ctx context.Context, tx storage.Tx) (err error) {
		user, err = tx.User(ctx, id)
		return err
	}, storage.Users, id)
	return user, err
}

func (u *Unit) Chat(id int64) (storage.Chat, error) {
	var chat storage.Chat
	err := u.do(func(ctx context.Context, tx storage.Tx) (err error) {
		chat, err = tx.Chat(ctx, id)
		return err
	}, storage.Chats, id)
	return chat, err
}

func (u *Unit) Post(id int64) (storage.Post, error) {
	var post storage.Post
	err := u.do(func(ctx context.Context, tx storage.Tx) (err error) {
		post, err = tx.Post(ctx, id)
		return err
	}, storage.Posts, id)
	return post, err
}

func (u *Unit) InsertUser(doc *storage.User) error {
	return u.insert(storage.Users, func(ctx context.Context, tx storage.Tx) (int64, error) {
		err := tx.InsertUser(ctx, doc)
		return doc.ID, err
	})
}

func (u *Unit) InsertChat(doc *storage.Chat) error {
	return u.insert(storage.Chats, func(ctx context.Context, tx storage.Tx) (int64, error) {
		err := tx.InsertChat(ctx, doc)
		return doc.ID, err
	})
}

func (u *Unit) InsertMessage(doc *storage.Message) error {
	return u.insert(storage.Messages, func(ctx context.Context, tx storage.Tx) (int64, error) {
		err := tx.InsertMessage(ctx, doc)
		return doc.ID, err
	})
}

func (u *Unit) InsertPost(doc *storage.Post) error {
	return u.insert(storage.Posts, func(ctx context.Context, tx storage.Tx) (int64, error) {
		err := tx.InsertPost(ctx, doc)
		return doc.ID, err
	})
}

func (u *Unit) InsertImage(doc *storage.Image) error {
	return u.insert(storage.Images, func(ctx context.Context, tx storage.Tx) (int64, error) {
		err := tx.InsertImage(ctx, doc)
		return doc.ID, err
	})
}

// insert runs an insert and records the new document for compensation
func (u *Unit) insert(c storage.Collection, op func(ctx context.Context, tx storage.Tx) (int64, error)) error {
	return u.do(func(ctx context.Context, tx storage.Tx) error {
		id, err := op(ctx, tx)
		if err != nil {
			return err
		}
		u.created = append(u.created, document{collection: c, id: id})
		return nil
	}, c, 0)
}

func (u *Unit) Delete(c storage.Collection, id int64) error {
	return u.do(func(ctx context.Context, tx storage.Tx) error {
		return tx.Delete(ctx, c, id)
	}, c, id)
}

func (u *Unit) AddToSet(c storage.Collection, id int64, f storage.Field, v int64) error {
	return u.do(func(ctx context.Context, tx storage.Tx) error {
		return tx.AddToSet(ctx, c, id, f, v)
	}, c, id)
}

func (u *Unit) Push(c storage.Collection, id int64, f storage.Field, v int64) error {
	return u.do(func(ctx context.Context, tx storage.Tx) error {
		return tx.Push(ctx, c, id, f, v)
	}, c, id)
}

func (u *Unit) Pull(c storage.Collection, id int64, f storage.Field, v int64) error {
	return u.do(func(ctx context.Context, tx storage.Tx) error {
		return tx.Pull(ctx, c, id, f, v)
	}, c, id)
}

func (u *Unit) AppendParticipants(chat int64, ps []storage.Participant) error {
	return u.do(func(ctx context.Context, tx storage.Tx) error {
		return tx.AppendParticipants(ctx, chat, ps)
	}, storage.Chats, chat)
}

func (u *Unit) SetDeleted(c storage.Collection, id int64) error {
	return u.do(func(ctx context.Context, tx storage.Tx) error {
		return tx.SetDeleted(ctx, c, id)
	}, c, id)
}

func (u *Unit) SetUserImage(user int64, slot storage.ImageSlot, image *int64) error {
	return u.do(func(ctx context.Context, tx storage.Tx) error {
		return tx.SetUserImage(ctx, user, slot, image)
	}, storage.Users, user)
}

func (u *Unit) SetPreferences(user int64, p storage.Preferences) error {
	return u.do(func(ctx context.Context, tx storage.Tx) error {
		return tx.SetPreferences(ctx, user, p)
	}, storage.Users, user)
}

// AfterCommit registers a best-effort follow-up run after a successful commit
func (u *Unit) AfterCommit(name string, fn func(ctx context.Context) error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.followUps = append(u.followUps, followUp{name: name, fn: fn})
}

// Commit makes the unit's effects durable. A unit without operations commits as a no-op. When the
// commit succeeds but a follow-up fails, Commit returns a PartialSuccess error.
func (u *Unit) Commit() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if err := u.closed(); err != nil {
		return err
	}

	if u.ops == 0 {
		if err := u.tx.Rollback(u.ctx); err != nil {
			u.logger.Debugf("Releasing empty unit: %v", err)
		}
	} else if err := u.tx.Commit(u.ctx); err != nil {
		return u.abortLocked(apperr.Internal(err, "commit failed"))
	}

	u.state = committed
	u.logger.Debugf("Unit committed after %d operations", u.ops)

	var failed []string
	var last error
	for _, f := range u.followUps {
		if err := f.fn(u.ctx); err != nil {
			u.logger.Errorf("Follow-up %s failed: %v", f.name, err)
			failed = append(failed, f.name)
			last = err
		}
	}
	if last != nil {
		u.c.metrics.units.WithLabelValues(outcomePartial).Inc()
		return apperr.Partial(last, "committed, but %s failed", strings.Join(failed, ", "))
	}

	u.c.metrics.units.WithLabelValues(outcomeCommitted).Inc()
	return nil
}

// Abort discards the unit's effects and compensates them. It returns the TransactionAborted error
// of the unit, which for an already aborted unit is the one of the original failure.
func (u *Unit) Abort(cause error) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if err := u.closed(); err != nil {
		return err
	}
	return u.abortLocked(cause)
}

func (u *Unit) abortLocked(cause error) error {
	u.state = aborted
	u.err = apperr.Aborted(cause)

	u.logger.Infof("Aborting unit after %d operations: %v", u.ops, cause)
	if err := u.tx.Rollback(u.ctx); err != nil {
		u.logger.Warnf("Rollback failed: %v", err)
	}

	u.c.compensate(u.ctx, u.id, u.created, u.blobs)
	u.c.metrics.units.WithLabelValues(outcomeAborted).Inc()
	return u.err
}
