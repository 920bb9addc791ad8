// Package memory provides an in-process Entity Store. A transaction holds the store's write lock
// from Begin until Commit or Rollback, and Rollback replays an undo log, so units of work are
// serializable and a failed unit leaves no partial write behind.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"social-backend/internal/storage"
)

// Option alters the default configuration of a Store
type Option interface {
	apply(*Store)
}

type optionFunc func(s *Store)

func (f optionFunc) apply(s *Store) { f(s) }

// WithClock replaces time.Now as the source of CreatedAt values
func WithClock(now func() time.Time) Option {
	return optionFunc(func(s *Store) {
		s.now = now
	})
}

// Store keeps every collection in maps guarded by a single RWMutex
type Store struct {
	logger *zap.SugaredLogger
	now    func() time.Time

	mu       sync.RWMutex
	seq      int64
	users    map[int64]storage.User
	chats    map[int64]storage.Chat
	messages map[int64]storage.Message
	posts    map[int64]storage.Post
	images   map[int64]storage.Image
}

var _ storage.Backend = (*Store)(nil)

// New returns an empty Store
func New(logger *zap.SugaredLogger, opts ...Option) *Store {
	s := &Store{
		logger:   logger,
		now:      time.Now,
		users:    make(map[int64]storage.User),
		chats:    make(map[int64]storage.Chat),
		messages: make(map[int64]storage.Message),
		posts:    make(map[int64]storage.Post),
		images:   make(map[int64]storage.Image),
	}
	for _, o := range opts {
		o.apply(s)
	}
	return s
}

// Begin locks the store for writing until the returned Tx is committed or rolled back
func (s *Store) Begin(ctx context.Context) (storage.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	return &tx{s: s}, nil
}

// Close is a no-op, kept to satisfy storage.Backend
func (s *Store) Close() {}

// Count returns the number of documents in c
func (s *Store) Count(c storage.Collection) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch c {
	case storage.Users:
		return len(s.users)
	case storage.Chats:
		return len(s.chats)
	case storage.Messages:
		return len(s.messages)
	case storage.Posts:
		return len(s.posts)
	case storage.Images:
		return len(s.images)
	}
	return 0
}

func (s *Store) User(ctx context.Context, id int64) (storage.User, error) {
	if err := ctx.Err(); err != nil {
		return storage.User{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user(id)
}

func (s *Store) Users(ctx context.Context, ids []int64) ([]storage.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.usersByIDs(ids), nil
}

func (s *Store) UserByAccountTag(ctx context.Context, tag string) (storage.User, error) {
	if err := ctx.Err(); err != nil {
		return storage.User{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userByAccountTag(tag)
}

func (s *Store) Chat(ctx context.Context, id int64) (storage.Chat, error) {
	if err := ctx.Err(); err != nil {
		return storage.Chat{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chat(id)
}

func (s *Store) Chats(ctx context.Context, ids []int64) ([]storage.Chat, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chatsByIDs(ids), nil
}

func (s *Store) IndividualChat(ctx context.Context, a, b int64) (storage.Chat, error) {
	if err := ctx.Err(); err != nil {
		return storage.Chat{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.individualChat(a, b)
}

func (s *Store) Message(ctx context.Context, id int64) (storage.Message, error) {
	if err := ctx.Err(); err != nil {
		return storage.Message{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.message(id)
}

func (s *Store) Messages(ctx context.Context, ids []int64) ([]storage.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.messagesByIDs(ids), nil
}

func (s *Store) Post(ctx context.Context, id int64) (storage.Post, error) {
	if err := ctx.Err(); err != nil {
		return storage.Post{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.post(id)
}

func (s *Store) Posts(ctx context.Context, ids []int64) ([]storage.Post, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.postsByIDs(ids), nil
}

func (s *Store) Image(ctx context.Context, id int64) (storage.Image, error) {
	if err := ctx.Err(); err != nil {
		return storage.Image{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.image(id)
}

func (s *Store) Images(ctx context.Context, ids []int64) ([]storage.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.imagesByIDs(ids), nil
}

// unlocked lookups, callers hold s.mu

func (s *Store) user(id int64) (storage.User, error) {
	u, ok := s.users[id]
	if !ok {
		return storage.User{}, storage.ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *Store) usersByIDs(ids []int64) []storage.User {
	out := make([]storage.User, 0, len(ids))
	for _, id := range dedup(ids) {
		if u, ok := s.users[id]; ok {
			out = append(out, cloneUser(u))
		}
	}
	return out
}

func (s *Store) userByAccountTag(tag string) (storage.User, error) {
	for _, u := range s.users {
		if u.AccountTag == tag {
			return cloneUser(u), nil
		}
	}
	return storage.User{}, storage.ErrNotFound
}

func (s *Store) chat(id int64) (storage.Chat, error) {
	c, ok := s.chats[id]
	if !ok {
		return storage.Chat{}, storage.ErrNotFound
	}
	return cloneChat(c), nil
}

func (s *Store) chatsByIDs(ids []int64) []storage.Chat {
	out := make([]storage.Chat, 0, len(ids))
	for _, id := range dedup(ids) {
		if c, ok := s.chats[id]; ok {
			out = append(out, cloneChat(c))
		}
	}
	return out
}

func (s *Store) individualChat(a, b int64) (storage.Chat, error) {
	for _, c := range s.chats {
		if c.Type != storage.ChatIndividual || len(c.Participants) != 2 {
			continue
		}
		_, hasA := c.Participant(a)
		_, hasB := c.Participant(b)
		if hasA && hasB {
			return cloneChat(c), nil
		}
	}
	return storage.Chat{}, storage.ErrNotFound
}

func (s *Store) message(id int64) (storage.Message, error) {
	m, ok := s.messages[id]
	if !ok {
		return storage.Message{}, storage.ErrNotFound
	}
	return cloneMessage(m), nil
}

func (s *Store) messagesByIDs(ids []int64) []storage.Message {
	out := make([]storage.Message, 0, len(ids))
	for _, id := range dedup(ids) {
		if m, ok := s.messages[id]; ok {
			out = append(out, cloneMessage(m))
		}
	}
	return out
}

func (s *Store) post(id int64) (storage.Post, error) {
	p, ok := s.posts[id]
	if !ok {
		return storage.Post{}, storage.ErrNotFound
	}
	return clonePost(p), nil
}

func (s *Store) postsByIDs(ids []int64) []storage.Post {
	out := make([]storage.Post, 0, len(ids))
	for _, id := range dedup(ids) {
		if p, ok := s.posts[id]; ok {
			out = append(out, clonePost(p))
		}
	}
	return out
}

func (s *Store) image(id int64) (storage.Image, error) {
	i, ok := s.images[id]
	if !ok {
		return storage.Image{}, storage.ErrNotFound
	}
	return i, nil
}

func (s *Store) imagesByIDs(ids []int64) []storage.Image {
	out := make([]storage.Image, 0, len(ids))
	for _, id := range dedup(ids) {
		if i, ok := s.images[id]; ok {
			out = append(out, i)
		}
	}
	return out
}

func (s *Store) nextID() int64 {
	s.seq++
	return s.seq
}

func errUnknownField(c storage.Collection, f storage.Field) error {
	return fmt.Errorf("collection %s has no reference set %q", c, f)
}

func dedup(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func cloneIDs(ids []int64) []int64 {
	if ids == nil {
		return nil
	}
	out := make([]int64, len(ids))
	copy(out, ids)
	return out
}

func cloneRef(ref *int64) *int64 {
	if ref == nil {
		return nil
	}
	v := *ref
	return &v
}

func cloneUser(u storage.User) storage.User {
	u.Preferences.ProfileImage = cloneRef(u.Preferences.ProfileImage)
	u.Preferences.HeaderImage = cloneRef(u.Preferences.HeaderImage)
	u.Posts = cloneIDs(u.Posts)
	u.Likes = cloneIDs(u.Likes)
	u.Chats = cloneIDs(u.Chats)
	u.Following = cloneIDs(u.Following)
	u.Followers = cloneIDs(u.Followers)
	return u
}

func cloneChat(c storage.Chat) storage.Chat {
	c.Image = cloneRef(c.Image)
	if c.Participants != nil {
		ps := make([]storage.Participant, len(c.Participants))
		copy(ps, c.Participants)
		c.Participants = ps
	}
	c.Messages = cloneIDs(c.Messages)
	return c
}

func cloneMessage(m storage.Message) storage.Message {
	m.Images = cloneIDs(m.Images)
	m.ReplyingTo = cloneRef(m.ReplyingTo)
	return m
}

func clonePost(p storage.Post) storage.Post {
	p.Images = cloneIDs(p.Images)
	p.ReplyingTo = cloneRef(p.ReplyingTo)
	p.Likes = cloneIDs(p.Likes)
	p.Replies = cloneIDs(p.Replies)
	return p
}
