package memory

import (
	"context"
	"errors"

	"social-backend/internal/storage"
)

var errTxClosed = errors.New("transaction is closed")

// tx owns s.mu until Commit or Rollback
type tx struct {
	s      *Store
	undo   []func()
	closed bool
}

func (t *tx) Commit(ctx context.Context) error {
	if t.closed {
		return errTxClosed
	}
	t.closed = true
	t.undo = nil
	t.s.mu.Unlock()
	return nil
}

// Rollback reverts every write of t; it is a no-op on a closed transaction so it can be deferred
func (t *tx) Rollback(ctx context.Context) error {
	if t.closed {
		return nil
	}
	t.closed = true
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.s.logger.Debugf("Rolled back %d writes", len(t.undo))
	t.undo = nil
	t.s.mu.Unlock()
	return nil
}

func (t *tx) check() error {
	if t.closed {
		return errTxClosed
	}
	return nil
}

func (t *tx) User(ctx context.Context, id int64) (storage.User, error) {
	if err := t.check(); err != nil {
		return storage.User{}, err
	}
	return t.s.user(id)
}

func (t *tx) Users(ctx context.Context, ids []int64) ([]storage.User, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	return t.s.usersByIDs(ids), nil
}

func (t *tx) UserByAccountTag(ctx context.Context, tag string) (storage.User, error) {
	if err := t.check(); err != nil {
		return storage.User{}, err
	}
	return t.s.userByAccountTag(tag)
}

func (t *tx) Chat(ctx context.Context, id int64) (storage.Chat, error) {
	if err := t.check(); err != nil {
		return storage.Chat{}, err
	}
	return t.s.chat(id)
}

func (t *tx) Chats(ctx context.Context, ids []int64) ([]storage.Chat, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	return t.s.chatsByIDs(ids), nil
}

func (t *tx) IndividualChat(ctx context.Context, a, b int64) (storage.Chat, error) {
	if err := t.check(); err != nil {
		return storage.Chat{}, err
	}
	return t.s.individualChat(a, b)
}

func (t *tx) Message(ctx context.Context, id int64) (storage.Message, error) {
	if err := t.check(); err != nil {
		return storage.Message{}, err
	}
	return t.s.message(id)
}

func (t *tx) Messages(ctx context.Context, ids []int64) ([]storage.Message, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	return t.s.messagesByIDs(ids), nil
}

func (t *tx) Post(ctx context.Context, id int64) (storage.Post, error) {
	if err := t.check(); err != nil {
		return storage.Post{}, err
	}
	return t.s.post(id)
}

func (t *tx) Posts(ctx context.Context, ids []int64) ([]storage.Post, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	return t.s.postsByIDs(ids), nil
}

func (t *tx) Image(ctx context.Context, id int64) (storage.Image, error) {
	if err := t.check(); err != nil {
		return storage.Image{}, err
	}
	return t.s.image(id)
}

func (t *tx) Images(ctx context.Context, ids []int64) ([]storage.Image, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	return t.s.imagesByIDs(ids), nil
}

func (t *tx) InsertUser(ctx context.Context, u *storage.User) error {
	if err := t.check(); err != nil {
		return err
	}
	if _, err := t.s.userByAccountTag(u.AccountTag); err == nil {
		return storage.ErrConflict
	}

	u.ID = t.s.nextID()
	u.CreatedAt = t.s.now()
	t.s.users[u.ID] = cloneUser(*u)

	id := u.ID
	t.undo = append(t.undo, func() { delete(t.s.users, id) })
	t.s.logger.Debugf("Inserted user (%s) with id %d", u.AccountTag, id)
	return nil
}

func (t *tx) InsertChat(ctx context.Context, c *storage.Chat) error {
	if err := t.check(); err != nil {
		return err
	}

	seen := make(map[int64]bool, len(c.Participants))
	for _, p := range c.Participants {
		if seen[p.User] {
			return storage.ErrConflict
		}
		seen[p.User] = true
		if _, ok := t.s.users[p.User]; !ok {
			return storage.ErrNotFound
		}
	}
	if c.Type == storage.ChatIndividual && len(c.Participants) == 2 {
		if _, err := t.s.individualChat(c.Participants[0].User, c.Participants[1].User); err == nil {
			return storage.ErrConflict
		}
	}

	c.ID = t.s.nextID()
	c.CreatedAt = t.s.now()
	t.s.chats[c.ID] = cloneChat(*c)

	id := c.ID
	t.undo = append(t.undo, func() { delete(t.s.chats, id) })
	t.s.logger.Debugf("Inserted %s chat with id %d", c.Type, id)
	return nil
}

func (t *tx) InsertMessage(ctx context.Context, m *storage.Message) error {
	if err := t.check(); err != nil {
		return err
	}
	if _, ok := t.s.users[m.Author]; !ok {
		return storage.ErrNotFound
	}

	m.ID = t.s.nextID()
	m.CreatedAt = t.s.now()
	t.s.messages[m.ID] = cloneMessage(*m)

	id := m.ID
	t.undo = append(t.undo, func() { delete(t.s.messages, id) })
	t.s.logger.Debugf("Inserted message with id %d", id)
	return nil
}

func (t *tx) InsertPost(ctx context.Context, p *storage.Post) error {
	if err := t.check(); err != nil {
		return err
	}
	if _, ok := t.s.users[p.Author]; !ok {
		return storage.ErrNotFound
	}

	p.ID = t.s.nextID()
	p.CreatedAt = t.s.now()
	t.s.posts[p.ID] = clonePost(*p)

	id := p.ID
	t.undo = append(t.undo, func() { delete(t.s.posts, id) })
	t.s.logger.Debugf("Inserted post with id %d", id)
	return nil
}

func (t *tx) InsertImage(ctx context.Context, i *storage.Image) error {
	if err := t.check(); err != nil {
		return err
	}

	i.ID = t.s.nextID()
	i.CreatedAt = t.s.now()
	t.s.images[i.ID] = *i

	id := i.ID
	t.undo = append(t.undo, func() { delete(t.s.images, id) })
	t.s.logger.Debugf("Inserted image with id %d", id)
	return nil
}

func (t *tx) Delete(ctx context.Context, c storage.Collection, id int64) error {
	if err := t.check(); err != nil {
		return err
	}

	var restore func()
	switch c {
	case storage.Users:
		prev, ok := t.s.users[id]
		if !ok {
			return storage.ErrNotFound
		}
		delete(t.s.users, id)
		restore = func() { t.s.users[id] = prev }
	case storage.Chats:
		prev, ok := t.s.chats[id]
		if !ok {
			return storage.ErrNotFound
		}
		delete(t.s.chats, id)
		restore = func() { t.s.chats[id] = prev }
	case storage.Messages:
		prev, ok := t.s.messages[id]
		if !ok {
			return storage.ErrNotFound
		}
		delete(t.s.messages, id)
		restore = func() { t.s.messages[id] = prev }
	case storage.Posts:
		prev, ok := t.s.posts[id]
		if !ok {
			return storage.ErrNotFound
		}
		delete(t.s.posts, id)
		restore = func() { t.s.posts[id] = prev }
	case storage.Images:
		prev, ok := t.s.images[id]
		if !ok {
			return storage.ErrNotFound
		}
		delete(t.s.images, id)
		restore = func() { t.s.images[id] = prev }
	default:
		return storage.ErrNotFound
	}

	t.undo = append(t.undo, restore)
	t.s.logger.Debugf("Deleted %s document %d", c, id)
	return nil
}

func (t *tx) AddToSet(ctx context.Context, c storage.Collection, id int64, f storage.Field, v int64) error {
	return t.updateSet(c, id, f, func(ids []int64) []int64 {
		if storage.Contains(ids, v) {
			return ids
		}
		return append(ids, v)
	})
}

func (t *tx) Push(ctx context.Context, c storage.Collection, id int64, f storage.Field, v int64) error {
	return t.updateSet(c, id, f, func(ids []int64) []int64 {
		return append(ids, v)
	})
}

func (t *tx) Pull(ctx context.Context, c storage.Collection, id int64, f storage.Field, v int64) error {
	return t.updateSet(c, id, f, func(ids []int64) []int64 {
		out := ids[:0]
		for _, x := range ids {
			if x != v {
				out = append(out, x)
			}
		}
		return out
	})
}

// updateSet applies fn to a copy of reference set f of document id
func (t *tx) updateSet(c storage.Collection, id int64, f storage.Field, fn func([]int64) []int64) error {
	if err := t.check(); err != nil {
		return err
	}
	if !storage.HasSetField(c, f) {
		return errUnknownField(c, f)
	}

	switch c {
	case storage.Users:
		u, ok := t.s.users[id]
		if !ok {
			return storage.ErrNotFound
		}
		prev := cloneUser(u)
		u = cloneUser(u)
		switch f {
		case storage.FieldPosts:
			u.Posts = fn(u.Posts)
		case storage.FieldLikes:
			u.Likes = fn(u.Likes)
		case storage.FieldChats:
			u.Chats = fn(u.Chats)
		case storage.FieldFollowing:
			u.Following = fn(u.Following)
		case storage.FieldFollowers:
			u.Followers = fn(u.Followers)
		}
		t.s.users[id] = u
		t.undo = append(t.undo, func() { t.s.users[id] = prev })
	case storage.Chats:
		ch, ok := t.s.chats[id]
		if !ok {
			return storage.ErrNotFound
		}
		prev := cloneChat(ch)
		ch = cloneChat(ch)
		ch.Messages = fn(ch.Messages)
		t.s.chats[id] = ch
		t.undo = append(t.undo, func() { t.s.chats[id] = prev })
	case storage.Posts:
		p, ok := t.s.posts[id]
		if !ok {
			return storage.ErrNotFound
		}
		prev := clonePost(p)
		p = clonePost(p)
		switch f {
		case storage.FieldLikes:
			p.Likes = fn(p.Likes)
		case storage.FieldReplies:
			p.Replies = fn(p.Replies)
		}
		t.s.posts[id] = p
		t.undo = append(t.undo, func() { t.s.posts[id] = prev })
	}
	return nil
}

func (t *tx) AppendParticipants(ctx context.Context, chat int64, ps []storage.Participant) error {
	if err := t.check(); err != nil {
		return err
	}
	c, ok := t.s.chats[chat]
	if !ok {
		return storage.ErrNotFound
	}

	seen := make(map[int64]bool, len(c.Participants)+len(ps))
	for _, p := range c.Participants {
		seen[p.User] = true
	}
	for _, p := range ps {
		if seen[p.User] {
			return storage.ErrConflict
		}
		seen[p.User] = true
		if _, ok := t.s.users[p.User]; !ok {
			return storage.ErrNotFound
		}
	}

	prev := cloneChat(c)
	c = cloneChat(c)
	c.Participants = append(c.Participants, ps...)
	t.s.chats[chat] = c
	t.undo = append(t.undo, func() { t.s.chats[chat] = prev })
	t.s.logger.Debugf("Appended %d participants to chat %d", len(ps), chat)
	return nil
}

func (t *tx) SetDeleted(ctx context.Context, c storage.Collection, id int64) error {
	if err := t.check(); err != nil {
		return err
	}

	switch c {
	case storage.Messages:
		m, ok := t.s.messages[id]
		if !ok {
			return storage.ErrNotFound
		}
		prev := m
		m.Deleted = true
		t.s.messages[id] = m
		t.undo = append(t.undo, func() { t.s.messages[id] = prev })
	case storage.Posts:
		p, ok := t.s.posts[id]
		if !ok {
			return storage.ErrNotFound
		}
		prev := p
		p.Deleted = true
		t.s.posts[id] = p
		t.undo = append(t.undo, func() { t.s.posts[id] = prev })
	default:
		return storage.ErrNotFound
	}
	return nil
}

func (t *tx) SetUserImage(ctx context.Context, user int64, slot storage.ImageSlot, image *int64) error {
	if err := t.check(); err != nil {
		return err
	}
	u, ok := t.s.users[user]
	if !ok {
		return storage.ErrNotFound
	}

	prev := cloneUser(u)
	u = cloneUser(u)
	switch slot {
	case storage.SlotProfileImage:
		u.Preferences.ProfileImage = cloneRef(image)
	case storage.SlotHeaderImage:
		u.Preferences.HeaderImage = cloneRef(image)
	}
	t.s.users[user] = u
	t.undo = append(t.undo, func() { t.s.users[user] = prev })
	return nil
}

func (t *tx) SetPreferences(ctx context.Context, user int64, p storage.Preferences) error {
	if err := t.check(); err != nil {
		return err
	}
	u, ok := t.s.users[user]
	if !ok {
		return storage.ErrNotFound
	}

	prev := cloneUser(u)
	u = cloneUser(u)
	u.Preferences.DisplayName = p.DisplayName
	u.Preferences.Bio = p.Bio
	u.Preferences.Theme = p.Theme
	t.s.users[user] = u
	t.undo = append(t.undo, func() { t.s.users[user] = prev })
	return nil
}
