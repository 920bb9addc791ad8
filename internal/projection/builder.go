package projection

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"social-backend/internal/apperr"
	"social-backend/internal/authz"
	"social-backend/internal/storage"
)

const defaultLimit = 10

// Option alters the default configuration of a Builder
type Option interface {
	apply(*Builder)
}

type optionFunc func(b *Builder)

func (f optionFunc) apply(b *Builder) { f(b) }

// MaxLimit clamps page sizes
func MaxLimit(n int) Option {
	return optionFunc(func(b *Builder) {
		b.maxLimit = n
	})
}

// MaxFanout bounds the number of documents a join resolves per store call
func MaxFanout(n int) Option {
	return optionFunc(func(b *Builder) {
		b.maxFanout = n
	})
}

// WithRegisterer registers the view latency histogram on reg
func WithRegisterer(reg prometheus.Registerer) Option {
	return optionFunc(func(b *Builder) {
		b.registerer = reg
	})
}

// Page selects a window of a view: documents older than After, at most Limit of them.
// A zero After starts from the newest document; a zero Limit means the default of 10.
type Page struct {
	After int64
	Limit int
}

// Builder serves read views straight from the Entity Store, bypassing units of work
type Builder struct {
	logger     *zap.SugaredLogger
	store      storage.Reader
	maxLimit   int
	maxFanout  int
	registerer prometheus.Registerer
	latency    *prometheus.HistogramVec
}

func NewBuilder(logger *zap.SugaredLogger, store storage.Reader, opts ...Option) *Builder {
	b := &Builder{
		logger:    logger,
		store:     store,
		maxLimit:  100,
		maxFanout: 1000,
	}
	for _, o := range opts {
		o.apply(b)
	}
	b.latency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "social",
		Name:      "projection_duration_seconds",
		Help:      "Time spent building read views.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"view"})
	if b.registerer != nil {
		b.registerer.MustRegister(b.latency)
	}
	return b
}

func (b *Builder) observe(view string, start time.Time) {
	b.latency.WithLabelValues(view).Observe(time.Since(start).Seconds())
}

func (b *Builder) limit(p Page) (int, error) {
	switch {
	case p.Limit < 0:
		return 0, apperr.BadRequest("limit must be a non-negative integer")
	case p.Limit == 0:
		return defaultLimit, nil
	case p.Limit > b.maxLimit:
		return b.maxLimit, nil
	}
	return p.Limit, nil
}

// cursor resolves the after id of p against collection c
func (b *Builder) cursor(ctx context.Context, c storage.Collection, p Page) (*Cursor, error) {
	if p.After == 0 {
		return nil, nil
	}

	var at time.Time
	var err error
	switch c {
	case storage.Users:
		var u storage.User
		u, err = b.store.User(ctx, p.After)
		at = u.CreatedAt
	case storage.Chats:
		var ch storage.Chat
		ch, err = b.store.Chat(ctx, p.After)
		at = ch.CreatedAt
	case storage.Messages:
		var m storage.Message
		m, err = b.store.Message(ctx, p.After)
		at = m.CreatedAt
	case storage.Posts:
		var po storage.Post
		po, err = b.store.Post(ctx, p.After)
		at = po.CreatedAt
	}
	if err != nil {
		return nil, notFound(err, c, p.After)
	}
	return &Cursor{CreatedAt: at, ID: p.After}, nil
}

// window builds the filter, sort and page steps shared by every list view
func window[T any](ctx context.Context, b *Builder, name string, c storage.Collection, key func(T) Cursor, p Page, filters ...func(T) bool) (*Plan[T], error) {
	limit, err := b.limit(p)
	if err != nil {
		return nil, err
	}
	after, err := b.cursor(ctx, c, p)
	if err != nil {
		return nil, err
	}
	plan := NewPlan(name, key, b.maxFanout)
	for _, keep := range filters {
		plan.Filter(keep)
	}
	return plan.Sort().Page(after, limit), nil
}

func notFound(err error, c storage.Collection, id int64) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.NotFound("%s %d not found", singular(c), id)
	}
	return apperr.Internal(err, "reading %s %d", singular(c), id)
}

func singular(c storage.Collection) string {
	s := string(c)
	return s[:len(s)-1]
}

func chatKey(c storage.Chat) Cursor       { return Cursor{CreatedAt: c.CreatedAt, ID: c.ID} }
func messageKey(m storage.Message) Cursor { return Cursor{CreatedAt: m.CreatedAt, ID: m.ID} }
func postKey(p storage.Post) Cursor       { return Cursor{CreatedAt: p.CreatedAt, ID: p.ID} }
func userKey(u storage.User) Cursor       { return Cursor{CreatedAt: u.CreatedAt, ID: u.ID} }

// resolvers filling lookups from the store

func (b *Builder) usersInto(l *lookups) func(ctx context.Context, ids []int64) error {
	return func(ctx context.Context, ids []int64) error {
		users, err := b.store.Users(ctx, ids)
		if err != nil {
			return apperr.Internal(err, "resolving users")
		}
		for _, u := range users {
			l.users[u.ID] = u
		}
		return nil
	}
}

func (b *Builder) messagesInto(l *lookups) func(ctx context.Context, ids []int64) error {
	return func(ctx context.Context, ids []int64) error {
		messages, err := b.store.Messages(ctx, ids)
		if err != nil {
			return apperr.Internal(err, "resolving messages")
		}
		for _, m := range messages {
			l.messages[m.ID] = m
		}
		return nil
	}
}

func (b *Builder) postsInto(l *lookups) func(ctx context.Context, ids []int64) error {
	return func(ctx context.Context, ids []int64) error {
		posts, err := b.store.Posts(ctx, ids)
		if err != nil {
			return apperr.Internal(err, "resolving posts")
		}
		for _, p := range posts {
			l.posts[p.ID] = p
		}
		return nil
	}
}

func (b *Builder) imagesInto(l *lookups) func(ctx context.Context, ids []int64) error {
	return func(ctx context.Context, ids []int64) error {
		images, err := b.store.Images(ctx, ids)
		if err != nil {
			return apperr.Internal(err, "resolving images")
		}
		for _, i := range images {
			l.images[i.ID] = i
		}
		return nil
	}
}

func refs(ids ...*int64) []int64 {
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id != nil {
			out = append(out, *id)
		}
	}
	return out
}

// profileImages returns the profile image refs of the users resolved so far for ids
func (l *lookups) profileImages(ids ...int64) []int64 {
	var out []int64
	for _, id := range ids {
		if u, ok := l.users[id]; ok && u.Preferences.ProfileImage != nil {
			out = append(out, *u.Preferences.ProfileImage)
		}
	}
	return out
}

// ChatOverviews lists the chats of user, newest first
func (b *Builder) ChatOverviews(ctx context.Context, user int64, p Page) ([]ChatOverview, error) {
	defer b.observe("chat_overviews", time.Now())

	u, err := b.store.User(ctx, user)
	if err != nil {
		return nil, notFound(err, storage.Users, user)
	}
	chats, err := b.store.Chats(ctx, u.Chats)
	if err != nil {
		return nil, apperr.Internal(err, "loading chats of user %d", user)
	}

	plan, err := window(ctx, b, "chat overviews", storage.Chats, chatKey, p)
	if err != nil {
		return nil, err
	}
	l := newLookups()
	plan.
		Join("recent messages", func(c storage.Chat) []int64 {
			if n := len(c.Messages); n > 0 {
				return c.Messages[n-1:]
			}
			return nil
		}, b.messagesInto(l)).
		Join("participants", func(c storage.Chat) []int64 {
			ids := make([]int64, len(c.Participants))
			for i, p := range c.Participants {
				ids[i] = p.User
			}
			return ids
		}, b.usersInto(l)).
		Join("images", func(c storage.Chat) []int64 { return refs(c.Image) }, b.imagesInto(l))

	return Project(ctx, plan, chats, l.chatOverview)
}

// ChatMessages lists the messages of chat, newest first, to one of its participants
func (b *Builder) ChatMessages(ctx context.Context, chat, viewer int64, p Page) ([]MessageView, error) {
	defer b.observe("chat_messages", time.Now())

	c, err := b.store.Chat(ctx, chat)
	if err != nil {
		return nil, notFound(err, storage.Chats, chat)
	}
	if err := authz.Evaluate(viewer, c.Participants, false, storage.RoleGuest).Err(); err != nil {
		return nil, err
	}
	messages, err := b.store.Messages(ctx, c.Messages)
	if err != nil {
		return nil, apperr.Internal(err, "loading messages of chat %d", chat)
	}

	plan, err := window(ctx, b, "chat messages", storage.Messages, messageKey, p)
	if err != nil {
		return nil, err
	}
	l := newLookups()
	plan.
		Join("authors", func(m storage.Message) []int64 { return []int64{m.Author} }, b.usersInto(l)).
		Join("images", func(m storage.Message) []int64 {
			ids := l.profileImages(m.Author)
			if !m.Deleted {
				ids = append(ids, m.Images...)
			}
			return ids
		}, b.imagesInto(l))

	return Project(ctx, plan, messages, l.messageView)
}

// postDetails pages posts and resolves their authors and images for viewer
func (b *Builder) postDetails(ctx context.Context, name string, posts []storage.Post, viewer int64, p Page, filters ...func(storage.Post) bool) ([]PostDetail, error) {
	plan, err := window(ctx, b, name, storage.Posts, postKey, p, filters...)
	if err != nil {
		return nil, err
	}
	l := newLookups()
	plan.
		Join("authors", func(p storage.Post) []int64 { return []int64{p.Author} }, b.usersInto(l)).
		Join("images", func(p storage.Post) []int64 {
			ids := l.profileImages(p.Author)
			if !p.Deleted {
				ids = append(ids, p.Images...)
			}
			return ids
		}, b.imagesInto(l))

	return Project(ctx, plan, posts, func(p storage.Post) PostDetail { return l.postDetail(p, viewer) })
}

// userSummaries pages users and resolves their images and posts
func (b *Builder) userSummaries(ctx context.Context, name string, users []storage.User, p Page) ([]UserSummary, error) {
	plan, err := window(ctx, b, name, storage.Users, userKey, p)
	if err != nil {
		return nil, err
	}
	l := newLookups()
	plan.
		Join("images", func(u storage.User) []int64 {
			return refs(u.Preferences.ProfileImage, u.Preferences.HeaderImage)
		}, b.imagesInto(l)).
		Join("posts", func(u storage.User) []int64 { return u.Posts }, b.postsInto(l))

	return Project(ctx, plan, users, l.userSummary)
}

// PostDetail returns post as seen by viewer
func (b *Builder) PostDetail(ctx context.Context, post, viewer int64) (PostDetail, error) {
	defer b.observe("post_detail", time.Now())

	po, err := b.store.Post(ctx, post)
	if err != nil {
		return PostDetail{}, notFound(err, storage.Posts, post)
	}
	views, err := b.postDetails(ctx, "post detail", []storage.Post{po}, viewer, Page{Limit: 1})
	if err != nil {
		return PostDetail{}, err
	}
	return views[0], nil
}

// PostLikes lists the users who liked post
func (b *Builder) PostLikes(ctx context.Context, post int64, p Page) ([]UserSummary, error) {
	defer b.observe("post_likes", time.Now())

	po, err := b.store.Post(ctx, post)
	if err != nil {
		return nil, notFound(err, storage.Posts, post)
	}
	users, err := b.store.Users(ctx, po.Likes)
	if err != nil {
		return nil, apperr.Internal(err, "loading likes of post %d", post)
	}
	return b.userSummaries(ctx, "post likes", users, p)
}

// PostReplies lists the replies to post
func (b *Builder) PostReplies(ctx context.Context, post, viewer int64, p Page) ([]PostDetail, error) {
	defer b.observe("post_replies", time.Now())

	po, err := b.store.Post(ctx, post)
	if err != nil {
		return nil, notFound(err, storage.Posts, post)
	}
	replies, err := b.store.Posts(ctx, po.Replies)
	if err != nil {
		return nil, apperr.Internal(err, "loading replies of post %d", post)
	}
	return b.postDetails(ctx, "post replies", replies, viewer, p)
}

// UserPosts lists the posts of user, replies included
func (b *Builder) UserPosts(ctx context.Context, user, viewer int64, p Page) ([]PostDetail, error) {
	defer b.observe("user_posts", time.Now())

	u, err := b.store.User(ctx, user)
	if err != nil {
		return nil, notFound(err, storage.Users, user)
	}
	posts, err := b.store.Posts(ctx, u.Posts)
	if err != nil {
		return nil, apperr.Internal(err, "loading posts of user %d", user)
	}
	return b.postDetails(ctx, "user posts", posts, viewer, p)
}

// Feed lists the live posts of user and of the users they follow
func (b *Builder) Feed(ctx context.Context, user int64, p Page) ([]PostDetail, error) {
	defer b.observe("feed", time.Now())

	u, err := b.store.User(ctx, user)
	if err != nil {
		return nil, notFound(err, storage.Users, user)
	}
	followed, err := b.store.Users(ctx, u.Following)
	if err != nil {
		return nil, apperr.Internal(err, "loading users followed by %d", user)
	}
	ids := append([]int64(nil), u.Posts...)
	for _, f := range followed {
		ids = append(ids, f.Posts...)
	}
	posts, err := b.store.Posts(ctx, ids)
	if err != nil {
		return nil, apperr.Internal(err, "loading feed of user %d", user)
	}
	return b.postDetails(ctx, "feed", posts, user, p, func(p storage.Post) bool { return !p.Deleted })
}

// UserSummary returns the profile of user with its counters
func (b *Builder) UserSummary(ctx context.Context, user int64) (UserSummary, error) {
	defer b.observe("user_summary", time.Now())

	u, err := b.store.User(ctx, user)
	if err != nil {
		return UserSummary{}, notFound(err, storage.Users, user)
	}
	views, err := b.userSummaries(ctx, "user summary", []storage.User{u}, Page{Limit: 1})
	if err != nil {
		return UserSummary{}, err
	}
	return views[0], nil
}

// Followers lists the users following user
func (b *Builder) Followers(ctx context.Context, user int64, p Page) ([]UserSummary, error) {
	defer b.observe("followers", time.Now())

	u, err := b.store.User(ctx, user)
	if err != nil {
		return nil, notFound(err, storage.Users, user)
	}
	users, err := b.store.Users(ctx, u.Followers)
	if err != nil {
		return nil, apperr.Internal(err, "loading followers of user %d", user)
	}
	return b.userSummaries(ctx, "followers", users, p)
}

// Following lists the users user follows
func (b *Builder) Following(ctx context.Context, user int64, p Page) ([]UserSummary, error) {
	defer b.observe("following", time.Now())

	u, err := b.store.User(ctx, user)
	if err != nil {
		return nil, notFound(err, storage.Users, user)
	}
	users, err := b.store.Users(ctx, u.Following)
	if err != nil {
		return nil, apperr.Internal(err, "loading users followed by %d", user)
	}
	return b.userSummaries(ctx, "following", users, p)
}
