package projection

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"social-backend/internal/apperr"
	"social-backend/internal/storage"
	"social-backend/internal/storage/memory"
	testingutils "social-backend/internal/testing"
)

type fixture struct {
	t     *testing.T
	store *memory.Store
	b     *Builder
}

// bootstrap returns a builder over a memory store whose clock advances a minute per document
func bootstrap(t *testing.T, opts ...Option) *fixture {
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)

	now := time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		now = now.Add(time.Minute)
		return now
	}
	store := memory.New(logger.Sugar(), memory.WithClock(clock))
	opts = append([]Option{WithRegisterer(prometheus.NewRegistry())}, opts...)
	return &fixture{t: t, store: store, b: NewBuilder(logger.Sugar(), store, opts...)}
}

func (f *fixture) write(fn func(ctx context.Context, tx storage.Tx)) {
	ctx := context.Background()
	tx, err := f.store.Begin(ctx)
	require.NoError(f.t, err)
	fn(ctx, tx)
	require.NoError(f.t, tx.Commit(ctx))
}

func (f *fixture) users(n int) []int64 {
	ids, err := testingutils.SeedUsers(context.Background(), f.store, n)
	require.NoError(f.t, err)
	return ids
}

func (f *fixture) image(url string) int64 {
	var id int64
	f.write(func(ctx context.Context, tx storage.Tx) {
		i := storage.Image{URL: url, Alt: "alt"}
		require.NoError(f.t, tx.InsertImage(ctx, &i))
		id = i.ID
	})
	return id
}

func (f *fixture) posts(author int64, n int) []int64 {
	var ids []int64
	f.write(func(ctx context.Context, tx storage.Tx) {
		for i := 0; i < n; i++ {
			p := storage.Post{Author: author, Text: testingutils.RandString(8)}
			require.NoError(f.t, tx.InsertPost(ctx, &p))
			require.NoError(f.t, tx.AddToSet(ctx, storage.Users, author, storage.FieldPosts, p.ID))
			ids = append(ids, p.ID)
		}
	})
	return ids
}

func postIDs(views []PostDetail) []int64 {
	out := make([]int64, len(views))
	for i, v := range views {
		out[i] = v.ID
	}
	return out
}

func TestChatOverviews(t *testing.T) {
	f := bootstrap(t)
	users := f.users(3)
	image := f.image("http://cdn/chat.png")

	var group, individual storage.Chat
	f.write(func(ctx context.Context, tx storage.Tx) {
		individual = storage.Chat{Type: storage.ChatIndividual, Participants: []storage.Participant{
			{User: users[0], Role: storage.RoleAdmin}, {User: users[1], Role: storage.RoleAdmin},
		}}
		require.NoError(t, tx.InsertChat(ctx, &individual))
		group = storage.Chat{Type: storage.ChatGroup, Name: "friends", Image: &image, Participants: []storage.Participant{
			{User: users[0], Role: storage.RoleAdmin}, {User: users[2], Role: storage.RoleGuest, Nickname: "c"},
		}}
		require.NoError(t, tx.InsertChat(ctx, &group))

		for _, text := range []string{"first", "second"} {
			m := storage.Message{Author: users[2], Text: text, Images: []int64{image}}
			require.NoError(t, tx.InsertMessage(ctx, &m))
			require.NoError(t, tx.Push(ctx, storage.Chats, group.ID, storage.FieldMessages, m.ID))
			if text == "second" {
				require.NoError(t, tx.SetDeleted(ctx, storage.Messages, m.ID))
			}
		}
		for _, c := range []int64{individual.ID, group.ID} {
			require.NoError(t, tx.AddToSet(ctx, storage.Users, users[0], storage.FieldChats, c))
		}
	})

	views, err := f.b.ChatOverviews(context.Background(), users[0], Page{})
	require.NoError(t, err)
	require.Len(t, views, 2)

	// newest chat first
	g := views[0]
	require.Equal(t, group.ID, g.ID)
	require.Equal(t, "friends", g.Name)
	require.Equal(t, &ImageView{ID: image, URL: "http://cdn/chat.png", Alt: "alt"}, g.Image)
	require.NotNil(t, g.RecentMessage)
	require.Equal(t, "", g.RecentMessage.Text)
	require.Equal(t, 0, g.RecentMessage.ImageCount)
	require.True(t, g.RecentMessage.Deleted)
	require.Equal(t, users[2], g.Participants[1].User.ID)
	require.Equal(t, "c", g.Participants[1].Nickname)
	require.NotEmpty(t, g.Participants[1].User.AccountTag)

	i := views[1]
	require.Nil(t, i.Image)
	require.Nil(t, i.RecentMessage)

	raw, err := json.Marshal(i)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"image":null`)
	require.Contains(t, string(raw), `"recentMessage":null`)
}

func TestChatMessages(t *testing.T) {
	f := bootstrap(t)
	users := f.users(3)
	profile := f.image("http://cdn/me.png")

	var chat storage.Chat
	var ids []int64
	f.write(func(ctx context.Context, tx storage.Tx) {
		require.NoError(t, tx.SetUserImage(ctx, users[0], storage.SlotProfileImage, &profile))
		chat = storage.Chat{Type: storage.ChatIndividual, Participants: []storage.Participant{
			{User: users[0], Role: storage.RoleAdmin}, {User: users[1], Role: storage.RoleAdmin},
		}}
		require.NoError(t, tx.InsertChat(ctx, &chat))
		for i := 0; i < 3; i++ {
			m := storage.Message{Author: users[0], Text: "hi"}
			if i > 0 {
				m.ReplyingTo = &ids[0]
			}
			require.NoError(t, tx.InsertMessage(ctx, &m))
			require.NoError(t, tx.Push(ctx, storage.Chats, chat.ID, storage.FieldMessages, m.ID))
			ids = append(ids, m.ID)
		}
		require.NoError(t, tx.SetDeleted(ctx, storage.Messages, ids[2]))
	})

	views, err := f.b.ChatMessages(context.Background(), chat.ID, users[1], Page{Limit: 2})
	require.NoError(t, err)
	require.Len(t, views, 2)

	deleted := views[0]
	require.Equal(t, ids[2], deleted.ID)
	require.True(t, deleted.Deleted)
	require.Equal(t, "", deleted.Text)
	require.Nil(t, deleted.ReplyingTo)
	require.Empty(t, deleted.Images)
	require.Equal(t, users[0], deleted.Author.ID)
	require.Equal(t, "http://cdn/me.png", deleted.Author.ProfileImage.URL)

	require.Equal(t, ids[1], views[1].ID)
	require.Equal(t, "hi", views[1].Text)
	require.Equal(t, ids[0], *views[1].ReplyingTo)

	_, err = f.b.ChatMessages(context.Background(), chat.ID, users[2], Page{})
	require.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))

	_, err = f.b.ChatMessages(context.Background(), chat.ID+1000, users[0], Page{})
	require.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestCursorPagination(t *testing.T) {
	f := bootstrap(t)
	user := f.users(1)[0]
	ids := f.posts(user, 15)
	newest := testingutils.NewestFirst(ids)

	views, err := f.b.UserPosts(context.Background(), user, user, Page{})
	require.NoError(t, err)
	require.Equal(t, newest[:10], postIDs(views))

	after := newest[3]
	views, err = f.b.UserPosts(context.Background(), user, user, Page{After: after, Limit: 5})
	require.NoError(t, err)
	require.Equal(t, newest[4:9], postIDs(views))
	require.NotContains(t, postIDs(views), after)
	for i := 1; i < len(views); i++ {
		require.True(t, views[i-1].CreatedAt.After(views[i].CreatedAt))
	}

	views, err = f.b.UserPosts(context.Background(), user, user, Page{After: newest[13], Limit: 5})
	require.NoError(t, err)
	require.Equal(t, newest[14:], postIDs(views))

	_, err = f.b.UserPosts(context.Background(), user, user, Page{After: 9999})
	require.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = f.b.UserPosts(context.Background(), user, user, Page{Limit: -1})
	require.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))
}

func TestLimitClamped(t *testing.T) {
	f := bootstrap(t, MaxLimit(3))
	user := f.users(1)[0]
	f.posts(user, 5)

	views, err := f.b.UserPosts(context.Background(), user, user, Page{Limit: 50})
	require.NoError(t, err)
	require.Len(t, views, 3)
}

func TestPostDetail(t *testing.T) {
	f := bootstrap(t)
	users := f.users(2)
	image := f.image("http://cdn/post.png")

	var post, reply storage.Post
	f.write(func(ctx context.Context, tx storage.Tx) {
		post = storage.Post{Author: users[0], Text: "hello", Images: []int64{image}}
		require.NoError(t, tx.InsertPost(ctx, &post))
		reply = storage.Post{Author: users[1], Text: "hey", ReplyingTo: &post.ID}
		require.NoError(t, tx.InsertPost(ctx, &reply))
		require.NoError(t, tx.Push(ctx, storage.Posts, post.ID, storage.FieldReplies, reply.ID))
		require.NoError(t, tx.AddToSet(ctx, storage.Posts, post.ID, storage.FieldLikes, users[1]))
	})

	v, err := f.b.PostDetail(context.Background(), post.ID, users[1])
	require.NoError(t, err)
	require.Equal(t, "hello", v.Text)
	require.Equal(t, 1, v.LikesCount)
	require.Equal(t, 1, v.RepliesCount)
	require.True(t, v.LikedByUser)
	require.Equal(t, []ImageView{{ID: image, URL: "http://cdn/post.png", Alt: "alt"}}, v.Images)
	require.Equal(t, users[0], v.Author.ID)
	require.Nil(t, v.Author.ProfileImage)

	v, err = f.b.PostDetail(context.Background(), post.ID, users[0])
	require.NoError(t, err)
	require.False(t, v.LikedByUser)

	replies, err := f.b.PostReplies(context.Background(), post.ID, users[0], Page{})
	require.NoError(t, err)
	require.Equal(t, []int64{reply.ID}, postIDs(replies))
	require.Equal(t, post.ID, *replies[0].ReplyingTo)

	likes, err := f.b.PostLikes(context.Background(), post.ID, Page{})
	require.NoError(t, err)
	require.Len(t, likes, 1)
	require.Equal(t, users[1], likes[0].ID)
}

func TestSoftDeletedPostShape(t *testing.T) {
	f := bootstrap(t)
	user := f.users(1)[0]
	image := f.image("http://cdn/gone.png")

	var parent, post storage.Post
	f.write(func(ctx context.Context, tx storage.Tx) {
		parent = storage.Post{Author: user, Text: "root"}
		require.NoError(t, tx.InsertPost(ctx, &parent))
		post = storage.Post{Author: user, Text: "secret", Images: []int64{image}, ReplyingTo: &parent.ID}
		require.NoError(t, tx.InsertPost(ctx, &post))
		require.NoError(t, tx.SetDeleted(ctx, storage.Posts, post.ID))
	})

	v, err := f.b.PostDetail(context.Background(), post.ID, user)
	require.NoError(t, err)
	require.True(t, v.Deleted)
	require.Equal(t, "", v.Text)
	require.Empty(t, v.Images)
	require.Nil(t, v.ReplyingTo)
	require.Equal(t, user, v.Author.ID)
	require.Equal(t, post.CreatedAt, v.CreatedAt)

	raw, err := json.Marshal(v)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"replyingTo":null`)
	require.Contains(t, string(raw), `"images":[]`)
}

func TestUserSummary(t *testing.T) {
	f := bootstrap(t)
	users := f.users(3)
	profile := f.image("http://cdn/avatar.png")
	posts := f.posts(users[0], 2)

	f.write(func(ctx context.Context, tx storage.Tx) {
		reply := storage.Post{Author: users[0], Text: "re", ReplyingTo: &posts[0]}
		require.NoError(t, tx.InsertPost(ctx, &reply))
		require.NoError(t, tx.AddToSet(ctx, storage.Users, users[0], storage.FieldPosts, reply.ID))
		require.NoError(t, tx.SetUserImage(ctx, users[0], storage.SlotProfileImage, &profile))
		for _, other := range users[1:] {
			require.NoError(t, tx.AddToSet(ctx, storage.Users, users[0], storage.FieldFollowers, other))
			require.NoError(t, tx.AddToSet(ctx, storage.Users, other, storage.FieldFollowing, users[0]))
		}
		require.NoError(t, tx.AddToSet(ctx, storage.Users, users[0], storage.FieldLikes, posts[1]))
	})

	v, err := f.b.UserSummary(context.Background(), users[0])
	require.NoError(t, err)
	require.Equal(t, 3, v.PostCount)
	require.Equal(t, 1, v.RepliesCount)
	require.Equal(t, 2, v.FollowersCount)
	require.Equal(t, 0, v.FollowingCount)
	require.Equal(t, 1, v.LikesCount)
	require.Equal(t, "http://cdn/avatar.png", v.Preferences.ProfileImage.URL)
	require.Nil(t, v.Preferences.HeaderImage)

	followers, err := f.b.Followers(context.Background(), users[0], Page{})
	require.NoError(t, err)
	require.Len(t, followers, 2)
	require.Equal(t, users[2], followers[0].ID)

	following, err := f.b.Following(context.Background(), users[1], Page{})
	require.NoError(t, err)
	require.Len(t, following, 1)
	require.Equal(t, users[0], following[0].ID)

	_, err = f.b.UserSummary(context.Background(), 9999)
	require.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestFeed(t *testing.T) {
	f := bootstrap(t)
	users := f.users(3)
	own := f.posts(users[0], 1)
	followed := f.posts(users[1], 2)
	f.posts(users[2], 2)

	f.write(func(ctx context.Context, tx storage.Tx) {
		require.NoError(t, tx.AddToSet(ctx, storage.Users, users[0], storage.FieldFollowing, users[1]))
		require.NoError(t, tx.SetDeleted(ctx, storage.Posts, followed[0]))
	})

	views, err := f.b.Feed(context.Background(), users[0], Page{})
	require.NoError(t, err)
	require.Equal(t, []int64{followed[1], own[0]}, postIDs(views))
}

func TestJoinResolvesInBatches(t *testing.T) {
	f := bootstrap(t, MaxFanout(2))
	users := f.users(4)

	var chat storage.Chat
	f.write(func(ctx context.Context, tx storage.Tx) {
		chat = storage.Chat{Type: storage.ChatGroup}
		for _, u := range users {
			chat.Participants = append(chat.Participants, storage.Participant{User: u, Role: storage.RoleAdmin})
		}
		require.NoError(t, tx.InsertChat(ctx, &chat))
		require.NoError(t, tx.AddToSet(ctx, storage.Users, users[0], storage.FieldChats, chat.ID))
	})

	views, err := f.b.ChatOverviews(context.Background(), users[0], Page{})
	require.NoError(t, err)
	require.Len(t, views, 1)
	require.Len(t, views[0].Participants, len(users))
	for i, p := range views[0].Participants {
		require.Equal(t, users[i], p.User.ID)
		require.NotEmpty(t, p.User.AccountTag)
	}
}

func TestUserSummaryWithMorePostsThanFanout(t *testing.T) {
	f := bootstrap(t, MaxFanout(3))
	users := f.users(2)
	posts := f.posts(users[0], 7)

	f.write(func(ctx context.Context, tx storage.Tx) {
		for i := 0; i < 4; i++ {
			reply := storage.Post{Author: users[0], Text: "re", ReplyingTo: &posts[i]}
			require.NoError(t, tx.InsertPost(ctx, &reply))
			require.NoError(t, tx.AddToSet(ctx, storage.Users, users[0], storage.FieldPosts, reply.ID))
		}
		require.NoError(t, tx.AddToSet(ctx, storage.Users, users[0], storage.FieldFollowers, users[1]))
		require.NoError(t, tx.AddToSet(ctx, storage.Users, users[1], storage.FieldFollowing, users[0]))
	})

	v, err := f.b.UserSummary(context.Background(), users[0])
	require.NoError(t, err)
	require.Equal(t, 11, v.PostCount)
	require.Equal(t, 4, v.RepliesCount)

	following, err := f.b.Following(context.Background(), users[1], Page{})
	require.NoError(t, err)
	require.Len(t, following, 1)
	require.Equal(t, 4, following[0].RepliesCount)
}
