package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/pkg/errors"

	"social-backend/internal/storage"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx
type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
}

type reader struct {
	q querier
}

const (
	userColumns = `id, account_tag, password_hash, display_name, bio, theme, profile_image_id, header_image_id,
		posts, likes, chats, following, followers, created_at`
	chatColumns    = `id, type, name, image_id, messages, created_at`
	messageColumns = `id, author_id, text, images, replying_to, deleted, created_at`
	postColumns    = `id, author_id, text, images, replying_to, likes, replies, deleted, created_at`
	imageColumns   = `id, url, alt, created_at`
)

func ref(v pgtype.Int8) *int64 {
	if v.Status != pgtype.Present {
		return nil
	}
	id := v.Int
	return &id
}

func scanUser(row pgx.Row) (storage.User, error) {
	var u storage.User
	var profile, header pgtype.Int8
	err := row.Scan(&u.ID, &u.AccountTag, &u.PasswordHash, &u.Preferences.DisplayName, &u.Preferences.Bio,
		&u.Preferences.Theme, &profile, &header, &u.Posts, &u.Likes, &u.Chats, &u.Following, &u.Followers, &u.CreatedAt)
	if err != nil {
		return storage.User{}, translate(err)
	}
	u.Preferences.ProfileImage = ref(profile)
	u.Preferences.HeaderImage = ref(header)
	return u, nil
}

func scanChat(row pgx.Row) (storage.Chat, error) {
	var c storage.Chat
	var typ string
	var image pgtype.Int8
	if err := row.Scan(&c.ID, &typ, &c.Name, &image, &c.Messages, &c.CreatedAt); err != nil {
		return storage.Chat{}, translate(err)
	}
	c.Type = storage.ChatType(typ)
	c.Image = ref(image)
	return c, nil
}

func scanMessage(row pgx.Row) (storage.Message, error) {
	var m storage.Message
	var replyingTo pgtype.Int8
	if err := row.Scan(&m.ID, &m.Author, &m.Text, &m.Images, &replyingTo, &m.Deleted, &m.CreatedAt); err != nil {
		return storage.Message{}, translate(err)
	}
	m.ReplyingTo = ref(replyingTo)
	return m, nil
}

func scanPost(row pgx.Row) (storage.Post, error) {
	var p storage.Post
	var replyingTo pgtype.Int8
	err := row.Scan(&p.ID, &p.Author, &p.Text, &p.Images, &replyingTo, &p.Likes, &p.Replies, &p.Deleted, &p.CreatedAt)
	if err != nil {
		return storage.Post{}, translate(err)
	}
	p.ReplyingTo = ref(replyingTo)
	return p, nil
}

func scanImage(row pgx.Row) (storage.Image, error) {
	var i storage.Image
	if err := row.Scan(&i.ID, &i.URL, &i.Alt, &i.CreatedAt); err != nil {
		return storage.Image{}, translate(err)
	}
	return i, nil
}

// collect runs a batch query and scans every row with scan
func collect[T any](ctx context.Context, q querier, sql string, scan func(pgx.Row) (T, error), args ...interface{}) ([]T, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		doc, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, translate(err)
	}
	return out, nil
}

func (r reader) User(ctx context.Context, id int64) (storage.User, error) {
	sql := fmt.Sprintf("select %s from users where id = $1", userColumns)
	return scanUser(r.q.QueryRow(ctx, sql, id))
}

func (r reader) Users(ctx context.Context, ids []int64) ([]storage.User, error) {
	sql := fmt.Sprintf("select %s from users where id = any($1)", userColumns)
	return collect(ctx, r.q, sql, scanUser, ids)
}

func (r reader) UserByAccountTag(ctx context.Context, tag string) (storage.User, error) {
	sql := fmt.Sprintf("select %s from users where account_tag = $1", userColumns)
	return scanUser(r.q.QueryRow(ctx, sql, tag))
}

func (r reader) Chat(ctx context.Context, id int64) (storage.Chat, error) {
	sql := fmt.Sprintf("select %s from chats where id = $1", chatColumns)
	c, err := scanChat(r.q.QueryRow(ctx, sql, id))
	if err != nil {
		return storage.Chat{}, err
	}
	chats := []storage.Chat{c}
	if err := r.attachParticipants(ctx, chats); err != nil {
		return storage.Chat{}, err
	}
	return chats[0], nil
}

func (r reader) Chats(ctx context.Context, ids []int64) ([]storage.Chat, error) {
	sql := fmt.Sprintf("select %s from chats where id = any($1)", chatColumns)
	chats, err := collect(ctx, r.q, sql, scanChat, ids)
	if err != nil {
		return nil, err
	}
	if err := r.attachParticipants(ctx, chats); err != nil {
		return nil, err
	}
	return chats, nil
}

func (r reader) IndividualChat(ctx context.Context, a, b int64) (storage.Chat, error) {
	var id int64
	err := r.q.QueryRow(ctx, "select id from chats where pair_key = $1", pairKey(a, b)).Scan(&id)
	if err != nil {
		return storage.Chat{}, translate(err)
	}
	return r.Chat(ctx, id)
}

// attachParticipants loads the participant lists of chats in insertion order
func (r reader) attachParticipants(ctx context.Context, chats []storage.Chat) error {
	if len(chats) == 0 {
		return nil
	}
	index := make(map[int64]int, len(chats))
	ids := make([]int64, len(chats))
	for i, c := range chats {
		index[c.ID] = i
		ids[i] = c.ID
	}

	sql := `select chat_id, user_id, role, nickname, muted
			  from chat_participants
			 where chat_id = any($1)
			 order by chat_id, position`
	rows, err := r.q.Query(ctx, sql, ids)
	if err != nil {
		return translate(err)
	}
	defer rows.Close()

	for rows.Next() {
		var chat int64
		var role string
		var p storage.Participant
		if err := rows.Scan(&chat, &p.User, &role, &p.Nickname, &p.Muted); err != nil {
			return translate(err)
		}
		p.Role = storage.Role(role)
		i := index[chat]
		chats[i].Participants = append(chats[i].Participants, p)
	}
	return translate(rows.Err())
}

func (r reader) Message(ctx context.Context, id int64) (storage.Message, error) {
	sql := fmt.Sprintf("select %s from messages where id = $1", messageColumns)
	return scanMessage(r.q.QueryRow(ctx, sql, id))
}

func (r reader) Messages(ctx context.Context, ids []int64) ([]storage.Message, error) {
	sql := fmt.Sprintf("select %s from messages where id = any($1)", messageColumns)
	return collect(ctx, r.q, sql, scanMessage, ids)
}

func (r reader) Post(ctx context.Context, id int64) (storage.Post, error) {
	sql := fmt.Sprintf("select %s from posts where id = $1", postColumns)
	return scanPost(r.q.QueryRow(ctx, sql, id))
}

func (r reader) Posts(ctx context.Context, ids []int64) ([]storage.Post, error) {
	sql := fmt.Sprintf("select %s from posts where id = any($1)", postColumns)
	return collect(ctx, r.q, sql, scanPost, ids)
}

func (r reader) Image(ctx context.Context, id int64) (storage.Image, error) {
	sql := fmt.Sprintf("select %s from images where id = $1", imageColumns)
	return scanImage(r.q.QueryRow(ctx, sql, id))
}

func (r reader) Images(ctx context.Context, ids []int64) ([]storage.Image, error) {
	sql := fmt.Sprintf("select %s from images where id = any($1)", imageColumns)
	return collect(ctx, r.q, sql, scanImage, ids)
}

// pairKey identifies an individual chat by its two participants regardless of order
func pairKey(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%d", a, b)
}

func now() time.Time {
	return time.Now().UTC()
}

var errUnknownField = errors.New("unknown reference set")
