package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"social-backend/internal/storage"
)

var _ storage.Tx = (*tx)(nil)

type tx struct {
	reader
	logger *zap.SugaredLogger
	tx     pgx.Tx
}

func (t *tx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

// Rollback is safe to call on a committed transaction
func (t *tx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

func (t *tx) InsertUser(ctx context.Context, u *storage.User) error {
	t.logger.Debugf("Creating user (%s)", u.AccountTag)

	u.CreatedAt = now()
	sql := `insert into users (account_tag, password_hash, display_name, bio, theme, profile_image_id, header_image_id, created_at)
			values ($1, $2, $3, $4, $5, $6, $7, $8) returning id`
	p := u.Preferences
	err := t.tx.QueryRow(ctx, sql, u.AccountTag, u.PasswordHash, p.DisplayName, p.Bio, p.Theme,
		p.ProfileImage, p.HeaderImage, u.CreatedAt).Scan(&u.ID)
	if err != nil {
		return translate(err)
	}

	t.logger.Debugf("Created user (%s) with id %d", u.AccountTag, u.ID)
	return nil
}

// InsertChat performs two-step insert (1. chat record; 2. bulk insert of participants)
func (t *tx) InsertChat(ctx context.Context, c *storage.Chat) error {
	t.logger.Debugf("Creating %s chat with %d participants", c.Type, len(c.Participants))

	var key *string
	if c.Type == storage.ChatIndividual && len(c.Participants) == 2 {
		k := pairKey(c.Participants[0].User, c.Participants[1].User)
		key = &k
	}

	c.CreatedAt = now()
	sql := `insert into chats (type, name, image_id, pair_key, created_at) values ($1, $2, $3, $4, $5) returning id`
	err := t.tx.QueryRow(ctx, sql, string(c.Type), c.Name, c.Image, key, c.CreatedAt).Scan(&c.ID)
	if err != nil {
		return translate(err)
	}

	_, err = t.tx.CopyFrom(ctx, pgx.Identifier{"chat_participants"}, participantColumns, copyParticipants(c.ID, c.Participants, 0))
	if err != nil {
		return translate(err)
	}

	t.logger.Debugf("Created chat with id %d", c.ID)
	return nil
}

func (t *tx) InsertMessage(ctx context.Context, m *storage.Message) error {
	m.CreatedAt = now()
	sql := `insert into messages (author_id, text, images, replying_to, created_at)
			values ($1, $2, $3, $4, $5) returning id`
	err := t.tx.QueryRow(ctx, sql, m.Author, m.Text, ids(m.Images), m.ReplyingTo, m.CreatedAt).Scan(&m.ID)
	return translate(err)
}

func (t *tx) InsertPost(ctx context.Context, p *storage.Post) error {
	p.CreatedAt = now()
	sql := `insert into posts (author_id, text, images, replying_to, created_at)
			values ($1, $2, $3, $4, $5) returning id`
	err := t.tx.QueryRow(ctx, sql, p.Author, p.Text, ids(p.Images), p.ReplyingTo, p.CreatedAt).Scan(&p.ID)
	return translate(err)
}

func (t *tx) InsertImage(ctx context.Context, i *storage.Image) error {
	i.CreatedAt = now()
	sql := `insert into images (url, alt, created_at) values ($1, $2, $3) returning id`
	return translate(t.tx.QueryRow(ctx, sql, i.URL, i.Alt, i.CreatedAt).Scan(&i.ID))
}

func (t *tx) Delete(ctx context.Context, c storage.Collection, id int64) error {
	table, err := tableOf(c)
	if err != nil {
		return err
	}
	return affected(t.tx.Exec(ctx, fmt.Sprintf("delete from %s where id = $1", table), id))
}

func (t *tx) AddToSet(ctx context.Context, c storage.Collection, id int64, f storage.Field, v int64) error {
	return t.updateSet(ctx, c, id, f, "case when $2::bigint = any(%[1]s) then %[1]s else array_append(%[1]s, $2::bigint) end", v)
}

func (t *tx) Push(ctx context.Context, c storage.Collection, id int64, f storage.Field, v int64) error {
	return t.updateSet(ctx, c, id, f, "array_append(%[1]s, $2::bigint)", v)
}

func (t *tx) Pull(ctx context.Context, c storage.Collection, id int64, f storage.Field, v int64) error {
	return t.updateSet(ctx, c, id, f, "array_remove(%[1]s, $2::bigint)", v)
}

// updateSet rewrites column f with expr, a format string receiving the column name
func (t *tx) updateSet(ctx context.Context, c storage.Collection, id int64, f storage.Field, expr string, v int64) error {
	if !storage.HasSetField(c, f) {
		return errors.Wrapf(errUnknownField, "%s.%s", c, f)
	}
	column := string(f)
	sql := fmt.Sprintf("update %s set %s = %s where id = $1", c, column, fmt.Sprintf(expr, column))
	return affected(t.tx.Exec(ctx, sql, id, v))
}

func (t *tx) AppendParticipants(ctx context.Context, chat int64, ps []storage.Participant) error {
	var next int
	sql := `select coalesce(max(p.position) + 1, 0)
			  from chats c
			  left join chat_participants p on p.chat_id = c.id
			 where c.id = $1
			 group by c.id`
	if err := t.tx.QueryRow(ctx, sql, chat).Scan(&next); err != nil {
		return translate(err)
	}

	_, err := t.tx.CopyFrom(ctx, pgx.Identifier{"chat_participants"}, participantColumns, copyParticipants(chat, ps, next))
	if err != nil {
		return translate(err)
	}

	t.logger.Debugf("Appended %d participants to chat %d", len(ps), chat)
	return nil
}

func (t *tx) SetDeleted(ctx context.Context, c storage.Collection, id int64) error {
	if c != storage.Messages && c != storage.Posts {
		return storage.ErrNotFound
	}
	return affected(t.tx.Exec(ctx, fmt.Sprintf("update %s set deleted = true where id = $1", c), id))
}

func (t *tx) SetUserImage(ctx context.Context, user int64, slot storage.ImageSlot, image *int64) error {
	column := "profile_image_id"
	if slot == storage.SlotHeaderImage {
		column = "header_image_id"
	}
	return affected(t.tx.Exec(ctx, fmt.Sprintf("update users set %s = $2 where id = $1", column), user, image))
}

func (t *tx) SetPreferences(ctx context.Context, user int64, p storage.Preferences) error {
	sql := "update users set display_name = $2, bio = $3, theme = $4 where id = $1"
	return affected(t.tx.Exec(ctx, sql, user, p.DisplayName, p.Bio, p.Theme))
}

func tableOf(c storage.Collection) (string, error) {
	switch c {
	case storage.Users, storage.Chats, storage.Messages, storage.Posts, storage.Images:
		return string(c), nil
	}
	return "", storage.ErrNotFound
}

// ids keeps nil slices from being encoded as null arrays
func ids(v []int64) []int64 {
	if v == nil {
		return []int64{}
	}
	return v
}
