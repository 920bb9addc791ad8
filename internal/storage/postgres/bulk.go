package postgres

import (
	"github.com/jackc/pgx/v4"

	"social-backend/internal/storage"
)

var participantColumns = []string{"chat_id", "user_id", "role", "nickname", "muted", "position"}

type participantRow struct {
	chatID   int64
	p        storage.Participant
	position int
}

func (r participantRow) toInterface() []interface{} {
	return []interface{}{r.chatID, r.p.User, string(r.p.Role), r.p.Nickname, r.p.Muted, r.position}
}

type participantBulk struct {
	rows []participantRow
	idx  int
}

// copyParticipants feeds ps to CopyFrom, numbering them from position first
func copyParticipants(chat int64, ps []storage.Participant, first int) pgx.CopyFromSource {
	rows := make([]participantRow, len(ps))
	for i, p := range ps {
		rows[i] = participantRow{chatID: chat, p: p, position: first + i}
	}
	return &participantBulk{
		rows: rows,
		idx:  -1,
	}
}

func (b *participantBulk) Next() bool {
	b.idx++
	return b.idx < len(b.rows)
}

func (b *participantBulk) Values() ([]interface{}, error) {
	return b.rows[b.idx].toInterface(), nil
}

func (b *participantBulk) Err() error {
	return nil
}
