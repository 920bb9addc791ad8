package projection

import (
	"time"

	"social-backend/internal/storage"
)

// Views use null, never omission, for relations that are not present.

type ImageView struct {
	ID  int64  `json:"_id"`
	URL string `json:"url"`
	Alt string `json:"alt"`
}

type UserRef struct {
	ID          int64  `json:"_id"`
	AccountTag  string `json:"accountTag"`
	DisplayName string `json:"displayName"`
}

type ParticipantView struct {
	User     UserRef `json:"user"`
	Nickname string  `json:"nickname"`
}

type RecentMessage struct {
	ID         int64  `json:"_id"`
	Author     int64  `json:"author"`
	Text       string `json:"text"`
	ImageCount int    `json:"imageCount"`
	Deleted    bool   `json:"deleted"`
}

type ChatOverview struct {
	ID            int64             `json:"_id"`
	Type          storage.ChatType  `json:"type"`
	Name          string            `json:"name"`
	CreatedAt     time.Time         `json:"createdAt"`
	Image         *ImageView        `json:"image"`
	RecentMessage *RecentMessage    `json:"recentMessage"`
	Participants  []ParticipantView `json:"participants"`
}

// MessageRecord is the result of posting a message
type MessageRecord struct {
	ID         int64     `json:"_id"`
	Author     int64     `json:"author"`
	ImageCount int       `json:"imageCount"`
	ReplyingTo *int64    `json:"replyingTo"`
	Deleted    bool      `json:"deleted"`
	CreatedAt  time.Time `json:"createdAt"`
}

// NewMessageRecord shapes m, suppressing images and reply reference of a deleted message
func NewMessageRecord(m storage.Message) MessageRecord {
	r := MessageRecord{
		ID:        m.ID,
		Author:    m.Author,
		Deleted:   m.Deleted,
		CreatedAt: m.CreatedAt,
	}
	if !m.Deleted {
		r.ImageCount = len(m.Images)
		r.ReplyingTo = m.ReplyingTo
	}
	return r
}

type AuthorView struct {
	ID           int64      `json:"_id"`
	AccountTag   string     `json:"accountTag"`
	DisplayName  string     `json:"displayName"`
	ProfileImage *ImageView `json:"profileImage"`
}

type MessageView struct {
	ID         int64       `json:"_id"`
	Author     *AuthorView `json:"author"`
	Text       string      `json:"text"`
	Images     []ImageView `json:"images"`
	ReplyingTo *int64      `json:"replyingTo"`
	Deleted    bool        `json:"deleted"`
	CreatedAt  time.Time   `json:"createdAt"`
}

type PostDetail struct {
	ID           int64       `json:"_id"`
	Author       *AuthorView `json:"author"`
	Text         string      `json:"text"`
	Images       []ImageView `json:"images"`
	ReplyingTo   *int64      `json:"replyingTo"`
	LikesCount   int         `json:"likesCount"`
	RepliesCount int         `json:"repliesCount"`
	LikedByUser  bool        `json:"likedByUser"`
	Deleted      bool        `json:"deleted"`
	CreatedAt    time.Time   `json:"createdAt"`
}

type PreferencesView struct {
	DisplayName  string     `json:"displayName"`
	Bio          string     `json:"bio"`
	Theme        string     `json:"theme"`
	ProfileImage *ImageView `json:"profileImage"`
	HeaderImage  *ImageView `json:"headerImage"`
}

type UserSummary struct {
	ID             int64           `json:"_id"`
	AccountTag     string          `json:"accountTag"`
	Preferences    PreferencesView `json:"preferences"`
	FollowingCount int             `json:"followingCount"`
	FollowersCount int             `json:"followersCount"`
	PostCount      int             `json:"postCount"`
	LikesCount     int             `json:"likesCount"`
	RepliesCount   int             `json:"repliesCount"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// lookups holds the documents resolved by the joins of one plan
type lookups struct {
	users    map[int64]storage.User
	messages map[int64]storage.Message
	posts    map[int64]storage.Post
	images   map[int64]storage.Image
}

func newLookups() *lookups {
	return &lookups{
		users:    make(map[int64]storage.User),
		messages: make(map[int64]storage.Message),
		posts:    make(map[int64]storage.Post),
		images:   make(map[int64]storage.Image),
	}
}

func (l *lookups) image(ref *int64) *ImageView {
	if ref == nil {
		return nil
	}
	i, ok := l.images[*ref]
	if !ok {
		return nil
	}
	return &ImageView{ID: i.ID, URL: i.URL, Alt: i.Alt}
}

// imageList resolves refs, skipping images that no longer exist
func (l *lookups) imageList(refs []int64) []ImageView {
	out := make([]ImageView, 0, len(refs))
	for _, id := range refs {
		if v := l.image(&id); v != nil {
			out = append(out, *v)
		}
	}
	return out
}

func (l *lookups) author(id int64) *AuthorView {
	u, ok := l.users[id]
	if !ok {
		return nil
	}
	return &AuthorView{
		ID:           u.ID,
		AccountTag:   u.AccountTag,
		DisplayName:  u.Preferences.DisplayName,
		ProfileImage: l.image(u.Preferences.ProfileImage),
	}
}

func (l *lookups) chatOverview(c storage.Chat) ChatOverview {
	v := ChatOverview{
		ID:           c.ID,
		Type:         c.Type,
		Name:         c.Name,
		CreatedAt:    c.CreatedAt,
		Image:        l.image(c.Image),
		Participants: make([]ParticipantView, 0, len(c.Participants)),
	}
	if n := len(c.Messages); n > 0 {
		if m, ok := l.messages[c.Messages[n-1]]; ok {
			v.RecentMessage = &RecentMessage{
				ID:      m.ID,
				Author:  m.Author,
				Deleted: m.Deleted,
			}
			if !m.Deleted {
				v.RecentMessage.Text = m.Text
				v.RecentMessage.ImageCount = len(m.Images)
			}
		}
	}
	for _, p := range c.Participants {
		ref := UserRef{ID: p.User}
		if u, ok := l.users[p.User]; ok {
			ref.AccountTag = u.AccountTag
			ref.DisplayName = u.Preferences.DisplayName
		}
		v.Participants = append(v.Participants, ParticipantView{User: ref, Nickname: p.Nickname})
	}
	return v
}

func (l *lookups) messageView(m storage.Message) MessageView {
	v := MessageView{
		ID:        m.ID,
		Author:    l.author(m.Author),
		Images:    []ImageView{},
		Deleted:   m.Deleted,
		CreatedAt: m.CreatedAt,
	}
	if !m.Deleted {
		v.Text = m.Text
		v.Images = l.imageList(m.Images)
		v.ReplyingTo = m.ReplyingTo
	}
	return v
}

func (l *lookups) postDetail(p storage.Post, viewer int64) PostDetail {
	v := PostDetail{
		ID:           p.ID,
		Author:       l.author(p.Author),
		Images:       []ImageView{},
		LikesCount:   len(p.Likes),
		RepliesCount: len(p.Replies),
		LikedByUser:  storage.Contains(p.Likes, viewer),
		Deleted:      p.Deleted,
		CreatedAt:    p.CreatedAt,
	}
	if !p.Deleted {
		v.Text = p.Text
		v.Images = l.imageList(p.Images)
		v.ReplyingTo = p.ReplyingTo
	}
	return v
}

func (l *lookups) userSummary(u storage.User) UserSummary {
	replies := 0
	for _, id := range u.Posts {
		if p, ok := l.posts[id]; ok && p.ReplyingTo != nil {
			replies++
		}
	}
	return UserSummary{
		ID:         u.ID,
		AccountTag: u.AccountTag,
		Preferences: PreferencesView{
			DisplayName:  u.Preferences.DisplayName,
			Bio:          u.Preferences.Bio,
			Theme:        u.Preferences.Theme,
			ProfileImage: l.image(u.Preferences.ProfileImage),
			HeaderImage:  l.image(u.Preferences.HeaderImage),
		},
		FollowingCount: len(u.Following),
		FollowersCount: len(u.Followers),
		PostCount:      len(u.Posts),
		LikesCount:     len(u.Likes),
		RepliesCount:   replies,
		CreatedAt:      u.CreatedAt,
	}
}
