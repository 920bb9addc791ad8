package storage

import "time"

// Role is a chat participant role, ordered guest < moderator < admin
type Role string

const (
	RoleGuest     Role = "guest"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

// ChatType distinguishes one-to-one chats from group chats
type ChatType string

const (
	ChatIndividual ChatType = "individual"
	ChatGroup      ChatType = "group"
)

// ImageSlot names a user preference holding an image reference
type ImageSlot string

const (
	SlotProfileImage ImageSlot = "profileImage"
	SlotHeaderImage  ImageSlot = "headerImage"
)

// Valid reports whether s is a known slot
func (s ImageSlot) Valid() bool {
	return s == SlotProfileImage || s == SlotHeaderImage
}

type Preferences struct {
	DisplayName  string
	Bio          string
	ProfileImage *int64
	HeaderImage  *int64
	Theme        string
}

// Image returns the reference stored in slot s
func (p Preferences) Image(s ImageSlot) *int64 {
	if s == SlotHeaderImage {
		return p.HeaderImage
	}
	return p.ProfileImage
}

type User struct {
	ID           int64
	AccountTag   string
	PasswordHash string
	Preferences  Preferences
	Posts        []int64
	Likes        []int64
	Chats        []int64
	Following    []int64
	Followers    []int64
	CreatedAt    time.Time
}

type Participant struct {
	User     int64
	Role     Role
	Nickname string
	Muted    bool
}

type Chat struct {
	ID           int64
	Type         ChatType
	Name         string
	Image        *int64
	Participants []Participant
	Messages     []int64
	CreatedAt    time.Time
}

// Participant returns the entry for user and whether it exists
func (c Chat) Participant(user int64) (Participant, bool) {
	for _, p := range c.Participants {
		if p.User == user {
			return p, true
		}
	}
	return Participant{}, false
}

type Message struct {
	ID         int64
	Author     int64
	Text       string
	Images     []int64
	ReplyingTo *int64
	Deleted    bool
	CreatedAt  time.Time
}

type Post struct {
	ID         int64
	Author     int64
	Text       string
	Images     []int64
	ReplyingTo *int64
	Likes      []int64
	Replies    []int64
	Deleted    bool
	CreatedAt  time.Time
}

type Image struct {
	ID        int64
	URL       string
	Alt       string
	CreatedAt time.Time
}

// Contains reports whether ids holds id
func Contains(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
