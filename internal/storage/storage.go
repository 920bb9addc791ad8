// Package storage defines the documents of the social backend and the Entity Store contract
// implemented by the memory and postgres packages.
package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a referenced document does not exist
	ErrNotFound = errors.New("document not found")
	// ErrConflict is returned when a write violates a uniqueness rule
	ErrConflict = errors.New("document conflicts with existing one")
)

// Collection names a document collection
type Collection string

const (
	Users    Collection = "users"
	Chats    Collection = "chats"
	Messages Collection = "messages"
	Posts    Collection = "posts"
	Images   Collection = "images"
)

// Field names a reference-set field of a document
type Field string

const (
	FieldPosts     Field = "posts"
	FieldLikes     Field = "likes"
	FieldChats     Field = "chats"
	FieldFollowing Field = "following"
	FieldFollowers Field = "followers"
	FieldMessages  Field = "messages"
	FieldReplies   Field = "replies"
)

var setFields = map[Collection]map[Field]bool{
	Users: {FieldPosts: true, FieldLikes: true, FieldChats: true, FieldFollowing: true, FieldFollowers: true},
	Chats: {FieldMessages: true},
	Posts: {FieldLikes: true, FieldReplies: true},
}

// HasSetField reports whether documents of c carry reference-set field f
func HasSetField(c Collection, f Field) bool {
	return setFields[c][f]
}

// Reader looks documents up. Batch lookups skip missing ids and return documents in no particular order.
type Reader interface {
	User(ctx context.Context, id int64) (User, error)
	Users(ctx context.Context, ids []int64) ([]User, error)
	UserByAccountTag(ctx context.Context, tag string) (User, error)
	Chat(ctx context.Context, id int64) (Chat, error)
	Chats(ctx context.Context, ids []int64) ([]Chat, error)
	// IndividualChat returns the individual chat whose participants are exactly a and b
	IndividualChat(ctx context.Context, a, b int64) (Chat, error)
	Message(ctx context.Context, id int64) (Message, error)
	Messages(ctx context.Context, ids []int64) ([]Message, error)
	Post(ctx context.Context, id int64) (Post, error)
	Posts(ctx context.Context, ids []int64) ([]Post, error)
	Image(ctx context.Context, id int64) (Image, error)
	Images(ctx context.Context, ids []int64) ([]Image, error)
}

// Writer mutates documents. Insert methods assign ID and CreatedAt on the provided document.
type Writer interface {
	InsertUser(ctx context.Context, u *User) error
	InsertChat(ctx context.Context, c *Chat) error
	InsertMessage(ctx context.Context, m *Message) error
	InsertPost(ctx context.Context, p *Post) error
	InsertImage(ctx context.Context, i *Image) error

	// Delete removes a document, ErrNotFound if it does not exist
	Delete(ctx context.Context, c Collection, id int64) error

	// AddToSet adds v to field f of document id unless already present
	AddToSet(ctx context.Context, c Collection, id int64, f Field, v int64) error
	// Push appends v to field f of document id
	Push(ctx context.Context, c Collection, id int64, f Field, v int64) error
	// Pull removes every occurrence of v from field f of document id
	Pull(ctx context.Context, c Collection, id int64, f Field, v int64) error

	// AppendParticipants appends ps to the chat, ErrConflict if any of them already participates
	AppendParticipants(ctx context.Context, chat int64, ps []Participant) error
	// SetDeleted flags a message or post as soft-deleted
	SetDeleted(ctx context.Context, c Collection, id int64) error
	SetUserImage(ctx context.Context, user int64, slot ImageSlot, image *int64) error
	// SetPreferences updates display name, bio and theme, leaving image references untouched
	SetPreferences(ctx context.Context, user int64, p Preferences) error
}

// Tx is a transaction over the store. Operations on one Tx must not run concurrently.
type Tx interface {
	Reader
	Writer
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Backend is an Entity Store
type Backend interface {
	Reader
	Begin(ctx context.Context) (Tx, error)
	Close()
}
