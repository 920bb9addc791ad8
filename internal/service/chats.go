package service

import (
	"context"
	"errors"

	"social-backend/internal/apperr"
	"social-backend/internal/authz"
	"social-backend/internal/blob"
	"social-backend/internal/projection"
	"social-backend/internal/storage"
	"social-backend/internal/unit"
)

// CreateChat creates a chat between creator and participants and returns its id. Two people make an
// individual chat where both are admins; more make a group where only the creator is admin. When an
// individual chat between the two already exists, CreateChat returns its id with a Conflict error.
func (s *Service) CreateChat(ctx context.Context, creator int64, participants []int64, name string) (int64, error) {
	s.logger.Debugf("Creating chat by user %d with users %v", creator, participants)

	members := make([]int64, 0, len(participants)+1)
	for _, id := range uniq(participants) {
		if id != creator {
			members = append(members, id)
		}
	}
	if len(members) == 0 {
		return 0, apperr.BadRequest("a chat needs at least one participant besides its creator")
	}
	members = append(members, creator)
	if err := s.requireUsers(ctx, members); err != nil {
		return 0, err
	}

	chat := storage.Chat{Type: storage.ChatGroup, Name: name}
	if len(members) == 2 {
		chat.Type = storage.ChatIndividual
		chat.Name = ""
		if id, err := s.existingIndividualChat(ctx, members[0], members[1]); id != 0 || err != nil {
			return id, err
		}
	}

	for _, id := range members {
		role := storage.RoleGuest
		if id == creator || chat.Type == storage.ChatIndividual {
			role = storage.RoleAdmin
		}
		chat.Participants = append(chat.Participants, storage.Participant{User: id, Role: role})
	}

	err := s.units.Run(ctx, func(u *unit.Unit) error {
		if err := u.InsertChat(&chat); err != nil {
			return err
		}
		for _, id := range members {
			if err := u.AddToSet(storage.Users, id, storage.FieldChats, chat.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		// lost a race with another request creating the same individual chat
		if chat.Type == storage.ChatIndividual && apperr.Cause(err) == apperr.KindConflict {
			if id, lookupErr := s.existingIndividualChat(ctx, members[0], members[1]); id != 0 {
				return id, lookupErr
			}
		}
		return 0, err
	}

	s.logger.Debugf("Created %s chat with id %d", chat.Type, chat.ID)
	return chat.ID, nil
}

// existingIndividualChat returns the id of the individual chat between a and b with a Conflict
// error, or zero and nil when there is none
func (s *Service) existingIndividualChat(ctx context.Context, a, b int64) (int64, error) {
	existing, err := s.store.IndividualChat(ctx, a, b)
	switch {
	case err == nil:
		return existing.ID, apperr.Conflict("individual chat between users %d and %d already exists", a, b)
	case errors.Is(err, storage.ErrNotFound):
		return 0, nil
	default:
		return 0, apperr.Internal(err, "looking up individual chat")
	}
}

// PostMessageParams are the inputs of PostMessage
type PostMessageParams struct {
	Chat       int64
	Author     int64
	Text       string
	Images     []blob.Blob
	ReplyingTo *int64
}

// PostMessage stores the images of p, then the message referencing them, and appends it to the chat
func (s *Service) PostMessage(ctx context.Context, p PostMessageParams) (projection.MessageRecord, error) {
	if p.Text == "" && len(p.Images) == 0 {
		return projection.MessageRecord{}, apperr.BadRequest("a message needs text or images")
	}

	chat, err := s.store.Chat(ctx, p.Chat)
	if err != nil {
		return projection.MessageRecord{}, lookup(err, "chat", p.Chat)
	}
	if _, err := s.store.User(ctx, p.Author); err != nil {
		return projection.MessageRecord{}, lookup(err, "user", p.Author)
	}
	if p.ReplyingTo != nil && !storage.Contains(chat.Messages, *p.ReplyingTo) {
		return projection.MessageRecord{}, apperr.NotFound("message %d not found in chat %d", *p.ReplyingTo, p.Chat)
	}
	if err := authz.Evaluate(p.Author, chat.Participants, true, storage.RoleGuest).Err(); err != nil {
		return projection.MessageRecord{}, err
	}

	s.logger.Debugf("Posting message from user %d in chat %d with %d images", p.Author, p.Chat, len(p.Images))

	urls, err := s.upload(ctx, p.Images)
	if err != nil {
		return projection.MessageRecord{}, err
	}

	var msg storage.Message
	err = s.units.Run(ctx, func(u *unit.Unit) error {
		// participants may have changed since the check above
		current, err := u.Chat(p.Chat)
		if err != nil {
			return err
		}
		if err := authz.Evaluate(p.Author, current.Participants, true, storage.RoleGuest).Err(); err != nil {
			return err
		}

		images, err := storeImages(u, p.Images, urls)
		if err != nil {
			return err
		}
		msg = storage.Message{Author: p.Author, Text: p.Text, Images: images, ReplyingTo: p.ReplyingTo}
		if err := u.InsertMessage(&msg); err != nil {
			return err
		}
		return u.Push(storage.Chats, p.Chat, storage.FieldMessages, msg.ID)
	}, urls...)
	if err != nil {
		return projection.MessageRecord{}, err
	}
	return projection.NewMessageRecord(msg), nil
}

// AddParticipants appends users to a group chat as guests on behalf of acting
func (s *Service) AddParticipants(ctx context.Context, chatID, acting int64, users []int64) error {
	users = uniq(users)
	if len(users) == 0 {
		return apperr.BadRequest("no participants to add")
	}
	if err := s.requireUsers(ctx, users); err != nil {
		return err
	}

	chat, err := s.store.Chat(ctx, chatID)
	if err != nil {
		return lookup(err, "chat", chatID)
	}
	if err := authz.Evaluate(acting, chat.Participants, false, storage.RoleGuest).Err(); err != nil {
		return err
	}
	if chat.Type == storage.ChatIndividual {
		return apperr.BadRequest("cannot add participants to individual chat %d", chatID)
	}
	var overlap []int64
	for _, id := range users {
		if _, ok := chat.Participant(id); ok {
			overlap = append(overlap, id)
		}
	}
	if len(overlap) > 0 {
		return apperr.Conflict("users %v already participate in chat %d", overlap, chatID)
	}

	s.logger.Debugf("Adding users %v to chat %d", users, chatID)

	ps := make([]storage.Participant, len(users))
	for i, id := range users {
		ps[i] = storage.Participant{User: id, Role: storage.RoleGuest}
	}
	return s.units.Run(ctx, func(u *unit.Unit) error {
		if err := u.AppendParticipants(chatID, ps); err != nil {
			return err
		}
		for _, id := range users {
			if err := u.AddToSet(storage.Users, id, storage.FieldChats, chatID); err != nil {
				return err
			}
		}
		return nil
	})
}

// SoftDeleteMessage flags a message of chat as deleted; only its author may do so
func (s *Service) SoftDeleteMessage(ctx context.Context, chatID, messageID, acting int64) error {
	chat, err := s.store.Chat(ctx, chatID)
	if err != nil {
		return lookup(err, "chat", chatID)
	}
	if !storage.Contains(chat.Messages, messageID) {
		return apperr.NotFound("message %d not found in chat %d", messageID, chatID)
	}
	msg, err := s.store.Message(ctx, messageID)
	if err != nil {
		return lookup(err, "message", messageID)
	}
	if msg.Author != acting {
		return apperr.Unauthorized("only the author can delete message %d", messageID)
	}

	s.logger.Debugf("Deleting message %d of chat %d", messageID, chatID)
	return s.units.Run(ctx, func(u *unit.Unit) error {
		return u.SetDeleted(storage.Messages, messageID)
	})
}
