package service

import (
	"context"

	"social-backend/internal/apperr"
	"social-backend/internal/blob"
	"social-backend/internal/storage"
	"social-backend/internal/unit"
)

// CreatePostParams are the inputs of CreatePost
type CreatePostParams struct {
	Author     int64
	Text       string
	Images     []blob.Blob
	ReplyingTo *int64
}

// CreatePost stores the images of p, then the post, and links it to its author and parent
func (s *Service) CreatePost(ctx context.Context, p CreatePostParams) (int64, error) {
	if p.Text == "" && len(p.Images) == 0 {
		return 0, apperr.BadRequest("a post needs text or images")
	}
	if _, err := s.store.User(ctx, p.Author); err != nil {
		return 0, lookup(err, "user", p.Author)
	}
	if p.ReplyingTo != nil {
		if _, err := s.store.Post(ctx, *p.ReplyingTo); err != nil {
			return 0, lookup(err, "post", *p.ReplyingTo)
		}
	}

	s.logger.Debugf("Creating post by user %d with %d images", p.Author, len(p.Images))

	urls, err := s.upload(ctx, p.Images)
	if err != nil {
		return 0, err
	}

	var post storage.Post
	err = s.units.Run(ctx, func(u *unit.Unit) error {
		images, err := storeImages(u, p.Images, urls)
		if err != nil {
			return err
		}
		post = storage.Post{Author: p.Author, Text: p.Text, Images: images, ReplyingTo: p.ReplyingTo}
		if err := u.InsertPost(&post); err != nil {
			return err
		}
		if err := u.AddToSet(storage.Users, p.Author, storage.FieldPosts, post.ID); err != nil {
			return err
		}
		if p.ReplyingTo != nil {
			return u.Push(storage.Posts, *p.ReplyingTo, storage.FieldReplies, post.ID)
		}
		return nil
	}, urls...)
	if err != nil {
		return 0, err
	}
	return post.ID, nil
}

// ToggleLike likes post on behalf of user, or unlikes it when already liked. It returns whether the
// post is liked afterwards.
func (s *Service) ToggleLike(ctx context.Context, postID, user int64) (bool, error) {
	if _, err := s.store.Post(ctx, postID); err != nil {
		return false, lookup(err, "post", postID)
	}
	if _, err := s.store.User(ctx, user); err != nil {
		return false, lookup(err, "user", user)
	}

	var liked bool
	err := s.units.Run(ctx, func(u *unit.Unit) error {
		post, err := u.Post(postID)
		if err != nil {
			return err
		}
		liked = !storage.Contains(post.Likes, user)
		return toggle(u, liked,
			side{storage.Posts, postID, storage.FieldLikes, user},
			side{storage.Users, user, storage.FieldLikes, postID})
	})
	return liked, err
}

// SoftDeletePost flags a post as deleted; only its author may do so
func (s *Service) SoftDeletePost(ctx context.Context, postID, acting int64) error {
	post, err := s.store.Post(ctx, postID)
	if err != nil {
		return lookup(err, "post", postID)
	}
	if post.Author != acting {
		return apperr.Unauthorized("only the author can delete post %d", postID)
	}

	s.logger.Debugf("Deleting post %d", postID)
	return s.units.Run(ctx, func(u *unit.Unit) error {
		return u.SetDeleted(storage.Posts, postID)
	})
}

// side is one end of a two-sided membership
type side struct {
	c     storage.Collection
	id    int64
	field storage.Field
	value int64
}

// toggle adds value to both sides, or removes it from both when add is false
func toggle(u *unit.Unit, add bool, sides ...side) error {
	for _, s := range sides {
		var err error
		if add {
			err = u.AddToSet(s.c, s.id, s.field, s.value)
		} else {
			err = u.Pull(s.c, s.id, s.field, s.value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
