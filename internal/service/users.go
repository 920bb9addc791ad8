package service

import (
	"context"

	"social-backend/internal/apperr"
	"social-backend/internal/blob"
	"social-backend/internal/storage"
	"social-backend/internal/unit"
)

// CreateUserParams are the inputs of CreateUser. PasswordHash is stored as provided.
type CreateUserParams struct {
	AccountTag   string
	PasswordHash string
	DisplayName  string
}

// CreateUser creates user and returns its id
func (s *Service) CreateUser(ctx context.Context, p CreateUserParams) (int64, error) {
	if p.AccountTag == "" {
		return 0, apperr.BadRequest("account tag is required")
	}
	if _, err := s.store.UserByAccountTag(ctx, p.AccountTag); err == nil {
		return 0, apperr.Conflict("account tag %s is taken", p.AccountTag)
	}

	s.logger.Debugf("Creating user (%s)", p.AccountTag)

	user := storage.User{
		AccountTag:   p.AccountTag,
		PasswordHash: p.PasswordHash,
		Preferences:  storage.Preferences{DisplayName: p.DisplayName},
	}
	err := s.units.Run(ctx, func(u *unit.Unit) error {
		return u.InsertUser(&user)
	})
	if err != nil {
		return 0, err
	}

	s.logger.Debugf("Created user (%s) with id %d", p.AccountTag, user.ID)
	return user.ID, nil
}

// ToggleFollow makes acting follow target, or unfollow when already following. It returns whether
// acting follows target afterwards.
func (s *Service) ToggleFollow(ctx context.Context, target, acting int64) (bool, error) {
	if target == acting {
		return false, apperr.BadRequest("users cannot follow themselves")
	}
	if err := s.requireUsers(ctx, []int64{target, acting}); err != nil {
		return false, err
	}

	var following bool
	err := s.units.Run(ctx, func(u *unit.Unit) error {
		t, err := u.User(target)
		if err != nil {
			return err
		}
		following = !storage.Contains(t.Followers, acting)
		return toggle(u, following,
			side{storage.Users, target, storage.FieldFollowers, acting},
			side{storage.Users, acting, storage.FieldFollowing, target})
	})
	return following, err
}

// ReplaceImage uploads b and makes it the image of user in slot, deleting the previous Image
// document. The previous blob is destroyed after commit; if that fails ReplaceImage returns a
// PartialSuccess error along with the new image id.
func (s *Service) ReplaceImage(ctx context.Context, user, acting int64, b blob.Blob, slot storage.ImageSlot) (int64, error) {
	if user != acting {
		return 0, apperr.Unauthorized("users can only change their own images")
	}
	if !slot.Valid() {
		return 0, apperr.BadRequest("unknown image slot %q", slot)
	}
	if len(b.Data) == 0 {
		return 0, apperr.BadRequest("image is empty")
	}

	current, err := s.store.User(ctx, user)
	if err != nil {
		return 0, lookup(err, "user", user)
	}
	old := current.Preferences.Image(slot)
	var oldURL string
	if old != nil {
		if img, err := s.store.Image(ctx, *old); err == nil {
			oldURL = img.URL
		} else {
			s.logger.Warnf("User %d references missing image %d in %s", user, *old, slot)
			old = nil
		}
	}

	uploadCtx, cancel := context.WithTimeout(ctx, s.uploadTimeout)
	urls, err := s.upload(uploadCtx, []blob.Blob{b})
	cancel()
	if err != nil {
		return 0, err
	}
	url := urls[0]

	s.logger.Debugf("Replacing %s of user %d with %s", slot, user, url)

	var img storage.Image
	err = s.units.Run(ctx, func(u *unit.Unit) error {
		img = storage.Image{URL: url, Alt: b.Alt}
		if err := u.InsertImage(&img); err != nil {
			return err
		}
		if err := u.SetUserImage(user, slot, &img.ID); err != nil {
			return err
		}
		if old == nil {
			return nil
		}
		if err := u.Delete(storage.Images, *old); err != nil {
			return err
		}
		u.AfterCommit("destroying previous "+string(slot)+" blob", func(ctx context.Context) error {
			return s.blobs.Destroy(ctx, oldURL)
		})
		return nil
	}, url)
	if err != nil && !apperr.Is(err, apperr.KindPartialSuccess) {
		return 0, err
	}
	return img.ID, err
}

// ProfileUpdate holds the preferences to change; nil fields are left as they are
type ProfileUpdate struct {
	DisplayName *string
	Bio         *string
	Theme       *string
}

// UpdateProfile changes the text preferences of user; only the user may do so
func (s *Service) UpdateProfile(ctx context.Context, user, acting int64, p ProfileUpdate) error {
	if user != acting {
		return apperr.Unauthorized("users can only change their own profile")
	}
	if p.DisplayName == nil && p.Bio == nil && p.Theme == nil {
		return apperr.BadRequest("nothing to update")
	}
	current, err := s.store.User(ctx, user)
	if err != nil {
		return lookup(err, "user", user)
	}

	prefs := current.Preferences
	if p.DisplayName != nil {
		prefs.DisplayName = *p.DisplayName
	}
	if p.Bio != nil {
		prefs.Bio = *p.Bio
	}
	if p.Theme != nil {
		prefs.Theme = *p.Theme
	}
	return s.units.Run(ctx, func(u *unit.Unit) error {
		return u.SetPreferences(user, prefs)
	})
}
