package server

import (
	"context"

	"github.com/valyala/fastjson"
)

// chatOverviews handles HTTP requests on "/chats/get" endpoint
func (h *handler) chatOverviews(ctx context.Context, v *fastjson.Value) (interface{}, error) {
	user, err := id(v, "user")
	if err != nil {
		return nil, err
	}
	p, err := page(v)
	if err != nil {
		return nil, err
	}
	return h.views.ChatOverviews(ctx, user, p)
}

// chatMessages handles HTTP requests on "/messages/get" endpoint
func (h *handler) chatMessages(ctx context.Context, v *fastjson.Value) (interface{}, error) {
	actor, err := id(v, "actor")
	if err != nil {
		return nil, err
	}
	chat, err := id(v, "chat")
	if err != nil {
		return nil, err
	}
	p, err := page(v)
	if err != nil {
		return nil, err
	}
	return h.views.ChatMessages(ctx, chat, actor, p)
}

// postDetail handles HTTP requests on "/posts/get" endpoint
func (h *handler) postDetail(ctx context.Context, v *fastjson.Value) (interface{}, error) {
	actor, err := viewer(v)
	if err != nil {
		return nil, err
	}
	post, err := id(v, "post")
	if err != nil {
		return nil, err
	}
	return h.views.PostDetail(ctx, post, actor)
}

// postLikes handles HTTP requests on "/posts/likes" endpoint
func (h *handler) postLikes(ctx context.Context, v *fastjson.Value) (interface{}, error) {
	post, err := id(v, "post")
	if err != nil {
		return nil, err
	}
	p, err := page(v)
	if err != nil {
		return nil, err
	}
	return h.views.PostLikes(ctx, post, p)
}

// postReplies handles HTTP requests on "/posts/replies" endpoint
func (h *handler) postReplies(ctx context.Context, v *fastjson.Value) (interface{}, error) {
	actor, err := viewer(v)
	if err != nil {
		return nil, err
	}
	post, err := id(v, "post")
	if err != nil {
		return nil, err
	}
	p, err := page(v)
	if err != nil {
		return nil, err
	}
	return h.views.PostReplies(ctx, post, actor, p)
}

// userSummary handles HTTP requests on "/users/get" endpoint
func (h *handler) userSummary(ctx context.Context, v *fastjson.Value) (interface{}, error) {
	user, err := id(v, "user")
	if err != nil {
		return nil, err
	}
	return h.views.UserSummary(ctx, user)
}

// userPosts handles HTTP requests on "/users/posts" endpoint
func (h *handler) userPosts(ctx context.Context, v *fastjson.Value) (interface{}, error) {
	actor, err := viewer(v)
	if err != nil {
		return nil, err
	}
	user, err := id(v, "user")
	if err != nil {
		return nil, err
	}
	p, err := page(v)
	if err != nil {
		return nil, err
	}
	return h.views.UserPosts(ctx, user, actor, p)
}

// followers handles HTTP requests on "/users/followers" endpoint
func (h *handler) followers(ctx context.Context, v *fastjson.Value) (interface{}, error) {
	user, err := id(v, "user")
	if err != nil {
		return nil, err
	}
	p, err := page(v)
	if err != nil {
		return nil, err
	}
	return h.views.Followers(ctx, user, p)
}

// following handles HTTP requests on "/users/following" endpoint
func (h *handler) following(ctx context.Context, v *fastjson.Value) (interface{}, error) {
	user, err := id(v, "user")
	if err != nil {
		return nil, err
	}
	p, err := page(v)
	if err != nil {
		return nil, err
	}
	return h.views.Following(ctx, user, p)
}

// feed handles HTTP requests on "/feed/get" endpoint
func (h *handler) feed(ctx context.Context, v *fastjson.Value) (interface{}, error) {
	actor, err := id(v, "actor")
	if err != nil {
		return nil, err
	}
	p, err := page(v)
	if err != nil {
		return nil, err
	}
	return h.views.Feed(ctx, actor, p)
}
