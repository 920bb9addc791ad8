package server

import (
	"context"
	"io"
	"net/http"

	"github.com/valyala/fastjson"
	"go.uber.org/zap"

	"social-backend/internal/apperr"
	"social-backend/internal/projection"
	"social-backend/internal/service"
	"social-backend/internal/storage/zapadapter"
)

// endpoint handles a parsed request body and returns the data to respond with
type endpoint func(ctx context.Context, v *fastjson.Value) (interface{}, error)

type handler struct {
	logger  *zap.SugaredLogger
	svc     *service.Service
	views   *projection.Builder
	parsers fastjson.ParserPool
}

// routes returns the handlers of every endpoint keyed by pattern
func (h *handler) routes() map[string]http.Handler {
	return map[string]http.Handler{
		"/users/add":              h.mutation(http.StatusCreated, "User created", h.createUser),
		"/users/follow":           h.mutation(http.StatusOK, "Follow toggled", h.toggleFollow),
		"/users/image":            h.mutation(http.StatusOK, "Image replaced", h.replaceImage),
		"/users/profile":          h.mutation(http.StatusOK, "Profile updated", h.updateProfile),
		"/chats/add":              h.mutation(http.StatusCreated, "Chat created", h.createChat),
		"/chats/participants/add": h.mutation(http.StatusOK, "Participants added", h.addParticipants),
		"/messages/add":           h.mutation(http.StatusCreated, "Message posted", h.postMessage),
		"/messages/delete":        h.mutation(http.StatusOK, "Message deleted", h.deleteMessage),
		"/posts/add":              h.mutation(http.StatusCreated, "Post created", h.createPost),
		"/posts/like":             h.mutation(http.StatusOK, "Like toggled", h.toggleLike),
		"/posts/delete":           h.mutation(http.StatusOK, "Post deleted", h.deletePost),

		"/chats/get":       h.query(h.chatOverviews),
		"/messages/get":    h.query(h.chatMessages),
		"/posts/get":       h.query(h.postDetail),
		"/posts/likes":     h.query(h.postLikes),
		"/posts/replies":   h.query(h.postReplies),
		"/users/get":       h.query(h.userSummary),
		"/users/posts":     h.query(h.userPosts),
		"/users/followers": h.query(h.followers),
		"/users/following": h.query(h.following),
		"/feed/get":        h.query(h.feed),
	}
}

// parse runs fn over the request body; the body was validated by enforcePostJson
func (h *handler) parse(r *http.Request, fn endpoint) (interface{}, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, apperr.BadRequest("Can not read request body")
	}

	parser := h.parsers.Get()
	defer h.parsers.Put(parser)

	v, err := parser.ParseBytes(body)
	if err != nil {
		return nil, apperr.BadRequest("Malformed JSON")
	}
	if v.Type() != fastjson.TypeObject {
		return nil, apperr.BadRequest("Request body must be a JSON object")
	}
	return fn(r.Context(), v)
}

// mutation answers with an envelope; data accompanies errors too, e.g. the id of an existing chat
func (h *handler) mutation(status int, message string, fn endpoint) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := h.parse(r, fn)
		if err != nil {
			h.fail(w, r, err, data)
			return
		}
		writeJSON(w, h.logger, status, envelope{Status: statusOK, Code: "OK", Message: message, Data: data})
	})
}

// query answers with the projected view itself
func (h *handler) query(fn endpoint) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := h.parse(r, fn)
		if err != nil {
			h.fail(w, r, err, nil)
			return
		}
		writeJSON(w, h.logger, http.StatusOK, data)
	})
}

func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error, data interface{}) {
	status, e := failure(err, data)
	if status == http.StatusInternalServerError {
		h.logger.Desugar().Error("request failed", append(zapadapter.Fields(r.Context()), zap.Error(err))...)
	} else if e.Status == statusPartial {
		h.logger.Desugar().Warn("request partially succeeded", append(zapadapter.Fields(r.Context()), zap.Error(err))...)
	}
	writeJSON(w, h.logger, status, e)
}

type idPayload struct {
	ID int64 `json:"id"`
}

// createUser handles HTTP requests on "/users/add" endpoint
func (h *handler) createUser(ctx context.Context, v *fastjson.Value) (interface{}, error) {
	tag, err := str(v, "accountTag")
	if err != nil {
		return nil, err
	}
	if len(tag) == 0 {
		return nil, apperr.BadRequest("Field \"accountTag\" must have non-zero length")
	}

	userID, err := h.svc.CreateUser(ctx, service.CreateUserParams{
		AccountTag:   tag,
		PasswordHash: string(v.GetStringBytes("passwordHash")),
		DisplayName:  string(v.GetStringBytes("displayName")),
	})
	if err != nil {
		return nil, err
	}
	return idPayload{ID: userID}, nil
}

// toggleFollow handles HTTP requests on "/users/follow" endpoint
func (h *handler) toggleFollow(ctx context.Context, v *fastjson.Value) (interface{}, error) {
	actor, err := id(v, "actor")
	if err != nil {
		return nil, err
	}
	target, err := id(v, "target")
	if err != nil {
		return nil, err
	}

	following, err := h.svc.ToggleFollow(ctx, target, actor)
	if err != nil {
		return nil, err
	}
	return struct {
		Following bool `json:"following"`
	}{following}, nil
}

// replaceImage handles HTTP requests on "/users/image" endpoint
func (h *handler) replaceImage(ctx context.Context, v *fastjson.Value) (interface{}, error) {
	actor, err := id(v, "actor")
	if err != nil {
		return nil, err
	}
	user, err := id(v, "user")
	if err != nil {
		return nil, err
	}
	s, err := slot(v)
	if err != nil {
		return nil, err
	}
	if !v.Exists("image") {
		return nil, apperr.BadRequest("Missing Field \"image\"")
	}
	b, err := image(v.Get("image"))
	if err != nil {
		return nil, err
	}

	imageID, err := h.svc.ReplaceImage(ctx, user, actor, b, s)
	if imageID == 0 {
		return nil, err
	}
	// a partial success still reports the new image
	return idPayload{ID: imageID}, err
}

// updateProfile handles HTTP requests on "/users/profile" endpoint
func (h *handler) updateProfile(ctx context.Context, v *fastjson.Value) (interface{}, error) {
	actor, err := id(v, "actor")
	if err != nil {
		return nil, err
	}
	user, err := id(v, "user")
	if err != nil {
		return nil, err
	}

	var p service.ProfileUpdate
	if p.DisplayName, err = optionalStr(v, "displayName"); err != nil {
		return nil, err
	}
	if p.Bio, err = optionalStr(v, "bio"); err != nil {
		return nil, err
	}
	if p.Theme, err = optionalStr(v, "theme"); err != nil {
		return nil, err
	}
	return nil, h.svc.UpdateProfile(ctx, user, actor, p)
}

// createChat handles HTTP requests on "/chats/add" endpoint
func (h *handler) createChat(ctx context.Context, v *fastjson.Value) (interface{}, error) {
	actor, err := id(v, "actor")
	if err != nil {
		return nil, err
	}
	users, err := ids(v, "users")
	if err != nil {
		return nil, err
	}
	name, err := optionalStr(v, "name")
	if err != nil {
		return nil, err
	}
	if name == nil {
		name = new(string)
	}

	chatID, err := h.svc.CreateChat(ctx, actor, users, *name)
	if chatID == 0 {
		return nil, err
	}
	// an existing individual chat comes back with a Conflict
	return idPayload{ID: chatID}, err
}

// addParticipants handles HTTP requests on "/chats/participants/add" endpoint
func (h *handler) addParticipants(ctx context.Context, v *fastjson.Value) (interface{}, error) {
	actor, err := id(v, "actor")
	if err != nil {
		return nil, err
	}
	chat, err := id(v, "chat")
	if err != nil {
		return nil, err
	}
	users, err := ids(v, "users")
	if err != nil {
		return nil, err
	}
	return nil, h.svc.AddParticipants(ctx, chat, actor, users)
}

// postMessage handles HTTP requests on "/messages/add" endpoint
func (h *handler) postMessage(ctx context.Context, v *fastjson.Value) (interface{}, error) {
	var p service.PostMessageParams
	var err error

	if p.Author, err = id(v, "actor"); err != nil {
		return nil, err
	}
	if p.Chat, err = id(v, "chat"); err != nil {
		return nil, err
	}
	text, err := optionalStr(v, "text")
	if err != nil {
		return nil, err
	}
	if text != nil {
		p.Text = *text
	}
	if p.Images, err = images(v, "images"); err != nil {
		return nil, err
	}
	if p.ReplyingTo, err = optionalID(v, "replyingTo"); err != nil {
		return nil, err
	}

	record, err := h.svc.PostMessage(ctx, p)
	if err != nil {
		return nil, err
	}
	return record, nil
}

// deleteMessage handles HTTP requests on "/messages/delete" endpoint
func (h *handler) deleteMessage(ctx context.Context, v *fastjson.Value) (interface{}, error) {
	actor, err := id(v, "actor")
	if err != nil {
		return nil, err
	}
	chat, err := id(v, "chat")
	if err != nil {
		return nil, err
	}
	message, err := id(v, "message")
	if err != nil {
		return nil, err
	}
	return nil, h.svc.SoftDeleteMessage(ctx, chat, message, actor)
}

// createPost handles HTTP requests on "/posts/add" endpoint
func (h *handler) createPost(ctx context.Context, v *fastjson.Value) (interface{}, error) {
	var p service.CreatePostParams
	var err error

	if p.Author, err = id(v, "actor"); err != nil {
		return nil, err
	}
	text, err := optionalStr(v, "text")
	if err != nil {
		return nil, err
	}
	if text != nil {
		p.Text = *text
	}
	if p.Images, err = images(v, "images"); err != nil {
		return nil, err
	}
	if p.ReplyingTo, err = optionalID(v, "replyingTo"); err != nil {
		return nil, err
	}

	postID, err := h.svc.CreatePost(ctx, p)
	if err != nil {
		return nil, err
	}
	return idPayload{ID: postID}, nil
}

// toggleLike handles HTTP requests on "/posts/like" endpoint
func (h *handler) toggleLike(ctx context.Context, v *fastjson.Value) (interface{}, error) {
	actor, err := id(v, "actor")
	if err != nil {
		return nil, err
	}
	post, err := id(v, "post")
	if err != nil {
		return nil, err
	}

	liked, err := h.svc.ToggleLike(ctx, post, actor)
	if err != nil {
		return nil, err
	}
	return struct {
		Liked bool `json:"liked"`
	}{liked}, nil
}

// deletePost handles HTTP requests on "/posts/delete" endpoint
func (h *handler) deletePost(ctx context.Context, v *fastjson.Value) (interface{}, error) {
	actor, err := id(v, "actor")
	if err != nil {
		return nil, err
	}
	post, err := id(v, "post")
	if err != nil {
		return nil, err
	}
	return nil, h.svc.SoftDeletePost(ctx, post, actor)
}
