package server

import (
	"encoding/base64"

	"github.com/valyala/fastjson"

	"social-backend/internal/apperr"
	"social-backend/internal/blob"
	"social-backend/internal/projection"
	"social-backend/internal/storage"
)

// id retrieves a required positive 64-bit integer field
func id(v *fastjson.Value, field string) (int64, error) {
	if !v.Exists(field) {
		return 0, apperr.BadRequest("Missing Field %q", field)
	}
	n, err := v.Get(field).Int64()
	if err != nil {
		return 0, apperr.BadRequest("Field %q must be a 64-bit integer value", field)
	}
	if n < 1 {
		return 0, apperr.BadRequest("Field %q must be a valid id greater than zero", field)
	}
	return n, nil
}

// optionalID retrieves a positive 64-bit integer field which may be absent or null
func optionalID(v *fastjson.Value, field string) (*int64, error) {
	f := v.Get(field)
	if f == nil || f.Type() == fastjson.TypeNull {
		return nil, nil
	}
	n, err := id(v, field)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// ids retrieves a required array of positive 64-bit integers
func ids(v *fastjson.Value, field string) ([]int64, error) {
	if !v.Exists(field) {
		return nil, apperr.BadRequest("Missing Field %q", field)
	}
	values, err := v.Get(field).Array()
	if err != nil {
		return nil, apperr.BadRequest("Field %q must be an array", field)
	}

	out := make([]int64, 0, len(values))
	for _, item := range values {
		n, err := item.Int64()
		if err != nil {
			return nil, apperr.BadRequest("Each item in %q array field must be a 64-bit integer value", field)
		}
		if n < 1 {
			return nil, apperr.BadRequest("Each integer in %q array must be a valid id greater than zero", field)
		}
		out = append(out, n)
	}
	return out, nil
}

// str retrieves a required string field
func str(v *fastjson.Value, field string) (string, error) {
	if !v.Exists(field) {
		return "", apperr.BadRequest("Missing Field %q", field)
	}
	b, err := v.Get(field).StringBytes()
	if err != nil {
		return "", apperr.BadRequest("Field %q must be a string", field)
	}
	return string(b), nil
}

// optionalStr retrieves a string field which may be absent
func optionalStr(v *fastjson.Value, field string) (*string, error) {
	f := v.Get(field)
	if f == nil || f.Type() == fastjson.TypeNull {
		return nil, nil
	}
	s, err := str(v, field)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// images decodes an optional array of {"data": base64, "contentType", "alt"} objects
func images(v *fastjson.Value, field string) ([]blob.Blob, error) {
	f := v.Get(field)
	if f == nil || f.Type() == fastjson.TypeNull {
		return nil, nil
	}
	values, err := f.Array()
	if err != nil {
		return nil, apperr.BadRequest("Field %q must be an array", field)
	}

	out := make([]blob.Blob, 0, len(values))
	for _, item := range values {
		b, err := image(item)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func image(v *fastjson.Value) (blob.Blob, error) {
	if v.Type() != fastjson.TypeObject {
		return blob.Blob{}, apperr.BadRequest("Each image must be an object")
	}
	data, err := str(v, "data")
	if err != nil {
		return blob.Blob{}, err
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil || len(raw) == 0 {
		return blob.Blob{}, apperr.BadRequest("Field \"data\" must be non-empty base64")
	}
	return blob.Blob{
		Data:        raw,
		ContentType: string(v.GetStringBytes("contentType")),
		Alt:         string(v.GetStringBytes("alt")),
	}, nil
}

// slot retrieves the image slot, profile image by default
func slot(v *fastjson.Value) (storage.ImageSlot, error) {
	s, err := optionalStr(v, "slot")
	if err != nil {
		return "", err
	}
	if s == nil {
		return storage.SlotProfileImage, nil
	}
	if !storage.ImageSlot(*s).Valid() {
		return "", apperr.BadRequest("Field \"slot\" must be %q or %q", storage.SlotProfileImage, storage.SlotHeaderImage)
	}
	return storage.ImageSlot(*s), nil
}

// page retrieves the optional "after" and "limit" fields
func page(v *fastjson.Value) (projection.Page, error) {
	var p projection.Page

	after, err := optionalID(v, "after")
	if err != nil {
		return p, err
	}
	if after != nil {
		p.After = *after
	}

	if f := v.Get("limit"); f != nil && f.Type() != fastjson.TypeNull {
		n, err := f.Int()
		if err != nil {
			return p, apperr.BadRequest("Field \"limit\" must be an integer value")
		}
		p.Limit = n
	}
	return p, nil
}

// viewer retrieves the optional "actor" field of read requests, 0 when absent
func viewer(v *fastjson.Value) (int64, error) {
	actor, err := optionalID(v, "actor")
	if err != nil || actor == nil {
		return 0, err
	}
	return *actor, nil
}
