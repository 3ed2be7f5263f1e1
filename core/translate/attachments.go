package translate

import (
	"context"
	"encoding/base64"
	"mime"
	"net/http"
	"path"

	"github.com/relabs-tech/restful/core"
	"github.com/relabs-tech/restful/core/fields"
	"github.com/relabs-tech/restful/core/logger"
	"github.com/relabs-tech/restful/core/store"
)

const defaultAttachmentName = "file"

// Attachments flattens attachment payloads of field into relation commands.
//
// value is a raw base64 payload string or a list. List items are ids or
// objects with an "id" which link existing attachments, flat attachments
// {"name": .., "attachment": ..}, groups {"attachment_ids": [flat, ..]} or raw
// payload strings. Every payload becomes the nested creation of an attachment.
// Exact duplicates, same name and same content, are created once.
// fallbackName names raw payloads. Keys next to the id of a linked attachment
// are ignored, as for every other shared relation.
func Attachments(ctx context.Context, field string, value interface{}, fallbackName string) ([]store.Command, error) {
	if fallbackName == "" {
		fallbackName = defaultAttachmentName
	}
	f := flattener{ctx: ctx, field: field, seen: map[[2]string]bool{}}

	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		if v != "" {
			f.add(fallbackName, v)
		}
		return f.commands, nil
	case []interface{}:
		for _, item := range v {
			if err := f.item(item, fallbackName); err != nil {
				return nil, err
			}
		}
		return f.commands, nil
	}
	return nil, core.TypeError(field, value)
}

type flattener struct {
	ctx      context.Context
	field    string
	commands []store.Command
	seen     map[[2]string]bool
}

func (f *flattener) item(item interface{}, fallbackName string) error {
	if id, ok := asID(item); ok {
		f.commands = append(f.commands, store.Link(id))
		return nil
	}
	switch v := item.(type) {
	case string:
		if v == "" {
			break
		}
		f.add(fallbackName, v)
		return nil
	case map[string]interface{}:
		if group, ok := v["attachment_ids"]; ok {
			subs, ok := group.([]interface{})
			if !ok {
				return core.InputError("Invalid attachment group %v for field '%s'", group, f.field)
			}
			for _, sub := range subs {
				object, ok := sub.(map[string]interface{})
				if !ok {
					return core.InputError("Invalid attachment %v for field '%s'", sub, f.field)
				}
				if err := f.flat(object); err != nil {
					return err
				}
			}
			return nil
		}
		if _, ok := v["attachment"]; ok {
			return f.flat(v)
		}
		if _, ok := v["datas"]; ok {
			return f.flat(v)
		}
		if raw, ok := v[fields.FieldID]; ok {
			id, ok := asID(raw)
			if !ok {
				break
			}
			if len(v) > 1 {
				logger.FromContext(f.ctx).Debugf("linking attachment %d for field %s, ignoring keys %v", id, f.field, extraKeys(v))
			}
			f.commands = append(f.commands, store.Link(id))
			return nil
		}
	}
	return core.InputError("Invalid attachment %v for field '%s'", item, f.field)
}

// flat adds a flat attachment {"name": .., "attachment": ..}
func (f *flattener) flat(object map[string]interface{}) error {
	content, ok := object["attachment"]
	if !ok {
		content = object["datas"]
	}
	var data string
	switch c := content.(type) {
	case string:
		data = c
	case []byte:
		data = base64.StdEncoding.EncodeToString(c)
	}
	if data == "" {
		return core.InputError("Attachment without content for field '%s'", f.field)
	}
	name, _ := object[fields.FieldName].(string)
	if name == "" {
		name = defaultAttachmentName
	}
	f.add(name, data)
	return nil
}

func (f *flattener) add(name, data string) {
	key := [2]string{name, data}
	if f.seen[key] {
		return
	}
	f.seen[key] = true
	f.commands = append(f.commands, store.CreateNested(store.Values{
		"name":     name,
		"datas":    data,
		"type":     "binary",
		"mimetype": Mimetype(name, data),
	}))
}

// Mimetype guesses the mimetype of an attachment from its file name, else
// from its base64 encoded content
func Mimetype(name, data string) string {
	if t := mime.TypeByExtension(path.Ext(name)); t != "" {
		if mediaType, _, err := mime.ParseMediaType(t); err == nil {
			return mediaType
		}
	}
	decoded, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return "application/octet-stream"
	}
	mediaType, _, err := mime.ParseMediaType(http.DetectContentType(decoded))
	if err != nil {
		return "application/octet-stream"
	}
	return mediaType
}
