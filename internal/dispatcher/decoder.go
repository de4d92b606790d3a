package dispatcher

import (
	"bytes"
	"fmt"
	"math"
	"strings"

	"github.com/goccy/go-json"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/spf13/cast"

	apperrors "surfacesync/pkg/errors"
	"surfacesync/pkg/models"
)

const payloadSchemaURL = "surfacesync://push-payload.json"

// Push channels deliver loosely typed data: numbers and flags may arrive as
// strings and mediaRefs may be an object, a JSON string or flattened keys.
const payloadSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["messageId"],
  "properties": {
    "messageId":       {"type": ["string", "integer"], "minLength": 1},
    "senderId":        {"type": ["string", "integer", "null"]},
    "senderName":      {"type": ["string", "null"]},
    "recipientId":     {"type": ["string", "integer", "null"]},
    "contentKind":     {"type": ["string", "null"]},
    "mediaRefs":       {"$ref": "#/$defs/mediaRefs"},
    "imageUrl":        {"type": ["string", "null"]},
    "mediaUrl":        {"type": ["string", "null"]},
    "audioUrl":        {"type": ["string", "null"]},
    "videoUrl":        {"type": ["string", "null"]},
    "durationSeconds": {"$ref": "#/$defs/number"},
    "captionPreview":  {"type": ["string", "null"]},
    "createdAtMillis": {"$ref": "#/$defs/number"},
    "sequence":        {"$ref": "#/$defs/number"},
    "silent":          {"type": ["boolean", "string", "integer", "null"]}
  },
  "$defs": {
    "number": {
      "anyOf": [
        {"type": ["number", "null"]},
        {"type": "string", "pattern": "^\\s*-?[0-9]+(\\.[0-9]+)?\\s*$"}
      ]
    },
    "mediaRefs": {
      "anyOf": [
        {"type": ["string", "null"]},
        {
          "type": "object",
          "properties": {
            "imageUrl": {"type": ["string", "null"]},
            "mediaUrl": {"type": ["string", "null"]},
            "videoUrl": {"type": ["string", "null"]}
          }
        }
      ]
    }
  }
}`

// Decoder turns raw push bytes into a PushPayload.
type Decoder struct {
	schema *jsonschema.Schema
}

func NewDecoder() (*Decoder, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(payloadSchema))
	if err != nil {
		return nil, fmt.Errorf("parse payload schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource(payloadSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add payload schema: %w", err)
	}
	schema, err := c.Compile(payloadSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile payload schema: %w", err)
	}

	return &Decoder{schema: schema}, nil
}

// Decode accepts the payload itself or a {"data": ...} envelope whose data
// is an object or a JSON string.
func (d *Decoder) Decode(raw []byte) (models.PushPayload, error) {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return models.PushPayload{}, invalidPayload("payload", err)
	}

	inst, err = unwrapEnvelope(inst)
	if err != nil {
		return models.PushPayload{}, invalidPayload("data", err)
	}

	if err := d.schema.Validate(inst); err != nil {
		return models.PushPayload{}, invalidPayload("payload", err)
	}

	m, ok := inst.(map[string]any)
	if !ok {
		return models.PushPayload{}, invalidPayload("payload", fmt.Errorf("expected an object, got %T", inst))
	}

	return d.toPayload(m)
}

func unwrapEnvelope(inst any) (any, error) {
	m, ok := inst.(map[string]any)
	if !ok {
		return inst, nil
	}
	if _, ok := m["messageId"]; ok {
		return inst, nil
	}
	switch data := m["data"].(type) {
	case map[string]any:
		return data, nil
	case string:
		return jsonschema.UnmarshalJSON(strings.NewReader(data))
	}
	return inst, nil
}

func (d *Decoder) toPayload(m map[string]any) (models.PushPayload, error) {
	var p models.PushPayload
	var err error

	p.MessageID = strings.TrimSpace(cast.ToString(m["messageId"]))
	p.SenderID = cast.ToString(m["senderId"])
	p.SenderName = cast.ToString(m["senderName"])
	p.RecipientID = cast.ToString(m["recipientId"])
	p.CaptionPreview = cast.ToString(m["captionPreview"])

	if p.MediaRefs, err = mediaRefs(m); err != nil {
		return p, invalidPayload("mediaRefs", err)
	}

	if p.DurationSeconds, err = toInt64(m["durationSeconds"]); err != nil {
		return p, invalidPayload("durationSeconds", err)
	}
	if p.CreatedAtMillis, err = toInt64(m["createdAtMillis"]); err != nil {
		return p, invalidPayload("createdAtMillis", err)
	}
	if p.Sequence, err = toInt64(m["sequence"]); err != nil {
		return p, invalidPayload("sequence", err)
	}
	if v, ok := m["silent"]; ok && v != nil {
		if p.Silent, err = toBool(v); err != nil {
			return p, invalidPayload("silent", err)
		}
	}

	if kind := cast.ToString(m["contentKind"]); kind != "" {
		if p.ContentKind, err = models.ParseContentKind(kind); err != nil {
			return p, invalidPayload("contentKind", err)
		}
	} else {
		p.ContentKind = inferKind(p.MediaRefs)
	}

	return p, nil
}

func mediaRefs(m map[string]any) (models.MediaRefs, error) {
	var refs models.MediaRefs

	switch v := m["mediaRefs"].(type) {
	case map[string]any:
		refs.ImageURL = cast.ToString(v["imageUrl"])
		refs.MediaURL = cast.ToString(v["mediaUrl"])
		refs.VideoURL = cast.ToString(v["videoUrl"])
	case string:
		if strings.TrimSpace(v) != "" {
			if err := json.Unmarshal([]byte(v), &refs); err != nil {
				return refs, fmt.Errorf("mediaRefs string is not a JSON object: %w", err)
			}
		}
	}

	if refs.ImageURL == "" {
		refs.ImageURL = cast.ToString(m["imageUrl"])
	}
	if refs.MediaURL == "" {
		refs.MediaURL = cast.ToString(m["mediaUrl"])
	}
	if refs.MediaURL == "" {
		refs.MediaURL = cast.ToString(m["audioUrl"])
	}
	if refs.VideoURL == "" {
		refs.VideoURL = cast.ToString(m["videoUrl"])
	}

	refs.ImageURL = strings.TrimSpace(refs.ImageURL)
	refs.MediaURL = strings.TrimSpace(refs.MediaURL)
	refs.VideoURL = strings.TrimSpace(refs.VideoURL)
	return refs, nil
}

// toInt64 rounds fractional values; durations are often sent as floats.
func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case string:
		n = strings.TrimSpace(n)
		if n == "" {
			return 0, nil
		}
		v = n
	case fmt.Stringer:
		v = n.String()
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not a finite number: %v", v)
	}
	return int64(math.Round(f)), nil
}

func toBool(v any) (bool, error) {
	if b, ok := v.(bool); ok {
		return b, nil
	}
	return cast.ToBoolE(strings.TrimSpace(fmt.Sprint(v)))
}

func inferKind(refs models.MediaRefs) models.ContentKind {
	switch {
	case refs.VideoURL != "":
		return models.ContentVideo
	case refs.ImageURL != "" && refs.MediaURL != "":
		return models.ContentImageWithAudio
	case refs.MediaURL != "":
		return models.ContentAudioOnly
	default:
		return models.ContentImageOnly
	}
}

func invalidPayload(field string, cause error) error {
	return apperrors.ErrInvalidPayload.WithCause(cause).WithDetail("field", field)
}
