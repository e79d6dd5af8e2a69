package wire

import (
	"bytes"
	"encoding/json"
	"errors"

	"golang.org/x/text/unicode/norm"
)

// PublishPayload is everything a publish call needs, captured by value at
// enqueue time. The payload must stay self-contained: once it sits in the
// queue, the source document may be edited, unpublished, or deleted before
// the operation executes.
type PublishPayload struct {
	Title       string
	Description *string
	Content     Content
	Tags        []string
	Language    string
	PublicID    string
}

// UnpublishPayload carries the one field an unpublish call needs.
// The public identifier is snapshotted here because the live document's
// field is cleared the moment the user unpublishes.
type UnpublishPayload struct {
	PublicID string
}

// publishEnvelope is the exact wire shape of a publish payload.
// Every key is explicit; there is no naming-convention rule anywhere in
// the codec, so encode and decode cannot silently diverge.
type publishEnvelope struct {
	Title       string          `json:"title"`
	Description *string         `json:"description"`
	ContentType ContentType     `json:"content_type"`
	ContentData json.RawMessage `json:"content_data"`
	Tags        []string        `json:"tags"`
	Language    string          `json:"language"`
	PublicID    string          `json:"public_id"`
}

// unpublishEnvelope is the exact wire shape of an unpublish payload.
type unpublishEnvelope struct {
	PublicID string `json:"public_id"`
}

// EncodePublish serializes a publish payload to its wire form.
// User-entered text (title, description, tags) is NFC-normalized so the
// catalog never sees two byte-distinct spellings of the same string.
func EncodePublish(p PublishPayload) ([]byte, error) {
	if p.Title == "" {
		return nil, encodeErr("publish", errors.New("title is required"))
	}
	if p.PublicID == "" {
		return nil, encodeErr("publish", errors.New("public_id is required"))
	}

	contentData, err := p.Content.marshalData()
	if err != nil {
		return nil, encodeErr("publish", err)
	}

	kind, err := p.Content.Kind()
	if err != nil {
		return nil, encodeErr("publish", err)
	}

	env := publishEnvelope{
		Title:       norm.NFC.String(p.Title),
		ContentType: kind,
		ContentData: contentData,
		Tags:        normalizeTags(p.Tags),
		Language:    p.Language,
		PublicID:    p.PublicID,
	}
	if p.Description != nil {
		desc := norm.NFC.String(*p.Description)
		env.Description = &desc
	}

	data, err := marshalNoEscape(env)
	if err != nil {
		return nil, encodeErr("publish", err)
	}
	return data, nil
}

// DecodePublish is the inverse of EncodePublish. A failure here means the
// queue row is corrupt, which the caller must treat as terminal.
func DecodePublish(data []byte) (PublishPayload, error) {
	var env publishEnvelope
	if err := strictUnmarshal(data, &env); err != nil {
		return PublishPayload{}, corruptErr("publish", err)
	}
	if env.Title == "" {
		return PublishPayload{}, corruptErr("publish", errors.New("missing title"))
	}
	if env.PublicID == "" {
		return PublishPayload{}, corruptErr("publish", errors.New("missing public_id"))
	}

	content, err := unmarshalData(env.ContentType, env.ContentData)
	if err != nil {
		return PublishPayload{}, corruptErr("publish", err)
	}

	return PublishPayload{
		Title:       env.Title,
		Description: env.Description,
		Content:     content,
		Tags:        env.Tags,
		Language:    env.Language,
		PublicID:    env.PublicID,
	}, nil
}

// EncodeUnpublish serializes an unpublish payload to its wire form.
func EncodeUnpublish(p UnpublishPayload) ([]byte, error) {
	if p.PublicID == "" {
		return nil, encodeErr("unpublish", errors.New("public_id is required"))
	}
	data, err := marshalNoEscape(unpublishEnvelope{PublicID: p.PublicID})
	if err != nil {
		return nil, encodeErr("unpublish", err)
	}
	return data, nil
}

// DecodeUnpublish is the inverse of EncodeUnpublish.
func DecodeUnpublish(data []byte) (UnpublishPayload, error) {
	var env unpublishEnvelope
	if err := strictUnmarshal(data, &env); err != nil {
		return UnpublishPayload{}, corruptErr("unpublish", err)
	}
	if env.PublicID == "" {
		return UnpublishPayload{}, corruptErr("unpublish", errors.New("missing public_id"))
	}
	return UnpublishPayload{PublicID: env.PublicID}, nil
}

// normalizeTags NFC-normalizes each tag, preserving order.
func normalizeTags(tags []string) []string {
	if tags == nil {
		return nil
	}
	out := make([]string, len(tags))
	for i, tag := range tags {
		out[i] = norm.NFC.String(tag)
	}
	return out
}

// marshalNoEscape marshals without HTML escaping so titles like "A & B"
// survive byte-exact through the queue.
func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// strictUnmarshal rejects unknown fields so a schema drift between writer
// and reader surfaces as corruption instead of silent data loss.
func strictUnmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	return nil
}
