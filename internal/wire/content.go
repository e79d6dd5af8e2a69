package wire

import (
	"encoding/json"
	"fmt"
)

// ContentType discriminates the structured content kinds the catalog accepts.
// The wire strings are part of the remote contract and must not change.
type ContentType string

const (
	// ContentTypeChecklist is a flat or shallowly nested list of checkable items.
	ContentTypeChecklist ContentType = "checklist"

	// ContentTypePracticeGuide is a long-form stepwise guide.
	ContentTypePracticeGuide ContentType = "practice_guide"

	// ContentTypeFlashcardDeck is a deck of two-sided study cards.
	ContentTypeFlashcardDeck ContentType = "flashcard_deck"
)

// Content is a closed tagged union over the known content kinds.
// Exactly one member is non-nil; Kind() reports which.
//
// The union is closed on purpose: the sync engine statically knows every
// content shape the catalog accepts, so there is no dynamic value bag at
// this level. Schema-free Values appear only inside the variants, at the
// fields that are genuinely free-form.
type Content struct {
	Checklist *Checklist
	Guide     *PracticeGuide
	Deck      *FlashcardDeck
}

// Checklist is the published form of a checklist document.
type Checklist struct {
	Items []ChecklistItem `json:"items"`
}

// ChecklistItem is a single entry, optionally with nested sub-items.
type ChecklistItem struct {
	Text     string          `json:"text"`
	Note     string          `json:"note,omitempty"`
	Subitems []ChecklistItem `json:"subitems,omitempty"`
}

// PracticeGuide is the published form of a long-form guide.
type PracticeGuide struct {
	Summary string      `json:"summary,omitempty"`
	Steps   []GuideStep `json:"steps"`
}

// GuideStep is one step of a guide. Extra carries author-attached
// free-form metadata and is the schema-free boundary for guides.
type GuideStep struct {
	Heading string `json:"heading"`
	Body    string `json:"body"`
	Extra   Object `json:"extra,omitempty"`
}

// FlashcardDeck is the published form of a card deck.
type FlashcardDeck struct {
	Cards []Flashcard `json:"cards"`
}

// Flashcard is a single two-sided card. Extra is schema-free.
type Flashcard struct {
	Front string `json:"front"`
	Back  string `json:"back"`
	Extra Object `json:"extra,omitempty"`
}

// Kind returns the content type discriminator for the populated member.
func (c Content) Kind() (ContentType, error) {
	switch {
	case c.Checklist != nil:
		return ContentTypeChecklist, nil
	case c.Guide != nil:
		return ContentTypePracticeGuide, nil
	case c.Deck != nil:
		return ContentTypeFlashcardDeck, nil
	default:
		return "", fmt.Errorf("empty content union")
	}
}

// EncodeContent serializes the populated member as a bare JSON object,
// the same bytes that go into content_data. Used for local persistence.
func EncodeContent(c Content) ([]byte, error) {
	return c.marshalData()
}

// DecodeContent parses a bare content object according to its declared type.
func DecodeContent(kind ContentType, data []byte) (Content, error) {
	return unmarshalData(kind, data)
}

// marshalData serializes the populated member as the content_data object.
// The content is always a nested structured value on the wire, never a
// re-serialized string.
func (c Content) marshalData() (json.RawMessage, error) {
	kind, err := c.Kind()
	if err != nil {
		return nil, err
	}

	var data []byte
	switch kind {
	case ContentTypeChecklist:
		data, err = marshalNoEscape(c.Checklist)
	case ContentTypePracticeGuide:
		data, err = marshalNoEscape(c.Guide)
	case ContentTypeFlashcardDeck:
		data, err = marshalNoEscape(c.Deck)
	}
	if err != nil {
		return nil, fmt.Errorf("marshal %s content: %w", kind, err)
	}
	return data, nil
}

// unmarshalData parses a content_data object according to the declared
// content type. Unknown discriminators are rejected.
func unmarshalData(kind ContentType, data json.RawMessage) (Content, error) {
	switch kind {
	case ContentTypeChecklist:
		var cl Checklist
		if err := json.Unmarshal(data, &cl); err != nil {
			return Content{}, fmt.Errorf("unmarshal checklist content: %w", err)
		}
		return Content{Checklist: &cl}, nil

	case ContentTypePracticeGuide:
		var g PracticeGuide
		if err := json.Unmarshal(data, &g); err != nil {
			return Content{}, fmt.Errorf("unmarshal practice guide content: %w", err)
		}
		return Content{Guide: &g}, nil

	case ContentTypeFlashcardDeck:
		var d FlashcardDeck
		if err := json.Unmarshal(data, &d); err != nil {
			return Content{}, fmt.Errorf("unmarshal flashcard deck content: %w", err)
		}
		return Content{Deck: &d}, nil

	default:
		return Content{}, fmt.Errorf("unknown content type: %q", kind)
	}
}
