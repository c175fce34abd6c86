package chat

import (
	"errors"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Kind tags which attachment a message carries.
type Kind string

const (
	KindText   Kind = "Text"
	KindPhoto  Kind = "Photo"
	KindBundle Kind = "Bundle"
)

var (
	ErrInvalidKind     = errors.New("message type must be one of Text, Photo, Bundle")
	ErrContentRequired = errors.New("content is required")
	ErrPhotoRequired   = errors.New("photo id required for photo messages")
	ErrBundleRequired  = errors.New("bundle id required for bundle messages")
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindText, KindPhoto, KindBundle:
		return true
	}
	return false
}

// Body is the closed set of message payloads: TextBody, PhotoBody, BundleBody.
type Body interface {
	Kind() Kind
	Text() string
	// AttachmentID is the photo or bundle id, "" for text.
	AttachmentID() string
	sealed()
}

type TextBody struct {
	Content string
}

type PhotoBody struct {
	Content string
	PhotoID string
}

type BundleBody struct {
	Content  string
	BundleID string
}

func (TextBody) Kind() Kind           { return KindText }
func (b TextBody) Text() string       { return b.Content }
func (TextBody) AttachmentID() string { return "" }
func (TextBody) sealed()              {}

func (PhotoBody) Kind() Kind             { return KindPhoto }
func (b PhotoBody) Text() string         { return b.Content }
func (b PhotoBody) AttachmentID() string { return b.PhotoID }
func (PhotoBody) sealed()                {}

func (BundleBody) Kind() Kind             { return KindBundle }
func (b BundleBody) Text() string         { return b.Content }
func (b BundleBody) AttachmentID() string { return b.BundleID }
func (BundleBody) sealed()                {}

// NewBody builds the body for kind, rejecting payloads that break the
// attachment invariant. Attachment ids not used by kind are ignored.
func NewBody(kind Kind, content, photoID, bundleID string) (Body, error) {
	if !kind.Valid() {
		return nil, ErrInvalidKind
	}
	if strings.TrimSpace(content) == "" {
		return nil, ErrContentRequired
	}

	switch kind {
	case KindPhoto:
		if strings.TrimSpace(photoID) == "" {
			return nil, ErrPhotoRequired
		}
		return PhotoBody{Content: content, PhotoID: strings.TrimSpace(photoID)}, nil
	case KindBundle:
		if strings.TrimSpace(bundleID) == "" {
			return nil, ErrBundleRequired
		}
		return BundleBody{Content: content, BundleID: strings.TrimSpace(bundleID)}, nil
	default:
		return TextBody{Content: content}, nil
	}
}

// WithContent returns b with its text replaced, keeping kind and attachment.
func WithContent(b Body, content string) Body {
	switch v := b.(type) {
	case PhotoBody:
		v.Content = content
		return v
	case BundleBody:
		v.Content = content
		return v
	default:
		return TextBody{Content: content}
	}
}

// Message is one entry of a conversation log.
type Message struct {
	ID        string
	Author    string
	Body      Body
	IsRead    bool
	CreatedAt time.Time
}

// Kind is a shortcut for m.Body.Kind(); a message without body reads as text.
func (m Message) Kind() Kind {
	if m.Body == nil {
		return KindText
	}
	return m.Body.Kind()
}

// Content is a shortcut for m.Body.Text().
func (m Message) Content() string {
	if m.Body == nil {
		return ""
	}
	return m.Body.Text()
}

type messageJSON struct {
	ID        string    `json:"id"`
	CreatedBy string    `json:"createdBy"`
	Type      Kind      `json:"type"`
	Content   string    `json:"content"`
	Photo     string    `json:"photo,omitempty"`
	Bundle    string    `json:"bundle,omitempty"`
	IsRead    bool      `json:"isRead"`
	CreatedAt time.Time `json:"createdAt"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	out := messageJSON{
		ID:        m.ID,
		CreatedBy: m.Author,
		Type:      m.Kind(),
		Content:   m.Content(),
		IsRead:    m.IsRead,
		CreatedAt: m.CreatedAt,
	}
	switch b := m.Body.(type) {
	case PhotoBody:
		out.Photo = b.PhotoID
	case BundleBody:
		out.Bundle = b.BundleID
	}
	return json.Marshal(out)
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var in messageJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	body, err := NewBody(in.Type, in.Content, in.Photo, in.Bundle)
	if err != nil {
		return err
	}
	*m = Message{
		ID:        in.ID,
		Author:    in.CreatedBy,
		Body:      body,
		IsRead:    in.IsRead,
		CreatedAt: in.CreatedAt,
	}
	return nil
}
