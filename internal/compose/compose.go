package compose

import (
	"encoding/json"
	"strings"
)

const (
	audioMimeType       = "audio/mp4"
	documentMimeType    = "application/pdf"
	defaultDocumentName = "archivo.pdf"
)

// Compose validates req and builds the content the transport expects.
// It is pure: the same request and branding always yield the same result.
func Compose(req OutboundRequest, b Branding) (Composed, error) {
	if !req.Kind.Valid() {
		return Composed{}, &ValidationError{Kind: req.Kind, Field: "type", Err: ErrUnknownKind}
	}
	if strings.TrimSpace(req.Target) == "" {
		return Composed{}, &ValidationError{Kind: req.Kind, Field: "target", Err: ErrMissingTarget}
	}

	content, err := build(req)
	if err != nil {
		return Composed{}, err
	}

	if b.Disabled || (req.Kind == KindSticker && b.StickerExempt) {
		return Composed{Content: content, Options: req.Options}, nil
	}

	content.Context = b.contextInfo()
	opts := Options{
		EphemeralExpiration: b.Disappearing,
		DisappearingInChat:  b.Disappearing,
		Quoted:              b.quote(),
	}
	return Composed{Content: content, Options: mergeOptions(opts, req.Options)}, nil
}

func build(req OutboundRequest) (Content, error) {
	c := Content{Kind: req.Kind}

	if req.Kind == KindText {
		if req.Body == nil {
			return Content{}, &ValidationError{Kind: req.Kind, Field: "body", Err: ErrMissingBody}
		}
		c.Text = *req.Body
		return c, nil
	}

	if req.MediaRef == nil || *req.MediaRef == "" {
		return Content{}, &ValidationError{Kind: req.Kind, Field: "mediaRef", Err: ErrMissingMedia}
	}
	ref := *req.MediaRef

	switch req.Kind {
	case KindImage, KindVideo:
		c.Media = &MediaRef{URL: ref}
		c.Caption = valueOr(req.Body, "")
	case KindAudio:
		c.Media = &MediaRef{URL: ref}
		c.MimeType = audioMimeType
		c.VoiceNote = true
	case KindDocument:
		c.Media = &MediaRef{URL: ref}
		c.FileName = valueOr(req.Body, defaultDocumentName)
		c.MimeType = documentMimeType
	case KindSticker:
		c.Sticker = ref
	}
	return c, nil
}

// mergeOptions overlays the caller's options on the defaults.
func mergeOptions(defaults, caller Options) Options {
	out := defaults
	if caller.EphemeralExpiration != 0 {
		out.EphemeralExpiration = caller.EphemeralExpiration
	}
	if caller.DisappearingInChat != 0 {
		out.DisappearingInChat = caller.DisappearingInChat
	}
	if caller.Quoted != nil {
		out.Quoted = caller.Quoted
	}
	return out
}

func valueOr(p *string, fallback string) string {
	if p == nil {
		return fallback
	}
	return *p
}

// MarshalJSON renders the content in the shape the send surface documents,
// e.g. {"text":"hi","contextInfo":{...}}.
func (c Content) MarshalJSON() ([]byte, error) {
	m := map[string]interface{}{}
	switch c.Kind {
	case KindText:
		m["text"] = c.Text
	case KindImage, KindVideo:
		m[string(c.Kind)] = c.Media
		m["caption"] = c.Caption
	case KindAudio:
		m["audio"] = c.Media
		m["mimetype"] = c.MimeType
		m["ptt"] = c.VoiceNote
	case KindDocument:
		m["document"] = c.Media
		m["fileName"] = c.FileName
		m["mimetype"] = c.MimeType
	case KindSticker:
		m["sticker"] = c.Sticker
	}
	if c.Context != nil {
		m["contextInfo"] = c.Context
	}
	return json.Marshal(m)
}

// Ptr returns a pointer to s. Handy for building requests.
func Ptr(s string) *string { return &s }
