package compose

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestCompose_Text(t *testing.T) {
	got, err := Compose(OutboundRequest{Kind: KindText, Target: "15550001111", Body: Ptr("hi")}, DefaultBranding())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := json.Marshal(got.Content)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var shape map[string]interface{}
	if err := json.Unmarshal(data, &shape); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if shape["text"] != "hi" {
		t.Errorf("text = %v, want hi", shape["text"])
	}
	ctx, ok := shape["contextInfo"].(map[string]interface{})
	if !ok {
		t.Fatalf("contextInfo missing: %s", data)
	}
	if ctx["isForwarded"] != true {
		t.Errorf("isForwarded = %v, want true", ctx["isForwarded"])
	}
	if ctx["forwardingScore"] != float64(DefaultForwardingScore) {
		t.Errorf("forwardingScore = %v", ctx["forwardingScore"])
	}
	nl, ok := ctx["forwardedNewsletterMessageInfo"].(map[string]interface{})
	if !ok {
		t.Fatalf("forwardedNewsletterMessageInfo missing: %s", data)
	}
	if nl["newsletterJid"] != DefaultChannelJID || nl["serverMessageId"] != DefaultServerMessageID || nl["newsletterName"] != DefaultChannelName {
		t.Errorf("unexpected newsletter block: %v", nl)
	}

	if got.Options.EphemeralExpiration != 24*time.Hour || got.Options.DisappearingInChat != 24*time.Hour {
		t.Errorf("timers = %v/%v, want 24h", got.Options.EphemeralExpiration, got.Options.DisappearingInChat)
	}
	if got.Options.Quoted == nil || got.Options.Quoted.ID != DefaultQuoteID || got.Options.Quoted.LocationName != DefaultQuoteLocation {
		t.Errorf("quoted = %+v, want default location card", got.Options.Quoted)
	}
}

func TestCompose_PerKindShape(t *testing.T) {
	ref := Ptr("https://example.com/a.bin")
	tests := []struct {
		name string
		req  OutboundRequest
		want Content
	}{
		{
			name: "image_with_caption",
			req:  OutboundRequest{Kind: KindImage, Target: "1", Body: Ptr("look"), MediaRef: ref},
			want: Content{Kind: KindImage, Media: &MediaRef{URL: *ref}, Caption: "look"},
		},
		{
			name: "image_without_caption",
			req:  OutboundRequest{Kind: KindImage, Target: "1", MediaRef: ref},
			want: Content{Kind: KindImage, Media: &MediaRef{URL: *ref}, Caption: ""},
		},
		{
			name: "video",
			req:  OutboundRequest{Kind: KindVideo, Target: "1", MediaRef: ref},
			want: Content{Kind: KindVideo, Media: &MediaRef{URL: *ref}},
		},
		{
			name: "audio",
			req:  OutboundRequest{Kind: KindAudio, Target: "1", Body: Ptr("ignored"), MediaRef: ref},
			want: Content{Kind: KindAudio, Media: &MediaRef{URL: *ref}, MimeType: "audio/mp4", VoiceNote: true},
		},
		{
			name: "document_default_name",
			req:  OutboundRequest{Kind: KindDocument, Target: "1", MediaRef: ref},
			want: Content{Kind: KindDocument, Media: &MediaRef{URL: *ref}, FileName: "archivo.pdf", MimeType: "application/pdf"},
		},
		{
			name: "document_named",
			req:  OutboundRequest{Kind: KindDocument, Target: "1", Body: Ptr("invoice.pdf"), MediaRef: ref},
			want: Content{Kind: KindDocument, Media: &MediaRef{URL: *ref}, FileName: "invoice.pdf", MimeType: "application/pdf"},
		},
		{
			name: "sticker",
			req:  OutboundRequest{Kind: KindSticker, Target: "1", MediaRef: ref},
			want: Content{Kind: KindSticker, Sticker: *ref},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Compose(tt.req, DefaultBranding())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			content := got.Content
			content.Context = nil
			if !reflect.DeepEqual(content, tt.want) {
				t.Errorf("content = %+v, want %+v", content, tt.want)
			}
		})
	}
}

func TestCompose_ForwardingBlockOnAllButSticker(t *testing.T) {
	for _, kind := range Kinds {
		req := OutboundRequest{Kind: kind, Target: "1", Body: Ptr("x"), MediaRef: Ptr("file:///tmp/x")}
		got, err := Compose(req, DefaultBranding())
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", kind, err)
		}
		if kind == KindSticker {
			if got.Content.Context != nil {
				t.Errorf("sticker must not carry the forwarding block")
			}
			if got.Options != (Options{}) {
				t.Errorf("sticker options = %+v, want caller options only", got.Options)
			}
			continue
		}
		if got.Content.Context == nil || !got.Content.Context.IsForwarded {
			t.Errorf("%s: forwarding block missing", kind)
		}
	}
}

func TestCompose_StickerKeepsCallerOptions(t *testing.T) {
	q := &QuotedRef{ID: "abc", RemoteJID: "1@s.whatsapp.net"}
	got, err := Compose(OutboundRequest{
		Kind: KindSticker, Target: "1", MediaRef: Ptr("s.webp"),
		Options: Options{Quoted: q},
	}, DefaultBranding())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Options.Quoted != q || got.Options.EphemeralExpiration != 0 {
		t.Errorf("options = %+v, want only caller quote", got.Options)
	}
}

func TestCompose_StickerWrappedWhenNotExempt(t *testing.T) {
	b := DefaultBranding()
	b.StickerExempt = false
	got, err := Compose(OutboundRequest{Kind: KindSticker, Target: "1", MediaRef: Ptr("s.webp")}, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Content.Context == nil {
		t.Error("expected forwarding block when sticker exemption is off")
	}
}

func TestCompose_CallerOptionsOverrideDefaults(t *testing.T) {
	q := &QuotedRef{ID: "real", RemoteJID: "2@s.whatsapp.net"}
	got, err := Compose(OutboundRequest{
		Kind: KindText, Target: "1", Body: Ptr("hey"),
		Options: Options{EphemeralExpiration: time.Hour, Quoted: q},
	}, DefaultBranding())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Options.EphemeralExpiration != time.Hour {
		t.Errorf("ephemeral = %v, want 1h", got.Options.EphemeralExpiration)
	}
	if got.Options.DisappearingInChat != 24*time.Hour {
		t.Errorf("disappearing = %v, want default 24h", got.Options.DisappearingInChat)
	}
	if got.Options.Quoted != q {
		t.Errorf("quoted = %+v, want caller quote", got.Options.Quoted)
	}
}

func TestCompose_QuoteCardDisabled(t *testing.T) {
	b := DefaultBranding()
	b.QuoteCard = false
	got, err := Compose(OutboundRequest{Kind: KindText, Target: "1", Body: Ptr("hey")}, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Options.Quoted != nil {
		t.Errorf("quoted = %+v, want nil", got.Options.Quoted)
	}
	if got.Content.Context == nil {
		t.Error("forwarding block should not depend on the quote card")
	}
}

func TestCompose_BrandingDisabled(t *testing.T) {
	b := DefaultBranding()
	b.Disabled = true
	got, err := Compose(OutboundRequest{Kind: KindText, Target: "1", Body: Ptr("plain")}, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Content.Context != nil || got.Options != (Options{}) {
		t.Errorf("expected unbranded content, got %+v / %+v", got.Content.Context, got.Options)
	}
}

func TestCompose_Validation(t *testing.T) {
	tests := []struct {
		name string
		req  OutboundRequest
		want error
	}{
		{"text_missing_body", OutboundRequest{Kind: KindText, Target: "1"}, ErrMissingBody},
		{"image_missing_media", OutboundRequest{Kind: KindImage, Target: "1", Body: Ptr("c")}, ErrMissingMedia},
		{"audio_missing_media", OutboundRequest{Kind: KindAudio, Target: "1"}, ErrMissingMedia},
		{"video_missing_media", OutboundRequest{Kind: KindVideo, Target: "1"}, ErrMissingMedia},
		{"document_missing_media", OutboundRequest{Kind: KindDocument, Target: "1"}, ErrMissingMedia},
		{"document_empty_media", OutboundRequest{Kind: KindDocument, Target: "1", MediaRef: Ptr("")}, ErrMissingMedia},
		{"sticker_missing_media", OutboundRequest{Kind: KindSticker, Target: "1"}, ErrMissingMedia},
		{"unknown_kind", OutboundRequest{Kind: "poll", Target: "1"}, ErrUnknownKind},
		{"missing_target", OutboundRequest{Kind: KindText, Body: Ptr("x")}, ErrMissingTarget},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compose(tt.req, DefaultBranding())
			if !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
			if !IsValidation(err) {
				t.Errorf("expected a ValidationError, got %T", err)
			}
		})
	}
}

func TestCompose_Pure(t *testing.T) {
	req := OutboundRequest{Kind: KindImage, Target: "1", Body: Ptr("c"), MediaRef: Ptr("u")}
	a, errA := Compose(req, DefaultBranding())
	b, errB := Compose(req, DefaultBranding())
	if errA != nil || errB != nil {
		t.Fatalf("unexpected errors: %v %v", errA, errB)
	}
	if !reflect.DeepEqual(a, b) {
		t.Errorf("compose not deterministic: %+v vs %+v", a, b)
	}
	if *req.Body != "c" || *req.MediaRef != "u" {
		t.Error("compose mutated its input")
	}
}
