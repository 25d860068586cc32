package whatsapp

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"testing"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/nextlevelbuilder/wagate/internal/compose"
	"github.com/nextlevelbuilder/wagate/internal/media"
	"github.com/nextlevelbuilder/wagate/internal/transport"
)

func TestParseTarget(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"15550001111", "15550001111@s.whatsapp.net", true},
		{"+1 (555) 000-1111", "15550001111@s.whatsapp.net", true},
		{"15550001111@s.whatsapp.net", "15550001111@s.whatsapp.net", true},
		{"120363000000000000@g.us", "120363000000000000@g.us", true},
		{"120363405239179634@newsletter", "120363405239179634@newsletter", true},
		{"", "", false},
		{"123", "", false},
		{"call-me-maybe", "", false},
		{"@s.whatsapp.net", "", false},
	}
	for _, tt := range tests {
		jid, err := ParseTarget(tt.in)
		if !tt.ok {
			if !errors.Is(err, ErrInvalidTarget) {
				t.Errorf("ParseTarget(%q) error = %v, want ErrInvalidTarget", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseTarget(%q): %v", tt.in, err)
			continue
		}
		if jid.String() != tt.want {
			t.Errorf("ParseTarget(%q) = %s, want %s", tt.in, jid, tt.want)
		}
	}
}

func TestMapEvent(t *testing.T) {
	jid := types.NewJID("15550001111", types.DefaultUserServer)
	tests := []struct {
		name string
		evt  interface{}
		code int // expected close code, 0 when not a close
		want transport.Event
	}{
		{name: "connected", evt: &events.Connected{}, want: transport.ConnectionOpened{}},
		{name: "logged out", evt: &events.LoggedOut{}, code: transport.CodeLoggedOut},
		{name: "temporary ban", evt: &events.TemporaryBan{Expire: time.Hour}, code: transport.CodeTemporaryBan},
		{name: "client outdated", evt: &events.ClientOutdated{}, code: transport.CodeClientOutdated},
		{name: "connect failure logout", evt: &events.ConnectFailure{Reason: events.ConnectFailureLoggedOut}, code: transport.CodeLoggedOut},
		{name: "connect failure other", evt: &events.ConnectFailure{Reason: events.ConnectFailureReason(503)}, code: 503},
		{name: "stream replaced", evt: &events.StreamReplaced{}, code: transport.CodeConnectionReplaced},
		{name: "disconnected", evt: &events.Disconnected{}, code: transport.CodeConnectionClosed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := mapEvent(tt.evt)
			if !ok {
				t.Fatal("event not mapped")
			}
			if tt.code != 0 {
				closed, isClose := ev.(transport.ConnectionClosed)
				if !isClose {
					t.Fatalf("got %T, want ConnectionClosed", ev)
				}
				if closed.Code != tt.code {
					t.Errorf("code = %d, want %d", closed.Code, tt.code)
				}
				if closed.Err == nil {
					t.Error("expected a close reason")
				}
				return
			}
			if ev != tt.want {
				t.Errorf("got %#v, want %#v", ev, tt.want)
			}
		})
	}

	ev, ok := mapEvent(&events.PairSuccess{ID: jid})
	if !ok {
		t.Fatal("pair success not mapped")
	}
	if cu, _ := ev.(transport.CredentialsUpdated); string(cu.Blob) != jid.String() {
		t.Errorf("credentials = %#v", ev)
	}

	if _, ok := mapEvent(&events.Receipt{}); ok {
		t.Error("receipts should be ignored")
	}
}

func TestMapEvent_Message(t *testing.T) {
	chat := types.NewJID("15550001111", types.DefaultUserServer)
	ts := time.Unix(1700000000, 0)
	ev, ok := mapEvent(&events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{Chat: chat, Sender: chat},
			ID:            "3EB0ABC",
			Timestamp:     ts,
		},
		Message: &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("hola")}},
	})
	if !ok {
		t.Fatal("message not mapped")
	}
	msg := ev.(transport.MessageReceived)
	if msg.ID != "3EB0ABC" || msg.Text != "hola" || msg.Chat != chat.String() || !msg.Timestamp.Equal(ts) {
		t.Errorf("message = %+v", msg)
	}
}

func TestMapQRItem(t *testing.T) {
	ev, ok := mapQRItem(whatsmeow.QRChannelItem{Event: whatsmeow.QRChannelEventCode, Code: "2@abc"})
	if !ok || ev != (transport.PairingCode{Payload: "2@abc"}) {
		t.Errorf("code item = %#v", ev)
	}
	ev, ok = mapQRItem(whatsmeow.QRChannelTimeout)
	if c, _ := ev.(transport.ConnectionClosed); !ok || c.Code != transport.CodeTimedOut {
		t.Errorf("timeout item = %#v", ev)
	}
	if _, ok := mapQRItem(whatsmeow.QRChannelSuccess); ok {
		t.Error("success should not produce an event")
	}
}

func brandedText(t *testing.T, b compose.Branding) compose.Composed {
	t.Helper()
	c, err := compose.Compose(compose.OutboundRequest{Kind: compose.KindText, Target: "1", Body: compose.Ptr("hi")}, b)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestContextInfo_Branded(t *testing.T) {
	msg := brandedText(t, compose.DefaultBranding())
	info := contextInfo(msg.Content.Context, msg.Options)
	if info == nil {
		t.Fatal("expected context info")
	}

	nl := info.GetForwardedNewsletterMessageInfo()
	if nl.GetNewsletterJID() != compose.DefaultChannelJID || nl.GetNewsletterName() != compose.DefaultChannelName {
		t.Errorf("newsletter = %+v", nl)
	}
	var full int64 = 120363405239179634
	if want := int32(full); nl.GetServerMessageID() != want {
		t.Errorf("server message id = %d, want %d", nl.GetServerMessageID(), want)
	}
	if info.GetForwardingScore() != compose.DefaultForwardingScore || !info.GetIsForwarded() {
		t.Errorf("forwarding = %d/%t", info.GetForwardingScore(), info.GetIsForwarded())
	}
	if info.GetExpiration() != 86400 {
		t.Errorf("expiration = %d, want 86400", info.GetExpiration())
	}
	if info.GetStanzaID() != compose.DefaultQuoteID || info.GetRemoteJID() != compose.DefaultQuoteRemoteJID ||
		info.GetParticipant() != compose.DefaultQuoteParticipant {
		t.Errorf("quote = %q/%q/%q", info.GetStanzaID(), info.GetRemoteJID(), info.GetParticipant())
	}
	if info.GetQuotedMessage().GetLocationMessage().GetName() != compose.DefaultQuoteLocation {
		t.Errorf("quoted location = %+v", info.GetQuotedMessage())
	}
}

func TestContextInfo_Plain(t *testing.T) {
	b := compose.DefaultBranding()
	b.Disabled = true
	msg := brandedText(t, b)
	if info := contextInfo(msg.Content.Context, msg.Options); info != nil {
		t.Errorf("expected no context info, got %+v", info)
	}
}

func TestContextInfo_QuoteJIDs(t *testing.T) {
	tests := []struct {
		name        string
		remote      string
		participant string
		wantRemote  string
		wantPart    string
	}{
		{"bare number", "+1 555 000-1111", "", "15550001111@s.whatsapp.net", ""},
		{"full jids", "123-456@g.us", "15550001111@s.whatsapp.net", "123-456@g.us", "15550001111@s.whatsapp.net"},
		{"unparseable dropped", "not a number", "x", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := compose.Options{Quoted: &compose.QuotedRef{ID: "q1", RemoteJID: tt.remote, Participant: tt.participant}}
			info := contextInfo(nil, opts)
			if info == nil {
				t.Fatal("expected context info")
			}
			if info.GetStanzaID() != "q1" {
				t.Errorf("stanza id = %q", info.GetStanzaID())
			}
			if (info.RemoteJID == nil) != (tt.wantRemote == "") || info.GetRemoteJID() != tt.wantRemote {
				t.Errorf("remote jid = %v, want %q", info.RemoteJID, tt.wantRemote)
			}
			if (info.Participant == nil) != (tt.wantPart == "") || info.GetParticipant() != tt.wantPart {
				t.Errorf("participant = %v, want %q", info.Participant, tt.wantPart)
			}
		})
	}
}

type fakeFetcher struct {
	blob media.Blob
	err  error
	refs []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, ref string) (media.Blob, error) {
	f.refs = append(f.refs, ref)
	return f.blob, f.err
}

type fakeUploader struct {
	types []whatsmeow.MediaType
	err   error
}

func (u *fakeUploader) Upload(ctx context.Context, data []byte, mt whatsmeow.MediaType) (whatsmeow.UploadResponse, error) {
	u.types = append(u.types, mt)
	if u.err != nil {
		return whatsmeow.UploadResponse{}, u.err
	}
	return whatsmeow.UploadResponse{
		URL:        "https://mmg.whatsapp.net/x",
		DirectPath: "/v/x",
		MediaKey:   []byte("key"),
		FileLength: uint64(len(data)),
	}, nil
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 200, 100))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestBuilder_Kinds(t *testing.T) {
	img := pngBytes(t)
	b := compose.DefaultBranding()
	tests := []struct {
		kind  compose.Kind
		body  *string
		mt    whatsmeow.MediaType
		check func(t *testing.T, m *waE2E.Message)
	}{
		{compose.KindImage, compose.Ptr("look"), whatsmeow.MediaImage, func(t *testing.T, m *waE2E.Message) {
			im := m.GetImageMessage()
			if im.GetCaption() != "look" || im.GetMimetype() != "image/png" || len(im.GetJPEGThumbnail()) == 0 {
				t.Errorf("image = caption %q mime %q thumb %d", im.GetCaption(), im.GetMimetype(), len(im.GetJPEGThumbnail()))
			}
			if !im.GetContextInfo().GetIsForwarded() {
				t.Error("image should carry forwarding context")
			}
		}},
		{compose.KindVideo, nil, whatsmeow.MediaVideo, func(t *testing.T, m *waE2E.Message) {
			if m.GetVideoMessage() == nil || m.GetVideoMessage().Caption != nil {
				t.Errorf("video = %+v", m.GetVideoMessage())
			}
		}},
		{compose.KindAudio, nil, whatsmeow.MediaAudio, func(t *testing.T, m *waE2E.Message) {
			a := m.GetAudioMessage()
			if a.GetMimetype() != "audio/mp4" || !a.GetPTT() {
				t.Errorf("audio = mime %q ptt %t", a.GetMimetype(), a.GetPTT())
			}
		}},
		{compose.KindDocument, nil, whatsmeow.MediaDocument, func(t *testing.T, m *waE2E.Message) {
			d := m.GetDocumentMessage()
			if d.GetFileName() != "archivo.pdf" || d.GetMimetype() != "application/pdf" {
				t.Errorf("document = name %q mime %q", d.GetFileName(), d.GetMimetype())
			}
		}},
		{compose.KindSticker, nil, whatsmeow.MediaImage, func(t *testing.T, m *waE2E.Message) {
			s := m.GetStickerMessage()
			if s.GetMimetype() != "image/webp" {
				t.Errorf("sticker mime = %q", s.GetMimetype())
			}
			if s.GetContextInfo() != nil {
				t.Error("exempt sticker should carry no context")
			}
		}},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			msg, err := compose.Compose(compose.OutboundRequest{
				Kind: tt.kind, Target: "1", Body: tt.body, MediaRef: compose.Ptr("https://cdn.example/file"),
			}, b)
			if err != nil {
				t.Fatal(err)
			}
			f := &fakeFetcher{blob: media.Blob{Data: img, MimeType: "image/png"}}
			u := &fakeUploader{}
			wire, err := (&builder{media: f, up: u}).build(context.Background(), msg)
			if err != nil {
				t.Fatalf("build: %v", err)
			}
			if len(f.refs) != 1 || f.refs[0] != "https://cdn.example/file" {
				t.Errorf("fetched %v", f.refs)
			}
			if len(u.types) != 1 || u.types[0] != tt.mt {
				t.Errorf("upload types = %v, want %v", u.types, tt.mt)
			}
			tt.check(t, wire)
		})
	}
}

func TestBuilder_Text(t *testing.T) {
	u := &fakeUploader{}
	wire, err := (&builder{media: &fakeFetcher{}, up: u}).build(context.Background(), brandedText(t, compose.DefaultBranding()))
	if err != nil {
		t.Fatal(err)
	}
	if wire.GetExtendedTextMessage().GetText() != "hi" {
		t.Errorf("text = %+v", wire)
	}
	if len(u.types) != 0 {
		t.Error("text must not upload")
	}

	b := compose.DefaultBranding()
	b.Disabled = true
	wire, _ = (&builder{media: &fakeFetcher{}, up: u}).build(context.Background(), brandedText(t, b))
	if wire.GetConversation() != "hi" {
		t.Errorf("plain text should be a conversation message: %+v", wire)
	}
}

func TestBuilder_Errors(t *testing.T) {
	msg, _ := compose.Compose(compose.OutboundRequest{Kind: compose.KindImage, Target: "1", MediaRef: compose.Ptr("s3://b/k")}, compose.DefaultBranding())

	fetchErr := errors.New("not found")
	_, err := (&builder{media: &fakeFetcher{err: fetchErr}, up: &fakeUploader{}}).build(context.Background(), msg)
	if !errors.Is(err, fetchErr) {
		t.Errorf("fetch error = %v", err)
	}

	upErr := errors.New("upload refused")
	_, err = (&builder{media: &fakeFetcher{}, up: &fakeUploader{err: upErr}}).build(context.Background(), msg)
	if !errors.Is(err, upErr) {
		t.Errorf("upload error = %v", err)
	}
}

func TestServerMessageID(t *testing.T) {
	if got := serverMessageID("42"); got != 42 {
		t.Errorf("got %d", got)
	}
	if got := serverMessageID("abc"); got != 0 {
		t.Errorf("non-numeric = %d, want 0", got)
	}
}
