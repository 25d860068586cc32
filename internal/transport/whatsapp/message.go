package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"google.golang.org/protobuf/proto"

	"github.com/nextlevelbuilder/wagate/internal/compose"
	"github.com/nextlevelbuilder/wagate/internal/media"
)

const stickerMimeType = "image/webp"

// MediaFetcher resolves media references to bytes.
type MediaFetcher interface {
	Fetch(ctx context.Context, ref string) (media.Blob, error)
}

// uploader is the part of *whatsmeow.Client the builder needs.
type uploader interface {
	Upload(ctx context.Context, plaintext []byte, appInfo whatsmeow.MediaType) (whatsmeow.UploadResponse, error)
}

// builder turns composed content into a wire message.
type builder struct {
	media MediaFetcher
	up    uploader
}

func (b *builder) build(ctx context.Context, msg compose.Composed) (*waE2E.Message, error) {
	c := msg.Content
	info := contextInfo(c.Context, msg.Options)

	if c.Kind == compose.KindText {
		if info == nil {
			return &waE2E.Message{Conversation: proto.String(c.Text)}, nil
		}
		return &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text:        proto.String(c.Text),
			ContextInfo: info,
		}}, nil
	}

	ref := c.Sticker
	if c.Media != nil {
		ref = c.Media.URL
	}
	blob, err := b.media.Fetch(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("resolve %s media: %w", c.Kind, err)
	}

	up, err := b.up.Upload(ctx, blob.Data, mediaType(c.Kind))
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", c.Kind, err)
	}

	switch c.Kind {
	case compose.KindImage:
		m := &waE2E.ImageMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			Mimetype:      proto.String(orDefault(blob.MimeType, "image/jpeg")),
			Caption:       optString(c.Caption),
			ContextInfo:   info,
		}
		if thumb, err := media.Thumbnail(blob.Data); err == nil {
			m.JPEGThumbnail = thumb
		} else {
			slog.Debug("whatsapp: no thumbnail", "error", err)
		}
		return &waE2E.Message{ImageMessage: m}, nil

	case compose.KindVideo:
		return &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			Mimetype:      proto.String(orDefault(blob.MimeType, "video/mp4")),
			Caption:       optString(c.Caption),
			ContextInfo:   info,
		}}, nil

	case compose.KindAudio:
		return &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			Mimetype:      proto.String(orDefault(c.MimeType, blob.MimeType)),
			PTT:           proto.Bool(c.VoiceNote),
			ContextInfo:   info,
		}}, nil

	case compose.KindDocument:
		return &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			Mimetype:      proto.String(orDefault(c.MimeType, blob.MimeType)),
			FileName:      proto.String(c.FileName),
			Title:         proto.String(c.FileName),
			ContextInfo:   info,
		}}, nil

	case compose.KindSticker:
		return &waE2E.Message{StickerMessage: &waE2E.StickerMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			Mimetype:      proto.String(stickerMimeType),
			ContextInfo:   info,
		}}, nil
	}
	return nil, fmt.Errorf("unsupported kind %q", c.Kind)
}

func mediaType(k compose.Kind) whatsmeow.MediaType {
	switch k {
	case compose.KindVideo:
		return whatsmeow.MediaVideo
	case compose.KindAudio:
		return whatsmeow.MediaAudio
	case compose.KindDocument:
		return whatsmeow.MediaDocument
	default: // image, sticker
		return whatsmeow.MediaImage
	}
}

// contextInfo builds the wire context block: forwarding marker, message
// expiration and quote. It returns nil when there is nothing to attach.
func contextInfo(fwd *compose.ContextInfo, opts compose.Options) *waE2E.ContextInfo {
	var info waE2E.ContextInfo
	empty := true

	if fwd != nil {
		empty = false
		info.ForwardingScore = proto.Uint32(fwd.ForwardingScore)
		info.IsForwarded = proto.Bool(fwd.IsForwarded)
		if ch := fwd.Forwarded; ch != nil {
			info.ForwardedNewsletterMessageInfo = &waE2E.ContextInfo_ForwardedNewsletterMessageInfo{
				NewsletterJID:   proto.String(ch.ChannelJID),
				ServerMessageID: proto.Int32(serverMessageID(ch.ServerMessageID)),
				NewsletterName:  proto.String(ch.ChannelName),
			}
		}
	}

	// One message carries one timer; the longer of the two wins.
	expiration := opts.EphemeralExpiration
	if opts.DisappearingInChat > expiration {
		expiration = opts.DisappearingInChat
	}
	if secs := expiration.Seconds(); secs >= 1 {
		empty = false
		info.Expiration = proto.Uint32(uint32(secs))
	}

	if q := opts.Quoted; q != nil {
		empty = false
		info.StanzaID = proto.String(q.ID)
		info.RemoteJID = quoteJID(q.RemoteJID)
		info.Participant = quoteJID(q.Participant)
		switch {
		case q.LocationName != "":
			info.QuotedMessage = &waE2E.Message{LocationMessage: &waE2E.LocationMessage{
				Name: proto.String(q.LocationName),
			}}
		case q.Text != "":
			info.QuotedMessage = &waE2E.Message{Conversation: proto.String(q.Text)}
		}
	}

	if empty {
		return nil
	}
	return &info
}

// serverMessageID parses the configured numeric id. The field is 32 bits on
// the wire; larger values keep their low 32 bits.
// quoteJID normalizes a quote's chat or sender to JID form. Bare phone
// numbers become user JIDs; anything unparseable is omitted, which the
// network reads as the current chat.
func quoteJID(s string) *string {
	if s == "" {
		return nil
	}
	jid, err := ParseTarget(s)
	if err != nil {
		return nil
	}
	return proto.String(jid.String())
}

func serverMessageID(s string) int32 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		slog.Warn("whatsapp: non-numeric server message id", "value", s)
		return 0
	}
	return int32(n)
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return proto.String(s)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
