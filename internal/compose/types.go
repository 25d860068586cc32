// Package compose builds outbound message content for the WhatsApp transport.
//
// Compose is a pure function: it validates an OutboundRequest, builds the
// per-kind content and injects the forwarding-context wrapper configured in
// Branding. Nothing is persisted and nothing touches the network.
package compose

import "time"

// Kind selects the message variant.
type Kind string

const (
	KindText     Kind = "text"
	KindImage    Kind = "image"
	KindAudio    Kind = "audio"
	KindVideo    Kind = "video"
	KindDocument Kind = "document"
	KindSticker  Kind = "sticker"
)

// Kinds lists every supported kind in a stable order.
var Kinds = []Kind{KindText, KindImage, KindAudio, KindVideo, KindDocument, KindSticker}

// Valid reports whether k is one of the supported kinds.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// NeedsMedia reports whether the kind carries a media reference.
func (k Kind) NeedsMedia() bool {
	return k != KindText
}

// OutboundRequest is one external send call. Body and MediaRef are pointers so
// that "absent" and "empty" stay distinguishable.
type OutboundRequest struct {
	Kind     Kind
	Target   string
	Body     *string
	MediaRef *string
	Options  Options
}

// Options are the send options merged with the branding defaults.
// Zero values mean "not set" so caller options only override what they name.
type Options struct {
	EphemeralExpiration time.Duration `json:"ephemeralExpiration,omitempty"`
	DisappearingInChat  time.Duration `json:"disappearingMessagesInChat,omitempty"`
	Quoted              *QuotedRef    `json:"quoted,omitempty"`
}

// QuotedRef is the message a send replies to.
type QuotedRef struct {
	ID          string `json:"id"`
	RemoteJID   string `json:"remoteJid"`
	Participant string `json:"participant,omitempty"`
	FromMe      bool   `json:"fromMe"`
	// LocationName makes the quoted body render as a location card.
	LocationName string `json:"locationName,omitempty"`
	// Text is used as the quoted body when LocationName is empty.
	Text string `json:"text,omitempty"`
}

// MediaRef points at media that the transport resolves and uploads.
type MediaRef struct {
	URL string `json:"url"`
}

// ForwardedChannel marks content as forwarded from a newsletter channel.
type ForwardedChannel struct {
	ChannelJID      string `json:"newsletterJid"`
	ServerMessageID string `json:"serverMessageId"`
	ChannelName     string `json:"newsletterName"`
}

// ContextInfo is the forwarding-context block.
type ContextInfo struct {
	Forwarded       *ForwardedChannel `json:"forwardedNewsletterMessageInfo,omitempty"`
	ForwardingScore uint32            `json:"forwardingScore"`
	IsForwarded     bool              `json:"isForwarded"`
}

// Content is the per-kind message structure handed to the transport.
// Only the fields relevant to Kind are populated.
type Content struct {
	Kind      Kind
	Text      string
	Media     *MediaRef
	Caption   string
	MimeType  string
	VoiceNote bool
	FileName  string
	// Sticker holds the raw reference; stickers are not wrapped in a MediaRef.
	Sticker string
	Context *ContextInfo
}

// Composed is the fully built message ready for dispatch.
type Composed struct {
	Content Content
	Options Options
}
