package compose

import "time"

// Default branding values. Every non-sticker message is marked as forwarded
// from this channel.
const (
	DefaultChannelJID      = "120363405239179634@newsletter"
	DefaultServerMessageID = "120363405239179634"
	DefaultChannelName     = "⚙️ SKRIFNA BOT ⚙️"
	DefaultForwardingScore = 9999999
	DefaultDisappearing    = 24 * time.Hour

	// Fixed synthetic quote shown on every branded send.
	DefaultQuoteID          = "Senku"
	DefaultQuoteRemoteJID   = "status@broadcast"
	DefaultQuoteParticipant = "0@s.whatsapp.net"
	DefaultQuoteLocation    = "SKRIFNA.UK"
)

// Branding configures the forwarding wrapper.
type Branding struct {
	ChannelJID      string        `json:"channelJid" yaml:"channelJid"`
	ServerMessageID string        `json:"serverMessageId" yaml:"serverMessageId"`
	ChannelName     string        `json:"channelName" yaml:"channelName"`
	ForwardingScore uint32        `json:"forwardingScore" yaml:"forwardingScore"`
	Disappearing    time.Duration `json:"disappearing" yaml:"disappearing"`

	// StickerExempt skips the wrapper for stickers.
	StickerExempt bool `json:"stickerExempt" yaml:"stickerExempt"`
	// QuoteCard attaches the synthetic location-card quote when the caller
	// supplies none.
	QuoteCard bool   `json:"quoteCard" yaml:"quoteCard"`
	QuoteName string `json:"quoteName" yaml:"quoteName"`
	QuoteID   string `json:"quoteId" yaml:"quoteId"`
	// Disabled turns the whole wrapper off; content is sent as built.
	Disabled bool `json:"disabled,omitempty" yaml:"disabled,omitempty"`
}

// DefaultBranding returns the stock promotional wrapper.
func DefaultBranding() Branding {
	return Branding{
		ChannelJID:      DefaultChannelJID,
		ServerMessageID: DefaultServerMessageID,
		ChannelName:     DefaultChannelName,
		ForwardingScore: DefaultForwardingScore,
		Disappearing:    DefaultDisappearing,
		StickerExempt:   true,
		QuoteCard:       true,
		QuoteName:       DefaultQuoteLocation,
		QuoteID:         DefaultQuoteID,
	}
}

// contextInfo returns the forwarding-context block for b.
func (b Branding) contextInfo() *ContextInfo {
	return &ContextInfo{
		Forwarded: &ForwardedChannel{
			ChannelJID:      b.ChannelJID,
			ServerMessageID: b.ServerMessageID,
			ChannelName:     b.ChannelName,
		},
		ForwardingScore: b.ForwardingScore,
		IsForwarded:     true,
	}
}

// quote returns the synthetic location-card quote, or nil when disabled.
func (b Branding) quote() *QuotedRef {
	if !b.QuoteCard {
		return nil
	}
	id := b.QuoteID
	if id == "" {
		id = DefaultQuoteID
	}
	return &QuotedRef{
		ID:           id,
		RemoteJID:    DefaultQuoteRemoteJID,
		Participant:  DefaultQuoteParticipant,
		LocationName: b.QuoteName,
	}
}
