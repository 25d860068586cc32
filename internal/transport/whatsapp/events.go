package whatsapp

import (
	"errors"
	"fmt"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/nextlevelbuilder/wagate/internal/transport"
)

// mapEvent translates a whatsmeow event. ok is false for events the session
// does not care about.
func mapEvent(evt interface{}) (ev transport.Event, ok bool) {
	switch e := evt.(type) {
	case *events.Connected:
		return transport.ConnectionOpened{}, true

	case *events.PairSuccess:
		return transport.CredentialsUpdated{Blob: []byte(e.ID.String())}, true

	case *events.LoggedOut:
		return transport.ConnectionClosed{
			Code: transport.CodeLoggedOut,
			Err:  fmt.Errorf("logged out (reason %d, on connect %t)", int(e.Reason), e.OnConnect),
		}, true

	case *events.TemporaryBan:
		return transport.ConnectionClosed{
			Code: transport.CodeTemporaryBan,
			Err:  fmt.Errorf("temporary ban (code %d), expires in %s", int(e.Code), e.Expire),
		}, true

	case *events.ClientOutdated:
		return transport.ConnectionClosed{
			Code: transport.CodeClientOutdated,
			Err:  errors.New("client outdated"),
		}, true

	case *events.ConnectFailure:
		code := int(e.Reason)
		if e.Reason.IsLoggedOut() {
			code = transport.CodeLoggedOut
		}
		return transport.ConnectionClosed{
			Code: code,
			Err:  fmt.Errorf("connect failure %d: %s", int(e.Reason), e.Message),
		}, true

	case *events.StreamReplaced:
		return transport.ConnectionClosed{
			Code: transport.CodeConnectionReplaced,
			Err:  errors.New("stream replaced by another connection"),
		}, true

	case *events.Disconnected:
		return transport.ConnectionClosed{
			Code: transport.CodeConnectionClosed,
			Err:  errors.New("websocket disconnected"),
		}, true

	case *events.Message:
		return transport.MessageReceived{
			ID:        e.Info.ID,
			From:      e.Info.Sender.String(),
			Chat:      e.Info.Chat.String(),
			Text:      messageText(e.Message),
			FromMe:    e.Info.IsFromMe,
			Timestamp: e.Info.Timestamp,
		}, true
	}
	return nil, false
}

// mapQRItem translates one item of the pairing QR channel.
func mapQRItem(item whatsmeow.QRChannelItem) (transport.Event, bool) {
	switch item.Event {
	case whatsmeow.QRChannelEventCode:
		return transport.PairingCode{Payload: item.Code}, true
	case whatsmeow.QRChannelTimeout.Event:
		return transport.ConnectionClosed{
			Code: transport.CodeTimedOut,
			Err:  errors.New("pairing QR expired"),
		}, true
	case whatsmeow.QRChannelClientOutdated.Event:
		return transport.ConnectionClosed{
			Code: transport.CodeClientOutdated,
			Err:  errors.New("client outdated"),
		}, true
	case whatsmeow.QRChannelEventError:
		return transport.ConnectionClosed{
			Code: transport.CodeBadSession,
			Err:  fmt.Errorf("pairing failed: %w", item.Error),
		}, true
	}
	// success is followed by PairSuccess and Connected events.
	return nil, false
}

// messageText extracts the readable text of an inbound message.
func messageText(m *waE2E.Message) string {
	switch {
	case m == nil:
		return ""
	case m.GetConversation() != "":
		return m.GetConversation()
	case m.GetExtendedTextMessage() != nil:
		return m.GetExtendedTextMessage().GetText()
	case m.GetImageMessage() != nil:
		return m.GetImageMessage().GetCaption()
	case m.GetVideoMessage() != nil:
		return m.GetVideoMessage().GetCaption()
	case m.GetDocumentMessage() != nil:
		return m.GetDocumentMessage().GetCaption()
	case m.GetEphemeralMessage() != nil:
		return messageText(m.GetEphemeralMessage().GetMessage())
	}
	return ""
}
