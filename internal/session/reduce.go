package session

import (
	"time"

	"github.com/nextlevelbuilder/wagate/internal/transport"
)

// Effect is a side effect requested by Reduce.
type Effect interface {
	isEffect()
}

// PersistCredentials writes the blob to the credential store.
type PersistCredentials struct{ Blob []byte }

// ClearCredentials removes stored credentials; they must not be reused.
type ClearCredentials struct{}

// CloseTransport tears down the current connection handle.
type CloseTransport struct{}

// Restart re-runs the startup sequence after Delay.
type Restart struct {
	Attempt int
	Delay   time.Duration
}

// DeliverMessage hands an inbound message to observers.
type DeliverMessage struct{ Message transport.MessageReceived }

func (PersistCredentials) isEffect() {}
func (ClearCredentials) isEffect()   {}
func (CloseTransport) isEffect()     {}
func (Restart) isEffect()            {}
func (DeliverMessage) isEffect()     {}

// Reduce folds one transport event into the state.
func Reduce(s State, ev transport.Event, policy ReconnectPolicy) (State, []Effect) {
	if s.Status == Terminated {
		return s, nil
	}

	switch e := ev.(type) {
	case transport.PairingCode:
		if s.Status == Connected {
			return s, nil
		}
		s.Status = AwaitingPairing
		s.PairingPayload = e.Payload
		s.GaveUp = false
		return s, nil

	case transport.ConnectionOpening:
		if e.Attempt == 0 {
			// Operator start re-arms the breaker.
			s.Attempt = 0
			s.GaveUp = false
		}
		if s.Status == Reconnecting {
			s.Status = Disconnected
		}
		return s, nil

	case transport.ConnectionOpened:
		s.Status = Connected
		s.PairingPayload = ""
		s.Attempt = 0
		s.GaveUp = false
		return s, nil

	case transport.ConnectionClosed:
		s.PairingPayload = ""
		s.LastCloseCode = e.Code
		if transport.IsLoggedOut(e.Code) {
			s.Status = Terminated
			return s, []Effect{CloseTransport{}, ClearCredentials{}}
		}
		if s.Status == Reconnecting || s.GaveUp {
			// A restart is already pending, or the breaker is open.
			return s, nil
		}
		attempt := s.Attempt + 1
		if policy.Exhausted(attempt) {
			s.Status = Disconnected
			s.GaveUp = true
			return s, []Effect{CloseTransport{}}
		}
		s.Status = Reconnecting
		s.Attempt = attempt
		return s, []Effect{CloseTransport{}, Restart{Attempt: attempt, Delay: policy.Delay(attempt)}}

	case transport.CredentialsUpdated:
		return s, []Effect{PersistCredentials{Blob: e.Blob}}

	case transport.MessageReceived:
		return s, []Effect{DeliverMessage{Message: e}}
	}

	return s, nil
}
