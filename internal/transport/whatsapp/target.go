package whatsapp

import (
	"errors"
	"fmt"
	"strings"

	"go.mau.fi/whatsmeow/types"
)

// ErrInvalidTarget is returned for targets that are neither a phone number
// nor a JID.
var ErrInvalidTarget = errors.New("invalid target")

// ParseTarget accepts a full JID ("123@s.whatsapp.net", "123-456@g.us") or a
// phone number in international format ("+1 555 000-1111").
func ParseTarget(target string) (types.JID, error) {
	target = strings.TrimSpace(target)
	if strings.Contains(target, "@") {
		jid, err := types.ParseJID(target)
		if err != nil || jid.User == "" {
			return types.JID{}, fmt.Errorf("%w: %q", ErrInvalidTarget, target)
		}
		return jid, nil
	}

	var b strings.Builder
	for _, r := range target {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' || r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return types.JID{}, fmt.Errorf("%w: %q", ErrInvalidTarget, target)
		}
	}
	digits := b.String()
	if len(digits) < 5 || len(digits) > 20 {
		return types.JID{}, fmt.Errorf("%w: %q", ErrInvalidTarget, target)
	}
	return types.NewJID(digits, types.DefaultUserServer), nil
}
