package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/wagate/pkg/protocol"
)

func pairingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pairing",
		Short: "Pair the WhatsApp account (show QR, watch, reset)",
	}

	cmd.AddCommand(pairingQRCmd())
	cmd.AddCommand(pairingWatchCmd())
	cmd.AddCommand(pairingResetCmd())

	return cmd
}

func pairingQRCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "qr",
		Short: "Print the current pairing QR code in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newAPIClient()
			if err != nil {
				return err
			}
			var st protocol.StatusPayload
			if _, err := c.do(http.MethodGet, "/status", nil, &st); err != nil {
				return err
			}
			if st.Status != protocol.StatusAwaitingPairing || st.QR == "" {
				fmt.Printf("No pairing code available (status: %s)\n", st.Status)
				return nil
			}
			printTerminalQR(st.QR)
			return nil
		},
	}
}

func pairingWatchCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the status stream, printing each new QR until connected",
		RunE: func(cmd *cobra.Command, args []string) error {
			return watchPairing(timeout)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "give up after this long")
	return cmd
}

func pairingResetCmd() *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Discard stored credentials and start a fresh pairing",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newAPIClient()
			if err != nil {
				return err
			}
			var st protocol.StatusPayload
			code, err := c.do(http.MethodPost, "/pairing/reset", nil, &st)
			if err != nil {
				return err
			}
			if code != http.StatusOK {
				return fmt.Errorf("reset failed (HTTP %d)", code)
			}
			fmt.Printf("Session reset (status: %s)\n", st.Status)
			if watch {
				return watchPairing(5 * time.Minute)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", true, "watch for the new QR code")
	return cmd
}

// watchPairing reads session.status frames until the session connects,
// terminates or the timeout passes.
func watchPairing(timeout time.Duration) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	u := serverURL(cfg, "ws")
	u.Path = "/status/ws"

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("connect to server at %s: %w", u.String(), err)
	}
	defer conn.Close()

	deadline := time.Now().Add(timeout)
	lastQR := ""
	for {
		conn.SetReadDeadline(deadline)
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("status stream: %w", err)
		}
		if ft, err := protocol.ParseFrameType(data); err != nil || ft != protocol.FrameTypeEvent {
			continue
		}
		var frame struct {
			Event   string          `json:"event"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			return fmt.Errorf("decode frame: %w", err)
		}

		switch frame.Event {
		case protocol.EventShutdown:
			return fmt.Errorf("server is shutting down")
		case protocol.EventSessionStatus:
		default:
			continue
		}

		var st protocol.StatusPayload
		if err := json.Unmarshal(frame.Payload, &st); err != nil {
			return fmt.Errorf("decode status: %w", err)
		}
		switch st.Status {
		case protocol.StatusConnected:
			fmt.Println("✅ Connected.")
			return nil
		case protocol.StatusTerminated:
			return fmt.Errorf("session terminated; run `wagate pairing reset`")
		case protocol.StatusAwaitingPairing:
			if st.QR != "" && st.QR != lastQR {
				lastQR = st.QR
				printTerminalQR(st.QR)
			}
		default:
			fmt.Printf("Status: %s\n", st.Status)
		}
	}
}
