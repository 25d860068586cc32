package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/charmbracelet/lipgloss"
	qrcode "github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/wagate/pkg/protocol"
)

func statusCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the session status of the running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newAPIClient()
			if err != nil {
				return err
			}
			var st protocol.StatusPayload
			if _, err := c.do(http.MethodGet, "/status", nil, &st); err != nil {
				return err
			}
			if asJSON {
				data, _ := json.MarshalIndent(st, "", "  ")
				fmt.Println(string(data))
				return nil
			}
			printStatus(st)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw JSON")
	return cmd
}

var (
	okStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("2"))
	warnStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("3"))
	errStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("1"))
)

func statusStyle(status string) lipgloss.Style {
	switch status {
	case protocol.StatusConnected:
		return okStyle
	case protocol.StatusTerminated, protocol.StatusDisconnected:
		return errStyle
	default:
		return warnStyle
	}
}

func printStatus(st protocol.StatusPayload) {
	fmt.Printf("Status:  %s\n", statusStyle(st.Status).Render(st.Status))
	if st.Attempt > 0 {
		fmt.Printf("Attempt: %d\n", st.Attempt)
	}
	if st.CloseCode != 0 {
		fmt.Printf("Last close code: %d\n", st.CloseCode)
	}
	switch st.Status {
	case protocol.StatusAwaitingPairing:
		if st.QR != "" {
			printTerminalQR(st.QR)
		}
	case protocol.StatusTerminated:
		fmt.Println("The account was logged out. Run `wagate pairing reset` to pair again.")
	case protocol.StatusDisconnected:
		fmt.Println("Reconnects gave up. Run `wagate pairing reset` or restart the server.")
	}
}

func printTerminalQR(payload string) {
	qr, err := qrcode.New(payload, qrcode.Low)
	if err != nil {
		fmt.Fprintf(os.Stderr, "encode QR: %s\n", err)
		return
	}
	fmt.Println()
	fmt.Println("Scan with WhatsApp > Linked devices:")
	fmt.Println(qr.ToSmallString(false))
}
