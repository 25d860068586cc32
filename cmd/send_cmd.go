package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/wagate/pkg/protocol"
)

func sendCmd() *cobra.Command {
	var (
		kind     string
		body     string
		mediaRef string
		quotedID string
		dryRun   bool
	)
	cmd := &cobra.Command{
		Use:   "send <target> [text]",
		Short: "Send a message through the running server",
		Example: `  wagate send 5215550001111 "hola"
  wagate send 5215550001111 --kind image --media https://example.com/a.jpg --body "caption"
  wagate send 5215550001111 --kind document --media /srv/files/report.pdf --body report.pdf`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := protocol.SendRequest{
				Target:   args[0],
				Kind:     kind,
				QuotedID: quotedID,
				DryRun:   dryRun,
			}
			if len(args) == 2 && body == "" {
				body = args[1]
			}
			if cmd.Flags().Changed("body") || body != "" {
				req.Body = &body
			}
			if mediaRef != "" {
				req.MediaRef = &mediaRef
			}

			c, err := newAPIClient()
			if err != nil {
				return err
			}
			var resp protocol.SendResponse
			code, err := c.do(http.MethodPost, "/send", req, &resp)
			if err != nil {
				return err
			}
			if !resp.Success {
				return fmt.Errorf("send failed (HTTP %d, %s): %s", code, resp.Code, resp.Error)
			}
			if dryRun {
				var pretty any
				json.Unmarshal(resp.Content, &pretty)
				data, _ := json.MarshalIndent(pretty, "", "  ")
				fmt.Println(string(data))
				return nil
			}
			fmt.Printf("Sent %s (id %s)\n", kind, resp.ID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&kind, "kind", "k", "text", "message type: text, image, audio, video, document, sticker")
	cmd.Flags().StringVarP(&body, "body", "b", "", "text, caption, or document file name")
	cmd.Flags().StringVarP(&mediaRef, "media", "m", "", "media reference: http(s) URL, s3://bucket/key, or local path")
	cmd.Flags().StringVar(&quotedID, "reply-to", "", "message ID to quote")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the composed message instead of sending")
	return cmd
}
