package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

type frame struct {
	Type      string          `json:"type"`
	Messages  []chatMessage   `json:"messages"`
	Message   json.RawMessage `json:"message"`
	MessageID string          `json:"messageId"`
}

type chatMessage struct {
	ID           string `json:"id"`
	Text         string `json:"text"`
	MediaURL     string `json:"mediaUrl"`
	AuthorID     string `json:"authorId"`
	AuthorHandle string `json:"authorHandle"`
	CreatedAt    int64  `json:"createdAt"`
}

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Join the live channel and print events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := serverURL(cmd, "/ws")
			if err != nil {
				return err
			}
			target = "ws" + strings.TrimPrefix(target, "http")

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			conn, resp, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
			if resp != nil && resp.Body != nil {
				resp.Body.Close()
			}
			if err != nil {
				return fmt.Errorf("failed to connect to %s: %w", target, err)
			}
			defer conn.Close()

			raw, _ := cmd.Flags().GetBool("raw")
			limit, _ := cmd.Flags().GetInt("count")
			return watch(ctx, conn, cmd.OutOrStdout(), raw, limit)
		},
	}

	cmd.Flags().Bool("raw", false, "print frames as received")
	cmd.Flags().IntP("count", "n", 0, "exit after this many frames (0 for no limit)")
	return cmd
}

func watch(ctx context.Context, conn *websocket.Conn, out io.Writer, raw bool, limit int) error {
	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}()

	for seen := 0; limit == 0 || seen < limit; seen++ {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("connection lost: %w", err)
		}

		if raw {
			fmt.Fprintln(out, string(data))
			continue
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			fmt.Fprintf(out, "? %s\n", data)
			continue
		}
		printFrame(out, &f)
	}
	return nil
}

func printFrame(out io.Writer, f *frame) {
	switch f.Type {
	case "connected":
		fmt.Fprintf(out, "connected: %d recent messages\n", len(f.Messages))
		for i := range f.Messages {
			printMessage(out, "  ", &f.Messages[i])
		}
	case "new_message":
		var m chatMessage
		if err := json.Unmarshal(f.Message, &m); err != nil {
			fmt.Fprintf(out, "+ (unreadable message)\n")
			return
		}
		printMessage(out, "+ ", &m)
	case "delete_message":
		fmt.Fprintf(out, "- %s\n", f.MessageID)
	case "error":
		var text string
		_ = json.Unmarshal(f.Message, &text)
		fmt.Fprintf(out, "! %s\n", text)
	default:
		fmt.Fprintf(out, "? %s\n", f.Type)
	}
}

func printMessage(out io.Writer, prefix string, m *chatMessage) {
	author := m.AuthorHandle
	if author == "" {
		author = m.AuthorID
	}
	ts := time.UnixMilli(m.CreatedAt).UTC().Format(time.RFC3339)
	line := fmt.Sprintf("%s%s %s [%s] %s", prefix, ts, author, m.ID, m.Text)
	if m.MediaURL != "" {
		line += " <" + m.MediaURL + ">"
	}
	fmt.Fprintln(out, line)
}
