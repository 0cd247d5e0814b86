// SenseChat CLI - command line client for a SenseChat relay.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/eldtechnologies/sensechat/clients/go/sensechat"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	baseURL := os.Getenv("SENSECHAT_URL")
	client := sensechat.NewClient(baseURL, os.Getenv("SENSECHAT_USER"))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cmd := os.Args[1]
	switch cmd {
	case "health":
		resp, err := client.Health(ctx)
		exitOnError(err)
		printJSON(resp)

	case "users":
		users, err := client.Users(ctx)
		exitOnError(err)
		for _, u := range users {
			fmt.Printf("  %-12s %-16s %s/%s\n", u.ID, u.Name, u.Language, u.StylePreset)
		}

	case "send":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "Usage: sensechat send <to_user> <text>")
			os.Exit(1)
		}
		to, text := os.Args[2], strings.Join(os.Args[3:], " ")
		msg, err := client.Embed(ctx, sensechat.EmbedRequest{Text: text})
		exitOnError(err)
		_, err = client.Deliver(ctx, to, msg.MessageID, "")
		exitOnError(err)
		rendered, err := client.Render(ctx, msg.MessageID, to)
		exitOnError(err)
		fmt.Printf("Sent %s via %s (confidence %.2f):\n%s\n", msg.MessageID, rendered.Provider, rendered.Confidence, rendered.Text)

	case "inbox":
		deliveries, err := client.Inbox(ctx, "unread")
		exitOnError(err)
		for _, d := range deliveries {
			fmt.Printf("[%s] %s  message=%s\n", d.CreatedAt.Format("2006-01-02 15:04:05"), d.ID, d.MessageID)
		}

	case "read":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: sensechat read <delivery_id>")
			os.Exit(1)
		}
		exitOnError(client.MarkRead(ctx, os.Args[2]))
		fmt.Println("Marked read")

	case "thread":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: sensechat thread <thread_id>")
			os.Exit(1)
		}
		page, err := client.ThreadMessages(ctx, os.Args[2], 20, 0)
		exitOnError(err)
		for _, m := range page.Messages {
			fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Format("2006-01-02 15:04:05"), m.SenderID, m.Summary)
		}

	case "listen":
		events, err := client.Listen(ctx)
		exitOnError(err)
		for ev := range events {
			fmt.Printf("%s %s\n", ev.Name, string(ev.Data))
		}

	case "help", "--help", "-h":
		usage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`SenseChat CLI

Usage: sensechat <command> [options]

Commands:
  users                   List users
  send <to_user> <text>   Store, deliver and render a message
  inbox                   List unread deliveries
  read <delivery_id>      Mark a delivery read
  thread <thread_id>      List thread summaries
  listen                  Stream realtime events
  health                  Check server health

Environment:
  SENSECHAT_URL   Server URL (default: http://localhost:8080)
  SENSECHAT_USER  User ID sent as X-User-ID`)
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
