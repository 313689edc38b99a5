package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/zerohunger/zhchat/internal/api"
	"github.com/zerohunger/zhchat/internal/client"
	"github.com/zerohunger/zhchat/internal/lock"
	"github.com/zerohunger/zhchat/internal/session"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	sessionName, err := session.Resolve(*sessionFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	if _, running := lock.Holder(session.Dir(sessionName)); !running {
		fmt.Fprintf(os.Stderr, "error: daemon for session %q is not running (start it with: zhchatd --session %s)\n", sessionName, sessionName)
		os.Exit(1)
	}

	c, err := client.New(session.SocketPath(sessionName))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot connect to daemon for session %q: %v\n", sessionName, err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	if args[0] == "watch" {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		cmdWatch(ctx, c, *jsonFlag)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch args[0] {
	case "open":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: zhchatctl open <peer> [message]")
			os.Exit(1)
		}
		req := api.OpenRequest{Peer: args[1]}
		if len(args) > 2 {
			req.Message = strings.Join(args[2:], " ")
		}
		cmdOpen(ctx, c, req, *jsonFlag)
	case "close":
		if err := c.CloseConversation(ctx); err != nil {
			fail(err)
		}
	case "show":
		cmdShow(ctx, c, *jsonFlag)
	case "more":
		cmdMore(ctx, c, *jsonFlag)
	case "send":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: zhchatctl send <text>")
			os.Exit(1)
		}
		if err := c.Send(ctx, strings.Join(args[1:], " ")); err != nil {
			fail(err)
		}
	case "recent":
		limit := 0
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil || n <= 0 {
				fmt.Fprintln(os.Stderr, "usage: zhchatctl recent [limit]")
				os.Exit(1)
			}
			limit = n
		}
		cmdRecent(ctx, c, limit, *jsonFlag)
	case "status":
		cmdStatus(ctx, c, *jsonFlag)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: zhchatctl [--session <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  open PEER [MSG]  Open the conversation with PEER, optionally sending MSG")
	fmt.Fprintln(os.Stderr, "  close            Close the open conversation")
	fmt.Fprintln(os.Stderr, "  show             Print the loaded transcript")
	fmt.Fprintln(os.Stderr, "  more             Load the next page of older messages")
	fmt.Fprintln(os.Stderr, "  send TEXT        Send a message")
	fmt.Fprintln(os.Stderr, "  watch            Stream transcript and connection changes")
	fmt.Fprintln(os.Stderr, "  recent [N]       List recent conversations")
	fmt.Fprintln(os.Stderr, "  status           Show daemon status")
}

func cmdOpen(ctx context.Context, c *client.Client, req api.OpenRequest, jsonOut bool) {
	snap, err := c.Open(ctx, req)
	if err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(snap)
		return
	}
	renderSnapshot(os.Stdout, snap, time.Now())
}

func cmdShow(ctx context.Context, c *client.Client, jsonOut bool) {
	snap, err := c.Snapshot(ctx)
	if err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(snap)
		return
	}
	renderSnapshot(os.Stdout, snap, time.Now())
}

func cmdMore(ctx context.Context, c *client.Client, jsonOut bool) {
	resp, err := c.LoadOlder(ctx)
	if err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(resp)
		return
	}
	if !resp.Requested {
		fmt.Printf("Nothing requested (state %s).\n", resp.Snapshot.State)
		return
	}
	fmt.Println("Requested older messages; run `zhchatctl show` once they arrive.")
}

func cmdRecent(ctx context.Context, c *client.Client, limit int, jsonOut bool) {
	resp, err := c.Recent(ctx, limit)
	if err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(resp)
		return
	}
	renderRecent(os.Stdout, resp.Conversations, time.Now())
}

func cmdStatus(ctx context.Context, c *client.Client, jsonOut bool) {
	resp, err := c.Status(ctx)
	if err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(resp)
		return
	}
	renderStatus(os.Stdout, resp)
}

func cmdWatch(ctx context.Context, c *client.Client, jsonOut bool) {
	w, err := c.Watch(ctx)
	if err != nil {
		fail(err)
	}
	for {
		evt, err := w.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) || status.Code(err) == codes.Canceled {
				return
			}
			fail(err)
		}
		if jsonOut {
			outputJSON(evt)
			continue
		}
		renderEvent(os.Stdout, evt, time.Now())
	}
}

func fail(err error) {
	if s, ok := status.FromError(err); ok {
		fmt.Fprintf(os.Stderr, "error: %s\n", s.Message())
	} else {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	os.Exit(1)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
