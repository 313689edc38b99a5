package main

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/zerohunger/zhchat/internal/api"
)

// renderSnapshot prints the transcript oldest at the top, newest at the
// bottom, the way a chat window reads.
func renderSnapshot(w io.Writer, s *api.Snapshot, now time.Time) {
	fmt.Fprintf(w, "%s  [%s, %s]\n", s.Peer, s.State, s.Connection)
	if len(s.Messages) == 0 {
		fmt.Fprintln(w, "  (no messages)")
		return
	}
	for _, m := range slices.Backward(s.Messages) {
		fmt.Fprintln(w, formatMessage(m, now))
	}
	switch {
	case s.Cursor.Exhausted:
		fmt.Fprintln(w, "-- beginning of conversation --")
	default:
		fmt.Fprintf(w, "-- %d loaded, more with `zhchatctl more` --\n", len(s.Messages))
	}
}

func formatMessage(m api.Message, now time.Time) string {
	marker := "<"
	if m.Outgoing {
		marker = ">"
	}
	body := m.Body
	if m.Post != nil {
		body = "[post] " + m.Post.Title
		if m.Post.Username != "" {
			body += " by " + m.Post.Username
		}
	}
	when := "unknown time"
	if m.TimestampUnixMs != 0 {
		when = humanize.RelTime(m.Time(), now, "ago", "from now")
	}
	return fmt.Sprintf("%s %-12s %s  (%s)", marker, m.Sender, oneLine(body), when)
}

func renderRecent(w io.Writer, convs []api.Conversation, now time.Time) {
	if len(convs) == 0 {
		fmt.Fprintln(w, "No conversations yet.")
		return
	}
	for _, c := range convs {
		flags := " "
		if c.Active {
			flags = "*"
		}
		if c.Unread {
			flags += "!"
		} else {
			flags += " "
		}
		when := "never"
		if c.LastMessageAtMs > 0 {
			when = humanize.RelTime(time.UnixMilli(c.LastMessageAtMs), now, "ago", "from now")
		}
		fmt.Fprintf(w, "%s %-20s %-40s %s (%s msgs)\n",
			flags, c.Peer, truncate(oneLine(c.LastMessagePreview), 40), when, humanize.Comma(int64(c.MessageCount)))
	}
}

func renderStatus(w io.Writer, s *api.StatusResponse) {
	fmt.Fprintf(w, "Session:  %s\n", s.Session)
	fmt.Fprintf(w, "User:     %s\n", s.LocalUser)
	fmt.Fprintf(w, "Server:   %s\n", s.ServerURL)
	fmt.Fprintf(w, "Uptime:   %s\n", (time.Duration(s.UptimeMs) * time.Millisecond).Round(time.Second))
	if s.Conversation == "" {
		fmt.Fprintln(w, "Open:     (none)")
		return
	}
	fmt.Fprintf(w, "Open:     %s (%s, %s, %d messages)\n", s.Conversation, s.SyncState, s.Connection, s.Messages)
}

func renderEvent(w io.Writer, e *api.WatchEvent, now time.Time) {
	at := time.UnixMilli(e.OccurredAtUnixMs).Format(time.TimeOnly)
	switch {
	case e.Snapshot != nil:
		newest := ""
		if len(e.Snapshot.Messages) > 0 {
			newest = "  " + formatMessage(e.Snapshot.Messages[0], now)
		}
		fmt.Fprintf(w, "%s %s %s %d msgs%s\n", at, e.Conversation, e.Snapshot.State, len(e.Snapshot.Messages), newest)
	case e.Connection != "":
		fmt.Fprintf(w, "%s %s connection %s\n", at, e.Conversation, e.Connection)
	default:
		fmt.Fprintf(w, "%s %s %s\n", at, e.Conversation, e.Kind)
	}
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
