package conversation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/zerohunger/zhchat/internal/status"
	"github.com/zerohunger/zhchat/internal/store"
	"github.com/zerohunger/zhchat/internal/transcript"
)

type fakeTransport struct {
	events chan transcript.Event

	mu     sync.Mutex
	frames []string
	ran    bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan transcript.Event, 16)}
}

func (f *fakeTransport) record(s string) {
	f.mu.Lock()
	f.frames = append(f.frames, s)
	f.mu.Unlock()
}

func (f *fakeTransport) Frames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.frames...)
}

func (f *fakeTransport) RequestPage(start, end int) error {
	f.record(fmt.Sprintf("page %d %d", start, end))
	return nil
}

func (f *fakeTransport) Send(body, sender string) error {
	f.record("send " + sender + ": " + body)
	return nil
}

func (f *fakeTransport) MarkRead() error {
	f.record("read")
	return nil
}

func (f *fakeTransport) Events() <-chan transcript.Event { return f.events }

func (f *fakeTransport) Run(ctx context.Context) {
	f.mu.Lock()
	f.ran = true
	f.mu.Unlock()
	<-ctx.Done()
}

func (f *fakeTransport) State() status.State { return status.Open }

type fakeIndex struct {
	mu       sync.Mutex
	opened   []string
	activity []store.Activity
	reads    int
}

func (f *fakeIndex) RecordOpened(_ context.Context, id, _, _ string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, id)
	return nil
}

func (f *fakeIndex) RecordActivity(_ context.Context, _ string, a store.Activity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activity = append(f.activity, a)
	return nil
}

func (f *fakeIndex) MarkRead(context.Context, string, time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	return nil
}

func (f *fakeIndex) snapshot() (opened []string, activity []store.Activity, reads int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.opened...), append([]store.Activity(nil), f.activity...), f.reads
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func message(id, from, to string) transcript.Message {
	return transcript.Message{ID: id, Body: "body " + id, Sender: from, Recipient: to, Timestamp: time.Now()}
}
