package daemon

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/zerohunger/zhchat/internal/api"
	"github.com/zerohunger/zhchat/internal/bus"
	"github.com/zerohunger/zhchat/internal/client"
	"github.com/zerohunger/zhchat/internal/config"
	"github.com/zerohunger/zhchat/internal/conversation"
	"github.com/zerohunger/zhchat/internal/lock"
	"github.com/zerohunger/zhchat/internal/metrics"
	"github.com/zerohunger/zhchat/internal/session"
	"github.com/zerohunger/zhchat/internal/testutil"
	"github.com/zerohunger/zhchat/internal/transcript"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// tempHome points ZHCHAT_HOME at a short /tmp dir (Unix socket path limits).
func tempHome(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "zhc-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	t.Setenv(session.HomeEnv, dir)
	return dir
}

func waitSnapshot(t *testing.T, c *client.Client, what string, cond func(*api.Snapshot) bool) *api.Snapshot {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	var last *api.Snapshot
	for time.Now().Before(deadline) {
		snap, err := c.Snapshot(context.Background())
		if err == nil {
			last = snap
			if cond(snap) {
				return snap
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s; last snapshot = %+v", what, last)
	return nil
}

func TestDaemonLifecycle(t *testing.T) {
	tempHome(t)
	chat := testutil.NewChatServer(testutil.History(12, "alice", "bob"), 10)
	defer chat.Close()

	sessionName := "test"
	cfg := config.Defaults()
	cfg.ServerURL = chat.URL()
	cfg.Username = "alice"
	cfg.Token = "tok"
	cfg.ReconnectInterval = config.Duration{Duration: 20 * time.Millisecond}
	cfg.LogLevel = "debug"

	app := fx.New(
		Module(Params{SessionName: sessionName, Config: cfg}),
		fx.NopLogger,
	)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		t.Fatalf("app.Start() error = %v", err)
	}
	stopped := false
	defer func() {
		if !stopped {
			_ = app.Stop(context.Background())
		}
	}()

	if _, held := lock.Holder(session.Dir(sessionName)); !held {
		t.Error("session lock not held while daemon runs")
	}

	c, err := client.New(session.SocketPath(sessionName))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = c.Close() }()

	st, err := c.Status(context.Background())
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if st.Session != sessionName || st.LocalUser != "alice" || st.Conversation != "" {
		t.Errorf("status = %+v", st)
	}
	if st.DaemonID == "" {
		t.Error("daemon id is empty")
	}

	if _, err := c.Open(context.Background(), api.OpenRequest{Peer: "bob"}); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	snap := waitSnapshot(t, c, "initial history", func(s *api.Snapshot) bool {
		return s.State == string(transcript.Ready)
	})
	if snap.Conversation != "alice__bob" || len(snap.Messages) != 10 || snap.Messages[0].ID != "m12" {
		t.Fatalf("snapshot = %s %d messages", snap.Conversation, len(snap.Messages))
	}

	resp, err := c.LoadOlder(context.Background())
	if err != nil {
		t.Fatalf("LoadOlder() error = %v", err)
	}
	if !resp.Requested {
		t.Error("LoadOlder() did not request a page")
	}
	snap = waitSnapshot(t, c, "exhausted", func(s *api.Snapshot) bool {
		return s.State == string(transcript.Exhausted)
	})
	if len(snap.Messages) != 12 || snap.Messages[11].ID != "m1" {
		t.Errorf("messages = %d, oldest %s", len(snap.Messages), snap.Messages[len(snap.Messages)-1].ID)
	}
	if !snap.Cursor.Exhausted {
		t.Error("cursor not exhausted")
	}

	recent, err := c.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(recent.Conversations) != 1 || !recent.Conversations[0].Active || recent.Conversations[0].LastMessageID != "m12" {
		t.Errorf("recent = %+v", recent.Conversations)
	}

	if err := app.Stop(context.Background()); err != nil {
		t.Fatalf("app.Stop() error = %v", err)
	}
	stopped = true

	if _, held := lock.Holder(session.Dir(sessionName)); held {
		t.Error("session lock still held after stop")
	}
	if _, err := os.Stat(session.SocketPath(sessionName)); !os.IsNotExist(err) {
		t.Errorf("socket still present after stop: %v", err)
	}
}

func TestDaemonRefusesMissingToken(t *testing.T) {
	tempHome(t)
	cfg := config.Defaults()
	cfg.Username = "alice"

	app := fx.New(
		Module(Params{SessionName: "notoken", Config: cfg}),
		fx.NopLogger,
	)
	if err := app.Err(); err == nil {
		t.Fatal("expected fx graph error for missing token")
	}
}

func TestSecondDaemonFailsOnLock(t *testing.T) {
	tempHome(t)
	if err := session.EnsureDir("dup"); err != nil {
		t.Fatal(err)
	}
	lk, err := lock.Acquire(session.Dir("dup"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = lk.Release() }()

	cfg := config.Defaults()
	cfg.Username = "alice"
	cfg.Token = "tok"
	app := fx.New(
		Module(Params{SessionName: "dup", Config: cfg}),
		fx.NopLogger,
	)
	err = app.Err()
	if err == nil {
		t.Fatal("expected lock error")
	}
	if !strings.Contains(err.Error(), "session lock held") {
		t.Errorf("error = %v", err)
	}
}

// TestNewServerUsesSocketOverride verifies the socket lands where Params
// says, not under the session dir.
func TestNewServerUsesSocketOverride(t *testing.T) {
	tmpDir, err := os.MkdirTemp("/tmp", "zhc-fx-*")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	socketPath := filepath.Join(tmpDir, "d.sock")
	mgr := conversation.NewManager("alice", transcript.Config{}, nil, nil, nil, nil)
	svc := api.NewConversationService(api.ServiceInfo{Session: "fxtest"}, mgr, nil, bus.New(), nil)

	srv, err := NewServer(Params{SessionName: "fxtest", SocketPath: socketPath}, zap.NewNop(), svc)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	info, err := os.Stat(socketPath)
	if err != nil {
		t.Fatalf("socket not created at %s: %v", socketPath, err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("socket perm = %o, want 600", perm)
	}

	go func() { _ = srv.Start() }()
	srv.Stop(context.Background())
	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Errorf("socket not removed: %v", err)
	}
}

type fakeActive struct {
	id, conn string
	ok       bool
}

func (f fakeActive) Describe() (string, string, bool) { return f.id, f.conn, f.ok }

func TestMetricsRouter(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg); err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(metricsRouter("work", reg, fakeActive{id: "alice__bob", conn: "OPEN", ok: true}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	var health map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d", resp.StatusCode)
	}
	if health["status"] != "ok" || health["session"] != "work" || health["conversation"] != "alice__bob" || health["connection"] != "OPEN" {
		t.Errorf("healthz = %v", health)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if !strings.Contains(string(body), "zhchat_transcript_pages_requested_total") {
		t.Errorf("metrics output missing transcript counters:\n%s", body)
	}
}

func TestMetricsRouterNoConversation(t *testing.T) {
	srv := httptest.NewServer(metricsRouter("work", prometheus.NewRegistry(), fakeActive{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	var health map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatal(err)
	}
	if _, ok := health["conversation"]; ok {
		t.Errorf("healthz reports a conversation: %v", health)
	}
}

func TestNewMetricsServer(t *testing.T) {
	cfg := config.Defaults()
	ms, err := NewMetricsServer(Params{SessionName: "m"}, cfg, prometheus.NewRegistry(), nil, zap.NewNop())
	if err != nil || ms != nil {
		t.Fatalf("disabled metrics server = %v, %v; want nil, nil", ms, err)
	}

	cfg.MetricsAddr = "127.0.0.1:0"
	ms, err = NewMetricsServer(Params{SessionName: "m"}, cfg, prometheus.NewRegistry(), nil, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = ms.Start() }()
	defer func() { _ = ms.Stop(context.Background()) }()

	var resp *http.Response
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err = http.Get("http://" + ms.Addr() + "/healthz")
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}
