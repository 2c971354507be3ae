package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/BurntSushi/toml"

	"github.com/DoyleJ11/beat-escape-backend/internal/httpapi"
	"github.com/DoyleJ11/beat-escape-backend/internal/hub"
	"github.com/DoyleJ11/beat-escape-backend/internal/room"
	"github.com/DoyleJ11/beat-escape-backend/internal/storage"
)

type cli struct {
	t      *testing.T
	config string
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	h := hub.NewHub(ctx, hub.WithCodeGenerator(func() (string, error) { return "Q7K3", nil }))
	srv := httptest.NewServer(httpapi.SetupRoutes(httpapi.Options{Rooms: hub.NewService(h), Work: storage.NewMemWorkRepo()}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := "server_url = \"" + srv.URL + "\"\nclient_id = \"device-a\"\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return &cli{t: t, config: path}
}

// run executes beatctl against the test server and fails on a non-zero exit.
func (c *cli) run(args ...string) string {
	c.t.Helper()
	out, errOut, code := c.exec(args...)
	if code != 0 {
		c.t.Fatalf("beatctl %s = %d; stderr: %s", strings.Join(args, " "), code, errOut)
	}
	return out
}

func (c *cli) exec(args ...string) (string, string, int) {
	var stdout, stderr bytes.Buffer
	code := run(append([]string{"--config", c.config}, args...), &stdout, &stderr)
	return stdout.String(), stderr.String(), code
}

func TestSoloRoomFromTheCommandLine(t *testing.T) {
	c := newCLI(t)

	if out := c.run("create", "--mode", "solo", "--theme", "space"); strings.TrimSpace(out) != "Q7K3" {
		t.Fatalf("create printed %q", out)
	}

	c.run("save", "Q7K3", "1", "kick=x.x.,hihat=x...")
	if out := c.run("save", "q7k3", "2", "snare=.x.x,hihat=..x.", "--offline"); !strings.Contains(out, "queued lock 2") {
		t.Fatalf("offline save: %q", out)
	}

	out := c.run("pending")
	if !strings.Contains(out, "Q7K3-2") || strings.Contains(out, "Q7K3-1") {
		t.Fatalf("pending should hold only lock 2: %q", out)
	}

	out = c.run("show", "Q7K3")
	if !strings.Contains(out, "* lock  2") {
		t.Fatalf("show should mark the queued lock: %q", out)
	}
	if !strings.Contains(out, "kick=x.x.,snare=....,hihat=x...") {
		t.Fatalf("show should print lock 1: %q", out)
	}

	if out := c.run("flush"); !strings.Contains(out, "flushed 1, 0 still queued") {
		t.Fatalf("flush: %q", out)
	}
	if out := c.run("pending"); out != "" {
		t.Fatalf("queue should be empty: %q", out)
	}

	for _, lock := range []string{"3", "4", "5", "6"} {
		c.run("save", "Q7K3", lock, "hihat=xxx.")
	}
	if out := c.run("ready", "Q7K3"); !strings.Contains(out, "room Q7K3 ready") {
		t.Fatalf("ready: %q", out)
	}
	if out := c.run("watch", "Q7K3", "--interval", "10ms", "--wait", "2s"); !strings.Contains(out, "ready with 6 patterns") {
		t.Fatalf("watch: %q", out)
	}
}

func TestJoinClaimsTheSameSlotTwice(t *testing.T) {
	c := newCLI(t)
	c.run("create", "--mode", "trio")

	first := c.run("join", "Q7K3")
	if !strings.Contains(first, "player 1: locks 2,5,8") {
		t.Fatalf("join: %q", first)
	}
	if again := c.run("join", "Q7K3"); again != first {
		t.Fatalf("rejoin from the same device: %q, want %q", again, first)
	}
}

func TestSaveRejections(t *testing.T) {
	c := newCLI(t)
	c.run("create", "--mode", "partner")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"too few notes", []string{"save", "Q7K3", "1", "hihat=xx.."}, "needs at least 3"},
		{"kick off the beat", []string{"save", "Q7K3", "1", "kick=.x..,hihat=xx.."}, "invalid grid"},
		{"bad row", []string{"save", "Q7K3", "1", "kick=xx"}, "invalid grid"},
		{"unknown instrument", []string{"save", "Q7K3", "1", "cowbell=x..."}, "unknown instrument"},
		{"partner's lock", []string{"save", "Q7K3", "2", "hihat=xxx."}, "owned by another player"},
		{"unknown room", []string{"save", "NOPE", "1", "hihat=xxx."}, "room not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, stderr, code := c.exec(tt.args...)
			if code != 1 {
				t.Fatalf("exit %d, want 1", code)
			}
			if !strings.Contains(stderr, tt.want) {
				t.Fatalf("stderr %q, want %q", stderr, tt.want)
			}
		})
	}
	if out := c.run("pending"); out != "" {
		t.Fatalf("rejected saves must not be queued: %q", out)
	}
}

func TestReadyNeedsOwnedLocks(t *testing.T) {
	c := newCLI(t)
	c.run("create", "--mode", "partner")
	c.run("save", "Q7K3", "1", "hihat=xxx.")

	_, stderr, code := c.exec("ready", "Q7K3")
	if code != 1 || !strings.Contains(stderr, "has not finished locks 1,3,5,7,9") {
		t.Fatalf("ready with missing locks: exit %d, stderr %q", code, stderr)
	}
}

func TestConfigGetsAClientID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "beatctl", "config.toml")
	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ClientID == "" || cfg.ServerURL != defaultServerURL {
		t.Fatalf("defaults: %+v", cfg)
	}
	if cfg.PendingDir != filepath.Join(filepath.Dir(path), "pending") {
		t.Fatalf("pending dir: %s", cfg.PendingDir)
	}

	var saved cliConfig
	if _, err := toml.DecodeFile(path, &saved); err != nil {
		t.Fatal(err)
	}
	if saved.ClientID != cfg.ClientID {
		t.Fatalf("client id not persisted: %+v", saved)
	}

	again, err := loadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if again.ClientID != cfg.ClientID {
		t.Fatalf("client id changed between runs")
	}
}

func TestParseGrid(t *testing.T) {
	g, err := parseGrid("kick=x.x., HIHAT=xxxx")
	if err != nil {
		t.Fatal(err)
	}
	want := room.Grid{room.Kick: {true, false, true, false}, room.Hihat: {true, true, true, true}}
	if !g.Equal(want) {
		t.Fatalf("got %s", formatGrid(g))
	}
	if got := formatGrid(want); got != "kick=x.x.,snare=....,hihat=xxxx" {
		t.Fatalf("format: %s", got)
	}
}

func TestUnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run([]string{"dance"}, &stdout, &stderr); code != 1 {
		t.Fatalf("exit %d, want 1", code)
	}
}
