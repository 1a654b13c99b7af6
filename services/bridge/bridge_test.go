// bridge/bridge_test.go
package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"bringup-go/bus"
	"bringup-go/types"
)

type pipeTransport struct{ dial func() (io.WriteCloser, error) }

func (p pipeTransport) Open(context.Context) (io.WriteCloser, error) { return p.dial() }
func (p pipeTransport) String() string { return "pipe" }

func TestBridge_ExportsMatchingMessagesAndReportsLinkLoss(t *testing.T) {
	b := bus.NewBus(16)
	conn := b.NewConnection("bridge_test")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Start(ctx, conn)

	stateSub := conn.Subscribe(TopicState)
	defer conn.Unsubscribe(stateSub)

	first := nextStatePayload(t, stateSub, 500*time.Millisecond)
	assertLevelStatus(t, first, "idle", "awaiting_config")

	// A net.Pipe link; keep the remote end to read lines and simulate loss.
	var remote net.Conn
	lines := make(chan Line, 8)
	RegisterTransport("pipe", func(TransportConfig) (Transport, error) {
		return pipeTransport{dial: func() (io.WriteCloser, error) {
			lc, rc := net.Pipe()
			remote = rc
			go readLines(rc, lines)
			return lc, nil
		}}, nil
	})

	conn.Publish(conn.NewMessage(TopicConfig, `{"transport":{"type":"pipe"},"match":"bringup/event/#"}`, false))

	up := nextStatePayload(t, stateSub, time.Second)
	assertLevelStatus(t, up, "up", "link_established")

	conn.Publish(conn.NewMessage(bus.T("bringup", "event", "command"),
		types.Record{Session: "s1", Kind: types.EventCommand, Result: "ok"}, false))
	conn.Publish(conn.NewMessage(bus.T("other", "topic"), "ignored", false))

	select {
	case l := <-lines:
		if l.Topic != "bringup/event/command" {
			t.Fatalf("topic %q", l.Topic)
		}
		rec, _ := l.Payload.(map[string]any)
		if rec["session"] != "s1" || rec["kind"] != "command" {
			t.Fatalf("payload %v", l.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for exported line")
	}

	// Close the remote to force link loss; the next write fails.
	_ = remote.Close()
	conn.Publish(conn.NewMessage(bus.T("bringup", "event", "outcome"), types.Record{Kind: types.EventOutcome}, false))

	degraded := nextStatePayload(t, stateSub, time.Second)
	assertLevelStatus(t, degraded, "degraded", "link_lost_retrying")
}

func TestBridge_UnknownTransportYieldsErrorState(t *testing.T) {
	b := bus.NewBus(8)
	conn := b.NewConnection("bridge_test_bad")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Start(ctx, conn)

	stateSub := conn.Subscribe(TopicState)
	defer conn.Unsubscribe(stateSub)

	_ = nextStatePayload(t, stateSub, 500*time.Millisecond) // initial awaiting_config

	cfg := `{"transport":{"type":"bogus"}}`
	conn.Publish(conn.NewMessage(TopicConfig, cfg, false))

	errState := nextStatePayload(t, stateSub, time.Second)
	assertLevelStatus(t, errState, "error", "transport_init_failed")
}

func TestBridge_FileTransportAppendsLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	cfg, err := ParseTarget("file:" + path)
	if err != nil {
		t.Fatal(err)
	}

	b := bus.NewBus(8)
	conn := b.NewConnection("bridge_test_file")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Start(ctx, conn)

	stateSub := conn.Subscribe(TopicState)
	_ = nextStatePayload(t, stateSub, 500*time.Millisecond)
	conn.Publish(conn.NewMessage(TopicConfig, cfg, false))
	assertLevelStatus(t, nextStatePayload(t, stateSub, time.Second), "up", "link_established")

	conn.Publish(conn.NewMessage(bus.T("bringup", "report"), map[string]any{"outcome": "activated"}, true))

	deadline := time.Now().Add(time.Second)
	for {
		raw, _ := os.ReadFile(path)
		if strings.Contains(string(raw), `"topic":"bringup/report"`) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("file contents: %q", raw)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestParseTarget(t *testing.T) {
	if c, err := ParseTarget("tcp:127.0.0.1:9000"); err != nil || c.Transport.Type != "tcp" || c.Transport.Addr != "127.0.0.1:9000" {
		t.Fatalf("tcp target %+v %v", c, err)
	}
	if _, err := ParseTarget("nowhere"); err == nil {
		t.Fatal("expected an error for a target without a type")
	}
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func readLines(r io.ReadCloser, out chan<- Line) {
	defer r.Close()
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		var l Line
		if err := json.Unmarshal(sc.Bytes(), &l); err == nil {
			out <- l
		}
	}
}

func nextStatePayload(t *testing.T, sub *bus.Subscription, d time.Duration) map[string]any {
	t.Helper()
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case m := <-sub.Channel():
		p, ok := m.Payload.(map[string]any)
		if !ok {
			t.Fatalf("state payload type: got %T, want map[string]any", m.Payload)
		}
		return p
	case <-timer.C:
		t.Fatalf("timeout waiting for bridge/state")
		return nil
	}
}

func assertLevelStatus(t *testing.T, payload map[string]any, wantLevel, wantStatus string) {
	t.Helper()
	gotLevel, _ := payload["level"].(string)
	gotStatus, _ := payload["status"].(string)
	if gotLevel != wantLevel || gotStatus != wantStatus {
		t.Fatalf("unexpected state: level=%q status=%q, want level=%q status=%q (payload=%v)",
			gotLevel, gotStatus, wantLevel, wantStatus, payload)
	}
}
