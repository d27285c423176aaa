package securenote

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestAuditDispatcherDeliversLoginEvents(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start failed: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	sink := NewChannelSink(16)
	engine, err := New().
		WithConfig(testConfig()).
		WithRedis(rdb).
		WithIdentityProvider(newMemoryProvider()).
		WithDocumentStore(newMemoryDocStore()).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("engine build failed: %v", err)
	}
	defer engine.Close()

	registerTestIdentity(t, engine, "alice")
	if _, err := engine.Login(context.Background(), "alice", "wrong-password-here"); err == nil {
		t.Fatal("expected login failure")
	}

	wantKinds := map[string]bool{
		auditEventRegistered:   false,
		auditEventLoginFailure: false,
	}
	deadline := time.After(2 * time.Second)
	for remaining := len(wantKinds); remaining > 0; {
		select {
		case event := <-sink.Events():
			if seen, tracked := wantKinds[event.EventKind]; tracked && !seen {
				wantKinds[event.EventKind] = true
				remaining--
			}
		case <-deadline:
			t.Fatalf("timed out waiting for events, got %+v", wantKinds)
		}
	}
}

func TestAuditDispatcherDropsWhenFull(t *testing.T) {
	blocker := make(chan struct{})
	sink := blockingSink{release: blocker}

	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	// First event occupies the worker, second fills the buffer, the rest drop.
	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), AuditEvent{EventKind: auditEventLoginFailure})
	}

	waitFor(t, func() bool { return d.Dropped() >= 1 })
	close(blocker)
	d.Close()

	if d.Dropped() == 0 {
		t.Fatal("expected dropped events under backpressure")
	}
}

type blockingSink struct {
	release chan struct{}
}

func (s blockingSink) Emit(context.Context, AuditEvent) {
	<-s.release
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func TestJSONWriterSinkWritesOneObjectPerLine(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)

	sink.Emit(context.Background(), AuditEvent{
		Timestamp:  time.Unix(1700000000, 0),
		EventKind:  auditEventDocumentShared,
		IdentityID: "id-1",
		Success:    true,
		Detail:     map[string]string{"document_id": "d-1"},
	})
	sink.Emit(context.Background(), AuditEvent{
		EventKind: auditEventLoginFailure,
		Success:   false,
		Error:     "invalid credentials",
	})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}
	for _, line := range lines {
		var decoded map[string]any
		if err := json.Unmarshal([]byte(line), &decoded); err != nil {
			t.Fatalf("line is not valid JSON: %v (%q)", err, line)
		}
	}
}
