package audit

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"aegis/internal/aerr"
	"aegis/internal/bus"
	"aegis/internal/secure"
)

func newTestLog(t *testing.T, dir string) *Log {
	t.Helper()
	codec, err := secure.NewCodec([]byte("0123456789abcdef0123456789abcdef"), "audit")
	if err != nil {
		t.Fatal(err)
	}
	return NewLog(Options{Path: filepath.Join(dir, "audit.log"), Codec: codec, Bus: bus.New()})
}

func TestAppendLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	l1 := newTestLog(t, dir)
	ctx := context.Background()

	for i, action := range []string{"authenticate", "tool.execute", "authenticate"} {
		err := l1.Append(ctx, Record{
			Actor:   "alice",
			Action:  action,
			Success: i != 1,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	l2 := newTestLog(t, dir)
	if err := l2.Load(); err != nil {
		t.Fatal(err)
	}
	if l2.Len() != 3 {
		t.Fatalf("Len = %d, want 3", l2.Len())
	}
}

func TestFileIsEncryptedNewlineDelimited(t *testing.T) {
	dir := t.TempDir()
	l := newTestLog(t, dir)
	l.Append(context.Background(), Record{Actor: "alice", Action: "authenticate", Success: true})

	raw, err := os.ReadFile(filepath.Join(dir, "audit.log"))
	if err != nil {
		t.Fatal(err)
	}
	content := string(raw)
	if strings.Contains(content, "alice") || strings.Contains(content, "authenticate") {
		t.Error("plaintext leaked into the audit file")
	}
	if !strings.HasSuffix(content, "\n") {
		t.Error("records must be newline-delimited")
	}
}

func TestLoadRejectsTamperedLine(t *testing.T) {
	dir := t.TempDir()
	l := newTestLog(t, dir)
	l.Append(context.Background(), Record{Actor: "alice", Action: "x", Success: true})

	path := filepath.Join(dir, "audit.log")
	raw, _ := os.ReadFile(path)
	tampered := strings.Replace(string(raw), `"data":"`, `"data":"00`, 1)
	os.WriteFile(path, []byte(tampered), 0o600)

	l2 := newTestLog(t, dir)
	if err := l2.Load(); aerr.KindOf(err) != aerr.KindPersistenceCorrupt {
		t.Fatalf("kind = %s, want PersistenceCorrupt", aerr.KindOf(err))
	}
}

func TestQueryFiltersNewestFirst(t *testing.T) {
	l := newTestLog(t, t.TempDir())
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	success := []bool{true, false, true, true}
	actors := []string{"alice", "alice", "bob", "alice"}
	for i := range success {
		l.Append(ctx, Record{
			TS:      base.Add(time.Duration(i) * time.Minute),
			Actor:   actors[i],
			Action:  "tool.execute",
			Success: success[i],
		})
	}

	got := l.Query(Filter{Actor: "alice"})
	if len(got) != 3 {
		t.Fatalf("alice records = %d, want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].TS.After(got[i-1].TS) {
			t.Error("query must be newest-first")
		}
	}

	ok := true
	got = l.Query(Filter{Actor: "alice", Success: &ok})
	if len(got) != 2 {
		t.Errorf("successful alice records = %d, want 2", len(got))
	}

	got = l.Query(Filter{Limit: 2})
	if len(got) != 2 {
		t.Errorf("limit ignored: %d", len(got))
	}

	got = l.Query(Filter{From: base.Add(90 * time.Second)})
	if len(got) != 2 {
		t.Errorf("time filter: %d, want 2", len(got))
	}
}

func TestBusEventOnAppend(t *testing.T) {
	codec, _ := secure.NewCodec([]byte("0123456789abcdef0123456789abcdef"), "audit")
	b := bus.New()
	var events int
	b.Subscribe(bus.TopicAuditCreated, func(_ context.Context, _ bus.Event) { events++ })

	l := NewLog(Options{Path: filepath.Join(t.TempDir(), "audit.log"), Codec: codec, Bus: b})
	l.Append(context.Background(), Record{Actor: "x", Action: "y", Success: true})
	if events != 1 {
		t.Errorf("events = %d, want 1", events)
	}
}
