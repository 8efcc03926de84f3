package learning

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"aegis/internal/bus"
	"aegis/internal/secure"
)

func TestEMAUpdate(t *testing.T) {
	old := Metrics{SuccessRate: 0.5, Accuracy: 0.5, Relevance: 0.5, Efficiency: 0.5}
	sample := Metrics{SuccessRate: 1, Accuracy: 1, Relevance: 1, Efficiency: 1}
	got := ema(old, sample, 0.1)
	if math.Abs(got.SuccessRate-0.55) > 1e-12 {
		t.Errorf("SuccessRate = %f, want 0.55", got.SuccessRate)
	}
}

func TestScoreInteractionHeuristics(t *testing.T) {
	m := scoreInteraction("detect lateral movement", "Lateral movement shows up as unusual SMB sessions between workstations and credential reuse patterns.", nil)
	if m.SuccessRate != 1 || m.Efficiency != 1 {
		t.Errorf("clean answer: %s", m)
	}
	if m.Relevance < 0.5 {
		t.Errorf("relevant answer scored %f", m.Relevance)
	}

	m = scoreInteraction("q", "Error: upstream failed", nil)
	if m.SuccessRate >= 0.7 || m.Accuracy >= 0.7 {
		t.Errorf("error-shaped answer: %s", m)
	}

	m = scoreInteraction("q", "", errors.New("backend down"))
	if m.SuccessRate != 0 || m.Accuracy != 0 {
		t.Errorf("failed generation: %s", m)
	}
}

func TestDeriveImprovements(t *testing.T) {
	low := Metrics{SuccessRate: 0.4, Accuracy: 0.9, Relevance: 0.9, Efficiency: 0.9}
	got := deriveImprovements(low, "")
	if len(got) != 1 || !strings.Contains(got[0], "failed generations") {
		t.Errorf("got %v", got)
	}

	good := Metrics{SuccessRate: 1, Accuracy: 1, Relevance: 1, Efficiency: 1}
	got = deriveImprovements(good, "this was inaccurate and too long")
	if len(got) != 2 {
		t.Errorf("feedback hints: %v", got)
	}

	// Duplicate hints collapse.
	got = deriveImprovements(good, "inaccurate and just wrong")
	if len(got) != 1 {
		t.Errorf("duplicate hints: %v", got)
	}
}

func TestHistoryFIFOCap(t *testing.T) {
	l := NewLoop(Options{HistoryLimit: 3})
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		l.Record(ctx, "input", strings.Repeat("a", 100), nil, "")
	}
	h := l.History()
	if len(h) != 3 {
		t.Fatalf("history = %d, want 3", len(h))
	}
}

func TestRecordPublishesEvents(t *testing.T) {
	b := bus.New()
	var entries, feedbacks int
	b.Subscribe(bus.TopicLearningEntry, func(_ context.Context, _ bus.Event) { entries++ })
	b.Subscribe(bus.TopicLearningFeed, func(_ context.Context, _ bus.Event) { feedbacks++ })

	l := NewLoop(Options{Bus: b})
	l.Record(context.Background(), "q", "a reasonable answer about firewalls and ports", nil, "")
	l.Record(context.Background(), "q", "another answer", nil, "too long")

	if entries != 2 || feedbacks != 1 {
		t.Errorf("entries = %d, feedbacks = %d", entries, feedbacks)
	}
}

func TestPersistLoadEncrypted(t *testing.T) {
	codec, err := secure.NewCodec([]byte("0123456789abcdef0123456789abcdef"), "learning")
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "learning.json")

	l1 := NewLoop(Options{Path: path, Codec: codec, HistoryLimit: 10})
	l1.Record(context.Background(), "q", "an answer of comfortable length for the efficiency band", nil, "")
	want := l1.Rolling()

	l2 := NewLoop(Options{Path: path, Codec: codec, HistoryLimit: 10})
	l2.Load()
	if got := l2.Rolling(); got != want {
		t.Errorf("rolling = %+v, want %+v", got, want)
	}
	if len(l2.History()) != 1 {
		t.Errorf("history = %d, want 1", len(l2.History()))
	}
}

func TestPersistLoadPlaintext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "learning.json")
	l1 := NewLoop(Options{Path: path, HistoryLimit: 10})
	l1.Record(context.Background(), "q", "plain history entry with adequate body text here", nil, "")

	l2 := NewLoop(Options{Path: path, HistoryLimit: 10})
	l2.Load()
	if len(l2.History()) != 1 {
		t.Error("plaintext history not restored")
	}
}

func TestLoadMissingFileIsCleanStart(t *testing.T) {
	l := NewLoop(Options{Path: filepath.Join(t.TempDir(), "absent.json")})
	l.Load()
	if len(l.History()) != 0 {
		t.Error("missing file must start empty")
	}
}
