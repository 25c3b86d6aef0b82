package compose

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
)

func TestSummarizerFallbackFirstMiddleLast(t *testing.T) {
	s := NewSummarizer(nil)
	content := "One fish. Two fish. Red fish. Blue fish. Old fish."

	sum := s.SummarizeScene(context.Background(), 1, content)
	if sum.Text != "One fish. Red fish. Old fish." {
		t.Fatalf("unexpected fallback summary: %q", sum.Text)
	}
	if sum.SourceKind != SourceScene {
		t.Fatalf("expected source kind %q, got %q", SourceScene, sum.SourceKind)
	}
	if len(sum.SourceIDs) != 1 || sum.SourceIDs[0] != 1 {
		t.Fatalf("unexpected source ids: %v", sum.SourceIDs)
	}
	if sum.Tokens != EstimateTokens(sum.Text) {
		t.Fatalf("token estimate not stored: %d", sum.Tokens)
	}

	// Short content keeps everything, empty content summarizes to nothing.
	if got := s.SummarizeScene(context.Background(), 2, "Just one line without punctuation").Text; got != "Just one line without punctuation" {
		t.Fatalf("single-sentence fallback changed content: %q", got)
	}
	if got := s.SummarizeScene(context.Background(), 3, "").Text; got != "" {
		t.Fatalf("empty content produced summary: %q", got)
	}
}

func TestSummarizerCachesScenes(t *testing.T) {
	calls := 0
	s := NewSummarizer(func(ctx context.Context, content string) (string, error) {
		calls++
		return fmt.Sprintf("compressed %d", calls), nil
	})

	first := s.SummarizeScene(context.Background(), 4, "original content here.")
	if first.Text != "compressed 1" {
		t.Fatalf("compressor output not used: %q", first.Text)
	}

	// A second request for the same scene is served from cache, even
	// with different content.
	again := s.SummarizeScene(context.Background(), 4, "totally different content.")
	if again.Text != first.Text {
		t.Fatalf("cache miss on repeat: %q vs %q", again.Text, first.Text)
	}
	if calls != 1 {
		t.Fatalf("compressor called %d times, want 1", calls)
	}

	cached, ok := s.Cached(SceneKey(4))
	if !ok || cached.Text != first.Text {
		t.Fatalf("summary not cached under %q", SceneKey(4))
	}
}

func TestSummarizerCompressorErrorFallsBack(t *testing.T) {
	s := NewSummarizer(func(ctx context.Context, content string) (string, error) {
		return "", errors.New("backend unavailable")
	})
	s.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

	sum := s.SummarizeScene(context.Background(), 1, "First. Second. Third.")
	if sum.Text != "First. Second. Third." {
		t.Fatalf("expected deterministic fallback, got %q", sum.Text)
	}
	if _, ok := s.Cached(SceneKey(1)); !ok {
		t.Fatalf("fallback summary was not cached")
	}
}

func TestSummarizerFoldsBatchAfterThreshold(t *testing.T) {
	s := NewSummarizer(nil)
	s.BatchAfter = 3

	s.SummarizeScene(context.Background(), 1, "Scene one happens.")
	s.SummarizeScene(context.Background(), 2, "Scene two happens.")
	if n := len(s.Recent()); n != 2 {
		t.Fatalf("expected 2 recent summaries before threshold, got %d", n)
	}

	s.SummarizeScene(context.Background(), 3, "Scene three happens.")

	if n := len(s.Recent()); n != 0 {
		t.Fatalf("recent summaries not folded, %d left", n)
	}
	archived := s.Archived()
	if len(archived) != 1 {
		t.Fatalf("expected 1 batch, got %d", len(archived))
	}
	batch := archived[0]
	if batch.SourceKind != SourceBatch {
		t.Fatalf("expected source kind %q, got %q", SourceBatch, batch.SourceKind)
	}
	if len(batch.SourceIDs) != 3 || batch.SourceIDs[0] != 1 || batch.SourceIDs[2] != 3 {
		t.Fatalf("unexpected batch source ids: %v", batch.SourceIDs)
	}
	if batch.Text != "Scene one happens. Scene two happens. Scene three happens." {
		t.Fatalf("unexpected batch text: %q", batch.Text)
	}

	// The batch is cached under its own key; folded scenes stay cached.
	if _, ok := s.Cached(BatchKey(1, 3)); !ok {
		t.Fatalf("batch not cached under %q", BatchKey(1, 3))
	}
	if _, ok := s.Cached(SceneKey(2)); !ok {
		t.Fatalf("folded scene summary evicted from cache")
	}

	// The next scene starts a fresh recent window.
	s.SummarizeScene(context.Background(), 4, "Scene four happens.")
	if n := len(s.Recent()); n != 1 {
		t.Fatalf("expected 1 recent summary after fold, got %d", n)
	}
	if n := len(s.Archived()); n != 1 {
		t.Fatalf("expected still 1 batch, got %d", n)
	}
}

func TestSummarizerBatchGoesThroughCompressor(t *testing.T) {
	var received []string
	calls := 0
	s := NewSummarizer(func(ctx context.Context, content string) (string, error) {
		calls++
		received = append(received, content)
		return fmt.Sprintf("s%d", calls), nil
	})
	s.BatchAfter = 2

	s.SummarizeScene(context.Background(), 1, "raw one.")
	s.SummarizeScene(context.Background(), 2, "raw two.")

	// The third compressor call is the fold: it sees the scene
	// summaries, not the raw scene content.
	if calls != 3 {
		t.Fatalf("compressor called %d times, want 3", calls)
	}
	if received[2] != "s1\ns2" {
		t.Fatalf("batch compressed from %q, want joined scene summaries", received[2])
	}

	archived := s.Archived()
	if len(archived) != 1 || archived[0].Text != "s3" {
		t.Fatalf("unexpected archived batches: %+v", archived)
	}
}
