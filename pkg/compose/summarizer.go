package compose

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/petrijr/fabula/pkg/api"
)

// DefaultBatchAfter is how many un-archived scene summaries accumulate
// before they are folded into one batch summary.
const DefaultBatchAfter = 5

// Source kinds of a Summary.
const (
	SourceScene = "scene"
	SourceBatch = "batch"
)

// Summary is a compressed view of prior content, cached for re-use
// within a run.
type Summary struct {
	Text       string
	SourceKind string
	SourceIDs  []int

	// Tokens is the approximate token count of Text.
	Tokens int
}

// CompressFunc condenses content into a short summary, typically by
// calling the generation backend. It owns its transport concerns.
type CompressFunc func(ctx context.Context, content string) (string, error)

// SceneKey is the cache key of a scene summary.
func SceneKey(scene int) string {
	return fmt.Sprintf("scene_%d", scene)
}

// BatchKey is the cache key of a batch summary covering scenes
// first through last.
func BatchKey(first, last int) string {
	return fmt.Sprintf("batch_%d_%d", first, last)
}

// Summarizer compresses scene content hierarchically: every scene gets
// a cached summary, and once BatchAfter un-archived scene summaries
// accumulate they are folded into a single batch summary. Archived
// scenes leave the recent view but stay cached.
//
// Compression never fails a run. When Compress is nil or errors, the
// deterministic first/middle/last-sentence fallback is used instead;
// compressor errors are logged and otherwise swallowed.
//
// Like State, a Summarizer belongs to one run and is used from a single
// goroutine.
type Summarizer struct {
	// Compress produces summaries via the backend. Nil selects the
	// deterministic fallback for everything.
	Compress CompressFunc

	// BatchAfter overrides DefaultBatchAfter when positive.
	BatchAfter int

	// Logger reports compression fallbacks. Nil means slog.Default().
	Logger *slog.Logger

	cache    map[string]Summary
	recent   []int
	archived []Summary
}

// NewSummarizer returns a Summarizer using compress (which may be nil
// for the deterministic fallback).
func NewSummarizer(compress CompressFunc) *Summarizer {
	return &Summarizer{Compress: compress}
}

func (s *Summarizer) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Summarizer) batchAfter() int {
	if s.BatchAfter > 0 {
		return s.BatchAfter
	}
	return DefaultBatchAfter
}

// SummarizeScene returns the summary for a scene, producing and caching
// it from content on first use. Reaching the batch threshold folds the
// recent scene summaries into a batch as a side effect.
func (s *Summarizer) SummarizeScene(ctx context.Context, scene int, content string) Summary {
	key := SceneKey(scene)
	if cached, ok := s.cache[key]; ok {
		return cached
	}

	text := s.compress(ctx, key, content)
	sum := Summary{
		Text:       text,
		SourceKind: SourceScene,
		SourceIDs:  []int{scene},
		Tokens:     EstimateTokens(text),
	}
	s.put(key, sum)
	s.recent = append(s.recent, scene)

	if len(s.recent) >= s.batchAfter() {
		s.foldBatch(ctx)
	}
	return sum
}

// foldBatch compresses the recent scene summaries into one batch
// summary and archives them.
func (s *Summarizer) foldBatch(ctx context.Context) {
	if len(s.recent) == 0 {
		return
	}
	first, last := s.recent[0], s.recent[len(s.recent)-1]
	key := BatchKey(first, last)

	parts := make([]string, 0, len(s.recent))
	for _, scene := range s.recent {
		if sum, ok := s.cache[SceneKey(scene)]; ok {
			parts = append(parts, sum.Text)
		}
	}
	text := s.compress(ctx, key, strings.Join(parts, "\n"))

	batch := Summary{
		Text:       text,
		SourceKind: SourceBatch,
		SourceIDs:  append([]int(nil), s.recent...),
		Tokens:     EstimateTokens(text),
	}
	s.put(key, batch)
	s.archived = append(s.archived, batch)
	s.recent = nil
}

// compress runs the configured compressor and degrades to the fallback
// on any failure.
func (s *Summarizer) compress(ctx context.Context, source, content string) string {
	if s.Compress == nil {
		return firstMiddleLast(content)
	}
	text, err := s.Compress(ctx, content)
	if err != nil {
		cerr := &api.CompressionError{Source: source, Err: err}
		s.logger().Warn("compression failed, using fallback",
			slog.String("source", source),
			slog.Any("error", cerr))
		return firstMiddleLast(content)
	}
	return strings.TrimSpace(text)
}

func (s *Summarizer) put(key string, sum Summary) {
	if s.cache == nil {
		s.cache = make(map[string]Summary)
	}
	s.cache[key] = sum
}

// Cached looks up a summary by cache key (see SceneKey, BatchKey).
func (s *Summarizer) Cached(key string) (Summary, bool) {
	sum, ok := s.cache[key]
	return sum, ok
}

// Recent returns the scene summaries not yet folded into a batch, in
// scene order.
func (s *Summarizer) Recent() []Summary {
	out := make([]Summary, 0, len(s.recent))
	for _, scene := range s.recent {
		if sum, ok := s.cache[SceneKey(scene)]; ok {
			out = append(out, sum)
		}
	}
	return out
}

// Archived returns the batch summaries, oldest first.
func (s *Summarizer) Archived() []Summary {
	out := make([]Summary, len(s.archived))
	copy(out, s.archived)
	return out
}

// firstMiddleLast is the deterministic fallback summary: the first,
// middle and last sentences of the content. It never calls external
// services.
func firstMiddleLast(content string) string {
	sentences := splitSentences(content)
	switch n := len(sentences); n {
	case 0:
		return ""
	case 1:
		return sentences[0]
	case 2:
		return sentences[0] + " " + sentences[1]
	default:
		return sentences[0] + " " + sentences[n/2] + " " + sentences[n-1]
	}
}

func splitSentences(text string) []string {
	var out []string
	last := 0
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c != '.' && c != '!' && c != '?' {
			continue
		}
		if s := strings.TrimSpace(text[last : i+1]); strings.TrimLeft(s, ".!?") != "" {
			out = append(out, s)
		}
		last = i + 1
	}
	if s := strings.TrimSpace(text[last:]); s != "" {
		out = append(out, s)
	}
	return out
}
