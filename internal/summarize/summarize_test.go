package summarize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

type mockProvider struct {
	mu      sync.Mutex
	prompts []string
	err     error
}

func (m *mockProvider) Generate(_ context.Context, prompt string, _ int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, prompt)
	if m.err != nil {
		return "", m.err
	}
	return fmt.Sprintf("  summary %d  ", len(m.prompts)), nil
}

func (m *mockProvider) IsConfigured() bool { return true }

func words(n int) string {
	w := make([]string, n)
	for i := range w {
		w[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(w, " ")
}

func TestShortArticleIsOneCall(t *testing.T) {
	p := &mockProvider{}
	s := New(p, Options{ChunkSize: 1000})

	got, err := s.Summarize(context.Background(), "Title", words(500), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p.prompts) != 1 {
		t.Fatalf("expected 1 call, got %d", len(p.prompts))
	}
	if got != "summary 1" {
		t.Errorf("expected trimmed response, got %q", got)
	}
	if !strings.Contains(p.prompts[0], "w499") {
		t.Error("expected full text in the prompt")
	}
}

func TestChunkSizeBoundary(t *testing.T) {
	for _, tc := range []struct {
		words, calls int
	}{
		{999, 1},
		{1000, 1}, // a single window needs no merge
		{1001, 3}, // two windows plus the merge
	} {
		p := &mockProvider{}
		s := New(p, Options{ChunkSize: 1000})
		if _, err := s.Summarize(context.Background(), "Title", words(tc.words), time.Now()); err != nil {
			t.Fatalf("%d words: unexpected error: %v", tc.words, err)
		}
		if len(p.prompts) != tc.calls {
			t.Errorf("%d words: expected %d calls, got %d", tc.words, tc.calls, len(p.prompts))
		}
	}
}

func TestLongArticleChunksThenMerges(t *testing.T) {
	p := &mockProvider{}
	s := New(p, Options{ChunkSize: 1000, ChunkOverlap: 0})

	got, err := s.Summarize(context.Background(), "Title", words(2500), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p.prompts) != 4 {
		t.Fatalf("expected 3 chunk calls + 1 merge, got %d calls", len(p.prompts))
	}
	for i := 0; i < 3; i++ {
		if !strings.Contains(p.prompts[i], fmt.Sprintf("part %d of 3", i+1)) {
			t.Errorf("call %d is not a chunk prompt", i)
		}
	}
	merge := p.prompts[3]
	for _, part := range []string{"summary 1", "summary 2", "summary 3"} {
		if !strings.Contains(merge, part) {
			t.Errorf("merge prompt missing %q", part)
		}
	}
	if got != "summary 4" {
		t.Errorf("expected merge output, got %q", got)
	}
}

func TestChunkErrorStopsAndPropagates(t *testing.T) {
	boom := errors.New("backend down")
	p := &mockProvider{err: boom}
	s := New(p, Options{ChunkSize: 100})

	_, err := s.Summarize(context.Background(), "Title", words(250), time.Now())
	if !errors.Is(err, boom) {
		t.Fatalf("expected backend error, got %v", err)
	}
	if len(p.prompts) != 1 {
		t.Errorf("expected to stop after first failure, got %d calls", len(p.prompts))
	}
}

func TestEmptyTextFallsBackToTitle(t *testing.T) {
	p := &mockProvider{}
	s := New(p, Options{})
	if _, err := s.Summarize(context.Background(), "Only a headline", "", time.Time{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(p.prompts[0], "Published: unknown") {
		t.Error("expected unknown publish date in prompt")
	}
}

func TestSplitWords(t *testing.T) {
	w := strings.Fields(words(2500))

	chunks := SplitWords(w, 1000, 0)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if len(chunks[0]) != 1000 || len(chunks[2]) != 500 {
		t.Errorf("unexpected chunk sizes %d/%d/%d", len(chunks[0]), len(chunks[1]), len(chunks[2]))
	}

	overlapped := SplitWords(w, 1000, 100)
	if len(overlapped) != 3 {
		t.Fatalf("expected 3 overlapping chunks, got %d", len(overlapped))
	}
	if overlapped[1][0] != "w900" {
		t.Errorf("expected second window to start at w900, got %s", overlapped[1][0])
	}
	if last := overlapped[2]; last[len(last)-1] != "w2499" {
		t.Errorf("expected last window to end at w2499, got %s", last[len(last)-1])
	}

	if len(SplitWords(nil, 1000, 0)) != 0 {
		t.Error("expected no chunks for empty input")
	}
	if got := SplitWords(w[:1000], 1000, 0); len(got) != 1 {
		t.Errorf("expected exactly one chunk for 1000 words, got %d", len(got))
	}
}
