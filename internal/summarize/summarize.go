// Package summarize condenses one article with a generation backend. Long
// articles are split into word windows that are summarized separately and
// then merged, so no single request grows with article length.
package summarize

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/TobiSchelling/feedwatch/internal/llm"
)

const articlePrompt = `You are summarizing a news article for a reader who follows this topic closely.

Title: %s
Published: %s

Write a concise summary of 3-5 sentences. Be specific about who did what, where, and what changes as a result. Use only the text below; do not add outside knowledge.

Article:
%s`

const chunkPrompt = `You are summarizing part %d of %d of a long news article.

Title: %s

Summarize this part in 2-4 sentences. Keep names, figures and dates. Use only the text below.

Text:
%s`

const mergePrompt = `Below are summaries of consecutive parts of one news article titled "%s".

Merge them into a single coherent summary of 3-5 sentences. Do not repeat facts that appear in more than one part, and keep the order of events. Use only these summaries.

%s`

// Options tunes chunking and response length.
type Options struct {
	ChunkSize    int // words per window; articles up to this size go in one call
	ChunkOverlap int // words shared by consecutive windows
	MaxTokens    int
}

// Summarizer produces per-article summaries.
type Summarizer struct {
	provider llm.Provider
	opts     Options
}

// New creates a Summarizer. Zero options fall back to 1000-word windows,
// no overlap and 512 response tokens.
func New(provider llm.Provider, opts Options) *Summarizer {
	if opts.ChunkSize < 1 {
		opts.ChunkSize = 1000
	}
	if opts.ChunkOverlap < 0 || opts.ChunkOverlap >= opts.ChunkSize {
		opts.ChunkOverlap = 0
	}
	if opts.MaxTokens < 1 {
		opts.MaxTokens = 512
	}
	return &Summarizer{provider: provider, opts: opts}
}

// Summarize returns a summary of text. Generation errors are returned as is;
// rate-limit retries are the provider's concern.
func (s *Summarizer) Summarize(ctx context.Context, title, text string, publishedAt time.Time) (string, error) {
	words := strings.Fields(text)
	if len(words) == 0 {
		words = strings.Fields(title)
	}

	// Up to one full window is a single call.
	if len(words) <= s.opts.ChunkSize {
		prompt := fmt.Sprintf(articlePrompt, title, formatPublished(publishedAt), strings.Join(words, " "))
		return s.generate(ctx, prompt)
	}

	chunks := SplitWords(words, s.opts.ChunkSize, s.opts.ChunkOverlap)
	log.Printf("Summarizing %q in %d chunks (%d words)", title, len(chunks), len(words))

	parts := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		prompt := fmt.Sprintf(chunkPrompt, i+1, len(chunks), title, strings.Join(chunk, " "))
		summary, err := s.generate(ctx, prompt)
		if err != nil {
			return "", fmt.Errorf("summarizing part %d of %d: %w", i+1, len(chunks), err)
		}
		parts = append(parts, fmt.Sprintf("Part %d:\n%s", i+1, summary))
	}

	merged, err := s.generate(ctx, fmt.Sprintf(mergePrompt, title, strings.Join(parts, "\n\n")))
	if err != nil {
		return "", fmt.Errorf("merging %d part summaries: %w", len(parts), err)
	}
	return merged, nil
}

func (s *Summarizer) generate(ctx context.Context, prompt string) (string, error) {
	out, err := s.provider.Generate(ctx, prompt, s.opts.MaxTokens)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// SplitWords cuts words into windows of size words, each starting size-overlap
// words after the previous one. The last window may be shorter.
func SplitWords(words []string, size, overlap int) [][]string {
	if size < 1 {
		size = 1
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	stride := size - overlap

	var chunks [][]string
	for start := 0; start < len(words); start += stride {
		end := start + size
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, words[start:end])
		if end == len(words) {
			break
		}
	}
	return chunks
}

func formatPublished(t time.Time) string {
	if t.IsZero() || t.Unix() == 0 {
		return "unknown"
	}
	return t.Format("Jan 02, 2006 15:04 MST")
}
