package dialogue

import (
	"context"
	"strings"

	"github.com/voxdesk/voxdesk/pkg/provider/llm"
)

// Segments splits a token chunk stream into complete sentences so synthesis
// can start on the first sentence while the model is still generating the
// rest. Segmentation is lossless: concatenating the emitted fragments (with
// the trimmed separators restored as single spaces) reproduces every
// character of the stream, in order. Any text left when the stream ends is
// flushed as a final fragment even without closing punctuation.
//
// The returned channel is closed when the chunk stream ends or ctx is
// cancelled. Chunks with FinishReason "error" terminate segmentation; the
// text collected so far is still flushed.
func Segments(ctx context.Context, chunks <-chan llm.Chunk) <-chan string {
	out := make(chan string, 8)
	go func() {
		defer close(out)
		var buf strings.Builder

		flush := func() {
			if buf.Len() == 0 {
				return
			}
			s := strings.TrimSpace(buf.String())
			buf.Reset()
			if s == "" {
				return
			}
			select {
			case out <- s:
			case <-ctx.Done():
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case chunk, ok := <-chunks:
				if !ok {
					flush()
					return
				}
				if chunk.FinishReason == "error" {
					flush()
					return
				}
				buf.WriteString(chunk.Text)

				// Emit complete sentences eagerly for lower synthesis latency.
				for {
					idx := sentenceBoundary(buf.String())
					if idx < 0 {
						break
					}
					sentence := buf.String()[:idx+1]
					rest := strings.TrimLeft(buf.String()[idx+1:], " \t\n\r")
					buf.Reset()
					buf.WriteString(rest)
					select {
					case out <- sentence:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return out
}

// SplitSentences segments already-complete text with the same boundary rule
// as [Segments].
func SplitSentences(text string) []string {
	var out []string
	rest := text
	for {
		idx := sentenceBoundary(rest)
		if idx < 0 {
			break
		}
		out = append(out, rest[:idx+1])
		rest = strings.TrimLeft(rest[idx+1:], " \t\n\r")
	}
	if s := strings.TrimSpace(rest); s != "" {
		out = append(out, s)
	}
	return out
}

// sentenceBoundary returns the index of the first sentence-ending punctuation
// mark that is followed by whitespace, or -1. Trailing punctuation without a
// following space is not a boundary; the final flush handles it.
func sentenceBoundary(s string) int {
	for i := 0; i < len(s)-1; i++ {
		switch s[i] {
		case '.', '!', '?':
			switch s[i+1] {
			case ' ', '\n', '\r', '\t':
				return i
			}
		}
	}
	return -1
}
