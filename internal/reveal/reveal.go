// Package reveal turns a finished reply into a progressive, typing-like
// sequence of chunks. It is purely cosmetic: the transcript always holds the
// complete text before any chunk is shown.
package reveal

import (
	"context"
	"iter"
	"math/rand/v2"
	"time"
)

// Chunks yields text in pieces of at most size runes, never splitting a rune.
func Chunks(text string, size int) iter.Seq[string] {
	if size <= 0 {
		size = 1
	}
	return func(yield func(string) bool) {
		start, n := 0, 0
		for i := range text {
			if n == size {
				if !yield(text[start:i]) {
					return
				}
				start, n = i, 0
			}
			n++
		}
		if start < len(text) {
			yield(text[start:])
		}
	}
}

// Pacer decides how long to wait between chunks.
type Pacer struct {
	Delay  time.Duration
	Jitter time.Duration
}

// Next returns the pause before the next chunk.
func (p Pacer) Next() time.Duration {
	d := p.Delay
	if p.Jitter > 0 {
		d += time.Duration(rand.Int64N(int64(p.Jitter)))
	}
	return d
}

// Play emits text chunk by chunk, pausing between chunks according to pacer.
// It stops early when ctx is done or emit fails.
func Play(ctx context.Context, text string, size int, pacer Pacer, emit func(chunk string) error) error {
	first := true
	for chunk := range Chunks(text, size) {
		if !first {
			if wait := pacer.Next(); wait > 0 {
				timer := time.NewTimer(wait)
				select {
				case <-ctx.Done():
					timer.Stop()
					return ctx.Err()
				case <-timer.C:
				}
			}
		}
		first = false

		if err := emit(chunk); err != nil {
			return err
		}
	}
	return nil
}
