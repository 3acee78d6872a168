package reveal

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunksConcatenateToText(t *testing.T) {
	text := "Probable Diagnosis: common cold 🤒. Rest well."
	for _, size := range []int{1, 2, 3, 7, 100} {
		chunks := slices.Collect(Chunks(text, size))
		assert.Equal(t, text, strings.Join(chunks, ""), "size %d", size)
		for _, c := range chunks[:len(chunks)-1] {
			assert.Equal(t, size, utf8.RuneCountInString(c))
		}
	}
}

func TestChunksNeverSplitRunes(t *testing.T) {
	chunks := slices.Collect(Chunks("héllo wörld", 1))
	assert.Len(t, chunks, 11)
	assert.Equal(t, "é", chunks[1])
}

func TestChunksEmptyAndNonPositiveSize(t *testing.T) {
	assert.Empty(t, slices.Collect(Chunks("", 3)))
	assert.Equal(t, []string{"a", "b"}, slices.Collect(Chunks("ab", 0)))
}

func TestPlayEmitsAllChunks(t *testing.T) {
	var got []string
	err := Play(context.Background(), "abcdef", 4, Pacer{Delay: time.Millisecond}, func(c string) error {
		got = append(got, c)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"abcd", "ef"}, got)
}

func TestPlayStopsOnEmitError(t *testing.T) {
	boom := errors.New("client gone")
	calls := 0
	err := Play(context.Background(), "abcdef", 1, Pacer{}, func(string) error {
		calls++
		if calls == 2 {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, calls)
}

func TestPlayHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Play(ctx, "abcdef", 1, Pacer{Delay: time.Hour}, func(string) error {
		calls++
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestPacerJitterBounds(t *testing.T) {
	p := Pacer{Delay: 10 * time.Millisecond, Jitter: 5 * time.Millisecond}
	for i := 0; i < 50; i++ {
		d := p.Next()
		assert.GreaterOrEqual(t, d, 10*time.Millisecond)
		assert.Less(t, d, 15*time.Millisecond)
	}
}
