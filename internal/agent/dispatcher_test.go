package agent

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaakkoLipp/jarvis/internal/domain"
)

func TestSplit_ShortAnswerIsOneSegment(t *testing.T) {
	assert.Equal(t, []string{"It's short."}, Split("It's short.", 2000))
}

func TestSplit_PreservesInnerWhitespace(t *testing.T) {
	got := Split("a  b\n\nc\td", 100)
	assert.Equal(t, []string{"a  b\n\nc\td"}, got)
}

func TestSplit_BreaksOnWhitespace(t *testing.T) {
	got := Split("aaa bbb ccc", 7)
	assert.Equal(t, []string{"aaa bbb", "ccc"}, got)
}

func TestSplit_OverlongTokenForwardedWhole(t *testing.T) {
	long := strings.Repeat("x", 12)
	got := Split("ab "+long+" cd", 5)
	assert.Equal(t, []string{"ab", long, "cd"}, got)
}

func TestSplit_CountsRunesNotBytes(t *testing.T) {
	got := Split("ääää ööö", 8)
	assert.Equal(t, []string{"ääää ööö"}, got)
}

func TestSplit_EmptyAndWhitespaceOnly(t *testing.T) {
	assert.Empty(t, Split("", 10))
	assert.Empty(t, Split(" \n\t ", 10))
}

func TestSplit_NonPositiveLimit(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, Split("a b", 0))
}

// checkLossless verifies that spans cover every non-space rune and that only
// whitespace sits between, before and after them.
func checkLossless(t *testing.T, s string, limit int) {
	t.Helper()
	spans := splitSpans(s, limit)

	var rebuilt strings.Builder
	prev := 0
	for _, sp := range spans {
		gap := s[prev:sp.start]
		require.Empty(t, strings.TrimSpace(gap), "non-whitespace dropped between segments")
		rebuilt.WriteString(gap)

		seg := s[sp.start:sp.end]
		if n := utf8.RuneCountInString(seg); n > limit {
			require.Empty(t, strings.Fields(seg)[1:], "only single-token segments may exceed the limit")
		}
		rebuilt.WriteString(seg)
		prev = sp.end
	}
	require.Empty(t, strings.TrimSpace(s[prev:]))
	rebuilt.WriteString(s[prev:])
	require.Equal(t, s, rebuilt.String())
}

func TestSplit_RoundTripProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	alphabet := []rune("ab cdé\n\tfg  h✓")
	for i := 0; i < 500; i++ {
		n := rng.Intn(300)
		var sb strings.Builder
		for j := 0; j < n; j++ {
			sb.WriteRune(alphabet[rng.Intn(len(alphabet))])
		}
		limit := 1 + rng.Intn(40)
		checkLossless(t, sb.String(), limit)
	}
}

func TestSplit_LongAnswerScenario(t *testing.T) {
	word := "lorem"
	answer := strings.TrimSpace(strings.Repeat(word+" ", 1000)) // 5999 chars
	segments := Split(answer, 2000)

	require.Greater(t, len(segments), 1)
	for _, seg := range segments {
		assert.LessOrEqual(t, utf8.RuneCountInString(seg), 2000)
	}
	assert.Equal(t, answer, strings.Join(segments, " "))
}

func TestDispatch_SendsInOrder(t *testing.T) {
	gw := newFakeGateway()
	n, err := Dispatch(context.Background(), gw, domain.InboundEvent{}, "one two three", 7)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"one two", "three"}, gw.Replies())
}

func TestDispatch_EmptyAnswer(t *testing.T) {
	gw := newFakeGateway()
	n, err := Dispatch(context.Background(), gw, domain.InboundEvent{}, " \n ", 2000)
	assert.ErrorIs(t, err, ErrEmptyAnswer)
	assert.Zero(t, n)
	assert.Empty(t, gw.Replies())
}

func TestDispatch_StopsAtFirstFailure(t *testing.T) {
	gw := newFakeGateway()
	sendErr := errors.New("rate limited")
	calls := 0
	gw.replyFn = func(string) error {
		calls++
		if calls == 2 {
			return sendErr
		}
		return nil
	}

	n, err := Dispatch(context.Background(), gw, domain.InboundEvent{}, "a b c", 1)
	assert.ErrorIs(t, err, sendErr)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"a"}, gw.Replies())
}
