package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/JaakkoLipp/jarvis/internal/domain"
)

// ErrEmptyAnswer means the generator produced nothing worth sending.
var ErrEmptyAnswer = errors.New("empty answer")

// Replier sends one reply to the triggering message.
type Replier interface {
	Reply(ctx context.Context, ev domain.InboundEvent, text string) error
}

// Dispatch splits answer into segments of at most limit characters and sends them
// in order as replies to ev. It stops at the first failed send and returns how many
// segments went out.
func Dispatch(ctx context.Context, r Replier, ev domain.InboundEvent, answer string, limit int) (int, error) {
	if strings.TrimSpace(answer) == "" {
		return 0, ErrEmptyAnswer
	}
	segments := Split(answer, limit)
	for i, seg := range segments {
		if err := r.Reply(ctx, ev, seg); err != nil {
			return i, fmt.Errorf("send segment %d/%d: %w", i+1, len(segments), err)
		}
	}
	return len(segments), nil
}

// Split greedily packs whitespace-separated tokens into segments of at most limit
// characters (runes). Whitespace inside a segment is kept verbatim; the whitespace at
// each break point is the separator and belongs to neither segment. A single token
// longer than limit becomes its own oversized segment.
func Split(s string, limit int) []string {
	spans := splitSpans(s, limit)
	out := make([]string, len(spans))
	for i, sp := range spans {
		out[i] = s[sp.start:sp.end]
	}
	return out
}

type span struct{ start, end int }

func splitSpans(s string, limit int) []span {
	if limit < 1 {
		limit = 1
	}

	var spans []span
	cur := span{start: -1}
	curRunes, gapRunes := 0, 0

	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if unicode.IsSpace(r) {
			gapRunes++
			i += size
			continue
		}

		j, tokRunes := i, 0
		for j < len(s) {
			r, size := utf8.DecodeRuneInString(s[j:])
			if unicode.IsSpace(r) {
				break
			}
			tokRunes++
			j += size
		}

		switch {
		case cur.start < 0:
			cur, curRunes = span{i, j}, tokRunes
		case curRunes+gapRunes+tokRunes <= limit:
			cur.end = j
			curRunes += gapRunes + tokRunes
		default:
			spans = append(spans, cur)
			cur, curRunes = span{i, j}, tokRunes
		}
		gapRunes = 0
		i = j
	}

	if cur.start >= 0 {
		spans = append(spans, cur)
	}
	return spans
}
