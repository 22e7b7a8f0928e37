package chat

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
)

const (
	DefaultMaxSuggestions = 3
	maxSuggestionRunes    = 80
)

type Suggester interface {
	Suggest(ctx context.Context, text string) ([]string, error)
}

// SuggestionGate fetches reply candidates for one inbound message. Failures
// are never surfaced; they produce an empty list.
type SuggestionGate struct {
	s   Suggester
	max int
}

func NewSuggestionGate(s Suggester, max int) *SuggestionGate {
	if max <= 0 {
		max = DefaultMaxSuggestions
	}
	return &SuggestionGate{s: s, max: max}
}

func (g *SuggestionGate) Fetch(ctx context.Context, text string) []string {
	if g == nil || g.s == nil || strings.TrimSpace(text) == "" {
		return nil
	}
	raw, err := g.s.Suggest(ctx, text)
	if err != nil {
		if ctx.Err() == nil {
			log.Debug().Err(err).Msg("reply suggestions unavailable")
		}
		return nil
	}
	out := make([]string, 0, g.max)
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if utf8.RuneCountInString(s) > maxSuggestionRunes {
			s = string([]rune(s)[:maxSuggestionRunes])
		}
		out = append(out, s)
		if len(out) == g.max {
			break
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
