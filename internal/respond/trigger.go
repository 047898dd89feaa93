// Package respond decides what happens to an accepted transcript: either the
// bot generates a spoken reply (chat completion + TTS + playback) or the
// utterance is appended to the guild's conversation context for later turns.
//
// The decision is a deliberately simple heuristic, not a classifier. It is a
// replaceable policy; nothing downstream depends on its exact behaviour.
package respond

import (
	"math/rand/v2"
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	// defaultUnpromptedChance is the probability of replying to a message
	// that does not address the bot, to keep multi-party conversation
	// flowing without requiring explicit address every time.
	defaultUnpromptedChance = 0.3

	// Length bands for messages that neither address the bot nor win the
	// unprompted roll.
	shortTextLimit = 10
	longTextLimit  = 20

	// Name-match thresholds: Jaro-Winkler floor when the Double Metaphone
	// codes overlap, and the stricter floor for pure string similarity.
	phoneticThreshold = 0.70
	fuzzyThreshold    = 0.85
)

// attentionTokens address the bot directly regardless of character name.
var attentionTokens = []string{"bot", "ai", "assistant", "hey", "hello"}

// Trigger decides whether a transcript warrants a spoken reply. Safe for
// concurrent use; read-only after construction apart from the rand source,
// which must itself be safe for concurrent use.
type Trigger struct {
	characterNames []string
	chance         float64
	rand           func() float64
}

// TriggerOption is a functional option for a [Trigger].
type TriggerOption func(*Trigger)

// WithRandSource replaces the random source used for unprompted replies.
// Tests inject a deterministic source here.
func WithRandSource(fn func() float64) TriggerOption {
	return func(t *Trigger) {
		t.rand = fn
	}
}

// WithUnpromptedChance sets the probability of an unprompted reply.
// Default: 0.3.
func WithUnpromptedChance(p float64) TriggerOption {
	return func(t *Trigger) {
		t.chance = p
	}
}

// NewTrigger creates a Trigger that treats the given character names as
// direct address, matched both literally and phonetically.
func NewTrigger(characterNames []string, opts ...TriggerOption) *Trigger {
	t := &Trigger{
		characterNames: append([]string(nil), characterNames...),
		chance:         defaultUnpromptedChance,
		rand:           rand.Float64,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// ShouldRespond reports whether the bot should generate a spoken reply to
// text. Pure apart from the injected random source.
func (t *Trigger) ShouldRespond(text string) bool {
	lower := strings.ToLower(text)

	// Always respond to questions.
	if strings.Contains(lower, "?") {
		return true
	}

	// Respond to direct address.
	for _, tok := range attentionTokens {
		if strings.Contains(lower, tok) {
			return true
		}
	}

	// Respond when a character name is mentioned, literally or phonetically
	// (transcription routinely mangles invented names).
	if t.mentionsCharacter(lower) {
		return true
	}

	// Respond occasionally to keep the conversation flowing.
	if t.rand() < t.chance {
		return true
	}

	trimmed := strings.TrimSpace(text)
	if len(trimmed) < shortTextLimit {
		return false
	}
	if len(trimmed) > longTextLimit {
		return true
	}
	return false
}

func (t *Trigger) mentionsCharacter(lower string) bool {
	for _, name := range t.characterNames {
		if strings.Contains(lower, strings.ToLower(name)) {
			return true
		}
	}

	tokens := strings.FieldsFunc(lower, func(r rune) bool {
		return !('a' <= r && r <= 'z')
	})
	for _, tok := range tokens {
		for _, name := range t.characterNames {
			for _, nameTok := range strings.Fields(strings.ToLower(name)) {
				if nameMatches(tok, nameTok) {
					return true
				}
			}
		}
	}
	return false
}

// nameMatches reports whether a spoken token plausibly refers to a character
// name token. Double Metaphone overlap relaxes the Jaro-Winkler floor; with
// no phonetic overlap the strings must be nearly identical.
func nameMatches(token, name string) bool {
	if token == "" || name == "" {
		return false
	}

	tp, ts := matchr.DoubleMetaphone(token)
	np, ns := matchr.DoubleMetaphone(name)
	overlap := (tp != "" && (tp == np || tp == ns)) ||
		(ts != "" && (ts == np || ts == ns))

	jw := matchr.JaroWinkler(token, name, false)
	if overlap {
		return jw >= phoneticThreshold
	}
	return jw >= fuzzyThreshold
}
