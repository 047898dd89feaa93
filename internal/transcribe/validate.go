package transcribe

import (
	"regexp"
	"strings"
)

// Validation defaults.
const (
	DefaultMinConfidence        = 0.3
	DefaultSingleWordConfidence = 0.7
	defaultMaxConsonantRatio    = 0.8
	defaultMinTextLength        = 2
)

// noisePatterns match transcripts that are almost certainly transcription
// artifacts rather than speech. All patterns are applied to the trimmed,
// lowercased text.
var noisePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^(uh+|um+|ah+|oh+|eh+)$`),  // filler utterances
	regexp.MustCompile(`^(mm+|hmm+|mhm+)$`),        // humming
	regexp.MustCompile(`^(la+|na+|da+|ba+|ga+)$`),  // random syllables
	regexp.MustCompile(`^[^a-zA-Z]*$`),             // no alphabetic content
	regexp.MustCompile(`^(.)\1{4,}$`),              // 5+ repeated characters
	regexp.MustCompile(`^\s*\.\s*$`),               // lone punctuation
	regexp.MustCompile(`^(background music|music|applause|laughter)$`),
	regexp.MustCompile(`^(noise|static|silence)$`), // transcription artifacts
	regexp.MustCompile(`^\[.*\]$`),                 // bracketed metadata
	regexp.MustCompile(`^(thank you\.|thanks\.|you)$`), // common false positives
}

// consonants used by the gibberish ratio check.
const consonants = "bcdfghjklmnpqrstvwxyz"

// Validator applies content validation to transcripts before they are
// accepted. The zero value is not usable; construct with [NewValidator].
type Validator struct {
	// MinConfidence is the floor below which every transcript is rejected.
	MinConfidence float64

	// SingleWordConfidence is the stricter floor applied to one-word
	// transcripts, which are disproportionately likely to be noise.
	SingleWordConfidence float64

	// MaxConsonantRatio rejects text whose consonant-to-character ratio
	// exceeds it (gibberish heuristic).
	MaxConsonantRatio float64
}

// NewValidator returns a Validator with the default thresholds.
func NewValidator() Validator {
	return Validator{
		MinConfidence:        DefaultMinConfidence,
		SingleWordConfidence: DefaultSingleWordConfidence,
		MaxConsonantRatio:    defaultMaxConsonantRatio,
	}
}

// Check validates a transcript against the noise, confidence, and gibberish
// heuristics. It returns an empty string when the transcript is acceptable,
// otherwise a short reason describing the first failed rule. A non-empty
// reason is an expected outcome, not an error.
func (v Validator) Check(text string, confidence float64) (reason string) {
	clean := strings.ToLower(strings.TrimSpace(text))

	if len(clean) < defaultMinTextLength {
		return "text too short"
	}

	for _, p := range noisePatterns {
		if p.MatchString(clean) {
			return "noise pattern"
		}
	}

	words := meaningfulWords(clean)
	if words == 0 {
		return "no meaningful words"
	}

	if confidence < v.MinConfidence {
		return "confidence too low"
	}

	if words == 1 && confidence < v.SingleWordConfidence {
		return "single word low confidence"
	}

	if consonantRatio(clean) > v.MaxConsonantRatio {
		return "high consonant ratio"
	}

	return ""
}

// meaningfulWords counts whitespace-separated tokens longer than one
// character.
func meaningfulWords(clean string) int {
	n := 0
	for _, w := range strings.Fields(clean) {
		if len(w) > 1 {
			n++
		}
	}
	return n
}

// consonantRatio is the share of consonant letters over the whole text,
// spaces and punctuation included.
func consonantRatio(clean string) float64 {
	if len(clean) == 0 {
		return 0
	}
	n := 0
	for _, r := range clean {
		if strings.ContainsRune(consonants, r) {
			n++
		}
	}
	return float64(n) / float64(len([]rune(clean)))
}
