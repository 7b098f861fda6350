// Package analyzer provides the text analyzers a worker runs on each unit:
// a sentiment classifier and a named-entity extractor.
//
// Both are interfaces so that a heavier model can be plugged in. The
// default Lexicon implements both with a word list and capitalization
// heuristics, which keeps workers self-contained.
package analyzer

import (
	"context"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Sentiment labels.
const (
	VeryNegative = 1
	Negative     = 2
	Neutral      = 3
	Positive     = 4
	VeryPositive = 5
)

// SentimentClassifier maps text to a label in [VeryNegative, VeryPositive].
type SentimentClassifier interface {
	ClassifySentiment(ctx context.Context, text string) (int, error)
}

// EntityExtractor returns the named entities in text as "Name:TYPE" strings.
type EntityExtractor interface {
	ExtractEntities(ctx context.Context, text string) ([]string, error)
}

// Lexicon is a word-list sentiment classifier and heuristic entity
// extractor. The zero value is not usable; call NewLexicon.
type Lexicon struct {
	scores    map[string]int
	negations map[string]bool
	boosters  map[string]bool
	fold      cases.Caser
}

var (
	_ SentimentClassifier = (*Lexicon)(nil)
	_ EntityExtractor     = (*Lexicon)(nil)
)

// NewLexicon returns a Lexicon with the built-in word list.
func NewLexicon() *Lexicon {
	return NewLexiconWithScores(defaultScores)
}

// NewLexiconWithScores returns a Lexicon scoring words with scores. Keys are
// case-folded on load.
func NewLexiconWithScores(scores map[string]int) *Lexicon {
	fold := cases.Fold()
	l := &Lexicon{
		scores:    make(map[string]int, len(scores)),
		negations: setOf("not", "no", "never", "none", "nothing", "neither", "nor", "hardly", "without", "cannot"),
		boosters:  setOf("very", "really", "extremely", "so", "totally", "absolutely", "incredibly", "truly"),
		fold:      fold,
	}
	for w, s := range scores {
		l.scores[fold.String(w)] = s
	}
	return l
}

// ClassifySentiment scores the text and buckets the score into five labels.
// A negation flips the next scored word within three tokens; a booster
// doubles it.
func (l *Lexicon) ClassifySentiment(ctx context.Context, text string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var (
		score   int
		negate  int // tokens left in the current negation window
		boosted bool
	)
	for _, tok := range tokenize(norm.NFC.String(text)) {
		w := l.fold.String(tok)
		if l.negations[w] || strings.HasSuffix(w, "n't") {
			negate = 3
			continue
		}
		if l.boosters[w] {
			boosted = true
			continue
		}
		s, ok := l.scores[w]
		if !ok {
			if negate > 0 {
				negate--
			}
			boosted = false
			continue
		}
		if boosted {
			s *= 2
		}
		if negate > 0 {
			s = -s
		}
		score += s
		negate, boosted = 0, false
	}
	return bucket(score), nil
}

func bucket(score int) int {
	switch {
	case score <= -3:
		return VeryNegative
	case score < 0:
		return Negative
	case score == 0:
		return Neutral
	case score < 3:
		return Positive
	default:
		return VeryPositive
	}
}

// ExtractEntities returns runs of capitalized words, in order of first
// appearance and without duplicates. A lone capitalized word opening a
// sentence is ignored since capitalization there carries no signal.
func (l *Lexicon) ExtractEntities(ctx context.Context, text string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var (
		out  []string
		seen = map[string]bool{}
	)
	for _, sentence := range sentences(norm.NFC.String(text)) {
		toks := tokenize(sentence)
		for i := 0; i < len(toks); {
			if !capitalized(toks[i]) {
				i++
				continue
			}
			j := i
			for j < len(toks) && capitalized(toks[j]) {
				j++
			}
			run := toks[i:j]
			if i == 0 && len(run) == 1 {
				i = j
				continue
			}
			if l.isCommonOpener(run[0]) {
				run = run[1:]
			}
			if len(run) == 0 {
				i = j
				continue
			}
			name := strings.Join(run, " ")
			prev := ""
			if i > 0 {
				prev = l.fold.String(toks[i-1])
			}
			entity := name + ":" + classify(run, prev)
			if !seen[entity] {
				seen[entity] = true
				out = append(out, entity)
			}
			i = j
		}
	}
	return out, nil
}

func (l *Lexicon) isCommonOpener(w string) bool {
	switch l.fold.String(w) {
	case "the", "a", "an", "i", "it", "this", "that", "my", "we", "our", "if", "when", "but", "and":
		return true
	}
	return false
}

var orgSuffixes = setOf("inc", "corp", "co", "ltd", "llc", "company", "press", "books", "publishing", "university")
var placePrepositions = setOf("in", "at", "from", "to", "near", "across", "around")

// classify guesses an entity type from its last word and the word before it.
func classify(run []string, prev string) string {
	last := strings.ToLower(strings.TrimSuffix(run[len(run)-1], "."))
	switch {
	case orgSuffixes[last]:
		return "ORGANIZATION"
	case placePrepositions[prev]:
		return "LOCATION"
	default:
		return "PERSON"
	}
}

func capitalized(tok string) bool {
	for _, r := range tok {
		return unicode.IsUpper(r)
	}
	return false
}

// tokenize splits on anything that is not a letter, digit or apostrophe.
func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\'' && r != '’'
	})
}

func sentences(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n'
	})
}

func setOf(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}
