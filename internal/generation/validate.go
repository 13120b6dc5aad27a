package generation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Blank is the canonical blank marker written into sentences.
const Blank = "( )"

var (
	blankRegex = regexp.MustCompile(`\(\s*\)`)
	// A run of terminal punctuation at the end, possibly separated by spaces.
	terminalRunRegex = regexp.MustCompile(`([.!?。！？])[\s.!?。！？]*$`)
)

// particles are Korean case and auxiliary particles, longest first so that
// "에서" is matched before "에".
var particles = []string{
	"에게서", "에서", "에게", "으로", "께서", "부터", "까지", "처럼", "보다", "하고",
	"이", "가", "을", "를", "은", "는", "에", "의", "와", "과", "도", "로", "만", "랑",
}

// CountBlanks returns how many blank markers a sentence contains.
func CountBlanks(sentence string) int {
	return len(blankRegex.FindAllStringIndex(sentence, -1))
}

// Complete substitutes the blank with the answer and normalizes trailing
// punctuation: a duplicated terminal run ("..", ".!") collapses to its first
// mark, and a sentence without one gets a period.
func Complete(sentence, answer string) string {
	s := blankRegex.ReplaceAllLiteralString(sentence, strings.TrimSpace(answer))
	return NormalizeTerminal(s)
}

// NormalizeTerminal collapses duplicate terminal punctuation.
func NormalizeTerminal(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	if terminalRunRegex.MatchString(s) {
		return terminalRunRegex.ReplaceAllString(s, "$1")
	}
	return s + "."
}

// particleAfterBlank returns the particle that directly follows the blank
// marker as its own attached token, e.g. "이" in "( )이 왔다".
func particleAfterBlank(sentence string) (string, bool) {
	loc := blankRegex.FindStringIndex(sentence)
	if loc == nil {
		return "", false
	}
	rest := sentence[loc[1]:]
	for _, p := range particles {
		if !strings.HasPrefix(rest, p) {
			continue
		}
		next, _ := utf8.DecodeRuneInString(rest[len(p):])
		if len(rest) == len(p) || unicode.IsSpace(next) || unicode.IsPunct(next) {
			return p, true
		}
	}
	return "", false
}

// particleSuffix returns the particle the answer ends with, if any.
func particleSuffix(answer string) (string, bool) {
	for _, p := range particles {
		if strings.HasSuffix(answer, p) && len(answer) > len(p) {
			return p, true
		}
	}
	return "", false
}

// isPredicate reports whether a dictionary-form word is a verb or adjective.
// Korean predicates end in 다 in dictionary form; everything else is treated
// as a noun for particle placement.
func isPredicate(word string) bool {
	return strings.HasSuffix(strings.TrimSpace(word), "다")
}

// ValidateDraft checks one generated problem.
func ValidateDraft(d Draft) error {
	var errs []error
	if strings.TrimSpace(d.Word) == "" {
		errs = append(errs, errors.New("word is empty"))
	}
	if strings.TrimSpace(d.Answer) == "" {
		errs = append(errs, errors.New("answer is empty"))
	}
	if n := CountBlanks(d.Sentence); n != 1 {
		errs = append(errs, fmt.Errorf("sentence has %d blank markers, want exactly 1", n))
	} else if !isPredicate(d.Word) {
		if p, ok := particleAfterBlank(d.Sentence); ok {
			if suffix, dup := particleSuffix(d.Answer); dup {
				errs = append(errs, fmt.Errorf("particle %q repeated after blank although answer %q already ends in %q", p, d.Answer, suffix))
			} else {
				errs = append(errs, fmt.Errorf("particle %q must be part of the answer, not the sentence", p))
			}
		}
	}
	return errors.Join(errs...)
}

// normalizeDraft trims fields and rewrites any blank spelling to Blank.
func normalizeDraft(d Draft) Draft {
	d.Word = strings.TrimSpace(d.Word)
	d.Answer = strings.TrimSpace(d.Answer)
	d.Sentence = blankRegex.ReplaceAllLiteralString(strings.TrimSpace(d.Sentence), Blank)
	d.Hint = strings.TrimSpace(d.Hint)
	d.Translation = strings.TrimSpace(d.Translation)
	return d
}
