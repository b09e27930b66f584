package dispatch

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// defaultPhoneticThreshold is the minimum Jaro-Winkler similarity between a
// trigger and a word window for a phonetic match.
const defaultPhoneticThreshold = 0.90

// phoneticMatcher finds triggers that sound like a span of the transcript.
// A window of the transcript with as many words as the trigger matches when
// every trigger word shares a Double Metaphone code with the word at the same
// position, and the Jaro-Winkler similarity of the whole window reaches the
// threshold.
type phoneticMatcher struct {
	threshold float64
}

// match reports whether trigger sounds like some window of words. Both
// arguments must already be lower-cased.
func (m phoneticMatcher) match(words []string, trigger string) bool {
	tw := strings.Fields(trigger)
	if len(tw) == 0 || len(words) < len(tw) {
		return false
	}
	joined := strings.Join(tw, " ")
	codes := make([][2]string, len(tw))
	for i, w := range tw {
		codes[i][0], codes[i][1] = matchr.DoubleMetaphone(w)
	}

	for start := 0; start+len(tw) <= len(words); start++ {
		window := words[start : start+len(tw)]
		if !soundsAlike(window, codes) {
			continue
		}
		if matchr.JaroWinkler(strings.Join(window, " "), joined, false) >= m.threshold {
			return true
		}
	}
	return false
}

// soundsAlike reports whether each word shares a primary or secondary code
// with the trigger word at the same position. Words without any code (no
// consonants) only match themselves through the similarity check.
func soundsAlike(window []string, codes [][2]string) bool {
	for i, w := range window {
		p, s := matchr.DoubleMetaphone(w)
		want := codes[i]
		if want[0] == "" && want[1] == "" {
			continue
		}
		if !shareCode(p, s, want[0], want[1]) {
			return false
		}
	}
	return true
}

func shareCode(p1, s1, p2, s2 string) bool {
	for _, a := range [2]string{p1, s1} {
		if a == "" {
			continue
		}
		if a == p2 || a == s2 {
			return true
		}
	}
	return false
}

// words splits lower-cased text into words with surrounding punctuation
// removed.
func words(text string) []string {
	fields := strings.Fields(text)
	out := fields[:0]
	for _, f := range fields {
		f = strings.TrimFunc(f, isPunct)
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func isPunct(r rune) bool {
	return strings.ContainsRune(".,!?;:\"'()[]", r)
}
