package dedupe

import (
	"hash/fnv"
	"math/bits"
	"strings"
	"unicode"
)

const maxTokenWeight = 5

// Simhash64 computes a 64-bit simhash over the text's tokens. CJK ideographs
// tokenize one rune each; alphanumeric runs tokenize as case-folded words.
// Token weight is 1 plus term frequency, capped at 5. Empty or token-free
// text yields 0, which callers treat as "no fingerprint".
func Simhash64(text string) uint64 {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return 0
	}

	freq := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		freq[tok]++
	}

	var acc [64]int
	for tok, tf := range freq {
		weight := tf + 1
		if weight > maxTokenWeight {
			weight = maxTokenWeight
		}
		h := hashToken64(tok)
		for i := 0; i < 64; i++ {
			if h&(1<<uint(i)) != 0 {
				acc[i] += weight
			} else {
				acc[i] -= weight
			}
		}
	}

	var fp uint64
	for i := 0; i < 64; i++ {
		if acc[i] > 0 {
			fp |= 1 << uint(i)
		}
	}
	return fp
}

// Tokenize splits text into simhash tokens: one token per CJK ideograph, one
// per lowercased alphanumeric run. Everything else is a separator.
func Tokenize(text string) []string {
	var tokens []string
	var run []rune
	flush := func() {
		if len(run) > 0 {
			tokens = append(tokens, strings.ToLower(string(run)))
			run = run[:0]
		}
	}
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r):
			flush()
			tokens = append(tokens, string(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			run = append(run, r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}

func hashToken64(token string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(token))
	return h.Sum64()
}

// HammingDistance counts differing bits between two fingerprints.
func HammingDistance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}
