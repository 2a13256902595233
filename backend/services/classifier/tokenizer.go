package classifier

import (
	"hash/fnv"
	"strings"
	"unicode"
)

// MaxPromptTokens caps how much of a prompt contributes to the score.
// Anything beyond this is ignored, keeping scoring cost bounded.
const MaxPromptTokens = 512

// Tokenizer maps prompt text to bounded feature identifiers through hashing,
// so the model never needs a vocabulary file.
type Tokenizer struct {
	buckets uint32
}

// NewTokenizer creates a tokenizer hashing into the given number of buckets.
func NewTokenizer(buckets uint32) *Tokenizer {
	return &Tokenizer{buckets: buckets}
}

// Buckets returns the feature space size.
func (t *Tokenizer) Buckets() uint32 {
	return t.buckets
}

// Tokenize lowercases the prompt, splits it into alphanumeric runs and
// hashes each run into a bucket. At most MaxPromptTokens identifiers are
// produced.
func (t *Tokenizer) Tokenize(prompt string) []uint32 {
	lower := strings.ToLower(prompt)

	ids := make([]uint32, 0, 64)
	start := -1
	for i, r := range lower {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			ids = append(ids, t.hash(lower[start:i]))
			start = -1
			if len(ids) >= MaxPromptTokens {
				return ids
			}
		}
	}
	if start >= 0 && len(ids) < MaxPromptTokens {
		ids = append(ids, t.hash(lower[start:]))
	}
	return ids
}

func (t *Tokenizer) hash(token string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(token))
	return h.Sum32() % t.buckets
}
