package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// DefaultHashDimensions is the vector size of the local provider.
const DefaultHashDimensions = 384

/*
LEARNING: FEATURE HASHING

The local provider needs no model download and no network: every word
(and every pair of adjacent words) is hashed into one of N buckets and
the bucket counts form the vector. Texts sharing vocabulary get a high
cosine similarity. It knows nothing about synonyms, so it is meant for
offline use, demos and tests, not for production answers.
*/

// HashProvider is a deterministic bag-of-words embedder.
type HashProvider struct {
	dims int
}

func NewHashProvider(dims int) *HashProvider {
	if dims <= 0 {
		dims = DefaultHashDimensions
	}
	return &HashProvider{dims: dims}
}

func (p *HashProvider) EmbeddingModel() string {
	return fmt.Sprintf("local/hash-%d", p.dims)
}

func (p *HashProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = p.vector(text)
	}
	return out, nil
}

func (p *HashProvider) vector(text string) []float32 {
	v := make([]float32, p.dims)
	terms := Terms(text)

	counts := make(map[string]int, len(terms)*2)
	for i, t := range terms {
		counts[t]++
		if i > 0 {
			counts[terms[i-1]+" "+t]++
		}
	}

	for term, n := range counts {
		h := fnv.New64a()
		_, _ = h.Write([]byte(term))
		sum := h.Sum64()

		bucket := int(sum % uint64(p.dims))
		sign := float32(1)
		if sum>>63 == 1 {
			sign = -1
		}
		weight := float32(1 + math.Log(float64(n)))
		if strings.Contains(term, " ") {
			weight *= 0.5
		}
		v[bucket] += sign * weight
	}

	return v
}

// Terms lowercases text, splits it into words, drops stopwords and strips
// common English suffixes so "refunds" and "refund" meet.
func Terms(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	terms := make([]string, 0, len(words))
	for _, w := range words {
		if stopwords[w] {
			continue
		}
		terms = append(terms, stem(w))
	}
	return terms
}

func stem(w string) string {
	if len([]rune(w)) <= 4 {
		return w
	}
	for _, suffix := range []string{"ies", "ing", "ed", "es", "s"} {
		if strings.HasSuffix(w, suffix) && !strings.HasSuffix(w, "ss") {
			base := strings.TrimSuffix(w, suffix)
			if suffix == "ies" {
				base += "y"
			}
			return base
		}
	}
	return w
}

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "but": true, "by": true, "can": true, "do": true, "does": true,
	"for": true, "from": true, "has": true, "have": true, "how": true, "i": true,
	"if": true, "in": true, "into": true, "is": true, "it": true, "its": true,
	"me": true, "my": true, "no": true, "not": true, "of": true, "on": true,
	"or": true, "our": true, "so": true, "such": true, "that": true, "the": true,
	"their": true, "then": true, "there": true, "these": true, "they": true,
	"this": true, "to": true, "was": true, "we": true, "were": true, "what": true,
	"when": true, "where": true, "which": true, "who": true, "why": true,
	"will": true, "with": true, "you": true, "your": true,
}
