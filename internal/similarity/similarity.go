// Package similarity scores pairs of normalized comparison texts with the
// three metrics the classifier thresholds: raw Levenshtein edit distance,
// token-frequency cosine similarity, and Jaro-Winkler similarity.
package similarity

import (
	"math"
	"strings"

	"github.com/agnivade/levenshtein"
)

// Score holds all three metrics for one candidate pair. Every metric is
// always computed; the classifier decides which ones clear their thresholds.
type Score struct {
	// LevenshteinDistance is the raw edit distance, not length-normalized.
	// Downstream records store it as-is, so the scale is "number of edits".
	LevenshteinDistance int `json:"levenshtein_distance"`
	// CosineSimilarity over whitespace-token frequency vectors, 0..1.
	CosineSimilarity float64 `json:"cosine_similarity"`
	// JaroWinklerSimilarity with the standard 0.1 prefix bonus, 0..1.
	JaroWinklerSimilarity float64 `json:"jaro_winkler_similarity"`
}

// Compute scores two comparison texts. Inputs are expected to be normalized
// already (lowercased, punctuation stripped, whitespace collapsed); this
// package never re-normalizes so cached candidates and fresh transactions
// always go through the same pipeline.
func Compute(a, b string) Score {
	return Score{
		LevenshteinDistance:   levenshtein.ComputeDistance(a, b),
		CosineSimilarity:      cosineSimilarity(a, b),
		JaroWinklerSimilarity: JaroWinkler(a, b),
	}
}

// cosineSimilarity builds term-frequency vectors over whitespace tokens and
// returns their cosine. Either text tokenizing to nothing yields 0.0, never
// NaN.
func cosineSimilarity(a, b string) float64 {
	vecA := termFrequencies(a)
	vecB := termFrequencies(b)

	if len(vecA) == 0 || len(vecB) == 0 {
		return 0.0
	}

	dot := 0.0
	for token, countA := range vecA {
		if countB, ok := vecB[token]; ok {
			dot += float64(countA) * float64(countB)
		}
	}

	normA := 0.0
	for _, count := range vecA {
		normA += float64(count) * float64(count)
	}
	normB := 0.0
	for _, count := range vecB {
		normB += float64(count) * float64(count)
	}

	denominator := math.Sqrt(normA) * math.Sqrt(normB)
	if denominator == 0 {
		return 0.0
	}
	return dot / denominator
}

func termFrequencies(text string) map[string]int {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil
	}
	freq := make(map[string]int, len(fields))
	for _, f := range fields {
		freq[f]++
	}
	return freq
}

// JaroWinkler computes Jaro similarity plus the Winkler common-prefix bonus
// (scale 0.1, prefix capped at 4 runes). Operates on runes so multibyte
// concepts score the same as their ASCII equivalents.
func JaroWinkler(a, b string) float64 {
	jaro, prefix := jaroWithPrefix([]rune(a), []rune(b))
	return jaro + 0.1*float64(prefix)*(1.0-jaro)
}

func jaroWithPrefix(a, b []rune) (jaro float64, prefix int) {
	if len(a) == 0 && len(b) == 0 {
		return 1.0, 0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0, 0
	}

	maxPrefix := len(a)
	if len(b) < maxPrefix {
		maxPrefix = len(b)
	}
	if maxPrefix > 4 {
		maxPrefix = 4
	}
	for prefix < maxPrefix && a[prefix] == b[prefix] {
		prefix++
	}

	window := len(a)
	if len(b) > window {
		window = len(b)
	}
	window = window/2 - 1
	if window < 0 {
		window = 0
	}

	matchedA := make([]bool, len(a))
	matchedB := make([]bool, len(b))
	matches := 0

	for i := range a {
		start := i - window
		if start < 0 {
			start = 0
		}
		end := i + window + 1
		if end > len(b) {
			end = len(b)
		}
		for j := start; j < end; j++ {
			if matchedB[j] || a[i] != b[j] {
				continue
			}
			matchedA[i] = true
			matchedB[j] = true
			matches++
			break
		}
	}

	if matches == 0 {
		return 0.0, prefix
	}

	transpositions := 0
	k := 0
	for i := range a {
		if !matchedA[i] {
			continue
		}
		for !matchedB[k] {
			k++
		}
		if a[i] != b[k] {
			transpositions++
		}
		k++
	}

	m := float64(matches)
	jaro = (m/float64(len(a)) + m/float64(len(b)) + (m-float64(transpositions)/2)/m) / 3.0
	return jaro, prefix
}
