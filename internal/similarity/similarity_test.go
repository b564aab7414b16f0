package similarity

import (
	"math"
	"testing"
)

func floatEquals(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestCompute_Identical(t *testing.T) {
	score := Compute("payment abc 100.50 2024-01-15", "payment abc 100.50 2024-01-15")

	if score.LevenshteinDistance != 0 {
		t.Errorf("expected distance 0, got %d", score.LevenshteinDistance)
	}
	if !floatEquals(score.CosineSimilarity, 1.0) {
		t.Errorf("expected cosine 1.0, got %f", score.CosineSimilarity)
	}
	if !floatEquals(score.JaroWinklerSimilarity, 1.0) {
		t.Errorf("expected jaro-winkler 1.0, got %f", score.JaroWinklerSimilarity)
	}
}

func TestCompute_SingleCharEdit(t *testing.T) {
	score := Compute("payment abc", "payment abd")

	if score.LevenshteinDistance != 1 {
		t.Errorf("expected distance 1, got %d", score.LevenshteinDistance)
	}
	// Tokens "abc" and "abd" do not match, so only "payment" overlaps
	if !floatEquals(score.CosineSimilarity, 0.5) {
		t.Errorf("expected cosine 0.5, got %f", score.CosineSimilarity)
	}
	if score.JaroWinklerSimilarity <= 0.9 {
		t.Errorf("expected jaro-winkler above 0.9 for one-char edit, got %f", score.JaroWinklerSimilarity)
	}
}

func TestLevenshtein_Classic(t *testing.T) {
	tests := []struct {
		a, b     string
		expected int
	}{
		{"kitten", "sitting", 3},
		{"", "abc", 3},
		{"abc", "", 3},
		{"", "", 0},
		{"nomina enero", "nomina febrero", 3},
	}

	for _, tt := range tests {
		t.Run(tt.a+"/"+tt.b, func(t *testing.T) {
			score := Compute(tt.a, tt.b)
			if score.LevenshteinDistance != tt.expected {
				t.Errorf("distance(%q, %q) = %d, want %d", tt.a, tt.b, score.LevenshteinDistance, tt.expected)
			}
		})
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a, b     string
		expected float64
	}{
		{"identical tokens", "payment abc", "payment abc", 1.0},
		{"half overlap", "payment abc", "payment xyz", 0.5},
		{"no overlap", "alpha beta", "gamma delta", 0.0},
		{"empty left", "", "payment", 0.0},
		{"empty right", "payment", "", 0.0},
		{"both empty", "", "", 0.0},
		{"token order ignored", "abc payment", "payment abc", 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cosineSimilarity(tt.a, tt.b)
			if !floatEquals(got, tt.expected) {
				t.Errorf("cosineSimilarity(%q, %q) = %f, want %f", tt.a, tt.b, got, tt.expected)
			}
		})
	}
}

func TestCosineSimilarity_RepeatedTokens(t *testing.T) {
	// {a:2, b:1} · {a:1, b:1} = 3; norms sqrt(5) and sqrt(2)
	got := cosineSimilarity("a a b", "a b")
	want := 3.0 / math.Sqrt(10)
	if !floatEquals(got, want) {
		t.Errorf("cosineSimilarity = %f, want %f", got, want)
	}
}

func TestJaroWinkler(t *testing.T) {
	tests := []struct {
		name     string
		a, b     string
		expected float64
	}{
		{"identical", "martha", "martha", 1.0},
		{"classic martha", "martha", "marhta", 0.9611111111111111},
		{"classic dwayne", "dwayne", "duane", 0.84},
		{"no similarity", "abc", "xyz", 0.0},
		{"both empty", "", "", 1.0},
		{"one empty", "", "abc", 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := JaroWinkler(tt.a, tt.b)
			if math.Abs(got-tt.expected) > 1e-6 {
				t.Errorf("JaroWinkler(%q, %q) = %f, want %f", tt.a, tt.b, got, tt.expected)
			}
		})
	}
}

func TestJaroWinkler_PrefixCap(t *testing.T) {
	// Shared prefix longer than 4 runes must not inflate the bonus further:
	// both pairs differ only after the capped prefix region
	long := JaroWinkler("abcdefgh", "abcdefgx")
	if long >= 1.0 {
		t.Errorf("expected similarity below 1.0, got %f", long)
	}

	// Bonus uses at most 4 prefix runes even when 6 match
	jaro, prefix := jaroWithPrefix([]rune("abcdefgh"), []rune("abcdefgx"))
	if prefix != 4 {
		t.Errorf("expected prefix capped at 4, got %d", prefix)
	}
	expected := jaro + 0.1*4*(1.0-jaro)
	if !floatEquals(long, expected) {
		t.Errorf("JaroWinkler = %f, want %f", long, expected)
	}
}

func TestJaroWinkler_MultibyteRunes(t *testing.T) {
	if got := JaroWinkler("ñoño", "ñoño"); !floatEquals(got, 1.0) {
		t.Errorf("expected 1.0 for identical multibyte strings, got %f", got)
	}
	if got := JaroWinkler("ñoño", "ñoña"); got <= 0.8 {
		t.Errorf("expected high similarity for one-rune edit, got %f", got)
	}
}
