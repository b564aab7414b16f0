// Package fingerprint derives stable content checksums for transactions.
//
// Two transactions that describe the same logical movement must hash to the
// same fingerprint regardless of incidental whitespace, letter case, or
// metadata key ordering, so normalization happens before any byte reaches
// the digest.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"unicode"

	"duplicates-detection-service/internal/models"
	"duplicates-detection-service/pkg/errors"

	"github.com/shopspring/decimal"
)

// Compute validates the transaction and returns the hex-encoded SHA-256
// digest of its canonical representation. Validation runs first: a
// transaction missing scope fields or carrying an unusable date is never
// fingerprinted.
func Compute(tx *models.Transaction) (models.Fingerprint, error) {
	if tx == nil {
		return "", errors.ValidationError(errors.CodeMissingField, "transaction", nil, nil)
	}
	if err := tx.Validate(); err != nil {
		return "", err
	}

	sum := sha256.Sum256([]byte(canonicalPayload(tx)))
	return models.Fingerprint(hex.EncodeToString(sum[:])), nil
}

// ComparisonText builds the text the similarity engine scores: normalized
// concept, canonical amount, and canonical date joined by single spaces.
// It is stored alongside each cached candidate so later comparisons never
// re-normalize historical records.
func ComparisonText(tx *models.Transaction) string {
	parts := []string{
		NormalizeConcept(tx.Concept),
		CanonicalAmount(tx.Amount),
		tx.TransactionDate.Format(models.DateFormat),
	}
	return strings.Join(parts, " ")
}

// NormalizeConcept collapses runs of whitespace to single spaces, lowercases,
// and drops every rune that is not a letter, digit, or space.
func NormalizeConcept(concept string) string {
	collapsed := strings.Join(strings.Fields(concept), " ")
	lowered := strings.ToLower(collapsed)

	var b strings.Builder
	b.Grow(len(lowered))
	for _, r := range lowered {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ConceptKey is the normalized concept with spaces removed, used to key
// recurrence counters so "NOMINA  ENERO" and "nomina enero" share one
// pattern history.
func ConceptKey(concept string) string {
	return strings.ReplaceAll(NormalizeConcept(concept), " ", "")
}

// CanonicalAmount renders an amount with exactly two decimal places.
// Formatting goes through decimal.Decimal so 100.1 and 100.10 collapse to
// the same bytes without float round-trips.
func CanonicalAmount(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}

// canonicalPayload concatenates the normalized fields in a fixed order.
func canonicalPayload(tx *models.Transaction) string {
	var b strings.Builder
	b.WriteString(NormalizeConcept(tx.Concept))
	b.WriteString(CanonicalAmount(tx.Amount))
	b.WriteString(tx.TransactionDate.Format(models.DateFormat))
	b.WriteString(serializeMetadata(tx.Metadata))
	return b.String()
}

// serializeMetadata joins metadata pairs as key+value sorted by key, so map
// iteration order never leaks into the digest.
func serializeMetadata(metadata map[string]string) string {
	if len(metadata) == 0 {
		return ""
	}

	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+metadata[k])
	}
	return strings.Join(parts, "|")
}
