package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateFormat is the canonical date layout used everywhere a transaction
// date is rendered: fingerprints, cache records and sink rows.
const DateFormat = "2006-01-02"

// ConflictType classifies the relationship between an incoming
// transaction and the best-matching previously seen one.
type ConflictType string

const (
	// ConflictExactDuplicate marks a checksum-identical transaction
	ConflictExactDuplicate ConflictType = "EXACT_DUPLICATE"
	// ConflictModifiedDuplicate marks an edited version of a previous transaction
	ConflictModifiedDuplicate ConflictType = "MODIFIED_DUPLICATE"
	// ConflictDistinct marks a genuinely new transaction
	ConflictDistinct ConflictType = "DISTINCT"
)

// String returns the string representation of ConflictType
func (c ConflictType) String() string {
	return string(c)
}

// IsValid checks if the conflict type is valid
func (c ConflictType) IsValid() bool {
	return c == ConflictExactDuplicate || c == ConflictModifiedDuplicate || c == ConflictDistinct
}

// Fingerprint is the deterministic digest of a transaction's normalized
// content. Two transactions with the same normalized fields always carry
// the same fingerprint.
type Fingerprint string

// String returns the hex digest
func (f Fingerprint) String() string {
	return string(f)
}

// Short returns a truncated digest for log lines
func (f Fingerprint) Short() string {
	if len(f) <= 12 {
		return string(f)
	}
	return string(f[:12])
}

// IsZero reports whether the fingerprint is unset
func (f Fingerprint) IsZero() bool {
	return f == ""
}

// ScopeKey identifies the (company, bank, account) triple within which
// duplicates are searched. Transactions are never compared across scopes.
type ScopeKey struct {
	CompanyID     string `json:"company_id"`
	Bank          string `json:"bank"`
	AccountNumber string `json:"account_number"`
}

// NewScopeKey creates a ScopeKey from its three components
func NewScopeKey(companyID, bank, accountNumber string) ScopeKey {
	return ScopeKey{
		CompanyID:     companyID,
		Bank:          bank,
		AccountNumber: accountNumber,
	}
}

// Validate checks that all three scope components are present
func (s ScopeKey) Validate() error {
	if strings.TrimSpace(s.CompanyID) == "" {
		return fmt.Errorf("company_id cannot be empty")
	}
	if strings.TrimSpace(s.Bank) == "" {
		return fmt.Errorf("bank cannot be empty")
	}
	if strings.TrimSpace(s.AccountNumber) == "" {
		return fmt.Errorf("account_number cannot be empty")
	}
	return nil
}

// String renders the scope in its key form
func (s ScopeKey) String() string {
	return fmt.Sprintf("%s:%s:%s", s.CompanyID, s.Bank, s.AccountNumber)
}

// Transaction represents an incoming transaction record from an upstream
// bank or accounting feed. Immutable once fingerprinted.
type Transaction struct {
	Checksum        string            `json:"checksum,omitempty"`
	Concept         string            `json:"concept"`
	Amount          decimal.Decimal   `json:"amount"`
	Currency        string            `json:"currency,omitempty"`
	AccountNumber   string            `json:"account_number"`
	Bank            string            `json:"bank"`
	CompanyID       string            `json:"company_id"`
	TransactionDate time.Time         `json:"transaction_date"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// NewTransaction creates a new Transaction instance
func NewTransaction(companyID, bank, accountNumber string, date time.Time, amount decimal.Decimal, concept string) *Transaction {
	return &Transaction{
		CompanyID:       companyID,
		Bank:            bank,
		AccountNumber:   accountNumber,
		TransactionDate: date,
		Amount:          amount,
		Concept:         concept,
	}
}

// Scope returns the transaction's scope key
func (t *Transaction) Scope() ScopeKey {
	return NewScopeKey(t.CompanyID, t.Bank, t.AccountNumber)
}

// Validate performs basic validation on the Transaction. The concept may
// be empty (some feeds omit descriptions); the scope fields and date may
// not.
func (t *Transaction) Validate() error {
	if err := t.Scope().Validate(); err != nil {
		return err
	}

	if t.TransactionDate.IsZero() {
		return fmt.Errorf("transaction_date cannot be zero")
	}

	return nil
}

// String returns a string representation of the Transaction
func (t *Transaction) String() string {
	return fmt.Sprintf("Transaction{Scope: %s, Date: %s, Amount: %s, Concept: %q}",
		t.Scope(), t.TransactionDate.Format(DateFormat), t.Amount.String(), t.Concept)
}

// MarshalJSON implements custom JSON marshaling for Transaction
func (t *Transaction) MarshalJSON() ([]byte, error) {
	type Alias Transaction
	return json.Marshal(&struct {
		Amount          string `json:"amount"`
		TransactionDate string `json:"transaction_date"`
		*Alias
	}{
		Amount:          t.Amount.String(),
		TransactionDate: t.TransactionDate.Format(DateFormat),
		Alias:           (*Alias)(t),
	})
}

// UnmarshalJSON implements custom JSON unmarshaling for Transaction
func (t *Transaction) UnmarshalJSON(data []byte) error {
	type Alias Transaction
	aux := &struct {
		Amount          string `json:"amount"`
		TransactionDate string `json:"transaction_date"`
		*Alias
	}{
		Alias: (*Alias)(t),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	var err error
	t.Amount, err = ParseDecimalFromString(aux.Amount)
	if err != nil {
		return fmt.Errorf("invalid amount format: %w", err)
	}

	t.TransactionDate, err = ParseDateWithFormats(aux.TransactionDate)
	if err != nil {
		return fmt.Errorf("invalid transaction date format: %w", err)
	}

	return nil
}

// Equals compares two Transaction instances for equality on the fields
// that feed the fingerprint
func (t *Transaction) Equals(other *Transaction) bool {
	if other == nil {
		return false
	}

	return t.Scope() == other.Scope() &&
		t.Concept == other.Concept &&
		t.Amount.Equal(other.Amount) &&
		t.TransactionDate.Format(DateFormat) == other.TransactionDate.Format(DateFormat)
}

// CandidateRecord is a previously processed transaction retained as a
// comparison target. Owned by the candidate cache: created on every
// processed transaction, evicted by TTL or capacity, never mutated.
type CandidateRecord struct {
	Fingerprint     Fingerprint     `json:"fingerprint"`
	Checksum        string          `json:"checksum"`
	Concept         string          `json:"concept"`
	ComparisonText  string          `json:"comparison_text"`
	Amount          decimal.Decimal `json:"amount"`
	TransactionDate time.Time       `json:"transaction_date"`
	InsertedAt      time.Time       `json:"inserted_at"`
}

// ExpiresAt returns the instant the record stops being visible given ttl
func (r CandidateRecord) ExpiresAt(ttl time.Duration) time.Time {
	return r.InsertedAt.Add(ttl)
}

// Expired reports whether the record's TTL has elapsed at now
func (r CandidateRecord) Expired(ttl time.Duration, now time.Time) bool {
	return !now.Before(r.ExpiresAt(ttl))
}

// ConflictRecord is the write-once classification output for every
// processed transaction, shaped for the analyze_transactions table.
type ConflictRecord struct {
	ChecksumOld     string       `json:"checksum_old"`
	ChecksumNew     string       `json:"checksum_new"`
	AccountNumber   string       `json:"account_number"`
	Bank            string       `json:"bank"`
	CompanyID       string       `json:"company_id"`
	TransactionDate time.Time    `json:"transaction_date"`
	TypeOfConflict  ConflictType `json:"type_of_conflict"`
	MosaicReason    string       `json:"mosaic_reason"`
	Date            time.Time    `json:"date"`
}

// Validate checks the record is complete enough to persist
func (r *ConflictRecord) Validate() error {
	if r.ChecksumNew == "" {
		return fmt.Errorf("checksum_new cannot be empty")
	}
	if !r.TypeOfConflict.IsValid() {
		return fmt.Errorf("invalid type_of_conflict: %s", r.TypeOfConflict)
	}
	if r.Date.IsZero() {
		return fmt.Errorf("processing date cannot be zero")
	}
	return nil
}

// UpdateRecord carries the raw similarity metrics for a modified
// duplicate, shaped for the updates_transactions table. The
// levenshtein_distance field holds the raw edit distance (not
// length-normalized); the two similarity fields are 0-1.
type UpdateRecord struct {
	OriginalChecksum      string    `json:"original_checksum"`
	NewChecksum           string    `json:"new_checksum"`
	LevenshteinDistance   float64   `json:"levenshtein_distance"`
	CosineSimilarity      float64   `json:"cosine_similarity"`
	JaroWinklerSimilarity float64   `json:"jaro_winkler_similarity"`
	AccountNumber         string    `json:"account_number"`
	Bank                  string    `json:"bank"`
	CompanyID             string    `json:"company_id"`
	Date                  time.Time `json:"date"`
}

// Validate checks the record is complete enough to persist
func (r *UpdateRecord) Validate() error {
	if r.OriginalChecksum == "" {
		return fmt.Errorf("original_checksum cannot be empty")
	}
	if r.NewChecksum == "" {
		return fmt.Errorf("new_checksum cannot be empty")
	}
	if r.Date.IsZero() {
		return fmt.Errorf("processing date cannot be zero")
	}
	return nil
}

// Utility functions for type conversion and validation

// ParseDecimalFromString parses a decimal amount from string, tolerating
// currency symbols and thousand separators the feeds sometimes carry
func ParseDecimalFromString(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount string cannot be empty")
	}

	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, "€", "")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal format '%s': %w", s, err)
	}

	return d, nil
}

// ParseDateWithFormats attempts to parse a date from string using the
// formats upstream feeds are known to emit
func ParseDateWithFormats(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("date string cannot be empty")
	}

	formats := []string{
		DateFormat,            // "2006-01-02"
		time.RFC3339,          // "2006-01-02T15:04:05Z07:00"
		"2006-01-02 15:04:05", // "2006-01-02 15:04:05"
		"2006-01-02T15:04:05", // "2006-01-02T15:04:05"
		"02/01/2006",          // "02/01/2006"
		"2006/01/02",          // "2006/01/02"
	}

	var lastErr error
	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		} else {
			lastErr = err
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse date '%s': %w", s, lastErr)
}

// CompareAmountsWithTolerance compares two decimal amounts with a tolerance
func CompareAmountsWithTolerance(a, b, tolerance decimal.Decimal) bool {
	diff := a.Sub(b).Abs()
	return diff.LessThanOrEqual(tolerance)
}

// NormalizeBank canonicalizes a bank identifier for scope keys and
// whitelist checks
func NormalizeBank(bank string) string {
	return strings.ToLower(strings.TrimSpace(bank))
}
