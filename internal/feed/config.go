package feed

import (
	"fmt"
	"strings"

	"duplicates-detection-service/internal/models"
)

// BankPreset maps a bank's export columns onto transaction fields.
// Columns the export does not carry stay empty and are filled from the
// ReaderConfig defaults; a preset whose Name matches a real bank also
// implies the bank for rows without a bank column.
type BankPreset struct {
	Name           string            `json:"name"`
	ConceptColumn  string            `json:"concept_column"`
	AmountColumn   string            `json:"amount_column"`
	DateColumn     string            `json:"date_column"`
	ChecksumColumn string            `json:"checksum_column,omitempty"`
	CurrencyColumn string            `json:"currency_column,omitempty"`
	AccountColumn  string            `json:"account_column,omitempty"`
	BankColumn     string            `json:"bank_column,omitempty"`
	CompanyColumn  string            `json:"company_column,omitempty"`
	DateFormat     string            `json:"date_format"`
	HasHeader      bool              `json:"has_header"`
	Delimiter      rune              `json:"delimiter"`
	ColumnAliases  map[string]string `json:"column_aliases,omitempty"`
	Description    string            `json:"description,omitempty"`
}

// Validate checks if the bank preset is usable.
func (bp *BankPreset) Validate() error {
	if strings.TrimSpace(bp.Name) == "" {
		return fmt.Errorf("preset name cannot be empty")
	}
	if strings.TrimSpace(bp.ConceptColumn) == "" {
		return fmt.Errorf("concept column cannot be empty")
	}
	if strings.TrimSpace(bp.AmountColumn) == "" {
		return fmt.Errorf("amount column cannot be empty")
	}
	if strings.TrimSpace(bp.DateColumn) == "" {
		return fmt.Errorf("date column cannot be empty")
	}
	if strings.TrimSpace(bp.DateFormat) == "" {
		return fmt.Errorf("date format cannot be empty")
	}
	return nil
}

// GetColumnName returns the actual column name, checking aliases first.
func (bp *BankPreset) GetColumnName(standardName string) string {
	if alias, exists := bp.ColumnAliases[standardName]; exists {
		return alias
	}

	switch standardName {
	case "concept":
		return bp.ConceptColumn
	case "amount":
		return bp.AmountColumn
	case "date":
		return bp.DateColumn
	case "checksum":
		return bp.ChecksumColumn
	case "currency":
		return bp.CurrencyColumn
	case "account_number":
		return bp.AccountColumn
	case "bank":
		return bp.BankColumn
	case "company_id":
		return bp.CompanyColumn
	default:
		return standardName
	}
}

// ImpliedBank returns the bank a preset stands for, or empty when the
// preset is generic.
func (bp *BankPreset) ImpliedBank() string {
	if bp.Name == StandardPreset.Name {
		return ""
	}
	return bp.Name
}

// Predefined presets for the supported banks.
var (
	// StandardPreset matches the canonical feed export: snake_case
	// columns named after the upstream message fields.
	StandardPreset = &BankPreset{
		Name:           "standard",
		ConceptColumn:  "concept",
		AmountColumn:   "amount",
		DateColumn:     "transaction_date",
		ChecksumColumn: "checksum",
		CurrencyColumn: "currency",
		AccountColumn:  "account_number",
		BankColumn:     "bank",
		CompanyColumn:  "company_id",
		DateFormat:     "2006-01-02",
		HasHeader:      true,
		Delimiter:      ',',
		Description:    "Canonical feed export with snake_case columns",
	}

	// BBVAPreset matches BBVA retail account exports.
	BBVAPreset = &BankPreset{
		Name:          "bbva",
		ConceptColumn: "concepto",
		AmountColumn:  "importe",
		DateColumn:    "fecha",
		DateFormat:    "02/01/2006",
		HasHeader:     true,
		Delimiter:     ',',
		ColumnAliases: map[string]string{
			"currency": "divisa",
		},
		Description: "BBVA retail export with DD/MM/YYYY dates",
	}

	// BBVAEmpresasPreset matches BBVA Empresas cash-management exports,
	// which carry the account number per row.
	BBVAEmpresasPreset = &BankPreset{
		Name:          "bbvaempresas",
		ConceptColumn: "concepto",
		AmountColumn:  "importe",
		DateColumn:    "fecha_operacion",
		AccountColumn: "cuenta",
		DateFormat:    "02/01/2006",
		HasHeader:     true,
		Delimiter:     ',',
		Description:   "BBVA Empresas export with per-row account numbers",
	}

	// SantanderPreset matches Santander exports, semicolon-delimited.
	SantanderPreset = &BankPreset{
		Name:          "santander",
		ConceptColumn: "descripcion",
		AmountColumn:  "monto",
		DateColumn:    "fecha",
		DateFormat:    "02-01-2006",
		HasHeader:     true,
		Delimiter:     ';',
		Description:   "Santander export with semicolon delimiter",
	}
)

// GetBankPreset returns a predefined preset by name, or nil.
func GetBankPreset(name string) *BankPreset {
	switch models.NormalizeBank(name) {
	case "standard":
		return StandardPreset
	case "bbva":
		return BBVAPreset
	case "bbvaempresas":
		return BBVAEmpresasPreset
	case "santander":
		return SantanderPreset
	default:
		return nil
	}
}

// ListBankPresets returns all predefined presets.
func ListBankPresets() []*BankPreset {
	return []*BankPreset{
		StandardPreset,
		BBVAPreset,
		BBVAEmpresasPreset,
		SantanderPreset,
	}
}

// AutoDetectPreset picks the preset whose concept, amount, and date
// columns all appear in the headers. Falls back to StandardPreset.
func AutoDetectPreset(headers []string) *BankPreset {
	headerMap := make(map[string]bool, len(headers))
	for _, header := range headers {
		headerMap[strings.ToLower(strings.TrimSpace(header))] = true
	}

	// Specific presets are tried before the generic one.
	candidates := []*BankPreset{
		BBVAEmpresasPreset,
		BBVAPreset,
		SantanderPreset,
		StandardPreset,
	}

	for _, preset := range candidates {
		if headerMap[strings.ToLower(preset.ConceptColumn)] &&
			headerMap[strings.ToLower(preset.AmountColumn)] &&
			headerMap[strings.ToLower(preset.DateColumn)] {
			return preset
		}
	}

	return StandardPreset
}

// ReaderConfig holds feed reader settings shared by both formats.
type ReaderConfig struct {
	// Preset selects the column mapping for CSV feeds. Nil means
	// auto-detect from the header row.
	Preset *BankPreset `json:"preset,omitempty"`

	// DefaultCompanyID fills rows whose export lacks a company column.
	DefaultCompanyID string `json:"default_company_id,omitempty"`

	// DefaultBank fills rows whose export lacks a bank column and
	// whose preset does not imply one.
	DefaultBank string `json:"default_bank,omitempty"`

	// DefaultAccountNumber fills rows whose export lacks an account
	// column.
	DefaultAccountNumber string `json:"default_account_number,omitempty"`

	// BankWhitelist, when non-empty, drops rows from any other bank
	// before classification. Matching is case-insensitive.
	BankWhitelist []string `json:"bank_whitelist,omitempty"`

	// ContinueOnError keeps reading past malformed rows, collecting
	// them in the stats. When false the first bad row aborts.
	ContinueOnError bool `json:"continue_on_error"`

	// MaxErrors aborts the read once this many rows have been
	// rejected. Zero means unlimited.
	MaxErrors int `json:"max_errors"`

	// SkipEmptyRows silently drops rows whose fields are all blank.
	SkipEmptyRows bool `json:"skip_empty_rows"`

	// MaxLineSize bounds a single row in bytes.
	MaxLineSize int `json:"max_line_size"`

	// ValidateEncoding rejects files that are not valid UTF-8.
	ValidateEncoding bool `json:"validate_encoding"`
}

// DefaultReaderConfig returns feed reader defaults.
func DefaultReaderConfig() *ReaderConfig {
	return &ReaderConfig{
		ContinueOnError:  true,
		MaxErrors:        100,
		SkipEmptyRows:    true,
		MaxLineSize:      1 << 20, // 1MB
		ValidateEncoding: true,
	}
}

// Validate checks if the reader configuration is valid.
func (c *ReaderConfig) Validate() error {
	if c.Preset != nil {
		if err := c.Preset.Validate(); err != nil {
			return fmt.Errorf("invalid bank preset: %w", err)
		}
	}
	if c.MaxErrors < 0 {
		return fmt.Errorf("max errors cannot be negative: %d", c.MaxErrors)
	}
	if c.MaxLineSize <= 0 {
		return fmt.Errorf("max line size must be positive: %d", c.MaxLineSize)
	}
	return nil
}

// Clone returns a copy sharing the preset pointer but not the
// whitelist slice.
func (c *ReaderConfig) Clone() *ReaderConfig {
	clone := *c
	clone.BankWhitelist = append([]string(nil), c.BankWhitelist...)
	return &clone
}
