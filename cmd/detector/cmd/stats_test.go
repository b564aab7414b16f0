package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

func TestValidateStatsFlags(t *testing.T) {
	tmpDir := t.TempDir()
	dbFile := filepath.Join(tmpDir, "results.db")
	if err := os.WriteFile(dbFile, []byte{}, 0644); err != nil {
		t.Fatalf("failed to create database file: %v", err)
	}

	tests := []struct {
		name          string
		db            string
		companyID     string
		bank          string
		account       string
		expectError   bool
		errorContains string
	}{
		{
			name: "valid without scope",
			db:   dbFile,
		},
		{
			name:      "valid with full scope",
			db:        dbFile,
			companyID: "company-001",
			bank:      "bbva",
			account:   "0156057799",
		},
		{
			name:          "missing database",
			db:            "/non/existent/results.db",
			expectError:   true,
			errorContains: "does not exist",
		},
		{
			name:          "partial scope",
			db:            dbFile,
			companyID:     "company-001",
			expectError:   true,
			errorContains: "scope filtering requires",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			statsDB = tt.db
			statsCompanyID = tt.companyID
			statsBank = tt.bank
			statsAccount = tt.account

			err := validateStatsFlags(&cobra.Command{}, []string{})

			if tt.expectError {
				if err == nil {
					t.Errorf("expected error but got none")
				} else if tt.errorContains != "" && !strings.Contains(err.Error(), tt.errorContains) {
					t.Errorf("expected error to contain '%s', got: %v", tt.errorContains, err)
				}
			} else {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
			}
		})
	}

	statsDB = ""
	statsCompanyID = ""
	statsBank = ""
	statsAccount = ""
}
