package main

import (
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// FeedGenerator writes transaction feed files with a controlled
// duplicate mix: a history file of distinct transactions plus a feed
// file where a configurable share of rows repeats history exactly or
// with small concept edits.
type FeedGenerator struct {
	Count         int
	ExactRatio    float64
	ModifiedRatio float64
	Scopes        int
	StartDate     time.Time
	EndDate       time.Time
	rng           *rand.Rand
}

// FeedRow is one generated transaction
type FeedRow struct {
	Concept       string
	Amount        decimal.Decimal
	AccountNumber string
	Bank          string
	CompanyID     string
	Date          time.Time
	Currency      string
}

var conceptTemplates = []string{
	"TRANSFERENCIA NOMINA %s REF %04d",
	"RECIBO LUZ IBERDROLA CONTRATO %06d",
	"RECIBO AGUA CANAL %06d",
	"PAGO TARJETA %04d COMPRA COMERCIO",
	"ADEUDO SEGURO HOGAR POLIZA %06d",
	"TRANSFERENCIA A PROVEEDOR FACTURA %05d",
	"COMISION MANTENIMIENTO CUENTA %02d",
	"ABONO DEVOLUCION PEDIDO %06d",
	"CUOTA PRESTAMO CONTRATO %07d",
	"INGRESO EFECTIVO OFICINA %04d",
}

var months = []string{
	"ENERO", "FEBRERO", "MARZO", "ABRIL", "MAYO", "JUNIO",
	"JULIO", "AGOSTO", "SEPTIEMBRE", "OCTUBRE", "NOVIEMBRE", "DICIEMBRE",
}

var bankNames = []string{"bbva", "santander", "bbvaempresas"}

func main() {
	var (
		output        = flag.String("output", "feed.csv", "Feed file path")
		historyOutput = flag.String("history-output", "", "History file path for backfill seeding (optional)")
		format        = flag.String("format", "csv", "Output format: csv, ndjson")
		count         = flag.Int("count", 1000, "Number of feed rows to generate")
		exactRatio    = flag.Float64("exact-ratio", 0.1, "Share of feed rows repeating history exactly")
		modifiedRatio = flag.Float64("modified-ratio", 0.2, "Share of feed rows repeating history with small edits")
		scopes        = flag.Int("scopes", 3, "Number of distinct (company, bank, account) scopes")
		startDate     = flag.String("start-date", "2024-01-01", "Start date (YYYY-MM-DD)")
		endDate       = flag.String("end-date", "2024-12-31", "End date (YYYY-MM-DD)")
		seed          = flag.Int64("seed", time.Now().UnixNano(), "Random seed for reproducible generation")
	)
	flag.Parse()

	start, err := time.Parse("2006-01-02", *startDate)
	if err != nil {
		log.Fatalf("Invalid start date: %v", err)
	}
	end, err := time.Parse("2006-01-02", *endDate)
	if err != nil {
		log.Fatalf("Invalid end date: %v", err)
	}
	if *exactRatio+*modifiedRatio > 1.0 {
		log.Fatalf("exact-ratio + modified-ratio cannot exceed 1.0")
	}

	generator := &FeedGenerator{
		Count:         *count,
		ExactRatio:    *exactRatio,
		ModifiedRatio: *modifiedRatio,
		Scopes:        *scopes,
		StartDate:     start,
		EndDate:       end,
		rng:           rand.New(rand.NewSource(*seed)),
	}

	history, feedRows := generator.Generate()

	if *historyOutput != "" {
		if err := writeRows(*historyOutput, *format, history); err != nil {
			log.Fatalf("Failed to write history file: %v", err)
		}
		fmt.Printf("Wrote %d history rows to %s\n", len(history), *historyOutput)
	}

	if err := writeRows(*output, *format, feedRows); err != nil {
		log.Fatalf("Failed to write feed file: %v", err)
	}

	exact := int(float64(*count) * *exactRatio)
	modified := int(float64(*count) * *modifiedRatio)
	fmt.Printf("Wrote %d feed rows to %s\n", len(feedRows), *output)
	fmt.Printf("Duplicate mix: %d exact, %d modified, %d distinct\n", exact, modified, len(feedRows)-exact-modified)
	fmt.Printf("Seed used: %d\n", *seed)
}

// Generate builds the history set and a feed drawing on it
func (g *FeedGenerator) Generate() (history, feed []FeedRow) {
	scopes := g.generateScopes()

	// History: distinct transactions only
	historyCount := g.Count
	if historyCount < 100 {
		historyCount = 100
	}
	history = make([]FeedRow, historyCount)
	for i := range history {
		history[i] = g.randomRow(scopes)
	}

	exact := int(float64(g.Count) * g.ExactRatio)
	modified := int(float64(g.Count) * g.ModifiedRatio)

	feed = make([]FeedRow, 0, g.Count)
	for i := 0; i < exact; i++ {
		feed = append(feed, history[g.rng.Intn(len(history))])
	}
	for i := 0; i < modified; i++ {
		feed = append(feed, g.mutate(history[g.rng.Intn(len(history))]))
	}
	for len(feed) < g.Count {
		feed = append(feed, g.randomRow(scopes))
	}

	// Shuffle so duplicate classes are not clustered
	g.rng.Shuffle(len(feed), func(i, j int) {
		feed[i], feed[j] = feed[j], feed[i]
	})

	return history, feed
}

func (g *FeedGenerator) generateScopes() []FeedRow {
	scopes := make([]FeedRow, g.Scopes)
	for i := range scopes {
		scopes[i] = FeedRow{
			CompanyID:     fmt.Sprintf("company-%03d", i+1),
			Bank:          bankNames[i%len(bankNames)],
			AccountNumber: fmt.Sprintf("01%08d", g.rng.Intn(100000000)),
		}
	}
	return scopes
}

func (g *FeedGenerator) randomRow(scopes []FeedRow) FeedRow {
	scope := scopes[g.rng.Intn(len(scopes))]

	template := conceptTemplates[g.rng.Intn(len(conceptTemplates))]
	var concept string
	if strings.Contains(template, "%s") {
		concept = fmt.Sprintf(template, months[g.rng.Intn(len(months))], g.rng.Intn(10000))
	} else {
		concept = fmt.Sprintf(template, g.rng.Intn(10000000))
	}

	duration := g.EndDate.Sub(g.StartDate)
	date := g.StartDate.Add(time.Duration(g.rng.Int63n(int64(duration))))

	// Two-decimal amounts between -25000 and 25000, zero excluded
	cents := g.rng.Int63n(2500000) + 1
	amount := decimal.New(cents, -2)
	if g.rng.Float64() < 0.55 {
		amount = amount.Neg()
	}

	return FeedRow{
		Concept:       concept,
		Amount:        amount,
		AccountNumber: scope.AccountNumber,
		Bank:          scope.Bank,
		CompanyID:     scope.CompanyID,
		Date:          date,
		Currency:      "EUR",
	}
}

// mutate applies a small concept edit so the row classifies as a
// modified duplicate: one digit changed, or a short suffix appended.
func (g *FeedGenerator) mutate(row FeedRow) FeedRow {
	concept := []rune(row.Concept)

	switch g.rng.Intn(3) {
	case 0:
		// Change one digit
		digits := []int{}
		for i, r := range concept {
			if r >= '0' && r <= '9' {
				digits = append(digits, i)
			}
		}
		if len(digits) > 0 {
			pos := digits[g.rng.Intn(len(digits))]
			concept[pos] = rune('0' + (int(concept[pos]-'0')+1+g.rng.Intn(8))%10)
		}
		row.Concept = string(concept)
	case 1:
		// Append a short reference suffix
		row.Concept = row.Concept + fmt.Sprintf(" %d", g.rng.Intn(10))
	default:
		// Drop the last character
		if len(concept) > 1 {
			row.Concept = string(concept[:len(concept)-1])
		}
	}

	return row
}

func writeRows(path, format string, rows []FeedRow) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	if format == "ndjson" {
		encoder := json.NewEncoder(file)
		for _, row := range rows {
			record := map[string]interface{}{
				"concept":          row.Concept,
				"amount":           row.Amount.StringFixed(2),
				"account_number":   row.AccountNumber,
				"bank":             row.Bank,
				"company_id":       row.CompanyID,
				"transaction_date": row.Date.Format("2006-01-02"),
				"currency":         row.Currency,
			}
			if err := encoder.Encode(record); err != nil {
				return err
			}
		}
		return nil
	}

	writer := csv.NewWriter(file)

	header := []string{"concept", "amount", "account_number", "bank", "company_id", "transaction_date", "currency"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, row := range rows {
		record := []string{
			row.Concept,
			row.Amount.StringFixed(2),
			row.AccountNumber,
			row.Bank,
			row.CompanyID,
			row.Date.Format("2006-01-02"),
			row.Currency,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}
