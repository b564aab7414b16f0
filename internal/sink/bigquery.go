package sink

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"google.golang.org/api/option"

	"duplicates-detection-service/internal/models"
	"duplicates-detection-service/pkg/errors"
	"duplicates-detection-service/pkg/logger"
)

// conflictRow mirrors the analyze_transactions schema.
type conflictRow struct {
	ChecksumOld     bigquery.NullString `bigquery:"checksum_old"`
	ChecksumNew     string              `bigquery:"checksum_new"`
	AccountNumber   string              `bigquery:"account_number"`
	Bank            string              `bigquery:"bank"`
	CompanyID       string              `bigquery:"company_id"`
	TransactionDate civil.Date          `bigquery:"transaction_date"`
	TypeOfConflict  string              `bigquery:"type_of_conflict"`
	MosaicReason    string              `bigquery:"mosaic_reason"`
	Date            civil.Date          `bigquery:"date"`
}

// updateRow mirrors the updates_transactions schema.
type updateRow struct {
	OriginalChecksum      string     `bigquery:"original_checksum"`
	NewChecksum           string     `bigquery:"new_checksum"`
	LevenshteinDistance   float64    `bigquery:"levenshtein_distance"`
	CosineSimilarity      float64    `bigquery:"cosine_similarity"`
	JaroWinklerSimilarity float64    `bigquery:"jaro_winkler_similarity"`
	AccountNumber         string     `bigquery:"account_number"`
	Bank                  string     `bigquery:"bank"`
	CompanyID             string     `bigquery:"company_id"`
	Date                  civil.Date `bigquery:"date"`
}

// BigQueryConfig holds connection settings for the warehouse sink.
type BigQueryConfig struct {
	// ProjectID is the GCP project that owns the dataset.
	ProjectID string

	// DatasetID is the dataset holding both result tables.
	DatasetID string

	// ConflictTable overrides the default analyze_transactions name.
	ConflictTable string

	// UpdateTable overrides the default updates_transactions name.
	UpdateTable string

	// CredentialsFile is an optional service account key path. When
	// empty the client uses application default credentials.
	CredentialsFile string
}

// DefaultBigQueryConfig returns settings with the standard table names.
// ProjectID and DatasetID must still be supplied by the caller.
func DefaultBigQueryConfig() *BigQueryConfig {
	return &BigQueryConfig{
		ConflictTable: ConflictTable,
		UpdateTable:   UpdateTable,
	}
}

// Validate checks that the configuration can reach a dataset
func (c *BigQueryConfig) Validate() error {
	if c.ProjectID == "" {
		return fmt.Errorf("project ID cannot be empty")
	}
	if c.DatasetID == "" {
		return fmt.Errorf("dataset ID cannot be empty")
	}
	if c.ConflictTable == "" {
		return fmt.Errorf("conflict table name cannot be empty")
	}
	if c.UpdateTable == "" {
		return fmt.Errorf("update table name cannot be empty")
	}
	return nil
}

// Clone returns a copy of the configuration
func (c *BigQueryConfig) Clone() *BigQueryConfig {
	clone := *c
	return &clone
}

// BigQuerySink streams classification results into BigQuery. Every row
// carries a fresh insert ID so a retried batch deduplicates server-side
// instead of landing twice.
type BigQuerySink struct {
	config         *BigQueryConfig
	client         *bigquery.Client
	ownsClient     bool
	conflictSchema bigquery.Schema
	updateSchema   bigquery.Schema
	log            logger.Logger
}

// NewBigQuerySink connects to BigQuery and returns a sink writing to
// the configured dataset.
func NewBigQuerySink(ctx context.Context, config *BigQueryConfig) (*BigQuerySink, error) {
	if config == nil {
		config = DefaultBigQueryConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "sink.bigquery", nil, err)
	}

	var opts []option.ClientOption
	if config.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(config.CredentialsFile))
	}

	client, err := bigquery.NewClient(ctx, config.ProjectID, opts...)
	if err != nil {
		return nil, errors.SinkError(errors.CodeSinkUnavailable, config.DatasetID, err)
	}

	sink, err := NewBigQuerySinkWithClient(config, client)
	if err != nil {
		client.Close()
		return nil, err
	}
	sink.ownsClient = true
	return sink, nil
}

// NewBigQuerySinkWithClient wraps an existing client, which the caller
// remains responsible for closing.
func NewBigQuerySinkWithClient(config *BigQueryConfig, client *bigquery.Client) (*BigQuerySink, error) {
	if config == nil {
		config = DefaultBigQueryConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "sink.bigquery", nil, err)
	}

	conflictSchema, err := bigquery.InferSchema(conflictRow{})
	if err != nil {
		return nil, errors.SinkError(errors.CodeSinkSchema, config.ConflictTable, err)
	}
	updateSchema, err := bigquery.InferSchema(updateRow{})
	if err != nil {
		return nil, errors.SinkError(errors.CodeSinkSchema, config.UpdateTable, err)
	}

	return &BigQuerySink{
		config:         config.Clone(),
		client:         client,
		conflictSchema: conflictSchema,
		updateSchema:   updateSchema,
		log:            logger.GetGlobalLogger().WithComponent("bigquery-sink"),
	}, nil
}

// EnsureTables creates both result tables when they do not exist yet,
// day-partitioned on the processing date and clustered by the scope
// fields so per-account queries stay cheap.
func (s *BigQuerySink) EnsureTables(ctx context.Context) error {
	statements := []struct {
		table string
		ddl   string
	}{
		{
			table: s.config.ConflictTable,
			ddl: fmt.Sprintf(`CREATE TABLE IF NOT EXISTS `+"`%s.%s.%s`"+` (
				checksum_old STRING,
				checksum_new STRING NOT NULL,
				account_number STRING NOT NULL,
				bank STRING NOT NULL,
				company_id STRING NOT NULL,
				transaction_date DATE NOT NULL,
				type_of_conflict STRING NOT NULL,
				mosaic_reason STRING,
				date DATE NOT NULL
			)
			PARTITION BY date
			CLUSTER BY company_id, bank, account_number`,
				s.config.ProjectID, s.config.DatasetID, s.config.ConflictTable),
		},
		{
			table: s.config.UpdateTable,
			ddl: fmt.Sprintf(`CREATE TABLE IF NOT EXISTS `+"`%s.%s.%s`"+` (
				original_checksum STRING NOT NULL,
				new_checksum STRING NOT NULL,
				levenshtein_distance FLOAT64 NOT NULL,
				cosine_similarity FLOAT64 NOT NULL,
				jaro_winkler_similarity FLOAT64 NOT NULL,
				account_number STRING NOT NULL,
				bank STRING NOT NULL,
				company_id STRING NOT NULL,
				date DATE NOT NULL
			)
			PARTITION BY date
			CLUSTER BY company_id, bank, account_number`,
				s.config.ProjectID, s.config.DatasetID, s.config.UpdateTable),
		},
	}

	for _, stmt := range statements {
		if err := s.runDDL(ctx, stmt.ddl); err != nil {
			return errors.SinkError(errors.CodeSinkSchema, stmt.table, err)
		}
		s.log.WithField("table", stmt.table).Debug("Result table ensured")
	}
	return nil
}

func (s *BigQuerySink) runDDL(ctx context.Context, ddl string) error {
	q := s.client.Query(ddl)

	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("running DDL: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for DDL job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("DDL job: %w", err)
	}
	return nil
}

// WriteConflict streams one conflict record into analyze_transactions.
func (s *BigQuerySink) WriteConflict(ctx context.Context, rec *models.ConflictRecord) error {
	if err := validateConflict(rec); err != nil {
		return err
	}

	row := &conflictRow{
		ChecksumOld:     nullString(rec.ChecksumOld),
		ChecksumNew:     rec.ChecksumNew,
		AccountNumber:   rec.AccountNumber,
		Bank:            rec.Bank,
		CompanyID:       rec.CompanyID,
		TransactionDate: civil.DateOf(rec.TransactionDate),
		TypeOfConflict:  rec.TypeOfConflict.String(),
		MosaicReason:    rec.MosaicReason,
		Date:            civil.DateOf(rec.Date),
	}
	return s.put(ctx, s.config.ConflictTable, &bigquery.StructSaver{
		Schema:   s.conflictSchema,
		InsertID: uuid.NewString(),
		Struct:   row,
	})
}

// WriteUpdate streams one update record into updates_transactions.
func (s *BigQuerySink) WriteUpdate(ctx context.Context, rec *models.UpdateRecord) error {
	if err := validateUpdate(rec); err != nil {
		return err
	}

	row := &updateRow{
		OriginalChecksum:      rec.OriginalChecksum,
		NewChecksum:           rec.NewChecksum,
		LevenshteinDistance:   rec.LevenshteinDistance,
		CosineSimilarity:      rec.CosineSimilarity,
		JaroWinklerSimilarity: rec.JaroWinklerSimilarity,
		AccountNumber:         rec.AccountNumber,
		Bank:                  rec.Bank,
		CompanyID:             rec.CompanyID,
		Date:                  civil.DateOf(rec.Date),
	}
	return s.put(ctx, s.config.UpdateTable, &bigquery.StructSaver{
		Schema:   s.updateSchema,
		InsertID: uuid.NewString(),
		Struct:   row,
	})
}

func (s *BigQuerySink) put(ctx context.Context, table string, saver *bigquery.StructSaver) error {
	inserter := s.client.DatasetInProject(s.config.ProjectID, s.config.DatasetID).Table(table).Inserter()
	if err := inserter.Put(ctx, saver); err != nil {
		s.log.WithError(err).WithField("table", table).Warn("Streaming insert failed")
		return errors.SinkError(errors.CodeSinkWriteFailed, table, err)
	}
	return nil
}

// Flush is a no-op: streaming inserts are durable once Put returns.
func (s *BigQuerySink) Flush(ctx context.Context) error {
	return ctx.Err()
}

// Close releases the client when this sink created it.
func (s *BigQuerySink) Close() error {
	if s.ownsClient && s.client != nil {
		return s.client.Close()
	}
	return nil
}

// TableID returns the fully qualified name of a result table, useful
// for operator-facing messages.
func (s *BigQuerySink) TableID(table string) string {
	return strings.Join([]string{s.config.ProjectID, s.config.DatasetID, table}, ".")
}

func nullString(s string) bigquery.NullString {
	return bigquery.NullString{StringVal: s, Valid: s != ""}
}
