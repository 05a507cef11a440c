// Package store persists the local extraction cache: per-contact extraction
// records, fetched message bodies and budget runs.
package store

import (
	"context"

	"github.com/sells-group/relgraph/internal/model"
)

// Store defines the persistence interface for the extraction pipeline.
type Store interface {
	// Message bodies
	GetBody(ctx context.Context, messageID string) (string, bool, error)
	PutBody(ctx context.Context, messageID, body string) error

	// Extractions
	ExtractedEmails(ctx context.Context) (map[string]bool, error)
	GetExtraction(ctx context.Context, email string) (*model.ExtractionRecord, error)
	ListExtractions(ctx context.Context) ([]model.ExtractionRecord, error)
	SaveExtraction(ctx context.Context, rec *model.ExtractionRecord) error

	// Budget runs
	CreateBudgetRun(ctx context.Context, budgetUSD float64, resume bool) (*model.BudgetRun, error)
	CommitExtraction(ctx context.Context, runID string, rec *model.ExtractionRecord) error
	RecordSkip(ctx context.Context, runID string) error
	FinishBudgetRun(ctx context.Context, runID string, reason model.StopReason) (*model.BudgetRun, error)
	GetBudgetRun(ctx context.Context, runID string) (*model.BudgetRun, error)
	ListBudgetRuns(ctx context.Context, limit int) ([]model.BudgetRun, error)
	AverageCostPerContact(ctx context.Context) (float64, int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
