package worker

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/OneClickTag/jobrunner/internal/cache"
	"github.com/OneClickTag/jobrunner/internal/domain"
	"github.com/OneClickTag/jobrunner/internal/platform"
)

const (
	defaultBatchSize  = 50
	defaultBatchPause = 200 * time.Millisecond
	// Import outcomes outlive job retention; they stay readable from the
	// cache for a day after completion.
	importResultTTL = 24 * time.Hour
)

var emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// ImportResultKey is the cache key the outcome of an import is stored
// under, scoped to the job's tenant.
func ImportResultKey(importID string) string {
	return "import:results:" + importID
}

// ImportFailure records one record that could not be imported.
type ImportFailure struct {
	Email  string `json:"email"`
	Reason string `json:"reason"`
}

// ImportOutcome accumulates every record's fate across all batches.
type ImportOutcome struct {
	Successful []string        `json:"successful"`
	Failed     []ImportFailure `json:"failed"`
	Skipped    []string        `json:"skipped"`
	Duplicates []string        `json:"duplicates"`
}

// BulkImport partitions the customer list into batches and imports them
// sequentially, pausing between batches to bound downstream load.
// Per-record failures are recorded, never escalated.
type BulkImport struct {
	customers  platform.CustomerService
	cache      *cache.Cache
	batchPause time.Duration
	log        *zap.Logger
}

func NewBulkImport(customers platform.CustomerService, c *cache.Cache, log *zap.Logger) *BulkImport {
	return &BulkImport{
		customers:  customers,
		cache:      c,
		batchPause: defaultBatchPause,
		log:        log.Named("bulk-import"),
	}
}

func (b *BulkImport) Process(ctx context.Context, job *domain.Job, report ProgressFunc) (*domain.JobResult, error) {
	payload, ok := job.Payload.(domain.BulkImportPayload)
	if !ok {
		return nil, domain.Validationf("bulk-import job %s carries %T", job.ID, job.Payload)
	}

	batchSize := payload.Settings.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	total := len(payload.Customers)
	report(domain.Progress{Total: total})

	var outcome ImportOutcome
	processed := 0
	for start := 0; start < total; start += batchSize {
		// Cooperative cancellation checkpoint between batches.
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := start + batchSize
		if end > total {
			end = total
		}
		for _, rec := range payload.Customers[start:end] {
			b.importRecord(ctx, payload, rec, &outcome)
		}
		processed = end
		report(domain.Progress{
			Total:      total,
			Completed:  len(outcome.Successful) + len(outcome.Skipped),
			Failed:     len(outcome.Failed),
			Percentage: processed * 100 / total,
		})

		if end < total && b.batchPause > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(b.batchPause):
			}
		}
	}

	// Persist the outcome independently of the job result object so it
	// survives job retention limits.
	if err := b.cache.Set(ctx, ImportResultKey(payload.ImportID), outcome, cache.Options{TTL: importResultTTL}); err != nil {
		b.log.Warn("cache import outcome",
			zap.String("import_id", payload.ImportID), zap.Error(err))
	}

	return &domain.JobResult{
		Success: true,
		Data: map[string]any{
			"importId":   payload.ImportID,
			"successful": len(outcome.Successful),
			"failed":     len(outcome.Failed),
			"skipped":    len(outcome.Skipped),
			"duplicates": len(outcome.Duplicates),
		},
		Summary: fmt.Sprintf("imported %d/%d customers (%d skipped, %d failed)",
			len(outcome.Successful), total, len(outcome.Skipped), len(outcome.Failed)),
	}, nil
}

// importRecord applies the precedence skip-if-duplicate →
// update-if-duplicate-and-configured → create.
func (b *BulkImport) importRecord(ctx context.Context, payload domain.BulkImportPayload, rec domain.CustomerRecord, out *ImportOutcome) {
	if payload.Settings.ValidateEmails && !emailRe.MatchString(rec.Email) {
		out.Failed = append(out.Failed, ImportFailure{Email: rec.Email, Reason: "invalid email"})
		return
	}

	existing, err := b.customers.FindByEmail(ctx, payload.TenantID, rec.Email)
	if err != nil {
		out.Failed = append(out.Failed, ImportFailure{Email: rec.Email, Reason: err.Error()})
		return
	}

	if existing != nil {
		out.Duplicates = append(out.Duplicates, rec.Email)
		switch {
		case payload.Settings.SkipDuplicates:
			out.Skipped = append(out.Skipped, rec.Email)
		case payload.Settings.UpdateExisting:
			updated := *existing
			updated.FirstName = rec.FirstName
			updated.LastName = rec.LastName
			updated.Phone = rec.Phone
			if _, err := b.customers.Update(ctx, updated); err != nil {
				out.Failed = append(out.Failed, ImportFailure{Email: rec.Email, Reason: err.Error()})
				return
			}
			out.Successful = append(out.Successful, rec.Email)
		default:
			out.Skipped = append(out.Skipped, rec.Email)
		}
		return
	}

	_, err = b.customers.Create(ctx, platform.Customer{
		TenantID:  payload.TenantID,
		Email:     rec.Email,
		FirstName: rec.FirstName,
		LastName:  rec.LastName,
		Phone:     rec.Phone,
	})
	if err != nil {
		out.Failed = append(out.Failed, ImportFailure{Email: rec.Email, Reason: err.Error()})
		return
	}
	out.Successful = append(out.Successful, rec.Email)
}
