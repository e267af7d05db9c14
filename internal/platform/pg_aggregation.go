package platform

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// PGAggregationStore persists aggregation results in Postgres, upserting on
// (tenant, type, range start, range end).
type PGAggregationStore struct{ db *pgxpool.Pool }

func NewPGAggregationStore(db *pgxpool.Pool) *PGAggregationStore { return &PGAggregationStore{db} }

func (s *PGAggregationStore) Upsert(ctx context.Context, rec AggregationRecord) error {
	metrics, err := json.Marshal(rec.Metrics)
	if err != nil {
		return errors.Wrap(err, "marshal metrics")
	}
	dimensions, err := json.Marshal(rec.Dimensions)
	if err != nil {
		return errors.Wrap(err, "marshal dimensions")
	}
	_, err = s.db.Exec(ctx, `insert into aggregations(
tenant_id, aggregation_type, range_start, range_end, metrics, dimensions, entities, updated_at
) values ($1,$2,$3,$4,$5,$6,$7,$8)
on conflict (tenant_id, aggregation_type, range_start, range_end)
do update set metrics = excluded.metrics,
              dimensions = excluded.dimensions,
              entities = excluded.entities,
              updated_at = excluded.updated_at`,
		rec.TenantID, rec.Type, rec.RangeStart, rec.RangeEnd,
		metrics, dimensions, rec.Entities, time.Now(),
	)
	return errors.Wrap(err, "upsert aggregation")
}
