package worker

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/OneClickTag/jobrunner/internal/cache"
	"github.com/OneClickTag/jobrunner/internal/domain"
	"github.com/OneClickTag/jobrunner/internal/platform"
)

// Aggregation resolves a set of ad accounts, queries each one, and merges
// numeric metrics and categorical dimensions into a single record persisted
// both to the tenant cache and to durable storage.
type Aggregation struct {
	ads   platform.AdPlatform
	cache *cache.Cache
	store platform.AggregationStore
	log   *zap.Logger
}

func NewAggregation(ads platform.AdPlatform, c *cache.Cache, store platform.AggregationStore, log *zap.Logger) *Aggregation {
	return &Aggregation{ads: ads, cache: c, store: store, log: log.Named("aggregation")}
}

// AggregationCacheKey is the short-TTL cache key of a merged result.
func AggregationCacheKey(p domain.AggregationPayload) string {
	return fmt.Sprintf("analytics:%s:%s:%s",
		strings.ToLower(string(p.Type)),
		p.Range.Start.Format("2006-01-02"),
		p.Range.End.Format("2006-01-02"))
}

// cacheTTL is granularity-dependent: finer aggregations go stale faster.
func cacheTTL(g domain.Granularity) time.Duration {
	switch g {
	case domain.GranularityDaily:
		return time.Hour
	case domain.GranularityWeekly:
		return 6 * time.Hour
	case domain.GranularityMonthly:
		return 24 * time.Hour
	}
	return time.Hour
}

func (a *Aggregation) Process(ctx context.Context, job *domain.Job, report ProgressFunc) (*domain.JobResult, error) {
	payload, ok := job.Payload.(domain.AggregationPayload)
	if !ok {
		return nil, domain.Validationf("aggregation job %s carries %T", job.ID, job.Payload)
	}

	accounts := payload.AdsAccountIDs
	if len(accounts) == 0 {
		var err error
		if accounts, err = a.ads.ListActiveAccounts(ctx); err != nil {
			return nil, err
		}
	}
	total := len(accounts)
	report(domain.Progress{Total: total})

	metrics := make(map[string]*platform.MetricAggregate, len(payload.Metrics))
	dims := make(map[string]map[string]int, len(payload.Dimensions))
	query := buildQuery(payload)

	completed, failed := 0, 0
	for _, account := range accounts {
		rows, err := a.ads.Query(ctx, account, query)
		if err != nil {
			// A single sub-entity failure is logged and skipped, never
			// fatal to the whole job.
			failed++
			a.log.Warn("account query failed",
				zap.String("tenant_id", payload.TenantID),
				zap.String("account_id", account),
				zap.Error(err))
		} else {
			accumulate(rows, payload, metrics, dims)
			completed++
		}
		report(domain.Progress{
			Total:      total,
			Completed:  completed,
			Failed:     failed,
			Percentage: (completed + failed) * 90 / max(total, 1),
		})
	}

	rec := platform.AggregationRecord{
		TenantID:   payload.TenantID,
		Type:       payload.Type,
		RangeStart: payload.Range.Start,
		RangeEnd:   payload.Range.End,
		Metrics:    finalizeMetrics(metrics),
		Dimensions: finalizeDimensions(dims),
		Entities:   completed,
		UpdatedAt:  time.Now(),
	}
	if err := a.store.Upsert(ctx, rec); err != nil {
		return nil, err
	}
	if err := a.cache.Set(ctx, AggregationCacheKey(payload), rec, cache.Options{TTL: cacheTTL(payload.Type)}); err != nil {
		a.log.Warn("cache aggregation", zap.Error(err))
	}
	report(domain.Progress{Total: total, Completed: completed, Failed: failed, Percentage: 100})

	return &domain.JobResult{
		Success: true,
		Data: map[string]any{
			"entities":        completed,
			"failedEntities":  failed,
			"aggregationType": string(payload.Type),
		},
		Summary: fmt.Sprintf("aggregated %d/%d accounts for %s %s..%s",
			completed, total, payload.Type,
			payload.Range.Start.Format("2006-01-02"), payload.Range.End.Format("2006-01-02")),
	}, nil
}

// buildQuery renders the parameterized GAQL-like query asked of each
// account.
func buildQuery(p domain.AggregationPayload) string {
	fields := append(append([]string(nil), p.Metrics...), p.Dimensions...)
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM campaign WHERE segments.date BETWEEN '%s' AND '%s'",
		strings.Join(fields, ", "),
		p.Range.Start.Format("2006-01-02"), p.Range.End.Format("2006-01-02"))
	for k, v := range p.Filters {
		fmt.Fprintf(&b, " AND %s = '%s'", k, v)
	}
	if len(p.CampaignIDs) > 0 {
		fmt.Fprintf(&b, " AND campaign.id IN ('%s')", strings.Join(p.CampaignIDs, "','"))
	}
	return b.String()
}

func accumulate(rows []map[string]any, p domain.AggregationPayload, metrics map[string]*platform.MetricAggregate, dims map[string]map[string]int) {
	for _, row := range rows {
		for _, m := range p.Metrics {
			v, ok := toFloat(row[m])
			if !ok {
				continue
			}
			agg := metrics[m]
			if agg == nil {
				agg = &platform.MetricAggregate{Min: v, Max: v}
				metrics[m] = agg
			}
			agg.Sum += v
			agg.Count++
			if v < agg.Min {
				agg.Min = v
			}
			if v > agg.Max {
				agg.Max = v
			}
		}
		for _, d := range p.Dimensions {
			s, ok := row[d].(string)
			if !ok || s == "" {
				continue
			}
			if dims[d] == nil {
				dims[d] = make(map[string]int)
			}
			dims[d][s]++
		}
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// finalizeMetrics derives averages in a post pass.
func finalizeMetrics(in map[string]*platform.MetricAggregate) map[string]platform.MetricAggregate {
	out := make(map[string]platform.MetricAggregate, len(in))
	for name, agg := range in {
		final := *agg
		if final.Count > 0 {
			final.Avg = final.Sum / float64(final.Count)
		}
		out[name] = final
	}
	return out
}

// finalizeDimensions turns frequency maps into tables sorted descending by
// count, ties broken by value for stable output.
func finalizeDimensions(in map[string]map[string]int) map[string][]platform.DimensionCount {
	out := make(map[string][]platform.DimensionCount, len(in))
	for name, freq := range in {
		table := make([]platform.DimensionCount, 0, len(freq))
		for value, count := range freq {
			table = append(table, platform.DimensionCount{Value: value, Count: count})
		}
		sort.Slice(table, func(i, j int) bool {
			if table[i].Count != table[j].Count {
				return table[i].Count > table[j].Count
			}
			return table[i].Value < table[j].Value
		})
		out[name] = table
	}
	return out
}
