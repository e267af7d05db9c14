package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/OneClickTag/jobrunner/internal/domain"
)

// recurring keeps cron registrations keyed by a name derived from the
// payload template. Registering the same name again replaces the previous
// entry, so a re-deploy or re-configuration never double-registers.
type recurring struct {
	sched   *Scheduler
	cron    *cron.Cron
	mu      sync.Mutex
	entries map[string]cron.EntryID
}

func newRecurring(s *Scheduler) *recurring {
	return &recurring{
		sched:   s,
		cron:    cron.New(),
		entries: make(map[string]cron.EntryID),
	}
}

// recurringName derives the registration name from the template: queue,
// tenant, and for aggregations the granularity, so one tenant can hold a
// daily and a monthly registration side by side.
func recurringName(template domain.Payload) string {
	base := template.Base()
	if agg, ok := template.(domain.AggregationPayload); ok {
		return fmt.Sprintf("%s:%s:%s", template.Queue(), base.TenantID, agg.Type)
	}
	return fmt.Sprintf("%s:%s", template.Queue(), base.TenantID)
}

func (r *recurring) add(template domain.Payload, cronExpr string) (string, error) {
	if err := template.Validate(); err != nil {
		return "", err
	}
	name := recurringName(template)

	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.entries[name]; ok {
		r.cron.Remove(id)
		r.sched.log.Info("replacing recurring registration", zap.String("name", name))
	}

	id, err := r.cron.AddFunc(cronExpr, func() {
		if _, err := r.sched.schedule(context.Background(), template, nil); err != nil {
			r.sched.log.Error("recurring enqueue failed",
				zap.String("name", name), zap.Error(err))
		}
	})
	if err != nil {
		return "", err
	}
	r.entries[name] = id
	r.sched.log.Info("recurring registered",
		zap.String("name", name), zap.String("cron", cronExpr))
	return name, nil
}

func (r *recurring) remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.entries[name]
	if !ok {
		return false
	}
	r.cron.Remove(id)
	delete(r.entries, name)
	return true
}

func (r *recurring) start() { r.cron.Start() }

func (r *recurring) stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}

// names returns registered names; used by tests.
func (r *recurring) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for name := range r.entries {
		out = append(out, name)
	}
	return out
}
