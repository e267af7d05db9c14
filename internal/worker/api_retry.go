package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/OneClickTag/jobrunner/internal/domain"
	"github.com/OneClickTag/jobrunner/internal/platform"
)

// defaultMaxReplays bounds the replay loop when the payload does not carry
// its own limit.
const defaultMaxReplays = 5

// APIRetry replays a previously failed call against the surface selected
// by the payload's target. It manages its own retry decision: on failure it
// reports shouldRetryAgain and nextRetryCount in the result and leaves
// re-enqueueing to the scheduler, keeping itself side-effect-free with
// respect to queue state.
type APIRetry struct {
	ads       platform.AdPlatform
	tags      platform.TagManager
	customers platform.CustomerService
	webhook   platform.Replayer
	sleep     func(ctx context.Context, d time.Duration) error
	log       *zap.Logger
}

func NewAPIRetry(ads platform.AdPlatform, tags platform.TagManager, customers platform.CustomerService, webhook platform.Replayer, log *zap.Logger) *APIRetry {
	return &APIRetry{
		ads:       ads,
		tags:      tags,
		customers: customers,
		webhook:   webhook,
		sleep:     ctxSleep,
		log:       log.Named("api-retry"),
	}
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func (a *APIRetry) Process(ctx context.Context, job *domain.Job, report ProgressFunc) (*domain.JobResult, error) {
	payload, ok := job.Payload.(domain.APIRetryPayload)
	if !ok {
		return nil, domain.Validationf("api-retry job %s carries %T", job.ID, job.Payload)
	}
	report(domain.Progress{Total: 1, Percentage: 10})

	delay := payload.Strategy.Delay(payload.RetryCount)
	if err := a.sleep(ctx, delay); err != nil {
		return nil, err
	}
	report(domain.Progress{Total: 1, Percentage: 40})

	err := a.replay(ctx, payload)
	next := payload.RetryCount + 1
	if err != nil {
		kind := domain.Classify(err)
		maxReplays := payload.MaxRetries
		if maxReplays <= 0 {
			maxReplays = defaultMaxReplays
		}
		shouldRetry := kind == domain.KindRetryable && next < maxReplays
		a.log.Warn("replay failed",
			zap.String("target", string(payload.Target)),
			zap.String("error_kind", kind.String()),
			zap.Bool("should_retry_again", shouldRetry),
			zap.Error(err))
		return &domain.JobResult{
			Success: false,
			Errors:  []string{err.Error()},
			Data: map[string]any{
				"shouldRetryAgain": shouldRetry,
				"nextRetryCount":   next,
				"errorKind":        kind.String(),
			},
			Summary: fmt.Sprintf("replay against %s failed after %d earlier retries", payload.Target, payload.RetryCount),
		}, err
	}

	report(domain.Progress{Total: 1, Completed: 1, Percentage: 100})
	return &domain.JobResult{
		Success: true,
		Data: map[string]any{
			"shouldRetryAgain": false,
			"nextRetryCount":   next,
		},
		Summary: fmt.Sprintf("replayed %s %s against %s", payload.Method, payload.Endpoint, payload.Target),
	}, nil
}

// replay dispatches on the target surface. The switch is exhaustive over
// the ReplayTarget enum; Validate rejects anything else at enqueue.
func (a *APIRetry) replay(ctx context.Context, p domain.APIRetryPayload) error {
	switch p.Target {
	case domain.ReplayAdsAPI:
		_, err := a.ads.Call(ctx, p.Method, p.Endpoint, p.RequestPayload)
		return err
	case domain.ReplayTagManager:
		_, err := a.tags.Call(ctx, p.Method, p.Endpoint, p.RequestPayload)
		return err
	case domain.ReplayCustomerAPI:
		_, err := a.customers.Call(ctx, p.Method, p.Endpoint, p.RequestPayload)
		return err
	case domain.ReplayWebhook:
		return a.webhook.Do(ctx, p.Method, p.Endpoint, p.RequestPayload)
	}
	return domain.Validationf("unknown replay target %q", p.Target)
}
