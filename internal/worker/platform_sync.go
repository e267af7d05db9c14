package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/OneClickTag/jobrunner/internal/domain"
	"github.com/OneClickTag/jobrunner/internal/platform"
)

// PlatformSync executes one idempotent CREATE/UPDATE/DELETE against the
// ad-platform / tag-manager surface.
type PlatformSync struct {
	tags platform.TagManager
	ads  platform.AdPlatform
	log  *zap.Logger
}

func NewPlatformSync(tags platform.TagManager, ads platform.AdPlatform, log *zap.Logger) *PlatformSync {
	return &PlatformSync{tags: tags, ads: ads, log: log.Named("platform-sync")}
}

func syncProgress(pct int) domain.Progress {
	done := 0
	if pct >= 100 {
		done = 1
	}
	return domain.Progress{Total: 1, Completed: done, Percentage: pct}
}

func (p *PlatformSync) Process(ctx context.Context, job *domain.Job, report ProgressFunc) (*domain.JobResult, error) {
	payload, ok := job.Payload.(domain.PlatformSyncPayload)
	if !ok {
		return nil, domain.Validationf("platform-sync job %s carries %T", job.ID, job.Payload)
	}
	report(syncProgress(10))

	switch payload.SyncType {
	case domain.SyncCreate:
		return p.create(ctx, payload, report)
	case domain.SyncUpdate:
		return p.update(ctx, payload, report)
	case domain.SyncDelete:
		return p.delete(ctx, payload, report)
	}
	return nil, domain.Validationf("unknown sync type %q", payload.SyncType)
}

func (p *PlatformSync) create(ctx context.Context, payload domain.PlatformSyncPayload, report ProgressFunc) (*domain.JobResult, error) {
	if payload.ConversionActionID != "" {
		if _, err := p.ads.GetConversionAction(ctx, payload.AdsAccountID, payload.ConversionActionID); err != nil {
			return nil, err
		}
	}
	report(syncProgress(30))

	trigger, err := p.tags.CreateTrigger(ctx, payload.GTMContainerID, platform.Trigger{
		Name: fmt.Sprintf("conversion-trigger-%s", payload.ConversionActionID),
		Type: "pageview",
	})
	if err != nil {
		return nil, err
	}
	report(syncProgress(60))

	tag, err := p.tags.CreateTag(ctx, payload.GTMContainerID, platform.Tag{
		Name: tagName(payload),
		Type: "conversion",
		Parameters: map[string]string{
			"conversionActionId": payload.ConversionActionID,
			"adsAccountId":       payload.AdsAccountID,
			"triggerId":          trigger.ID,
		},
	})
	if err != nil {
		return nil, err
	}
	report(syncProgress(100))

	return &domain.JobResult{
		Success: true,
		Data:    map[string]any{"tagId": tag.ID, "triggerId": trigger.ID},
		Summary: fmt.Sprintf("created tag %s and trigger %s in container %s", tag.ID, trigger.ID, payload.GTMContainerID),
	}, nil
}

func (p *PlatformSync) update(ctx context.Context, payload domain.PlatformSyncPayload, report ProgressFunc) (*domain.JobResult, error) {
	tagID := payload.Metadata[domain.MetaTagID]
	if tagID == "" {
		// Fail fast: the scheduler guarantees this precondition at enqueue,
		// so a missing id here is a construction bug, never retried.
		return nil, domain.Validationf("UPDATE sync without %s in metadata", domain.MetaTagID)
	}
	if len(payload.Changes) == 0 {
		return nil, domain.Validationf("UPDATE sync with empty changes")
	}
	report(syncProgress(50))

	tag, err := p.tags.UpdateTag(ctx, payload.GTMContainerID, tagID, payload.Changes)
	if err != nil {
		return nil, err
	}
	report(syncProgress(100))

	return &domain.JobResult{
		Success: true,
		Data:    map[string]any{"tagId": tag.ID},
		Summary: fmt.Sprintf("updated tag %s in container %s", tag.ID, payload.GTMContainerID),
	}, nil
}

func (p *PlatformSync) delete(ctx context.Context, payload domain.PlatformSyncPayload, report ProgressFunc) (*domain.JobResult, error) {
	tagID := payload.Metadata[domain.MetaTagID]
	if tagID == "" {
		return nil, domain.Validationf("DELETE sync without %s in metadata", domain.MetaTagID)
	}
	report(syncProgress(50))

	if err := p.tags.DeleteTag(ctx, payload.GTMContainerID, tagID); err != nil {
		return nil, err
	}
	report(syncProgress(100))

	return &domain.JobResult{
		Success: true,
		Data:    map[string]any{"tagId": tagID},
		Summary: fmt.Sprintf("deleted tag %s from container %s", tagID, payload.GTMContainerID),
	}, nil
}

func tagName(p domain.PlatformSyncPayload) string {
	if name, ok := p.Changes["name"].(string); ok && name != "" {
		return name
	}
	return fmt.Sprintf("conversion-%s", p.ConversionActionID)
}
