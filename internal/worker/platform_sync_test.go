package worker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/OneClickTag/jobrunner/internal/domain"
	"github.com/OneClickTag/jobrunner/internal/platform"
)

func noProgress(domain.Progress) {}

func syncJobWith(p domain.PlatformSyncPayload) *domain.Job {
	return &domain.Job{ID: "job-1", Queue: domain.QueuePlatformSync, Payload: p}
}

func TestPlatformSyncCreate(t *testing.T) {
	t.Parallel()
	tags := platform.NewFakeTagManager()
	ads := platform.NewFakeAdPlatform()
	proc := NewPlatformSync(tags, ads, zap.NewNop())

	result, err := proc.Process(context.Background(), syncJobWith(domain.PlatformSyncPayload{
		PayloadBase:        domain.PayloadBase{TenantID: "tenant-a"},
		AdsAccountID:       "acct-1",
		ConversionActionID: "conv-1",
		GTMContainerID:     "GTM-TEST",
		SyncType:           domain.SyncCreate,
	}), noProgress)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.Success)

	tagID, _ := result.Data["tagId"].(string)
	triggerID, _ := result.Data["triggerId"].(string)
	require.NotEmpty(t, tagID)
	require.NotEmpty(t, triggerID)

	tag := tags.Tags[tagID]
	assert.Equal(t, "conversion", tag.Type)
	assert.Equal(t, "conv-1", tag.Parameters["conversionActionId"])
	assert.Equal(t, triggerID, tag.Parameters["triggerId"])
	assert.Equal(t, "conversion-conv-1", tag.Name)

	trigger := tags.Triggers[triggerID]
	assert.Equal(t, "pageview", trigger.Type)
}

func TestPlatformSyncCreateUsesNameFromChanges(t *testing.T) {
	t.Parallel()
	tags := platform.NewFakeTagManager()
	proc := NewPlatformSync(tags, platform.NewFakeAdPlatform(), zap.NewNop())

	result, err := proc.Process(context.Background(), syncJobWith(domain.PlatformSyncPayload{
		PayloadBase:    domain.PayloadBase{TenantID: "tenant-a"},
		GTMContainerID: "GTM-TEST",
		SyncType:       domain.SyncCreate,
		Changes:        map[string]any{"name": "checkout-conversion"},
	}), noProgress)
	require.NoError(t, err)

	tagID := result.Data["tagId"].(string)
	assert.Equal(t, "checkout-conversion", tags.Tags[tagID].Name)
}

func TestPlatformSyncUpdate(t *testing.T) {
	t.Parallel()
	tags := platform.NewFakeTagManager()
	proc := NewPlatformSync(tags, platform.NewFakeAdPlatform(), zap.NewNop())
	ctx := context.Background()

	created, err := tags.CreateTag(ctx, "GTM-TEST", platform.Tag{Name: "old-name", Type: "conversion"})
	require.NoError(t, err)

	result, err := proc.Process(ctx, syncJobWith(domain.PlatformSyncPayload{
		PayloadBase: domain.PayloadBase{
			TenantID: "tenant-a",
			Metadata: map[string]string{domain.MetaTagID: created.ID},
		},
		GTMContainerID: "GTM-TEST",
		SyncType:       domain.SyncUpdate,
		Changes:        map[string]any{"name": "new-name"},
	}), noProgress)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "new-name", tags.Tags[created.ID].Name)
}

func TestPlatformSyncUpdateWithoutTagIDFailsFast(t *testing.T) {
	t.Parallel()
	proc := NewPlatformSync(platform.NewFakeTagManager(), platform.NewFakeAdPlatform(), zap.NewNop())

	_, err := proc.Process(context.Background(), syncJobWith(domain.PlatformSyncPayload{
		PayloadBase:    domain.PayloadBase{TenantID: "tenant-a"},
		GTMContainerID: "GTM-TEST",
		SyncType:       domain.SyncUpdate,
		Changes:        map[string]any{"name": "x"},
	}), noProgress)
	require.Error(t, err)
	assert.Equal(t, domain.KindValidation, domain.Classify(err))
}

func TestPlatformSyncUpdateWithEmptyChanges(t *testing.T) {
	t.Parallel()
	proc := NewPlatformSync(platform.NewFakeTagManager(), platform.NewFakeAdPlatform(), zap.NewNop())

	_, err := proc.Process(context.Background(), syncJobWith(domain.PlatformSyncPayload{
		PayloadBase: domain.PayloadBase{
			TenantID: "tenant-a",
			Metadata: map[string]string{domain.MetaTagID: "tag-1"},
		},
		GTMContainerID: "GTM-TEST",
		SyncType:       domain.SyncUpdate,
	}), noProgress)
	require.Error(t, err)
	assert.Equal(t, domain.KindValidation, domain.Classify(err))
}

func TestPlatformSyncDelete(t *testing.T) {
	t.Parallel()
	tags := platform.NewFakeTagManager()
	proc := NewPlatformSync(tags, platform.NewFakeAdPlatform(), zap.NewNop())
	ctx := context.Background()

	created, err := tags.CreateTag(ctx, "GTM-TEST", platform.Tag{Name: "doomed", Type: "conversion"})
	require.NoError(t, err)

	result, err := proc.Process(ctx, syncJobWith(domain.PlatformSyncPayload{
		PayloadBase: domain.PayloadBase{
			TenantID: "tenant-a",
			Metadata: map[string]string{domain.MetaTagID: created.ID},
		},
		GTMContainerID: "GTM-TEST",
		SyncType:       domain.SyncDelete,
	}), noProgress)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.NotContains(t, tags.Tags, created.ID)
}

func TestPlatformSyncPropagatesUpstreamError(t *testing.T) {
	t.Parallel()
	tags := platform.NewFakeTagManager()
	tags.Err = &platform.APIError{StatusCode: 503, Code: "UNAVAILABLE", Message: "try later"}
	proc := NewPlatformSync(tags, platform.NewFakeAdPlatform(), zap.NewNop())

	_, err := proc.Process(context.Background(), syncJobWith(domain.PlatformSyncPayload{
		PayloadBase:    domain.PayloadBase{TenantID: "tenant-a"},
		GTMContainerID: "GTM-TEST",
		SyncType:       domain.SyncCreate,
	}), noProgress)
	require.Error(t, err)
	// a 503 from the surface is transient, the pool will back off and retry
	assert.Equal(t, domain.KindRetryable, domain.Classify(err))
}

func TestPlatformSyncRejectsWrongPayload(t *testing.T) {
	t.Parallel()
	proc := NewPlatformSync(platform.NewFakeTagManager(), platform.NewFakeAdPlatform(), zap.NewNop())

	job := &domain.Job{ID: "job-1", Queue: domain.QueuePlatformSync, Payload: domain.BulkImportPayload{}}
	_, err := proc.Process(context.Background(), job, noProgress)
	require.Error(t, err)
	assert.Equal(t, domain.KindValidation, domain.Classify(err))
}
