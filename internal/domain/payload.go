package domain

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// MetaTagID is the metadata key under which the scheduler records the
// external tag id required by UPDATE and DELETE platform syncs.
const MetaTagID = "gtm_tag_id"

// PayloadBase carries the fields common to every queue's payload.
type PayloadBase struct {
	TenantID    string            `json:"tenantId"`
	TriggeredBy string            `json:"triggeredBy,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	RetryCount  int               `json:"retryCount,omitempty"`
	MaxRetries  int               `json:"maxRetries,omitempty"`
}

// Payload is the discriminated union of job payloads, one variant per queue.
// Dispatch is by type switch; new variants require touching every switch.
type Payload interface {
	Base() PayloadBase
	Queue() QueueName
	Validate() error
}

type SyncType string

const (
	SyncCreate SyncType = "CREATE"
	SyncUpdate SyncType = "UPDATE"
	SyncDelete SyncType = "DELETE"
)

// PlatformSyncPayload drives one idempotent operation against the
// ad-platform / tag-manager surface.
type PlatformSyncPayload struct {
	PayloadBase
	CustomerID         string         `json:"customerId"`
	AdsAccountID       string         `json:"adsAccountId"`
	ConversionActionID string         `json:"conversionActionId"`
	GTMContainerID     string         `json:"gtmContainerId"`
	SyncType           SyncType       `json:"syncType"`
	Changes            map[string]any `json:"changes,omitempty"`
}

func (p PlatformSyncPayload) Base() PayloadBase { return p.PayloadBase }
func (p PlatformSyncPayload) Queue() QueueName  { return QueuePlatformSync }

func (p PlatformSyncPayload) Validate() error {
	if p.TenantID == "" {
		return Validationf("platform-sync payload missing tenantId")
	}
	if p.GTMContainerID == "" {
		return Validationf("platform-sync payload missing gtmContainerId")
	}
	switch p.SyncType {
	case SyncCreate:
	case SyncUpdate, SyncDelete:
		// Construction precondition: the scheduler must guarantee the
		// external resource id is present before enqueue.
		if p.Metadata[MetaTagID] == "" {
			return Validationf("%s sync requires %s in metadata", p.SyncType, MetaTagID)
		}
	default:
		return Validationf("unknown sync type %q", p.SyncType)
	}
	return nil
}

// ImportSettings configures duplicate handling for a bulk import.
type ImportSettings struct {
	SkipDuplicates bool `json:"skipDuplicates"`
	UpdateExisting bool `json:"updateExisting"`
	ValidateEmails bool `json:"validateEmails"`
	BatchSize      int  `json:"batchSize"`
}

// CustomerRecord is one row of a bulk import.
type CustomerRecord struct {
	Email     string `json:"email"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

type BulkImportPayload struct {
	PayloadBase
	ImportID  string           `json:"importId"`
	Customers []CustomerRecord `json:"customers"`
	Settings  ImportSettings   `json:"importSettings"`
}

func (p BulkImportPayload) Base() PayloadBase { return p.PayloadBase }
func (p BulkImportPayload) Queue() QueueName  { return QueueBulkImport }

func (p BulkImportPayload) Validate() error {
	if p.TenantID == "" {
		return Validationf("bulk-import payload missing tenantId")
	}
	if p.ImportID == "" {
		return Validationf("bulk-import payload missing importId")
	}
	if len(p.Customers) == 0 {
		return Validationf("bulk-import payload has no customers")
	}
	return nil
}

// ReplayTarget selects the surface an api-retry job replays against.
type ReplayTarget string

const (
	ReplayAdsAPI      ReplayTarget = "ads-api"
	ReplayTagManager  ReplayTarget = "tag-manager"
	ReplayCustomerAPI ReplayTarget = "customer-api"
	ReplayWebhook     ReplayTarget = "webhook"
)

func (t ReplayTarget) Valid() bool {
	switch t {
	case ReplayAdsAPI, ReplayTagManager, ReplayCustomerAPI, ReplayWebhook:
		return true
	}
	return false
}

type APIRetryPayload struct {
	PayloadBase
	Target         ReplayTarget   `json:"originalJobType"`
	OriginalData   map[string]any `json:"originalJobData,omitempty"`
	Endpoint       string         `json:"apiEndpoint"`
	Method         string         `json:"httpMethod"`
	RequestPayload map[string]any `json:"requestPayload,omitempty"`
	LastError      string         `json:"lastError,omitempty"`
	Strategy       RetryStrategy  `json:"retryStrategy"`
}

func (p APIRetryPayload) Base() PayloadBase { return p.PayloadBase }
func (p APIRetryPayload) Queue() QueueName  { return QueueAPIRetry }

func (p APIRetryPayload) Validate() error {
	if p.TenantID == "" {
		return Validationf("api-retry payload missing tenantId")
	}
	if !p.Target.Valid() {
		return Validationf("unknown replay target %q", p.Target)
	}
	if p.Endpoint == "" {
		return Validationf("api-retry payload missing apiEndpoint")
	}
	return nil
}

type Granularity string

const (
	GranularityDaily   Granularity = "DAILY"
	GranularityWeekly  Granularity = "WEEKLY"
	GranularityMonthly Granularity = "MONTHLY"
)

type DateRange struct {
	Start time.Time `json:"startDate"`
	End   time.Time `json:"endDate"`
}

type AggregationPayload struct {
	PayloadBase
	Type          Granularity       `json:"aggregationType"`
	Range         DateRange         `json:"dateRange"`
	Metrics       []string          `json:"metrics"`
	Dimensions    []string          `json:"dimensions,omitempty"`
	CustomerIDs   []string          `json:"customerIds,omitempty"`
	AdsAccountIDs []string          `json:"adsAccountIds,omitempty"`
	CampaignIDs   []string          `json:"campaignIds,omitempty"`
	Filters       map[string]string `json:"filters,omitempty"`
}

func (p AggregationPayload) Base() PayloadBase { return p.PayloadBase }
func (p AggregationPayload) Queue() QueueName  { return QueueAggregation }

func (p AggregationPayload) Validate() error {
	if p.TenantID == "" {
		return Validationf("aggregation payload missing tenantId")
	}
	switch p.Type {
	case GranularityDaily, GranularityWeekly, GranularityMonthly:
	default:
		return Validationf("unknown aggregation type %q", p.Type)
	}
	if len(p.Metrics) == 0 {
		return Validationf("aggregation payload has no metrics")
	}
	if p.Range.End.Before(p.Range.Start) {
		return Validationf("aggregation date range ends before it starts")
	}
	return nil
}

// MarshalPayload encodes a payload for durable storage. The queue name is the
// discriminator; UnmarshalPayload reverses it.
func MarshalPayload(p Payload) ([]byte, error) {
	b, err := json.Marshal(p)
	return b, errors.Wrap(err, "marshal payload")
}

// UnmarshalPayload decodes the payload variant owned by the given queue.
func UnmarshalPayload(q QueueName, data []byte) (Payload, error) {
	switch q {
	case QueuePlatformSync:
		var p PlatformSyncPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, errors.Wrap(err, "unmarshal platform-sync payload")
		}
		return p, nil
	case QueueBulkImport:
		var p BulkImportPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, errors.Wrap(err, "unmarshal bulk-import payload")
		}
		return p, nil
	case QueueAPIRetry:
		var p APIRetryPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, errors.Wrap(err, "unmarshal api-retry payload")
		}
		return p, nil
	case QueueAggregation:
		var p AggregationPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, errors.Wrap(err, "unmarshal aggregation payload")
		}
		return p, nil
	}
	return nil, errors.Errorf("unknown queue %q", q)
}
