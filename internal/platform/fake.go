package platform

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Fakes back the processor and scheduler tests. They are deliberately
// permissive: configure forced errors per call site to exercise the
// failure paths.

// RecordedCall captures one replayed API call.
type RecordedCall struct {
	Method   string
	Endpoint string
	Payload  map[string]any
}

type fakeCaller struct {
	mu      sync.Mutex
	CallErr error
	Calls   []RecordedCall
}

func (f *fakeCaller) Call(ctx context.Context, method, endpoint string, payload map[string]any) (map[string]any, error) {
	f.mu.Lock()
	f.Calls = append(f.Calls, RecordedCall{Method: method, Endpoint: endpoint, Payload: payload})
	err := f.CallErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return map[string]any{"ok": true}, nil
}

func (f *fakeCaller) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Calls)
}

// FakeTagManager records container mutations in memory.
type FakeTagManager struct {
	fakeCaller
	mu       sync.Mutex
	nextID   int
	Tags     map[string]Tag
	Triggers map[string]Trigger
	Err      error
}

func NewFakeTagManager() *FakeTagManager {
	return &FakeTagManager{Tags: map[string]Tag{}, Triggers: map[string]Trigger{}}
}

func (f *FakeTagManager) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func (f *FakeTagManager) CreateTag(ctx context.Context, containerID string, tag Tag) (Tag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return Tag{}, f.Err
	}
	tag.ID = f.id("tag")
	f.Tags[tag.ID] = tag
	return tag, nil
}

func (f *FakeTagManager) CreateTrigger(ctx context.Context, containerID string, trigger Trigger) (Trigger, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return Trigger{}, f.Err
	}
	trigger.ID = f.id("trigger")
	f.Triggers[trigger.ID] = trigger
	return trigger, nil
}

func (f *FakeTagManager) UpdateTag(ctx context.Context, containerID, tagID string, changes map[string]any) (Tag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return Tag{}, f.Err
	}
	tag, ok := f.Tags[tagID]
	if !ok {
		return Tag{}, &APIError{StatusCode: 404, Code: "NOT_FOUND", Message: "tag " + tagID}
	}
	if name, ok := changes["name"].(string); ok {
		tag.Name = name
	}
	f.Tags[tagID] = tag
	return tag, nil
}

func (f *FakeTagManager) DeleteTag(ctx context.Context, containerID, tagID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	delete(f.Tags, tagID)
	return nil
}

// FakeAdPlatform serves scripted query rows per account.
type FakeAdPlatform struct {
	fakeCaller
	mu        sync.Mutex
	Accounts  []string
	Rows      map[string][]map[string]any
	QueryErrs map[string]error
}

func NewFakeAdPlatform() *FakeAdPlatform {
	return &FakeAdPlatform{Rows: map[string][]map[string]any{}, QueryErrs: map[string]error{}}
}

func (f *FakeAdPlatform) GetConversionAction(ctx context.Context, accountID, id string) (ConversionAction, error) {
	return ConversionAction{ID: id, Name: "conversion-" + id, Status: "ENABLED"}, nil
}

func (f *FakeAdPlatform) ListActiveAccounts(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Accounts...), nil
}

func (f *FakeAdPlatform) Query(ctx context.Context, accountID, query string) ([]map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.QueryErrs[accountID]; err != nil {
		return nil, err
	}
	return f.Rows[accountID], nil
}

// FakeCustomerService holds pre-existing records keyed by email.
type FakeCustomerService struct {
	fakeCaller
	mu       sync.Mutex
	nextID   int
	Existing map[string]Customer
	Updated  []Customer
	FindErr  error
}

func NewFakeCustomerService() *FakeCustomerService {
	return &FakeCustomerService{Existing: map[string]Customer{}}
}

// Seed registers a pre-existing customer record.
func (f *FakeCustomerService) Seed(tenantID, email string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.Existing[tenantID+"|"+email] = Customer{
		ID: fmt.Sprintf("cust-%d", f.nextID), TenantID: tenantID, Email: email,
	}
}

func (f *FakeCustomerService) FindByEmail(ctx context.Context, tenantID, email string) (*Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FindErr != nil {
		return nil, f.FindErr
	}
	if c, ok := f.Existing[tenantID+"|"+email]; ok {
		cp := c
		return &cp, nil
	}
	return nil, nil
}

func (f *FakeCustomerService) Create(ctx context.Context, c Customer) (Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	c.ID = fmt.Sprintf("cust-%d", f.nextID)
	f.Existing[c.TenantID+"|"+c.Email] = c
	return c, nil
}

func (f *FakeCustomerService) Update(ctx context.Context, c Customer) (Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Existing[c.TenantID+"|"+c.Email] = c
	f.Updated = append(f.Updated, c)
	return c, nil
}

// FakeReplayer records webhook replays.
type FakeReplayer struct {
	mu    sync.Mutex
	Err   error
	Calls []RecordedCall
}

func (f *FakeReplayer) Do(ctx context.Context, method, endpoint string, payload map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, RecordedCall{Method: method, Endpoint: endpoint, Payload: payload})
	return f.Err
}

// MemoryAggregationStore upserts records in memory.
type MemoryAggregationStore struct {
	mu      sync.Mutex
	Records map[string]AggregationRecord
}

func NewMemoryAggregationStore() *MemoryAggregationStore {
	return &MemoryAggregationStore{Records: map[string]AggregationRecord{}}
}

func aggKey(rec AggregationRecord) string {
	return fmt.Sprintf("%s|%s|%s|%s", rec.TenantID, rec.Type,
		rec.RangeStart.Format(time.RFC3339), rec.RangeEnd.Format(time.RFC3339))
}

func (s *MemoryAggregationStore) Upsert(ctx context.Context, rec AggregationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Records[aggKey(rec)] = rec
	return nil
}

// Get returns the stored record for the given key, if present.
func (s *MemoryAggregationStore) Get(rec AggregationRecord) (AggregationRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.Records[aggKey(rec)]
	return r, ok
}
