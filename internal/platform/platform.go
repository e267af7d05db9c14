// Package platform declares the external collaborators the job subsystem
// calls: the ad-platform and tag-manager APIs, the customer record service,
// webhook replay, and durable aggregation persistence. Only the boundary is
// specified here; fakes back the tests and HTTP adapters back production.
package platform

import (
	"context"
	"fmt"
	"time"

	"github.com/OneClickTag/jobrunner/internal/domain"
)

// APIError is a boundary failure carrying the upstream HTTP status so the
// error taxonomy can classify it.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("platform api error %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// HTTPStatus implements domain.StatusCoder.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// Caller is the generic escape hatch every API client exposes: replay an
// arbitrary previously-recorded call.
type Caller interface {
	Call(ctx context.Context, method, endpoint string, payload map[string]any) (map[string]any, error)
}

// Tag is a tag-manager container tag.
type Tag struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Type       string            `json:"type"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// Trigger fires a tag inside a container.
type Trigger struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// TagManager exposes the tag-manager container operations used by
// platform-sync jobs.
type TagManager interface {
	Caller
	CreateTag(ctx context.Context, containerID string, tag Tag) (Tag, error)
	CreateTrigger(ctx context.Context, containerID string, trigger Trigger) (Trigger, error)
	UpdateTag(ctx context.Context, containerID, tagID string, changes map[string]any) (Tag, error)
	DeleteTag(ctx context.Context, containerID, tagID string) error
}

// ConversionAction is an ad-platform conversion action.
type ConversionAction struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// AdPlatform exposes account, conversion-action and query operations plus a
// GAQL-like query executor.
type AdPlatform interface {
	Caller
	GetConversionAction(ctx context.Context, accountID, id string) (ConversionAction, error)
	ListActiveAccounts(ctx context.Context) ([]string, error)
	Query(ctx context.Context, accountID, query string) ([]map[string]any, error)
}

// Customer is a tenant-scoped customer record.
type Customer struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenantId"`
	Email     string `json:"email"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

// CustomerService is the generic record create/update/find collaborator
// bulk imports write through.
type CustomerService interface {
	Caller
	// FindByEmail returns nil when no record exists.
	FindByEmail(ctx context.Context, tenantID, email string) (*Customer, error)
	Create(ctx context.Context, c Customer) (Customer, error)
	Update(ctx context.Context, c Customer) (Customer, error)
}

// Replayer re-issues an arbitrary webhook call.
type Replayer interface {
	Do(ctx context.Context, method, endpoint string, payload map[string]any) error
}

// MetricAggregate accumulates one numeric metric across sub-entities.
type MetricAggregate struct {
	Sum   float64 `json:"sum"`
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
}

// DimensionCount is one row of a categorical frequency table.
type DimensionCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// AggregationRecord is the durable output of an analytics-aggregation job,
// upserted by (tenant, type, range start, range end).
type AggregationRecord struct {
	TenantID   string                      `json:"tenantId"`
	Type       domain.Granularity          `json:"type"`
	RangeStart time.Time                   `json:"rangeStart"`
	RangeEnd   time.Time                   `json:"rangeEnd"`
	Metrics    map[string]MetricAggregate  `json:"metrics"`
	Dimensions map[string][]DimensionCount `json:"dimensions,omitempty"`
	Entities   int                         `json:"entities"`
	UpdatedAt  time.Time                   `json:"updatedAt"`
}

// AggregationStore persists aggregation results with upsert semantics.
type AggregationStore interface {
	Upsert(ctx context.Context, rec AggregationRecord) error
}
