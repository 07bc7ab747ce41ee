package segmentation

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SegmentType distinguishes how a segment's membership is resolved.
type SegmentType string

const (
	// SegmentSmart membership is computed live from a criteria tree.
	SegmentSmart SegmentType = "smart"
	// SegmentStatic membership is an explicit member list.
	SegmentStatic SegmentType = "static"
	// SegmentCustom is a user-authored criteria segment.
	SegmentCustom SegmentType = "custom"
	// SegmentHubSpot mirrors a list synced from HubSpot.
	SegmentHubSpot SegmentType = "hubspot"
)

// Segment is a named, persisted contact query (or explicit member list).
// CachedCount/CacheUpdatedAt are a denormalized snapshot and never
// authoritative; live counts come from CountByCriteria or the member table.
type Segment struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	Name           string          `json:"name" db:"name"`
	Description    string          `json:"description,omitempty" db:"description"`
	SegmentType    SegmentType     `json:"segment_type" db:"segment_type"`
	Criteria       json.RawMessage `json:"criteria,omitempty" db:"criteria"`
	IsDynamic      bool            `json:"is_dynamic" db:"is_dynamic"`
	IsActive       bool            `json:"is_active" db:"is_active"`
	CachedCount    int             `json:"cached_count" db:"cached_count"`
	CacheUpdatedAt *time.Time      `json:"cache_updated_at,omitempty" db:"cache_updated_at"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}

// UsesCriteria reports whether membership is resolved through the compiler.
func (s *Segment) UsesCriteria() bool {
	return s.SegmentType != SegmentStatic
}

// SegmentUpdate carries a partial segment update; nil fields are untouched.
type SegmentUpdate struct {
	Name        *string          `json:"name,omitempty"`
	Description *string          `json:"description,omitempty"`
	SegmentType *SegmentType     `json:"segment_type,omitempty"`
	Criteria    *json.RawMessage `json:"criteria,omitempty"`
	IsActive    *bool            `json:"is_active,omitempty"`
}

// Member is a static-segment join row; at most one per (segment, contact).
type Member struct {
	SegmentID uuid.UUID `json:"segment_id" db:"segment_id"`
	ContactID uuid.UUID `json:"contact_id" db:"contact_id"`
	AddedAt   time.Time `json:"added_at" db:"added_at"`
}
