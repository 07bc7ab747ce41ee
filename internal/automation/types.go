// Package automation matches trigger events to active rules, evaluates
// their conditions against contact and event data, and hands rendered
// messages to the delivery channel. Sends that land inside quiet hours are
// deferred, not dropped.
package automation

import (
	"time"

	"github.com/google/uuid"
)

// TriggerType identifies the event class that fires automations.
type TriggerType string

const (
	TriggerNewContact        TriggerType = "new_contact"
	TriggerNewOrder          TriggerType = "new_order"
	TriggerInboundReply      TriggerType = "inbound_reply"
	TriggerOptIn             TriggerType = "opt_in"
	TriggerEventApproaching7 TriggerType = "event_approaching_7d"
	TriggerEventApproaching3 TriggerType = "event_approaching_3d"
	TriggerEventApproaching1 TriggerType = "event_approaching_1d"
)

// Rule is an automation rule bound to a trigger type. Conditions are a flat
// key/value equality map checked against the contact record and event
// payload. ExecutionCount only moves forward and only on confirmed sends.
type Rule struct {
	ID              uuid.UUID         `json:"id" db:"id"`
	Name            string            `json:"name" db:"name"`
	TriggerType     TriggerType       `json:"trigger_type" db:"trigger_type"`
	Conditions      map[string]string `json:"conditions,omitempty" db:"conditions"`
	ActionType      string            `json:"action_type" db:"action_type"`
	TemplateID      uuid.UUID         `json:"template_id" db:"template_id"`
	DelayMinutes    int               `json:"delay_minutes" db:"delay_minutes"`
	TargetSegmentID *uuid.UUID        `json:"target_segment_id,omitempty" db:"target_segment_id"`
	IsActive        bool              `json:"is_active" db:"is_active"`
	ExecutionCount  int               `json:"execution_count" db:"execution_count"`
	CreatedAt       time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at" db:"updated_at"`
}

// DeferReason records why a trigger invocation was pushed into the future.
type DeferReason string

const (
	// DeferQuietHours replays re-evaluate quiet hours and then delay.
	DeferQuietHours DeferReason = "quiet_hours"
	// DeferDelay replays re-evaluate quiet hours only; re-applying the
	// delay would postpone the send forever.
	DeferDelay DeferReason = "delay"
)

// DeferredTrigger is a persisted one-shot replay of a trigger for one rule
// and contact. Rows are claimed with a conditional status flip so two
// overlapping sweeps never replay the same row.
type DeferredTrigger struct {
	ID          uuid.UUID         `json:"id" db:"id"`
	RuleID      uuid.UUID         `json:"rule_id" db:"rule_id"`
	TriggerType TriggerType       `json:"trigger_type" db:"trigger_type"`
	ContactID   uuid.UUID         `json:"contact_id" db:"contact_id"`
	EventData   map[string]string `json:"event_data,omitempty" db:"event_data"`
	Reason      DeferReason       `json:"reason" db:"reason"`
	RunAt       time.Time         `json:"run_at" db:"run_at"`
	Status      string            `json:"status" db:"status"` // pending, processing, done, failed
	CreatedAt   time.Time         `json:"created_at" db:"created_at"`
}

// Settings is the ambient configuration the engine needs, passed explicitly
// at construction instead of read from globals.
type Settings struct {
	QuietHoursEnabled bool
	QuietStartHour    int // inclusive
	QuietEndHour      int // exclusive; window may wrap midnight
	Location          *time.Location
}

// InQuietHours reports whether t falls inside the quiet window. The start
// hour is inclusive and the end hour exclusive: with a 21 to 8 window,
// 21:00 is quiet and 08:00 is not. Malformed windows (start == end, out of
// range) disable quiet hours rather than erroring.
func (s Settings) InQuietHours(t time.Time) bool {
	if !s.QuietHoursEnabled {
		return false
	}
	if s.QuietStartHour < 0 || s.QuietStartHour > 23 || s.QuietEndHour < 0 || s.QuietEndHour > 23 {
		return false
	}
	if s.QuietStartHour == s.QuietEndHour {
		return false
	}
	if s.Location != nil {
		t = t.In(s.Location)
	}
	hour := t.Hour()
	if s.QuietStartHour < s.QuietEndHour {
		return hour >= s.QuietStartHour && hour < s.QuietEndHour
	}
	// Window wraps midnight
	return hour >= s.QuietStartHour || hour < s.QuietEndHour
}

// NextQuietEnd returns the next instant at which the quiet window ends: the
// top of the end hour, today or tomorrow in local time.
func (s Settings) NextQuietEnd(t time.Time) time.Time {
	loc := s.Location
	if loc == nil {
		loc = t.Location()
	}
	local := t.In(loc)
	end := time.Date(local.Year(), local.Month(), local.Day(), s.QuietEndHour, 0, 0, 0, loc)
	if !end.After(local) {
		end = end.AddDate(0, 0, 1)
	}
	return end
}
