// Package reminders schedules due-date reminders with snooze and
// recurrence, plus day-offset approaching-event reminders for
// registrations. Sweeps only flip flags forward; a reminder never becomes
// un-notified again.
package reminders

import (
	"time"

	"github.com/google/uuid"
)

// Recurrence is the repeat cadence of a reminder. Successors are computed
// from the due date, not from when the reminder was completed, so a late
// completion does not drift the schedule.
type Recurrence string

const (
	RecurNone      Recurrence = "none"
	RecurDaily     Recurrence = "daily"
	RecurWeekly    Recurrence = "weekly"
	RecurBiweekly  Recurrence = "biweekly"
	RecurMonthly   Recurrence = "monthly"
	RecurQuarterly Recurrence = "quarterly"
	RecurYearly    Recurrence = "yearly"
)

// NextOccurrence returns the successor due date after due, or ok=false when
// the recurrence does not repeat.
func (r Recurrence) NextOccurrence(due time.Time) (time.Time, bool) {
	switch r {
	case RecurDaily:
		return due.AddDate(0, 0, 1), true
	case RecurWeekly:
		return due.AddDate(0, 0, 7), true
	case RecurBiweekly:
		return due.AddDate(0, 0, 14), true
	case RecurMonthly:
		return due.AddDate(0, 1, 0), true
	case RecurQuarterly:
		return due.AddDate(0, 3, 0), true
	case RecurYearly:
		return due.AddDate(1, 0, 0), true
	default:
		return time.Time{}, false
	}
}

// Reminder statuses.
const (
	StatusPending   = "pending"
	StatusSnoozed   = "snoozed"
	StatusCompleted = "completed"
)

// Reminder priorities.
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

// Reminder is a dated to-do, optionally tied to a contact and optionally
// recurring. Snoozing moves the reminder to the snoozed status without
// clearing NotificationSent; a snoozed reminder that already notified will
// not notify again for the same due date.
type Reminder struct {
	ID               uuid.UUID  `json:"id" db:"id"`
	ContactID        *uuid.UUID `json:"contact_id,omitempty" db:"contact_id"`
	AssignedTo       string     `json:"assigned_to,omitempty" db:"assigned_to"`
	Title            string     `json:"title" db:"title"`
	Description      string     `json:"description,omitempty" db:"description"`
	Type             string     `json:"reminder_type,omitempty" db:"reminder_type"`
	Priority         string     `json:"priority" db:"priority"`
	DueDate          time.Time  `json:"due_date" db:"due_date"`
	Recurrence       Recurrence `json:"recurrence" db:"recurrence"`
	RecurringEndDate *time.Time `json:"recurring_end_date,omitempty" db:"recurring_end_date"`
	Status           string     `json:"status" db:"status"`
	NotificationSent bool       `json:"notification_sent" db:"notification_sent"`
	SnoozedUntil     *time.Time `json:"snoozed_until,omitempty" db:"snoozed_until"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
}

// Registration statuses that qualify for approaching-event reminders.
const (
	RegistrationConfirmed = "confirmed"
	RegistrationCompleted = "completed"
	RegistrationCancelled = "cancelled"
)

// Registration ties a contact to a dated event. Approaching-event reminders
// fire at fixed day offsets before EventDate; each offset has its own
// one-way sent flag. Cancelled registrations never remind.
type Registration struct {
	ID                 uuid.UUID `json:"id" db:"id"`
	ContactID          uuid.UUID `json:"contact_id" db:"contact_id"`
	EventDate          time.Time `json:"event_date" db:"event_date"`
	RegistrationStatus string    `json:"registration_status" db:"registration_status"`
	Reminder7Sent      bool      `json:"reminder_7d_sent" db:"reminder_7d_sent"`
	Reminder3Sent      bool      `json:"reminder_3d_sent" db:"reminder_3d_sent"`
	Reminder1Sent      bool      `json:"reminder_1d_sent" db:"reminder_1d_sent"`
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time `json:"updated_at" db:"updated_at"`
}
