package reminders

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/hubwire/comms-core/internal/automation"
	"github.com/hubwire/comms-core/internal/notify"
	"github.com/hubwire/comms-core/internal/pkg/logger"
)

// eventOffsets pairs each registration reminder offset with the trigger it
// fires. Offsets match on exact calendar day, so on any given sweep day a
// registration matches at most one of them.
var eventOffsets = []struct {
	days    int
	trigger automation.TriggerType
}{
	{7, automation.TriggerEventApproaching7},
	{3, automation.TriggerEventApproaching3},
	{1, automation.TriggerEventApproaching1},
}

// Scheduler runs the reminder sweeps. Due reminders raise notifications;
// approaching event registrations fire automation triggers.
type Scheduler struct {
	store     *Store
	engine    *automation.Engine
	notifier  notify.Notifier
	lookahead time.Duration
}

// NewScheduler creates a reminder scheduler.
func NewScheduler(store *Store, engine *automation.Engine, notifier notify.Notifier, lookahead time.Duration) *Scheduler {
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}
	if lookahead <= 0 {
		lookahead = 5 * time.Minute
	}
	return &Scheduler{
		store:     store,
		engine:    engine,
		notifier:  notifier,
		lookahead: lookahead,
	}
}

// ProcessDueSweep wakes expired snoozes, then notifies due reminders. The
// two steps run as separate queries in one pass: a snooze expiring right
// now re-enters the due check on this same sweep. Each notification is
// claimed with a conditional flag flip so overlapping sweeps notify once.
// Returns the number of reminders notified.
func (s *Scheduler) ProcessDueSweep(ctx context.Context) (int, error) {
	woken, err := s.store.UnsnoozeDue(ctx)
	if err != nil {
		return 0, fmt.Errorf("reminder sweep: %w", err)
	}
	if woken > 0 {
		logger.Info("reminders woken from snooze", "count", woken)
	}

	due, err := s.store.ListDueUnnotified(ctx, s.lookahead)
	if err != nil {
		return 0, fmt.Errorf("reminder sweep: %w", err)
	}

	notified := 0
	for _, r := range due {
		claimed, err := s.store.ClaimNotification(ctx, r.ID)
		if err != nil {
			logger.Error("failed to claim reminder notification",
				"reminder_id", r.ID.String(), "error", err.Error())
			continue
		}
		if !claimed {
			continue
		}

		payload := notify.Payload{
			"event":       "reminder_due",
			"reminder_id": r.ID.String(),
			"title":       r.Title,
			"priority":    r.Priority,
			"due_date":    r.DueDate.Format(time.RFC3339),
		}
		if r.ContactID != nil {
			payload["contact_id"] = r.ContactID.String()
		}
		recipient := r.AssignedTo
		if recipient == "" {
			recipient = notify.Broadcast
		}
		if err := s.notifier.Notify(ctx, recipient, payload); err != nil {
			logger.Error("failed to notify due reminder",
				"reminder_id", r.ID.String(), "error", err.Error())
		}
		notified++
	}
	return notified, nil
}

// ProcessRegistrationSweep fires approaching-event triggers for
// registrations exactly 7, 3, and 1 days from their event date. Each
// offset flag is claimed before the trigger fires, so a registration gets
// at most one reminder per offset. Returns the number of triggers fired.
func (s *Scheduler) ProcessRegistrationSweep(ctx context.Context) (int, error) {
	fired := 0
	for _, off := range eventOffsets {
		regs, err := s.store.ListEventApproaching(ctx, off.days)
		if err != nil {
			return fired, fmt.Errorf("registration sweep: %w", err)
		}

		for _, reg := range regs {
			claimed, err := s.store.ClaimEventFlag(ctx, reg.ID, off.days)
			if err != nil {
				logger.Error("failed to claim registration reminder",
					"registration_id", reg.ID.String(), "error", err.Error())
				continue
			}
			if !claimed {
				continue
			}

			eventData := map[string]string{
				"event_date":          reg.EventDate.Format("2006-01-02"),
				"days_until_event":    strconv.Itoa(off.days),
				"registration_status": reg.RegistrationStatus,
			}
			if err := s.engine.Trigger(ctx, off.trigger, reg.ContactID, eventData); err != nil {
				logger.Error("registration reminder trigger failed",
					"registration_id", reg.ID.String(), "trigger", string(off.trigger),
					"error", err.Error())
				continue
			}
			fired++
		}
	}
	return fired, nil
}
