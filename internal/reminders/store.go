package reminders

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Store provides database operations for reminders and registrations.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a reminder store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// SetClock overrides the store's clock. Tests use this to pin time.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// ====== REMINDERS ======

const reminderColumns = `id, contact_id, assigned_to, title, description, reminder_type,
	priority, due_date, recurrence, recurring_end_date, status, notification_sent,
	snoozed_until, created_at, updated_at`

// CreateReminder inserts a new reminder.
func (s *Store) CreateReminder(ctx context.Context, r *Reminder) error {
	if r.Title == "" {
		return fmt.Errorf("reminder title is required")
	}
	if r.DueDate.IsZero() {
		return fmt.Errorf("reminder due date is required")
	}
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.Recurrence == "" {
		r.Recurrence = RecurNone
	}
	if r.Priority == "" {
		r.Priority = PriorityNormal
	}
	r.Status = StatusPending
	now := s.now()
	r.CreatedAt = now
	r.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reminders (id, contact_id, assigned_to, title, description, reminder_type,
			priority, due_date, recurrence, recurring_end_date, status, notification_sent,
			snoozed_until, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, FALSE, NULL, $12, $13)`,
		r.ID, r.ContactID, r.AssignedTo, r.Title, r.Description, r.Type,
		r.Priority, r.DueDate, r.Recurrence, r.RecurringEndDate, r.Status,
		r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create reminder: %w", err)
	}
	return nil
}

// GetReminder fetches a reminder by ID. Returns (nil, nil) when not found.
func (s *Store) GetReminder(ctx context.Context, id uuid.UUID) (*Reminder, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+reminderColumns+` FROM reminders WHERE id = $1`, id)
	r, err := scanReminder(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reminder: %w", err)
	}
	return r, nil
}

// Snooze moves a reminder into the snoozed status until the given time. The
// notification_sent flag stays as it is.
func (s *Store) Snooze(ctx context.Context, id uuid.UUID, until time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE reminders SET status = $2, snoozed_until = $3, updated_at = $4
		WHERE id = $1 AND status != $5`,
		id, StatusSnoozed, until, s.now(), StatusCompleted)
	if err != nil {
		return fmt.Errorf("failed to snooze reminder: %w", err)
	}
	return nil
}

// Complete marks a reminder done and, for recurring reminders, creates the
// successor. The successor's due date is computed from the completed
// reminder's due date, and none is created past the recurring end date.
// Returns the successor, or nil when the series ends.
func (s *Store) Complete(ctx context.Context, id uuid.UUID) (*Reminder, error) {
	r, err := s.GetReminder(ctx, id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, fmt.Errorf("reminder %s not found", id)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE reminders SET status = $2, updated_at = $3 WHERE id = $1`,
		id, StatusCompleted, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to complete reminder: %w", err)
	}

	next, ok := r.Recurrence.NextOccurrence(r.DueDate)
	if !ok {
		return nil, nil
	}
	if r.RecurringEndDate != nil && next.After(*r.RecurringEndDate) {
		return nil, nil
	}

	successor := &Reminder{
		ContactID:        r.ContactID,
		AssignedTo:       r.AssignedTo,
		Title:            r.Title,
		Description:      r.Description,
		Type:             r.Type,
		Priority:         r.Priority,
		DueDate:          next,
		Recurrence:       r.Recurrence,
		RecurringEndDate: r.RecurringEndDate,
	}
	if err := s.CreateReminder(ctx, successor); err != nil {
		return nil, fmt.Errorf("failed to create recurring successor: %w", err)
	}
	return successor, nil
}

// UnsnoozeDue returns expired snoozes to the pending status so they
// re-enter the due check. Returns the number of reminders woken.
func (s *Store) UnsnoozeDue(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE reminders SET status = $1, snoozed_until = NULL, updated_at = $2
		WHERE status = $3 AND snoozed_until IS NOT NULL AND snoozed_until <= $2`,
		StatusPending, s.now(), StatusSnoozed)
	if err != nil {
		return 0, fmt.Errorf("failed to wake snoozed reminders: %w", err)
	}
	return res.RowsAffected()
}

// ListDueUnnotified returns pending, un-notified reminders due within the
// lookahead window. Snoozed reminders are excluded by status.
func (s *Store) ListDueUnnotified(ctx context.Context, lookahead time.Duration) ([]*Reminder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+reminderColumns+`
		FROM reminders
		WHERE status = $1
		  AND notification_sent = FALSE
		  AND due_date <= $2
		ORDER BY due_date ASC`, StatusPending, s.now().Add(lookahead))
	if err != nil {
		return nil, fmt.Errorf("failed to list due reminders: %w", err)
	}
	defer rows.Close()

	var due []*Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reminder: %w", err)
		}
		due = append(due, r)
	}
	return due, rows.Err()
}

// ClaimNotification flips notification_sent to TRUE. Returns false when the
// reminder was already notified, so overlapping sweeps notify once.
func (s *Store) ClaimNotification(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE reminders SET notification_sent = TRUE, updated_at = $2
		WHERE id = $1 AND notification_sent = FALSE`, id, s.now())
	if err != nil {
		return false, fmt.Errorf("failed to claim reminder notification: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to claim reminder notification: %w", err)
	}
	return n == 1, nil
}

// ====== REGISTRATIONS ======

const registrationColumns = `id, contact_id, event_date, registration_status,
	reminder_7d_sent, reminder_3d_sent, reminder_1d_sent, created_at, updated_at`

// eventFlagColumns maps day offsets to their sent-flag columns. Column
// names never come from caller input.
var eventFlagColumns = map[int]string{
	7: "reminder_7d_sent",
	3: "reminder_3d_sent",
	1: "reminder_1d_sent",
}

// CreateRegistration inserts an event registration.
func (s *Store) CreateRegistration(ctx context.Context, r *Registration) error {
	if r.ContactID == uuid.Nil {
		return fmt.Errorf("registration contact is required")
	}
	if r.EventDate.IsZero() {
		return fmt.Errorf("registration event date is required")
	}
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.RegistrationStatus == "" {
		r.RegistrationStatus = RegistrationConfirmed
	}
	now := s.now()
	r.CreatedAt = now
	r.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO registrations (id, contact_id, event_date, registration_status,
			reminder_7d_sent, reminder_3d_sent, reminder_1d_sent, created_at, updated_at)
		VALUES ($1, $2, $3, $4, FALSE, FALSE, FALSE, $5, $6)`,
		r.ID, r.ContactID, r.EventDate, r.RegistrationStatus, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create registration: %w", err)
	}
	return nil
}

// ListEventApproaching returns confirmed or completed registrations whose
// event date falls exactly offset days from today with the offset flag
// still unset. The match is on calendar day, not a rolling window: a sweep
// outage skips an offset, and the next offset still fires.
func (s *Store) ListEventApproaching(ctx context.Context, offset int) ([]*Registration, error) {
	col, ok := eventFlagColumns[offset]
	if !ok {
		return nil, fmt.Errorf("unsupported reminder offset %d", offset)
	}

	target := s.now().AddDate(0, 0, offset)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+registrationColumns+`
		FROM registrations
		WHERE registration_status IN ($1, $2)
		  AND event_date::date = $3::date
		  AND `+col+` = FALSE
		ORDER BY event_date ASC`,
		RegistrationConfirmed, RegistrationCompleted, target)
	if err != nil {
		return nil, fmt.Errorf("failed to list approaching registrations: %w", err)
	}
	defer rows.Close()

	var regs []*Registration
	for rows.Next() {
		r := &Registration{}
		if err := rows.Scan(&r.ID, &r.ContactID, &r.EventDate, &r.RegistrationStatus,
			&r.Reminder7Sent, &r.Reminder3Sent, &r.Reminder1Sent,
			&r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan registration: %w", err)
		}
		regs = append(regs, r)
	}
	return regs, rows.Err()
}

// ClaimEventFlag flips the sent flag for one offset. Returns false when
// another sweep already claimed it.
func (s *Store) ClaimEventFlag(ctx context.Context, id uuid.UUID, offset int) (bool, error) {
	col, ok := eventFlagColumns[offset]
	if !ok {
		return false, fmt.Errorf("unsupported reminder offset %d", offset)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE registrations SET `+col+` = TRUE, updated_at = $2
		WHERE id = $1 AND `+col+` = FALSE`, id, s.now())
	if err != nil {
		return false, fmt.Errorf("failed to claim registration reminder: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to claim registration reminder: %w", err)
	}
	return n == 1, nil
}

// ====== HELPERS ======

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanReminder(row rowScanner) (*Reminder, error) {
	r := &Reminder{}
	var contactID uuid.NullUUID
	var assignedTo, description, rtype sql.NullString
	var recurringEnd, snoozedUntil sql.NullTime

	err := row.Scan(&r.ID, &contactID, &assignedTo, &r.Title, &description, &rtype,
		&r.Priority, &r.DueDate, &r.Recurrence, &recurringEnd, &r.Status,
		&r.NotificationSent, &snoozedUntil, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if contactID.Valid {
		r.ContactID = &contactID.UUID
	}
	r.AssignedTo = assignedTo.String
	r.Description = description.String
	r.Type = rtype.String
	if recurringEnd.Valid {
		r.RecurringEndDate = &recurringEnd.Time
	}
	if snoozedUntil.Valid {
		r.SnoozedUntil = &snoozedUntil.Time
	}
	return r, nil
}
