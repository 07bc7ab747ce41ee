package reminders

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC)

func newStoreWithMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := NewStore(db)
	store.SetClock(func() time.Time { return testNow })
	return store, mock
}

func reminderRow(id uuid.UUID, due time.Time, rec Recurrence, end *time.Time) *sqlmock.Rows {
	var endVal interface{}
	if end != nil {
		endVal = *end
	}
	return sqlmock.NewRows([]string{
		"id", "contact_id", "assigned_to", "title", "description", "reminder_type",
		"priority", "due_date", "recurrence", "recurring_end_date", "status",
		"notification_sent", "snoozed_until", "created_at", "updated_at",
	}).AddRow(id, nil, "ops", "Renew permit", "", "follow_up",
		PriorityHigh, due, string(rec), endVal, StatusPending,
		false, nil, testNow, testNow)
}

func TestNextOccurrence(t *testing.T) {
	due := time.Date(2024, 1, 31, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		rec  Recurrence
		want time.Time
		ok   bool
	}{
		{RecurDaily, time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC), true},
		{RecurWeekly, time.Date(2024, 2, 7, 9, 0, 0, 0, time.UTC), true},
		{RecurBiweekly, time.Date(2024, 2, 14, 9, 0, 0, 0, time.UTC), true},
		// Jan 31 + 1 month normalizes per time.AddDate.
		{RecurMonthly, time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC), true},
		{RecurQuarterly, time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC), true},
		{RecurYearly, time.Date(2025, 1, 31, 9, 0, 0, 0, time.UTC), true},
		{RecurNone, time.Time{}, false},
		{Recurrence("hourly"), time.Time{}, false},
	}
	for _, tt := range tests {
		got, ok := tt.rec.NextOccurrence(due)
		if ok != tt.ok || (ok && !got.Equal(tt.want)) {
			t.Errorf("NextOccurrence(%s, %v) = %v, %v; want %v, %v",
				tt.rec, due, got, ok, tt.want, tt.ok)
		}
	}
}

func TestCompleteCreatesRecurringSuccessor(t *testing.T) {
	store, mock := newStoreWithMock(t)
	id := uuid.New()
	due := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT (.+) FROM reminders WHERE id`).
		WillReturnRows(reminderRow(id, due, RecurWeekly, &end))
	mock.ExpectExec(`UPDATE reminders SET status`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO reminders`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	successor, err := store.Complete(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, successor)

	// The successor is due a week after the original due date, not a week
	// after completion, and carries assignee/type/priority forward.
	assert.Equal(t, time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC), successor.DueDate)
	assert.Equal(t, "ops", successor.AssignedTo)
	assert.Equal(t, "follow_up", successor.Type)
	assert.Equal(t, PriorityHigh, successor.Priority)
	assert.False(t, successor.NotificationSent)
	assert.Equal(t, StatusPending, successor.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteStopsSeriesAtEndDate(t *testing.T) {
	store, mock := newStoreWithMock(t)
	id := uuid.New()
	// Due Jan 8, weekly, series ends Jan 10: the next occurrence (Jan 15)
	// falls past the end date, so no successor is created.
	due := time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT (.+) FROM reminders WHERE id`).
		WillReturnRows(reminderRow(id, due, RecurWeekly, &end))
	mock.ExpectExec(`UPDATE reminders SET status`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// No INSERT expected.

	successor, err := store.Complete(context.Background(), id)
	require.NoError(t, err)
	assert.Nil(t, successor)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteNonRecurring(t *testing.T) {
	store, mock := newStoreWithMock(t)
	id := uuid.New()

	mock.ExpectQuery(`SELECT (.+) FROM reminders WHERE id`).
		WillReturnRows(reminderRow(id, testNow, RecurNone, nil))
	mock.ExpectExec(`UPDATE reminders SET status`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	successor, err := store.Complete(context.Background(), id)
	require.NoError(t, err)
	assert.Nil(t, successor)
}

func TestSnoozeKeepsNotificationFlag(t *testing.T) {
	store, mock := newStoreWithMock(t)
	id := uuid.New()
	until := testNow.Add(2 * time.Hour)

	// The UPDATE touches status and snoozed_until only; notification_sent
	// stays put, so an already-notified reminder will not notify again when
	// it wakes.
	mock.ExpectExec(`UPDATE reminders SET status = \$2, snoozed_until = \$3, updated_at = \$4\s+WHERE id = \$1 AND status != \$5`).
		WithArgs(id, StatusSnoozed, until, testNow, StatusCompleted).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Snooze(context.Background(), id, until))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimNotificationOnceOnly(t *testing.T) {
	store, mock := newStoreWithMock(t)
	id := uuid.New()

	mock.ExpectExec(`UPDATE reminders SET notification_sent = TRUE`).
		WithArgs(id, testNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	claimed, err := store.ClaimNotification(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, claimed)

	mock.ExpectExec(`UPDATE reminders SET notification_sent = TRUE`).
		WithArgs(id, testNow).
		WillReturnResult(sqlmock.NewResult(0, 0))
	claimed, err = store.ClaimNotification(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestUnsnoozeDueFlipsStatusBack(t *testing.T) {
	store, mock := newStoreWithMock(t)

	mock.ExpectExec(`UPDATE reminders SET status = \$1, snoozed_until = NULL`).
		WithArgs(StatusPending, testNow, StatusSnoozed).
		WillReturnResult(sqlmock.NewResult(0, 2))

	woken, err := store.UnsnoozeDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), woken)
}

func TestListEventApproachingRejectsUnknownOffset(t *testing.T) {
	store, _ := newStoreWithMock(t)
	_, err := store.ListEventApproaching(context.Background(), 5)
	assert.Error(t, err)
}

func TestListEventApproachingExcludesCancelled(t *testing.T) {
	store, mock := newStoreWithMock(t)

	mock.ExpectQuery(`SELECT (.+) FROM registrations\s+WHERE registration_status IN \(\$1, \$2\)`).
		WithArgs(RegistrationConfirmed, RegistrationCompleted, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "contact_id", "event_date", "registration_status",
			"reminder_7d_sent", "reminder_3d_sent", "reminder_1d_sent",
			"created_at", "updated_at",
		}))

	regs, err := store.ListEventApproaching(context.Background(), 7)
	require.NoError(t, err)
	assert.Empty(t, regs)
	assert.NoError(t, mock.ExpectationsWereMet())
}
