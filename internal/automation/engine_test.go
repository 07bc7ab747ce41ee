package automation

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hubwire/comms-core/internal/contacts"
	"github.com/hubwire/comms-core/internal/delivery"
	"github.com/hubwire/comms-core/internal/templates"
)

// fakeSender records messages and reports a configurable outcome.
type fakeSender struct {
	sent    []delivery.Message
	succeed bool
}

func (f *fakeSender) Send(_ context.Context, msg delivery.Message) delivery.Result {
	f.sent = append(f.sent, msg)
	return delivery.Result{Success: f.succeed, ProviderID: "fake-1"}
}

func newTestEngine(t *testing.T, sender delivery.Sender, settings Settings, now time.Time) (*Engine, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := NewStore(db)
	store.SetClock(func() time.Time { return now })
	engine := NewEngine(store, contacts.NewStore(db), templates.NewStore(db),
		templates.NewRenderer(), sender, nil, settings)
	engine.SetClock(func() time.Time { return now })
	return engine, mock
}

func ruleRows(r *Rule, conditions string) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "name", "trigger_type", "conditions", "action_type", "template_id",
		"delay_minutes", "target_segment_id", "is_active", "execution_count",
		"created_at", "updated_at",
	})
	var cond interface{}
	if conditions != "" {
		cond = []byte(conditions)
	}
	return rows.AddRow(r.ID, r.Name, r.TriggerType, cond, r.ActionType, r.TemplateID,
		r.DelayMinutes, nil, true, r.ExecutionCount, time.Now(), time.Now())
}

func contactRow(id uuid.UUID, phone string, optedIn, optedOut bool) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "first_name", "last_name", "phone", "email", "state", "city", "zip",
		"tags", "segments", "source", "assigned_va",
		"opted_in", "opted_out", "do_not_contact",
		"relationship_score", "total_interactions", "total_orders", "lifetime_value",
		"created_at", "last_interaction_at", "last_order_at",
	}).AddRow(id, "Ada", "Lovelace", phone, "ada@example.com", "TX", "Austin", "78701",
		"vip", "", "web", "", optedIn, optedOut, false,
		80, 5, 2, 120.50, time.Now(), nil, nil)
}

func templateRow(id uuid.UUID, content string, mt templates.MessageType) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "name", "content", "message_type", "is_active", "created_at", "updated_at",
	}).AddRow(id, "Welcome", content, mt, true, time.Now(), time.Now())
}

func TestTriggerSendsRenderedMessage(t *testing.T) {
	sender := &fakeSender{succeed: true}
	daytime := time.Date(2026, 3, 15, 14, 0, 0, 0, time.UTC)
	engine, mock := newTestEngine(t, sender,
		Settings{QuietHoursEnabled: true, QuietStartHour: 21, QuietEndHour: 8}, daytime)

	ruleID, contactID, templateID := uuid.New(), uuid.New(), uuid.New()
	rule := &Rule{ID: ruleID, Name: "welcome", TriggerType: TriggerNewContact, TemplateID: templateID}

	mock.ExpectQuery(`SELECT (.+) FROM automation_rules`).
		WillReturnRows(ruleRows(rule, ""))
	mock.ExpectQuery(`SELECT (.+) FROM contacts`).
		WillReturnRows(contactRow(contactID, "+15125550100", true, false))
	mock.ExpectQuery(`SELECT (.+) FROM message_templates`).
		WillReturnRows(templateRow(templateID, "Hi {first_name}, welcome!", templates.MessageSMS))
	mock.ExpectExec(`UPDATE automation_rules\s+SET execution_count = execution_count \+ 1`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE contacts\s+SET total_interactions`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := engine.Trigger(context.Background(), TriggerNewContact, contactID, nil)
	require.NoError(t, err)

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "Hi Ada, welcome!", sender.sent[0].Body)
	assert.Equal(t, delivery.ChannelSMS, sender.sent[0].Channel)
	assert.Equal(t, "+15125550100", sender.sent[0].To)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTriggerDropsUnreachableContact(t *testing.T) {
	sender := &fakeSender{succeed: true}
	engine, mock := newTestEngine(t, sender, Settings{}, time.Now())

	rule := &Rule{ID: uuid.New(), Name: "welcome", TriggerType: TriggerNewContact, TemplateID: uuid.New()}
	contactID := uuid.New()

	mock.ExpectQuery(`SELECT (.+) FROM automation_rules`).
		WillReturnRows(ruleRows(rule, ""))
	mock.ExpectQuery(`SELECT (.+) FROM contacts`).
		WillReturnRows(contactRow(contactID, "+15125550100", true, true))

	err := engine.Trigger(context.Background(), TriggerNewContact, contactID, nil)
	require.NoError(t, err)

	// Opted-out contact: no send, no deferral, no error.
	assert.Empty(t, sender.sent)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTriggerConditionMismatchSkipsRule(t *testing.T) {
	sender := &fakeSender{succeed: true}
	engine, mock := newTestEngine(t, sender, Settings{}, time.Now())

	rule := &Rule{ID: uuid.New(), Name: "texans", TriggerType: TriggerNewOrder, TemplateID: uuid.New()}
	contactID := uuid.New()

	mock.ExpectQuery(`SELECT (.+) FROM automation_rules`).
		WillReturnRows(ruleRows(rule, `{"state":"CA"}`))
	mock.ExpectQuery(`SELECT (.+) FROM contacts`).
		WillReturnRows(contactRow(contactID, "+15125550100", true, false))

	err := engine.Trigger(context.Background(), TriggerNewOrder, contactID, nil)
	require.NoError(t, err)
	assert.Empty(t, sender.sent)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTriggerMissingConditionKeyDoesNotBlock(t *testing.T) {
	sender := &fakeSender{succeed: true}
	engine, mock := newTestEngine(t, sender, Settings{}, time.Now())

	rule := &Rule{ID: uuid.New(), Name: "order follow-up", TriggerType: TriggerNewOrder, TemplateID: uuid.New()}
	contactID := uuid.New()

	// order_total is not a contact field and absent from event data.
	mock.ExpectQuery(`SELECT (.+) FROM automation_rules`).
		WillReturnRows(ruleRows(rule, `{"order_total":"100"}`))
	mock.ExpectQuery(`SELECT (.+) FROM contacts`).
		WillReturnRows(contactRow(contactID, "+15125550100", true, false))
	mock.ExpectQuery(`SELECT (.+) FROM message_templates`).
		WillReturnRows(templateRow(rule.TemplateID, "Thanks!", templates.MessageSMS))
	mock.ExpectExec(`UPDATE automation_rules`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE contacts`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := engine.Trigger(context.Background(), TriggerNewOrder, contactID, nil)
	require.NoError(t, err)
	assert.Len(t, sender.sent, 1)
}

func TestTriggerEventDataSatisfiesCondition(t *testing.T) {
	sender := &fakeSender{succeed: true}
	engine, mock := newTestEngine(t, sender, Settings{}, time.Now())

	rule := &Rule{ID: uuid.New(), Name: "big orders", TriggerType: TriggerNewOrder, TemplateID: uuid.New()}
	contactID := uuid.New()

	mock.ExpectQuery(`SELECT (.+) FROM automation_rules`).
		WillReturnRows(ruleRows(rule, `{"order_size":"large"}`))
	mock.ExpectQuery(`SELECT (.+) FROM contacts`).
		WillReturnRows(contactRow(contactID, "+15125550100", true, false))
	mock.ExpectQuery(`SELECT (.+) FROM message_templates`).
		WillReturnRows(templateRow(rule.TemplateID, "Your {order_size} order shipped", templates.MessageSMS))
	mock.ExpectExec(`UPDATE automation_rules`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE contacts`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := engine.Trigger(context.Background(), TriggerNewOrder, contactID,
		map[string]string{"order_size": "large"})
	require.NoError(t, err)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "Your large order shipped", sender.sent[0].Body)
}

func TestTriggerDefersDuringQuietHours(t *testing.T) {
	sender := &fakeSender{succeed: true}
	lateNight := time.Date(2026, 3, 15, 23, 0, 0, 0, time.UTC)
	engine, mock := newTestEngine(t, sender,
		Settings{QuietHoursEnabled: true, QuietStartHour: 21, QuietEndHour: 8}, lateNight)

	rule := &Rule{ID: uuid.New(), Name: "welcome", TriggerType: TriggerNewContact, TemplateID: uuid.New()}
	contactID := uuid.New()

	mock.ExpectQuery(`SELECT (.+) FROM automation_rules`).
		WillReturnRows(ruleRows(rule, ""))
	mock.ExpectQuery(`SELECT (.+) FROM contacts`).
		WillReturnRows(contactRow(contactID, "+15125550100", true, false))
	mock.ExpectExec(`INSERT INTO deferred_triggers`).
		WithArgs(sqlmock.AnyArg(), rule.ID, string(TriggerNewContact), contactID,
			nil, string(DeferQuietHours),
			time.Date(2026, 3, 16, 8, 0, 0, 0, time.UTC), lateNight).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := engine.Trigger(context.Background(), TriggerNewContact, contactID, nil)
	require.NoError(t, err)
	assert.Empty(t, sender.sent)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTriggerDefersForDelay(t *testing.T) {
	sender := &fakeSender{succeed: true}
	daytime := time.Date(2026, 3, 15, 14, 0, 0, 0, time.UTC)
	engine, mock := newTestEngine(t, sender, Settings{}, daytime)

	rule := &Rule{ID: uuid.New(), Name: "follow-up", TriggerType: TriggerNewOrder,
		TemplateID: uuid.New(), DelayMinutes: 90}
	contactID := uuid.New()

	mock.ExpectQuery(`SELECT (.+) FROM automation_rules`).
		WillReturnRows(ruleRows(rule, ""))
	mock.ExpectQuery(`SELECT (.+) FROM contacts`).
		WillReturnRows(contactRow(contactID, "+15125550100", true, false))
	mock.ExpectExec(`INSERT INTO deferred_triggers`).
		WithArgs(sqlmock.AnyArg(), rule.ID, string(TriggerNewOrder), contactID,
			nil, string(DeferDelay), daytime.Add(90*time.Minute), daytime).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := engine.Trigger(context.Background(), TriggerNewOrder, contactID, nil)
	require.NoError(t, err)
	assert.Empty(t, sender.sent)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFailedSendDoesNotIncrementCounter(t *testing.T) {
	sender := &fakeSender{succeed: false}
	engine, mock := newTestEngine(t, sender, Settings{}, time.Now())

	rule := &Rule{ID: uuid.New(), Name: "welcome", TriggerType: TriggerNewContact, TemplateID: uuid.New()}
	contactID := uuid.New()

	mock.ExpectQuery(`SELECT (.+) FROM automation_rules`).
		WillReturnRows(ruleRows(rule, ""))
	mock.ExpectQuery(`SELECT (.+) FROM contacts`).
		WillReturnRows(contactRow(contactID, "+15125550100", true, false))
	mock.ExpectQuery(`SELECT (.+) FROM message_templates`).
		WillReturnRows(templateRow(rule.TemplateID, "Hi", templates.MessageSMS))
	// No UPDATE expectations: a failed send must not touch counters.

	err := engine.Trigger(context.Background(), TriggerNewContact, contactID, nil)
	require.NoError(t, err)
	assert.Len(t, sender.sent, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessDeferredSweepSkipsUnclaimedRows(t *testing.T) {
	sender := &fakeSender{succeed: true}
	daytime := time.Date(2026, 3, 15, 14, 0, 0, 0, time.UTC)
	engine, mock := newTestEngine(t, sender, Settings{}, daytime)

	deferredID, ruleID, contactID := uuid.New(), uuid.New(), uuid.New()

	mock.ExpectQuery(`SELECT (.+) FROM deferred_triggers`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "rule_id", "trigger_type", "contact_id", "event_data",
			"reason", "run_at", "status", "created_at",
		}).AddRow(deferredID, ruleID, "new_order", contactID, nil,
			"delay", daytime.Add(-time.Minute), "pending", daytime.Add(-2*time.Hour)))
	// Another worker claimed the row first.
	mock.ExpectExec(`UPDATE deferred_triggers SET status = 'processing'`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	processed, err := engine.ProcessDeferredSweep(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, 0, processed)
	assert.Empty(t, sender.sent)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessDeferredSweepReplaysDelayRow(t *testing.T) {
	sender := &fakeSender{succeed: true}
	daytime := time.Date(2026, 3, 15, 14, 0, 0, 0, time.UTC)
	engine, mock := newTestEngine(t, sender, Settings{}, daytime)

	deferredID, ruleID, contactID, templateID := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	rule := &Rule{ID: ruleID, Name: "follow-up", TriggerType: TriggerNewOrder,
		TemplateID: templateID, DelayMinutes: 90}

	mock.ExpectQuery(`SELECT (.+) FROM deferred_triggers`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "rule_id", "trigger_type", "contact_id", "event_data",
			"reason", "run_at", "status", "created_at",
		}).AddRow(deferredID, ruleID, "new_order", contactID, nil,
			"delay", daytime.Add(-time.Minute), "pending", daytime.Add(-2*time.Hour)))
	mock.ExpectExec(`UPDATE deferred_triggers SET status = 'processing'`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT (.+) FROM automation_rules`).
		WillReturnRows(ruleRows(rule, ""))
	mock.ExpectQuery(`SELECT (.+) FROM contacts`).
		WillReturnRows(contactRow(contactID, "+15125550100", true, false))
	mock.ExpectQuery(`SELECT (.+) FROM message_templates`).
		WillReturnRows(templateRow(templateID, "Thanks!", templates.MessageSMS))
	mock.ExpectExec(`UPDATE automation_rules`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE contacts`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE deferred_triggers SET status = \$2`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	processed, err := engine.ProcessDeferredSweep(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	// The delay must not be re-applied on replay: the message goes out now.
	require.Len(t, sender.sent, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}
