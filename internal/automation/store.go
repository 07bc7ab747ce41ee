package automation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Store provides database operations for automation rules and deferred
// triggers.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates an automation store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// SetClock overrides the store's clock. Tests use this to pin time.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// ====== RULES ======

const ruleColumns = `id, name, trigger_type, conditions, action_type, template_id,
	delay_minutes, target_segment_id, is_active, execution_count, created_at, updated_at`

// CreateRule inserts a new automation rule.
func (s *Store) CreateRule(ctx context.Context, r *Rule) error {
	if r.Name == "" {
		return fmt.Errorf("rule name is required")
	}
	if r.TriggerType == "" {
		return fmt.Errorf("rule trigger type is required")
	}
	if r.DelayMinutes < 0 {
		return fmt.Errorf("delay minutes must not be negative")
	}
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	now := s.now()
	r.CreatedAt = now
	r.UpdatedAt = now

	conditions, err := marshalConditions(r.Conditions)
	if err != nil {
		return fmt.Errorf("failed to encode conditions: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO automation_rules (id, name, trigger_type, conditions, action_type,
			template_id, delay_minutes, target_segment_id, is_active, execution_count,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, $10, $11)`,
		r.ID, r.Name, r.TriggerType, conditions, r.ActionType,
		r.TemplateID, r.DelayMinutes, r.TargetSegmentID, r.IsActive,
		r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create automation rule: %w", err)
	}
	return nil
}

// GetRule fetches a rule by ID. Returns (nil, nil) when not found.
func (s *Store) GetRule(ctx context.Context, id uuid.UUID) (*Rule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+ruleColumns+` FROM automation_rules WHERE id = $1`, id)
	r, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get automation rule: %w", err)
	}
	return r, nil
}

// ListActiveByTrigger returns the active rules bound to a trigger type in
// creation order. The order is stable so repeated trigger invocations walk
// rules the same way.
func (s *Store) ListActiveByTrigger(ctx context.Context, trigger TriggerType) ([]*Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+ruleColumns+`
		FROM automation_rules
		WHERE trigger_type = $1 AND is_active = TRUE
		ORDER BY created_at ASC`, trigger)
	if err != nil {
		return nil, fmt.Errorf("failed to list automation rules: %w", err)
	}
	defer rows.Close()

	var rules []*Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan automation rule: %w", err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// SetActive flips a rule on or off.
func (s *Store) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE automation_rules SET is_active = $2, updated_at = $3 WHERE id = $1`,
		id, active, s.now())
	if err != nil {
		return fmt.Errorf("failed to update automation rule: %w", err)
	}
	return nil
}

// IncrementExecutionCount bumps the rule's execution counter in the database
// so concurrent executions never lose an increment.
func (s *Store) IncrementExecutionCount(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE automation_rules
		SET execution_count = execution_count + 1, updated_at = $2
		WHERE id = $1`, id, s.now())
	if err != nil {
		return fmt.Errorf("failed to increment execution count: %w", err)
	}
	return nil
}

// ====== DEFERRED TRIGGERS ======

// EnqueueDeferred persists a one-shot replay row.
func (s *Store) EnqueueDeferred(ctx context.Context, d *DeferredTrigger) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	d.Status = "pending"
	d.CreatedAt = s.now()

	eventData, err := marshalConditions(d.EventData)
	if err != nil {
		return fmt.Errorf("failed to encode event data: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO deferred_triggers (id, rule_id, trigger_type, contact_id,
			event_data, reason, run_at, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending', $8)`,
		d.ID, d.RuleID, d.TriggerType, d.ContactID,
		eventData, d.Reason, d.RunAt, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to enqueue deferred trigger: %w", err)
	}
	return nil
}

// ListDueDeferred returns pending replay rows whose run_at has passed.
func (s *Store) ListDueDeferred(ctx context.Context, limit int) ([]*DeferredTrigger, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, rule_id, trigger_type, contact_id, event_data, reason, run_at, status, created_at
		FROM deferred_triggers
		WHERE status = 'pending' AND run_at <= $1
		ORDER BY run_at ASC
		LIMIT $2`, s.now(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list deferred triggers: %w", err)
	}
	defer rows.Close()

	var due []*DeferredTrigger
	for rows.Next() {
		d := &DeferredTrigger{}
		var eventData []byte
		if err := rows.Scan(&d.ID, &d.RuleID, &d.TriggerType, &d.ContactID,
			&eventData, &d.Reason, &d.RunAt, &d.Status, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan deferred trigger: %w", err)
		}
		if len(eventData) > 0 {
			if err := json.Unmarshal(eventData, &d.EventData); err != nil {
				return nil, fmt.Errorf("failed to decode event data: %w", err)
			}
		}
		due = append(due, d)
	}
	return due, rows.Err()
}

// ClaimDeferred flips a pending row to processing. Returns false when
// another worker already claimed it.
func (s *Store) ClaimDeferred(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE deferred_triggers SET status = 'processing'
		WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return false, fmt.Errorf("failed to claim deferred trigger: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to claim deferred trigger: %w", err)
	}
	return n == 1, nil
}

// FinishDeferred marks a claimed row done or failed. Replays that enqueue a
// fresh row (quiet hours still active) finish as done; the successor carries
// the work forward.
func (s *Store) FinishDeferred(ctx context.Context, id uuid.UUID, succeeded bool) error {
	status := "done"
	if !succeeded {
		status = "failed"
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE deferred_triggers SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("failed to finish deferred trigger: %w", err)
	}
	return nil
}

// PurgeFinishedDeferred deletes done and failed rows older than the cutoff.
func (s *Store) PurgeFinishedDeferred(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM deferred_triggers
		WHERE status IN ('done', 'failed') AND created_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to purge deferred triggers: %w", err)
	}
	return res.RowsAffected()
}

// ====== HELPERS ======

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRule(row rowScanner) (*Rule, error) {
	r := &Rule{}
	var conditions []byte
	err := row.Scan(&r.ID, &r.Name, &r.TriggerType, &conditions, &r.ActionType,
		&r.TemplateID, &r.DelayMinutes, &r.TargetSegmentID, &r.IsActive,
		&r.ExecutionCount, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(conditions) > 0 {
		if err := json.Unmarshal(conditions, &r.Conditions); err != nil {
			return nil, fmt.Errorf("failed to decode conditions: %w", err)
		}
	}
	return r, nil
}

func marshalConditions(m map[string]string) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}
