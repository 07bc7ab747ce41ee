package automation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hubwire/comms-core/internal/contacts"
	"github.com/hubwire/comms-core/internal/delivery"
	"github.com/hubwire/comms-core/internal/notify"
	"github.com/hubwire/comms-core/internal/pkg/logger"
	"github.com/hubwire/comms-core/internal/templates"
)

// Engine runs automation rules in response to trigger events. It never
// retries a failed send and never lets one bad rule or row abort a batch.
type Engine struct {
	store     *Store
	contacts  *contacts.Store
	templates *templates.Store
	renderer  *templates.Renderer
	sender    delivery.Sender
	notifier  notify.Notifier
	settings  Settings
	now       func() time.Time
}

// NewEngine creates an automation engine.
func NewEngine(store *Store, contactStore *contacts.Store, templateStore *templates.Store,
	renderer *templates.Renderer, sender delivery.Sender, notifier notify.Notifier,
	settings Settings) *Engine {
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}
	return &Engine{
		store:     store,
		contacts:  contactStore,
		templates: templateStore,
		renderer:  renderer,
		sender:    sender,
		notifier:  notifier,
		settings:  settings,
		now:       time.Now,
	}
}

// SetClock overrides the engine's clock. Tests use this to pin time.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Trigger fires all active rules bound to the trigger type for one contact.
// eventData supplies event-specific values for conditions and template
// tokens. Per-rule failures are logged and skipped; the error return covers
// only failures that prevent any rule from running.
func (e *Engine) Trigger(ctx context.Context, trigger TriggerType, contactID uuid.UUID, eventData map[string]string) error {
	rules, err := e.store.ListActiveByTrigger(ctx, trigger)
	if err != nil {
		return fmt.Errorf("trigger %s: %w", trigger, err)
	}
	if len(rules) == 0 {
		return nil
	}

	contact, err := e.contacts.GetByID(ctx, contactID)
	if err != nil {
		return fmt.Errorf("trigger %s: load contact: %w", trigger, err)
	}
	if contact == nil {
		logger.Debug("trigger skipped, contact not found",
			"trigger", string(trigger), "contact_id", contactID.String())
		return nil
	}

	for _, rule := range rules {
		if err := e.runRule(ctx, rule, contact, eventData, false); err != nil {
			logger.Error("automation rule failed",
				"rule_id", rule.ID.String(), "rule", rule.Name, "error", err.Error())
		}
	}
	return nil
}

// runRule walks one rule through condition checks, the consent gate, quiet
// hours, delay, and finally the send. skipDelay is set on replays of
// delay deferrals; re-applying the delay there would postpone the send
// forever.
func (e *Engine) runRule(ctx context.Context, rule *Rule, contact *contacts.Contact, eventData map[string]string, skipDelay bool) error {
	if !e.conditionsMet(rule, contact, eventData) {
		return nil
	}

	// Consent gate: a drop, not an error.
	if !contact.Reachable() {
		logger.Debug("automation skipped, contact not reachable",
			"rule_id", rule.ID.String(), "contact_id", contact.ID.String())
		return nil
	}

	now := e.now()
	if e.settings.InQuietHours(now) {
		return e.enqueueReplay(ctx, rule, contact, eventData, DeferQuietHours, e.settings.NextQuietEnd(now))
	}

	if !skipDelay && rule.DelayMinutes > 0 {
		return e.enqueueReplay(ctx, rule, contact, eventData, DeferDelay,
			now.Add(time.Duration(rule.DelayMinutes)*time.Minute))
	}

	return e.execute(ctx, rule, contact, eventData)
}

// conditionsMet evaluates the rule's flat equality conditions. Keys resolve
// against the contact record first, then the event payload. A key that
// resolves nowhere does not block the rule.
func (e *Engine) conditionsMet(rule *Rule, contact *contacts.Contact, eventData map[string]string) bool {
	for key, want := range rule.Conditions {
		got, ok := contact.FieldValue(key)
		if !ok {
			got, ok = eventData[key]
		}
		if !ok {
			continue
		}
		if got != want {
			return false
		}
	}
	return true
}

func (e *Engine) enqueueReplay(ctx context.Context, rule *Rule, contact *contacts.Contact, eventData map[string]string, reason DeferReason, runAt time.Time) error {
	d := &DeferredTrigger{
		RuleID:      rule.ID,
		TriggerType: rule.TriggerType,
		ContactID:   contact.ID,
		EventData:   eventData,
		Reason:      reason,
		RunAt:       runAt,
	}
	if err := e.store.EnqueueDeferred(ctx, d); err != nil {
		return fmt.Errorf("defer rule %s: %w", rule.Name, err)
	}
	logger.Info("automation deferred",
		"rule_id", rule.ID.String(), "contact_id", contact.ID.String(),
		"reason", string(reason), "run_at", runAt.Format(time.RFC3339))
	return nil
}

func (e *Engine) execute(ctx context.Context, rule *Rule, contact *contacts.Contact, eventData map[string]string) error {
	tpl, err := e.templates.GetTemplate(ctx, rule.TemplateID)
	if err != nil {
		return fmt.Errorf("load template for rule %s: %w", rule.Name, err)
	}
	if tpl == nil {
		logger.Warn("automation skipped, template missing or inactive",
			"rule_id", rule.ID.String(), "template_id", rule.TemplateID.String())
		return nil
	}

	vars := contact.Variables()
	for k, v := range eventData {
		vars[k] = v
	}
	body := e.renderer.Render(tpl, vars)

	msg := delivery.Message{
		ContactID: contact.ID,
		Channel:   channelFor(tpl.MessageType),
		Subject:   tpl.Name,
		Body:      body,
	}
	if msg.Channel == delivery.ChannelEmail {
		if contact.Email == "" {
			logger.Debug("automation skipped, contact has no email",
				"rule_id", rule.ID.String(), "contact_id", contact.ID.String())
			return nil
		}
		msg.To = contact.Email
	} else {
		msg.To = contact.Phone
	}

	res := e.sender.Send(ctx, msg)
	if !res.Success {
		// No retry. The counter only moves on confirmed sends.
		return fmt.Errorf("delivery failed for rule %s: %s", rule.Name, res.Error)
	}

	if err := e.store.IncrementExecutionCount(ctx, rule.ID); err != nil {
		logger.Error("failed to record automation execution",
			"rule_id", rule.ID.String(), "error", err.Error())
	}
	if err := e.contacts.RecordInteraction(ctx, contact.ID); err != nil {
		logger.Error("failed to record contact interaction",
			"contact_id", contact.ID.String(), "error", err.Error())
	}
	e.notifier.Notify(ctx, notify.Broadcast, notify.Payload{
		"event":      "automation_executed",
		"rule_id":    rule.ID.String(),
		"rule_name":  rule.Name,
		"contact_id": contact.ID.String(),
		"channel":    string(msg.Channel),
	})
	return nil
}

// ProcessDeferredSweep replays due deferred triggers. Each row is claimed
// with a conditional status flip, so concurrent sweeps split the batch
// instead of double-sending. Returns the number of rows replayed.
func (e *Engine) ProcessDeferredSweep(ctx context.Context, limit int) (int, error) {
	due, err := e.store.ListDueDeferred(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("deferred sweep: %w", err)
	}

	processed := 0
	for _, d := range due {
		claimed, err := e.store.ClaimDeferred(ctx, d.ID)
		if err != nil {
			logger.Error("failed to claim deferred trigger",
				"deferred_id", d.ID.String(), "error", err.Error())
			continue
		}
		if !claimed {
			continue
		}

		err = e.replay(ctx, d)
		if err != nil {
			logger.Error("deferred trigger replay failed",
				"deferred_id", d.ID.String(), "error", err.Error())
		}
		if ferr := e.store.FinishDeferred(ctx, d.ID, err == nil); ferr != nil {
			logger.Error("failed to finish deferred trigger",
				"deferred_id", d.ID.String(), "error", ferr.Error())
		}
		processed++
	}
	return processed, nil
}

// replay re-runs a single rule for the deferred row. Quiet-hours deferrals
// re-evaluate the full chain including delay; delay deferrals re-run the
// chain with the delay step skipped. A rule or contact that disappeared
// since the deferral drops the row.
func (e *Engine) replay(ctx context.Context, d *DeferredTrigger) error {
	rule, err := e.store.GetRule(ctx, d.RuleID)
	if err != nil {
		return fmt.Errorf("load rule: %w", err)
	}
	if rule == nil || !rule.IsActive {
		logger.Debug("deferred trigger dropped, rule gone or inactive",
			"deferred_id", d.ID.String(), "rule_id", d.RuleID.String())
		return nil
	}

	contact, err := e.contacts.GetByID(ctx, d.ContactID)
	if err != nil {
		return fmt.Errorf("load contact: %w", err)
	}
	if contact == nil {
		logger.Debug("deferred trigger dropped, contact gone",
			"deferred_id", d.ID.String(), "contact_id", d.ContactID.String())
		return nil
	}

	skipDelay := d.Reason == DeferDelay
	return e.runRule(ctx, rule, contact, eventDataCopy(d.EventData), skipDelay)
}

func eventDataCopy(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func channelFor(mt templates.MessageType) delivery.Channel {
	switch mt {
	case templates.MessageVoice:
		return delivery.ChannelVoice
	case templates.MessageWhatsApp:
		return delivery.ChannelWhatsApp
	case templates.MessageEmail:
		return delivery.ChannelEmail
	default:
		return delivery.ChannelSMS
	}
}
