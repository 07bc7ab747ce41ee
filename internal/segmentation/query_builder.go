// Package segmentation compiles criteria trees into contact queries and
// provides CRUD for named segments and their static membership.
package segmentation

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hubwire/comms-core/internal/criteria"
)

// contactColumns is the projection used by every contact-returning query.
const contactColumns = `c.id, c.first_name, c.last_name, c.phone, c.email,
	c.state, c.city, c.zip, c.tags, c.segments, c.source, c.assigned_va,
	c.opted_in, c.opted_out, c.do_not_contact,
	c.relationship_score, c.total_interactions, c.total_orders, c.lifetime_value,
	c.created_at, c.last_interaction_at, c.last_order_at`

// QueryBuilder compiles a criteria tree into a parameterized SQL query over
// the contacts table. Values always travel as query arguments; field names
// only ever come from the allow-list.
type QueryBuilder struct {
	args       []interface{}
	argCounter int
	now        time.Time

	// DroppedConditions collects conditions referencing unknown fields or
	// operators. They are skipped, never compiled; callers log them.
	DroppedConditions []criteria.Condition
}

// NewQueryBuilder creates a QueryBuilder evaluating relative-date operators
// against the given instant.
func NewQueryBuilder(now time.Time) *QueryBuilder {
	return &QueryBuilder{argCounter: 1, now: now}
}

func (qb *QueryBuilder) nextArg(value interface{}) string {
	qb.args = append(qb.args, value)
	placeholder := fmt.Sprintf("$%d", qb.argCounter)
	qb.argCounter++
	return placeholder
}

func (qb *QueryBuilder) reset() {
	qb.args = nil
	qb.argCounter = 1
	qb.DroppedConditions = nil
}

// BuildQuery builds the full contact SELECT for a tree, ordered by
// (last_name, first_name). limit <= 0 means no LIMIT; offset <= 0 no OFFSET.
func (qb *QueryBuilder) BuildQuery(tree criteria.Tree, limit, offset int) (string, []interface{}) {
	qb.reset()

	query := "SELECT " + contactColumns + "\nFROM contacts c\nWHERE " + qb.whereClause(tree)
	query += "\nORDER BY c.last_name ASC, c.first_name ASC"
	if limit > 0 {
		query += " LIMIT " + qb.nextArg(limit)
	}
	if offset > 0 {
		query += " OFFSET " + qb.nextArg(offset)
	}
	return query, qb.args
}

// BuildIDQuery builds a query returning only contact IDs, for campaign fan-out.
func (qb *QueryBuilder) BuildIDQuery(tree criteria.Tree) (string, []interface{}) {
	qb.reset()
	query := "SELECT c.id FROM contacts c\nWHERE " + qb.whereClause(tree)
	query += "\nORDER BY c.last_name ASC, c.first_name ASC"
	return query, qb.args
}

// BuildCountQuery builds a COUNT(*) query for a tree.
func (qb *QueryBuilder) BuildCountQuery(tree criteria.Tree) (string, []interface{}) {
	qb.reset()
	return "SELECT COUNT(*) FROM contacts c\nWHERE " + qb.whereClause(tree), qb.args
}

// whereClause compiles the tree conditions joined by the tree logic, always
// ANDed with the implicit consent filter unless the tree filters consent
// itself. The consent filter binds outside the condition group so it holds
// even when the tree logic is OR.
func (qb *QueryBuilder) whereClause(tree criteria.Tree) string {
	parts := []string{}
	for _, cond := range tree.Conditions {
		sql, ok := qb.buildCondition(cond)
		if !ok {
			qb.DroppedConditions = append(qb.DroppedConditions, cond)
			continue
		}
		parts = append(parts, sql)
	}

	joiner := " AND "
	if criteria.NormalizeLogic(string(tree.Logic)) == criteria.LogicOr {
		joiner = " OR "
	}

	clause := "1=1"
	if len(parts) > 0 {
		clause = "(" + strings.Join(parts, joiner) + ")"
	}

	if !tree.ReferencesConsent() {
		clause += " AND c.opted_in = TRUE AND c.opted_out = FALSE"
	}
	return clause
}

// buildCondition compiles one condition. The second return is false when the
// condition must be dropped (unknown field or operator): dropping is
// deliberate fail-open behavior so one bad condition never breaks a segment.
func (qb *QueryBuilder) buildCondition(cond criteria.Condition) (string, bool) {
	fieldType, ok := criteria.TypeOf(cond.Field)
	if !ok || !cond.Operator.Valid() {
		return "", false
	}
	field := "c." + cond.Field

	switch cond.Operator {
	case criteria.OpEquals, criteria.OpNotEquals, criteria.OpGreater,
		criteria.OpGreaterEq, criteria.OpLess, criteria.OpLessEq:
		return qb.buildComparison(field, fieldType, cond), true

	case criteria.OpContains:
		return fmt.Sprintf("%s::text ILIKE %s", field, qb.nextArg("%"+criteria.ToString(cond.Value)+"%")), true
	case criteria.OpNotContains:
		return fmt.Sprintf("%s::text NOT ILIKE %s", field, qb.nextArg("%"+criteria.ToString(cond.Value)+"%")), true
	case criteria.OpStartsWith:
		return fmt.Sprintf("%s::text ILIKE %s", field, qb.nextArg(criteria.ToString(cond.Value)+"%")), true
	case criteria.OpEndsWith:
		return fmt.Sprintf("%s::text ILIKE %s", field, qb.nextArg("%"+criteria.ToString(cond.Value))), true

	case criteria.OpIsEmpty:
		return fmt.Sprintf("(%s IS NULL OR %s::text = '')", field, field), true
	case criteria.OpIsNotEmpty:
		return fmt.Sprintf("(%s IS NOT NULL AND %s::text != '')", field, field), true

	case criteria.OpIn, criteria.OpNotIn:
		values := criteria.ValueList(cond.Value)
		if len(values) == 0 {
			// in () matches nothing; not_in () matches everything.
			if cond.Operator == criteria.OpIn {
				return "FALSE", true
			}
			return "TRUE", true
		}
		placeholders := make([]string, len(values))
		for i, v := range values {
			placeholders[i] = qb.nextArg(v)
		}
		if cond.Operator == criteria.OpIn {
			return fmt.Sprintf("%s::text IN (%s)", field, strings.Join(placeholders, ", ")), true
		}
		return fmt.Sprintf("(%s IS NULL OR %s::text NOT IN (%s))", field, field, strings.Join(placeholders, ", ")), true

	case criteria.OpWithin:
		cutoff := qb.now.AddDate(0, 0, -toDays(cond.Value))
		return fmt.Sprintf("%s >= %s", field, qb.nextArg(cutoff)), true

	case criteria.OpOlderThan:
		// NULL counts as older than anything: a contact that never
		// interacted qualifies for "no interaction in N days".
		cutoff := qb.now.AddDate(0, 0, -toDays(cond.Value))
		return fmt.Sprintf("(%s IS NULL OR %s < %s)", field, field, qb.nextArg(cutoff)), true
	}

	return "", false
}

// buildComparison emits a typed direct comparison.
func (qb *QueryBuilder) buildComparison(field string, fieldType criteria.FieldType, cond criteria.Condition) string {
	op := string(cond.Operator)

	switch fieldType {
	case criteria.FieldNumber:
		return fmt.Sprintf("%s %s %s", field, op, qb.nextArg(toFloat(cond.Value)))
	case criteria.FieldBoolean:
		return fmt.Sprintf("%s %s %s", field, op, qb.nextArg(toBool(cond.Value)))
	default:
		return fmt.Sprintf("%s %s %s", field, op, qb.nextArg(criteria.ToString(cond.Value)))
	}
}

func toDays(v interface{}) int {
	switch vv := v.(type) {
	case int:
		return vv
	case float64:
		return int(vv)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(vv))
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

func toFloat(v interface{}) float64 {
	switch vv := v.(type) {
	case float64:
		return vv
	case int:
		return float64(vv)
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(vv), 64)
		return f
	default:
		return 0
	}
}

func toBool(v interface{}) bool {
	switch vv := v.(type) {
	case bool:
		return vv
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(vv))
		return b
	case float64:
		return vv != 0
	default:
		return false
	}
}
