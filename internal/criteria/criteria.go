// Package criteria defines the filter language used to select contacts:
// a flat AND/OR list of field/operator/value conditions with a closed
// operator set and a fixed field allow-list.
package criteria

import (
	"encoding/json"
	"strconv"
	"strings"
)

// ==========================================
// OPERATORS
// ==========================================

// Operator is a comparison operator in a condition.
type Operator string

const (
	OpEquals      Operator = "="
	OpNotEquals   Operator = "!="
	OpGreater     Operator = ">"
	OpGreaterEq   Operator = ">="
	OpLess        Operator = "<"
	OpLessEq      Operator = "<="
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpStartsWith  Operator = "starts_with"
	OpEndsWith    Operator = "ends_with"
	OpIsEmpty     Operator = "is_empty"
	OpIsNotEmpty  Operator = "is_not_empty"
	OpIn          Operator = "in"
	OpNotIn       Operator = "not_in"
	OpWithin      Operator = "within"     // datetime within the last N days
	OpOlderThan   Operator = "older_than" // datetime older than N days, NULL counts as older
)

var validOperators = map[Operator]bool{
	OpEquals: true, OpNotEquals: true,
	OpGreater: true, OpGreaterEq: true, OpLess: true, OpLessEq: true,
	OpContains: true, OpNotContains: true, OpStartsWith: true, OpEndsWith: true,
	OpIsEmpty: true, OpIsNotEmpty: true,
	OpIn: true, OpNotIn: true,
	OpWithin: true, OpOlderThan: true,
}

// Valid reports whether op is part of the closed operator set.
func (op Operator) Valid() bool { return validOperators[op] }

// ==========================================
// FIELD TYPES & ALLOW-LIST
// ==========================================

// FieldType determines how values are compared for a field.
type FieldType string

const (
	FieldString   FieldType = "string"
	FieldNumber   FieldType = "number"
	FieldBoolean  FieldType = "boolean"
	FieldDatetime FieldType = "datetime"
)

// allowedFields maps every filterable contact column to its type. Anything
// outside this map can never reach a query, whatever the criteria says.
var allowedFields = map[string]FieldType{
	"first_name":          FieldString,
	"last_name":           FieldString,
	"phone":               FieldString,
	"email":               FieldString,
	"state":               FieldString,
	"city":                FieldString,
	"zip":                 FieldString,
	"tags":                FieldString,
	"segments":            FieldString,
	"assigned_va":         FieldString,
	"source":              FieldString,
	"opted_in":            FieldBoolean,
	"opted_out":           FieldBoolean,
	"do_not_contact":      FieldBoolean,
	"relationship_score":  FieldNumber,
	"total_interactions":  FieldNumber,
	"total_orders":        FieldNumber,
	"lifetime_value":      FieldNumber,
	"created_at":          FieldDatetime,
	"last_interaction_at": FieldDatetime,
	"last_order_at":       FieldDatetime,
}

// FieldAllowed reports whether the field may appear in a condition.
func FieldAllowed(field string) bool {
	_, ok := allowedFields[field]
	return ok
}

// TypeOf returns the declared type of an allow-listed field.
func TypeOf(field string) (FieldType, bool) {
	t, ok := allowedFields[field]
	return t, ok
}

// AllowedFields returns a copy of the field allow-list.
func AllowedFields() map[string]FieldType {
	out := make(map[string]FieldType, len(allowedFields))
	for k, v := range allowedFields {
		out[k] = v
	}
	return out
}

// ==========================================
// LOGIC
// ==========================================

// Logic combines the conditions of a tree.
type Logic string

const (
	LogicAnd Logic = "AND"
	LogicOr  Logic = "OR"
)

// NormalizeLogic maps arbitrary input to AND/OR, defaulting to AND.
func NormalizeLogic(s string) Logic {
	if strings.EqualFold(s, string(LogicOr)) {
		return LogicOr
	}
	return LogicAnd
}

// ==========================================
// TREE
// ==========================================

// Condition is a single field/operator/value tuple.
type Condition struct {
	Field    string      `json:"field"`
	Operator Operator    `json:"operator"`
	Value    interface{} `json:"value,omitempty"`
}

// Tree is the persisted criteria shape: {logic, conditions:[...]}.
// The condition list is flat; stored segments have never used nested groups
// and the JSON shape is kept backward-compatible.
type Tree struct {
	Logic      Logic       `json:"logic"`
	Conditions []Condition `json:"conditions"`
}

// ParseTree decodes a stored criteria document. An empty or null document
// yields an empty AND tree that matches all consented contacts.
func ParseTree(raw []byte) (Tree, error) {
	tree := Tree{Logic: LogicAnd}
	if len(raw) == 0 {
		return tree, nil
	}
	var doc struct {
		Logic      string      `json:"logic"`
		Conditions []Condition `json:"conditions"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return tree, err
	}
	tree.Logic = NormalizeLogic(doc.Logic)
	tree.Conditions = doc.Conditions
	return tree, nil
}

// Marshal encodes the tree into its persisted JSON shape.
func (t Tree) Marshal() ([]byte, error) {
	if t.Logic == "" {
		t.Logic = LogicAnd
	}
	return json.Marshal(t)
}

// ReferencesConsent reports whether any condition already filters on the
// opt-in/opt-out columns. Trees that do not are given the implicit consent
// filter by the compiler.
func (t Tree) ReferencesConsent() bool {
	for _, c := range t.Conditions {
		if c.Field == "opted_in" || c.Field == "opted_out" {
			return true
		}
	}
	return false
}

// ValueList normalizes an in/not_in value into a list of strings. Accepts a
// JSON array or a comma-separated string.
func ValueList(v interface{}) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []interface{}:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			out = append(out, ToString(item))
		}
		return out
	case string:
		parts := strings.Split(vv, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	case nil:
		return nil
	default:
		return []string{ToString(vv)}
	}
}

// ToString renders a condition value for string comparison.
func ToString(v interface{}) string {
	switch vv := v.(type) {
	case string:
		return vv
	case float64:
		// JSON numbers decode as float64; keep integers clean.
		if vv == float64(int64(vv)) {
			return strconv.FormatInt(int64(vv), 10)
		}
		return strconv.FormatFloat(vv, 'f', -1, 64)
	case bool:
		if vv {
			return "true"
		}
		return "false"
	case nil:
		return ""
	default:
		b, _ := json.Marshal(vv)
		return strings.Trim(string(b), `"`)
	}
}
