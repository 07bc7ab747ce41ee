// Package contacts holds the contact record model and its store. Contacts
// are the shared source of truth for segmentation and automation; opt-out is
// a flag flip, never a row deletion.
package contacts

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Contact is a person record in the communications hub.
type Contact struct {
	ID                uuid.UUID  `json:"id" db:"id"`
	FirstName         string     `json:"first_name" db:"first_name"`
	LastName          string     `json:"last_name" db:"last_name"`
	Phone             string     `json:"phone" db:"phone"`
	Email             string     `json:"email,omitempty" db:"email"`
	State             string     `json:"state,omitempty" db:"state"`
	City              string     `json:"city,omitempty" db:"city"`
	Zip               string     `json:"zip,omitempty" db:"zip"`
	Tags              string     `json:"tags,omitempty" db:"tags"`         // comma-joined
	Segments          string     `json:"segments,omitempty" db:"segments"` // comma-joined
	Source            string     `json:"source,omitempty" db:"source"`
	AssignedVA        string     `json:"assigned_va,omitempty" db:"assigned_va"`
	OptedIn           bool       `json:"opted_in" db:"opted_in"`
	OptedOut          bool       `json:"opted_out" db:"opted_out"`
	DoNotContact      bool       `json:"do_not_contact" db:"do_not_contact"`
	RelationshipScore int        `json:"relationship_score" db:"relationship_score"` // 0-100
	TotalInteractions int        `json:"total_interactions" db:"total_interactions"`
	TotalOrders       int        `json:"total_orders" db:"total_orders"`
	LifetimeValue     float64    `json:"lifetime_value" db:"lifetime_value"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	LastInteractionAt *time.Time `json:"last_interaction_at,omitempty" db:"last_interaction_at"`
	LastOrderAt       *time.Time `json:"last_order_at,omitempty" db:"last_order_at"`
}

// Reachable reports whether automated outbound messages may be sent to the
// contact. All three flags gate sends independently.
func (c *Contact) Reachable() bool {
	return c.OptedIn && !c.OptedOut && !c.DoNotContact
}

// Variables returns the contact's template variable set. Keys match the
// field allow-list so criteria fields and template tokens line up.
func (c *Contact) Variables() map[string]string {
	vars := map[string]string{
		"first_name":         c.FirstName,
		"last_name":          c.LastName,
		"name":               strings.TrimSpace(c.FirstName + " " + c.LastName),
		"phone":              c.Phone,
		"email":              c.Email,
		"state":              c.State,
		"city":               c.City,
		"zip":                c.Zip,
		"tags":               c.Tags,
		"assigned_va":        c.AssignedVA,
		"source":             c.Source,
		"relationship_score": fmt.Sprintf("%d", c.RelationshipScore),
		"total_orders":       fmt.Sprintf("%d", c.TotalOrders),
		"lifetime_value":     fmt.Sprintf("%.2f", c.LifetimeValue),
	}
	return vars
}

// FieldValue returns the contact's value for a criteria/condition key, with
// ok=false when the key is not a contact field. Automation condition checks
// use this before falling back to event payload data.
func (c *Contact) FieldValue(key string) (string, bool) {
	switch key {
	case "first_name":
		return c.FirstName, true
	case "last_name":
		return c.LastName, true
	case "phone":
		return c.Phone, true
	case "email":
		return c.Email, true
	case "state":
		return c.State, true
	case "city":
		return c.City, true
	case "zip":
		return c.Zip, true
	case "tags":
		return c.Tags, true
	case "segments":
		return c.Segments, true
	case "source":
		return c.Source, true
	case "assigned_va":
		return c.AssignedVA, true
	case "opted_in":
		return fmt.Sprintf("%t", c.OptedIn), true
	case "opted_out":
		return fmt.Sprintf("%t", c.OptedOut), true
	case "relationship_score":
		return fmt.Sprintf("%d", c.RelationshipScore), true
	case "total_interactions":
		return fmt.Sprintf("%d", c.TotalInteractions), true
	case "total_orders":
		return fmt.Sprintf("%d", c.TotalOrders), true
	case "lifetime_value":
		return fmt.Sprintf("%.2f", c.LifetimeValue), true
	default:
		return "", false
	}
}

// Store provides database operations for contacts.
type Store struct {
	db *sql.DB
}

// NewStore creates a new contact store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const selectContact = `
	SELECT id, first_name, last_name, phone, email, state, city, zip,
		tags, segments, source, assigned_va,
		opted_in, opted_out, do_not_contact,
		relationship_score, total_interactions, total_orders, lifetime_value,
		created_at, last_interaction_at, last_order_at
	FROM contacts
`

// GetByID retrieves a contact. Returns (nil, nil) when not found.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*Contact, error) {
	row := s.db.QueryRowContext(ctx, selectContact+" WHERE id = $1", id)
	contact, err := scanContact(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return contact, nil
}

// updatableColumns guards UpdateFields the same way the criteria allow-list
// guards the query compiler: column names never come from caller input.
var updatableColumns = map[string]bool{
	"first_name": true, "last_name": true, "phone": true, "email": true,
	"state": true, "city": true, "zip": true, "tags": true, "segments": true,
	"source": true, "assigned_va": true,
	"opted_in": true, "opted_out": true, "do_not_contact": true,
	"relationship_score": true, "total_interactions": true,
	"total_orders": true, "lifetime_value": true,
	"last_interaction_at": true, "last_order_at": true,
}

// UpdateFields applies a partial update. Unknown columns are rejected.
func (s *Store) UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}

	sets := make([]string, 0, len(fields))
	args := make([]interface{}, 0, len(fields)+1)
	i := 1
	for col, val := range fields {
		if !updatableColumns[col] {
			return fmt.Errorf("update contact: column %q not updatable", col)
		}
		sets = append(sets, fmt.Sprintf("%s = $%d", col, i))
		args = append(args, val)
		i++
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE contacts SET %s, updated_at = NOW() WHERE id = $%d",
		strings.Join(sets, ", "), i)
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

// RecordInteraction bumps interaction counters after a successful send.
func (s *Store) RecordInteraction(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE contacts
		SET total_interactions = total_interactions + 1,
			last_interaction_at = NOW(), updated_at = NOW()
		WHERE id = $1`, id)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// ScanContact scans one contact row from the shared projection.
func ScanContact(row rowScanner) (*Contact, error) {
	return scanContact(row)
}

func scanContact(row rowScanner) (*Contact, error) {
	var c Contact
	var email, state, city, zip, tags, segments, source, assignedVA sql.NullString
	var lastInteractionAt, lastOrderAt sql.NullTime

	err := row.Scan(&c.ID, &c.FirstName, &c.LastName, &c.Phone, &email,
		&state, &city, &zip, &tags, &segments, &source, &assignedVA,
		&c.OptedIn, &c.OptedOut, &c.DoNotContact,
		&c.RelationshipScore, &c.TotalInteractions, &c.TotalOrders, &c.LifetimeValue,
		&c.CreatedAt, &lastInteractionAt, &lastOrderAt)
	if err != nil {
		return nil, err
	}

	c.Email = email.String
	c.State = state.String
	c.City = city.String
	c.Zip = zip.String
	c.Tags = tags.String
	c.Segments = segments.String
	c.Source = source.String
	c.AssignedVA = assignedVA.String
	if lastInteractionAt.Valid {
		c.LastInteractionAt = &lastInteractionAt.Time
	}
	if lastOrderAt.Valid {
		c.LastOrderAt = &lastOrderAt.Time
	}
	return &c, nil
}
