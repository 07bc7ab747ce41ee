package segmentation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hubwire/comms-core/internal/contacts"
	"github.com/hubwire/comms-core/internal/criteria"
	"github.com/hubwire/comms-core/internal/pkg/logger"
)

// Store provides database operations for segments and membership.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a new segment store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// SetClock overrides the time source, for tests.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// ==========================================
// SEGMENT CRUD
// ==========================================

// CreateSegment creates a segment and immediately caches its count.
// Name is required; an untyped segment defaults to smart, dynamic and
// active. A caller that sets the type owns all three flags, so an
// explicitly inactive segment stays inactive.
func (s *Store) CreateSegment(ctx context.Context, segment *Segment) error {
	if segment.Name == "" {
		return fmt.Errorf("create segment: name is required")
	}
	if segment.SegmentType == "" {
		segment.SegmentType = SegmentSmart
		segment.IsDynamic = true
		segment.IsActive = true
	}
	if segment.ID == uuid.Nil {
		segment.ID = uuid.New()
	}
	segment.CreatedAt = s.now()
	segment.UpdatedAt = segment.CreatedAt

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO segments (id, name, description, segment_type, criteria,
			is_dynamic, is_active, cached_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9)`,
		segment.ID, segment.Name, segment.Description, segment.SegmentType,
		nullableJSON(segment.Criteria), segment.IsDynamic, segment.IsActive,
		segment.CreatedAt, segment.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert segment: %w", err)
	}

	return s.UpdateCachedCount(ctx, segment.ID)
}

// GetSegment retrieves a segment by ID. Returns (nil, nil) when not found.
func (s *Store) GetSegment(ctx context.Context, id uuid.UUID) (*Segment, error) {
	seg := &Segment{}
	var criteriaJSON []byte
	var description sql.NullString
	var cacheUpdatedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, segment_type, criteria, is_dynamic,
			is_active, cached_count, cache_updated_at, created_at, updated_at
		FROM segments WHERE id = $1`, id,
	).Scan(&seg.ID, &seg.Name, &description, &seg.SegmentType, &criteriaJSON,
		&seg.IsDynamic, &seg.IsActive, &seg.CachedCount, &cacheUpdatedAt,
		&seg.CreatedAt, &seg.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	seg.Description = description.String
	seg.Criteria = criteriaJSON
	if cacheUpdatedAt.Valid {
		seg.CacheUpdatedAt = &cacheUpdatedAt.Time
	}
	return seg, nil
}

// ListSegments lists active segments ordered by name.
func (s *Store) ListSegments(ctx context.Context) ([]*Segment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, segment_type, criteria, is_dynamic,
			is_active, cached_count, cache_updated_at, created_at, updated_at
		FROM segments WHERE is_active = TRUE ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var segments []*Segment
	for rows.Next() {
		seg := &Segment{}
		var criteriaJSON []byte
		var description sql.NullString
		var cacheUpdatedAt sql.NullTime
		if err := rows.Scan(&seg.ID, &seg.Name, &description, &seg.SegmentType,
			&criteriaJSON, &seg.IsDynamic, &seg.IsActive, &seg.CachedCount,
			&cacheUpdatedAt, &seg.CreatedAt, &seg.UpdatedAt); err != nil {
			return nil, err
		}
		seg.Description = description.String
		seg.Criteria = criteriaJSON
		if cacheUpdatedAt.Valid {
			seg.CacheUpdatedAt = &cacheUpdatedAt.Time
		}
		segments = append(segments, seg)
	}
	return segments, rows.Err()
}

// UpdateSegment applies a partial update. A criteria change recaches the count.
func (s *Store) UpdateSegment(ctx context.Context, id uuid.UUID, update SegmentUpdate) error {
	seg, err := s.GetSegment(ctx, id)
	if err != nil {
		return err
	}
	if seg == nil {
		return fmt.Errorf("update segment: %s not found", id)
	}

	if update.Name != nil {
		seg.Name = *update.Name
	}
	if update.Description != nil {
		seg.Description = *update.Description
	}
	if update.SegmentType != nil {
		seg.SegmentType = *update.SegmentType
	}
	criteriaChanged := false
	if update.Criteria != nil {
		seg.Criteria = *update.Criteria
		criteriaChanged = true
	}
	if update.IsActive != nil {
		seg.IsActive = *update.IsActive
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE segments
		SET name = $1, description = $2, segment_type = $3, criteria = $4,
			is_active = $5, updated_at = $6
		WHERE id = $7`,
		seg.Name, seg.Description, seg.SegmentType, nullableJSON(seg.Criteria),
		seg.IsActive, s.now(), id)
	if err != nil {
		return fmt.Errorf("update segment: %w", err)
	}

	if criteriaChanged {
		return s.UpdateCachedCount(ctx, id)
	}
	return nil
}

// DeleteSegment removes the segment and its membership rows. Members go
// first so no orphan rows survive a partial failure.
func (s *Store) DeleteSegment(ctx context.Context, id uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM segment_members WHERE segment_id = $1`, id); err != nil {
		return fmt.Errorf("delete segment members: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM segments WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete segment: %w", err)
	}
	return tx.Commit()
}

// DuplicateSegment copies name, description, type and criteria into a new
// segment. Static membership is not copied.
func (s *Store) DuplicateSegment(ctx context.Context, id uuid.UUID) (*Segment, error) {
	src, err := s.GetSegment(ctx, id)
	if err != nil {
		return nil, err
	}
	if src == nil {
		return nil, fmt.Errorf("duplicate segment: %s not found", id)
	}

	copySeg := &Segment{
		Name:        src.Name + " (Copy)",
		Description: src.Description,
		SegmentType: src.SegmentType,
		Criteria:    src.Criteria,
		IsDynamic:   src.IsDynamic,
	}
	if err := s.CreateSegment(ctx, copySeg); err != nil {
		return nil, err
	}
	return copySeg, nil
}

// ==========================================
// STATIC MEMBERSHIP
// ==========================================

// AddMember adds a contact to a static segment. Re-adding an existing
// member is a no-op success.
func (s *Store) AddMember(ctx context.Context, segmentID, contactID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO segment_members (segment_id, contact_id, added_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (segment_id, contact_id) DO NOTHING`,
		segmentID, contactID, s.now())
	return err
}

// RemoveMember removes a contact from a static segment; absent rows are a
// no-op.
func (s *Store) RemoveMember(ctx context.Context, segmentID, contactID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM segment_members WHERE segment_id = $1 AND contact_id = $2`,
		segmentID, contactID)
	return err
}

// BulkAddMembers adds many contacts and recaches the count once at the end.
func (s *Store) BulkAddMembers(ctx context.Context, segmentID uuid.UUID, contactIDs []uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, contactID := range contactIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO segment_members (segment_id, contact_id, added_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (segment_id, contact_id) DO NOTHING`,
			segmentID, contactID, s.now()); err != nil {
			return fmt.Errorf("bulk add member %s: %w", contactID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	return s.UpdateCachedCount(ctx, segmentID)
}

// MemberCount returns the live static membership count.
func (s *Store) MemberCount(ctx context.Context, segmentID uuid.UUID) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM segment_members WHERE segment_id = $1`, segmentID,
	).Scan(&count)
	return count, err
}

// ==========================================
// CRITERIA QUERIES
// ==========================================

// QueryByCriteria returns contacts matching a tree, ordered by
// (last_name, first_name).
func (s *Store) QueryByCriteria(ctx context.Context, tree criteria.Tree, limit, offset int) ([]*contacts.Contact, error) {
	qb := NewQueryBuilder(s.now())
	query, args := qb.BuildQuery(tree, limit, offset)
	s.logDropped(qb)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query by criteria: %w", err)
	}
	defer rows.Close()

	var result []*contacts.Contact
	for rows.Next() {
		contact, err := contacts.ScanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		result = append(result, contact)
	}
	return result, rows.Err()
}

// ContactIDsByCriteria returns only matching contact IDs, for fan-out.
func (s *Store) ContactIDsByCriteria(ctx context.Context, tree criteria.Tree) ([]uuid.UUID, error) {
	qb := NewQueryBuilder(s.now())
	query, args := qb.BuildIDQuery(tree)
	s.logDropped(qb)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("contact ids by criteria: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountByCriteria returns a live count without materializing contact rows.
func (s *Store) CountByCriteria(ctx context.Context, tree criteria.Tree) (int, error) {
	qb := NewQueryBuilder(s.now())
	query, args := qb.BuildCountQuery(tree)
	s.logDropped(qb)

	var count int
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&count)
	return count, err
}

// ResolveContacts resolves segment membership. Static segments join the
// member table directly and never touch the compiler; everything else
// evaluates the stored criteria live.
func (s *Store) ResolveContacts(ctx context.Context, segment *Segment, limit, offset int) ([]*contacts.Contact, error) {
	if !segment.UsesCriteria() {
		return s.staticMembers(ctx, segment.ID, limit, offset)
	}
	tree, err := criteria.ParseTree(segment.Criteria)
	if err != nil {
		return nil, fmt.Errorf("parse criteria for segment %s: %w", segment.ID, err)
	}
	return s.QueryByCriteria(ctx, tree, limit, offset)
}

func (s *Store) staticMembers(ctx context.Context, segmentID uuid.UUID, limit, offset int) ([]*contacts.Contact, error) {
	query := "SELECT " + contactColumns + `
		FROM segment_members m
		JOIN contacts c ON c.id = m.contact_id
		WHERE m.segment_id = $1
		ORDER BY c.last_name ASC, c.first_name ASC`
	args := []interface{}{segmentID}
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("static members: %w", err)
	}
	defer rows.Close()

	var result []*contacts.Contact
	for rows.Next() {
		contact, err := contacts.ScanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		result = append(result, contact)
	}
	return result, rows.Err()
}

// ==========================================
// COUNT CACHE
// ==========================================

// UpdateCachedCount recomputes and stores the denormalized member count.
func (s *Store) UpdateCachedCount(ctx context.Context, segmentID uuid.UUID) error {
	seg, err := s.GetSegment(ctx, segmentID)
	if err != nil {
		return err
	}
	if seg == nil {
		return fmt.Errorf("update cached count: segment %s not found", segmentID)
	}

	var count int
	if seg.UsesCriteria() {
		tree, err := criteria.ParseTree(seg.Criteria)
		if err != nil {
			return fmt.Errorf("parse criteria: %w", err)
		}
		count, err = s.CountByCriteria(ctx, tree)
		if err != nil {
			return err
		}
	} else {
		count, err = s.MemberCount(ctx, segmentID)
		if err != nil {
			return err
		}
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE segments SET cached_count = $1, cache_updated_at = $2, updated_at = $2
		WHERE id = $3`, count, s.now(), segmentID)
	return err
}

func (s *Store) logDropped(qb *QueryBuilder) {
	for _, cond := range qb.DroppedConditions {
		logger.Warn("segmentation: dropped condition",
			"field", cond.Field, "operator", string(cond.Operator))
	}
}

func nullableJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
