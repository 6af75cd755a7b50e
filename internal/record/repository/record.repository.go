package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"agendahub/pkg/logger"
	"agendahub/store"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const recordColumns = "id, kind, owner_id, visibility, status, payload, created_at, updated_at"

type RecordRepository struct {
	DB *sql.DB
}

func NewRecordRepository(db *sql.DB) *RecordRepository {
	return &RecordRepository{DB: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (store.Record, error) {
	var (
		r       store.Record
		kind    string
		vis     []string
		payload []byte
	)
	if err := row.Scan(&r.ID, &kind, &r.OwnerID, pq.Array(&vis), &r.Status, &payload, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return store.Record{}, err
	}
	r.Kind = store.Kind(kind)
	r.Visibility = vis
	if r.Visibility == nil {
		r.Visibility = []string{}
	}
	if len(payload) > 0 {
		r.Payload = payload
	}
	return r, nil
}

// validID reports whether id can be a record key. Anything else cannot exist
// in the records table, so callers answer ErrNotFound without a round trip.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func (r *RecordRepository) List(ctx context.Context, kind store.Kind, filter store.Filter) ([]store.Record, error) {
	query := "SELECT " + recordColumns + " FROM records WHERE kind = $1"
	args := []any{string(kind)}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.Day != "" {
		args = append(args, filter.Day)
		query += fmt.Sprintf(" AND payload->>'day' = $%d", len(args))
	}
	query += " ORDER BY updated_at DESC"

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		logger.Sugar.Errorf("Failed to list %s records: %v", kind, err)
		return nil, err
	}
	defer rows.Close()

	out := []store.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			logger.Sugar.Errorf("Failed to scan %s record: %v", kind, err)
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *RecordRepository) Get(ctx context.Context, kind store.Kind, id string) (store.Record, error) {
	if !validID(id) {
		return store.Record{}, store.ErrNotFound
	}
	row := r.DB.QueryRowContext(ctx, "SELECT "+recordColumns+" FROM records WHERE kind = $1 AND id = $2", string(kind), id)
	rec, err := scanRecord(row)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		logger.Sugar.Errorf("Failed to get %s %s: %v", kind, id, err)
	}
	return rec, notFound(err)
}

// Find looks a record up by ID alone.
func (r *RecordRepository) Find(ctx context.Context, id string) (store.Record, error) {
	if !validID(id) {
		return store.Record{}, store.ErrNotFound
	}
	row := r.DB.QueryRowContext(ctx, "SELECT "+recordColumns+" FROM records WHERE id = $1", id)
	rec, err := scanRecord(row)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		logger.Sugar.Errorf("Failed to find record %s: %v", id, err)
	}
	return rec, notFound(err)
}

func (r *RecordRepository) Create(ctx context.Context, rec store.Record) (store.Record, error) {
	payload := []byte(rec.Payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	row := r.DB.QueryRowContext(ctx, `
		INSERT INTO records (kind, owner_id, visibility, status, payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		RETURNING `+recordColumns,
		string(rec.Kind), rec.OwnerID, pq.Array(nonNil(rec.Visibility)), rec.Status, payload,
	)
	created, err := scanRecord(row)
	if err != nil {
		logger.Sugar.Errorf("Failed to create %s record: %v", rec.Kind, err)
	}
	return created, err
}

// Update applies patch and refreshes updated_at. An empty patch still bumps
// updated_at so every accepted mutation is visible to reconciliation.
func (r *RecordRepository) Update(ctx context.Context, kind store.Kind, id string, patch store.Patch) (store.Record, error) {
	if !validID(id) {
		return store.Record{}, store.ErrNotFound
	}
	var (
		sets []string
		args []any
	)
	if patch.Status != nil {
		args = append(args, *patch.Status)
		sets = append(sets, fmt.Sprintf("status = $%d", len(args)))
	}
	if patch.Visibility != nil {
		args = append(args, pq.Array(nonNil(*patch.Visibility)))
		sets = append(sets, fmt.Sprintf("visibility = $%d", len(args)))
	}
	if len(patch.Payload) > 0 {
		args = append(args, []byte(patch.Payload))
		sets = append(sets, fmt.Sprintf("payload = $%d", len(args)))
	}
	sets = append(sets, "updated_at = NOW()")
	args = append(args, string(kind), id)

	query := fmt.Sprintf("UPDATE records SET %s WHERE kind = $%d AND id = $%d RETURNING %s",
		strings.Join(sets, ", "), len(args)-1, len(args), recordColumns)
	rec, err := scanRecord(r.DB.QueryRowContext(ctx, query, args...))
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		logger.Sugar.Errorf("Failed to update %s %s: %v", kind, id, err)
	}
	return rec, notFound(err)
}

// Delete removes the record and returns its last state.
func (r *RecordRepository) Delete(ctx context.Context, kind store.Kind, id string) (store.Record, error) {
	if !validID(id) {
		return store.Record{}, store.ErrNotFound
	}
	row := r.DB.QueryRowContext(ctx, "DELETE FROM records WHERE kind = $1 AND id = $2 RETURNING "+recordColumns, string(kind), id)
	rec, err := scanRecord(row)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		logger.Sugar.Errorf("Failed to delete %s %s: %v", kind, id, err)
	}
	return rec, notFound(err)
}

func (r *RecordRepository) AddMessage(ctx context.Context, m store.Message) (store.Message, error) {
	err := r.DB.QueryRowContext(ctx, `
		INSERT INTO messages (parent_id, parent_kind, author_id, body, attachment, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING id, created_at`,
		m.ParentID, string(m.ParentKind), m.AuthorID, m.Body, m.Attachment,
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		logger.Sugar.Errorf("Failed to add message to %s: %v", m.ParentID, err)
	}
	return m, err
}

func (r *RecordRepository) ListMessages(ctx context.Context, parentID string) ([]store.Message, error) {
	if !validID(parentID) {
		return []store.Message{}, nil
	}
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, parent_id, parent_kind, author_id, body, attachment, created_at
		FROM messages WHERE parent_id = $1 ORDER BY created_at ASC`, parentID)
	if err != nil {
		logger.Sugar.Errorf("Failed to get messages for %s: %v", parentID, err)
		return nil, err
	}
	defer rows.Close()

	out := []store.Message{}
	for rows.Next() {
		var (
			m    store.Message
			kind string
		)
		if err := rows.Scan(&m.ID, &m.ParentID, &kind, &m.AuthorID, &m.Body, &m.Attachment, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.ParentKind = store.Kind(kind)
		out = append(out, m)
	}
	return out, rows.Err()
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
