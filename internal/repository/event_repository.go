package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/volunteerhub/vms-api/internal/models"
)

// ErrCapacityBelowRegistered is returned when an update would set
// required_volunteers below the live registration count.
var ErrCapacityBelowRegistered = errors.New("required volunteers below current registrations")

// EventRepository handles persistence of events.
type EventRepository struct {
	db *sqlx.DB
}

// NewEventRepository constructs the repository.
func NewEventRepository(db *sqlx.DB) *EventRepository {
	return &EventRepository{db: db}
}

const eventColumns = `id, organizer_id, title, category, description, location_name, address, city,
        start_at, end_at, registration_open_at, registration_close_at,
        required_volunteers, current_volunteers, skills_required, status, cancellation_reason,
        created_at, updated_at`

// FindByID returns an event by its ID.
func (r *EventRepository) FindByID(ctx context.Context, id string) (*models.Event, error) {
	query := fmt.Sprintf(`SELECT %s FROM events WHERE id = $1`, eventColumns)
	var event models.Event
	if err := r.db.GetContext(ctx, &event, query, id); err != nil {
		return nil, err
	}
	return &event, nil
}

// FindDetailByID returns an event with organizer info.
func (r *EventRepository) FindDetailByID(ctx context.Context, id string) (*models.EventDetail, error) {
	const query = `SELECT e.id, e.organizer_id, e.title, e.category, e.description, e.location_name, e.address, e.city,
        e.start_at, e.end_at, e.registration_open_at, e.registration_close_at,
        e.required_volunteers, e.current_volunteers, e.skills_required, e.status, e.cancellation_reason,
        e.created_at, e.updated_at,
        u.full_name AS organizer_name, u.email AS organizer_email
        FROM events e
        JOIN users u ON u.id = e.organizer_id
        WHERE e.id = $1`
	var detail models.EventDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// List returns events filtered by the provided criteria.
func (r *EventRepository) List(ctx context.Context, filter models.EventFilter) ([]models.EventDetail, int, error) {
	base := `FROM events e JOIN users u ON u.id = e.organizer_id`
	var conditions []string
	var args []interface{}

	if filter.OrganizerID != "" {
		conditions = append(conditions, fmt.Sprintf("e.organizer_id = $%d", len(args)+1))
		args = append(args, filter.OrganizerID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("e.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.Category != "" {
		conditions = append(conditions, fmt.Sprintf("e.category = $%d", len(args)+1))
		args = append(args, filter.Category)
	}
	if filter.City != "" {
		conditions = append(conditions, fmt.Sprintf("e.city = $%d", len(args)+1))
		args = append(args, filter.City)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(e.title ILIKE $%d OR e.description ILIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+filter.Search+"%")
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"start_at":   "e.start_at",
		"created_at": "e.created_at",
		"title":      "e.title",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "e.start_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT e.id, e.organizer_id, e.title, e.category, e.description, e.location_name, e.address, e.city,
        e.start_at, e.end_at, e.registration_open_at, e.registration_close_at,
        e.required_volunteers, e.current_volunteers, e.skills_required, e.status, e.cancellation_reason,
        e.created_at, e.updated_at,
        u.full_name AS organizer_name, u.email AS organizer_email
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var events []models.EventDetail
	if err := r.db.SelectContext(ctx, &events, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list events: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count events: %w", err)
	}
	return events, total, nil
}

// Create persists a new event record.
func (r *EventRepository) Create(ctx context.Context, event *models.Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}
	event.UpdatedAt = now
	const query = `INSERT INTO events (id, organizer_id, title, category, description, location_name, address, city,
        start_at, end_at, registration_open_at, registration_close_at,
        required_volunteers, current_volunteers, skills_required, status, cancellation_reason, created_at, updated_at)
        VALUES (:id, :organizer_id, :title, :category, :description, :location_name, :address, :city,
        :start_at, :end_at, :registration_open_at, :registration_close_at,
        :required_volunteers, :current_volunteers, :skills_required, :status, :cancellation_reason, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, event); err != nil {
		return fmt.Errorf("create event: %w", err)
	}
	return nil
}

// Update replaces the mutable non-status fields of an event. The WHERE
// guard keeps current_volunteers <= required_volunteers even when a join
// lands between the caller's read and this write.
func (r *EventRepository) Update(ctx context.Context, event *models.Event) error {
	event.UpdatedAt = time.Now().UTC()
	const query = `UPDATE events SET title = :title, category = :category, description = :description,
        location_name = :location_name, address = :address, city = :city,
        start_at = :start_at, end_at = :end_at,
        registration_open_at = :registration_open_at, registration_close_at = :registration_close_at,
        required_volunteers = :required_volunteers, skills_required = :skills_required,
        updated_at = :updated_at
        WHERE id = :id AND current_volunteers <= :required_volunteers`
	res, err := r.db.NamedExecContext(ctx, query, event)
	if err != nil {
		return fmt.Errorf("update event: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update event: %w", err)
	}
	if affected == 0 {
		return ErrCapacityBelowRegistered
	}
	return nil
}

// UpdateStatus moves the event to a new lifecycle status.
func (r *EventRepository) UpdateStatus(ctx context.Context, id string, status models.EventStatus, cancellationReason *string) error {
	const query = `UPDATE events SET status = $2, cancellation_reason = $3, updated_at = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status, cancellationReason, time.Now().UTC()); err != nil {
		return fmt.Errorf("update event status: %w", err)
	}
	return nil
}

// Delete removes the event; registrations and attendance cascade at the
// schema level.
func (r *EventRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM events WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	return nil
}
